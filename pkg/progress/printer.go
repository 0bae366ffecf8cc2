package progress

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/ValerySidorin/bulkfetch/pkg/exportjob"
	"github.com/ValerySidorin/bulkfetch/pkg/tracker"
	"golang.org/x/term"
)

const (
	DefaultInterval = 500 * time.Millisecond
	DefaultWindow   = 10
)

// Printer writes progress to a terminal, redrawing in place. On anything
// other than a terminal it only prints final states.
type Printer struct {
	w        io.Writer
	tty      bool
	interval time.Duration
	window   int

	mu    sync.Mutex
	lines int
	poll  bool
}

func NewPrinter(w io.Writer) *Printer {
	return &Printer{
		w:        w,
		tty:      isTerminal(w),
		interval: DefaultInterval,
		window:   DefaultWindow,
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// Poll shows one status poll result.
func (p *Printer) Poll(pr exportjob.Progress) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.tty {
		return
	}
	fmt.Fprint(p.w, "\r\033[2K"+RenderPoll(pr))
	p.poll = true
}

// Println ends an in-place poll line before printing msg.
func (p *Printer) Println(msg string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.endPoll()
	p.lines = 0
	fmt.Fprintln(p.w, msg)
}

func (p *Printer) endPoll() {
	if p.poll {
		fmt.Fprintln(p.w)
		p.poll = false
	}
}

// Watch redraws the file table of t until the returned stop func is called.
// stop draws the table one last time.
func (p *Printer) Watch(t *tracker.Tracker) (stop func()) {
	done := make(chan struct{})
	var wg sync.WaitGroup

	if p.tty {
		wg.Add(1)
		go func() {
			defer wg.Done()

			ticker := time.NewTicker(p.interval)
			defer ticker.Stop()
			for {
				select {
				case <-done:
					return
				case <-ticker.C:
					p.draw(t.Snapshot(p.window))
				}
			}
		}()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			close(done)
			wg.Wait()
			p.draw(t.Snapshot(p.window))
		})
	}
}

func (p *Printer) draw(s tracker.Snapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.endPoll()
	out := RenderFiles(s)
	if p.tty && p.lines > 0 {
		fmt.Fprintf(p.w, "\033[%dA\033[J", p.lines)
	}
	fmt.Fprint(p.w, out)
	p.lines = strings.Count(out, "\n")
}
