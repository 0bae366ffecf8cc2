package pool

import (
	"context"
	"sync"

	"github.com/ValerySidorin/bulkfetch/pkg/tracker"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"
	"github.com/sourcegraph/conc/pool"
)

const DefaultConcurrency = 10

var ErrAbandoned = errors.New("download abandoned")

// FetchFunc streams one claimed file to its destination.
type FetchFunc func(ctx context.Context, file *tracker.FileDescriptor) error

// FileError is a failed file and the reason.
type FileError struct {
	File *tracker.FileDescriptor
	Err  error
}

func (e FileError) Error() string {
	return e.File.Name + ": " + e.Err.Error()
}

func (e FileError) Unwrap() error { return e.Err }

// ErrorLog collects per-file failures of a run.
type ErrorLog struct {
	mu   sync.Mutex
	errs []FileError
}

func (l *ErrorLog) Add(file *tracker.FileDescriptor, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errs = append(l.errs, FileError{File: file, Err: err})
}

func (l *ErrorLog) Errors() []FileError {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]FileError(nil), l.errs...)
}

func (l *ErrorLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.errs)
}

type Option func(*Pool)

// WithOnDone is called by the worker after a file is stored.
func WithOnDone(fn func(file *tracker.FileDescriptor)) Option {
	return func(p *Pool) { p.onDone = fn }
}

// WithOnFailed is called by the worker after a file failed.
func WithOnFailed(fn func(file *tracker.FileDescriptor, err error)) Option {
	return func(p *Pool) { p.onFailed = fn }
}

// Pool runs a fixed number of workers over a tracker. A failed file never
// stops the other workers.
type Pool struct {
	concurrency int
	fetch       FetchFunc
	log         log.Logger

	onDone   func(file *tracker.FileDescriptor)
	onFailed func(file *tracker.FileDescriptor, err error)
}

func New(concurrency int, fetch FetchFunc, logger log.Logger, opts ...Option) *Pool {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	p := &Pool{
		concurrency: concurrency,
		fetch:       fetch,
		log:         log.With(logger, "component", "pool"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run returns once every file of t has been claimed and finished. After ctx
// is canceled the remaining files are claimed and marked failed without being
// fetched.
func (p *Pool) Run(ctx context.Context, t *tracker.Tracker) *ErrorLog {
	errs := &ErrorLog{}

	workers := p.concurrency
	if n := t.Len(); n < workers {
		workers = n
	}
	if workers == 0 {
		return errs
	}

	wp := pool.New().WithMaxGoroutines(workers)
	for i := 0; i < workers; i++ {
		wp.Go(func() { p.work(ctx, t, errs) })
	}
	wp.Wait()

	level.Debug(p.log).Log("msg", "pool finished", "files", t.Len(), "failed", errs.Len())
	return errs
}

func (p *Pool) work(ctx context.Context, t *tracker.Tracker, errs *ErrorLog) {
	for {
		file, ok := t.Next()
		if !ok {
			return
		}

		if err := ctx.Err(); err != nil {
			p.fail(file, errs, errors.Wrap(ErrAbandoned, err.Error()))
			continue
		}

		file.Start()
		if err := p.fetch(ctx, file); err != nil {
			if ctx.Err() != nil {
				err = errors.Wrap(ErrAbandoned, err.Error())
			}
			p.fail(file, errs, err)
			continue
		}

		file.Finish(true)
		if p.onDone != nil {
			p.onDone(file)
		}
	}
}

func (p *Pool) fail(file *tracker.FileDescriptor, errs *ErrorLog, err error) {
	file.Finish(false)
	errs.Add(file, err)
	level.Warn(p.log).Log("msg", "file failed", "name", file.Name, "url", file.URL, "err", err)

	if p.onFailed != nil {
		p.onFailed(file, err)
	}
}
