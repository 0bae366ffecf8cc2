package progress

import (
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/ValerySidorin/bulkfetch/pkg/exportjob"
	"github.com/ValerySidorin/bulkfetch/pkg/tracker"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
)

const (
	BarWidth  = 40
	barGlyph  = "▉"
	nameWidth = 40
)

var (
	boldStyle   = lipgloss.NewStyle().Bold(true)
	faintStyle  = lipgloss.NewStyle().Faint(true)
	doneStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	failedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Bold(true)
)

// Bar renders pct as a right aligned percentage and a BarWidth wide bar.
func Bar(pct int) string {
	pct = max(0, min(pct, 100))

	filled := 0
	for i := 0; i < BarWidth; i++ {
		if i*100 < pct*BarWidth {
			filled++
		}
	}

	bar := boldStyle.Render(strings.Repeat(barGlyph, filled))
	if filled < BarWidth {
		bar += faintStyle.Render(strings.Repeat(barGlyph, BarWidth-filled))
	}

	return boldStyle.Render(fmt.Sprintf("%3d%%", pct)) + " " + bar
}

// RenderPoll shows the server reported progress, or the elapsed time when the
// server did not report any.
func RenderPoll(p exportjob.Progress) string {
	if !p.Known {
		return "Waited for " + FormatDuration(p.Elapsed)
	}
	return Bar(p.Percent)
}

// FormatDuration rounds d to whole seconds, or milliseconds below a second.
func FormatDuration(d time.Duration) string {
	if d < time.Second {
		return d.Round(time.Millisecond).String()
	}
	return d.Round(time.Second).String()
}

// RenderFiles draws a snapshot as a table, one line per row plus summary
// lines for the files outside the window.
func RenderFiles(s tracker.Snapshot) string {
	var b strings.Builder

	if s.Before.Files > 0 {
		b.WriteString(faintStyle.Render(renderSummary("above", s.Before)))
		b.WriteByte('\n')
	}
	for _, row := range s.Rows {
		b.WriteString(renderRow(row))
		b.WriteByte('\n')
	}
	if s.After.Files > 0 {
		b.WriteString(faintStyle.Render(renderSummary("below", s.After)))
		b.WriteByte('\n')
	}

	b.WriteString(boldStyle.Render(fmt.Sprintf("%d of %d files downloaded", s.Done, s.Total)))
	if s.Failed > 0 {
		b.WriteString(", " + failedStyle.Render(fmt.Sprintf("%d failed", s.Failed)))
	}
	b.WriteByte('\n')

	return b.String()
}

func renderRow(r tracker.Row) string {
	name := r.Name
	if len(name) > nameWidth {
		name = "..." + name[len(name)-nameWidth+3:]
	}

	status := fmt.Sprintf("%-11s", r.Status)
	switch r.Status {
	case tracker.Done:
		status = doneStyle.Render(status)
	case tracker.Failed:
		status = failedStyle.Render(status)
	case tracker.Pending:
		status = faintStyle.Render(status)
	}

	typ := r.Type
	if typ == "" {
		typ = strings.TrimSuffix(path.Base(r.Name), path.Ext(r.Name))
	}

	return fmt.Sprintf("%-*s %-20s %s %10s %10s", nameWidth, name, typ, status,
		humanize.Bytes(uint64(r.Bytes)), humanize.Bytes(uint64(r.RawBytes)))
}

func renderSummary(where string, s tracker.Summary) string {
	parts := make([]string, 0, 4)
	for _, st := range []tracker.Status{tracker.Done, tracker.Downloading, tracker.Failed, tracker.Pending} {
		if n := s.ByStatus[st]; n > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", n, st))
		}
	}

	return fmt.Sprintf("... %s more %s (%s), %s", humanize.Comma(int64(s.Files)), plural(s.Files, "file"), strings.Join(parts, ", "), humanize.Bytes(uint64(s.Bytes)))
}

func plural(n int, word string) string {
	if n == 1 {
		return word
	}
	return word + "s"
}
