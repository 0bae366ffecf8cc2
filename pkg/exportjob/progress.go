package exportjob

import (
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Progress is what a 202 status response says about a running export.
type Progress struct {
	// Known is false when the server sent no usable percentage.
	Known   bool
	Percent int
	Raw     string
	Elapsed time.Duration
}

// parseProgress reads the leading integer of an x-progress value, clamped to
// [0, 100]. Anything else is unknown.
func parseProgress(raw string) Progress {
	p := Progress{Raw: raw}

	s := strings.TrimSpace(raw)
	end := 0
	if end < len(s) && (s[end] == '+' || s[end] == '-') {
		end++
	}
	digits := end
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	if end == digits {
		return p
	}

	n, err := strconv.Atoi(s[:end])
	if errors.Is(err, strconv.ErrRange) && s[0] != '-' {
		n, err = 100, nil
	}
	if err != nil || n < 0 {
		return p
	}
	if n > 100 {
		n = 100
	}

	p.Known = true
	p.Percent = n
	return p
}
