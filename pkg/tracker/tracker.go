package tracker

import (
	"github.com/samber/lo"
	"go.uber.org/atomic"
)

// Tracker owns the fixed set of file descriptors of one export.
type Tracker struct {
	files []*FileDescriptor
	next  *atomic.Int64
}

// New builds one descriptor per manifest entry, preserving order.
func New(entries []Entry) *Tracker {
	return &Tracker{
		files: lo.Map(entries, func(e Entry, i int) *FileDescriptor {
			return newFileDescriptor(i, e)
		}),
		next: atomic.NewInt64(0),
	}
}

// Next claims the next unclaimed descriptor. It returns false once every
// descriptor has been handed out. Each descriptor is returned exactly once.
func (t *Tracker) Next() (*FileDescriptor, bool) {
	i := t.next.Inc() - 1
	if i >= int64(len(t.files)) {
		return nil, false
	}

	return t.files[i], true
}

// Claimed returns how many descriptors have been handed out.
func (t *Tracker) Claimed() int {
	n := int(t.next.Load())
	if n > len(t.files) {
		return len(t.files)
	}
	return n
}

func (t *Tracker) Len() int {
	return len(t.files)
}

func (t *Tracker) Files() []*FileDescriptor {
	return t.files
}

// IsComplete reports whether every file is Done. Failed files never become
// Done, so a tracker with failures never completes.
func (t *Tracker) IsComplete() bool {
	return lo.EveryBy(t.files, func(f *FileDescriptor) bool {
		return f.Status() == Done
	})
}

// Count returns the number of files in status s.
func (t *Tracker) Count(s Status) int {
	return lo.CountBy(t.files, func(f *FileDescriptor) bool {
		return f.Status() == s
	})
}
