package tracker

import (
	"net/url"
	"path"
	"strconv"

	"go.uber.org/atomic"
)

type Status uint32

const (
	Pending Status = iota
	Downloading
	Done
	Failed
)

func (s Status) String() string {
	switch s {
	case Pending:
		return "Pending"
	case Downloading:
		return "Downloading"
	case Done:
		return "Done"
	case Failed:
		return "Failed"
	}
	return "Unknown"
}

// Kind tells which manifest array a file came from.
type Kind string

const (
	KindOutput  Kind = "output"
	KindDeleted Kind = "deleted"
	KindError   Kind = "error"
)

// Entry is one manifest item.
type Entry struct {
	URL   string `json:"url"`
	Type  string `json:"type"`
	Count int    `json:"count,omitempty"`
	Kind  Kind   `json:"-"`
}

// FileDescriptor is the tracked state of one manifest file. Only the worker
// that claimed it mutates status and counters; readers may observe them at any
// time.
type FileDescriptor struct {
	Index int
	URL   string
	Name  string
	Type  string
	Kind  Kind

	status   *atomic.Uint32
	chunks   *atomic.Int64
	bytes    *atomic.Int64
	rawBytes *atomic.Int64
}

func newFileDescriptor(index int, e Entry) *FileDescriptor {
	kind := e.Kind
	if kind == "" {
		kind = KindOutput
	}

	return &FileDescriptor{
		Index:    index,
		URL:      e.URL,
		Name:     localName(index, e.URL, kind),
		Type:     e.Type,
		Kind:     kind,
		status:   atomic.NewUint32(uint32(Pending)),
		chunks:   atomic.NewInt64(0),
		bytes:    atomic.NewInt64(0),
		rawBytes: atomic.NewInt64(0),
	}
}

func (f *FileDescriptor) Status() Status {
	return Status(f.status.Load())
}

// Start moves a pending file to Downloading.
func (f *FileDescriptor) Start() bool {
	return f.status.CompareAndSwap(uint32(Pending), uint32(Downloading))
}

// Finish moves a file to Done or Failed. A file can only finish once, and a
// pending file can be failed directly when it is abandoned before download.
func (f *FileDescriptor) Finish(ok bool) bool {
	if ok {
		return f.status.CompareAndSwap(uint32(Downloading), uint32(Done))
	}
	if f.status.CompareAndSwap(uint32(Downloading), uint32(Failed)) {
		return true
	}
	return f.status.CompareAndSwap(uint32(Pending), uint32(Failed))
}

// AddChunk records one decoded chunk of n bytes.
func (f *FileDescriptor) AddChunk(n int) {
	f.chunks.Inc()
	f.bytes.Add(int64(n))
}

// AddRaw records n bytes read off the wire.
func (f *FileDescriptor) AddRaw(n int) {
	f.rawBytes.Add(int64(n))
}

func (f *FileDescriptor) Chunks() int64 {
	return f.chunks.Load()
}

func (f *FileDescriptor) Bytes() int64 {
	return f.bytes.Load()
}

func (f *FileDescriptor) RawBytes() int64 {
	return f.rawBytes.Load()
}

// localName is the last URL path segment, placed under a kind directory for
// deleted and error files.
func localName(index int, rawURL string, kind Kind) string {
	name := ""
	if u, err := url.Parse(rawURL); err == nil {
		name = path.Base(u.Path)
	}
	if name == "" || name == "." || name == "/" {
		name = strconv.Itoa(index+1) + ".ndjson"
	}

	if kind != KindOutput {
		return string(kind) + "/" + name
	}
	return name
}
