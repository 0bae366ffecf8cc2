package sink

import (
	"bytes"
	"context"
	"io"
	"sort"
	"sync"
)

// Memory keeps committed files in memory.
type Memory struct {
	mu    sync.Mutex
	files map[string][]byte
}

func NewMemory() *Memory {
	return &Memory{files: map[string][]byte{}}
}

func (m *Memory) Open(_ context.Context, name string) (io.WriteCloser, error) {
	return &memoryFile{m: m, name: name}, nil
}

// Get returns the content of a committed file.
func (m *Memory) Get(name string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.files[name]
	return b, ok
}

func (m *Memory) Names() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	names := make([]string, 0, len(m.files))
	for name := range m.files {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

type memoryFile struct {
	bytes.Buffer
	m    *Memory
	name string
}

func (f *memoryFile) Close() error {
	f.m.mu.Lock()
	defer f.m.mu.Unlock()

	f.m.files[f.name] = f.Bytes()
	return nil
}

func (f *memoryFile) Abort(error) error {
	return nil
}
