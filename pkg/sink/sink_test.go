package sink

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func write(t *testing.T, s Sink, name, content string) io.WriteCloser {
	t.Helper()

	w, err := s.Open(context.Background(), name)
	require.NoError(t, err)
	if w != nil {
		_, err = io.WriteString(w, content)
		require.NoError(t, err)
	}
	return w
}

func TestDirSink(t *testing.T) {
	root := t.TempDir()
	d := NewDir(root)

	w := write(t, d, "attachments/a.pdf", "pdf")
	require.NoError(t, w.Close())

	b, err := os.ReadFile(filepath.Join(root, "attachments", "a.pdf"))
	require.NoError(t, err)
	assert.Equal(t, "pdf", string(b))

	w = write(t, d, "partial.ndjson", "{")
	require.NoError(t, Abort(w, errors.New("boom")))
	_, err = os.Stat(filepath.Join(root, "partial.ndjson"))
	assert.True(t, os.IsNotExist(err))

	for _, name := range []string{"", "../escape", "/abs", "a/../../b"} {
		_, err := d.Open(context.Background(), name)
		assert.Error(t, err, name)
	}
}

func TestMemorySink(t *testing.T) {
	m := NewMemory()

	require.NoError(t, write(t, m, "b.ndjson", "b").Close())
	require.NoError(t, write(t, m, "a.ndjson", "a").Close())
	require.NoError(t, Abort(write(t, m, "c.ndjson", "c"), errors.New("boom")))

	assert.Equal(t, []string{"a.ndjson", "b.ndjson"}, m.Names())
	b, ok := m.Get("a.ndjson")
	assert.True(t, ok)
	assert.Equal(t, "a", string(b))
}

func TestNew(t *testing.T) {
	tests := []struct {
		cfg     Config
		discard bool
		isErr   bool
	}{
		{Config{Store: StoreDir, Dir: NullDir}, true, false},
		{Config{Store: StoreDir, Dir: ""}, true, false},
		{Config{Store: StoreNull}, true, false},
		{Config{Store: StoreDir, Dir: t.TempDir()}, false, false},
		{Config{Store: StoreMemory}, false, false},
		{Config{Store: "tape"}, false, true},
	}

	for _, tt := range tests {
		s, err := New(context.Background(), tt.cfg)
		if tt.isErr {
			assert.Error(t, err)
			continue
		}
		require.NoError(t, err)

		w, err := s.Open(context.Background(), "x.ndjson")
		require.NoError(t, err)
		assert.Equal(t, tt.discard, w == nil, "%+v", tt.cfg)
		if w != nil {
			_ = Abort(w, nil)
		}
	}
}

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, (&Config{Store: StoreDir}).Validate())
	assert.Error(t, (&Config{Store: "tape"}).Validate())
	assert.Error(t, (&Config{Store: StoreMinio}).Validate())
	assert.Error(t, (&Config{Store: StoreBucket}).Validate())
}
