package tracker

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func entries(n int) []Entry {
	res := make([]Entry, n)
	for i := range res {
		res[i] = Entry{URL: fmt.Sprintf("http://a/files/%d.ndjson", i+1), Type: "Patient"}
	}
	return res
}

func TestTrackerNextConcurrent(t *testing.T) {
	const m = 200
	tr := New(entries(m))

	var (
		mu   sync.Mutex
		seen = map[int]int{}
		none int
		wg   sync.WaitGroup
	)
	for i := 0; i < m+50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f, ok := tr.Next()
			mu.Lock()
			defer mu.Unlock()
			if !ok {
				none++
				return
			}
			seen[f.Index]++
		}()
	}
	wg.Wait()

	assert.Len(t, seen, m)
	for idx, n := range seen {
		assert.Equal(t, 1, n, "descriptor %d claimed %d times", idx, n)
	}
	assert.Equal(t, 50, none)
	assert.Equal(t, m, tr.Claimed())

	_, ok := tr.Next()
	assert.False(t, ok)
}

func TestTrackerPreservesOrder(t *testing.T) {
	tr := New(entries(3))
	for i := 0; i < 3; i++ {
		f, ok := tr.Next()
		require.True(t, ok)
		assert.Equal(t, i, f.Index)
		assert.Equal(t, fmt.Sprintf("%d.ndjson", i+1), f.Name)
	}
}

func TestTrackerIsComplete(t *testing.T) {
	tr := New(entries(3))
	assert.False(t, tr.IsComplete())

	files := tr.Files()
	for _, f := range files {
		require.True(t, f.Start())
	}
	assert.False(t, tr.IsComplete())

	require.True(t, files[0].Finish(true))
	require.True(t, files[1].Finish(true))
	require.True(t, files[2].Finish(false))
	assert.False(t, tr.IsComplete())
	assert.Equal(t, 2, tr.Count(Done))
	assert.Equal(t, 1, tr.Count(Failed))

	ok := New(entries(2))
	for _, f := range ok.Files() {
		f.Start()
		f.Finish(true)
	}
	assert.True(t, ok.IsComplete())
	assert.True(t, New(nil).IsComplete())
}

func TestFileDescriptorTransitions(t *testing.T) {
	f := newFileDescriptor(0, Entry{URL: "http://a/1.ndjson"})
	assert.Equal(t, Pending, f.Status())
	assert.False(t, f.Finish(true), "pending file can not be done")

	assert.True(t, f.Start())
	assert.False(t, f.Start(), "claimed file can not restart")
	assert.True(t, f.Finish(true))
	assert.False(t, f.Finish(false), "done file can not fail")
	assert.Equal(t, Done, f.Status())

	abandoned := newFileDescriptor(1, Entry{URL: "http://a/2.ndjson"})
	assert.True(t, abandoned.Finish(false))
	assert.False(t, abandoned.Start())
	assert.Equal(t, Failed, abandoned.Status())
}

func TestFileDescriptorCounters(t *testing.T) {
	f := newFileDescriptor(0, Entry{URL: "http://a/1.ndjson"})
	f.AddChunk(10)
	f.AddChunk(5)
	f.AddRaw(7)

	assert.Equal(t, int64(2), f.Chunks())
	assert.Equal(t, int64(15), f.Bytes())
	assert.Equal(t, int64(7), f.RawBytes())
}

func TestLocalName(t *testing.T) {
	tests := []struct {
		url  string
		kind Kind
		name string
	}{
		{"http://a/output/1.Patient.ndjson", KindOutput, "1.Patient.ndjson"},
		{"http://a/output/1.Patient.ndjson?token=x", KindOutput, "1.Patient.ndjson"},
		{"http://a/del/Patient.ndjson", KindDeleted, "deleted/Patient.ndjson"},
		{"http://a/err/errors.ndjson", KindError, "error/errors.ndjson"},
		{"http://a", KindOutput, "4.ndjson"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.name, localName(3, tt.url, tt.kind), tt.url)
	}
}

func TestSnapshotWindow(t *testing.T) {
	tr := New(entries(10))
	for i := 0; i < 6; i++ {
		f, _ := tr.Next()
		f.Start()
		f.AddChunk(100)
		if i < 5 {
			f.Finish(i != 2)
		}
	}

	s := tr.Snapshot(4)
	assert.Equal(t, 10, s.Total)
	assert.Equal(t, 6, s.Claimed)
	assert.Equal(t, 4, s.Done)
	assert.Equal(t, 1, s.Failed)

	require.Len(t, s.Rows, 4)
	assert.Equal(t, 3, s.Rows[0].Index)
	assert.Equal(t, Downloading, s.Rows[2].Status)

	assert.Equal(t, 3, s.Before.Files)
	assert.Equal(t, 2, s.Before.ByStatus[Done])
	assert.Equal(t, 1, s.Before.ByStatus[Failed])
	assert.Equal(t, int64(300), s.Before.Bytes)
	assert.Equal(t, 3, s.After.Files)
	assert.Equal(t, 3, s.After.ByStatus[Pending])

	all := tr.Snapshot(0)
	assert.Len(t, all.Rows, 10)
	assert.Equal(t, 0, all.Before.Files)
}

func TestWindowBounds(t *testing.T) {
	tests := []struct {
		n, claimed, window int
		from, to           int
	}{
		{10, 0, 4, 0, 4},
		{10, 6, 4, 3, 7},
		{10, 10, 4, 6, 10},
		{3, 1, 4, 0, 3},
		{10, 5, 0, 0, 10},
	}

	for _, tt := range tests {
		from, to := windowBounds(tt.n, tt.claimed, tt.window)
		assert.Equal(t, tt.from, from, "%+v", tt)
		assert.Equal(t, tt.to, to, "%+v", tt)
	}
}
