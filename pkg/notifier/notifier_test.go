package notifier

import (
	"testing"

	"github.com/ValerySidorin/bulkfetch/pkg/queue"
	"github.com/ValerySidorin/bulkfetch/pkg/tracker"
	"github.com/go-kit/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWithoutQueue(t *testing.T) {
	n, err := New(Config{}, log.NewNopLogger())
	require.NoError(t, err)
	assert.Nil(t, n)
}

func TestNotify(t *testing.T) {
	mem := queue.NewMemory()
	n := NewWithPublisher(Config{Queue: queue.Config{Type: queue.TypeMemory, Channel: "files"}}, mem, log.NewNopLogger())

	tr := tracker.New([]tracker.Entry{
		{URL: "http://fhir/files/1.Patient.ndjson", Type: "Patient", Kind: tracker.KindOutput},
		{URL: "http://fhir/files/gone.ndjson", Type: "Patient", Kind: tracker.KindDeleted},
	})
	for {
		f, ok := tr.Next()
		if !ok {
			break
		}
		n.Notify("http://fhir/status/1", f)
	}
	require.NoError(t, n.Close())

	msgs := mem.Messages("files")
	require.Len(t, msgs, 2)
	assert.Equal(t, "1.Patient.ndjson", msgs[0].Name)
	assert.Equal(t, tracker.KindDeleted, msgs[1].Kind)
	assert.Equal(t, "deleted/gone.ndjson", msgs[1].Name)
	assert.Equal(t, "http://fhir/status/1", msgs[1].StatusURL)
}
