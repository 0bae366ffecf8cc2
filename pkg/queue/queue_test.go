package queue

import (
	"testing"

	"github.com/ValerySidorin/bulkfetch/pkg/queue/message"
	"github.com/ValerySidorin/bulkfetch/pkg/tracker"
	"github.com/go-kit/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPublisher(t *testing.T) {
	p, err := NewPublisher(Config{}, log.NewNopLogger())
	require.NoError(t, err)
	assert.Nil(t, p)

	p, err = NewPublisher(Config{Type: TypeMemory}, log.NewNopLogger())
	require.NoError(t, err)
	assert.IsType(t, &Memory{}, p)

	_, err = NewPublisher(Config{Type: "kafka"}, log.NewNopLogger())
	assert.Error(t, err)
}

func TestMemoryPublish(t *testing.T) {
	tr := tracker.New([]tracker.Entry{{URL: "http://fhir/files/1.Patient.ndjson", Type: "Patient", Kind: tracker.KindOutput}})
	f, _ := tr.Next()
	f.AddChunk(42)

	m := NewMemory()
	require.NoError(t, m.Pub("files", message.New("http://fhir/status/1", f)))

	msgs := m.Messages("files")
	require.Len(t, msgs, 1)
	assert.Empty(t, m.Messages("other"))

	raw, err := msgs[0].Encode()
	require.NoError(t, err)
	assert.JSONEq(t, `{"status_url":"http://fhir/status/1","name":"1.Patient.ndjson","url":"http://fhir/files/1.Patient.ndjson","type":"Patient","kind":"output","bytes":42}`, string(raw))

	parsed, err := message.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, msgs[0], parsed)
}

func TestParseRejectsIncompleteMessage(t *testing.T) {
	_, err := message.Parse([]byte(`{"name":"a.ndjson"}`))
	assert.Error(t, err)
	_, err = message.Parse([]byte(`not json`))
	assert.Error(t, err)
}

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, (&Config{}).Validate())
	assert.NoError(t, (&Config{Type: TypeNats, Channel: "files"}).Validate())
	assert.Error(t, (&Config{Type: TypeNats}).Validate())
	assert.Error(t, (&Config{Type: "kafka"}).Validate())
}
