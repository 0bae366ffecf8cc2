package message

import (
	"encoding/json"

	"github.com/ValerySidorin/bulkfetch/pkg/tracker"
	"github.com/pkg/errors"
)

// Message announces a file that was stored.
type Message struct {
	StatusURL string       `json:"status_url"`
	Name      string       `json:"name"`
	URL       string       `json:"url"`
	Type      string       `json:"type"`
	Kind      tracker.Kind `json:"kind"`
	Bytes     int64        `json:"bytes"`
}

func New(statusURL string, f *tracker.FileDescriptor) *Message {
	return &Message{
		StatusURL: statusURL,
		Name:      f.Name,
		URL:       f.URL,
		Type:      f.Type,
		Kind:      f.Kind,
		Bytes:     f.Bytes(),
	}
}

func Parse(raw []byte) (*Message, error) {
	m := &Message{}
	if err := json.Unmarshal(raw, m); err != nil {
		return nil, errors.Wrap(err, "invalid message raw input")
	}
	if m.Name == "" || m.URL == "" {
		return nil, errors.New("invalid message raw input (name, url)")
	}
	return m, nil
}

func (m *Message) Encode() ([]byte, error) {
	b, err := json.Marshal(m)
	return b, errors.Wrap(err, "encode message")
}
