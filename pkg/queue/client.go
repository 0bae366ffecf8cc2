package queue

import (
	"flag"
	"sync"

	"github.com/ValerySidorin/bulkfetch/pkg/queue/message"
	"github.com/ValerySidorin/bulkfetch/pkg/queue/nats"
	"github.com/go-kit/log"
	"github.com/pkg/errors"
)

const (
	TypeNone   = ""
	TypeNats   = "nats"
	TypeMemory = "memory"
)

type Config struct {
	Type    string      `yaml:"type"`
	Channel string      `yaml:"channel"`
	Nats    nats.Config `yaml:"nats"`
}

func (c *Config) RegisterFlags(flagPrefix string, f *flag.FlagSet) {
	c.Nats.RegisterFlags(flagPrefix, f)

	f.StringVar(&c.Type, flagPrefix+"type", TypeNone, `Queue that announces stored files: "", "nats" or "memory". Empty disables announcements.`)
	f.StringVar(&c.Channel, flagPrefix+"channel", "bulkfetch.files", "Channel stored files are announced on.")
}

func (c *Config) Validate() error {
	switch c.Type {
	case TypeNone, TypeMemory:
	case TypeNats:
		if c.Channel == "" {
			return errors.New("queue: channel is required")
		}
	default:
		return errors.Errorf("queue: invalid type %q", c.Type)
	}
	return nil
}

type Publisher interface {
	Pub(channel string, msg *message.Message) error
	Close() error
}

// NewPublisher returns nil when no queue is configured.
func NewPublisher(cfg Config, log log.Logger) (Publisher, error) {
	switch cfg.Type {
	case TypeNone:
		return nil, nil
	case TypeNats:
		return nats.NewNatsClient(cfg.Nats, log)
	case TypeMemory:
		return NewMemory(), nil
	default:
		return nil, errors.New("invalid queue type")
	}
}

// Memory keeps published messages in process.
type Memory struct {
	mu   sync.Mutex
	msgs map[string][]*message.Message
}

func NewMemory() *Memory {
	return &Memory{msgs: map[string][]*message.Message{}}
}

func (m *Memory) Pub(channel string, msg *message.Message) error {
	if _, err := msg.Encode(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.msgs[channel] = append(m.msgs[channel], msg)
	return nil
}

func (m *Memory) Messages(channel string) []*message.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*message.Message(nil), m.msgs[channel]...)
}

func (m *Memory) Close() error {
	return nil
}
