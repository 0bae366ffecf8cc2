package nats

import (
	"flag"
	"time"

	"github.com/ValerySidorin/bulkfetch/pkg/queue/message"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/nats-io/nats.go"
	"github.com/pkg/errors"
)

type Config struct {
	Url string `yaml:"url"`
}

func (c *Config) RegisterFlags(flagPrefix string, f *flag.FlagSet) {
	f.StringVar(&c.Url, flagPrefix+"nats.url", nats.DefaultURL, "NATS server URL.")
}

type NatsClient struct {
	conn *nats.Conn
	log  log.Logger
}

func NewNatsClient(cfg Config, log log.Logger) (*NatsClient, error) {
	conn, err := nats.Connect(cfg.Url, nats.Name("bulkfetch"), nats.Timeout(10*time.Second))
	if err != nil {
		return nil, errors.Wrap(err, "initialize nats connection")
	}

	return &NatsClient{
		conn: conn,
		log:  log,
	}, nil
}

func (n *NatsClient) Pub(channel string, msg *message.Message) error {
	data, err := msg.Encode()
	if err != nil {
		return err
	}

	if err := n.conn.Publish(channel, data); err != nil {
		return errors.Wrap(err, "nats publish")
	}

	return nil
}

// Close flushes pending messages before closing the connection.
func (n *NatsClient) Close() error {
	if err := n.conn.Drain(); err != nil {
		level.Warn(n.log).Log("msg", "nats drain", "err", err)
		n.conn.Close()
	}
	return nil
}
