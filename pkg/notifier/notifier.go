package notifier

import (
	"flag"

	"github.com/ValerySidorin/bulkfetch/pkg/queue"
	"github.com/ValerySidorin/bulkfetch/pkg/queue/message"
	"github.com/ValerySidorin/bulkfetch/pkg/tracker"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"
)

type Config struct {
	Queue queue.Config `yaml:"queue"`
}

func (c *Config) RegisterFlags(flagPrefix string, f *flag.FlagSet) {
	c.Queue.RegisterFlags(flagPrefix+"queue.", f)
}

func (c *Config) Validate() error {
	return c.Queue.Validate()
}

// Notifier announces every stored file on the configured queue. A failed
// announcement is logged and never fails the file.
type Notifier struct {
	cfg Config
	log log.Logger
	pub queue.Publisher
}

// New returns nil when no queue is configured.
func New(cfg Config, logger log.Logger) (*Notifier, error) {
	pub, err := queue.NewPublisher(cfg.Queue, logger)
	if err != nil {
		return nil, errors.Wrap(err, "notifier connect to queue")
	}
	if pub == nil {
		return nil, nil
	}

	return NewWithPublisher(cfg, pub, logger), nil
}

func NewWithPublisher(cfg Config, pub queue.Publisher, logger log.Logger) *Notifier {
	return &Notifier{
		cfg: cfg,
		log: log.With(logger, "component", "notifier"),
		pub: pub,
	}
}

func (n *Notifier) Notify(statusURL string, f *tracker.FileDescriptor) {
	msg := message.New(statusURL, f)
	if err := n.pub.Pub(n.cfg.Queue.Channel, msg); err != nil {
		level.Error(n.log).Log("msg", "failed to announce file", "name", f.Name, "err", err)
		return
	}
	level.Debug(n.log).Log("msg", "file announced", "name", f.Name, "channel", n.cfg.Queue.Channel)
}

func (n *Notifier) Close() error {
	return n.pub.Close()
}
