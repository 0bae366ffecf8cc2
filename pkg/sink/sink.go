package sink

import (
	"context"
	"flag"
	"io"

	"github.com/ValerySidorin/bulkfetch/pkg/sink/bucket"
	"github.com/ValerySidorin/bulkfetch/pkg/sink/minio"
	"github.com/pkg/errors"
)

const (
	StoreDir    = "dir"
	StoreNull   = "null"
	StoreMinio  = "minio"
	StoreBucket = "bucket"
	StoreMemory = "memory"

	// NullDir makes a dir sink discard everything.
	NullDir = "/dev/null"
)

// Sink persists named byte streams. Open returns a nil writer when the data
// should be discarded.
type Sink interface {
	Open(ctx context.Context, name string) (io.WriteCloser, error)
}

// Aborter is implemented by writers that can drop a partially written object
// instead of committing it on Close.
type Aborter interface {
	Abort(err error) error
}

// Abort discards w if it supports it, and closes it otherwise.
func Abort(w io.WriteCloser, err error) error {
	if w == nil {
		return nil
	}
	if a, ok := w.(Aborter); ok {
		return a.Abort(err)
	}
	return w.Close()
}

type Config struct {
	Store  string        `yaml:"store"`
	Dir    string        `yaml:"dir"`
	Minio  minio.Config  `yaml:"minio"`
	Bucket bucket.Config `yaml:"bucket"`
}

func (c *Config) RegisterFlags(flagPrefix string, f *flag.FlagSet) {
	f.StringVar(&c.Store, flagPrefix+"store", StoreDir, `Where downloaded files go: "dir", "null", "minio", "bucket" or "memory".`)
	f.StringVar(&c.Dir, flagPrefix+"dir", "downloads", `Download destination for the "dir" store. "/dev/null" discards files.`)
	c.Minio.RegisterFlags(flagPrefix+"minio.", f)
	c.Bucket.RegisterFlags(flagPrefix+"bucket.", f)
}

func (c *Config) Validate() error {
	switch c.Store {
	case StoreDir, StoreNull, StoreMemory:
	case StoreMinio:
		return c.Minio.Validate()
	case StoreBucket:
		return c.Bucket.Validate()
	default:
		return errors.Errorf("sink: invalid store %q", c.Store)
	}
	return nil
}

func New(ctx context.Context, cfg Config) (Sink, error) {
	switch cfg.Store {
	case StoreDir:
		if cfg.Dir == "" || cfg.Dir == NullDir {
			return Discard{}, nil
		}
		return NewDir(cfg.Dir), nil
	case StoreNull:
		return Discard{}, nil
	case StoreMemory:
		return NewMemory(), nil
	case StoreMinio:
		return minio.NewWriter(ctx, cfg.Minio)
	case StoreBucket:
		return bucket.NewWriter(ctx, cfg.Bucket)
	}

	return nil, errors.Errorf("invalid sink store %q", cfg.Store)
}

// Discard drops everything.
type Discard struct{}

func (Discard) Open(context.Context, string) (io.WriteCloser, error) {
	return nil, nil
}
