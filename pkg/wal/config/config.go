package config

import (
	"flag"

	"github.com/ValerySidorin/bulkfetch/pkg/wal/config/pg"
	"github.com/pkg/errors"
)

const (
	StoreNone   = ""
	StoreMemory = "memory"
	StorePg     = "pg"
)

type Config struct {
	Store       string `yaml:"store"`
	StoreConfig `yaml:",inline"`
}

type StoreConfig struct {
	Pg pg.Config `yaml:"pg"`
}

func (c *Config) RegisterFlags(flagPrefix string, f *flag.FlagSet) {
	c.Pg.RegisterFlags(flagPrefix, f)

	f.StringVar(&c.Store, flagPrefix+"store", StoreNone, `Store, that will be used to journal exports: "", "memory" or "pg". Empty disables the journal.`)
}

func (c *Config) Validate() error {
	switch c.Store {
	case StoreNone, StoreMemory:
	case StorePg:
		if c.Pg.Conn == "" {
			return errors.New("wal: pg store needs a connection string")
		}
	default:
		return errors.Errorf("wal: invalid store %q", c.Store)
	}
	return nil
}
