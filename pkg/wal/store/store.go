package store

import (
	"context"

	"github.com/ValerySidorin/bulkfetch/pkg/wal/config"
	"github.com/ValerySidorin/bulkfetch/pkg/wal/record"
	"github.com/ValerySidorin/bulkfetch/pkg/wal/store/memory"
	"github.com/ValerySidorin/bulkfetch/pkg/wal/store/pg"
	"github.com/go-kit/log"
	"github.com/pkg/errors"
)

type Store interface {
	UpsertExport(ctx context.Context, exp *record.Export) error
	UpdateExport(ctx context.Context, exp *record.Export) error
	GetExportsByStatus(ctx context.Context, status string) ([]*record.Export, error)
	UpsertFile(ctx context.Context, rec *record.File) error
	GetFilesByStatus(ctx context.Context, statusURL, status string) ([]*record.File, error)
	Dispose(ctx context.Context) error
}

func NewWALStore(ctx context.Context, cfg config.Config, log log.Logger) (Store, error) {
	switch cfg.Store {
	case config.StoreMemory:
		return memory.NewWALStore(), nil
	case config.StorePg:
		return pg.NewWALStore(ctx, cfg.Pg, log)
	default:
		return nil, errors.New("invalid store in config")
	}
}
