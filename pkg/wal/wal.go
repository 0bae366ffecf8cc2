// Package wal journals exports and the outcome of their files, so an
// interrupted run can resume an export without downloading finished files
// again.
package wal

import (
	"context"
	"time"

	"github.com/ValerySidorin/bulkfetch/pkg/tracker"
	"github.com/ValerySidorin/bulkfetch/pkg/wal/config"
	"github.com/ValerySidorin/bulkfetch/pkg/wal/record"
	"github.com/ValerySidorin/bulkfetch/pkg/wal/store"
	"github.com/go-kit/log"
	"github.com/pkg/errors"
	"github.com/samber/lo"
)

type WAL struct {
	Cfg   config.Config
	Store store.Store

	now func() time.Time
}

// NewWAL returns nil when no store is configured.
func NewWAL(ctx context.Context, cfg config.Config, log log.Logger) (*WAL, error) {
	if cfg.Store == config.StoreNone {
		return nil, nil
	}

	s, err := store.NewWALStore(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	return &WAL{Cfg: cfg, Store: s, now: time.Now}, nil
}

// Started records an export as processing. An export attached again is
// reopened with its original start time.
func (w *WAL) Started(ctx context.Context, statusURL, fhirURL string) error {
	return w.Store.UpsertExport(ctx, record.NewExport(statusURL, fhirURL, w.now()))
}

// Finished records the final status of an export.
func (w *WAL) Finished(ctx context.Context, statusURL, status string) error {
	return w.Store.UpdateExport(ctx, &record.Export{StatusURL: statusURL, Status: status, UpdatedAt: w.now()})
}

// Unfinished returns the exports that were still processing, oldest first.
func (w *WAL) Unfinished(ctx context.Context) ([]*record.Export, error) {
	return w.Store.GetExportsByStatus(ctx, record.PROCESSING)
}

// FileDone records a stored file.
func (w *WAL) FileDone(ctx context.Context, statusURL string, f *tracker.FileDescriptor) error {
	return w.Store.UpsertFile(ctx, w.fileRecord(statusURL, f, record.COMPLETED, ""))
}

// FileFailed records a failed file with the reason.
func (w *WAL) FileFailed(ctx context.Context, statusURL string, f *tracker.FileDescriptor, cause error) error {
	return w.Store.UpsertFile(ctx, w.fileRecord(statusURL, f, record.FAILED, cause.Error()))
}

func (w *WAL) fileRecord(statusURL string, f *tracker.FileDescriptor, status, msg string) *record.File {
	return &record.File{
		StatusURL: statusURL,
		URL:       f.URL,
		Name:      f.Name,
		Status:    status,
		Bytes:     f.Bytes(),
		Error:     msg,
		UpdatedAt: w.now(),
	}
}

// Pending drops the manifest entries already stored by an earlier run of the
// same export.
func (w *WAL) Pending(ctx context.Context, statusURL string, entries []tracker.Entry) ([]tracker.Entry, error) {
	done, err := w.Store.GetFilesByStatus(ctx, statusURL, record.COMPLETED)
	if err != nil {
		return nil, errors.Wrap(err, "load completed files")
	}

	stored := lo.SliceToMap(done, func(f *record.File) (string, struct{}) { return f.URL, struct{}{} })
	return lo.Filter(entries, func(e tracker.Entry, _ int) bool {
		_, ok := stored[e.URL]
		return !ok
	}), nil
}

func (w *WAL) Dispose(ctx context.Context) {
	_ = w.Store.Dispose(ctx)
}
