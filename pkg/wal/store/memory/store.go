package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/ValerySidorin/bulkfetch/pkg/wal/record"
	"github.com/pkg/errors"
)

// Store keeps the journal in process memory. It is lost on exit.
type Store struct {
	mu      sync.Mutex
	exports map[string]record.Export
	files   map[string]map[string]record.File
}

func NewWALStore() *Store {
	return &Store{
		exports: map[string]record.Export{},
		files:   map[string]map[string]record.File{},
	}
}

func (s *Store) UpsertExport(_ context.Context, exp *record.Export) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cur, ok := s.exports[exp.StatusURL]; ok {
		cur.Status = exp.Status
		cur.UpdatedAt = exp.UpdatedAt
		s.exports[exp.StatusURL] = cur
		return nil
	}
	s.exports[exp.StatusURL] = *exp
	return nil
}

func (s *Store) UpdateExport(_ context.Context, exp *record.Export) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.exports[exp.StatusURL]
	if !ok {
		return errors.Errorf("memory wal store export %s not found", exp.StatusURL)
	}
	cur.Status = exp.Status
	cur.UpdatedAt = exp.UpdatedAt
	s.exports[exp.StatusURL] = cur
	return nil
}

func (s *Store) GetExportsByStatus(_ context.Context, status string) ([]*record.Export, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	recs := make([]*record.Export, 0)
	for _, exp := range s.exports {
		if exp.Status == status {
			exp := exp
			recs = append(recs, &exp)
		}
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].StartedAt.Before(recs[j].StartedAt) })
	return recs, nil
}

func (s *Store) UpsertFile(_ context.Context, rec *record.File) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	files, ok := s.files[rec.StatusURL]
	if !ok {
		files = map[string]record.File{}
		s.files[rec.StatusURL] = files
	}
	files[rec.URL] = *rec
	return nil
}

func (s *Store) GetFilesByStatus(_ context.Context, statusURL, status string) ([]*record.File, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	recs := make([]*record.File, 0)
	for _, f := range s.files[statusURL] {
		if f.Status == status {
			f := f
			recs = append(recs, &f)
		}
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].URL < recs[j].URL })
	return recs, nil
}

func (s *Store) Dispose(context.Context) error {
	return nil
}
