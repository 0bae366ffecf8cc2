package pg

import (
	"context"

	"github.com/ValerySidorin/bulkfetch/pkg/wal/config/pg"
	"github.com/ValerySidorin/bulkfetch/pkg/wal/record"
	"github.com/go-kit/log"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
)

// Store journals exports in Postgres. Workers write file outcomes
// concurrently, so it holds a pool instead of a single connection.
type Store struct {
	cfg  pg.Config
	log  log.Logger
	pool *pgxpool.Pool
}

func NewWALStore(ctx context.Context, cfg pg.Config, log log.Logger) (*Store, error) {
	pool, err := pgxpool.New(ctx, cfg.Conn)
	if err != nil {
		return nil, errors.Wrap(err, "pg wal store init pool")
	}

	q := `create table if not exists public.bulkfetch_exports
	(status_url text primary key, fhir_url text not null, status text not null,
	started_at timestamptz not null, updated_at timestamptz not null);
	create table if not exists public.bulkfetch_files
	(status_url text not null, url text not null, name text not null, status text not null,
	bytes bigint not null default 0, error text not null default '', updated_at timestamptz not null,
	primary key (status_url, url));`
	if _, err := pool.Exec(ctx, q); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "pg wal store init tables")
	}

	return &Store{
		cfg:  cfg,
		log:  log,
		pool: pool,
	}, nil
}

func (s *Store) UpsertExport(ctx context.Context, exp *record.Export) error {
	q := `insert into bulkfetch_exports(status_url, fhir_url, status, started_at, updated_at)
	values($1, $2, $3, $4, $5)
	on conflict (status_url) do update
	set status = excluded.status,
	updated_at = excluded.updated_at;`

	_, err := s.pool.Exec(ctx, q, exp.StatusURL, exp.FHIRURL, exp.Status, exp.StartedAt, exp.UpdatedAt)
	if err != nil {
		return errors.Wrap(err, "pg wal store upsert export")
	}

	return nil
}

func (s *Store) UpdateExport(ctx context.Context, exp *record.Export) error {
	q := `update bulkfetch_exports
	set status = $2,
	updated_at = $3
	where status_url = $1;`

	tag, err := s.pool.Exec(ctx, q, exp.StatusURL, exp.Status, exp.UpdatedAt)
	if err != nil {
		return errors.Wrap(err, "pg wal store update export")
	}
	if tag.RowsAffected() == 0 {
		return errors.Errorf("pg wal store export %s not found", exp.StatusURL)
	}

	return nil
}

func (s *Store) GetExportsByStatus(ctx context.Context, status string) ([]*record.Export, error) {
	q := `select status_url, fhir_url, status, started_at, updated_at
	from bulkfetch_exports where status = $1 order by started_at;`

	rows, err := s.pool.Query(ctx, q, status)
	if err != nil {
		return nil, errors.Wrap(err, "pg wal store query exports")
	}

	recs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*record.Export, error) {
		exp := record.Export{}
		err := row.Scan(&exp.StatusURL, &exp.FHIRURL, &exp.Status, &exp.StartedAt, &exp.UpdatedAt)
		return &exp, err
	})
	if err != nil {
		return nil, errors.Wrap(err, "pg wal store scan exports")
	}

	return recs, nil
}

func (s *Store) UpsertFile(ctx context.Context, rec *record.File) error {
	q := `insert into bulkfetch_files(status_url, url, name, status, bytes, error, updated_at)
	values($1, $2, $3, $4, $5, $6, $7)
	on conflict (status_url, url) do update
	set name = excluded.name,
	status = excluded.status,
	bytes = excluded.bytes,
	error = excluded.error,
	updated_at = excluded.updated_at;`

	_, err := s.pool.Exec(ctx, q, rec.StatusURL, rec.URL, rec.Name, rec.Status, rec.Bytes, rec.Error, rec.UpdatedAt)
	if err != nil {
		return errors.Wrap(err, "pg wal store upsert file")
	}

	return nil
}

func (s *Store) GetFilesByStatus(ctx context.Context, statusURL, status string) ([]*record.File, error) {
	q := `select status_url, url, name, status, bytes, error, updated_at
	from bulkfetch_files where status_url = $1 and status = $2 order by url;`

	rows, err := s.pool.Query(ctx, q, statusURL, status)
	if err != nil {
		return nil, errors.Wrap(err, "pg wal store query files")
	}

	recs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*record.File, error) {
		rec := record.File{}
		err := row.Scan(&rec.StatusURL, &rec.URL, &rec.Name, &rec.Status, &rec.Bytes, &rec.Error, &rec.UpdatedAt)
		return &rec, err
	})
	if err != nil {
		return nil, errors.Wrap(err, "pg wal store scan files")
	}

	return recs, nil
}

func (s *Store) Dispose(context.Context) error {
	s.pool.Close()
	return nil
}
