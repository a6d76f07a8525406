package docstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore is a pgx-backed implementation of Store. Row locking via
// SELECT ... FOR UPDATE gives Update its single-transaction guarantee.
// Keys that have never been written get a JSON null placeholder row first,
// so there is always a row to lock; placeholder rows read as absent.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// placeholderDoc is the JSONB rendering of the row inserted to carry the
// lock for a not-yet-written key. Callers only ever store JSON objects,
// so a bare null cannot collide with a real document.
const placeholderDoc = "null"

// NewPostgresStore connects a pgx pool and runs migrations.
func NewPostgresStore(ctx context.Context, dsn string, dialTimeout time.Duration, logger *slog.Logger) (*PostgresStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	pc, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	pc.ConnConfig.RuntimeParams["application_name"] = "invoice-pipeline"

	if dialTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, dialTimeout)
		defer cancel()
	}
	pool, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}

	s := &PostgresStore{pool: pool}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	logger.Info("docstore.postgres.connected")
	return s, nil
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS documents (
			collection TEXT NOT NULL,
			key        TEXT NOT NULL,
			doc        JSONB NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (collection, key)
		)
	`)
	return err
}

func (s *PostgresStore) Get(ctx context.Context, collection, key string) ([]byte, error) {
	var doc []byte
	err := s.pool.QueryRow(ctx,
		`SELECT doc FROM documents WHERE collection = $1 AND key = $2`,
		collection, key,
	).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get %s/%s: %w", collection, key, err)
	}
	if string(doc) == placeholderDoc {
		return nil, nil
	}
	return doc, nil
}

func (s *PostgresStore) Put(ctx context.Context, collection, key string, doc []byte) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO documents (collection, key, doc, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (collection, key) DO UPDATE SET doc = EXCLUDED.doc, updated_at = EXCLUDED.updated_at
	`, collection, key, doc)
	if err != nil {
		return fmt.Errorf("put %s/%s: %w", collection, key, err)
	}
	return nil
}

func (s *PostgresStore) Update(ctx context.Context, collection, key string, fn UpdateFunc) ([]byte, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("begin update %s/%s: %w", collection, key, err)
	}
	defer tx.Rollback(ctx)

	// FOR UPDATE on an absent row locks nothing, so two first touches of
	// the same key would both see nil and the later commit would erase the
	// earlier one. Seed a placeholder row first; then the lock always
	// lands and concurrent Updates serialize on it.
	_, err = tx.Exec(ctx, `
		INSERT INTO documents (collection, key, doc, updated_at)
		VALUES ($1, $2, 'null'::jsonb, now())
		ON CONFLICT (collection, key) DO NOTHING
	`, collection, key)
	if err != nil {
		return nil, fmt.Errorf("seed %s/%s: %w", collection, key, err)
	}

	var cur []byte
	err = tx.QueryRow(ctx,
		`SELECT doc FROM documents WHERE collection = $1 AND key = $2 FOR UPDATE`,
		collection, key,
	).Scan(&cur)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("read %s/%s: %w", collection, key, err)
	}
	if string(cur) == placeholderDoc {
		cur = nil
	}

	next, err := fn(cur)
	if err != nil {
		return nil, err
	}
	if next == nil {
		return nil, tx.Commit(ctx)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO documents (collection, key, doc, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (collection, key) DO UPDATE SET doc = EXCLUDED.doc, updated_at = EXCLUDED.updated_at
	`, collection, key, next)
	if err != nil {
		return nil, fmt.Errorf("write %s/%s: %w", collection, key, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit %s/%s: %w", collection, key, err)
	}
	return next, nil
}

func (s *PostgresStore) Delete(ctx context.Context, collection, key string) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM documents WHERE collection = $1 AND key = $2`,
		collection, key,
	)
	if err != nil {
		return fmt.Errorf("delete %s/%s: %w", collection, key, err)
	}
	return nil
}

func (s *PostgresStore) List(ctx context.Context, collection string) (map[string][]byte, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT key, doc FROM documents WHERE collection = $1`,
		collection,
	)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", collection, err)
	}
	defer rows.Close()

	out := make(map[string][]byte)
	for rows.Next() {
		var key string
		var doc []byte
		if err := rows.Scan(&key, &doc); err != nil {
			return nil, fmt.Errorf("scan %s: %w", collection, err)
		}
		if string(doc) == placeholderDoc {
			continue
		}
		out[key] = doc
	}
	return out, rows.Err()
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
