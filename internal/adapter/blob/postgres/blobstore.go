// Package postgres implements the versioned object store over two Postgres
// tables: immutable blob versions plus a head pointer per key. A put writes
// the new version first and swaps the head after, so readers always see a
// complete body; a crash in between leaves only an orphan version for the
// prune step.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/GwonsooLee/argoitny-sub004/internal/domain"
)

const schemaDDL = `
CREATE TABLE IF NOT EXISTS blobs (
	key     text   NOT NULL,
	version bigint NOT NULL,
	body    bytea  NOT NULL,
	size    bigint NOT NULL,
	crt     bigint NOT NULL,
	PRIMARY KEY (key, version)
);
CREATE TABLE IF NOT EXISTS blob_heads (
	key     text   PRIMARY KEY,
	version bigint NOT NULL
);
`

// Pool is the subset of pgxpool the blob store needs.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Migrate applies the blob schema. Idempotent.
func Migrate(ctx context.Context, pool Pool) error {
	if _, err := pool.Exec(ctx, schemaDDL); err != nil {
		return fmt.Errorf("op=blob.migrate: %w", err)
	}
	return nil
}

// Store implements domain.ObjectStore.
type Store struct {
	pool Pool
	now  func() time.Time
}

func NewStore(pool Pool) *Store { return &Store{pool: pool, now: time.Now} }

func (s *Store) Put(ctx domain.Context, key string, body []byte) (domain.BlobInfo, error) {
	op := "blob.put"
	version := s.now().UnixNano()
	if _, err := s.pool.Exec(ctx,
		`INSERT INTO blobs (key, version, body, size, crt) VALUES ($1, $2, $3, $4, $5)`,
		key, version, body, int64(len(body)), s.now().Unix()); err != nil {
		return domain.BlobInfo{}, mapError(op, err)
	}
	if _, err := s.pool.Exec(ctx,
		`INSERT INTO blob_heads (key, version) VALUES ($1, $2)
		 ON CONFLICT (key) DO UPDATE SET version = EXCLUDED.version`,
		key, version); err != nil {
		return domain.BlobInfo{}, mapError(op, err)
	}
	// Prune superseded versions. Best effort; orphans only waste space.
	if _, err := s.pool.Exec(ctx,
		`DELETE FROM blobs WHERE key = $1 AND version < $2`, key, version); err != nil {
		return domain.BlobInfo{}, mapError(op, err)
	}
	return domain.BlobInfo{Key: key, Version: version, Size: int64(len(body))}, nil
}

func (s *Store) Get(ctx domain.Context, key string) ([]byte, domain.BlobInfo, error) {
	op := "blob.get"
	var body []byte
	var version, size int64
	err := s.pool.QueryRow(ctx,
		`SELECT b.body, b.version, b.size FROM blob_heads h
		 JOIN blobs b ON b.key = h.key AND b.version = h.version
		 WHERE h.key = $1`, key).Scan(&body, &version, &size)
	if err != nil {
		return nil, domain.BlobInfo{}, mapError(op, err)
	}
	return body, domain.BlobInfo{Key: key, Version: version, Size: size}, nil
}

func (s *Store) Head(ctx domain.Context, key string) (domain.BlobInfo, error) {
	op := "blob.head"
	var version, size int64
	err := s.pool.QueryRow(ctx,
		`SELECT b.version, b.size FROM blob_heads h
		 JOIN blobs b ON b.key = h.key AND b.version = h.version
		 WHERE h.key = $1`, key).Scan(&version, &size)
	if err != nil {
		return domain.BlobInfo{}, mapError(op, err)
	}
	return domain.BlobInfo{Key: key, Version: version, Size: size}, nil
}

func (s *Store) Delete(ctx domain.Context, key string) error {
	op := "blob.delete"
	if _, err := s.pool.Exec(ctx, `DELETE FROM blob_heads WHERE key = $1`, key); err != nil {
		return mapError(op, err)
	}
	if _, err := s.pool.Exec(ctx, `DELETE FROM blobs WHERE key = $1`, key); err != nil {
		return mapError(op, err)
	}
	return nil
}

func mapError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("op=%s: %w", op, domain.ErrNotFound)
	}
	return fmt.Errorf("op=%s: %w", op, err)
}
