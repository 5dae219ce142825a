package postgres

import (
	"context"
	"fmt"
)

// Schema for the single items table. Secondary indexes are partial so that
// rows without a projection cost nothing (sparse-index semantics).
const schemaDDL = `
CREATE TABLE IF NOT EXISTS items (
	pk     text   NOT NULL,
	sk     text   NOT NULL,
	tp     text   NOT NULL,
	dat    jsonb  NOT NULL DEFAULT '{}'::jsonb,
	crt    bigint NOT NULL,
	upd    bigint NOT NULL,
	ttl    bigint,
	gsi1pk text,
	gsi1sk text,
	gsi2pk text,
	gsi3pk text,
	gsi3sk text,
	PRIMARY KEY (pk, sk)
);
CREATE INDEX IF NOT EXISTS items_gsi1 ON items (gsi1pk, gsi1sk) WHERE gsi1pk IS NOT NULL;
CREATE INDEX IF NOT EXISTS items_gsi2 ON items (gsi2pk) WHERE gsi2pk IS NOT NULL;
CREATE INDEX IF NOT EXISTS items_gsi3 ON items (gsi3pk, gsi3sk) WHERE gsi3pk IS NOT NULL;
CREATE INDEX IF NOT EXISTS items_ttl ON items (ttl) WHERE ttl IS NOT NULL;
`

// Migrate applies the items schema. Idempotent.
func Migrate(ctx context.Context, pool PgxPool) error {
	if _, err := pool.Exec(ctx, schemaDDL); err != nil {
		return fmt.Errorf("op=store.migrate: %w", err)
	}
	return nil
}
