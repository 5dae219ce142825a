package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"

	"github.com/GwonsooLee/argoitny-sub004/internal/domain"
	"github.com/GwonsooLee/argoitny-sub004/internal/observability"
)

const itemColumns = "pk, sk, tp, dat, crt, upd, ttl, gsi1pk, gsi1sk, gsi2pk, gsi3pk, gsi3sk"

// Table is the single-table access layer. Repositories compose their access
// patterns from it; they never issue raw SQL of their own.
type Table struct {
	Pool      PgxPool
	blobs     domain.ObjectStore
	now       func() time.Time
	retryBase time.Duration
}

// NewTable constructs a Table over the given pool.
func NewTable(p PgxPool) *Table {
	return &Table{Pool: p, now: time.Now, retryBase: 200 * time.Millisecond}
}

// withRetry retries fn on Throttled with exponential backoff and jitter
// (cap 30s, 5 attempts), then escalates to Transient.
func (t *Table) withRetry(ctx context.Context, op string, fn func() error) error {
	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = t.retryBase
	expo.MaxInterval = 30 * time.Second
	expo.MaxElapsedTime = 0

	attempts := 0
	err := backoff.Retry(func() error {
		attempts++
		err := fn()
		if err == nil {
			return nil
		}
		if errors.Is(err, domain.ErrThrottled) && attempts < 5 {
			observability.StoreRetriesTotal.WithLabelValues(op).Inc()
			return err
		}
		return backoff.Permanent(err)
	}, backoff.WithContext(expo, ctx))
	if errors.Is(err, domain.ErrThrottled) {
		return fmt.Errorf("op=%s: %w: capacity retries exhausted", op, domain.ErrTransient)
	}
	return err
}

// Put writes a full item. Condition semantics:
//   - NotExists: insert only; a present row fails with PreconditionFailed.
//   - Exists (optionally with AttrEquals): rewrite only when present and the
//     guarded attribute matches.
//   - zero Condition: unconditional upsert.
//
// Index keys always travel with the put, never as a second step.
func (t *Table) Put(ctx context.Context, it Item, cond domain.Condition) error {
	tracer := otel.Tracer("store.table")
	ctx, span := tracer.Start(ctx, "table.Put")
	defer span.End()

	op := "store.put"
	datMap, err := t.offloadOversized(ctx, it.PK, it.SK, it.Dat)
	if err != nil {
		return err
	}
	dat, err := json.Marshal(datMap)
	if err != nil {
		return fmt.Errorf("op=%s: %w", op, err)
	}
	return t.withRetry(ctx, op, func() error {
		switch {
		case cond.NotExists:
			tag, err := t.Pool.Exec(ctx,
				`INSERT INTO items (`+itemColumns+`) VALUES ($1,$2,$3,$4::jsonb,$5,$6,$7,$8,$9,$10,$11,$12)
				 ON CONFLICT (pk, sk) DO NOTHING`,
				it.PK, it.SK, it.Tp, dat, it.Crt, it.Upd, it.TTL,
				it.GSI1PK, it.GSI1SK, it.GSI2PK, it.GSI3PK, it.GSI3SK)
			if err != nil {
				return mapError(op, err)
			}
			if tag.RowsAffected() == 0 {
				return fmt.Errorf("op=%s: %w", op, domain.ErrPreconditionFailed)
			}
			return nil
		case cond.Exists:
			q := `UPDATE items SET tp=$3, dat=$4::jsonb, crt=$5, upd=$6, ttl=$7,
				gsi1pk=$8, gsi1sk=$9, gsi2pk=$10, gsi3pk=$11, gsi3sk=$12
				WHERE pk=$1 AND sk=$2`
			args := []any{it.PK, it.SK, it.Tp, dat, it.Crt, it.Upd, it.TTL,
				it.GSI1PK, it.GSI1SK, it.GSI2PK, it.GSI3PK, it.GSI3SK}
			if cond.Attr != "" {
				q += ` AND dat->>$13 = $14`
				args = append(args, cond.Attr, fmt.Sprint(cond.Value))
			}
			tag, err := t.Pool.Exec(ctx, q, args...)
			if err != nil {
				return mapError(op, err)
			}
			if tag.RowsAffected() == 0 {
				return t.missOrPrecondition(ctx, op, it.PK, it.SK)
			}
			return nil
		default:
			_, err := t.Pool.Exec(ctx,
				`INSERT INTO items (`+itemColumns+`) VALUES ($1,$2,$3,$4::jsonb,$5,$6,$7,$8,$9,$10,$11,$12)
				 ON CONFLICT (pk, sk) DO UPDATE SET
				   tp=EXCLUDED.tp, dat=EXCLUDED.dat, upd=EXCLUDED.upd, ttl=EXCLUDED.ttl,
				   gsi1pk=EXCLUDED.gsi1pk, gsi1sk=EXCLUDED.gsi1sk, gsi2pk=EXCLUDED.gsi2pk,
				   gsi3pk=EXCLUDED.gsi3pk, gsi3sk=EXCLUDED.gsi3sk`,
				it.PK, it.SK, it.Tp, dat, it.Crt, it.Upd, it.TTL,
				it.GSI1PK, it.GSI1SK, it.GSI2PK, it.GSI3PK, it.GSI3SK)
			return mapError(op, err)
		}
	})
}

// missOrPrecondition disambiguates a zero-row conditional mutation: a missing
// (or expired) row is NotFound, a present row means the guard lost the race.
func (t *Table) missOrPrecondition(ctx context.Context, op, pk, sk string) error {
	var one int
	err := t.Pool.QueryRow(ctx,
		`SELECT 1 FROM items WHERE pk=$1 AND sk=$2 AND (ttl IS NULL OR ttl > $3)`,
		pk, sk, t.now().Unix()).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("op=%s: %w", op, domain.ErrNotFound)
	}
	if err != nil {
		return mapError(op, err)
	}
	return fmt.Errorf("op=%s: %w", op, domain.ErrPreconditionFailed)
}

// Get loads one live item.
func (t *Table) Get(ctx context.Context, pk, sk string) (Item, error) {
	tracer := otel.Tracer("store.table")
	ctx, span := tracer.Start(ctx, "table.Get")
	defer span.End()

	var it Item
	err := t.withRetry(ctx, "store.get", func() error {
		row := t.Pool.QueryRow(ctx,
			`SELECT `+itemColumns+` FROM items WHERE pk=$1 AND sk=$2 AND (ttl IS NULL OR ttl > $3)`,
			pk, sk, t.now().Unix())
		got, err := scanItem(row)
		if err != nil {
			return mapError("store.get", err)
		}
		it = got
		return nil
	})
	if err != nil {
		return it, err
	}
	if err := t.rehydrate(ctx, &it); err != nil {
		return Item{}, err
	}
	return it, nil
}

// Update merges dat fields and rewrites index keys in a single statement.
// idx entries: present key with nil value clears the column; absent keys are
// untouched. Index-affecting writes must go through here or Put, never a
// separate statement.
func (t *Table) Update(ctx context.Context, pk, sk string, set map[string]any, idx map[string]*string, ttl *int64, cond domain.Condition) error {
	tracer := otel.Tracer("store.table")
	ctx, span := tracer.Start(ctx, "table.Update")
	defer span.End()

	op := "store.update"
	setMap, err := t.offloadOversized(ctx, pk, sk, set)
	if err != nil {
		return err
	}
	dat, err := json.Marshal(setMap)
	if err != nil {
		return fmt.Errorf("op=%s: %w", op, err)
	}

	return t.withRetry(ctx, op, func() error {
		sets := []string{"dat = dat || $3::jsonb", "upd = $4"}
		args := []any{pk, sk, dat, t.now().Unix()}
		n := 5
		if ttl != nil {
			sets = append(sets, fmt.Sprintf("ttl = $%d", n))
			args = append(args, *ttl)
			n++
		}
		for _, col := range []string{"gsi1pk", "gsi1sk", "gsi2pk", "gsi3pk", "gsi3sk"} {
			v, ok := idx[col]
			if !ok {
				continue
			}
			sets = append(sets, fmt.Sprintf("%s = $%d", col, n))
			args = append(args, v)
			n++
		}
		q := fmt.Sprintf(`UPDATE items SET %s WHERE pk=$1 AND sk=$2 AND (ttl IS NULL OR ttl > %d)`,
			strings.Join(sets, ", "), t.now().Unix())
		if cond.Attr != "" {
			q += fmt.Sprintf(` AND dat->>$%d = $%d`, n, n+1)
			args = append(args, cond.Attr, fmt.Sprint(cond.Value))
		}
		tag, err := t.Pool.Exec(ctx, q, args...)
		if err != nil {
			return mapError(op, err)
		}
		if tag.RowsAffected() == 0 {
			return t.missOrPrecondition(ctx, op, pk, sk)
		}
		return nil
	})
}

// Delete removes one item, honoring the condition.
func (t *Table) Delete(ctx context.Context, pk, sk string, cond domain.Condition) error {
	tracer := otel.Tracer("store.table")
	ctx, span := tracer.Start(ctx, "table.Delete")
	defer span.End()

	op := "store.delete"
	return t.withRetry(ctx, op, func() error {
		q := `DELETE FROM items WHERE pk=$1 AND sk=$2`
		args := []any{pk, sk}
		if cond.Attr != "" {
			q += ` AND dat->>$3 = $4`
			args = append(args, cond.Attr, fmt.Sprint(cond.Value))
		}
		tag, err := t.Pool.Exec(ctx, q, args...)
		if err != nil {
			return mapError(op, err)
		}
		if tag.RowsAffected() == 0 && (cond.Exists || cond.Attr != "") {
			return t.missOrPrecondition(ctx, op, pk, sk)
		}
		return nil
	})
}

// DeletePartition removes every row under a partition key. Used by the
// admin-only job deletion to drop progress children with the job.
func (t *Table) DeletePartition(ctx context.Context, pk string) error {
	op := "store.delete_partition"
	return t.withRetry(ctx, op, func() error {
		_, err := t.Pool.Exec(ctx, `DELETE FROM items WHERE pk=$1`, pk)
		return mapError(op, err)
	})
}

// QueryPartition pages through a partition by sort-key prefix.
func (t *Table) QueryPartition(ctx context.Context, pk, skPrefix string, desc bool, limit int, cur string) ([]Item, string, error) {
	tracer := otel.Tracer("store.table")
	ctx, span := tracer.Start(ctx, "table.QueryPartition")
	defer span.End()

	op := "store.query_partition"
	c, err := decodeCursor(cur)
	if err != nil {
		return nil, "", err
	}
	if limit <= 0 {
		limit = 50
	}

	q := `SELECT ` + itemColumns + ` FROM items
		WHERE pk=$1 AND sk LIKE $2 AND (ttl IS NULL OR ttl > $3)`
	args := []any{pk, likePrefix(skPrefix), t.now().Unix()}
	if c.SK != "" {
		if desc {
			q += ` AND sk < $4`
		} else {
			q += ` AND sk > $4`
		}
		args = append(args, c.SK)
	}
	if desc {
		q += ` ORDER BY sk DESC`
	} else {
		q += ` ORDER BY sk ASC`
	}
	q += fmt.Sprintf(` LIMIT %d`, limit)

	var items []Item
	err = t.withRetry(ctx, op, func() error {
		rows, err := t.Pool.Query(ctx, q, args...)
		if err != nil {
			return mapError(op, err)
		}
		defer rows.Close()
		items = items[:0]
		for rows.Next() {
			it, err := scanItem(rows)
			if err != nil {
				return mapError(op, err)
			}
			items = append(items, it)
		}
		return mapError(op, rows.Err())
	})
	if err != nil {
		return nil, "", err
	}
	for i := range items {
		if err := t.rehydrate(ctx, &items[i]); err != nil {
			return nil, "", err
		}
	}
	next := ""
	if len(items) == limit {
		last := items[len(items)-1]
		next = encodeCursor(cursor{PK: last.PK, SK: last.SK})
	}
	return items, next, nil
}

// QueryGSI pages a secondary index partition. Ties on the index sort key are
// broken by the base (pk, sk) so cursors stay stable.
func (t *Table) QueryGSI(ctx context.Context, index int, pkVal string, desc bool, limit int, cur string) ([]Item, string, error) {
	tracer := otel.Tracer("store.table")
	ctx, span := tracer.Start(ctx, "table.QueryGSI")
	defer span.End()

	op := fmt.Sprintf("store.query_gsi%d", index)
	if index != 1 && index != 3 {
		return nil, "", fmt.Errorf("op=%s: %w: index has no sort key", op, domain.ErrInvalidArgument)
	}
	c, err := decodeCursor(cur)
	if err != nil {
		return nil, "", err
	}
	if limit <= 0 {
		limit = 50
	}
	pkCol := fmt.Sprintf("gsi%dpk", index)
	skCol := fmt.Sprintf("gsi%dsk", index)

	q := `SELECT ` + itemColumns + ` FROM items
		WHERE ` + pkCol + `=$1 AND (ttl IS NULL OR ttl > $2)`
	args := []any{pkVal, t.now().Unix()}
	if c.GSK != "" {
		if desc {
			q += ` AND (` + skCol + `, pk, sk) < ($3, $4, $5)`
		} else {
			q += ` AND (` + skCol + `, pk, sk) > ($3, $4, $5)`
		}
		args = append(args, c.GSK, c.PK, c.SK)
	}
	if desc {
		q += ` ORDER BY ` + skCol + ` DESC, pk DESC, sk DESC`
	} else {
		q += ` ORDER BY ` + skCol + ` ASC, pk ASC, sk ASC`
	}
	q += fmt.Sprintf(` LIMIT %d`, limit)

	var items []Item
	err = t.withRetry(ctx, op, func() error {
		rows, err := t.Pool.Query(ctx, q, args...)
		if err != nil {
			return mapError(op, err)
		}
		defer rows.Close()
		items = items[:0]
		for rows.Next() {
			it, err := scanItem(rows)
			if err != nil {
				return mapError(op, err)
			}
			items = append(items, it)
		}
		return mapError(op, rows.Err())
	})
	if err != nil {
		return nil, "", err
	}
	for i := range items {
		if err := t.rehydrate(ctx, &items[i]); err != nil {
			return nil, "", err
		}
	}
	next := ""
	if len(items) == limit {
		last := items[len(items)-1]
		gsk := ""
		switch index {
		case 1:
			if last.GSI1SK != nil {
				gsk = *last.GSI1SK
			}
		case 3:
			if last.GSI3SK != nil {
				gsk = *last.GSI3SK
			}
		}
		next = encodeCursor(cursor{PK: last.PK, SK: last.SK, GPK: pkVal, GSK: gsk})
	}
	return items, next, nil
}

// GetByGSI2 resolves the hash-only index (at most one live match expected).
func (t *Table) GetByGSI2(ctx context.Context, pkVal string) (Item, error) {
	var it Item
	op := "store.get_gsi2"
	err := t.withRetry(ctx, op, func() error {
		row := t.Pool.QueryRow(ctx,
			`SELECT `+itemColumns+` FROM items WHERE gsi2pk=$1 AND (ttl IS NULL OR ttl > $2) LIMIT 1`,
			pkVal, t.now().Unix())
		got, err := scanItem(row)
		if err != nil {
			return mapError(op, err)
		}
		it = got
		return nil
	})
	if err != nil {
		return it, err
	}
	if err := t.rehydrate(ctx, &it); err != nil {
		return Item{}, err
	}
	return it, nil
}

// CountPartition is the single-partition count behind the usage ledger hot
// path. skLike is a raw LIKE pattern over the sort key ("%" counts all rows).
func (t *Table) CountPartition(ctx context.Context, pk, skLike string) (int, error) {
	var n int
	op := "store.count_partition"
	err := t.withRetry(ctx, op, func() error {
		err := t.Pool.QueryRow(ctx,
			`SELECT count(*) FROM items WHERE pk=$1 AND sk LIKE $2 AND (ttl IS NULL OR ttl > $3)`,
			pk, skLike, t.now().Unix()).Scan(&n)
		return mapError(op, err)
	})
	return n, err
}

// ReapExpired deletes up to limit rows whose TTL has passed. Reads already
// filter expired rows; this reclaims the space.
func (t *Table) ReapExpired(ctx context.Context, limit int) (int64, error) {
	if limit <= 0 {
		limit = 1000
	}
	op := "store.reap_expired"
	var n int64
	err := t.withRetry(ctx, op, func() error {
		tag, err := t.Pool.Exec(ctx,
			`DELETE FROM items WHERE (pk, sk) IN (
				SELECT pk, sk FROM items WHERE ttl IS NOT NULL AND ttl <= $1 LIMIT $2)`,
			t.now().Unix(), limit)
		if err != nil {
			return mapError(op, err)
		}
		n = tag.RowsAffected()
		return nil
	})
	return n, err
}

func likePrefix(prefix string) string {
	esc := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(prefix)
	return esc + "%"
}

// rowScanner is satisfied by pgx.Row and pgx.Rows.
type rowScanner interface{ Scan(dest ...any) error }

func scanItem(r rowScanner) (Item, error) {
	var it Item
	var dat []byte
	if err := r.Scan(&it.PK, &it.SK, &it.Tp, &dat, &it.Crt, &it.Upd, &it.TTL,
		&it.GSI1PK, &it.GSI1SK, &it.GSI2PK, &it.GSI3PK, &it.GSI3SK); err != nil {
		return Item{}, err
	}
	if len(dat) > 0 {
		if err := json.Unmarshal(dat, &it.Dat); err != nil {
			return Item{}, err
		}
	}
	return it, nil
}
