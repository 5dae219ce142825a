package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// recordedCall captures one statement issued against the fake pool.
type recordedCall struct {
	sql  string
	args []any
}

type execReply struct {
	tag pgconn.CommandTag
	err error
}

type rowReply struct {
	vals []any
	err  error
}

// fakePool is a scriptable PgxPool. Replies are consumed in order; running
// out of scripted replies fails the statement loudly.
type fakePool struct {
	calls      []recordedCall
	execQueue  []execReply
	rowQueue   []rowReply
	queryQueue [][]rowReply
}

func (p *fakePool) record(sql string, args []any) {
	p.calls = append(p.calls, recordedCall{sql: sql, args: args})
}

func (p *fakePool) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	p.record(sql, args)
	if len(p.execQueue) == 0 {
		return pgconn.CommandTag{}, errors.New("fakePool: no exec reply scripted")
	}
	r := p.execQueue[0]
	p.execQueue = p.execQueue[1:]
	return r.tag, r.err
}

func (p *fakePool) QueryRow(_ context.Context, sql string, args ...any) pgx.Row {
	p.record(sql, args)
	if len(p.rowQueue) == 0 {
		return fakeRow{err: errors.New("fakePool: no row reply scripted")}
	}
	r := p.rowQueue[0]
	p.rowQueue = p.rowQueue[1:]
	return fakeRow(r)
}

func (p *fakePool) Query(_ context.Context, sql string, args ...any) (pgx.Rows, error) {
	p.record(sql, args)
	if len(p.queryQueue) == 0 {
		return nil, errors.New("fakePool: no query reply scripted")
	}
	rows := p.queryQueue[0]
	p.queryQueue = p.queryQueue[1:]
	return &fakeRows{rows: rows}, nil
}

func (p *fakePool) BeginTx(context.Context, pgx.TxOptions) (pgx.Tx, error) {
	return nil, errors.New("fakePool: BeginTx not supported")
}

type fakeRow struct {
	vals []any
	err  error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	return assignAll(dest, r.vals)
}

type fakeRows struct {
	rows []rowReply
	idx  int
	err  error
}

func (r *fakeRows) Next() bool { return r.idx < len(r.rows) }

func (r *fakeRows) Scan(dest ...any) error {
	row := r.rows[r.idx]
	r.idx++
	if row.err != nil {
		r.err = row.err
		return row.err
	}
	return assignAll(dest, row.vals)
}

func (r *fakeRows) Close()                                       {}
func (r *fakeRows) Err() error                                   { return r.err }
func (r *fakeRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *fakeRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *fakeRows) Values() ([]any, error)                       { return nil, nil }
func (r *fakeRows) RawValues() [][]byte                          { return nil }
func (r *fakeRows) Conn() *pgx.Conn                              { return nil }

func assignAll(dest, vals []any) error {
	if len(dest) != len(vals) {
		return fmt.Errorf("fakeRow: %d dests, %d vals", len(dest), len(vals))
	}
	for i := range dest {
		if err := assign(dest[i], vals[i]); err != nil {
			return err
		}
	}
	return nil
}

func assign(dest, val any) error {
	switch d := dest.(type) {
	case *string:
		*d = val.(string)
	case *int:
		*d = val.(int)
	case *int64:
		*d = val.(int64)
	case *[]byte:
		if val == nil {
			*d = nil
		} else {
			*d = val.([]byte)
		}
	case **int64:
		if val == nil {
			*d = nil
		} else {
			v := val.(int64)
			*d = &v
		}
	case **string:
		if val == nil {
			*d = nil
		} else {
			v := val.(string)
			*d = &v
		}
	default:
		return fmt.Errorf("fakeRow: unsupported dest %T", dest)
	}
	return nil
}

// itemRowVals renders an Item as scan values in itemColumns order.
func itemRowVals(it Item, datJSON string) []any {
	var ttl, g1pk, g1sk, g2pk, g3pk, g3sk any
	if it.TTL != nil {
		ttl = *it.TTL
	}
	if it.GSI1PK != nil {
		g1pk = *it.GSI1PK
	}
	if it.GSI1SK != nil {
		g1sk = *it.GSI1SK
	}
	if it.GSI2PK != nil {
		g2pk = *it.GSI2PK
	}
	if it.GSI3PK != nil {
		g3pk = *it.GSI3PK
	}
	if it.GSI3SK != nil {
		g3sk = *it.GSI3SK
	}
	return []any{it.PK, it.SK, it.Tp, []byte(datJSON), it.Crt, it.Upd, ttl, g1pk, g1sk, g2pk, g3pk, g3sk}
}

func okTag(verb string, n int) pgconn.CommandTag {
	return pgconn.NewCommandTag(fmt.Sprintf("%s %d", verb, n))
}
