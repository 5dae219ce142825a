package postgres

import (
	"errors"
	"fmt"
	"time"

	"github.com/GwonsooLee/argoitny-sub004/internal/domain"
)

type usageDat struct {
	Problem  string            `json:"problem,omitempty"`
	Metadata map[string]string `json:"met,omitempty"`
}

// UsageRepo implements domain.UsageRepository. One partition per user per UTC
// day keeps the count a single cheap partition read; every row carries the
// fixed 90-day TTL.
type UsageRepo struct {
	table *Table
}

func NewUsageRepo(t *Table) *UsageRepo { return &UsageRepo{table: t} }

func (r *UsageRepo) Append(ctx domain.Context, log domain.UsageLog) error {
	dat, err := encodeDat(usageDat{Problem: log.Problem, Metadata: log.Metadata})
	if err != nil {
		return err
	}
	crt := log.CreatedAt
	if crt == 0 {
		crt = time.Now().Unix()
	}
	ttl := log.TTL
	if ttl == 0 {
		ttl = crt + domain.UsageRetentionSeconds
	}
	date := domain.UsageDate(time.Unix(crt, 0))
	it := Item{
		PK:  usagePK(log.UserID, date),
		SK:  usageSK(crt, log.Action),
		Tp:  tpUsage,
		Dat: dat,
		Crt: crt, Upd: crt,
		TTL: &ttl,
	}
	err = r.table.Put(ctx, it, domain.CondNotExists())
	// The (ts, action) sort key is the idempotency key; a duplicate write is
	// the same event and counts as success.
	if errors.Is(err, domain.ErrPreconditionFailed) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("op=usage.append: %w", err)
	}
	return nil
}

func (r *UsageRepo) Count(ctx domain.Context, userID string, action domain.UsageAction, date string) (int, error) {
	// Actions share the daily partition; the action lands at the tail of the
	// sort key, so the count matches on the suffix.
	n, err := r.table.CountPartition(ctx, usagePK(userID, date), "ULOG#%#"+string(action))
	if err != nil {
		return 0, fmt.Errorf("op=usage.count: %w", err)
	}
	return n, nil
}
