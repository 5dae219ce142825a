package postgres

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/GwonsooLee/argoitny-sub004/internal/domain"
)

type progressDat struct {
	Step    string `json:"step"`
	Message string `json:"msg,omitempty"`
	Status  string `json:"status"`
}

// ProgressRepo implements domain.ProgressRepository as an append-only child
// partition under the owning job. Sort keys are nanosecond timestamps with a
// monotonic guard so rapid appends from one worker never collide.
type ProgressRepo struct {
	table *Table

	mu     sync.Mutex
	lastTS int64
}

func NewProgressRepo(t *Table) *ProgressRepo { return &ProgressRepo{table: t} }

func (r *ProgressRepo) nextTS(at time.Time) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	ts := at.UnixNano()
	if ts <= r.lastTS {
		ts = r.lastTS + 1
	}
	r.lastTS = ts
	return ts
}

func progressSK(tsNanos int64) string { return fmt.Sprintf("PROG#%019d", tsNanos) }

func (r *ProgressRepo) Append(ctx domain.Context, kind domain.JobKind, jobID string, row domain.ProgressRow) error {
	dat, err := encodeDat(progressDat{
		Step:    row.Step,
		Message: row.Message,
		Status:  string(row.Status),
	})
	if err != nil {
		return err
	}
	at := row.CreatedAt
	if at.IsZero() {
		at = time.Now()
	}
	ts := r.nextTS(at)
	// Cross-worker collisions are still possible; bump and retry.
	for i := 0; i < 3; i++ {
		it := Item{
			PK: progressPK(kind, jobID), SK: progressSK(ts), Tp: tpProgress, Dat: dat,
			Crt: at.Unix(), Upd: at.Unix(),
		}
		err = r.table.Put(ctx, it, domain.CondNotExists())
		if !errors.Is(err, domain.ErrPreconditionFailed) {
			break
		}
		ts = r.nextTS(at)
	}
	if err != nil {
		return fmt.Errorf("op=progress.append: %w", err)
	}
	return nil
}

func (r *ProgressRepo) List(ctx domain.Context, kind domain.JobKind, jobID string) ([]domain.ProgressRow, error) {
	items, _, err := r.table.QueryPartition(ctx, progressPK(kind, jobID), "PROG#", false, 1000, "")
	if err != nil {
		return nil, fmt.Errorf("op=progress.list: %w", err)
	}
	rows := make([]domain.ProgressRow, 0, len(items))
	for _, it := range items {
		var d progressDat
		if err := decodeDat(it.Dat, &d); err != nil {
			return nil, err
		}
		rows = append(rows, domain.ProgressRow{
			Step:      d.Step,
			Message:   d.Message,
			Status:    domain.ProgressStatus(d.Status),
			CreatedAt: time.Unix(it.Crt, 0).UTC(),
		})
	}
	return rows, nil
}

func (r *ProgressRepo) DeleteAll(ctx domain.Context, kind domain.JobKind, jobID string) error {
	if err := r.table.DeletePartition(ctx, progressPK(kind, jobID)); err != nil {
		return fmt.Errorf("op=progress.delete_all: %w", err)
	}
	return nil
}
