package postgres

import (
	"fmt"
	"strings"
	"time"

	"github.com/GwonsooLee/argoitny-sub004/internal/domain"
)

type jobDat struct {
	Platform          string   `json:"platform,omitempty"`
	ProblemID         string   `json:"pid,omitempty"`
	ProblemIdentifier string   `json:"pidf,omitempty"`
	Title             string   `json:"title,omitempty"`
	URL               string   `json:"url,omitempty"`
	Tags              []string `json:"tags,omitempty"`
	Language          string   `json:"lang,omitempty"`
	Constraints       string   `json:"cons,omitempty"`
	GeneratorCode     string   `json:"gen_code,omitempty"`
	Status            string   `json:"status"`
	BrokerTaskID      string   `json:"task_id,omitempty"`
	Error             string   `json:"err,omitempty"`
}

// JobRepo implements domain.JobRepository. Status moves are conditional on the
// current status so racing workers settle on exactly one transition; GSI1
// partitions jobs by (kind, status) for listings and orphan sweeps.
type JobRepo struct {
	table *Table
}

func NewJobRepo(t *Table) *JobRepo { return &JobRepo{table: t} }

func (r *JobRepo) Create(ctx domain.Context, j domain.Job) error {
	if j.Status == "" {
		j.Status = domain.JobPending
	}
	dat, err := encodeDat(jobDat{
		Platform:          j.Platform,
		ProblemID:         j.ProblemID,
		ProblemIdentifier: j.ProblemIdentifier,
		Title:             j.Title,
		URL:               j.URL,
		Tags:              j.Tags,
		Language:          j.Language,
		Constraints:       j.Constraints,
		GeneratorCode:     j.GeneratorCode,
		Status:            string(j.Status),
		BrokerTaskID:      j.BrokerTaskID,
		Error:             j.Error,
	})
	if err != nil {
		return err
	}
	now := time.Now()
	crt := j.CreatedAt
	if crt.IsZero() {
		crt = now
	}
	g1pk := jobStatusGSI1(j.Kind, j.Status)
	g1sk := sortableTS(crt.Unix())
	it := Item{
		PK: jobPK(j.Kind, j.ID), SK: skMeta, Tp: tpJob, Dat: dat,
		Crt: crt.Unix(), Upd: now.Unix(),
		GSI1PK: &g1pk, GSI1SK: &g1sk,
	}
	if err := r.table.Put(ctx, it, domain.CondNotExists()); err != nil {
		return fmt.Errorf("op=jobs.create: %w", err)
	}
	return nil
}

func (r *JobRepo) Get(ctx domain.Context, kind domain.JobKind, id string) (domain.Job, error) {
	it, err := r.table.Get(ctx, jobPK(kind, id), skMeta)
	if err != nil {
		return domain.Job{}, fmt.Errorf("op=jobs.get: %w", err)
	}
	return jobFromItem(it)
}

// Transition moves status from -> to, guarded on the current value. The status
// index partition moves in the same statement. A lost race surfaces as
// ErrPreconditionFailed; callers treat that as no-op success.
func (r *JobRepo) Transition(ctx domain.Context, kind domain.JobKind, id string, from, to domain.JobStatus, errMsg string) error {
	fields := map[string]any{"status": string(to)}
	if errMsg != "" {
		fields["err"] = errMsg
	}
	g1 := jobStatusGSI1(kind, to)
	idx := map[string]*string{"gsi1pk": &g1}
	err := r.table.Update(ctx, jobPK(kind, id), skMeta, fields, idx, nil,
		domain.CondAttrEquals("status", string(from)))
	if err != nil {
		return fmt.Errorf("op=jobs.transition: %w", err)
	}
	return nil
}

func (r *JobRepo) SetGeneratorCode(ctx domain.Context, id string, code string) error {
	err := r.table.Update(ctx, jobPK(domain.JobKindScriptGeneration, id), skMeta,
		map[string]any{"gen_code": code}, nil, nil, domain.CondExists())
	if err != nil {
		return fmt.Errorf("op=jobs.set_generator_code: %w", err)
	}
	return nil
}

func (r *JobRepo) SetBrokerTaskID(ctx domain.Context, kind domain.JobKind, id, taskID string) error {
	err := r.table.Update(ctx, jobPK(kind, id), skMeta,
		map[string]any{"task_id": taskID}, nil, nil, domain.CondExists())
	if err != nil {
		return fmt.Errorf("op=jobs.set_broker_task_id: %w", err)
	}
	return nil
}

func (r *JobRepo) ListByStatus(ctx domain.Context, kind domain.JobKind, status domain.JobStatus, cursor string, limit int) (domain.Page[domain.Job], error) {
	items, next, err := r.table.QueryGSI(ctx, 1, jobStatusGSI1(kind, status), true, limit, cursor)
	if err != nil {
		return domain.Page[domain.Job]{}, fmt.Errorf("op=jobs.list_by_status: %w", err)
	}
	out := make([]domain.Job, 0, len(items))
	for _, it := range items {
		j, err := jobFromItem(it)
		if err != nil {
			return domain.Page[domain.Job]{}, err
		}
		out = append(out, j)
	}
	return domain.Page[domain.Job]{Items: out, NextCursor: next}, nil
}

func (r *JobRepo) Delete(ctx domain.Context, kind domain.JobKind, id string) error {
	if err := r.table.Delete(ctx, jobPK(kind, id), skMeta, domain.Condition{}); err != nil {
		return fmt.Errorf("op=jobs.delete: %w", err)
	}
	return nil
}

func jobFromItem(it Item) (domain.Job, error) {
	var d jobDat
	if err := decodeDat(it.Dat, &d); err != nil {
		return domain.Job{}, err
	}
	kind, id, _ := strings.Cut(it.PK, "#")
	return domain.Job{
		ID:                id,
		Kind:              domain.JobKind(kind),
		Platform:          d.Platform,
		ProblemID:         d.ProblemID,
		ProblemIdentifier: d.ProblemIdentifier,
		Title:             d.Title,
		URL:               d.URL,
		Tags:              d.Tags,
		Language:          d.Language,
		Constraints:       d.Constraints,
		GeneratorCode:     d.GeneratorCode,
		Status:            domain.JobStatus(d.Status),
		BrokerTaskID:      d.BrokerTaskID,
		Error:             d.Error,
		CreatedAt:         time.Unix(it.Crt, 0).UTC(),
		UpdatedAt:         time.Unix(it.Upd, 0).UTC(),
	}, nil
}
