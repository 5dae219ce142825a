package postgres

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/GwonsooLee/argoitny-sub004/internal/domain"
)

// problemDat uses short attribute names on the hot fields (cmp, del, nrv, tcc)
// because they double as conditional-write guards.
type problemDat struct {
	Title         string            `json:"title"`
	URL           string            `json:"url,omitempty"`
	Tags          []string          `json:"tags,omitempty"`
	Solution      string            `json:"sol,omitempty"`
	Language      string            `json:"lang,omitempty"`
	Constraints   string            `json:"cons,omitempty"`
	Completed     bool              `json:"cmp"`
	Deleted       bool              `json:"del"`
	DeletedReason string            `json:"del_reason,omitempty"`
	DeletedAt     int64             `json:"del_at,omitempty"`
	NeedsReview   bool              `json:"nrv"`
	Verified      bool              `json:"verified"`
	TestCaseCount int               `json:"tcc"`
	Metadata      map[string]string `json:"met,omitempty"`
}

// ProblemRepo implements domain.ProblemRepository. The sparse GSI3 projection
// partitions problems by completion status; soft-deleted rows leave the index
// and become unreachable through every read path.
type ProblemRepo struct {
	table *Table
}

func NewProblemRepo(t *Table) *ProblemRepo { return &ProblemRepo{table: t} }

func (r *ProblemRepo) Create(ctx domain.Context, p domain.Problem) error {
	dat, err := encodeDat(problemDat{
		Title:         p.Title,
		URL:           p.URL,
		Tags:          p.Tags,
		Solution:      p.Solution,
		Language:      p.Language,
		Constraints:   p.Constraints,
		Completed:     p.Completed,
		NeedsReview:   p.NeedsReview,
		Verified:      p.Verified,
		TestCaseCount: p.TestCaseCount,
		Metadata:      p.Metadata,
	})
	if err != nil {
		return err
	}
	now := time.Now()
	crt := p.CreatedAt
	if crt.IsZero() {
		crt = now
	}
	g3pk := problemStatusGSI3(p.Completed)
	g3sk := sortableTS(crt.Unix())
	it := Item{
		PK: problemPK(p.Platform, p.ProblemID), SK: skMeta, Tp: tpProblem, Dat: dat,
		Crt: crt.Unix(), Upd: now.Unix(),
		GSI3PK: &g3pk, GSI3SK: &g3sk,
	}
	if err := r.table.Put(ctx, it, domain.CondNotExists()); err != nil {
		return fmt.Errorf("op=problems.create: %w", err)
	}
	return nil
}

func (r *ProblemRepo) Get(ctx domain.Context, platform, problemID string) (domain.Problem, error) {
	it, err := r.table.Get(ctx, problemPK(platform, problemID), skMeta)
	if err != nil {
		return domain.Problem{}, fmt.Errorf("op=problems.get: %w", err)
	}
	p, err := problemFromItem(it)
	if err != nil {
		return domain.Problem{}, err
	}
	if p.Deleted {
		return domain.Problem{}, fmt.Errorf("op=problems.get: %w", domain.ErrNotFound)
	}
	return p, nil
}

// UpdateFields merges dat attributes. When the update flips "cmp" the status
// index key moves in the same statement, keeping the projection consistent;
// the sort key rewrites too, so status listings order by transition time.
func (r *ProblemRepo) UpdateFields(ctx domain.Context, platform, problemID string, fields map[string]any, cond domain.Condition) error {
	var idx map[string]*string
	if v, ok := fields["cmp"]; ok {
		completed, _ := v.(bool)
		g3pk := problemStatusGSI3(completed)
		g3sk := sortableTS(time.Now().Unix())
		idx = map[string]*string{"gsi3pk": &g3pk, "gsi3sk": &g3sk}
	}
	err := r.table.Update(ctx, problemPK(platform, problemID), skMeta, fields, idx, nil, cond)
	if err != nil {
		return fmt.Errorf("op=problems.update_fields: %w", err)
	}
	return nil
}

func (r *ProblemRepo) SetTestCaseCount(ctx domain.Context, platform, problemID string, n int) error {
	return r.UpdateFields(ctx, platform, problemID, map[string]any{"tcc": n}, domain.CondExists())
}

func (r *ProblemRepo) SetCompleted(ctx domain.Context, platform, problemID string) error {
	err := r.UpdateFields(ctx, platform, problemID,
		map[string]any{"cmp": true, "nrv": false}, domain.CondExists())
	// Already completed counts as done.
	if errors.Is(err, domain.ErrPreconditionFailed) {
		return nil
	}
	return err
}

func (r *ProblemRepo) SoftDelete(ctx domain.Context, platform, problemID, reason string) error {
	fields := map[string]any{
		"del":        true,
		"del_reason": reason,
		"del_at":     time.Now().Unix(),
	}
	idx := map[string]*string{"gsi3pk": nil, "gsi3sk": nil}
	err := r.table.Update(ctx, problemPK(platform, problemID), skMeta, fields, idx, nil, domain.CondExists())
	if err != nil {
		return fmt.Errorf("op=problems.soft_delete: %w", err)
	}
	return nil
}

func (r *ProblemRepo) ListByStatus(ctx domain.Context, completed bool, cursor string, limit int) (domain.Page[domain.Problem], error) {
	items, next, err := r.table.QueryGSI(ctx, 3, problemStatusGSI3(completed), true, limit, cursor)
	if err != nil {
		return domain.Page[domain.Problem]{}, fmt.Errorf("op=problems.list_by_status: %w", err)
	}
	out := make([]domain.Problem, 0, len(items))
	for _, it := range items {
		p, err := problemFromItem(it)
		if err != nil {
			return domain.Page[domain.Problem]{}, err
		}
		out = append(out, p)
	}
	return domain.Page[domain.Problem]{Items: out, NextCursor: next}, nil
}

func problemFromItem(it Item) (domain.Problem, error) {
	var d problemDat
	if err := decodeDat(it.Dat, &d); err != nil {
		return domain.Problem{}, err
	}
	rest := strings.TrimPrefix(it.PK, "PROB#")
	platform, problemID, _ := strings.Cut(rest, "#")
	return domain.Problem{
		Platform:      platform,
		ProblemID:     problemID,
		Title:         d.Title,
		URL:           d.URL,
		Tags:          d.Tags,
		Solution:      d.Solution,
		Language:      d.Language,
		Constraints:   d.Constraints,
		Completed:     d.Completed,
		Deleted:       d.Deleted,
		DeletedReason: d.DeletedReason,
		DeletedAt:     d.DeletedAt,
		NeedsReview:   d.NeedsReview,
		Verified:      d.Verified,
		TestCaseCount: d.TestCaseCount,
		Metadata:      d.Metadata,
		CreatedAt:     time.Unix(it.Crt, 0).UTC(),
		UpdatedAt:     time.Unix(it.Upd, 0).UTC(),
	}, nil
}
