package postgres

import (
	"bytes"
	"compress/gzip"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/GwonsooLee/argoitny-sub004/internal/domain"
)

// historyDat carries the execution record. Per-case results are gzip+base64 in
// "res" to keep large submissions inside item-size comfort. HintsSet is the
// write-once guard for the hint task.
type historyDat struct {
	UserID   string   `json:"uid"`
	Title    string   `json:"title,omitempty"`
	Code     string   `json:"code,omitempty"` // base64
	Language string   `json:"lang,omitempty"`
	Public   bool     `json:"pub"`
	Passed   int      `json:"passed"`
	Failed   int      `json:"failed"`
	Total    int      `json:"total"`
	Summary  string   `json:"summary"`
	Results  string   `json:"res,omitempty"` // gzip+base64 JSON []TestCaseResult
	Hints    []string `json:"hints,omitempty"`
	HintsSet bool     `json:"hints_set"`
}

// HistoryRepo implements domain.HistoryRepository. IDs are the url-safe base64
// of "pk|sk" so a single opaque token addresses the composite key. Public
// entries additionally project onto the global PUBLIC#HIST feed partition.
type HistoryRepo struct {
	table *Table
	now   func() time.Time
}

func NewHistoryRepo(t *Table) *HistoryRepo {
	return &HistoryRepo{table: t, now: time.Now}
}

func historyID(pk, sk string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(pk + "|" + sk))
}

func parseHistoryID(id string) (pk, sk string, err error) {
	b, err := base64.RawURLEncoding.DecodeString(id)
	if err != nil {
		return "", "", fmt.Errorf("op=history.parse_id: %w", domain.ErrInvalidArgument)
	}
	pk, sk, ok := strings.Cut(string(b), "|")
	if !ok || pk == "" || sk == "" {
		return "", "", fmt.Errorf("op=history.parse_id: %w", domain.ErrInvalidArgument)
	}
	return pk, sk, nil
}

func (r *HistoryRepo) Create(ctx domain.Context, h domain.SearchHistory) (string, error) {
	res, err := packResults(h.TestResults)
	if err != nil {
		return "", err
	}
	dat, err := encodeDat(historyDat{
		UserID:   h.UserID,
		Title:    h.Title,
		Code:     h.Code,
		Language: h.Language,
		Public:   h.Public,
		Passed:   h.Passed,
		Failed:   h.Failed,
		Total:    h.Total,
		Summary:  h.ResultSummary,
		Results:  res,
		Hints:    h.Hints,
		HintsSet: len(h.Hints) > 0,
	})
	if err != nil {
		return "", err
	}
	ts := h.Timestamp
	if ts == 0 {
		ts = r.now().UnixMilli()
	}
	pk := historyPK(h.UserEmail, h.Platform, h.ProblemNumber)
	// Same-millisecond writes bump the timestamp and retry.
	for i := 0; i < 3; i++ {
		sk := historySK(ts)
		it := Item{
			PK: pk, SK: sk, Tp: tpHistory, Dat: dat,
			Crt: ts / 1000, Upd: r.now().Unix(),
		}
		if h.Public {
			g1pk := publicFeedGSI1
			g1sk := sortableTS(ts)
			it.GSI1PK = &g1pk
			it.GSI1SK = &g1sk
		}
		err = r.table.Put(ctx, it, domain.CondNotExists())
		if err == nil {
			return historyID(pk, sk), nil
		}
		if !errors.Is(err, domain.ErrPreconditionFailed) {
			break
		}
		ts++
	}
	return "", fmt.Errorf("op=history.create: %w", err)
}

func (r *HistoryRepo) Get(ctx domain.Context, id string) (domain.SearchHistory, error) {
	pk, sk, err := parseHistoryID(id)
	if err != nil {
		return domain.SearchHistory{}, err
	}
	it, err := r.table.Get(ctx, pk, sk)
	if err != nil {
		return domain.SearchHistory{}, fmt.Errorf("op=history.get: %w", err)
	}
	return historyFromItem(it)
}

// SetHints writes hints exactly once, guarded on hints_set. A second writer
// observes the guard flipped and gets ErrPreconditionFailed.
func (r *HistoryRepo) SetHints(ctx domain.Context, id string, hints []string) error {
	pk, sk, err := parseHistoryID(id)
	if err != nil {
		return err
	}
	err = r.table.Update(ctx, pk, sk,
		map[string]any{"hints": hints, "hints_set": true}, nil, nil,
		domain.CondAttrEquals("hints_set", false))
	if err != nil {
		return fmt.Errorf("op=history.set_hints: %w", err)
	}
	return nil
}

func (r *HistoryRepo) SetPublic(ctx domain.Context, id string, public bool) error {
	pk, sk, err := parseHistoryID(id)
	if err != nil {
		return err
	}
	idx := map[string]*string{"gsi1pk": nil, "gsi1sk": nil}
	if public {
		tsMillis, err := historyTS(sk)
		if err != nil {
			return err
		}
		g1pk := publicFeedGSI1
		g1sk := sortableTS(tsMillis)
		idx["gsi1pk"] = &g1pk
		idx["gsi1sk"] = &g1sk
	}
	err = r.table.Update(ctx, pk, sk, map[string]any{"pub": public}, idx, nil, domain.CondExists())
	if err != nil {
		return fmt.Errorf("op=history.set_public: %w", err)
	}
	return nil
}

func (r *HistoryRepo) ListByUser(ctx domain.Context, email, platform, problemNumber string, cursor string, limit int) (domain.Page[domain.SearchHistory], error) {
	pk := historyPK(email, platform, problemNumber)
	items, next, err := r.table.QueryPartition(ctx, pk, "HIST#", true, limit, cursor)
	if err != nil {
		return domain.Page[domain.SearchHistory]{}, fmt.Errorf("op=history.list_by_user: %w", err)
	}
	return historyPage(items, next)
}

func (r *HistoryRepo) PublicFeed(ctx domain.Context, cursor string, limit int) (domain.Page[domain.SearchHistory], error) {
	items, next, err := r.table.QueryGSI(ctx, 1, publicFeedGSI1, true, limit, cursor)
	if err != nil {
		return domain.Page[domain.SearchHistory]{}, fmt.Errorf("op=history.public_feed: %w", err)
	}
	return historyPage(items, next)
}

func historyPage(items []Item, next string) (domain.Page[domain.SearchHistory], error) {
	out := make([]domain.SearchHistory, 0, len(items))
	for _, it := range items {
		h, err := historyFromItem(it)
		if err != nil {
			return domain.Page[domain.SearchHistory]{}, err
		}
		out = append(out, h)
	}
	return domain.Page[domain.SearchHistory]{Items: out, NextCursor: next}, nil
}

// historyTS extracts the millisecond timestamp from a HIST# sort key.
func historyTS(sk string) (int64, error) {
	var ts int64
	if _, err := fmt.Sscanf(sk, "HIST#%d", &ts); err != nil {
		return 0, fmt.Errorf("op=history.parse_sk: %w", domain.ErrInvalidArgument)
	}
	return ts, nil
}

func historyFromItem(it Item) (domain.SearchHistory, error) {
	var d historyDat
	if err := decodeDat(it.Dat, &d); err != nil {
		return domain.SearchHistory{}, err
	}
	ts, err := historyTS(it.SK)
	if err != nil {
		return domain.SearchHistory{}, err
	}
	results, err := unpackResults(d.Results)
	if err != nil {
		return domain.SearchHistory{}, err
	}
	// PK is EMAIL#{email}#SHIST#{platform}#{number}.
	rest := strings.TrimPrefix(it.PK, "EMAIL#")
	email, rest, _ := strings.Cut(rest, "#SHIST#")
	platform, number, _ := strings.Cut(rest, "#")
	return domain.SearchHistory{
		ID:            historyID(it.PK, it.SK),
		UserID:        d.UserID,
		UserEmail:     email,
		Platform:      platform,
		ProblemNumber: number,
		Title:         d.Title,
		Code:          d.Code,
		Language:      d.Language,
		Public:        d.Public,
		Passed:        d.Passed,
		Failed:        d.Failed,
		Total:         d.Total,
		ResultSummary: d.Summary,
		TestResults:   results,
		Hints:         d.Hints,
		Timestamp:     ts,
	}, nil
}

func packResults(results []domain.TestCaseResult) (string, error) {
	if len(results) == 0 {
		return "", nil
	}
	raw, err := json.Marshal(results)
	if err != nil {
		return "", fmt.Errorf("op=history.pack_results: %w", err)
	}
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(raw); err != nil {
		return "", fmt.Errorf("op=history.pack_results: %w", err)
	}
	if err := zw.Close(); err != nil {
		return "", fmt.Errorf("op=history.pack_results: %w", err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

func unpackResults(packed string) ([]domain.TestCaseResult, error) {
	if packed == "" {
		return nil, nil
	}
	gz, err := base64.StdEncoding.DecodeString(packed)
	if err != nil {
		return nil, fmt.Errorf("op=history.unpack_results: %w", err)
	}
	zr, err := gzip.NewReader(bytes.NewReader(gz))
	if err != nil {
		return nil, fmt.Errorf("op=history.unpack_results: %w", err)
	}
	raw, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("op=history.unpack_results: %w", err)
	}
	if err := zr.Close(); err != nil {
		return nil, fmt.Errorf("op=history.unpack_results: %w", err)
	}
	var results []domain.TestCaseResult
	if err := json.Unmarshal(raw, &results); err != nil {
		return nil, fmt.Errorf("op=history.unpack_results: %w", err)
	}
	return results, nil
}
