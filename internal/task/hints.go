package task

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/GwonsooLee/argoitny-sub004/internal/adapter/llm"
	"github.com/GwonsooLee/argoitny-sub004/internal/domain"
	"github.com/GwonsooLee/argoitny-sub004/internal/observability"
	"github.com/GwonsooLee/argoitny-sub004/internal/worker"
)

const (
	hintPromptBudget = 6000
	hintSystemNote   = `You review a failed algorithm-problem submission. Respond with a JSON array
of 2-4 short hint strings, ordered from gentle nudge to concrete pointer.
Never include a full solution. Respond with the JSON array only.`
)

// HintGenerator writes the one-shot hint list onto a failed execution record.
// Re-runs observe hints already present and exit without another LLM call.
type HintGenerator struct {
	history  domain.HistoryRepository
	problems domain.ProblemRepository
	llm      domain.LLM
}

func NewHintGenerator(history domain.HistoryRepository, problems domain.ProblemRepository, gateway domain.LLM) *HintGenerator {
	return &HintGenerator{history: history, problems: problems, llm: gateway}
}

func (h *HintGenerator) Name() string  { return domain.TaskGenerateHints }
func (h *HintGenerator) Queue() string { return domain.QueueAI }
func (h *HintGenerator) Policy() worker.Policy {
	return worker.Policy{MaxRetries: 3, RetryDelay: time.Minute, RetryCap: 30 * time.Minute}
}

func (h *HintGenerator) Run(ctx context.Context, payload json.RawMessage) domain.TaskOutcome {
	var p domain.GenerateHintsPayload
	if err := decode(payload, &p); err != nil {
		return domain.Terminal(err, "invalid hints payload")
	}
	logger := observability.LoggerFromContext(ctx).With(slog.String("history_id", p.HistoryID))
	ctx = observability.ContextWithLogger(ctx, logger)

	hist, err := h.history.Get(ctx, p.HistoryID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Terminal(err, "history %s missing", p.HistoryID)
		}
		return classify(err, "load history")
	}
	if len(hist.Hints) > 0 {
		logger.Info("hints already present")
		return domain.Success()
	}
	if hist.Failed == 0 {
		logger.Info("all cases passed, nothing to hint")
		return domain.Success()
	}

	constraints := ""
	if problem, err := h.problems.Get(ctx, hist.Platform, hist.ProblemNumber); err == nil {
		constraints = problem.Constraints
	}

	zero := 0.0
	res, err := h.llm.Generate(ctx, h.prompt(hist, constraints), domain.GenerateOptions{
		MaxTokens:   2048,
		JSONSchema:  "hints",
		Temperature: &zero,
	})
	if err != nil {
		return classify(err, "generate hints")
	}
	hints, err := parseHints(res.Text)
	if err != nil {
		return domain.Terminal(err, "unusable hint response")
	}
	if len(hints) == 0 {
		logger.Warn("model produced no hints")
		return domain.Success()
	}

	if err := h.history.SetHints(ctx, p.HistoryID, hints); err != nil {
		if errors.Is(err, domain.ErrPreconditionFailed) {
			logger.Info("another run already wrote hints")
			return domain.Success()
		}
		return classify(err, "store hints")
	}
	return domain.Success()
}

func (h *HintGenerator) prompt(hist domain.SearchHistory, constraints string) string {
	var sb strings.Builder
	sb.WriteString(hintSystemNote)
	sb.WriteString("\n\nProblem: ")
	sb.WriteString(hist.Title)
	if constraints != "" {
		sb.WriteString("\nConstraints:\n")
		sb.WriteString(constraints)
	}
	sb.WriteString("\n\nSubmitted code (")
	sb.WriteString(hist.Language)
	sb.WriteString("):\n")
	sb.WriteString(hist.Code)
	sb.WriteString("\n\nFailed cases:\n")
	var failed strings.Builder
	for _, r := range hist.TestResults {
		if r.Passed {
			continue
		}
		fmt.Fprintf(&failed, "- case %s: status=%s output=%q error=%q\n",
			r.TestCaseID, r.Status, r.Output, r.Error)
	}
	sb.WriteString(llm.TrimToTokens(failed.String(), hintPromptBudget))
	return sb.String()
}

func parseHints(text string) ([]string, error) {
	var hints []string
	if err := json.Unmarshal([]byte(stripFence(text)), &hints); err != nil {
		return nil, fmt.Errorf("%w: hint response is not a JSON array: %v", domain.ErrProvider, err)
	}
	out := hints[:0]
	for _, hint := range hints {
		if s := strings.TrimSpace(hint); s != "" {
			out = append(out, s)
		}
	}
	return out, nil
}
