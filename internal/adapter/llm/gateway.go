// Package llm implements the provider-abstracted LLM gateway: deterministic
// parameters, per-provider retry, and structured-output extraction.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/GwonsooLee/argoitny-sub004/internal/domain"
	"github.com/GwonsooLee/argoitny-sub004/internal/observability"
)

// Provider is one LLM backend. Implementations classify their own failures:
// ErrProvider for quota/refusal/malformed output, ErrTransient for network
// and 5xx after retries.
type Provider interface {
	Name() string
	Generate(ctx context.Context, system, user string, opts domain.GenerateOptions) (domain.GenerateResult, error)
}

// extractPageTokenBudget bounds how much of a fetched page rides in the
// extraction prompt.
const extractPageTokenBudget = 12000

// Gateway implements domain.LLM over a set of named providers.
type Gateway struct {
	providers   map[string]Provider
	defaultName string
	validate    *validator.Validate
}

func NewGateway(defaultName string, providers ...Provider) *Gateway {
	m := make(map[string]Provider, len(providers))
	for _, p := range providers {
		m[p.Name()] = p
	}
	return &Gateway{providers: m, defaultName: defaultName, validate: validator.New()}
}

func (g *Gateway) provider(name string) (Provider, error) {
	if name == "" {
		name = g.defaultName
	}
	p, ok := g.providers[name]
	if !ok {
		return nil, fmt.Errorf("op=llm.provider: %w: unknown provider %q", domain.ErrInvalidArgument, name)
	}
	return p, nil
}

// Generate runs one text generation call against the selected provider.
func (g *Gateway) Generate(ctx domain.Context, prompt string, opts domain.GenerateOptions) (domain.GenerateResult, error) {
	op := "llm.generate"
	p, err := g.provider(opts.Provider)
	if err != nil {
		return domain.GenerateResult{}, err
	}
	start := time.Now()
	res, err := p.Generate(ctx, "", prompt, opts)
	observability.LLMRequestsTotal.WithLabelValues(p.Name(), "generate").Inc()
	observability.LLMRequestDuration.WithLabelValues(p.Name(), "generate").Observe(time.Since(start).Seconds())
	if err != nil {
		return domain.GenerateResult{}, fmt.Errorf("op=%s: %w", op, err)
	}
	observability.LoggerFromContext(ctx).Debug("llm generation finished",
		slog.String("provider", p.Name()),
		slog.String("finish_reason", res.FinishReason),
		slog.Int("input_tokens", res.InputTokens),
		slog.Int("output_tokens", res.OutputTokens))
	return res, nil
}

const extractSystemPrompt = `You extract structured metadata from competitive programming problem pages.
Respond with a single JSON object and nothing else:
{"title": string, "tags": [string], "constraints": string, "solution": string, "language": string}
"solution" is a correct reference solution in Python 3; "constraints" summarizes input bounds.`

// ExtractMetadata asks the model for structured problem metadata. The page is
// trimmed to a token budget first; a schema-invalid reply is a provider error
// and is not retried on the same provider.
func (g *Gateway) ExtractMetadata(ctx domain.Context, pageMarkdown string, hints map[string]string) (domain.ProblemMetadata, error) {
	op := "llm.extract_metadata"
	p, err := g.provider("")
	if err != nil {
		return domain.ProblemMetadata{}, err
	}

	var sb strings.Builder
	sb.WriteString("Problem page (markdown):\n\n")
	sb.WriteString(TrimToTokens(pageMarkdown, extractPageTokenBudget))
	if len(hints) > 0 {
		sb.WriteString("\n\nKnown attributes:\n")
		// Sorted so identical input yields an identical prompt.
		for _, k := range slices.Sorted(maps.Keys(hints)) {
			fmt.Fprintf(&sb, "- %s: %s\n", k, hints[k])
		}
	}

	start := time.Now()
	res, err := p.Generate(ctx, extractSystemPrompt, sb.String(), domain.GenerateOptions{
		JSONSchema: "metadata",
		MaxTokens:  8192,
	})
	observability.LLMRequestsTotal.WithLabelValues(p.Name(), "extract_metadata").Inc()
	observability.LLMRequestDuration.WithLabelValues(p.Name(), "extract_metadata").Observe(time.Since(start).Seconds())
	if err != nil {
		return domain.ProblemMetadata{}, fmt.Errorf("op=%s: %w", op, err)
	}

	var meta domain.ProblemMetadata
	if err := json.Unmarshal([]byte(stripCodeFence(res.Text)), &meta); err != nil {
		return domain.ProblemMetadata{}, fmt.Errorf("op=%s: %w: malformed metadata JSON: %v", op, domain.ErrProvider, err)
	}
	if err := g.validate.Struct(meta); err != nil {
		return domain.ProblemMetadata{}, fmt.Errorf("op=%s: %w: %v", op, domain.ErrProvider, err)
	}
	return meta, nil
}

// stripCodeFence unwraps ```json ... ``` fences models keep emitting despite
// instructions.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
