package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/GwonsooLee/argoitny-sub004/internal/domain"
	"github.com/GwonsooLee/argoitny-sub004/internal/observability"
)

// OpenAIConfig carries the provider settings.
type OpenAIConfig struct {
	APIKey          string
	BaseURL         string
	Model           string
	Temperature     float64
	ReasoningEffort string
	Verbosity       string
	Timeout         time.Duration
	BackoffInitial  time.Duration
	BackoffMax      time.Duration
	MaxAttempts     int
}

// OpenAI is an OpenAI-compatible chat-completions provider.
type OpenAI struct {
	cfg  OpenAIConfig
	http *http.Client
}

func NewOpenAI(cfg OpenAIConfig) *OpenAI {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Minute
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.BackoffInitial <= 0 {
		cfg.BackoffInitial = 10 * time.Second
	}
	if cfg.BackoffMax <= 0 {
		cfg.BackoffMax = 2 * time.Minute
	}
	return &OpenAI{cfg: cfg, http: &http.Client{
		Timeout:   cfg.Timeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}}
}

func (o *OpenAI) Name() string { return "openai" }

// isReasoningModel reports whether the model rejects sampling parameters and
// takes reasoning controls instead.
func isReasoningModel(model string) bool {
	return strings.HasPrefix(model, "o1") ||
		strings.HasPrefix(model, "o3") ||
		strings.HasPrefix(model, "gpt-5")
}

func (o *OpenAI) buildBody(system, user string, opts domain.GenerateOptions) map[string]any {
	model := opts.Model
	if model == "" {
		model = o.cfg.Model
	}
	messages := []map[string]string{}
	if system != "" {
		messages = append(messages, map[string]string{"role": "system", "content": system})
	}
	messages = append(messages, map[string]string{"role": "user", "content": user})

	body := map[string]any{
		"model":    model,
		"messages": messages,
	}
	if opts.MaxTokens > 0 {
		body["max_completion_tokens"] = opts.MaxTokens
	}
	if isReasoningModel(model) {
		// These models reject temperature/top_p outright.
		if o.cfg.ReasoningEffort != "" {
			body["reasoning_effort"] = o.cfg.ReasoningEffort
		}
		if o.cfg.Verbosity != "" {
			body["verbosity"] = o.cfg.Verbosity
		}
	} else {
		temp := o.cfg.Temperature
		if opts.Temperature != nil {
			temp = *opts.Temperature
		}
		body["temperature"] = temp
		body["top_p"] = 1.0
	}
	if opts.JSONSchema != "" {
		body["response_format"] = map[string]string{"type": "json_object"}
	}
	return body
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

func (o *OpenAI) Generate(ctx context.Context, system, user string, opts domain.GenerateOptions) (domain.GenerateResult, error) {
	op := "llm.openai"
	b, err := json.Marshal(o.buildBody(system, user, opts))
	if err != nil {
		return domain.GenerateResult{}, fmt.Errorf("op=%s: %w", op, err)
	}

	var out chatResponse
	attempt := 0
	call := func() error {
		attempt++
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.cfg.BaseURL+"/chat/completions", bytes.NewReader(b))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Authorization", "Bearer "+o.cfg.APIKey)
		req.Header.Set("Content-Type", "application/json")

		resp, err := o.http.Do(req)
		if err != nil {
			// Network failure: retryable.
			return err
		}
		defer func() { _ = resp.Body.Close() }()
		raw, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
		if err != nil {
			return err
		}
		switch {
		case resp.StatusCode == http.StatusOK:
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			observability.LoggerFromContext(ctx).Warn("openai call retryable failure",
				slog.Int("status", resp.StatusCode), slog.Int("attempt", attempt))
			return fmt.Errorf("chat status %d", resp.StatusCode)
		default:
			return backoff.Permanent(fmt.Errorf("%w: chat status %d: %s", domain.ErrProvider, resp.StatusCode, snippet(raw)))
		}
		if err := json.Unmarshal(raw, &out); err != nil {
			return backoff.Permanent(fmt.Errorf("%w: decode response: %v", domain.ErrProvider, err))
		}
		if len(out.Choices) == 0 {
			return backoff.Permanent(fmt.Errorf("%w: empty choices", domain.ErrProvider))
		}
		return nil
	}

	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = o.cfg.BackoffInitial
	expo.MaxInterval = o.cfg.BackoffMax
	expo.MaxElapsedTime = 0
	bo := backoff.WithContext(backoff.WithMaxRetries(expo, uint64(o.cfg.MaxAttempts-1)), ctx)
	if err := backoff.Retry(call, bo); err != nil {
		if errors.Is(err, domain.ErrProvider) {
			return domain.GenerateResult{}, fmt.Errorf("op=%s: %w", op, err)
		}
		return domain.GenerateResult{}, fmt.Errorf("op=%s: %w: %v", op, domain.ErrTransient, err)
	}

	choice := out.Choices[0]
	return domain.GenerateResult{
		Text:         choice.Message.Content,
		FinishReason: choice.FinishReason,
		InputTokens:  out.Usage.PromptTokens,
		OutputTokens: out.Usage.CompletionTokens,
	}, nil
}

func snippet(b []byte) string {
	const n = 300
	if len(b) > n {
		return string(b[:n]) + "..."
	}
	return string(b)
}
