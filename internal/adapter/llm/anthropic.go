package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/GwonsooLee/argoitny-sub004/internal/domain"
)

// AnthropicConfig carries the provider settings.
type AnthropicConfig struct {
	APIKey      string
	Model       string
	Temperature float64
	Timeout     time.Duration
	MaxAttempts int
}

// Anthropic is the Messages-API provider.
type Anthropic struct {
	cfg    AnthropicConfig
	client anthropic.Client
}

func NewAnthropic(cfg AnthropicConfig) *Anthropic {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Minute
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	client := anthropic.NewClient(
		option.WithAPIKey(cfg.APIKey),
		option.WithRequestTimeout(cfg.Timeout),
		option.WithMaxRetries(cfg.MaxAttempts-1),
	)
	return &Anthropic{cfg: cfg, client: client}
}

func (a *Anthropic) Name() string { return "anthropic" }

func (a *Anthropic) Generate(ctx context.Context, system, user string, opts domain.GenerateOptions) (domain.GenerateResult, error) {
	op := "llm.anthropic"
	model := opts.Model
	if model == "" {
		model = a.cfg.Model
	}
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 8192
	}
	temp := a.cfg.Temperature
	if opts.Temperature != nil {
		temp = *opts.Temperature
	}
	if opts.JSONSchema != "" && system != "" {
		system += "\nRespond with a single JSON object and nothing else."
	}

	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(model),
		MaxTokens:   int64(maxTokens),
		Temperature: anthropic.Float(temp),
		TopP:        anthropic.Float(1.0),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(user)),
		},
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	msg, err := a.client.Messages.New(ctx, params)
	if err != nil {
		return domain.GenerateResult{}, classifyAnthropicErr(op, err)
	}

	var sb strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	return domain.GenerateResult{
		Text:         sb.String(),
		FinishReason: string(msg.StopReason),
		InputTokens:  int(msg.Usage.InputTokens),
		OutputTokens: int(msg.Usage.OutputTokens),
	}, nil
}

// classifyAnthropicErr maps SDK errors onto the taxonomy: rate limits and
// client-side rejections are provider errors, everything else transient.
func classifyAnthropicErr(op string, err error) error {
	var apierr *anthropic.Error
	if errors.As(err, &apierr) {
		if apierr.StatusCode == http.StatusTooManyRequests ||
			(apierr.StatusCode >= 400 && apierr.StatusCode < 500) {
			return fmt.Errorf("op=%s: %w: status %d", op, domain.ErrProvider, apierr.StatusCode)
		}
	}
	return fmt.Errorf("op=%s: %w: %v", op, domain.ErrTransient, err)
}
