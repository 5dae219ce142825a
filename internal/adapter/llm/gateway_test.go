package llm

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GwonsooLee/argoitny-sub004/internal/domain"
)

type fakeProvider struct {
	name   string
	text   string
	err    error
	system string
	user   string
	opts   domain.GenerateOptions
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) Generate(_ context.Context, system, user string, opts domain.GenerateOptions) (domain.GenerateResult, error) {
	f.system, f.user, f.opts = system, user, opts
	if f.err != nil {
		return domain.GenerateResult{}, f.err
	}
	return domain.GenerateResult{Text: f.text, FinishReason: "stop"}, nil
}

func TestGatewayGenerate_SelectsProvider(t *testing.T) {
	t.Parallel()
	def := &fakeProvider{name: "openai", text: "from-default"}
	alt := &fakeProvider{name: "anthropic", text: "from-alt"}
	g := NewGateway("openai", def, alt)

	res, err := g.Generate(context.Background(), "hello", domain.GenerateOptions{})
	require.NoError(t, err)
	assert.Equal(t, "from-default", res.Text)

	res, err = g.Generate(context.Background(), "hello", domain.GenerateOptions{Provider: "anthropic"})
	require.NoError(t, err)
	assert.Equal(t, "from-alt", res.Text)

	_, err = g.Generate(context.Background(), "hello", domain.GenerateOptions{Provider: "nope"})
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestGatewayExtractMetadata_ParsesAndValidates(t *testing.T) {
	t.Parallel()
	p := &fakeProvider{name: "openai", text: "```json\n{\"title\":\"A+B\",\"tags\":[\"math\"],\"constraints\":\"1<=a,b<=9\",\"solution\":\"cHJpbnQ=\",\"language\":\"python\"}\n```"}
	g := NewGateway("openai", p)

	meta, err := g.ExtractMetadata(context.Background(), "# A+B\nadd two numbers", map[string]string{"platform": "baekjoon"})
	require.NoError(t, err)
	assert.Equal(t, "A+B", meta.Title)
	assert.Equal(t, []string{"math"}, meta.Tags)
	assert.NotEmpty(t, p.opts.JSONSchema, "extraction requests structured output")
	assert.Contains(t, p.user, "platform: baekjoon")
}

func TestGatewayExtractMetadata_PromptIsDeterministic(t *testing.T) {
	t.Parallel()
	p := &fakeProvider{name: "openai", text: `{"title":"A+B","tags":["math"],"constraints":"","solution":"cHJpbnQ=","language":"python"}`}
	g := NewGateway("openai", p)
	hints := map[string]string{
		"platform":           "baekjoon",
		"problem_identifier": "1000",
		"url":                "https://example.com/1000",
		"language":           "python",
	}

	_, err := g.ExtractMetadata(context.Background(), "# A+B", hints)
	require.NoError(t, err)
	first := p.user
	for range 5 {
		_, err := g.ExtractMetadata(context.Background(), "# A+B", hints)
		require.NoError(t, err)
		assert.Equal(t, first, p.user, "identical input must yield an identical prompt")
	}
	assert.Less(t, strings.Index(first, "- language:"), strings.Index(first, "- platform:"),
		"hint keys render in sorted order")
	assert.Less(t, strings.Index(first, "- platform:"), strings.Index(first, "- url:"))
}

func TestGatewayExtractMetadata_MalformedIsProviderError(t *testing.T) {
	t.Parallel()
	t.Run("not json", func(t *testing.T) {
		t.Parallel()
		g := NewGateway("openai", &fakeProvider{name: "openai", text: "sorry, I cannot"})
		_, err := g.ExtractMetadata(context.Background(), "page", nil)
		assert.ErrorIs(t, err, domain.ErrProvider)
	})
	t.Run("schema invalid", func(t *testing.T) {
		t.Parallel()
		// Missing required title.
		g := NewGateway("openai", &fakeProvider{name: "openai", text: `{"tags":["x"]}`})
		_, err := g.ExtractMetadata(context.Background(), "page", nil)
		assert.ErrorIs(t, err, domain.ErrProvider)
	})
}

func TestStripCodeFence(t *testing.T) {
	t.Parallel()
	assert.Equal(t, `{"a":1}`, stripCodeFence("```json\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, stripCodeFence("```\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, stripCodeFence(`{"a":1}`))
}

func TestIsReasoningModel(t *testing.T) {
	t.Parallel()
	assert.True(t, isReasoningModel("o1-preview"))
	assert.True(t, isReasoningModel("o3-mini"))
	assert.True(t, isReasoningModel("gpt-5"))
	assert.False(t, isReasoningModel("gpt-4o"))
	assert.False(t, isReasoningModel("claude-sonnet-4-20250514"))
}

func TestOpenAIBuildBody_ReasoningModelsOmitSampling(t *testing.T) {
	t.Parallel()
	o := NewOpenAI(OpenAIConfig{Model: "o3-mini", ReasoningEffort: "high", Verbosity: "low"})
	body := o.buildBody("sys", "user", domain.GenerateOptions{MaxTokens: 100})

	assert.NotContains(t, body, "temperature")
	assert.NotContains(t, body, "top_p")
	assert.Equal(t, "high", body["reasoning_effort"])
	assert.Equal(t, "low", body["verbosity"])
}

func TestOpenAIBuildBody_ChatModelsDeterministic(t *testing.T) {
	t.Parallel()
	o := NewOpenAI(OpenAIConfig{Model: "gpt-4o", Temperature: 0})
	body := o.buildBody("", "user", domain.GenerateOptions{JSONSchema: "metadata"})

	assert.Equal(t, 0.0, body["temperature"])
	assert.Equal(t, 1.0, body["top_p"])
	assert.NotContains(t, body, "reasoning_effort")
	assert.Equal(t, map[string]string{"type": "json_object"}, body["response_format"])
}

func TestTrimToTokens(t *testing.T) {
	t.Parallel()
	text := "one two three four five six seven eight nine ten"
	assert.Equal(t, text, TrimToTokens(text, 1000), "under budget passes through")
	trimmed := TrimToTokens(text, 3)
	assert.Less(t, len(trimmed), len(text))
	assert.Empty(t, TrimToTokens(text, 0))
}
