// Package runner is the HTTP client for the sandboxed code-execution service.
package runner

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/GwonsooLee/argoitny-sub004/internal/domain"
	"github.com/GwonsooLee/argoitny-sub004/internal/observability"
)

// Client implements domain.Runner against the sandbox service.
type Client struct {
	baseURL        string
	http           *http.Client
	defaultTimeout time.Duration
}

func NewClient(baseURL string, defaultTimeout time.Duration) *Client {
	if defaultTimeout <= 0 {
		defaultTimeout = 5 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		// The HTTP deadline covers the sandbox run plus scheduling slack.
		http: &http.Client{
			Timeout:   2 * time.Minute,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		defaultTimeout: defaultTimeout,
	}
}

type runRequest struct {
	Code      string `json:"code"`
	Language  string `json:"language"`
	Stdin     string `json:"stdin"`
	TimeoutMS int64  `json:"timeout_ms"`
	MemoryMB  int    `json:"memory_mb,omitempty"`
}

type runResponse struct {
	Stdout    string `json:"stdout"`
	Stderr    string `json:"stderr"`
	Status    string `json:"status"`
	ElapsedMS int64  `json:"elapsed_ms"`
}

// Run executes code in the sandbox. Sandbox-side failures (timeout, memory,
// runtime, compile) come back inside the result; only transport problems are
// errors.
func (c *Client) Run(ctx domain.Context, spec domain.RunSpec) (domain.RunResult, error) {
	op := "runner.run"
	timeout := spec.Timeout
	if timeout <= 0 {
		timeout = c.defaultTimeout
	}
	body, err := json.Marshal(runRequest{
		Code:      spec.Code,
		Language:  spec.Language,
		Stdin:     spec.Stdin,
		TimeoutMS: timeout.Milliseconds(),
		MemoryMB:  spec.MemoryMB,
	})
	if err != nil {
		return domain.RunResult{}, fmt.Errorf("op=%s: %w", op, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/run", bytes.NewReader(body))
	if err != nil {
		return domain.RunResult{}, fmt.Errorf("op=%s: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return domain.RunResult{}, fmt.Errorf("op=%s: %w: %v", op, domain.ErrTransient, err)
	}
	defer func() { _ = resp.Body.Close() }()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return domain.RunResult{}, fmt.Errorf("op=%s: %w: %v", op, domain.ErrTransient, err)
	}
	if resp.StatusCode != http.StatusOK {
		return domain.RunResult{}, fmt.Errorf("op=%s: %w: runner status %d", op, domain.ErrTransient, resp.StatusCode)
	}

	var out runResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return domain.RunResult{}, fmt.Errorf("op=%s: %w", op, err)
	}
	observability.RunnerInvocationsTotal.WithLabelValues(out.Status).Inc()
	return domain.RunResult{
		Stdout:  out.Stdout,
		Stderr:  out.Stderr,
		Status:  out.Status,
		Elapsed: time.Duration(out.ElapsedMS) * time.Millisecond,
	}, nil
}

var _ domain.Runner = (*Client)(nil)
