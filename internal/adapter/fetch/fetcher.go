// Package fetch retrieves problem pages and reduces them to markdown for the
// extraction prompt.
package fetch

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	md "github.com/JohannesKaufmann/html-to-markdown"
	backoff "github.com/cenkalti/backoff/v4"
	"github.com/gabriel-vasile/mimetype"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/net/html"

	"github.com/GwonsooLee/argoitny-sub004/internal/domain"
)

const (
	maxBodyBytes = 10 << 20
	userAgent    = "algoitny-fetcher/1.0"
)

// Client implements domain.Fetcher.
type Client struct {
	http       *http.Client
	maxRetries int
	retryBase  time.Duration
	converter  *md.Converter
}

func NewClient(timeout time.Duration, maxRetries int) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &Client{
		http: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		maxRetries: maxRetries,
		retryBase:  time.Second,
		converter:  md.NewConverter("", true, nil),
	}
}

// Fetch downloads the page, verifies it is HTML, and converts it to markdown.
func (c *Client) Fetch(ctx domain.Context, url string) (domain.FetchedPage, error) {
	op := "fetch.page"
	var body []byte

	call := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("%w: %v", domain.ErrInvalidArgument, err))
		}
		req.Header.Set("User-Agent", userAgent)
		resp, err := c.http.Do(req)
		if err != nil {
			return err
		}
		defer func() { _ = resp.Body.Close() }()
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return fmt.Errorf("fetch status %d", resp.StatusCode)
		}
		if resp.StatusCode != http.StatusOK {
			return backoff.Permanent(fmt.Errorf("%w: fetch status %d", domain.ErrInvalidArgument, resp.StatusCode))
		}
		body, err = io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
		return err
	}

	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = c.retryBase
	expo.MaxElapsedTime = 0
	bo := backoff.WithContext(backoff.WithMaxRetries(expo, uint64(c.maxRetries-1)), ctx)
	if err := backoff.Retry(call, bo); err != nil {
		if errors.Is(err, domain.ErrInvalidArgument) {
			return domain.FetchedPage{}, fmt.Errorf("op=%s: %w", op, err)
		}
		return domain.FetchedPage{}, fmt.Errorf("op=%s: %w: %v", op, domain.ErrTransient, err)
	}

	if mt := mimetype.Detect(body); !mt.Is("text/html") {
		return domain.FetchedPage{}, fmt.Errorf("op=%s: %w: unexpected content type %s", op, domain.ErrInvalidArgument, mt)
	}

	markdown, err := c.converter.ConvertString(string(body))
	if err != nil {
		return domain.FetchedPage{}, fmt.Errorf("op=%s: %w", op, err)
	}
	return domain.FetchedPage{
		URL:      url,
		Title:    pageTitle(body),
		Markdown: markdown,
	}, nil
}

// pageTitle pulls the <title> text, empty when absent or unparseable.
func pageTitle(body []byte) string {
	doc, err := html.Parse(strings.NewReader(string(body)))
	if err != nil {
		return ""
	}
	var title string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if title != "" {
			return
		}
		if n.Type == html.ElementNode && n.Data == "title" && n.FirstChild != nil {
			title = strings.TrimSpace(n.FirstChild.Data)
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return title
}

var _ domain.Fetcher = (*Client)(nil)
