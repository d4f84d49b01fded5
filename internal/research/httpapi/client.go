// Package httpapi adapts the research interfaces onto plain JSON-over-HTTP
// services. Only the transport lives here; the services' behavior is somebody
// else's problem.
package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/draftpress/articlegen/internal/research"
)

// Config captures the shared client parameters.
type Config struct {
	APIKey  string
	Timeout time.Duration
}

func newHTTPClient(cfg Config) *http.Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &http.Client{Timeout: timeout}
}

func getJSON(ctx context.Context, client *http.Client, apiKey, rawURL string, dest any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("call %s: %w", rawURL, err)
	}
	defer resp.Body.Close() //nolint:errcheck
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("call %s: unexpected status %d", rawURL, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return fmt.Errorf("decode %s response: %w", rawURL, err)
	}
	return nil
}

func postJSON(ctx context.Context, client *http.Client, apiKey, rawURL string, payload, dest any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, strings.NewReader(string(body)))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("call %s: %w", rawURL, err)
	}
	defer resp.Body.Close() //nolint:errcheck
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("call %s: status %d: %s", rawURL, resp.StatusCode, raw)
	}
	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return fmt.Errorf("decode %s response: %w", rawURL, err)
	}
	return nil
}

// Ranker implements research.Ranker against a search-ranking endpoint.
type Ranker struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewRanker creates a Ranker for the given base URL.
func NewRanker(baseURL string, cfg Config) *Ranker {
	return &Ranker{baseURL: baseURL, apiKey: cfg.APIKey, client: newHTTPClient(cfg)}
}

// TopResults implements research.Ranker.
func (r *Ranker) TopResults(ctx context.Context, keyword string) ([]research.SERPResult, error) {
	endpoint := fmt.Sprintf("%s?q=%s", r.baseURL, url.QueryEscape(keyword))
	var out struct {
		Results []research.SERPResult `json:"results"`
	}
	if err := getJSON(ctx, r.client, r.apiKey, endpoint, &out); err != nil {
		return nil, err
	}
	return out.Results, nil
}

// InsightSource implements research.InsightSource against a discussion
// search endpoint.
type InsightSource struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewInsightSource creates an InsightSource for the given base URL.
func NewInsightSource(baseURL string, cfg Config) *InsightSource {
	return &InsightSource{baseURL: baseURL, apiKey: cfg.APIKey, client: newHTTPClient(cfg)}
}

// Discussions implements research.InsightSource.
func (s *InsightSource) Discussions(ctx context.Context, topic string) ([]research.Insight, error) {
	endpoint := fmt.Sprintf("%s?topic=%s", s.baseURL, url.QueryEscape(topic))
	var out struct {
		Insights []research.Insight `json:"insights"`
	}
	if err := getJSON(ctx, s.client, s.apiKey, endpoint, &out); err != nil {
		return nil, err
	}
	return out.Insights, nil
}

// Completer implements research.Completer against a hosted completion
// endpoint.
type Completer struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewCompleter creates a Completer for the given base URL.
func NewCompleter(baseURL string, cfg Config) *Completer {
	return &Completer{baseURL: baseURL, apiKey: cfg.APIKey, client: newHTTPClient(cfg)}
}

// Complete implements research.Completer.
func (c *Completer) Complete(ctx context.Context, prompt string) (string, error) {
	var out struct {
		Text string `json:"text"`
	}
	payload := map[string]string{"prompt": prompt}
	if err := postJSON(ctx, c.client, c.apiKey, c.baseURL, payload, &out); err != nil {
		return "", err
	}
	return out.Text, nil
}
