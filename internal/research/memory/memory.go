// Package memory provides deterministic in-memory research collaborators for
// tests and dry runs.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/draftpress/articlegen/internal/research"
)

// Ranker is an in-memory research.Ranker with per-keyword canned results and
// optional injected failures.
type Ranker struct {
	mu      sync.Mutex
	results map[string][]research.SERPResult
	fail    map[string]error
	calls   int
}

// NewRanker creates an empty Ranker.
func NewRanker() *Ranker {
	return &Ranker{
		results: make(map[string][]research.SERPResult),
		fail:    make(map[string]error),
	}
}

// SetResults registers canned results for a keyword.
func (r *Ranker) SetResults(keyword string, results []research.SERPResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results[keyword] = results
}

// FailWith makes lookups for keyword return err.
func (r *Ranker) FailWith(keyword string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fail[keyword] = err
}

// Calls reports how many lookups were made.
func (r *Ranker) Calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

// TopResults implements research.Ranker.
func (r *Ranker) TopResults(_ context.Context, keyword string) ([]research.SERPResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if err, ok := r.fail[keyword]; ok {
		return nil, err
	}
	if results, ok := r.results[keyword]; ok {
		return results, nil
	}
	return []research.SERPResult{
		{Rank: 1, Title: "Top result for " + keyword, URL: "https://example.com/" + keyword},
	}, nil
}

// InsightSource is an in-memory research.InsightSource.
type InsightSource struct {
	mu       sync.Mutex
	insights map[string][]research.Insight
	fail     map[string]error
	calls    int
}

// NewInsightSource creates an empty InsightSource.
func NewInsightSource() *InsightSource {
	return &InsightSource{
		insights: make(map[string][]research.Insight),
		fail:     make(map[string]error),
	}
}

// SetInsights registers canned discussions for a topic.
func (s *InsightSource) SetInsights(topic string, insights []research.Insight) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.insights[topic] = insights
}

// FailWith makes lookups for topic return err.
func (s *InsightSource) FailWith(topic string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail[topic] = err
}

// Calls reports how many lookups were made.
func (s *InsightSource) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// Discussions implements research.InsightSource.
func (s *InsightSource) Discussions(_ context.Context, topic string) ([]research.Insight, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if err, ok := s.fail[topic]; ok {
		return nil, err
	}
	if insights, ok := s.insights[topic]; ok {
		return insights, nil
	}
	return []research.Insight{
		{Source: "reddit", Title: "Discussion about " + topic, URL: "https://reddit.example/" + topic, Upvotes: 42},
	}, nil
}

// Completer is an in-memory research.Completer echoing prompts.
type Completer struct {
	mu    sync.Mutex
	fail  error
	calls int
}

// NewCompleter creates a Completer.
func NewCompleter() *Completer {
	return &Completer{}
}

// FailWith makes every completion return err.
func (c *Completer) FailWith(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fail = err
}

// Calls reports how many completions were requested.
func (c *Completer) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

// Complete implements research.Completer.
func (c *Completer) Complete(_ context.Context, prompt string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.fail != nil {
		return "", c.fail
	}
	return fmt.Sprintf("generated text for: %.60s", prompt), nil
}
