// Package research defines the external collaborator boundary of the
// generation pipeline: search-ranking lookups, community-insight lookups, and
// LLM completion. The services themselves are out of scope; the pipeline only
// ever talks to these interfaces.
package research

import (
	"context"
	"errors"
	"fmt"
)

// Service names used for throttling and metrics.
const (
	ServiceSERP   = "serp"
	ServiceReddit = "reddit"
	ServiceGemini = "gemini"
)

// SERPResult is one search-ranking entry for a keyword.
type SERPResult struct {
	Rank    int    `json:"rank"`
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet,omitempty"`
}

// Insight is one community discussion relevant to a topic.
type Insight struct {
	Source  string `json:"source"`
	Title   string `json:"title"`
	URL     string `json:"url"`
	Upvotes int    `json:"upvotes"`
	Summary string `json:"summary,omitempty"`
}

// Ranker looks up search rankings for a keyword.
type Ranker interface {
	TopResults(ctx context.Context, keyword string) ([]SERPResult, error)
}

// InsightSource looks up community discussions for a topic.
type InsightSource interface {
	Discussions(ctx context.Context, topic string) ([]Insight, error)
}

// Completer produces text from a prompt via a hosted LLM.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// BlockKind discriminates the closed set of content block variants.
type BlockKind string

// Supported content block kinds.
const (
	BlockHeading   BlockKind = "heading"
	BlockParagraph BlockKind = "paragraph"
	BlockList      BlockKind = "list"
)

// ContentBlock is one tagged element of a generated article. Which fields are
// meaningful depends on Kind: Level+Text for headings, Text for paragraphs,
// Items for lists.
type ContentBlock struct {
	Kind  BlockKind `json:"kind"`
	Text  string    `json:"text,omitempty"`
	Level int       `json:"level,omitempty"`
	Items []string  `json:"items,omitempty"`
}

// Validate checks the block at the boundary so malformed payloads never flow
// downstream untyped.
func (b ContentBlock) Validate() error {
	switch b.Kind {
	case BlockHeading:
		if b.Text == "" {
			return errors.New("heading requires text")
		}
		if b.Level < 1 || b.Level > 6 {
			return fmt.Errorf("heading level %d out of range", b.Level)
		}
	case BlockParagraph:
		if b.Text == "" {
			return errors.New("paragraph requires text")
		}
	case BlockList:
		if len(b.Items) == 0 {
			return errors.New("list requires items")
		}
	default:
		return fmt.Errorf("unknown block kind %q", b.Kind)
	}
	return nil
}

// Article is the assembled output for one topic.
type Article struct {
	TopicID string         `json:"topicId"`
	Title   string         `json:"title"`
	Blocks  []ContentBlock `json:"blocks"`
}

// Validate checks every block of the article.
func (a Article) Validate() error {
	if a.Title == "" {
		return errors.New("article requires a title")
	}
	for i, b := range a.Blocks {
		if err := b.Validate(); err != nil {
			return fmt.Errorf("block %d: %w", i, err)
		}
	}
	return nil
}
