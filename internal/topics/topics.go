// Package topics loads and filters candidate article topics from config
// files, topic files, or CLI lists.
package topics

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
)

// Topic is one candidate unit of generation work. Lower Priority means more
// important; selection sorts ascending.
type Topic struct {
	ID                string   `json:"id"`
	Topic             string   `json:"topic"`
	PrimaryKeyword    string   `json:"primaryKeyword"`
	SecondaryKeywords []string `json:"secondaryKeywords,omitempty"`
	Priority          int      `json:"priority"`
	Category          string   `json:"category,omitempty"`
}

// Options narrows a topic list. Priority accepts a single integer ("3"), a
// comma list ("1,3,5"), or an inclusive dash range ("2-4"). Categories match
// case-insensitively as substrings, OR across the list. MaxCount truncates
// after the ascending priority sort; zero means no limit.
type Options struct {
	Priority   string
	Categories []string
	MaxCount   int
}

// Invalid pairs a rejected topic with the reasons it failed validation.
type Invalid struct {
	Topic   Topic
	Reasons []string
}

// Validation partitions a topic list into usable and rejected entries.
type Validation struct {
	Valid   []Topic
	Invalid []Invalid
}

// configDocument mirrors the topic config file: either a highValueTopics
// array or a plain topics array.
type configDocument struct {
	HighValueTopics []Topic `json:"highValueTopics"`
	Topics          []Topic `json:"topics"`
}

// LoadFromConfig reads the topic configuration document at path.
func LoadFromConfig(path string) ([]Topic, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read topic config: %w", err)
	}
	var doc configDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse topic config: %w", err)
	}
	list := doc.HighValueTopics
	if len(list) == 0 {
		list = doc.Topics
	}
	if len(list) == 0 {
		return nil, fmt.Errorf("topic config %s contains no topics", path)
	}
	return backfillIDs(list), nil
}

// LoadFromFile reads a JSON file holding either a bare topic array or the
// same document shape as the config file.
func LoadFromFile(path string) ([]Topic, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read topics file: %w", err)
	}
	var list []Topic
	if err := json.Unmarshal(raw, &list); err == nil && len(list) > 0 {
		return backfillIDs(list), nil
	}
	var doc configDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse topics file: %w", err)
	}
	if len(doc.HighValueTopics) > 0 {
		return backfillIDs(doc.HighValueTopics), nil
	}
	if len(doc.Topics) > 0 {
		return backfillIDs(doc.Topics), nil
	}
	return nil, fmt.Errorf("topics file %s contains no topics", path)
}

// LoadFromCLI turns a comma-separated topic list into Topic values. The topic
// string doubles as the primary keyword; priorities follow list order.
func LoadFromCLI(commaList string) ([]Topic, error) {
	parts := strings.Split(commaList, ",")
	var out []Topic
	for _, part := range parts {
		name := strings.TrimSpace(part)
		if name == "" {
			continue
		}
		out = append(out, Topic{
			Topic:          name,
			PrimaryKeyword: name,
			Priority:       len(out) + 1,
		})
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no topics in CLI list %q", commaList)
	}
	return backfillIDs(out), nil
}

// Filter applies Options and returns the narrowed list sorted ascending by
// priority (stable for ties) before MaxCount truncation.
func Filter(list []Topic, opts Options) ([]Topic, error) {
	keep := append([]Topic(nil), list...)

	if opts.Priority != "" {
		allowed, err := ParsePrioritySpec(opts.Priority)
		if err != nil {
			return nil, err
		}
		filtered := keep[:0]
		for _, t := range keep {
			if allowed[t.Priority] {
				filtered = append(filtered, t)
			}
		}
		keep = filtered
	}

	if len(opts.Categories) > 0 {
		filtered := keep[:0]
		for _, t := range keep {
			if matchesCategory(t.Category, opts.Categories) {
				filtered = append(filtered, t)
			}
		}
		keep = filtered
	}

	sort.SliceStable(keep, func(i, j int) bool {
		return keep[i].Priority < keep[j].Priority
	})

	if opts.MaxCount > 0 && len(keep) > opts.MaxCount {
		keep = keep[:opts.MaxCount]
	}
	return keep, nil
}

// Validate partitions topics by required fields (topic, primaryKeyword,
// positive priority). It never mutates its input.
func Validate(list []Topic) Validation {
	var v Validation
	for _, t := range list {
		var reasons []string
		if strings.TrimSpace(t.Topic) == "" {
			reasons = append(reasons, "missing topic")
		}
		if strings.TrimSpace(t.PrimaryKeyword) == "" {
			reasons = append(reasons, "missing primaryKeyword")
		}
		if t.Priority <= 0 {
			reasons = append(reasons, "priority must be a positive integer")
		}
		if len(reasons) > 0 {
			v.Invalid = append(v.Invalid, Invalid{Topic: t, Reasons: reasons})
			continue
		}
		v.Valid = append(v.Valid, t)
	}
	return v
}

// ParsePrioritySpec resolves "3", "1,3,5", or "2-4" into the set of accepted
// priorities.
func ParsePrioritySpec(spec string) (map[int]bool, error) {
	allowed := make(map[int]bool)
	for _, part := range strings.Split(spec, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if lo, hi, ok := strings.Cut(part, "-"); ok {
			start, err := strconv.Atoi(strings.TrimSpace(lo))
			if err != nil {
				return nil, fmt.Errorf("invalid priority range %q", part)
			}
			end, err := strconv.Atoi(strings.TrimSpace(hi))
			if err != nil {
				return nil, fmt.Errorf("invalid priority range %q", part)
			}
			if end < start {
				return nil, fmt.Errorf("priority range %q is reversed", part)
			}
			for p := start; p <= end; p++ {
				allowed[p] = true
			}
			continue
		}
		p, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("invalid priority %q", part)
		}
		allowed[p] = true
	}
	if len(allowed) == 0 {
		return nil, fmt.Errorf("empty priority spec %q", spec)
	}
	return allowed, nil
}

func matchesCategory(category string, accepted []string) bool {
	c := strings.ToLower(category)
	for _, a := range accepted {
		a = strings.ToLower(strings.TrimSpace(a))
		if a != "" && strings.Contains(c, a) {
			return true
		}
	}
	return false
}

// backfillIDs assigns deterministic ids from source order where absent.
func backfillIDs(list []Topic) []Topic {
	out := append([]Topic(nil), list...)
	for i := range out {
		if strings.TrimSpace(out[i].ID) == "" {
			out[i].ID = fmt.Sprintf("topic-%d", i+1)
		}
	}
	return out
}
