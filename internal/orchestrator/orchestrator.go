// Package orchestrator composes the topic selector, batch tracker, scheduler,
// throttle, and cache into the article generation loop.
package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/draftpress/articlegen/internal/batch"
	"github.com/draftpress/articlegen/internal/cache"
	"github.com/draftpress/articlegen/internal/progress"
	"github.com/draftpress/articlegen/internal/research"
	"github.com/draftpress/articlegen/internal/retry"
	"github.com/draftpress/articlegen/internal/scheduler"
	"github.com/draftpress/articlegen/internal/throttle"
	"github.com/draftpress/articlegen/internal/topics"
)

// Cache namespaces used by the pipeline.
const (
	nsSERP     = "serp"
	nsReddit   = "reddit"
	nsArticles = "articles"
)

// Clock supplies timestamps for progress events.
type Clock interface {
	Now() time.Time
}

// Config tunes one pipeline run.
type Config struct {
	// SectionDelay is the pause between successive section completions, to be
	// considerate of the completion API.
	SectionDelay time.Duration
	SerpTTL      time.Duration
	InsightTTL   time.Duration
	ArticleTTL   time.Duration
}

// Summary is the final outcome of a batch run, always produced even when
// items failed.
type Summary struct {
	BatchID   string
	Succeeded int
	Failed    int
	Stats     batch.Stats
}

// Orchestrator drives article generation batches. All collaborators are
// injected; the orchestrator owns none of them.
type Orchestrator struct {
	exec      *scheduler.Executor
	throttle  *throttle.Throttle
	cache     *cache.Store
	tracker   *batch.Tracker
	ranker    research.Ranker
	insights  research.InsightSource
	completer research.Completer
	retry     *retry.Policy
	emitter   progress.Emitter
	clock     Clock
	logger    *zap.Logger
	cfg       Config
}

// New constructs an Orchestrator.
func New(
	exec *scheduler.Executor,
	throt *throttle.Throttle,
	cacheStore *cache.Store,
	tracker *batch.Tracker,
	ranker research.Ranker,
	insights research.InsightSource,
	completer research.Completer,
	retryPolicy *retry.Policy,
	emitter progress.Emitter,
	clock Clock,
	cfg Config,
	logger *zap.Logger,
) *Orchestrator {
	if emitter == nil {
		emitter = progress.Nop{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		exec:      exec,
		throttle:  throt,
		cache:     cacheStore,
		tracker:   tracker,
		ranker:    ranker,
		insights:  insights,
		completer: completer,
		retry:     retryPolicy,
		emitter:   emitter,
		clock:     clock,
		logger:    logger,
		cfg:       cfg,
	}
}

// Run processes the given topics as one batch, or resumes the batch named by
// resumeID, re-admitting its pending and failed items. Item failures never
// unwind the loop; only setup failures return an error.
func (o *Orchestrator) Run(ctx context.Context, topicList []topics.Topic, resumeID string) (Summary, error) {
	start := o.clock.Now()

	batchID, work, err := o.prepare(ctx, topicList, resumeID)
	if err != nil {
		return Summary{}, err
	}

	o.emitter.Emit(progress.Event{BatchID: batchID, TS: start, Stage: progress.StageBatchStart})

	tasks := make([]scheduler.Task, 0, len(work))
	for _, t := range work {
		topic := t
		tasks = append(tasks, scheduler.Task{
			ID: topic.ID,
			// Topic priority 1 is most important; the scheduler dispatches
			// higher values first.
			Priority: -topic.Priority,
			Run: func(ctx context.Context) (any, error) {
				return nil, o.processItem(ctx, batchID, topic)
			},
		})
	}

	results := o.exec.ExecuteAllSettled(ctx, tasks)

	var summary Summary
	summary.BatchID = batchID
	for _, res := range results {
		if res.Err != nil {
			summary.Failed++
			continue
		}
		summary.Succeeded++
	}

	stats, err := o.tracker.Stats(ctx, batchID)
	if err != nil {
		o.logger.Warn("batch stats unavailable", zap.String("batch_id", batchID), zap.Error(err))
	} else {
		summary.Stats = stats
	}

	o.emitter.Emit(progress.Event{
		BatchID: batchID,
		TS:      o.clock.Now(),
		Stage:   progress.StageBatchDone,
		Dur:     o.clock.Now().Sub(start),
		Note:    fmt.Sprintf("succeeded=%d failed=%d", summary.Succeeded, summary.Failed),
	})
	return summary, nil
}

// prepare creates a fresh batch or resolves the remaining work of a resumed
// one. No partial batch is left behind on setup failure.
func (o *Orchestrator) prepare(ctx context.Context, topicList []topics.Topic, resumeID string) (string, []topics.Topic, error) {
	if resumeID != "" {
		pending, err := o.tracker.ResumeBatch(ctx, resumeID)
		if err != nil {
			return "", nil, err
		}
		byID := make(map[string]topics.Topic, len(topicList))
		for _, t := range topicList {
			byID[t.ID] = t
		}
		work := make([]topics.Topic, 0, len(pending))
		for _, rec := range pending {
			if t, ok := byID[rec.ItemID]; ok {
				work = append(work, t)
				continue
			}
			// The caller did not reload the original topic source; fall back
			// to the frozen manifest name.
			manifest, err := o.tracker.Manifest(ctx, resumeID)
			if err != nil {
				return "", nil, err
			}
			work = append(work, topicFromManifest(manifest, rec.ItemID))
		}
		return resumeID, work, nil
	}

	if len(topicList) == 0 {
		return "", nil, fmt.Errorf("no topics to process")
	}
	items := make([]batch.Item, 0, len(topicList))
	for _, t := range topicList {
		items = append(items, batch.Item{ID: t.ID, Topic: t.Topic})
	}
	batchID, err := o.tracker.CreateBatch(ctx, items, map[string]string{
		"source": "articlegen",
	})
	if err != nil {
		return "", nil, fmt.Errorf("create batch: %w", err)
	}
	return batchID, topicList, nil
}

// processItem runs the full research-and-generate pipeline for one topic.
func (o *Orchestrator) processItem(ctx context.Context, batchID string, topic topics.Topic) error {
	itemStart := o.clock.Now()
	o.emitter.Emit(progress.Event{BatchID: batchID, ItemID: topic.ID, TS: itemStart, Stage: progress.StageItemStart})

	fail := func(err error) error {
		o.emitter.Emit(progress.Event{
			BatchID: batchID,
			ItemID:  topic.ID,
			TS:      o.clock.Now(),
			Stage:   progress.StageItemError,
			Dur:     o.clock.Now().Sub(itemStart),
			Note:    err.Error(),
		})
		if updErr := o.tracker.UpdateArticle(ctx, batchID, topic.ID, batch.StatusFailed, err.Error(), ""); updErr != nil {
			o.logger.Error("failed status update lost",
				zap.String("batch_id", batchID),
				zap.String("item_id", topic.ID),
				zap.Error(updErr),
			)
		}
		return err
	}

	// A record whose status cannot be persisted fails the item rather than
	// silently losing its state.
	if err := o.tracker.UpdateArticle(ctx, batchID, topic.ID, batch.StatusProcessing, "", ""); err != nil {
		return fail(fmt.Errorf("mark processing: %w", err))
	}

	serp, insights, err := o.runResearch(ctx, batchID, topic)
	if err != nil {
		return fail(err)
	}

	article, err := o.generateArticle(ctx, batchID, topic, serp, insights)
	if err != nil {
		return fail(err)
	}

	o.cache.Set(ctx, nsArticles, topic.ID, article, o.cfg.ArticleTTL)
	resultRef := fmt.Sprintf("cache:%s/%s", nsArticles, topic.ID)

	if err := o.tracker.UpdateArticle(ctx, batchID, topic.ID, batch.StatusCompleted, "", resultRef); err != nil {
		return fail(fmt.Errorf("mark completed: %w", err))
	}
	o.emitter.Emit(progress.Event{
		BatchID: batchID,
		ItemID:  topic.ID,
		TS:      o.clock.Now(),
		Stage:   progress.StageItemDone,
		Dur:     o.clock.Now().Sub(itemStart),
	})
	return nil
}

// runResearch fans the item's research sub-calls out through the scheduler in
// continue mode and fails the item if any sub-call failed.
func (o *Orchestrator) runResearch(ctx context.Context, batchID string, topic topics.Topic) ([]research.SERPResult, []research.Insight, error) {
	var (
		serp     []research.SERPResult
		insights []research.Insight
	)
	tasks := []scheduler.Task{
		{
			ID:       topic.ID + "/serp",
			Priority: 1,
			Run: func(ctx context.Context) (any, error) {
				results, err := o.lookupSERP(ctx, batchID, topic.PrimaryKeyword)
				if err != nil {
					return nil, err
				}
				serp = results
				return nil, nil
			},
		},
		{
			ID: topic.ID + "/insights",
			Run: func(ctx context.Context) (any, error) {
				found, err := o.lookupInsights(ctx, batchID, topic.Topic)
				if err != nil {
					return nil, err
				}
				insights = found
				return nil, nil
			},
		},
	}
	for _, res := range o.exec.ExecuteAllSettled(ctx, tasks) {
		if res.Err != nil {
			return nil, nil, fmt.Errorf("research %s: %w", res.TaskID, res.Err)
		}
	}
	return serp, insights, nil
}

// lookupSERP consults the cache, then falls through to a throttled,
// retry-wrapped ranking call and populates the cache on success.
func (o *Orchestrator) lookupSERP(ctx context.Context, batchID, keyword string) ([]research.SERPResult, error) {
	callStart := o.clock.Now()
	var results []research.SERPResult
	if o.cache.Get(ctx, nsSERP, keyword, &results) {
		o.emitCallDone(batchID, research.ServiceSERP, true, o.clock.Now().Sub(callStart))
		return results, nil
	}
	err := o.retry.Do(ctx, func(ctx context.Context) error {
		return o.throttle.Execute(ctx, research.ServiceSERP, func(ctx context.Context) error {
			found, err := o.ranker.TopResults(ctx, keyword)
			if err != nil {
				return err
			}
			results = found
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("serp lookup %q: %w", keyword, err)
	}
	o.cache.Set(ctx, nsSERP, keyword, results, o.cfg.SerpTTL)
	o.emitCallDone(batchID, research.ServiceSERP, false, o.clock.Now().Sub(callStart))
	return results, nil
}

func (o *Orchestrator) lookupInsights(ctx context.Context, batchID, topic string) ([]research.Insight, error) {
	callStart := o.clock.Now()
	var insights []research.Insight
	if o.cache.Get(ctx, nsReddit, topic, &insights) {
		o.emitCallDone(batchID, research.ServiceReddit, true, o.clock.Now().Sub(callStart))
		return insights, nil
	}
	err := o.retry.Do(ctx, func(ctx context.Context) error {
		return o.throttle.Execute(ctx, research.ServiceReddit, func(ctx context.Context) error {
			found, err := o.insights.Discussions(ctx, topic)
			if err != nil {
				return err
			}
			insights = found
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("insight lookup %q: %w", topic, err)
	}
	o.cache.Set(ctx, nsReddit, topic, insights, o.cfg.InsightTTL)
	o.emitCallDone(batchID, research.ServiceReddit, false, o.clock.Now().Sub(callStart))
	return insights, nil
}

// generateArticle produces the article sections strictly sequentially to
// preserve document order, pausing between completions.
func (o *Orchestrator) generateArticle(
	ctx context.Context,
	batchID string,
	topic topics.Topic,
	serp []research.SERPResult,
	insights []research.Insight,
) (research.Article, error) {
	article := research.Article{
		TopicID: topic.ID,
		Title:   topic.Topic,
	}

	sections := buildSections(topic, serp, insights)
	for i, section := range sections {
		if i > 0 && o.cfg.SectionDelay > 0 {
			select {
			case <-time.After(o.cfg.SectionDelay):
			case <-ctx.Done():
				return research.Article{}, fmt.Errorf("section pause: %w", ctx.Err())
			}
		}
		callStart := o.clock.Now()
		var text string
		err := o.retry.Do(ctx, func(ctx context.Context) error {
			return o.throttle.Execute(ctx, research.ServiceGemini, func(ctx context.Context) error {
				out, err := o.completer.Complete(ctx, section.prompt)
				if err != nil {
					return err
				}
				text = out
				return nil
			})
		})
		if err != nil {
			return research.Article{}, fmt.Errorf("generate section %q: %w", section.name, err)
		}
		o.emitCallDone(batchID, research.ServiceGemini, false, o.clock.Now().Sub(callStart))

		article.Blocks = append(article.Blocks, section.toBlocks(text)...)
	}

	if err := article.Validate(); err != nil {
		return research.Article{}, fmt.Errorf("validate article: %w", err)
	}
	return article, nil
}

func (o *Orchestrator) emitCallDone(batchID, service string, cacheHit bool, dur time.Duration) {
	o.emitter.Emit(progress.Event{
		BatchID:  batchID,
		TS:       o.clock.Now(),
		Stage:    progress.StageCallDone,
		Service:  service,
		CacheHit: cacheHit,
		Dur:      dur,
	})
}

// section is one planned step of the sequential generation pass.
type section struct {
	name    string
	heading string
	kind    research.BlockKind
	prompt  string
}

func (s section) toBlocks(text string) []research.ContentBlock {
	blocks := []research.ContentBlock{}
	if s.heading != "" {
		blocks = append(blocks, research.ContentBlock{Kind: research.BlockHeading, Text: s.heading, Level: 2})
	}
	if s.kind == research.BlockList {
		var items []string
		for _, line := range strings.Split(text, "\n") {
			line = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), "-"))
			if line != "" {
				items = append(items, line)
			}
		}
		if len(items) == 0 {
			items = []string{text}
		}
		return append(blocks, research.ContentBlock{Kind: research.BlockList, Items: items})
	}
	return append(blocks, research.ContentBlock{Kind: research.BlockParagraph, Text: text})
}

// buildSections plans the article outline from the research material.
func buildSections(topic topics.Topic, serp []research.SERPResult, insights []research.Insight) []section {
	var competitors []string
	for _, r := range serp {
		competitors = append(competitors, r.Title)
	}
	var discussions []string
	for _, ins := range insights {
		discussions = append(discussions, ins.Title)
	}

	sections := []section{
		{
			name: "introduction",
			kind: research.BlockParagraph,
			prompt: fmt.Sprintf(
				"Write an introduction for an article titled %q targeting the keyword %q. Competing titles: %s.",
				topic.Topic, topic.PrimaryKeyword, strings.Join(competitors, "; "),
			),
		},
	}
	for _, kw := range topic.SecondaryKeywords {
		sections = append(sections, section{
			name:    kw,
			heading: titleCase(kw),
			kind:    research.BlockParagraph,
			prompt: fmt.Sprintf(
				"Write a section about %q for an article on %q. Community discussions worth addressing: %s.",
				kw, topic.Topic, strings.Join(discussions, "; "),
			),
		})
	}
	sections = append(sections, section{
		name:    "key takeaways",
		heading: "Key Takeaways",
		kind:    research.BlockList,
		prompt:  fmt.Sprintf("List the key takeaways of an article on %q, one per line.", topic.Topic),
	})
	return sections
}

func titleCase(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

func topicFromManifest(m batch.Manifest, itemID string) topics.Topic {
	for _, item := range m.Items {
		if item.ID == itemID {
			return topics.Topic{
				ID:             item.ID,
				Topic:          item.Topic,
				PrimaryKeyword: item.Topic,
				Priority:       1,
			}
		}
	}
	return topics.Topic{ID: itemID, Topic: itemID, PrimaryKeyword: itemID, Priority: 1}
}
