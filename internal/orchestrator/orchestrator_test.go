package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/draftpress/articlegen/internal/batch"
	"github.com/draftpress/articlegen/internal/batch/file"
	"github.com/draftpress/articlegen/internal/cache"
	"github.com/draftpress/articlegen/internal/progress"
	"github.com/draftpress/articlegen/internal/research"
	"github.com/draftpress/articlegen/internal/research/memory"
	"github.com/draftpress/articlegen/internal/retry"
	"github.com/draftpress/articlegen/internal/scheduler"
	"github.com/draftpress/articlegen/internal/throttle"
	"github.com/draftpress/articlegen/internal/topics"
)

type realClock struct{}

func (realClock) Now() time.Time { return time.Now().UTC() }

type seqIDGen struct {
	mu sync.Mutex
	n  int
}

func (g *seqIDGen) NewID() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return string(rune('a'+g.n-1)) + "0000000000000000", nil
}

// captureEmitter records emitted events synchronously.
type captureEmitter struct {
	mu     sync.Mutex
	events []progress.Event
}

func (e *captureEmitter) Emit(evt progress.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, evt)
}

func (e *captureEmitter) byStage(stage progress.Stage) []progress.Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []progress.Event
	for _, evt := range e.events {
		if evt.Stage == stage {
			out = append(out, evt)
		}
	}
	return out
}

type fixture struct {
	orch      *Orchestrator
	tracker   *batch.Tracker
	cache     *cache.Store
	ranker    *memory.Ranker
	insights  *memory.InsightSource
	completer *memory.Completer
	emitter   *captureEmitter
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	store, err := file.New(file.Config{Dir: t.TempDir()}, nil)
	require.NoError(t, err)
	t.Cleanup(store.Close)

	clock := realClock{}
	tracker := batch.NewTracker(store, clock, &seqIDGen{}, nil)

	cacheStore, err := cache.New(cache.Config{Dir: t.TempDir()}, clock, nil)
	require.NoError(t, err)

	ranker := memory.NewRanker()
	insights := memory.NewInsightSource()
	completer := memory.NewCompleter()
	emitter := &captureEmitter{}

	orch := New(
		scheduler.New(scheduler.Config{Concurrency: 2}),
		throttle.New(throttle.Config{}, nil), // zero rates: unlimited
		cacheStore,
		tracker,
		ranker,
		insights,
		completer,
		retry.New(retry.Config{MaxAttempts: 2, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}),
		emitter,
		clock,
		Config{
			SerpTTL:    time.Hour,
			InsightTTL: time.Hour,
			ArticleTTL: time.Hour,
		},
		nil,
	)
	return &fixture{
		orch:      orch,
		tracker:   tracker,
		cache:     cacheStore,
		ranker:    ranker,
		insights:  insights,
		completer: completer,
		emitter:   emitter,
	}
}

func sampleTopics() []topics.Topic {
	return []topics.Topic{
		{ID: "t1", Topic: "best espresso machines", PrimaryKeyword: "espresso machine", SecondaryKeywords: []string{"budget picks"}, Priority: 1},
		{ID: "t2", Topic: "burr grinder guide", PrimaryKeyword: "burr grinder", Priority: 2},
		{ID: "t3", Topic: "pour over basics", PrimaryKeyword: "pour over", Priority: 3},
	}
}

func TestRun_AllItemsSucceed(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	summary, err := f.orch.Run(ctx, sampleTopics(), "")
	require.NoError(t, err)
	require.Equal(t, 3, summary.Succeeded)
	require.Zero(t, summary.Failed)
	require.Equal(t, batch.Stats{Total: 3, Completed: 3, CompletionPercentage: 100}, summary.Stats)

	// Every article landed in the cache with a result reference.
	for _, id := range []string{"t1", "t2", "t3"} {
		var article research.Article
		require.True(t, f.cache.Get(ctx, "articles", id, &article))
		require.NoError(t, article.Validate())

		rec, err := f.tracker.Stats(ctx, summary.BatchID)
		require.NoError(t, err)
		require.Equal(t, 3, rec.Completed)
	}

	require.Len(t, f.emitter.byStage(progress.StageBatchStart), 1)
	require.Len(t, f.emitter.byStage(progress.StageBatchDone), 1)
	require.Len(t, f.emitter.byStage(progress.StageItemDone), 3)
	require.Empty(t, f.emitter.byStage(progress.StageItemError))
}

func TestRun_OneFailingItemDoesNotStopOthers(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	f.ranker.FailWith("burr grinder", errors.New("serp quota exhausted"))

	summary, err := f.orch.Run(ctx, sampleTopics(), "")
	require.NoError(t, err, "item failures never unwind the run")
	require.Equal(t, 2, summary.Succeeded)
	require.Equal(t, 1, summary.Failed)
	require.Equal(t, batch.Stats{Total: 3, Completed: 2, Failed: 1, CompletionPercentage: 67}, summary.Stats)

	pending, err := f.tracker.PendingArticles(ctx, summary.BatchID)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, "t2", pending[0].ItemID)
	require.Equal(t, batch.StatusFailed, pending[0].Status)
	require.Contains(t, pending[0].Error, "serp quota exhausted")

	itemErrors := f.emitter.byStage(progress.StageItemError)
	require.Len(t, itemErrors, 1)
	require.Equal(t, "t2", itemErrors[0].ItemID)
}

func TestRun_ResumeRetriesOnlyUnfinishedItems(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	// "burr grinder" fails through both retry attempts of the first run, then
	// recovers for the resumed run.
	f.orch.ranker = &keywordFlakyRanker{inner: f.ranker, keyword: "burr grinder", failures: 2}

	first, err := f.orch.Run(ctx, sampleTopics(), "")
	require.NoError(t, err)
	require.Equal(t, 1, first.Failed)

	completerCallsAfterFirst := f.completer.Calls()

	second, err := f.orch.Run(ctx, sampleTopics(), first.BatchID)
	require.NoError(t, err)
	require.Equal(t, first.BatchID, second.BatchID)
	require.Equal(t, 1, second.Succeeded, "only the failed item is rerun")
	require.Zero(t, second.Failed)
	require.Equal(t, 100, second.Stats.CompletionPercentage)

	// Completed items were not regenerated.
	require.Greater(t, f.completer.Calls(), completerCallsAfterFirst)
	require.LessOrEqual(t, f.completer.Calls()-completerCallsAfterFirst, 2)
}

func TestRun_ResumeUnknownBatch(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	_, err := f.orch.Run(context.Background(), nil, "batch-does-not-exist")
	require.ErrorIs(t, err, batch.ErrNotFound)
}

func TestRun_NoTopics(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	_, err := f.orch.Run(context.Background(), nil, "")
	require.Error(t, err)
}

func TestRun_SecondRunHitsResearchCache(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	list := sampleTopics()[:1]
	_, err := f.orch.Run(ctx, list, "")
	require.NoError(t, err)
	require.Equal(t, 1, f.ranker.Calls())
	require.Equal(t, 1, f.insights.Calls())

	_, err = f.orch.Run(ctx, list, "")
	require.NoError(t, err)
	require.Equal(t, 1, f.ranker.Calls(), "serp lookup answered from cache")
	require.Equal(t, 1, f.insights.Calls(), "insight lookup answered from cache")

	hits := 0
	for _, evt := range f.emitter.byStage(progress.StageCallDone) {
		if evt.CacheHit {
			hits++
		}
	}
	require.Equal(t, 2, hits)
}

func TestRun_TransientResearchErrorIsRetried(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	flaky := &flakyRanker{inner: f.ranker, failures: 1}
	f.orch.ranker = flaky

	summary, err := f.orch.Run(ctx, sampleTopics()[:1], "")
	require.NoError(t, err)
	require.Equal(t, 1, summary.Succeeded)
	require.Equal(t, 2, flaky.calls)
}

type flakyRanker struct {
	mu       sync.Mutex
	inner    research.Ranker
	failures int
	calls    int
}

func (r *flakyRanker) TopResults(ctx context.Context, keyword string) ([]research.SERPResult, error) {
	r.mu.Lock()
	r.calls++
	fail := r.calls <= r.failures
	r.mu.Unlock()
	if fail {
		return nil, errors.New("transient upstream error")
	}
	return r.inner.TopResults(ctx, keyword)
}

// keywordFlakyRanker fails the first N lookups of one keyword and delegates
// everything else.
type keywordFlakyRanker struct {
	mu       sync.Mutex
	inner    research.Ranker
	keyword  string
	failures int
	seen     int
}

func (r *keywordFlakyRanker) TopResults(ctx context.Context, keyword string) ([]research.SERPResult, error) {
	if keyword == r.keyword {
		r.mu.Lock()
		r.seen++
		fail := r.seen <= r.failures
		r.mu.Unlock()
		if fail {
			return nil, errors.New("temporarily down")
		}
	}
	return r.inner.TopResults(ctx, keyword)
}

func TestBuildSections_Outline(t *testing.T) {
	t.Parallel()

	topic := topics.Topic{
		ID:                "t1",
		Topic:             "best espresso machines",
		PrimaryKeyword:    "espresso machine",
		SecondaryKeywords: []string{"budget picks", "cleaning tips"},
	}
	serp := []research.SERPResult{{Rank: 1, Title: "Top 10 espresso machines"}}
	insights := []research.Insight{{Title: "What do you all think of entry-level machines?"}}

	sections := buildSections(topic, serp, insights)
	require.Len(t, sections, 4) // intro + 2 keywords + takeaways
	require.Equal(t, "introduction", sections[0].name)
	require.Contains(t, sections[0].prompt, "Top 10 espresso machines")
	require.Equal(t, "Budget Picks", sections[1].heading)
	require.Contains(t, sections[1].prompt, "entry-level machines")
	require.Equal(t, "Key Takeaways", sections[3].heading)
	require.Equal(t, research.BlockList, sections[3].kind)
}

func TestSectionToBlocks_List(t *testing.T) {
	t.Parallel()

	s := section{name: "key takeaways", heading: "Key Takeaways", kind: research.BlockList}
	blocks := s.toBlocks("- first point\n- second point\n\n- third point")
	require.Len(t, blocks, 2)
	require.Equal(t, research.BlockHeading, blocks[0].Kind)
	require.Equal(t, research.BlockList, blocks[1].Kind)
	require.Equal(t, []string{"first point", "second point", "third point"}, blocks[1].Items)
}

func TestSectionToBlocks_Paragraph(t *testing.T) {
	t.Parallel()

	s := section{name: "introduction", kind: research.BlockParagraph}
	blocks := s.toBlocks("some intro text")
	require.Len(t, blocks, 1)
	require.Equal(t, research.BlockParagraph, blocks[0].Kind)
	require.Equal(t, "some intro text", blocks[0].Text)
}
