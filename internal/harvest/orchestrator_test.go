package harvest

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/forum-qa-harvester/internal/dedup"
	"github.com/JakeFAU/forum-qa-harvester/internal/forum"
	"github.com/JakeFAU/forum-qa-harvester/internal/sink"
	"github.com/JakeFAU/forum-qa-harvester/internal/transport"
)

var testSite = forum.Site{
	BaseURL:   "https://forum.test/f/processors",
	PageParam: "page",
}

// fakeFetcher serves canned bodies and errors keyed by URL and records every
// requested URL.
type fakeFetcher struct {
	mu     sync.Mutex
	bodies map[string][]byte
	errs   map[string]error
	delays map[string]time.Duration
	calls  []string
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		bodies: make(map[string][]byte),
		errs:   make(map[string]error),
		delays: make(map[string]time.Duration),
	}
}

func (f *fakeFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	f.mu.Lock()
	f.calls = append(f.calls, url)
	delay := f.delays[url]
	body, err := f.bodies[url], f.errs[url]
	f.mu.Unlock()

	if delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
	if err != nil {
		return nil, err
	}
	return body, nil
}

func (f *fakeFetcher) called(url string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.calls {
		if c == url {
			return true
		}
	}
	return false
}

type renderFunc func(ctx context.Context, url string) ([]byte, error)

func (fn renderFunc) Render(ctx context.Context, url string) ([]byte, error) {
	return fn(ctx, url)
}

// memSink captures every artifact write in memory.
type memSink struct {
	mu     sync.Mutex
	writes [][]forum.DetailRecord
	err    error
}

func (s *memSink) Write(records []forum.DetailRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.writes = append(s.writes, append([]forum.DetailRecord(nil), records...))
	return nil
}

func (s *memSink) last() []forum.DetailRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.writes) == 0 {
		return nil
	}
	return s.writes[len(s.writes)-1]
}

func listingHTML(items ...forum.ListingItem) []byte {
	html := "<html><body>"
	for _, item := range items {
		marker := ""
		switch item.Status {
		case forum.StatusAnswered:
			marker = `<div class="icon cell answer-status">
				<a class="ui-tip verified replace-with-icon check" title="Question answered"></a></div>`
		case forum.StatusNotAnswered:
			marker = `<div class="icon cell answer-status">
				<span class="attribute-value unanswered ui-tip replace-with-icon help"></span></div>`
		}
		html += fmt.Sprintf(`%s<div class="name cell">
			<a class="internal-link view-post" href="%s">%s</a></div>`,
			marker, item.URL, item.Title)
	}
	return []byte(html + "</body></html>")
}

func detailHTML(question, answer string) []byte {
	return fmt.Appendf(nil, `<html><body>
		<div class="thread-start"><div class="content full"><div class="content">%s</div></div></div>
		<div class="reply verified"><div class="content">%s</div></div>
	</body></html>`, question, answer)
}

func newTestOrchestrator(t *testing.T, cfg Config, fetcher PageFetcher, prober Prober, seen dedup.SeenSet, out ArtifactWriter) *Orchestrator {
	t.Helper()
	if cfg.Site.BaseURL == "" {
		cfg.Site = testSite
	}
	if cfg.ChunkSize == 0 {
		cfg.ChunkSize = 100
	}
	if cfg.ListingConcurrency == 0 {
		cfg.ListingConcurrency = 5
	}
	if cfg.DetailConcurrency == 0 {
		cfg.DetailConcurrency = 10
	}
	orch, err := New(cfg, fetcher, prober, seen, out, zap.NewNop())
	require.NoError(t, err)
	return orch
}

func TestRunHarvestsAnsweredItems(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.bodies[testSite.ListingURL(1)] = listingHTML(
		forum.ListingItem{Title: "boot fails", URL: "https://forum.test/t/1", Status: forum.StatusAnswered},
		forum.ListingItem{Title: "no reply yet", URL: "https://forum.test/t/2", Status: forum.StatusNotAnswered},
		forum.ListingItem{Title: "unmarked", URL: "https://forum.test/t/3", Status: forum.StatusUnknown},
	)
	fetcher.bodies[testSite.ListingURL(2)] = listingHTML(
		forum.ListingItem{Title: "uart noise", URL: "https://forum.test/t/4", Status: forum.StatusAnswered},
	)
	fetcher.bodies["https://forum.test/t/1"] = detailHTML("q1", "a1")
	fetcher.bodies["https://forum.test/t/4"] = detailHTML("q4", "a4")
	// A slow first detail must not reorder the output.
	fetcher.delays["https://forum.test/t/1"] = 30 * time.Millisecond

	out := &memSink{}
	orch := newTestOrchestrator(t, Config{TotalPagesOverride: 2}, fetcher, nil, nil, out)

	summary, err := orch.Run(context.Background())
	require.NoError(t, err)

	require.Equal(t, []forum.DetailRecord{
		{Title: "boot fails", URL: "https://forum.test/t/1", Question: "q1", Answer: "a1"},
		{Title: "uart noise", URL: "https://forum.test/t/4", Question: "q4", Answer: "a4"},
	}, out.last())

	require.Equal(t, 2, summary.TotalPages)
	require.Equal(t, 2, summary.ListingPagesFetched)
	require.Equal(t, 4, summary.ItemsDiscovered)
	require.Equal(t, 2, summary.ItemsSkippedUnanswered)
	require.Equal(t, 2, summary.RecordsHarvested)

	require.False(t, fetcher.called("https://forum.test/t/2"), "unanswered item must not be fetched")
	require.False(t, fetcher.called("https://forum.test/t/3"), "unknown item must not be fetched")
}

func TestSeenItemsNeverReachDetailPhase(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.bodies[testSite.ListingURL(1)] = listingHTML(
		forum.ListingItem{Title: "old", URL: "https://forum.test/t/1", Status: forum.StatusAnswered},
		forum.ListingItem{Title: "new", URL: "https://forum.test/t/2", Status: forum.StatusAnswered},
	)
	fetcher.bodies["https://forum.test/t/2"] = detailHTML("q2", "a2")

	seen := dedup.SeenSet{"https://forum.test/t/1": {}}
	out := &memSink{}
	orch := newTestOrchestrator(t, Config{TotalPagesOverride: 1}, fetcher, nil, seen, out)

	summary, err := orch.Run(context.Background())
	require.NoError(t, err)

	require.False(t, fetcher.called("https://forum.test/t/1"), "seen item must not be fetched")
	require.Equal(t, 1, summary.ItemsSkippedSeen)
	require.Len(t, out.last(), 1)
	require.Equal(t, "https://forum.test/t/2", out.last()[0].URL)
}

func TestProbeDeterminesPageCount(t *testing.T) {
	fetcher := newFakeFetcher()
	for page := 1; page <= 3; page++ {
		fetcher.bodies[testSite.ListingURL(page)] = listingHTML()
	}

	var probed string
	prober := renderFunc(func(_ context.Context, url string) ([]byte, error) {
		probed = url
		return []byte(`<html><body><a class="last" data-type="last" data-page="3">last</a></body></html>`), nil
	})

	out := &memSink{}
	orch := newTestOrchestrator(t, Config{}, fetcher, prober, nil, out)

	summary, err := orch.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, testSite.ListingURL(1), probed)
	require.Equal(t, 3, summary.TotalPages)
	require.Equal(t, 3, summary.ListingPagesFetched)
}

func TestOverrideSkipsProbe(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.bodies[testSite.ListingURL(1)] = listingHTML()

	prober := renderFunc(func(context.Context, string) ([]byte, error) {
		t.Fatal("probe must not run when an override is configured")
		return nil, nil
	})

	orch := newTestOrchestrator(t, Config{TotalPagesOverride: 1}, fetcher, prober, nil, &memSink{})
	summary, err := orch.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, summary.TotalPages)
}

func TestProbeFailureFallsBackToOnePage(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.bodies[testSite.ListingURL(1)] = listingHTML()

	prober := renderFunc(func(context.Context, string) ([]byte, error) {
		return nil, errors.New("browser crashed")
	})

	orch := newTestOrchestrator(t, Config{}, fetcher, prober, nil, &memSink{})
	summary, err := orch.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, summary.TotalPages)
}

func TestNilProberFallsBackToOnePage(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.bodies[testSite.ListingURL(1)] = listingHTML()

	orch := newTestOrchestrator(t, Config{}, fetcher, nil, nil, &memSink{})
	summary, err := orch.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, summary.TotalPages)
}

func TestDetailFailureYieldsSentinelRecord(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.bodies[testSite.ListingURL(1)] = listingHTML(
		forum.ListingItem{Title: "slow", URL: "https://forum.test/t/1", Status: forum.StatusAnswered},
		forum.ListingItem{Title: "fine", URL: "https://forum.test/t/2", Status: forum.StatusAnswered},
	)
	fetcher.errs["https://forum.test/t/1"] = &transport.FetchError{
		Kind: transport.KindTimeout,
		URL:  "https://forum.test/t/1",
		Err:  context.DeadlineExceeded,
	}
	fetcher.bodies["https://forum.test/t/2"] = detailHTML("q2", "a2")

	out := &memSink{}
	orch := newTestOrchestrator(t, Config{TotalPagesOverride: 1}, fetcher, nil, nil, out)

	summary, err := orch.Run(context.Background())
	require.NoError(t, err, "one timed-out detail fetch must not fail the batch")

	require.Equal(t, []forum.DetailRecord{
		{Title: "slow", URL: "https://forum.test/t/1", Question: forum.NoQuestionFound, Answer: forum.NoAnswerFound},
		{Title: "fine", URL: "https://forum.test/t/2", Question: "q2", Answer: "a2"},
	}, out.last())
	require.Equal(t, 1, summary.DetailFetchFailed)
}

func TestBlockedListingPageSkipped(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.errs[testSite.ListingURL(1)] = &transport.FetchError{
		Kind:   transport.KindBlocked,
		URL:    testSite.ListingURL(1),
		Status: 403,
	}
	fetcher.bodies[testSite.ListingURL(2)] = listingHTML(
		forum.ListingItem{Title: "ok", URL: "https://forum.test/t/1", Status: forum.StatusAnswered},
	)
	fetcher.bodies["https://forum.test/t/1"] = detailHTML("q", "a")

	out := &memSink{}
	orch := newTestOrchestrator(t, Config{TotalPagesOverride: 2}, fetcher, nil, nil, out)

	summary, err := orch.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, summary.ListingPagesFailed)
	require.Equal(t, 1, summary.Blocked)
	require.Len(t, out.last(), 1)
}

func TestInRunDuplicateFilteredAcrossChunks(t *testing.T) {
	// The same thread drifts onto two pages in different chunks.
	fetcher := newFakeFetcher()
	item := forum.ListingItem{Title: "drift", URL: "https://forum.test/t/1", Status: forum.StatusAnswered}
	fetcher.bodies[testSite.ListingURL(1)] = listingHTML(item)
	fetcher.bodies[testSite.ListingURL(2)] = listingHTML(item)
	fetcher.bodies["https://forum.test/t/1"] = detailHTML("q", "a")

	out := &memSink{}
	orch := newTestOrchestrator(t, Config{TotalPagesOverride: 2, ChunkSize: 1}, fetcher, nil, nil, out)

	duplicatesBefore := testutil.ToFloat64(itemsSkippedDuplicate)
	summary, err := orch.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, out.last(), 1)
	require.Equal(t, 1, summary.ItemsSkippedDuplicate)
	require.Equal(t, duplicatesBefore+1, testutil.ToFloat64(itemsSkippedDuplicate))
}

func TestCheckpointWritesPerChunk(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.bodies[testSite.ListingURL(1)] = listingHTML(
		forum.ListingItem{Title: "a", URL: "https://forum.test/t/1", Status: forum.StatusAnswered},
	)
	fetcher.bodies[testSite.ListingURL(2)] = listingHTML(
		forum.ListingItem{Title: "b", URL: "https://forum.test/t/2", Status: forum.StatusAnswered},
	)
	fetcher.bodies["https://forum.test/t/1"] = detailHTML("q1", "a1")
	fetcher.bodies["https://forum.test/t/2"] = detailHTML("q2", "a2")

	out := &memSink{}
	orch := newTestOrchestrator(t, Config{
		TotalPagesOverride: 2,
		ChunkSize:          1,
		CheckpointChunks:   true,
	}, fetcher, nil, nil, out)

	_, err := orch.Run(context.Background())
	require.NoError(t, err)

	// Two chunk checkpoints plus the final write.
	require.Len(t, out.writes, 3)
	require.Len(t, out.writes[0], 1)
	require.Len(t, out.writes[1], 2)
	require.Len(t, out.writes[2], 2)
}

func TestPersistFailureIsFatal(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.bodies[testSite.ListingURL(1)] = listingHTML()

	out := &memSink{err: errors.New("disk full")}
	orch := newTestOrchestrator(t, Config{TotalPagesOverride: 1}, fetcher, nil, nil, out)

	_, err := orch.Run(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "persist artifact")
}

func TestIdempotentRerun(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.bodies[testSite.ListingURL(1)] = listingHTML(
		forum.ListingItem{Title: "once", URL: "https://forum.test/t/1", Status: forum.StatusAnswered},
	)
	fetcher.bodies["https://forum.test/t/1"] = detailHTML("q", "a")

	artifactDir := t.TempDir()
	firstSink, err := sink.New(filepath.Join(artifactDir, "run1.json"), zap.NewNop())
	require.NoError(t, err)

	first := newTestOrchestrator(t, Config{TotalPagesOverride: 1}, fetcher, nil, nil, firstSink)
	summary, err := first.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, summary.RecordsHarvested)

	// Second run loads the first run's artifact directory as its seen set.
	seen, err := dedup.Load(artifactDir, zap.NewNop())
	require.NoError(t, err)

	secondSink, err := sink.New(filepath.Join(t.TempDir(), "run2.json"), zap.NewNop())
	require.NoError(t, err)

	second := newTestOrchestrator(t, Config{TotalPagesOverride: 1}, fetcher, nil, seen, secondSink)
	summary, err = second.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0, summary.RecordsHarvested)
	require.Equal(t, 1, summary.ItemsSkippedSeen)
}

func TestRunRespectsCancellation(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.bodies[testSite.ListingURL(1)] = listingHTML()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	orch := newTestOrchestrator(t, Config{TotalPagesOverride: 1}, fetcher, nil, nil, &memSink{})
	_, err := orch.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

func TestNewRejectsBadConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"missing base url", Config{ChunkSize: 1, ListingConcurrency: 1, DetailConcurrency: 1}},
		{"zero chunk size", Config{Site: testSite, ListingConcurrency: 1, DetailConcurrency: 1}},
		{"zero listing concurrency", Config{Site: testSite, ChunkSize: 1, DetailConcurrency: 1}},
		{"zero detail concurrency", Config{Site: testSite, ChunkSize: 1, ListingConcurrency: 1}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := New(tc.cfg, newFakeFetcher(), nil, nil, &memSink{}, zap.NewNop())
			require.Error(t, err)
		})
	}
}
