package harvest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/JakeFAU/forum-qa-harvester/internal/dedup"
	"github.com/JakeFAU/forum-qa-harvester/internal/forum"
	"github.com/JakeFAU/forum-qa-harvester/internal/parse"
	"github.com/JakeFAU/forum-qa-harvester/internal/transport"
)

// PageFetcher retrieves a page body. Failed fetches surface *transport.FetchError.
type PageFetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// Prober renders a page with script execution for the page-count probe.
type Prober interface {
	Render(ctx context.Context, url string) ([]byte, error)
}

// ArtifactWriter persists the accumulated run result.
type ArtifactWriter interface {
	Write(records []forum.DetailRecord) error
}

// Config holds the orchestrator knobs for one run.
type Config struct {
	Site               forum.Site
	ChunkSize          int
	TotalPagesOverride int
	ListingConcurrency int
	DetailConcurrency  int
	// CheckpointChunks rewrites the artifact after every chunk so a crash
	// mid-run loses at most one chunk of progress.
	CheckpointChunks bool
}

func (c Config) validate() error {
	if c.Site.BaseURL == "" {
		return fmt.Errorf("site base URL is required")
	}
	if c.ChunkSize <= 0 {
		return fmt.Errorf("chunk size must be > 0")
	}
	if c.ListingConcurrency <= 0 {
		return fmt.Errorf("listing concurrency must be > 0")
	}
	if c.DetailConcurrency <= 0 {
		return fmt.Errorf("detail concurrency must be > 0")
	}
	return nil
}

// Summary reports what a run accomplished.
type Summary struct {
	RunID                  string
	TotalPages             int
	ListingPagesFetched    int
	ListingPagesFailed     int
	ItemsDiscovered        int
	ItemsSkippedSeen       int
	ItemsSkippedUnanswered int
	ItemsSkippedDuplicate  int
	DetailFetchFailed      int
	Blocked                int
	RecordsHarvested       int
	Elapsed                time.Duration
}

// Orchestrator drives the phased crawl:
// Probe -> {Listing -> Filter -> Detail -> Flush}* -> Done.
// The result sequence is mutated only between phases by the coordinating
// goroutine; fetch goroutines write into positional slices only.
type Orchestrator struct {
	cfg     Config
	fetcher PageFetcher
	prober  Prober
	seen    dedup.SeenSet
	sink    ArtifactWriter
	logger  *zap.Logger
	now     func() time.Time
}

// New constructs an Orchestrator. prober may be nil, in which case the probe
// falls back to a single page unless an override is configured.
func New(
	cfg Config,
	fetcher PageFetcher,
	prober Prober,
	seen dedup.SeenSet,
	sink ArtifactWriter,
	logger *zap.Logger,
) (*Orchestrator, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("harvest config: %w", err)
	}
	if seen == nil {
		seen = make(dedup.SeenSet)
	}
	return &Orchestrator{
		cfg:     cfg,
		fetcher: fetcher,
		prober:  prober,
		seen:    seen,
		sink:    sink,
		logger:  logger,
		now:     time.Now,
	}, nil
}

// Run executes the full crawl over the configured page range. Per-page
// failures never abort the run; only persistence failure or context
// cancellation does.
func (o *Orchestrator) Run(ctx context.Context) (Summary, error) {
	start := o.now()
	summary := Summary{RunID: uuid.NewString()}

	summary.TotalPages = o.resolveTotalPages(ctx)
	ranges := Partition(summary.TotalPages, o.cfg.ChunkSize)
	o.logger.Info("starting harvest",
		zap.String("run_id", summary.RunID),
		zap.Int("total_pages", summary.TotalPages),
		zap.Int("chunks", len(ranges)),
	)

	// collected guards against pagination drift re-listing a thread across
	// chunks within a single run.
	collected := make(map[string]struct{})
	results := make([]forum.DetailRecord, 0)

	for _, rng := range ranges {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		chunk, err := o.processChunk(ctx, rng, collected, &summary)
		if err != nil {
			return summary, err
		}
		results = append(results, chunk...)

		if o.cfg.CheckpointChunks {
			if err := o.sink.Write(results); err != nil {
				o.logger.Warn("chunk checkpoint failed",
					zap.Int("start_page", rng.Start),
					zap.Int("end_page", rng.End),
					zap.Error(err),
				)
			}
		}
	}

	if err := o.sink.Write(results); err != nil {
		return summary, fmt.Errorf("persist artifact: %w", err)
	}

	summary.RecordsHarvested = len(results)
	summary.Elapsed = o.now().Sub(start)
	o.logger.Info("harvest complete",
		zap.String("run_id", summary.RunID),
		zap.Int("records", summary.RecordsHarvested),
		zap.Int("listing_pages_fetched", summary.ListingPagesFetched),
		zap.Int("items_skipped_seen", summary.ItemsSkippedSeen),
		zap.Int("items_skipped_unanswered", summary.ItemsSkippedUnanswered),
		zap.Int("blocked", summary.Blocked),
		zap.Duration("elapsed", summary.Elapsed),
	)
	return summary, nil
}

// resolveTotalPages applies the precedence: explicit override, rendered
// probe, default of one page with a warning.
func (o *Orchestrator) resolveTotalPages(ctx context.Context) int {
	if o.cfg.TotalPagesOverride > 0 {
		o.logger.Info("using configured page count",
			zap.Int("total_pages", o.cfg.TotalPagesOverride))
		return o.cfg.TotalPagesOverride
	}
	if o.prober != nil {
		probeURL := o.cfg.Site.ListingURL(1)
		body, err := o.prober.Render(ctx, probeURL)
		if err != nil {
			o.logger.Warn("page-count probe failed",
				zap.String("url", probeURL), zap.Error(err))
		} else if last, ok := parse.LastPage(body); ok {
			o.logger.Info("detected last page", zap.Int("total_pages", last))
			return last
		} else {
			o.logger.Warn("probe page had no usable pagination link",
				zap.String("url", probeURL))
		}
	}
	o.logger.Warn("could not determine page count, defaulting to 1")
	return 1
}

// processChunk runs the listing, filter, and detail phases for one range and
// returns the chunk's records.
func (o *Orchestrator) processChunk(
	ctx context.Context,
	rng Range,
	collected map[string]struct{},
	summary *Summary,
) ([]forum.DetailRecord, error) {
	o.logger.Info("processing pages",
		zap.Int("start_page", rng.Start), zap.Int("end_page", rng.End))

	pages := rng.Pages()
	urls := make([]string, len(pages))
	for i, page := range pages {
		urls[i] = o.cfg.Site.ListingURL(page)
	}

	bodies, errs, err := o.fetchBatch(ctx, urls, o.cfg.ListingConcurrency)
	if err != nil {
		return nil, err
	}

	var items []forum.ListingItem
	for i, body := range bodies {
		if errs[i] != nil {
			summary.ListingPagesFailed++
			summary.Blocked += blockedCount(errs[i])
			continue
		}
		summary.ListingPagesFetched++
		items = append(items, parse.Listing(body)...)
	}
	summary.ItemsDiscovered += len(items)

	answered := o.filterItems(items, collected, summary)
	o.logger.Info("chunk listing phase done",
		zap.Int("start_page", rng.Start),
		zap.Int("end_page", rng.End),
		zap.Int("listings", len(items)),
		zap.Int("answered_new", len(answered)),
	)

	records, err := o.detailPhase(ctx, answered, summary)
	if err != nil {
		return nil, err
	}
	o.logger.Info("chunk complete",
		zap.Int("start_page", rng.Start),
		zap.Int("end_page", rng.End),
		zap.Int("records", len(records)),
	)
	return records, nil
}

// filterItems applies the seen-set, answered-only, and in-run duplicate
// filters, marking survivors as collected.
func (o *Orchestrator) filterItems(
	items []forum.ListingItem,
	collected map[string]struct{},
	summary *Summary,
) []forum.ListingItem {
	answered := make([]forum.ListingItem, 0, len(items))
	for _, item := range items {
		if item.URL == "" {
			continue
		}
		if o.seen.Contains(item.URL) {
			summary.ItemsSkippedSeen++
			itemsSkippedSeen.Inc()
			continue
		}
		if item.Status != forum.StatusAnswered {
			summary.ItemsSkippedUnanswered++
			itemsSkippedUnanswered.Inc()
			continue
		}
		if _, dup := collected[item.URL]; dup {
			summary.ItemsSkippedDuplicate++
			itemsSkippedDuplicate.Inc()
			continue
		}
		collected[item.URL] = struct{}{}
		answered = append(answered, item)
	}
	return answered
}

// detailPhase fetches and parses every answered item's detail page. A failed
// detail fetch still yields a record carrying the sentinel pair, matching
// what the parser produces for an empty body.
func (o *Orchestrator) detailPhase(
	ctx context.Context,
	items []forum.ListingItem,
	summary *Summary,
) ([]forum.DetailRecord, error) {
	if len(items) == 0 {
		return nil, nil
	}
	urls := make([]string, len(items))
	for i, item := range items {
		urls[i] = item.URL
	}

	bodies, errs, err := o.fetchBatch(ctx, urls, o.cfg.DetailConcurrency)
	if err != nil {
		return nil, err
	}

	records := make([]forum.DetailRecord, 0, len(items))
	for i, item := range items {
		if errs[i] != nil {
			summary.DetailFetchFailed++
			summary.Blocked += blockedCount(errs[i])
		}
		question, answer := parse.Detail(bodies[i])
		records = append(records, forum.DetailRecord{
			Title:    item.Title,
			URL:      item.URL,
			Question: question,
			Answer:   answer,
		})
		recordsHarvested.Inc()
	}
	return records, nil
}

// fetchBatch fans out the urls under a weighted semaphore and collects
// bodies and classified errors positionally, so callers can associate each
// result with its source regardless of completion order. Only context
// cancellation fails the batch.
func (o *Orchestrator) fetchBatch(
	ctx context.Context,
	urls []string,
	concurrency int,
) ([][]byte, []error, error) {
	bodies := make([][]byte, len(urls))
	errs := make([]error, len(urls))
	sem := semaphore.NewWeighted(int64(concurrency))
	g, gctx := errgroup.WithContext(ctx)

	for i, url := range urls {
		i, url := i, url
		g.Go(func() error {
			if err := sem.Acquire(gctx, 1); err != nil {
				return err
			}
			defer sem.Release(1)

			body, err := o.fetcher.Fetch(gctx, url)
			if err != nil {
				var fetchErr *transport.FetchError
				if errors.As(err, &fetchErr) {
					errs[i] = err
					fetchErrors.WithLabelValues(string(fetchErr.Kind)).Inc()
					return nil
				}
				return err
			}
			bodies[i] = body
			pagesFetched.Inc()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, fmt.Errorf("fetch batch: %w", err)
	}
	return bodies, errs, nil
}

func blockedCount(err error) int {
	var fetchErr *transport.FetchError
	if errors.As(err, &fetchErr) && fetchErr.Kind == transport.KindBlocked {
		return 1
	}
	return 0
}
