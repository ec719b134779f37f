package transport

import (
	"context"
	"errors"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Config controls fetcher behavior.
type Config struct {
	// UserAgent is the identification header attached to every request.
	UserAgent string
	// Timeout bounds each individual request.
	Timeout time.Duration
	// DelayMin/DelayMax bound the uniform random pacing delay applied
	// before every request to avoid bursty patterns.
	DelayMin time.Duration
	DelayMax time.Duration
	// MaxRPS caps the sustained request rate across all callers.
	// Zero disables the ceiling.
	MaxRPS float64
}

// Fetcher retrieves page bodies over plain HTTP via Colly. Failures are
// returned as *FetchError so call sites can log and skip rather than abort.
// Concurrency bounds live at the call site; a Fetcher itself only paces.
type Fetcher struct {
	cfg           Config
	baseCollector *colly.Collector
	limiter       *rate.Limiter
	logger        *zap.Logger
}

// NewFetcher constructs a configured Colly-based Fetcher.
func NewFetcher(cfg Config, logger *zap.Logger) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	base := colly.NewCollector(colly.UserAgent(cfg.UserAgent))
	base.AllowURLRevisit = true
	base.WithTransport(&http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		MaxIdleConns:          128,
		MaxIdleConnsPerHost:   32,
		IdleConnTimeout:       30 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: cfg.Timeout,
		ForceAttemptHTTP2:     true,
	})
	base.SetRequestTimeout(cfg.Timeout)

	var limiter *rate.Limiter
	if cfg.MaxRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.MaxRPS), 1)
	}
	return &Fetcher{
		cfg:           cfg,
		baseCollector: base,
		limiter:       limiter,
		logger:        logger,
	}
}

// Fetch retrieves url and returns the response body. The returned error is
// always a *FetchError when non-nil, except for context cancellation.
func (f *Fetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	if err := f.pace(ctx); err != nil {
		return nil, err
	}

	collector := f.baseCollector.Clone()
	resultCh := make(chan fetchResult, 1)
	var once sync.Once
	send := func(res fetchResult) {
		once.Do(func() { resultCh <- res })
	}

	collector.OnResponse(func(r *colly.Response) {
		send(fetchResult{body: append([]byte(nil), r.Body...)})
	})
	collector.OnError(func(r *colly.Response, err error) {
		status := 0
		if r != nil {
			status = r.StatusCode
		}
		send(fetchResult{err: classify(url, status, err)})
	})

	if err := collector.Visit(url); err != nil {
		return nil, classify(url, 0, err)
	}
	collector.Wait()

	select {
	case res := <-resultCh:
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if res.err != nil {
			f.logSkip(res.err)
			return nil, res.err
		}
		return res.body, nil
	default:
		return nil, classify(url, 0, errors.New("colly fetch produced no result"))
	}
}

// pace waits out the jitter window and the sustained-rate ceiling.
func (f *Fetcher) pace(ctx context.Context) error {
	if delay := f.jitter(); delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}
	if f.limiter != nil {
		if err := f.limiter.Wait(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (f *Fetcher) jitter() time.Duration {
	lo, hi := f.cfg.DelayMin, f.cfg.DelayMax
	if hi <= lo {
		return lo
	}
	return lo + time.Duration(rand.Int63n(int64(hi-lo)))
}

func (f *Fetcher) logSkip(err *FetchError) {
	fields := []zap.Field{
		zap.String("url", err.URL),
		zap.String("kind", string(err.Kind)),
	}
	if err.Status != 0 {
		fields = append(fields, zap.Int("status", err.Status))
	}
	if err.Err != nil {
		fields = append(fields, zap.Error(err.Err))
	}
	f.logger.Warn("fetch failed, skipping page", fields...)
}

type fetchResult struct {
	body []byte
	err  *FetchError
}
