package news

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"hightrade/internal/config"
	"hightrade/internal/logger"
	"hightrade/internal/ratelimit"
	"hightrade/internal/types"
)

// rateLimitRetries is how often a source retries after a 429 within one cycle
// before being skipped.
const rateLimitRetries = 3

// SignalStore reads the novelty baseline: the most recent persisted NewsSignal.
type SignalStore interface {
	// LastNewsSignal returns nil when no signal has been persisted yet.
	LastNewsSignal(ctx context.Context) (*types.NewsSignal, error)
}

// BatchCache stores deduped batches keyed by (cycle, source set) with a TTL.
type BatchCache interface {
	GetBatch(ctx context.Context, key string) ([]types.Article, bool, error)
	PutBatch(ctx context.Context, key string, batch []types.Article, ttl time.Duration) error
}

// Novelty is the gate for downstream news notifications.
type Novelty struct {
	NewCount      int  `json:"new_article_count"`
	BreakingCount int  `json:"breaking_count"`
	Novel         bool `json:"novel"`
}

// Aggregator owns the article pipeline: fan-out fetch, dedupe, cache, and
// novelty detection against the last persisted signal.
type Aggregator struct {
	sources []Source
	limiter *ratelimit.Limiter
	dedup   *Deduplicator
	cache   BatchCache
	signals SignalStore

	cacheTTL time.Duration
	lookback time.Duration
	nowFn    func() time.Time
}

// NewAggregator wires the enabled sources from config. limiter buckets must
// already be configured by the caller.
func NewAggregator(cfg config.Config, limiter *ratelimit.Limiter, cache BatchCache, signals SignalStore) *Aggregator {
	cls := newClassifier(cfg.News.UrgencyKeywords, cfg.News.RelevanceLexicon)
	var sources []Source
	if cfg.Sources.AlphaVantage.Enabled {
		sources = append(sources, NewAlphaVantageSource(cfg.Sources.AlphaVantage, cls))
	}
	if cfg.Sources.RSSFeeds.Enabled {
		sources = append(sources, NewRSSSource(cfg.Sources.RSSFeeds, cls))
	}
	if cfg.Sources.Reddit.Enabled {
		sources = append(sources, NewRedditSource(cfg.Sources.Reddit, cls))
	}
	return &Aggregator{
		sources:  sources,
		limiter:  limiter,
		dedup:    NewDeduplicator(cfg.Dedup.SimilarityThreshold),
		cache:    cache,
		signals:  signals,
		cacheTTL: cfg.News.CacheTTL(),
		lookback: time.Duration(cfg.News.LookbackHours) * time.Hour,
		nowFn:    time.Now,
	}
}

// Collect fetches all enabled sources in parallel, merges, dedupes, and caches
// the batch for this cycle. Source failures never fail the cycle; a broken
// source simply contributes nothing.
func (a *Aggregator) Collect(ctx context.Context, cycleID int64) ([]types.Article, error) {
	key := a.cacheKey(cycleID)
	if a.cache != nil {
		if cached, ok, err := a.cache.GetBatch(ctx, key); err == nil && ok {
			logger.Debugf("news batch cache hit for cycle %d", cycleID)
			return cached, nil
		}
	}

	results := make([][]types.Article, len(a.sources))
	g, gctx := errgroup.WithContext(ctx)
	for i, src := range a.sources {
		i, src := i, src
		g.Go(func() error {
			results[i] = a.fetchSource(gctx, src)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	var merged []types.Article
	for _, arts := range results {
		merged = append(merged, arts...)
	}
	merged = a.filterRecent(merged)
	batch, _ := a.dedup.Deduplicate(merged)

	if a.cache != nil {
		if err := a.cache.PutBatch(ctx, key, batch, a.cacheTTL); err != nil {
			logger.Warnf("caching news batch failed: %v", err)
		}
	}
	return batch, nil
}

// fetchSource paces one source through the limiter and retries rate-limit
// responses up to rateLimitRetries times before giving up for the cycle.
func (a *Aggregator) fetchSource(ctx context.Context, src Source) []types.Article {
	key := src.LimiterKey()
	maxAttempts := rateLimitRetries + 1
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if key != "" {
			if err := a.limiter.Acquire(ctx, key); err != nil {
				logger.Warnf("%s: limiter wait aborted: %v", src.Name(), err)
				return nil
			}
		}
		articles, err := src.Fetch(ctx)
		if err == nil {
			if key != "" {
				a.limiter.Record(key, ratelimit.OutcomeOK)
			}
			return articles
		}
		if errors.Is(err, ErrRateLimited) {
			if key != "" {
				a.limiter.Record(key, ratelimit.OutcomeRateLimited)
			}
			logger.Warnf("%s: rate limited (attempt %d/%d)", src.Name(), attempt, maxAttempts)
			continue
		}
		if key != "" {
			a.limiter.Record(key, ratelimit.OutcomeOtherError)
		}
		logger.Warnf("%s: fetch failed, skipping for this cycle: %v", src.Name(), err)
		return nil
	}
	logger.Warnf("%s: still rate limited after %d attempts, skipping cycle", src.Name(), maxAttempts)
	return nil
}

func (a *Aggregator) filterRecent(batch []types.Article) []types.Article {
	if a.lookback <= 0 {
		return batch
	}
	cutoff := a.nowFn().Add(-a.lookback)
	out := batch[:0]
	for _, art := range batch {
		if !art.PublishedAt.Before(cutoff) {
			out = append(out, art)
		}
	}
	return out
}

// DetectNovelty compares the batch against the last persisted signal's top
// articles. Breaking news is unconditionally novel, and a failed baseline read
// fails safe: notify rather than silently drop.
func (a *Aggregator) DetectNovelty(ctx context.Context, batch []types.Article) Novelty {
	nov := Novelty{}
	for _, art := range batch {
		if art.Urgency == types.UrgencyBreaking {
			nov.BreakingCount++
		}
	}
	prev := map[string]struct{}{}
	last, err := a.signals.LastNewsSignal(ctx)
	switch {
	case err != nil:
		logger.Warnf("novelty baseline read failed, treating batch as novel: %v", err)
		nov.NewCount = len(batch)
		nov.Novel = true
		return nov
	case last != nil:
		for _, id := range last.TopArticles {
			prev[id] = struct{}{}
		}
	}
	for _, art := range batch {
		if _, seen := prev[art.ID]; !seen {
			nov.NewCount++
		}
	}
	nov.Novel = nov.NewCount > 0 || nov.BreakingCount > 0
	return nov
}

// BuildSignal condenses the batch for this cycle; see signal.go.
func (a *Aggregator) BuildSignal(cycleID int64, batch []types.Article) types.NewsSignal {
	return BuildSignal(cycleID, a.nowFn(), batch)
}

// cacheKey folds the enabled source set into the key so a config change does
// not resurrect a stale batch.
func (a *Aggregator) cacheKey(cycleID int64) string {
	names := make([]string, 0, len(a.sources))
	for _, s := range a.sources {
		names = append(names, s.Name())
	}
	sort.Strings(names)
	sum := sha256.Sum256([]byte(strings.Join(names, ",")))
	return fmt.Sprintf("%d:%s", cycleID, hex.EncodeToString(sum[:8]))
}
