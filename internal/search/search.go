// Package search implements the concurrent multi-engine search
// aggregator: fan out to every enabled engine with a
// per-engine circuit breaker and timeout, merge preserving the
// highest-scored engine's order, dedup by URL then title similarity,
// and cache the merged result.
package search

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strings"
	"time"

	"github.com/xrash/smetrics"
	"golang.org/x/sync/errgroup"

	domainerrors "github.com/crawlrs/crawlrs/internal/errors"
	"github.com/crawlrs/crawlrs/internal/logging"
)

// EngineTimeout bounds a single engine's search call.
const EngineTimeout = 10 * time.Second

// CacheTTL is how long a merged result is cached.
const CacheTTL = time.Hour

// TitleSimilarityThreshold is the Jaro-Winkler cutoff above which two
// hits are considered duplicates.
const TitleSimilarityThreshold = 0.85

// Hit is one search result returned by an engine.
type Hit struct {
	URL     string `json:"url"`
	Title   string `json:"title"`
	Snippet string `json:"snippet"`
}

// Query is a normalized search request.
type Query struct {
	Text     string
	Language string
	Limit    int
	Engines  []string
}

// Engine is a search-capable provider, scored so results from a
// higher-scored engine win ties during the merge.
type Engine struct {
	Name   string
	Score  int
	Search func(ctx context.Context, q Query) ([]Hit, error)
}

// Cache stores merged results keyed by CacheKey.
type Cache interface {
	Get(ctx context.Context, key string) ([]Hit, bool, error)
	Set(ctx context.Context, key string, hits []Hit, ttl time.Duration) error
}

// Aggregator runs the fan-out/merge/cache pipeline.
type Aggregator struct {
	engines    []Engine
	breakers   *domainerrors.Manager
	cache      Cache
	minSuccess int
	logger     logging.Logger
}

// New builds an Aggregator. minSuccess defaults to 1 when 0.
func New(engines []Engine, breakers *domainerrors.Manager, cache Cache, minSuccess int) *Aggregator {
	if minSuccess <= 0 {
		minSuccess = 1
	}
	return &Aggregator{
		engines:    engines,
		breakers:   breakers,
		cache:      cache,
		minSuccess: minSuccess,
		logger:     logging.NewComponentLogger("search"),
	}
}

type engineResult struct {
	engine Engine
	hits   []Hit
	err    error
}

// Search executes the full pipeline: cache lookup, concurrent fan-out
// bounded by a per-engine timeout and circuit breaker, merge, then
// cache the merged result.
func (a *Aggregator) Search(ctx context.Context, q Query) ([]Hit, bool, error) {
	key := CacheKey(q)
	if a.cache != nil {
		if hits, ok, err := a.cache.Get(ctx, key); err == nil && ok {
			return hits, true, nil
		}
	}

	enabled := a.selectEngines(q.Engines)
	results := make([]engineResult, len(enabled))

	g, gctx := errgroup.WithContext(ctx)
	for i, eng := range enabled {
		i, eng := i, eng
		g.Go(func() error {
			results[i] = engineResult{engine: eng}
			breaker := a.breakers.Get("search:" + eng.Name)
			callCtx, cancel := context.WithTimeout(gctx, EngineTimeout)
			defer cancel()
			err := breaker.Execute(callCtx, func(callCtx context.Context) error {
				hits, err := eng.Search(callCtx, q)
				results[i].hits = hits
				return err
			})
			results[i].err = err
			return nil // individual engine failure never aborts the group
		})
	}
	_ = g.Wait()

	succeeded := 0
	for _, r := range results {
		if r.err == nil {
			succeeded++
		} else {
			a.logger.Warn("search engine %s failed: %v", r.engine.Name, r.err)
		}
	}
	if succeeded < a.minSuccess {
		return nil, false, domainerrors.New(domainerrors.KindAllEnginesFailed, "insufficient-engines", nil)
	}

	merged := merge(results)
	if a.cache != nil {
		if err := a.cache.Set(ctx, key, merged, CacheTTL); err != nil {
			a.logger.Warn("caching search result: %v", err)
		}
	}
	return merged, false, nil
}

func (a *Aggregator) selectEngines(names []string) []Engine {
	if len(names) == 0 {
		return a.engines
	}
	want := make(map[string]bool, len(names))
	for _, n := range names {
		want[n] = true
	}
	var out []Engine
	for _, e := range a.engines {
		if want[e.Name] {
			out = append(out, e)
		}
	}
	return out
}

// merge preserves the order of the highest-scored engine's hits first,
// then appends subsequent engines' hits, deduplicating by exact
// normalized URL and by Jaro-Winkler title similarity against every
// already-kept hit.
func merge(results []engineResult) []Hit {
	sort.SliceStable(results, func(i, j int) bool { return results[i].engine.Score > results[j].engine.Score })

	var kept []Hit
	seenURL := make(map[string]bool)
	for _, r := range results {
		if r.err != nil {
			continue
		}
		for _, hit := range r.hits {
			norm := normalizeURL(hit.URL)
			if seenURL[norm] {
				continue
			}
			if isDuplicateTitle(hit.Title, kept) {
				continue
			}
			seenURL[norm] = true
			kept = append(kept, hit)
		}
	}
	return kept
}

func isDuplicateTitle(title string, kept []Hit) bool {
	if title == "" {
		return false
	}
	for _, k := range kept {
		if k.Title == "" {
			continue
		}
		if smetrics.JaroWinkler(strings.ToLower(title), strings.ToLower(k.Title), 0.7, 4) >= TitleSimilarityThreshold {
			return true
		}
	}
	return false
}

func normalizeURL(u string) string {
	return strings.ToLower(strings.TrimRight(strings.TrimSpace(u), "/"))
}

// CacheKey computes the SHA-256 cache key this defines over
// (query, engine list, language, limit).
func CacheKey(q Query) string {
	engines := append([]string(nil), q.Engines...)
	sort.Strings(engines)
	payload, _ := json.Marshal(struct {
		Text     string   `json:"text"`
		Engines  []string `json:"engines"`
		Language string   `json:"language"`
		Limit    int      `json:"limit"`
	}{q.Text, engines, q.Language, q.Limit})
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}
