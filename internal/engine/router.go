package engine

import (
	"context"
	"sort"

	domainerrors "github.com/crawlrs/crawlrs/internal/errors"
	"github.com/crawlrs/crawlrs/internal/logging"
)

// Router selects and drives fetch engines.
type Router struct {
	engines  []Engine
	breakers *domainerrors.Manager
	logger   logging.Logger
}

// NewRouter builds a router over engines using the given breaker
// manager, so breaker state is shared across every Router built from
// the same manager.
func NewRouter(engines []Engine, breakers *domainerrors.Manager) *Router {
	return &Router{
		engines:  engines,
		breakers: breakers,
		logger:   logging.NewComponentLogger("engine-router"),
	}
}

type scoredEngine struct {
	engine Engine
	score  int
}

// Fetch implements the selection algorithm: score, sort, skip open
// breakers, attempt in order, stopping on a terminal failure or
// exhausting every candidate.
func (r *Router) Fetch(ctx context.Context, req Request) (*Result, error) {
	candidates := r.rank(req)
	if len(candidates) == 0 {
		return nil, domainerrors.New(domainerrors.KindAllEnginesFailed, "no engine can satisfy this request", nil)
	}

	var lastErr error
	for _, c := range candidates {
		breaker := r.breakers.Get(c.engine.Name())
		if err := breaker.Allow(); err != nil {
			r.logger.Info("skipping %s: breaker open", c.engine.Name())
			continue
		}

		result, err := c.engine.Fetch(ctx, req)
		breaker.Mark(err)
		if err == nil {
			return result, nil
		}

		lastErr = err
		if !domainerrors.Retryable(err) {
			return nil, err // terminal failure: stop immediately
		}
		r.logger.Warn("%s failed transiently, trying next engine: %v", c.engine.Name(), err)
	}

	if lastErr == nil {
		return nil, domainerrors.New(domainerrors.KindAllEnginesFailed, "every candidate engine's breaker is open", nil)
	}
	return nil, domainerrors.New(domainerrors.KindAllEnginesFailed, "all engines exhausted", lastErr)
}

// rank scores every engine, drops zeros, and orders by score desc, then
// priority desc, then cost asc.
func (r *Router) rank(req Request) []scoredEngine {
	var candidates []scoredEngine
	for _, e := range r.engines {
		score := e.SupportScore(req)
		if score <= 0 {
			continue
		}
		candidates = append(candidates, scoredEngine{engine: e, score: score})
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		if candidates[i].engine.Priority() != candidates[j].engine.Priority() {
			return candidates[i].engine.Priority() > candidates[j].engine.Priority()
		}
		return candidates[i].engine.Cost() < candidates[j].engine.Cost()
	})
	return candidates
}
