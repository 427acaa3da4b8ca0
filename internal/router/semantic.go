package router

import (
	"context"

	"github.com/dispatchd/dispatch/internal/index"
)

// semantic is layer 3: compare the query embedding against the curated
// canonical phrases and return that intent's action when the best
// similarity clears the high-confidence threshold. Reference phrases embed
// through the same cache as queries, so each phrase costs the backend at
// most one call per process (or zero after a sync warm-up).
func (r *Router) semantic(ctx context.Context, qv []float32) *Decision {
	var best *Intent
	bestScore := -1.0

	for i := range r.intents {
		intent := &r.intents[i]
		iv, err := r.cache.Get(ctx, intent.Text)
		if err != nil {
			r.logger.Warn("cannot embed reference phrase", "text", intent.Text, "error", err)
			continue
		}
		score, err := index.Cosine(qv, iv)
		if err != nil {
			r.logger.Warn("reference phrase dimension mismatch", "text", intent.Text, "error", err)
			continue
		}
		if score > bestScore {
			bestScore = score
			best = intent
		}
	}

	if best == nil || bestScore < r.threshold {
		return nil
	}
	return &Decision{
		Source: SourceSemantic,
		Action: best.Action,
		Args:   copyArgs(best.Args),
		Score:  bestScore,
	}
}

// WarmIntents embeds every canonical reference phrase through the cache so
// first queries skip the backend. Failures are returned but the warm-up
// continues for remaining phrases.
func (r *Router) WarmIntents(ctx context.Context) error {
	if r.cache == nil {
		return nil
	}
	var firstErr error
	for i := range r.intents {
		if _, err := r.cache.Get(ctx, r.intents[i].Text); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
