// Package router implements the layered intent cascade: keyword trigger
// table, regex templates, semantic threshold match, then vector retrieval.
//
// Layers 1-2 are deterministic and never suspend. Layers 3-4 each cost one
// embedding computation (served through the query cache) and degrade to the
// next layer on backend failure instead of failing the query. The router
// never mutates the index.
package router

import (
	"context"
	"log/slog"
	"strings"

	"github.com/dispatchd/dispatch/internal/index"
)

// Source identifies which cascade layer produced a decision.
type Source string

const (
	SourceKeyword   Source = "keyword"
	SourceTemplate  Source = "template"
	SourceSemantic  Source = "semantic"
	SourceRetrieval Source = "retrieval"
)

// Decision is the outcome of a routed query. Layers 1-3 resolve to a single
// action with arguments; layer 4 returns the ranked Candidates for a
// downstream reasoner to disambiguate.
type Decision struct {
	Source Source
	Action string
	Args   map[string]string
	// Score is 1 for keyword/template matches and the best cosine
	// similarity for semantic matches.
	Score float64
	// Rule names the template that matched, for template decisions.
	Rule string
	// Candidates is populated for retrieval decisions only.
	Candidates []index.Candidate
}

// Options tunes the cascade.
type Options struct {
	// SemanticThreshold is the minimum similarity for a layer-3 match.
	SemanticThreshold float64
	// TopK bounds the layer-4 candidate list.
	TopK int
	// Logger receives degradation diagnostics. Nil means slog.Default().
	Logger *slog.Logger
}

// Searcher is the read side of the vector index the cascade consumes.
type Searcher interface {
	Search(vector []float32, k int) ([]index.Candidate, error)
}

// Router answers queries through the four-layer cascade. It is a pure
// function of the query and its configured layer state.
type Router struct {
	triggers  map[string]Trigger
	rules     []Rule
	intents   []Intent
	cache     *Cache
	idx       Searcher
	threshold float64
	topK      int
	logger    *slog.Logger
}

// New builds a Router from the manual intents, the inferred auto rules
// (appended after manual ones, skipping actions a manual rule already
// covers), the query cache and the index. cache may be nil when no
// embedding backend is configured; layers 3-4 then always decline.
func New(intents Intents, autoRules []Rule, cache *Cache, idx Searcher, opts Options) (*Router, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	threshold := opts.SemanticThreshold
	if threshold <= 0 {
		threshold = 0.82
	}
	topK := opts.TopK
	if topK <= 0 {
		topK = 8
	}

	triggers := make(map[string]Trigger, len(intents.Triggers))
	for _, t := range intents.Triggers {
		triggers[NormalizeQuery(t.Query)] = t
	}

	manualActions := make(map[string]struct{}, len(intents.Templates))
	rules := make([]Rule, 0, len(intents.Templates)+len(autoRules))
	for _, r := range intents.Templates {
		if err := r.compile(); err != nil {
			return nil, err
		}
		manualActions[r.Action] = struct{}{}
		rules = append(rules, r)
	}
	for _, r := range autoRules {
		if _, ok := manualActions[r.Action]; ok {
			continue
		}
		if err := r.compile(); err != nil {
			// Inferred rules are best-effort; a bad one is dropped, not fatal.
			logger.Warn("skipping invalid inferred rule", "rule", r.Name, "error", err)
			continue
		}
		rules = append(rules, r)
	}

	return &Router{
		triggers:  triggers,
		rules:     rules,
		intents:   intents.Semantic,
		cache:     cache,
		idx:       idx,
		threshold: threshold,
		topK:      topK,
		logger:    logger,
	}, nil
}

// Route runs the cascade. It returns (nil, nil) when every layer declines;
// the caller then hands the query to the downstream reasoner with no
// pre-selected candidates.
func (r *Router) Route(ctx context.Context, query string) (*Decision, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}

	if d := r.keyword(query); d != nil {
		return d, nil
	}
	if d := r.template(query); d != nil {
		return d, nil
	}

	if r.cache == nil {
		return nil, nil
	}
	qv, err := r.cache.Get(ctx, query)
	if err != nil {
		// Both embedding layers depend on this vector; degrade to no match
		// rather than failing the query.
		r.logger.Warn("query embedding failed, skipping semantic layers", "error", err)
		return nil, nil
	}

	if d := r.semantic(ctx, qv); d != nil {
		return d, nil
	}
	return r.retrieve(qv), nil
}

func (r *Router) retrieve(qv []float32) *Decision {
	if r.idx == nil {
		return nil
	}
	cands, err := r.idx.Search(qv, r.topK)
	if err != nil {
		r.logger.Warn("vector retrieval failed", "error", err)
		return nil
	}
	if len(cands) == 0 {
		return nil
	}
	return &Decision{Source: SourceRetrieval, Candidates: cands}
}
