package router

import (
	"context"
	"errors"
	"testing"

	"github.com/dispatchd/dispatch/internal/embeddings/mock"
	"github.com/dispatchd/dispatch/internal/index"
)

// fakeSearcher serves canned candidates without an on-disk index.
type fakeSearcher struct {
	cands []index.Candidate
	err   error
	calls int
}

func (f *fakeSearcher) Search(_ []float32, k int) ([]index.Candidate, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if len(f.cands) > k {
		return f.cands[:k], nil
	}
	return f.cands, nil
}

func testIntents() Intents {
	return Intents{
		Triggers: []Trigger{
			{Query: "list pods", Action: "local_k8s_list_pods", Args: map[string]string{"namespace": "default"}},
		},
		Templates: []Rule{
			{
				Name:    "list-resource",
				Pattern: `^list (?P<resource>pods|nodes)$`,
				Action:  "k8s_list_resource",
				Args:    map[string]string{"resource": "{resource}"},
			},
			{
				Name:    "describe-pod",
				Pattern: `describe (?:the )?pod (?P<pod>[\w-]+)`,
				Action:  "local_k8s_describe_pod",
				Args:    map[string]string{"pod_name": "{pod}", "namespace": "default"},
			},
		},
		Semantic: []Intent{
			{Text: "show me everything running in the cluster", Action: "local_k8s_list_pods"},
		},
	}
}

func TestRoute_KeywordLayerIsDeterministicAndFree(t *testing.T) {
	prov := mock.New(8)
	r, err := New(testIntents(), nil, NewCache(prov, 8), &fakeSearcher{}, Options{})
	if err != nil {
		t.Fatal(err)
	}

	// Exact trigger resolves via layer 1 regardless of spacing or case,
	// with zero embedding calls.
	for _, q := range []string{"list pods", "  List   Pods  ", "LIST PODS"} {
		d, err := r.Route(context.Background(), q)
		if err != nil {
			t.Fatalf("Route(%q): %v", q, err)
		}
		if d == nil || d.Source != SourceKeyword {
			t.Fatalf("Route(%q): expected keyword decision, got %+v", q, d)
		}
		if d.Action != "local_k8s_list_pods" || d.Args["namespace"] != "default" {
			t.Fatalf("Route(%q): unexpected decision %+v", q, d)
		}
	}
	if prov.Calls() != 0 {
		t.Fatalf("keyword layer made %d embedding calls", prov.Calls())
	}
}

func TestRoute_TemplateExtractsNamedGroups(t *testing.T) {
	prov := mock.New(8)
	r, err := New(testIntents(), nil, NewCache(prov, 8), &fakeSearcher{}, Options{})
	if err != nil {
		t.Fatal(err)
	}

	d, err := r.Route(context.Background(), "describe the pod web-7f9c")
	if err != nil {
		t.Fatal(err)
	}
	if d == nil || d.Source != SourceTemplate || d.Rule != "describe-pod" {
		t.Fatalf("unexpected decision: %+v", d)
	}
	if d.Args["pod_name"] != "web-7f9c" || d.Args["namespace"] != "default" {
		t.Fatalf("unexpected args: %v", d.Args)
	}
	if prov.Calls() != 0 {
		t.Fatalf("template layer made %d embedding calls", prov.Calls())
	}
}

func TestRoute_TemplateOrderFirstMatchWins(t *testing.T) {
	// "list nodes" matches the first rule, not the keyword trigger
	// (which only covers "list pods") and not any later rule.
	r, err := New(testIntents(), nil, nil, nil, Options{})
	if err != nil {
		t.Fatal(err)
	}
	d, err := r.Route(context.Background(), "list nodes")
	if err != nil {
		t.Fatal(err)
	}
	if d == nil || d.Source != SourceTemplate || d.Rule != "list-resource" {
		t.Fatalf("unexpected decision: %+v", d)
	}
	if d.Args["resource"] != "nodes" {
		t.Fatalf("unexpected args: %v", d.Args)
	}
}

func TestRoute_SemanticThreshold(t *testing.T) {
	prov := mock.New(3)
	phrase := "show me everything running in the cluster"
	prov.SetFixed(phrase, []float32{1, 0, 0})
	prov.SetFixed("what is running right now", []float32{0.95, 0.3, 0}) // cos ≈ 0.953
	prov.SetFixed("tell me a joke", []float32{0, 1, 0})                 // cos = 0

	r, err := New(testIntents(), nil, NewCache(prov, 8), &fakeSearcher{}, Options{SemanticThreshold: 0.82})
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	d, err := r.Route(ctx, "what is running right now")
	if err != nil {
		t.Fatal(err)
	}
	if d == nil || d.Source != SourceSemantic || d.Action != "local_k8s_list_pods" {
		t.Fatalf("expected semantic match, got %+v", d)
	}
	if d.Score < 0.82 {
		t.Fatalf("score below threshold: %f", d.Score)
	}

	// Below threshold: falls through to retrieval, which is empty here.
	d, err = r.Route(ctx, "tell me a joke")
	if err != nil {
		t.Fatal(err)
	}
	if d != nil {
		t.Fatalf("expected no decision, got %+v", d)
	}
}

func TestRoute_RetrievalReturnsRankedCandidates(t *testing.T) {
	prov := mock.New(3)
	idx := &fakeSearcher{cands: []index.Candidate{
		{Name: "b", Score: 0.9, Slot: 1},
		{Name: "a", Score: 0.7, Slot: 0},
	}}
	r, err := New(Intents{}, nil, NewCache(prov, 8), idx, Options{TopK: 8})
	if err != nil {
		t.Fatal(err)
	}

	d, err := r.Route(context.Background(), "restart the ingress controller")
	if err != nil {
		t.Fatal(err)
	}
	if d == nil || d.Source != SourceRetrieval {
		t.Fatalf("expected retrieval decision, got %+v", d)
	}
	if len(d.Candidates) != 2 || d.Candidates[0].Name != "b" {
		t.Fatalf("unexpected candidates: %+v", d.Candidates)
	}
}

func TestRoute_EmbeddingFailureDegradesToNoMatch(t *testing.T) {
	prov := mock.New(3)
	prov.Err = errors.New("provider unavailable")
	idx := &fakeSearcher{cands: []index.Candidate{{Name: "a", Score: 0.5}}}
	r, err := New(testIntents(), nil, NewCache(prov, 8), idx, Options{})
	if err != nil {
		t.Fatal(err)
	}

	d, err := r.Route(context.Background(), "something with no trigger")
	if err != nil {
		t.Fatalf("degraded route returned error: %v", err)
	}
	if d != nil {
		t.Fatalf("expected no decision, got %+v", d)
	}
	if idx.calls != 0 {
		t.Fatal("retrieval ran without a query embedding")
	}
}

func TestRoute_SearchFailureDegradesToNoMatch(t *testing.T) {
	prov := mock.New(3)
	idx := &fakeSearcher{err: errors.New("dim mismatch")}
	r, err := New(Intents{}, nil, NewCache(prov, 8), idx, Options{})
	if err != nil {
		t.Fatal(err)
	}
	d, err := r.Route(context.Background(), "anything")
	if err != nil || d != nil {
		t.Fatalf("expected graceful decline, got %+v err=%v", d, err)
	}
}

func TestNew_AutoRulesDedupedByManualAction(t *testing.T) {
	auto := []Rule{
		{Name: "auto_describe", Pattern: `describe pod (?P<pod>\S+)`, Action: "local_k8s_describe_pod", Args: map[string]string{"pod_name": "{pod}"}},
		{Name: "auto_logs", Pattern: `logs (?:for )?(?P<pod>\S+)`, Action: "local_k8s_get_logs", Args: map[string]string{"pod_name": "{pod}"}},
	}
	r, err := New(testIntents(), auto, nil, nil, Options{})
	if err != nil {
		t.Fatal(err)
	}

	// The auto rule for describe-pod is shadowed by the manual one.
	names := make(map[string]bool)
	for _, rule := range r.rules {
		names[rule.Name] = true
	}
	if names["auto_describe"] {
		t.Fatal("auto rule for manually-templated action was kept")
	}
	if !names["auto_logs"] {
		t.Fatal("auto rule for uncovered action was dropped")
	}

	d, err := r.Route(context.Background(), "logs for web-1")
	if err != nil {
		t.Fatal(err)
	}
	if d == nil || d.Action != "local_k8s_get_logs" || d.Args["pod_name"] != "web-1" {
		t.Fatalf("unexpected decision: %+v", d)
	}
}

func TestRoute_EmptyQueryDeclines(t *testing.T) {
	r, err := New(testIntents(), nil, nil, nil, Options{})
	if err != nil {
		t.Fatal(err)
	}
	d, err := r.Route(context.Background(), "   ")
	if err != nil || d != nil {
		t.Fatalf("expected decline, got %+v err=%v", d, err)
	}
}
