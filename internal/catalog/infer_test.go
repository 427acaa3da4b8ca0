package catalog

import (
	"context"
	"testing"

	"github.com/dispatchd/dispatch/internal/registry"
	"github.com/dispatchd/dispatch/internal/router"
)

func TestInferRule_ScopePrefixes(t *testing.T) {
	cases := []struct {
		action string
		want   string // leading pattern text, "" for no rule
	}{
		{"remote_k8s_describe_pod", "remote describe"},
		{"local_k8s_list_pods", "local (?:list|show)"},
		{"k8s_top_nodes", "(?:top|metrics for)"},
		{"deploy_application", ""},
	}
	for _, c := range cases {
		r := InferRule(c.action)
		if c.want == "" {
			if r != nil {
				t.Fatalf("InferRule(%q): expected no rule, got %+v", c.action, r)
			}
			continue
		}
		if r == nil {
			t.Fatalf("InferRule(%q): expected a rule", c.action)
		}
		if r.Name != "auto_"+c.action {
			t.Fatalf("InferRule(%q): name %q", c.action, r.Name)
		}
		if r.Action != c.action {
			t.Fatalf("InferRule(%q): action %q", c.action, r.Action)
		}
		if len(r.Pattern) < len(c.want) || r.Pattern[:len(c.want)] != c.want {
			t.Fatalf("InferRule(%q): pattern %q does not start with %q", c.action, r.Pattern, c.want)
		}
	}
}

func TestInferredRulesRouteQueries(t *testing.T) {
	actions := []registry.ActionDescriptor{
		{Name: "remote_k8s_describe_pod", Description: "describe a pod in the remote cluster"},
		{Name: "local_k8s_get_logs", Description: "fetch pod logs"},
		{Name: "deploy_application", Description: "no convention, no rule"},
	}
	rules := InferRules(actions)
	if len(rules) != 2 {
		t.Fatalf("expected 2 inferred rules, got %d", len(rules))
	}

	r, err := router.New(router.Intents{}, rules, nil, nil, router.Options{})
	if err != nil {
		t.Fatal(err)
	}

	d, err := r.Route(context.Background(), "remote describe pod web-7f9c")
	if err != nil {
		t.Fatal(err)
	}
	if d == nil || d.Action != "remote_k8s_describe_pod" {
		t.Fatalf("unexpected decision: %+v", d)
	}
	if d.Args["pod_name"] != "web-7f9c" {
		t.Fatalf("unexpected args: %v", d.Args)
	}

	d, err = r.Route(context.Background(), "local logs for api-0")
	if err != nil {
		t.Fatal(err)
	}
	if d == nil || d.Action != "local_k8s_get_logs" || d.Args["pod_name"] != "api-0" {
		t.Fatalf("unexpected decision: %+v", d)
	}
}
