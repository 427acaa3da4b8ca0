package catalog

import (
	"strings"

	"github.com/dispatchd/dispatch/internal/router"
)

// inferredTemplate maps an action-name suffix to a query pattern and its
// argument templates. Inference is purely convention-driven: an action name
// outside this table legitimately yields no rule.
type inferredTemplate struct {
	suffix  string
	pattern string
	args    map[string]string
}

var inferredTemplates = []inferredTemplate{
	{"_describe_pod", `describe (?:the )?(?:pod )?(?P<pod>[\w-]+)`, map[string]string{"pod_name": "{pod}", "namespace": "default"}},
	{"_describe_node", `describe (?:the )?node (?P<node>[\w-]+)`, map[string]string{"node_name": "{node}"}},
	{"_describe_service", `describe (?:the )?service (?P<service>[\w-]+)`, map[string]string{"service_name": "{service}"}},
	{"_describe_deployment", `describe (?:the )?deployment (?P<deployment>[\w-]+)`, map[string]string{"deployment_name": "{deployment}"}},
	{"_describe_namespace", `describe (?:the )?namespace (?P<namespace>[\w-]+)`, map[string]string{"namespace": "{namespace}"}},
	{"_get_logs", `(?:get |show )?logs (?:for )?(?:pod )?(?P<pod>[\w-]+)`, map[string]string{"pod_name": "{pod}"}},
	{"_list_pods", `(?:list|show) (?:all )?pods`, nil},
	{"_list_nodes", `(?:list|show) (?:all )?nodes`, nil},
	{"_list_services", `(?:list|show) (?:all )?services`, nil},
	{"_list_deployments", `(?:list|show) (?:all )?deployments`, nil},
	{"_list_namespaces", `(?:list|show) (?:all )?namespaces`, nil},
	{"_top_nodes", `(?:top|metrics for) nodes`, nil},
	{"_top_pods", `(?:top|metrics for) pods`, nil},
}

// InferRule derives a template rule from an action's naming convention, or
// nil when the name follows no known convention. Actions scoped by a
// remote_k8s_/local_k8s_ prefix get the scope word prepended to the pattern
// so "remote describe pod x" and "local describe pod x" stay distinct.
func InferRule(actionName string) *router.Rule {
	for _, t := range inferredTemplates {
		if !strings.HasSuffix(actionName, t.suffix) {
			continue
		}
		scope := ""
		switch {
		case strings.HasPrefix(actionName, "remote_k8s_"):
			scope = "remote "
		case strings.HasPrefix(actionName, "local_k8s_"):
			scope = "local "
		}
		args := make(map[string]string, len(t.args))
		for k, v := range t.args {
			args[k] = v
		}
		return &router.Rule{
			Name:    "auto_" + actionName,
			Pattern: scope + t.pattern,
			Action:  actionName,
			Args:    args,
		}
	}
	return nil
}
