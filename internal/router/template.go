package router

import "strings"

// template is layer 2: ordered regex rules over the raw (un-normalized)
// query. The first rule whose pattern matches wins; named capture groups
// fill {group} placeholders in the rule's argument templates. Deterministic,
// order-sensitive, no external calls.
func (r *Router) template(query string) *Decision {
	for i := range r.rules {
		rule := &r.rules[i]
		m := rule.re.FindStringSubmatch(query)
		if m == nil {
			continue
		}
		args, ok := expandArgs(rule, m)
		if !ok {
			// A placeholder referenced a group the pattern never captured;
			// treat the rule as not matching rather than emitting bad args.
			continue
		}
		return &Decision{
			Source: SourceTemplate,
			Action: rule.Action,
			Args:   args,
			Score:  1,
			Rule:   rule.Name,
		}
	}
	return nil
}

// expandArgs substitutes {group} placeholders with the named captures of
// match. Literal argument values pass through untouched.
func expandArgs(rule *Rule, match []string) (map[string]string, bool) {
	groups := map[string]string{}
	for i, name := range rule.re.SubexpNames() {
		if name != "" && i < len(match) {
			groups[name] = match[i]
		}
	}

	out := make(map[string]string, len(rule.Args))
	for k, v := range rule.Args {
		expanded, ok := expandPlaceholders(v, groups)
		if !ok {
			return nil, false
		}
		out[k] = expanded
	}
	return out, true
}

func expandPlaceholders(v string, groups map[string]string) (string, bool) {
	if !strings.Contains(v, "{") {
		return v, true
	}
	var b strings.Builder
	for {
		open := strings.IndexByte(v, '{')
		if open < 0 {
			b.WriteString(v)
			return b.String(), true
		}
		end := strings.IndexByte(v[open:], '}')
		if end < 0 {
			b.WriteString(v)
			return b.String(), true
		}
		name := v[open+1 : open+end]
		val, ok := groups[name]
		if !ok {
			return "", false
		}
		b.WriteString(v[:open])
		b.WriteString(val)
		v = v[open+end+1:]
	}
}
