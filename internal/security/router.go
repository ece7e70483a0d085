package security

import (
	"fmt"
	"sort"

	"github.com/vyrodovalexey/apimlgw/internal/auth"
)

// Router selects the security chain rule of a request. It is immutable
// after construction and safe for concurrent use.
type Router struct {
	rules []*Rule
}

// NewRouter creates a router over rules. Orders must be unique and every
// rule needs a policy.
func NewRouter(rules []*Rule) (*Router, error) {
	sorted := make([]*Rule, len(rules))
	copy(sorted, rules)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Order < sorted[j].Order })

	seen := make(map[int]string, len(sorted))
	for _, r := range sorted {
		if r.Policy == nil {
			return nil, fmt.Errorf("rule %q has no policy", r.Name)
		}
		if prev, ok := seen[r.Order]; ok {
			return nil, fmt.Errorf("rules %q and %q share order %d", prev, r.Name, r.Order)
		}
		seen[r.Order] = r.Name
	}

	return &Router{rules: sorted}, nil
}

// Rules returns the rules in evaluation order.
func (rt *Router) Rules() []*Rule {
	out := make([]*Rule, len(rt.rules))
	copy(out, rt.rules)
	return out
}

// Match returns the lowest-order rule accepting method and path. When no
// rule accepts the request it fails with KindMethodNotSupported if some
// rule matched the path, else with KindNotFound.
func (rt *Router) Match(method, path string) (*Rule, error) {
	var allowed MethodSet
	pathMatched := false

	for _, r := range rt.rules {
		if !r.MatchesPath(path) {
			continue
		}
		if r.Methods.Match(method) {
			return r, nil
		}
		pathMatched = true
		allowed = append(allowed, r.Methods...)
	}

	if pathMatched {
		return nil, auth.NewMethodNotSupported(method, NewMethodSet(allowed...))
	}
	return nil, auth.NewError(auth.KindNotFound, fmt.Sprintf("no security rule matches %s", path))
}
