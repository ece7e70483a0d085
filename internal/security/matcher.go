package security

import (
	"fmt"
	"net/http"
	"path"
	"strings"
)

// PathPattern matches request paths. Segments are literal, "*" matches
// exactly one segment and a trailing "**" matches any remainder,
// including none.
type PathPattern struct {
	raw      string
	segments []string
	tail     bool
}

// CompilePath compiles pattern. Patterns must be absolute and "**" may
// only appear as the last segment.
func CompilePath(pattern string) (PathPattern, error) {
	if !strings.HasPrefix(pattern, "/") {
		return PathPattern{}, fmt.Errorf("path pattern %q must start with /", pattern)
	}

	segs := splitPath(pattern)
	p := PathPattern{raw: pattern}
	for i, s := range segs {
		if s == "**" {
			if i != len(segs)-1 {
				return PathPattern{}, fmt.Errorf("path pattern %q: ** must be the last segment", pattern)
			}
			p.tail = true
			break
		}
		p.segments = append(p.segments, s)
	}
	return p, nil
}

// MustCompilePath is CompilePath that panics on error. It is meant for
// built-in patterns.
func MustCompilePath(pattern string) PathPattern {
	p, err := CompilePath(pattern)
	if err != nil {
		panic(err)
	}
	return p
}

// String returns the source pattern.
func (p PathPattern) String() string {
	return p.raw
}

// Match reports whether requestPath matches p. The path is cleaned first
// so dot segments cannot walk around a rule.
func (p PathPattern) Match(requestPath string) bool {
	segs := splitPath(path.Clean("/" + requestPath))

	if p.tail {
		if len(segs) < len(p.segments) {
			return false
		}
	} else if len(segs) != len(p.segments) {
		return false
	}

	for i, want := range p.segments {
		if want != "*" && want != segs[i] {
			return false
		}
	}
	return true
}

func splitPath(p string) []string {
	trimmed := strings.Trim(p, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

// MethodSet is a set of HTTP methods. The empty set matches any method.
type MethodSet []string

// NewMethodSet normalizes methods to upper case and drops duplicates.
func NewMethodSet(methods ...string) MethodSet {
	seen := make(map[string]struct{}, len(methods))
	out := make(MethodSet, 0, len(methods))
	for _, m := range methods {
		m = strings.ToUpper(strings.TrimSpace(m))
		if m == "" {
			continue
		}
		if _, ok := seen[m]; ok {
			continue
		}
		seen[m] = struct{}{}
		out = append(out, m)
	}
	return out
}

// Any reports whether s matches every method.
func (s MethodSet) Any() bool {
	return len(s) == 0
}

// Match reports whether method is in s.
func (s MethodSet) Match(method string) bool {
	if s.Any() {
		return true
	}
	for _, m := range s {
		if m == method {
			return true
		}
	}
	// HEAD is served wherever GET is.
	if method == http.MethodHead {
		return s.Match(http.MethodGet)
	}
	return false
}
