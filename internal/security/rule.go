package security

import (
	"fmt"
	"sort"

	"github.com/vyrodovalexey/apimlgw/internal/auth"
	"github.com/vyrodovalexey/apimlgw/internal/config"
)

// Challenge schemes advertised in WWW-Authenticate.
const (
	ChallengeBasic       = "Basic"
	ChallengeBearer      = "Bearer"
	ChallengeCertificate = "Certificate"
)

// Built-in rule orders. Operator rules start at CustomOrderBase and must
// stay below ServicesOrder.
const (
	OrderLogin           = 10
	OrderLogout          = 20
	OrderQuery           = 30
	OrderHealth          = 40
	OrderCertificateInfo = 50
	CustomOrderBase      = 100
	ServicesOrder        = 1000
)

// Rule is one security chain: the requests it applies to, the extractors
// tried in order and the authorization policy.
type Rule struct {
	Name       string
	Order      int
	Paths      []PathPattern
	Methods    MethodSet
	Extractors []auth.Extractor
	Policy     Policy

	// Challenge is advertised on 401 responses of this rule.
	Challenge string
}

// MatchesPath reports whether any path pattern matches p.
func (r *Rule) MatchesPath(p string) bool {
	for _, pat := range r.Paths {
		if pat.Match(p) {
			return true
		}
	}
	return false
}

// Extractors are the credential extractors available to rules.
type Extractors struct {
	Basic  auth.Extractor
	Bearer auth.Extractor
	X509   auth.Extractor
	OIDC   auth.Extractor
}

// ByName returns the extractor configured under name.
func (e Extractors) ByName(name string) (auth.Extractor, error) {
	var ex auth.Extractor
	switch name {
	case config.ExtractorBasic:
		ex = e.Basic
	case config.ExtractorBearer:
		ex = e.Bearer
	case config.ExtractorX509:
		ex = e.X509
	case config.ExtractorOIDC:
		ex = e.OIDC
	default:
		return nil, fmt.Errorf("unknown extractor %q", name)
	}
	if ex == nil {
		return nil, fmt.Errorf("extractor %q is not available", name)
	}
	return ex, nil
}

func (e Extractors) list(xs ...auth.Extractor) []auth.Extractor {
	out := make([]auth.Extractor, 0, len(xs))
	for _, x := range xs {
		if x != nil {
			out = append(out, x)
		}
	}
	return out
}

// BuildRules assembles the rule table for mode: the gateway's own
// endpoints, the operator rules from custom and the catch-all services
// rule. The result is sorted by order.
func BuildRules(mode TopologyMode, ex Extractors, custom []config.RuleConfig) ([]*Rule, error) {
	p := mode.GatewayPrefix()

	rules := []*Rule{
		{
			Name:       "login",
			Order:      OrderLogin,
			Paths:      []PathPattern{MustCompilePath(p + "/auth/login")},
			Methods:    NewMethodSet("POST"),
			Extractors: ex.list(ex.X509, ex.Basic),
			Policy:     Authenticated{},
			Challenge:  ChallengeBasic,
		},
		{
			Name:       "logout",
			Order:      OrderLogout,
			Paths:      []PathPattern{MustCompilePath(p + "/auth/logout")},
			Methods:    NewMethodSet("POST", "DELETE"),
			Extractors: ex.list(ex.Bearer),
			Policy:     Authenticated{},
			Challenge:  ChallengeBearer,
		},
		{
			Name:       "query",
			Order:      OrderQuery,
			Paths:      []PathPattern{MustCompilePath(p + "/auth/query")},
			Methods:    NewMethodSet("GET"),
			Extractors: ex.list(ex.Bearer),
			Policy:     Authenticated{},
			Challenge:  ChallengeBearer,
		},
		{
			Name:    "health",
			Order:   OrderHealth,
			Paths:   []PathPattern{MustCompilePath("/application/health"), MustCompilePath("/application/info")},
			Methods: NewMethodSet("GET"),
			Policy:  PermitAll{},
		},
		{
			Name:       "certificate-info",
			Order:      OrderCertificateInfo,
			Paths:      []PathPattern{MustCompilePath(p + "/auth/certificate")},
			Methods:    NewMethodSet("GET"),
			Extractors: ex.list(ex.X509),
			Policy:     Authenticated{},
			Challenge:  ChallengeCertificate,
		},
	}

	for i := range custom {
		r, err := customRule(&custom[i], ex)
		if err != nil {
			return nil, err
		}
		rules = append(rules, r)
	}

	rules = append(rules, &Rule{
		Name:       "services",
		Order:      ServicesOrder,
		Paths:      []PathPattern{MustCompilePath("/**")},
		Extractors: ex.list(ex.X509, ex.OIDC, ex.Bearer),
		Policy:     PermitAll{},
	})

	sort.SliceStable(rules, func(i, j int) bool { return rules[i].Order < rules[j].Order })
	return rules, nil
}

func customRule(rc *config.RuleConfig, ex Extractors) (*Rule, error) {
	if rc.Order < CustomOrderBase || rc.Order >= ServicesOrder {
		return nil, fmt.Errorf("rule %q: order %d outside [%d, %d)", rc.Name, rc.Order, CustomOrderBase, ServicesOrder)
	}

	r := &Rule{
		Name:    rc.Name,
		Order:   rc.Order,
		Methods: NewMethodSet(rc.Methods...),
	}

	for _, p := range rc.Paths {
		pat, err := CompilePath(p)
		if err != nil {
			return nil, fmt.Errorf("rule %q: %w", rc.Name, err)
		}
		r.Paths = append(r.Paths, pat)
	}
	if len(r.Paths) == 0 {
		return nil, fmt.Errorf("rule %q: at least one path is required", rc.Name)
	}

	for _, name := range rc.Extractors {
		e, err := ex.ByName(name)
		if err != nil {
			return nil, fmt.Errorf("rule %q: %w", rc.Name, err)
		}
		r.Extractors = append(r.Extractors, e)
	}

	policy, err := NewPolicy(rc.Policy, rc.Expression)
	if err != nil {
		return nil, fmt.Errorf("rule %q: %w", rc.Name, err)
	}
	r.Policy = policy
	r.Challenge = challengeFor(rc.Extractors)

	return r, nil
}

// challengeFor picks the scheme of the first extractor that has one.
func challengeFor(extractors []string) string {
	for _, name := range extractors {
		switch name {
		case config.ExtractorBasic:
			return ChallengeBasic
		case config.ExtractorX509:
			return ChallengeCertificate
		case config.ExtractorBearer:
			return ChallengeBearer
		}
	}
	return ""
}
