package security

import (
	"fmt"
	"strings"

	"github.com/google/cel-go/cel"

	"github.com/vyrodovalexey/apimlgw/internal/auth"
	"github.com/vyrodovalexey/apimlgw/internal/config"
)

// Policy is the authorization predicate of a rule. It sees the result of
// credential extraction, which may be absent.
type Policy interface {
	Name() string
	Authorize(rc *auth.RequestContext) error
}

// PermitAll allows every request, authenticated or not.
type PermitAll struct{}

// Name implements Policy.
func (PermitAll) Name() string { return config.PolicyPermitAll }

// Authorize implements Policy.
func (PermitAll) Authorize(*auth.RequestContext) error { return nil }

// Authenticated requires an authenticated principal.
type Authenticated struct{}

// Name implements Policy.
func (Authenticated) Name() string { return config.PolicyAuthenticated }

// Authorize implements Policy.
func (Authenticated) Authorize(rc *auth.RequestContext) error {
	if rc.Security.IsAuthenticated() {
		return nil
	}
	return auth.NewError(auth.KindAuthenticationRequired, "authentication is required")
}

// DenyAll rejects every request.
type DenyAll struct{}

// Name implements Policy.
func (DenyAll) Name() string { return config.PolicyDenyAll }

// Authorize implements Policy.
func (DenyAll) Authorize(*auth.RequestContext) error {
	return auth.NewError(auth.KindAccessDenied, "access to this resource is denied")
}

// Expression authorizes with a CEL expression evaluated over the request
// and the principal. A false result rejects anonymous callers with
// KindAuthenticationRequired and authenticated ones with KindAccessDenied.
//
// Variables:
//
//	request.method, request.path   string
//	request.headers                map(string, string), canonical names
//	principal.authenticated        bool
//	principal.userId               string
//	principal.credentialType       string
//	principal.groups               list(string)
//	principal.claims               map(string, string)
type Expression struct {
	source  string
	program cel.Program
}

var celEnv = mustCELEnv()

func mustCELEnv() *cel.Env {
	env, err := cel.NewEnv(
		cel.Variable("request", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("principal", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		panic(fmt.Sprintf("failed to create CEL environment: %v", err))
	}
	return env
}

// NewExpression compiles source. The expression must evaluate to bool.
func NewExpression(source string) (*Expression, error) {
	if strings.TrimSpace(source) == "" {
		return nil, fmt.Errorf("empty authorization expression")
	}

	ast, issues := celEnv.Compile(source)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile expression %q: %w", source, issues.Err())
	}
	if !ast.OutputType().IsExactType(cel.BoolType) && !ast.OutputType().IsExactType(cel.DynType) {
		return nil, fmt.Errorf("expression %q must evaluate to bool, got %s", source, ast.OutputType())
	}

	prg, err := celEnv.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to build program for %q: %w", source, err)
	}
	return &Expression{source: source, program: prg}, nil
}

// Name implements Policy.
func (e *Expression) Name() string { return config.PolicyExpression }

// Source returns the expression text.
func (e *Expression) Source() string { return e.source }

// Authorize implements Policy.
func (e *Expression) Authorize(rc *auth.RequestContext) error {
	out, _, err := e.program.Eval(map[string]interface{}{
		"request":   requestVars(rc),
		"principal": principalVars(rc.Security.Result()),
	})
	if err != nil {
		return auth.WrapError(auth.KindAccessDenied, "authorization expression failed", err)
	}

	allowed, ok := out.Value().(bool)
	if ok && allowed {
		return nil
	}
	if !rc.Security.IsAuthenticated() {
		return auth.NewError(auth.KindAuthenticationRequired, "authentication is required")
	}
	return auth.NewError(auth.KindAccessDenied, "access to this resource is denied")
}

func requestVars(rc *auth.RequestContext) map[string]interface{} {
	headers := make(map[string]string, len(rc.Request.Header))
	for name, values := range rc.Request.Header {
		if len(values) > 0 {
			headers[name] = values[0]
		}
	}
	return map[string]interface{}{
		"method":  rc.Request.Method,
		"path":    rc.Request.URL.Path,
		"headers": headers,
	}
}

func principalVars(r *auth.Result) map[string]interface{} {
	vars := map[string]interface{}{
		"authenticated":  false,
		"userId":         "",
		"credentialType": "",
		"groups":         []string{},
		"claims":         map[string]string{},
	}
	if r == nil || r.Principal == nil {
		return vars
	}

	vars["authenticated"] = r.Authenticated
	vars["userId"] = r.Principal.UserID
	vars["credentialType"] = string(r.CredentialType())
	if r.Principal.Groups != nil {
		vars["groups"] = r.Principal.Groups
	}
	if r.Principal.Claims != nil {
		vars["claims"] = r.Principal.Claims
	}
	return vars
}

// NewPolicy builds the policy named by a rule configuration.
func NewPolicy(name, expression string) (Policy, error) {
	switch name {
	case config.PolicyPermitAll:
		return PermitAll{}, nil
	case config.PolicyAuthenticated, "":
		return Authenticated{}, nil
	case config.PolicyDenyAll:
		return DenyAll{}, nil
	case config.PolicyExpression:
		return NewExpression(expression)
	default:
		return nil, fmt.Errorf("unknown policy %q", name)
	}
}
