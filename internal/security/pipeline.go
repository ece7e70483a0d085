package security

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vyrodovalexey/apimlgw/internal/auth"
	"github.com/vyrodovalexey/apimlgw/internal/certificate"
	"github.com/vyrodovalexey/apimlgw/internal/observability"
)

// State is a step of the per-request pipeline.
type State int

// Pipeline states in execution order. Authentication is folded into
// extraction since extractors verify inline.
const (
	StateCategorizing State = iota
	StateMatchingRule
	StateExtractingCredential
	StateAuthorizing
	StateProceed
	StateRejected
)

func (s State) String() string {
	switch s {
	case StateCategorizing:
		return "categorizing"
	case StateMatchingRule:
		return "matching_rule"
	case StateExtractingCredential:
		return "extracting_credential"
	case StateAuthorizing:
		return "authorizing"
	case StateProceed:
		return "proceed"
	case StateRejected:
		return "rejected"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Outcome is the result of running the pipeline on one request.
type Outcome struct {
	Context *auth.RequestContext

	// Rule is nil when no rule matched.
	Rule *Rule

	// State is StateProceed or StateRejected.
	State State

	// FailedIn is the state that rejected the request.
	FailedIn State

	Err error
}

// Pipeline runs certificate categorization, rule selection, credential
// extraction and authorization for each request.
type Pipeline struct {
	categorizer *certificate.Categorizer
	router      *Router
	logger      observability.Logger
	metrics     *Metrics
	tracer      trace.Tracer
}

// PipelineOption configures a Pipeline.
type PipelineOption func(*Pipeline)

// WithPipelineLogger sets the logger.
func WithPipelineLogger(logger observability.Logger) PipelineOption {
	return func(p *Pipeline) {
		p.logger = logger
	}
}

// WithPipelineMetrics sets the metrics.
func WithPipelineMetrics(m *Metrics) PipelineOption {
	return func(p *Pipeline) {
		p.metrics = m
	}
}

// WithPipelineTracer sets the tracer.
func WithPipelineTracer(t trace.Tracer) PipelineOption {
	return func(p *Pipeline) {
		if t != nil {
			p.tracer = t
		}
	}
}

// NewPipeline creates a pipeline. A nil categorizer yields empty
// categorizations.
func NewPipeline(categorizer *certificate.Categorizer, router *Router, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{
		categorizer: categorizer,
		router:      router,
		logger:      observability.NopLogger(),
		tracer:      otel.Tracer("apimlgw/security"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Process runs the pipeline on r. It never returns a nil Outcome. The
// forwarded certificate header is removed from r in every case.
func (p *Pipeline) Process(ctx context.Context, r *http.Request) *Outcome {
	start := time.Now()
	ctx, span := p.tracer.Start(ctx, "security.pipeline",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("http.request.method", r.Method),
			attribute.String("url.path", r.URL.Path),
		),
	)
	defer span.End()

	out := p.run(ctx, span, r)

	ruleName := "none"
	if out.Rule != nil {
		ruleName = out.Rule.Name
		span.SetAttributes(attribute.String("security.rule", ruleName))
	}

	outcome := OutcomeProceed
	switch {
	case out.State == StateProceed:
		span.SetAttributes(attribute.String("security.user", out.Context.Security.Result().UserID()))
		span.SetStatus(codes.Ok, "")
	case IsCanceled(out.Err):
		outcome = OutcomeCanceled
		span.SetStatus(codes.Error, "canceled")
	default:
		outcome = OutcomeRejected
		span.RecordError(out.Err)
		span.SetStatus(codes.Error, out.Err.Error())
		p.logger.WithContext(ctx).Debug("request rejected",
			observability.String("method", r.Method),
			observability.String("path", r.URL.Path),
			observability.String("rule", ruleName),
			observability.String("state", out.FailedIn.String()),
			observability.String("kind", auth.KindOf(out.Err).String()),
			observability.Error(out.Err),
		)
	}

	if p.metrics != nil {
		p.metrics.RecordRequest(ruleName, outcome, time.Since(start))
	}
	return out
}

func (p *Pipeline) run(ctx context.Context, span trace.Span, r *http.Request) *Outcome {
	// Categorizing
	var certs certificate.Categorized
	if p.categorizer != nil {
		certs = p.categorizer.CategorizeRequest(r)
	}
	rc := auth.NewRequestContext(r, certs)
	out := &Outcome{Context: rc}
	span.AddEvent(StateCategorizing.String(), trace.WithAttributes(
		attribute.String("certificate.branch", string(certs.Branch)),
		attribute.Int("certificate.client_auth", len(certs.ClientAuth)),
		attribute.Int("certificate.internal_trust", len(certs.InternalTrust)),
	))

	// Matching
	rule, err := p.router.Match(r.Method, r.URL.Path)
	if err != nil {
		return out.reject(StateMatchingRule, err)
	}
	out.Rule = rule
	span.AddEvent(StateMatchingRule.String(), trace.WithAttributes(attribute.String("security.rule", rule.Name)))

	// Extracting
	if err := p.extract(ctx, rule, rc); err != nil {
		return out.reject(StateExtractingCredential, err)
	}
	span.AddEvent(StateExtractingCredential.String(), trace.WithAttributes(
		attribute.String("security.credential_type", string(rc.Security.Result().CredentialType())),
	))

	// Authorizing
	if err := ctx.Err(); err != nil {
		return out.reject(StateAuthorizing, err)
	}
	if err := rule.Policy.Authorize(rc); err != nil {
		return out.reject(StateAuthorizing, err)
	}

	out.State = StateProceed
	return out
}

// extract tries the rule's extractors in order. The first one that
// commits ends the chain; declines are skipped.
func (p *Pipeline) extract(ctx context.Context, rule *Rule, rc *auth.RequestContext) error {
	for _, ex := range rule.Extractors {
		if err := ctx.Err(); err != nil {
			return err
		}

		res, err := ex.Extract(ctx, rc)
		if err != nil {
			p.recordExtractor(ex.Name(), ExtractorFailure)
			return err
		}
		if res == nil {
			p.recordExtractor(ex.Name(), ExtractorDeclined)
			continue
		}

		// The client may have gone away while the verifier was running.
		if err := ctx.Err(); err != nil {
			return err
		}
		p.recordExtractor(ex.Name(), ExtractorSuccess)

		// An extractor may hand back the result already in the context.
		if rc.Security.Result() == res {
			return nil
		}
		if err := rc.Security.Set(res); err != nil {
			return fmt.Errorf("extractor %s: %w", ex.Name(), err)
		}
		return nil
	}
	return nil
}

func (p *Pipeline) recordExtractor(name, result string) {
	if p.metrics != nil {
		p.metrics.RecordExtractor(name, result)
	}
}

func (o *Outcome) reject(state State, err error) *Outcome {
	o.State = StateRejected
	o.FailedIn = state
	o.Err = err
	return o
}

// IsCanceled reports whether err ends the request because its context
// is done. Classified errors wrapping a deadline are not cancellations.
func IsCanceled(err error) bool {
	if _, ok := auth.AsError(err); ok {
		return false
	}
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
