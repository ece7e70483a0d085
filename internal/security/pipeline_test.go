package security

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vyrodovalexey/apimlgw/internal/auth"
	"github.com/vyrodovalexey/apimlgw/internal/certificate"
	"github.com/vyrodovalexey/apimlgw/test/helpers"
)

type fakeExtractor struct {
	name  string
	calls atomic.Int32
	fn    func(ctx context.Context, rc *auth.RequestContext) (*auth.Result, error)
}

func (f *fakeExtractor) Name() string { return f.name }

func (f *fakeExtractor) Extract(ctx context.Context, rc *auth.RequestContext) (*auth.Result, error) {
	f.calls.Add(1)
	if f.fn == nil {
		return nil, nil
	}
	return f.fn(ctx, rc)
}

func declining(name string) *fakeExtractor {
	return &fakeExtractor{name: name}
}

func succeeding(name, user string) *fakeExtractor {
	return &fakeExtractor{name: name, fn: func(context.Context, *auth.RequestContext) (*auth.Result, error) {
		return auth.NewResult(&auth.Principal{UserID: user}, auth.BasicCredential{Username: user}), nil
	}}
}

func failing(name string, err error) *fakeExtractor {
	return &fakeExtractor{name: name, fn: func(context.Context, *auth.RequestContext) (*auth.Result, error) {
		return nil, err
	}}
}

func newPipeline(t *testing.T, policy Policy, extractors ...auth.Extractor) (*Pipeline, *Metrics) {
	t.Helper()

	router, err := NewRouter([]*Rule{{
		Name:       "api",
		Order:      100,
		Paths:      []PathPattern{MustCompilePath("/api/**")},
		Extractors: extractors,
		Policy:     policy,
		Challenge:  ChallengeBasic,
	}})
	require.NoError(t, err)

	m := NewMetricsWithRegisterer("test", prometheus.NewRegistry())
	return NewPipeline(nil, router, WithPipelineMetrics(m)), m
}

func TestPipeline_NoRuleRejectsWithoutExtraction(t *testing.T) {
	t.Parallel()

	ex := succeeding("basic", "alice")
	p, m := newPipeline(t, PermitAll{}, ex)

	out := p.Process(context.Background(), httptest.NewRequest(http.MethodGet, "/other", nil))

	assert.Equal(t, StateRejected, out.State)
	assert.Equal(t, StateMatchingRule, out.FailedIn)
	assert.ErrorIs(t, out.Err, auth.ErrNotFound)
	assert.Nil(t, out.Rule)
	assert.Zero(t, ex.calls.Load())
	assert.Equal(t, float64(1), testutil.ToFloat64(m.requestsTotal.WithLabelValues("none", OutcomeRejected)))
}

func TestPipeline_FirstCommitWins(t *testing.T) {
	t.Parallel()

	first := declining("x509")
	second := succeeding("basic", "alice")
	third := succeeding("bearer", "bob")
	p, m := newPipeline(t, Authenticated{}, first, second, third)

	out := p.Process(context.Background(), httptest.NewRequest(http.MethodGet, "/api/orders", nil))

	require.Equal(t, StateProceed, out.State)
	require.NoError(t, out.Err)
	assert.Equal(t, "alice", out.Context.Security.Result().UserID())
	assert.Equal(t, int32(1), first.calls.Load())
	assert.Equal(t, int32(1), second.calls.Load())
	assert.Zero(t, third.calls.Load())

	assert.Equal(t, float64(1), testutil.ToFloat64(m.extractorTotal.WithLabelValues("x509", ExtractorDeclined)))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.extractorTotal.WithLabelValues("basic", ExtractorSuccess)))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.requestsTotal.WithLabelValues("api", OutcomeProceed)))
}

func TestPipeline_FailureCommits(t *testing.T) {
	t.Parallel()

	first := failing("bearer", auth.NewError(auth.KindTokenExpired, "expired"))
	second := succeeding("basic", "alice")
	p, _ := newPipeline(t, PermitAll{}, first, second)

	out := p.Process(context.Background(), httptest.NewRequest(http.MethodGet, "/api/orders", nil))

	assert.Equal(t, StateRejected, out.State)
	assert.Equal(t, StateExtractingCredential, out.FailedIn)
	assert.ErrorIs(t, out.Err, auth.ErrTokenExpired)
	assert.Zero(t, second.calls.Load())
	assert.Nil(t, out.Context.Security.Result())
	assert.Equal(t, "api", out.Rule.Name)
}

func TestPipeline_Authorization(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		policy    Policy
		extractor auth.Extractor
		wantState State
		wantErr   error
	}{
		{"anonymous on protected rule", Authenticated{}, declining("basic"), StateRejected, auth.ErrAuthenticationRequired},
		{"anonymous on open rule", PermitAll{}, declining("basic"), StateProceed, nil},
		{"authenticated on protected rule", Authenticated{}, succeeding("basic", "alice"), StateProceed, nil},
		{"deny all", DenyAll{}, succeeding("basic", "alice"), StateRejected, auth.ErrAccessDenied},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			p, _ := newPipeline(t, tt.policy, tt.extractor)
			out := p.Process(context.Background(), httptest.NewRequest(http.MethodGet, "/api/x", nil))

			assert.Equal(t, tt.wantState, out.State)
			if tt.wantErr != nil {
				assert.ErrorIs(t, out.Err, tt.wantErr)
				assert.Equal(t, StateAuthorizing, out.FailedIn)
			} else {
				assert.NoError(t, out.Err)
			}
		})
	}
}

func TestPipeline_ExtractorReturningStoredResult(t *testing.T) {
	t.Parallel()

	var stored *auth.Result
	ex := &fakeExtractor{name: "x509", fn: func(_ context.Context, rc *auth.RequestContext) (*auth.Result, error) {
		stored = auth.NewResult(&auth.Principal{UserID: "alice"}, auth.X509Credential{})
		require.NoError(t, rc.Security.Set(stored))
		return stored, nil
	}}
	p, _ := newPipeline(t, Authenticated{}, ex)

	out := p.Process(context.Background(), httptest.NewRequest(http.MethodGet, "/api/x", nil))

	require.Equal(t, StateProceed, out.State)
	assert.Same(t, stored, out.Context.Security.Result())
}

func TestPipeline_CanceledBeforeExtraction(t *testing.T) {
	t.Parallel()

	ex := succeeding("basic", "alice")
	p, m := newPipeline(t, PermitAll{}, ex)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out := p.Process(ctx, httptest.NewRequest(http.MethodGet, "/api/x", nil))

	assert.Equal(t, StateRejected, out.State)
	assert.ErrorIs(t, out.Err, context.Canceled)
	assert.True(t, IsCanceled(out.Err))
	assert.Zero(t, ex.calls.Load())
	assert.Equal(t, float64(1), testutil.ToFloat64(m.requestsTotal.WithLabelValues("api", OutcomeCanceled)))
}

func TestPipeline_ResultDiscardedAfterDisconnect(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	ex := &fakeExtractor{name: "bearer", fn: func(context.Context, *auth.RequestContext) (*auth.Result, error) {
		cancel()
		return auth.NewResult(&auth.Principal{UserID: "late"}, auth.TokenCredential{Token: "t"}), nil
	}}
	p, _ := newPipeline(t, PermitAll{}, ex)

	out := p.Process(ctx, httptest.NewRequest(http.MethodGet, "/api/x", nil))

	assert.ErrorIs(t, out.Err, context.Canceled)
	assert.Nil(t, out.Context.Security.Result())
}

func TestIsCanceled(t *testing.T) {
	t.Parallel()

	assert.True(t, IsCanceled(context.Canceled))
	assert.True(t, IsCanceled(context.DeadlineExceeded))
	assert.False(t, IsCanceled(auth.WrapError(auth.KindServiceUnavailable, "timed out", context.DeadlineExceeded)))
	assert.False(t, IsCanceled(errors.New("boom")))
	assert.False(t, IsCanceled(nil))
}

func TestPipeline_CategorizesAndStripsHeader(t *testing.T) {
	t.Parallel()

	gateway := helpers.NewServer(t, "gateway", nil)
	client := helpers.NewClient(t, "alice", nil)

	keys := certificate.NewTrustedKeySet()
	keys.AddCertificates(gateway.Cert)
	categorizer := certificate.NewCategorizer(keys, certificate.WithForwarding(true))

	var seen certificate.Categorized
	ex := &fakeExtractor{name: "x509", fn: func(_ context.Context, rc *auth.RequestContext) (*auth.Result, error) {
		seen = rc.Certificates
		return nil, nil
	}}

	router, err := NewRouter([]*Rule{{Name: "api", Order: 1, Paths: []PathPattern{MustCompilePath("/**")},
		Extractors: []auth.Extractor{ex}, Policy: PermitAll{}}})
	require.NoError(t, err)
	p := NewPipeline(categorizer, router)

	req := httptest.NewRequest(http.MethodGet, "/api/x", nil)
	req.TLS = &tls.ConnectionState{PeerCertificates: []*x509.Certificate{gateway.Cert}}
	req.Header.Set(certificate.DefaultForwardHeader, certificate.Encode(client.Cert))

	out := p.Process(context.Background(), req)

	require.Equal(t, StateProceed, out.State)
	assert.Empty(t, req.Header.Get(certificate.DefaultForwardHeader))
	assert.Equal(t, certificate.BranchForwarded, seen.Branch)
	require.Len(t, seen.ClientAuth, 1)
	assert.True(t, seen.ClientAuth[0].Equal(client.Cert))
	require.Len(t, seen.InternalTrust, 1)
	assert.True(t, seen.InternalTrust[0].Equal(gateway.Cert))
}

func TestState_String(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "extracting_credential", StateExtractingCredential.String())
	assert.Equal(t, "state(42)", State(42).String())
}
