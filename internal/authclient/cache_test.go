package authclient

import (
	"context"
	"crypto/x509"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/vyrodovalexey/apimlgw/internal/auth"
	"github.com/vyrodovalexey/apimlgw/internal/auth/authtest"
	"github.com/vyrodovalexey/apimlgw/internal/retry"
	"github.com/vyrodovalexey/apimlgw/test/helpers"
)

func newCache(t *testing.T, next auth.Verifier, opts ...CacheOption) (*CachingVerifier, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return NewCachingVerifier(next, client, opts...), mr
}

func signedToken(t *testing.T, exp time.Time) string {
	t.Helper()

	tok, err := jwt.NewBuilder().Subject("alice").Expiration(exp).Build()
	require.NoError(t, err)
	signed, err := jwt.Sign(tok, jwt.WithKey(jwa.HS256, []byte("test-secret")))
	require.NoError(t, err)
	return string(signed)
}

func TestCachingVerifier_ReusesTokenVerification(t *testing.T) {
	t.Parallel()

	next := &authtest.MockVerifier{}
	next.On("VerifyToken", mock.Anything, "opaque").Return(&auth.Principal{UserID: "alice"}, nil).Once()

	reg := prometheus.NewRegistry()
	m := NewMetricsWithRegisterer("test", reg)
	v, mr := newCache(t, next, WithCacheTTL(time.Minute), WithCacheMetrics(m))

	for i := 0; i < 3; i++ {
		p, err := v.VerifyToken(context.Background(), "opaque")
		require.NoError(t, err)
		assert.Equal(t, "alice", p.UserID)
	}

	next.AssertNumberOfCalls(t, "VerifyToken", 1)
	key := DefaultKeyPrefix + OpToken + ":" + HashKey("opaque")
	assert.True(t, mr.Exists(key))
	assert.Equal(t, time.Minute, mr.TTL(key))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.cacheMisses.WithLabelValues(OpToken)))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.cacheHits.WithLabelValues(OpToken)))
}

func TestCachingVerifier_KeysDoNotContainCredentials(t *testing.T) {
	t.Parallel()

	next := &authtest.MockVerifier{}
	next.On("VerifyOIDC", mock.Anything, "secret-token").Return(&auth.Principal{UserID: "u"}, nil)

	v, mr := newCache(t, next, WithKeyPrefix("gw:"))
	_, err := v.VerifyOIDC(context.Background(), "secret-token")
	require.NoError(t, err)

	keys := mr.Keys()
	require.Len(t, keys, 1)
	assert.Equal(t, "gw:oidc:"+HashKey("secret-token"), keys[0])
	assert.NotContains(t, keys[0], "secret-token")
}

func TestCachingVerifier_TTLBoundedByExpiry(t *testing.T) {
	t.Parallel()

	now := time.Now().Truncate(time.Second)
	clock := func() time.Time { return now }

	tests := []struct {
		name      string
		tokenExp  time.Time
		principal auth.Principal
		wantTTL   time.Duration
	}{
		{name: "configured ttl when expiry is far", tokenExp: now.Add(time.Hour),
			principal: auth.Principal{UserID: "u"}, wantTTL: 5 * time.Minute},
		{name: "token exp claim shortens ttl", tokenExp: now.Add(30 * time.Second),
			principal: auth.Principal{UserID: "u"}, wantTTL: 30 * time.Second},
		{name: "principal expiry shortens ttl", tokenExp: now.Add(time.Hour),
			principal: auth.Principal{UserID: "u", ExpiresAt: now.Add(10 * time.Second)}, wantTTL: 10 * time.Second},
		{name: "expired token is not cached", tokenExp: now.Add(-time.Second),
			principal: auth.Principal{UserID: "u"}, wantTTL: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			token := signedToken(t, tt.tokenExp)
			principal := tt.principal

			next := &authtest.MockVerifier{}
			next.On("VerifyToken", mock.Anything, token).Return(&principal, nil)

			v, mr := newCache(t, next, WithClock(clock))
			_, err := v.VerifyToken(context.Background(), token)
			require.NoError(t, err)

			key := DefaultKeyPrefix + OpToken + ":" + HashKey(token)
			if tt.wantTTL == 0 {
				assert.False(t, mr.Exists(key))
				return
			}
			assert.Equal(t, tt.wantTTL, mr.TTL(key))
		})
	}
}

func TestCachingVerifier_X509BoundedByNotAfter(t *testing.T) {
	t.Parallel()

	client := helpers.NewClient(t, "alice", nil)
	chain := []*x509.Certificate{client.Cert}

	next := &authtest.MockVerifier{}
	next.On("VerifyX509", mock.Anything, chain).Return(&auth.Principal{UserID: "alice"}, nil).Once()

	notAfter := client.Cert.NotAfter
	v, mr := newCache(t, next,
		WithCacheTTL(48*time.Hour),
		WithClock(func() time.Time { return notAfter.Add(-time.Minute) }),
	)

	for i := 0; i < 2; i++ {
		p, err := v.VerifyX509(context.Background(), chain)
		require.NoError(t, err)
		assert.Equal(t, "alice", p.UserID)
	}

	key := DefaultKeyPrefix + OpX509 + ":" + HashKey(string(client.Cert.Raw))
	assert.Equal(t, time.Minute, mr.TTL(key))
	next.AssertExpectations(t)
}

func TestCachingVerifier_BasicIsNeverCached(t *testing.T) {
	t.Parallel()

	next := &authtest.MockVerifier{}
	next.On("VerifyBasic", mock.Anything, "alice", "pw").Return(&auth.Principal{UserID: "alice"}, nil)

	v, mr := newCache(t, next)
	for i := 0; i < 2; i++ {
		_, err := v.VerifyBasic(context.Background(), "alice", "pw")
		require.NoError(t, err)
	}

	next.AssertNumberOfCalls(t, "VerifyBasic", 2)
	assert.Empty(t, mr.Keys())
}

func TestCachingVerifier_FailuresAreNotCached(t *testing.T) {
	t.Parallel()

	next := &authtest.MockVerifier{}
	next.On("VerifyToken", mock.Anything, "tok").Return(nil, auth.NewError(auth.KindTokenExpired, "expired"))

	v, mr := newCache(t, next)
	for i := 0; i < 2; i++ {
		_, err := v.VerifyToken(context.Background(), "tok")
		assert.ErrorIs(t, err, auth.ErrTokenExpired)
	}

	next.AssertNumberOfCalls(t, "VerifyToken", 2)
	assert.Empty(t, mr.Keys())
}

func TestCachingVerifier_InvalidateEvicts(t *testing.T) {
	t.Parallel()

	next := &authtest.MockVerifier{}
	next.On("VerifyToken", mock.Anything, "tok").Return(&auth.Principal{UserID: "alice"}, nil)
	next.On("InvalidateToken", mock.Anything, "tok").Return(nil)

	v, mr := newCache(t, next)
	_, err := v.VerifyToken(context.Background(), "tok")
	require.NoError(t, err)
	require.Len(t, mr.Keys(), 1)

	require.NoError(t, v.InvalidateToken(context.Background(), "tok"))
	assert.Empty(t, mr.Keys())

	_, err = v.VerifyToken(context.Background(), "tok")
	require.NoError(t, err)
	next.AssertNumberOfCalls(t, "VerifyToken", 2)
}

func TestCachingVerifier_RedisDownDegradesToService(t *testing.T) {
	t.Parallel()

	next := &authtest.MockVerifier{}
	next.On("VerifyToken", mock.Anything, "tok").Return(&auth.Principal{UserID: "alice"}, nil)
	next.On("InvalidateToken", mock.Anything, "tok").Return(nil)

	reg := prometheus.NewRegistry()
	m := NewMetricsWithRegisterer("test", reg)
	v, mr := newCache(t, next, WithCacheMetrics(m))
	mr.Close()

	p, err := v.VerifyToken(context.Background(), "tok")
	require.NoError(t, err)
	assert.Equal(t, "alice", p.UserID)
	require.NoError(t, v.InvalidateToken(context.Background(), "tok"))

	assert.GreaterOrEqual(t, testutil.ToFloat64(m.cacheErrors.WithLabelValues(OpToken)), float64(1))
	next.AssertExpectations(t)
}

func TestCachingVerifier_CorruptEntryIsReplaced(t *testing.T) {
	t.Parallel()

	next := &authtest.MockVerifier{}
	next.On("VerifyToken", mock.Anything, "tok").Return(&auth.Principal{UserID: "alice"}, nil)

	v, mr := newCache(t, next)
	key := DefaultKeyPrefix + OpToken + ":" + HashKey("tok")
	require.NoError(t, mr.Set(key, "{not json"))

	p, err := v.VerifyToken(context.Background(), "tok")
	require.NoError(t, err)
	assert.Equal(t, "alice", p.UserID)

	got, err := mr.Get(key)
	require.NoError(t, err)
	assert.Contains(t, got, `"userId":"alice"`)
}

func TestNewRedisClient(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	addr := mr.Addr()
	client, err := NewRedisClient(context.Background(), addr, "", 0, nil)
	require.NoError(t, err)
	assert.NoError(t, client.Close())

	mr.Close()
	_, err = NewRedisClient(context.Background(), addr, "", 0,
		&retry.Config{MaxRetries: 2, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond})
	assert.ErrorContains(t, err, "failed to connect to redis")
}

func TestNewRedisClient_WaitsForRedis(t *testing.T) {
	t.Parallel()

	probe := miniredis.RunT(t)
	addr := probe.Addr()
	probe.Close()

	late := miniredis.NewMiniRedis()
	t.Cleanup(late.Close)
	started := make(chan error, 1)
	go func() {
		time.Sleep(20 * time.Millisecond)
		started <- late.StartAddr(addr)
	}()

	connect := &retry.Config{MaxRetries: 20, InitialBackoff: 10 * time.Millisecond, MaxBackoff: 20 * time.Millisecond}
	client, err := NewRedisClient(context.Background(), addr, "", 0, connect)
	require.NoError(t, <-started)
	require.NoError(t, err)
	assert.NoError(t, client.Close())
}

func TestTokenExpiry(t *testing.T) {
	t.Parallel()

	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	assert.True(t, exp.Equal(tokenExpiry(signedToken(t, exp))))
	assert.True(t, tokenExpiry("opaque").IsZero())
}
