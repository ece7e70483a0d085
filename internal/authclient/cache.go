package authclient

import (
	"context"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/redis/go-redis/v9"

	"github.com/vyrodovalexey/apimlgw/internal/auth"
	"github.com/vyrodovalexey/apimlgw/internal/observability"
	"github.com/vyrodovalexey/apimlgw/internal/retry"
)

// DefaultCacheTTL bounds how long a verification is reused.
const DefaultCacheTTL = 5 * time.Minute

// DefaultKeyPrefix prefixes every cache key.
const DefaultKeyPrefix = "apimlgw:auth:"

// redisPingTimeout bounds the connectivity check at construction.
const redisPingTimeout = 5 * time.Second

// CachingVerifier reuses successful token, OIDC and certificate
// verifications from Redis. Basic credentials always go to the service.
// Redis failures degrade to direct calls.
type CachingVerifier struct {
	next      auth.Verifier
	client    redis.UniversalClient
	keyPrefix string
	ttl       time.Duration
	logger    observability.Logger
	metrics   *Metrics
	now       func() time.Time
}

// CacheOption configures a CachingVerifier.
type CacheOption func(*CachingVerifier)

// WithCacheTTL sets the maximum lifetime of an entry.
func WithCacheTTL(ttl time.Duration) CacheOption {
	return func(v *CachingVerifier) {
		if ttl > 0 {
			v.ttl = ttl
		}
	}
}

// WithKeyPrefix sets the key prefix.
func WithKeyPrefix(prefix string) CacheOption {
	return func(v *CachingVerifier) {
		if prefix != "" {
			v.keyPrefix = prefix
		}
	}
}

// WithCacheLogger sets the logger.
func WithCacheLogger(logger observability.Logger) CacheOption {
	return func(v *CachingVerifier) {
		v.logger = logger
	}
}

// WithCacheMetrics sets the metrics.
func WithCacheMetrics(m *Metrics) CacheOption {
	return func(v *CachingVerifier) {
		v.metrics = m
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) CacheOption {
	return func(v *CachingVerifier) {
		if now != nil {
			v.now = now
		}
	}
}

// NewCachingVerifier wraps next with a Redis cache.
func NewCachingVerifier(next auth.Verifier, client redis.UniversalClient, opts ...CacheOption) *CachingVerifier {
	v := &CachingVerifier{
		next:      next,
		client:    client,
		keyPrefix: DefaultKeyPrefix,
		ttl:       DefaultCacheTTL,
		logger:    observability.NopLogger(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// NewRedisClient connects to a standalone Redis and checks it answers.
// A non-nil connect retries the check with backoff, so the gateway can
// start alongside a Redis that is still coming up.
func NewRedisClient(ctx context.Context, addr, password string, db int, connect *retry.Config) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	err := retry.Do(ctx, connect, func() error {
		pingCtx, cancel := context.WithTimeout(ctx, redisPingTimeout)
		defer cancel()
		return client.Ping(pingCtx).Err()
	}, nil)
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

// VerifyBasic implements auth.BasicVerifier.
func (v *CachingVerifier) VerifyBasic(ctx context.Context, username, password string) (*auth.Principal, error) {
	return v.next.VerifyBasic(ctx, username, password)
}

// VerifyToken implements auth.TokenVerifier.
func (v *CachingVerifier) VerifyToken(ctx context.Context, token string) (*auth.Principal, error) {
	return v.cached(ctx, OpToken, token, tokenExpiry(token), func() (*auth.Principal, error) {
		return v.next.VerifyToken(ctx, token)
	})
}

// VerifyOIDC implements auth.OIDCVerifier.
func (v *CachingVerifier) VerifyOIDC(ctx context.Context, token string) (*auth.Principal, error) {
	return v.cached(ctx, OpOIDC, token, tokenExpiry(token), func() (*auth.Principal, error) {
		return v.next.VerifyOIDC(ctx, token)
	})
}

// VerifyX509 implements auth.X509Verifier. Entries never outlive the
// client certificate.
func (v *CachingVerifier) VerifyX509(ctx context.Context, chain []*x509.Certificate) (*auth.Principal, error) {
	if len(chain) == 0 {
		return v.next.VerifyX509(ctx, chain)
	}
	leaf := chain[0]
	return v.cached(ctx, OpX509, string(leaf.Raw), leaf.NotAfter, func() (*auth.Principal, error) {
		return v.next.VerifyX509(ctx, chain)
	})
}

// InvalidateToken revokes token at the service and evicts its entry.
func (v *CachingVerifier) InvalidateToken(ctx context.Context, token string) error {
	if err := v.client.Del(ctx, v.key(OpToken, token)).Err(); err != nil {
		v.cacheError(OpInvalidate, err)
	}
	return v.next.InvalidateToken(ctx, token)
}

func (v *CachingVerifier) cached(
	ctx context.Context, op, secret string, expiry time.Time, verify func() (*auth.Principal, error),
) (*auth.Principal, error) {
	key := v.key(op, secret)

	data, err := v.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var p auth.Principal
		if jsonErr := json.Unmarshal(data, &p); jsonErr == nil && p.UserID != "" {
			v.recordHit(op)
			return &p, nil
		}
		v.cacheError(op, errors.New("corrupt cache entry"))
	case errors.Is(err, redis.Nil):
		v.recordMiss(op)
	default:
		v.cacheError(op, err)
	}

	p, err := verify()
	if err != nil {
		return nil, err
	}

	ttl := v.entryTTL(p, expiry)
	if ttl <= 0 {
		return p, nil
	}
	if data, err := json.Marshal(p); err == nil {
		if err := v.client.Set(ctx, key, data, ttl).Err(); err != nil {
			v.cacheError(op, err)
		}
	}
	return p, nil
}

// entryTTL returns the configured TTL shortened to the earliest known
// expiry. It is not positive when the credential has already expired.
func (v *CachingVerifier) entryTTL(p *auth.Principal, expiry time.Time) time.Duration {
	ttl := v.ttl
	now := v.now()
	for _, exp := range []time.Time{expiry, p.ExpiresAt} {
		if exp.IsZero() {
			continue
		}
		if left := exp.Sub(now); left < ttl {
			ttl = left
		}
	}
	return ttl
}

func (v *CachingVerifier) key(op, secret string) string {
	return v.keyPrefix + op + ":" + HashKey(secret)
}

func (v *CachingVerifier) recordHit(op string) {
	if v.metrics != nil {
		v.metrics.RecordCacheHit(op)
	}
}

func (v *CachingVerifier) recordMiss(op string) {
	if v.metrics != nil {
		v.metrics.RecordCacheMiss(op)
	}
}

func (v *CachingVerifier) cacheError(op string, err error) {
	v.logger.Warn("verification cache unavailable",
		observability.String("operation", op),
		observability.Error(err),
	)
	if v.metrics != nil {
		v.metrics.RecordCacheError(op)
	}
}

// HashKey returns the hex SHA-256 of key. Credentials never appear in
// Redis in clear.
func HashKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// tokenExpiry reads the exp claim without checking the signature. The
// service remains the authority; the value only bounds the cache TTL.
func tokenExpiry(token string) time.Time {
	t, err := jwt.ParseInsecure([]byte(token))
	if err != nil {
		return time.Time{}
	}
	return t.Expiration()
}

var _ auth.Verifier = (*CachingVerifier)(nil)
