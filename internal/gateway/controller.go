package gateway

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/vyrodovalexey/apimlgw/internal/audit"
	"github.com/vyrodovalexey/apimlgw/internal/auth"
	"github.com/vyrodovalexey/apimlgw/internal/certificate"
	"github.com/vyrodovalexey/apimlgw/internal/errorhandler"
	"github.com/vyrodovalexey/apimlgw/internal/observability"
	"github.com/vyrodovalexey/apimlgw/internal/util"
)

// QueryResponse is the body of the token query endpoint.
type QueryResponse struct {
	UserID         string     `json:"userId"`
	CredentialType string     `json:"credentialType"`
	Authenticated  bool       `json:"authenticated"`
	ExpiresAt      *time.Time `json:"expiresAt,omitempty"`
	Groups         []string   `json:"groups,omitempty"`
}

// Controller serves the token endpoints. It only runs after the
// security pipeline has authenticated the caller for the matched rule,
// so every handler finds a result in the request context.
type Controller struct {
	invalidator auth.TokenInvalidator
	cookieName  string
	limiter     *rate.Limiter
	limit       float64
	logger      observability.Logger
	audit       audit.Logger
}

// ControllerOption configures a Controller.
type ControllerOption func(*Controller)

// WithCookieName sets the auth cookie name.
func WithCookieName(name string) ControllerOption {
	return func(c *Controller) {
		if name != "" {
			c.cookieName = name
		}
	}
}

// WithLoginRateLimit throttles successful logins to rps with burst.
// A non-positive rps disables throttling.
func WithLoginRateLimit(rps float64, burst int) ControllerOption {
	return func(c *Controller) {
		if rps <= 0 {
			c.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
		c.limit = rps
	}
}

// WithControllerLogger sets the logger.
func WithControllerLogger(logger observability.Logger) ControllerOption {
	return func(c *Controller) {
		c.logger = logger
	}
}

// WithControllerAudit records logins, logouts and throttled logins.
func WithControllerAudit(a audit.Logger) ControllerOption {
	return func(c *Controller) {
		if a != nil {
			c.audit = a
		}
	}
}

// NewController creates the token controller.
func NewController(invalidator auth.TokenInvalidator, opts ...ControllerOption) *Controller {
	c := &Controller{
		invalidator: invalidator,
		cookieName:  "apimlAuthenticationToken",
		logger:      observability.NopLogger(),
		audit:       audit.NewNoopLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Login answers 204 and sets the auth cookie to the token the
// authentication service issued for the principal.
func (c *Controller) Login(ctx *gin.Context) {
	if err := c.throttle(); err != nil {
		c.tooManyRequests(ctx, err)
		return
	}

	res := mustResult(ctx)
	if res == nil {
		return
	}

	if token := res.Principal.Token; token != "" {
		cookie := &http.Cookie{
			Name:     c.cookieName,
			Value:    token,
			Path:     "/",
			HttpOnly: true,
			Secure:   ctx.Request.TLS != nil,
			SameSite: http.SameSiteStrictMode,
		}
		if exp := res.Principal.ExpiresAt; !exp.IsZero() {
			cookie.Expires = exp
		}
		http.SetCookie(ctx.Writer, cookie)
	} else {
		c.logger.WithContext(ctx.Request.Context()).Debug("login without issued token",
			observability.String("user", res.UserID()),
			observability.String("credential_type", string(res.CredentialType())),
		)
	}

	c.record(ctx, audit.ActionLogin, audit.OutcomeSuccess, res, nil)
	ctx.Status(http.StatusNoContent)
}

// Query describes the current authentication.
func (c *Controller) Query(ctx *gin.Context) {
	res := mustResult(ctx)
	if res == nil {
		return
	}

	resp := QueryResponse{
		UserID:         res.UserID(),
		CredentialType: string(res.CredentialType()),
		Authenticated:  res.Authenticated,
		Groups:         res.Principal.Groups,
	}
	if exp := res.Principal.ExpiresAt; !exp.IsZero() {
		resp.ExpiresAt = &exp
	}
	ctx.JSON(http.StatusOK, resp)
}

// Logout invalidates the presented token and clears the auth cookie.
func (c *Controller) Logout(ctx *gin.Context) {
	res := mustResult(ctx)
	if res == nil {
		return
	}

	cred, ok := res.Credential.(auth.TokenCredential)
	if !ok {
		_ = ctx.Error(auth.NewError(auth.KindTokenNotValid, "logout requires a token"))
		return
	}
	if err := c.invalidator.InvalidateToken(ctx.Request.Context(), cred.Token); err != nil {
		c.record(ctx, audit.ActionLogout, audit.OutcomeFailure, res, err)
		_ = ctx.Error(err)
		return
	}
	c.record(ctx, audit.ActionLogout, audit.OutcomeSuccess, res, nil)

	http.SetCookie(ctx.Writer, &http.Cookie{
		Name:     c.cookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   ctx.Request.TLS != nil,
		SameSite: http.SameSiteStrictMode,
	})
	ctx.Status(http.StatusNoContent)
}

// Certificate describes the client certificate the caller authenticated
// with.
func (c *Controller) Certificate(ctx *gin.Context) {
	res := mustResult(ctx)
	if res == nil {
		return
	}

	cred, ok := res.Credential.(auth.X509Credential)
	if !ok || cred.Leaf() == nil {
		_ = ctx.Error(auth.NewError(auth.KindInvalidCertificate, "no client certificate in the authentication"))
		return
	}
	ctx.JSON(http.StatusOK, certificate.InfoOf(cred.Leaf()))
}

func (c *Controller) throttle() *util.RateLimitError {
	if c.limiter == nil {
		return nil
	}
	r := c.limiter.Reserve()
	if !r.OK() {
		return util.NewRateLimitError(c.limit, time.Second)
	}
	if delay := r.Delay(); delay > 0 {
		r.Cancel()
		return util.NewRateLimitError(c.limit, delay)
	}
	return nil
}

func (c *Controller) tooManyRequests(ctx *gin.Context, err *util.RateLimitError) {
	c.logger.WithContext(ctx.Request.Context()).Warn("login throttled",
		observability.String("remote_addr", ctx.Request.RemoteAddr),
		observability.Error(err),
	)
	c.audit.LogEvent(ctx.Request.Context(), audit.SecurityEvent(
		audit.ActionRateLimit, audit.OutcomeDenied, audit.SubjectFrom(ctx.Request, nil),
	).WithResource(audit.ResourceFrom(ctx.Request, "")))
	ctx.Header("Retry-After", strconv.Itoa(err.RetryAfterSeconds()))
	ctx.Header("Content-Type", "application/json")
	ctx.Status(http.StatusTooManyRequests)
	_ = json.NewEncoder(ctx.Writer).Encode(errorhandler.NewBody(errorhandler.KeyTooManyRequests, ctx.Request))
	ctx.Abort()
}

func (c *Controller) record(ctx *gin.Context, action audit.Action, outcome audit.Outcome, res *auth.Result, err error) {
	event := audit.AuthenticationEvent(action, outcome, audit.SubjectFrom(ctx.Request, res)).
		WithResource(audit.ResourceFrom(ctx.Request, "")).
		WithError(err)
	c.audit.LogEvent(ctx.Request.Context(), event)
}

// mustResult returns the authenticated result or records an
// AuthenticationRequired error on ctx and returns nil.
func mustResult(ctx *gin.Context) *auth.Result {
	res, ok := auth.ResultFromContext(ctx.Request.Context())
	if !ok || res == nil || res.Principal == nil {
		_ = ctx.Error(auth.NewError(auth.KindAuthenticationRequired, "no authentication for this request"))
		return nil
	}
	return res
}
