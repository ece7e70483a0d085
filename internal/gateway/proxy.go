package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"

	"github.com/vyrodovalexey/apimlgw/internal/certificate"
	"github.com/vyrodovalexey/apimlgw/internal/errorhandler"
	"github.com/vyrodovalexey/apimlgw/internal/middleware"
	"github.com/vyrodovalexey/apimlgw/internal/observability"
	"github.com/vyrodovalexey/apimlgw/internal/util"
)

// NewUpstreamProxy returns the hand-off to the proxying stage. The
// forwarded-certificate header never leaves the gateway: the categorizer
// strips it on the way in and the proxy drops any copy a handler added.
func NewUpstreamProxy(target string, forwardHeader string, logger observability.Logger) (http.Handler, error) {
	u, err := url.Parse(target)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid upstream URL %q", target)
	}
	if forwardHeader == "" {
		forwardHeader = certificate.DefaultForwardHeader
	}
	if logger == nil {
		logger = observability.NopLogger()
	}

	return &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(u)
			pr.SetXForwarded()
			pr.Out.Header.Del(forwardHeader)
			if id := observability.RequestIDFromContext(pr.In.Context()); id != "" {
				pr.Out.Header.Set(middleware.HeaderXRequestID, id)
			}
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			if r.Context().Err() != nil {
				// Client went away.
				return
			}
			upstreamErr := util.NewUpstreamError(u.Host, err)
			logger.WithContext(r.Context()).Error("upstream request failed",
				observability.String("path", r.URL.Path),
				observability.Error(upstreamErr),
			)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadGateway)
			_ = json.NewEncoder(w).Encode(errorhandler.NewBody(errorhandler.KeyUpstreamUnavailable, r))
		},
	}, nil
}
