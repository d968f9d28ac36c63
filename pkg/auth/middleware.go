package auth

import (
	"net/http"
	"strings"

	"wisdomchat/pkg/logger"
	"wisdomchat/pkg/telemetry"
	"wisdomchat/pkg/utils"
)

// AuthenticateRequestMiddleware verifies the bearer token on every API
// request, applies CORS headers and per-user rate limits, and injects
// the authenticated user id into the request context.
func AuthenticateRequestMiddleware(cfg SecConfig, v *Verifier) func(http.Handler) http.Handler {
	// rate limiters keyed by authenticated user id
	limiters := &limiterPool{cfg: cfg}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// log request (redacts sensitive headers)
			logger.LogRequest(r)

			// cors preflight
			origin := r.Header.Get("Origin")
			if origin != "" && originAllowed(origin, cfg.AllowedOrigins) {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Vary", "Origin")
				w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,PATCH,OPTIONS")
				w.Header().Set("Access-Control-Max-Age", "600")
				w.Header().Set("Access-Control-Allow-Headers", "Authorization,Content-Type")
			}
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			// unauthenticated surfaces: probes, metrics, docs and uploads
			if passthrough(r) {
				next.ServeHTTP(w, r)
				return
			}

			authSpan := telemetry.StartSpan(r.Context(), "auth.verify_token")
			token := BearerToken(r)
			if token == "" {
				authSpan()
				utils.JSONError(w, http.StatusUnauthorized, "unauthorized")
				logger.Warn("request_unauthorized", "reason", "no_token", "path", r.URL.Path, "remote", r.RemoteAddr)
				return
			}
			userID, err := v.Verify(token)
			authSpan()
			if err != nil {
				utils.JSONError(w, http.StatusUnauthorized, "unauthorized")
				logger.Warn("request_unauthorized", "reason", "bad_token", "path", r.URL.Path, "error", err)
				return
			}

			// rate limiting per authenticated user
			rlSpan := telemetry.StartSpan(r.Context(), "auth.rate_limit")
			if !limiters.Allow(userID) {
				rlSpan()
				utils.JSONError(w, http.StatusTooManyRequests, "rate limit exceeded")
				logger.Warn("rate_limited", "user", userID, "path", r.URL.Path)
				return
			}
			rlSpan()

			logger.Debug("request_allowed", "method", r.Method, "path", r.URL.Path, "user", userID)
			next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), userID)))
		})
	}
}

// passthrough lists the paths probes and browsers hit without a token.
func passthrough(r *http.Request) bool {
	p := r.URL.Path
	if (p == "/healthz" || p == "/readyz") && r.Method == http.MethodGet {
		return true
	}
	if p == "/metrics" && r.Method == http.MethodGet {
		return true
	}
	if strings.HasPrefix(p, "/docs/") || strings.HasPrefix(p, "/uploads/") {
		return r.Method == http.MethodGet
	}
	return false
}

func originAllowed(origin string, allowed []string) bool {
	if len(allowed) == 0 {
		return false
	}
	for _, a := range allowed {
		if a == "*" || strings.EqualFold(a, origin) {
			return true
		}
	}
	return false
}

