package api

import (
	"net/http"
	"strings"

	"golang.org/x/time/rate"

	"github.com/reedfamily/mcbridge/internal/auth"
)

// AuthMiddleware requires a valid bearer token. Browsers cannot set headers on
// websocket upgrades, so a "token" query parameter is accepted too.
func AuthMiddleware(authSvc *auth.Service) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if !authSvc.Enabled() {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := r.URL.Query().Get("token")
			if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
				token = h[7:]
			}
			if token == "" {
				writeError(w, http.StatusUnauthorized, "missing authorization header")
				return
			}
			if err := authSvc.Validate(token); err != nil {
				writeError(w, http.StatusUnauthorized, "invalid token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RateLimit rejects requests beyond perSecond (with the given burst) with 429.
// A non-positive rate disables the limit. onReject may be nil.
func RateLimit(perSecond float64, burst int, onReject func()) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if perSecond <= 0 {
			return next
		}
		if burst <= 0 {
			burst = int(perSecond * 2)
			if burst < 1 {
				burst = 1
			}
		}
		limiter := rate.NewLimiter(rate.Limit(perSecond), burst)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow() {
				if onReject != nil {
					onReject()
				}
				writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
