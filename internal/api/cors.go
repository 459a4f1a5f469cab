package api

import (
	"net/http"
	"strconv"
	"strings"
)

// corsMiddleware enforces policy on every request. Allowed origins receive
// the full allow-lists on both preflight and actual requests; other origins
// receive no CORS headers and the browser blocks the response. OPTIONS
// requests end here unless the policy asks for them to continue.
func corsMiddleware(policy CorsPolicy, next http.Handler) http.Handler {
	methods := strings.Join(policy.AllowedMethods, ",")
	headers := strings.Join(policy.AllowedHeaders, ",")
	exposed := strings.Join(policy.ExposedHeaders, ",")
	status := policy.OptionsSuccessStatus
	if status == 0 {
		status = http.StatusNoContent
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Add("Vary", "Origin")

		origin := r.Header.Get("Origin")
		if policy.AllowsOrigin(origin) {
			h.Set("Access-Control-Allow-Origin", origin)
			if policy.AllowCredentials {
				h.Set("Access-Control-Allow-Credentials", "true")
			}
			h.Set("Access-Control-Allow-Methods", methods)
			h.Set("Access-Control-Allow-Headers", headers)
			if exposed != "" {
				h.Set("Access-Control-Expose-Headers", exposed)
			}
		}

		if r.Method == http.MethodOptions && !policy.PreflightContinue {
			h.Set("Content-Length", strconv.Itoa(0))
			w.WriteHeader(status)
			return
		}

		next.ServeHTTP(w, r)
	})
}
