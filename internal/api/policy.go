package api

import (
	"net/http"
	"slices"
	"strings"
)

// BasePath prefixes every application route.
const BasePath = "/api"

// CorsPolicy describes which cross-origin callers may use the API.
type CorsPolicy struct {
	AllowedOrigins       []string
	AllowCredentials     bool
	AllowedMethods       []string
	AllowedHeaders       []string
	ExposedHeaders       []string
	PreflightContinue    bool
	OptionsSuccessStatus int
}

// NewCorsPolicy returns the policy that admits the single frontend origin.
func NewCorsPolicy(frontendURL string) CorsPolicy {
	return CorsPolicy{
		AllowedOrigins:   []string{normalizeOrigin(frontendURL)},
		AllowCredentials: true,
		AllowedMethods: []string{
			http.MethodGet,
			http.MethodPost,
			http.MethodPut,
			http.MethodDelete,
			http.MethodPatch,
			http.MethodOptions,
		},
		AllowedHeaders: []string{
			"Content-Type",
			"Authorization",
			"X-Requested-With",
			"Accept",
			"Origin",
			"Access-Control-Request-Method",
			"Access-Control-Request-Headers",
		},
		ExposedHeaders:       []string{"set-cookie"},
		PreflightContinue:    false,
		OptionsSuccessStatus: http.StatusNoContent,
	}
}

// AllowsOrigin reports whether origin is on the allow-list.
func (p CorsPolicy) AllowsOrigin(origin string) bool {
	if origin == "" {
		return false
	}
	return slices.Contains(p.AllowedOrigins, normalizeOrigin(origin))
}

// Browsers send origins without a trailing slash, while FRONTEND_URL values
// frequently carry one.
func normalizeOrigin(origin string) string {
	return strings.TrimRight(strings.TrimSpace(origin), "/")
}

// ValidationPolicy controls how request bodies are sanitized and checked.
type ValidationPolicy struct {
	// StripUnknownFields drops JSON properties the schema does not declare.
	// When false they are rejected instead.
	StripUnknownFields bool
	// StopOnFirstError reports only the first failing field.
	StopOnFirstError bool
}

// DefaultValidationPolicy strips unknown fields and stops at the first error.
func DefaultValidationPolicy() ValidationPolicy {
	return ValidationPolicy{
		StripUnknownFields: true,
		StopOnFirstError:   true,
	}
}
