package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/mottlarbe/mottlarbe-api/internal/config"
)

type contextKey string

const (
	requestIDContextKey contextKey = "requestID"
	cookiesContextKey   contextKey = "cookies"
	bodyContextKey      contextKey = "body"
)

// Error codes carried in the "code" field of error responses.
const (
	CodeValidationFailed = "ValidationFailed"
	CodeNotFound         = "NotFound"
	CodeMethodNotAllowed = "MethodNotAllowed"
	CodeRateLimited      = "RateLimited"
	CodePayloadTooLarge  = "PayloadTooLarge"
	CodeInternal         = "InternalError"
)

// Handler serves the routes the API owns itself. Controller routes are
// supplied by callers through BuildRouteSet.
type Handler struct {
	env   config.Environment
	clock func() time.Time
}

// HandlerOption configures Handler behaviour.
type HandlerOption func(*Handler)

// WithClock overrides the time source, primarily for tests.
func WithClock(clock func() time.Time) HandlerOption {
	return func(h *Handler) {
		h.clock = clock
	}
}

// NewHandler constructs a Handler reporting the given environment.
func NewHandler(env config.Environment, opts ...HandlerOption) *Handler {
	h := &Handler{
		env: env,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Routes returns the built-in routes, relative to the base path.
func (h *Handler) Routes() []Route {
	return []Route{
		{
			Method:  http.MethodGet,
			Pattern: "/health",
			Summary: "Liveness probe",
			Tags:    []string{"system"},
			Handler: http.HandlerFunc(h.handleHealth),
		},
	}
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:      "ok",
		Environment: string(h.env),
		Timestamp:   h.clock(),
	})
}

// NotFound answers requests that match no route, including every path
// outside the base path prefix.
func NotFound(w http.ResponseWriter, r *http.Request) {
	writeCodedError(w, http.StatusNotFound, CodeNotFound, "Not found", fmt.Sprintf("Cannot %s %s", r.Method, r.URL.Path))
}

// MethodNotAllowed answers requests whose path matched but whose method did not.
func MethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	writeCodedError(w, http.StatusMethodNotAllowed, CodeMethodNotAllowed, "Method not allowed", fmt.Sprintf("Cannot %s %s", r.Method, r.URL.Path))
}

func requestIDFromContext(ctx context.Context) string {
	if v := ctx.Value(requestIDContextKey); v != nil {
		if id, ok := v.(string); ok {
			return id
		}
	}
	return ""
}

// RequestID returns the request id assigned to the request, if any.
func RequestID(ctx context.Context) string {
	return requestIDFromContext(ctx)
}

type healthResponse struct {
	Status      string    `json:"status"`
	Environment string    `json:"environment"`
	Timestamp   time.Time `json:"timestamp"`
}

type errorResponse struct {
	Error   string           `json:"error"`
	Code    string           `json:"code,omitempty"`
	Details string           `json:"details,omitempty"`
	Fields  []FieldViolation `json:"fields,omitempty"`
}

// WriteJSON encodes payload as the JSON response body with the given status.
func WriteJSON(w http.ResponseWriter, status int, payload any) {
	writeJSON(w, status, payload)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if status != 0 {
		w.WriteHeader(status)
	}
	_ = json.NewEncoder(w).Encode(payload)
}

func writeCodedError(w http.ResponseWriter, status int, code, message, details string) {
	writeJSON(w, status, errorResponse{
		Error:   message,
		Code:    code,
		Details: details,
	})
}

func writeInternalError(w http.ResponseWriter, err error) {
	writeCodedError(w, http.StatusInternalServerError, CodeInternal, "Internal error", err.Error())
}
