package integration

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/zap/zaptest"

	"github.com/mottlarbe/mottlarbe-api/internal/api"
	"github.com/mottlarbe/mottlarbe-api/internal/application"
	"github.com/mottlarbe/mottlarbe-api/internal/config"
)

const frontendURL = "http://localhost:3000"

type profileUpdate struct {
	Email string `json:"email" validate:"required,email"`
	Name  string `json:"name" validate:"required,min=2"`
}

type probe struct {
	calls   int
	body    map[string]any
	cookies map[string]string
}

func (p *probe) routes() []api.Route {
	return []api.Route{
		{
			Method:  http.MethodPatch,
			Pattern: "/profile",
			Secured: true,
			Body:    func() any { return &profileUpdate{} },
			Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				p.calls++
				data, _ := io.ReadAll(r.Body)
				_ = json.Unmarshal(data, &p.body)
				api.WriteJSON(w, http.StatusOK, p.body)
			}),
		},
		{
			Method:  http.MethodGet,
			Pattern: "/session",
			Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				p.calls++
				p.cookies = api.CookiesFrom(r.Context())
				w.WriteHeader(http.StatusNoContent)
			}),
		},
	}
}

func newServer(t *testing.T, env config.Environment) (http.Handler, *probe) {
	t.Helper()

	cfg := config.Config{
		Port:        9555,
		FrontendURL: frontendURL,
		Environment: env,
	}
	p := &probe{}
	app, err := application.New(cfg, zaptest.NewLogger(t), application.WithRoutes(p.routes()...))
	if err != nil {
		t.Fatalf("application.New returned error: %v", err)
	}
	return app.Handler(), p
}

func performRequest(t *testing.T, handler http.Handler, method, target, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(method, target, strings.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestDocsRedirectOutsideProduction(t *testing.T) {
	for _, env := range []config.Environment{config.EnvDevelopment, "test"} {
		handler, _ := newServer(t, env)

		rec := performRequest(t, handler, http.MethodGet, "/api", "", nil)
		if rec.Code != http.StatusFound {
			t.Fatalf("%s: expected 302, got %d", env, rec.Code)
		}
		if loc := rec.Header().Get("Location"); loc != "/api/docs" {
			t.Fatalf("%s: expected redirect to /api/docs, got %q", env, loc)
		}

		rec = performRequest(t, handler, http.MethodGet, "/api/docs-json", "", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: expected manifest, got %d", env, rec.Code)
		}
		if !strings.Contains(rec.Body.String(), `"/profile"`) {
			t.Fatalf("%s: expected manifest to describe mounted routes", env)
		}
	}
}

func TestDocsAbsentInProduction(t *testing.T) {
	handler, _ := newServer(t, config.EnvProduction)

	for _, target := range []string{"/api", "/api/docs", "/api/docs/index.html", "/api/docs-json"} {
		rec := performRequest(t, handler, http.MethodGet, target, "", nil)
		if rec.Code != http.StatusNotFound {
			t.Fatalf("GET %s: expected 404, got %d", target, rec.Code)
		}
	}
}

func TestUnprefixedRoutesAreNotMatched(t *testing.T) {
	handler, p := newServer(t, config.EnvDevelopment)

	rec := performRequest(t, handler, http.MethodGet, "/session", "", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	if p.calls != 0 {
		t.Fatalf("handler must not run for unprefixed path")
	}
}

func TestCorsHeadersFollowOrigin(t *testing.T) {
	handler, _ := newServer(t, config.EnvDevelopment)

	rec := performRequest(t, handler, http.MethodGet, "/api/health", "", map[string]string{"Origin": frontendURL})
	if rec.Header().Get("Access-Control-Allow-Origin") != frontendURL {
		t.Fatalf("expected allowed origin header, got %q", rec.Header().Get("Access-Control-Allow-Origin"))
	}
	if rec.Header().Get("Access-Control-Allow-Credentials") != "true" {
		t.Fatalf("expected credentials to be allowed")
	}
	if rec.Header().Get("Access-Control-Allow-Methods") != "GET,POST,PUT,DELETE,PATCH,OPTIONS" {
		t.Fatalf("unexpected methods %q", rec.Header().Get("Access-Control-Allow-Methods"))
	}
	if !strings.Contains(rec.Header().Get("Access-Control-Allow-Headers"), "Authorization") {
		t.Fatalf("unexpected headers %q", rec.Header().Get("Access-Control-Allow-Headers"))
	}

	rec = performRequest(t, handler, http.MethodGet, "/api/health", "", map[string]string{"Origin": "https://elsewhere.example"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected request from foreign origin to complete, got %d", rec.Code)
	}
	for _, header := range []string{"Access-Control-Allow-Origin", "Access-Control-Allow-Credentials", "Access-Control-Allow-Methods", "Access-Control-Allow-Headers"} {
		if rec.Header().Get(header) != "" {
			t.Fatalf("expected %s to be absent for foreign origin", header)
		}
	}
}

func TestPreflightDoesNotReachHandler(t *testing.T) {
	handler, p := newServer(t, config.EnvDevelopment)

	for _, target := range []string{"/api/profile", "/api/session", "/api/health"} {
		rec := performRequest(t, handler, http.MethodOptions, target, "", map[string]string{
			"Origin":                        frontendURL,
			"Access-Control-Request-Method": http.MethodPatch,
		})
		if rec.Code != http.StatusNoContent {
			t.Fatalf("OPTIONS %s: expected 204, got %d", target, rec.Code)
		}
	}
	if p.calls != 0 {
		t.Fatalf("expected no handler invocations, got %d", p.calls)
	}
}

func TestUnknownFieldsAreStripped(t *testing.T) {
	handler, p := newServer(t, config.EnvDevelopment)

	rec := performRequest(t, handler, http.MethodPatch, "/api/profile",
		`{"email":"ann@example.com","name":"Ann","role":"admin"}`,
		map[string]string{"Content-Type": "application/json"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if _, ok := p.body["role"]; ok {
		t.Fatalf("expected unknown field to be stripped, got %v", p.body)
	}
	if p.body["name"] != "Ann" {
		t.Fatalf("expected known fields to be delivered, got %v", p.body)
	}
}

func TestValidationReportsFirstFailure(t *testing.T) {
	handler, p := newServer(t, config.EnvDevelopment)

	rec := performRequest(t, handler, http.MethodPatch, "/api/profile",
		`{"email":"nope","name":"A"}`,
		map[string]string{"Content-Type": "application/json"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if p.calls != 0 {
		t.Fatalf("handler must not run for invalid payloads")
	}

	var body struct {
		Code   string               `json:"code"`
		Fields []api.FieldViolation `json:"fields"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body.Code != api.CodeValidationFailed {
		t.Fatalf("expected ValidationFailed, got %q", body.Code)
	}
	if len(body.Fields) != 1 || body.Fields[0].Field != "email" {
		t.Fatalf("expected a single violation on email, got %+v", body.Fields)
	}
}

func TestDefaultsWithoutEnvironment(t *testing.T) {
	for _, key := range []string{"PORT", "FRONTEND_URL", "NODE_ENV", "LOG_LEVEL", "RATE_LIMIT_RPS", "RATE_LIMIT_BURST"} {
		t.Setenv(key, "")
	}

	cfg, err := config.Load(nil)
	if err != nil {
		t.Fatalf("config.Load returned error: %v", err)
	}
	if cfg.Port != 9555 || cfg.Addr() != ":9555" {
		t.Fatalf("expected port 9555, got %d", cfg.Port)
	}

	app, err := application.New(cfg, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("application.New returned error: %v", err)
	}
	if app.Server().Addr != ":9555" {
		t.Fatalf("expected server address :9555, got %s", app.Server().Addr)
	}

	rec := performRequest(t, app.Handler(), http.MethodGet, "/api/health", "", map[string]string{"Origin": frontendURL})
	if rec.Header().Get("Access-Control-Allow-Origin") != frontendURL {
		t.Fatalf("expected %s to be the allowed origin", frontendURL)
	}
	rec = performRequest(t, app.Handler(), http.MethodGet, "/api/health", "", map[string]string{"Origin": "http://localhost:4200"})
	if rec.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Fatalf("expected other origins to be rejected")
	}
}

func TestMalformedCookieHeaderIsIgnored(t *testing.T) {
	handler, p := newServer(t, config.EnvDevelopment)

	rec := performRequest(t, handler, http.MethodGet, "/api/session", "", map[string]string{"Cookie": "=;;\x7f=broken; =novalue"})
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if p.calls != 1 {
		t.Fatalf("expected handler to run once, got %d", p.calls)
	}
	if p.cookies == nil || len(p.cookies) != 0 {
		t.Fatalf("expected empty cookie map, got %v", p.cookies)
	}

	rec = performRequest(t, handler, http.MethodGet, "/api/session", "", map[string]string{"Cookie": "session=abc; theme=dark"})
	if rec.Code != http.StatusNoContent || p.cookies["session"] != "abc" || p.cookies["theme"] != "dark" {
		t.Fatalf("expected cookies to be parsed, got %v", p.cookies)
	}
}
