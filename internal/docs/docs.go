// Package docs builds the OpenAPI manifest for the mounted routes and serves
// it, together with Swagger UI, outside production.
package docs

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/getkin/kin-openapi/openapi3gen"
	"github.com/go-chi/chi/v5"
	httpSwagger "github.com/swaggo/http-swagger/v2"
	"go.uber.org/zap"

	"github.com/mottlarbe/mottlarbe-api/internal/api"
	"github.com/mottlarbe/mottlarbe-api/internal/config"
)

// BearerSchemeName is the security scheme secured routes refer to.
const BearerSchemeName = "bearer"

// Server is one entry of the manifest's server list.
type Server struct {
	URL         string
	Description string
}

// Mount describes where and how documentation is exposed. Paths are relative
// to the base path prefix.
type Mount struct {
	Path                 string
	JSONPath             string
	Title                string
	SiteTitle            string
	Description          string
	Version              string
	Servers              []Server
	PersistAuthorization bool
	RedirectFromRoot     bool
}

// NewMount returns the documentation mount for cfg. The second result is
// false in production, where nothing is mounted.
func NewMount(cfg config.Config) (Mount, bool) {
	if cfg.Environment.IsProduction() {
		return Mount{}, false
	}
	return Mount{
		Path:        "/docs",
		JSONPath:    "/docs-json",
		Title:       "MottLarbe API",
		SiteTitle:   "MottLarbe API Docs",
		Description: "API documentation for the MottLarbe platform",
		Version:     "1.0",
		Servers: []Server{
			{URL: fmt.Sprintf("http://localhost:%d%s", cfg.Port, api.BasePath), Description: "Local environment"},
		},
		PersistAuthorization: true,
		RedirectFromRoot:     true,
	}, true
}

// BuildManifest describes routes as an OpenAPI 3 document.
func BuildManifest(m Mount, routes []api.Route) (*openapi3.T, error) {
	doc := &openapi3.T{
		OpenAPI: "3.0.3",
		Info: &openapi3.Info{
			Title:       m.Title,
			Description: m.Description,
			Version:     m.Version,
		},
		Paths: openapi3.NewPaths(),
		Components: &openapi3.Components{
			SecuritySchemes: openapi3.SecuritySchemes{
				BearerSchemeName: &openapi3.SecuritySchemeRef{
					Value: &openapi3.SecurityScheme{
						Type:         "http",
						Scheme:       "bearer",
						BearerFormat: "JWT",
						Description:  `Provide your JWT access token prefixed with "Bearer"`,
					},
				},
			},
		},
	}

	for _, s := range m.Servers {
		doc.Servers = append(doc.Servers, &openapi3.Server{URL: s.URL, Description: s.Description})
	}

	for _, route := range routes {
		path, params := pathTemplate(route.Pattern)
		op, err := operation(route, path, params)
		if err != nil {
			return nil, fmt.Errorf("describe %s %s: %w", route.Method, route.Pattern, err)
		}
		item := doc.Paths.Value(path)
		if item == nil {
			item = &openapi3.PathItem{}
			doc.Paths.Set(path, item)
		}
		item.SetOperation(route.Method, op)
	}

	return doc, nil
}

// pathParam is one "{name}" or "{name:regexp}" segment of a chi pattern.
type pathParam struct {
	name    string
	pattern string
}

// pathTemplate rewrites a chi pattern into an OpenAPI path, dropping any
// regexp from parameter segments.
func pathTemplate(pattern string) (string, []pathParam) {
	segments := strings.Split(pattern, "/")
	var params []pathParam
	for i, seg := range segments {
		if !strings.HasPrefix(seg, "{") || !strings.HasSuffix(seg, "}") {
			continue
		}
		name, re, _ := strings.Cut(seg[1:len(seg)-1], ":")
		params = append(params, pathParam{name: name, pattern: re})
		segments[i] = "{" + name + "}"
	}
	return strings.Join(segments, "/"), params
}

func operation(route api.Route, path string, params []pathParam) (*openapi3.Operation, error) {
	op := openapi3.NewOperation()
	op.Summary = route.Summary
	op.Tags = route.Tags
	op.OperationID = operationID(route.Method, path)
	for _, p := range params {
		schema := openapi3.NewStringSchema()
		if p.pattern != "" {
			schema = schema.WithPattern(p.pattern)
		}
		op.AddParameter(openapi3.NewPathParameter(p.name).WithSchema(schema))
	}
	op.Responses = openapi3.NewResponses()
	op.Responses.Set("200", &openapi3.ResponseRef{Value: openapi3.NewResponse().WithDescription("OK")})

	if route.Body != nil {
		schema, err := openapi3gen.NewSchemaRefForValue(route.Body(), nil)
		if err != nil {
			return nil, fmt.Errorf("generate body schema: %w", err)
		}
		op.RequestBody = &openapi3.RequestBodyRef{
			Value: openapi3.NewRequestBody().WithRequired(true).WithJSONSchemaRef(schema),
		}
		op.Responses.Set("400", &openapi3.ResponseRef{Value: openapi3.NewResponse().WithDescription("Validation failed")})
	}

	if route.Secured {
		op.Security = openapi3.NewSecurityRequirements().With(openapi3.NewSecurityRequirement().Authenticate(BearerSchemeName))
		op.Responses.Set("401", &openapi3.ResponseRef{Value: openapi3.NewResponse().WithDescription("Unauthorized")})
	}
	return op, nil
}

func operationID(method, path string) string {
	var b strings.Builder
	b.WriteString(strings.ToLower(method))
	for _, seg := range strings.Split(path, "/") {
		seg = strings.Trim(seg, "{}")
		if seg == "" {
			continue
		}
		b.WriteString(strings.ToUpper(seg[:1]))
		b.WriteString(seg[1:])
	}
	return b.String()
}

// Register serves the manifest, the Swagger UI and the root redirect on r,
// which must be the router mounted at prefix.
func (m Mount) Register(r chi.Router, prefix string, routes []api.Route, logger *zap.Logger) error {
	doc, err := BuildManifest(m, routes)
	if err != nil {
		return err
	}
	manifest, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}

	uiRoot := prefix + m.Path
	r.Get(m.JSONPath, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(manifest)
	})
	r.Get(m.Path, func(w http.ResponseWriter, req *http.Request) {
		http.Redirect(w, req, uiRoot+"/index.html", http.StatusMovedPermanently)
	})
	r.Get(m.Path+"/*", httpSwagger.Handler(
		httpSwagger.URL(prefix+m.JSONPath),
		httpSwagger.PersistAuthorization(m.PersistAuthorization),
		httpSwagger.DeepLinking(true),
		httpSwagger.BeforeScript(fmt.Sprintf("document.title = %q;", m.SiteTitle)),
	))

	if m.RedirectFromRoot {
		RegisterRootRedirect(r, uiRoot, logger)
	}
	return nil
}

// getRegistrar is satisfied by routers that accept direct GET registration.
type getRegistrar interface {
	Get(pattern string, h http.HandlerFunc)
}

// RegisterRootRedirect sends GET requests for the router's root to target.
// Routers without direct GET registration are skipped with a warning; the
// result reports whether the redirect was installed.
func RegisterRootRedirect(router any, target string, logger *zap.Logger) bool {
	reg, ok := router.(getRegistrar)
	if !ok {
		logger.Warn("router does not support direct route registration, skipping docs redirect",
			zap.String("target", target),
			zap.String("router", fmt.Sprintf("%T", router)),
		)
		return false
	}
	reg.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, target, http.StatusFound)
	})
	return true
}
