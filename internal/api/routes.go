package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mottlarbe/mottlarbe-api/internal/config"
)

// Route describes one endpoint mounted under BasePath.
type Route struct {
	Method  string
	Pattern string
	Summary string
	Tags    []string
	// Secured marks routes that expect "Authorization: Bearer <token>".
	Secured bool
	// Body returns a pointer to a fresh request schema value. Routes with a
	// Body get the global validator in front of Handler.
	Body    func() any
	Handler http.Handler
}

// RouteSet is everything the server mounts for a given configuration.
type RouteSet struct {
	Prefix string
	Routes []Route
	// Docs is true when API documentation is exposed.
	Docs bool
}

// BuildRouteSet assembles the routes for cfg. It has no side effects.
func BuildRouteSet(cfg config.Config, extra ...Route) RouteSet {
	routes := NewHandler(cfg.Environment).Routes()
	routes = append(routes, extra...)

	return RouteSet{
		Prefix: BasePath,
		Routes: routes,
		Docs:   !cfg.Environment.IsProduction(),
	}
}

// Mount registers routes on r, wrapping every route that declares a body
// with v.
func Mount(r chi.Router, routes []Route, v *Validator) {
	for _, route := range routes {
		h := route.Handler
		if route.Body != nil {
			h = v.Middleware(route.Body)(h)
		}
		r.Method(route.Method, route.Pattern, h)
	}
}
