package application

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync/atomic"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/mottlarbe/mottlarbe-api/internal/api"
	"github.com/mottlarbe/mottlarbe-api/internal/config"
	"github.com/mottlarbe/mottlarbe-api/internal/docs"
)

// ErrAlreadyStarted is returned when Start is called more than once.
var ErrAlreadyStarted = errors.New("application already started")

// App encapsulates the configured HTTP server and its policies.
type App struct {
	cfg      config.Config
	routes   api.RouteSet
	handler  http.Handler
	logger   *zap.Logger
	server   *http.Server
	listener net.Listener
	serveErr chan error
	started  atomic.Bool
}

// Option configures New.
type Option func(*options)

type options struct {
	routes     []api.Route
	routerOpts []api.RouterOption
}

// WithRoutes mounts controller routes under the base path.
func WithRoutes(routes ...api.Route) Option {
	return func(o *options) {
		o.routes = append(o.routes, routes...)
	}
}

// WithRouterOptions forwards options to api.NewRouter.
func WithRouterOptions(opts ...api.RouterOption) Option {
	return func(o *options) {
		o.routerOpts = append(o.routerOpts, opts...)
	}
}

// New applies every request policy to a fresh router and prepares, without
// binding, the HTTP server.
func New(cfg config.Config, logger *zap.Logger, opts ...Option) (*App, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	routes := api.BuildRouteSet(cfg, o.routes...)

	routerOpts := []api.RouterOption{
		api.WithLogging(cfg.EnableRequestLogging),
		api.WithRateLimit(cfg.RateLimitRPS, cfg.RateLimitBurst),
	}
	routerOpts = append(routerOpts, o.routerOpts...)

	handler, err := BuildHandler(cfg, routes, logger, routerOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to build HTTP handler: %w", err)
	}

	return &App{
		cfg:      cfg,
		routes:   routes,
		handler:  handler,
		logger:   logger,
		server:   NewServer(cfg, handler),
		serveErr: make(chan error, 1),
	}, nil
}

// BuildHandler applies, in order: the base path prefix, cookie parsing, CORS,
// body validation and, outside production, the documentation mount.
func BuildHandler(cfg config.Config, routes api.RouteSet, logger *zap.Logger, opts ...api.RouterOption) (http.Handler, error) {
	validator := api.NewValidator(api.DefaultValidationPolicy())

	mux := chi.NewRouter()
	mux.NotFound(api.NotFound)
	mux.MethodNotAllowed(api.MethodNotAllowed)

	var mountErr error
	mux.Route(routes.Prefix, func(r chi.Router) {
		r.NotFound(api.NotFound)
		r.MethodNotAllowed(api.MethodNotAllowed)

		api.Mount(r, routes.Routes, validator)

		if !routes.Docs {
			return
		}
		mount, ok := docs.NewMount(cfg)
		if !ok {
			return
		}
		mountErr = mount.Register(r, routes.Prefix, routes.Routes, logger)
	})
	if mountErr != nil {
		return nil, fmt.Errorf("mount docs: %w", mountErr)
	}

	return api.NewRouter(mux, logger, api.NewCorsPolicy(cfg.FrontendURL), opts...), nil
}

// NewServer creates and configures an HTTP server from the provided configuration.
func NewServer(cfg config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.Addr(),
		Handler:           handler,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
	}
}

// Start binds the listening socket and serves in the background. A bind
// failure is returned and leaves nothing running.
func (a *App) Start() error {
	if !a.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	ln, err := net.Listen("tcp", a.server.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", a.server.Addr, err)
	}
	a.listener = ln

	fields := []zap.Field{
		zap.String("url", a.BaseURL()),
		zap.String("addr", ln.Addr().String()),
		zap.String("env", string(a.cfg.Environment)),
	}
	if a.routes.Docs {
		fields = append(fields, zap.String("docs", a.BaseURL()+a.routes.Prefix+"/docs"))
	}
	a.logger.Info("application is running", fields...)

	go func() {
		if err := a.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.serveErr <- err
		}
	}()
	return nil
}

// BaseURL is the address announced on startup. After Start it reflects the
// port actually bound.
func (a *App) BaseURL() string {
	if a.listener != nil {
		if tcp, ok := a.listener.Addr().(*net.TCPAddr); ok {
			return fmt.Sprintf("http://localhost:%d", tcp.Port)
		}
	}
	return a.cfg.BaseURL()
}

// Errors delivers a serve failure that happens after Start returned.
func (a *App) Errors() <-chan error {
	return a.serveErr
}

// Server returns the HTTP server instance for shutdown handling.
func (a *App) Server() *http.Server {
	return a.server
}

// Handler returns the fully configured request handler.
func (a *App) Handler() http.Handler {
	return a.handler
}

// Routes returns the route set the application was built with.
func (a *App) Routes() api.RouteSet {
	return a.routes
}
