package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"go.uber.org/zap"

	"github.com/mottlarbe/mottlarbe-api/internal/application"
	"github.com/mottlarbe/mottlarbe-api/internal/config"
	"github.com/mottlarbe/mottlarbe-api/internal/logging"
)

var signalNotify = signal.Notify

func main() {
	kingpinApp := kingpin.New("mottlarbe-api", "MottLarbe API server")
	configFile := kingpinApp.Flag("config", "Path to YAML configuration file").String()
	envFile := kingpinApp.Flag("env-file", "Path to a dotenv file loaded before configuration").Default(".env").String()
	port := kingpinApp.Flag("port", "HTTP port exposed by the service").Default("-1").Int()
	frontendURL := kingpinApp.Flag("frontend-url", "Origin allowed to make credentialed cross-origin requests").String()
	nodeEnv := kingpinApp.Flag("node-env", "Runtime environment; production disables API docs").String()
	logLevel := kingpinApp.Flag("log-level", "Log level (debug, info, warn, error)").String()
	rateLimitRPSFlag := kingpinApp.Flag("rate-limit-rps", "Requests per second allowed (set 0 to disable)").Default("-1").Float64()
	rateLimitBurstFlag := kingpinApp.Flag("rate-limit-burst", "Burst capacity for rate limiter (set 0 to disable)").Default("-1").Int()

	kingpin.MustParse(kingpinApp.Parse(os.Args[1:]))

	if err := config.LoadDotEnv(*envFile); err != nil {
		panic(fmt.Sprintf("failed to load dotenv file: %v", err))
	}

	overrides := &config.CLIOverrides{
		ConfigFile:  *configFile,
		FrontendURL: frontendURL,
		NodeEnv:     nodeEnv,
		LogLevel:    logLevel,
	}
	if *port >= 0 {
		overrides.Port = port
	}
	if *rateLimitRPSFlag >= 0 {
		overrides.RateLimitRPS = rateLimitRPSFlag
	}
	if *rateLimitBurstFlag >= 0 {
		overrides.RateLimitBurst = rateLimitBurstFlag
	}

	cfg, err := config.Load(overrides)
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}

	logger, err := logging.New(cfg.Environment, cfg.LogLevel)
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer func() {
		_ = logger.Sync()
	}()

	app, err := application.New(cfg, logger)
	if err != nil {
		logger.Fatal("failed to initialize application", zap.Error(err))
	}

	if err := app.Start(); err != nil {
		logger.Fatal("failed to start server", zap.Error(err))
	}

	if err := shutdown(app.Server(), app.Errors(), cfg.ShutdownGracePeriod, logger); err != nil {
		logger.Fatal("server stopped unexpectedly", zap.Error(err))
	}
}

// shutdown blocks until a termination signal or a serve failure, then drains
// the server. A serve failure is returned so the process exits non-zero.
func shutdown(server *http.Server, serveErr <-chan error, timeout time.Duration, logger *zap.Logger) error {
	quit := make(chan os.Signal, 1)
	signalNotify(quit, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	var cause error
	select {
	case <-quit:
		logger.Info("shutting down server")
	case cause = <-serveErr:
		logger.Error("server error, shutting down", zap.Error(cause))
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Warn("graceful shutdown failed", zap.Error(err))
		if closeErr := server.Close(); closeErr != nil {
			logger.Error("forced close failed", zap.Error(closeErr))
		}
	}
	return cause
}
