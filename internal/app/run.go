package app

import (
	"context"
	"errors"
	stdlog "log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/centrifugal/gocomet"
	"github.com/centrifugal/gocomet/internal/build"
	"github.com/centrifugal/gocomet/internal/config"
	"github.com/centrifugal/gocomet/internal/logging"
	"github.com/centrifugal/gocomet/internal/metrics"
	"github.com/centrifugal/gocomet/internal/service"
	"github.com/centrifugal/gocomet/internal/sink"
	"github.com/centrifugal/gocomet/internal/telemetry"
	"github.com/centrifugal/gocomet/internal/tools"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"go.uber.org/automaxprocs/maxprocs"
)

// LoadConfig loads .env file if present, then config. Exits on error.
func LoadConfig(cmd *cobra.Command, configFile string) (config.Config, config.Meta, bool) {
	dotEnvUsed := false
	exists, err := tools.PathExists(".env")
	if err != nil {
		log.Fatal().Err(err).Msg("error checking .env file")
	}
	if exists {
		if err := godotenv.Load(); err != nil {
			log.Fatal().Err(err).Msg("error loading .env file")
		}
		dotEnvUsed = true
	}
	cfg, cfgMeta, err := config.GetConfig(cmd, configFile)
	if err != nil {
		log.Fatal().Err(err).Msg("error getting config")
	}
	return cfg, cfgMeta, dotEnvUsed
}

func Run(cmd *cobra.Command, configFile string) {
	cfg, cfgMeta, dotEnvUsed := LoadConfig(cmd, configFile)

	logCloseFn, err := logging.Setup(cfg.Log)
	if err != nil {
		log.Fatal().Err(err).Msg("error setting up logging")
	}
	defer logCloseFn()

	if cfgMeta.FileNotFound {
		log.Warn().Msg("config file not found, continue using environment and flag options")
	} else {
		absConfPath, _ := filepath.Abs(configFile)
		log.Info().Str("path", absConfPath).Msg("using config file")
	}
	if dotEnvUsed {
		log.Info().Msg("environment variables have been loaded from .env file")
	}

	if err = cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("error validating config")
	}
	if len(cfg.Client.Channels) == 0 {
		log.Fatal().Msg("no channels to subscribe to, set client.channels")
	}
	if err = tools.WritePidFile(cfg.PidFile); err != nil {
		log.Fatal().Err(err).Msg("error writing PID")
	}
	_, _ = maxprocs.Set(maxprocs.Logger(func(s string, i ...any) {
		log.Info().Msgf(strings.ToLower(s), i...)
	}))

	log.Info().
		Str("version", build.Version).
		Str("runtime", runtime.Version()).
		Int("pid", os.Getpid()).
		Int("gomaxprocs", runtime.GOMAXPROCS(0)).
		Str("host", cfg.Client.Host).
		Strs("channels", cfg.Client.Channels).
		Msg("starting gocomet")

	if build.Version == "0.0.0" {
		log.Warn().Msg("running a development build of gocomet (version 0.0.0)")
	}

	if cfg.OpenTelemetry.Enabled {
		provider, err := telemetry.SetupTracing(context.Background())
		if err != nil {
			log.Fatal().Err(err).Msg("error setting up opentelemetry tracing")
		}
		defer func() { _ = provider.Shutdown(context.Background()) }()
	}

	ctx, serviceCancel := context.WithCancel(context.Background())
	defer serviceCancel()

	// Services stop after client is closed so that updates queued by the
	// client still have a consumer.
	serviceManager := service.NewManager()

	sinks, err := sink.Build(cfg.Sinks, os.Stdout, log.Logger)
	if err != nil {
		log.Fatal().Err(err).Msg("error initializing sinks")
	}
	if len(sinks) == 0 {
		log.Warn().Msg("no sinks enabled, received updates are discarded")
	}

	registerer := prometheus.DefaultRegisterer
	gatherer := prometheus.DefaultGatherer

	var metricsRegistry *metrics.Registry
	if metricsEnabled(cfg) {
		// Collectors are shared with the client which registers the same
		// ones under the same namespace.
		metricsRegistry, err = metrics.New(metrics.Config{
			Namespace:  cfg.Prometheus.Namespace,
			Registerer: registerer,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("error registering metrics")
		}
	}

	forwarder := sink.NewForwarder(sink.ForwarderConfig{
		QueueSize:      cfg.Sinks.QueueSize,
		PublishTimeout: cfg.Sinks.PublishTimeout.ToDuration(),
		Logger:         log.Logger.With().Str("component", "forwarder").Logger(),
		Metrics:        metricsRegistry,
	}, sinks...)
	serviceManager.Register(forwarder)

	client, err := gocomet.New(clientConfig(cfg, forwarder, registerer, log.Logger))
	if err != nil {
		log.Fatal().Err(err).Msg("error creating client")
	}

	if cfg.Graphite.Enabled {
		serviceManager.Register(graphiteExporter(cfg, gatherer))
	}

	var httpServer *http.Server
	if cfg.Prometheus.Enabled || cfg.Health.Enabled {
		httpServer = newHTTPServer(cfg, Mux(cfg, client, gatherer))
		serviceManager.Register(service.Func(func(ctx context.Context) error {
			return runHTTPServer(ctx, httpServer)
		}))
	}

	serviceManager.Run(ctx)

	logStartWarnings(cfg, cfgMeta)

	handleSignals(cfg, client, serviceManager, serviceCancel)
}

func newHTTPServer(cfg config.Config, handler http.Handler) *http.Server {
	addr := net.JoinHostPort(cfg.HTTP.Address, strconv.Itoa(cfg.HTTP.Port))
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ErrorLog:          stdlog.New(&httpErrorLogWriter{Logger: log.Logger}, "", 0),
	}
}

func runHTTPServer(ctx context.Context, server *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("address", server.Addr).Msg("serving internal endpoints")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	}
}

func handleSignals(cfg config.Config, client *gocomet.Client, serviceManager *service.Manager, serviceCancel context.CancelFunc) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, os.Interrupt, syscall.SIGTERM)

	servicesDone := make(chan error, 1)
	go func() { servicesDone <- serviceManager.Wait() }()

	select {
	case sig := <-sigCh:
		log.Info().Msgf("signal received: %v", sig)
	case err := <-servicesDone:
		if err != nil {
			log.Error().Err(err).Msg("service stopped")
		}
	}

	log.Info().Msg("shutting down ...")
	pidFile := cfg.PidFile
	time.AfterFunc(cfg.Shutdown.Timeout.ToDuration(), func() {
		if pidFile != "" {
			_ = os.Remove(pidFile)
		}
		log.Fatal().Msg("shutdown timeout reached")
	})

	_ = client.Close()
	serviceCancel()
	_ = serviceManager.Wait()

	if pidFile != "" {
		_ = os.Remove(pidFile)
	}
	os.Exit(0)
}
