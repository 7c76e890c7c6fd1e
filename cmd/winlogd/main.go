package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/rmacdonaldsmith/winlog-go/internal/auth"
	"github.com/rmacdonaldsmith/winlog-go/internal/config"
	"github.com/rmacdonaldsmith/winlog-go/internal/grpcapi"
	"github.com/rmacdonaldsmith/winlog-go/internal/httpapi"
	"github.com/rmacdonaldsmith/winlog-go/internal/nativereader"
	"github.com/rmacdonaldsmith/winlog-go/internal/service"
	"github.com/rmacdonaldsmith/winlog-go/pkg/log"
	"github.com/rmacdonaldsmith/winlog-go/pkg/winlog"
)

const (
	// Application info
	appName    = "winlogd"
	appVersion = "0.1.0"

	shutdownTimeout = 30 * time.Second
)

// errUnhealthy makes -health exit non-zero
var errUnhealthy = errors.New("service unhealthy")

// options holds the command-line flags. Empty values leave the config untouched.
type options struct {
	configPath  string
	httpListen  string
	grpcListen  string
	source      string
	sourceDir   string
	logLevel    string
	noAuth      bool
	showVersion bool
	showHealth  bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		if !errors.Is(err, errUnhealthy) {
			fmt.Fprintf(os.Stderr, "%s: %v\n", appName, err)
		}
		os.Exit(1)
	}
}

func parseFlags(args []string) (*options, error) {
	opts := &options{}
	fs := flag.NewFlagSet(appName, flag.ContinueOnError)
	fs.StringVar(&opts.configPath, "config", "", "Path to a YAML config file")
	fs.StringVar(&opts.httpListen, "http-listen", "", "HTTP API listen address (default :8080)")
	fs.StringVar(&opts.grpcListen, "grpc-listen", "", "gRPC listen address (default :9090)")
	fs.StringVar(&opts.source, "source", "", "Native reader: memory or file")
	fs.StringVar(&opts.sourceDir, "source-dir", "", "Export directory for the file reader (implies -source file)")
	fs.StringVar(&opts.logLevel, "log-level", "", "Log level: debug, info, warn or error")
	fs.BoolVar(&opts.noAuth, "no-auth", false, "Disable token checks (development only)")
	fs.BoolVar(&opts.showVersion, "version", false, "Show version and exit")
	fs.BoolVar(&opts.showHealth, "health", false, "Show health status and exit")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return opts, nil
}

// loadConfig layers the config file, WINLOG_* variables and flags, in that order.
// The bool reports whether a signing key had to be generated.
func loadConfig(opts *options) (*config.Config, bool, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, false, err
	}
	if err := config.ApplyEnv(cfg); err != nil {
		return nil, false, err
	}

	if opts.httpListen != "" {
		cfg.Server.HTTPAddr = opts.httpListen
	}
	if opts.grpcListen != "" {
		cfg.Server.GRPCAddr = opts.grpcListen
	}
	if opts.source != "" {
		cfg.Source.Kind = opts.source
	}
	if opts.sourceDir != "" {
		cfg.Source.Kind = config.SourceFile
		cfg.Source.Dir = opts.sourceDir
	}
	if opts.logLevel != "" {
		cfg.Log.Level = opts.logLevel
	}
	if opts.noAuth {
		cfg.Server.NoAuth = true
	}

	// HTTP and gRPC must share one key, so it is fixed here rather than per server
	generated := false
	if !cfg.Server.NoAuth && cfg.Server.SecretKey == "" {
		cfg.Server.SecretKey = uuid.NewString()
		generated = true
	}

	if err := cfg.Validate(); err != nil {
		return nil, false, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, generated, nil
}

func run(ctx context.Context, args []string, stdout io.Writer) error {
	opts, err := parseFlags(args)
	if err != nil {
		return err
	}

	if opts.showVersion {
		fmt.Fprintf(stdout, "%s v%s\n", appName, appVersion)
		return nil
	}

	cfg, generatedSecret, err := loadConfig(opts)
	if err != nil {
		return err
	}

	logger, err := log.New(log.Config{Level: cfg.Log.Level, Format: log.Format(cfg.Log.Format)})
	if err != nil {
		return err
	}

	d, err := newDaemon(cfg, logger)
	if err != nil {
		return err
	}

	if opts.showHealth {
		healthErr := showHealthStatus(ctx, stdout, d.svc)
		if err := d.shutdown(context.Background()); err != nil {
			logger.Warn("error during shutdown", log.Err(err))
		}
		return healthErr
	}

	logger.Info("starting", "version", appVersion,
		"http_addr", cfg.Server.HTTPAddr, "grpc_addr", cfg.Server.GRPCAddr,
		"source", cfg.Source.Kind, "no_auth", cfg.Server.NoAuth)
	if generatedSecret {
		logger.Warn("no secret key configured, generated one for this run; tokens will not survive a restart")
	}

	errCh, err := d.start()
	if err != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return errors.Join(err, d.shutdown(shutdownCtx))
	}
	showStartupInfo(ctx, logger, d.svc)

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info("received shutdown signal, shutting down gracefully")
	case serveErr = <-errCh:
		logger.Error("server failed", log.Err(serveErr))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := d.shutdown(shutdownCtx); err != nil {
		logger.Warn("error during graceful stop", log.Err(err))
	}
	logger.Info("stopped")
	return serveErr
}

// daemon wires a native reader, the service and its network front ends.
type daemon struct {
	logger *slog.Logger
	reader winlog.NativeReader
	svc    *service.Service
	http   *httpapi.Server
	grpc   *grpcapi.Server
}

func newDaemon(cfg *config.Config, logger *slog.Logger) (*daemon, error) {
	reader, err := openReader(cfg.Source)
	if err != nil {
		return nil, err
	}

	svcConfig := service.NewConfig().
		WithChannels(cfg.Channels).
		WithMaxSessions(cfg.Read.MaxSessions).
		WithDefaultDirection(cfg.DefaultDirection()).
		WithLogger(logger)
	svc, err := service.New(reader, svcConfig)
	if err != nil {
		closeReader(reader)
		return nil, err
	}

	d := &daemon{logger: logger, reader: reader, svc: svc}

	if cfg.Server.HTTPAddr != "" {
		d.http, err = httpapi.NewServer(svc, httpapi.Config{
			Addr:          cfg.Server.HTTPAddr,
			SecretKey:     cfg.Server.SecretKey,
			NoAuth:        cfg.Server.NoAuth,
			TokenTTL:      cfg.Server.TokenTTL,
			Clients:       authClients(cfg.Server.Clients),
			BatchLimit:    cfg.Read.BatchLimit,
			MaxBatchLimit: cfg.Read.MaxBatchLimit,
			Logger:        logger,
		})
		if err != nil {
			_ = d.shutdown(context.Background())
			return nil, err
		}
	}

	if cfg.Server.GRPCAddr != "" {
		d.grpc, err = grpcapi.NewServer(svc, grpcapi.Config{
			Addr:      cfg.Server.GRPCAddr,
			SecretKey: cfg.Server.SecretKey,
			NoAuth:    cfg.Server.NoAuth,
			Logger:    logger,
		})
		if err != nil {
			_ = d.shutdown(context.Background())
			return nil, err
		}
	}
	return d, nil
}

// openReader builds the native reader selected by source.
func openReader(source config.SourceConfig) (winlog.NativeReader, error) {
	switch source.Kind {
	case config.SourceFile:
		return nativereader.NewFile(source.Dir)
	case config.SourceMemory:
		mem := nativereader.NewMemory()
		if source.Seed {
			if err := seedDemo(context.Background(), mem, time.Now()); err != nil {
				_ = mem.Close()
				return nil, err
			}
		}
		return mem, nil
	default:
		return nil, fmt.Errorf("%w, got %q", config.ErrInvalidSource, source.Kind)
	}
}

func authClients(clients map[string]config.ClientConfig) map[string]auth.Client {
	if len(clients) == 0 {
		return nil
	}
	out := make(map[string]auth.Client, len(clients))
	for id, c := range clients {
		out[id] = auth.Client{PasswordHash: c.PasswordHash, Admin: c.Admin}
	}
	return out
}

// start opens the configured listeners and serves on them.
func (d *daemon) start() (<-chan error, error) {
	var httpL, grpcL net.Listener
	var err error
	if d.http != nil {
		if httpL, err = net.Listen("tcp", d.http.Addr()); err != nil {
			return nil, fmt.Errorf("failed to listen on %s: %w", d.http.Addr(), err)
		}
	}
	if d.grpc != nil {
		if grpcL, err = net.Listen("tcp", d.grpc.Addr()); err != nil {
			if httpL != nil {
				httpL.Close()
			}
			return nil, fmt.Errorf("failed to listen on %s: %w", d.grpc.Addr(), err)
		}
	}
	return d.serve(httpL, grpcL), nil
}

// serve runs the front ends on the given listeners. A nil listener skips
// that front end. The channel receives the first unexpected serve error.
func (d *daemon) serve(httpL, grpcL net.Listener) <-chan error {
	errCh := make(chan error, 2)
	if d.http != nil && httpL != nil {
		d.logger.Info("HTTP API listening", "addr", httpL.Addr().String())
		go func() {
			if err := d.http.Serve(httpL); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("http: %w", err)
			}
		}()
	}
	if d.grpc != nil && grpcL != nil {
		d.logger.Info("gRPC API listening", "addr", grpcL.Addr().String())
		go func() {
			if err := d.grpc.Serve(grpcL); err != nil {
				errCh <- fmt.Errorf("grpc: %w", err)
			}
		}()
	}
	return errCh
}

// shutdown stops the front ends, then closes every session, then the reader.
func (d *daemon) shutdown(ctx context.Context) error {
	var errs []error
	if d.http != nil {
		if err := d.http.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stop http: %w", err))
		}
	}
	if d.grpc != nil {
		if err := d.grpc.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stop grpc: %w", err))
		}
	}
	if err := d.svc.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close service: %w", err))
	}
	if err := closeReader(d.reader); err != nil {
		errs = append(errs, fmt.Errorf("close reader: %w", err))
	}
	return errors.Join(errs...)
}

func closeReader(reader winlog.NativeReader) error {
	if c, ok := reader.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// showStartupInfo logs the service health after startup
func showStartupInfo(ctx context.Context, logger *slog.Logger, svc *service.Service) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	health := svc.Health(ctx)
	logger.Info("health status",
		"overall", healthStatus(health.Healthy),
		"reader", healthStatus(health.ReaderHealthy),
		"channels", health.Channels,
		"max_sessions", health.MaxSessions)
	if !health.Healthy {
		logger.Warn("health issues", "message", health.Message)
	}
}

// showHealthStatus prints health for -health and reports errUnhealthy when unhealthy
func showHealthStatus(ctx context.Context, w io.Writer, svc *service.Service) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	health := svc.Health(ctx)
	fmt.Fprintf(w, "winlogd Health Status:\n")
	fmt.Fprintf(w, "  Overall: %s\n", healthStatus(health.Healthy))
	fmt.Fprintf(w, "  Reader: %s\n", healthStatus(health.ReaderHealthy))
	fmt.Fprintf(w, "  Channels: %d\n", health.Channels)
	fmt.Fprintf(w, "  Active Sessions: %d\n", health.ActiveSessions)
	fmt.Fprintf(w, "  Message: %s\n", health.Message)

	if !health.Healthy {
		return errUnhealthy
	}
	return nil
}

func healthStatus(healthy bool) string {
	if healthy {
		return "healthy"
	}
	return "unhealthy"
}
