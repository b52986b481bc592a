package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/gonzalop/ftpengine/internal/config"
	"github.com/gonzalop/ftpengine/internal/logger"
	ftpprom "github.com/gonzalop/ftpengine/metrics/prometheus"
	"github.com/gonzalop/ftpengine/server"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the FTP server",
		Long: `Run the FTP server in the foreground until SIGINT or SIGTERM.

Examples:
  # Serve with a config file
  ftpd serve --config /etc/ftpd/ftpd.yaml

  # Anonymous read-only server configured from the environment
  FTPD_ANONYMOUS_ENABLED=true FTPD_ANONYMOUS_ROOT=/srv/ftp ftpd serve`,
		Args: cobra.NoArgs,
		RunE: runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}

	log, closer, err := logger.New(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
	if err != nil {
		return err
	}
	defer closer.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var collector server.MetricsCollector
	var metricsSrv *http.Server
	var srv *server.Server
	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		collector = ftpprom.NewCollector(reg)
		metricsSrv = &http.Server{
			Addr:              cfg.Metrics.Address,
			ReadHeaderTimeout: 5 * time.Second,
			Handler:           newMetricsRouter(reg, func() int { return len(srv.Connections()) }),
		}
	}

	srv, err = buildServer(cfg, log, collector)
	if err != nil {
		return err
	}
	log.Info("configuration_loaded",
		"source", configSource(cfgFile),
		"users", len(cfg.Users),
		"anonymous", cfg.Anonymous.Enabled,
	)

	errCh := make(chan error, 2)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	if metricsSrv != nil {
		go func() {
			log.Info("metrics_listening", logger.KeyAddr, metricsSrv.Addr)
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("metrics server: %w", err)
			}
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
		log.Info("shutdown_signal_received")
	case runErr = <-errCh:
		log.Error("server_failed", logger.KeyError, runErr)
	}
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown_failed", logger.KeyError, err)
		runErr = errors.Join(runErr, err)
	}
	if metricsSrv != nil {
		if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
			runErr = errors.Join(runErr, err)
		}
	}
	if runErr == nil {
		log.Info("server_stopped")
	}
	return runErr
}

// buildServer translates the daemon configuration into server options.
func buildServer(cfg *config.Config, log *slog.Logger, collector server.MetricsCollector) (*server.Server, error) {
	accounts := make([]server.Account, 0, len(cfg.Users))
	for _, u := range cfg.Users {
		accounts = append(accounts, server.Account{
			Name:         u.Name,
			PasswordHash: u.PasswordHash,
			Root:         u.Root,
			ReadOnly:     u.ReadOnly,
		})
	}

	var staticOpts []server.StaticOption
	if cfg.Anonymous.Enabled {
		staticOpts = append(staticOpts, server.WithAnonymous(cfg.Anonymous.Root, cfg.Anonymous.Writable))
	}

	opts := []server.Option{
		server.WithAuthenticator(server.NewStaticAuthenticator(accounts, staticOpts...)),
		server.WithLogger(log),
		server.WithMaxConnections(cfg.Server.MaxConnections),
		server.WithIdleTimeout(cfg.Server.IdleTimeout),
		server.WithDataTimeout(cfg.Server.DataTimeout),
		server.WithBandwidthLimit(cfg.Server.BandwidthLimit),
	}
	if cfg.Server.WelcomeMessage != "" {
		opts = append(opts, server.WithWelcomeMessage(cfg.Server.WelcomeMessage))
	}
	if cfg.Server.PublicHost != "" {
		opts = append(opts, server.WithPublicHost(cfg.Server.PublicHost))
	}
	if pp := cfg.Server.PassivePorts; pp.Min > 0 {
		opts = append(opts, server.WithPassivePortRange(pp.Min, pp.Max))
	}
	if collector != nil {
		opts = append(opts, server.WithMetricsCollector(collector))
	}

	srv, err := server.NewServer(cfg.Server.Address, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create server: %w", err)
	}
	return srv, nil
}

func configSource(path string) string {
	if path == "" {
		return "environment"
	}
	return path
}
