// dchat -- serverless peer-to-peer text chat over a hidden-service overlay.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/dchat-io/dchat/internal/chat"
	"github.com/dchat-io/dchat/internal/config"
	dchatmetrics "github.com/dchat-io/dchat/internal/metrics"
	"github.com/dchat-io/dchat/internal/transport"
	appversion "github.com/dchat-io/dchat/internal/version"
)

// shutdownTimeout bounds how long the metrics HTTP server is given to
// drain in-flight scrapes during graceful shutdown.
const shutdownTimeout = 5 * time.Second

func main() {
	os.Exit(run())
}

// flags collects the CLI surface. CLI values are applied over whatever
// Load(configPath) produced, so "-s/-n/-l" on the command line always
// takes precedence, matching the original client's all-mandatory-flags
// contract while still allowing a config file or environment to supply
// them.
type flags struct {
	configPath  string
	logLevel    string
	metricsAddr string

	localOnion    string
	localNickname string
	localPort     uint16
	remoteOnion   string
	remotePort    uint16
}

func run() int {
	f := &flags{}

	root := &cobra.Command{
		Use:           "dchat",
		Short:         "Serverless peer-to-peer text chat over a hidden-service overlay",
		Version:       appversion.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDaemon(cmd.Context(), f)
		},
	}

	root.Flags().StringVarP(&f.configPath, "config", "c", "", "path to configuration file (YAML)")
	root.Flags().StringVar(&f.logLevel, "log-level", "", "log level: debug, info, warn, error")
	root.Flags().StringVar(&f.metricsAddr, "metrics-addr", "", "optional Prometheus metrics listen address (e.g. :9100)")

	root.Flags().StringVarP(&f.localOnion, "lonion", "s", "", "local onion-id (required)")
	root.Flags().StringVarP(&f.localNickname, "nickname", "n", "", "local nickname (required)")
	root.Flags().Uint16VarP(&f.localPort, "lport", "l", 0, "local listening port (required)")
	root.Flags().StringVarP(&f.remoteOnion, "ronion", "d", "", "remote onion-id to auto-connect to on startup")
	root.Flags().Uint16VarP(&f.remotePort, "rport", "r", 0, "remote listening port to auto-connect to on startup")

	ctx, stop := signal.NotifyContext(context.Background(),
		syscall.SIGHUP, syscall.SIGINT, syscall.SIGQUIT, syscall.SIGTERM)
	defer stop()
	root.SetContext(ctx)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return 1
	}
	return 0
}

func runDaemon(ctx context.Context, f *flags) error {
	cfg, err := loadConfig(f)
	if err != nil {
		slog.New(slog.NewTextHandler(os.Stderr, nil)).Error("failed to load configuration",
			slog.String("error", err.Error()))
		return err
	}

	logger := newLogger(cfg.Log)
	logger.Info("dchat starting",
		slog.String("version", appversion.Version),
		slog.String("onion_id", cfg.Local.OnionID),
		slog.Uint64("port", uint64(cfg.Local.Port)))

	reg := prometheus.NewRegistry()
	collector := dchatmetrics.NewCollector(reg)

	listener, err := transport.NewTCPListener(ctx, "127.0.0.1", cfg.Local.Port)
	if err != nil {
		return fmt.Errorf("create listener: %w", err)
	}
	dialer := transport.NewTCPDialer()

	self := chat.Identity{OnionID: cfg.Local.OnionID, Port: cfg.Local.Port}
	engine := chat.NewEngine(self, cfg.Local.Nickname, listener, dialer,
		chat.WithMetrics(collector),
		chat.WithLogger(logger),
		chat.WithCapacity(cfg.Local.Capacity))

	if cfg.Remote.OnionID != "" {
		engine.EnqueueDial(chat.DialRequest{OnionID: cfg.Remote.OnionID, Port: cfg.Remote.Port})
	}

	g, gCtx := errgroup.WithContext(ctx)

	if cfg.Metrics.Addr != "" {
		metricsSrv := newMetricsServer(cfg.Metrics, reg)
		g.Go(func() error {
			logger.Info("metrics server listening", slog.String("addr", cfg.Metrics.Addr))
			return listenAndServeMetrics(gCtx, metricsSrv)
		})
	}

	g.Go(func() error {
		return engine.Run(gCtx, os.Stdin)
	})

	notifyReady(logger)

	if err := g.Wait(); err != nil {
		logger.Error("dchat exited with error", slog.String("error", err.Error()))
		return err
	}

	notifyStopping(logger)
	logger.Info("Good Bye!")
	return nil
}

func loadConfig(f *flags) (*config.Config, error) {
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return nil, fmt.Errorf("load config from %s: %w", f.configPath, err)
	}

	if f.localOnion != "" {
		cfg.Local.OnionID = f.localOnion
	}
	if f.localNickname != "" {
		cfg.Local.Nickname = f.localNickname
	}
	if f.localPort != 0 {
		cfg.Local.Port = f.localPort
	}
	if f.remoteOnion != "" {
		cfg.Remote.OnionID = f.remoteOnion
	}
	if f.remotePort != 0 {
		cfg.Remote.Port = f.remotePort
	}
	if f.logLevel != "" {
		cfg.Log.Level = f.logLevel
	}
	if f.metricsAddr != "" {
		cfg.Metrics.Addr = f.metricsAddr
	}

	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newLogger(cfg config.LogConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: config.ParseLogLevel(cfg.Level)}

	var handler slog.Handler
	switch cfg.Format {
	case "text":
		handler = slog.NewTextHandler(os.Stdout, opts)
	default:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}

func newMetricsServer(cfg config.MetricsConfig, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle(cfg.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

func listenAndServeMetrics(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("serve metrics: %w", err)
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		<-errCh
		return nil
	case err := <-errCh:
		return err
	}
}

func notifyReady(logger *slog.Logger) {
	sent, err := daemon.SdNotify(false, daemon.SdNotifyReady)
	if err != nil {
		logger.Warn("failed to notify systemd readiness", slog.String("error", err.Error()))
		return
	}
	if sent {
		logger.Info("notified systemd: READY")
	}
}

func notifyStopping(logger *slog.Logger) {
	sent, err := daemon.SdNotify(false, daemon.SdNotifyStopping)
	if err != nil {
		logger.Warn("failed to notify systemd stopping", slog.String("error", err.Error()))
		return
	}
	if sent {
		logger.Info("notified systemd: STOPPING")
	}
}
