// Command polis-dlpd runs the DLP content-adaptation service: it streams
// outbound request bodies, matches them against configured
// credential-detection patterns, and blocks requests that leak credentials
// to destinations the current security level does not permit.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"polis/internal/adapter"
	"polis/internal/config"
	"polis/internal/dlp"
	"polis/internal/hostmatch"
	"polis/internal/logging"
	"polis/internal/patternconfig"
	"polis/internal/seclevel"
	"polis/internal/statestore"
	"polis/internal/telemetry"
)

const (
	headMax = 1 << 20
	tailMax = 10 * 1024
)

func main() {
	configPath := flag.String("config", "/etc/polis/dlpd.yaml", "path to service config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	logging.Setup(cfg.Logging.Level)

	patterns, err := patternconfig.Load(cfg.PatternConfig)
	if err != nil {
		slog.Error("fatal: failed to compile credential patterns, refusing to start", "error", err)
		os.Exit(1)
	}
	slog.Info("patterns compiled", "count", len(patterns.Patterns()))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := statestore.New(ctx, statestore.Config{
		Addr:         cfg.StateStore.Addr(),
		ACLUser:      cfg.StateStore.ACLUser,
		PasswordFile: cfg.StateStore.PasswordFile,
		CAFile:       cfg.StateStore.TLS.CAFile,
		CertFile:     cfg.StateStore.TLS.CertFile,
		KeyFile:      cfg.StateStore.TLS.KeyFile,
	})
	if err != nil {
		slog.Error("fatal: state store configuration invalid", "error", err)
		os.Exit(1)
	}
	if !store.Available() {
		slog.Warn("state store unreachable at startup, continuing in degraded mode")
	}
	defer store.Close()

	poller := seclevel.NewPoller(store, "polis:config:security_level", cfg.Poller.PollMin, cfg.Poller.PollMax)
	hosts := hostmatch.NewMatcher(hostmatch.DefaultKnownHosts)
	engine := dlp.New(patterns, hosts, poller)

	tp, err := telemetry.NewProvider(telemetry.Config{
		Enabled:     cfg.Telemetry.Enabled,
		Exporter:    cfg.Telemetry.Exporter,
		Endpoint:    cfg.Telemetry.Endpoint,
		ServiceName: cfg.Telemetry.ServiceName,
		Insecure:    cfg.Telemetry.Insecure,
	})
	if err != nil {
		slog.Error("fatal: telemetry provider setup failed", "error", err)
		os.Exit(1)
	}

	svc := adapter.NewDLPService(engine, headMax, tailMax, 4096, tp)

	httpSrv, err := adapter.NewHTTPServer(ctx, svc)
	if err != nil {
		slog.Error("fatal: adapter startup failed", "error", err)
		os.Exit(1)
	}

	feed := adapter.NewLevelFeed(poller, 5*time.Second)
	mux := http.NewServeMux()
	mux.Handle("/", httpSrv)
	mux.HandleFunc("/ws/security-level", feed.ServeHTTP)
	go feed.Run(ctx)

	server := &http.Server{Addr: cfg.Listen, Handler: mux}
	go func() {
		slog.Info("polis-dlpd listening", "addr", cfg.Listen)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("http server error", "error", err)
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down polis-dlpd")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("http server shutdown error", "error", err)
	}
	if err := tp.Shutdown(shutdownCtx); err != nil {
		slog.Error("telemetry shutdown error", "error", err)
	}

	slog.Info("polis-dlpd stopped")
}
