// Command polis-ottd runs the approval-rewrite service: it scans chat
// bodies for "/polis-approve req-<hex8>" commands, mints a one-time token
// for any request the operator has pre-blocked, and substitutes the token
// into the body in place.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"polis/internal/adapter"
	"polis/internal/audit"
	"polis/internal/config"
	"polis/internal/logging"
	"polis/internal/ott"
	"polis/internal/statestore"
	"polis/internal/telemetry"
)

const headMax = 2 << 20

func main() {
	configPath := flag.String("config", "/etc/polis/ottd.yaml", "path to service config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	logging.Setup(cfg.Logging.Level)

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

	if dir := filepath.Dir(cfg.AuditSpool.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			slog.Error("fatal: failed to create audit spool directory", "error", err, "dir", dir)
			os.Exit(1)
		}
	}
	spool, err := audit.Open(cfg.AuditSpool.Path)
	if err != nil {
		slog.Error("fatal: failed to open audit spool", "error", err)
		os.Exit(1)
	}
	defer spool.Close()

	relay := audit.NewRelay(spool, store, "polis:log:events", cfg.AuditSpool.RelayInterval, cfg.AuditSpool.RelayBatchLimit)
	go relay.Run(ctx)

	rewriter := ott.New(
		store,
		time.Duration(cfg.Approval.TimeGateSecs)*time.Second,
		time.Duration(cfg.Approval.OTTTTLSecs)*time.Second,
		ott.WithSpool(spool),
	)
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

	svc := adapter.NewOTTService(rewriter, headMax, 4096, tp)

	httpSrv, err := adapter.NewHTTPServer(ctx, svc)
	if err != nil {
		slog.Error("fatal: adapter startup failed", "error", err)
		os.Exit(1)
	}

	server := &http.Server{Addr: cfg.Listen, Handler: httpSrv}
	go func() {
		slog.Info("polis-ottd listening", "addr", cfg.Listen)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("http server error", "error", err)
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down polis-ottd")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("http server shutdown error", "error", err)
	}
	if err := tp.Shutdown(shutdownCtx); err != nil {
		slog.Error("telemetry shutdown error", "error", err)
	}

	slog.Info("polis-ottd stopped")
}
