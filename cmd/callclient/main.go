package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"whispercall/internal/core/domain"
	"whispercall/internal/core/services"
	"whispercall/internal/infrastructure/clock"
	"whispercall/internal/infrastructure/crypto"
	"whispercall/internal/infrastructure/history"
	"whispercall/internal/infrastructure/identity"
	"whispercall/internal/infrastructure/media"
	"whispercall/internal/infrastructure/monitoring"
	"whispercall/internal/infrastructure/storage"
	"whispercall/internal/infrastructure/transport"
	"whispercall/pkg/config"
	"whispercall/pkg/logger"
)

func main() {
	// Try multiple config paths
	configPaths := []string{
		"configs/config.yaml",
		"./configs/config.yaml",
		"/etc/whispercall/config.yaml",
		"config.yaml",
	}

	var cfg *config.Config
	var err error

	for _, path := range configPaths {
		cfg, err = config.Load(path)
		if err == nil {
			break
		}
	}
	if err != nil {
		log.Fatalf("could not load configuration: %v", err)
	}

	zapLogger := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLogger.Sync()
	logg := zapLogger.Sugar()

	if cfg.Identity.UserID == "" {
		logg.Fatal("identity.user_id is required (or set WHISPER_USER_ID)")
	}

	id, err := identity.Load(cfg.Identity.KeyFile, domain.PeerID(cfg.Identity.UserID), cfg.Identity.SessionToken)
	if err != nil {
		logg.Fatalw("failed to load identity", "error", err)
	}

	store, err := storage.OpenSQLiteStore(cfg.Storage.Path, cfg.Identity.UserID)
	if err != nil {
		logg.Fatalw("failed to open store", "error", err)
	}
	defer store.Close()

	hist, err := history.NewSQLiteHistory(store.DB(), cfg.Identity.UserID)
	if err != nil {
		logg.Fatalw("failed to open call history", "error", err)
	}

	ws := transport.NewWebSocketClient(transport.Options{
		URL:              cfg.Transport.URL,
		HandshakeTimeout: cfg.Transport.HandshakeTimeout,
		WriteTimeout:     cfg.Transport.WriteTimeout,
		PingInterval:     cfg.Transport.PingInterval,
		PongTimeout:      cfg.Transport.PongTimeout,
		ReconnectMax:     cfg.Transport.ReconnectMax,
		SendRatePerSec:   cfg.Transport.SendRatePerSec,
		SendBurst:        cfg.Transport.SendBurst,
	}, id, zapLogger)

	var fallbackICE []string
	for _, s := range cfg.WebRTC.ICEServers {
		fallbackICE = append(fallbackICE, s.URLs...)
	}
	engine := media.NewPionEngine(fallbackICE, zapLogger)

	deps := services.Deps{
		Codec:     services.NewEnvelopeCodec(crypto.NewNaClBox(), id, clock.NewSystemClock()),
		Transport: ws,
		Identity:  id,
		Media:     engine,
		Store:     store,
		History:   hist,
		Clock:     clock.NewSystemClock(),
		Logger:    zapLogger,
	}

	var metricsServer *monitoring.MetricsServer
	if cfg.Monitoring.PrometheusEnabled {
		deps.Metrics = monitoring.NewPrometheusCollector()
		metricsServer = monitoring.NewMetricsServer(cfg.Monitoring.PrometheusPort, zapLogger)
		metricsServer.Start()
	}

	opts := services.Options{
		TurnFetchDeadline:  cfg.Calls.TurnFetchDeadline,
		AnswerAuthDeadline: cfg.Calls.AnswerAuthDeadline,
		ConnectFallback:    cfg.Calls.ConnectFallback,
		RingingDedupWindow: cfg.Calls.RingingDedupWindow,
		OnStateChange: func(change domain.StateChange) {
			if change.State == domain.StateEnded {
				logg.Infow("call state", "state", change.State, "reason", change.Reason)
				return
			}
			logg.Infow("call state", "state", change.State)
		},
	}

	callService := services.NewCallService(deps, opts)
	defer callService.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ws.OnAuthenticated = func() {
		callService.PrefetchTurn(context.Background())
	}
	ws.Connect(ctx)
	defer ws.Close()

	// A session anchor surviving from a previous run means the process
	// died mid-call; tell the peer and reset before accepting anything.
	recoverCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	if err := callService.RecoverStaleSession(recoverCtx); err != nil {
		logg.Warnw("stale session recovery failed", "error", err)
	}
	cancel()

	logg.Infow("whispercall client running", "user_id", cfg.Identity.UserID, "transport", cfg.Transport.URL)

	<-ctx.Done()
	logg.Info("shutting down")

	if metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		metricsServer.Stop(shutdownCtx)
		cancel()
	}
}
