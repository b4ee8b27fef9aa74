package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"voice-gateway/internal/ai"
	"voice-gateway/internal/audit"
	"voice-gateway/internal/auth"
	"voice-gateway/internal/calls"
	"voice-gateway/internal/config"
	"voice-gateway/internal/httpapi"
	"voice-gateway/internal/ledger"
	"voice-gateway/internal/metrics"
	"voice-gateway/internal/registration"
	"voice-gateway/internal/reporting"
	"voice-gateway/internal/telephony"
	"voice-gateway/pkg/logger"
	"voice-gateway/pkg/utils"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	_ "modernc.org/sqlite"
)

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// A missing .env is fine; the environment may already be populated.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	db, driver, err := openLedger(rootCtx, cfg)
	if err != nil {
		log.Error("database init failed", "driver", cfg.DB.Driver, "err", err)
		os.Exit(1)
	}
	defer db.Close()

	store := ledger.NewStore(db, ledger.DialectFor(driver))
	if err := store.Migrate(rootCtx); err != nil {
		log.Error("schema bootstrap failed", "err", err)
		os.Exit(1)
	}
	if cfg.Auth.AdminPassword != "" {
		hash, err := auth.HashPassword(cfg.Auth.AdminPassword)
		if err == nil {
			err = store.EnsureAdmin(rootCtx, hash)
		}
		if err != nil {
			log.Error("admin seed failed", "err", err)
			os.Exit(1)
		}
	}

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		log.Error("auth init failed", "err", err)
		os.Exit(1)
	}

	mx := metrics.New()

	callOpts := []calls.Option{calls.WithMetrics(mx)}
	if cfg.RedisEnabled() {
		rdb, err := utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: cfg.RedisAddr()})
		if err != nil {
			log.Error("redis init failed", "err", err)
			os.Exit(1)
		}
		defer rdb.Close()
		if rc := calls.NewRedisCallCap(rdb, cfg.Call.MaxConcurrentPerClient, calls.DefaultSlotTTL); rc != nil {
			callOpts = append(callOpts, calls.WithCallCap(rc))
		}
	}

	openai := ai.NewOpenAIClient(cfg.AI.OpenAIBaseURL, cfg.AI.OpenAIKey, cfg.AI.HTTPTimeout, logger.Component(log, "openai"))
	pipeline := ai.Pipeline{
		Transcriber: openai,
		Generator:   openai,
		Synthesizer: ai.NewElevenLabsClient(cfg.AI.ElevenLabsKey, cfg.AI.HTTPTimeout, logger.Component(log, "elevenlabs")),
	}

	media := telephony.NewMediaClient(cfg.Media.ServerURL, cfg.Media.ServerSecret, logger.Component(log, "media"))
	transport, err := telephony.NewSIPTransport(cfg.SIP, media, logger.Component(log, "sip"))
	if err != nil {
		log.Error("sip init failed", "err", err)
		os.Exit(1)
	}
	defer transport.Close()

	go func() {
		if err := transport.ListenAndServe(rootCtx); err != nil && rootCtx.Err() == nil {
			log.Error("sip listener failed", "err", err)
			stop()
		}
	}()

	callHandler := calls.NewHandler(store, pipeline, calls.Config{
		MediaPath:      cfg.Media.MediaPath,
		TempPath:       cfg.Media.TempPath,
		MaxRecord:      cfg.Call.MaxRecord,
		SilenceTimeout: cfg.Call.SilenceTimeout,
		EndMarker:      cfg.Call.EndMarker,
	}, logger.Component(log, "calls"), callOpts...)

	regs := registration.NewManager(store, transport, callHandler, registration.Config{
		RetryDelay:      cfg.Registration.RetryDelay,
		ReregisterDelay: cfg.Registration.ReregisterDelay,
	}, logger.Component(log, "registration"), registration.WithMetrics(mx))

	if err := regs.Start(rootCtx); err != nil {
		log.Error("registration startup failed", "err", err)
		os.Exit(1)
	}

	// Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	h := httpapi.Handlers{
		Auth:          auth.NewService(store, authManager),
		Clients:       store,
		Registrations: regs,
		Calls:         store,
		Reporting:     reporting.NewService(store),
		Audit:         audit.NewService(store.Audit()),
	}
	registerRoutes(r, h, auth.RequireAccessToken(authManager), mx, db)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}
	if err := regs.Shutdown(shutdownCtx); err != nil {
		log.Error("registration shutdown incomplete", "err", err)
	}
}
