package main // Entry point package

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"                          // Echo web framework
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/iliyamo/carmod-studio/internal/auth"
	"github.com/iliyamo/carmod-studio/internal/config" // Internal config loader
	"github.com/iliyamo/carmod-studio/internal/database"
	"github.com/iliyamo/carmod-studio/internal/handler"
	"github.com/iliyamo/carmod-studio/internal/logger"
	"github.com/iliyamo/carmod-studio/internal/metrics"
	"github.com/iliyamo/carmod-studio/internal/middleware"
	"github.com/iliyamo/carmod-studio/internal/payment"
	"github.com/iliyamo/carmod-studio/internal/queue"
	"github.com/iliyamo/carmod-studio/internal/repository"
	"github.com/iliyamo/carmod-studio/internal/router" // Internal router setup
	"github.com/iliyamo/carmod-studio/internal/segment"
	"github.com/iliyamo/carmod-studio/internal/service"
)

func main() {
	foundEnv := config.LoadDotEnv()
	cfg := config.Load() // Load environment config

	log := logger.New(logger.Options{Service: "carmod-studio", Level: cfg.LogLevel, Format: cfg.LogFormat})
	if !foundEnv {
		log.Warn().Msg(".env file not found, relying on environment")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.Open(database.Options{
		User: cfg.DBUser, Pass: cfg.DBPass, Host: cfg.DBHost, Port: cfg.DBPort, Name: cfg.DBName,
		MaxConns: cfg.DBMaxConns,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()
	if err := database.Migrate(ctx, db); err != nil {
		log.Fatal().Err(err).Msg("failed to run migrations")
	}

	rdb := config.NewRedisClient(ctx)
	if rdb == nil {
		log.Warn().Msg("redis unavailable: rate limiting, caching and webhook dedup disabled")
	} else {
		defer rdb.Close()
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	users := repository.NewUserRepo(db)
	tokens := repository.NewTokenRepo(db)
	txs := repository.NewTransactionRepo(db)

	ledgerDeps := service.LedgerDeps{Store: txs, Balances: users, Metrics: m}
	var publisher *queue.Publisher
	if cfg.AMQPURL != "" {
		publisher = queue.NewPublisher(cfg.AMQPURL, queue.LedgerQueue, log)
		defer publisher.Close()
		ledgerDeps.Publisher = publisher
		consumer := queue.AuditConsumer{URL: cfg.AMQPURL, Queue: queue.LedgerQueue, LogPath: cfg.LedgerLogPath, Log: log}
		go func() {
			if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error().Err(err).Msg("ledger audit consumer stopped")
			}
		}()
	}

	webhooks := handler.NewWebhookHandler(nil, nil, nil)
	stripeCfg := config.LoadStripeConfig()
	if stripeCfg.Enabled() {
		gw, err := payment.NewGateway(stripeCfg.SecretKey, stripeCfg.WebhookSecret)
		if err != nil {
			log.Fatal().Err(err).Msg("invalid stripe configuration")
		}
		ledgerDeps.Gateway = gw
		webhooks.Parser = gw
	} else {
		log.Warn().Msg("stripe not configured: payment intents and webhooks disabled")
	}
	ledger := service.NewLedgerService(ledgerDeps)
	if webhooks.Parser != nil {
		webhooks.Events = ledger
		if rdb != nil {
			guard, err := payment.NewEventGuard(payment.RedisKeyStore(rdb), cfg.WebhookEventTTL, "stripe")
			if err != nil {
				log.Fatal().Err(err).Msg("webhook guard")
			}
			webhooks.Guard = guard
		}
	}

	authSvc := service.NewAuthService(users, tokens, service.AuthConfig{
		JWTSecret:                cfg.JWTSecret,
		AccessTTLMin:             cfg.AccessTTLMin,
		RefreshTTLDays:           cfg.RefreshTTLDays,
		BcryptCost:               cfg.BcryptCost,
		RequireEmailVerification: cfg.RequireEmailVerification,
	})
	if err := authSvc.SeedProvider(log.WithContext(ctx), cfg.ProviderEmail, cfg.ProviderPassword); err != nil {
		log.Fatal().Err(err).Msg("failed to seed provider account")
	}

	segCfg := config.LoadSegmentConfig()
	runner := segment.NewRunner(segment.Config{
		Python: segCfg.Python, Script: segCfg.Script, PublicDir: segCfg.PublicDir,
		DetectScript: segCfg.DetectScript, MaskScript: segCfg.MaskScript, ClassifyScript: segCfg.ClassifyScript,
		TempDir: segCfg.TempDir, Timeout: segCfg.Timeout,
	})

	e := echo.New() // Create Echo instance
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = handler.ErrorHandler
	e.Use(echomw.Recover())
	e.Use(middleware.RequestLogger(log, m))
	e.Static("/segments", segCfg.PublicDir+"/segments")
	e.Static("/detections", segCfg.PublicDir+"/detections")

	authn := middleware.Authenticate(cfg.JWTSecret, auth.NewResolver(users))
	router.RegisterRoutes(e, handler.Health{DB: db}, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	router.RegisterAuth(e, handler.NewAuthHandler(authSvc, cfg.JWTSecret), authn, rdb)
	router.RegisterInventory(e, handler.NewInventoryHandler(service.NewInventoryService(repository.NewInventoryRepo(db))), authn)
	router.RegisterAccounts(e, handler.NewAccountHandler(service.NewAccountService(users, tokens, cfg.BcryptCost)), authn)
	router.RegisterOperator(e, handler.NewOperatorHandler(
		service.NewModificationService(repository.NewModificationRepo(db)),
		service.NewSegmentService(runner, ledger, m),
		segCfg.Timeout+30*time.Second,
	), authn, rdb)
	router.RegisterCredits(e, handler.NewCreditsHandler(ledger), authn)
	router.RegisterWebhooks(e, webhooks)

	srv := &http.Server{
		Addr:              ":" + cfg.Port, // Address string with port
		Handler:           e,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Info().Str("addr", srv.Addr).Str("env", cfg.Env).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server stopped unexpectedly")
		}
	}()

	<-ctx.Done()
	shutdown(srv, log)
}

func shutdown(srv *http.Server, log zerolog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
		return
	}
	log.Info().Msg("server stopped")
}
