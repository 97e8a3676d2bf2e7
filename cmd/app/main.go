package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/znomio18-svg/backend-api/internal/config"
	"github.com/znomio18-svg/backend-api/internal/domain/ports/adapter"
	pg "github.com/znomio18-svg/backend-api/internal/infra/db/postgres"
	"github.com/znomio18-svg/backend-api/internal/infra/logging"
	"github.com/znomio18-svg/backend-api/internal/infra/metrics"
	"github.com/znomio18-svg/backend-api/internal/infra/notify"
	payAdapters "github.com/znomio18-svg/backend-api/internal/infra/payment"
	red "github.com/znomio18-svg/backend-api/internal/infra/redis"
	"github.com/znomio18-svg/backend-api/internal/infra/sched"
	"github.com/znomio18-svg/backend-api/internal/infra/web"
	"github.com/znomio18-svg/backend-api/internal/usecase"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ---- CLI flags ----
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	devMode := flag.Bool("dev", false, "enable developer mode (console logs, relaxed cookies)")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath, *devMode)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := logging.New(cfg.Log, cfg.Runtime.Dev)
	if cfg.Runtime.Dev {
		logger.Info().Msg("developer mode enabled")
	}

	// ---- Postgres ----
	pool, err := pg.NewPgxPool(ctx, cfg.Database.URL, int32(cfg.Database.PoolSize))
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres connect failed")
	}
	defer pool.Close()

	// ---- Redis ----
	redisClient, err := red.NewClient(ctx, &cfg.Redis)
	if err != nil {
		logger.Fatal().Err(err).Msg("redis connect failed")
	}
	defer redisClient.Close()
	locker := red.NewLocker(redisClient)

	// ---- Repositories ----
	txm := pg.NewTxManager(pool)
	payRepo := pg.NewPaymentRepo(pool)
	planRepo := pg.NewPlanRepo(pool)
	movieRepo := pg.NewMovieRepo(pool)
	userRepo := pg.NewUserRepo(pool)
	accountRepo := pg.NewBankAccountRepo(pool)
	subRepo := pg.NewSubscriptionRepo(pool)
	purchaseRepo := pg.NewMoviePurchaseRepo(pool)
	tokenRepo := pg.NewGatewayTokenRepo(pool)

	// ---- Adapters ----
	gateway := payAdapters.NewQPayGateway(cfg.QPay, redisClient, tokenRepo, logger)
	if cfg.QPay.WebhookSecret == "" {
		logger.Warn().Msg("qpay.webhook_secret not set; callbacks accepted unverified")
	}

	var notifier adapter.NotificationSender
	if cfg.SMTP.Host != "" {
		notifier = notify.NewEmailSender(cfg.SMTP, logger)
	} else {
		logger.Warn().Msg("smtp.host not set; mails will be logged only")
		notifier = notify.NewNoopSender(logger)
	}

	// ---- Use cases ----
	reconcileUC := usecase.NewReconcileUseCase(txm, payRepo, planRepo, movieRepo, userRepo, subRepo, purchaseRepo, notifier, logger)
	paymentUC := usecase.NewPaymentUseCase(txm, payRepo, planRepo, movieRepo, userRepo, accountRepo, subRepo, purchaseRepo,
		gateway, notifier, reconcileUC, cfg.QPay, cfg.SMTP.AdminEmail, logger)
	subUC := usecase.NewSubscriptionUseCase(subRepo, logger)

	// ---- Background workers ----
	if cfg.Worker.Enabled {
		go sched.NewReconcileWorker(paymentUC, locker, cfg.Worker.ReconcileInterval, logger).Run(ctx)
		go sched.NewExpiryWorker(paymentUC, subUC, locker, cfg.Worker.ExpireInterval, logger).Run(ctx)
	} else {
		logger.Info().Msg("background workers disabled on this instance")
	}

	// ---- HTTP ----
	metrics.MustRegister()
	auth := web.NewAuthManager(cfg.Admin.Password, cfg.Admin.SessionSecret, !cfg.Runtime.Dev, web.AdminSessionTTL)
	server := web.NewServer(paymentUC, gateway, auth, logger)
	httpSrv := web.NewHTTPServer(fmt.Sprintf(":%d", cfg.Server.Port), server.Router())

	go func() {
		logger.Info().Int("port", cfg.Server.Port).Msg("http server listening")
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("http server failed")
			cancel()
		}
	}()

	// ---- Shutdown ----
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case s := <-sig:
		logger.Info().Str("signal", s.String()).Msg("shutting down")
	case <-ctx.Done():
	}
	cancel()
	if err := web.Shutdown(context.Background(), httpSrv); err != nil {
		logger.Warn().Err(err).Msg("http shutdown incomplete")
	}
}
