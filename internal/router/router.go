package router

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"lumora/config"
	"lumora/internal/domain"
	"lumora/internal/handler"
	"lumora/internal/middleware"
	"lumora/internal/repository"
	"lumora/internal/service"
	"lumora/pkg/payment"
)

func Setup(cfg *config.Config, db *gorm.DB, rdb *redis.Client, events *service.EventPublisher, logger *zap.Logger) *gin.Engine {
	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.MetricsMiddleware())
	r.Use(middleware.RateLimit(middleware.NewRedisRateLimiter(rdb, 100, time.Minute)))

	// Repositories
	userRepo := repository.NewUserRepository(db)
	paymentRepo := repository.NewPaymentRepository(db)
	referralRepo := repository.NewReferralRepository(db)
	earningRepo := repository.NewEarningRepository(db)
	jobRepo := repository.NewJobRepository(db)

	// Rail providers. Without card credentials outside production, the stub
	// stands in so local checkouts still round-trip.
	var card payment.Provider = payment.NewLavaProvider(cfg.Lava.BaseURL, cfg.Lava.ShopID, cfg.Lava.APIKey, cfg.Lava.WebhookSecret)
	if cfg.Lava.APIKey == "" && cfg.Server.Env != "production" {
		logger.Warn("card provider credentials missing, using stub")
		card = &payment.StubProvider{}
	}
	stars := payment.NewStarsProvider(cfg.Stars.BotToken, cfg.Stars.WebhookSecret)
	ton := payment.NewTonProvider(cfg.Ton.BaseURL, cfg.Ton.APIKey, cfg.Ton.WalletAddress)
	providers := map[string]payment.Provider{
		domain.RailCard:  card,
		domain.RailStars: stars,
		domain.RailTon:   ton,
	}

	// Services
	notifier := service.NewTelegramNotifier(cfg.Telegram.BotToken, logger)
	authSvc := service.NewAuthService(cfg, userRepo)
	dispatcher := service.NewDispatcher(paymentRepo, earningRepo, referralRepo, jobRepo, userRepo, notifier, events, logger)
	ingest := service.NewWebhookIngest(paymentRepo, dispatcher, logger)
	refundSvc := service.NewRefundService(paymentRepo, earningRepo, userRepo, providers, notifier, events, logger)
	cardSweep := service.NewCardSweep(paymentRepo, card, dispatcher,
		cfg.Payment.PendingMaxAge, cfg.Payment.ExpireOnQueryError, cfg.Sweep.Budget, cfg.Sweep.BatchSize, logger)
	chainMonitor := service.NewChainMonitor(paymentRepo, ton, dispatcher,
		cfg.Ton.WalletAddress, cfg.Ton.MinTxAge, cfg.Sweep.Budget, cfg.Sweep.BatchSize, logger)
	jobSweep := service.NewJobSweep(jobRepo, userRepo, refundSvc, notifier,
		cfg.Sweep.StuckJobRunning, cfg.Sweep.StuckJobQueued, cfg.Sweep.Budget, cfg.Sweep.BatchSize, logger)

	// Handlers
	paymentHandler := handler.NewPaymentHandler(cfg, paymentRepo, userRepo, referralRepo, card, stars, ton, logger)
	cardWebhook := handler.NewCardWebhookHandler(card, ingest, logger)
	starsWebhook := handler.NewStarsWebhookHandler(stars, paymentRepo, ingest, logger)
	jobHandler := handler.NewJobHandler(paymentRepo, jobRepo, userRepo, refundSvc, notifier, logger)
	referralHandler := handler.NewReferralHandler(referralRepo, earningRepo, userRepo, logger)
	sweepHandler := handler.NewSweepHandler(cardSweep, chainMonitor, jobSweep, logger)
	adminHandler := handler.NewAdminHandler(authSvc, refundSvc, paymentRepo, earningRepo, logger)

	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})
	r.GET("/metrics", middleware.PrometheusHandler())

	authMw := middleware.AuthRequired(&cfg.JWT)
	serviceMw := middleware.ServiceSecret(cfg.Server.ServiceSecret)

	api := r.Group("/api/v1")
	{
		// Provider callbacks authenticate themselves (HMAC body signature,
		// Telegram secret token); they never sit behind the service secret.
		api.POST("/webhooks/card", cardWebhook.Handle)
		api.POST("/webhooks/stars", starsWebhook.Handle)

		bot := api.Group("")
		bot.Use(serviceMw)
		{
			bot.POST("/payments", paymentHandler.Create)
			bot.GET("/payments", paymentHandler.List)
			bot.GET("/payments/:id", paymentHandler.Get)
			bot.POST("/generations", jobHandler.Start)
			bot.GET("/generations/:id", jobHandler.Get)
			bot.GET("/referrals/code", referralHandler.GetCode)
			bot.GET("/referrals/earnings", referralHandler.GetEarnings)
		}

		adminGroup := api.Group("/admin")
		{
			adminGroup.POST("/login", adminHandler.Login)
			adminGroup.POST("/refresh", adminHandler.RefreshToken)

			protected := adminGroup.Group("")
			protected.Use(authMw, middleware.AdminRequired())
			{
				protected.GET("/payments", adminHandler.ListPayments)
				protected.GET("/payments/:id", adminHandler.GetPayment)
				protected.POST("/payments/:id/refund", adminHandler.Refund)
			}
		}
	}

	internal := r.Group("/internal")
	{
		sweeps := internal.Group("/sweeps")
		sweeps.Use(middleware.SweepSecret(cfg.Sweep.Secret))
		{
			sweeps.POST("/stale-pending", sweepHandler.StalePending)
			sweeps.POST("/chain-monitor", sweepHandler.ChainMonitor)
			sweeps.POST("/stuck-jobs", sweepHandler.StuckJobs)
		}

		// Pipeline callbacks share the sweep secret: same trust domain.
		jobs := internal.Group("/jobs")
		jobs.Use(middleware.SweepSecret(cfg.Sweep.Secret))
		{
			jobs.POST("/:id/running", jobHandler.Running)
			jobs.POST("/:id/progress", jobHandler.Progress)
			jobs.POST("/:id/complete", jobHandler.Complete)
			jobs.POST("/:id/fail", jobHandler.Fail)
		}
	}

	return r
}
