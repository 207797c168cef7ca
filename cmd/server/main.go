package main

import (
	"context"
	"errors"
	"log"
	"os/signal"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/digkill/photogen/internal/admin"
	"github.com/digkill/photogen/internal/api"
	"github.com/digkill/photogen/internal/config"
	"github.com/digkill/photogen/internal/database"
	"github.com/digkill/photogen/internal/queue"
	"github.com/digkill/photogen/internal/ratelimit"
	"github.com/digkill/photogen/internal/repository"
	"github.com/digkill/photogen/internal/service"
	"github.com/digkill/photogen/internal/storage"
	"github.com/digkill/photogen/internal/telegram"
	"github.com/digkill/photogen/internal/tracing"
	"github.com/digkill/photogen/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logr := logger.New(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Setup(ctx, "photogen", cfg.OTelEndpoint)
	if err != nil {
		log.Fatalf("tracing: %v", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			logr.Error("tracing shutdown", "err", err)
		}
	}()

	db, err := database.Connect(cfg)
	if err != nil {
		log.Fatalf("database connect: %v", err)
	}
	defer db.Close()

	if err := database.Migrate(ctx, db); err != nil {
		log.Fatalf("database migrate: %v", err)
	}

	var jobs queue.Gateway
	if cfg.RedisURL != "" {
		client, err := queue.Dial(ctx, cfg.RedisURL)
		if err != nil {
			log.Fatalf("redis: %v", err)
		}
		defer client.Close()
		jobs = queue.NewRedisGateway(client, cfg.QueuePrefix)
	} else {
		logr.Warn("REDIS_URL not set, using in-process job queue")
		jobs = queue.NewMemoryGateway()
	}

	var store service.ObjectStore
	if cfg.StorageEnabled() {
		s3Store, err := storage.NewS3Store(storage.Config{
			Endpoint:     cfg.S3Endpoint,
			Region:       cfg.S3Region,
			AccessKey:    cfg.S3AccessKey,
			SecretKey:    cfg.S3SecretKey,
			Bucket:       cfg.S3Bucket,
			UsePathStyle: cfg.S3UsePathStyle,
			PresignTTL:   cfg.S3PresignTTL,
		})
		if err != nil {
			log.Fatalf("storage: %v", err)
		}
		store = s3Store
	}

	var notifier service.AlertNotifier
	if cfg.TelegramBotToken != "" {
		botAPI, err := tgbotapi.NewBotAPI(cfg.TelegramBotToken)
		if err != nil {
			log.Fatalf("telegram bot: %v", err)
		}
		notifier = telegram.NewNotifier(botAPI, cfg.TelegramAlertChatID, time.Hour, logr)
	}

	limiter := ratelimit.New(cfg.RateLimitPerMinute, cfg.RateLimitBurst)
	go func() {
		ticker := time.NewTicker(10 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				limiter.Cleanup(time.Hour)
			}
		}
	}()

	personRepo := repository.NewPersonRepository(db)
	teamRepo := repository.NewTeamRepository(db)
	selfieRepo := repository.NewSelfieRepository(db)
	packageRepo := repository.NewPackageRepository(db)
	contextRepo := repository.NewContextRepository(db)
	generationRepo := repository.NewGenerationRepository(db)
	costRepo := repository.NewCostRepository(db)
	creditRepo := repository.NewCreditRepository(db)
	settingsRepo := repository.NewSettingsRepository(db)
	subscriptionRepo := repository.NewSubscriptionRepository(db)

	security := service.NewSecurityMonitor(repository.NewSecurityRepository(db), notifier, cfg.SecurityFlagThreshold, cfg.SecurityFlagWindow, logr)
	credits := service.NewCreditLedger(db, personRepo, teamRepo, creditRepo, security, logr)
	entitlements := service.NewEntitlementResolver(teamRepo, subscriptionRepo, logr)
	styles := service.NewStyleResolver(settingsRepo, cfg.FreePackageID, logr)

	deps := service.Dependencies{
		DB:           db,
		Persons:      personRepo,
		Teams:        teamRepo,
		Selfies:      selfieRepo,
		Packages:     packageRepo,
		Contexts:     contextRepo,
		Generations:  generationRepo,
		Costs:        costRepo,
		Access:       service.NewAccessChecker(personRepo, teamRepo, security, logr),
		Credits:      credits,
		Entitlements: entitlements,
		Styles:       styles,
		Assets:       service.NewAssetResolver(repository.NewAssetRepository(db), selfieRepo, store, logr),
		Security:     security,
		Queue:        jobs,
		Store:        store,
		Limiter:      limiter,
		Log:          logr,
	}
	generationService := service.NewGenerationService(deps, service.GenerationConfig{
		CreditCost:    cfg.GenerationCreditCost,
		Provider:      cfg.DefaultProvider,
		FreePackageID: cfg.FreePackageID,
	})
	regenerationService := service.NewRegenerationService(deps)
	accountService := service.NewAccountService(personRepo, teamRepo, selfieRepo, packageRepo, contextRepo, generationRepo, costRepo, logr)

	reconciler := service.NewReconciler(db, generationRepo, personRepo, creditRepo, credits, jobs, cfg.ReconcileStaleAfter, logr)
	if err := reconciler.Start(ctx, cfg.ReconcileSchedule); err != nil {
		log.Fatalf("reconciler: %v", err)
	}

	adminServer := admin.NewServer(cfg.AdminListenAddr, cfg.AdminUsername, cfg.AdminPassword, logr, accountService, credits, entitlements, styles, reconciler)
	go func() {
		if err := adminServer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logr.Error("admin server stopped", "err", err)
		}
	}()

	apiServer := api.NewServer(cfg.HTTPListenAddr, []byte(cfg.JWTSecret), logr, generationService, regenerationService)
	if err := apiServer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logr.Error("api server stopped", "err", err)
	}
}
