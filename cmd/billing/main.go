package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/digkill/TGSubscriptionBot/internal/api"
	"github.com/digkill/TGSubscriptionBot/internal/config"
	"github.com/digkill/TGSubscriptionBot/internal/database"
	"github.com/digkill/TGSubscriptionBot/internal/gateway"
	"github.com/digkill/TGSubscriptionBot/internal/models"
	"github.com/digkill/TGSubscriptionBot/internal/notify"
	"github.com/digkill/TGSubscriptionBot/internal/repository"
	"github.com/digkill/TGSubscriptionBot/internal/scheduler"
	"github.com/digkill/TGSubscriptionBot/internal/service"
	"github.com/digkill/TGSubscriptionBot/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.LogDebug)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.Connect(cfg)
	if err != nil {
		log.Error("connect database", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := database.Migrate(ctx, db); err != nil {
		log.Error("run migrations", "err", err)
		os.Exit(1)
	}

	users := repository.NewUserRepository(db)
	plans := repository.NewPlanRepository(db)
	promos := repository.NewPromoRepository(db)
	subs := repository.NewSubscriptionRepository(db)
	payments := repository.NewPaymentRepository(db)
	refunds := repository.NewRefundRepository(db)

	if err := seedDefaultPlan(ctx, cfg, plans); err != nil {
		log.Error("seed default plan", "err", err)
		os.Exit(1)
	}

	gw := gateway.NewYooKassa(cfg, log)

	promoSvc := service.NewPromoService(promos, subs, plans)
	subsSvc := service.NewSubscriptionService(cfg, log, users, plans, subs, payments, promoSvc, gw)
	paymentSvc := service.NewPaymentService(log, payments, refunds, users, plans, subs, subsSvc, gw)
	userSvc := service.NewUserService(users)
	renewalSvc := service.NewRenewalService(log, users, plans, subs, payments, paymentSvc, cfg.RenewalLeadWindow)

	var notifier scheduler.Notifier
	if cfg.TelegramBotToken != "" {
		tg, err := notify.NewTelegram(cfg.TelegramBotToken, log)
		if err != nil {
			log.Error("init telegram notifier", "err", err)
			os.Exit(1)
		}
		notifier = tg
	}

	sched := scheduler.New(scheduler.Config{
		Tick:        cfg.SchedulerTick,
		LeadWindow:  cfg.RenewalLeadWindow,
		MaxAttempts: cfg.RenewalMaxAttempts,
		BatchSize:   cfg.RenewalBatchSize,
	}, renewalSvc, renewalSvc, notifier, scheduler.SystemClock(), log)

	server := api.NewServer(cfg, log, userSvc, subsSvc, paymentSvc, promoSvc, paymentSvc)

	go func() {
		if err := sched.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("scheduler stopped", "err", err)
		}
	}()

	if err := server.Run(ctx); err != nil {
		log.Error("api server stopped", "err", err)
		os.Exit(1)
	}

	log.Info("billing stopped")
}

func seedDefaultPlan(ctx context.Context, cfg config.Config, plans *repository.PlanRepository) error {
	plan, err := plans.GetDefault(ctx)
	if err != nil {
		return err
	}
	if plan != nil {
		return nil
	}
	_, err = plans.Create(ctx, &models.SubscriptionPlan{
		Name:            cfg.DefaultPlanName,
		Currency:        cfg.DefaultCurrency,
		PriceMinorUnits: cfg.DefaultPlanPrice,
		DurationDays:    cfg.DefaultPlanDuration,
		IsActive:        true,
	})
	return err
}
