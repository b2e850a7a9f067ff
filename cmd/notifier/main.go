package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"installment_notifier/internal/app"
	"installment_notifier/internal/domain/delivery"
	"installment_notifier/internal/domain/notification"
	"installment_notifier/internal/infra/broadcast"
	"installment_notifier/internal/infra/config"
	idb "installment_notifier/internal/infra/database"
	"installment_notifier/internal/infra/email"
	"installment_notifier/internal/infra/httpapi"
	"installment_notifier/internal/infra/logger"
	"installment_notifier/internal/infra/metrics"
	"installment_notifier/internal/infra/scheduler"
	"installment_notifier/internal/infra/sms"
	"installment_notifier/internal/infra/telegram"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"gopkg.in/telebot.v3"
)

type liveBridge interface {
	notification.Broadcaster
	httpapi.Subscriber
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Log.Fatalf("FATAL: Could not load application configuration: %v", err)
	}
	logger.Init(cfg)
	mainLogger := logger.Component("main")

	mainLogger.WithFields(logrus.Fields{
		"environment":   cfg.Environment,
		"provider":      cfg.Provider,
		"timezone":      cfg.Timezone.String(),
		"reminder_time": cfg.ReminderTime,
	}).Info("Configuration loaded")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize Database Connection
	db, err := idb.NewPostgresConnection(cfg.DatabaseURL)
	if err != nil {
		mainLogger.WithError(err).Fatal("Could not connect to database")
	}
	defer db.Close()
	mainLogger.Info("Database connection established successfully")

	contractRepo := idb.NewPostgresContractRepository(db)
	customerDirectory, err := idb.NewPostgresCustomerDirectory(db, cfg.Provider)
	if err != nil {
		mainLogger.WithError(err).Fatal("Could not initialize customer directory")
	}
	notificationRepo := idb.NewPostgresNotificationRepository(db)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	appMetrics := metrics.New(registry)

	var bridge liveBridge
	if cfg.RedisURL != "" {
		redisClient, err := broadcast.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			mainLogger.WithError(err).Fatal("Could not connect to Redis")
		}
		defer redisClient.Close()
		bridge = broadcast.NewRedisBridge(redisClient, cfg.BroadcastChannel, logger.Component("broadcast"))
	} else {
		mainLogger.Warn("REDIS_URL is not set, live pushes are disabled")
		bridge = broadcast.NewNopBridge(logger.Component("broadcast"))
	}

	notificationService := app.NewNotificationServiceImpl(notificationRepo, bridge, appMetrics, logger.Component("notification_service"), 0)

	// Initialize Telegram Bot
	var bot *telebot.Bot
	if cfg.TelegramToken != "" {
		botLogger := logger.Component("telebot")
		bot, err = telebot.NewBot(telebot.Settings{
			Token:  cfg.TelegramToken,
			Poller: &telebot.LongPoller{Timeout: 10 * time.Second},
			OnError: func(err error, c telebot.Context) { // Global error handler
				entry := botLogger.WithError(err)
				if c != nil && c.Sender() != nil && c.Chat() != nil {
					entry = entry.WithFields(logrus.Fields{"sender_id": c.Sender().ID, "chat_id": c.Chat().ID})
				}
				entry.Error("Telegram handler error")
			},
		})
		if err != nil {
			mainLogger.WithError(err).Fatal("Could not create Telegram bot")
		}
	}

	var provider delivery.Provider
	switch cfg.Provider {
	case "sms":
		provider = sms.NewPatternProvider(cfg.SMSBaseURL, cfg.Reminder.APIKey, cfg.Reminder.APISecret, nil)
	case "email":
		provider = email.NewProvider(cfg.SMTPHost, cfg.SMTPPort, cfg.Reminder.APIKey, cfg.Reminder.APISecret, cfg.SMTPFrom)
	case "telegram":
		provider = telegram.NewTelebotProvider(bot)
	}

	reminderService := app.NewReminderService(
		contractRepo,
		customerDirectory,
		provider,
		cfg.Reminder,
		notificationService,
		appMetrics,
		logger.Component("reminder_service"),
		app.ReminderOptions{
			Location:     cfg.Timezone,
			RunDeadline:  cfg.RunDeadline,
			SendTimeout:  cfg.SendTimeout,
			SendRetries:  cfg.SendRetries,
			SendRate:     cfg.SendRate,
			AdminUserIDs: cfg.AdminUserIDs,
		},
	)

	reminderScheduler, err := scheduler.NewReminderScheduler(reminderService, logger.Component("scheduler"), cfg.Timezone, cfg.ReminderTime)
	if err != nil {
		mainLogger.WithError(err).Fatal("Could not create reminder scheduler")
	}
	if err := reminderScheduler.Start(); err != nil {
		mainLogger.WithError(err).Fatal("Could not start reminder scheduler")
	}

	if bot != nil {
		var adminUserID int64
		if len(cfg.AdminUserIDs) > 0 {
			adminUserID = cfg.AdminUserIDs[0]
		}
		adminService := app.NewAdminService(reminderScheduler, notificationService, cfg.AdminTelegramID, adminUserID)
		handlerLogger := logger.Component("telegram")
		telegram.RegisterBotCommands(bot, cfg.AdminTelegramID, handlerLogger)
		telegram.RegisterAdminHandlers(ctx, bot, adminService, cfg.AdminTelegramID, handlerLogger)
		telegram.RegisterNotificationResponseHandlers(ctx, bot, adminService)
		mainLogger.Info("Telegram command handlers registered")

		// Start bot in a goroutine so it doesn't block graceful shutdown handling
		go bot.Start()
	}

	router := httpapi.NewRouter(httpapi.Deps{
		Notifications: notificationService,
		Live:          bridge,
		DB:            db,
		Gatherer:      registry,
		Logger:        logger.Component("http"),
	})
	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		mainLogger.WithField("addr", cfg.HTTPAddr).Info("HTTP server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			mainLogger.WithError(err).Fatal("HTTP server failed")
		}
	}()

	mainLogger.Info("Application setup complete")
	<-ctx.Done() // Block until a signal is received

	mainLogger.Info("Shutting down application...")
	reminderScheduler.Stop()
	if bot != nil {
		bot.Stop()
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		mainLogger.WithError(err).Warn("HTTP server did not shut down cleanly")
	}
	notificationService.Wait()
	mainLogger.Info("Application shut down gracefully")
}
