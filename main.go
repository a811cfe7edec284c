package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/pathakanu/healthReminder/internal/api"
	"github.com/pathakanu/healthReminder/internal/bot"
	"github.com/pathakanu/healthReminder/internal/config"
	"github.com/pathakanu/healthReminder/internal/logging"
	myopenai "github.com/pathakanu/healthReminder/internal/openai"
	"github.com/pathakanu/healthReminder/internal/store"
	"github.com/pathakanu/healthReminder/internal/twilio"
	"github.com/sirupsen/logrus"
)

func main() {
	cfg := config.Load()
	logger := logging.New(cfg.LogLevel, cfg.LogFormat)

	reminders, err := store.Open(context.Background(), store.Options{
		Driver:      cfg.StoreDriver,
		DatabaseURL: cfg.DatabaseURL,
		SQLitePath:  cfg.SQLitePath,
		BoltPath:    cfg.BoltPath,
		RedisURL:    cfg.RedisURL,
	}, logger)
	if err != nil {
		logger.WithError(err).Fatal("store init failed")
	}

	openAIClient := myopenai.New(cfg.OpenAIAPIKey)
	twilioClient := twilio.New(cfg.TwilioAccountSID, cfg.TwilioAuthToken, cfg.TwilioWhatsAppNumber, logger)

	reminderBot := bot.New(cfg, reminders, openAIClient, twilioClient, logger)
	if err := reminderBot.StartScheduler(); err != nil {
		logger.WithError(err).Fatal("scheduler start")
	}

	server := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: api.Router(api.New(reminders, logger), reminderBot.Handler(), logger),
	}

	go func() {
		logger.Infof("server starting on :%s", cfg.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("server error")
		}
	}()

	waitForShutdown(cfg, server, reminderBot, reminders, logger)
}

func waitForShutdown(cfg *config.Config, server *http.Server, reminderBot *bot.Bot, reminders *store.Store, logger *logrus.Logger) {
	stopCtx := make(chan os.Signal, 1)
	signal.Notify(stopCtx, syscall.SIGINT, syscall.SIGTERM)
	<-stopCtx
	logger.Info("shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.WithError(err).Error("server shutdown error")
	}
	reminderBot.StopScheduler()
	if err := reminders.Close(); err != nil {
		logger.WithError(err).Error("store close error")
	}
}
