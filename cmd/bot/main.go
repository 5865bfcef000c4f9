package main

import (
	"context"
	"errors"
	"log"
	"os/signal"
	"syscall"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/uzbekfilmtv/kinobot/internal/admin"
	"github.com/uzbekfilmtv/kinobot/internal/broadcast"
	"github.com/uzbekfilmtv/kinobot/internal/config"
	"github.com/uzbekfilmtv/kinobot/internal/database"
	"github.com/uzbekfilmtv/kinobot/internal/repository"
	"github.com/uzbekfilmtv/kinobot/internal/service"
	"github.com/uzbekfilmtv/kinobot/internal/telegram"
	"github.com/uzbekfilmtv/kinobot/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logr := logger.New()

	db, err := database.Connect(cfg)
	if err != nil {
		log.Fatalf("database connect: %v", err)
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := database.Migrate(ctx, db); err != nil {
		log.Fatalf("database migrate: %v", err)
	}

	botAPI, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		log.Fatalf("telegram bot: %v", err)
	}

	userRepo := repository.NewUserRepository(db)
	contentRepo := repository.NewContentRepository(db)
	broadcastRepo := repository.NewBroadcastRepository(db)

	userService := service.NewUserService(userRepo, contentRepo)
	contentService := service.NewContentService(contentRepo)

	transport := telegram.NewTransport(botAPI)
	resolver := telegram.NewResolver(transport, cfg.DeliveryCaption, cfg.BotLink())
	dispatcher := broadcast.New(transport, userService, broadcastRepo, cfg.BroadcastInterval, logr)

	bot := telegram.NewBot(cfg, botAPI, logr, userService, contentService, resolver, dispatcher, transport)

	adminServer := admin.NewServer(cfg.AdminListenAddr, cfg.AdminUsername, cfg.AdminPassword, logr, contentService, userService, dispatcher, broadcastRepo)
	go func() {
		if err := adminServer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logr.Error("admin server stopped", "err", err)
		}
	}()

	if err := bot.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logr.Error("bot stopped", "err", err)
	}
}
