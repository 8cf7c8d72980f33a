package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"pairchat/backend/internal/api/handler"
	"pairchat/backend/internal/blob"
	"pairchat/backend/internal/chathub"
	"pairchat/backend/internal/complaint"
	"pairchat/backend/internal/config"
	"pairchat/backend/internal/janitor"
	"pairchat/backend/internal/lifecycle"
	"pairchat/backend/internal/localization"
	"pairchat/backend/internal/logger"
	"pairchat/backend/internal/matcher"
	"pairchat/backend/internal/moderation"
	"pairchat/backend/internal/ratelimit"
	"pairchat/backend/internal/relay"
	"pairchat/backend/internal/storage"
	"pairchat/backend/internal/telegram"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.Warn("failed to load .env file", "err", err)
	}

	cfg, err := config.New()
	if err != nil {
		logger.Error("failed to load config", "err", err)
		os.Exit(1)
	}
	logger.InitFromConfig(cfg)
	logger.Info("starting pairchat backend", "env", cfg.App.Env, "db_driver", cfg.DB.Driver)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		logger.Error("server stopped with error", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	db, err := storage.Open(cfg)
	if err != nil {
		return err
	}
	if err := storage.Migrate(db); err != nil {
		return err
	}
	store := storage.NewStorageService(db)

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return err
	}
	bus := storage.NewRedisStore(rdb)
	logger.Info("database and redis connections established, migrations complete")

	blobs, err := blob.NewStore(cfg.Blob.Dir, cfg.Blob.BaseURL)
	if err != nil {
		return err
	}

	m := matcher.NewService(store, bus, bus)
	r := relay.NewService(store, moderation.NewFilter(cfg.Moderation.Words), blobs, bus)
	lc := lifecycle.NewService(store, bus, complaint.NewService(bus))

	hub := chathub.NewManagerService(bus, chathub.RelayHandler{Relay: r})

	var bot *telegram.BotService
	if cfg.Telegram.Token != "" {
		loc, err := localization.NewBundled()
		if err != nil {
			return err
		}
		bot, err = telegram.NewBotService(cfg.Telegram.Token, hub, m, r, lc, bus, loc)
		if err != nil {
			return err
		}
		// The restorer must be in place before recovery below.
		hub.SetClientRestorer(bot.RestoreClient)
	}

	if bot != nil {
		// Recover before the hub delivers anything.
		hub.RecoverActiveSessions(ctx, store)
	}
	go hub.Run(ctx)
	if bot != nil {
		go bot.Run(ctx)
	}
	go janitor.New(store, cfg.Janitor.Interval).Run(ctx)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	h := handler.NewHandler(cfg, hub, m, r, lc, blobs, ratelimit.New(rdb))

	server := &http.Server{
		Addr:              cfg.App.HTTPAddr,
		Handler:           h.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", "addr", cfg.App.HTTPAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
