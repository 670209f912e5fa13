package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"consultchat/internal/ratelimit"
	"consultchat/internal/usertoken"
	"consultchat/internal/util"
	"consultchat/pkg/storage"
	"consultchat/services/conversation/internal/app"
	"consultchat/services/conversation/internal/bookingclient"
	"consultchat/services/conversation/internal/config"
	"consultchat/services/conversation/internal/safety"
	"consultchat/services/conversation/internal/server"
)

func main() {
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := util.InitLogger(cfg.LogLevel, "conversation")

	jwtLeeway, err := config.ParseDuration(cfg.JWTLeeway, 30*time.Second)
	if err != nil {
		util.Fatal("failed to parse jwt leeway", "err", err)
	}
	tokenVerifier, err := usertoken.NewVerifier(usertoken.Config{
		JWKSURL:    cfg.AuthJWKSURL,
		Issuer:     cfg.JWTIssuer,
		Audience:   cfg.JWTAudience,
		Leeway:     jwtLeeway,
		HTTPClient: &http.Client{Timeout: 5 * time.Second},
	})
	if err != nil {
		util.Fatal("failed to init jwks verifier", "err", err)
	}
	bookingClient := bookingclient.NewClient(cfg.BookingServiceURL)

	objects, err := storage.NewMinioStore(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
	if err != nil {
		util.Fatal("failed to init object store", "err", err)
	}

	var publisher safety.Publisher = safety.NopPublisher{}
	if cfg.AMQPURL != "" {
		amqpPublisher, err := safety.NewAMQPPublisher(cfg.AMQPURL)
		if err != nil {
			util.Fatal("failed to init moderation publisher", "err", err)
		}
		defer amqpPublisher.Close()
		publisher = amqpPublisher
	}

	var sendLimiter *ratelimit.FixedWindowLimiter
	if cfg.RedisAddr != "" {
		sendWindow, err := config.ParseDuration(cfg.SendWindow, time.Minute)
		if err != nil {
			util.Fatal("failed to parse send window", "err", err)
		}
		sendLimit := cfg.SendLimit
		if sendLimit <= 0 {
			sendLimit = 30
		}
		sendLimiter, err = ratelimit.NewRedisFixedWindowLimiter(cfg.RedisAddr, cfg.RedisPassword, "consultchat:send", sendLimit, sendWindow)
		if err != nil {
			util.Fatal("failed to init rate limiter", "err", err)
		}
	}

	appCore, err := app.New(app.Config{
		DatabaseURL: cfg.DatabaseURL,
		Objects:     objects,
		Publisher:   publisher,
	})
	if err != nil {
		util.Fatal("failed to init app", "err", err)
	}

	sweepInterval, err := config.ParseDuration(cfg.SweepInterval, time.Hour)
	if err != nil {
		util.Fatal("failed to parse sweep interval", "err", err)
	}
	sweepMinAge, err := config.ParseDuration(cfg.SweepMinAge, 24*time.Hour)
	if err != nil {
		util.Fatal("failed to parse sweep min age", "err", err)
	}
	sweepCtx, cancelSweep := context.WithCancel(context.Background())
	defer cancelSweep()
	go appCore.RunSweeper(sweepCtx, sweepInterval, sweepMinAge)

	httpServer := server.New(server.Config{
		App:           appCore,
		Bookings:      bookingClient,
		TokenVerifier: tokenVerifier,
		SendLimiter:   sendLimiter,
	})

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	slog.Info("conversation server listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server error", "err", err)
	}
}
