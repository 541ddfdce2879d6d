package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"mailcourier/internal/config"
	"mailcourier/internal/lifecycle"
	"mailcourier/internal/logging"
	"mailcourier/internal/queue"
	"mailcourier/internal/store"
	"mailcourier/internal/telemetry"
	"mailcourier/internal/worker"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	log := logging.New(os.Stdout, cfg.Env, cfg.LogLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		<-ch
		cancel()
	}()

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	q := queue.NewRedis(client, cfg.LeaseTTL)

	var st *store.Store
	if cfg.PostgresDSN != "" {
		var err error
		st, err = store.New(ctx, cfg.PostgresDSN)
		if err != nil {
			log.Error("connect postgres", "error", err)
			os.Exit(1)
		}
		defer st.Close()
		if err := st.RunMigrations(ctx); err != nil {
			log.Error("migrations", "error", err)
			os.Exit(1)
		}
	}

	lifecycle.New(log, st).Bind(q)

	go func() {
		if err := http.ListenAndServe(cfg.MetricsAddr, telemetry.Handler()); err != nil {
			log.Error("metrics server stopped", "error", err)
		}
	}()

	// The real provider is injected here in deployment builds; the log
	// transport keeps local runs self-contained.
	sender := worker.LogSender{Log: log}

	processor := worker.NewProcessor(q, sender, cfg.WorkerPollInterval, log)
	log.Info("worker started", "lease_ttl", cfg.LeaseTTL, "poll_interval", cfg.WorkerPollInterval)
	if err := processor.Run(ctx); err != nil && err != context.Canceled {
		log.Error("worker stopped", "error", err)
	}
}
