package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"mailcourier/internal/api"
	"mailcourier/internal/config"
	"mailcourier/internal/dispatch"
	"mailcourier/internal/health"
	"mailcourier/internal/logging"
	"mailcourier/internal/queue"
	"mailcourier/internal/ratelimit"
	"mailcourier/internal/store"
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

	dispatcher := dispatch.New(q, dispatch.Config{
		BatchSize:    cfg.BatchSize,
		BatchStagger: cfg.BatchStagger,
		Retention:    cfg.Retention,
	}, log)
	reporter := health.NewReporter(q, q, log)
	throttle := ratelimit.NewThrottle(client, cfg.ThrottleCapacity, cfg.ThrottleRefill, time.Hour)

	server := api.New(dispatcher, reporter, st, throttle, log)
	httpServer := &http.Server{
		Addr:    ":" + cfg.HTTPPort,
		Handler: server.Router(),
	}

	log.Info("api listening", "port", cfg.HTTPPort)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("listen", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	_ = httpServer.Shutdown(shutdownCtx)
}
