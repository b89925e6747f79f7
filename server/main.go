package main

import (
	"context"

	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/gofiber/fiber/v3/middleware/logger"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kataras/golog"
	"github.com/meikuraledutech/flow"
	"github.com/meikuraledutech/flow/api"
	"github.com/meikuraledutech/flow/config"
	"github.com/meikuraledutech/flow/postgres"
	"github.com/meikuraledutech/flow/redis"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	cfg := config.FromEnv()
	log := golog.New()
	log.SetLevel(cfg.LogLevel)

	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL is not set")
	}

	pool, err := pgxpool.New(context.Background(), cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("connect: %v", err)
	}
	defer pool.Close()

	pg := postgres.New(pool)
	if err := pg.CreateSchema(context.Background()); err != nil {
		log.Fatalf("schema: %v", err)
	}

	// Sessions stay in postgres unless Redis is configured.
	var sessions flow.SessionStore = pg
	if cfg.RedisAddr != "" {
		rs := redis.New(redis.Options{Addr: cfg.RedisAddr, Prefix: cfg.RedisPrefix, TTL: cfg.SessionTTL})
		defer rs.Close()
		sessions = rs
		log.Infof("sessions stored in redis at %s", cfg.RedisAddr)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	opts := flow.Options{
		Logger:       log,
		Metrics:      flow.NewMetrics(reg),
		MaxAutoSteps: cfg.MaxAutoSteps,
	}

	srv := api.New(flow.NewPublisher(pg, opts), flow.NewRunner(pg, sessions, opts), log)
	app := api.NewApp(srv, logger.New())
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))

	log.Fatal(app.Listen(cfg.Listen))
}
