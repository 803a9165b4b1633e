package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ariefcatur/go-pickup-slots/internal/catalog"
	"github.com/ariefcatur/go-pickup-slots/internal/clock"
	"github.com/ariefcatur/go-pickup-slots/internal/config"
	"github.com/ariefcatur/go-pickup-slots/internal/events"
	"github.com/ariefcatur/go-pickup-slots/internal/grouping"
	"github.com/ariefcatur/go-pickup-slots/internal/httpx"
	kafkax "github.com/ariefcatur/go-pickup-slots/internal/kafka"
	"github.com/ariefcatur/go-pickup-slots/internal/logger"
	"github.com/ariefcatur/go-pickup-slots/internal/postgres"
	"github.com/ariefcatur/go-pickup-slots/internal/redisx"
	"github.com/ariefcatur/go-pickup-slots/internal/reservation"
	"github.com/ariefcatur/go-pickup-slots/internal/storefront"
	"github.com/ariefcatur/go-pickup-slots/internal/window"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	log, err := logger.New(cfg.Dev, cfg.ServiceName)
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// DB
	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatal("db connect", zap.Error(err))
	}
	defer db.Close()
	if err := postgres.EnsureSchema(ctx, db); err != nil {
		log.Fatal("db schema", zap.Error(err))
	}
	pg := &postgres.Boundary{DB: db}

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()
	if err := redisx.Ping(ctx, rdb); err != nil {
		log.Fatal("redis", zap.Error(err))
	}

	// Clock: one blocking sync so the first horizon is computed on corrected
	// time; Run takes over from the next interval.
	clk := clock.NewSynchronizer(pg, log.Named("clock"))
	clk.Sync(ctx)
	go clk.Run(ctx, cfg.ClockSyncInterval)

	// Kafka producer
	prod := kafkax.NewProducer(cfg.KafkaBrokers, 1024, log.Named("producer"))
	prod.Start()

	calc := window.Calculator{Loc: cfg.Location, Cutoff: cfg.OrderCutoff, Days: cfg.HorizonDays}
	store := catalog.NewStore()
	svc := &storefront.Service{
		Clock:    clk,
		Calc:     calc,
		Products: pg,
		Store:    store,
		Groups:   grouping.NewManager(pg, log.Named("grouping")),
		Reservations: reservation.NewLifecycle(
			redisx.NewCachedBoundary(pg, rdb, log.Named("cache")),
			store,
			clk,
			redisx.NewGuard(rdb, log.Named("guard")),
			reservation.Config{Calc: calc, ModificationCutoff: cfg.ModificationCutoff},
			log.Named("reservation"),
		),
		Publisher:   prod,
		Dedup:       redisx.NewDeduper(rdb, cfg.ServiceName),
		ServiceName: cfg.ServiceName,
		Log:         log.Named("storefront"),
	}
	if err := svc.Refresh(ctx); err != nil {
		log.Warn("initial refresh failed, retrying on the next request", zap.Error(err))
	}
	go svc.Run(ctx, cfg.MaintenanceInterval)

	// Kafka consumer
	cons := kafkax.NewConsumer(cfg.KafkaBrokers, cfg.ConsumerGroup, events.InboundTopics(), cfg.ConsumerWorkers, log.Named("consumer"))
	consumerDone := make(chan struct{})
	go func() {
		defer close(consumerDone)
		log.Info("consumer started",
			zap.String("group", cfg.ConsumerGroup),
			zap.Strings("topics", events.InboundTopics()),
			zap.Int("workers", cfg.ConsumerWorkers))
		if err := cons.Start(ctx, svc.HandleEvent); err != nil {
			log.Error("consumer exit", zap.Error(err))
			cancel()
		}
	}()

	// HTTP
	router := httpx.NewRouter()
	(&httpx.StorefrontHandler{Svc: svc, Log: log.Named("http")}).Register(router)
	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		log.Info("HTTP listening", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("listen", zap.Error(err))
			cancel()
		}
	}()

	// wait signal
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sig:
	case <-ctx.Done():
	}
	log.Info("shutting down")

	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	_ = srv.Shutdown(ctx2)
	svc.Close() // late boundary responses are dropped from here on
	cancel()
	<-consumerDone
	prod.Close()
	prod.WaitClosed()
}
