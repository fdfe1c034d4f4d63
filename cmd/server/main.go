package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"accord/internal/agent"
	"accord/internal/audit"
	chathandler "accord/internal/chat/handler"
	chatservice "accord/internal/chat/service"
	chatstore "accord/internal/chat/store"
	exchangehandler "accord/internal/exchange/handler"
	exchangemetrics "accord/internal/exchange/metrics"
	exchangeservice "accord/internal/exchange/service"
	exchangestore "accord/internal/exchange/store"
	"accord/internal/gateway"
	gatewaymetrics "accord/internal/gateway/metrics"
	partnerhandler "accord/internal/partner/handler"
	partnermetrics "accord/internal/partner/metrics"
	partnerservice "accord/internal/partner/service"
	partnerstore "accord/internal/partner/store"
	"accord/internal/platform/config"
	"accord/internal/platform/database"
	"accord/internal/platform/health"
	"accord/internal/platform/kafka"
	"accord/internal/platform/kafka/producer"
	"accord/internal/platform/logger"
	platformredis "accord/internal/platform/redis"
	trusthandler "accord/internal/trust/handler"
	trustmetrics "accord/internal/trust/metrics"
	trustservice "accord/internal/trust/service"
	truststore "accord/internal/trust/store"
	httptransport "accord/internal/transport/http"
	psync "accord/pkg/platform/sync"
)

// main wires dependencies and keeps the server lifecycle small. Optional
// infrastructure (Postgres, Redis, Kafka, a real protocol agent) is swapped
// for in-process fallbacks when unconfigured, so a bare `go run` works.
func main() {
	cfg := config.FromEnv()
	log := logger.New()

	if err := run(cfg, log); err != nil {
		log.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Server, log *slog.Logger) error {
	healthHandler := health.New()

	// Persistence.
	dbCfg := database.DefaultConfig()
	dbCfg.URL = cfg.DatabaseURL
	pool, err := database.New(dbCfg)
	if err != nil {
		return err
	}
	var (
		partnerSt  partnerstore.Store
		exchangeSt exchangestore.Store
		trustSt    truststore.Store
		chatSt     chatstore.Store
	)
	if pool != nil {
		defer pool.Close() //nolint:errcheck // shutdown path
		partnerSt = partnerstore.NewPostgres(pool.DB())
		exchangeSt = exchangestore.NewPostgres(pool.DB())
		trustSt = truststore.NewPostgres(pool.DB())
		chatSt = chatstore.NewPostgres(pool.DB())
		healthHandler.RegisterCheck("postgres", func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return pool.Health(ctx)
		})
		log.Info("using postgres stores")
	} else {
		partnerSt = partnerstore.NewInMemory()
		exchangeSt = exchangestore.NewInMemory()
		trustSt = truststore.NewInMemory()
		chatSt = chatstore.NewInMemory()
		log.Warn("DATABASE_URL not set, using in-memory stores")
	}

	// Event dedup.
	var dedup gateway.DedupStore
	redisClient, err := platformredis.New(cfg.RedisURL)
	if err != nil {
		return err
	}
	if redisClient != nil {
		defer redisClient.Close() //nolint:errcheck // shutdown path
		dedup = gateway.NewRedisDedup(redisClient, cfg.EventDedupTTL)
		healthHandler.RegisterCheck("redis", func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return redisClient.Health(ctx)
		})
		log.Info("using redis event dedup")
	} else {
		dedup = gateway.NewMemoryDedup(cfg.EventDedupTTL)
		log.Warn("REDIS_URL not set, using in-memory event dedup")
	}

	// Audit trail.
	var auditor audit.Publisher
	if cfg.KafkaBrokers != "" {
		kafkaProducer, err := producer.New(producer.DefaultConfig(cfg.KafkaBrokers), log)
		if err != nil {
			return err
		}
		defer kafkaProducer.Close()
		auditor = audit.NewKafkaPublisher(kafkaProducer, cfg.AuditTopic, log)
		kafkaHealth := kafka.NewHealthChecker(cfg.KafkaBrokers)
		healthHandler.RegisterCheck("kafka", func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return kafkaHealth.Check(ctx)
		})
		log.Info("audit events flowing to kafka", "topic", cfg.AuditTopic)
	} else {
		auditor = audit.NewLogPublisher(log)
		log.Warn("KAFKA_BROKERS not set, audit events go to the log")
	}

	// Protocol agent.
	var protocolAgent agent.ProtocolAgent
	if cfg.AgentBaseURL != "" {
		protocolAgent = agent.NewHTTPClient(agent.HTTPClientConfig{
			BaseURL: cfg.AgentBaseURL,
			APIKey:  cfg.AgentAPIKey,
		})
		log.Info("using protocol agent", "base_url", cfg.AgentBaseURL)
	} else {
		protocolAgent = agent.NewStub()
		log.Warn("AGENT_BASE_URL not set, using stub protocol agent")
	}

	// Domain services. Partner and exchange share one per-partner mutex so
	// removal excludes new exchange creation.
	locks := psync.NewShardedMutex()

	trust := trustservice.NewService(trustSt, auditor, log,
		trustservice.WithMetrics(trustmetrics.New()))

	partnerOpts := []partnerservice.Option{
		partnerservice.WithMetrics(partnermetrics.New()),
		partnerservice.WithLocks(locks),
	}
	if cfg.ResetStateOnDIDChange {
		partnerOpts = append(partnerOpts, partnerservice.WithDIDChangeStateReset())
	}
	partners := partnerservice.NewService(partnerSt, protocolAgent, auditor, log, partnerOpts...)

	exchanges := exchangeservice.NewService(exchangeSt, partners, trust, protocolAgent, auditor, log,
		exchangeservice.WithMetrics(exchangemetrics.New()),
		exchangeservice.WithLocks(locks))
	partners.BindExchanges(exchanges)

	chat := chatservice.NewService(chatSt, partners, protocolAgent, auditor, log)

	gw := gateway.New(partners, exchanges, chat, dedup, log,
		gateway.WithMetrics(gatewaymetrics.New()))

	router := httptransport.NewRouter(httptransport.Deps{
		Partners:   partnerhandler.New(partners, log),
		Exchanges:  exchangehandler.New(exchanges, log),
		Chat:       chathandler.New(chat, log),
		Trust:      trusthandler.New(trust, log),
		Webhooks:   gateway.NewHandler(gw),
		Health:     healthHandler,
		AdminToken: cfg.AdminToken,
		Logger:     log,
	})

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("starting http server", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return err
	case <-quit:
	}

	log.Info("shutting down server gracefully")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(ctx)
}
