package main

import (
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/Mikee100/SaaS-backend-sub002/internal/config"
	"github.com/Mikee100/SaaS-backend-sub002/internal/events"
	gateway "github.com/Mikee100/SaaS-backend-sub002/internal/gateways"
	"github.com/Mikee100/SaaS-backend-sub002/internal/handlers"
	"github.com/Mikee100/SaaS-backend-sub002/internal/repository"
	"github.com/Mikee100/SaaS-backend-sub002/internal/services"
	xhttp "github.com/Mikee100/SaaS-backend-sub002/pkg/http"
	"github.com/Mikee100/SaaS-backend-sub002/pkg/logger"
	"github.com/Mikee100/SaaS-backend-sub002/pkg/pg"
	"github.com/Mikee100/SaaS-backend-sub002/pkg/prom"
	"github.com/Mikee100/SaaS-backend-sub002/pkg/redis"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {

	err := config.Load(argContainsEnvPath())
	if err != nil {
		logger.Error("failed to load config", "error", err)
		return
	}

	// transport (tcp for now)
	s := xhttp.NewServer(xhttp.DefaultServerOption)
	s.Server.ReadBufferSize = 1024 * 16
	s.Server.WriteBufferSize = 1024 * 16
	s.Use(xhttp.CompressMiddleware(6))
	s.Use(xhttp.TimeoutMiddleware(time.Second * 5))
	s.Use(xhttp.RequestLoggerMiddleware)
	s.Use(xhttp.RecoverMiddleware)
	s.Router = xhttp.CreateDefaultRouter()

	readConf := pg.Config{
		User:     config.Get().PostgresReadUser,
		Host:     config.Get().PostgresReadHost,
		Port:     config.Get().PostgresReadPort,
		Password: config.Get().PostgresReadPassword,
		Database: config.Get().PostgresReadDatabase,
	}
	writeConf := pg.Config{
		User:     config.Get().PostgresWriteUser,
		Host:     config.Get().PostgresWriteHost,
		Port:     config.Get().PostgresWritePort,
		Password: config.Get().PostgresWritePassword,
		Database: config.Get().PostgresWriteDatabase,
	}

	pgDebug := false
	if config.Get().AppEnv == "dev" {
		pgDebug = true
	}
	db, err := pg.CreateReadWrite(readConf, writeConf, pgDebug)
	if err != nil {
		logger.Error("failed connecting to pg", "error", err)
		return
	}

	redisAdap, err := redis.NewRedisAdapter("default", config.Get().RedisUniversalKeyPrefix, &redis.Options{
		Addrs:      []string{config.Get().RedisAddr},
		ClientName: "default",
		DB:         config.Get().RedisDatabase,
		Username:   config.Get().RedisUsername,
		Password:   config.Get().RedisPassword,
	})
	if err != nil {
		logger.Error("failed connecting to redis", "error", err)
		return
	}

	stream, err := events.NewStream(redisAdap, events.StreamConfig{
		Name:              config.Get().EventStreamName,
		ConsumerGroup:     config.Get().EventConsumerGroup,
		ConsumerName:      config.Get().EventConsumerName,
		MaxRetries:        config.Get().EventMaxRetries,
		VisibilityTimeout: config.Get().EventVisibilityTimeout,
		PollInterval:      config.Get().EventPollInterval,
		BatchSize:         config.Get().EventBatchSize,
		MaxLen:            config.Get().EventMaxLen,
		EnableDLQ:         config.Get().EventEnableDLQ,
	})
	if err != nil {
		logger.Error("failed creating event stream", "error", err)
		return
	}

	gw, err := gateway.NewClient(&gateway.Config{
		BaseURL:        config.Get().MpesaBaseURL,
		ConsumerKey:    config.Get().MpesaConsumerKey,
		ConsumerSecret: config.Get().MpesaConsumerSecret,
		ShortCode:      config.Get().MpesaShortCode,
		Passkey:        config.Get().MpesaPasskey,
		CallbackURL:    config.Get().MpesaCallbackURL,
		Timeout:        config.Get().MpesaTimeout,
	})
	if err != nil {
		logger.Error("failed to create payment gateway client", "error", err)
		return
	}

	productRepo := repository.NewProductRepository(db)
	saleRepo := repository.NewSaleRepository(db)
	paymentRepo := repository.NewPaymentTransactionRepository(db)

	// services
	saleService := services.NewSaleService(productRepo, saleRepo, stream)
	paymentService := services.NewPaymentService(paymentRepo, gw, config.Get().MpesaTimeout)
	reconcileService := services.NewReconcileService(paymentRepo, saleService, redisAdap, stream)
	healthService := services.NewHealthService(redisAdap)

	// v1 handlers
	saleHandler := handlers.NewSaleHandler(saleService)
	paymentHandler := handlers.NewPaymentHandler(paymentService, reconcileService)
	healthHandler := handlers.NewHealthHandler(healthService)

	g := s.Router.Group("/api/v1")
	handlers.RegisterSaleRoutes(g, saleHandler)
	handlers.RegisterPaymentRoutes(g, paymentHandler)
	handlers.RegisterHealthRoutes(g, healthHandler)

	var hostname string
	hostname, err = os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	err = prom.Create(hostname, config.Get().AppEnv, config.Get().PromNamespace)
	if err != nil {
		logger.Error("failed to create prometheus metrics", "error", err)
		return
	}

	go func() {
		prom.ListenAndServer(":9100", "/metrics")
	}()

	// Create new server
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Kill, os.Interrupt, syscall.SIGTERM)

	go func() {
		var err = s.ListenAndServe(config.Get().HttpListenAddr)
		if err != nil {
			logger.Error("error in running http-server", "error", err)
		}
	}()

	select {
	case <-c:
		s.Shutdown()
	}
}

func argContainsEnvPath() string {
	for _, v := range os.Args {
		if strings.Contains(v, "--env=") {
			s := strings.Split(v, "=")
			if _, err := os.Open(s[1]); err != nil {
				logger.Error("failed to open the passed env file, got error" + err.Error())
				return ""
			}
			return s[1]
		}
	}
	return ""
}
