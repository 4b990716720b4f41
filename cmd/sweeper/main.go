package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/Mikee100/SaaS-backend-sub002/internal/config"
	"github.com/Mikee100/SaaS-backend-sub002/internal/repository"
	"github.com/Mikee100/SaaS-backend-sub002/pkg/logger"
	"github.com/Mikee100/SaaS-backend-sub002/pkg/pg"
	"github.com/Mikee100/SaaS-backend-sub002/pkg/prom"
)

const sweepInterval = time.Minute

func main() {

	err := config.Load(argContainsEnvPath())
	if err != nil {
		logger.Error("failed to load config", "error", err)
		return
	}

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

	db, err := pg.CreateReadWrite(readConf, writeConf, false)
	if err != nil {
		logger.Error("failed connecting to pg", "error", err)
		return
	}

	paymentRepo := repository.NewPaymentTransactionRepository(db)
	horizon := config.Get().PendingTimeoutHorizon

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
		prom.ListenAndServer(":9102", "/metrics")
	}()

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Kill, os.Interrupt, syscall.SIGTERM)

	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	logger.Info("Sweeper started", "horizon", horizon, "interval", sweepInterval)

	for {
		select {
		case <-ticker.C:
			sweep(paymentRepo, horizon)
		case <-c:
			logger.Info("Sweeper stopped")
			return
		}
	}
}

func sweep(repo *repository.PaymentTransactionRepository, horizon time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	swept, err := repo.SweepTimeouts(ctx, horizon)
	if err != nil {
		logger.Error("failed to sweep stale pending transactions", "error", err)
		return
	}

	if swept > 0 {
		logger.Info("Swept stale pending transactions to timeout", "count", swept)
		prom.AddCounterVec(prom.SystemPayments, prom.MetricPaymentCallbackOutcomes, float64(swept), "timeout")
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
