package main

import (
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/Mikee100/SaaS-backend-sub002/internal/config"
	"github.com/Mikee100/SaaS-backend-sub002/internal/notifier"
	"github.com/Mikee100/SaaS-backend-sub002/pkg/logger"
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

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Kill, os.Interrupt, syscall.SIGTERM)

	dispatcher := notifier.NewWebhookDispatcher(config.Get().EventObserverURLs)

	service, err := notifier.NewNotifierService(redisAdap, dispatcher)
	if err != nil {
		logger.Error("failed to create the notifier", "error", err)
		return
	}

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
		prom.ListenAndServer(":9101", "/metrics")
	}()

	if err := service.Start(4); err != nil {
		logger.Error("failed to start notifier", "error", err)
		return
	}

	select {
	case <-c:
		service.Stop()
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
