package services

import (
	"context"
	"time"

	"github.com/Mikee100/SaaS-backend-sub002/pkg/redis"
)

type HealthService struct {
	cache redis.RedisAdapter
}

func NewHealthService(cache redis.RedisAdapter) *HealthService {
	return &HealthService{cache: cache}
}

func (s *HealthService) Get() error {
	if s.cache == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	return s.cache.Client().Ping(ctx).Err()
}
