package notifier

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Mikee100/SaaS-backend-sub002/internal/config"
	"github.com/Mikee100/SaaS-backend-sub002/internal/events"
	"github.com/Mikee100/SaaS-backend-sub002/pkg/logger"
	"github.com/Mikee100/SaaS-backend-sub002/pkg/redis"
	"github.com/Mikee100/SaaS-backend-sub002/pkg/worker"
)

const ProcessingTimeout = time.Second * 5
const HealthInterval = time.Second * 30
const ShutdownTimeout = time.Minute

// Dispatcher delivers one event to its downstream destinations.
type Dispatcher interface {
	Dispatch(ctx context.Context, d *events.Delivery) error
}

// NotifierService drains the event stream and fans deliveries out through a
// worker pool. Consumers keep at-least-once semantics: a failed dispatch is
// not acked and comes back after the visibility timeout.
type NotifierService struct {
	adapter    redis.RedisAdapter
	streams    []*events.Stream
	dispatcher Dispatcher
	metrics    *ServiceMetrics
	wg         sync.WaitGroup
	ctx        context.Context
	cancel     context.CancelFunc
	worker     *worker.WorkerManager
}

func NewNotifierService(adapter redis.RedisAdapter, dispatcher Dispatcher) (*NotifierService, error) {
	ctx, cancel := context.WithCancel(context.Background())
	service := &NotifierService{
		adapter:    adapter,
		streams:    make([]*events.Stream, 0),
		dispatcher: dispatcher,
		metrics:    NewServiceMetrics(),
		ctx:        ctx,
		cancel:     cancel,
		worker:     worker.NewWorkerManager(10_000, 100, nil),
	}
	return service, nil
}

func (s *NotifierService) Start(consumers int) error {
	logger.Info("Starting Notifier Service...")

	if consumers <= 0 {
		consumers = 4
	}

	s.worker.SetWorker(s.workerHandler)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.worker.Start(); err != nil {
			logger.Error("Worker manager stopped", "error", err)
		}
	}()

	for i := 0; i < consumers; i++ {
		streamConfig := events.StreamConfig{
			Name:              config.Get().EventStreamName,
			ConsumerGroup:     config.Get().EventConsumerGroup,
			ConsumerName:      fmt.Sprintf("%s-instance-%d", config.Get().EventConsumerName, i),
			MaxRetries:        config.Get().EventMaxRetries,
			VisibilityTimeout: config.Get().EventVisibilityTimeout,
			PollInterval:      config.Get().EventPollInterval,
			BatchSize:         config.Get().EventBatchSize,
			MaxLen:            config.Get().EventMaxLen,
			EnableDLQ:         config.Get().EventEnableDLQ,
		}

		stream, err := events.NewStream(s.adapter, streamConfig)
		if err != nil {
			return fmt.Errorf("failed to create stream consumer %d: %w", i, err)
		}

		if err := stream.Consume(s.deliveryHandler); err != nil {
			return fmt.Errorf("failed to start consumer %d: %w", i, err)
		}

		s.streams = append(s.streams, stream)
		logger.Info("Started consumer instance", "instance", i)
	}

	s.wg.Add(2)
	go s.metricsReporter()
	go s.healthChecker()

	logger.Info("Notifier Service started", "consumers", len(s.streams))
	return nil
}

func (s *NotifierService) metricsReporter() {
	defer s.wg.Done()

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.reportMetrics()
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *NotifierService) reportMetrics() {
	stats := s.metrics.GetStats()

	logger.Info("Notifier metrics",
		"total_dispatched", stats["total_dispatched"],
		"total_failed", stats["total_failed"],
		"rate_per_second", stats["rate_per_second"],
		"avg_duration_ms", stats["avg_duration_ms"],
		"uptime_seconds", stats["uptime_seconds"])

	for i, stream := range s.streams {
		if streamStats, err := stream.Stats(); err == nil {
			logger.Info("Stream stats", "stream", i, "total", streamStats.TotalEvents, "pending", streamStats.PendingEvents)
		}
	}
}

func (s *NotifierService) healthChecker() {
	defer s.wg.Done()

	ticker := time.NewTicker(HealthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.performHealthCheck()
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *NotifierService) performHealthCheck() {
	if err := s.adapter.Client().Ping(context.Background()).Err(); err != nil {
		logger.Error("HEALTH CHECK FAILED: Redis connection error", "error", err)
		return
	}

	for i, stream := range s.streams {
		stats, err := stream.Stats()
		if err != nil {
			logger.Warn("HEALTH CHECK WARNING: Stream stats unavailable", "stream", i, "error", err)
			continue
		}

		if stats.PendingEvents > 10000 {
			logger.Warn("HEALTH CHECK WARNING: Stream has high lag", "stream", i, "pending_events", stats.PendingEvents)
		}
	}
}

func (s *NotifierService) Stop() {
	logger.Info("Shutting down Notifier Service...")

	s.cancel()

	timeout := ShutdownTimeout
	stopChan := make(chan bool, len(s.streams))

	for i, stream := range s.streams {
		go func(index int, st *events.Stream) {
			if err := st.Stop(timeout); err != nil {
				logger.Error("Error stopping stream", "stream", index, "error", err)
			}
			stopChan <- true
		}(i, stream)
	}

	for range s.streams {
		select {
		case <-stopChan:
		case <-time.After(timeout + 5*time.Second):
			logger.Warn("Timeout waiting for streams to stop")
		}
	}

	s.worker.Exit()
	s.wg.Wait()
	s.reportMetrics()

	logger.Info("Notifier Service stopped")
}

type jobResult struct {
	delivery   *events.Delivery
	resultChan chan error
	ctx        context.Context
}

// deliveryHandler receives deliveries from the stream and hands them to the
// worker pool, blocking until the worker resolves or the context expires.
func (s *NotifierService) deliveryHandler(ctx context.Context, d *events.Delivery) error {
	resultChan := make(chan error, 1)

	msgCtx, cancel := context.WithTimeout(ctx, ProcessingTimeout+time.Second)
	defer cancel()

	job := &jobResult{
		delivery:   d,
		resultChan: resultChan,
		ctx:        msgCtx,
	}

	s.worker.Enqueue(job)

	select {
	case err := <-resultChan:
		return err
	case <-msgCtx.Done():
		return fmt.Errorf("timeout waiting for worker to dispatch event: %w", msgCtx.Err())
	}
}

func (s *NotifierService) workerHandler(workerIndex int, job interface{}) {
	jobRes, ok := job.(*jobResult)
	if !ok {
		logger.Error("Invalid job type in worker", "worker", workerIndex)
		return
	}

	start := time.Now()
	var resultErr error

	select {
	case <-jobRes.ctx.Done():
		logger.Warn("Job context cancelled before dispatch started", "worker", workerIndex)
		return
	default:
	}

	if s.dispatcher == nil {
		logger.Info("No dispatcher configured", "worker", workerIndex)
		s.metrics.RecordFailure()
		resultErr = nil // ACK - a missing dispatcher won't appear on retry
	} else {
		if err := s.dispatcher.Dispatch(jobRes.ctx, jobRes.delivery); err != nil {
			s.metrics.RecordFailure()
			logger.Error("Failed to dispatch event", "worker", workerIndex, "error", err)
			resultErr = err
		} else {
			s.metrics.RecordSuccess(time.Since(start))
			resultErr = nil
		}
	}

	select {
	case jobRes.resultChan <- resultErr:
	case <-jobRes.ctx.Done():
		logger.Warn("Context cancelled while sending result, delivery handler timed out", "worker", workerIndex)
	}
}
