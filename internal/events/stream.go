package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/Mikee100/SaaS-backend-sub002/pkg/redis"
)

// Delivery is one event pulled off the stream. Handlers that return nil get
// the delivery acked; on error the delivery stays pending and is reclaimed
// after the visibility timeout.
type Delivery struct {
	ID        string
	Data      []byte
	Metadata  map[string]string
	Timestamp time.Time
	Attempts  int
	acked     bool
	stream    *Stream
}

func (d *Delivery) Ack() error {
	if d.acked {
		return fmt.Errorf("delivery already acknowledged")
	}
	d.acked = true
	return d.stream.ack(d.ID)
}

func (d *Delivery) Envelope() (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(d.Data, &env); err != nil {
		return nil, fmt.Errorf("malformed event envelope: %w", err)
	}
	return &env, nil
}

type DeliveryHandler func(ctx context.Context, d *Delivery) error

type StreamConfig struct {
	Name              string
	ConsumerGroup     string
	ConsumerName      string
	MaxRetries        int
	VisibilityTimeout time.Duration
	PollInterval      time.Duration
	BatchSize         int64
	MaxLen            int64
	EnableDLQ         bool
}

// Stream is a redis-streams event bus with consumer groups. Publishing is
// fire-and-forget for producers; consumers ack per delivery and exhausted
// retries land on the dead letter stream.
type Stream struct {
	adapter redis.RedisAdapter
	config  StreamConfig
	handler DeliveryHandler
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

type StreamStats struct {
	TotalEvents   int64
	PendingEvents int64
	ConsumerCount int64
}

func NewStream(adapter redis.RedisAdapter, config StreamConfig) (*Stream, error) {
	if config.Name == "" {
		return nil, fmt.Errorf("stream name is required")
	}
	if config.ConsumerGroup == "" {
		config.ConsumerGroup = "default-group"
	}
	if config.ConsumerName == "" {
		config.ConsumerName = fmt.Sprintf("consumer-%d", time.Now().UnixNano())
	}
	if config.MaxRetries == 0 {
		config.MaxRetries = 3
	}
	if config.VisibilityTimeout == 0 {
		config.VisibilityTimeout = 30 * time.Second
	}
	if config.PollInterval == 0 {
		config.PollInterval = 1 * time.Second
	}
	if config.BatchSize == 0 {
		config.BatchSize = 10
	}

	ctx, cancel := context.WithCancel(context.Background())

	s := &Stream{
		adapter: adapter,
		config:  config,
		ctx:     ctx,
		cancel:  cancel,
	}

	// Group might already exist, which is fine
	_ = s.adapter.XGroupCreateMkStream(s.config.Name, s.config.ConsumerGroup, "0")

	return s, nil
}

// Publish appends an envelope to the stream.
func (s *Stream) Publish(ctx context.Context, env *Envelope) (string, error) {
	data, err := json.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("failed to marshal envelope: %w", err)
	}

	values := map[string]interface{}{
		"data":      string(data),
		"type":      string(env.Type),
		"tenant_id": env.TenantID,
		"attempts":  0,
	}

	id, err := s.adapter.XAdd(s.config.Name, values)
	if err != nil {
		return "", fmt.Errorf("failed to publish event: %w", err)
	}

	if s.config.MaxLen > 0 {
		_ = s.adapter.XTrimApprox(s.config.Name, s.config.MaxLen)
	}

	return id, nil
}

// Consume starts pulling deliveries in the background until Stop.
func (s *Stream) Consume(handler DeliveryHandler) error {
	if handler == nil {
		return fmt.Errorf("delivery handler is required")
	}

	s.handler = handler
	s.wg.Add(1)

	go s.consumeLoop()

	return nil
}

func (s *Stream) consumeLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.readNewDeliveries()
			s.claimStuckDeliveries()
		}
	}
}

func (s *Stream) readNewDeliveries() {
	messages, err := s.adapter.XReadGroup(
		s.config.ConsumerGroup,
		s.config.ConsumerName,
		s.config.Name,
		">",
		s.config.BatchSize,
	)
	if err != nil {
		return
	}

	for _, streamMsg := range messages {
		s.handleDelivery(s.toDelivery(streamMsg))
	}
}

// claimStuckDeliveries takes over deliveries another consumer read but never
// acked within the visibility timeout.
func (s *Stream) claimStuckDeliveries() {
	pending, err := s.adapter.XPending(s.config.Name, s.config.ConsumerGroup)
	if err != nil || pending == nil || pending.Count == 0 {
		return
	}

	pendingExt, err := s.adapter.XPendingExt(
		s.config.Name,
		s.config.ConsumerGroup,
		"-",
		"+",
		100,
	)
	if err != nil || len(pendingExt) == 0 {
		return
	}

	var idsToReclaim []string
	for _, msg := range pendingExt {
		if msg.Idle >= s.config.VisibilityTimeout {
			idsToReclaim = append(idsToReclaim, msg.ID)
		}
	}

	if len(idsToReclaim) == 0 {
		return
	}

	messages, err := s.adapter.XClaim(
		s.config.Name,
		s.config.ConsumerGroup,
		s.config.ConsumerName,
		s.config.VisibilityTimeout,
		idsToReclaim...,
	)
	if err != nil {
		return
	}

	for _, streamMsg := range messages {
		d := s.toDelivery(streamMsg)
		d.Attempts++
		s.handleDelivery(d)
	}
}

func (s *Stream) handleDelivery(d *Delivery) {
	if d.Attempts >= s.config.MaxRetries {
		s.moveToDeadLetter(d)
		_ = s.ack(d.ID)
		return
	}

	ctx, cancel := context.WithTimeout(s.ctx, s.config.VisibilityTimeout)
	defer cancel()

	if err := s.handler(ctx, d); err != nil {
		// Not acked, will be reclaimed and retried
		return
	}

	if !d.acked {
		_ = s.ack(d.ID)
	}
}

func (s *Stream) ack(deliveryID string) error {
	return s.adapter.XAck(s.config.Name, s.config.ConsumerGroup, deliveryID)
}

func (s *Stream) moveToDeadLetter(d *Delivery) {
	if !s.config.EnableDLQ {
		return
	}

	values := map[string]interface{}{
		"data":            string(d.Data),
		"original_id":     d.ID,
		"attempts":        d.Attempts,
		"failed_at":       time.Now().Unix(),
		"original_stream": s.config.Name,
	}

	for k, v := range d.Metadata {
		values["meta_"+k] = v
	}

	_, _ = s.adapter.XAdd(s.config.Name+":dlq", values)
}

func (s *Stream) toDelivery(streamMsg redis.StreamMessage) *Delivery {
	d := &Delivery{
		ID:       streamMsg.ID,
		Metadata: make(map[string]string),
		stream:   s,
	}

	for k, v := range streamMsg.Values {
		switch k {
		case "data":
			if data, ok := v.(string); ok {
				d.Data = []byte(data)
			}
		case "attempts":
			if attempts, ok := v.(string); ok {
				fmt.Sscanf(attempts, "%d", &d.Attempts)
			}
		default:
			if len(k) > 5 && k[:5] == "meta_" {
				if val, ok := v.(string); ok {
					d.Metadata[k[5:]] = val
				}
			}
		}
	}

	if d.Timestamp.IsZero() {
		d.Timestamp = time.Now()
	}

	return d
}

func (s *Stream) Stop(timeout time.Duration) error {
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("timeout waiting for stream to stop")
	}
}

func (s *Stream) Stats() (*StreamStats, error) {
	total, err := s.adapter.XLen(s.config.Name)
	if err != nil {
		return nil, err
	}

	stats := &StreamStats{
		TotalEvents: total,
	}

	pending, err := s.adapter.XPending(s.config.Name, s.config.ConsumerGroup)
	if err == nil && pending != nil {
		stats.PendingEvents = pending.Count
		stats.ConsumerCount = int64(len(pending.Consumers))
	}

	return stats, nil
}
