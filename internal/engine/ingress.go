// Ingress side of ExecutionStart(executionId): a Redis Streams consumer
// group that claims queued execution starts and hands each one to
// HandleExecutionStart, acking only once that call has returned. Client
// construction follows the redis.ParseURL / pool-dial-read-write-timeout /
// startup-Ping idiom common to Go services using go-redis; the run loop
// shape (stop channel, stopped channel, one goroutine per consumer)
// matches the rest of this codebase's background-worker pattern.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/flowforge/flowexec/internal/domainerr"
)

// IngressConfig configures the Redis consumer-group connection that feeds
// HandleExecutionStart.
type IngressConfig struct {
	RedisURL     string
	Stream       string
	Group        string
	Consumer     string
	BlockTimeout time.Duration // XReadGroup long-poll block; 0 uses a 5s default
	ClaimIdle    time.Duration // min idle time before a pending entry is reclaimed; 0 uses a 1m default
}

func (c IngressConfig) withDefaults() IngressConfig {
	if c.BlockTimeout <= 0 {
		c.BlockTimeout = 5 * time.Second
	}
	if c.ClaimIdle <= 0 {
		c.ClaimIdle = time.Minute
	}
	if c.Consumer == "" {
		c.Consumer = uuid.NewString()
	}
	return c
}

// executionIDField is the single field name ExecutionStart messages carry
// their execution ID under (XADD stream executionId <id>).
const executionIDField = "executionId"

// Ingress reads ExecutionStart messages from a Redis stream consumer group
// and dispatches them to an Engine.
type Ingress struct {
	client *redis.Client
	cfg    IngressConfig
	eng    *Engine

	stop    chan struct{}
	stopped chan struct{}
	mu      sync.Mutex
	running bool
}

// NewIngress parses cfg.RedisURL, verifies connectivity, and ensures the
// consumer group exists (creating both the stream and group if absent).
func NewIngress(ctx context.Context, cfg IngressConfig, eng *Engine) (*Ingress, error) {
	cfg = cfg.withDefaults()

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("engine: parse ingress redis url: %w", err)
	}
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = cfg.BlockTimeout + 5*time.Second
	opts.WriteTimeout = 3 * time.Second

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("engine: connect ingress redis: %w", err)
	}

	if err := client.XGroupCreateMkStream(ctx, cfg.Stream, cfg.Group, "0").Err(); err != nil {
		if !errors.Is(err, redis.Nil) && err.Error() != "BUSYGROUP Consumer Group name already exists" {
			return nil, fmt.Errorf("engine: create consumer group: %w", err)
		}
	}

	return &Ingress{
		client:  client,
		cfg:     cfg,
		eng:     eng,
		stop:    make(chan struct{}),
		stopped: make(chan struct{}),
	}, nil
}

// Run blocks, reading new messages and reclaiming stale pending ones, until
// ctx is cancelled or Stop is called.
func (in *Ingress) Run(ctx context.Context) {
	in.mu.Lock()
	if in.running {
		in.mu.Unlock()
		return
	}
	in.running = true
	in.mu.Unlock()
	defer close(in.stopped)

	claimTicker := time.NewTicker(in.cfg.ClaimIdle)
	defer claimTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-in.stop:
			return
		case <-claimTicker.C:
			in.reclaimStale(ctx)
		default:
		}

		streams, err := in.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    in.cfg.Group,
			Consumer: in.cfg.Consumer,
			Streams:  []string{in.cfg.Stream, ">"},
			Count:    8,
			Block:    in.cfg.BlockTimeout,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) || errors.Is(err, context.Canceled) {
				continue
			}
			log.Warn().Err(err).Str("stream", in.cfg.Stream).Msg("engine: ingress XReadGroup failed")
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}

		for _, stream := range streams {
			for _, msg := range stream.Messages {
				in.process(ctx, msg)
			}
		}
	}
}

// Stop signals Run to return and waits for it to do so.
func (in *Ingress) Stop() {
	in.mu.Lock()
	running := in.running
	in.mu.Unlock()
	if !running {
		return
	}
	close(in.stop)
	<-in.stopped
}

// Close releases the underlying Redis client.
func (in *Ingress) Close() error {
	return in.client.Close()
}

// PublishStart enqueues an ExecutionStart(executionId) message onto this
// Ingress's own stream, for callers that want to submit work through the
// same connection the consumer reads from.
func (in *Ingress) PublishStart(ctx context.Context, executionID string) error {
	return PublishExecutionStart(ctx, in.client, in.cfg.Stream, executionID)
}

func (in *Ingress) process(ctx context.Context, msg redis.XMessage) {
	executionID, ok := msg.Values[executionIDField].(string)
	if !ok || executionID == "" {
		log.Warn().Str("message_id", msg.ID).Msg("engine: ingress message missing executionId field, acking and dropping")
		in.ack(ctx, msg.ID)
		return
	}

	if err := in.eng.HandleExecutionStart(ctx, executionID); err != nil {
		if _, ok := err.(*domainerr.LockContentionError); ok {
			// Another worker already holds the lock; this is expected
			// under concurrent delivery, not a failure to retry.
			in.ack(ctx, msg.ID)
			return
		}
		log.Error().Err(err).Str("execution_id", executionID).Str("message_id", msg.ID).Msg("engine: ingress execution start handling failed")
		return
	}
	in.ack(ctx, msg.ID)
}

func (in *Ingress) ack(ctx context.Context, messageID string) {
	if err := in.client.XAck(ctx, in.cfg.Stream, in.cfg.Group, messageID).Err(); err != nil {
		log.Warn().Err(err).Str("message_id", messageID).Msg("engine: ingress failed to ack message")
	}
}

// reclaimStale claims pending entries idle longer than cfg.ClaimIdle,
// covering a worker that died mid-handle without acking.
func (in *Ingress) reclaimStale(ctx context.Context) {
	claimed, _, err := in.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   in.cfg.Stream,
		Group:    in.cfg.Group,
		Consumer: in.cfg.Consumer,
		MinIdle:  in.cfg.ClaimIdle,
		Start:    "0-0",
		Count:    16,
	}).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			log.Warn().Err(err).Msg("engine: ingress XAutoClaim failed")
		}
		return
	}
	for _, msg := range claimed {
		in.process(ctx, msg)
	}
}

// PublishExecutionStart adds an ExecutionStart(executionId) message to the
// stream; used by API handlers and tests to enqueue work, and by
// Ingress.PublishStart, not by the consumer loop.
func PublishExecutionStart(ctx context.Context, client *redis.Client, stream, executionID string) error {
	return client.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		Values: map[string]any{executionIDField: executionID},
	}).Err()
}
