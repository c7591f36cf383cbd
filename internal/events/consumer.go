package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/maltedev/lmpc-scraper/internal/database"
	"github.com/redis/go-redis/v9"
)

// StreamClient is the subset of the redis client the consumer uses.
type StreamClient interface {
	XGroupCreateMkStream(ctx context.Context, stream, group, start string) *redis.StatusCmd
	XReadGroup(ctx context.Context, a *redis.XReadGroupArgs) *redis.XStreamSliceCmd
	XAck(ctx context.Context, stream, group string, ids ...string) *redis.IntCmd
}

// HandlerFunc receives each COMPLIANCE_CHECKED payload. A returned error
// leaves the message unacknowledged so it is redelivered.
type HandlerFunc func(ctx context.Context, payload *ComplianceCheckedPayload) error

type ConsumerConfig struct {
	Stream string
	Group  string
	Name   string
	Count  int64
	Block  time.Duration
}

// Consumer reads compliance events from a Redis stream through a consumer
// group.
type Consumer struct {
	client  StreamClient
	handler HandlerFunc
	cfg     ConsumerConfig
	logger  *slog.Logger
	backoff time.Duration
}

func NewConsumer(client StreamClient, handler HandlerFunc, cfg ConsumerConfig, logger *slog.Logger) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Stream == "" {
		cfg.Stream = database.DefaultStream
	}
	if cfg.Group == "" {
		cfg.Group = "compliance-consumers"
	}
	if cfg.Name == "" {
		cfg.Name = "consumer-1"
	}
	if cfg.Count <= 0 {
		cfg.Count = 10
	}
	if cfg.Block <= 0 {
		cfg.Block = 5 * time.Second
	}
	return &Consumer{
		client:  client,
		handler: handler,
		cfg:     cfg,
		logger:  logger.With("component", "event_consumer", "stream", cfg.Stream, "group", cfg.Group),
		backoff: time.Second,
	}
}

// Run consumes until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	if err := c.client.XGroupCreateMkStream(ctx, c.cfg.Stream, c.cfg.Group, "0").Err(); err != nil &&
		!strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}

	c.logger.Info("starting consumer", "name", c.cfg.Name)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		streams, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    c.cfg.Group,
			Consumer: c.cfg.Name,
			Streams:  []string{c.cfg.Stream, ">"},
			Count:    c.cfg.Count,
			Block:    c.cfg.Block,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Error("failed to read from stream", "error", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.backoff):
			}
			continue
		}

		for _, stream := range streams {
			for _, msg := range stream.Messages {
				c.handleMessage(ctx, msg)
			}
		}
	}
}

func (c *Consumer) handleMessage(ctx context.Context, msg redis.XMessage) {
	payload, ok, err := DecodeMessage(msg)
	if err != nil {
		// Undecodable messages would be redelivered forever; drop them.
		c.logger.Error("dropping malformed message", "id", msg.ID, "error", err)
		c.ack(ctx, msg.ID)
		return
	}
	if !ok {
		c.ack(ctx, msg.ID)
		return
	}

	if err := c.handler(ctx, payload); err != nil {
		c.logger.Error("failed to handle message", "id", msg.ID, "key", payload.IdentityKey, "error", err)
		return
	}
	c.ack(ctx, msg.ID)
}

func (c *Consumer) ack(ctx context.Context, id string) {
	if err := c.client.XAck(ctx, c.cfg.Stream, c.cfg.Group, id).Err(); err != nil {
		c.logger.Error("failed to acknowledge message", "id", id, "error", err)
	}
}

type streamEnvelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// DecodeMessage extracts the payload of a relayed COMPLIANCE_CHECKED event.
// ok is false for other event types.
func DecodeMessage(msg redis.XMessage) (*ComplianceCheckedPayload, bool, error) {
	if t, _ := msg.Values["event_type"].(string); t != "" && t != string(EventTypeComplianceChecked) {
		return nil, false, nil
	}

	data, ok := msg.Values["data"].(string)
	if !ok {
		return nil, false, fmt.Errorf("message %s has no data field", msg.ID)
	}

	var env streamEnvelope
	if err := json.Unmarshal([]byte(data), &env); err != nil {
		return nil, false, fmt.Errorf("failed to decode envelope: %w", err)
	}
	if env.Type != string(EventTypeComplianceChecked) {
		return nil, false, nil
	}

	var payload ComplianceCheckedPayload
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		return nil, false, fmt.Errorf("failed to decode payload: %w", err)
	}
	if payload.IdentityKey == "" {
		return nil, false, fmt.Errorf("message %s has no identity key", msg.ID)
	}
	return &payload, true, nil
}
