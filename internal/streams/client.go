package streams

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/audiolens/audiolens/internal/config"
)

// Message is one entry delivered from a stream.
type Message struct {
	ID     string
	Fields map[string]string
}

// Batch groups the messages delivered from a single stream in one read.
type Batch struct {
	Stream   string
	Messages []Message
}

// Client wraps a Valkey/Redis connection with the log-service operations the
// pipeline depends on: append, consumer groups, acknowledgment, retry
// counters and per-session locks.
type Client struct {
	rdb      *redis.Client
	retryTTL time.Duration
}

// NewRedisClient builds the raw go-redis client from config.
func NewRedisClient(cfg config.Valkey) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

// NewClient creates a stream client. retryTTL bounds the lifetime of retry
// counters so they cannot accumulate forever.
func NewClient(rdb *redis.Client, retryTTL time.Duration) *Client {
	if retryTTL <= 0 {
		retryTTL = time.Hour
	}
	return &Client{rdb: rdb, retryTTL: retryTTL}
}

// Ping verifies connectivity, for readiness probes.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return errors.Wrap(err, "failed to ping valkey")
	}
	return nil
}

// Publish appends a message to stream and returns the new message id.
// Non-string values are JSON-encoded; the log only stores flat string fields.
func (c *Client) Publish(ctx context.Context, stream string, fields map[string]any) (string, error) {
	flat := make(map[string]any, len(fields))
	for k, v := range fields {
		switch val := v.(type) {
		case string:
			flat[k] = val
		case []byte:
			flat[k] = string(val)
		case json.RawMessage:
			flat[k] = string(val)
		default:
			data, err := json.Marshal(val)
			if err != nil {
				return "", errors.Wrapf(err, "failed to encode field %s", k)
			}
			flat[k] = string(data)
		}
	}

	id, err := c.rdb.XAdd(ctx, &redis.XAddArgs{Stream: stream, Values: flat}).Result()
	if err != nil {
		return "", errors.Wrapf(err, "failed to publish to %s", stream)
	}
	return id, nil
}

// EnsureGroup creates the consumer group positioned at the start of the
// stream, creating the stream if needed. An already existing group is not
// an error.
func (c *Client) EnsureGroup(ctx context.Context, stream, group string) error {
	err := c.rdb.XGroupCreateMkStream(ctx, stream, group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return errors.Wrapf(err, "failed to create group %s on %s", group, stream)
	}
	return nil
}

// ReadGroup reads up to count messages per stream for the given consumer.
// With pending=true it returns this consumer's already delivered but
// unacknowledged entries; otherwise it blocks up to block for new messages.
// A read timeout yields an empty result, not an error.
func (c *Client) ReadGroup(ctx context.Context, streamNames []string, group, consumer string, pending bool, count int64, block time.Duration) ([]Batch, error) {
	cursor := ">"
	if pending {
		// Reading the pending cursor returns immediately; never block.
		cursor = "0"
		block = -1
	}

	args := make([]string, 0, len(streamNames)*2)
	args = append(args, streamNames...)
	for range streamNames {
		args = append(args, cursor)
	}

	res, err := c.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  args,
		Count:    count,
		Block:    block,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "failed to read group")
	}

	batches := make([]Batch, 0, len(res))
	for _, stream := range res {
		batch := Batch{Stream: stream.Stream}
		for _, msg := range stream.Messages {
			batch.Messages = append(batch.Messages, toMessage(msg))
		}
		batches = append(batches, batch)
	}
	return batches, nil
}

// Claim transfers ownership of messages that have been pending on another
// consumer of the group for at least minIdle, so crashed consumers cannot
// strand deliveries.
func (c *Client) Claim(ctx context.Context, stream, group, consumer string, minIdle time.Duration, count int64) ([]Message, error) {
	claimed, _, err := c.rdb.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   stream,
		Group:    group,
		Consumer: consumer,
		MinIdle:  minIdle,
		Start:    "0-0",
		Count:    count,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, errors.Wrapf(err, "failed to claim pending messages on %s", stream)
	}

	msgs := make([]Message, 0, len(claimed))
	for _, msg := range claimed {
		msgs = append(msgs, toMessage(msg))
	}
	return msgs, nil
}

// Ack acknowledges a delivered message for the group.
func (c *Client) Ack(ctx context.Context, stream, group, id string) error {
	if err := c.rdb.XAck(ctx, stream, group, id).Err(); err != nil {
		return errors.Wrapf(err, "failed to ack %s on %s", id, stream)
	}
	return nil
}

// AttemptCount returns the recorded delivery attempts for (stream, id).
// Absence means zero.
func (c *Client) AttemptCount(ctx context.Context, stream, id string) (int, error) {
	val, err := c.rdb.Get(ctx, retryKey(stream, id)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, errors.Wrap(err, "failed to read attempt count")
	}

	count, err := strconv.Atoi(val)
	if err != nil {
		return 0, errors.Wrap(err, "malformed attempt count")
	}
	return count, nil
}

// SetAttemptCount stores the attempt count with the retry TTL.
func (c *Client) SetAttemptCount(ctx context.Context, stream, id string, count int) error {
	if err := c.rdb.Set(ctx, retryKey(stream, id), strconv.Itoa(count), c.retryTTL).Err(); err != nil {
		return errors.Wrap(err, "failed to store attempt count")
	}
	return nil
}

// ClearAttempts removes the attempt counter after a successful delivery.
func (c *Client) ClearAttempts(ctx context.Context, stream, id string) error {
	if err := c.rdb.Del(ctx, retryKey(stream, id)).Err(); err != nil {
		return errors.Wrap(err, "failed to delete attempt count")
	}
	return nil
}

// AcquireLock takes a named SETNX lock with a TTL guard. It returns false
// when another holder currently owns the lock.
func (c *Client) AcquireLock(ctx context.Context, name string, ttl time.Duration) (bool, error) {
	ok, err := c.rdb.SetNX(ctx, lockKeyPrefix+name, "1", ttl).Result()
	if err != nil {
		return false, errors.Wrap(err, "failed to acquire lock")
	}
	return ok, nil
}

// ReleaseLock drops a named lock.
func (c *Client) ReleaseLock(ctx context.Context, name string) error {
	if err := c.rdb.Del(ctx, lockKeyPrefix+name).Err(); err != nil {
		return errors.Wrap(err, "failed to release lock")
	}
	return nil
}

func retryKey(stream, id string) string {
	return retryKeyPrefix + stream + ":" + id
}

func toMessage(msg redis.XMessage) Message {
	fields := make(map[string]string, len(msg.Values))
	for k, v := range msg.Values {
		if s, ok := v.(string); ok {
			fields[k] = s
		}
	}
	return Message{ID: msg.ID, Fields: fields}
}
