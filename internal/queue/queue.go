package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/wnt/stakepool/internal/staking"
)

const (
	queueKey    = "stakepool:op_queue"    // sorted set of operation ids by enqueue time
	payloadKey  = "stakepool:op_payload"  // operation id -> JSON operation
	inFlightKey = "stakepool:op_inflight" // operation id -> "worker,unix"
	resultsKey  = "stakepool:op_results"  // operation id -> JSON result
)

// Client wraps Redis operations for stakepool queue management
type Client struct {
	client *redis.Client
	logger zerolog.Logger
}

// NewClient creates a new Redis queue client
func NewClient(redisURL string, logger zerolog.Logger) (*Client, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opt)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Info().Str("redis_addr", opt.Addr).Msg("Connected to Redis successfully")

	return New(client, logger), nil
}

// New wraps an existing Redis client
func New(client *redis.Client, logger zerolog.Logger) *Client {
	return &Client{
		client: client,
		logger: logger.With().Str("component", "queue").Logger(),
	}
}

// Redis returns the underlying connection so other components can share it
func (c *Client) Redis() *redis.Client {
	return c.client
}

// Push enqueues an operation, assigning an id if it has none
func (c *Client) Push(ctx context.Context, op *staking.Operation) error {
	if op.ID == "" {
		op.ID = uuid.NewString()
	}
	if op.EnqueuedAt.IsZero() {
		op.EnqueuedAt = time.Now().UTC()
	}
	if err := op.Validate(); err != nil {
		return err
	}

	payload, err := json.Marshal(op)
	if err != nil {
		return fmt.Errorf("failed to encode operation: %w", err)
	}

	pipe := c.client.TxPipeline()
	pipe.HSet(ctx, payloadKey, op.ID, payload)
	pipe.ZAdd(ctx, queueKey, redis.Z{
		Score:  float64(op.EnqueuedAt.UnixMilli()),
		Member: op.ID,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to push operation to queue: %w", err)
	}

	c.logger.Debug().
		Str("operation_id", op.ID).
		Str("operation", string(op.Kind)).
		Str("pool", op.Pool.String()).
		Msg("Pushed operation to queue")

	return nil
}

// Pop removes and returns the oldest operation, or nil when the queue is empty
func (c *Client) Pop(ctx context.Context) (*staking.Operation, error) {
	result, err := c.client.ZPopMin(ctx, queueKey, 1).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to pop operation from queue: %w", err)
	}
	if len(result) == 0 {
		return nil, nil
	}

	id, ok := result[0].Member.(string)
	if !ok {
		return nil, fmt.Errorf("unexpected queue member %v", result[0].Member)
	}

	op, err := c.load(ctx, id)
	if err != nil {
		return nil, err
	}

	c.logger.Debug().Str("operation_id", id).Msg("Popped operation from queue")
	return op, nil
}

func (c *Client) load(ctx context.Context, id string) (*staking.Operation, error) {
	payload, err := c.client.HGet(ctx, payloadKey, id).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("%w: no payload for operation %s", staking.ErrInvalidOperation, id)
		}
		return nil, fmt.Errorf("failed to load operation %s: %w", id, err)
	}

	var op staking.Operation
	if err := json.Unmarshal([]byte(payload), &op); err != nil {
		return nil, fmt.Errorf("%w: operation %s: %v", staking.ErrInvalidOperation, id, err)
	}
	return &op, nil
}

// SetInFlight marks an operation as being processed by a worker
func (c *Client) SetInFlight(ctx context.Context, id, worker string) error {
	value := fmt.Sprintf("%s,%d", worker, time.Now().Unix())
	if err := c.client.HSet(ctx, inFlightKey, id, value).Err(); err != nil {
		return fmt.Errorf("failed to set operation in-flight: %w", err)
	}

	c.logger.Debug().
		Str("operation_id", id).
		Str("worker", worker).
		Msg("Marked operation as in-flight")

	return nil
}

// Complete stores the result of an operation and clears its in-flight entry and payload
func (c *Client) Complete(ctx context.Context, result *staking.Result) error {
	encoded, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
	}

	pipe := c.client.TxPipeline()
	pipe.HSet(ctx, resultsKey, result.OperationID, encoded)
	pipe.HDel(ctx, inFlightKey, result.OperationID)
	pipe.HDel(ctx, payloadKey, result.OperationID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to complete operation %s: %w", result.OperationID, err)
	}

	c.logger.Debug().
		Str("operation_id", result.OperationID).
		Str("status", result.Status).
		Msg("Stored operation result")

	return nil
}

// GetResult returns the stored result of an operation, or nil if it has not completed
func (c *Client) GetResult(ctx context.Context, id string) (*staking.Result, error) {
	encoded, err := c.client.HGet(ctx, resultsKey, id).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get operation result: %w", err)
	}

	var result staking.Result
	if err := json.Unmarshal([]byte(encoded), &result); err != nil {
		return nil, fmt.Errorf("failed to decode result of %s: %w", id, err)
	}
	return &result, nil
}

// WaitResult polls for the result of an operation until it exists or ctx is done
func (c *Client) WaitResult(ctx context.Context, id string, interval time.Duration) (*staking.Result, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		result, err := c.GetResult(ctx, id)
		if err != nil || result != nil {
			return result, err
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// GetQueueLength returns the number of operations in the queue
func (c *Client) GetQueueLength(ctx context.Context) (int64, error) {
	length, err := c.client.ZCard(ctx, queueKey).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to get queue length: %w", err)
	}
	return length, nil
}

// GetInFlight returns all operations currently being processed
func (c *Client) GetInFlight(ctx context.Context) (map[string]string, error) {
	result, err := c.client.HGetAll(ctx, inFlightKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get in-flight operations: %w", err)
	}
	return result, nil
}

// RequeueStuck moves operations that have been in-flight longer than timeout back to the
// queue. Operations that already have a result are only cleared from in-flight.
func (c *Client) RequeueStuck(ctx context.Context, timeout time.Duration) (int, error) {
	inFlight, err := c.GetInFlight(ctx)
	if err != nil {
		return 0, err
	}

	cutoff := time.Now().Add(-timeout).Unix()
	requeuedCount := 0

	for id, value := range inFlight {
		worker, startedAt, ok := strings.Cut(value, ",")
		if !ok {
			c.logger.Warn().Str("operation_id", id).Str("value", value).Msg("Invalid in-flight value format")
			continue
		}

		startTime, err := strconv.ParseInt(startedAt, 10, 64)
		if err != nil {
			c.logger.Warn().Str("operation_id", id).Str("value", value).Msg("Invalid timestamp in in-flight value")
			continue
		}
		if startTime >= cutoff {
			continue
		}

		done, err := c.client.HExists(ctx, resultsKey, id).Result()
		if err != nil {
			c.logger.Error().Err(err).Str("operation_id", id).Msg("Failed to check result of stuck operation")
			continue
		}

		pipe := c.client.TxPipeline()
		pipe.HDel(ctx, inFlightKey, id)
		if !done {
			pipe.ZAdd(ctx, queueKey, redis.Z{Score: 0, Member: id})
		}
		if _, err := pipe.Exec(ctx); err != nil {
			c.logger.Error().Err(err).Str("operation_id", id).Msg("Failed to requeue stuck operation")
			continue
		}
		if done {
			continue
		}

		requeuedCount++
		c.logger.Info().
			Str("operation_id", id).
			Str("worker", worker).
			Int64("stuck_minutes", (time.Now().Unix()-startTime)/60).
			Msg("Requeued stuck operation")
	}

	if requeuedCount > 0 {
		c.logger.Info().Int("count", requeuedCount).Msg("Requeued stuck operations")
	}

	return requeuedCount, nil
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.client.Close()
}
