package rpc

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gagliardetto/solana-go"
	solrpc "github.com/gagliardetto/solana-go/rpc"
	"github.com/gagliardetto/solana-go/rpc/jsonrpc"
	"github.com/rs/zerolog"

	"github.com/wnt/stakepool/internal/metrics"
)

// ErrTransactionFailed is returned when a transaction landed but its execution failed
var ErrTransactionFailed = errors.New("transaction failed on chain")

// confirmationRank orders commitment levels from weakest to strongest
var confirmationRank = map[solrpc.ConfirmationStatusType]int{
	solrpc.ConfirmationStatusProcessed: 1,
	solrpc.ConfirmationStatusConfirmed: 2,
	solrpc.ConfirmationStatusFinalized: 3,
}

// Client issues Solana RPC calls through the pool with retries and backoff
type Client struct {
	pool            *Pool
	maxRetries      int
	baseDelay       time.Duration
	maxDelay        time.Duration
	commitment      solrpc.CommitmentType
	confirmInterval time.Duration
	logger          zerolog.Logger
}

// ClientOption configures a Client
type ClientOption func(*Client)

// WithConfirmInterval sets how often ConfirmTransaction polls signature status
func WithConfirmInterval(d time.Duration) ClientOption {
	return func(c *Client) { c.confirmInterval = d }
}

// NewClient creates a new RPC client reading at finalized commitment
func NewClient(pool *Pool, logger zerolog.Logger, opts ...ClientOption) *Client {
	c := &Client{
		pool:            pool,
		maxRetries:      5,
		baseDelay:       250 * time.Millisecond,
		maxDelay:        30 * time.Second,
		commitment:      solrpc.CommitmentFinalized,
		confirmInterval: time.Second,
		logger:          logger.With().Str("component", "rpc_client").Logger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Call runs fn against an endpoint from the pool, retrying transport failures.
// Errors returned by the node itself are not retried.
func (c *Client) Call(ctx context.Context, method string, fn func(ctx context.Context, client *solrpc.Client) error) error {
	var lastErr error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		client, endpoint, err := c.pool.GetClient(ctx)
		if err != nil {
			metrics.RecordRPCRequest(method, "cancelled")
			return fmt.Errorf("failed to get RPC client: %w", err)
		}

		start := time.Now()
		err = fn(ctx, client)
		duration := time.Since(start)
		if err == nil {
			c.pool.MarkHealthy(endpoint)
			metrics.RecordRPCRequest(method, "success")
			c.logger.Debug().
				Str("method", method).
				Str("endpoint", endpoint).
				Dur("duration", duration).
				Msg("RPC call succeeded")
			return nil
		}
		lastErr = err

		var rpcErr *jsonrpc.RPCError
		if errors.As(err, &rpcErr) {
			metrics.RecordRPCRequest(method, "rpc_error")
			return fmt.Errorf("%s rejected by %s: %w", method, endpoint, err)
		}
		if ctx.Err() != nil {
			metrics.RecordRPCRequest(method, "cancelled")
			return ctx.Err()
		}
		c.handleError(method, endpoint, err, duration)

		if attempt == c.maxRetries {
			break
		}

		// Exponential backoff
		delay := c.baseDelay * time.Duration(1<<attempt)
		if delay > c.maxDelay {
			delay = c.maxDelay
		}

		c.logger.Warn().
			Err(err).
			Str("method", method).
			Int("attempt", attempt+1).
			Int("max_retries", c.maxRetries).
			Dur("delay", delay).
			Msg("RPC call failed, retrying")

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			metrics.RecordRPCRequest(method, "cancelled")
			return ctx.Err()
		}
	}

	metrics.RecordRPCRequest(method, "failed")
	return fmt.Errorf("%s failed after %d attempts: %w", method, c.maxRetries+1, lastErr)
}

// TokenBalance returns the raw balance of an SPL token account
func (c *Client) TokenBalance(ctx context.Context, account solana.PublicKey) (uint64, error) {
	var balance uint64
	err := c.Call(ctx, "getTokenAccountBalance", func(ctx context.Context, client *solrpc.Client) error {
		out, err := client.GetTokenAccountBalance(ctx, account, c.commitment)
		if err != nil {
			return err
		}
		if out == nil || out.Value == nil {
			return fmt.Errorf("empty balance for token account %s", account)
		}
		balance, err = strconv.ParseUint(out.Value.Amount, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid balance %q for token account %s: %w", out.Value.Amount, account, err)
		}
		return nil
	})
	return balance, err
}

// LatestBlockhash returns a recent blockhash for signing transactions
func (c *Client) LatestBlockhash(ctx context.Context) (solana.Hash, error) {
	var hash solana.Hash
	err := c.Call(ctx, "getLatestBlockhash", func(ctx context.Context, client *solrpc.Client) error {
		out, err := client.GetLatestBlockhash(ctx, c.commitment)
		if err != nil {
			return err
		}
		if out == nil || out.Value == nil {
			return fmt.Errorf("empty blockhash response")
		}
		hash = out.Value.Blockhash
		return nil
	})
	return hash, err
}

// SendTransaction submits a signed transaction. Resending the same signed transaction
// cannot execute it twice, so transport failures are retried like reads.
func (c *Client) SendTransaction(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	var sig solana.Signature
	err := c.Call(ctx, "sendTransaction", func(ctx context.Context, client *solrpc.Client) error {
		var err error
		sig, err = client.SendTransaction(ctx, tx)
		return err
	})
	return sig, err
}

// ConfirmTransaction waits until sig reaches the commitment reads are made at, so a
// balance read after it returns includes the transaction. It returns ErrTransactionFailed
// if the transaction executed with an error, and gives up only when ctx is done.
func (c *Client) ConfirmTransaction(ctx context.Context, sig solana.Signature) error {
	want := confirmationRank[solrpc.ConfirmationStatusType(c.commitment)]

	ticker := time.NewTicker(c.confirmInterval)
	defer ticker.Stop()

	for {
		var status *solrpc.SignatureStatusesResult
		err := c.Call(ctx, "getSignatureStatuses", func(ctx context.Context, client *solrpc.Client) error {
			out, err := client.GetSignatureStatuses(ctx, false, sig)
			if errors.Is(err, solrpc.ErrNotFound) {
				return nil
			}
			if err != nil {
				return err
			}
			if len(out.Value) > 0 {
				status = out.Value[0]
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("failed to get status of %s: %w", sig, err)
		}

		if status != nil {
			if status.Err != nil {
				return fmt.Errorf("%w: %s: %v", ErrTransactionFailed, sig, status.Err)
			}
			if confirmationRank[status.ConfirmationStatus] >= want {
				return nil
			}
		}

		c.logger.Debug().
			Str("signature", sig.String()).
			Str("commitment", string(c.commitment)).
			Msg("Waiting for transaction confirmation")

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return fmt.Errorf("transaction %s not %s: %w", sig, c.commitment, ctx.Err())
		}
	}
}

// handleError marks the endpoint according to how the call failed
func (c *Client) handleError(method, endpoint string, err error, duration time.Duration) {
	var httpErr *jsonrpc.HTTPError
	if errors.As(err, &httpErr) && (httpErr.Code == http.StatusTooManyRequests || httpErr.Code == http.StatusServiceUnavailable) {
		c.logger.Warn().
			Str("endpoint", endpoint).
			Int("status", httpErr.Code).
			Msg("Rate limited by endpoint")

		// Set 5-minute cooldown for rate limited endpoints
		c.pool.SetCooldown(endpoint, 5*time.Minute)
		metrics.RecordRPCRequest(method, "rate_limited")
		return
	}

	c.logger.Error().
		Err(err).
		Str("method", method).
		Str("endpoint", endpoint).
		Dur("duration", duration).
		Msg("RPC request failed")

	c.pool.MarkUnhealthy(endpoint)
	metrics.RecordRPCRequest(method, "error")
}
