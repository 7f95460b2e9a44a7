package rpc

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type rpcRequest struct {
	ID     interface{}     `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

// newNode serves JSON-RPC responses built by handle and counts calls.
func newNode(t *testing.T, handle func(req rpcRequest) (result interface{}, rpcErr map[string]interface{}, status int)) (*httptest.Server, *int32) {
	t.Helper()
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)

		var req rpcRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		result, rpcErr, status := handle(req)
		if status != http.StatusOK {
			w.WriteHeader(status)
			return
		}

		resp := map[string]interface{}{"jsonrpc": "2.0", "id": req.ID}
		if rpcErr != nil {
			resp["error"] = rpcErr
		} else {
			resp["result"] = result
		}
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func balanceResult(amount string) map[string]interface{} {
	return map[string]interface{}{
		"context": map[string]interface{}{"slot": 1},
		"value": map[string]interface{}{
			"amount":         amount,
			"decimals":       6,
			"uiAmountString": "0",
		},
	}
}

func newTestClient(t *testing.T, urls ...string) *Client {
	t.Helper()
	pool, err := NewPool(urls, 1000, zerolog.Nop())
	require.NoError(t, err)
	client := NewClient(pool, zerolog.Nop(), WithConfirmInterval(time.Millisecond))
	client.baseDelay = time.Millisecond
	client.maxDelay = 5 * time.Millisecond
	return client
}

func TestTokenBalance(t *testing.T) {
	srv, _ := newNode(t, func(req rpcRequest) (interface{}, map[string]interface{}, int) {
		assert.Equal(t, "getTokenAccountBalance", req.Method)
		return balanceResult("1500000"), nil, http.StatusOK
	})

	client := newTestClient(t, srv.URL)
	balance, err := client.TokenBalance(context.Background(), solana.NewWallet().PublicKey())
	require.NoError(t, err)
	assert.Equal(t, uint64(1500000), balance)
}

func TestRateLimitedEndpointIsCooledDown(t *testing.T) {
	limited, limitedCalls := newNode(t, func(rpcRequest) (interface{}, map[string]interface{}, int) {
		return nil, nil, http.StatusTooManyRequests
	})
	healthy, _ := newNode(t, func(rpcRequest) (interface{}, map[string]interface{}, int) {
		return balanceResult("7"), nil, http.StatusOK
	})

	client := newTestClient(t, limited.URL, healthy.URL)
	for i := 0; i < 4; i++ {
		balance, err := client.TokenBalance(context.Background(), solana.NewWallet().PublicKey())
		require.NoError(t, err)
		assert.Equal(t, uint64(7), balance)
	}

	// after its first 429 the limited endpoint is skipped
	assert.LessOrEqual(t, atomic.LoadInt32(limitedCalls), int32(1))
	assert.Equal(t, 1, client.pool.GetHealthyEndpointCount())
}

func TestNodeErrorsAreNotRetried(t *testing.T) {
	srv, calls := newNode(t, func(rpcRequest) (interface{}, map[string]interface{}, int) {
		return nil, map[string]interface{}{"code": -32602, "message": "Invalid param: could not find account"}, http.StatusOK
	})

	client := newTestClient(t, srv.URL)
	_, err := client.TokenBalance(context.Background(), solana.NewWallet().PublicKey())
	require.Error(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(calls))
	assert.Equal(t, 1, client.pool.GetHealthyEndpointCount())
}

func TestTransportErrorsAreRetried(t *testing.T) {
	var failures int32 = 2
	srv, calls := newNode(t, func(rpcRequest) (interface{}, map[string]interface{}, int) {
		if atomic.AddInt32(&failures, -1) >= 0 {
			return nil, nil, http.StatusBadGateway
		}
		return balanceResult("3"), nil, http.StatusOK
	})

	client := newTestClient(t, srv.URL)
	balance, err := client.TokenBalance(context.Background(), solana.NewWallet().PublicKey())
	require.NoError(t, err)
	assert.Equal(t, uint64(3), balance)
	assert.Equal(t, int32(3), atomic.LoadInt32(calls))

	// a success restores the endpoint
	assert.Equal(t, 1, client.pool.GetHealthyEndpointCount())
}

func TestLatestBlockhash(t *testing.T) {
	want := solana.Hash(solana.NewWallet().PublicKey())
	srv, _ := newNode(t, func(req rpcRequest) (interface{}, map[string]interface{}, int) {
		assert.Equal(t, "getLatestBlockhash", req.Method)
		return map[string]interface{}{
			"context": map[string]interface{}{"slot": 1},
			"value": map[string]interface{}{
				"blockhash":            want.String(),
				"lastValidBlockHeight": 100,
			},
		}, nil, http.StatusOK
	})

	client := newTestClient(t, srv.URL)
	got, err := client.LatestBlockhash(context.Background())
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func signatureStatus(confirmation string, txErr interface{}) map[string]interface{} {
	return map[string]interface{}{
		"context": map[string]interface{}{"slot": 1},
		"value": []interface{}{map[string]interface{}{
			"slot":               1,
			"confirmations":      nil,
			"err":                txErr,
			"confirmationStatus": confirmation,
		}},
	}
}

func TestConfirmTransactionWaitsForCommitment(t *testing.T) {
	var polls int32
	srv, _ := newNode(t, func(req rpcRequest) (interface{}, map[string]interface{}, int) {
		assert.Equal(t, "getSignatureStatuses", req.Method)
		switch atomic.AddInt32(&polls, 1) {
		case 1:
			// not seen by the node yet
			return map[string]interface{}{"context": map[string]interface{}{"slot": 1}, "value": []interface{}{nil}}, nil, http.StatusOK
		case 2:
			return signatureStatus("processed", nil), nil, http.StatusOK
		case 3:
			return signatureStatus("confirmed", nil), nil, http.StatusOK
		default:
			return signatureStatus("finalized", nil), nil, http.StatusOK
		}
	})

	client := newTestClient(t, srv.URL)
	require.NoError(t, client.ConfirmTransaction(context.Background(), solana.Signature{1}))
	assert.Equal(t, int32(4), atomic.LoadInt32(&polls))
}

func TestConfirmTransactionReportsFailure(t *testing.T) {
	srv, _ := newNode(t, func(rpcRequest) (interface{}, map[string]interface{}, int) {
		txErr := map[string]interface{}{"InstructionError": []interface{}{0, map[string]interface{}{"Custom": 1}}}
		return signatureStatus("processed", txErr), nil, http.StatusOK
	})

	client := newTestClient(t, srv.URL)
	err := client.ConfirmTransaction(context.Background(), solana.Signature{2})
	assert.ErrorIs(t, err, ErrTransactionFailed)
	assert.Contains(t, err.Error(), "InstructionError")
}

func TestConfirmTransactionGivesUpWithContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var polls int32
	srv, _ := newNode(t, func(rpcRequest) (interface{}, map[string]interface{}, int) {
		if atomic.AddInt32(&polls, 1) == 3 {
			cancel()
		}
		return signatureStatus("confirmed", nil), nil, http.StatusOK
	})

	client := newTestClient(t, srv.URL)
	err := client.ConfirmTransaction(ctx, solana.Signature{3})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewPoolRequiresEndpoints(t *testing.T) {
	_, err := NewPool(nil, 2, zerolog.Nop())
	assert.Error(t, err)
}

func TestPoolSkipsUnhealthyEndpoints(t *testing.T) {
	pool, err := NewPool([]string{"http://a", "http://b"}, 1000, zerolog.Nop())
	require.NoError(t, err)

	pool.MarkUnhealthy("http://a")
	for i := 0; i < 4; i++ {
		_, url, err := pool.GetClient(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "http://b", url)
	}

	pool.MarkHealthy("http://a")
	assert.Equal(t, 2, pool.GetHealthyEndpointCount())

	stats := pool.GetStats()
	assert.Equal(t, 2, stats["total_endpoints"])
}
