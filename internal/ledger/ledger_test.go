package ledger

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/token"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wnt/stakepool/internal/rpc"
	"github.com/wnt/stakepool/internal/staking"
)

func TestMemoryTransfer(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	alice, vault := solana.NewWallet().PublicKey(), solana.NewWallet().PublicKey()
	require.NoError(t, m.Mint(alice, 100))

	require.NoError(t, m.Transfer(ctx, staking.Transfer{From: alice, To: vault, Amount: 60}))

	balance, _ := m.Balance(ctx, alice)
	assert.Equal(t, uint64(40), balance)
	balance, _ = m.Balance(ctx, vault)
	assert.Equal(t, uint64(60), balance)
	assert.Len(t, m.Transfers(), 1)

	err := m.Transfer(ctx, staking.Transfer{From: alice, To: vault, Amount: 41})
	assert.ErrorIs(t, err, ErrInsufficientFunds)

	err = m.Transfer(ctx, staking.Transfer{From: alice, To: vault})
	assert.Error(t, err)

	balance, _ = m.Balance(ctx, alice)
	assert.Equal(t, uint64(40), balance)
}

func TestMemoryFailTransfers(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	alice, vault := solana.NewWallet().PublicKey(), solana.NewWallet().PublicKey()
	require.NoError(t, m.Mint(alice, 10))

	boom := errors.New("node unavailable")
	m.FailTransfers(boom)
	assert.ErrorIs(t, m.Transfer(ctx, staking.Transfer{From: alice, To: vault, Amount: 1}), boom)

	m.FailTransfers(nil)
	assert.NoError(t, m.Transfer(ctx, staking.Transfer{From: alice, To: vault, Amount: 1}))
}

func newCustody(t *testing.T) solana.PrivateKey {
	t.Helper()
	key, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)
	return key
}

func TestBuildTransfer(t *testing.T) {
	custody := newCustody(t)
	l := NewSolana(nil, custody, 6, zerolog.Nop())

	transfer := staking.Transfer{
		Mint:   solana.NewWallet().PublicKey(),
		From:   solana.NewWallet().PublicKey(),
		To:     solana.NewWallet().PublicKey(),
		Amount: 1_500_000,
	}
	tx, err := l.BuildTransfer(transfer, solana.Hash(solana.NewWallet().PublicKey()))
	require.NoError(t, err)

	require.Len(t, tx.Signatures, 1)
	assert.NoError(t, tx.VerifySignatures())
	assert.True(t, tx.Message.AccountKeys[0].Equals(custody.PublicKey()), "custody pays fees")
	for _, key := range []solana.PublicKey{transfer.Mint, transfer.From, transfer.To, token.ProgramID} {
		assert.Contains(t, tx.Message.AccountKeys, key)
	}

	require.Len(t, tx.Message.Instructions, 1)
	ix := tx.Message.Instructions[0]
	assert.True(t, tx.Message.AccountKeys[ix.ProgramIDIndex].Equals(token.ProgramID))

	data := []byte(ix.Data)
	require.Len(t, data, 10)
	assert.Equal(t, byte(token.Instruction_TransferChecked), data[0])
	assert.Equal(t, transfer.Amount, binary.LittleEndian.Uint64(data[1:9]))
	assert.Equal(t, byte(6), data[9])
}

// fakeNode answers the RPC methods the Solana ledger uses. status builds the
// getSignatureStatuses value for the n-th poll, starting at 1.
type fakeNode struct {
	mu      sync.Mutex
	methods []string
	polls   int
}

func newSolanaLedger(t *testing.T, status func(n int) interface{}) (*Solana, *fakeNode) {
	t.Helper()
	custody := newCustody(t)
	sig, err := custody.Sign([]byte("stakepool"))
	require.NoError(t, err)

	node := &fakeNode{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID     interface{} `json:"id"`
			Method string      `json:"method"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		node.mu.Lock()
		node.methods = append(node.methods, req.Method)
		if req.Method == "getSignatureStatuses" {
			node.polls++
		}
		polls := node.polls
		node.mu.Unlock()

		var result interface{}
		switch req.Method {
		case "getTokenAccountBalance":
			result = map[string]interface{}{
				"context": map[string]interface{}{"slot": 1},
				"value":   map[string]interface{}{"amount": "250", "decimals": 6},
			}
		case "getLatestBlockhash":
			result = map[string]interface{}{
				"context": map[string]interface{}{"slot": 1},
				"value": map[string]interface{}{
					"blockhash":            solana.Hash(solana.NewWallet().PublicKey()).String(),
					"lastValidBlockHeight": 10,
				},
			}
		case "sendTransaction":
			result = sig.String()
		case "getSignatureStatuses":
			result = map[string]interface{}{
				"context": map[string]interface{}{"slot": 1},
				"value":   []interface{}{status(polls)},
			}
		}
		require.NoError(t, json.NewEncoder(w).Encode(map[string]interface{}{"jsonrpc": "2.0", "id": req.ID, "result": result}))
	}))
	t.Cleanup(srv.Close)

	pool, err := rpc.NewPool([]string{srv.URL}, 1000, zerolog.Nop())
	require.NoError(t, err)
	client := rpc.NewClient(pool, zerolog.Nop(), rpc.WithConfirmInterval(time.Millisecond))
	return NewSolana(client, custody, 6, zerolog.Nop()), node
}

func (n *fakeNode) calls() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.methods...)
}

func confirmation(status string, txErr interface{}) map[string]interface{} {
	return map[string]interface{}{
		"slot":               1,
		"confirmations":      nil,
		"err":                txErr,
		"confirmationStatus": status,
	}
}

func newTransfer() staking.Transfer {
	return staking.Transfer{
		Mint:   solana.NewWallet().PublicKey(),
		From:   solana.NewWallet().PublicKey(),
		To:     solana.NewWallet().PublicKey(),
		Amount: 5,
	}
}

func TestSolanaLedgerAgainstNode(t *testing.T) {
	l, node := newSolanaLedger(t, func(n int) interface{} {
		switch n {
		case 1:
			return nil
		case 2:
			return confirmation("confirmed", nil)
		default:
			return confirmation("finalized", nil)
		}
	})

	balance, err := l.Balance(context.Background(), solana.NewWallet().PublicKey())
	require.NoError(t, err)
	assert.Equal(t, uint64(250), balance)

	// returns only once the transfer is final
	require.NoError(t, l.Transfer(context.Background(), newTransfer()))
	assert.Equal(t, []string{
		"getTokenAccountBalance",
		"getLatestBlockhash",
		"sendTransaction",
		"getSignatureStatuses",
		"getSignatureStatuses",
		"getSignatureStatuses",
	}, node.calls())
}

func TestSolanaLedgerTransferFailedOnChain(t *testing.T) {
	l, _ := newSolanaLedger(t, func(int) interface{} {
		return confirmation("confirmed", map[string]interface{}{
			"InstructionError": []interface{}{0, map[string]interface{}{"Custom": 1}},
		})
	})

	err := l.Transfer(context.Background(), newTransfer())
	assert.ErrorIs(t, err, rpc.ErrTransactionFailed)
}

func TestSolanaLedgerTransferNeverConfirmed(t *testing.T) {
	l, node := newSolanaLedger(t, func(int) interface{} { return confirmation("processed", nil) })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		for ctx.Err() == nil {
			if len(node.calls()) >= 6 {
				cancel()
				return
			}
			time.Sleep(time.Millisecond)
		}
	}()

	err := l.Transfer(ctx, newTransfer())
	assert.ErrorIs(t, err, context.Canceled)
}
