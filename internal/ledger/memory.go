// Package ledger implements the token custody the staking core moves funds through.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/gagliardetto/solana-go"

	"github.com/wnt/stakepool/internal/staking"
)

// ErrInsufficientFunds is returned when the source account cannot cover a transfer.
var ErrInsufficientFunds = errors.New("insufficient funds")

// Memory is an in-process ledger of token account balances.
type Memory struct {
	mu        sync.RWMutex
	balances  map[solana.PublicKey]uint64
	transfers []staking.Transfer
	failWith  error
}

// NewMemory creates an empty ledger.
func NewMemory() *Memory {
	return &Memory{balances: make(map[solana.PublicKey]uint64)}
}

// Mint credits amount to account out of thin air.
func (m *Memory) Mint(account solana.PublicKey, amount uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	balance := m.balances[account]
	if balance+amount < balance {
		return fmt.Errorf("mint to %s overflows", account)
	}
	m.balances[account] = balance + amount
	return nil
}

// Balance returns the balance of account. Unknown accounts hold zero.
func (m *Memory) Balance(_ context.Context, account solana.PublicKey) (uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.balances[account], nil
}

// Transfer moves tokens between accounts.
func (m *Memory) Transfer(_ context.Context, t staking.Transfer) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failWith != nil {
		return m.failWith
	}
	if t.Amount == 0 {
		return fmt.Errorf("zero transfer from %s", t.From)
	}
	if m.balances[t.From] < t.Amount {
		return fmt.Errorf("%w: %s holds %d, needs %d", ErrInsufficientFunds, t.From, m.balances[t.From], t.Amount)
	}
	if m.balances[t.To]+t.Amount < m.balances[t.To] {
		return fmt.Errorf("transfer to %s overflows", t.To)
	}

	m.balances[t.From] -= t.Amount
	m.balances[t.To] += t.Amount
	m.transfers = append(m.transfers, t)
	return nil
}

// Transfers returns every executed transfer in order.
func (m *Memory) Transfers() []staking.Transfer {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return append([]staking.Transfer(nil), m.transfers...)
}

// FailTransfers makes every following transfer return err. Pass nil to restore.
func (m *Memory) FailTransfers(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.failWith = err
}
