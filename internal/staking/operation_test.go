package staking_test

import (
	"strings"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wnt/stakepool/internal/staking"
)

func TestOperationValidate(t *testing.T) {
	key := solana.NewWallet().PublicKey()

	tests := []struct {
		name  string
		op    staking.Operation
		valid bool
	}{
		{"missing id", staking.Operation{Kind: staking.KindClaim, Pool: key, Actor: key, Account: key}, false},
		{"unknown kind", staking.Operation{ID: "1", Kind: "burn", Pool: key, Actor: key, Account: key}, false},
		{"init without params", staking.Operation{ID: "1", Kind: staking.KindInitializePool}, false},
		{"init", staking.Operation{ID: "1", Kind: staking.KindInitializePool, Init: &staking.InitializePoolParams{}}, true},
		{"create user", staking.Operation{ID: "1", Kind: staking.KindCreateUser, Pool: key, Actor: key}, true},
		{"stake without account", staking.Operation{ID: "1", Kind: staking.KindStake, Pool: key, Actor: key}, false},
		{"stake", staking.Operation{ID: "1", Kind: staking.KindStake, Pool: key, Actor: key, Account: key, Amount: 5}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.op.Validate()
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, staking.ErrInvalidOperation)
			}
		})
	}
}

func TestApply(t *testing.T) {
	f := newFixture(t)
	alice := f.join(100)

	result, err := f.svc.Apply(f.ctx, &staking.Operation{
		ID:      "op-fund",
		Kind:    staking.KindFund,
		Pool:    f.pool.Address,
		Actor:   f.authority,
		Account: f.authorityWallet,
		Amount:  1000,
	})
	require.NoError(t, err)
	assert.Equal(t, "success", result.Status)

	_, err = f.svc.Apply(f.ctx, &staking.Operation{
		ID:      "op-stake",
		Kind:    staking.KindStake,
		Pool:    f.pool.Address,
		Actor:   alice.owner,
		Account: alice.wallet,
		Amount:  50,
	})
	require.NoError(t, err)

	f.at(50)
	result, err = f.svc.Apply(f.ctx, &staking.Operation{
		ID:      "op-claim",
		Kind:    staking.KindClaim,
		Pool:    f.pool.Address,
		Actor:   alice.owner,
		Account: alice.wallet,
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(500), result.Paid)

	result, err = f.svc.Apply(f.ctx, &staking.Operation{
		ID:      "op-unstake",
		Kind:    staking.KindUnstake,
		Pool:    f.pool.Address,
		Actor:   alice.owner,
		Account: alice.wallet,
		Amount:  51,
	})
	assert.ErrorIs(t, err, staking.ErrInsufficientStake)
	assert.Equal(t, "rejected", result.Status)
	assert.NotEmpty(t, result.Error)

	ids := []string{}
	for _, r := range f.store.Records() {
		if strings.HasPrefix(r.OperationID, "op-") {
			ids = append(ids, r.OperationID)
		}
	}
	assert.Equal(t, []string{"op-fund", "op-stake", "op-claim"}, ids)
}

func TestApplyInitializePoolReportsAddress(t *testing.T) {
	f := newFixture(t)

	result, err := f.svc.Apply(f.ctx, &staking.Operation{
		ID:   "op-init",
		Kind: staking.KindInitializePool,
		Init: &staking.InitializePoolParams{
			Authority:      f.authority,
			RewardDuration: 50,
		},
	})
	require.NoError(t, err)
	require.False(t, result.Pool.IsZero())

	pool, err := f.svc.GetPool(f.ctx, result.Pool)
	require.NoError(t, err)
	assert.Equal(t, uint64(50), pool.Rewards.RewardDuration)
}

func TestApplySameOperationTwiceTransfersOnce(t *testing.T) {
	f := newFixture(t)
	f.fund(1000)
	alice := f.join(100)
	transfersBefore := len(f.ledger.Transfers())

	stake := &staking.Operation{
		ID:      "op-stake",
		Kind:    staking.KindStake,
		Pool:    f.pool.Address,
		Actor:   alice.owner,
		Account: alice.wallet,
		Amount:  50,
	}
	for i := 0; i < 2; i++ {
		result, err := f.svc.Apply(f.ctx, stake)
		require.NoError(t, err)
		assert.Equal(t, "success", result.Status)
	}
	assert.Len(t, f.ledger.Transfers(), transfersBefore+1)
	assert.Equal(t, uint64(50), f.balance(alice.wallet))
	assert.Equal(t, uint64(50), f.user(alice).Position.BalanceStaked)

	f.at(50)
	claim := &staking.Operation{
		ID:      "op-claim",
		Kind:    staking.KindClaim,
		Pool:    f.pool.Address,
		Actor:   alice.owner,
		Account: alice.wallet,
	}
	first, err := f.svc.Apply(f.ctx, claim)
	require.NoError(t, err)
	f.at(60)
	second, err := f.svc.Apply(f.ctx, claim)
	require.NoError(t, err)

	// the redelivery reports what the first delivery paid
	assert.Equal(t, uint64(500), first.Paid)
	assert.Equal(t, uint64(500), second.Paid)
	assert.Equal(t, "success", second.Status)
	assert.Equal(t, uint64(550), f.balance(alice.wallet))
	assert.Len(t, f.ledger.Transfers(), transfersBefore+2)

	count := 0
	for _, r := range f.store.Records() {
		if r.OperationID == "op-claim" {
			count++
		}
	}
	assert.Equal(t, 1, count)
}

func TestDirectCallWithRecordedOperationIDIsRefused(t *testing.T) {
	f := newFixture(t)
	alice := f.join(100)

	ctx := staking.WithOperationID(f.ctx, "op-stake")
	require.NoError(t, f.svc.Stake(ctx, f.pool.Address, alice.owner, alice.wallet, 10))

	err := f.svc.Stake(ctx, f.pool.Address, alice.owner, alice.wallet, 10)
	assert.ErrorIs(t, err, staking.ErrAlreadyApplied)
	assert.False(t, staking.IsValidation(err))
	assert.Equal(t, uint64(90), f.balance(alice.wallet))
}

func TestApplyReplayedInitializePoolReportsOriginalAddress(t *testing.T) {
	f := newFixture(t)

	op := &staking.Operation{
		ID:   "op-init",
		Kind: staking.KindInitializePool,
		Init: &staking.InitializePoolParams{
			Authority:      f.authority,
			RewardDuration: 50,
		},
	}
	first, err := f.svc.Apply(f.ctx, op)
	require.NoError(t, err)
	second, err := f.svc.Apply(f.ctx, op)
	require.NoError(t, err)

	assert.Equal(t, first.Pool, second.Pool)
	_, err = f.svc.GetPool(f.ctx, second.Pool)
	assert.NoError(t, err)
}
