package database

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/glebarez/sqlite"
	"github.com/holiman/uint256"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wnt/stakepool/internal/config"
	"github.com/wnt/stakepool/internal/ledger"
	"github.com/wnt/stakepool/internal/rewards"
	"github.com/wnt/stakepool/internal/staking"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := Open(sqlite.Open(filepath.Join(t.TempDir(), "stakepool.db")))
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return NewStore(db)
}

// TestConnectWithMissingConfig tests that Connect returns an error when the database is not configured
func TestConnectWithMissingConfig(t *testing.T) {
	db, err := Connect(config.Config{})
	if err == nil {
		t.Error("Connect() should return an error when the database is not configured")
	}
	if db != nil {
		t.Error("Connect() should return nil DB when connection fails")
	}
}

// TestConnectSuccessful only runs when explicitly enabled against a real postgres
func TestConnectSuccessful(t *testing.T) {
	if os.Getenv("RUN_DB_TESTS") != "true" {
		t.Skip("Skipping database connection test. Set RUN_DB_TESTS=true to enable.")
	}

	cfg, err := config.Load()
	if err != nil {
		t.Skipf("Skipping test because configuration is incomplete: %v", err)
	}

	db, err := Connect(cfg)
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	assert.NoError(t, sqlDB.Ping())
}

func TestPoolRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	pool := &staking.Pool{
		Address:        solana.NewWallet().PublicKey(),
		Authority:      solana.NewWallet().PublicKey(),
		Signer:         solana.NewWallet().PublicKey(),
		SignerNonce:    254,
		StakingMint:    solana.NewWallet().PublicKey(),
		StakingVault:   solana.NewWallet().PublicKey(),
		RewardMint:     solana.NewWallet().PublicKey(),
		RewardVault:    solana.NewWallet().PublicKey(),
		UserStakeCount: 3,
		Rewards: rewards.Pool{
			RewardDuration:    86400,
			RewardDurationEnd: 1_700_086_400,
			LastUpdateTime:    1_700_000_000,
			RewardRate:        ^uint64(0),
		},
	}
	// an accumulator wider than 64 bits
	pool.Rewards.RewardPerTokenStored.Mul(rewards.Precision(), uint256.NewInt(123456789))

	require.NoError(t, store.InTx(ctx, func(tx staking.Tx) error { return tx.CreatePool(ctx, pool) }))

	got, err := store.GetPool(ctx, pool.Address)
	require.NoError(t, err)
	assert.Equal(t, pool, got)

	err = store.InTx(ctx, func(tx staking.Tx) error { return tx.CreatePool(ctx, pool) })
	assert.ErrorIs(t, err, staking.ErrPoolExists)

	_, err = store.GetPool(ctx, solana.NewWallet().PublicKey())
	assert.ErrorIs(t, err, staking.ErrPoolNotFound)

	err = store.InTx(ctx, func(tx staking.Tx) error {
		return tx.UpdatePool(ctx, &staking.Pool{Address: solana.NewWallet().PublicKey()})
	})
	assert.ErrorIs(t, err, staking.ErrPoolNotFound)
}

func TestUserRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	poolAddr := solana.NewWallet().PublicKey()
	user := &staking.User{
		Address: solana.NewWallet().PublicKey(),
		Nonce:   255,
		Pool:    poolAddr,
		Owner:   solana.NewWallet().PublicKey(),
		Position: rewards.Position{
			BalanceStaked:         ^uint64(0),
			RewardPerTokenPending: 1 << 63,
		},
	}
	user.Position.RewardPerTokenComplete.Lsh(uint256.NewInt(1), 100)

	require.NoError(t, store.InTx(ctx, func(tx staking.Tx) error { return tx.CreateUser(ctx, user) }))

	got, err := store.GetUser(ctx, user.Address)
	require.NoError(t, err)
	assert.Equal(t, user, got)

	err = store.InTx(ctx, func(tx staking.Tx) error { return tx.CreateUser(ctx, user) })
	assert.ErrorIs(t, err, staking.ErrUserExists)

	users, err := store.ListUsers(ctx, poolAddr)
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, user.Address, users[0].Address)
}

func TestRollback(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	poolAddr := solana.NewWallet().PublicKey()
	boom := errors.New("boom")

	err := store.InTx(ctx, func(tx staking.Tx) error {
		require.NoError(t, tx.CreateUser(ctx, &staking.User{
			Address: solana.NewWallet().PublicKey(),
			Pool:    poolAddr,
			Owner:   solana.NewWallet().PublicKey(),
		}))
		require.NoError(t, tx.RecordOperation(ctx, &staking.Record{Kind: staking.KindCreateUser, Pool: poolAddr}))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	users, err := store.ListUsers(ctx, poolAddr)
	require.NoError(t, err)
	assert.Empty(t, users)

	ops, err := store.ListOperations(ctx, poolAddr, 10)
	require.NoError(t, err)
	assert.Empty(t, ops)
}

func TestServiceOnDatabase(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	mem := ledger.NewMemory()

	now := int64(0)
	svc := staking.NewService(store, mem, zerolog.Nop(),
		staking.WithCalculator(rewards.NewCalculator(100)),
		staking.WithClock(staking.ClockFunc(func() time.Time { return time.Unix(now, 0) })),
	)

	authority, authorityWallet := solana.NewWallet().PublicKey(), solana.NewWallet().PublicKey()
	require.NoError(t, mem.Mint(authorityWallet, 1000))

	pool, err := svc.InitializePool(ctx, staking.InitializePoolParams{
		Authority:      authority,
		StakingMint:    solana.NewWallet().PublicKey(),
		StakingVault:   solana.NewWallet().PublicKey(),
		RewardMint:     solana.NewWallet().PublicKey(),
		RewardVault:    solana.NewWallet().PublicKey(),
		RewardDuration: 100,
	})
	require.NoError(t, err)
	require.NoError(t, svc.Fund(ctx, pool.Address, authority, authorityWallet, 1000))

	owner, wallet := solana.NewWallet().PublicKey(), solana.NewWallet().PublicKey()
	require.NoError(t, mem.Mint(wallet, 50))
	_, err = svc.CreateUser(ctx, pool.Address, owner)
	require.NoError(t, err)
	require.NoError(t, svc.Stake(ctx, pool.Address, owner, wallet, 50))

	now = 50
	// a failed transfer leaves the database untouched
	mem.FailTransfers(errors.New("custody offline"))
	_, err = svc.ClaimReward(ctx, pool.Address, owner, wallet)
	require.Error(t, err)
	mem.FailTransfers(nil)

	stored, err := store.GetPool(ctx, pool.Address)
	require.NoError(t, err)
	assert.Equal(t, int64(0), stored.Rewards.LastUpdateTime)

	paid, err := svc.ClaimReward(ctx, pool.Address, owner, wallet)
	require.NoError(t, err)
	assert.Equal(t, uint64(500), paid)

	user, err := svc.GetUser(ctx, pool.Address, owner)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), user.Position.RewardPerTokenPending)
	expected := new(uint256.Int).Mul(rewards.Precision(), uint256.NewInt(10))
	assert.True(t, expected.Eq(&user.Position.RewardPerTokenComplete))

	ops, err := store.ListOperations(ctx, pool.Address, 10)
	require.NoError(t, err)
	kinds := make([]string, len(ops))
	for i, op := range ops {
		kinds[i] = op.Kind
	}
	assert.Equal(t, []string{"initialize_pool", "fund", "create_user", "stake", "claim"}, kinds)
	assert.Equal(t, "500", ops[4].Amount)
	assert.Equal(t, "500", ops[4].Paid)
	assert.Equal(t, int64(50), ops[4].AppliedAt)
}

func TestOperationJournalLookup(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	record := &staking.Record{
		OperationID: "6f1c2b0e-8d0f-4a53-9b8e-5a0d7f0a1c11",
		Kind:        staking.KindClaim,
		Pool:        solana.NewWallet().PublicKey(),
		Actor:       solana.NewWallet().PublicKey(),
		Amount:      700,
		Paid:        ^uint64(0),
		Timestamp:   1_700_000_050,
	}

	_, err := store.GetOperation(ctx, record.OperationID)
	assert.ErrorIs(t, err, staking.ErrOperationNotFound)

	require.NoError(t, store.InTx(ctx, func(tx staking.Tx) error { return tx.RecordOperation(ctx, record) }))

	got, err := store.GetOperation(ctx, record.OperationID)
	require.NoError(t, err)
	assert.Equal(t, record, got)

	// the journal refuses a second entry for the same operation
	err = store.InTx(ctx, func(tx staking.Tx) error { return tx.RecordOperation(ctx, record) })
	assert.Error(t, err)
}

func TestApplyTwiceOnDatabase(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	mem := ledger.NewMemory()
	svc := staking.NewService(store, mem, zerolog.Nop(),
		staking.WithCalculator(rewards.NewCalculator(100)),
		staking.WithClock(staking.ClockFunc(func() time.Time { return time.Unix(0, 0) })),
	)

	pool, err := svc.InitializePool(ctx, staking.InitializePoolParams{
		Authority:      solana.NewWallet().PublicKey(),
		StakingMint:    solana.NewWallet().PublicKey(),
		StakingVault:   solana.NewWallet().PublicKey(),
		RewardMint:     solana.NewWallet().PublicKey(),
		RewardVault:    solana.NewWallet().PublicKey(),
		RewardDuration: 100,
	})
	require.NoError(t, err)

	owner, wallet := solana.NewWallet().PublicKey(), solana.NewWallet().PublicKey()
	require.NoError(t, mem.Mint(wallet, 100))
	_, err = svc.CreateUser(ctx, pool.Address, owner)
	require.NoError(t, err)

	op := &staking.Operation{ID: "stake-1", Kind: staking.KindStake, Pool: pool.Address, Actor: owner, Account: wallet, Amount: 40}
	for i := 0; i < 2; i++ {
		result, err := svc.Apply(ctx, op)
		require.NoError(t, err)
		assert.Equal(t, "success", result.Status)
	}

	balance, err := mem.Balance(ctx, wallet)
	require.NoError(t, err)
	assert.Equal(t, uint64(60), balance)

	user, err := svc.GetUser(ctx, pool.Address, owner)
	require.NoError(t, err)
	assert.Equal(t, uint64(40), user.Position.BalanceStaked)
}
