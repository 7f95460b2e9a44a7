package staking

import (
	"context"
	"time"

	"github.com/gagliardetto/solana-go"

	"github.com/wnt/stakepool/internal/rewards"
)

// Pool is a staking pool account: identities, custody locations and reward schedule.
type Pool struct {
	Address        solana.PublicKey
	Authority      solana.PublicKey
	Signer         solana.PublicKey // derived from [pool]
	SignerNonce    uint8
	StakingMint    solana.PublicKey
	StakingVault   solana.PublicKey
	RewardMint     solana.PublicKey
	RewardVault    solana.PublicKey
	UserStakeCount uint32
	Rewards        rewards.Pool
}

// User is one participant's position account in a pool.
type User struct {
	Address  solana.PublicKey // derived from [owner, pool]
	Nonce    uint8
	Pool     solana.PublicKey
	Owner    solana.PublicKey
	Position rewards.Position
}

// Record is a journal entry for a committed operation. OperationID is unique:
// it is the queued operation's ID, or a generated one for direct calls.
type Record struct {
	OperationID string
	Kind        OperationKind
	Pool        solana.PublicKey
	Actor       solana.PublicKey
	Amount      uint64
	Paid        uint64
	Timestamp   int64
}

// Reader gives read access to pool and user accounts.
type Reader interface {
	GetPool(ctx context.Context, address solana.PublicKey) (*Pool, error)
	GetUser(ctx context.Context, address solana.PublicKey) (*User, error)
	ListUsers(ctx context.Context, pool solana.PublicKey) ([]*User, error)
	// GetOperation returns the journal entry of an operation. Returns ErrOperationNotFound
	// if the operation was never committed.
	GetOperation(ctx context.Context, id string) (*Record, error)
}

// Tx is a store transaction. Writes become visible only if the InTx callback returns nil.
type Tx interface {
	Reader
	CreatePool(ctx context.Context, pool *Pool) error
	UpdatePool(ctx context.Context, pool *Pool) error
	CreateUser(ctx context.Context, user *User) error
	UpdateUser(ctx context.Context, user *User) error
	RecordOperation(ctx context.Context, record *Record) error
}

// Store persists accounts.
type Store interface {
	Reader
	InTx(ctx context.Context, fn func(tx Tx) error) error
}

// Transfer is a token movement the ledger executes on the core's behalf.
type Transfer struct {
	Mint   solana.PublicKey
	From   solana.PublicKey
	To     solana.PublicKey
	Amount uint64
}

// Ledger is the custody system holding staked and reward tokens.
type Ledger interface {
	// Balance returns the token balance held by account.
	Balance(ctx context.Context, account solana.PublicKey) (uint64, error)
	// Transfer moves tokens. Amount is never zero.
	Transfer(ctx context.Context, t Transfer) error
}

// Locker serializes operations on the same pool.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to Clock.
type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time { return f() }

// SystemClock reads the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// PoolSignerAddress derives the pool's signer address from seeds [pool].
func PoolSignerAddress(pool, programID solana.PublicKey) (solana.PublicKey, uint8, error) {
	return solana.FindProgramAddress([][]byte{pool.Bytes()}, programID)
}

// UserAddress derives a participant's position address from seeds [owner, pool].
func UserAddress(owner, pool, programID solana.PublicKey) (solana.PublicKey, uint8, error) {
	return solana.FindProgramAddress([][]byte{owner.Bytes(), pool.Bytes()}, programID)
}
