// Package staking applies pool operations: it loads accounts, runs the reward
// arithmetic, persists the result and asks the ledger to move tokens.
//
// Every state-changing operation advances the pool accumulator with the vault balance
// observed before the operation, settles the acting position, then applies its own
// effect. Operations on one pool are serialized through a Locker, and all writes of an
// operation happen inside one store transaction that rolls back if any step fails.
package staking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/wnt/stakepool/internal/amount"
	"github.com/wnt/stakepool/internal/lock"
	"github.com/wnt/stakepool/internal/logger"
	"github.com/wnt/stakepool/internal/metrics"
	"github.com/wnt/stakepool/internal/rewards"
)

// DefaultOperationTimeout bounds one operation once its pool lock is held.
const DefaultOperationTimeout = 2 * time.Minute

// DefaultProgramID is the address the pool and position accounts are derived under.
var DefaultProgramID = solana.MustPublicKeyFromBase58("E3mHBkUKFf1hhXN6YEG3oXD5G8SZkvVfoRQ4TNQewqYJ")

// Service applies staking operations.
type Service struct {
	store     Store
	ledger    Ledger
	locker    Locker
	clock     Clock
	calc      *rewards.Calculator
	programID solana.PublicKey
	decimals  int32
	timeout   time.Duration
	logger    zerolog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithLocker replaces the in-process pool lock.
func WithLocker(l Locker) Option {
	return func(s *Service) { s.locker = l }
}

// WithClock replaces the wall clock.
func WithClock(c Clock) Option {
	return func(s *Service) { s.clock = c }
}

// WithCalculator replaces the reward calculator.
func WithCalculator(c *rewards.Calculator) Option {
	return func(s *Service) { s.calc = c }
}

// WithProgramID sets the program address accounts are derived under.
func WithProgramID(id solana.PublicKey) Option {
	return func(s *Service) { s.programID = id }
}

// WithDecimals sets the token decimals used when logging amounts.
func WithDecimals(decimals int32) Option {
	return func(s *Service) { s.decimals = decimals }
}

// WithOperationTimeout bounds how long an operation may run after taking the pool lock.
func WithOperationTimeout(d time.Duration) Option {
	return func(s *Service) { s.timeout = d }
}

// NewService creates a staking service.
func NewService(store Store, ledger Ledger, log zerolog.Logger, opts ...Option) *Service {
	s := &Service{
		store:     store,
		ledger:    ledger,
		locker:    lock.NewLocal(),
		clock:     SystemClock{},
		calc:      rewards.NewCalculator(rewards.SecondsPerYear),
		programID: DefaultProgramID,
		decimals:  amount.DefaultDecimals,
		timeout:   DefaultOperationTimeout,
		logger:    logger.WithComponent(log, "staking"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// InitializePoolParams describes a new pool.
type InitializePoolParams struct {
	// Address of the pool account; a fresh keypair address is used when zero.
	Address        solana.PublicKey `json:"address"`
	Authority      solana.PublicKey `json:"authority"`
	StakingMint    solana.PublicKey `json:"staking_mint"`
	StakingVault   solana.PublicKey `json:"staking_vault"`
	RewardMint     solana.PublicKey `json:"reward_mint"`
	RewardVault    solana.PublicKey `json:"reward_vault"`
	RewardDuration uint64           `json:"reward_duration"`
}

// InitializePool creates an idle pool: zero rate and a schedule that has already ended.
func (s *Service) InitializePool(ctx context.Context, params InitializePoolParams) (*Pool, error) {
	spy := s.calc.SecondsPerYear()
	if params.RewardDuration == 0 || params.RewardDuration > spy {
		return nil, fmt.Errorf("%w: %d seconds", ErrInvalidRewardDuration, params.RewardDuration)
	}

	address := params.Address
	if address.IsZero() {
		address = solana.NewWallet().PublicKey()
	}
	log := logger.WithPool(s.logger, address.String())

	if spy%params.RewardDuration != 0 {
		log.Warn().
			Uint64("reward_duration", params.RewardDuration).
			Uint64("seconds_per_year", spy).
			Msg("Reward duration does not divide a year evenly, funding rates will be truncated")
	}

	signer, nonce, err := PoolSignerAddress(address, s.programID)
	if err != nil {
		return nil, fmt.Errorf("failed to derive pool signer: %w", err)
	}

	pool := &Pool{
		Address:      address,
		Authority:    params.Authority,
		Signer:       signer,
		SignerNonce:  nonce,
		StakingMint:  params.StakingMint,
		StakingVault: params.StakingVault,
		RewardMint:   params.RewardMint,
		RewardVault:  params.RewardVault,
		Rewards:      rewards.NewPool(params.RewardDuration),
	}

	err = s.run(ctx, KindInitializePool, address, func(ctx context.Context, tx Tx, now int64) error {
		if err := tx.CreatePool(ctx, pool); err != nil {
			return err
		}
		return tx.RecordOperation(ctx, s.record(ctx, KindInitializePool, pool.Address, params.Authority, params.RewardDuration, 0, now))
	})
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("authority", pool.Authority.String()).
		Str("signer", pool.Signer.String()).
		Uint64("reward_duration", params.RewardDuration).
		Msg("Pool initialized")
	return pool, nil
}

// CreateUser registers owner's position in a pool.
func (s *Service) CreateUser(ctx context.Context, poolAddr, owner solana.PublicKey) (*User, error) {
	address, nonce, err := UserAddress(owner, poolAddr, s.programID)
	if err != nil {
		return nil, fmt.Errorf("failed to derive user address: %w", err)
	}

	user := &User{
		Address: address,
		Nonce:   nonce,
		Pool:    poolAddr,
		Owner:   owner,
	}

	err = s.run(ctx, KindCreateUser, poolAddr, func(ctx context.Context, tx Tx, now int64) error {
		pool, err := tx.GetPool(ctx, poolAddr)
		if err != nil {
			return err
		}
		if _, err := tx.GetUser(ctx, address); err == nil {
			return fmt.Errorf("%w: %s", ErrUserExists, address)
		} else if !errors.Is(err, ErrUserNotFound) {
			return err
		}

		if pool.UserStakeCount == ^uint32(0) {
			return fmt.Errorf("user stake count: %w", rewards.ErrOverflow)
		}
		pool.UserStakeCount++

		if err := tx.CreateUser(ctx, user); err != nil {
			return err
		}
		if err := tx.UpdatePool(ctx, pool); err != nil {
			return err
		}
		return tx.RecordOperation(ctx, s.record(ctx, KindCreateUser, poolAddr, owner, 0, 0, now))
	})
	if err != nil {
		return nil, err
	}

	s.positionLogger(poolAddr, owner).Info().
		Str("user", address.String()).
		Msg("User created")
	return user, nil
}

// Stake moves amount from the owner's token account into the staking vault.
func (s *Service) Stake(ctx context.Context, poolAddr, owner, from solana.PublicKey, amt uint64) error {
	if amt == 0 {
		return ErrZeroAmount
	}

	return s.run(ctx, KindStake, poolAddr, func(ctx context.Context, tx Tx, now int64) error {
		pool, user, err := s.loadPosition(ctx, tx, poolAddr, owner)
		if err != nil {
			return err
		}
		total, err := s.settle(ctx, pool, user, now)
		if err != nil {
			return err
		}

		if user.Position.BalanceStaked, err = rewards.AddAmount(user.Position.BalanceStaked, amt); err != nil {
			return fmt.Errorf("staked balance: %w", err)
		}

		if err := s.commit(ctx, tx, pool, user, s.record(ctx, KindStake, poolAddr, owner, amt, 0, now)); err != nil {
			return err
		}
		if err := s.ledger.Transfer(ctx, Transfer{Mint: pool.StakingMint, From: from, To: pool.StakingVault, Amount: amt}); err != nil {
			return fmt.Errorf("failed to transfer stake: %w", err)
		}

		metrics.SetTotalStaked(poolAddr.String(), total+amt)
		s.positionLogger(poolAddr, owner).Info().
			Str("amount", amount.Format(amt, s.decimals)).
			Uint64("balance_staked", user.Position.BalanceStaked).
			Msg("Staked")
		return nil
	})
}

// Unstake moves amount from the staking vault back to the owner's token account.
func (s *Service) Unstake(ctx context.Context, poolAddr, owner, to solana.PublicKey, amt uint64) error {
	if amt == 0 {
		return ErrZeroAmount
	}

	return s.run(ctx, KindUnstake, poolAddr, func(ctx context.Context, tx Tx, now int64) error {
		pool, user, err := s.loadPosition(ctx, tx, poolAddr, owner)
		if err != nil {
			return err
		}
		if amt > user.Position.BalanceStaked {
			return fmt.Errorf("%w: requested %d, staked %d", ErrInsufficientStake, amt, user.Position.BalanceStaked)
		}

		total, err := s.settle(ctx, pool, user, now)
		if err != nil {
			return err
		}
		if user.Position.BalanceStaked, err = rewards.SubAmount(user.Position.BalanceStaked, amt); err != nil {
			return fmt.Errorf("staked balance: %w", err)
		}

		if err := s.commit(ctx, tx, pool, user, s.record(ctx, KindUnstake, poolAddr, owner, amt, 0, now)); err != nil {
			return err
		}
		if err := s.ledger.Transfer(ctx, Transfer{Mint: pool.StakingMint, From: pool.StakingVault, To: to, Amount: amt}); err != nil {
			return fmt.Errorf("failed to transfer unstake: %w", err)
		}

		if total >= amt {
			metrics.SetTotalStaked(poolAddr.String(), total-amt)
		}
		s.positionLogger(poolAddr, owner).Info().
			Str("amount", amount.Format(amt, s.decimals)).
			Uint64("balance_staked", user.Position.BalanceStaked).
			Msg("Unstaked")
		return nil
	})
}

// Fund deposits amount of reward tokens and restarts the emission window.
func (s *Service) Fund(ctx context.Context, poolAddr, funder, from solana.PublicKey, amt uint64) error {
	return s.run(ctx, KindFund, poolAddr, func(ctx context.Context, tx Tx, now int64) error {
		pool, err := tx.GetPool(ctx, poolAddr)
		if err != nil {
			return err
		}
		if !funder.Equals(pool.Authority) {
			return fmt.Errorf("%w: %s is not the pool authority", ErrUnauthorized, funder)
		}

		total, err := s.ledger.Balance(ctx, pool.StakingVault)
		if err != nil {
			return fmt.Errorf("failed to read staking vault balance: %w", err)
		}
		advanced, err := s.calc.Advance(pool.Rewards, total, now)
		if err != nil {
			return fmt.Errorf("advance pool: %w", err)
		}
		funded, err := s.calc.Fund(advanced, amt, now)
		if err != nil {
			return fmt.Errorf("fund pool: %w", err)
		}
		pool.Rewards = funded

		if err := tx.UpdatePool(ctx, pool); err != nil {
			return err
		}
		if err := tx.RecordOperation(ctx, s.record(ctx, KindFund, poolAddr, funder, amt, 0, now)); err != nil {
			return err
		}
		if amt > 0 {
			if err := s.ledger.Transfer(ctx, Transfer{Mint: pool.RewardMint, From: from, To: pool.RewardVault, Amount: amt}); err != nil {
				return fmt.Errorf("failed to transfer funding: %w", err)
			}
		}

		metrics.RecordFunding(poolAddr.String(), amt, funded.RewardRate)
		log := logger.WithPool(s.logger, poolAddr.String())
		log.Info().
			Str("amount", amount.Format(amt, s.decimals)).
			Uint64("reward_rate", funded.RewardRate).
			Int64("reward_duration_end", funded.RewardDurationEnd).
			Msg("Pool funded")
		return nil
	})
}

// ClaimReward pays the owner's pending reward, capped at the reward vault balance.
// Pending is zeroed even when the vault cannot cover all of it.
func (s *Service) ClaimReward(ctx context.Context, poolAddr, owner, to solana.PublicKey) (uint64, error) {
	var paid uint64
	err := s.run(ctx, KindClaim, poolAddr, func(ctx context.Context, tx Tx, now int64) error {
		pool, user, err := s.loadPosition(ctx, tx, poolAddr, owner)
		if err != nil {
			return err
		}
		if _, err := s.settle(ctx, pool, user, now); err != nil {
			return err
		}

		available, err := s.ledger.Balance(ctx, pool.RewardVault)
		if err != nil {
			return fmt.Errorf("failed to read reward vault balance: %w", err)
		}
		pending := user.Position.RewardPerTokenPending
		payout := min(pending, available)
		user.Position.RewardPerTokenPending = 0

		if err := s.commit(ctx, tx, pool, user, s.record(ctx, KindClaim, poolAddr, owner, pending, payout, now)); err != nil {
			return err
		}
		if payout > 0 {
			if err := s.ledger.Transfer(ctx, Transfer{Mint: pool.RewardMint, From: pool.RewardVault, To: to, Amount: payout}); err != nil {
				return fmt.Errorf("failed to transfer reward: %w", err)
			}
		}

		paid = payout
		shortfall := pending - payout
		metrics.RecordClaim(poolAddr.String(), payout, shortfall)

		log := s.positionLogger(poolAddr, owner)
		if shortfall > 0 {
			log.Warn().
				Uint64("pending", pending).
				Uint64("paid", payout).
				Uint64("discarded", shortfall).
				Msg("Reward vault could not cover pending reward, remainder discarded")
		}
		log.Info().Str("paid", amount.Format(payout, s.decimals)).Msg("Reward claimed")
		return nil
	})
	if err != nil {
		return 0, err
	}
	return paid, nil
}

// run serializes fn on the pool and executes it inside a store transaction.
//
// Once the lock is held, the caller's cancellation no longer reaches fn: a ledger
// transfer may already have happened, and the store writes describing it must commit.
// The operation is bounded by the service timeout instead.
//
// An operation ID already present in the journal is not applied again; run returns
// ErrAlreadyApplied without calling fn.
func (s *Service) run(ctx context.Context, kind OperationKind, poolAddr solana.PublicKey, fn func(ctx context.Context, tx Tx, now int64) error) error {
	start := time.Now()

	unlock, err := s.locker.Lock(ctx, poolAddr.String())
	metrics.RecordLockWait(time.Since(start).Seconds())
	if err != nil {
		metrics.RecordOperation(string(kind), "failed", time.Since(start).Seconds())
		return fmt.Errorf("failed to lock pool %s: %w", poolAddr, err)
	}
	defer unlock()

	opCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
	defer cancel()

	now := s.clock.Now().Unix()
	err = s.store.InTx(opCtx, func(tx Tx) error {
		if id := OperationIDFromContext(opCtx); id != "" {
			_, err := tx.GetOperation(opCtx, id)
			if err == nil {
				return fmt.Errorf("%w: %s", ErrAlreadyApplied, id)
			}
			if !errors.Is(err, ErrOperationNotFound) {
				return err
			}
		}
		return fn(opCtx, tx, now)
	})

	log := logger.WithPool(s.logger, poolAddr.String())
	status := "success"
	switch {
	case err == nil:
	case errors.Is(err, ErrAlreadyApplied):
		status = "duplicate"
		log.Info().Str("operation", string(kind)).Str("operation_id", OperationIDFromContext(ctx)).Msg("Operation already applied, skipping")
	case IsValidation(err):
		status = "rejected"
		log.Warn().Err(err).Str("operation", string(kind)).Msg("Operation rejected")
	default:
		status = "failed"
		log.Error().Err(err).Str("operation", string(kind)).Msg("Operation failed")
	}
	metrics.RecordOperation(string(kind), status, time.Since(start).Seconds())
	return err
}

// loadPosition fetches the pool and the owner's position and checks they belong together.
func (s *Service) loadPosition(ctx context.Context, r Reader, poolAddr, owner solana.PublicKey) (*Pool, *User, error) {
	pool, err := r.GetPool(ctx, poolAddr)
	if err != nil {
		return nil, nil, err
	}
	address, _, err := UserAddress(owner, poolAddr, s.programID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to derive user address: %w", err)
	}
	user, err := r.GetUser(ctx, address)
	if err != nil {
		return nil, nil, err
	}
	if !user.Pool.Equals(poolAddr) || !user.Owner.Equals(owner) {
		return nil, nil, fmt.Errorf("%w: position %s is not owned by %s in pool %s", ErrUnauthorized, address, owner, poolAddr)
	}
	return pool, user, nil
}

// settle advances the pool with the current vault balance and settles the user against it.
// It returns the vault balance it used.
func (s *Service) settle(ctx context.Context, pool *Pool, user *User, now int64) (uint64, error) {
	total, err := s.ledger.Balance(ctx, pool.StakingVault)
	if err != nil {
		return 0, fmt.Errorf("failed to read staking vault balance: %w", err)
	}
	advanced, err := s.calc.Advance(pool.Rewards, total, now)
	if err != nil {
		return 0, fmt.Errorf("advance pool: %w", err)
	}
	position, err := s.calc.Settle(advanced, user.Position)
	if err != nil {
		return 0, fmt.Errorf("settle position: %w", err)
	}
	pool.Rewards = advanced
	user.Position = position
	return total, nil
}

func (s *Service) commit(ctx context.Context, tx Tx, pool *Pool, user *User, record *Record) error {
	if err := tx.UpdatePool(ctx, pool); err != nil {
		return err
	}
	if err := tx.UpdateUser(ctx, user); err != nil {
		return err
	}
	return tx.RecordOperation(ctx, record)
}

func (s *Service) record(ctx context.Context, kind OperationKind, poolAddr, actor solana.PublicKey, amt, paid uint64, now int64) *Record {
	id := OperationIDFromContext(ctx)
	if id == "" {
		id = uuid.NewString()
	}
	return &Record{
		OperationID: id,
		Kind:        kind,
		Pool:        poolAddr,
		Actor:       actor,
		Amount:      amt,
		Paid:        paid,
		Timestamp:   now,
	}
}

func (s *Service) positionLogger(poolAddr, owner solana.PublicKey) *zerolog.Logger {
	l := logger.WithOwner(logger.WithPool(s.logger, poolAddr.String()), owner.String())
	return &l
}
