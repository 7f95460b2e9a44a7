package staking

import (
	"context"
	"fmt"

	"github.com/gagliardetto/solana-go"

	"github.com/wnt/stakepool/internal/rewards"
)

// GetPool returns the committed state of a pool.
func (s *Service) GetPool(ctx context.Context, poolAddr solana.PublicKey) (*Pool, error) {
	return s.store.GetPool(ctx, poolAddr)
}

// GetUser returns owner's committed position in a pool.
func (s *Service) GetUser(ctx context.Context, poolAddr, owner solana.PublicKey) (*User, error) {
	_, user, err := s.loadPosition(ctx, s.store, poolAddr, owner)
	return user, err
}

// PendingReward reports what a claim would credit right now, without changing state.
// The payout may still be capped by the reward vault balance.
func (s *Service) PendingReward(ctx context.Context, poolAddr, owner solana.PublicKey) (uint64, error) {
	pool, user, err := s.loadPosition(ctx, s.store, poolAddr, owner)
	if err != nil {
		return 0, err
	}
	if _, err := s.settle(ctx, pool, user, s.clock.Now().Unix()); err != nil {
		return 0, err
	}
	return user.Position.RewardPerTokenPending, nil
}

// AuditReport compares the pool's books with its vaults.
type AuditReport struct {
	Pool                solana.PublicKey `json:"pool"`
	Users               int              `json:"users"`
	UserStakeCount      uint32           `json:"user_stake_count"`
	StakedTotal         uint64           `json:"staked_total"`
	StakingVaultBalance uint64           `json:"staking_vault_balance"`
	OutstandingRewards  uint64           `json:"outstanding_rewards"`
	RewardVaultBalance  uint64           `json:"reward_vault_balance"`
	State               rewards.State    `json:"state"`
}

// Balanced reports whether the staked balances add up to the staking vault.
func (r *AuditReport) Balanced() bool {
	return r.StakedTotal == r.StakingVaultBalance && uint32(r.Users) == r.UserStakeCount
}

// Solvent reports whether the reward vault can pay every outstanding reward.
func (r *AuditReport) Solvent() bool {
	return r.OutstandingRewards <= r.RewardVaultBalance
}

// Audit sums every position in a pool as of now and compares the totals with the vaults.
// It holds the pool lock so the snapshot is consistent.
func (s *Service) Audit(ctx context.Context, poolAddr solana.PublicKey) (*AuditReport, error) {
	unlock, err := s.locker.Lock(ctx, poolAddr.String())
	if err != nil {
		return nil, fmt.Errorf("failed to lock pool %s: %w", poolAddr, err)
	}
	defer unlock()

	pool, err := s.store.GetPool(ctx, poolAddr)
	if err != nil {
		return nil, err
	}
	users, err := s.store.ListUsers(ctx, poolAddr)
	if err != nil {
		return nil, err
	}

	staked, err := s.ledger.Balance(ctx, pool.StakingVault)
	if err != nil {
		return nil, fmt.Errorf("failed to read staking vault balance: %w", err)
	}
	rewardBalance, err := s.ledger.Balance(ctx, pool.RewardVault)
	if err != nil {
		return nil, fmt.Errorf("failed to read reward vault balance: %w", err)
	}

	now := s.clock.Now().Unix()
	advanced, err := s.calc.Advance(pool.Rewards, staked, now)
	if err != nil {
		return nil, fmt.Errorf("advance pool: %w", err)
	}

	report := &AuditReport{
		Pool:                poolAddr,
		Users:               len(users),
		UserStakeCount:      pool.UserStakeCount,
		StakingVaultBalance: staked,
		RewardVaultBalance:  rewardBalance,
		State:               advanced.State(now),
	}
	for _, user := range users {
		if report.StakedTotal, err = rewards.AddAmount(report.StakedTotal, user.Position.BalanceStaked); err != nil {
			return nil, fmt.Errorf("sum staked balances: %w", err)
		}
		earned, err := s.calc.Earned(advanced, user.Position)
		if err != nil {
			return nil, fmt.Errorf("user %s: %w", user.Address, err)
		}
		if report.OutstandingRewards, err = rewards.AddAmount(report.OutstandingRewards, earned); err != nil {
			return nil, fmt.Errorf("sum outstanding rewards: %w", err)
		}
	}

	if !report.Balanced() {
		s.logger.Warn().
			Str("pool", poolAddr.String()).
			Uint64("staked_total", report.StakedTotal).
			Uint64("staking_vault_balance", staked).
			Int("users", report.Users).
			Uint32("user_stake_count", report.UserStakeCount).
			Msg("Pool books do not match staking vault")
	}
	return report, nil
}
