package database

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/gagliardetto/solana-go"
	"github.com/holiman/uint256"
	"gorm.io/gorm"

	"github.com/wnt/stakepool/internal/models"
	"github.com/wnt/stakepool/internal/rewards"
	"github.com/wnt/stakepool/internal/staking"
)

// Store persists pools, positions and the operation journal with gorm
type Store struct {
	queries
}

// NewStore wraps an open database
func NewStore(db *gorm.DB) *Store {
	return &Store{queries{db: db}}
}

// InTx runs fn in a database transaction that is rolled back if fn returns an error
func (s *Store) InTx(ctx context.Context, fn func(tx staking.Tx) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&queries{db: tx})
	})
}

// ListOperations returns the journal of a pool, oldest first
func (s *Store) ListOperations(ctx context.Context, pool solana.PublicKey, limit int) ([]models.Operation, error) {
	var ops []models.Operation
	err := s.db.WithContext(ctx).
		Where("pool_address = ?", pool.String()).
		Order("id ASC").
		Limit(limit).
		Find(&ops).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list operations: %w", err)
	}
	return ops, nil
}

// queries implements staking.Tx against either the database or an open transaction
type queries struct {
	db *gorm.DB
}

func (q *queries) GetPool(ctx context.Context, address solana.PublicKey) (*staking.Pool, error) {
	var m models.Pool
	err := q.db.WithContext(ctx).Where("address = ?", address.String()).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", staking.ErrPoolNotFound, address)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load pool %s: %w", address, err)
	}
	return poolFromModel(&m)
}

func (q *queries) GetUser(ctx context.Context, address solana.PublicKey) (*staking.User, error) {
	var m models.UserPosition
	err := q.db.WithContext(ctx).Where("address = ?", address.String()).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", staking.ErrUserNotFound, address)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load user %s: %w", address, err)
	}
	return userFromModel(&m)
}

func (q *queries) ListUsers(ctx context.Context, pool solana.PublicKey) ([]*staking.User, error) {
	var ms []models.UserPosition
	err := q.db.WithContext(ctx).
		Where("pool_address = ?", pool.String()).
		Order("address ASC").
		Find(&ms).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list users of pool %s: %w", pool, err)
	}

	users := make([]*staking.User, 0, len(ms))
	for i := range ms {
		u, err := userFromModel(&ms[i])
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, nil
}

func (q *queries) GetOperation(ctx context.Context, id string) (*staking.Record, error) {
	var m models.Operation
	err := q.db.WithContext(ctx).Where("operation_id = ?", id).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", staking.ErrOperationNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load operation %s: %w", id, err)
	}
	return recordFromModel(&m)
}

func (q *queries) CreatePool(ctx context.Context, pool *staking.Pool) error {
	var count int64
	if err := q.db.WithContext(ctx).Model(&models.Pool{}).Where("address = ?", pool.Address.String()).Count(&count).Error; err != nil {
		return fmt.Errorf("failed to check pool %s: %w", pool.Address, err)
	}
	if count > 0 {
		return fmt.Errorf("%w: %s", staking.ErrPoolExists, pool.Address)
	}

	m := poolToModel(pool)
	if err := q.db.WithContext(ctx).Create(m).Error; err != nil {
		return fmt.Errorf("failed to create pool %s: %w", pool.Address, err)
	}
	return nil
}

func (q *queries) UpdatePool(ctx context.Context, pool *staking.Pool) error {
	m := poolToModel(pool)
	result := q.db.WithContext(ctx).Model(&models.Pool{}).
		Where("address = ?", m.Address).
		Updates(map[string]interface{}{
			"user_stake_count":        m.UserStakeCount,
			"reward_duration":         m.RewardDuration,
			"reward_duration_end":     m.RewardDurationEnd,
			"last_update_time":        m.LastUpdateTime,
			"reward_rate":             m.RewardRate,
			"reward_per_token_stored": m.RewardPerTokenStored,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to update pool %s: %w", pool.Address, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", staking.ErrPoolNotFound, pool.Address)
	}
	return nil
}

func (q *queries) CreateUser(ctx context.Context, user *staking.User) error {
	var count int64
	if err := q.db.WithContext(ctx).Model(&models.UserPosition{}).Where("address = ?", user.Address.String()).Count(&count).Error; err != nil {
		return fmt.Errorf("failed to check user %s: %w", user.Address, err)
	}
	if count > 0 {
		return fmt.Errorf("%w: %s", staking.ErrUserExists, user.Address)
	}

	if err := q.db.WithContext(ctx).Create(userToModel(user)).Error; err != nil {
		return fmt.Errorf("failed to create user %s: %w", user.Address, err)
	}
	return nil
}

func (q *queries) UpdateUser(ctx context.Context, user *staking.User) error {
	m := userToModel(user)
	result := q.db.WithContext(ctx).Model(&models.UserPosition{}).
		Where("address = ?", m.Address).
		Updates(map[string]interface{}{
			"balance_staked":            m.BalanceStaked,
			"reward_per_token_complete": m.RewardPerTokenComplete,
			"reward_per_token_pending":  m.RewardPerTokenPending,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to update user %s: %w", user.Address, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", staking.ErrUserNotFound, user.Address)
	}
	return nil
}

func (q *queries) RecordOperation(ctx context.Context, record *staking.Record) error {
	m := &models.Operation{
		OperationID: record.OperationID,
		Kind:        string(record.Kind),
		PoolAddress: record.Pool.String(),
		Actor:       record.Actor.String(),
		Amount:      strconv.FormatUint(record.Amount, 10),
		Paid:        strconv.FormatUint(record.Paid, 10),
		AppliedAt:   record.Timestamp,
	}
	if err := q.db.WithContext(ctx).Create(m).Error; err != nil {
		return fmt.Errorf("failed to record %s operation: %w", record.Kind, err)
	}
	return nil
}

func recordFromModel(m *models.Operation) (*staking.Record, error) {
	r := &staking.Record{
		OperationID: m.OperationID,
		Kind:        staking.OperationKind(m.Kind),
		Timestamp:   m.AppliedAt,
	}

	var err error
	if r.Pool, err = solana.PublicKeyFromBase58(m.PoolAddress); err != nil {
		return nil, fmt.Errorf("corrupt pool address in operation %s: %w", m.OperationID, err)
	}
	if r.Actor, err = solana.PublicKeyFromBase58(m.Actor); err != nil {
		return nil, fmt.Errorf("corrupt actor in operation %s: %w", m.OperationID, err)
	}
	if r.Amount, err = strconv.ParseUint(m.Amount, 10, 64); err != nil {
		return nil, fmt.Errorf("corrupt amount in operation %s: %w", m.OperationID, err)
	}
	if r.Paid, err = strconv.ParseUint(m.Paid, 10, 64); err != nil {
		return nil, fmt.Errorf("corrupt paid amount in operation %s: %w", m.OperationID, err)
	}
	return r, nil
}

func poolToModel(p *staking.Pool) *models.Pool {
	return &models.Pool{
		Address:              p.Address.String(),
		Authority:            p.Authority.String(),
		Signer:               p.Signer.String(),
		SignerNonce:          p.SignerNonce,
		StakingMint:          p.StakingMint.String(),
		StakingVault:         p.StakingVault.String(),
		RewardMint:           p.RewardMint.String(),
		RewardVault:          p.RewardVault.String(),
		UserStakeCount:       p.UserStakeCount,
		RewardDuration:       int64(p.Rewards.RewardDuration),
		RewardDurationEnd:    p.Rewards.RewardDurationEnd,
		LastUpdateTime:       p.Rewards.LastUpdateTime,
		RewardRate:           strconv.FormatUint(p.Rewards.RewardRate, 10),
		RewardPerTokenStored: p.Rewards.RewardPerTokenStored.Dec(),
	}
}

func poolFromModel(m *models.Pool) (*staking.Pool, error) {
	p := &staking.Pool{
		SignerNonce:    m.SignerNonce,
		UserStakeCount: m.UserStakeCount,
		Rewards: rewards.Pool{
			RewardDuration:    uint64(m.RewardDuration),
			RewardDurationEnd: m.RewardDurationEnd,
			LastUpdateTime:    m.LastUpdateTime,
		},
	}

	keys := []struct {
		dst *solana.PublicKey
		src string
	}{
		{&p.Address, m.Address},
		{&p.Authority, m.Authority},
		{&p.Signer, m.Signer},
		{&p.StakingMint, m.StakingMint},
		{&p.StakingVault, m.StakingVault},
		{&p.RewardMint, m.RewardMint},
		{&p.RewardVault, m.RewardVault},
	}
	for _, k := range keys {
		key, err := solana.PublicKeyFromBase58(k.src)
		if err != nil {
			return nil, fmt.Errorf("corrupt key %q in pool %s: %w", k.src, m.Address, err)
		}
		*k.dst = key
	}

	var err error
	if p.Rewards.RewardRate, err = strconv.ParseUint(m.RewardRate, 10, 64); err != nil {
		return nil, fmt.Errorf("corrupt reward rate in pool %s: %w", m.Address, err)
	}
	if err := p.Rewards.RewardPerTokenStored.SetFromDecimal(m.RewardPerTokenStored); err != nil {
		return nil, fmt.Errorf("corrupt accumulator in pool %s: %w", m.Address, err)
	}
	return p, nil
}

func userToModel(u *staking.User) *models.UserPosition {
	return &models.UserPosition{
		Address:                u.Address.String(),
		Nonce:                  u.Nonce,
		PoolAddress:            u.Pool.String(),
		Owner:                  u.Owner.String(),
		BalanceStaked:          strconv.FormatUint(u.Position.BalanceStaked, 10),
		RewardPerTokenComplete: u.Position.RewardPerTokenComplete.Dec(),
		RewardPerTokenPending:  strconv.FormatUint(u.Position.RewardPerTokenPending, 10),
	}
}

func userFromModel(m *models.UserPosition) (*staking.User, error) {
	u := &staking.User{Nonce: m.Nonce}

	var err error
	if u.Address, err = solana.PublicKeyFromBase58(m.Address); err != nil {
		return nil, fmt.Errorf("corrupt user address %q: %w", m.Address, err)
	}
	if u.Pool, err = solana.PublicKeyFromBase58(m.PoolAddress); err != nil {
		return nil, fmt.Errorf("corrupt pool address in user %s: %w", m.Address, err)
	}
	if u.Owner, err = solana.PublicKeyFromBase58(m.Owner); err != nil {
		return nil, fmt.Errorf("corrupt owner in user %s: %w", m.Address, err)
	}
	if u.Position.BalanceStaked, err = strconv.ParseUint(m.BalanceStaked, 10, 64); err != nil {
		return nil, fmt.Errorf("corrupt staked balance in user %s: %w", m.Address, err)
	}
	if u.Position.RewardPerTokenPending, err = strconv.ParseUint(m.RewardPerTokenPending, 10, 64); err != nil {
		return nil, fmt.Errorf("corrupt pending reward in user %s: %w", m.Address, err)
	}

	var complete uint256.Int
	if err := complete.SetFromDecimal(m.RewardPerTokenComplete); err != nil {
		return nil, fmt.Errorf("corrupt reward snapshot in user %s: %w", m.Address, err)
	}
	u.Position.RewardPerTokenComplete = complete
	return u, nil
}
