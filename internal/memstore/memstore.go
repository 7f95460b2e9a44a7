// Package memstore is an in-memory staking.Store for tests and single-process runs.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/gagliardetto/solana-go"

	"github.com/wnt/stakepool/internal/staking"
)

// Store keeps accounts in maps. Transactions are serialized and stage their writes
// until the callback returns nil.
type Store struct {
	txMu sync.Mutex

	mu      sync.RWMutex
	pools   map[solana.PublicKey]*staking.Pool
	users   map[solana.PublicKey]*staking.User
	records []staking.Record
	// journal position of each record by operation ID
	byID map[string]int
}

// New creates an empty store.
func New() *Store {
	return &Store{
		pools: make(map[solana.PublicKey]*staking.Pool),
		users: make(map[solana.PublicKey]*staking.User),
		byID:  make(map[string]int),
	}
}

// GetPool returns a copy of the pool. Returns ErrPoolNotFound if it does not exist.
func (s *Store) GetPool(_ context.Context, address solana.PublicKey) (*staking.Pool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.pools[address]
	if !ok {
		return nil, fmt.Errorf("%w: %s", staking.ErrPoolNotFound, address)
	}
	poolCopy := *p
	return &poolCopy, nil
}

// GetUser returns a copy of the user. Returns ErrUserNotFound if it does not exist.
func (s *Store) GetUser(_ context.Context, address solana.PublicKey) (*staking.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[address]
	if !ok {
		return nil, fmt.Errorf("%w: %s", staking.ErrUserNotFound, address)
	}
	userCopy := *u
	return &userCopy, nil
}

// ListUsers returns copies of every user in pool, ordered by address.
func (s *Store) ListUsers(_ context.Context, pool solana.PublicKey) ([]*staking.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*staking.User
	for _, u := range s.users {
		if u.Pool.Equals(pool) {
			userCopy := *u
			result = append(result, &userCopy)
		}
	}
	sortUsers(result)
	return result, nil
}

// GetOperation returns the journal entry of id. Returns ErrOperationNotFound if it was never committed.
func (s *Store) GetOperation(_ context.Context, id string) (*staking.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	i, ok := s.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", staking.ErrOperationNotFound, id)
	}
	record := s.records[i]
	return &record, nil
}

// Records returns the operation journal in commit order.
func (s *Store) Records() []staking.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]staking.Record(nil), s.records...)
}

// InTx runs fn against a staged view of the store and applies the staged writes
// only if fn returns nil.
func (s *Store) InTx(_ context.Context, fn func(tx staking.Tx) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	tx := &tx{
		store: s,
		pools: make(map[solana.PublicKey]*staking.Pool),
		users: make(map[solana.PublicKey]*staking.User),
	}
	if err := fn(tx); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for k, p := range tx.pools {
		s.pools[k] = p
	}
	for k, u := range tx.users {
		s.users[k] = u
	}
	for _, r := range tx.records {
		s.byID[r.OperationID] = len(s.records)
		s.records = append(s.records, r)
	}
	return nil
}

type tx struct {
	store   *Store
	pools   map[solana.PublicKey]*staking.Pool
	users   map[solana.PublicKey]*staking.User
	records []staking.Record
}

func (t *tx) GetPool(ctx context.Context, address solana.PublicKey) (*staking.Pool, error) {
	if p, ok := t.pools[address]; ok {
		poolCopy := *p
		return &poolCopy, nil
	}
	return t.store.GetPool(ctx, address)
}

func (t *tx) GetUser(ctx context.Context, address solana.PublicKey) (*staking.User, error) {
	if u, ok := t.users[address]; ok {
		userCopy := *u
		return &userCopy, nil
	}
	return t.store.GetUser(ctx, address)
}

func (t *tx) ListUsers(ctx context.Context, pool solana.PublicKey) ([]*staking.User, error) {
	committed, err := t.store.ListUsers(ctx, pool)
	if err != nil {
		return nil, err
	}

	merged := make(map[solana.PublicKey]*staking.User, len(committed))
	for _, u := range committed {
		merged[u.Address] = u
	}
	for k, u := range t.users {
		if u.Pool.Equals(pool) {
			userCopy := *u
			merged[k] = &userCopy
		}
	}

	result := make([]*staking.User, 0, len(merged))
	for _, u := range merged {
		result = append(result, u)
	}
	sortUsers(result)
	return result, nil
}

func (t *tx) GetOperation(ctx context.Context, id string) (*staking.Record, error) {
	for i := range t.records {
		if t.records[i].OperationID == id {
			record := t.records[i]
			return &record, nil
		}
	}
	return t.store.GetOperation(ctx, id)
}

func (t *tx) CreatePool(ctx context.Context, pool *staking.Pool) error {
	if _, err := t.GetPool(ctx, pool.Address); err == nil {
		return fmt.Errorf("%w: %s", staking.ErrPoolExists, pool.Address)
	}
	poolCopy := *pool
	t.pools[pool.Address] = &poolCopy
	return nil
}

func (t *tx) UpdatePool(ctx context.Context, pool *staking.Pool) error {
	if _, err := t.GetPool(ctx, pool.Address); err != nil {
		return err
	}
	poolCopy := *pool
	t.pools[pool.Address] = &poolCopy
	return nil
}

func (t *tx) CreateUser(ctx context.Context, user *staking.User) error {
	if _, err := t.GetUser(ctx, user.Address); err == nil {
		return fmt.Errorf("%w: %s", staking.ErrUserExists, user.Address)
	}
	userCopy := *user
	t.users[user.Address] = &userCopy
	return nil
}

func (t *tx) UpdateUser(ctx context.Context, user *staking.User) error {
	if _, err := t.GetUser(ctx, user.Address); err != nil {
		return err
	}
	userCopy := *user
	t.users[user.Address] = &userCopy
	return nil
}

func (t *tx) RecordOperation(ctx context.Context, record *staking.Record) error {
	if _, err := t.GetOperation(ctx, record.OperationID); err == nil {
		return fmt.Errorf("%w: %s", staking.ErrAlreadyApplied, record.OperationID)
	}
	t.records = append(t.records, *record)
	return nil
}

func sortUsers(users []*staking.User) {
	sort.Slice(users, func(i, j int) bool {
		return users[i].Address.String() < users[j].Address.String()
	})
}
