package staking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
)

// OperationKind names a pool operation.
type OperationKind string

const (
	KindInitializePool OperationKind = "initialize_pool"
	KindCreateUser     OperationKind = "create_user"
	KindStake          OperationKind = "stake"
	KindUnstake        OperationKind = "unstake"
	KindFund           OperationKind = "fund"
	KindClaim          OperationKind = "claim"
)

// Operation is a serialized request to change pool state. Workers pull these from the
// queue and hand them to Service.Apply.
type Operation struct {
	ID   string           `json:"id"`
	Kind OperationKind    `json:"kind"`
	Pool solana.PublicKey `json:"pool"`
	// Actor is the position owner, or the pool authority when funding.
	Actor solana.PublicKey `json:"actor"`
	// Account is the token account tokens come from (stake, fund) or go to (unstake, claim).
	Account    solana.PublicKey      `json:"account"`
	Amount     uint64                `json:"amount,omitempty"`
	Init       *InitializePoolParams `json:"init,omitempty"`
	EnqueuedAt time.Time             `json:"enqueued_at"`
}

// Validate checks that op carries the fields its kind needs.
func (op *Operation) Validate() error {
	if op.ID == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidOperation)
	}

	switch op.Kind {
	case KindInitializePool:
		if op.Init == nil {
			return fmt.Errorf("%w: %s requires init parameters", ErrInvalidOperation, op.Kind)
		}
		return nil
	case KindCreateUser:
		return op.requireKeys(op.Pool, op.Actor)
	case KindStake, KindUnstake, KindFund, KindClaim:
		return op.requireKeys(op.Pool, op.Actor, op.Account)
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidOperation, op.Kind)
	}
}

func (op *Operation) requireKeys(keys ...solana.PublicKey) error {
	for _, k := range keys {
		if k.IsZero() {
			return fmt.Errorf("%w: %s requires pool, actor and token account", ErrInvalidOperation, op.Kind)
		}
	}
	return nil
}

// Result is the outcome of an applied operation.
type Result struct {
	OperationID string        `json:"operation_id"`
	Kind        OperationKind `json:"kind"`
	Status      string        `json:"status"` // success, rejected, failed
	Error       string        `json:"error,omitempty"`
	// Pool is the pool address, set for initialize_pool where the caller may not know it.
	Pool solana.PublicKey `json:"pool"`
	// Paid is the reward actually transferred by a claim.
	Paid        uint64    `json:"paid,omitempty"`
	CompletedAt time.Time `json:"completed_at"`
}

// Apply dispatches op to the matching service method. An operation whose ID is
// already in the journal is reported with its recorded outcome and not applied again.
func (s *Service) Apply(ctx context.Context, op *Operation) (*Result, error) {
	if err := op.Validate(); err != nil {
		return nil, err
	}
	ctx = WithOperationID(ctx, op.ID)

	result := &Result{OperationID: op.ID, Kind: op.Kind, Pool: op.Pool}

	var err error
	switch op.Kind {
	case KindInitializePool:
		var pool *Pool
		if pool, err = s.InitializePool(ctx, *op.Init); err == nil {
			result.Pool = pool.Address
		}
	case KindCreateUser:
		_, err = s.CreateUser(ctx, op.Pool, op.Actor)
	case KindStake:
		err = s.Stake(ctx, op.Pool, op.Actor, op.Account, op.Amount)
	case KindUnstake:
		err = s.Unstake(ctx, op.Pool, op.Actor, op.Account, op.Amount)
	case KindFund:
		err = s.Fund(ctx, op.Pool, op.Actor, op.Account, op.Amount)
	case KindClaim:
		result.Paid, err = s.ClaimReward(ctx, op.Pool, op.Actor, op.Account)
	}

	if errors.Is(err, ErrAlreadyApplied) {
		err = s.replayed(ctx, op.ID, result)
	}

	result.CompletedAt = s.clock.Now().UTC()
	switch {
	case err == nil:
		result.Status = "success"
	case IsValidation(err):
		result.Status = "rejected"
		result.Error = err.Error()
	default:
		result.Status = "failed"
		result.Error = err.Error()
	}
	return result, err
}

// replayed fills result from the journal entry of an operation applied by an earlier delivery.
func (s *Service) replayed(ctx context.Context, id string, result *Result) error {
	record, err := s.store.GetOperation(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to load journal entry of %s: %w", id, err)
	}
	result.Pool = record.Pool
	if record.Kind == KindClaim {
		result.Paid = record.Paid
	}
	return nil
}

type operationIDKey struct{}

// WithOperationID attaches the queued operation ID to ctx so it lands in the journal.
func WithOperationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, operationIDKey{}, id)
}

// OperationIDFromContext returns the operation ID attached to ctx, if any.
func OperationIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(operationIDKey{}).(string)
	return id
}
