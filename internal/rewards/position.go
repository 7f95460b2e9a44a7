package rewards

import (
	"fmt"

	"github.com/holiman/uint256"
)

// Settle credits the position with what it earned since its last snapshot.
// The pool must already have been advanced to the current time.
func (c *Calculator) Settle(p Pool, pos Position) (Position, error) {
	earned, err := c.Earned(p, pos)
	if err != nil {
		return pos, err
	}
	pos.RewardPerTokenPending = earned
	pos.RewardPerTokenComplete = p.RewardPerTokenStored
	return pos, nil
}

// Earned is balance * (stored - complete) / P + pending, truncated toward zero.
func (c *Calculator) Earned(p Pool, pos Position) (uint64, error) {
	delta, underflow := new(uint256.Int).SubOverflow(&p.RewardPerTokenStored, &pos.RewardPerTokenComplete)
	if underflow {
		return 0, fmt.Errorf("position snapshot ahead of pool accumulator: %w", ErrUnderflow)
	}

	accrued, err := mulDiv(uint256.NewInt(pos.BalanceStaked), delta, precision)
	if err != nil {
		return 0, fmt.Errorf("accrue position rewards: %w", err)
	}
	if !accrued.IsUint64() {
		return 0, fmt.Errorf("accrued rewards: %w", ErrOverflow)
	}

	total, err := addU64(accrued.Uint64(), pos.RewardPerTokenPending)
	if err != nil {
		return 0, fmt.Errorf("pending rewards: %w", err)
	}
	return total, nil
}
