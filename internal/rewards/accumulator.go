package rewards

import (
	"fmt"

	"github.com/holiman/uint256"
)

// Advance integrates the pool's emission up to min(now, RewardDurationEnd).
//
// totalStaked must be the staking vault balance before the operation mutates it.
// With nothing staked the accumulator is left alone and only the time cursor moves.
func (c *Calculator) Advance(p Pool, totalStaked uint64, now int64) (Pool, error) {
	effective := p.LastTimeRewardApplicable(now)
	if effective < p.LastUpdateTime {
		return p, fmt.Errorf("%w: last update %d, now %d", ErrNegativeElapsed, p.LastUpdateTime, effective)
	}

	if totalStaked > 0 {
		increment, err := c.rewardPerTokenIncrement(p, uint64(effective-p.LastUpdateTime), totalStaked)
		if err != nil {
			return p, err
		}
		stored, overflow := new(uint256.Int).AddOverflow(&p.RewardPerTokenStored, increment)
		if overflow || stored.Gt(maxAccumulator) {
			return p, fmt.Errorf("reward per token accumulator: %w", ErrOverflow)
		}
		p.RewardPerTokenStored = *stored
	}

	p.LastUpdateTime = effective
	return p, nil
}

// RewardPerToken returns the accumulator value Advance would produce, without the time cursor.
func (c *Calculator) RewardPerToken(p Pool, totalStaked uint64, now int64) (*uint256.Int, error) {
	advanced, err := c.Advance(p, totalStaked, now)
	if err != nil {
		return nil, err
	}
	return advanced.RewardPerTokenStored.Clone(), nil
}

// rewardPerTokenIncrement is elapsed * rate * P / secondsPerYear / totalStaked.
func (c *Calculator) rewardPerTokenIncrement(p Pool, elapsed, totalStaked uint64) (*uint256.Int, error) {
	if elapsed == 0 || p.RewardRate == 0 {
		return new(uint256.Int), nil
	}

	// elapsed*rate fits in 128 bits, times P in 192: well inside the 512-bit mulDiv product.
	emitted := new(uint256.Int).Mul(uint256.NewInt(elapsed), uint256.NewInt(p.RewardRate))
	scaled, err := mulDiv(emitted, precision, uint256.NewInt(c.secondsPerYear))
	if err != nil {
		return nil, fmt.Errorf("scale emitted rewards: %w", err)
	}
	return new(uint256.Int).Div(scaled, uint256.NewInt(totalStaked)), nil
}
