package rewards

import (
	"fmt"
	"math"

	"github.com/holiman/uint256"
)

// AnnualMultiplier is secondsPerYear / rewardDuration, truncated.
func (c *Calculator) AnnualMultiplier(rewardDuration uint64) (uint64, error) {
	if rewardDuration == 0 {
		return 0, fmt.Errorf("reward duration: %w", ErrDivideByZero)
	}
	return c.secondsPerYear / rewardDuration, nil
}

// FundingRate returns the emission rate after depositing amount at now.
// Rewards still owed under an unfinished schedule are rolled into the new rate.
func (c *Calculator) FundingRate(p Pool, amount uint64, now int64) (uint64, error) {
	multiplier, err := c.AnnualMultiplier(p.RewardDuration)
	if err != nil {
		return 0, err
	}

	budget := amount
	if now < p.RewardDurationEnd {
		leftover, err := c.Leftover(p, now)
		if err != nil {
			return 0, err
		}
		if budget, err = addU64(amount, leftover); err != nil {
			return 0, fmt.Errorf("funding plus leftover: %w", err)
		}
	}

	rate, err := mulU64(budget, multiplier)
	if err != nil {
		return 0, fmt.Errorf("reward rate: %w", err)
	}
	return rate, nil
}

// Leftover is the reward amount still to be emitted under the current schedule at now.
func (c *Calculator) Leftover(p Pool, now int64) (uint64, error) {
	if now >= p.RewardDurationEnd {
		return 0, nil
	}
	remaining := uint64(p.RewardDurationEnd - now)
	leftover, err := mulDiv(uint256.NewInt(remaining), uint256.NewInt(p.RewardRate), uint256.NewInt(c.secondsPerYear))
	if err != nil {
		return 0, fmt.Errorf("leftover rewards: %w", err)
	}
	if !leftover.IsUint64() {
		return 0, fmt.Errorf("leftover rewards: %w", ErrOverflow)
	}
	return leftover.Uint64(), nil
}

// Fund applies a deposit to an already advanced pool: new rate and a fresh full window from now.
func (c *Calculator) Fund(p Pool, amount uint64, now int64) (Pool, error) {
	rate, err := c.FundingRate(p, amount, now)
	if err != nil {
		return p, err
	}
	if p.RewardDuration > math.MaxInt64 || now > math.MaxInt64-int64(p.RewardDuration) {
		return p, fmt.Errorf("reward duration end: %w", ErrOverflow)
	}
	if now < p.LastUpdateTime {
		return p, fmt.Errorf("%w: last update %d, now %d", ErrNegativeElapsed, p.LastUpdateTime, now)
	}

	p.RewardRate = rate
	p.LastUpdateTime = now
	p.RewardDurationEnd = now + int64(p.RewardDuration)
	return p, nil
}
