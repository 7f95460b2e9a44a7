// Package rewards implements the reward accounting arithmetic of a staking pool.
//
// A pool integrates its emission rate over time into a cumulative reward-per-token
// accumulator. Positions snapshot that accumulator whenever they are settled, and the
// difference between two snapshots, multiplied by the staked balance, is what the
// position earned in between. All functions take values and return updated copies,
// so a caller only commits state once every step of an operation has succeeded.
package rewards

import (
	"github.com/holiman/uint256"
)

// State describes whether a pool is currently emitting rewards.
type State string

const (
	StateIdle   State = "idle"
	StateFunded State = "funded"
)

// Pool is the reward schedule and accumulator of a staking pool.
type Pool struct {
	RewardDuration       uint64      // seconds in one funding window
	RewardDurationEnd    int64       // unix seconds at which emission stops
	LastUpdateTime       int64       // unix seconds the accumulator is integrated through
	RewardRate           uint64      // reward units emitted per year under the current schedule
	RewardPerTokenStored uint256.Int // cumulative reward per staked unit, scaled by Precision
}

// NewPool returns an idle pool with the given window length.
func NewPool(rewardDuration uint64) Pool {
	return Pool{RewardDuration: rewardDuration}
}

// State reports whether the pool emits rewards at now.
func (p Pool) State(now int64) State {
	if now < p.RewardDurationEnd {
		return StateFunded
	}
	return StateIdle
}

// LastTimeRewardApplicable is min(now, RewardDurationEnd).
func (p Pool) LastTimeRewardApplicable(now int64) int64 {
	if now < p.RewardDurationEnd {
		return now
	}
	return p.RewardDurationEnd
}

// Position is one participant's stake and settlement snapshot in a pool.
type Position struct {
	BalanceStaked          uint64
	RewardPerTokenComplete uint256.Int
	RewardPerTokenPending  uint64
}

// Calculator holds the constants of the reward arithmetic.
type Calculator struct {
	secondsPerYear uint64
}

// NewCalculator returns a calculator annualising over secondsPerYear.
// A zero value selects SecondsPerYear.
func NewCalculator(secondsPerYear uint64) *Calculator {
	if secondsPerYear == 0 {
		secondsPerYear = SecondsPerYear
	}
	return &Calculator{secondsPerYear: secondsPerYear}
}

// SecondsPerYear returns the annualisation base in use.
func (c *Calculator) SecondsPerYear() uint64 {
	return c.secondsPerYear
}
