package models

import (
	"gorm.io/gorm"
)

// Pool is a staking pool account. Amounts and the reward accumulator are stored as
// decimal text so values above the signed 64-bit range round-trip on every driver.
type Pool struct {
	gorm.Model
	Address      string `gorm:"size:44;uniqueIndex;not null"`
	Authority    string `gorm:"size:44;index;not null"`
	Signer       string `gorm:"size:44;not null"`
	SignerNonce  uint8
	StakingMint  string `gorm:"size:44;index;not null"`
	StakingVault string `gorm:"size:44;not null"`
	RewardMint   string `gorm:"size:44;index;not null"`
	RewardVault  string `gorm:"size:44;not null"`

	UserStakeCount uint32 `gorm:"default:0"`

	// Reward schedule
	RewardDuration       int64  `gorm:"not null"`
	RewardDurationEnd    int64  `gorm:"default:0"`
	LastUpdateTime       int64  `gorm:"default:0"`
	RewardRate           string `gorm:"size:20;not null;default:'0'"`
	RewardPerTokenStored string `gorm:"size:40;not null;default:'0'"`
}
