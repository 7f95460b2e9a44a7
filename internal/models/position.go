package models

import (
	"gorm.io/gorm"
)

// UserPosition is one owner's stake in a pool
type UserPosition struct {
	gorm.Model
	Address     string `gorm:"size:44;uniqueIndex;not null"`
	Nonce       uint8
	PoolAddress string `gorm:"size:44;index;not null"`
	Owner       string `gorm:"size:44;index;not null"`

	BalanceStaked          string `gorm:"size:20;not null;default:'0'"`
	RewardPerTokenComplete string `gorm:"size:40;not null;default:'0'"`
	RewardPerTokenPending  string `gorm:"size:20;not null;default:'0'"`
}
