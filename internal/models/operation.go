package models

import (
	"gorm.io/gorm"
)

// Operation is a journal entry for a committed pool operation
type Operation struct {
	gorm.Model
	OperationID string `gorm:"size:36;uniqueIndex;not null"` // queue operation ID, or generated for direct calls
	Kind        string `gorm:"size:20;index;not null"`
	PoolAddress string `gorm:"size:44;index;not null"`
	Actor       string `gorm:"size:44;index;not null"`
	Amount      string `gorm:"size:20;not null;default:'0'"`
	Paid        string `gorm:"size:20;not null;default:'0'"`
	AppliedAt   int64  `gorm:"index"` // unix seconds
}
