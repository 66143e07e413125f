package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// IssuanceLog is the audit row written after every batch run.
type IssuanceLog struct {
	ID        uint           `json:"id" gorm:"primaryKey"`
	BatchID   uuid.UUID      `json:"batch_id" gorm:"type:varchar(36);uniqueIndex;not null"`
	Source    string         `json:"source" gorm:"size:64"` // api, import, inbox, cli
	Total     int            `json:"total"`
	Succeeded int            `json:"succeeded"`
	Failed    int            `json:"failed"`
	Report    datatypes.JSON `json:"report"`
	CreatedAt time.Time      `json:"created_at"`
}

func (IssuanceLog) TableName() string { return "issuance_logs" }
