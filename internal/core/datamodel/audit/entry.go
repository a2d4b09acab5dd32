package audit

import (
	"time"

	"gorm.io/datatypes"
)

type Entry struct {
	ID           int64          `json:"id" gorm:"primaryKey"`
	Actor        string         `json:"actor" gorm:"column:actor;not null"`
	Action       string         `json:"action" gorm:"column:action;not null;index"`
	ResourceType string         `json:"resource_type" gorm:"column:resource_type;not null"`
	ResourceID   string         `json:"resource_id" gorm:"column:resource_id;not null;index"`
	FromStatus   *string        `json:"from_status,omitempty" gorm:"column:from_status"`
	ToStatus     *string        `json:"to_status,omitempty" gorm:"column:to_status"`
	Amount       *int64         `json:"amount,omitempty" gorm:"column:amount"`
	Metadata     datatypes.JSON `json:"metadata,omitempty" gorm:"column:metadata"`
	CreatedAt    time.Time      `json:"created_at" gorm:"column:created_at"`
}

func (Entry) TableName() string {
	return "audit_entries"
}
