package webhook

import (
	"time"

	"gorm.io/datatypes"
)

type State string

const (
	StateProcessing State = "PROCESSING"
	StateApplied    State = "APPLIED"
	StateRejected   State = "REJECTED"
	StateFailed     State = "FAILED"
)

// Terminal states are never re-processed.
func (s State) Terminal() bool {
	return s == StateApplied || s == StateRejected
}

type Event struct {
	ID          int64          `json:"id" gorm:"primaryKey"`
	Gateway     string         `json:"gateway" gorm:"column:gateway;not null"`
	EventKey    string         `json:"event_key" gorm:"column:event_key;not null;uniqueIndex"`
	EventType   string         `json:"event_type" gorm:"column:event_type;not null"`
	Reference   string         `json:"reference" gorm:"column:reference;index"`
	Signature   string         `json:"-" gorm:"column:signature"`
	Payload     datatypes.JSON `json:"payload" gorm:"column:payload"`
	State       State          `json:"state" gorm:"column:state;not null;index"`
	Attempts    int            `json:"attempts" gorm:"column:attempts;not null;default:1"`
	LastError   *string        `json:"last_error,omitempty" gorm:"column:last_error"`
	ProcessedAt *time.Time     `json:"processed_at,omitempty" gorm:"column:processed_at"`
	CreatedAt   time.Time      `json:"created_at" gorm:"column:created_at"`
	UpdatedAt   time.Time      `json:"updated_at" gorm:"column:updated_at"`
}

func (Event) TableName() string {
	return "webhook_events"
}
