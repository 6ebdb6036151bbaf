package models

import (
	"time"

	"gorm.io/datatypes"
)

// PendingWrite is a write deferred because the backend reported quota
// exhaustion. The maintenance job replays it later.
type PendingWrite struct {
	BaseModel

	Collection string         `gorm:"type:varchar(64);not null;index" json:"collection"`
	Operation  string         `gorm:"type:varchar(20);not null" json:"operation"`
	DocID      string         `gorm:"type:varchar(64)" json:"doc_id,omitempty"`
	OwnerID    string         `gorm:"type:varchar(128);index" json:"owner_id,omitempty"`
	Payload    datatypes.JSON `json:"payload,omitempty"`
	QueuedAt   time.Time      `gorm:"index" json:"queued_at"`
	Attempts   int            `gorm:"not null;default:0" json:"attempts"`
	LastError  string         `gorm:"type:text" json:"last_error,omitempty"`
}
