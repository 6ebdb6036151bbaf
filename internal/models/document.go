package models

import (
	"time"

	"gorm.io/datatypes"
)

// Document stores one schemaless record of a collection. Reserved fields
// live in columns; everything else is kept in Data as JSON.
type Document struct {
	Collection string         `gorm:"primaryKey;type:varchar(64)" json:"collection"`
	ID         string         `gorm:"primaryKey;type:varchar(64)" json:"id"`
	OwnerID    string         `gorm:"type:varchar(128);index" json:"owner_id,omitempty"`
	Data       datatypes.JSON `json:"data"`
	CreatedAt  time.Time      `gorm:"autoCreateTime:false;index" json:"created_at"`
	UpdatedAt  time.Time      `gorm:"autoUpdateTime:false" json:"updated_at"`
}
