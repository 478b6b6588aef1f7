package models

import "time"

// Timestamps adds GORM auto-times. Hunt rows are never soft-deleted, so the
// unique indexes on them stay plain.
type Timestamps struct {
	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}
