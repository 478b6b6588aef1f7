package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// HuntDateLayout is the calendar-day key a hunt is stored under.
const HuntDateLayout = "2006-01-02"

// Hunt is one day's treasure hunt. Its task list is immutable once loaded.
type Hunt struct {
	ID         string `gorm:"primaryKey;type:uuid" json:"id"`
	Date       string `gorm:"size:10;uniqueIndex;not null" json:"date"` // YYYY-MM-DD in the display timezone
	Title      string `gorm:"not null" json:"title"`
	TotalTasks int    `gorm:"not null;default:0" json:"total_tasks"`

	Tasks []Task `gorm:"foreignKey:HuntID;constraint:OnDelete:CASCADE" json:"tasks,omitempty"`

	Timestamps
}

func (h *Hunt) BeforeCreate(tx *gorm.DB) error {
	if h.ID == "" {
		h.ID = uuid.NewString()
	}
	return nil
}

// Task is a single photo challenge. Catalog order is ascending ID.
type Task struct {
	ID               uint   `gorm:"primaryKey;autoIncrement" json:"id"`
	HuntID           string `gorm:"type:uuid;index;not null" json:"hunt_id"`
	Title            string `gorm:"not null" json:"title"`
	Description      string `json:"description"`
	ValidationPrompt string `gorm:"type:text;not null" json:"validation_prompt"`
	Hint             string `json:"hint"`
	Points           int    `gorm:"not null;default:0" json:"points"`
	Category         string `gorm:"index" json:"category"`

	// Optional validity window, stored in UTC.
	StartsAt *time.Time `json:"starts_at,omitempty"`
	EndsAt   *time.Time `json:"ends_at,omitempty"`

	Timestamps
}

// InWindow reports whether now falls inside the task's validity window.
// Both bounds are inclusive and either may be absent.
func (t *Task) InWindow(now time.Time) bool {
	if t.StartsAt != nil && now.Before(*t.StartsAt) {
		return false
	}
	if t.EndsAt != nil && now.After(*t.EndsAt) {
		return false
	}
	return true
}
