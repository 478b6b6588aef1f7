package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusSkipped   TaskStatus = "skipped"
)

// TaskProgress is the per-task outcome for a participant-hunt.
type TaskProgress struct {
	ID                string     `gorm:"primaryKey;type:uuid" json:"id"`
	ParticipantHuntID string     `gorm:"type:uuid;not null;uniqueIndex:ux_task_progress,priority:1" json:"participant_hunt_id"`
	TaskID            uint       `gorm:"not null;uniqueIndex:ux_task_progress,priority:2" json:"task_id"`
	Status            TaskStatus `gorm:"size:16;not null;default:pending" json:"status"`
	PointsEarned      int        `gorm:"not null;default:0" json:"points_earned"`
	CompletedAt       *time.Time `json:"completed_at,omitempty"`
	ProofURL          string     `json:"proof_url,omitempty"` // archived copy of the accepted photo

	Timestamps
}

func (p *TaskProgress) BeforeCreate(tx *gorm.DB) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	return nil
}

// Resolved reports whether the task no longer counts as remaining.
func (p *TaskProgress) Resolved() bool {
	return p.Status == TaskStatusCompleted || p.Status == TaskStatusSkipped
}
