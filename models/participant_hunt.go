package models

import (
	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type HuntState string

const (
	HuntStateNotStarted HuntState = "not_started"
	HuntStateOnTask     HuntState = "on_task"
	HuntStateComplete   HuntState = "complete"
)

// ParticipantHunt is one participant's journey through one hunt.
// CurrentTaskID is set only while State is on_task.
type ParticipantHunt struct {
	ID            string    `gorm:"primaryKey;type:uuid" json:"id"`
	ParticipantID string    `gorm:"not null;uniqueIndex:ux_participant_hunt,priority:1" json:"participant_id"`
	HuntID        string    `gorm:"type:uuid;not null;uniqueIndex:ux_participant_hunt,priority:2" json:"hunt_id"`
	State         HuntState `gorm:"size:16;not null;default:not_started" json:"state"`
	CurrentTaskID *uint     `json:"current_task_id,omitempty"`

	// Version is bumped on every pointer move and guards it with compare-and-swap.
	Version int64 `gorm:"not null;default:0" json:"version"`

	Stats datatypes.JSON `json:"stats"`

	Hunt *Hunt `gorm:"foreignKey:HuntID" json:"-"`

	Timestamps
}

func (p *ParticipantHunt) BeforeCreate(tx *gorm.DB) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	return nil
}
