package models

import (
	"encoding/json"
	"fmt"

	"github.com/gosimple/slug"
	"gorm.io/datatypes"
)

const defaultCategory = "general"

// CategoryStats is the per-category breakdown inside HuntStats.
type CategoryStats struct {
	Completed []uint `json:"completed"`
	Skipped   int    `json:"skipped"`
}

// HuntStats is the running tally kept on a participant-hunt.
type HuntStats struct {
	Points     int                      `json:"points"`
	Completed  int                      `json:"completed"`
	Skipped    int                      `json:"skipped"`
	Categories map[string]CategoryStats `json:"categories"`
}

func NewHuntStats() HuntStats {
	return HuntStats{Categories: map[string]CategoryStats{}}
}

// CategoryKey normalises a free-form category label into a stable map key.
func CategoryKey(category string) string {
	key := slug.Make(category)
	if key == "" {
		return defaultCategory
	}
	return key
}

func (s HuntStats) clone() HuntStats {
	out := s
	out.Categories = make(map[string]CategoryStats, len(s.Categories))
	for k, v := range s.Categories {
		v.Completed = append([]uint(nil), v.Completed...)
		out.Categories[k] = v
	}
	return out
}

// WithCompletion returns a copy of s with the task counted as completed.
func (s HuntStats) WithCompletion(task *Task) HuntStats {
	out := s.clone()
	out.Points += task.Points
	out.Completed++
	key := CategoryKey(task.Category)
	cat := out.Categories[key]
	cat.Completed = append(cat.Completed, task.ID)
	out.Categories[key] = cat
	return out
}

// WithSkip returns a copy of s with the task counted as skipped. No points.
func (s HuntStats) WithSkip(task *Task) HuntStats {
	out := s.clone()
	out.Skipped++
	key := CategoryKey(task.Category)
	cat := out.Categories[key]
	cat.Skipped++
	out.Categories[key] = cat
	return out
}

// DecodeHuntStats reads the JSON column. Empty or null yields the zero shape.
func DecodeHuntStats(raw datatypes.JSON) (HuntStats, error) {
	stats := NewHuntStats()
	if len(raw) == 0 || string(raw) == "null" {
		return stats, nil
	}
	if err := json.Unmarshal(raw, &stats); err != nil {
		return NewHuntStats(), fmt.Errorf("decode hunt stats: %w", err)
	}
	if stats.Categories == nil {
		stats.Categories = map[string]CategoryStats{}
	}
	return stats, nil
}

func (s HuntStats) Encode() (datatypes.JSON, error) {
	if s.Categories == nil {
		s.Categories = map[string]CategoryStats{}
	}
	b, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encode hunt stats: %w", err)
	}
	return datatypes.JSON(b), nil
}
