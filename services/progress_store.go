package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"hunt-concierge/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ProgressStore owns participant-hunt rows, task progress and stats.
// Every helper that can run inside a transaction takes the handle to use.
type ProgressStore struct {
	DB  *gorm.DB
	now func() time.Time
}

func NewProgressStore(db *gorm.DB, now func() time.Time) *ProgressStore {
	if now == nil {
		now = time.Now
	}
	return &ProgressStore{DB: db, now: now}
}

// GetCurrentTask resolves the participant's current task for the hunt on
// date, creating the participant-hunt on first touch and pointing it at the
// first task. A nil task means the participant has finished the hunt.
func (s *ProgressStore) GetCurrentTask(ctx context.Context, participantID, date string) (*models.ParticipantHunt, *models.Task, error) {
	var (
		ph   *models.ParticipantHunt
		task *models.Task
	)
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		hunt, err := huntByDate(tx, date)
		if err != nil {
			return err
		}
		ph, err = s.ensureParticipantHunt(tx, participantID, hunt.ID)
		if err != nil {
			return err
		}
		if ph.State == models.HuntStateNotStarted {
			err = s.InitializeNext(tx, ph, nil)
			if errors.Is(err, ErrConcurrentUpdate) {
				// someone else initialised it first; take their result
				err = tx.First(ph, "id = ?", ph.ID).Error
			}
			if err != nil {
				return err
			}
		}
		task, err = currentTask(tx, ph)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return ph, task, nil
}

// ensureParticipantHunt creates the row on first touch and is idempotent.
func (s *ProgressStore) ensureParticipantHunt(tx *gorm.DB, participantID, huntID string) (*models.ParticipantHunt, error) {
	stats, err := models.NewHuntStats().Encode()
	if err != nil {
		return nil, err
	}
	row := models.ParticipantHunt{
		ID:            uuid.NewString(),
		ParticipantID: participantID,
		HuntID:        huntID,
		State:         models.HuntStateNotStarted,
		Stats:         stats,
	}
	err = tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "participant_id"}, {Name: "hunt_id"}},
		DoNothing: true,
	}).Create(&row).Error
	if err != nil {
		return nil, fmt.Errorf("create participant hunt: %w", err)
	}

	var ph models.ParticipantHunt
	if err := tx.Where("participant_id = ? AND hunt_id = ?", participantID, huntID).First(&ph).Error; err != nil {
		return nil, err
	}
	return &ph, nil
}

// InitializeNext moves ph to the first task with id greater than afterTaskID
// (or the first task when afterTaskID is nil), or to complete when none
// remain. The write only lands if nobody moved the pointer since ph was read.
func (s *ProgressStore) InitializeNext(tx *gorm.DB, ph *models.ParticipantHunt, afterTaskID *uint) error {
	return s.advance(tx, ph, afterTaskID, nil)
}

func (s *ProgressStore) advance(tx *gorm.DB, ph *models.ParticipantHunt, afterTaskID *uint, extra map[string]any) error {
	next, err := nextTask(tx, ph.HuntID, afterTaskID)
	if err != nil {
		return err
	}

	updates := map[string]any{"version": ph.Version + 1}
	for k, v := range extra {
		updates[k] = v
	}
	state := models.HuntStateComplete
	var pointer *uint
	if next != nil {
		state = models.HuntStateOnTask
		id := next.ID
		pointer = &id
	}
	updates["state"] = state
	updates["current_task_id"] = pointer

	res := tx.Model(&models.ParticipantHunt{}).
		Where("id = ? AND version = ?", ph.ID, ph.Version).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrConcurrentUpdate
	}

	ph.Version++
	ph.State = state
	ph.CurrentTaskID = pointer
	return nil
}

func currentTask(db *gorm.DB, ph *models.ParticipantHunt) (*models.Task, error) {
	if ph.State != models.HuntStateOnTask || ph.CurrentTaskID == nil {
		return nil, nil
	}
	var task models.Task
	if err := db.First(&task, *ph.CurrentTaskID).Error; err != nil {
		return nil, fmt.Errorf("load current task %d: %w", *ph.CurrentTaskID, err)
	}
	return &task, nil
}

// Submit records task as completed with its points and advances the pointer.
func (s *ProgressStore) Submit(ctx context.Context, ph *models.ParticipantHunt, task *models.Task) (*models.ParticipantHunt, error) {
	return s.resolve(ctx, ph.ID, task, models.TaskStatusCompleted)
}

// Skip records task as skipped with zero points and advances the pointer.
func (s *ProgressStore) Skip(ctx context.Context, ph *models.ParticipantHunt, task *models.Task) (*models.ParticipantHunt, error) {
	return s.resolve(ctx, ph.ID, task, models.TaskStatusSkipped)
}

func (s *ProgressStore) resolve(ctx context.Context, phID string, task *models.Task, status models.TaskStatus) (*models.ParticipantHunt, error) {
	var out models.ParticipantHunt
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var ph models.ParticipantHunt
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", phID).First(&ph).Error; err != nil {
			return err
		}
		if ph.State != models.HuntStateOnTask || ph.CurrentTaskID == nil || *ph.CurrentTaskID != task.ID {
			return ErrTaskNotCurrent
		}

		stats, err := models.DecodeHuntStats(ph.Stats)
		if err != nil {
			return err
		}
		points := 0
		if status == models.TaskStatusCompleted {
			points = task.Points
			stats = stats.WithCompletion(task)
		} else {
			stats = stats.WithSkip(task)
		}

		now := s.now().UTC()
		progress := models.TaskProgress{
			ID:                uuid.NewString(),
			ParticipantHuntID: ph.ID,
			TaskID:            task.ID,
			Status:            status,
			PointsEarned:      points,
			CompletedAt:       &now,
		}
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "participant_hunt_id"}, {Name: "task_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"status", "points_earned", "completed_at", "updated_at"}),
		}).Create(&progress).Error; err != nil {
			return fmt.Errorf("upsert task progress: %w", err)
		}

		encoded, err := stats.Encode()
		if err != nil {
			return err
		}
		after := task.ID
		if err := s.advance(tx, &ph, &after, map[string]any{"stats": encoded}); err != nil {
			return err
		}
		ph.Stats = encoded
		out = ph
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrTaskNotCurrent) || errors.Is(err, ErrConcurrentUpdate) {
			return nil, err
		}
		return nil, fmt.Errorf("record %s for task %d: %w", status, task.ID, err)
	}
	return &out, nil
}

// CurrentTaskOf loads the task ph points at, or nil when it is complete.
func (s *ProgressStore) CurrentTaskOf(ctx context.Context, ph *models.ParticipantHunt) (*models.Task, error) {
	return currentTask(s.DB.WithContext(ctx), ph)
}

// Remaining counts the hunt's tasks that are neither completed nor skipped.
func (s *ProgressStore) Remaining(ctx context.Context, ph *models.ParticipantHunt) (int, error) {
	db := s.DB.WithContext(ctx)
	var hunt models.Hunt
	if err := db.First(&hunt, "id = ?", ph.HuntID).Error; err != nil {
		return 0, err
	}
	resolved, err := resolvedCount(db, ph.ID)
	if err != nil {
		return 0, err
	}
	remaining := hunt.TotalTasks - int(resolved)
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}

func resolvedCount(db *gorm.DB, phID string) (int64, error) {
	var n int64
	err := db.Model(&models.TaskProgress{}).
		Where("participant_hunt_id = ? AND status IN ?", phID,
			[]models.TaskStatus{models.TaskStatusCompleted, models.TaskStatusSkipped}).
		Count(&n).Error
	return n, err
}

// AllTasksDone reports whether the participant resolved every task of the
// hunt on date. Unknown hunts and untouched participants are not done.
func (s *ProgressStore) AllTasksDone(ctx context.Context, participantID, date string) (bool, error) {
	db := s.DB.WithContext(ctx)
	hunt, ph, err := s.lookup(db, participantID, date)
	if err != nil || ph == nil {
		return false, err
	}
	n, err := resolvedCount(db, ph.ID)
	if err != nil {
		return false, err
	}
	return int(n) >= hunt.TotalTasks, nil
}

// Stats returns the participant's tally, or the zero shape when they have
// not started the hunt on date.
func (s *ProgressStore) Stats(ctx context.Context, participantID, date string) (models.HuntStats, error) {
	_, ph, err := s.lookup(s.DB.WithContext(ctx), participantID, date)
	if err != nil {
		return models.NewHuntStats(), err
	}
	if ph == nil {
		return models.NewHuntStats(), nil
	}
	return models.DecodeHuntStats(ph.Stats)
}

// lookup reads without creating. A missing hunt or row yields nil values.
func (s *ProgressStore) lookup(db *gorm.DB, participantID, date string) (*models.Hunt, *models.ParticipantHunt, error) {
	hunt, err := huntByDate(db, date)
	if errors.Is(err, ErrHuntNotFound) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}
	var ph models.ParticipantHunt
	err = db.Where("participant_id = ? AND hunt_id = ?", participantID, hunt.ID).First(&ph).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return hunt, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}
	return hunt, &ph, nil
}

// AttachProof records where the accepted photo for a task was archived.
func (s *ProgressStore) AttachProof(ctx context.Context, phID string, taskID uint, url string) error {
	return s.DB.WithContext(ctx).Model(&models.TaskProgress{}).
		Where("participant_hunt_id = ? AND task_id = ?", phID, taskID).
		Update("proof_url", url).Error
}

// ProgressView is the read model served to the admin API.
type ProgressView struct {
	ParticipantID string                `json:"participant_id"`
	Date          string                `json:"date"`
	State         models.HuntState      `json:"state"`
	CurrentTask   *models.Task          `json:"current_task,omitempty"`
	Stats         models.HuntStats      `json:"stats"`
	Remaining     int                   `json:"remaining"`
	AllDone       bool                  `json:"all_done"`
	Tasks         []models.TaskProgress `json:"tasks"`
}

func (s *ProgressStore) Progress(ctx context.Context, participantID, date string) (*ProgressView, error) {
	db := s.DB.WithContext(ctx)
	hunt, ph, err := s.lookup(db, participantID, date)
	if err != nil {
		return nil, err
	}
	if hunt == nil {
		return nil, ErrHuntNotFound
	}
	view := &ProgressView{
		ParticipantID: participantID,
		Date:          date,
		State:         models.HuntStateNotStarted,
		Stats:         models.NewHuntStats(),
		Remaining:     hunt.TotalTasks,
		Tasks:         []models.TaskProgress{},
	}
	if ph == nil {
		return view, nil
	}

	view.State = ph.State
	if view.Stats, err = models.DecodeHuntStats(ph.Stats); err != nil {
		return nil, err
	}
	if view.CurrentTask, err = currentTask(db, ph); err != nil {
		return nil, err
	}
	if err := db.Where("participant_hunt_id = ?", ph.ID).Order("task_id ASC").Find(&view.Tasks).Error; err != nil {
		return nil, err
	}
	resolved := 0
	for i := range view.Tasks {
		if view.Tasks[i].Resolved() {
			resolved++
		}
	}
	view.Remaining = max(hunt.TotalTasks-resolved, 0)
	view.AllDone = resolved >= hunt.TotalTasks
	return view, nil
}
