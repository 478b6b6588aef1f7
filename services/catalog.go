package services

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"hunt-concierge/models"

	"github.com/jackc/pgx/v5/pgconn"
	"gopkg.in/yaml.v3"
	"gorm.io/gorm"
)

// TaskSpec is the input shape for one task when a hunt is loaded.
type TaskSpec struct {
	Title            string     `json:"title"`
	Description      string     `json:"description"`
	ValidationPrompt string     `json:"validation_prompt"`
	Hint             string     `json:"hint"`
	Points           int        `json:"points"`
	Category         string     `json:"category"`
	StartsAt         *time.Time `json:"starts_at,omitempty"`
	EndsAt           *time.Time `json:"ends_at,omitempty"`
}

// HuntSpec is a full day of tasks.
type HuntSpec struct {
	Date  string
	Title string
	Tasks []TaskSpec
}

type CatalogService struct {
	DB *gorm.DB
}

func NewCatalogService(db *gorm.DB) *CatalogService {
	return &CatalogService{DB: db}
}

// SetupHunt creates the hunt for date with its tasks. When the hunt already
// exists its tasks are left alone and only TotalTasks is reconciled with the
// stored rows. The bool result reports whether a new hunt was created.
func (s *CatalogService) SetupHunt(ctx context.Context, date, title string, tasks []TaskSpec) (*models.Hunt, bool, error) {
	if _, err := time.Parse(models.HuntDateLayout, date); err != nil {
		return nil, false, fmt.Errorf("%w: hunt date %q: %v", ErrInvalidCatalog, date, err)
	}
	if err := validateTaskSpecs(tasks); err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrInvalidCatalog, err)
	}

	var hunt models.Hunt
	created := false
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Where("date = ?", date).First(&hunt).Error
		if err == nil {
			return reconcileTotal(tx, &hunt)
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		hunt = models.Hunt{Date: date, Title: title, TotalTasks: len(tasks)}
		if err := tx.Create(&hunt).Error; err != nil {
			return err
		}
		// one insert per task keeps ascending ids in catalog order
		for _, spec := range tasks {
			row := spec.toModel(hunt.ID)
			if err := tx.Create(&row).Error; err != nil {
				return fmt.Errorf("create task %q: %w", spec.Title, err)
			}
		}
		created = true
		return nil
	})
	if err != nil {
		if isUniqueViolation(err) {
			existing, lookupErr := s.HuntByDate(ctx, date)
			if lookupErr != nil {
				return nil, false, lookupErr
			}
			return existing, false, nil
		}
		return nil, false, fmt.Errorf("setup hunt %s: %w", date, err)
	}
	return &hunt, created, nil
}

func reconcileTotal(tx *gorm.DB, hunt *models.Hunt) error {
	var n int64
	if err := tx.Model(&models.Task{}).Where("hunt_id = ?", hunt.ID).Count(&n).Error; err != nil {
		return err
	}
	if int(n) == hunt.TotalTasks {
		return nil
	}
	if err := tx.Model(hunt).Update("total_tasks", int(n)).Error; err != nil {
		return err
	}
	hunt.TotalTasks = int(n)
	return nil
}

func (s *CatalogService) HuntByDate(ctx context.Context, date string) (*models.Hunt, error) {
	return huntByDate(s.DB.WithContext(ctx), date)
}

func huntByDate(db *gorm.DB, date string) (*models.Hunt, error) {
	var hunt models.Hunt
	if err := db.Where("date = ?", date).First(&hunt).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrHuntNotFound
		}
		return nil, err
	}
	return &hunt, nil
}

// TasksForDate returns the day's tasks in catalog order.
func (s *CatalogService) TasksForDate(ctx context.Context, date string) ([]models.Task, error) {
	return s.TasksForDates(ctx, date)
}

// TasksForDates returns tasks of every listed day, ordered by id.
func (s *CatalogService) TasksForDates(ctx context.Context, dates ...string) ([]models.Task, error) {
	var tasks []models.Task
	err := s.DB.WithContext(ctx).
		Joins("JOIN hunts ON hunts.id = tasks.hunt_id").
		Where("hunts.date IN ?", dates).
		Order("tasks.id ASC").
		Find(&tasks).Error
	if err != nil {
		return nil, err
	}
	return tasks, nil
}

func (s *CatalogService) TaskByID(ctx context.Context, id uint) (*models.Task, error) {
	var task models.Task
	if err := s.DB.WithContext(ctx).First(&task, id).Error; err != nil {
		return nil, err
	}
	return &task, nil
}

// NextTask returns the task following afterID in the same hunt, or nil.
func (s *CatalogService) NextTask(ctx context.Context, huntID string, afterID uint) (*models.Task, error) {
	return nextTask(s.DB.WithContext(ctx), huntID, &afterID)
}

func nextTask(db *gorm.DB, huntID string, afterID *uint) (*models.Task, error) {
	q := db.Where("hunt_id = ?", huntID)
	if afterID != nil {
		q = q.Where("id > ?", *afterID)
	}
	var task models.Task
	if err := q.Order("id ASC").First(&task).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &task, nil
}

func (t TaskSpec) toModel(huntID string) models.Task {
	return models.Task{
		HuntID:           huntID,
		Title:            t.Title,
		Description:      t.Description,
		ValidationPrompt: t.ValidationPrompt,
		Hint:             t.Hint,
		Points:           t.Points,
		Category:         t.Category,
		StartsAt:         utcPtr(t.StartsAt),
		EndsAt:           utcPtr(t.EndsAt),
	}
}

func validateTaskSpecs(tasks []TaskSpec) error {
	if len(tasks) == 0 {
		return errors.New("a hunt needs at least one task")
	}
	for i, t := range tasks {
		if strings.TrimSpace(t.Title) == "" {
			return fmt.Errorf("task %d: title is required", i+1)
		}
		if strings.TrimSpace(t.ValidationPrompt) == "" {
			return fmt.Errorf("task %q: validation prompt is required", t.Title)
		}
		if t.Points < 0 {
			return fmt.Errorf("task %q: points must not be negative", t.Title)
		}
		if t.StartsAt != nil && t.EndsAt != nil && t.EndsAt.Before(*t.StartsAt) {
			return fmt.Errorf("task %q: ends before it starts", t.Title)
		}
	}
	return nil
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

// CatalogDay is the on-disk and admin API shape of one hunt. Start and End
// are wall-clock "15:04" times in the display timezone.
type CatalogDay struct {
	Date  string        `yaml:"date" json:"date"`
	Title string        `yaml:"title" json:"title"`
	Tasks []CatalogTask `yaml:"tasks" json:"tasks"`
}

type CatalogTask struct {
	Title            string `yaml:"title" json:"title"`
	Description      string `yaml:"description" json:"description"`
	ValidationPrompt string `yaml:"validation_prompt" json:"validation_prompt"`
	Hint             string `yaml:"hint" json:"hint"`
	Points           int    `yaml:"points" json:"points"`
	Category         string `yaml:"category" json:"category"`
	Start            string `yaml:"start" json:"start"`
	End              string `yaml:"end" json:"end"`
}

type catalogFile struct {
	Hunts []CatalogDay `yaml:"hunts"`
}

// LoadCatalogFile reads a YAML catalog of hunts.
func LoadCatalogFile(path string, loc *time.Location) ([]HuntSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	specs := make([]HuntSpec, 0, len(file.Hunts))
	for _, day := range file.Hunts {
		spec, err := day.ToSpec(loc)
		if err != nil {
			return nil, err
		}
		specs = append(specs, spec)
	}
	return specs, nil
}

// ToSpec resolves wall-clock times against the day's date in loc.
func (d CatalogDay) ToSpec(loc *time.Location) (HuntSpec, error) {
	day, err := time.ParseInLocation(models.HuntDateLayout, d.Date, loc)
	if err != nil {
		return HuntSpec{}, fmt.Errorf("hunt date %q: %w", d.Date, err)
	}
	spec := HuntSpec{Date: d.Date, Title: d.Title}
	for _, t := range d.Tasks {
		start, err := clockOn(day, t.Start)
		if err != nil {
			return HuntSpec{}, fmt.Errorf("task %q start: %w", t.Title, err)
		}
		end, err := clockOn(day, t.End)
		if err != nil {
			return HuntSpec{}, fmt.Errorf("task %q end: %w", t.Title, err)
		}
		spec.Tasks = append(spec.Tasks, TaskSpec{
			Title:            t.Title,
			Description:      t.Description,
			ValidationPrompt: t.ValidationPrompt,
			Hint:             t.Hint,
			Points:           t.Points,
			Category:         t.Category,
			StartsAt:         start,
			EndsAt:           end,
		})
	}
	return spec, nil
}

func clockOn(day time.Time, hhmm string) (*time.Time, error) {
	if hhmm == "" {
		return nil, nil
	}
	c, err := time.Parse("15:04", hhmm)
	if err != nil {
		return nil, err
	}
	t := time.Date(day.Year(), day.Month(), day.Day(), c.Hour(), c.Minute(), 0, 0, day.Location())
	return &t, nil
}
