package services

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"hunt-concierge/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetupHunt_CreatesOnceAndKeepsTasks(t *testing.T) {
	db := newTestDB(t)
	catalog, tasks := seedScenario(t, db)

	assert.Equal(t, "T1", tasks[0].Title)
	assert.Less(t, tasks[0].ID, tasks[1].ID)
	assert.Less(t, tasks[1].ID, tasks[2].ID)

	// a second load for the same day leaves the catalog untouched
	hunt, created, err := catalog.SetupHunt(context.Background(), scenarioDate, "Other", []TaskSpec{
		{Title: "X", ValidationPrompt: "x"},
	})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "Harbour Hunt", hunt.Title)
	assert.Equal(t, 3, hunt.TotalTasks)

	again, err := catalog.TasksForDate(context.Background(), scenarioDate)
	require.NoError(t, err)
	assert.Len(t, again, 3)
}

func TestSetupHunt_ReconcilesTotal(t *testing.T) {
	db := newTestDB(t)
	catalog, _ := seedScenario(t, db)

	require.NoError(t, db.Model(&models.Hunt{}).Where("date = ?", scenarioDate).Update("total_tasks", 7).Error)

	hunt, _, err := catalog.SetupHunt(context.Background(), scenarioDate, "Harbour Hunt", []TaskSpec{
		{Title: "X", ValidationPrompt: "x"},
	})
	require.NoError(t, err)
	assert.Equal(t, 3, hunt.TotalTasks)
}

func TestSetupHunt_Validation(t *testing.T) {
	catalog := NewCatalogService(newTestDB(t))
	ctx := context.Background()

	_, _, err := catalog.SetupHunt(ctx, "20-11-2025", "bad", []TaskSpec{{Title: "a", ValidationPrompt: "a"}})
	assert.ErrorIs(t, err, ErrInvalidCatalog)

	_, _, err = catalog.SetupHunt(ctx, scenarioDate, "empty", nil)
	assert.ErrorIs(t, err, ErrInvalidCatalog)

	_, _, err = catalog.SetupHunt(ctx, scenarioDate, "no prompt", []TaskSpec{{Title: "a"}})
	assert.ErrorIs(t, err, ErrInvalidCatalog)

	start := time.Date(2025, 11, 20, 12, 0, 0, 0, time.UTC)
	end := start.Add(-time.Hour)
	_, _, err = catalog.SetupHunt(ctx, scenarioDate, "backwards", []TaskSpec{
		{Title: "a", ValidationPrompt: "a", StartsAt: &start, EndsAt: &end},
	})
	assert.ErrorIs(t, err, ErrInvalidCatalog)
}

func TestHuntByDate_NotFound(t *testing.T) {
	catalog := NewCatalogService(newTestDB(t))
	_, err := catalog.HuntByDate(context.Background(), "2030-01-01")
	assert.ErrorIs(t, err, ErrHuntNotFound)
}

func TestNextTask(t *testing.T) {
	db := newTestDB(t)
	catalog, tasks := seedScenario(t, db)
	ctx := context.Background()

	next, err := catalog.NextTask(ctx, tasks[0].HuntID, tasks[0].ID)
	require.NoError(t, err)
	assert.Equal(t, tasks[1].ID, next.ID)

	next, err = catalog.NextTask(ctx, tasks[0].HuntID, tasks[2].ID)
	require.NoError(t, err)
	assert.Nil(t, next)
}

func TestLoadCatalogFile(t *testing.T) {
	loc := time.FixedZone("UTC+2", 2*60*60)

	path := filepath.Join(t.TempDir(), "catalog.yaml")
	yml := `
hunts:
  - date: "2025-11-20"
    title: Harbour Hunt
    tasks:
      - title: Red door
        validation_prompt: Is there a red door?
        points: 10
        category: Architecture
        start: "10:00"
        end: "10:30"
      - title: Anything
        validation_prompt: Is there anything?
        points: 5
`
	require.NoError(t, os.WriteFile(path, []byte(yml), 0o600))

	specs, err := LoadCatalogFile(path, loc)
	require.NoError(t, err)
	require.Len(t, specs, 1)
	require.Len(t, specs[0].Tasks, 2)

	first := specs[0].Tasks[0]
	require.NotNil(t, first.StartsAt)
	assert.Equal(t, "10:00", first.StartsAt.In(loc).Format("15:04"))
	assert.Equal(t, 30*time.Minute, first.EndsAt.Sub(*first.StartsAt))
	assert.Nil(t, specs[0].Tasks[1].StartsAt)
}

func TestCatalogDay_BadClock(t *testing.T) {
	day := CatalogDay{Date: scenarioDate, Tasks: []CatalogTask{{Title: "a", Start: "25:99"}}}
	_, err := day.ToSpec(time.UTC)
	assert.Error(t, err)
}
