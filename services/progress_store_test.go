package services

import (
	"context"
	"testing"

	"hunt-concierge/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestGetCurrentTask_LazyCreateAndFirstTask(t *testing.T) {
	db := newTestDB(t)
	_, tasks := seedScenario(t, db)
	store := NewProgressStore(db, nil)
	ctx := context.Background()

	ph, task, err := store.GetCurrentTask(ctx, "p1", scenarioDate)
	require.NoError(t, err)
	require.NotNil(t, task)
	assert.Equal(t, tasks[0].ID, task.ID)
	assert.Equal(t, models.HuntStateOnTask, ph.State)

	// idempotent: same row, same pointer
	again, task2, err := store.GetCurrentTask(ctx, "p1", scenarioDate)
	require.NoError(t, err)
	assert.Equal(t, ph.ID, again.ID)
	assert.Equal(t, task.ID, task2.ID)

	var n int64
	require.NoError(t, db.Model(&models.ParticipantHunt{}).Count(&n).Error)
	assert.EqualValues(t, 1, n)
}

func TestGetCurrentTask_UnknownHunt(t *testing.T) {
	store := NewProgressStore(newTestDB(t), nil)
	_, _, err := store.GetCurrentTask(context.Background(), "p1", "2031-01-01")
	assert.ErrorIs(t, err, ErrHuntNotFound)
}

func TestSubmitAndSkip_AdvanceAtomically(t *testing.T) {
	db := newTestDB(t)
	_, tasks := seedScenario(t, db)
	store := NewProgressStore(db, nil)
	ctx := context.Background()

	ph, _, err := store.GetCurrentTask(ctx, "p1", scenarioDate)
	require.NoError(t, err)

	ph, err = store.Submit(ctx, ph, &tasks[0])
	require.NoError(t, err)
	assert.Equal(t, tasks[1].ID, *ph.CurrentTaskID)

	ph, err = store.Skip(ctx, ph, &tasks[1])
	require.NoError(t, err)
	assert.Equal(t, tasks[2].ID, *ph.CurrentTaskID)

	stats, err := store.Stats(ctx, "p1", scenarioDate)
	require.NoError(t, err)
	assert.Equal(t, 10, stats.Points)
	assert.Equal(t, 1, stats.Completed)
	assert.Equal(t, 1, stats.Skipped)
	assert.Equal(t, []uint{tasks[0].ID}, stats.Categories["architecture"].Completed)
	assert.Equal(t, 1, stats.Categories["animals"].Skipped)

	var skipped models.TaskProgress
	require.NoError(t, db.Where("task_id = ?", tasks[1].ID).First(&skipped).Error)
	assert.Equal(t, models.TaskStatusSkipped, skipped.Status)
	assert.Equal(t, 0, skipped.PointsEarned)

	remaining, err := store.Remaining(ctx, ph)
	require.NoError(t, err)
	assert.Equal(t, 1, remaining)

	done, err := store.AllTasksDone(ctx, "p1", scenarioDate)
	require.NoError(t, err)
	assert.False(t, done)

	ph, err = store.Submit(ctx, ph, &tasks[2])
	require.NoError(t, err)
	assert.Nil(t, ph.CurrentTaskID)
	assert.Equal(t, models.HuntStateComplete, ph.State)

	done, err = store.AllTasksDone(ctx, "p1", scenarioDate)
	require.NoError(t, err)
	assert.True(t, done)

	_, task, err := store.GetCurrentTask(ctx, "p1", scenarioDate)
	require.NoError(t, err)
	assert.Nil(t, task)
}

func TestSubmit_RejectsTaskThatIsNotCurrent(t *testing.T) {
	db := newTestDB(t)
	_, tasks := seedScenario(t, db)
	store := NewProgressStore(db, nil)
	ctx := context.Background()

	ph, _, err := store.GetCurrentTask(ctx, "p1", scenarioDate)
	require.NoError(t, err)
	ph, err = store.Submit(ctx, ph, &tasks[0])
	require.NoError(t, err)

	// resubmitting the completed task changes nothing
	_, err = store.Submit(ctx, ph, &tasks[0])
	assert.ErrorIs(t, err, ErrTaskNotCurrent)

	// so does jumping ahead
	_, err = store.Skip(ctx, ph, &tasks[2])
	assert.ErrorIs(t, err, ErrTaskNotCurrent)

	stats, err := store.Stats(ctx, "p1", scenarioDate)
	require.NoError(t, err)
	assert.Equal(t, 10, stats.Points)
	assert.Equal(t, 1, stats.Completed)
	assert.Equal(t, 0, stats.Skipped)

	var rows int64
	require.NoError(t, db.Model(&models.TaskProgress{}).Count(&rows).Error)
	assert.EqualValues(t, 1, rows)
}

func TestInitializeNext_StaleVersionLoses(t *testing.T) {
	db := newTestDB(t)
	_, tasks := seedScenario(t, db)
	store := NewProgressStore(db, nil)

	ph, _, err := store.GetCurrentTask(context.Background(), "p1", scenarioDate)
	require.NoError(t, err)
	stale := *ph

	require.NoError(t, db.Transaction(func(tx *gorm.DB) error {
		return store.InitializeNext(tx, ph, &tasks[0].ID)
	}))
	assert.Equal(t, tasks[1].ID, *ph.CurrentTaskID)

	err = db.Transaction(func(tx *gorm.DB) error {
		return store.InitializeNext(tx, &stale, &tasks[1].ID)
	})
	assert.ErrorIs(t, err, ErrConcurrentUpdate)

	var fresh models.ParticipantHunt
	require.NoError(t, db.First(&fresh, "id = ?", ph.ID).Error)
	assert.Equal(t, tasks[1].ID, *fresh.CurrentTaskID)
}

func TestStatsAndProgress_Defaults(t *testing.T) {
	db := newTestDB(t)
	seedScenario(t, db)
	store := NewProgressStore(db, nil)
	ctx := context.Background()

	stats, err := store.Stats(ctx, "nobody", scenarioDate)
	require.NoError(t, err)
	assert.Equal(t, models.NewHuntStats(), stats)

	stats, err = store.Stats(ctx, "nobody", "2031-01-01")
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Points)

	view, err := store.Progress(ctx, "nobody", scenarioDate)
	require.NoError(t, err)
	assert.Equal(t, models.HuntStateNotStarted, view.State)
	assert.Equal(t, 3, view.Remaining)
	assert.False(t, view.AllDone)

	_, err = store.Progress(ctx, "nobody", "2031-01-01")
	assert.ErrorIs(t, err, ErrHuntNotFound)
}

func TestAttachProof(t *testing.T) {
	db := newTestDB(t)
	_, tasks := seedScenario(t, db)
	store := NewProgressStore(db, nil)
	ctx := context.Background()

	ph, _, err := store.GetCurrentTask(ctx, "p1", scenarioDate)
	require.NoError(t, err)
	_, err = store.Submit(ctx, ph, &tasks[0])
	require.NoError(t, err)

	require.NoError(t, store.AttachProof(ctx, ph.ID, tasks[0].ID, "https://cdn/x.jpg"))

	view, err := store.Progress(ctx, "p1", scenarioDate)
	require.NoError(t, err)
	require.Len(t, view.Tasks, 1)
	assert.Equal(t, "https://cdn/x.jpg", view.Tasks[0].ProofURL)
	assert.Equal(t, tasks[1].ID, view.CurrentTask.ID)
}
