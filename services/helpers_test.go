package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"hunt-concierge/models"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const scenarioDate = "2025-11-20"

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(
		&models.Hunt{},
		&models.Task{},
		&models.ParticipantHunt{},
		&models.TaskProgress{},
	))
	return db
}

// seedScenario loads T1(10) T2(10) T3(20) without time windows.
func seedScenario(t *testing.T, db *gorm.DB) (*CatalogService, []models.Task) {
	t.Helper()
	catalog := NewCatalogService(db)
	_, created, err := catalog.SetupHunt(context.Background(), scenarioDate, "Harbour Hunt", []TaskSpec{
		{Title: "T1", Description: "Find a red door", ValidationPrompt: "Is there a red door?", Hint: "Old town", Points: 10, Category: "Architecture"},
		{Title: "T2", Description: "Find a street cat", ValidationPrompt: "Is there a cat?", Hint: "Near the market", Points: 10, Category: "Animals"},
		{Title: "T3", Description: "Find a lighthouse", ValidationPrompt: "Is there a lighthouse?", Hint: "By the sea", Points: 20, Category: "Architecture"},
	})
	require.NoError(t, err)
	require.True(t, created)

	tasks, err := catalog.TasksForDate(context.Background(), scenarioDate)
	require.NoError(t, err)
	require.Len(t, tasks, 3)
	return catalog, tasks
}

func fixedClock(ts time.Time) func() time.Time {
	return func() time.Time { return ts }
}

type fakeClassifier struct {
	mu      sync.Mutex
	replies []string
	err     error
	delay   time.Duration
	calls   int
}

func (f *fakeClassifier) Classify(ctx context.Context, instruction, imageDataURI string) (string, error) {
	f.mu.Lock()
	f.calls++
	reply := ""
	if len(f.replies) > 0 {
		reply = f.replies[0]
		if len(f.replies) > 1 {
			f.replies = f.replies[1:]
		}
	}
	err, delay := f.err, f.delay
	f.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return reply, err
}

func (f *fakeClassifier) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeClassifier) Reply(text string) {
	f.mu.Lock()
	f.replies = []string{text}
	f.mu.Unlock()
}

type fakeMessenger struct {
	mu          sync.Mutex
	sent        map[string][]string
	structured  map[string][]any
	members     map[string][]string
	failResolve map[string]bool
	failSend    map[string]bool
	addErr      error
}

func newFakeMessenger() *fakeMessenger {
	return &fakeMessenger{
		sent:        map[string][]string{},
		structured:  map[string][]any{},
		members:     map[string][]string{},
		failResolve: map[string]bool{},
		failSend:    map[string]bool{},
	}
}

func (f *fakeMessenger) SendText(ctx context.Context, conversationID, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSend[conversationID] {
		return errors.New("send failed")
	}
	f.sent[conversationID] = append(f.sent[conversationID], text)
	return nil
}

func (f *fakeMessenger) SendStructured(ctx context.Context, conversationID string, payload any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.structured[conversationID] = append(f.structured[conversationID], payload)
	return nil
}

func (f *fakeMessenger) ResolveConversation(ctx context.Context, groupID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failResolve[groupID] {
		return "", errors.New("unknown group")
	}
	return "conv-" + groupID, nil
}

func (f *fakeMessenger) ListMembers(ctx context.Context, conversationID string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.members[conversationID]...), nil
}

func (f *fakeMessenger) AddMembers(ctx context.Context, conversationID string, participantIDs ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.addErr != nil {
		return f.addErr
	}
	f.members[conversationID] = append(f.members[conversationID], participantIDs...)
	return nil
}

func (f *fakeMessenger) Sent(conversationID string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent[conversationID]...)
}

func (f *fakeMessenger) Structured(conversationID string) []any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]any(nil), f.structured[conversationID]...)
}

var testPhoto = &Attachment{MimeType: "image/jpeg", Data: []byte("fake-jpeg")}

func newTestPipeline(db *gorm.DB, cls Classifier, now func() time.Time) *SubmissionService {
	store := NewProgressStore(db, now)
	msgs := NewMessages(time.UTC, 15*time.Minute)
	return NewSubmissionService(store, cls, NewMaterializer(time.Second, 1<<20), nil, msgs, nil, time.Second, now)
}
