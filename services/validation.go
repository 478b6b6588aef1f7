package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"

	"hunt-concierge/models"
	"hunt-concierge/utils"

	"github.com/google/uuid"
)

// ProofArchive keeps a copy of accepted photos.
type ProofArchive interface {
	Upload(ctx context.Context, key string, data []byte, contentType string) (string, error)
}

// SubmissionOutcome is what one validate or skip call produced.
type SubmissionOutcome struct {
	Accepted     bool
	Reason       error
	Task         *models.Task
	NextTask     *models.Task
	Verdict      Verdict
	Stats        models.HuntStats
	Remaining    int
	HuntComplete bool
	Message      string
}

type SubmissionService struct {
	Store        *ProgressStore
	Classifier   Classifier
	Materializer *Materializer
	Archive      ProofArchive
	Messages     *Messages
	Metrics      *Metrics

	classifyTimeout time.Duration
	locks           *utils.KeyedMutex
	now             func() time.Time
}

func NewSubmissionService(store *ProgressStore, classifier Classifier, materializer *Materializer, archive ProofArchive, msgs *Messages, metrics *Metrics, classifyTimeout time.Duration, now func() time.Time) *SubmissionService {
	if now == nil {
		now = time.Now
	}
	return &SubmissionService{
		Store:           store,
		Classifier:      classifier,
		Materializer:    materializer,
		Archive:         archive,
		Messages:        msgs,
		Metrics:         metrics,
		classifyTimeout: classifyTimeout,
		locks:           utils.NewKeyedMutex(),
		now:             now,
	}
}

func lockKey(participantID, date string) string {
	return participantID + "|" + date
}

// Validate runs one submission through the pipeline. Attachment and
// classifier failures come back as rejections; only persistence errors
// are returned.
func (s *SubmissionService) Validate(ctx context.Context, participantID, date string, att *Attachment) (*SubmissionOutcome, error) {
	unlock := s.locks.Lock(lockKey(participantID, date))
	defer unlock()

	ph, task, err := s.Store.GetCurrentTask(ctx, participantID, date)
	if errors.Is(err, ErrHuntNotFound) {
		return s.noActiveTask(false), nil
	}
	if err != nil {
		return nil, err
	}
	if task == nil {
		return s.noActiveTask(true), nil
	}

	if !task.InWindow(s.now()) {
		s.Metrics.submission("outside_window")
		return s.reject(task, ErrOutsideWindow, Verdict{}, s.Messages.OutsideWindow(task)), nil
	}

	img, err := s.Materializer.Materialize(ctx, att)
	if err != nil {
		slog.Warn("attachment unavailable", "participant", participantID, "task_id", task.ID, "err", err)
		s.Metrics.submission("attachment_unavailable")
		return s.reject(task, err, Verdict{}, s.Messages.AttachmentUnavailable()), nil
	}

	text, err := s.classify(ctx, task, img)
	if err != nil {
		slog.Warn("classifier unavailable", "participant", participantID, "task_id", task.ID, "err", err)
		s.Metrics.submission("classifier_unavailable")
		return s.reject(task, err, Verdict{}, s.Messages.ClassifierUnavailable()), nil
	}

	verdict := ParseVerdict(text)
	if !verdict.Accepted() {
		slog.Info("submission rejected", "participant", participantID, "task_id", task.ID,
			"positive", verdict.Positive, "confidence", verdict.Confidence)
		s.Metrics.submission("rejected")
		return s.reject(task, verdict.Reason(), verdict, s.Messages.Rejected(task, verdict)), nil
	}

	updated, err := s.Store.Submit(ctx, ph, task)
	if err != nil {
		return nil, err
	}
	s.archive(ctx, updated, task, img)

	out, err := s.advanceOutcome(ctx, updated, task)
	if err != nil {
		return nil, err
	}
	out.Accepted = true
	out.Verdict = verdict
	if out.HuntComplete {
		out.Message = s.Messages.Accepted(task, out.Stats, nil, 0) + "\n\n" + out.Message
	} else {
		out.Message = s.Messages.Accepted(task, out.Stats, out.NextTask, out.Remaining)
	}
	slog.Info("submission accepted", "participant", participantID, "task_id", task.ID,
		"confidence", verdict.Confidence, "points", task.Points)
	s.Metrics.submission("accepted")
	return out, nil
}

// Skip resolves the current task as skipped. The classifier is never called.
func (s *SubmissionService) Skip(ctx context.Context, participantID, date string) (*SubmissionOutcome, error) {
	unlock := s.locks.Lock(lockKey(participantID, date))
	defer unlock()

	ph, task, err := s.Store.GetCurrentTask(ctx, participantID, date)
	if errors.Is(err, ErrHuntNotFound) {
		return s.noActiveTask(false), nil
	}
	if err != nil {
		return nil, err
	}
	if task == nil {
		return s.noActiveTask(true), nil
	}

	updated, err := s.Store.Skip(ctx, ph, task)
	if err != nil {
		return nil, err
	}
	out, err := s.advanceOutcome(ctx, updated, task)
	if err != nil {
		return nil, err
	}
	if out.HuntComplete {
		out.Message = s.Messages.Skipped(task, nil, 0) + "\n\n" + out.Message
	} else {
		out.Message = s.Messages.Skipped(task, out.NextTask, out.Remaining)
	}
	s.Metrics.submission("skipped")
	return out, nil
}

// Status describes where the participant stands in today's hunt.
func (s *SubmissionService) Status(ctx context.Context, participantID, date string) (string, error) {
	ph, task, err := s.Store.GetCurrentTask(ctx, participantID, date)
	if errors.Is(err, ErrHuntNotFound) {
		return s.Messages.NoActiveTask(false), nil
	}
	if err != nil {
		return "", err
	}
	stats, err := models.DecodeHuntStats(ph.Stats)
	if err != nil {
		return "", err
	}
	remaining, err := s.Store.Remaining(ctx, ph)
	if err != nil {
		return "", err
	}
	return s.Messages.Status(task, stats, remaining), nil
}

// Hint returns the current task's hint.
func (s *SubmissionService) Hint(ctx context.Context, participantID, date string) (string, error) {
	_, task, err := s.Store.GetCurrentTask(ctx, participantID, date)
	if errors.Is(err, ErrHuntNotFound) {
		return s.Messages.NoActiveTask(false), nil
	}
	if err != nil {
		return "", err
	}
	if task == nil {
		return s.Messages.NoActiveTask(true), nil
	}
	return s.Messages.Hint(task), nil
}

func (s *SubmissionService) classify(ctx context.Context, task *models.Task, img *Image) (string, error) {
	if s.classifyTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.classifyTimeout)
		defer cancel()
	}
	start := time.Now()
	text, err := s.Classifier.Classify(ctx, BuildInstruction(task.ValidationPrompt), img.DataURI())
	s.Metrics.classifierSeconds(time.Since(start).Seconds())
	if err != nil {
		if isTimeout(err) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", fmt.Errorf("%w: %w", ErrClassifierUnavailable, ErrTimeout)
		}
		return "", fmt.Errorf("%w: %v", ErrClassifierUnavailable, err)
	}
	return text, nil
}

func (s *SubmissionService) advanceOutcome(ctx context.Context, ph *models.ParticipantHunt, task *models.Task) (*SubmissionOutcome, error) {
	stats, err := models.DecodeHuntStats(ph.Stats)
	if err != nil {
		return nil, err
	}
	remaining, err := s.Store.Remaining(ctx, ph)
	if err != nil {
		return nil, err
	}
	next, err := s.Store.CurrentTaskOf(ctx, ph)
	if err != nil {
		return nil, err
	}
	out := &SubmissionOutcome{
		Task:      task,
		NextTask:  next,
		Stats:     stats,
		Remaining: remaining,
	}
	if next == nil {
		out.HuntComplete = true
		out.Message = s.Messages.Completion(stats, stats.Completed+stats.Skipped+remaining)
	}
	return out, nil
}

func (s *SubmissionService) archive(ctx context.Context, ph *models.ParticipantHunt, task *models.Task, img *Image) {
	if s.Archive == nil {
		return
	}
	key := path.Join("hunts", ph.HuntID, ph.ParticipantID, fmt.Sprintf("%d-%s%s", task.ID, uuid.NewString(), extensionFor(img.MimeType)))
	url, err := s.Archive.Upload(ctx, key, img.Data, img.MimeType)
	if err != nil {
		slog.Warn("proof archive failed", "participant", ph.ParticipantID, "task_id", task.ID, "err", err)
		return
	}
	if err := s.Store.AttachProof(ctx, ph.ID, task.ID, url); err != nil {
		slog.Warn("proof url not recorded", "participant", ph.ParticipantID, "task_id", task.ID, "err", err)
	}
}

func extensionFor(mime string) string {
	switch strings.ToLower(mime) {
	case "image/png":
		return ".png"
	case "image/webp":
		return ".webp"
	case "image/gif":
		return ".gif"
	case "image/heic":
		return ".heic"
	default:
		return ".jpg"
	}
}

func (s *SubmissionService) reject(task *models.Task, reason error, v Verdict, msg string) *SubmissionOutcome {
	if reason != nil && !errors.Is(reason, ErrLowConfidence) && !errors.Is(reason, ErrNegativeVerdict) {
		v.Confidence = 0
	}
	return &SubmissionOutcome{Reason: reason, Task: task, Verdict: v, Message: msg}
}

func (s *SubmissionService) noActiveTask(finished bool) *SubmissionOutcome {
	s.Metrics.submission("no_active_task")
	return &SubmissionOutcome{Reason: ErrNoActiveTask, Message: s.Messages.NoActiveTask(finished)}
}
