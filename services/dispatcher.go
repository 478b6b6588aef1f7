package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"hunt-concierge/models"

	"github.com/go-co-op/gocron/v2"
	"golang.org/x/sync/errgroup"
)

const (
	AnnounceStart = "start"
	AnnounceEnd   = "end"
)

type Announcement struct {
	Kind   string
	TaskID uint
	Text   string
}

type SendFailure struct {
	Group  string
	TaskID uint
	Kind   string
	Err    error
}

// TickReport is what one dispatcher tick did.
type TickReport struct {
	Announcements []Announcement
	Failures      []SendFailure
}

// TransitionDispatcher announces task starts (one grace period early) and
// task ends to every hunt group. Each task id is announced at most once per
// kind for the life of the process.
type TransitionDispatcher struct {
	Catalog     *CatalogService
	Messenger   Messenger
	Messages    *Messages
	Metrics     *Metrics
	Groups      []string
	Tick        time.Duration
	Grace       time.Duration
	SendTimeout time.Duration
	Parallelism int

	loc   *time.Location
	now   func() time.Time
	sched gocron.Scheduler

	mu      sync.Mutex
	started map[uint]struct{}
	ended   map[uint]struct{}
}

func NewTransitionDispatcher(catalog *CatalogService, m Messenger, msgs *Messages, metrics *Metrics, groups []string, tick, grace, sendTimeout time.Duration, loc *time.Location, now func() time.Time) *TransitionDispatcher {
	if now == nil {
		now = time.Now
	}
	if loc == nil {
		loc = time.UTC
	}
	return &TransitionDispatcher{
		Catalog:     catalog,
		Messenger:   m,
		Messages:    msgs,
		Metrics:     metrics,
		Groups:      groups,
		Tick:        tick,
		Grace:       grace,
		SendTimeout: sendTimeout,
		Parallelism: 4,
		loc:         loc,
		now:         now,
		started:     make(map[uint]struct{}),
		ended:       make(map[uint]struct{}),
	}
}

// Start runs RunTick on a fixed interval. A tick that overruns is
// rescheduled rather than stacked.
func (d *TransitionDispatcher) Start(ctx context.Context) error {
	sched, err := gocron.NewScheduler(gocron.WithLocation(d.loc))
	if err != nil {
		return fmt.Errorf("create scheduler: %w", err)
	}
	_, err = sched.NewJob(
		gocron.DurationJob(d.Tick),
		gocron.NewTask(func() {
			if _, err := d.RunTick(ctx, d.now()); err != nil {
				slog.Error("dispatcher tick failed", "err", err)
			}
		}),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
	if err != nil {
		return fmt.Errorf("schedule dispatcher: %w", err)
	}
	sched.Start()
	d.sched = sched
	slog.Info("transition dispatcher started", "tick", d.Tick, "grace", d.Grace, "groups", len(d.Groups))
	return nil
}

func (d *TransitionDispatcher) Stop() error {
	if d.sched == nil {
		return nil
	}
	return d.sched.Shutdown()
}

// RunTick evaluates every task of the hunts touching [now, now+grace] and
// broadcasts whatever became due in this tick window.
func (d *TransitionDispatcher) RunTick(ctx context.Context, now time.Time) (TickReport, error) {
	var report TickReport

	dates := []string{now.In(d.loc).Format(models.HuntDateLayout)}
	if ahead := now.Add(d.Grace).In(d.loc).Format(models.HuntDateLayout); ahead != dates[0] {
		dates = append(dates, ahead)
	}
	tasks, err := d.Catalog.TasksForDates(ctx, dates...)
	if err != nil {
		return report, fmt.Errorf("load tasks: %w", err)
	}

	for i := range tasks {
		t := &tasks[i]
		if d.startDue(t, now) && d.mark(d.started, t.ID) {
			report.Announcements = append(report.Announcements, Announcement{
				Kind: AnnounceStart, TaskID: t.ID, Text: d.Messages.TaskStarted(t),
			})
		}
		if d.endDue(t, now) && d.mark(d.ended, t.ID) {
			next := followingTask(tasks, i)
			text := d.Messages.TaskEnded(t, next)
			if next == nil {
				text += "\n\n" + d.Messages.HuntFinished()
			}
			report.Announcements = append(report.Announcements, Announcement{
				Kind: AnnounceEnd, TaskID: t.ID, Text: text,
			})
		}
	}

	if len(report.Announcements) > 0 {
		report.Failures = d.fanOut(ctx, report.Announcements)
	}
	return report, nil
}

// startDue fires once the grace window before the start opens.
func (d *TransitionDispatcher) startDue(t *models.Task, now time.Time) bool {
	if t.StartsAt == nil {
		return false
	}
	graceStart := t.StartsAt.Add(-d.Grace)
	return !now.Before(graceStart) && now.Before(graceStart.Add(d.Tick))
}

func (d *TransitionDispatcher) endDue(t *models.Task, now time.Time) bool {
	if t.EndsAt == nil {
		return false
	}
	return t.EndsAt.After(now.Add(-d.Tick)) && !t.EndsAt.After(now)
}

// mark records id in set and reports whether it was new.
func (d *TransitionDispatcher) mark(set map[uint]struct{}, id uint) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := set[id]; ok {
		return false
	}
	set[id] = struct{}{}
	return true
}

func followingTask(tasks []models.Task, i int) *models.Task {
	for j := i + 1; j < len(tasks); j++ {
		if tasks[j].HuntID == tasks[i].HuntID {
			return &tasks[j]
		}
	}
	return nil
}

// fanOut sends every announcement to every group. Groups are independent:
// a failing group is logged and the rest carry on.
func (d *TransitionDispatcher) fanOut(ctx context.Context, anns []Announcement) []SendFailure {
	var (
		mu       sync.Mutex
		failures []SendFailure
		g        errgroup.Group
	)
	record := func(group string, a Announcement, err error) {
		slog.Warn("announcement failed", "group", group, "task_id", a.TaskID, "kind", a.Kind, "err", err)
		d.Metrics.announcement(a.Kind, "error")
		mu.Lock()
		failures = append(failures, SendFailure{Group: group, TaskID: a.TaskID, Kind: a.Kind, Err: err})
		mu.Unlock()
	}

	if d.Parallelism > 0 {
		g.SetLimit(d.Parallelism)
	}
	for _, group := range d.Groups {
		g.Go(func() error {
			conv, err := d.withTimeout(ctx, func(ctx context.Context) (string, error) {
				return d.Messenger.ResolveConversation(ctx, group)
			})
			if err != nil {
				for _, a := range anns {
					record(group, a, err)
				}
				return nil
			}
			for _, a := range anns {
				_, err := d.withTimeout(ctx, func(ctx context.Context) (string, error) {
					return "", d.Messenger.SendText(ctx, conv, a.Text)
				})
				if err != nil {
					record(group, a, err)
					continue
				}
				d.Metrics.announcement(a.Kind, "ok")
			}
			return nil
		})
	}
	_ = g.Wait()
	return failures
}

func (d *TransitionDispatcher) withTimeout(ctx context.Context, fn func(context.Context) (string, error)) (string, error) {
	if d.SendTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.SendTimeout)
		defer cancel()
	}
	return fn(ctx)
}
