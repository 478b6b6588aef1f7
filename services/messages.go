package services

import (
	"fmt"
	"strings"
	"time"

	"hunt-concierge/models"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Messages renders every chat-facing string of the hunt engine. Times are
// shown in the display timezone.
type Messages struct {
	loc   *time.Location
	grace time.Duration
	p     *message.Printer
}

func NewMessages(loc *time.Location, grace time.Duration) *Messages {
	if loc == nil {
		loc = time.UTC
	}
	return &Messages{loc: loc, grace: grace, p: message.NewPrinter(language.English)}
}

func (m *Messages) clock(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.In(m.loc).Format("15:04")
}

func (m *Messages) taskBlock(task *models.Task) string {
	var b strings.Builder
	fmt.Fprintf(&b, "*%s*", task.Title)
	if task.Description != "" {
		b.WriteString("\n" + task.Description)
	}
	if task.Hint != "" {
		b.WriteString("\nHint: " + task.Hint)
	}
	return b.String()
}

func (m *Messages) Accepted(task *models.Task, stats models.HuntStats, next *models.Task, remaining int) string {
	head := m.p.Sprintf("✅ \"%s\" accepted! +%d points (total %d).", task.Title, task.Points, stats.Points)
	if next == nil {
		return head
	}
	return head + "\n\nNext up: " + m.taskBlock(next) + m.p.Sprintf("\n(%d left)", remaining)
}

func (m *Messages) Rejected(task *models.Task, v Verdict) string {
	var b strings.Builder
	fmt.Fprintf(&b, "❌ That doesn't look like \"%s\" yet.", task.Title)
	if task.Hint != "" {
		b.WriteString("\nHint: " + task.Hint)
	}
	if v.Raw != "" {
		b.WriteString("\nWhat I saw: " + v.Raw)
	}
	b.WriteString("\nSend another photo and mention me to try again.")
	return b.String()
}

func (m *Messages) OutsideWindow(task *models.Task) string {
	switch {
	case task.StartsAt != nil && task.EndsAt != nil:
		return fmt.Sprintf("⏰ \"%s\" only accepts photos between %s and %s.", task.Title, m.clock(task.StartsAt), m.clock(task.EndsAt))
	case task.StartsAt != nil:
		return fmt.Sprintf("⏰ \"%s\" opens at %s.", task.Title, m.clock(task.StartsAt))
	default:
		return fmt.Sprintf("⏰ \"%s\" closed at %s.", task.Title, m.clock(task.EndsAt))
	}
}

func (m *Messages) AttachmentUnavailable() string {
	return "I couldn't read that photo. Please send it again and mention me."
}

func (m *Messages) ClassifierUnavailable() string {
	return "I couldn't check your photo right now. Please try again in a moment."
}

func (m *Messages) NoActiveTask(finished bool) string {
	if finished {
		return "🎉 You've already finished today's hunt!"
	}
	return "There's no treasure hunt running today."
}

func (m *Messages) Completion(stats models.HuntStats, total int) string {
	return m.p.Sprintf("🏁 You finished the hunt! %d points, %d of %d tasks completed, %d skipped.",
		stats.Points, stats.Completed, total, stats.Skipped)
}

func (m *Messages) Skipped(task *models.Task, next *models.Task, remaining int) string {
	head := fmt.Sprintf("⏭️ Skipped \"%s\".", task.Title)
	if next == nil {
		return head
	}
	return head + "\n\nNext up: " + m.taskBlock(next) + m.p.Sprintf("\n(%d left)", remaining)
}

func (m *Messages) Status(task *models.Task, stats models.HuntStats, remaining int) string {
	if task == nil {
		return m.p.Sprintf("🎉 Hunt complete with %d points.", stats.Points)
	}
	return "📍 Current task: " + m.taskBlock(task) +
		m.p.Sprintf("\n%d points so far, %d tasks left.", stats.Points, remaining)
}

func (m *Messages) Hint(task *models.Task) string {
	if task.Hint == "" {
		return fmt.Sprintf("No hint for \"%s\", you're on your own!", task.Title)
	}
	return fmt.Sprintf("💡 %s", task.Hint)
}

func (m *Messages) TaskStarted(task *models.Task) string {
	msg := "🚩 New task: " + m.taskBlock(task)
	if task.EndsAt != nil {
		msg += "\nSubmit by " + m.clock(task.EndsAt) + "."
	}
	return msg
}

func (m *Messages) TaskEnded(task *models.Task, next *models.Task) string {
	msg := fmt.Sprintf("⌛ \"%s\" has ended and no longer accepts photos.", task.Title)
	if next != nil {
		msg += fmt.Sprintf("\nNext task: \"%s\"", next.Title)
		if next.StartsAt != nil {
			msg += " starts at " + m.clock(next.StartsAt)
		}
		msg += "."
		if next.StartsAt != nil && m.grace > 0 {
			msg += fmt.Sprintf(" Tasks are announced during the %d-minute grace period before they start.", int(m.grace.Minutes()))
		}
	}
	return msg
}

func (m *Messages) HuntFinished() string {
	return "🏁 That was the last task of today's hunt. Thanks for playing!"
}

func (m *Messages) GenericFailure() string {
	return "Something went wrong on our side. Please try again."
}

func (m *Messages) TryLater() string {
	return "All hunt groups are full right now. Please try again later."
}

func (m *Messages) Throttled() string {
	return "Slow down a little! Try again in a minute."
}

func (m *Messages) Assigned() string {
	return "You're in! I've added you to the hunt group."
}
