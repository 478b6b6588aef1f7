package services

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"hunt-concierge/models"
	"hunt-concierge/utils"
)

// TextEvent is a chat message delivered by the bridge.
type TextEvent struct {
	GroupID  string   `json:"group_id"`
	SenderID string   `json:"sender_id"`
	Body     string   `json:"body"`
	Mentions []string `json:"mentions,omitempty"`
}

// AttachmentEvent is a file posted in a conversation.
type AttachmentEvent struct {
	GroupID    string     `json:"group_id"`
	SenderID   string     `json:"sender_id"`
	Attachment Attachment `json:"attachment"`
}

// StageKey identifies one participant's pending photo in one group.
type StageKey struct {
	GroupID       string
	ParticipantID string
}

// HuntAgent routes hunt-group chat events into the submission pipeline.
type HuntAgent struct {
	Submissions *SubmissionService
	Messenger   Messenger
	Messages    *Messages
	Metrics     *Metrics
	Stage       *utils.ExpiringCache[StageKey, Attachment]
	Throttle    *Throttle

	handle   string
	groups   map[string]struct{}
	stageTTL time.Duration
	loc      *time.Location
	now      func() time.Time
}

type HuntAgentOptions struct {
	Handle   string
	Groups   []string
	StageTTL time.Duration
	Location *time.Location
	Now      func() time.Time
}

func NewHuntAgent(subs *SubmissionService, m Messenger, msgs *Messages, metrics *Metrics, stage *utils.ExpiringCache[StageKey, Attachment], throttle *Throttle, opts HuntAgentOptions) *HuntAgent {
	groups := make(map[string]struct{}, len(opts.Groups))
	for _, g := range opts.Groups {
		groups[g] = struct{}{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.StageTTL <= 0 {
		opts.StageTTL = 120 * time.Second
	}
	return &HuntAgent{
		Submissions: subs,
		Messenger:   m,
		Messages:    msgs,
		Metrics:     metrics,
		Stage:       stage,
		Throttle:    throttle,
		handle:      strings.ToLower(opts.Handle),
		groups:      groups,
		stageTTL:    opts.StageTTL,
		loc:         opts.Location,
		now:         opts.Now,
	}
}

// HuntDate is today's hunt key in the display timezone.
func (a *HuntAgent) HuntDate() string {
	return a.now().In(a.loc).Format(models.HuntDateLayout)
}

func (a *HuntAgent) isHuntGroup(groupID string) bool {
	_, ok := a.groups[groupID]
	return ok
}

// HandleAttachment stages the photo until its sender mentions the agent.
func (a *HuntAgent) HandleAttachment(ctx context.Context, ev AttachmentEvent) bool {
	if !a.isHuntGroup(ev.GroupID) {
		return false
	}
	a.Stage.Put(StageKey{GroupID: ev.GroupID, ParticipantID: ev.SenderID}, ev.Attachment, a.stageTTL)
	a.Metrics.stagedAttachment()
	slog.Debug("attachment staged", "group", ev.GroupID, "participant", ev.SenderID)
	return true
}

// HandleText reacts to mentions in hunt groups. It reports whether the
// event was consumed; anything else belongs to the general intent router.
func (a *HuntAgent) HandleText(ctx context.Context, ev TextEvent) bool {
	if !a.isHuntGroup(ev.GroupID) {
		return false
	}
	rest, mentioned := a.stripMention(ev)
	if !mentioned {
		return false
	}

	date := a.HuntDate()
	switch command(rest) {
	case "":
		a.submitStaged(ctx, ev, date)
	case "skip":
		out, err := a.Submissions.Skip(ctx, ev.SenderID, date)
		a.replyOutcome(ctx, ev, out, err)
	case "status", "progress":
		text, err := a.Submissions.Status(ctx, ev.SenderID, date)
		a.replyText(ctx, ev, text, err)
	case "hint":
		text, err := a.Submissions.Hint(ctx, ev.SenderID, date)
		a.replyText(ctx, ev, text, err)
	default:
		return false
	}
	return true
}

func (a *HuntAgent) submitStaged(ctx context.Context, ev TextEvent, date string) {
	key := StageKey{GroupID: ev.GroupID, ParticipantID: ev.SenderID}
	// only a real submission spends a throttle token; the photo stays staged when throttled
	if a.Stage.Has(key) && a.Throttle != nil && !a.Throttle.Allow(ev.SenderID) {
		a.send(ctx, ev.GroupID, a.Messages.Throttled())
		return
	}
	att, ok := a.Stage.TakeIfPresent(key)
	if !ok {
		text, err := a.Submissions.Status(ctx, ev.SenderID, date)
		a.replyText(ctx, ev, text, err)
		return
	}
	out, err := a.Submissions.Validate(ctx, ev.SenderID, date, &att)
	a.replyOutcome(ctx, ev, out, err)
}

func (a *HuntAgent) replyOutcome(ctx context.Context, ev TextEvent, out *SubmissionOutcome, err error) {
	if err != nil {
		slog.Error("hunt submission failed", "participant", ev.SenderID, "group", ev.GroupID, "err", err)
		a.send(ctx, ev.GroupID, a.Messages.GenericFailure())
		return
	}
	a.send(ctx, ev.GroupID, out.Message)
	if out.HuntComplete {
		summary := map[string]any{
			"type":        "hunt_summary",
			"participant": ev.SenderID,
			"points":      out.Stats.Points,
			"completed":   out.Stats.Completed,
			"skipped":     out.Stats.Skipped,
			"categories":  out.Stats.Categories,
		}
		if err := a.Messenger.SendStructured(ctx, ev.GroupID, summary); err != nil {
			slog.Warn("hunt summary not delivered", "participant", ev.SenderID, "err", err)
		}
	}
}

func (a *HuntAgent) replyText(ctx context.Context, ev TextEvent, text string, err error) {
	if err != nil {
		slog.Error("hunt request failed", "participant", ev.SenderID, "group", ev.GroupID, "err", err)
		text = a.Messages.GenericFailure()
	}
	a.send(ctx, ev.GroupID, text)
}

func (a *HuntAgent) send(ctx context.Context, conversationID, text string) {
	if err := a.Messenger.SendText(ctx, conversationID, text); err != nil {
		slog.Warn("reply not delivered", "group", conversationID, "err", err)
	}
}

// stripMention removes the agent handle from the body and reports whether
// the agent was addressed at all.
func (a *HuntAgent) stripMention(ev TextEvent) (string, bool) {
	mentioned := false
	for _, m := range ev.Mentions {
		if strings.EqualFold(m, a.handle) {
			mentioned = true
		}
	}
	body := ev.Body
	if a.handle != "" {
		lower := strings.ToLower(body)
		if i := strings.Index(lower, a.handle); i >= 0 && len(lower) == len(body) {
			mentioned = true
			body = body[:i] + body[i+len(a.handle):]
		}
	}
	return body, mentioned
}

func command(rest string) string {
	return strings.ToLower(strings.Trim(rest, " \t\r\n.,!?:;"))
}
