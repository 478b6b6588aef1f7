package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
)

// AssignmentPolicy picks the hunt group a participant should join.
type AssignmentPolicy interface {
	Choose(ctx context.Context, m Messenger, participantID string) (string, error)
}

// FixedGroupPolicy sends everyone to one configured group.
type FixedGroupPolicy struct {
	Group string
}

func (p FixedGroupPolicy) Choose(ctx context.Context, m Messenger, participantID string) (string, error) {
	if p.Group == "" {
		return "", errors.New("no hunt group configured")
	}
	return p.Group, nil
}

// LeastLoadedPolicy spreads participants over pre-provisioned groups, never
// past Capacity members per group. Ties go to the earlier group.
type LeastLoadedPolicy struct {
	Groups   []string
	Capacity int
}

func (p LeastLoadedPolicy) Choose(ctx context.Context, m Messenger, participantID string) (string, error) {
	best := ""
	bestCount := 0
	for _, group := range p.Groups {
		conv, err := m.ResolveConversation(ctx, group)
		if err != nil {
			slog.Warn("hunt group unavailable", "group", group, "err", err)
			continue
		}
		members, err := m.ListMembers(ctx, conv)
		if err != nil {
			slog.Warn("hunt group members unavailable", "group", group, "err", err)
			continue
		}
		if slices.Contains(members, participantID) {
			return group, nil
		}
		if p.Capacity > 0 && len(members) >= p.Capacity {
			continue
		}
		if best == "" || len(members) < bestCount {
			best, bestCount = group, len(members)
		}
	}
	if best == "" {
		return "", ErrGroupCapacityExceeded
	}
	return best, nil
}

// GroupAssigner adds participants to a hunt group.
type GroupAssigner struct {
	Messenger Messenger
	Policy    AssignmentPolicy
	Messages  *Messages
	Metrics   *Metrics
}

func NewGroupAssigner(m Messenger, policy AssignmentPolicy, msgs *Messages, metrics *Metrics) *GroupAssigner {
	return &GroupAssigner{Messenger: m, Policy: policy, Messages: msgs, Metrics: metrics}
}

// Assign returns the group the participant ended up in. Being a member
// already counts as success.
func (a *GroupAssigner) Assign(ctx context.Context, participantID string) (string, error) {
	group, err := a.Policy.Choose(ctx, a.Messenger, participantID)
	if err != nil {
		if errors.Is(err, ErrGroupCapacityExceeded) {
			a.Metrics.assignment("full")
		} else {
			a.Metrics.assignment("error")
		}
		return "", err
	}
	conv, err := a.Messenger.ResolveConversation(ctx, group)
	if err != nil {
		a.Metrics.assignment("error")
		return "", fmt.Errorf("resolve group %s: %w", group, err)
	}
	if err := a.Messenger.AddMembers(ctx, conv, participantID); err != nil && !errors.Is(err, ErrAlreadyMember) {
		a.Metrics.assignment("error")
		return "", fmt.Errorf("add %s to %s: %w", participantID, group, err)
	}
	a.Metrics.assignment("ok")
	slog.Info("participant assigned", "participant", participantID, "group", group)
	return group, nil
}

// Reply turns an assignment result into the text shown to the participant.
func (a *GroupAssigner) Reply(err error) string {
	switch {
	case err == nil:
		return a.Messages.Assigned()
	case errors.Is(err, ErrGroupCapacityExceeded):
		return a.Messages.TryLater()
	default:
		return a.Messages.GenericFailure()
	}
}
