package services

import (
	"context"
	"errors"
	"net"
)

var (
	ErrNoActiveTask          = errors.New("no active task")
	ErrOutsideWindow         = errors.New("outside validity window")
	ErrAttachmentUnavailable = errors.New("attachment unavailable")
	ErrClassifierUnavailable = errors.New("classifier unavailable")
	ErrTimeout               = errors.New("timed out")
	ErrLowConfidence         = errors.New("confidence below threshold")
	ErrNegativeVerdict       = errors.New("negative verdict")
	ErrGroupCapacityExceeded = errors.New("all hunt groups are full")
	ErrAlreadyMember         = errors.New("already a member")

	ErrHuntNotFound      = errors.New("hunt not found")
	ErrTaskNotCurrent    = errors.New("task is not the participant's current task")
	ErrConcurrentUpdate  = errors.New("participant hunt was updated concurrently")
	ErrSubmissionLimited = errors.New("too many submissions")
	ErrInvalidCatalog    = errors.New("invalid hunt catalog")
)

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrTimeout) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
