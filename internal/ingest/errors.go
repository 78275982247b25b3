package ingest

import (
	"context"
	"errors"
	"fmt"

	"github.com/kozaktomas/face-attendance/internal/attendance"
	"github.com/kozaktomas/face-attendance/internal/database"
)

// ErrEnrollmentRejected matches every EnrollmentRejectedError.
var ErrEnrollmentRejected = errors.New("enrollment rejected")

// EnrollmentRejectedError reports an enrollment image that cannot produce an
// embedding for the member. It never indicates a store failure.
type EnrollmentRejectedError struct {
	MemberID int64
	Reason   string
	Err      error
}

func (e *EnrollmentRejectedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("enrollment rejected for member %d: %s: %v", e.MemberID, e.Reason, e.Err)
	}
	return fmt.Sprintf("enrollment rejected for member %d: %s", e.MemberID, e.Reason)
}

func (e *EnrollmentRejectedError) Unwrap() error {
	return e.Err
}

func (e *EnrollmentRejectedError) Is(target error) bool {
	return target == ErrEnrollmentRejected
}

// Client-facing reasons for members whose attendance was not recorded.
const (
	ReasonMemberNotFound     = "member not found"
	ReasonMemberInactive     = "member not active"
	ReasonInvalidRecord      = "invalid record"
	ReasonStorageUnavailable = "storage unavailable"
	ReasonTimedOut           = "timed out"
	ReasonCancelled          = "cancelled"
	ReasonInternal           = "internal error"
)

// failureReason maps a per-member reconciliation error onto a fixed reason.
// Driver and server messages never reach the result; the reconciler logs
// the full error.
func failureReason(err error) string {
	switch {
	case errors.Is(err, database.ErrMemberNotFound):
		return ReasonMemberNotFound
	case errors.Is(err, attendance.ErrMemberInactive):
		return ReasonMemberInactive
	case errors.Is(err, database.ErrInvalidRecord):
		return ReasonInvalidRecord
	case errors.Is(err, database.ErrStoreUnavailable):
		return ReasonStorageUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return ReasonTimedOut
	case errors.Is(err, context.Canceled):
		return ReasonCancelled
	default:
		return ReasonInternal
	}
}
