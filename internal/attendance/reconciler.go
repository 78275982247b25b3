// Package attendance records recognitions as idempotent attendance upserts.
package attendance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/kozaktomas/face-attendance/internal/facematch"
	"github.com/kozaktomas/face-attendance/internal/logger"
)

// DefaultWriteTimeout bounds a single attendance upsert.
const DefaultWriteTimeout = 5 * time.Second

// ErrMemberInactive is reported for matches of members that are no longer active.
var ErrMemberInactive = errors.New("member is not active")

// Reconciler turns match results into attendance records.
type Reconciler struct {
	store        database.AttendanceStore
	directory    database.MemberDirectory
	writeTimeout time.Duration
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithDirectory makes the reconciler refuse members the directory does not
// report as active.
func WithDirectory(dir database.MemberDirectory) Option {
	return func(r *Reconciler) {
		r.directory = dir
	}
}

// WithWriteTimeout overrides DefaultWriteTimeout.
func WithWriteTimeout(d time.Duration) Option {
	return func(r *Reconciler) {
		if d > 0 {
			r.writeTimeout = d
		}
	}
}

// NewReconciler creates a reconciler writing to store.
func NewReconciler(store database.AttendanceStore, opts ...Option) *Reconciler {
	r := &Reconciler{store: store, writeTimeout: DefaultWriteTimeout}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Reconcile upserts one attendance record per match. Members are handled
// independently: a failure is recorded in that member's outcome and the
// remaining matches are still processed.
//
// Once an upsert has started it is not interrupted by ctx cancellation;
// cancellation is only observed between members, and the members not yet
// written are reported with the context error.
func (r *Reconciler) Reconcile(ctx context.Context, eventID int64, matches []facematch.MatchResult, observedAt time.Time) Report {
	report := Report{EventID: eventID, Outcomes: make([]MemberOutcome, 0, len(matches))}
	log := logger.FromContext(ctx).WithField(logger.FieldEventID, eventID)

	for _, m := range matches {
		outcome := MemberOutcome{MemberID: m.MemberID, Confidence: m.Confidence}

		if err := ctx.Err(); err != nil {
			outcome.Err = err
			report.Outcomes = append(report.Outcomes, outcome)
			continue
		}

		outcome.Err = r.reconcileOne(ctx, eventID, m, observedAt)
		if outcome.Err == nil {
			outcome.Recorded = true
			report.RecordedCount++
		} else {
			log.WithField(logger.FieldMemberID, m.MemberID).WithError(outcome.Err).Warn("failed to record attendance")
		}
		report.Outcomes = append(report.Outcomes, outcome)
	}

	return report
}

func (r *Reconciler) reconcileOne(ctx context.Context, eventID int64, m facematch.MatchResult, observedAt time.Time) error {
	rec, err := database.NewAttendanceRecord(m.MemberID, eventID, m.Confidence, observedAt)
	if err != nil {
		return err
	}

	if r.directory != nil {
		active, err := r.directory.IsActive(ctx, m.MemberID)
		if err != nil {
			return fmt.Errorf("checking member %d: %w", m.MemberID, err)
		}
		if !active {
			return fmt.Errorf("member %d: %w", m.MemberID, ErrMemberInactive)
		}
	}

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.writeTimeout)
	defer cancel()
	if err := r.store.UpsertAttendance(writeCtx, rec); err != nil {
		return fmt.Errorf("recording attendance for member %d: %w", m.MemberID, err)
	}
	return nil
}
