package attendance

import (
	"errors"
	"fmt"
	"strings"
)

// ErrPartialReconciliation matches a PartialFailureError with errors.Is.
var ErrPartialReconciliation = errors.New("attendance partially recorded")

// MemberOutcome is the result of reconciling one match.
type MemberOutcome struct {
	MemberID   int64
	Confidence float64
	Recorded   bool
	Err        error
}

// Report summarizes one Reconcile call.
type Report struct {
	EventID       int64
	RecordedCount int
	Outcomes      []MemberOutcome
}

// Failed returns the outcomes that were not recorded.
func (r Report) Failed() []MemberOutcome {
	var failed []MemberOutcome
	for _, o := range r.Outcomes {
		if !o.Recorded {
			failed = append(failed, o)
		}
	}
	return failed
}

// Recorded returns the outcomes that were recorded, in match order.
func (r Report) Recorded() []MemberOutcome {
	var ok []MemberOutcome
	for _, o := range r.Outcomes {
		if o.Recorded {
			ok = append(ok, o)
		}
	}
	return ok
}

// Err returns a *PartialFailureError if any member failed, nil otherwise.
func (r Report) Err() error {
	failed := r.Failed()
	if len(failed) == 0 {
		return nil
	}
	return &PartialFailureError{EventID: r.EventID, Recorded: r.RecordedCount, Failed: failed}
}

// PartialFailureError lists the members whose attendance could not be recorded.
type PartialFailureError struct {
	EventID  int64
	Recorded int
	Failed   []MemberOutcome
}

func (e *PartialFailureError) Error() string {
	parts := make([]string, len(e.Failed))
	for i, o := range e.Failed {
		parts[i] = fmt.Sprintf("member %d: %v", o.MemberID, o.Err)
	}
	return fmt.Sprintf("event %d: %d recorded, %d failed: %s", e.EventID, e.Recorded, len(e.Failed), strings.Join(parts, "; "))
}

func (e *PartialFailureError) Is(target error) bool {
	return target == ErrPartialReconciliation
}

// Unwrap exposes the per-member causes to errors.Is and errors.As.
func (e *PartialFailureError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failed))
	for _, o := range e.Failed {
		if o.Err != nil {
			errs = append(errs, o.Err)
		}
	}
	return errs
}
