// Package conflict implements the visit duplicate/overlap decision.
//
// Two lookback windows are computed from the candidate visit date:
//
//   - the duplicate window (default 60 days) over the submitting recruiter's
//     own visits to the location, and
//   - the overlap window (default 30 days) over anyone's visits to it.
//
// A duplicate blocks the submission outright. An overlap is a warning the
// recruiter may acknowledge. The package is pure: callers run the two
// queries and hand the rows to Evaluate.
package conflict

import (
	"time"

	"github.com/tbourn/go-visit-tracker/internal/domain"
)

const (
	DefaultDuplicateDays = 60
	DefaultOverlapDays   = 30
	DefaultOverlapLimit  = 5
)

// Outcome is the result of evaluating a candidate visit.
type Outcome string

const (
	OutcomeClear     Outcome = "clear"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeOverlap   Outcome = "overlap"
)

// Policy holds the window sizes. The zero value is not useful; use
// DefaultPolicy or fill every field.
type Policy struct {
	DuplicateDays int
	OverlapDays   int
	OverlapLimit  int
}

// DefaultPolicy returns the 60/30/5 policy.
func DefaultPolicy() Policy {
	return Policy{
		DuplicateDays: DefaultDuplicateDays,
		OverlapDays:   DefaultOverlapDays,
		OverlapLimit:  DefaultOverlapLimit,
	}
}

// Windows returns the inclusive lower bounds of the duplicate and overlap
// windows for visitDate, both truncated to the calendar day.
func (p Policy) Windows(visitDate time.Time) (duplicateSince, overlapSince time.Time) {
	d := Day(visitDate)
	return d.AddDate(0, 0, -p.DuplicateDays), d.AddDate(0, 0, -p.OverlapDays)
}

// PriorVisit is an existing visit returned by one of the window queries.
type PriorVisit struct {
	VisitID       string             `json:"visit_id"`
	RecruiterID   string             `json:"recruiter_id"`
	RecruiterName string             `json:"recruiter_name,omitempty"`
	VisitDate     time.Time          `json:"visit_date"`
	Status        domain.VisitStatus `json:"status"`
}

// Decision is the evaluated state of a candidate visit. HasDuplicate and
// HasOverlap are the raw flags; Outcome applies the priority rule.
type Decision struct {
	Outcome      Outcome      `json:"outcome"`
	HasDuplicate bool         `json:"has_duplicate"`
	HasOverlap   bool         `json:"has_overlap"`
	Duplicate    *PriorVisit  `json:"duplicate,omitempty"`
	Overlaps     []PriorVisit `json:"overlaps,omitempty"`
}

// Evaluate decides the outcome from the newest own visit inside the
// duplicate window (nil when none) and the newest visits by anyone inside
// the overlap window, ordered by visit date descending.
//
// Overlap is flagged only when the newest overlap row is strictly more
// recent than the recruiter's own newest visit. A duplicate always wins.
func Evaluate(dup *PriorVisit, overlaps []PriorVisit) Decision {
	d := Decision{Duplicate: dup, Overlaps: overlaps}
	d.HasDuplicate = dup != nil
	d.HasOverlap = len(overlaps) > 0 &&
		(dup == nil || Day(overlaps[0].VisitDate).After(Day(dup.VisitDate)))

	switch {
	case d.HasDuplicate:
		d.Outcome = OutcomeDuplicate
	case d.HasOverlap:
		d.Outcome = OutcomeOverlap
	default:
		d.Outcome = OutcomeClear
	}
	return d
}

// Permits reports whether a visit may be created given the decision and
// whether the recruiter explicitly chose to proceed past an overlap.
func (d Decision) Permits(proceedOnOverlap bool) bool {
	switch d.Outcome {
	case OutcomeClear:
		return true
	case OutcomeOverlap:
		return proceedOnOverlap
	default:
		return false
	}
}

// Conflicting returns the overlap row shown to the user, if any.
func (d Decision) Conflicting() *PriorVisit {
	if !d.HasOverlap || len(d.Overlaps) == 0 {
		return nil
	}
	return &d.Overlaps[0]
}

// Day truncates t to midnight UTC of its calendar date.
func Day(t time.Time) time.Time {
	y, m, dd := t.Date()
	return time.Date(y, m, dd, 0, 0, 0, 0, time.UTC)
}

// ParseDay parses a YYYY-MM-DD date.
func ParseDay(s string) (time.Time, error) {
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, err
	}
	return Day(t), nil
}
