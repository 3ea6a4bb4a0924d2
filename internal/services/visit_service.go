// Package services – VisitService
//
// VisitService owns the visit submission flow: validate, resolve the
// location, run the duplicate/overlap check and create the visit. It also
// serves the dashboard, visit detail and the status/notes edits.
//
// Two consistency modes are supported. By default the conflict check and
// the insert are separate statements, so two recruiters submitting the same
// location at the same moment can both pass the overlap check. With
// Serialize set, the check and insert run in one transaction while holding a
// per-location lock.
//
// Observability: public methods open OpenTelemetry spans and every
// submission increments visit_submissions_total{outcome}.
package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/go-visit-tracker/internal/calendar"
	"github.com/tbourn/go-visit-tracker/internal/conflict"
	"github.com/tbourn/go-visit-tracker/internal/domain"
	"github.com/tbourn/go-visit-tracker/internal/events"
	"github.com/tbourn/go-visit-tracker/internal/repo"
	"github.com/tbourn/go-visit-tracker/internal/session"
)

// otherVisitsLimit caps the "other visits to this location" list on the
// visit detail view.
const otherVisitsLimit = 10

// VisitInput is a visit submission.
type VisitInput struct {
	ProjectID         string
	Location          LocationRef
	VisitDate         string // YYYY-MM-DD
	Status            domain.VisitStatus
	PosSystem         string
	SpokenTo          string
	Takeaway          bool
	Delivery          bool
	TakeawayPlatforms string
	DeliveryPlatforms string
	Notes             string
	// ProceedOnOverlap acknowledges an overlap warning. It never overrides
	// a duplicate.
	ProceedOnOverlap bool
}

// SubmitResult reports what a submission did. Visit is nil unless Created.
type SubmitResult struct {
	Visit           *domain.Visit
	Location        *domain.Location
	LocationCreated bool
	Decision        conflict.Decision
	Created         bool
}

// VisitDetail is a visit with the other recent visits to its location.
type VisitDetail struct {
	Visit       *domain.Visit  `json:"visit"`
	OtherVisits []domain.Visit `json:"other_visits"`
}

// DashboardFilter narrows the dashboard list.
type DashboardFilter struct {
	Status    domain.VisitStatus
	ProjectID string
	// Search matches location name, city and notes; admins also match the
	// recruiter name.
	Search string
}

// VisitService coordinates visit persistence and the conflict policy.
type VisitService struct {
	DB        *gorm.DB
	Policy    conflict.Policy
	Locations *LocationService
	Events    events.Publisher

	// Serialize runs check and insert atomically per location.
	Serialize bool

	// Now is the clock; nil means time.Now.
	Now func() time.Time

	locks keyedMutex
}

// NewVisitService wires a VisitService with the default policy and a no-op
// publisher. Callers override fields as needed.
func NewVisitService(db *gorm.DB, locations *LocationService) *VisitService {
	return &VisitService{
		DB:        db,
		Policy:    conflict.DefaultPolicy(),
		Locations: locations,
		Events:    events.Noop{},
	}
}

func (s *VisitService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// Submit validates in, resolves the location, evaluates the conflict policy
// and creates the visit when the decision permits it.
//
// A duplicate or an unacknowledged overlap is not an error: the result is
// returned with Created=false and the Decision describing the conflict.
func (s *VisitService) Submit(ctx context.Context, sess *session.Session, in VisitInput) (res *SubmitResult, err error) {
	tr := otel.Tracer("services/VisitService")
	ctx, span := tr.Start(ctx, "Submit",
		trace.WithAttributes(
			attribute.String("project.id", in.ProjectID),
			attribute.String("location.id", in.Location.ID),
			attribute.Bool("proceed_on_overlap", in.ProceedOnOverlap),
		),
	)
	defer span.End()

	outcome := outcomeError
	defer func() {
		visitSubmissions.WithLabelValues(outcome).Inc()
		span.SetAttributes(attribute.String("outcome", outcome))
	}()

	if sess == nil {
		outcome = outcomeInvalid
		return nil, session.ErrNoSession
	}
	day, err := validateVisit(&in)
	if err != nil {
		outcome = outcomeInvalid
		return nil, err
	}
	if err := s.checkProject(ctx, sess, in.ProjectID); err != nil {
		if errors.Is(err, ErrProjectNotAllowed) || errors.Is(err, ErrProjectNotFound) {
			outcome = outcomeInvalid
		}
		return nil, err
	}

	loc, locCreated, err := s.Locations.Resolve(ctx, s.DB, in.Location)
	if err != nil {
		if errors.Is(err, ErrValidation) || errors.Is(err, ErrLocationNotFound) || errors.Is(err, ErrLocationExists) {
			outcome = outcomeInvalid
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrSubmitFailed, err)
	}

	if s.Serialize {
		res, err = s.decideAndCreateLocked(ctx, sess, in, loc, day)
	} else {
		res, err = s.decideAndCreate(ctx, s.DB, sess, in, loc, day)
	}
	if err != nil {
		return nil, err
	}
	res.LocationCreated = locCreated

	switch {
	case res.Created:
		outcome = outcomeCreated
		s.publishCreated(ctx, res.Visit, in.ProceedOnOverlap)
	case res.Decision.Outcome == conflict.OutcomeDuplicate:
		outcome = outcomeDuplicate
	default:
		outcome = outcomeOverlap
	}
	return res, nil
}

// decideAndCreateLocked holds the location lock for the whole transaction
// and releases it even if the transaction panics.
func (s *VisitService) decideAndCreateLocked(ctx context.Context, sess *session.Session, in VisitInput, loc *domain.Location, day time.Time) (*SubmitResult, error) {
	unlock := s.locks.Lock(loc.ID)
	defer unlock()

	var res *SubmitResult
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var txErr error
		res, txErr = s.decideAndCreate(ctx, tx, sess, in, loc, day)
		return txErr
	})
	return res, err
}

func (s *VisitService) decideAndCreate(ctx context.Context, db *gorm.DB, sess *session.Session, in VisitInput, loc *domain.Location, day time.Time) (*SubmitResult, error) {
	dec, err := s.evaluate(ctx, db, sess.UserID, loc.ID, day)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSubmitFailed, err)
	}
	res := &SubmitResult{Location: loc, Decision: dec}
	if !dec.Permits(in.ProceedOnOverlap) {
		return res, nil
	}

	v := &domain.Visit{
		RecruiterID:       sess.UserID,
		ProjectID:         in.ProjectID,
		LocationID:        loc.ID,
		VisitDate:         day,
		Status:            in.Status,
		PosSystem:         in.PosSystem,
		SpokenTo:          in.SpokenTo,
		Takeaway:          in.Takeaway,
		Delivery:          in.Delivery,
		TakeawayPlatforms: nullable(in.TakeawayPlatforms),
		DeliveryPlatforms: nullable(in.DeliveryPlatforms),
		Notes:             nullable(in.Notes),
	}
	if err := repo.CreateVisit(ctx, db, v); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCreateFailed, err)
	}
	v.Location = loc
	res.Visit = v
	res.Created = true
	return res, nil
}

// CheckConflicts evaluates the policy for a candidate visit without writing
// anything. A location given by name and city that does not exist yet has
// no history and is always clear.
func (s *VisitService) CheckConflicts(ctx context.Context, sess *session.Session, ref LocationRef, visitDate string) (conflict.Decision, error) {
	tr := otel.Tracer("services/VisitService")
	ctx, span := tr.Start(ctx, "CheckConflicts",
		trace.WithAttributes(
			attribute.String("location.id", ref.ID),
			attribute.String("visit.date", visitDate),
		),
	)
	defer span.End()

	if sess == nil {
		return conflict.Decision{}, session.ErrNoSession
	}
	if ref.Empty() {
		return conflict.Decision{}, &ValidationError{Fields: []string{"location"}}
	}
	day, err := conflict.ParseDay(strings.TrimSpace(visitDate))
	if err != nil {
		return conflict.Decision{}, &ValidationError{Fields: []string{"visit_date"}}
	}

	locationID := strings.TrimSpace(ref.ID)
	if locationID == "" {
		loc, err := repo.FindLocationByNameCity(ctx, s.DB, strings.TrimSpace(ref.Name), strings.TrimSpace(ref.City))
		if errors.Is(err, repo.ErrNotFound) {
			return conflict.Evaluate(nil, nil), nil
		}
		if err != nil {
			return conflict.Decision{}, fmt.Errorf("%w: %v", ErrSubmitFailed, err)
		}
		locationID = loc.ID
	}

	dec, err := s.evaluate(ctx, s.DB, sess.UserID, locationID, day)
	if err != nil {
		return conflict.Decision{}, fmt.Errorf("%w: %v", ErrSubmitFailed, err)
	}
	return dec, nil
}

// evaluate runs the duplicate and overlap window queries and applies the policy.
func (s *VisitService) evaluate(ctx context.Context, db *gorm.DB, recruiterID, locationID string, day time.Time) (conflict.Decision, error) {
	dupSince, overlapSince := s.Policy.Windows(day)

	own, err := repo.LatestOwnVisit(ctx, db, locationID, recruiterID, dupSince)
	if err != nil {
		return conflict.Decision{}, err
	}
	rows, err := repo.RecentLocationVisits(ctx, db, locationID, overlapSince, s.Policy.OverlapLimit)
	if err != nil {
		return conflict.Decision{}, err
	}

	var dup *conflict.PriorVisit
	if own != nil {
		p := priorVisit(*own)
		dup = &p
	}
	overlaps := make([]conflict.PriorVisit, 0, len(rows))
	for _, r := range rows {
		overlaps = append(overlaps, priorVisit(r))
	}
	return conflict.Evaluate(dup, overlaps), nil
}

func priorVisit(r repo.VisitRow) conflict.PriorVisit {
	return conflict.PriorVisit{
		VisitID:       r.ID,
		RecruiterID:   r.RecruiterID,
		RecruiterName: r.RecruiterName,
		VisitDate:     conflict.Day(r.VisitDate),
		Status:        r.Status,
	}
}

func (s *VisitService) publishCreated(ctx context.Context, v *domain.Visit, proceeded bool) {
	if s.Events == nil {
		return
	}
	ev := events.VisitCreated{
		VisitID:          v.ID,
		RecruiterID:      v.RecruiterID,
		ProjectID:        v.ProjectID,
		LocationID:       v.LocationID,
		VisitDate:        v.VisitDate.Format(time.DateOnly),
		Status:           string(v.Status),
		ProceededOverlap: proceeded,
		OccurredAt:       s.now().UTC(),
	}
	if err := s.Events.PublishVisitCreated(ctx, ev); err != nil {
		log.Warn().Err(err).Str("visit_id", v.ID).Msg("publish visit.created failed")
	}
}

// checkProject requires an active project; recruiters must also be assigned to it.
func (s *VisitService) checkProject(ctx context.Context, sess *session.Session, projectID string) error {
	p, err := repo.GetProject(ctx, s.DB, projectID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return ErrProjectNotFound
		}
		return fmt.Errorf("%w: %v", ErrSubmitFailed, err)
	}
	if !p.Active {
		return ErrProjectNotAllowed
	}
	if sess.IsAdmin() {
		return nil
	}
	ok, err := repo.IsAssigned(ctx, s.DB, projectID, sess.UserID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSubmitFailed, err)
	}
	if !ok {
		return ErrProjectNotAllowed
	}
	return nil
}

// validateVisit trims in, defaults the status and parses the visit date.
func validateVisit(in *VisitInput) (time.Time, error) {
	in.ProjectID = strings.TrimSpace(in.ProjectID)
	in.PosSystem = strings.TrimSpace(in.PosSystem)
	in.SpokenTo = strings.TrimSpace(in.SpokenTo)
	in.VisitDate = strings.TrimSpace(in.VisitDate)

	var bad []string
	if in.ProjectID == "" {
		bad = append(bad, "project_id")
	}
	if in.Location.Empty() {
		bad = append(bad, "location")
	}
	if in.PosSystem == "" {
		bad = append(bad, "pos_system")
	}
	if in.SpokenTo == "" {
		bad = append(bad, "spoken_to")
	}

	var day time.Time
	if in.VisitDate == "" {
		bad = append(bad, "visit_date")
	} else if d, err := conflict.ParseDay(in.VisitDate); err != nil {
		bad = append(bad, "visit_date")
	} else {
		day = d
	}

	if in.Status == "" {
		in.Status = domain.StatusVisited
	} else if !in.Status.IsValid() {
		bad = append(bad, "status")
	}

	if len(bad) > 0 {
		return time.Time{}, &ValidationError{Fields: bad}
	}
	return day, nil
}

// Dashboard returns a page of visits, newest first. Admins see every visit;
// everyone else sees their own.
func (s *VisitService) Dashboard(ctx context.Context, sess *session.Session, f DashboardFilter, page, pageSize int) ([]domain.Visit, int64, error) {
	tr := otel.Tracer("services/VisitService")
	ctx, span := tr.Start(ctx, "Dashboard",
		trace.WithAttributes(
			attribute.Int("page", page),
			attribute.Int("page_size", pageSize),
		),
	)
	defer span.End()

	filter, err := s.VisibleFilter(sess, f)
	if err != nil {
		return nil, 0, err
	}
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}

	total, err := repo.CountVisits(ctx, s.DB, filter)
	if err != nil {
		return nil, 0, err
	}
	items, err := repo.ListVisitsPage(ctx, s.DB, filter, (page-1)*pageSize, pageSize)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

// VisibleFilter maps f to the repository filter the session is allowed to
// see. Handlers use it for ETag computation.
func (s *VisitService) VisibleFilter(sess *session.Session, f DashboardFilter) (repo.VisitFilter, error) {
	if sess == nil {
		return repo.VisitFilter{}, session.ErrNoSession
	}
	if f.Status != "" && !f.Status.IsValid() {
		return repo.VisitFilter{}, ErrInvalidStatus
	}
	out := repo.VisitFilter{
		ProjectID: strings.TrimSpace(f.ProjectID),
		Status:    f.Status,
		Search:    strings.TrimSpace(f.Search),
	}
	if sess.IsAdmin() {
		out.SearchRecruiter = out.Search != ""
	} else {
		out.RecruiterID = sess.UserID
	}
	return out, nil
}

// Get returns a visit with up to ten other visits to the same location.
// Recruiters may only read their own visits.
func (s *VisitService) Get(ctx context.Context, sess *session.Session, id string) (*VisitDetail, error) {
	tr := otel.Tracer("services/VisitService")
	ctx, span := tr.Start(ctx, "Get", trace.WithAttributes(attribute.String("visit.id", id)))
	defer span.End()

	v, err := s.visitFor(ctx, sess, id)
	if err != nil {
		return nil, err
	}
	others, err := repo.ListLocationVisits(ctx, s.DB, repo.VisitFilter{LocationID: v.LocationID}, v.ID, otherVisitsLimit)
	if err != nil {
		return nil, err
	}
	return &VisitDetail{Visit: v, OtherVisits: others}, nil
}

// UpdateStatus changes a visit's status. Owner or admin only.
func (s *VisitService) UpdateStatus(ctx context.Context, sess *session.Session, id string, status domain.VisitStatus) (*domain.Visit, error) {
	tr := otel.Tracer("services/VisitService")
	ctx, span := tr.Start(ctx, "UpdateStatus",
		trace.WithAttributes(
			attribute.String("visit.id", id),
			attribute.String("visit.status", string(status)),
		),
	)
	defer span.End()

	if !status.IsValid() {
		return nil, ErrInvalidStatus
	}
	if _, err := s.visitFor(ctx, sess, id); err != nil {
		return nil, err
	}
	if err := repo.UpdateVisitStatus(ctx, s.DB, id, status); err != nil {
		return nil, s.mapNotFound(err)
	}
	return s.reload(ctx, id)
}

// UpdateNotes sets the notes of a visit; blank notes are cleared. Owner or
// admin only.
func (s *VisitService) UpdateNotes(ctx context.Context, sess *session.Session, id, notes string) (*domain.Visit, error) {
	tr := otel.Tracer("services/VisitService")
	ctx, span := tr.Start(ctx, "UpdateNotes", trace.WithAttributes(attribute.String("visit.id", id)))
	defer span.End()

	if _, err := s.visitFor(ctx, sess, id); err != nil {
		return nil, err
	}
	if err := repo.UpdateVisitNotes(ctx, s.DB, id, nullable(notes)); err != nil {
		return nil, s.mapNotFound(err)
	}
	return s.reload(ctx, id)
}

// CalendarURL builds a Google Calendar link for a follow-up visit to the
// visit's location. A zero start means DefaultStart.
func (s *VisitService) CalendarURL(ctx context.Context, sess *session.Session, id string, start time.Time) (string, error) {
	v, err := s.visitFor(ctx, sess, id)
	if err != nil {
		return "", err
	}
	if start.IsZero() {
		start = calendar.DefaultStart(s.now())
	}
	var name, city, address, notes string
	if v.Location != nil {
		name, city = v.Location.Name, v.Location.City
		if v.Location.Address != nil {
			address = *v.Location.Address
		}
	}
	if v.Notes != nil {
		notes = *v.Notes
	}
	return calendar.VisitEvent(name, city, address, notes, start), nil
}

// visitFor loads a visit and applies the read rule: owner or admin.
func (s *VisitService) visitFor(ctx context.Context, sess *session.Session, id string) (*domain.Visit, error) {
	if sess == nil {
		return nil, session.ErrNoSession
	}
	v, err := repo.GetVisit(ctx, s.DB, id)
	if err != nil {
		return nil, s.mapNotFound(err)
	}
	if !sess.CanModify(v.RecruiterID) {
		return nil, ErrForbidden
	}
	return v, nil
}

func (s *VisitService) reload(ctx context.Context, id string) (*domain.Visit, error) {
	v, err := repo.GetVisit(ctx, s.DB, id)
	if err != nil {
		return nil, s.mapNotFound(err)
	}
	return v, nil
}

func (s *VisitService) mapNotFound(err error) error {
	if errors.Is(err, repo.ErrNotFound) {
		return ErrVisitNotFound
	}
	return err
}
