// Package services – LocationService
//
// LocationService resolves the location a visit is filed under, and serves
// the location list, fuzzy search and detail views. Locations are unique by
// (name, city) ignoring case; the store enforces it and a losing insert is
// reported as ErrLocationExists.
//
// The list annotates each location with the caller's own history and a
// recent-visit warning computed by the overlap rule of the conflict policy,
// evaluated for today. Location detail shows non-admins only the visits of
// projects they are assigned to.
package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/go-visit-tracker/internal/conflict"
	"github.com/tbourn/go-visit-tracker/internal/domain"
	"github.com/tbourn/go-visit-tracker/internal/repo"
	"github.com/tbourn/go-visit-tracker/internal/search"
	"github.com/tbourn/go-visit-tracker/internal/session"
)

// LocationRef identifies a location either by ID or by the fields needed to
// find or create it.
type LocationRef struct {
	ID        string   `json:"id,omitempty"`
	Name      string   `json:"name,omitempty"`
	City      string   `json:"city,omitempty"`
	Address   string   `json:"address,omitempty"`
	Website   string   `json:"website,omitempty"`
	PosSystem string   `json:"pos_system,omitempty"`
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`
}

// Empty reports whether r names no location at all.
func (r LocationRef) Empty() bool {
	return strings.TrimSpace(r.ID) == "" && (strings.TrimSpace(r.Name) == "" || strings.TrimSpace(r.City) == "")
}

// LocationDetail is a location with its visits, newest first.
type LocationDetail struct {
	Location *domain.Location `json:"location"`
	Visits   []domain.Visit   `json:"visits"`
}

// LocationSummary is a location list row seen by one caller. LastVisitDate
// is the caller's newest own visit, at any time.
type LocationSummary struct {
	domain.Location
	VisitedByMe        bool       `json:"visited_by_me"`
	LastVisitDate      *time.Time `json:"last_visit_date,omitempty"`
	RecentVisitWarning bool       `json:"recent_visit_warning"`
}

// LocationService coordinates location persistence and search.
type LocationService struct {
	DB *gorm.DB
	// MinScore drops fuzzy-search hits below this Jaccard score.
	MinScore float64
	// Policy supplies the overlap window of the list warning.
	Policy conflict.Policy
	// Now is the clock; nil means time.Now.
	Now func() time.Time

	mu    sync.Mutex
	index search.Index
	stale bool
}

// NewLocationService returns a service whose search index is built on first use.
func NewLocationService(db *gorm.DB, minScore float64) *LocationService {
	return &LocationService{DB: db, MinScore: minScore, Policy: conflict.DefaultPolicy(), stale: true}
}

func (s *LocationService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// Resolve returns the location ref points at, creating it when it is given
// by name and city and does not exist yet. created reports an insert. db
// may be a transaction.
func (s *LocationService) Resolve(ctx context.Context, db *gorm.DB, ref LocationRef) (loc *domain.Location, created bool, err error) {
	tr := otel.Tracer("services/LocationService")
	ctx, span := tr.Start(ctx, "Resolve",
		trace.WithAttributes(
			attribute.String("location.id", ref.ID),
			attribute.String("location.city", ref.City),
		),
	)
	defer span.End()

	if id := strings.TrimSpace(ref.ID); id != "" {
		loc, err := repo.GetLocation(ctx, db, id)
		if errors.Is(err, repo.ErrNotFound) {
			return nil, false, ErrLocationNotFound
		}
		return loc, false, err
	}

	name, city := strings.TrimSpace(ref.Name), strings.TrimSpace(ref.City)
	if name == "" || city == "" {
		return nil, false, &ValidationError{Fields: []string{"location"}}
	}

	loc, err = repo.FindLocationByNameCity(ctx, db, name, city)
	if err == nil {
		return loc, false, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return nil, false, err
	}

	loc = newLocation(ref)
	if err := repo.CreateLocation(ctx, db, loc); err != nil {
		if errors.Is(err, repo.ErrDuplicate) {
			return nil, false, ErrLocationExists
		}
		return nil, false, err
	}
	s.invalidate()
	return loc, true, nil
}

// Create inserts a location explicitly. A (name, city) clash is ErrLocationExists.
func (s *LocationService) Create(ctx context.Context, ref LocationRef) (*domain.Location, error) {
	var missing []string
	if strings.TrimSpace(ref.Name) == "" {
		missing = append(missing, "name")
	}
	if strings.TrimSpace(ref.City) == "" {
		missing = append(missing, "city")
	}
	if len(missing) > 0 {
		return nil, &ValidationError{Fields: missing}
	}
	loc := newLocation(ref)
	if err := repo.CreateLocation(ctx, s.DB, loc); err != nil {
		if errors.Is(err, repo.ErrDuplicate) {
			return nil, ErrLocationExists
		}
		return nil, err
	}
	s.invalidate()
	return loc, nil
}

// List returns locations ordered by name, optionally filtered by a
// case-insensitive substring of name or city, annotated for sess.
//
// RecentVisitWarning is set when anyone visited the location inside the
// overlap window ending today and that visit is strictly newer than the
// caller's own newest visit.
func (s *LocationService) List(ctx context.Context, sess *session.Session, filter string) ([]LocationSummary, error) {
	tr := otel.Tracer("services/LocationService")
	ctx, span := tr.Start(ctx, "List", trace.WithAttributes(attribute.String("filter", filter)))
	defer span.End()

	if sess == nil {
		return nil, session.ErrNoSession
	}
	locs, err := repo.ListLocations(ctx, s.DB, filter)
	if err != nil {
		return nil, err
	}
	mine, err := repo.LatestVisitByLocation(ctx, s.DB, repo.VisitFilter{RecruiterID: sess.UserID}, time.Time{})
	if err != nil {
		return nil, err
	}
	_, since := s.Policy.Windows(s.now())
	recent, err := repo.LatestVisitByLocation(ctx, s.DB, repo.VisitFilter{}, since)
	if err != nil {
		return nil, err
	}

	out := make([]LocationSummary, 0, len(locs))
	for _, l := range locs {
		row := LocationSummary{Location: l}
		var own *conflict.PriorVisit
		if v, ok := mine[l.ID]; ok {
			p := priorVisit(v)
			own = &p
			row.VisitedByMe = true
			row.LastVisitDate = &p.VisitDate
		}
		var overlaps []conflict.PriorVisit
		if v, ok := recent[l.ID]; ok {
			overlaps = []conflict.PriorVisit{priorVisit(v)}
		}
		row.RecentVisitWarning = conflict.Evaluate(own, overlaps).HasOverlap
		out = append(out, row)
	}
	span.SetAttributes(attribute.Int("results", len(out)))
	return out, nil
}

// Get returns a location with its visits, newest first. Callers who do not
// see all projects get only the visits of projects assigned to them, and
// none when they have no assignment.
func (s *LocationService) Get(ctx context.Context, sess *session.Session, id string) (*LocationDetail, error) {
	tr := otel.Tracer("services/LocationService")
	ctx, span := tr.Start(ctx, "Get", trace.WithAttributes(attribute.String("location.id", id)))
	defer span.End()

	if sess == nil {
		return nil, session.ErrNoSession
	}
	loc, err := repo.GetLocation(ctx, s.DB, id)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrLocationNotFound
		}
		return nil, err
	}

	f := repo.VisitFilter{LocationID: id}
	if !sess.SeesAllProjects() {
		ids, err := repo.AssignedProjectIDs(ctx, s.DB, sess.UserID)
		if err != nil {
			return nil, err
		}
		if len(ids) == 0 {
			return &LocationDetail{Location: loc, Visits: []domain.Visit{}}, nil
		}
		f.ProjectIDs = ids
	}
	visits, err := repo.ListLocationVisits(ctx, s.DB, f, "", 0)
	if err != nil {
		return nil, err
	}
	return &LocationDetail{Location: loc, Visits: visits}, nil
}

// SearchHit is a ranked location.
type SearchHit struct {
	Location domain.Location `json:"location"`
	Score    float64         `json:"score"`
}

// Search ranks locations by fuzzy similarity of q to "name city address".
func (s *LocationService) Search(ctx context.Context, q string, limit int) ([]SearchHit, error) {
	tr := otel.Tracer("services/LocationService")
	ctx, span := tr.Start(ctx, "Search", trace.WithAttributes(attribute.String("query", q)))
	defer span.End()

	if strings.TrimSpace(q) == "" {
		return []SearchHit{}, nil
	}
	idx, byID, err := s.searchIndex(ctx)
	if err != nil {
		return nil, err
	}
	results := idx.TopK(q, limit)
	out := make([]SearchHit, 0, len(results))
	for _, r := range results {
		if loc, ok := byID[r.ID]; ok {
			out = append(out, SearchHit{Location: loc, Score: r.Score})
		}
	}
	span.SetAttributes(attribute.Int("results", len(out)))
	return out, nil
}

func (s *LocationService) searchIndex(ctx context.Context) (search.Index, map[string]domain.Location, error) {
	// Locations are re-read on each search so the ID map matches the index.
	locs, err := repo.ListLocations(ctx, s.DB, "")
	if err != nil {
		return nil, nil, err
	}
	byID := make(map[string]domain.Location, len(locs))
	for _, l := range locs {
		byID[l.ID] = l
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stale || s.index == nil || s.index.Len() != len(locs) {
		docs := make([]search.Document, 0, len(locs))
		for _, l := range locs {
			docs = append(docs, search.Document{ID: l.ID, Text: locationText(l)})
		}
		s.index = search.NewIndex(docs, search.WithMinScore(s.MinScore))
		s.stale = false
	}
	return s.index, byID, nil
}

func (s *LocationService) invalidate() {
	s.mu.Lock()
	s.stale = true
	s.mu.Unlock()
}

func locationText(l domain.Location) string {
	parts := []string{l.Name, l.City}
	if l.Address != nil {
		parts = append(parts, *l.Address)
	}
	return strings.Join(parts, " ")
}

func newLocation(ref LocationRef) *domain.Location {
	return &domain.Location{
		Name:      strings.TrimSpace(ref.Name),
		City:      strings.TrimSpace(ref.City),
		Address:   nullable(ref.Address),
		Website:   nullable(ref.Website),
		PosSystem: nullable(ref.PosSystem),
		Latitude:  ref.Latitude,
		Longitude: ref.Longitude,
	}
}

// nullable maps blank strings to nil so they are stored as NULL.
func nullable(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}
