package services

import (
	"context"
	"sort"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/go-visit-tracker/internal/domain"
	"github.com/tbourn/go-visit-tracker/internal/repo"
	"github.com/tbourn/go-visit-tracker/internal/session"
)

// Leaderboard sort keys.
const (
	SortVisits      = "visits"
	SortInterested  = "interested"
	SortDemoPlanned = "demo_planned"
)

// LeaderboardEntry is one recruiter's tally.
type LeaderboardEntry struct {
	RecruiterID   string     `json:"recruiter_id"`
	Name          string     `json:"name"`
	Nickname      *string    `json:"nickname,omitempty"`
	Role          string     `json:"role"`
	Visits        int        `json:"visits"`
	Interested    int        `json:"interested"`
	DemoPlanned   int        `json:"demo_planned"`
	NotInterested int        `json:"not_interested"`
	LastVisit     *time.Time `json:"last_visit,omitempty"`
}

// LeaderboardService ranks active recruiters by their visit counts.
type LeaderboardService struct {
	DB *gorm.DB
}

var leaderboardRoles = []domain.Role{domain.RoleRecruiter, domain.RoleAdmin, domain.RoleReichskanzlier}

// Ranking returns one entry per active recruiter, admin or reichskanzlier,
// sorted descending by sortBy (default visits). Ties keep name order.
func (s *LeaderboardService) Ranking(ctx context.Context, sess *session.Session, sortBy string) ([]LeaderboardEntry, error) {
	tr := otel.Tracer("services/LeaderboardService")
	ctx, span := tr.Start(ctx, "Ranking", trace.WithAttributes(attribute.String("sort", sortBy)))
	defer span.End()

	if err := requireAdmin(sess); err != nil {
		return nil, err
	}
	switch sortBy {
	case "":
		sortBy = SortVisits
	case SortVisits, SortInterested, SortDemoPlanned:
	default:
		return nil, &ValidationError{Fields: []string{"sort"}}
	}

	profiles, err := repo.ListProfiles(ctx, s.DB, leaderboardRoles, true)
	if err != nil {
		return nil, err
	}
	tallies, err := repo.ListVisitTallies(ctx, s.DB)
	if err != nil {
		return nil, err
	}

	entries := make([]LeaderboardEntry, len(profiles))
	byID := make(map[string]*LeaderboardEntry, len(profiles))
	for i, p := range profiles {
		entries[i] = LeaderboardEntry{
			RecruiterID: p.ID,
			Name:        p.Name,
			Nickname:    p.Nickname,
			Role:        string(p.Role),
		}
		byID[p.ID] = &entries[i]
	}
	for _, t := range tallies {
		e, ok := byID[t.RecruiterID]
		if !ok {
			continue
		}
		e.Visits++
		switch t.Status {
		case domain.StatusInterested:
			e.Interested++
		case domain.StatusDemoPlanned:
			e.DemoPlanned++
		case domain.StatusNotInterested:
			e.NotInterested++
		}
		if e.LastVisit == nil || t.VisitDate.After(*e.LastVisit) {
			d := t.VisitDate
			e.LastVisit = &d
		}
	}

	key := func(e LeaderboardEntry) int {
		switch sortBy {
		case SortInterested:
			return e.Interested
		case SortDemoPlanned:
			return e.DemoPlanned
		}
		return e.Visits
	}
	sort.SliceStable(entries, func(i, j int) bool { return key(entries[i]) > key(entries[j]) })
	return entries, nil
}
