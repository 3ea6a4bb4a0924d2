package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-visit-tracker/internal/conflict"
	"github.com/tbourn/go-visit-tracker/internal/domain"
	"github.com/tbourn/go-visit-tracker/internal/events"
	"github.com/tbourn/go-visit-tracker/internal/repo"
	"github.com/tbourn/go-visit-tracker/internal/session"
)

// ---------- test helpers ----------

func newSvcDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:svc_%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	db.Exec("PRAGMA foreign_keys=ON;")
	// One connection keeps concurrent tests free of shared-cache table locks.
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(1)
	}
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

var (
	ann   = &session.Session{UserID: "ann", Name: "Ann", Role: domain.RoleRecruiter}
	bob   = &session.Session{UserID: "bob", Name: "Bob", Role: domain.RoleRecruiter}
	admin = &session.Session{UserID: "root", Name: "Root", Role: domain.RoleAdmin}
)

// seedWorld creates ann and bob (both assigned to project p1), an admin and
// an inactive project p2.
func seedWorld(t *testing.T, db *gorm.DB) {
	t.Helper()
	ctx := context.Background()
	for _, p := range []*domain.Profile{
		{ID: "ann", Name: "Ann", Role: domain.RoleRecruiter, Active: true},
		{ID: "bob", Name: "Bob", Role: domain.RoleRecruiter, Active: true},
		{ID: "root", Name: "Root", Role: domain.RoleAdmin, Active: true},
	} {
		if err := repo.CreateProfile(ctx, db, p); err != nil {
			t.Fatalf("seed profile: %v", err)
		}
	}
	for _, p := range []*domain.Project{
		{ID: "p1", Name: "Orderli", Active: true},
		{ID: "p2", Name: "Archived", Active: true},
	} {
		if err := db.Create(p).Error; err != nil {
			t.Fatalf("seed project: %v", err)
		}
	}
	if err := db.Model(&domain.Project{}).Where("id = ?", "p2").Update("active", false).Error; err != nil {
		t.Fatalf("deactivate p2: %v", err)
	}
	for _, r := range []string{"ann", "bob"} {
		if err := repo.AssignRecruiter(ctx, db, "p1", r); err != nil {
			t.Fatalf("assign: %v", err)
		}
		if err := repo.AssignRecruiter(ctx, db, "p2", r); err != nil {
			t.Fatalf("assign: %v", err)
		}
	}
}

func newVisitSvc(db *gorm.DB) *VisitService {
	return NewVisitService(db, NewLocationService(db, 0))
}

func bistro(date string) VisitInput {
	return VisitInput{
		ProjectID: "p1",
		Location:  LocationRef{Name: "Bistro Noord", City: "Utrecht"},
		VisitDate: date,
		PosSystem: "Lightspeed",
		SpokenTo:  "owner",
	}
}

func countVisits(t *testing.T, db *gorm.DB) int64 {
	t.Helper()
	var n int64
	if err := db.Model(&domain.Visit{}).Count(&n).Error; err != nil {
		t.Fatalf("count visits: %v", err)
	}
	return n
}

type recordingPublisher struct {
	mu   sync.Mutex
	got  []events.VisitCreated
	fail error
}

func (p *recordingPublisher) PublishVisitCreated(_ context.Context, ev events.VisitCreated) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.got = append(p.got, ev)
	return p.fail
}

func (p *recordingPublisher) Close() error { return nil }

// ---------- Submit ----------

func TestSubmit_BistroNoordScenario(t *testing.T) {
	db := newSvcDB(t)
	seedWorld(t, db)
	s := newVisitSvc(db)
	ctx := context.Background()

	first, err := s.Submit(ctx, ann, bistro("2024-01-01"))
	if err != nil {
		t.Fatalf("first submit: %v", err)
	}
	if !first.Created || !first.LocationCreated || first.Decision.Outcome != conflict.OutcomeClear {
		t.Fatalf("unexpected first result %+v", first)
	}

	// Same venue typed differently, 45 days later: duplicate.
	in := bistro("2024-02-15")
	in.Location = LocationRef{Name: "bistro noord", City: "UTRECHT"}
	in.ProceedOnOverlap = true
	second, err := s.Submit(ctx, ann, in)
	if err != nil {
		t.Fatalf("second submit: %v", err)
	}
	if second.Created || second.Decision.Outcome != conflict.OutcomeDuplicate {
		t.Fatalf("expected blocked duplicate, got %+v", second.Decision)
	}
	if second.LocationCreated || second.Location.ID != first.Location.ID {
		t.Fatalf("casing variant must reuse the location")
	}
	if d := second.Decision.Duplicate; d == nil || d.VisitDate.Format(time.DateOnly) != "2024-01-01" || d.Status != domain.StatusVisited {
		t.Fatalf("duplicate must report the existing visit, got %+v", d)
	}
	if n := countVisits(t, db); n != 1 {
		t.Fatalf("duplicate must not insert, have %d visits", n)
	}

	// 64 days after the first visit both windows are clear.
	third, err := s.Submit(ctx, ann, bistro("2024-03-05"))
	if err != nil {
		t.Fatalf("third submit: %v", err)
	}
	if !third.Created || third.Decision.Outcome != conflict.OutcomeClear {
		t.Fatalf("expected clear create, got %+v", third.Decision)
	}
	if n := countVisits(t, db); n != 2 {
		t.Fatalf("want 2 visits, have %d", n)
	}
}

func TestSubmit_OverlapNeedsAcknowledgement(t *testing.T) {
	db := newSvcDB(t)
	seedWorld(t, db)
	s := newVisitSvc(db)
	ctx := context.Background()

	if _, err := s.Submit(ctx, bob, bistro("2024-02-10")); err != nil {
		t.Fatalf("bob submit: %v", err)
	}

	res, err := s.Submit(ctx, ann, bistro("2024-02-20"))
	if err != nil {
		t.Fatalf("ann submit: %v", err)
	}
	if res.Created || res.Decision.Outcome != conflict.OutcomeOverlap {
		t.Fatalf("expected overlap warning, got %+v", res.Decision)
	}
	c := res.Decision.Conflicting()
	if c == nil || c.RecruiterName != "Bob" || c.VisitDate.Format(time.DateOnly) != "2024-02-10" {
		t.Fatalf("unexpected conflicting row %+v", c)
	}
	if n := countVisits(t, db); n != 1 {
		t.Fatalf("overlap must not insert without acknowledgement, have %d", n)
	}

	in := bistro("2024-02-20")
	in.ProceedOnOverlap = true
	res, err = s.Submit(ctx, ann, in)
	if err != nil {
		t.Fatalf("acknowledged submit: %v", err)
	}
	if !res.Created || res.Visit == nil || res.Visit.RecruiterID != "ann" {
		t.Fatalf("expected created visit, got %+v", res)
	}
	if n := countVisits(t, db); n != 2 {
		t.Fatalf("want 2 visits, have %d", n)
	}
}

func TestSubmit_OwnNewerVisitSuppressesOverlap(t *testing.T) {
	db := newSvcDB(t)
	seedWorld(t, db)
	s := newVisitSvc(db)
	ctx := context.Background()

	if _, err := s.Submit(ctx, bob, bistro("2024-02-01")); err != nil {
		t.Fatalf("bob: %v", err)
	}
	in := bistro("2024-02-05")
	in.ProceedOnOverlap = true
	if _, err := s.Submit(ctx, ann, in); err != nil {
		t.Fatalf("ann: %v", err)
	}

	dec, err := s.CheckConflicts(ctx, ann, LocationRef{Name: "Bistro Noord", City: "Utrecht"}, "2024-02-20")
	if err != nil {
		t.Fatalf("CheckConflicts: %v", err)
	}
	if dec.Outcome != conflict.OutcomeDuplicate || dec.HasOverlap {
		t.Fatalf("own newer visit: want duplicate without overlap flag, got %+v", dec)
	}
}

func TestSubmit_Validation(t *testing.T) {
	db := newSvcDB(t)
	seedWorld(t, db)
	s := newVisitSvc(db)

	_, err := s.Submit(context.Background(), ann, VisitInput{Status: "bogus", VisitDate: "15-02-2024"})
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	want := "project_id,location,pos_system,spoken_to,visit_date,status"
	if got := strings.Join(ve.Fields, ","); got != want {
		t.Fatalf("fields = %s; want %s", got, want)
	}
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("ValidationError must unwrap to ErrValidation")
	}
	if n := countVisits(t, db); n != 0 {
		t.Fatalf("validation failure must not insert")
	}
}

func TestSubmit_DefaultsStatusAndNullsBlankOptionals(t *testing.T) {
	db := newSvcDB(t)
	seedWorld(t, db)
	s := newVisitSvc(db)

	in := bistro("2024-01-01")
	in.Notes = "   "
	in.TakeawayPlatforms = "Thuisbezorgd"
	res, err := s.Submit(context.Background(), ann, in)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	v, err := repo.GetVisit(context.Background(), db, res.Visit.ID)
	if err != nil {
		t.Fatalf("GetVisit: %v", err)
	}
	if v.Status != domain.StatusVisited {
		t.Fatalf("status default = %s", v.Status)
	}
	if v.Notes != nil || v.DeliveryPlatforms != nil {
		t.Fatalf("blank optionals must be NULL")
	}
	if v.TakeawayPlatforms == nil || *v.TakeawayPlatforms != "Thuisbezorgd" {
		t.Fatalf("takeaway platforms not stored")
	}
	if !v.VisitDate.Equal(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("visit date = %v", v.VisitDate)
	}
}

func TestSubmit_ProjectRules(t *testing.T) {
	db := newSvcDB(t)
	seedWorld(t, db)
	s := newVisitSvc(db)
	ctx := context.Background()

	in := bistro("2024-01-01")
	in.ProjectID = "p2"
	if _, err := s.Submit(ctx, ann, in); !errors.Is(err, ErrProjectNotAllowed) {
		t.Fatalf("inactive project: want ErrProjectNotAllowed, got %v", err)
	}

	in.ProjectID = "nope"
	if _, err := s.Submit(ctx, ann, in); !errors.Is(err, ErrProjectNotFound) {
		t.Fatalf("unknown project: want ErrProjectNotFound, got %v", err)
	}

	if err := repo.UnassignRecruiter(ctx, db, "p1", "bob"); err != nil {
		t.Fatalf("unassign: %v", err)
	}
	if _, err := s.Submit(ctx, bob, bistro("2024-01-01")); !errors.Is(err, ErrProjectNotAllowed) {
		t.Fatalf("unassigned: want ErrProjectNotAllowed, got %v", err)
	}

	// Admins need no assignment.
	if res, err := s.Submit(ctx, admin, bistro("2024-01-01")); err != nil || !res.Created {
		t.Fatalf("admin submit: (%+v, %v)", res, err)
	}
}

func TestSubmit_UnknownLocationID(t *testing.T) {
	db := newSvcDB(t)
	seedWorld(t, db)
	s := newVisitSvc(db)

	in := bistro("2024-01-01")
	in.Location = LocationRef{ID: "missing"}
	if _, err := s.Submit(context.Background(), ann, in); !errors.Is(err, ErrLocationNotFound) {
		t.Fatalf("want ErrLocationNotFound, got %v", err)
	}
}

func TestSubmit_NoSession(t *testing.T) {
	s := newVisitSvc(newSvcDB(t))
	if _, err := s.Submit(context.Background(), nil, bistro("2024-01-01")); !errors.Is(err, session.ErrNoSession) {
		t.Fatalf("want ErrNoSession, got %v", err)
	}
}

func TestSubmit_QueryFailureIsSubmitFailed(t *testing.T) {
	db := newSvcDB(t)
	seedWorld(t, db)
	s := newVisitSvc(db)
	ctx := context.Background()

	loc, err := s.Locations.Create(ctx, LocationRef{Name: "Bistro Noord", City: "Utrecht"})
	if err != nil {
		t.Fatalf("create location: %v", err)
	}
	if err := db.Migrator().DropTable(&domain.Visit{}); err != nil {
		t.Fatalf("drop visits: %v", err)
	}
	in := bistro("2024-01-01")
	in.Location = LocationRef{ID: loc.ID}
	if _, err := s.Submit(ctx, ann, in); !errors.Is(err, ErrSubmitFailed) {
		t.Fatalf("want ErrSubmitFailed, got %v", err)
	}
}

func TestSubmit_PublishesEventBestEffort(t *testing.T) {
	db := newSvcDB(t)
	seedWorld(t, db)
	s := newVisitSvc(db)
	pub := &recordingPublisher{fail: errors.New("broker down")}
	s.Events = pub
	s.Now = func() time.Time { return time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC) }

	res, err := s.Submit(context.Background(), ann, bistro("2024-01-01"))
	if err != nil || !res.Created {
		t.Fatalf("publish failure must not fail the submit: (%+v, %v)", res, err)
	}
	if len(pub.got) != 1 {
		t.Fatalf("want 1 event, got %d", len(pub.got))
	}
	ev := pub.got[0]
	if ev.VisitID != res.Visit.ID || ev.VisitDate != "2024-01-01" || ev.RecruiterID != "ann" {
		t.Fatalf("unexpected event %+v", ev)
	}

	// Blocked outcomes publish nothing.
	if _, err := s.Submit(context.Background(), ann, bistro("2024-01-02")); err != nil {
		t.Fatalf("dup submit: %v", err)
	}
	if len(pub.got) != 1 {
		t.Fatalf("duplicate must not publish")
	}
}

func TestSubmit_CountsOutcomes(t *testing.T) {
	db := newSvcDB(t)
	seedWorld(t, db)
	s := newVisitSvc(db)
	ctx := context.Background()

	created := testutil.ToFloat64(visitSubmissions.WithLabelValues(outcomeCreated))
	dup := testutil.ToFloat64(visitSubmissions.WithLabelValues(outcomeDuplicate))
	invalid := testutil.ToFloat64(visitSubmissions.WithLabelValues(outcomeInvalid))

	_, _ = s.Submit(ctx, ann, bistro("2024-01-01"))
	_, _ = s.Submit(ctx, ann, bistro("2024-01-10"))
	_, _ = s.Submit(ctx, ann, VisitInput{})

	if d := testutil.ToFloat64(visitSubmissions.WithLabelValues(outcomeCreated)) - created; d != 1 {
		t.Fatalf("created delta = %v", d)
	}
	if d := testutil.ToFloat64(visitSubmissions.WithLabelValues(outcomeDuplicate)) - dup; d != 1 {
		t.Fatalf("duplicate delta = %v", d)
	}
	if d := testutil.ToFloat64(visitSubmissions.WithLabelValues(outcomeInvalid)) - invalid; d != 1 {
		t.Fatalf("invalid delta = %v", d)
	}
}

func TestSubmit_SerializedConcurrentSubmitsCreateOne(t *testing.T) {
	db := newSvcDB(t)
	seedWorld(t, db)
	ctx := context.Background()

	recruiters := []*session.Session{ann, bob}
	for i := 0; i < 4; i++ {
		id := fmt.Sprintf("r%d", i)
		if err := repo.CreateProfile(ctx, db, &domain.Profile{ID: id, Name: id, Role: domain.RoleRecruiter, Active: true}); err != nil {
			t.Fatalf("profile: %v", err)
		}
		if err := repo.AssignRecruiter(ctx, db, "p1", id); err != nil {
			t.Fatalf("assign: %v", err)
		}
		recruiters = append(recruiters, &session.Session{UserID: id, Name: id, Role: domain.RoleRecruiter})
	}

	s := newVisitSvc(db)
	s.Serialize = true
	loc, err := s.Locations.Create(ctx, LocationRef{Name: "Bistro Noord", City: "Utrecht"})
	if err != nil {
		t.Fatalf("location: %v", err)
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
	)
	for _, r := range recruiters {
		wg.Add(1)
		go func(sess *session.Session) {
			defer wg.Done()
			in := bistro("2024-02-01")
			in.Location = LocationRef{ID: loc.ID}
			res, err := s.Submit(ctx, sess, in)
			if err != nil {
				t.Errorf("submit %s: %v", sess.UserID, err)
				return
			}
			if res.Created {
				mu.Lock()
				created++
				mu.Unlock()
			} else if res.Decision.Outcome != conflict.OutcomeOverlap {
				t.Errorf("loser %s: want overlap, got %s", sess.UserID, res.Decision.Outcome)
			}
		}(r)
	}
	wg.Wait()

	if created != 1 {
		t.Fatalf("serialized submits: want exactly 1 created, got %d", created)
	}
	if n := countVisits(t, db); n != 1 {
		t.Fatalf("want 1 visit row, have %d", n)
	}
}

func TestSubmit_SerializedLockReleasedAfterPanic(t *testing.T) {
	db := newSvcDB(t)
	seedWorld(t, db)
	ctx := context.Background()

	var armed atomic.Bool
	armed.Store(true)
	err := db.Callback().Create().Before("gorm:create").Register("test:panic_once", func(tx *gorm.DB) {
		if _, ok := tx.Statement.Dest.(*domain.Visit); ok && armed.CompareAndSwap(true, false) {
			panic("insert blew up")
		}
	})
	if err != nil {
		t.Fatalf("register callback: %v", err)
	}

	s := newVisitSvc(db)
	s.Serialize = true

	func() {
		defer func() {
			if r := recover(); r == nil {
				t.Fatalf("first submit should have panicked")
			}
		}()
		_, _ = s.Submit(ctx, ann, bistro("2024-02-01"))
	}()

	done := make(chan error, 1)
	go func() {
		res, err := s.Submit(ctx, bob, bistro("2024-02-01"))
		if err == nil && !res.Created {
			err = fmt.Errorf("want created, got %s", res.Decision.Outcome)
		}
		done <- err
	}()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("second submit: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("second submit blocked: location lock still held")
	}
	if n := countVisits(t, db); n != 1 {
		t.Fatalf("want 1 visit row, have %d", n)
	}
}

// ---------- CheckConflicts ----------

func TestCheckConflicts_WindowBoundaries(t *testing.T) {
	db := newSvcDB(t)
	seedWorld(t, db)
	s := newVisitSvc(db)
	ctx := context.Background()

	// Separate locations so each prior visit is the only one in play.
	own := bistro("2024-01-01")
	own.Location = LocationRef{Name: "Eigen Zaak", City: "Gouda"}
	if res, err := s.Submit(ctx, ann, own); err != nil || !res.Created {
		t.Fatalf("seed ann: (%+v, %v)", res, err)
	}
	other := bistro("2024-01-01")
	other.Location = LocationRef{Name: "Andere Zaak", City: "Gouda"}
	if res, err := s.Submit(ctx, bob, other); err != nil || !res.Created {
		t.Fatalf("seed bob: (%+v, %v)", res, err)
	}

	cases := []struct {
		name string
		loc  LocationRef
		date string
		want conflict.Outcome
	}{
		{"own visit 60 days back", own.Location, "2024-03-01", conflict.OutcomeDuplicate},
		{"own visit 61 days back", own.Location, "2024-03-02", conflict.OutcomeClear},
		{"other visit 30 days back", other.Location, "2024-01-31", conflict.OutcomeOverlap},
		{"other visit 31 days back", other.Location, "2024-02-01", conflict.OutcomeClear},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			dec, err := s.CheckConflicts(ctx, ann, tc.loc, tc.date)
			if err != nil {
				t.Fatalf("check: %v", err)
			}
			if dec.Outcome != tc.want {
				t.Fatalf("outcome = %s, want %s", dec.Outcome, tc.want)
			}
		})
	}
}

func TestCheckConflicts_UnknownLocationIsClear(t *testing.T) {
	db := newSvcDB(t)
	seedWorld(t, db)
	s := newVisitSvc(db)

	dec, err := s.CheckConflicts(context.Background(), ann, LocationRef{Name: "Nowhere", City: "Zwolle"}, "2024-01-01")
	if err != nil || dec.Outcome != conflict.OutcomeClear {
		t.Fatalf("want clear, got (%+v, %v)", dec, err)
	}
	var n int64
	db.Model(&domain.Location{}).Count(&n)
	if n != 0 {
		t.Fatalf("check must not create locations")
	}
}

func TestCheckConflicts_BadInput(t *testing.T) {
	s := newVisitSvc(newSvcDB(t))
	ctx := context.Background()
	if _, err := s.CheckConflicts(ctx, ann, LocationRef{}, "2024-01-01"); !errors.Is(err, ErrValidation) {
		t.Fatalf("missing location: %v", err)
	}
	if _, err := s.CheckConflicts(ctx, ann, LocationRef{ID: "x"}, "yesterday"); !errors.Is(err, ErrValidation) {
		t.Fatalf("bad date: %v", err)
	}
}

// ---------- Dashboard / detail / edits ----------

func seedVisits(t *testing.T, s *VisitService) (annVisit, bobVisit string) {
	t.Helper()
	ctx := context.Background()
	a, err := s.Submit(ctx, ann, bistro("2024-01-01"))
	if err != nil || !a.Created {
		t.Fatalf("ann visit: (%+v, %v)", a, err)
	}
	in := bistro("2024-01-05")
	in.ProceedOnOverlap = true
	in.Status = domain.StatusInterested
	b, err := s.Submit(ctx, bob, in)
	if err != nil || !b.Created {
		t.Fatalf("bob visit: (%+v, %v)", b, err)
	}
	return a.Visit.ID, b.Visit.ID
}

func TestDashboard_Visibility(t *testing.T) {
	db := newSvcDB(t)
	seedWorld(t, db)
	s := newVisitSvc(db)
	seedVisits(t, s)
	ctx := context.Background()

	items, total, err := s.Dashboard(ctx, ann, DashboardFilter{}, 1, 20)
	if err != nil || total != 1 || len(items) != 1 || items[0].RecruiterID != "ann" {
		t.Fatalf("recruiter dashboard: (%d, %d, %v)", len(items), total, err)
	}

	items, total, err = s.Dashboard(ctx, admin, DashboardFilter{}, 1, 20)
	if err != nil || total != 2 || len(items) != 2 {
		t.Fatalf("admin dashboard: (%d, %d, %v)", len(items), total, err)
	}
	if items[0].Location == nil || items[0].Recruiter == nil || items[0].Project == nil {
		t.Fatalf("relations must be preloaded")
	}

	items, total, err = s.Dashboard(ctx, admin, DashboardFilter{Status: domain.StatusInterested}, 1, 20)
	if err != nil || total != 1 || items[0].RecruiterID != "bob" {
		t.Fatalf("status filter: (%d, %v)", total, err)
	}

	if _, _, err := s.Dashboard(ctx, admin, DashboardFilter{Status: "bogus"}, 1, 20); !errors.Is(err, ErrInvalidStatus) {
		t.Fatalf("bad status filter: %v", err)
	}
}

func TestDashboard_Search(t *testing.T) {
	db := newSvcDB(t)
	seedWorld(t, db)
	s := newVisitSvc(db)
	annID, bobID := seedVisits(t, s)
	ctx := context.Background()

	if _, err := s.UpdateNotes(ctx, bob, bobID, "wants a demo"); err != nil {
		t.Fatalf("notes: %v", err)
	}

	cases := []struct {
		name   string
		sess   *session.Session
		search string
		want   []string
	}{
		{"location name", admin, "bistro", []string{bobID, annID}},
		{"city", admin, "UTRECHT", []string{bobID, annID}},
		{"notes", admin, "DEMO", []string{bobID}},
		{"recruiter name for admin", admin, "bob", []string{bobID}},
		{"recruiter name ignored for recruiter", bob, "bob", nil},
		{"own rows only", ann, "bistro", []string{annID}},
		{"no match", admin, "zwolle", nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			items, total, err := s.Dashboard(ctx, tc.sess, DashboardFilter{Search: tc.search}, 1, 20)
			if err != nil {
				t.Fatalf("dashboard: %v", err)
			}
			var got []string
			for _, v := range items {
				got = append(got, v.ID)
			}
			if int(total) != len(tc.want) || strings.Join(got, ",") != strings.Join(tc.want, ",") {
				t.Fatalf("got %v (total %d), want %v", got, total, tc.want)
			}
		})
	}
}

func TestGet_OwnerOrAdmin(t *testing.T) {
	db := newSvcDB(t)
	seedWorld(t, db)
	s := newVisitSvc(db)
	annID, bobID := seedVisits(t, s)
	ctx := context.Background()

	if _, err := s.Get(ctx, ann, bobID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("foreign visit: want ErrForbidden, got %v", err)
	}
	d, err := s.Get(ctx, admin, annID)
	if err != nil {
		t.Fatalf("admin get: %v", err)
	}
	if len(d.OtherVisits) != 1 || d.OtherVisits[0].ID != bobID {
		t.Fatalf("other visits = %+v", d.OtherVisits)
	}
	if _, err := s.Get(ctx, admin, "missing"); !errors.Is(err, ErrVisitNotFound) {
		t.Fatalf("missing: %v", err)
	}
}

func TestUpdateStatusAndNotes(t *testing.T) {
	db := newSvcDB(t)
	seedWorld(t, db)
	s := newVisitSvc(db)
	annID, bobID := seedVisits(t, s)
	ctx := context.Background()

	if _, err := s.UpdateStatus(ctx, ann, annID, "bogus"); !errors.Is(err, ErrInvalidStatus) {
		t.Fatalf("invalid status: %v", err)
	}
	if _, err := s.UpdateStatus(ctx, ann, bobID, domain.StatusDemoPlanned); !errors.Is(err, ErrForbidden) {
		t.Fatalf("foreign status update: %v", err)
	}
	v, err := s.UpdateStatus(ctx, ann, annID, domain.StatusDemoPlanned)
	if err != nil || v.Status != domain.StatusDemoPlanned {
		t.Fatalf("UpdateStatus: (%+v, %v)", v, err)
	}

	v, err = s.UpdateNotes(ctx, admin, annID, "call back Friday")
	if err != nil || v.Notes == nil || *v.Notes != "call back Friday" {
		t.Fatalf("UpdateNotes: (%+v, %v)", v, err)
	}
	v, err = s.UpdateNotes(ctx, ann, annID, "  ")
	if err != nil || v.Notes != nil {
		t.Fatalf("blank notes must clear: (%+v, %v)", v, err)
	}
}

func TestVisitCalendarURL(t *testing.T) {
	db := newSvcDB(t)
	seedWorld(t, db)
	s := newVisitSvc(db)
	annID, _ := seedVisits(t, s)
	s.Now = func() time.Time { return time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC) }

	u, err := s.CalendarURL(context.Background(), ann, annID, time.Time{})
	if err != nil {
		t.Fatalf("CalendarURL: %v", err)
	}
	if !strings.Contains(u, "text=Visit%3A+Bistro+Noord") {
		t.Fatalf("title missing in %s", u)
	}
	if !strings.Contains(u, "dates=20240302T100000%2F20240302T110000") {
		t.Fatalf("default start must be now+24h, got %s", u)
	}
}
