// Package services – FletcherService
//
// FletcherService runs the Fletcher APK checklist workflow: a run is one
// inspection of a location, seeded with every item of the embedded
// checklist, and carries section notes, follow-up todos and error findings.
// Only admins and Fletcher admins may use it.
//
// Every toggle or edit is a single write; when it fails nothing changes and
// the error is returned to the caller.
package services

import (
	"context"
	"errors"
	"math"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/go-visit-tracker/internal/calendar"
	"github.com/tbourn/go-visit-tracker/internal/checklist"
	"github.com/tbourn/go-visit-tracker/internal/domain"
	"github.com/tbourn/go-visit-tracker/internal/repo"
	"github.com/tbourn/go-visit-tracker/internal/session"
)

// Calendar link kinds for a run.
const (
	CalendarAPK   = "apk"
	CalendarTodos = "todos"
)

// RunSummary is a run in the overview list with its progress.
type RunSummary struct {
	domain.FletcherRun
	Checked int64 `json:"checked"`
	Total   int   `json:"total"`
	Percent int   `json:"percent"`
}

// RunOverview is the run list plus header statistics.
type RunOverview struct {
	Runs  []RunSummary   `json:"runs"`
	Stats repo.RunCounts `json:"stats"`
}

// RunDetail is a run with all its child rows.
type RunDetail struct {
	Run     *domain.FletcherRun        `json:"run"`
	Items   []domain.FletcherCheckItem `json:"items"`
	Todos   []domain.FletcherTodo      `json:"todos"`
	Errors  []domain.FletcherError     `json:"errors"`
	Checked int                        `json:"checked"`
	Total   int                        `json:"total"`
	Percent int                        `json:"percent"`
}

// RunPatch holds the free-text fields of a run. Nil fields are unchanged.
type RunPatch struct {
	OpenQ1Knelpunten *string
	OpenQ2Meerwaarde *string
	MeetingNotes     *string
}

// ItemPatch updates a check item. A blank note clears it.
type ItemPatch struct {
	Checked *bool
	Note    *string
}

// FletcherService coordinates APK runs.
type FletcherService struct {
	DB        *gorm.DB
	Checklist *checklist.Checklist

	// Now is the clock; nil means time.Now.
	Now func() time.Time
}

// NewFletcherService returns a service using the embedded checklist.
func NewFletcherService(db *gorm.DB) *FletcherService {
	return &FletcherService{DB: db, Checklist: checklist.Fletcher()}
}

func (s *FletcherService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *FletcherService) list() *checklist.Checklist {
	if s.Checklist == nil {
		return checklist.Fletcher()
	}
	return s.Checklist
}

// Create starts a draft run for locationID and seeds one unchecked item per
// checklist item.
func (s *FletcherService) Create(ctx context.Context, sess *session.Session, locationID string) (*domain.FletcherRun, error) {
	tr := otel.Tracer("services/FletcherService")
	ctx, span := tr.Start(ctx, "Create", trace.WithAttributes(attribute.String("location.id", locationID)))
	defer span.End()

	if err := requireFletcher(sess); err != nil {
		return nil, err
	}
	locationID = strings.TrimSpace(locationID)
	if locationID == "" {
		return nil, &ValidationError{Fields: []string{"location_id"}}
	}
	loc, err := repo.GetLocation(ctx, s.DB, locationID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrLocationNotFound
		}
		return nil, err
	}

	flat := s.list().Flatten()
	items := make([]domain.FletcherCheckItem, 0, len(flat))
	for _, it := range flat {
		items = append(items, domain.FletcherCheckItem{
			ItemKey:  it.Key,
			Section:  it.Section,
			Label:    it.Label,
			Position: it.Position,
		})
	}
	run := &domain.FletcherRun{LocationID: loc.ID, CreatedBy: sess.UserID}
	if err := repo.CreateRun(ctx, s.DB, run, items); err != nil {
		return nil, err
	}
	run.Location = loc
	return run, nil
}

// List returns runs newest first with their progress and the overview
// statistics. query filters on location name, city or creator name.
func (s *FletcherService) List(ctx context.Context, sess *session.Session, query string) (*RunOverview, error) {
	tr := otel.Tracer("services/FletcherService")
	ctx, span := tr.Start(ctx, "List", trace.WithAttributes(attribute.String("query", query)))
	defer span.End()

	if err := requireFletcher(sess); err != nil {
		return nil, err
	}
	runs, err := repo.ListRuns(ctx, s.DB, query)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(runs))
	for i, r := range runs {
		ids[i] = r.ID
	}
	checked, err := repo.CheckedCounts(ctx, s.DB, ids)
	if err != nil {
		return nil, err
	}
	stats, err := repo.CountRuns(ctx, s.DB, s.now().AddDate(0, 0, -7))
	if err != nil {
		return nil, err
	}

	total := s.list().Total()
	out := make([]RunSummary, 0, len(runs))
	for _, r := range runs {
		n := checked[r.ID]
		out = append(out, RunSummary{
			FletcherRun: r,
			Checked:     n,
			Total:       total,
			Percent:     percent(int(n), total),
		})
	}
	return &RunOverview{Runs: out, Stats: stats}, nil
}

// Get returns a run with items in checklist order, todos oldest first and
// errors newest first.
func (s *FletcherService) Get(ctx context.Context, sess *session.Session, id string) (*RunDetail, error) {
	tr := otel.Tracer("services/FletcherService")
	ctx, span := tr.Start(ctx, "Get", trace.WithAttributes(attribute.String("run.id", id)))
	defer span.End()

	if err := requireFletcher(sess); err != nil {
		return nil, err
	}
	run, err := s.run(ctx, id)
	if err != nil {
		return nil, err
	}
	items, err := repo.ListCheckItems(ctx, s.DB, id)
	if err != nil {
		return nil, err
	}
	todos, err := repo.ListTodos(ctx, s.DB, id)
	if err != nil {
		return nil, err
	}
	errs, err := repo.ListRunErrors(ctx, s.DB, id)
	if err != nil {
		return nil, err
	}

	checked := 0
	for _, it := range items {
		if it.Checked {
			checked++
		}
	}
	return &RunDetail{
		Run:     run,
		Items:   items,
		Todos:   todos,
		Errors:  errs,
		Checked: checked,
		Total:   len(items),
		Percent: percent(checked, len(items)),
	}, nil
}

// Update writes the open questions and meeting notes.
func (s *FletcherService) Update(ctx context.Context, sess *session.Session, id string, p RunPatch) (*domain.FletcherRun, error) {
	if err := requireFletcher(sess); err != nil {
		return nil, err
	}
	fields := map[string]any{}
	if p.OpenQ1Knelpunten != nil {
		fields["open_q1_knelpunten"] = *p.OpenQ1Knelpunten
	}
	if p.OpenQ2Meerwaarde != nil {
		fields["open_q2_meerwaarde"] = *p.OpenQ2Meerwaarde
	}
	if p.MeetingNotes != nil {
		fields["meeting_notes"] = *p.MeetingNotes
	}
	if len(fields) == 0 {
		return s.run(ctx, id)
	}
	if err := repo.UpdateRunFields(ctx, s.DB, id, fields); err != nil {
		return nil, runNotFound(err)
	}
	return s.run(ctx, id)
}

// SetSectionNote stores the note for one checklist section. A blank note
// removes it.
func (s *FletcherService) SetSectionNote(ctx context.Context, sess *session.Session, id, section, note string) (map[string]string, error) {
	if err := requireFletcher(sess); err != nil {
		return nil, err
	}
	if !s.list().HasSection(section) {
		return nil, ErrSectionNotFound
	}
	run, err := s.run(ctx, id)
	if err != nil {
		return nil, err
	}
	notes := make(map[string]string, len(run.SectionNotes)+1)
	for k, v := range run.SectionNotes {
		notes[k] = v
	}
	if note = strings.TrimSpace(note); note == "" {
		delete(notes, section)
	} else {
		notes[section] = note
	}
	if err := repo.SaveSectionNotes(ctx, s.DB, id, notes); err != nil {
		return nil, runNotFound(err)
	}
	return notes, nil
}

// UpdateItem toggles and/or annotates one check item.
func (s *FletcherService) UpdateItem(ctx context.Context, sess *session.Session, id, itemKey string, p ItemPatch) (*domain.FletcherCheckItem, error) {
	tr := otel.Tracer("services/FletcherService")
	ctx, span := tr.Start(ctx, "UpdateItem",
		trace.WithAttributes(
			attribute.String("run.id", id),
			attribute.String("item.key", itemKey),
		),
	)
	defer span.End()

	if err := requireFletcher(sess); err != nil {
		return nil, err
	}
	if _, err := s.run(ctx, id); err != nil {
		return nil, err
	}
	fields := map[string]any{}
	if p.Checked != nil {
		fields["checked"] = *p.Checked
	}
	if p.Note != nil {
		fields["note"] = nullable(*p.Note)
	}
	if len(fields) == 0 {
		return nil, &ValidationError{Fields: []string{"checked", "note"}}
	}
	item, err := repo.UpdateCheckItem(ctx, s.DB, id, itemKey, fields)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrItemNotFound
	}
	return item, err
}

// Submit marks a draft run as submitted. A submitted run cannot be
// submitted again.
func (s *FletcherService) Submit(ctx context.Context, sess *session.Session, id string) (*domain.FletcherRun, error) {
	tr := otel.Tracer("services/FletcherService")
	ctx, span := tr.Start(ctx, "Submit", trace.WithAttributes(attribute.String("run.id", id)))
	defer span.End()

	if err := requireFletcher(sess); err != nil {
		return nil, err
	}
	run, err := s.run(ctx, id)
	if err != nil {
		return nil, err
	}
	if run.Status == domain.RunSubmitted {
		return nil, ErrRunSubmitted
	}
	if err := repo.SetRunStatus(ctx, s.DB, id, domain.RunDraft, domain.RunSubmitted); err != nil {
		// Lost a race with another submit.
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrRunSubmitted
		}
		return nil, err
	}
	return s.run(ctx, id)
}

// AddTodo records a follow-up action.
func (s *FletcherService) AddTodo(ctx context.Context, sess *session.Session, id, text string) (*domain.FletcherTodo, error) {
	if err := s.childGate(ctx, sess, id); err != nil {
		return nil, err
	}
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyText
	}
	t := &domain.FletcherTodo{RunID: id, Text: text}
	if err := repo.CreateTodo(ctx, s.DB, t); err != nil {
		return nil, err
	}
	return t, nil
}

// SetTodoDone marks a todo done or open.
func (s *FletcherService) SetTodoDone(ctx context.Context, sess *session.Session, id, todoID string, done bool) (*domain.FletcherTodo, error) {
	if err := s.childGate(ctx, sess, id); err != nil {
		return nil, err
	}
	t, err := repo.UpdateTodo(ctx, s.DB, id, todoID, map[string]any{"done": done})
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrTodoNotFound
	}
	return t, err
}

// DeleteTodo removes a todo.
func (s *FletcherService) DeleteTodo(ctx context.Context, sess *session.Session, id, todoID string) error {
	if err := s.childGate(ctx, sess, id); err != nil {
		return err
	}
	if err := repo.DeleteTodo(ctx, s.DB, id, todoID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return ErrTodoNotFound
		}
		return err
	}
	return nil
}

// AddError records a problem found at the venue.
func (s *FletcherService) AddError(ctx context.Context, sess *session.Session, id, text string) (*domain.FletcherError, error) {
	if err := s.childGate(ctx, sess, id); err != nil {
		return nil, err
	}
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyText
	}
	e := &domain.FletcherError{RunID: id, Text: text}
	if err := repo.CreateRunError(ctx, s.DB, e); err != nil {
		return nil, err
	}
	return e, nil
}

// SetErrorResolved marks an error resolved or open.
func (s *FletcherService) SetErrorResolved(ctx context.Context, sess *session.Session, id, errorID string, resolved bool) (*domain.FletcherError, error) {
	if err := s.childGate(ctx, sess, id); err != nil {
		return nil, err
	}
	e, err := repo.UpdateRunError(ctx, s.DB, id, errorID, map[string]any{"resolved": resolved})
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrRunErrorNotFound
	}
	return e, err
}

// DeleteError removes an error finding.
func (s *FletcherService) DeleteError(ctx context.Context, sess *session.Session, id, errorID string) error {
	if err := s.childGate(ctx, sess, id); err != nil {
		return err
	}
	if err := repo.DeleteRunError(ctx, s.DB, id, errorID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return ErrRunErrorNotFound
		}
		return err
	}
	return nil
}

// CalendarURL builds a Google Calendar link for the run's location. kind
// CalendarAPK (default) plans a two-hour APK appointment; CalendarTodos
// plans a follow-up listing every open todo. A zero start means DefaultStart.
func (s *FletcherService) CalendarURL(ctx context.Context, sess *session.Session, id, kind string, start time.Time) (string, error) {
	if err := requireFletcher(sess); err != nil {
		return "", err
	}
	run, err := s.run(ctx, id)
	if err != nil {
		return "", err
	}
	if start.IsZero() {
		start = calendar.DefaultStart(s.now())
	}
	name, city := runPlace(run)

	switch kind {
	case "", CalendarAPK:
		return calendar.FletcherAPKEvent(name, city, start), nil
	case CalendarTodos:
		todos, err := repo.ListTodos(ctx, s.DB, id)
		if err != nil {
			return "", err
		}
		list := make([]calendar.Todo, len(todos))
		for i, t := range todos {
			list[i] = calendar.Todo{Text: t.Text, Done: t.Done}
		}
		return calendar.TodoListEvent(list, name, city, start), nil
	default:
		return "", &ValidationError{Fields: []string{"kind"}}
	}
}

// TodoCalendarURL builds an all-day reminder for a single todo.
func (s *FletcherService) TodoCalendarURL(ctx context.Context, sess *session.Session, id, todoID string, due time.Time) (string, error) {
	if err := requireFletcher(sess); err != nil {
		return "", err
	}
	run, err := s.run(ctx, id)
	if err != nil {
		return "", err
	}
	todos, err := repo.ListTodos(ctx, s.DB, id)
	if err != nil {
		return "", err
	}
	if due.IsZero() {
		due = calendar.DefaultStart(s.now())
	}
	name, city := runPlace(run)
	for _, t := range todos {
		if t.ID == todoID {
			return calendar.TodoEvent(t.Text, name, city, due), nil
		}
	}
	return "", ErrTodoNotFound
}

func runPlace(run *domain.FletcherRun) (name, city string) {
	if run.Location == nil {
		return "", ""
	}
	return run.Location.Name, run.Location.City
}

func (s *FletcherService) run(ctx context.Context, id string) (*domain.FletcherRun, error) {
	run, err := repo.GetRun(ctx, s.DB, id)
	if err != nil {
		return nil, runNotFound(err)
	}
	return run, nil
}

// childGate checks access and that the run exists before a todo or error write.
func (s *FletcherService) childGate(ctx context.Context, sess *session.Session, id string) error {
	if err := requireFletcher(sess); err != nil {
		return err
	}
	_, err := s.run(ctx, id)
	return err
}

func runNotFound(err error) error {
	if errors.Is(err, repo.ErrNotFound) {
		return ErrRunNotFound
	}
	return err
}

func requireFletcher(sess *session.Session) error {
	if sess == nil {
		return session.ErrNoSession
	}
	if !sess.CanFletcher() {
		return ErrForbidden
	}
	return nil
}

func percent(n, total int) int {
	if total <= 0 {
		return 0
	}
	return int(math.Round(float64(n) * 100 / float64(total)))
}
