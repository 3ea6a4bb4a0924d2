package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	sqlite "github.com/glebarez/sqlite"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-visit-tracker/internal/config"
	"github.com/tbourn/go-visit-tracker/internal/domain"
	"github.com/tbourn/go-visit-tracker/internal/events"
	"github.com/tbourn/go-visit-tracker/internal/http/middleware"
	"github.com/tbourn/go-visit-tracker/internal/repo"
)

// --- test DB helper (pure-Go sqlite, no CGO) ---
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:router_%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(1)
	}
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func seedRecruiter(t *testing.T, db *gorm.DB) {
	t.Helper()
	ctx := context.Background()
	if err := repo.CreateProfile(ctx, db, &domain.Profile{ID: "ann", Name: "Ann", Role: domain.RoleRecruiter, Active: true}); err != nil {
		t.Fatalf("seed profile: %v", err)
	}
	if err := db.Create(&domain.Project{ID: "p1", Name: "Orderli", Active: true}).Error; err != nil {
		t.Fatalf("seed project: %v", err)
	}
	if err := repo.AssignRecruiter(ctx, db, "p1", "ann"); err != nil {
		t.Fatalf("assign: %v", err)
	}
}

func baseConfig() config.Config {
	return config.Config{
		APIBasePath: "/api/v1",
		RateRPS:     100,
		RateBurst:   10,
		Auth:        config.AuthConfig{DevHeader: true},
		Visits: config.VisitConfig{
			DuplicateWindowDays: 60,
			OverlapWindowDays:   30,
			OverlapDisplayLimit: 5,
		},
		IdempotencyTTL: time.Hour,
		OTEL:           config.OTELConfig{ServiceName: "test-svc"},
	}
}

// recordingPublisher keeps every visit.created event.
type recordingPublisher struct {
	mu     sync.Mutex
	events []events.VisitCreated
}

func (p *recordingPublisher) PublishVisitCreated(_ context.Context, ev events.VisitCreated) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func serve(r *gin.Engine, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRegisterRoutes_CORSAllowAll_Health_Metrics_Fallbacks(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	RegisterRoutes(r, newTestDB(t), baseConfig(), nil)

	w := serve(r, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("GET /health = %d", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("AllowAllOrigins expected '*', got %q", got)
	}

	w = serve(r, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if w.Code != http.StatusOK || w.Body.Len() == 0 {
		t.Fatalf("GET /metrics bad: code=%d len=%d", w.Code, w.Body.Len())
	}

	if w = serve(r, httptest.NewRequest(http.MethodGet, "/nope", nil)); w.Code != http.StatusNotFound {
		t.Fatalf("GET /nope expected 404, got %d", w.Code)
	}
	if w = serve(r, httptest.NewRequest(http.MethodPost, "/health", nil)); w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("POST /health expected 405, got %d", w.Code)
	}

	// Swagger stays off unless enabled.
	if w = serve(r, httptest.NewRequest(http.MethodGet, "/swagger/index.html", nil)); w.Code != http.StatusNotFound {
		t.Fatalf("swagger should be disabled, got %d", w.Code)
	}
}

func TestRegisterRoutes_CORSWithOrigins_HeaderEcho(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	cfg := baseConfig()
	cfg.APIBasePath = "/api/v2"
	cfg.CORS = config.CORSConfig{AllowedOrigins: []string{"http://example.com"}}
	RegisterRoutes(r, newTestDB(t), cfg, nil)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "http://example.com")
	w := serve(r, req)
	if w.Code != http.StatusOK {
		t.Fatalf("GET /health = %d", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://example.com" {
		t.Fatalf("expected ACAO echo, got %q", got)
	}
}

func TestRegisterRoutes_Swagger(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	cfg := baseConfig()
	cfg.SwaggerEnabled = true
	RegisterRoutes(r, newTestDB(t), cfg, nil)

	w := serve(r, httptest.NewRequest(http.MethodGet, "/swagger/doc.json", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("GET /swagger/doc.json = %d", w.Code)
	}
}

func Test_limitBody_Middleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(limitBody(10))
	r.POST("/echo", func(c *gin.Context) {
		if _, err := io.ReadAll(c.Request.Body); err != nil {
			c.String(http.StatusRequestEntityTooLarge, "too big")
			return
		}
		c.String(http.StatusOK, "ok")
	})

	w := serve(r, httptest.NewRequest(http.MethodPost, "/echo", bytes.NewBufferString("0123456789AB")))
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413 from limitBody, got %d", w.Code)
	}
}

func Test_groupWithPrefix(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()

	groupWithPrefix(r, "/").GET("/one", func(c *gin.Context) { c.String(http.StatusOK, "one") })
	groupWithPrefix(r, "").GET("/two", func(c *gin.Context) { c.String(http.StatusOK, "two") })
	groupWithPrefix(r, "/api").GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })

	for path, want := range map[string]string{"/one": "one", "/two": "two", "/api/ping": "pong"} {
		w := serve(r, httptest.NewRequest(http.MethodGet, path, nil))
		if w.Code != http.StatusOK || w.Body.String() != want {
			t.Fatalf("GET %s got %d %q", path, w.Code, w.Body.String())
		}
	}
}

func TestPipeline_Smoke(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	cfg := baseConfig()
	cfg.Security = config.SecurityConfig{EnableHSTS: true, HSTSMaxAge: time.Hour}
	RegisterRoutes(r, newTestDB(t), cfg, nil)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.URL.Scheme = "https"
	w := serve(r, req)
	if w.Code != http.StatusOK {
		t.Fatalf("pipeline GET /health = %d", w.Code)
	}
	if rid := w.Header().Get("X-Request-ID"); rid == "" {
		t.Fatalf("expected X-Request-ID header to be set")
	}
}

func TestAPI_RequiresIdentity(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	db := newTestDB(t)
	seedRecruiter(t, db)
	cfg := baseConfig()
	cfg.Auth = config.AuthConfig{JWTSecret: "s3cret", JWTIssuer: "visit-tracker"}
	RegisterRoutes(r, db, cfg, nil)

	if w := serve(r, httptest.NewRequest(http.MethodGet, "/api/v1/me", nil)); w.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous /me = %d, want 401", w.Code)
	}

	// The dev header is ignored when disabled.
	req := httptest.NewRequest(http.MethodGet, "/api/v1/me", nil)
	req.Header.Set(middleware.HeaderUserID, "ann")
	if w := serve(r, req); w.Code != http.StatusUnauthorized {
		t.Fatalf("dev header accepted while disabled: %d", w.Code)
	}

	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "ann",
		Issuer:    "visit-tracker",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString([]byte("s3cret"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	req = httptest.NewRequest(http.MethodGet, "/api/v1/me", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	w := serve(r, req)
	if w.Code != http.StatusOK {
		t.Fatalf("bearer /me = %d body=%s", w.Code, w.Body.String())
	}
	var p domain.Profile
	if err := json.Unmarshal(w.Body.Bytes(), &p); err != nil || p.ID != "ann" {
		t.Fatalf("unexpected profile %+v (%v)", p, err)
	}
}

func TestAPI_SubmitVisit_PublishesAndReplays(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	db := newTestDB(t)
	seedRecruiter(t, db)
	pub := &recordingPublisher{}
	RegisterRoutes(r, db, baseConfig(), pub)

	body := `{"project_id":"p1","location":{"name":"Bistro Noord","city":"Utrecht"},` +
		`"visit_date":"2024-01-01","pos_system":"Lightspeed","spoken_to":"owner"}`
	submit := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/visits", bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set(middleware.HeaderUserID, "ann")
		req.Header.Set(middleware.HeaderIdempotencyKey, "visit-1")
		return serve(r, req)
	}

	w := submit()
	if w.Code != http.StatusCreated {
		t.Fatalf("submit = %d body=%s", w.Code, w.Body.String())
	}
	var first struct {
		Visit struct {
			ID string `json:"id"`
		} `json:"visit"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &first); err != nil || first.Visit.ID == "" {
		t.Fatalf("decode: %v body=%s", err, w.Body.String())
	}

	// Same key: served from the idempotency record, not a duplicate_visit.
	w = submit()
	if w.Code != http.StatusCreated {
		t.Fatalf("replay = %d body=%s", w.Code, w.Body.String())
	}
	var second struct {
		Visit struct {
			ID string `json:"id"`
		} `json:"visit"`
		Replayed bool `json:"replayed"`
	}
	_ = json.Unmarshal(w.Body.Bytes(), &second)
	if !second.Replayed || second.Visit.ID != first.Visit.ID {
		t.Fatalf("expected replay of %s, got %+v", first.Visit.ID, second)
	}

	pub.mu.Lock()
	defer pub.mu.Unlock()
	if len(pub.events) != 1 {
		t.Fatalf("want exactly one visit.created, got %d", len(pub.events))
	}
	if ev := pub.events[0]; ev.VisitID != first.Visit.ID || ev.RecruiterID != "ann" || ev.VisitDate != "2024-01-01" {
		t.Fatalf("unexpected event %+v", ev)
	}
}

func Test_idemStore_LookupAndRemember(t *testing.T) {
	db := newTestDB(t)
	s := idemStore{db: db, ttl: time.Hour}
	ctx := context.Background()
	now := time.Now().UTC()

	rep, err := s.Lookup(ctx, "ann", "POST /visits", "k1", now)
	if err != nil || rep != nil {
		t.Fatalf("miss should be (nil, nil), got %+v, %v", rep, err)
	}

	if err := s.Remember(ctx, "ann", "POST /visits", "k1", "v-1", http.StatusCreated); err != nil {
		t.Fatalf("remember: %v", err)
	}
	rep, err = s.Lookup(ctx, "ann", "POST /visits", "k1", now)
	if err != nil || rep == nil || rep.ResourceID != "v-1" || rep.Status != http.StatusCreated {
		t.Fatalf("hit: %+v, %v", rep, err)
	}

	// Keys are per user and per scope.
	if rep, _ := s.Lookup(ctx, "bob", "POST /visits", "k1", now); rep != nil {
		t.Fatalf("other user must not see ann's key")
	}
	if rep, _ := s.Lookup(ctx, "ann", "POST /locations", "k1", now); rep != nil {
		t.Fatalf("other scope must not match")
	}
	// Expired records are ignored.
	if rep, _ := s.Lookup(ctx, "ann", "POST /visits", "k1", now.Add(2*time.Hour)); rep != nil {
		t.Fatalf("expired record should miss")
	}

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("db.DB(): %v", err)
	}
	_ = sqlDB.Close()
	if _, err := s.Lookup(ctx, "ann", "POST /visits", "k2", now); err == nil {
		t.Fatalf("closed DB should surface an error")
	}
}

func Test_profileLoader(t *testing.T) {
	db := newTestDB(t)
	seedRecruiter(t, db)
	load := profileLoader(db)

	p, err := load(context.Background(), "ann")
	if err != nil || p.ID != "ann" {
		t.Fatalf("load ann: %+v, %v", p, err)
	}
	if _, err := load(context.Background(), "nobody"); !errors.Is(err, middleware.ErrUnknownProfile) {
		t.Fatalf("want ErrUnknownProfile, got %v", err)
	}
}

func Test_repoStats(t *testing.T) {
	db := newTestDB(t)
	s := repoStats{db: db}
	ctx := context.Background()

	n, ts, err := s.LocationsStats(ctx)
	if err != nil || n != 0 || ts != nil {
		t.Fatalf("empty locations stats: %d %v %v", n, ts, err)
	}
	if _, _, err := s.VisitsStats(ctx, repo.VisitFilter{}); err != nil {
		t.Fatalf("visits stats: %v", err)
	}
	if _, _, err := s.FletcherRunsStats(ctx); err != nil {
		t.Fatalf("runs stats: %v", err)
	}
}
