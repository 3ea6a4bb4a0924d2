// Package httpapi wires the Gin transport to the application services,
// middleware and route handlers.
//
// Global middleware runs on every request (tracing, request id, access log,
// recovery, body cap, gzip, metrics, CORS, security headers). Identity,
// idempotency and rate limiting only guard the versioned API group.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"

	"github.com/tbourn/go-visit-tracker/docs"
	"github.com/tbourn/go-visit-tracker/internal/config"
	"github.com/tbourn/go-visit-tracker/internal/conflict"
	"github.com/tbourn/go-visit-tracker/internal/domain"
	"github.com/tbourn/go-visit-tracker/internal/events"
	"github.com/tbourn/go-visit-tracker/internal/http/handlers"
	"github.com/tbourn/go-visit-tracker/internal/http/middleware"
	"github.com/tbourn/go-visit-tracker/internal/repo"
	"github.com/tbourn/go-visit-tracker/internal/services"
)

// repoStats adapts the repo stats functions to handlers.StatsSource.
type repoStats struct{ db *gorm.DB }

func (s repoStats) VisitsStats(ctx context.Context, f repo.VisitFilter) (int64, *time.Time, error) {
	return repo.VisitsStats(ctx, s.db, f)
}

func (s repoStats) LocationsStats(ctx context.Context) (int64, *time.Time, error) {
	return repo.LocationsStats(ctx, s.db)
}

func (s repoStats) FletcherRunsStats(ctx context.Context) (int64, *time.Time, error) {
	return repo.FletcherRunsStats(ctx, s.db)
}

// idemStore persists and looks up idempotency records.
type idemStore struct {
	db  *gorm.DB
	ttl time.Duration
}

// Remember implements handlers.IdempotencyStore.
func (s idemStore) Remember(ctx context.Context, userID, scope, key, resourceID string, status int) error {
	_, err := repo.CreateIdempotency(ctx, s.db, userID, scope, key, resourceID, status, s.ttl)
	return err
}

// Lookup implements middleware.IdempotencyLookup. A miss is (nil, nil).
func (s idemStore) Lookup(ctx context.Context, userID, scope, key string, now time.Time) (*middleware.Replay, error) {
	rec, err := repo.GetIdempotency(ctx, s.db, userID, scope, key, now)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &middleware.Replay{ResourceID: rec.ResourceID, Status: rec.Status}, nil
}

// profileLoader resolves the authenticated id to its stored profile.
func profileLoader(db *gorm.DB) middleware.ProfileLoader {
	return func(ctx context.Context, id string) (*domain.Profile, error) {
		p, err := repo.GetProfile(ctx, db, id)
		if errors.Is(err, repo.ErrNotFound) {
			return nil, middleware.ErrUnknownProfile
		}
		return p, err
	}
}

// newHandlers builds the service graph from cfg.
func newHandlers(db *gorm.DB, cfg config.Config, pub events.Publisher) *handlers.Handlers {
	if pub == nil {
		pub = events.Noop{}
	}
	locs := services.NewLocationService(db, cfg.SearchMinScore)

	visits := services.NewVisitService(db, locs)
	visits.Policy = conflict.Policy{
		DuplicateDays: cfg.Visits.DuplicateWindowDays,
		OverlapDays:   cfg.Visits.OverlapWindowDays,
		OverlapLimit:  cfg.Visits.OverlapDisplayLimit,
	}
	visits.Serialize = cfg.Visits.SerializeSubmit
	visits.Events = pub
	locs.Policy = visits.Policy

	return handlers.New(handlers.Deps{
		Visits:      visits,
		Locations:   locs,
		Projects:    &services.ProjectService{DB: db},
		Recruiters:  &services.RecruiterService{DB: db},
		Leaderboard: &services.LeaderboardService{DB: db},
		Fletcher:    services.NewFletcherService(db),
		Stats:       repoStats{db: db},
		Idempotency: idemStore{db: db, ttl: cfg.IdempotencyTTL},
	})
}

// RegisterRoutes attaches all middleware and endpoints to r.
//
// Middleware order matters:
//  1. OpenTelemetry
//  2. RequestID
//  3. Logger (redacted)
//  4. Recovery, after the logger so panics are logged with the request id
//  5. Body size limit and gzip
//  6. Metrics
//  7. CORS and security headers
//
// The API group then adds Auth, IdempotencyValidator and the rate limiter,
// in that order: the limiter keys on the session and skips replays.
func RegisterRoutes(r *gin.Engine, db *gorm.DB, cfg config.Config, pub events.Publisher) {
	r.HandleMethodNotAllowed = true

	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(middleware.LogOptions{
		MaskHeaders: []string{"X-API-Key"},
	}))
	r.Use(middleware.Recovery())

	// 1 MiB is plenty for any JSON payload we accept.
	r.Use(limitBody(1 << 20))
	r.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{"/metrics"})))

	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	allowHeaders := []string{"Origin", "Content-Type", "Accept", "Authorization", "If-None-Match",
		middleware.HeaderUserID, middleware.HeaderIdempotencyKey}
	exposeHeaders := []string{"X-Request-ID", "Content-Length", "ETag"}
	methods := []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	if len(cfg.CORS.AllowedOrigins) == 0 {
		// Force ACAO: * even without an Origin header.
		r.Use(func(c *gin.Context) {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowAllOrigins:  true,
			AllowMethods:     methods,
			AllowHeaders:     allowHeaders,
			ExposeHeaders:    exposeHeaders,
			AllowCredentials: false, // must stay false with AllowAllOrigins
			MaxAge:           12 * time.Hour,
		}))
	} else {
		allowed := make(map[string]struct{}, len(cfg.CORS.AllowedOrigins))
		for _, o := range cfg.CORS.AllowedOrigins {
			allowed[o] = struct{}{}
		}
		r.Use(func(c *gin.Context) {
			if origin := c.GetHeader("Origin"); origin != "" {
				if _, ok := allowed[origin]; ok {
					h := c.Writer.Header()
					h.Set("Access-Control-Allow-Origin", origin)
					h.Add("Vary", "Origin")
				}
			}
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowOrigins:     cfg.CORS.AllowedOrigins,
			AllowMethods:     methods,
			AllowHeaders:     allowHeaders,
			ExposeHeaders:    exposeHeaders,
			AllowCredentials: false,
			MaxAge:           12 * time.Hour,
		}))
	}

	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:   cfg.Security.EnableHSTS,
		HSTSMaxAge:   cfg.Security.HSTSMaxAge,
		NoStore:      false,
		EnablePolicy: true,
	}))

	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	if cfg.SwaggerEnabled {
		docs.SwaggerInfo.BasePath = cfg.APIBasePath
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	h := newHandlers(db, cfg, pub)
	idem := idemStore{db: db, ttl: cfg.IdempotencyTTL}
	rl := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyBySessionOrIP())

	api := groupWithPrefix(r, cfg.APIBasePath)
	api.Use(
		middleware.Auth(middleware.AuthOptions{
			Secret:    []byte(cfg.Auth.JWTSecret),
			Issuer:    cfg.Auth.JWTIssuer,
			DevHeader: cfg.Auth.DevHeader,
		}, profileLoader(db)),
		middleware.IdempotencyValidator(middleware.IdempotencyOptions{MaxLen: 200}, idem.Lookup),
		rl.Handler(),
	)
	mountAPI(api, h)
}

// mountAPI registers every versioned endpoint on g.
func mountAPI(g *gin.RouterGroup, h *handlers.Handlers) {
	// Visits
	g.POST("/visits", h.SubmitVisit)
	g.POST("/visits/check", h.CheckVisit)
	g.GET("/visits", h.ListVisits)
	g.GET("/visits/:id", h.GetVisit)
	g.PATCH("/visits/:id/status", h.UpdateVisitStatus)
	g.PATCH("/visits/:id/notes", h.UpdateVisitNotes)
	g.GET("/visits/:id/calendar", h.VisitCalendar)

	// Locations
	g.POST("/locations", h.CreateLocation)
	g.GET("/locations", h.ListLocations)
	g.GET("/locations/search", h.SearchLocations)
	g.GET("/locations/:id", h.GetLocation)

	// Projects
	g.GET("/projects", h.ListProjects)
	g.POST("/projects", h.CreateProject)
	g.GET("/projects/assignments", h.ListAssignments)
	g.PATCH("/projects/:id", h.UpdateProject)
	g.PUT("/projects/:id/recruiters/:recruiterId", h.AssignRecruiter)
	g.DELETE("/projects/:id/recruiters/:recruiterId", h.UnassignRecruiter)

	// Recruiters
	g.GET("/me", h.Me)
	g.PATCH("/me", h.UpdateMe)
	g.GET("/recruiters", h.ListRecruiters)
	g.PATCH("/recruiters/:id", h.UpdateRecruiter)
	g.GET("/leaderboard", h.Leaderboard)

	// Fletcher APK runs
	runs := g.Group("/fletcher/runs")
	{
		runs.POST("", h.CreateRun)
		runs.GET("", h.ListRuns)
		runs.GET("/:id", h.GetRun)
		runs.PATCH("/:id", h.UpdateRun)
		runs.POST("/:id/submit", h.SubmitRun)
		runs.PUT("/:id/sections/:section/note", h.SetSectionNote)
		runs.PATCH("/:id/items/:itemKey", h.UpdateItem)
		runs.POST("/:id/todos", h.AddTodo)
		runs.PATCH("/:id/todos/:todoId", h.UpdateTodo)
		runs.DELETE("/:id/todos/:todoId", h.DeleteTodo)
		runs.GET("/:id/todos/:todoId/calendar", h.TodoCalendar)
		runs.POST("/:id/errors", h.AddRunError)
		runs.PATCH("/:id/errors/:errorId", h.UpdateRunError)
		runs.DELETE("/:id/errors/:errorId", h.DeleteRunError)
		runs.GET("/:id/calendar", h.RunCalendar)
	}
}

// limitBody caps every request body at maxBytes; reads past it fail.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// groupWithPrefix mounts a group at prefix, treating "/" (or empty) as root.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "" || prefix == "/" {
		return r.Group("")
	}
	return r.Group(prefix)
}
