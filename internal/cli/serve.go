package cli

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/tbourn/go-visit-tracker/internal/config"
	"github.com/tbourn/go-visit-tracker/internal/events"
	httpapi "github.com/tbourn/go-visit-tracker/internal/http"
	"github.com/tbourn/go-visit-tracker/internal/observability"
	"github.com/tbourn/go-visit-tracker/internal/repo"
	"github.com/tbourn/go-visit-tracker/internal/sysutil"
)

const (
	shutdownTimeout = 15 * time.Second
	purgeInterval   = time.Hour
)

func newServeCmd() *cobra.Command {
	var port string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Long:  "Run the HTTP API until SIGINT or SIGTERM, then drain in-flight requests.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			cfg.Port = sysutil.FirstNonEmpty(port, cfg.Port)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cfg, nil)
		},
	}

	cmd.Flags().StringVar(&port, "port", "", "port to listen on (overrides PORT)")

	return cmd
}

// runServe serves the API until ctx is done. A nil ln listens on cfg.Port.
func runServe(ctx context.Context, cfg config.Config, ln net.Listener) error {
	logger := sysutil.SetupLogger(nil, cfg.LogLevel, cfg.LogPretty, cfg.OTEL.ServiceName)
	gin.SetMode(cfg.GinMode)

	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, Version)
	if err != nil {
		return err
	}

	db, err := repo.Open(cfg.DB)
	if err != nil {
		return err
	}
	defer closeDB(db)
	if err := repo.AutoMigrate(db); err != nil {
		return err
	}

	pub := newPublisher(cfg.AMQP, logger)
	defer func() { _ = pub.Close() }()

	r := gin.New()
	httpapi.RegisterRoutes(r, db, cfg, pub)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	go purgeIdempotency(ctx, db, purgeInterval, logger)

	errCh := make(chan error, 1)
	go func() {
		var err error
		if ln != nil {
			logger.Info().Str("addr", ln.Addr().String()).Str("version", Version).Msg("listening")
			err = srv.Serve(ln)
		} else {
			logger.Info().Str("addr", srv.Addr).Str("version", Version).Msg("listening")
			err = srv.ListenAndServe()
		}
		if !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info().Msg("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		logger.Error().Err(err).Msg("http shutdown")
	}
	if err := shutdownOTel(sctx); err != nil {
		logger.Warn().Err(err).Msg("otel shutdown")
	}
	return nil
}

// newPublisher dials the broker when one is configured. Events are
// best-effort, so a broker outage at boot downgrades to Noop.
func newPublisher(cfg config.AMQPConfig, logger zerolog.Logger) events.Publisher {
	if cfg.URL == "" {
		return events.Noop{}
	}
	p, err := events.Dial(cfg.URL, cfg.Exchange, cfg.RoutingKey)
	if err != nil {
		logger.Warn().Err(err).Msg("amqp unavailable; visit.created events disabled")
		return events.Noop{}
	}
	return p
}

// purgeIdempotency drops expired idempotency records every interval until
// ctx is done.
func purgeIdempotency(ctx context.Context, db *gorm.DB, every time.Duration, logger zerolog.Logger) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			n, err := repo.PurgeExpiredIdempotency(ctx, db, now.UTC())
			if err != nil {
				logger.Warn().Err(err).Msg("purge idempotency")
				continue
			}
			if n > 0 {
				logger.Debug().Int64("purged", n).Msg("expired idempotency records")
			}
		}
	}
}
