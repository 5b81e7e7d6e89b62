package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"

	"clan-tracker/internal/config"
	"clan-tracker/internal/constants"
	fxmodules "clan-tracker/internal/fx"
	"clan-tracker/internal/middleware"
	"clan-tracker/internal/scheduler"
	"clan-tracker/internal/server"

	"github.com/rs/cors"
	"github.com/rs/zerolog"
	"go.uber.org/fx"
)

func main() {
	fx.New(
		fxmodules.Module,
		fx.Invoke(runServer),
		// appended after the server so it stops first, before the database closes
		fx.Invoke(runScheduler),
	).Run()
}

func runScheduler(lc fx.Lifecycle, sched *scheduler.Scheduler) {
	lc.Append(fx.Hook{
		OnStart: sched.Start,
		OnStop:  sched.Stop,
	})
}

func runServer(
	lc fx.Lifecycle,
	trackerServer *server.TrackerServer,
	cfg *config.Config,
	db *sql.DB,
	logger zerolog.Logger,
) {
	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	})

	handler := middleware.RequestID(logger)(middleware.Recover(c.Handler(trackerServer.Routes())))

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.ServerPort),
		Handler: handler,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				logger.Info().Str("addr", srv.Addr).Msg("server starting")
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Fatal().Err(err).Msg("server failed")
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info().Msg("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.ShutdownTimeout)
			defer cancel()

			err := srv.Shutdown(shutdownCtx)
			if err != nil {
				logger.Error().Err(err).Msg("server shutdown failed")
			}

			if cerr := db.Close(); cerr != nil {
				logger.Warn().Err(cerr).Msg("error closing database connection")
			}
			if err != nil {
				return err
			}
			logger.Info().Msg("server stopped gracefully")
			return nil
		},
	})
}
