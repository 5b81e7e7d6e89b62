package fx

import (
	"database/sql"

	"clan-tracker/internal/api"
	"clan-tracker/internal/config"
	"clan-tracker/internal/database"
	"clan-tracker/internal/db"
	"clan-tracker/internal/ledger"
	"clan-tracker/internal/logger"
	"clan-tracker/internal/notify"
	"clan-tracker/internal/repository"
	"clan-tracker/internal/scheduler"
	"clan-tracker/internal/server"
	"clan-tracker/internal/service"
	"clan-tracker/internal/tracking"

	"github.com/rs/zerolog"
	"go.uber.org/fx"
)

func ProvideQueries(sqlDB *sql.DB) *db.Queries {
	return db.New(sqlDB)
}

func ProvideRecords(repo *repository.TrackingRepository) *tracking.Records {
	return tracking.NewRecords(repo)
}

func ProvideLedger(records *tracking.Records, log zerolog.Logger) *ledger.Ledger {
	return ledger.NewLedger(records, log)
}

func ProvideScheduler(trackers []tracking.Tracker, records *tracking.Records, clans *repository.ClanRepository, cfg *config.Config, log zerolog.Logger) *scheduler.Scheduler {
	return scheduler.New(trackers, records, clans, cfg, log)
}

func ProvideTrackerServer(clans *service.ClanService, l *ledger.Ledger, coc *api.Client, log zerolog.Logger) *server.TrackerServer {
	return server.NewTrackerServer(clans, l, coc, log)
}

var Module = fx.Options(
	logger.Module,
	config.Module,
	fx.Provide(database.New),
	fx.Provide(ProvideQueries),
	// repos
	fx.Provide(repository.NewClanRepository),
	fx.Provide(repository.NewTrackingRepository),
	// api client
	fx.Provide(
		api.NewClient,
		fx.Annotate(func(c *api.Client) *api.Client { return c }, fx.As(new(tracking.Fetcher))),
		fx.Annotate(func(c *api.Client) *api.Client { return c }, fx.As(new(service.ClanAPI))),
	),
	// tracking core
	fx.Provide(
		ProvideRecords,
		ProvideLedger,
		notify.NewNotifier,
		tracking.NewDeliveries,
		fx.Annotate(func(r *repository.ClanRepository) *repository.ClanRepository { return r }, fx.As(new(tracking.ClanLister))),
		tracking.NewTrackers,
		ProvideScheduler,
	),
	// svc
	fx.Provide(service.NewClanService),
	// server
	fx.Provide(ProvideTrackerServer),
)
