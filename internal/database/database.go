package database

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"net/url"

	"clan-tracker/internal/config"
	"clan-tracker/internal/constants"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"
	"github.com/rs/zerolog"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

// connection settings for go-sqlite3. They go in the DSN so that every pooled
// connection gets them, not just the first one.
var dsnParams = [][2]string{
	{"_busy_timeout", "5000"},
	{"_journal_mode", "WAL"},
	{"_synchronous", "NORMAL"},
	{"_foreign_keys", "on"},
	{"_cache_size", "-16000"},
	// writers queue on busy_timeout instead of failing a lock upgrade
	{"_txlock", "immediate"},
}

func dsn(path string) string {
	q := url.Values{}
	for _, p := range dsnParams {
		q.Set(p[0], p[1])
	}
	return "file:" + path + "?" + q.Encode()
}

// New opens the tracking store and brings its schema up to date.
func New(cfg *config.Config, logger zerolog.Logger) (*sql.DB, error) {
	log := logger.With().Str("component", "database").Str("path", cfg.DBPath).Logger()

	db, err := sql.Open("sqlite3", dsn(cfg.DBPath))
	if err != nil {
		log.Error().Err(err).Msg("failed to open database")
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(constants.DBMaxOpenConns)
	db.SetMaxIdleConns(constants.DBMaxIdleConns)
	db.SetConnMaxLifetime(constants.DBConnMaxLifetime)
	db.SetConnMaxIdleTime(constants.DBMaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), constants.DatabaseTimeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		log.Error().Err(err).Msg("failed to connect to database")
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	version, err := migrate(ctx, db)
	if err != nil {
		db.Close()
		log.Error().Err(err).Msg("failed to run migrations")
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	var journal string
	if err := db.QueryRowContext(ctx, "PRAGMA journal_mode").Scan(&journal); err != nil {
		log.Warn().Err(err).Msg("failed to read journal mode")
	}

	log.Info().
		Int64("schema_version", version).
		Str("journal_mode", journal).
		Int("max_open_conns", constants.DBMaxOpenConns).
		Msg("database ready")
	return db, nil
}

func migrate(ctx context.Context, db *sql.DB) (int64, error) {
	goose.SetBaseFS(embedMigrations)
	goose.SetLogger(goose.NopLogger())

	if err := goose.SetDialect("sqlite3"); err != nil {
		return 0, fmt.Errorf("failed to set goose dialect: %w", err)
	}
	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return 0, fmt.Errorf("failed to run goose migrations: %w", err)
	}
	return goose.GetDBVersionContext(ctx, db)
}
