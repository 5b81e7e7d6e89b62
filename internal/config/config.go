package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"go.uber.org/fx"
)

type Config struct {
	CoCAPIToken     string        `env:"COC_API_TOKEN"`
	CoCAPIBaseURL   string        `env:"COC_API_BASE_URL" envDefault:"https://api.clashofclans.com/v1"`
	CoCAPIRateLimit float64       `env:"COC_API_RATE_LIMIT" envDefault:"10"`
	DBPath          string        `env:"DB_PATH" envDefault:"clan-tracker.db"`
	ServerPort      string        `env:"SERVER_PORT" envDefault:"8080"`
	LogLevel        string        `env:"LOG_LEVEL" envDefault:"info"`
	FetchTimeout    time.Duration `env:"FETCH_TIMEOUT" envDefault:"10s"`

	WarPollInterval     time.Duration `env:"WAR_POLL_INTERVAL" envDefault:"2m"`
	CWLPollInterval     time.Duration `env:"CWL_POLL_INTERVAL" envDefault:"5m"`
	CapitalPollInterval time.Duration `env:"CAPITAL_POLL_INTERVAL" envDefault:"15m"`
	PollWorkers         int           `env:"POLL_WORKERS" envDefault:"8"`

	DiscordWebhookURL string   `env:"DISCORD_WEBHOOK_URL"`
	TrackedClans      []string `env:"TRACKED_CLANS" envSeparator:","`

	RaidLootMilestone int `env:"RAID_LOOT_MILESTONE" envDefault:"100000"`
	DeliveryCacheSize int `env:"DELIVERY_CACHE_SIZE" envDefault:"10000"`
}

func Load(logger zerolog.Logger) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		logger.Debug().Msg(".env file not found, using environment variables or defaults")
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger.Info().
		Str("db_path", cfg.DBPath).
		Str("server_port", cfg.ServerPort).
		Str("log_level", cfg.LogLevel).
		Dur("war_poll_interval", cfg.WarPollInterval).
		Dur("cwl_poll_interval", cfg.CWLPollInterval).
		Dur("capital_poll_interval", cfg.CapitalPollInterval).
		Int("poll_workers", cfg.PollWorkers).
		Int("tracked_clans", len(cfg.TrackedClans)).
		Msg("configuration loaded")

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.CoCAPIToken == "" {
		return fmt.Errorf("COC_API_TOKEN is required")
	}
	if c.PollWorkers <= 0 {
		return fmt.Errorf("POLL_WORKERS must be positive, got %d", c.PollWorkers)
	}
	for name, d := range map[string]time.Duration{
		"WAR_POLL_INTERVAL":     c.WarPollInterval,
		"CWL_POLL_INTERVAL":     c.CWLPollInterval,
		"CAPITAL_POLL_INTERVAL": c.CapitalPollInterval,
		"FETCH_TIMEOUT":         c.FetchTimeout,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, d)
		}
	}
	return nil
}

// SeedClan is one TRACKED_CLANS entry of the form "#TAG@guild".
type SeedClan struct {
	Tag     string
	GuildID string
}

func (c *Config) SeedClans() ([]SeedClan, error) {
	var seeds []SeedClan
	for _, entry := range c.TrackedClans {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		tag, guild, ok := strings.Cut(entry, "@")
		if !ok || tag == "" || guild == "" {
			return nil, fmt.Errorf("invalid TRACKED_CLANS entry %q, want #TAG@guild", entry)
		}
		seeds = append(seeds, SeedClan{Tag: tag, GuildID: guild})
	}
	return seeds, nil
}

var Module = fx.Provide(Load)
