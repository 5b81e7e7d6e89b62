package config

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("COC_API_TOKEN", "token")

	cfg, err := Load(zerolog.Nop())
	require.NoError(t, err)

	assert.Equal(t, "https://api.clashofclans.com/v1", cfg.CoCAPIBaseURL)
	assert.Equal(t, 2*time.Minute, cfg.WarPollInterval)
	assert.Equal(t, 5*time.Minute, cfg.CWLPollInterval)
	assert.Equal(t, 15*time.Minute, cfg.CapitalPollInterval)
	assert.Equal(t, 8, cfg.PollWorkers)
	assert.Equal(t, 100000, cfg.RaidLootMilestone)
}

func TestLoadRequiresToken(t *testing.T) {
	t.Setenv("COC_API_TOKEN", "")

	_, err := Load(zerolog.Nop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "COC_API_TOKEN")
}

func TestLoadRejectsBadDuration(t *testing.T) {
	t.Setenv("COC_API_TOKEN", "token")
	t.Setenv("WAR_POLL_INTERVAL", "soon")

	_, err := Load(zerolog.Nop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse env:")
}

func TestSeedClans(t *testing.T) {
	tests := []struct {
		name    string
		entries []string
		want    []SeedClan
		wantErr bool
	}{
		{
			name:    "two clans",
			entries: []string{"#2PP@111", " #QQQ@222 "},
			want:    []SeedClan{{Tag: "#2PP", GuildID: "111"}, {Tag: "#QQQ", GuildID: "222"}},
		},
		{
			name:    "empty entries skipped",
			entries: []string{"", "  "},
			want:    nil,
		},
		{
			name:    "missing guild",
			entries: []string{"#2PP"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{TrackedClans: tt.entries}
			got, err := cfg.SeedClans()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
