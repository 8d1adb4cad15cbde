package infra

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequiredEnv(t *testing.T) {
	t.Setenv("DISCORD_TOKEN", "token")
	t.Setenv("DISCORD_GUILD_ID", "guild-1")
	t.Setenv("ROLES_MONITORED_ID", "role-rep")
	t.Setenv("VOICE_CHANNEL_ID", "voice-1")
}

func TestLoadConfig_Defaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "token", cfg.Discord.Token)
	assert.Equal(t, "guild-1", cfg.Discord.GuildID)
	assert.Equal(t, "/clp", cfg.Roles.Marker)
	assert.Equal(t, 15*time.Second, cfg.Reconcile.Period)
	assert.Equal(t, 15*time.Second, cfg.Voice.ConnectTimeout)
	assert.Equal(t, 2*time.Second, cfg.Voice.SettleDelay)
	assert.Equal(t, 30*time.Second, cfg.Voice.Cooldown)
	assert.Equal(t, 5, cfg.Voice.MaxAttempts)
	assert.Equal(t, []time.Duration{
		15 * time.Second, 30 * time.Second, 60 * time.Second, 120 * time.Second, 300 * time.Second,
	}, cfg.Voice.DelaySchedule)
	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, uint(3), cfg.Engine.RetryAttempts)
	assert.Empty(t, cfg.Redis.Addr)
	assert.Empty(t, cfg.Database.URL)
	assert.Nil(t, cfg.Auth.PublicKey)
}

func TestLoadConfig_LegacyTokenVariable(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("DISCORD_TOKEN", "")
	t.Setenv("BOT_TOKEN", "legacy")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "legacy", cfg.Discord.Token)
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("RECONCILE_PERIOD", "5s")
	t.Setenv("VOICE_DELAY_SCHEDULE", "1s, 2s")
	t.Setenv("ROLES_MARKER", "/rep")
	t.Setenv("AUTH_PUBLIC_KEY_DATA", "-----BEGIN PUBLIC KEY-----")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, cfg.Reconcile.Period)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, cfg.Voice.DelaySchedule)
	assert.Equal(t, "/rep", cfg.Roles.Marker)
	assert.Equal(t, []byte("-----BEGIN PUBLIC KEY-----"), cfg.Auth.PublicKey)
}

func TestLoadConfig_MissingRequired(t *testing.T) {
	t.Setenv("DISCORD_TOKEN", "")
	t.Setenv("BOT_TOKEN", "")
	t.Setenv("DISCORD_GUILD_ID", "")
	t.Setenv("ROLES_MONITORED_ID", "")
	t.Setenv("VOICE_CHANNEL_ID", "")

	_, err := LoadConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "discord.token is required")
	assert.Contains(t, err.Error(), "voice.channel_id is required")
}

func TestValidate_DelaySchedule(t *testing.T) {
	cfg := Config{
		Discord:   DiscordConfig{Token: "t", GuildID: "g"},
		Roles:     RolesConfig{MonitoredID: "r"},
		Reconcile: ReconcileConfig{Period: time.Second},
		Voice: VoiceConfig{
			ChannelID:      "v",
			ConnectTimeout: time.Second,
			Cooldown:       time.Second,
			MaxAttempts:    1,
			DelaySchedule:  []time.Duration{30 * time.Second, 15 * time.Second},
		},
	}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "non-decreasing")

	cfg.Voice.DelaySchedule = nil
	assert.ErrorContains(t, cfg.Validate(), "must not be empty")

	cfg.Voice.DelaySchedule = []time.Duration{time.Second}
	assert.NoError(t, cfg.Validate())
}

func TestParseDelaySchedule(t *testing.T) {
	got, err := ParseDelaySchedule("15s,30s,,1m")
	require.NoError(t, err)
	assert.Equal(t, []time.Duration{15 * time.Second, 30 * time.Second, time.Minute}, got)

	_, err = ParseDelaySchedule("15s,soon")
	assert.Error(t, err)

	_, err = ParseDelaySchedule("0s")
	assert.Error(t, err)
}

func TestNewLogger(t *testing.T) {
	logger, err := NewLogger(LoggerConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, logger)

	_, err = NewLogger(LoggerConfig{Level: "loud"})
	assert.Error(t, err)
}
