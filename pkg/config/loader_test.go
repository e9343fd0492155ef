package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "test.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadFile_DefaultsAndOverrides(t *testing.T) {
	path := writeConfig(t, `
bot:
  token: "file-token"
  owners: [42]
reminder:
  threshold: 45m
`)

	cfg, v, err := LoadFile("test", path)
	require.NoError(t, err)
	require.NotNil(t, v)

	assert.Equal(t, "test", cfg.AppEnv)
	assert.Equal(t, "file-token", cfg.Bot.Token)
	assert.Equal(t, []int64{42}, cfg.Bot.Owners)
	assert.Equal(t, "!", cfg.Bot.Prefix)
	assert.Equal(t, "membership", cfg.Bot.PresenceSource)
	assert.Equal(t, time.Second, cfg.Reminder.Tick)
	assert.Equal(t, 45*time.Minute, cfg.Reminder.Threshold)
	assert.True(t, cfg.Reminder.ReadAloud)
	assert.Equal(t, 4, cfg.Reminder.Concurrency)
	assert.Equal(t, 3*time.Second, cfg.Database.WriteTimeout)
}

func TestLoadFile_EnvironmentOverrides(t *testing.T) {
	path := writeConfig(t, `
bot:
  owners: [1]
`)
	t.Setenv("BOT_TOKEN", "env-token")
	t.Setenv("REMINDER_THRESHOLD", "90s")

	cfg, _, err := LoadFile("test", path)
	require.NoError(t, err)

	assert.Equal(t, "env-token", cfg.Bot.Token)
	assert.Equal(t, 90*time.Second, cfg.Reminder.Threshold)
}

func TestLoadFile_MissingFileUsesDefaults(t *testing.T) {
	t.Setenv("BOT_TOKEN", "env-token")
	t.Setenv("BOT_OWNERS", "7,8")

	cfg, _, err := LoadFile("test", filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	assert.Equal(t, []int64{7, 8}, cfg.Bot.Owners)
	assert.Equal(t, 30*time.Minute, cfg.Reminder.Threshold)
}

func TestLoadFile_ValidationErrors(t *testing.T) {
	testCases := []struct {
		name string
		body string
	}{
		{name: "missing token", body: "bot:\n  owners: [1]\n"},
		{name: "missing owners", body: "bot:\n  token: x\n"},
		{name: "bad presence source", body: "bot:\n  token: x\n  owners: [1]\n  presence_source: voice\n"},
		{name: "zero threshold", body: "bot:\n  token: x\n  owners: [1]\nreminder:\n  threshold: 0s\n"},
		{name: "database without dsn", body: "bot:\n  token: x\n  owners: [1]\ndatabase:\n  enabled: true\n"},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := LoadFile("test", writeConfig(t, tc.body))
			assert.Error(t, err)
		})
	}
}
