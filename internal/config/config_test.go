package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reedfamily/mcbridge/internal/game/minecraft"
	"github.com/reedfamily/mcbridge/internal/logevent"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mcbridge.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "{}\n"))
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Listen)
	assert.Equal(t, "file", cfg.Engine.SourceMode)
	assert.Equal(t, "logs/latest.log", cfg.Engine.FilePath)
	assert.Equal(t, 25575, cfg.RCON.Port)
	assert.Equal(t, 5*time.Second, cfg.RCON.Timeout)
	assert.False(t, cfg.RCON.Enabled())
	assert.True(t, cfg.Metrics.Enable)
	assert.Equal(t, []string{"*"}, cfg.API.AllowedOrigins)
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, `
engine:
  sourceMode: docker
  containerId: mc
  showDeathMessages: true
  serverName: Survival
rcon:
  host: mc.internal
  password: hunter2
  timeout: 2s
  maxFrameLength: 65536
hook:
  rate: 5
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "docker", cfg.Engine.SourceMode)
	assert.Equal(t, "mc", cfg.Engine.ContainerID)
	assert.True(t, cfg.Engine.ShowDeathMessages)
	assert.Equal(t, "mc.internal", cfg.RCON.Host)
	assert.True(t, cfg.RCON.Enabled())
	assert.Equal(t, 2*time.Second, cfg.RCON.Timeout)
	assert.Equal(t, 65536, cfg.RCON.MaxFrameLength)
	assert.Equal(t, 5.0, cfg.Hook.Rate)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("MCBRIDGE_RCON_PASSWORD", "from-env")
	t.Setenv("MCBRIDGE_ENGINE_SHOWMECOMMAND", "true")

	cfg, err := Load(writeConfig(t, "rcon:\n  password: from-file\n"))
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.RCON.Password)
	assert.True(t, cfg.Engine.ShowMeCommand)
}

func TestLoad_UnknownKeysIgnored(t *testing.T) {
	_, err := Load(writeConfig(t, "engine:\n  colour: blue\nwhatever: 1\n"))
	assert.NoError(t, err)
}

func TestLoad_Invalid(t *testing.T) {
	tests := map[string]string{
		"unknown mode":        "engine:\n  sourceMode: pty\n",
		"docker without id":   "engine:\n  sourceMode: docker\n",
		"file without path":   "engine:\n  filePath: \"\"\n",
		"port out of range":   "rcon:\n  port: 70000\n",
		"negative frame cap":  "rcon:\n  maxFrameLength: -1\n",
		"malformed yaml file": "engine: [\n",
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, body))
			assert.Error(t, err)
		})
	}
}

func TestEngineConfig_DeathRegex(t *testing.T) {
	cfg := &Config{Engine: EngineConfig{SourceMode: "file", ServerVersion: "1.21.4"}}
	assert.Equal(t, minecraft.KilledDeathMessageRegex, cfg.EngineConfig().DeathMessageRegex)

	cfg.Engine.ServerVersion = "1.20.1"
	assert.Equal(t, minecraft.DefaultDeathMessageRegex, cfg.EngineConfig().DeathMessageRegex)

	cfg.Engine.DeathMessageRegex = "custom"
	got := cfg.EngineConfig()
	assert.Equal(t, "custom", got.DeathMessageRegex)
	assert.Equal(t, logevent.SourceFile, got.SourceMode)
}
