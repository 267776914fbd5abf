// Package config loads mcbridge settings from an optional YAML file and
// MCBRIDGE_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/reedfamily/mcbridge/internal/game/minecraft"
	"github.com/reedfamily/mcbridge/internal/logevent"
)

type LumberjackConfig struct {
	Filename   string `mapstructure:"filename"`
	MaxSizeMB  int    `mapstructure:"maxSize"`
	MaxBackups int    `mapstructure:"maxBackups"`
	MaxAgeDays int    `mapstructure:"maxAge"`
	Compress   bool   `mapstructure:"compress"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	// File is optional; an empty filename logs to stdout only.
	File LumberjackConfig `mapstructure:"file"`
}

// EngineConfig holds the recognized log event engine options.
type EngineConfig struct {
	SourceMode           string `mapstructure:"sourceMode"`
	FilePath             string `mapstructure:"filePath"`
	WaitForFile          bool   `mapstructure:"waitForFile"`
	ContainerID          string `mapstructure:"containerId"`
	ShowConnectionStatus bool   `mapstructure:"showConnectionStatus"`
	ShowMeCommand        bool   `mapstructure:"showMeCommand"`
	ShowDeathMessages    bool   `mapstructure:"showDeathMessages"`
	ShowAdvancements     bool   `mapstructure:"showAdvancements"`
	DeathMessageRegex    string `mapstructure:"deathMessageRegex"`
	ServerName           string `mapstructure:"serverName"`
	ServerVersion        string `mapstructure:"serverVersion"`
	Debug                bool   `mapstructure:"debug"`
}

type RCONConfig struct {
	Host     string        `mapstructure:"host"`
	Port     int           `mapstructure:"port"`
	Password string        `mapstructure:"password"`
	Timeout  time.Duration `mapstructure:"timeout"`
	Debug    bool          `mapstructure:"debug"`
	// DiscoverPort looks Port up among the container's published ports in docker mode.
	DiscoverPort bool `mapstructure:"discoverPort"`
	// MaxFrameLength caps one response frame; 0 keeps the client default.
	MaxFrameLength int `mapstructure:"maxFrameLength"`
}

// Enabled reports whether outbound RCON is configured.
func (c RCONConfig) Enabled() bool { return c.Password != "" }

type APIConfig struct {
	// TokenHash is a bcrypt hash of the bearer token; empty disables auth.
	TokenHash      string   `mapstructure:"tokenHash"`
	AllowedOrigins []string `mapstructure:"allowedOrigins"`
}

type HookConfig struct {
	// Rate is requests per second accepted on /minecraft/hook; 0 is unlimited.
	Rate   float64 `mapstructure:"rate"`
	Burst  int     `mapstructure:"burst"`
	Buffer int     `mapstructure:"buffer"`
}

type SinksConfig struct {
	NATSURL      string `mapstructure:"natsURL"`
	NATSSubject  string `mapstructure:"natsSubject"`
	RedisAddr    string `mapstructure:"redisAddr"`
	RedisChannel string `mapstructure:"redisChannel"`
}

type MetricsConfig struct {
	Enable bool   `mapstructure:"enable"`
	Path   string `mapstructure:"path"`
}

type Config struct {
	Listen  string        `mapstructure:"listen"`
	Logging LoggingConfig `mapstructure:"logging"`
	Engine  EngineConfig  `mapstructure:"engine"`
	RCON    RCONConfig    `mapstructure:"rcon"`
	API     APIConfig     `mapstructure:"api"`
	Hook    HookConfig    `mapstructure:"hook"`
	Sinks   SinksConfig   `mapstructure:"sinks"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// Load reads path, or mcbridge.yaml from . and ./configs when path is empty.
// A missing default file is fine; defaults and environment variables apply.
func Load(path string) (*Config, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.SetConfigName("mcbridge")
		v.SetConfigType("yaml")
	}

	setDefaults(v)

	// MCBRIDGE_RCON_PASSWORD overrides rcon.password, and so on.
	v.SetEnvPrefix("MCBRIDGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("listen", ":8080")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.file.filename", "")
	v.SetDefault("logging.file.maxSize", 100)
	v.SetDefault("logging.file.maxBackups", 7)
	v.SetDefault("logging.file.maxAge", 30)
	v.SetDefault("logging.file.compress", true)

	v.SetDefault("engine.sourceMode", string(logevent.SourceFile))
	v.SetDefault("engine.filePath", "logs/latest.log")
	v.SetDefault("engine.waitForFile", false)
	v.SetDefault("engine.containerId", "")
	v.SetDefault("engine.showConnectionStatus", false)
	v.SetDefault("engine.showMeCommand", false)
	v.SetDefault("engine.showDeathMessages", false)
	v.SetDefault("engine.showAdvancements", false)
	v.SetDefault("engine.deathMessageRegex", "")
	v.SetDefault("engine.serverName", "")
	v.SetDefault("engine.serverVersion", "")
	v.SetDefault("engine.debug", false)

	v.SetDefault("rcon.host", "localhost")
	v.SetDefault("rcon.port", 25575)
	v.SetDefault("rcon.password", "")
	v.SetDefault("rcon.timeout", "5s")
	v.SetDefault("rcon.debug", false)
	v.SetDefault("rcon.discoverPort", false)
	v.SetDefault("rcon.maxFrameLength", 0)

	v.SetDefault("api.tokenHash", "")
	v.SetDefault("api.allowedOrigins", []string{"*"})

	v.SetDefault("hook.rate", 50)
	v.SetDefault("hook.burst", 100)
	v.SetDefault("hook.buffer", 256)

	v.SetDefault("sinks.natsURL", "")
	v.SetDefault("sinks.natsSubject", "mcbridge.events")
	v.SetDefault("sinks.redisAddr", "")
	v.SetDefault("sinks.redisChannel", "mcbridge:events")

	v.SetDefault("metrics.enable", true)
	v.SetDefault("metrics.path", "/metrics")
}

func (c *Config) Validate() error {
	mode := logevent.SourceMode(c.Engine.SourceMode)
	if !mode.Valid() {
		return fmt.Errorf("config: unknown engine.sourceMode %q", c.Engine.SourceMode)
	}
	switch {
	case mode == logevent.SourceFile && c.Engine.FilePath == "":
		return errors.New("config: engine.filePath is required in file mode")
	case mode == logevent.SourceDocker && c.Engine.ContainerID == "":
		return errors.New("config: engine.containerId is required in docker mode")
	}
	if c.RCON.Port < 0 || c.RCON.Port > 65535 {
		return fmt.Errorf("config: rcon.port %d out of range", c.RCON.Port)
	}
	if c.RCON.MaxFrameLength < 0 {
		return fmt.Errorf("config: rcon.maxFrameLength %d is negative", c.RCON.MaxFrameLength)
	}
	return nil
}

// EngineConfig converts the engine section, resolving the death message
// pattern from serverVersion when no explicit pattern is set.
func (c *Config) EngineConfig() logevent.Config {
	e := c.Engine
	regex := e.DeathMessageRegex
	if regex == "" {
		regex = minecraft.DeathRegexForVersion(e.ServerVersion)
	}
	return logevent.Config{
		SourceMode:           logevent.SourceMode(e.SourceMode),
		FilePath:             e.FilePath,
		WaitForFile:          e.WaitForFile,
		ShowConnectionStatus: e.ShowConnectionStatus,
		ShowMeCommand:        e.ShowMeCommand,
		ShowDeathMessages:    e.ShowDeathMessages,
		ShowAdvancements:     e.ShowAdvancements,
		DeathMessageRegex:    regex,
		ServerName:           e.ServerName,
		Debug:                e.Debug,
	}
}
