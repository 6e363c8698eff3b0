package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"activitybot/internal/models"
)

// Config holds all configuration for our application
type Config struct {
	DiscordToken string
	DatabaseDSN  string
	GuildID      string
	LogLevel     string
	LogFormat    string
	MetricsAddr  string
	OTLPEndpoint string
	Rules        models.Rules
}

// fileConfig mirrors config.yaml. Every key can be overridden from the
// environment with the ACTIVITY_ prefix, e.g. ACTIVITY_DECAY_POLICY.
type fileConfig struct {
	Roles struct {
		Status     string   `mapstructure:"status"`
		Superseded []string `mapstructure:"superseded"`
		Protected  []string `mapstructure:"protected"`
	} `mapstructure:"roles"`
	Voice struct {
		ExcludedChannel string        `mapstructure:"excluded_channel"`
		Tick            time.Duration `mapstructure:"tick"`
	} `mapstructure:"voice"`
	Thresholds struct {
		Promote  thresholdConfig `mapstructure:"promote"`
		Inactive thresholdConfig `mapstructure:"inactive"`
	} `mapstructure:"thresholds"`
	Decay struct {
		WindowDays            int           `mapstructure:"window_days"`
		SweepInterval         time.Duration `mapstructure:"sweep_interval"`
		Policy                string        `mapstructure:"policy"`
		ResetCountersOnRevoke bool          `mapstructure:"reset_counters_on_revoke"`
	} `mapstructure:"decay"`
}

type thresholdConfig struct {
	Messages int64         `mapstructure:"messages"`
	Voice    time.Duration `mapstructure:"voice"`
}

const defaultDSN = "sqlite://data/activity.db"

// Load loads configuration from the environment and an optional config file.
// The Discord token is not required here; use RequireToken before connecting.
func Load() (*Config, error) {
	// .env file is optional, continue with environment variables
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("ACTIVITY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	path := os.Getenv("CONFIG_FILE")
	if path == "" {
		path = "config.yaml"
	}
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return nil, &ConfigError{Field: "CONFIG_FILE", Message: fmt.Sprintf("read %s: %v", path, err)}
		}
	}

	var fc fileConfig
	if err := v.Unmarshal(&fc); err != nil {
		return nil, &ConfigError{Field: "CONFIG_FILE", Message: fmt.Sprintf("decode %s: %v", path, err)}
	}

	rules, err := fc.rules()
	if err != nil {
		return nil, err
	}
	if p := os.Getenv("COMMAND_PREFIX"); p != "" {
		rules.CommandPrefix = p
	}

	config := &Config{
		DiscordToken: os.Getenv("DISCORD_TOKEN"),
		DatabaseDSN:  os.Getenv("DATABASE_DSN"),
		GuildID:      os.Getenv("GUILD_ID"),
		LogLevel:     os.Getenv("LOG_LEVEL"),
		LogFormat:    os.Getenv("LOG_FORMAT"),
		MetricsAddr:  os.Getenv("METRICS_ADDR"),
		OTLPEndpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		Rules:        rules,
	}
	if config.DatabaseDSN == "" {
		config.DatabaseDSN = defaultDSN
	}

	return config, nil
}

// RequireToken checks the credentials needed to open a gateway session.
func (c *Config) RequireToken() error {
	if c.DiscordToken == "" {
		return &ConfigError{Field: "DISCORD_TOKEN", Message: "DISCORD_TOKEN is required"}
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	d := models.DefaultRules()
	v.SetDefault("roles.status", d.StatusRoleID)
	v.SetDefault("roles.superseded", d.SupersededRoleIDs)
	v.SetDefault("roles.protected", d.ProtectedRoleIDs)
	v.SetDefault("voice.excluded_channel", d.ExcludedChannel)
	v.SetDefault("voice.tick", d.VoiceTick)
	v.SetDefault("thresholds.promote.messages", d.Promote.Messages)
	v.SetDefault("thresholds.promote.voice", d.Promote.VoiceTime)
	v.SetDefault("thresholds.inactive.messages", d.Inactive.Messages)
	v.SetDefault("thresholds.inactive.voice", d.Inactive.VoiceTime)
	v.SetDefault("decay.window_days", d.DecayWindowDays())
	v.SetDefault("decay.sweep_interval", d.SweepInterval)
	v.SetDefault("decay.policy", string(d.DecayPolicy))
	v.SetDefault("decay.reset_counters_on_revoke", d.ResetCountersOnRevoke)
}

func (fc fileConfig) rules() (models.Rules, error) {
	r := models.DefaultRules()
	r.StatusRoleID = fc.Roles.Status
	r.SupersededRoleIDs = fc.Roles.Superseded
	r.ProtectedRoleIDs = fc.Roles.Protected
	r.ExcludedChannel = fc.Voice.ExcludedChannel
	r.VoiceTick = fc.Voice.Tick
	r.Promote = models.Thresholds{Messages: fc.Thresholds.Promote.Messages, VoiceTime: fc.Thresholds.Promote.Voice}
	r.Inactive = models.Thresholds{Messages: fc.Thresholds.Inactive.Messages, VoiceTime: fc.Thresholds.Inactive.Voice}
	r.DecayWindow = time.Duration(fc.Decay.WindowDays) * 24 * time.Hour
	r.SweepInterval = fc.Decay.SweepInterval
	r.DecayPolicy = models.DecayPolicy(strings.ToLower(fc.Decay.Policy))
	r.ResetCountersOnRevoke = fc.Decay.ResetCountersOnRevoke

	switch {
	case r.StatusRoleID == "":
		return r, &ConfigError{Field: "roles.status", Message: "status role is required"}
	case !r.DecayPolicy.Valid():
		return r, &ConfigError{Field: "decay.policy", Message: fmt.Sprintf("unknown decay policy %q", fc.Decay.Policy)}
	case r.VoiceTick <= 0:
		return r, &ConfigError{Field: "voice.tick", Message: "voice tick must be positive"}
	case r.SweepInterval <= 0:
		return r, &ConfigError{Field: "decay.sweep_interval", Message: "sweep interval must be positive"}
	case fc.Decay.WindowDays <= 0:
		return r, &ConfigError{Field: "decay.window_days", Message: "decay window must be at least one day"}
	}
	return r, nil
}

// ConfigError represents a configuration error
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return e.Message
}
