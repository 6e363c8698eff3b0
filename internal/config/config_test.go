package config

import (
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"activitybot/internal/models"
)

// isolate points Load at a config file in a fresh temp dir and clears the
// environment it reads.
func isolate(t *testing.T, yaml string) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if yaml != "" {
		if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
			t.Fatalf("write config: %v", err)
		}
	}
	t.Setenv("CONFIG_FILE", path)
	for _, k := range []string{"DISCORD_TOKEN", "DATABASE_DSN", "GUILD_ID", "COMMAND_PREFIX", "METRICS_ADDR"} {
		t.Setenv(k, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	isolate(t, "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	d := models.DefaultRules()
	r := cfg.Rules
	if r.StatusRoleID != d.StatusRoleID || r.ExcludedChannel != d.ExcludedChannel {
		t.Errorf("rules = %+v, want defaults", r)
	}
	if !slices.Equal(r.ProtectedRoleIDs, d.ProtectedRoleIDs) {
		t.Errorf("ProtectedRoleIDs = %v, want %v", r.ProtectedRoleIDs, d.ProtectedRoleIDs)
	}
	if r.Promote != d.Promote || r.Inactive != d.Inactive {
		t.Errorf("thresholds = %+v/%+v, want %+v/%+v", r.Promote, r.Inactive, d.Promote, d.Inactive)
	}
	if r.DecayWindow != 15*24*time.Hour || r.DecayPolicy != models.DecayLifetime {
		t.Errorf("decay = %v/%s, want 15 days lifetime", r.DecayWindow, r.DecayPolicy)
	}
	if cfg.DatabaseDSN != defaultDSN {
		t.Errorf("DatabaseDSN = %q, want %q", cfg.DatabaseDSN, defaultDSN)
	}
	if r.CommandPrefix != "!" {
		t.Errorf("CommandPrefix = %q, want !", r.CommandPrefix)
	}
}

func TestLoadFileAndEnv(t *testing.T) {
	isolate(t, `
roles:
  status: "111"
  superseded: ["222", "333"]
  protected: ["444"]
voice:
  excluded_channel: "afk"
  tick: 30s
thresholds:
  promote:
    messages: 10
    voice: 5h
decay:
  window_days: 7
  policy: lifetime
`)
	t.Setenv("ACTIVITY_DECAY_POLICY", "rolling")
	t.Setenv("COMMAND_PREFIX", "?")
	t.Setenv("DATABASE_DSN", "postgres://localhost/activity")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	r := cfg.Rules
	if r.StatusRoleID != "111" || !slices.Equal(r.SupersededRoleIDs, []string{"222", "333"}) {
		t.Errorf("roles = %s %v, want file values", r.StatusRoleID, r.SupersededRoleIDs)
	}
	if r.ExcludedChannel != "afk" || r.VoiceTick != 30*time.Second {
		t.Errorf("voice = %q/%v, want afk/30s", r.ExcludedChannel, r.VoiceTick)
	}
	if r.Promote.Messages != 10 || r.Promote.VoiceTime != 5*time.Hour {
		t.Errorf("Promote = %+v, want 10/5h", r.Promote)
	}
	if r.Inactive.Messages != 20 {
		t.Errorf("Inactive.Messages = %d, want default 20", r.Inactive.Messages)
	}
	if r.DecayWindow != 7*24*time.Hour {
		t.Errorf("DecayWindow = %v, want 7 days", r.DecayWindow)
	}
	if r.DecayPolicy != models.DecayRolling {
		t.Errorf("DecayPolicy = %s, want env override rolling", r.DecayPolicy)
	}
	if r.CommandPrefix != "?" {
		t.Errorf("CommandPrefix = %q, want ?", r.CommandPrefix)
	}
	if cfg.DatabaseDSN != "postgres://localhost/activity" {
		t.Errorf("DatabaseDSN = %q", cfg.DatabaseDSN)
	}
}

func TestLoadInvalid(t *testing.T) {
	tests := []struct {
		name  string
		yaml  string
		field string
	}{
		{"unknown policy", "decay:\n  policy: forever\n", "decay.policy"},
		{"zero window", "decay:\n  window_days: 0\n", "decay.window_days"},
		{"negative tick", "voice:\n  tick: -1m\n", "voice.tick"},
		{"missing status role", "roles:\n  status: \"\"\n", "roles.status"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			isolate(t, tt.yaml)
			_, err := Load()
			var cfgErr *ConfigError
			if !errors.As(err, &cfgErr) {
				t.Fatalf("err = %v, want *ConfigError", err)
			}
			if cfgErr.Field != tt.field {
				t.Errorf("Field = %q, want %q", cfgErr.Field, tt.field)
			}
		})
	}
}

func TestRequireToken(t *testing.T) {
	cfg := &Config{}
	if err := cfg.RequireToken(); err == nil {
		t.Error("RequireToken with empty token should fail")
	}
	cfg.DiscordToken = "token"
	if err := cfg.RequireToken(); err != nil {
		t.Errorf("RequireToken: %v", err)
	}
}
