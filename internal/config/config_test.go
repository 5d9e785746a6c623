package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"barrage/internal/domain"
)

const discordChannel = `[notify.channel.ops]
type = "discord"
url = "https://discord.example/api/webhooks/1/abc"`

func TestLoadSnapshotDefaults(t *testing.T) {
	t.Parallel()

	cfg := mustLoadSnapshot(t, `[service]
name = "barrage-test"`)

	if cfg.Service.Mode != ServiceModeSingle {
		t.Fatalf("expected single mode, got %q", cfg.Service.Mode)
	}
	if !cfg.Ingest.HTTP.Enabled {
		t.Fatalf("expected http ingest forced on in single mode")
	}
	if cfg.Events.WarningSec != 30 || cfg.Events.GraceSec != 5 || cfg.Events.MinPlayers != 2 {
		t.Fatalf("unexpected events defaults %+v", cfg.Events)
	}
	if cfg.Barrage.Rockets != 20 || cfg.Barrage.DelaySec != 0.33 || cfg.Barrage.SpreadDeg != 16 {
		t.Fatalf("unexpected barrage defaults %+v", cfg.Barrage)
	}
	if len(cfg.Corrections) != 0 {
		t.Fatalf("expected no corrections, got %v", cfg.Corrections)
	}

	profiles := Profiles(cfg)
	mild := profiles[domain.IntensityMild]
	if mild.RocketCount != 20 || mild.Duration != 240*time.Second || mild.Radius != 500 || mild.FireChance != 30 {
		t.Fatalf("unexpected mild preset %+v", mild)
	}
	if len(mild.Drops) != 2 || mild.Drops[0].Shortname != "stones" {
		t.Fatalf("unexpected mild drops %+v", mild.Drops)
	}
	if got := profiles[domain.IntensityExtreme].RocketCount; got != 70 {
		t.Fatalf("unexpected extreme rocket count %d", got)
	}
	if _, ok := cfg.Notify.Category[CategoryAdmin]; !ok {
		t.Fatalf("expected default admin category")
	}
}

func TestLoadSnapshotCorrectsMalformedValues(t *testing.T) {
	t.Parallel()

	cfg := mustLoadSnapshot(t, `[barrage]
rockets = -3
delay_sec = 0

[events]
random_min = 20
random_max = 10

[intensity.mild]
rocket_count = 0
radius = -1

[[intensity.mild.drop]]
shortname = ""
min = -5
max = -10`)

	if cfg.Barrage.Rockets != 20 || cfg.Barrage.DelaySec != 0.33 {
		t.Fatalf("barrage not corrected: %+v", cfg.Barrage)
	}
	if cfg.Events.RandomMax != 50 {
		t.Fatalf("expected random_max corrected to 50, got %d", cfg.Events.RandomMax)
	}
	if cfg.Intensity.Mild.RocketCount != 20 || cfg.Intensity.Mild.Radius != 500 {
		t.Fatalf("mild profile not corrected to preset: %+v", cfg.Intensity.Mild)
	}
	drop := cfg.Intensity.Mild.Drop[0]
	if drop.Shortname != "stones" || drop.Min != 0 || drop.Max != 10 {
		t.Fatalf("unexpected corrected drop %+v", drop)
	}
	if len(cfg.Corrections) < 7 {
		t.Fatalf("expected corrections to be recorded, got %v", cfg.Corrections)
	}
	if !containsSubstring(cfg.Corrections, "intensity.mild.rocket_count") {
		t.Fatalf("missing rocket_count correction in %v", cfg.Corrections)
	}
}

func TestLoadSnapshotFromDirMergesFragments(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeConfigFile(t, filepath.Join(dir, "10-base.toml"), joinSections(discordChannel, `[events]
min_players = 4
automatic = true`))
	writeConfigFile(t, filepath.Join(dir, "20-override.toml"), `[events]
automatic = false

[notify.category.admin]
channel = "ops"
max_per_minute = 20
cooldown_sec = 1.5`)

	cfg, err := LoadSnapshot(ConfigSource{Dir: dir})
	if err != nil {
		t.Fatalf("load dir: %v", err)
	}
	if cfg.Events.MinPlayers != 4 {
		t.Fatalf("expected min_players from first fragment, got %d", cfg.Events.MinPlayers)
	}
	if cfg.Events.Automatic {
		t.Fatalf("expected later fragment to disable automatic events")
	}
	admin := cfg.Notify.Category[CategoryAdmin]
	if admin.Channel != "ops" || admin.CooldownSec != 1.5 {
		t.Fatalf("unexpected admin category %+v", admin)
	}
	if got := cfg.Notify.Category[CategoryEvents].Channel; got != "ops" {
		t.Fatalf("expected default events category bound to first channel, got %q", got)
	}
}

func TestLoadSnapshotStructuralErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name:    "unknown channel type",
			content: "[notify.channel.x]\ntype = \"pager\"",
			wantErr: "notify.channel.x.type",
		},
		{
			name:    "category references missing channel",
			content: "[notify.category.admin]\nchannel = \"nope\"",
			wantErr: "unknown channel",
		},
		{
			name:    "telegram without token",
			content: "[notify.channel.tg]\ntype = \"telegram\"\nchat_id = \"1\"",
			wantErr: "bot_token",
		},
		{
			name:    "jetstream outside nats mode",
			content: "[notify.channel.js]\ntype = \"jetstream\"",
			wantErr: "requires service.mode=nats",
		},
		{
			name:    "invalid template",
			content: joinSections(discordChannel, "template = \"{{ .Title \""),
			wantErr: "template is invalid",
		},
		{
			name:    "bad log format",
			content: "[log.console]\nenabled = true\nformat = \"xml\"",
			wantErr: "log.console.format",
		},
		{
			name:    "unsupported mode",
			content: "[service]\nmode = \"cluster\"",
			wantErr: "service.mode",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := Parse([]byte(tt.content))
			if err == nil {
				t.Fatalf("expected error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestLoadSnapshotNATSModeFixesRouting(t *testing.T) {
	t.Parallel()

	cfg := mustLoadSnapshot(t, `[service]
mode = "nats"

[ingest.nats]
enabled = true
url = [" nats://a:4222 ", ""]`)

	if len(cfg.Ingest.NATS.URL) != 1 || cfg.Ingest.NATS.URL[0] != "nats://a:4222" {
		t.Fatalf("unexpected nats urls %v", cfg.Ingest.NATS.URL)
	}
	if cfg.Ingest.NATS.Subject != defaultNATSSubject || cfg.Host.SubjectPrefix != defaultHostSubjectPrefix {
		t.Fatalf("expected fixed subjects, got %q %q", cfg.Ingest.NATS.Subject, cfg.Host.SubjectPrefix)
	}
}

func TestFromCLI(t *testing.T) {
	t.Parallel()

	if _, err := FromCLI("", ""); err == nil {
		t.Fatalf("expected error without source")
	}
	if _, err := FromCLI("a.toml", "dir"); err == nil {
		t.Fatalf("expected error for both sources")
	}
	src, err := FromCLI(" a.toml ", "")
	if err != nil || src.File != "a.toml" {
		t.Fatalf("unexpected source %+v %v", src, err)
	}
}

func mustLoadSnapshot(t *testing.T, content string) Config {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.toml")
	writeConfigFile(t, path, content)
	cfg, err := LoadSnapshot(ConfigSource{File: path})
	if err != nil {
		t.Fatalf("load snapshot: %v", err)
	}
	return cfg
}

func writeConfigFile(t *testing.T, path, content string) {
	t.Helper()

	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config file: %v", err)
	}
}

func joinSections(sections ...string) string {
	return strings.Join(sections, "\n\n")
}

func containsSubstring(values []string, needle string) bool {
	for _, value := range values {
		if strings.Contains(value, needle) {
			return true
		}
	}
	return false
}
