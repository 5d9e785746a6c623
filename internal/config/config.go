package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"barrage/internal/domain"
	"barrage/internal/templatefmt"

	"github.com/pelletier/go-toml/v2"
)

const (
	defaultHTTPListen         = ":8080"
	defaultHealthPath         = "/healthz"
	defaultReadyPath          = "/readyz"
	defaultNATSURL            = "nats://127.0.0.1:4222"
	defaultNATSSubject        = "barrage.host.events"
	defaultNATSIngestStream   = "BARRAGE_HOST_EVENTS"
	defaultNATSIngestConsumer = "barrage-ingest"
	defaultNATSIngestGroup    = "barrage-workers"
	defaultNATSAckWaitSec     = 30
	defaultNATSNackDelayMS    = 1000
	defaultNATSMaxAgeSec      = 60
	defaultNATSMaxDeliver     = -1
	defaultNATSMaxAckPending  = 2048
	defaultHostSubjectPrefix  = "barrage.host"
	defaultReloadSeconds      = 5
	defaultNotifyTimeoutSec   = 10

	// ServiceModeNATS drives a remote host over NATS.
	ServiceModeNATS = "nats"
	// ServiceModeSingle runs against the in-process simulated host.
	ServiceModeSingle = "single"

	// ChannelTypeDiscord posts embeds to a Discord-compatible webhook.
	ChannelTypeDiscord = "discord"
	// ChannelTypeHTTP posts raw notification JSON.
	ChannelTypeHTTP = "http"
	// ChannelTypeTelegram sends rendered text through Telegram Bot API.
	ChannelTypeTelegram = "telegram"
	// ChannelTypeMattermost posts rendered text through Mattermost API.
	ChannelTypeMattermost = "mattermost"
	// ChannelTypeJetStream publishes notification JSON into a JetStream stream.
	ChannelTypeJetStream = "jetstream"

	// CategoryEvents carries event lifecycle notifications.
	CategoryEvents = "events"
	// CategoryAdmin carries impact reports and failures.
	CategoryAdmin = "admin"
)

var channelTypes = []string{
	ChannelTypeDiscord,
	ChannelTypeHTTP,
	ChannelTypeTelegram,
	ChannelTypeMattermost,
	ChannelTypeJetStream,
}

// Config holds service runtime settings and event engine parameters.
// Params: TOML sections from file or merged directory snapshot.
// Returns: corrected and validated runtime configuration.
type Config struct {
	Service   ServiceConfig   `toml:"service"`
	Log       LogConfig       `toml:"log"`
	Ingest    IngestConfig    `toml:"ingest"`
	Host      HostConfig      `toml:"host"`
	Events    EventsConfig    `toml:"events"`
	Barrage   BarrageConfig   `toml:"barrage"`
	Damage    DamageConfig    `toml:"damage"`
	Impact    ImpactConfig    `toml:"impact"`
	Intensity IntensityConfig `toml:"intensity"`
	Notify    NotifyConfig    `toml:"notify"`

	// Corrections lists every malformed value replaced by a default at load time.
	Corrections []string `toml:"-"`
}

// ServiceConfig contains process-level settings.
// Params: name, runtime mode and reload settings.
// Returns: service behavior defaults.
type ServiceConfig struct {
	Name              string `toml:"name"`
	Mode              string `toml:"mode"`
	ReloadEnabled     bool   `toml:"reload_enabled"`
	ReloadIntervalSec int    `toml:"reload_interval_sec"`
}

// IngestConfig defines inbound interfaces.
// Params: embedded HTTP and NATS subscription controls.
// Returns: ingestion runtime options.
type IngestConfig struct {
	HTTP HTTPIngestConfig `toml:"http"`
	NATS NATSIngestConfig `toml:"nats"`
}

// HTTPIngestConfig configures HTTP operator and host-callback endpoints.
// Params: enable flag, listen address, probe paths and body size limit.
// Returns: HTTP ingest behavior.
type HTTPIngestConfig struct {
	Enabled      bool   `toml:"enabled"`
	Listen       string `toml:"listen"`
	HealthPath   string `toml:"health_path"`
	ReadyPath    string `toml:"ready_path"`
	MaxBodyBytes int64  `toml:"max_body_bytes"`
}

// NATSIngestConfig configures JetStream queue-consumer ingestion of host callbacks.
// Params: connection + worker/ack/redelivery policy; stream routing keys are runtime-fixed.
// Returns: NATS ingest behavior.
type NATSIngestConfig struct {
	Enabled       bool     `toml:"enabled"`
	URL           []string `toml:"url"`
	Subject       string   `toml:"-"`
	Stream        string   `toml:"-"`
	ConsumerName  string   `toml:"-"`
	DeliverGroup  string   `toml:"-"`
	Workers       int      `toml:"workers"`
	AckWaitSec    int      `toml:"ack_wait_sec"`
	NackDelayMS   int      `toml:"nack_delay_ms"`
	MaxDeliver    int      `toml:"max_deliver"`
	MaxAckPending int      `toml:"max_ack_pending"`
	MaxAgeSec     int      `toml:"max_age_sec"`
}

// HostConfig describes the game host.
// Params: map geometry and bridge request timeout.
// Returns: host adapter settings.
type HostConfig struct {
	MapSize          float64 `toml:"map_size"`
	MapMargin        float64 `toml:"map_margin"`
	RequestTimeoutMS int     `toml:"request_timeout_ms"`
	SubjectPrefix    string  `toml:"-"`
}

// EventsConfig holds scheduling policy and preconditions.
// Params: automatic timer, thresholds, countdown and presentation toggles.
// Returns: scheduler policy.
type EventsConfig struct {
	Automatic            bool    `toml:"automatic"`
	IntervalMin          int     `toml:"interval_min"`
	UseRandomTimer       bool    `toml:"use_random_timer"`
	RandomMin            int     `toml:"random_min"`
	RandomMax            int     `toml:"random_max"`
	MinPlayers           int     `toml:"min_players"`
	FPSCheck             bool    `toml:"fps_check"`
	MinFPS               float64 `toml:"min_fps"`
	WarningEnabled       bool    `toml:"warning_enabled"`
	WarningSec           int     `toml:"warning_sec"`
	ManualBypassChecks   bool    `toml:"manual_bypass_checks"`
	GraceSec             int     `toml:"grace_sec"`
	NotifyPlayers        bool    `toml:"notify_players"`
	MapMarkers           bool    `toml:"map_markers"`
	ScreenShake          bool    `toml:"screen_shake"`
	GlobalDropMultiplier float64 `toml:"global_drop_multiplier"`
}

// BarrageConfig configures directional barrage.
type BarrageConfig struct {
	Rockets   int     `toml:"rockets"`
	DelaySec  float64 `toml:"delay_sec"`
	SpreadDeg float64 `toml:"spread_deg"`
}

// DamageConfig configures global damage scaling.
type DamageConfig struct {
	Multiplier float64 `toml:"multiplier"`
}

// ImpactConfig configures impact attribution and reporting filters.
// Params: proximity threshold, damage floor, denylists and shake radius.
// Returns: classifier policy.
type ImpactConfig struct {
	Proximity       float64  `toml:"proximity"`
	MinDamage       float64  `toml:"min_damage"`
	ReportUnowned   bool     `toml:"report_unowned"`
	PrefabDenylist  []string `toml:"prefab_denylist"`
	FilteredWeapons []string `toml:"filtered_weapons"`
	ShakeRadius     float64  `toml:"shake_radius"`
}

// IntensityConfig holds three named tier profiles.
type IntensityConfig struct {
	Mild    ProfileConfig `toml:"mild"`
	Medium  ProfileConfig `toml:"medium"`
	Extreme ProfileConfig `toml:"extreme"`
}

// ProfileConfig is one tier as written in TOML.
type ProfileConfig struct {
	FireChance       int          `toml:"fire_chance"`
	Radius           float64      `toml:"radius"`
	RocketCount      int          `toml:"rocket_count"`
	DurationSec      int          `toml:"duration_sec"`
	DamageMultiplier float64      `toml:"damage_multiplier"`
	DropMultiplier   float64      `toml:"drop_multiplier"`
	DropsEnabled     bool         `toml:"drops_enabled"`
	Drop             []DropConfig `toml:"drop"`
}

// DropConfig is one reward line.
type DropConfig struct {
	Shortname string `toml:"shortname"`
	Min       int    `toml:"min"`
	Max       int    `toml:"max"`
}

// NotifyConfig defines outbound notification behavior.
// Params: queue pacing, named channels and rate-limit categories.
// Returns: notification controls.
type NotifyConfig struct {
	Queue    NotifyQueue               `toml:"queue"`
	Channel  map[string]ChannelConfig  `toml:"channel"`
	Category map[string]CategoryConfig `toml:"category"`
}

// NotifyQueue defines deferred delivery pacing.
// Params: drain interval, batch size and per-send timeout.
// Returns: dispatcher controls.
type NotifyQueue struct {
	DrainIntervalSec int `toml:"drain_interval_sec"`
	BatchSize        int `toml:"batch_size"`
	SendTimeoutSec   int `toml:"send_timeout_sec"`
}

// ChannelConfig describes one named outbound channel.
// Params: transport type plus type-specific endpoint and credentials.
// Returns: sender settings.
type ChannelConfig struct {
	Type       string            `toml:"type"`
	Disabled   bool              `toml:"disabled"`
	URL        string            `toml:"url"`
	Method     string            `toml:"method"`
	Headers    map[string]string `toml:"headers"`
	TimeoutSec int               `toml:"timeout_sec"`
	Username   string            `toml:"username"`
	BotToken   string            `toml:"bot_token"`
	ChatID     string            `toml:"chat_id"`
	APIBase    string            `toml:"api_base"`
	BaseURL    string            `toml:"base_url"`
	ChannelID  string            `toml:"channel_id"`
	Subject    string            `toml:"subject"`
	Stream     string            `toml:"stream"`
	Template   string            `toml:"template"`
}

// CategoryConfig routes one notification category and limits its rate.
// Params: destination channel (empty logs only), per-minute cap and cooldown.
// Returns: category policy.
type CategoryConfig struct {
	Channel      string  `toml:"channel"`
	MaxPerMinute int     `toml:"max_per_minute"`
	CooldownSec  float64 `toml:"cooldown_sec"`
}

// LogConfig contains console/file logging sinks.
// Params: sink settings for each output target.
// Returns: logger setup options.
type LogConfig struct {
	Console LogSinkConfig `toml:"console"`
	File    LogSinkConfig `toml:"file"`
}

// LogSinkConfig defines one logging sink.
// Params: sink enable flag, level, format, and path.
// Returns: sink-specific behavior.
type LogSinkConfig struct {
	Enabled bool   `toml:"enabled"`
	Level   string `toml:"level"`
	Format  string `toml:"format"`
	Path    string `toml:"path"`
}

// ConfigSource describes file or directory config source.
// Params: exactly one of file path or directory path.
// Returns: normalized source descriptor.
type ConfigSource struct {
	File string
	Dir  string
}

// FromCLI builds normalized source configuration from input paths.
// Params: optional file and directory arguments.
// Returns: source descriptor or validation error.
func FromCLI(filePath, dirPath string) (ConfigSource, error) {
	filePath = strings.TrimSpace(filePath)
	dirPath = strings.TrimSpace(dirPath)

	if filePath == "" && dirPath == "" {
		return ConfigSource{}, errors.New("either --config-file or --config-dir must be provided")
	}
	if filePath != "" && dirPath != "" {
		return ConfigSource{}, errors.New("config source must be either file or dir")
	}

	if filePath != "" {
		return ConfigSource{File: filePath}, nil
	}
	return ConfigSource{Dir: dirPath}, nil
}

// LoadSnapshot loads, corrects and validates configuration from one source.
// Params: source selects file or directory mode.
// Returns: validated config or structural load/validation error.
func LoadSnapshot(src ConfigSource) (Config, error) {
	if src.File != "" {
		body, err := os.ReadFile(src.File)
		if err != nil {
			return Config{}, fmt.Errorf("read config file %q: %w", src.File, err)
		}
		cfg, err := Parse(body)
		if err != nil {
			return Config{}, fmt.Errorf("config file %q: %w", src.File, err)
		}
		return cfg, nil
	}
	body, err := readDir(src.Dir)
	if err != nil {
		return Config{}, err
	}
	cfg, err := Parse(body)
	if err != nil {
		return Config{}, fmt.Errorf("config dir %q: %w", src.Dir, err)
	}
	return cfg, nil
}

// Parse decodes one TOML document over built-in defaults.
// Params: TOML document body.
// Returns: corrected and validated config or structural error.
func Parse(body []byte) (Config, error) {
	cfg := Default()
	if err := toml.Unmarshal(body, &cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	applyDefaults(&cfg)
	correctConfig(&cfg)
	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Default returns built-in configuration used as decode base.
// Params: none.
// Returns: config with every documented default.
func Default() Config {
	return Config{
		Service: ServiceConfig{
			Name:              "barrage",
			Mode:              ServiceModeSingle,
			ReloadIntervalSec: defaultReloadSeconds,
		},
		Log: LogConfig{
			Console: LogSinkConfig{Level: "info", Format: "line"},
			File:    LogSinkConfig{Level: "info", Format: "json"},
		},
		Ingest: IngestConfig{
			HTTP: HTTPIngestConfig{
				Listen:       defaultHTTPListen,
				HealthPath:   defaultHealthPath,
				ReadyPath:    defaultReadyPath,
				MaxBodyBytes: 1 << 20,
			},
			NATS: NATSIngestConfig{
				Workers:       1,
				AckWaitSec:    defaultNATSAckWaitSec,
				NackDelayMS:   defaultNATSNackDelayMS,
				MaxDeliver:    defaultNATSMaxDeliver,
				MaxAckPending: defaultNATSMaxAckPending,
				MaxAgeSec:     defaultNATSMaxAgeSec,
			},
		},
		Host: HostConfig{
			MapSize:          4500,
			MapMargin:        600,
			RequestTimeoutMS: 2000,
		},
		Events: EventsConfig{
			Automatic:            true,
			IntervalMin:          30,
			RandomMin:            15,
			RandomMax:            45,
			MinPlayers:           2,
			MinFPS:               40,
			WarningEnabled:       true,
			WarningSec:           30,
			ManualBypassChecks:   true,
			GraceSec:             5,
			NotifyPlayers:        true,
			MapMarkers:           true,
			ScreenShake:          true,
			GlobalDropMultiplier: 1.0,
		},
		Barrage: BarrageConfig{Rockets: 20, DelaySec: 0.33, SpreadDeg: 16},
		Damage:  DamageConfig{Multiplier: 0.2},
		Impact: ImpactConfig{
			Proximity:       50,
			MinDamage:       1,
			PrefabDenylist:  []string{"npc", "scientist", "bear", "wolf", "boar", "stag", "chicken", "horse"},
			FilteredWeapons: []string{"smoke"},
			ShakeRadius:     50,
		},
		Intensity: IntensityConfig{
			Mild:    defaultProfile(domain.IntensityMild),
			Medium:  defaultProfile(domain.IntensityMedium),
			Extreme: defaultProfile(domain.IntensityExtreme),
		},
		Notify: NotifyConfig{
			Queue: NotifyQueue{DrainIntervalSec: 5, BatchSize: 3, SendTimeoutSec: defaultNotifyTimeoutSec},
		},
	}
}

// defaultProfile returns preset for tier without drop table.
func defaultProfile(name domain.IntensityName) ProfileConfig {
	switch name {
	case domain.IntensityMild:
		return ProfileConfig{FireChance: 30, Radius: 500, RocketCount: 20, DurationSec: 240, DamageMultiplier: 1, DropMultiplier: 1, DropsEnabled: true}
	case domain.IntensityExtreme:
		return ProfileConfig{FireChance: 10, Radius: 100, RocketCount: 70, DurationSec: 30, DamageMultiplier: 1, DropMultiplier: 1, DropsEnabled: true}
	default:
		return ProfileConfig{FireChance: 20, Radius: 300, RocketCount: 45, DurationSec: 120, DamageMultiplier: 1, DropMultiplier: 1, DropsEnabled: true}
	}
}

// defaultDrops returns preset drop table for tier.
func defaultDrops(name domain.IntensityName) []DropConfig {
	switch name {
	case domain.IntensityMild:
		return []DropConfig{
			{Shortname: "stones", Min: 80, Max: 120},
			{Shortname: "metal.ore", Min: 25, Max: 50},
		}
	case domain.IntensityExtreme:
		return []DropConfig{
			{Shortname: "stones", Min: 250, Max: 400},
			{Shortname: "metal.fragments", Min: 125, Max: 300},
			{Shortname: "metal.refined", Min: 20, Max: 50},
			{Shortname: "sulfur.ore", Min: 45, Max: 120},
		}
	default:
		return []DropConfig{
			{Shortname: "stones", Min: 160, Max: 250},
			{Shortname: "metal.fragments", Min: 60, Max: 120},
			{Shortname: "hq.metal.ore", Min: 20, Max: 50},
		}
	}
}

// readDir reads sorted TOML fragments and deep-merges them into one document.
// Params: directory containing config fragments.
// Returns: merged TOML body or load/decode error.
func readDir(dir string) ([]byte, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read config dir %q: %w", dir, err)
	}

	files := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if strings.ToLower(filepath.Ext(name)) != ".toml" {
			continue
		}
		files = append(files, filepath.Join(dir, name))
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no .toml files found in %q", dir)
	}
	sort.Strings(files)

	merged := make(map[string]any)
	for _, file := range files {
		body, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("read config file %q: %w", file, err)
		}
		var fragment map[string]any
		if err := toml.Unmarshal(body, &fragment); err != nil {
			return nil, fmt.Errorf("decode config file %q: %w", file, err)
		}
		mergeTables(merged, fragment)
	}
	body, err := toml.Marshal(merged)
	if err != nil {
		return nil, fmt.Errorf("encode merged config: %w", err)
	}
	return body, nil
}

// mergeTables overlays src tables onto dst; later scalar and array values win.
func mergeTables(dst, src map[string]any) {
	for key, value := range src {
		srcTable, srcIsTable := value.(map[string]any)
		dstTable, dstIsTable := dst[key].(map[string]any)
		if srcIsTable && dstIsTable {
			mergeTables(dstTable, srcTable)
			continue
		}
		dst[key] = value
	}
}

// applyDefaults fills derived and normalized fields.
// Params: mutable config after decode.
// Returns: defaults applied in place.
func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.Service.Name) == "" {
		cfg.Service.Name = "barrage"
	}
	cfg.Service.Mode = NormalizeServiceMode(cfg.Service.Mode)
	if cfg.Service.ReloadIntervalSec <= 0 {
		cfg.Service.ReloadIntervalSec = defaultReloadSeconds
	}

	if cfg.Log.Console.Level == "" {
		cfg.Log.Console.Level = "info"
	}
	if cfg.Log.Console.Format == "" {
		cfg.Log.Console.Format = "line"
	}
	if cfg.Log.File.Level == "" {
		cfg.Log.File.Level = "info"
	}
	if cfg.Log.File.Format == "" {
		cfg.Log.File.Format = "json"
	}
	if !cfg.Log.Console.Enabled && !cfg.Log.File.Enabled {
		cfg.Log.Console.Enabled = true
	}

	if strings.TrimSpace(cfg.Ingest.HTTP.Listen) == "" {
		cfg.Ingest.HTTP.Listen = defaultHTTPListen
	}
	if strings.TrimSpace(cfg.Ingest.HTTP.HealthPath) == "" {
		cfg.Ingest.HTTP.HealthPath = defaultHealthPath
	}
	if strings.TrimSpace(cfg.Ingest.HTTP.ReadyPath) == "" {
		cfg.Ingest.HTTP.ReadyPath = defaultReadyPath
	}
	if cfg.Ingest.HTTP.MaxBodyBytes <= 0 {
		cfg.Ingest.HTTP.MaxBodyBytes = 1 << 20
	}
	cfg.Host.SubjectPrefix = defaultHostSubjectPrefix
	if cfg.Service.Mode == ServiceModeSingle {
		// Single mode never touches NATS; the simulated host and HTTP ingest cover everything.
		cfg.Ingest.NATS.Enabled = false
		cfg.Ingest.HTTP.Enabled = true
	} else {
		cfg.Ingest.NATS.URL = normalizeNATSURLs(cfg.Ingest.NATS.URL)
		if len(cfg.Ingest.NATS.URL) == 0 {
			cfg.Ingest.NATS.URL = []string{defaultNATSURL}
		}
		cfg.Ingest.NATS.Subject = defaultNATSSubject
		cfg.Ingest.NATS.Stream = defaultNATSIngestStream
		cfg.Ingest.NATS.ConsumerName = defaultNATSIngestConsumer
		cfg.Ingest.NATS.DeliverGroup = defaultNATSIngestGroup
		if !cfg.Ingest.HTTP.Enabled && !cfg.Ingest.NATS.Enabled {
			cfg.Ingest.HTTP.Enabled = true
		}
	}

	for _, name := range domain.IntensityNames {
		profile := cfg.Intensity.profile(name)
		if profile.Drop == nil {
			profile.Drop = defaultDrops(name)
		}
	}

	if cfg.Notify.Channel == nil {
		cfg.Notify.Channel = make(map[string]ChannelConfig)
	}
	for name, channel := range cfg.Notify.Channel {
		channel.Type = strings.ToLower(strings.TrimSpace(channel.Type))
		if channel.Type == ChannelTypeHTTP && channel.Method == "" {
			channel.Method = "POST"
		}
		if channel.Type == ChannelTypeTelegram && channel.APIBase == "" {
			channel.APIBase = "https://api.telegram.org"
		}
		if channel.Type == ChannelTypeJetStream {
			if channel.Subject == "" {
				channel.Subject = "barrage.notify." + name
			}
			if channel.Stream == "" {
				channel.Stream = "BARRAGE_NOTIFY_" + strings.ToUpper(strings.ReplaceAll(name, "-", "_"))
			}
		}
		if channel.TimeoutSec <= 0 {
			channel.TimeoutSec = defaultNotifyTimeoutSec
		}
		cfg.Notify.Channel[name] = channel
	}
	if cfg.Notify.Category == nil {
		cfg.Notify.Category = make(map[string]CategoryConfig)
	}
	if _, ok := cfg.Notify.Category[CategoryEvents]; !ok {
		cfg.Notify.Category[CategoryEvents] = CategoryConfig{Channel: firstChannel(cfg.Notify.Channel), MaxPerMinute: 10}
	}
	if _, ok := cfg.Notify.Category[CategoryAdmin]; !ok {
		cfg.Notify.Category[CategoryAdmin] = CategoryConfig{Channel: firstChannel(cfg.Notify.Channel), MaxPerMinute: 20}
	}
}

// correctConfig replaces malformed values with documented defaults and records each fix.
// Params: mutable config after defaults.
// Returns: corrections appended to cfg.Corrections.
func correctConfig(cfg *Config) {
	fix := func(format string, args ...any) {
		cfg.Corrections = append(cfg.Corrections, fmt.Sprintf(format, args...))
	}

	if cfg.Barrage.Rockets <= 0 {
		fix("barrage.rockets invalid (%d), using 20", cfg.Barrage.Rockets)
		cfg.Barrage.Rockets = 20
	}
	if cfg.Barrage.DelaySec <= 0 {
		fix("barrage.delay_sec invalid (%g), using 0.33", cfg.Barrage.DelaySec)
		cfg.Barrage.DelaySec = 0.33
	}
	if cfg.Barrage.SpreadDeg <= 0 {
		fix("barrage.spread_deg invalid (%g), using 16", cfg.Barrage.SpreadDeg)
		cfg.Barrage.SpreadDeg = 16
	}
	if cfg.Damage.Multiplier <= 0 {
		fix("damage.multiplier invalid (%g), using 0.2", cfg.Damage.Multiplier)
		cfg.Damage.Multiplier = 0.2
	}

	if cfg.Events.IntervalMin <= 0 {
		fix("events.interval_min invalid (%d), using 30", cfg.Events.IntervalMin)
		cfg.Events.IntervalMin = 30
	}
	if cfg.Events.RandomMin <= 0 {
		fix("events.random_min invalid (%d), using 15", cfg.Events.RandomMin)
		cfg.Events.RandomMin = 15
	}
	if cfg.Events.RandomMax < cfg.Events.RandomMin {
		fix("events.random_max (%d) below random_min (%d), using %d", cfg.Events.RandomMax, cfg.Events.RandomMin, cfg.Events.RandomMin+30)
		cfg.Events.RandomMax = cfg.Events.RandomMin + 30
	}
	if cfg.Events.MinPlayers < 0 {
		fix("events.min_players invalid (%d), using 2", cfg.Events.MinPlayers)
		cfg.Events.MinPlayers = 2
	}
	if cfg.Events.MinFPS <= 0 {
		fix("events.min_fps invalid (%g), using 40", cfg.Events.MinFPS)
		cfg.Events.MinFPS = 40
	}
	if cfg.Events.WarningSec <= 0 {
		fix("events.warning_sec invalid (%d), using 30", cfg.Events.WarningSec)
		cfg.Events.WarningSec = 30
	}
	if cfg.Events.GraceSec <= 0 {
		fix("events.grace_sec invalid (%d), using 5", cfg.Events.GraceSec)
		cfg.Events.GraceSec = 5
	}
	if cfg.Events.GlobalDropMultiplier < 0 {
		fix("events.global_drop_multiplier invalid (%g), using 1.0", cfg.Events.GlobalDropMultiplier)
		cfg.Events.GlobalDropMultiplier = 1.0
	}

	if cfg.Host.MapSize <= 0 {
		fix("host.map_size invalid (%g), using 4500", cfg.Host.MapSize)
		cfg.Host.MapSize = 4500
	}
	if cfg.Host.MapMargin < 0 || cfg.Host.MapMargin >= cfg.Host.MapSize/2 {
		fix("host.map_margin invalid (%g), using 0", cfg.Host.MapMargin)
		cfg.Host.MapMargin = 0
	}
	if cfg.Host.RequestTimeoutMS <= 0 {
		fix("host.request_timeout_ms invalid (%d), using 2000", cfg.Host.RequestTimeoutMS)
		cfg.Host.RequestTimeoutMS = 2000
	}

	if cfg.Impact.Proximity <= 0 {
		fix("impact.proximity invalid (%g), using 50", cfg.Impact.Proximity)
		cfg.Impact.Proximity = 50
	}
	if cfg.Impact.MinDamage < 0 {
		fix("impact.min_damage invalid (%g), using 0", cfg.Impact.MinDamage)
		cfg.Impact.MinDamage = 0
	}
	if cfg.Impact.ShakeRadius <= 0 {
		fix("impact.shake_radius invalid (%g), using 50", cfg.Impact.ShakeRadius)
		cfg.Impact.ShakeRadius = 50
	}

	for _, name := range domain.IntensityNames {
		correctProfile(name, cfg.Intensity.profile(name), fix)
	}

	if cfg.Notify.Queue.DrainIntervalSec <= 0 {
		fix("notify.queue.drain_interval_sec invalid (%d), using 5", cfg.Notify.Queue.DrainIntervalSec)
		cfg.Notify.Queue.DrainIntervalSec = 5
	}
	if cfg.Notify.Queue.BatchSize <= 0 {
		fix("notify.queue.batch_size invalid (%d), using 3", cfg.Notify.Queue.BatchSize)
		cfg.Notify.Queue.BatchSize = 3
	}
	if cfg.Notify.Queue.SendTimeoutSec <= 0 {
		fix("notify.queue.send_timeout_sec invalid (%d), using %d", cfg.Notify.Queue.SendTimeoutSec, defaultNotifyTimeoutSec)
		cfg.Notify.Queue.SendTimeoutSec = defaultNotifyTimeoutSec
	}
	for _, name := range sortedKeys(cfg.Notify.Category) {
		category := cfg.Notify.Category[name]
		if category.MaxPerMinute < 0 {
			fix("notify.category.%s.max_per_minute invalid (%d), using 20", name, category.MaxPerMinute)
			category.MaxPerMinute = 20
		}
		if category.CooldownSec < 0 {
			fix("notify.category.%s.cooldown_sec invalid (%g), using 0", name, category.CooldownSec)
			category.CooldownSec = 0
		}
		cfg.Notify.Category[name] = category
	}
}

// correctProfile fixes one tier, falling back to that tier's preset values.
func correctProfile(name domain.IntensityName, profile *ProfileConfig, fix func(string, ...any)) {
	preset := defaultProfile(name)
	path := "intensity." + string(name)
	if profile.FireChance <= 0 {
		fix("%s.fire_chance invalid (%d), using %d", path, profile.FireChance, preset.FireChance)
		profile.FireChance = preset.FireChance
	}
	if profile.Radius <= 0 {
		fix("%s.radius invalid (%g), using %g", path, profile.Radius, preset.Radius)
		profile.Radius = preset.Radius
	}
	if profile.RocketCount <= 0 {
		fix("%s.rocket_count invalid (%d), using %d", path, profile.RocketCount, preset.RocketCount)
		profile.RocketCount = preset.RocketCount
	}
	if profile.DurationSec <= 0 {
		fix("%s.duration_sec invalid (%d), using %d", path, profile.DurationSec, preset.DurationSec)
		profile.DurationSec = preset.DurationSec
	}
	if profile.DamageMultiplier <= 0 {
		fix("%s.damage_multiplier invalid (%g), using 1", path, profile.DamageMultiplier)
		profile.DamageMultiplier = 1
	}
	if profile.DropMultiplier < 0 {
		fix("%s.drop_multiplier invalid (%g), using 1", path, profile.DropMultiplier)
		profile.DropMultiplier = 1
	}
	for i := range profile.Drop {
		drop := &profile.Drop[i]
		if strings.TrimSpace(drop.Shortname) == "" {
			fix("%s.drop[%d].shortname is empty, using stones", path, i)
			drop.Shortname = "stones"
		}
		if drop.Min < 0 {
			fix("%s.drop[%d].min invalid (%d), using 0", path, i, drop.Min)
			drop.Min = 0
		}
		if drop.Max < drop.Min {
			fix("%s.drop[%d].max (%d) below min (%d), using %d", path, i, drop.Max, drop.Min, drop.Min+10)
			drop.Max = drop.Min + 10
		}
	}
}

// validateConfig validates structural settings that cannot be corrected.
// Params: corrected config snapshot.
// Returns: first structural error.
func validateConfig(cfg Config) error {
	if !IsSupportedServiceMode(cfg.Service.Mode) {
		return fmt.Errorf("service.mode has unsupported value %q", cfg.Service.Mode)
	}
	if cfg.Service.Mode == ServiceModeNATS {
		for i, url := range cfg.Ingest.NATS.URL {
			if strings.TrimSpace(url) == "" {
				return fmt.Errorf("ingest.nats.url[%d] is empty", i)
			}
		}
		if cfg.Ingest.NATS.Enabled {
			if cfg.Ingest.NATS.Workers <= 0 {
				return errors.New("ingest.nats.workers must be >0 when ingest.nats.enabled=true")
			}
			if cfg.Ingest.NATS.AckWaitSec <= 0 {
				return errors.New("ingest.nats.ack_wait_sec must be >0 when ingest.nats.enabled=true")
			}
			if cfg.Ingest.NATS.NackDelayMS < 0 {
				return errors.New("ingest.nats.nack_delay_ms must be >=0")
			}
			if cfg.Ingest.NATS.MaxDeliver == 0 || cfg.Ingest.NATS.MaxDeliver < -1 {
				return errors.New("ingest.nats.max_deliver must be -1 or >0")
			}
			if cfg.Ingest.NATS.MaxAckPending <= 0 {
				return errors.New("ingest.nats.max_ack_pending must be >0 when ingest.nats.enabled=true")
			}
			if cfg.Ingest.NATS.MaxAgeSec < 0 {
				return errors.New("ingest.nats.max_age_sec must be >=0")
			}
		}
	}

	if err := validateLogSink("log.console", cfg.Log.Console, false); err != nil {
		return err
	}
	if err := validateLogSink("log.file", cfg.Log.File, true); err != nil {
		return err
	}

	for _, name := range sortedKeys(cfg.Notify.Channel) {
		if err := validateChannel(cfg.Service.Mode, name, cfg.Notify.Channel[name]); err != nil {
			return err
		}
	}
	for _, name := range sortedKeys(cfg.Notify.Category) {
		category := cfg.Notify.Category[name]
		channel := strings.TrimSpace(category.Channel)
		if channel == "" {
			continue
		}
		if _, ok := cfg.Notify.Channel[channel]; !ok {
			return fmt.Errorf("notify.category.%s.channel references unknown channel %q", name, channel)
		}
	}
	return nil
}

// validateChannel validates one channel section.
// Params: service mode, channel name and settings.
// Returns: channel validation error.
func validateChannel(mode, name string, channel ChannelConfig) error {
	path := "notify.channel." + name
	if !IsSupportedChannelType(channel.Type) {
		return fmt.Errorf("%s.type has unsupported value %q", path, channel.Type)
	}
	if channel.Disabled {
		return nil
	}
	switch channel.Type {
	case ChannelTypeDiscord, ChannelTypeHTTP:
		if strings.TrimSpace(channel.URL) == "" {
			return fmt.Errorf("%s.url is required for type=%s", path, channel.Type)
		}
	case ChannelTypeTelegram:
		if strings.TrimSpace(channel.BotToken) == "" {
			return fmt.Errorf("%s.bot_token is required for type=telegram", path)
		}
		if strings.TrimSpace(channel.ChatID) == "" {
			return fmt.Errorf("%s.chat_id is required for type=telegram", path)
		}
	case ChannelTypeMattermost:
		if strings.TrimSpace(channel.BaseURL) == "" {
			return fmt.Errorf("%s.base_url is required for type=mattermost", path)
		}
		if strings.TrimSpace(channel.BotToken) == "" {
			return fmt.Errorf("%s.bot_token is required for type=mattermost", path)
		}
		if strings.TrimSpace(channel.ChannelID) == "" {
			return fmt.Errorf("%s.channel_id is required for type=mattermost", path)
		}
	case ChannelTypeJetStream:
		if mode != ServiceModeNATS {
			return fmt.Errorf("%s type=jetstream requires service.mode=nats", path)
		}
	}
	if strings.TrimSpace(channel.Template) != "" {
		if _, err := templatefmt.ParseNotificationTemplate(path+".template", channel.Template); err != nil {
			return fmt.Errorf("%s.template is invalid: %w", path, err)
		}
	}
	return nil
}

// validateLogSink validates one log sink configuration.
// Params: sink name, sink values, and whether path is required.
// Returns: sink validation error.
func validateLogSink(name string, sink LogSinkConfig, requirePath bool) error {
	if !sink.Enabled {
		return nil
	}

	switch strings.ToLower(strings.TrimSpace(sink.Level)) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("%s.level has unsupported value %q", name, sink.Level)
	}

	switch strings.ToLower(strings.TrimSpace(sink.Format)) {
	case "line", "json":
	default:
		return fmt.Errorf("%s.format has unsupported value %q", name, sink.Format)
	}

	if requirePath && strings.TrimSpace(sink.Path) == "" {
		return fmt.Errorf("%s.path is required", name)
	}
	return nil
}

// profile returns mutable tier config.
func (c *IntensityConfig) profile(name domain.IntensityName) *ProfileConfig {
	switch name {
	case domain.IntensityMild:
		return &c.Mild
	case domain.IntensityExtreme:
		return &c.Extreme
	default:
		return &c.Medium
	}
}

// Profiles converts tier configs into immutable domain profiles.
// Params: corrected config.
// Returns: profiles keyed by tier name.
func Profiles(cfg Config) map[domain.IntensityName]domain.Profile {
	profiles := make(map[domain.IntensityName]domain.Profile, len(domain.IntensityNames))
	for _, name := range domain.IntensityNames {
		raw := *cfg.Intensity.profile(name)
		drops := make([]domain.Drop, 0, len(raw.Drop))
		for _, drop := range raw.Drop {
			drops = append(drops, domain.Drop{Shortname: drop.Shortname, Min: drop.Min, Max: drop.Max})
		}
		profiles[name] = domain.Profile{
			Name:             name,
			Radius:           raw.Radius,
			RocketCount:      raw.RocketCount,
			Duration:         time.Duration(raw.DurationSec) * time.Second,
			FireChance:       raw.FireChance,
			DamageMultiplier: raw.DamageMultiplier,
			DropMultiplier:   raw.DropMultiplier,
			DropsEnabled:     raw.DropsEnabled,
			Drops:            drops,
		}
	}
	return profiles
}

// NormalizeServiceMode normalizes service mode value.
// Params: raw mode value from config.
// Returns: lowercase mode with single as default.
func NormalizeServiceMode(value string) string {
	mode := strings.ToLower(strings.TrimSpace(value))
	if mode == "" {
		return ServiceModeSingle
	}
	return mode
}

// IsSupportedServiceMode reports whether mode is supported.
// Params: normalized mode.
// Returns: true for single or nats.
func IsSupportedServiceMode(mode string) bool {
	return mode == ServiceModeSingle || mode == ServiceModeNATS
}

// IsSupportedChannelType reports whether channel type is known.
func IsSupportedChannelType(kind string) bool {
	for _, known := range channelTypes {
		if known == kind {
			return true
		}
	}
	return false
}

// ChannelNames returns enabled channel names in deterministic order.
// Params: notify config.
// Returns: sorted names of channels that are not disabled.
func ChannelNames(cfg NotifyConfig) []string {
	names := make([]string, 0, len(cfg.Channel))
	for _, name := range sortedKeys(cfg.Channel) {
		if !cfg.Channel[name].Disabled {
			names = append(names, name)
		}
	}
	return names
}

func firstChannel(channels map[string]ChannelConfig) string {
	for _, name := range sortedKeys(channels) {
		if !channels[name].Disabled {
			return name
		}
	}
	return ""
}

func normalizeNATSURLs(urls []string) []string {
	out := make([]string, 0, len(urls))
	for _, url := range urls {
		if trimmed := strings.TrimSpace(url); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func sortedKeys[V any](values map[string]V) []string {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
