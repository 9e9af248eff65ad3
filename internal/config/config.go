package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel       string `yaml:"log_level"`
	LogFile        string `yaml:"log_file"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	OTLPInsecure   bool   `yaml:"otlp_insecure"`
	PrometheusBind string `yaml:"prometheus_bind"`
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type Config struct {
	RuntimeName  string             `yaml:"runtime_name"`
	Environment  string             `yaml:"environment"`
	HTTP         HTTPConfig         `yaml:"http"`
	Telemetry    TelemetryConfig    `yaml:"telemetry"`
	Bus          BusConfig          `yaml:"bus"`
	EventStore   EventStoreConfig   `yaml:"event_store"`
	Settings     SettingsConfig     `yaml:"settings"`
	Recognition  RecognitionConfig  `yaml:"recognition"`
	Watchdog     WatchdogConfig     `yaml:"watchdog"`
	Visibility   VisibilityConfig   `yaml:"visibility"`
	Commit       CommitConfig       `yaml:"commit"`
	Translation  TranslationConfig  `yaml:"translation"`
	Conversation ConversationConfig `yaml:"conversation"`
}

type BusConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	StoreDir       string   `yaml:"store_dir"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

type EventStoreConfig struct {
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"`
	RetentionDays int    `yaml:"retention_days"`
	MaxSessions   int    `yaml:"max_sessions"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

// SettingsConfig selects where the durable UI preferences live.
type SettingsConfig struct {
	Backend string `yaml:"backend"` // memory, sqlite
	Path    string `yaml:"path"`
}

type RecognitionConfig struct {
	Mode                   string  `yaml:"mode"` // mock, exec, bus
	Command                string  `yaml:"command"`
	RestartDelayMS         int     `yaml:"restart_delay_ms"`
	NetworkRestartDelayMS  int     `yaml:"network_restart_delay_ms"`
	EndRestartDelayMS      int     `yaml:"end_restart_delay_ms"`
	LanguageSwitchDelayMS  int     `yaml:"language_switch_delay_ms"`
	MaxRestartDelayMS      int     `yaml:"max_restart_delay_ms"`
	RestartBackoffMultiple float64 `yaml:"restart_backoff_multiplier"`
}

type WatchdogConfig struct {
	IntervalMS  int `yaml:"interval_ms"`
	ThresholdMS int `yaml:"threshold_ms"`
}

type VisibilityConfig struct {
	ResumeDelayMS int `yaml:"resume_delay_ms"`
}

type CommitConfig struct {
	PunctuationDelayMS int `yaml:"punctuation_delay_ms"`
	SilenceDelayMS     int `yaml:"silence_delay_ms"`
	DuplicateWindowMS  int `yaml:"duplicate_window_ms"`
}

type TranslationConfig struct {
	Providers        []string `yaml:"providers"` // deepl, mymemory, exec, mock
	DeepLEndpoint    string   `yaml:"deepl_endpoint"`
	DeepLAuthKey     string   `yaml:"deepl_auth_key"`
	MyMemoryEndpoint string   `yaml:"mymemory_endpoint"`
	MyMemoryEmail    string   `yaml:"mymemory_email"`
	Command          string   `yaml:"command"`
	TimeoutMS        int      `yaml:"timeout_ms"`
	CacheSize        int      `yaml:"cache_size"`
}

type ConversationConfig struct {
	MyLanguage      string `yaml:"my_language"`
	PartnerLanguage string `yaml:"partner_language"`
	NoticeTTLMS     int    `yaml:"notice_ttl_ms"`
	MaxMessages     int    `yaml:"max_messages"`
}

func Default() Config {
	return Config{
		RuntimeName: "loqa-interpreter",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "0.0.0.0",
			Port: 8080,
		},
		Telemetry: TelemetryConfig{
			LogLevel:       "info",
			OTLPEndpoint:   "",
			OTLPInsecure:   true,
			PrometheusBind: "",
		},
		Bus: BusConfig{
			Enabled:        false,
			Embedded:       true,
			Port:           4222,
			StoreDir:       "./data/nats",
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		EventStore: EventStoreConfig{
			Path:          "./data/interpreter-events.db",
			RetentionMode: "session",
			RetentionDays: 30,
			MaxSessions:   1000,
		},
		Settings: SettingsConfig{
			Backend: "sqlite",
			Path:    "./data/interpreter-settings.db",
		},
		Recognition: RecognitionConfig{
			Mode:                   "mock",
			RestartDelayMS:         300,
			NetworkRestartDelayMS:  1500,
			EndRestartDelayMS:      100,
			LanguageSwitchDelayMS:  300,
			MaxRestartDelayMS:      10000,
			RestartBackoffMultiple: 2,
		},
		Watchdog: WatchdogConfig{
			IntervalMS:  1000,
			ThresholdMS: 10000,
		},
		Visibility: VisibilityConfig{
			ResumeDelayMS: 500,
		},
		Commit: CommitConfig{
			PunctuationDelayMS: 800,
			SilenceDelayMS:     2000,
			DuplicateWindowMS:  5000,
		},
		Translation: TranslationConfig{
			Providers:        []string{"deepl", "mymemory"},
			DeepLEndpoint:    "https://api-free.deepl.com/v2/translate",
			MyMemoryEndpoint: "https://api.mymemory.translated.net/get",
			TimeoutMS:        10000,
			CacheSize:        256,
		},
		Conversation: ConversationConfig{
			MyLanguage:      "en-US",
			PartnerLanguage: "ja-JP",
			NoticeTTLMS:     4000,
			MaxMessages:     500,
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := Validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Millis converts a *_ms config value to a duration.
func Millis(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.RuntimeName, "LOQA_RUNTIME_NAME")
	overrideString(&cfg.Environment, "LOQA_RUNTIME_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "LOQA_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "LOQA_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "LOQA_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.LogFile, "LOQA_TELEMETRY_LOG_FILE")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "LOQA_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "LOQA_TELEMETRY_OTLP_INSECURE")
	overrideString(&cfg.Telemetry.PrometheusBind, "LOQA_TELEMETRY_PROMETHEUS_BIND")
	overrideBool(&cfg.Bus.Enabled, "LOQA_BUS_ENABLED")
	overrideBool(&cfg.Bus.Embedded, "LOQA_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "LOQA_BUS_PORT")
	overrideString(&cfg.Bus.StoreDir, "LOQA_BUS_STORE_DIR")
	overrideStringSlice(&cfg.Bus.Servers, "LOQA_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "LOQA_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "LOQA_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "LOQA_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "LOQA_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "LOQA_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.EventStore.Path, "LOQA_EVENT_STORE_PATH")
	overrideString(&cfg.EventStore.RetentionMode, "LOQA_EVENT_STORE_RETENTION_MODE")
	overrideInt(&cfg.EventStore.RetentionDays, "LOQA_EVENT_STORE_RETENTION_DAYS")
	overrideInt(&cfg.EventStore.MaxSessions, "LOQA_EVENT_STORE_MAX_SESSIONS")
	overrideBool(&cfg.EventStore.VacuumOnStart, "LOQA_EVENT_STORE_VACUUM_ON_START")
	overrideString(&cfg.Settings.Backend, "LOQA_SETTINGS_BACKEND")
	overrideString(&cfg.Settings.Path, "LOQA_SETTINGS_PATH")
	overrideString(&cfg.Recognition.Mode, "LOQA_RECOGNITION_MODE")
	overrideString(&cfg.Recognition.Command, "LOQA_RECOGNITION_COMMAND")
	overrideInt(&cfg.Recognition.RestartDelayMS, "LOQA_RECOGNITION_RESTART_DELAY_MS")
	overrideInt(&cfg.Recognition.NetworkRestartDelayMS, "LOQA_RECOGNITION_NETWORK_RESTART_DELAY_MS")
	overrideInt(&cfg.Recognition.EndRestartDelayMS, "LOQA_RECOGNITION_END_RESTART_DELAY_MS")
	overrideInt(&cfg.Recognition.LanguageSwitchDelayMS, "LOQA_RECOGNITION_LANGUAGE_SWITCH_DELAY_MS")
	overrideInt(&cfg.Recognition.MaxRestartDelayMS, "LOQA_RECOGNITION_MAX_RESTART_DELAY_MS")
	overrideFloat(&cfg.Recognition.RestartBackoffMultiple, "LOQA_RECOGNITION_RESTART_BACKOFF_MULTIPLIER")
	overrideInt(&cfg.Watchdog.IntervalMS, "LOQA_WATCHDOG_INTERVAL_MS")
	overrideInt(&cfg.Watchdog.ThresholdMS, "LOQA_WATCHDOG_THRESHOLD_MS")
	overrideInt(&cfg.Visibility.ResumeDelayMS, "LOQA_VISIBILITY_RESUME_DELAY_MS")
	overrideInt(&cfg.Commit.PunctuationDelayMS, "LOQA_COMMIT_PUNCTUATION_DELAY_MS")
	overrideInt(&cfg.Commit.SilenceDelayMS, "LOQA_COMMIT_SILENCE_DELAY_MS")
	overrideInt(&cfg.Commit.DuplicateWindowMS, "LOQA_COMMIT_DUPLICATE_WINDOW_MS")
	overrideStringSlice(&cfg.Translation.Providers, "LOQA_TRANSLATION_PROVIDERS")
	overrideString(&cfg.Translation.DeepLEndpoint, "LOQA_TRANSLATION_DEEPL_ENDPOINT")
	overrideString(&cfg.Translation.DeepLAuthKey, "LOQA_TRANSLATION_DEEPL_AUTH_KEY")
	overrideString(&cfg.Translation.MyMemoryEndpoint, "LOQA_TRANSLATION_MYMEMORY_ENDPOINT")
	overrideString(&cfg.Translation.MyMemoryEmail, "LOQA_TRANSLATION_MYMEMORY_EMAIL")
	overrideString(&cfg.Translation.Command, "LOQA_TRANSLATION_COMMAND")
	overrideInt(&cfg.Translation.TimeoutMS, "LOQA_TRANSLATION_TIMEOUT_MS")
	overrideInt(&cfg.Translation.CacheSize, "LOQA_TRANSLATION_CACHE_SIZE")
	overrideString(&cfg.Conversation.MyLanguage, "LOQA_CONVERSATION_MY_LANGUAGE")
	overrideString(&cfg.Conversation.PartnerLanguage, "LOQA_CONVERSATION_PARTNER_LANGUAGE")
	overrideInt(&cfg.Conversation.NoticeTTLMS, "LOQA_CONVERSATION_NOTICE_TTL_MS")
	overrideInt(&cfg.Conversation.MaxMessages, "LOQA_CONVERSATION_MAX_MESSAGES")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		parts := strings.Split(value, ",")
		var trimmed []string
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

func overrideFloat(target *float64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			*target = parsed
		}
	}
}

// Validate reports the first invalid setting in cfg.
func Validate(cfg Config) error {
	if cfg.RuntimeName == "" {
		return errors.New("runtime_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	if cfg.Bus.Enabled {
		if cfg.Bus.Embedded {
			if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
				return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
			}
		} else if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
	}
	if cfg.EventStore.Path == "" && cfg.EventStore.RetentionMode != "ephemeral" {
		return errors.New("event_store.path must not be empty")
	}
	switch cfg.EventStore.RetentionMode {
	case "ephemeral", "session", "persistent":
		// ok
	default:
		return errors.New("event_store.retention_mode must be one of ephemeral|session|persistent")
	}
	if cfg.EventStore.RetentionDays < 0 {
		return errors.New("event_store.retention_days must be >= 0")
	}
	switch cfg.Settings.Backend {
	case "memory":
	case "sqlite":
		if cfg.Settings.Path == "" {
			return errors.New("settings.path must be set when backend=sqlite")
		}
	default:
		return errors.New("settings.backend must be one of memory|sqlite")
	}
	switch cfg.Recognition.Mode {
	case "mock":
	case "exec":
		if cfg.Recognition.Command == "" {
			return errors.New("recognition.command must be set when mode=exec")
		}
	case "bus":
		if !cfg.Bus.Enabled {
			return errors.New("recognition.mode=bus requires bus.enabled")
		}
	default:
		return errors.New("recognition.mode must be one of mock|exec|bus")
	}
	if cfg.Recognition.RestartDelayMS <= 0 || cfg.Recognition.NetworkRestartDelayMS <= 0 {
		return errors.New("recognition restart delays must be positive")
	}
	if cfg.Recognition.EndRestartDelayMS < 0 || cfg.Recognition.LanguageSwitchDelayMS < 0 {
		return errors.New("recognition end/language delays must be >= 0")
	}
	if cfg.Recognition.MaxRestartDelayMS < cfg.Recognition.NetworkRestartDelayMS {
		return errors.New("recognition.max_restart_delay_ms must be >= network_restart_delay_ms")
	}
	if cfg.Recognition.RestartBackoffMultiple < 1 {
		return errors.New("recognition.restart_backoff_multiplier must be >= 1")
	}
	if cfg.Watchdog.IntervalMS <= 0 {
		return errors.New("watchdog.interval_ms must be positive")
	}
	if cfg.Watchdog.ThresholdMS <= cfg.Watchdog.IntervalMS {
		return errors.New("watchdog.threshold_ms must be greater than interval")
	}
	if cfg.Visibility.ResumeDelayMS < 0 {
		return errors.New("visibility.resume_delay_ms must be >= 0")
	}
	if cfg.Commit.PunctuationDelayMS <= 0 || cfg.Commit.SilenceDelayMS <= 0 {
		return errors.New("commit delays must be positive")
	}
	if cfg.Commit.PunctuationDelayMS > cfg.Commit.SilenceDelayMS {
		return errors.New("commit.punctuation_delay_ms must not exceed silence_delay_ms")
	}
	if cfg.Commit.DuplicateWindowMS < 0 {
		return errors.New("commit.duplicate_window_ms must be >= 0")
	}
	if len(cfg.Translation.Providers) == 0 {
		return errors.New("translation.providers must not be empty")
	}
	for _, p := range cfg.Translation.Providers {
		switch p {
		case "deepl", "mymemory", "mock":
		case "exec":
			if cfg.Translation.Command == "" {
				return errors.New("translation.command must be set when the exec provider is enabled")
			}
		default:
			return fmt.Errorf("translation.providers: unknown provider %q", p)
		}
	}
	if cfg.Translation.TimeoutMS <= 0 {
		return errors.New("translation.timeout_ms must be positive")
	}
	if cfg.Translation.CacheSize < 0 {
		return errors.New("translation.cache_size must be >= 0")
	}
	if cfg.Conversation.MyLanguage == "" || cfg.Conversation.PartnerLanguage == "" {
		return errors.New("conversation languages must not be empty")
	}
	if cfg.Conversation.NoticeTTLMS <= 0 {
		return errors.New("conversation.notice_ttl_ms must be positive")
	}
	return nil
}
