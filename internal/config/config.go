package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel       string `yaml:"log_level"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	OTLPInsecure   bool   `yaml:"otlp_insecure"`
	PrometheusBind string `yaml:"prometheus_bind"`
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type Config struct {
	ServiceName string          `yaml:"service_name"`
	Environment string          `yaml:"environment"`
	HTTP        HTTPConfig      `yaml:"http"`
	Telemetry   TelemetryConfig `yaml:"telemetry"`
	Bus         BusConfig       `yaml:"bus"`
	Ledger      LedgerConfig    `yaml:"ledger"`
	Storage     StorageConfig   `yaml:"storage"`
	Synthesis   SynthesisConfig `yaml:"synthesis"`
	Fallback    FallbackConfig  `yaml:"fallback"`
	Generator   GeneratorConfig `yaml:"generator"`
}

type BusConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Embedded       bool     `yaml:"embedded"`
	Host           string   `yaml:"host"`
	Port           int      `yaml:"port"`
	StoreDir       string   `yaml:"store_dir"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

// LedgerConfig controls the SQLite record of generation runs and segments.
type LedgerConfig struct {
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"`
	RetentionDays int    `yaml:"retention_days"`
	MaxRuns       int    `yaml:"max_runs"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

// StorageConfig locates the directory holding manifests and segment files.
type StorageConfig struct {
	Root    string `yaml:"root"`
	BaseURL string `yaml:"base_url"`
}

// SynthesisConfig describes the remote streaming endpoint. Origin, UserAgent
// and the client token are values mandated by the backend, not secrets.
type SynthesisConfig struct {
	Backend            string `yaml:"backend"` // edge, mock
	Endpoint           string `yaml:"endpoint"`
	TrustedClientToken string `yaml:"trusted_client_token"`
	SecVersion         string `yaml:"sec_version"`
	Origin             string `yaml:"origin"`
	UserAgent          string `yaml:"user_agent"`
	OutputFormat       string `yaml:"output_format"`
	Voice              string `yaml:"voice"`
	Gender             string `yaml:"gender"`
	Locale             string `yaml:"locale"`
	Rate               string `yaml:"rate"`
	Pitch              string `yaml:"pitch"`
	Volume             string `yaml:"volume"`
	TimeoutMS          int    `yaml:"timeout_ms"`
	RequestsPerMinute  int    `yaml:"requests_per_minute"`
}

type FallbackConfig struct {
	Enabled        bool   `yaml:"enabled"`
	Mode           string `yaml:"mode"` // exec, mock
	Command        string `yaml:"command"`
	Format         string `yaml:"format"`
	MockDurationMS int    `yaml:"mock_duration_ms"`
}

type GeneratorConfig struct {
	QuickStartVerses          int     `yaml:"quick_start_verses"`
	UpdateEvery               int     `yaml:"update_every"`
	BackgroundVersesPerSecond float64 `yaml:"background_verses_per_second"`
	LowVersesPerSecond        float64 `yaml:"low_verses_per_second"`
}

func Default() Config {
	return Config{
		ServiceName: "versecast",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "0.0.0.0",
			Port: 8080,
		},
		Telemetry: TelemetryConfig{
			LogLevel:       "info",
			OTLPEndpoint:   "",
			OTLPInsecure:   true,
			PrometheusBind: ":9091",
		},
		Bus: BusConfig{
			Enabled:        true,
			Embedded:       true,
			Host:           "0.0.0.0",
			Port:           4222,
			StoreDir:       "./data/nats",
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		Ledger: LedgerConfig{
			Path:          "./data/versecast-ledger.db",
			RetentionMode: "session",
			RetentionDays: 30,
			MaxRuns:       10000,
		},
		Storage: StorageConfig{
			Root: "./data/audio",
		},
		Synthesis: SynthesisConfig{
			Backend:            "edge",
			Endpoint:           "wss://speech.platform.bing.com/consumer/speech/synthesize/readaloud/edge/v1",
			TrustedClientToken: "6A5AA1D4EAFF4E9FB37E23D68491D6F4",
			SecVersion:         "1-130.0.2849.68",
			Origin:             "chrome-extension://jdiccldimpdaibmpdkjnbmckianbfold",
			UserAgent:          "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/130.0.0.0 Safari/537.36 Edg/130.0.0.0",
			OutputFormat:       "audio-24khz-48kbitrate-mono-mp3",
			Gender:             "Male",
			Locale:             "en-US",
			Rate:               "+0%",
			Pitch:              "+0Hz",
			Volume:             "+0%",
			TimeoutMS:          15000,
			RequestsPerMinute:  120,
		},
		Fallback: FallbackConfig{
			Enabled:        true,
			Mode:           "exec",
			Command:        "espeak-ng --stdout",
			Format:         "wav",
			MockDurationMS: 2000,
		},
		Generator: GeneratorConfig{
			QuickStartVerses:          3,
			UpdateEvery:               3,
			BackgroundVersesPerSecond: 4,
			LowVersesPerSecond:        1,
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
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.ServiceName, "VERSECAST_SERVICE_NAME")
	overrideString(&cfg.Environment, "VERSECAST_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "VERSECAST_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "VERSECAST_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "VERSECAST_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "VERSECAST_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "VERSECAST_TELEMETRY_OTLP_INSECURE")
	overrideString(&cfg.Telemetry.PrometheusBind, "VERSECAST_TELEMETRY_PROMETHEUS_BIND")
	overrideBool(&cfg.Bus.Enabled, "VERSECAST_BUS_ENABLED")
	overrideBool(&cfg.Bus.Embedded, "VERSECAST_BUS_EMBEDDED")
	overrideString(&cfg.Bus.Host, "VERSECAST_BUS_HOST")
	overrideInt(&cfg.Bus.Port, "VERSECAST_BUS_PORT")
	overrideString(&cfg.Bus.StoreDir, "VERSECAST_BUS_STORE_DIR")
	overrideStringSlice(&cfg.Bus.Servers, "VERSECAST_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "VERSECAST_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "VERSECAST_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "VERSECAST_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "VERSECAST_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "VERSECAST_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.Ledger.Path, "VERSECAST_LEDGER_PATH")
	overrideString(&cfg.Ledger.RetentionMode, "VERSECAST_LEDGER_RETENTION_MODE")
	overrideInt(&cfg.Ledger.RetentionDays, "VERSECAST_LEDGER_RETENTION_DAYS")
	overrideInt(&cfg.Ledger.MaxRuns, "VERSECAST_LEDGER_MAX_RUNS")
	overrideBool(&cfg.Ledger.VacuumOnStart, "VERSECAST_LEDGER_VACUUM_ON_START")
	overrideString(&cfg.Storage.Root, "VERSECAST_STORAGE_ROOT")
	overrideString(&cfg.Storage.BaseURL, "VERSECAST_STORAGE_BASE_URL")
	overrideString(&cfg.Synthesis.Backend, "VERSECAST_SYNTHESIS_BACKEND")
	overrideString(&cfg.Synthesis.Endpoint, "VERSECAST_SYNTHESIS_ENDPOINT")
	overrideString(&cfg.Synthesis.TrustedClientToken, "VERSECAST_SYNTHESIS_TRUSTED_CLIENT_TOKEN")
	overrideString(&cfg.Synthesis.SecVersion, "VERSECAST_SYNTHESIS_SEC_VERSION")
	overrideString(&cfg.Synthesis.Origin, "VERSECAST_SYNTHESIS_ORIGIN")
	overrideString(&cfg.Synthesis.UserAgent, "VERSECAST_SYNTHESIS_USER_AGENT")
	overrideString(&cfg.Synthesis.OutputFormat, "VERSECAST_SYNTHESIS_OUTPUT_FORMAT")
	overrideString(&cfg.Synthesis.Voice, "VERSECAST_SYNTHESIS_VOICE")
	overrideString(&cfg.Synthesis.Gender, "VERSECAST_SYNTHESIS_GENDER")
	overrideString(&cfg.Synthesis.Locale, "VERSECAST_SYNTHESIS_LOCALE")
	overrideString(&cfg.Synthesis.Rate, "VERSECAST_SYNTHESIS_RATE")
	overrideString(&cfg.Synthesis.Pitch, "VERSECAST_SYNTHESIS_PITCH")
	overrideString(&cfg.Synthesis.Volume, "VERSECAST_SYNTHESIS_VOLUME")
	overrideInt(&cfg.Synthesis.TimeoutMS, "VERSECAST_SYNTHESIS_TIMEOUT_MS")
	overrideInt(&cfg.Synthesis.RequestsPerMinute, "VERSECAST_SYNTHESIS_REQUESTS_PER_MINUTE")
	overrideBool(&cfg.Fallback.Enabled, "VERSECAST_FALLBACK_ENABLED")
	overrideString(&cfg.Fallback.Mode, "VERSECAST_FALLBACK_MODE")
	overrideString(&cfg.Fallback.Command, "VERSECAST_FALLBACK_COMMAND")
	overrideString(&cfg.Fallback.Format, "VERSECAST_FALLBACK_FORMAT")
	overrideInt(&cfg.Fallback.MockDurationMS, "VERSECAST_FALLBACK_MOCK_DURATION_MS")
	overrideInt(&cfg.Generator.QuickStartVerses, "VERSECAST_GENERATOR_QUICK_START_VERSES")
	overrideInt(&cfg.Generator.UpdateEvery, "VERSECAST_GENERATOR_UPDATE_EVERY")
	overrideFloat(&cfg.Generator.BackgroundVersesPerSecond, "VERSECAST_GENERATOR_BACKGROUND_VERSES_PER_SECOND")
	overrideFloat(&cfg.Generator.LowVersesPerSecond, "VERSECAST_GENERATOR_LOW_VERSES_PER_SECOND")
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

func validate(cfg Config) error {
	if cfg.ServiceName == "" {
		return errors.New("service_name must not be empty")
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
	if cfg.Ledger.Path == "" && cfg.Ledger.RetentionMode != "ephemeral" {
		return errors.New("ledger.path must not be empty")
	}
	switch cfg.Ledger.RetentionMode {
	case "ephemeral", "session", "persistent":
		// ok
	default:
		return errors.New("ledger.retention_mode must be one of ephemeral|session|persistent")
	}
	if cfg.Ledger.RetentionDays < 0 {
		return errors.New("ledger.retention_days must be >= 0")
	}
	if cfg.Telemetry.PrometheusBind == "" {
		return errors.New("telemetry.prometheus_bind must not be empty")
	}
	if cfg.Storage.Root == "" {
		return errors.New("storage.root must not be empty")
	}
	switch cfg.Synthesis.Backend {
	case "edge", "mock":
	default:
		return errors.New("synthesis.backend must be one of edge|mock")
	}
	if cfg.Synthesis.Endpoint == "" {
		return errors.New("synthesis.endpoint must not be empty")
	}
	if cfg.Synthesis.TrustedClientToken == "" {
		return errors.New("synthesis.trusted_client_token must not be empty")
	}
	if cfg.Synthesis.TimeoutMS <= 0 {
		return errors.New("synthesis.timeout_ms must be positive")
	}
	if cfg.Synthesis.RequestsPerMinute < 0 {
		return errors.New("synthesis.requests_per_minute must be >= 0")
	}
	if cfg.Fallback.Enabled {
		switch cfg.Fallback.Mode {
		case "mock", "exec":
		default:
			return errors.New("fallback.mode must be one of mock|exec")
		}
		if cfg.Fallback.Mode == "exec" && cfg.Fallback.Command == "" {
			return errors.New("fallback.command must be set when mode=exec")
		}
		switch cfg.Fallback.Format {
		case "wav", "mp3":
		default:
			return errors.New("fallback.format must be one of wav|mp3")
		}
	}
	usesMock := cfg.Synthesis.Backend == "mock" || (cfg.Fallback.Enabled && cfg.Fallback.Mode == "mock")
	if usesMock && cfg.Fallback.MockDurationMS <= 0 {
		return errors.New("fallback.mock_duration_ms must be positive when a mock synthesizer is used")
	}
	if cfg.Generator.QuickStartVerses <= 0 {
		return errors.New("generator.quick_start_verses must be positive")
	}
	if cfg.Generator.UpdateEvery <= 0 {
		return errors.New("generator.update_every must be positive")
	}
	if cfg.Generator.BackgroundVersesPerSecond < 0 || cfg.Generator.LowVersesPerSecond < 0 {
		return errors.New("generator verse rates must be >= 0")
	}
	return nil
}
