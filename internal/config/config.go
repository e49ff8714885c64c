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
	LogLevel     string `yaml:"log_level"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	OTLPInsecure bool   `yaml:"otlp_insecure"`
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type Config struct {
	RuntimeName string           `yaml:"runtime_name"`
	Environment string           `yaml:"environment"`
	HTTP        HTTPConfig       `yaml:"http"`
	Telemetry   TelemetryConfig  `yaml:"telemetry"`
	Bus         BusConfig        `yaml:"bus"`
	EventStore  EventStoreConfig `yaml:"event_store"`
	Engine      EngineConfig     `yaml:"engine"`
	Synthesis   SynthesisConfig  `yaml:"synthesis"`
	Gateway     GatewayConfig    `yaml:"gateway"`
	Player      PlayerConfig     `yaml:"player"`
	Ingest      IngestConfig     `yaml:"ingest"`
	Schedule    []ScheduleEntry  `yaml:"schedule"`
}

type BusConfig struct {
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
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
	MaxStreams    int    `yaml:"max_streams"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

// EngineConfig tunes the admission queue, the per-flow playback queues and
// the dispatcher's flow classification.
type EngineConfig struct {
	AdmissionCapacity int            `yaml:"admission_capacity"`
	PressureLow       int            `yaml:"pressure_low"`
	PressureMedium    int            `yaml:"pressure_medium"`
	DequeueTimeoutMS  int            `yaml:"dequeue_timeout_ms"`
	PriorityMapping   map[string]int `yaml:"priority_mapping"`
	FlowCapacity      int            `yaml:"flow_capacity"`
	NarrationCapacity int            `yaml:"narration_capacity"`
	GlobalCharDelayMS int            `yaml:"global_char_delay_ms"`
	AssistCharDelayMS int            `yaml:"assistant_char_delay_ms"`
	AssistantKinds    []string       `yaml:"assistant_kinds"`
	VisualBody        string         `yaml:"visual_body"`
	LoopNarration     bool           `yaml:"loop_narration"`
	TextSplit         bool           `yaml:"text_split"`
}

// SynthesisConfig selects TTS backends and their parameter bags. Params are
// free-form and interpreted by the backend registered under the same id.
type SynthesisConfig struct {
	DefaultBackend   string                       `yaml:"default_backend"`
	Language         string                       `yaml:"language"`
	OutputDir        string                       `yaml:"output_dir"`
	Backends         map[string]map[string]string `yaml:"backends"`
	AssistantBackend string                       `yaml:"assistant_backend"`
	AssistantParams  map[string]string            `yaml:"assistant_params"`
}

type GatewayConfig struct {
	Enabled      bool   `yaml:"enabled"`
	Endpoint     string `yaml:"endpoint"`
	MaxRetries   int    `yaml:"max_retries"`
	RetryDelayMS int    `yaml:"retry_delay_ms"`
	ExtraDelayMS int    `yaml:"extra_delay_ms"`
	TimeoutMS    int    `yaml:"timeout_ms"`
}

type PlayerConfig struct {
	Mode       string `yaml:"mode"` // mock, exec, device
	Command    string `yaml:"command"`
	SampleRate int    `yaml:"sample_rate"`
	Channels   int    `yaml:"channels"`
}

type IngestConfig struct {
	Enabled         bool `yaml:"enabled"`
	ReplayEveryMS   int  `yaml:"replay_every_ms"`
	ReplayBatchSize int  `yaml:"replay_batch_size"`
}

type ScheduleEntry struct {
	Text       string `yaml:"text"`
	IntervalMS int    `yaml:"interval_ms"`
}

func Default() Config {
	return Config{
		RuntimeName: "echocast-runtime",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "0.0.0.0",
			Port: 8080,
		},
		Telemetry: TelemetryConfig{
			LogLevel:     "info",
			OTLPEndpoint: "",
			OTLPInsecure: true,
		},
		Bus: BusConfig{
			Embedded:       true,
			Port:           4222,
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		EventStore: EventStoreConfig{
			Path:          "./data/echocast-events.db",
			RetentionMode: "session",
			RetentionDays: 30,
			MaxStreams:    10000,
		},
		Engine: EngineConfig{
			AdmissionCapacity: 50,
			PressureLow:       10,
			PressureMedium:    30,
			DequeueTimeoutMS:  1000,
			PriorityMapping: map[string]int{
				"reread_top_priority": 10,
				"abnormal_alarm":      10,
				"talk":                9,
				"comment":             8,
				"local_qa_audio":      7,
				"song":                6,
				"reread":              5,
				"key_mapping":         4,
				"integral":            3,
				"read_comment":        2,
				"gift":                2,
				"entrance":            1,
				"follow":              1,
				"like":                1,
				"schedule":            0,
				"idle_time_task":      0,
			},
			FlowCapacity:      50,
			NarrationCapacity: 30,
			GlobalCharDelayMS: 180,
			AssistCharDelayMS: 120,
			AssistantKinds:    []string{"read_comment", "gift", "entrance", "follow"},
			VisualBody:        "none",
			LoopNarration:     false,
			TextSplit:         true,
		},
		Synthesis: SynthesisConfig{
			DefaultBackend: "mock",
			Language:       "auto",
			OutputDir:      "./data/audio",
			Backends:       map[string]map[string]string{},
		},
		Gateway: GatewayConfig{
			Enabled:      false,
			Endpoint:     "http://localhost:8051/receive_audio",
			MaxRetries:   3,
			RetryDelayMS: 1000,
			ExtraDelayMS: 1000,
			TimeoutMS:    10000,
		},
		Player: PlayerConfig{
			Mode:       "mock",
			SampleRate: 22050,
			Channels:   2,
		},
		Ingest: IngestConfig{
			Enabled:         true,
			ReplayEveryMS:   2000,
			ReplayBatchSize: 5,
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
	overrideString(&cfg.RuntimeName, "ECHOCAST_RUNTIME_NAME")
	overrideString(&cfg.Environment, "ECHOCAST_RUNTIME_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "ECHOCAST_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "ECHOCAST_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "ECHOCAST_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "ECHOCAST_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "ECHOCAST_TELEMETRY_OTLP_INSECURE")
	overrideBool(&cfg.Bus.Embedded, "ECHOCAST_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "ECHOCAST_BUS_PORT")
	overrideStringSlice(&cfg.Bus.Servers, "ECHOCAST_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "ECHOCAST_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "ECHOCAST_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "ECHOCAST_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "ECHOCAST_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "ECHOCAST_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.EventStore.Path, "ECHOCAST_EVENT_STORE_PATH")
	overrideString(&cfg.EventStore.RetentionMode, "ECHOCAST_EVENT_STORE_RETENTION_MODE")
	overrideInt(&cfg.EventStore.RetentionDays, "ECHOCAST_EVENT_STORE_RETENTION_DAYS")
	overrideInt(&cfg.EventStore.MaxStreams, "ECHOCAST_EVENT_STORE_MAX_STREAMS")
	overrideBool(&cfg.EventStore.VacuumOnStart, "ECHOCAST_EVENT_STORE_VACUUM_ON_START")
	overrideInt(&cfg.Engine.AdmissionCapacity, "ECHOCAST_ENGINE_ADMISSION_CAPACITY")
	overrideInt(&cfg.Engine.PressureLow, "ECHOCAST_ENGINE_PRESSURE_LOW")
	overrideInt(&cfg.Engine.PressureMedium, "ECHOCAST_ENGINE_PRESSURE_MEDIUM")
	overrideInt(&cfg.Engine.FlowCapacity, "ECHOCAST_ENGINE_FLOW_CAPACITY")
	overrideInt(&cfg.Engine.NarrationCapacity, "ECHOCAST_ENGINE_NARRATION_CAPACITY")
	overrideInt(&cfg.Engine.GlobalCharDelayMS, "ECHOCAST_ENGINE_GLOBAL_CHAR_DELAY_MS")
	overrideInt(&cfg.Engine.AssistCharDelayMS, "ECHOCAST_ENGINE_ASSISTANT_CHAR_DELAY_MS")
	overrideString(&cfg.Engine.VisualBody, "ECHOCAST_ENGINE_VISUAL_BODY")
	overrideBool(&cfg.Engine.LoopNarration, "ECHOCAST_ENGINE_LOOP_NARRATION")
	overrideBool(&cfg.Engine.TextSplit, "ECHOCAST_ENGINE_TEXT_SPLIT")
	overrideString(&cfg.Synthesis.DefaultBackend, "ECHOCAST_SYNTHESIS_DEFAULT_BACKEND")
	overrideString(&cfg.Synthesis.Language, "ECHOCAST_SYNTHESIS_LANGUAGE")
	overrideString(&cfg.Synthesis.OutputDir, "ECHOCAST_SYNTHESIS_OUTPUT_DIR")
	overrideString(&cfg.Synthesis.AssistantBackend, "ECHOCAST_SYNTHESIS_ASSISTANT_BACKEND")
	overrideBool(&cfg.Gateway.Enabled, "ECHOCAST_GATEWAY_ENABLED")
	overrideString(&cfg.Gateway.Endpoint, "ECHOCAST_GATEWAY_ENDPOINT")
	overrideInt(&cfg.Gateway.MaxRetries, "ECHOCAST_GATEWAY_MAX_RETRIES")
	overrideInt(&cfg.Gateway.RetryDelayMS, "ECHOCAST_GATEWAY_RETRY_DELAY_MS")
	overrideInt(&cfg.Gateway.ExtraDelayMS, "ECHOCAST_GATEWAY_EXTRA_DELAY_MS")
	overrideInt(&cfg.Gateway.TimeoutMS, "ECHOCAST_GATEWAY_TIMEOUT_MS")
	overrideString(&cfg.Player.Mode, "ECHOCAST_PLAYER_MODE")
	overrideString(&cfg.Player.Command, "ECHOCAST_PLAYER_COMMAND")
	overrideInt(&cfg.Player.SampleRate, "ECHOCAST_PLAYER_SAMPLE_RATE")
	overrideInt(&cfg.Player.Channels, "ECHOCAST_PLAYER_CHANNELS")
	overrideBool(&cfg.Ingest.Enabled, "ECHOCAST_INGEST_ENABLED")
	overrideInt(&cfg.Ingest.ReplayEveryMS, "ECHOCAST_INGEST_REPLAY_EVERY_MS")
	overrideInt(&cfg.Ingest.ReplayBatchSize, "ECHOCAST_INGEST_REPLAY_BATCH_SIZE")
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

func validate(cfg Config) error {
	if cfg.RuntimeName == "" {
		return errors.New("runtime_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	if cfg.Bus.Embedded {
		if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
			return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
		}
	} else {
		if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
	}
	if cfg.EventStore.Path == "" {
		return errors.New("event_store.path must not be empty")
	}
	switch cfg.EventStore.RetentionMode {
	case "ephemeral", "session", "persistent":
	default:
		return errors.New("event_store.retention_mode must be one of ephemeral|session|persistent")
	}
	if cfg.EventStore.RetentionDays < 0 {
		return errors.New("event_store.retention_days must be >= 0")
	}
	if cfg.Engine.AdmissionCapacity <= 0 {
		return errors.New("engine.admission_capacity must be positive")
	}
	if cfg.Engine.PressureLow <= 0 || cfg.Engine.PressureMedium < cfg.Engine.PressureLow {
		return errors.New("engine.pressure_low must be positive and <= engine.pressure_medium")
	}
	if cfg.Engine.PressureMedium > cfg.Engine.AdmissionCapacity {
		return errors.New("engine.pressure_medium must not exceed engine.admission_capacity")
	}
	if cfg.Engine.FlowCapacity <= 0 || cfg.Engine.NarrationCapacity <= 0 {
		return errors.New("engine flow capacities must be positive")
	}
	if cfg.Engine.GlobalCharDelayMS < 0 || cfg.Engine.AssistCharDelayMS < 0 {
		return errors.New("engine per-character delays must be >= 0")
	}
	switch cfg.Engine.VisualBody {
	case "none", "external_render":
	default:
		return errors.New("engine.visual_body must be one of none|external_render")
	}
	if cfg.Synthesis.DefaultBackend == "" {
		return errors.New("synthesis.default_backend must not be empty")
	}
	if cfg.Gateway.Enabled {
		if cfg.Gateway.Endpoint == "" {
			return errors.New("gateway.endpoint must be set when the gateway is enabled")
		}
		if cfg.Gateway.MaxRetries < 0 {
			return errors.New("gateway.max_retries must be >= 0")
		}
	}
	switch cfg.Player.Mode {
	case "mock", "exec", "device":
	default:
		return errors.New("player.mode must be one of mock|exec|device")
	}
	if cfg.Player.Mode == "exec" && cfg.Player.Command == "" {
		return errors.New("player.command must be set when mode=exec")
	}
	if cfg.Ingest.Enabled {
		if cfg.Ingest.ReplayEveryMS <= 0 {
			return errors.New("ingest.replay_every_ms must be positive")
		}
		if cfg.Ingest.ReplayBatchSize <= 0 {
			return errors.New("ingest.replay_batch_size must be >= 1")
		}
	}
	for i, entry := range cfg.Schedule {
		if entry.Text == "" {
			return fmt.Errorf("schedule[%d].text must not be empty", i)
		}
		if entry.IntervalMS <= 0 {
			return fmt.Errorf("schedule[%d].interval_ms must be positive", i)
		}
	}
	return nil
}
