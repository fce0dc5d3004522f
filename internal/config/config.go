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

// Config is the application configuration. The flat keys at the top keep the
// short config.yaml layout working; everything else is nested.
type Config struct {
	AppName        string `yaml:"app_name"`
	VoskModelPath  string `yaml:"vosk_model_path"`
	LocalOnly      bool   `yaml:"local_only"`
	MQTTBroker     string `yaml:"mqtt_broker"`
	DevicesPath    string `yaml:"devices_path"`
	PollIntervalMS int    `yaml:"poll_interval_ms"`

	Environment  string             `yaml:"environment"`
	HTTP         HTTPConfig         `yaml:"http"`
	Telemetry    TelemetryConfig    `yaml:"telemetry"`
	Recognizer   RecognizerConfig   `yaml:"recognizer"`
	MQTT         MQTTConfig         `yaml:"mqtt"`
	Connectivity ConnectivityConfig `yaml:"connectivity"`
	Bus          BusConfig          `yaml:"bus"`
	EventStore   EventStoreConfig   `yaml:"event_store"`
}

type RecognizerConfig struct {
	SampleRate    int    `yaml:"sample_rate"`
	FrameSize     int    `yaml:"frame_size"`
	BufferFrames  int    `yaml:"buffer_frames"`
	JoinTimeoutMS int    `yaml:"join_timeout_ms"`
	Source        string `yaml:"source"` // portaudio, exec, wav
	Command       string `yaml:"command"`
	WavPath       string `yaml:"wav_path"`
}

type MQTTConfig struct {
	ClientID          string `yaml:"client_id"`
	SubscribeTopic    string `yaml:"subscribe_topic"`
	ConnectTimeoutMS  int    `yaml:"connect_timeout_ms"`
	PublishTimeoutMS  int    `yaml:"publish_timeout_ms"`
	MessageLogDisplay int    `yaml:"message_log_display"`
}

type ConnectivityConfig struct {
	ProbeAddress string `yaml:"probe_address"`
	TimeoutMS    int    `yaml:"timeout_ms"`
}

type BusConfig struct {
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	MQTTPort       int      `yaml:"mqtt_port"`
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
	MaxEvents     int    `yaml:"max_events"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

const DefaultCaptureCommand = "arecord -q -t raw -f S16_LE -c 1 -r {rate} --buffer-size={buffer}"

func Default() Config {
	return Config{
		AppName:        "MG",
		VoskModelPath:  "./model",
		LocalOnly:      true,
		MQTTBroker:     "mqtt://localhost:1883",
		DevicesPath:    "./devices.json",
		PollIntervalMS: 250,
		Environment:    "development",
		HTTP: HTTPConfig{
			Bind: "0.0.0.0",
			Port: 8501,
		},
		Telemetry: TelemetryConfig{
			LogLevel:     "info",
			OTLPInsecure: true,
		},
		Recognizer: RecognizerConfig{
			SampleRate:    16000,
			FrameSize:     4000,
			BufferFrames:  8000,
			JoinTimeoutMS: 2000,
			Source:        "exec",
			Command:       DefaultCaptureCommand,
		},
		MQTT: MQTTConfig{
			SubscribeTopic:    "home/devices/#",
			ConnectTimeoutMS:  5000,
			PublishTimeoutMS:  2000,
			MessageLogDisplay: 20,
		},
		Connectivity: ConnectivityConfig{
			ProbeAddress: "8.8.8.8:53",
			TimeoutMS:    1000,
		},
		Bus: BusConfig{
			Embedded:       false,
			Port:           4222,
			MQTTPort:       1883,
			StoreDir:       "./data/nats",
			ConnectTimeout: 2000,
		},
		EventStore: EventStoreConfig{
			Path:          "./data/mg-events.db",
			RetentionMode: "persistent",
			RetentionDays: 30,
			MaxEvents:     10000,
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
	overrideString(&cfg.AppName, "MG_APP_NAME")
	overrideString(&cfg.VoskModelPath, "MG_VOSK_MODEL_PATH")
	overrideBool(&cfg.LocalOnly, "MG_LOCAL_ONLY")
	overrideString(&cfg.MQTTBroker, "MG_MQTT_BROKER")
	overrideString(&cfg.DevicesPath, "MG_DEVICES_PATH")
	overrideInt(&cfg.PollIntervalMS, "MG_POLL_INTERVAL_MS")
	overrideString(&cfg.Environment, "MG_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "MG_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "MG_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "MG_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "MG_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "MG_TELEMETRY_OTLP_INSECURE")
	overrideInt(&cfg.Recognizer.SampleRate, "MG_RECOGNIZER_SAMPLE_RATE")
	overrideInt(&cfg.Recognizer.FrameSize, "MG_RECOGNIZER_FRAME_SIZE")
	overrideInt(&cfg.Recognizer.BufferFrames, "MG_RECOGNIZER_BUFFER_FRAMES")
	overrideInt(&cfg.Recognizer.JoinTimeoutMS, "MG_RECOGNIZER_JOIN_TIMEOUT_MS")
	overrideString(&cfg.Recognizer.Source, "MG_RECOGNIZER_SOURCE")
	overrideString(&cfg.Recognizer.Command, "MG_RECOGNIZER_COMMAND")
	overrideString(&cfg.Recognizer.WavPath, "MG_RECOGNIZER_WAV_PATH")
	overrideString(&cfg.MQTT.ClientID, "MG_MQTT_CLIENT_ID")
	overrideString(&cfg.MQTT.SubscribeTopic, "MG_MQTT_SUBSCRIBE_TOPIC")
	overrideInt(&cfg.MQTT.ConnectTimeoutMS, "MG_MQTT_CONNECT_TIMEOUT_MS")
	overrideInt(&cfg.MQTT.PublishTimeoutMS, "MG_MQTT_PUBLISH_TIMEOUT_MS")
	overrideInt(&cfg.MQTT.MessageLogDisplay, "MG_MQTT_MESSAGE_LOG_DISPLAY")
	overrideString(&cfg.Connectivity.ProbeAddress, "MG_CONNECTIVITY_PROBE_ADDRESS")
	overrideInt(&cfg.Connectivity.TimeoutMS, "MG_CONNECTIVITY_TIMEOUT_MS")
	overrideBool(&cfg.Bus.Embedded, "MG_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "MG_BUS_PORT")
	overrideInt(&cfg.Bus.MQTTPort, "MG_BUS_MQTT_PORT")
	overrideString(&cfg.Bus.StoreDir, "MG_BUS_STORE_DIR")
	overrideStringSlice(&cfg.Bus.Servers, "MG_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "MG_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "MG_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "MG_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "MG_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "MG_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.EventStore.Path, "MG_EVENT_STORE_PATH")
	overrideString(&cfg.EventStore.RetentionMode, "MG_EVENT_STORE_RETENTION_MODE")
	overrideInt(&cfg.EventStore.RetentionDays, "MG_EVENT_STORE_RETENTION_DAYS")
	overrideInt(&cfg.EventStore.MaxEvents, "MG_EVENT_STORE_MAX_EVENTS")
	overrideBool(&cfg.EventStore.VacuumOnStart, "MG_EVENT_STORE_VACUUM_ON_START")
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
	if cfg.AppName == "" {
		return errors.New("app_name must not be empty")
	}
	if cfg.MQTTBroker == "" {
		return errors.New("mqtt_broker must not be empty")
	}
	if cfg.PollIntervalMS <= 0 {
		return errors.New("poll_interval_ms must be positive")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	if cfg.Recognizer.SampleRate <= 0 {
		return errors.New("recognizer.sample_rate must be positive")
	}
	if cfg.Recognizer.FrameSize <= 0 {
		return errors.New("recognizer.frame_size must be positive")
	}
	if cfg.Recognizer.BufferFrames < cfg.Recognizer.FrameSize {
		return errors.New("recognizer.buffer_frames must be >= recognizer.frame_size")
	}
	if cfg.Recognizer.JoinTimeoutMS <= 0 {
		return errors.New("recognizer.join_timeout_ms must be positive")
	}
	switch cfg.Recognizer.Source {
	case "portaudio":
	case "exec":
		if strings.TrimSpace(cfg.Recognizer.Command) == "" {
			return errors.New("recognizer.command must be set when source=exec")
		}
	case "wav":
		if cfg.Recognizer.WavPath == "" {
			return errors.New("recognizer.wav_path must be set when source=wav")
		}
	default:
		return errors.New("recognizer.source must be one of portaudio|exec|wav")
	}
	if cfg.MQTT.SubscribeTopic == "" {
		return errors.New("mqtt.subscribe_topic must not be empty")
	}
	if cfg.MQTT.ConnectTimeoutMS <= 0 || cfg.MQTT.PublishTimeoutMS <= 0 {
		return errors.New("mqtt timeouts must be positive")
	}
	if cfg.MQTT.MessageLogDisplay <= 0 {
		return errors.New("mqtt.message_log_display must be positive")
	}
	if cfg.Connectivity.ProbeAddress == "" {
		return errors.New("connectivity.probe_address must not be empty")
	}
	if cfg.Connectivity.TimeoutMS <= 0 {
		return errors.New("connectivity.timeout_ms must be positive")
	}
	if cfg.Bus.Embedded {
		if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
			return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
		}
		if cfg.Bus.MQTTPort <= 0 || cfg.Bus.MQTTPort > 65535 {
			return errors.New("bus.mqtt_port must be between 1 and 65535 when embedded mode is enabled")
		}
		if cfg.Bus.StoreDir == "" {
			return errors.New("bus.store_dir must not be empty when embedded mode is enabled")
		}
	}
	if cfg.EventStore.Path == "" {
		return errors.New("event_store.path must not be empty")
	}
	switch cfg.EventStore.RetentionMode {
	case "ephemeral", "persistent":
		// ok
	default:
		return errors.New("event_store.retention_mode must be one of ephemeral|persistent")
	}
	if cfg.EventStore.RetentionDays < 0 {
		return errors.New("event_store.retention_days must be >= 0")
	}
	return nil
}
