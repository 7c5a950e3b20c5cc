package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	SinkModeLive   = "live"
	SinkModeDryRun = "dry-run"
)

type Config struct {
	// Server
	ServerPort   string        `yaml:"server_port"`
	ServerHost   string        `yaml:"server_host"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	LogLevel     string        `yaml:"log_level"`

	// Kafka (data plane)
	KafkaBrokers []string `yaml:"kafka_brokers"`
	VitalsTopic  string   `yaml:"vitals_topic"`
	TapGroupID   string   `yaml:"tap_group_id"`
	TapPort      string   `yaml:"tap_port"`

	// MQTT (control plane)
	MQTTBroker      string `yaml:"mqtt_broker"`
	MQTTClientID    string `yaml:"mqtt_client_id"`
	MQTTUsername    string `yaml:"mqtt_username"`
	MQTTPassword    string `yaml:"mqtt_password"`
	MQTTQoS         int    `yaml:"mqtt_qos"`
	MQTTStartTopic  string `yaml:"mqtt_start_topic"`
	MQTTActionTopic string `yaml:"mqtt_action_topic"`

	// Streams
	StreamCadence  time.Duration `yaml:"stream_cadence"`
	PublishTimeout time.Duration `yaml:"publish_timeout"`
	SinkMode       string        `yaml:"sink_mode"`

	// Redis roster
	RosterEnabled bool          `yaml:"roster_enabled"`
	RosterTTL     time.Duration `yaml:"roster_ttl"`
	RedisHost     string        `yaml:"redis_host"`
	RedisPort     string        `yaml:"redis_port"`
	RedisPassword string        `yaml:"redis_password"`
	RedisDB       int           `yaml:"redis_db"`

	// Postgres journal
	JournalEnabled   bool   `yaml:"journal_enabled"`
	PostgresHost     string `yaml:"postgres_host"`
	PostgresPort     string `yaml:"postgres_port"`
	PostgresUser     string `yaml:"postgres_user"`
	PostgresPassword string `yaml:"postgres_password"`
	PostgresDB       string `yaml:"postgres_db"`
	PostgresSSLMode  string `yaml:"postgres_sslmode"`
}

func Defaults() *Config {
	return &Config{
		ServerPort:   "8090",
		ServerHost:   "0.0.0.0",
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		LogLevel:     "info",

		KafkaBrokers: []string{"localhost:9092"},
		VitalsTopic:  "patient-vitals-data-topic",
		TapGroupID:   "bedside-sim-tap",
		TapPort:      "8091",

		MQTTBroker:      "tcp://localhost:1883",
		MQTTClientID:    "bedside-sim",
		MQTTQoS:         0,
		MQTTStartTopic:  "arrhythmia/svc_start",
		MQTTActionTopic: "arrhythmia/svc_action",

		StreamCadence:  time.Second,
		PublishTimeout: 10 * time.Second,
		SinkMode:       SinkModeLive,

		RosterTTL: 30 * time.Second,
		RedisHost: "localhost",
		RedisPort: "6379",

		PostgresHost:    "localhost",
		PostgresPort:    "5432",
		PostgresUser:    "synaptica",
		PostgresDB:      "synaptica",
		PostgresSSLMode: "disable",
	}
}

// Load layers defaults, the optional YAML file named by SIM_CONFIG_FILE and
// the environment, in that order.
func Load() (*Config, error) {
	cfg := Defaults()
	if path := os.Getenv("SIM_CONFIG_FILE"); path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) mergeFile(path string) error {
	content, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(content, c); err != nil {
		return fmt.Errorf("parsing config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.ServerPort = getEnv("SERVER_PORT", c.ServerPort)
	c.ServerHost = getEnv("SERVER_HOST", c.ServerHost)
	c.ReadTimeout = getDuration("READ_TIMEOUT", c.ReadTimeout)
	c.WriteTimeout = getDuration("WRITE_TIMEOUT", c.WriteTimeout)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)

	c.KafkaBrokers = getStringSliceEnv("KAFKA_BROKERS", c.KafkaBrokers)
	c.VitalsTopic = getEnv("VITALS_TOPIC", c.VitalsTopic)
	c.TapGroupID = getEnv("TAP_GROUP_ID", c.TapGroupID)
	c.TapPort = getEnv("TAP_PORT", c.TapPort)

	c.MQTTBroker = getEnv("MQTT_BROKER_URL", c.MQTTBroker)
	c.MQTTClientID = getEnv("MQTT_CLIENT_ID", c.MQTTClientID)
	c.MQTTUsername = getEnv("MQTT_USERNAME", c.MQTTUsername)
	c.MQTTPassword = getEnv("MQTT_PASSWORD", c.MQTTPassword)
	c.MQTTQoS = getIntEnv("MQTT_QOS", c.MQTTQoS)
	c.MQTTStartTopic = getEnv("MQTT_START_TOPIC", c.MQTTStartTopic)
	c.MQTTActionTopic = getEnv("MQTT_ACTION_TOPIC", c.MQTTActionTopic)

	c.StreamCadence = getDuration("STREAM_CADENCE", c.StreamCadence)
	c.PublishTimeout = getDuration("PUBLISH_TIMEOUT", c.PublishTimeout)
	c.SinkMode = strings.ToLower(getEnv("SINK_MODE", c.SinkMode))

	c.RosterEnabled = getBoolEnv("ROSTER_ENABLED", c.RosterEnabled)
	c.RosterTTL = getDuration("ROSTER_TTL", c.RosterTTL)
	c.RedisHost = getEnv("REDIS_HOST", c.RedisHost)
	c.RedisPort = getEnv("REDIS_PORT", c.RedisPort)
	c.RedisPassword = getEnv("REDIS_PASSWORD", c.RedisPassword)
	c.RedisDB = getIntEnv("REDIS_DB", c.RedisDB)

	c.JournalEnabled = getBoolEnv("JOURNAL_ENABLED", c.JournalEnabled)
	c.PostgresHost = getEnv("POSTGRES_HOST", c.PostgresHost)
	c.PostgresPort = getEnv("POSTGRES_PORT", c.PostgresPort)
	c.PostgresUser = getEnv("POSTGRES_USER", c.PostgresUser)
	c.PostgresPassword = getEnv("POSTGRES_PASSWORD", c.PostgresPassword)
	c.PostgresDB = getEnv("POSTGRES_DB", c.PostgresDB)
	c.PostgresSSLMode = getEnv("POSTGRES_SSLMODE", c.PostgresSSLMode)
}

func (c *Config) Validate() error {
	if c.StreamCadence <= 0 {
		return fmt.Errorf("stream cadence must be positive, got %s", c.StreamCadence)
	}
	if c.PublishTimeout <= 0 {
		return fmt.Errorf("publish timeout must be positive, got %s", c.PublishTimeout)
	}
	if c.MQTTQoS < 0 || c.MQTTQoS > 2 {
		return fmt.Errorf("mqtt qos must be 0, 1 or 2, got %d", c.MQTTQoS)
	}
	switch c.SinkMode {
	case SinkModeLive, SinkModeDryRun:
	default:
		return fmt.Errorf("unknown sink mode %q", c.SinkMode)
	}
	if c.SinkMode == SinkModeLive && len(c.KafkaBrokers) == 0 {
		return fmt.Errorf("at least one kafka broker is required")
	}
	return nil
}

func (c *Config) PostgresDSN() string {
	return fmt.Sprintf(
		"host=%s user=%s password=%s dbname=%s port=%s sslmode=%s",
		c.PostgresHost,
		c.PostgresUser,
		c.PostgresPassword,
		c.PostgresDB,
		c.PostgresPort,
		c.PostgresSSLMode,
	)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getStringSliceEnv(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		var out []string
		for _, part := range strings.Split(value, ",") {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				out = append(out, trimmed)
			}
		}
		return out
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
