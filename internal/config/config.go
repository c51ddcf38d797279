package config

import (
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type EnvKey string

const (
	// Keys persisted in the env file by apertus-detect. A bridge env file and
	// process environment share these names; the environment wins.
	EnvSerialDevice EnvKey = "APERTUS_SERIAL"
	EnvSerialBaud   EnvKey = "APERTUS_BAUD"
	EnvMQTTHost     EnvKey = "APERTUS_MQTT_HOST"
	EnvMQTTPort     EnvKey = "APERTUS_MQTT_PORT"
	EnvMQTTUser     EnvKey = "APERTUS_MQTT_USER"
	EnvMQTTPass     EnvKey = "APERTUS_MQTT_PASS"

	EnvEnvFile         EnvKey = "APERTUS_ENV_FILE"
	EnvBaseTopic       EnvKey = "APERTUS_BASE_TOPIC"
	EnvDiscoveryPrefix EnvKey = "APERTUS_DISCOVERY_PREFIX"
	EnvMQTTClientID    EnvKey = "APERTUS_MQTT_CLIENT_ID"
	EnvDataDir         EnvKey = "APERTUS_DATA_DIR"
	EnvLogLevel        EnvKey = "APERTUS_LOG_LEVEL"
	EnvDiagAddr        EnvKey = "APERTUS_DIAG_ADDR"
	EnvBrokerPort      EnvKey = "APERTUS_BROKER_PORT"
)

// DefaultEnvFile is where apertus-detect persists the serial device.
const DefaultEnvFile = "/etc/apertus/apertus.env"

const (
	DefaultBaud       = 115200
	DefaultBaseTopic  = "apertus"
	DefaultDiscPrefix = "homeassistant"
)

// Config holds the translator's deployment constants. Constructed once at
// startup and never mutated afterwards.
type Config struct {
	SerialDevice string
	SerialBaud   int

	MQTTBroker   string
	MQTTClientID string
	MQTTUsername string
	MQTTPassword string

	BaseTopic       string
	DiscoveryPrefix string

	DataDir  string
	LogLevel slog.Leveler
	DiagAddr string

	// EmbeddedBrokerPort is used only when the translator runs its own broker.
	EmbeddedBrokerPort int
}

// New builds the translator configuration. The env file written by
// apertus-detect is loaded first; variables already present in the process
// environment take precedence over it.
func New() (*Config, error) {
	envFile := getStringEnv(EnvEnvFile, DefaultEnvFile)

	// godotenv.Load never overrides existing environment variables.
	if _, err := os.Stat(envFile); err == nil {
		if err := godotenv.Load(envFile); err != nil {
			return nil, fmt.Errorf("failed to load env file %s: %w", envFile, err)
		}
	}

	dataDir := getStringEnv(EnvDataDir, "data")
	if err := os.MkdirAll(dataDir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	host := getStringEnv(EnvMQTTHost, "localhost")
	port := getIntEnv(EnvMQTTPort, 1883)

	return &Config{
		SerialDevice:       getStringEnv(EnvSerialDevice, "/dev/ttyUSB0"),
		SerialBaud:         getIntEnv(EnvSerialBaud, DefaultBaud),
		MQTTBroker:         "tcp://" + net.JoinHostPort(host, strconv.Itoa(port)),
		MQTTClientID:       getStringEnv(EnvMQTTClientID, "apertus-translator"),
		MQTTUsername:       getStringEnv(EnvMQTTUser, ""),
		MQTTPassword:       getStringEnv(EnvMQTTPass, ""),
		BaseTopic:          getStringEnv(EnvBaseTopic, DefaultBaseTopic),
		DiscoveryPrefix:    getStringEnv(EnvDiscoveryPrefix, DefaultDiscPrefix),
		DataDir:            dataDir,
		LogLevel:           getLogLevelEnv(EnvLogLevel, slog.LevelInfo),
		DiagAddr:           getStringEnv(EnvDiagAddr, ":9090"),
		EmbeddedBrokerPort: getIntEnv(EnvBrokerPort, 1883),
	}, nil
}

func getStringEnv(key EnvKey, fallback string) string {
	if v, ok := os.LookupEnv(string(key)); ok && v != "" {
		return v
	}

	return fallback
}

func getIntEnv(key EnvKey, fallback int) int {
	v, ok := os.LookupEnv(string(key))
	if !ok || v == "" {
		return fallback
	}

	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}

	return n
}

func getLogLevelEnv(key EnvKey, fallback slog.Level) slog.Leveler {
	switch strings.ToLower(getStringEnv(key, "")) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return fallback
	}
}
