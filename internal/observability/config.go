package observability

import (
	"os"
	"strconv"
	"strings"
)

// Config holds observability settings sourced from the environment.
type Config struct {
	ServiceName string
	Environment string
	Version     string

	LogLevel  string
	LogFormat string

	MetricsEnabled bool
	TracingEnabled bool

	ExporterEndpoint string
	ExporterProtocol string
	TraceSampleRatio float64
}

// LoadConfig reads observability settings from environment variables.
func LoadConfig() Config {
	return Config{
		ServiceName:      getenv("APP_NAME", "membersync"),
		Environment:      getenv("ENVIRONMENT", "development"),
		Version:          getenv("APP_VERSION", "dev"),
		LogLevel:         getenv("LOG_LEVEL", "info"),
		LogFormat:        getenv("LOG_FORMAT", "json"),
		MetricsEnabled:   getenvBool("OTEL_METRICS_ENABLED", false),
		TracingEnabled:   getenvBool("OTEL_TRACING_ENABLED", false),
		ExporterEndpoint: getenv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		ExporterProtocol: getenv("OTEL_EXPORTER_OTLP_PROTOCOL", "grpc"),
		TraceSampleRatio: getenvFloat("OTEL_TRACES_SAMPLE_RATIO", 1),
	}
}

// Debug reports whether the service runs in a debug-friendly environment.
func (c Config) Debug() bool {
	env := strings.ToLower(strings.TrimSpace(c.Environment))
	return env == "development" || env == "local" || env == "test"
}

func getenv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func getenvBool(key string, fallback bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvFloat(key string, fallback float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return parsed
}
