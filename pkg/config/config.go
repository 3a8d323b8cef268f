// Package config loads engine configuration from environment variables.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds engine configuration.
type Config struct {
	DatabaseURL string
	LogLevel    string

	// Event sink selection: "file", "redis" or "memory".
	EventSink     string
	EventFilePath string
	RedisURL      string
	// EventRate caps file-sink writes per second; 0 disables the limiter.
	EventRate float64

	SweepInterval time.Duration
	SoftThreshold time.Duration
	HardThreshold time.Duration
	// DeadFails sends hard-zombied UOWs to FAILED instead of back to PENDING.
	DeadFails bool

	// HighRisk lists target statuses intercepted by park-and-notify.
	HighRisk []string

	TelemetryEnabled bool
	OTLPEndpoint     string
}

// Load loads configuration from environment variables.
func Load() *Config {
	dbURL := os.Getenv("WINDLASS_DATABASE_URL")
	if dbURL == "" {
		dbURL = "windlass.db"
	}

	logLevel := os.Getenv("WINDLASS_LOG_LEVEL")
	if logLevel == "" {
		logLevel = "INFO"
	}

	sink := os.Getenv("WINDLASS_EVENT_SINK")
	if sink == "" {
		sink = "file"
	}

	eventFile := os.Getenv("WINDLASS_EVENT_FILE")
	if eventFile == "" {
		eventFile = "windlass-events.jsonl"
	}

	redisURL := os.Getenv("WINDLASS_REDIS_URL")
	if redisURL == "" {
		redisURL = "redis://localhost:6379/0"
	}

	highRisk := []string{"COMPLETED", "FAILED"}
	if raw := os.Getenv("WINDLASS_HIGH_RISK"); raw != "" {
		highRisk = nil
		for _, s := range strings.Split(raw, ",") {
			if s = strings.TrimSpace(s); s != "" {
				highRisk = append(highRisk, s)
			}
		}
	}

	otlp := os.Getenv("WINDLASS_OTLP_ENDPOINT")
	if otlp == "" {
		otlp = "localhost:4317"
	}

	return &Config{
		DatabaseURL:      dbURL,
		LogLevel:         logLevel,
		EventSink:        sink,
		EventFilePath:    eventFile,
		RedisURL:         redisURL,
		EventRate:        floatEnv("WINDLASS_EVENT_RATE", 0),
		SweepInterval:    secondsEnv("WINDLASS_SWEEP_SECS", 60),
		SoftThreshold:    secondsEnv("WINDLASS_SOFT_SECS", 300),
		HardThreshold:    secondsEnv("WINDLASS_HARD_SECS", 900),
		DeadFails:        os.Getenv("WINDLASS_DEAD_FAILS") == "true",
		HighRisk:         highRisk,
		TelemetryEnabled: os.Getenv("WINDLASS_TELEMETRY") == "true",
		OTLPEndpoint:     otlp,
	}
}

func secondsEnv(key string, def int) time.Duration {
	if raw := os.Getenv(key); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			return time.Duration(n) * time.Second
		}
	}
	return time.Duration(def) * time.Second
}

func floatEnv(key string, def float64) float64 {
	if raw := os.Getenv(key); raw != "" {
		if f, err := strconv.ParseFloat(raw, 64); err == nil && f >= 0 {
			return f
		}
	}
	return def
}
