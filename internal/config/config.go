// Package config loads service configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Addr        string
	DatabaseURL string

	// Kafka audit trail. Empty brokers disable it.
	KafkaBrokers []string
	KafkaTopic   string

	// S3 bucket for pre-change snapshots. Empty disables AWS-backed
	// execution (the service then runs with the static executor/checker).
	SnapshotBucket string
	SnapshotPrefix string

	ApprovalTimeout   time.Duration
	CanaryStages      []int
	MonitorInterval   time.Duration
	ChangeWindowStart int
	ChangeWindowEnd   int

	SchedulerInterval time.Duration

	JWTSecret     string
	RequiredScope string
	DevAllowLocal bool
}

const (
	defaultAddr          = ":8071"
	defaultKafkaTopic    = "remediation-audit"
	defaultRequiredScope = "remediate:write"
)

func Load() (Config, error) {
	cfg := Config{
		Addr:              getEnv("SAFEREMEDIATE_ADDR", defaultAddr),
		DatabaseURL:       firstNonEmpty(os.Getenv("SAFEREMEDIATE_DATABASE_URL"), os.Getenv("DATABASE_URL")),
		KafkaBrokers:      splitList(os.Getenv("SAFEREMEDIATE_KAFKA_BROKERS")),
		KafkaTopic:        getEnv("SAFEREMEDIATE_KAFKA_TOPIC", defaultKafkaTopic),
		SnapshotBucket:    os.Getenv("SAFEREMEDIATE_SNAPSHOT_BUCKET"),
		SnapshotPrefix:    os.Getenv("SAFEREMEDIATE_SNAPSHOT_PREFIX"),
		ApprovalTimeout:   getDuration("SAFEREMEDIATE_APPROVAL_TIMEOUT", 24*time.Hour),
		CanaryStages:      getIntList("SAFEREMEDIATE_CANARY_STAGES", []int{10, 25, 50, 100}),
		MonitorInterval:   getDuration("SAFEREMEDIATE_MONITOR_INTERVAL", 5*time.Minute),
		ChangeWindowStart: getInt("SAFEREMEDIATE_CHANGE_WINDOW_START", 6),
		ChangeWindowEnd:   getInt("SAFEREMEDIATE_CHANGE_WINDOW_END", 22),
		SchedulerInterval: getDuration("SAFEREMEDIATE_SCHEDULER_INTERVAL", 30*time.Second),
		JWTSecret:         os.Getenv("SAFEREMEDIATE_JWT_SECRET"),
		RequiredScope:     getEnv("SAFEREMEDIATE_REQUIRED_SCOPE", defaultRequiredScope),
		DevAllowLocal:     getBool("SAFEREMEDIATE_DEV_ALLOW_LOCAL", false),
	}

	if cfg.JWTSecret == "" && !cfg.DevAllowLocal {
		return Config{}, fmt.Errorf("SAFEREMEDIATE_JWT_SECRET required (or set SAFEREMEDIATE_DEV_ALLOW_LOCAL=true)")
	}
	if os.Getenv("NODE_ENV") == "production" {
		if cfg.DevAllowLocal {
			return Config{}, fmt.Errorf("SAFEREMEDIATE_DEV_ALLOW_LOCAL not permitted in production")
		}
		if cfg.DatabaseURL == "" {
			return Config{}, fmt.Errorf("DATABASE_URL or SAFEREMEDIATE_DATABASE_URL required in production")
		}
		if cfg.SnapshotBucket == "" {
			return Config{}, fmt.Errorf("SAFEREMEDIATE_SNAPSHOT_BUCKET required in production")
		}
	}
	if cfg.ChangeWindowStart < 0 || cfg.ChangeWindowEnd > 24 || cfg.ChangeWindowStart >= cfg.ChangeWindowEnd {
		return Config{}, fmt.Errorf("invalid change window %d-%d", cfg.ChangeWindowStart, cfg.ChangeWindowEnd)
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func getBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func splitList(v string) []string {
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getIntList(key string, fallback []int) []int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	out := make([]int, 0)
	for _, p := range strings.Split(v, ",") {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return fallback
		}
		out = append(out, n)
	}
	return out
}
