// Package config provides configuration for the tracker service.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Config holds the tracker configuration.
type Config struct {
	// Server settings
	Port int

	// Display settings
	ModelName   string
	CostPerMTok float64 // USD per million tokens

	// Lifecycle timing
	ResetDelay    time.Duration // debounce before a full auto-reset; also the batch grace period
	OrchLiveness  time.Duration // window in which the orchestrator counts as active
	StaleAfter    time.Duration // running records idle longer than this are errored
	Retention     time.Duration // terminal records older than this are evicted
	SweepInterval time.Duration // staleness + retention tick
	SaveInterval  time.Duration // unconditional snapshot tick

	// Persistence
	SnapshotPath string

	// Query bounds
	MaxAgentsInState int
	MessageLogCap    int
}

// Load loads configuration from environment variables.
func Load() *Config {
	return &Config{
		Port:             getEnvInt("PORT", 4517),
		ModelName:        getEnv("MODEL_NAME", "claude"),
		CostPerMTok:      getEnvFloat("COST_PER_MTOK", 15.0),
		ResetDelay:       time.Duration(getEnvInt("RESET_DELAY_SECONDS", 60)) * time.Second,
		OrchLiveness:     time.Duration(getEnvInt("ORCH_LIVENESS_SECONDS", 30)) * time.Second,
		StaleAfter:       time.Duration(getEnvInt("STALE_SECONDS", 600)) * time.Second,
		Retention:        time.Duration(getEnvInt("RETENTION_MINUTES", 30)) * time.Minute,
		SweepInterval:    time.Duration(getEnvInt("SWEEP_INTERVAL_SECONDS", 15)) * time.Second,
		SaveInterval:     time.Duration(getEnvInt("SAVE_INTERVAL_SECONDS", 30)) * time.Second,
		SnapshotPath:     getEnv("SNAPSHOT_PATH", defaultSnapshotPath()),
		MaxAgentsInState: getEnvInt("MAX_AGENTS_IN_STATE", 100),
		MessageLogCap:    getEnvInt("MESSAGE_LOG_CAP", 200),
	}
}

func defaultSnapshotPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "agentboard-state.json"
	}
	return filepath.Join(home, ".agentboard", "state.json")
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}
