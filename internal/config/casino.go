package config

import (
	"os"
	"strconv"
	"time"
)

// CasinoConfig carries the floor-level knobs that are independent of any
// single request: reporting day boundaries, seat allocation bounds, and
// the open-session cache TTL.
type CasinoConfig struct {
	// WorkdayStartHour is the hour (0-23) at which a reporting day begins.
	// A "day" runs from this hour to the same hour the next calendar day,
	// so late-night play lands on the evening it started.
	WorkdayStartHour int
	DefaultSeatCount int
	MaxSeatCount     int
	OpenSessionTTL   time.Duration
}

func LoadCasinoConfig() *CasinoConfig {
	return &CasinoConfig{
		WorkdayStartHour: getEnvAsInt("WORKDAY_START_HOUR", 18),
		DefaultSeatCount: getEnvAsInt("DEFAULT_SEAT_COUNT", 10),
		MaxSeatCount:     getEnvAsInt("MAX_SEAT_COUNT", 24),
		OpenSessionTTL:   getEnvAsDuration("OPEN_SESSION_CACHE_TTL", 30*time.Second),
	}
}

// WorkdayBounds returns the [start, end) boundaries of the reporting day
// containing the given calendar date.
func (c *CasinoConfig) WorkdayBounds(date time.Time) (time.Time, time.Time) {
	start := time.Date(date.Year(), date.Month(), date.Day(), c.WorkdayStartHour, 0, 0, 0, time.UTC)
	return start, start.Add(24 * time.Hour)
}

func getEnvAsInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if duration, err := time.ParseDuration(val); err == nil {
			return duration
		}
	}
	return defaultVal
}
