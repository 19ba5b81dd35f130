package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestWorkdayBounds(t *testing.T) {
	cfg := &CasinoConfig{WorkdayStartHour: 18}

	t.Run("day runs from 18:00 to 18:00 the next day", func(t *testing.T) {
		start, end := cfg.WorkdayBounds(time.Date(2025, 3, 14, 0, 0, 0, 0, time.UTC))
		assert.Equal(t, time.Date(2025, 3, 14, 18, 0, 0, 0, time.UTC), start)
		assert.Equal(t, time.Date(2025, 3, 15, 18, 0, 0, 0, time.UTC), end)
	})

	t.Run("time of day on the input is ignored", func(t *testing.T) {
		morning, _ := cfg.WorkdayBounds(time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC))
		night, _ := cfg.WorkdayBounds(time.Date(2025, 3, 14, 23, 45, 0, 0, time.UTC))
		assert.Equal(t, morning, night)
	})

	t.Run("month rollover", func(t *testing.T) {
		start, end := cfg.WorkdayBounds(time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC))
		assert.Equal(t, time.Date(2025, 1, 31, 18, 0, 0, 0, time.UTC), start)
		assert.Equal(t, time.Date(2025, 2, 1, 18, 0, 0, 0, time.UTC), end)
	})
}

func TestLoadCasinoConfigDefaults(t *testing.T) {
	for _, key := range []string{"WORKDAY_START_HOUR", "DEFAULT_SEAT_COUNT", "MAX_SEAT_COUNT", "OPEN_SESSION_CACHE_TTL"} {
		t.Setenv(key, "")
	}
	cfg := LoadCasinoConfig()
	assert.Equal(t, 18, cfg.WorkdayStartHour)
	assert.Equal(t, 10, cfg.DefaultSeatCount)
	assert.Equal(t, 24, cfg.MaxSeatCount)
	assert.Equal(t, 30*time.Second, cfg.OpenSessionTTL)
}
