package utils

import (
	"strconv"
	"strings"
	"time"

	"github.com/life-stream-dev/life-stream-go-chat-server/internal/logger"
)

var units = []struct {
	suffix string
	unit   time.Duration
}{
	{"ms", time.Millisecond},
	{"s", time.Second},
	{"m", time.Minute},
	{"h", time.Hour},
	{"d", 24 * time.Hour},
}

// ParseStringTime parses the short duration strings used in config.toml
// ("500ms", "10s", "5m", "2h", "1d"). Compound values such as "1h30m" fall
// back to time.ParseDuration. Invalid input yields 0.
func ParseStringTime(timeString string) time.Duration {
	timeString = strings.ToLower(strings.TrimSpace(timeString))
	if timeString == "" {
		return 0
	}

	for _, u := range units {
		number, found := strings.CutSuffix(timeString, u.suffix)
		if !found {
			continue
		}
		value, err := strconv.Atoi(number)
		if err != nil {
			break
		}
		if value < 0 {
			logger.ErrorF("Negative duration is not allowed: %s", timeString)
			return 0
		}
		return time.Duration(value) * u.unit
	}

	if d, err := time.ParseDuration(timeString); err == nil && d >= 0 {
		return d
	}
	logger.ErrorF("Invalid time format: %s", timeString)
	return 0
}
