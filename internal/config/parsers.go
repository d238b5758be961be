package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

func parsePercent(value, defaultValue string) (float64, error) {
	if strings.TrimSpace(value) == "" {
		value = defaultValue
	}
	value = strings.TrimSpace(value)
	if !strings.HasSuffix(value, "%") {
		return 0, fmt.Errorf("must be a percentage (e.g. %q)", defaultValue)
	}
	numStr := strings.TrimSuffix(value, "%")
	parsed, err := strconv.ParseFloat(strings.TrimSpace(numStr), 64)
	if err != nil || parsed < 0 {
		return 0, fmt.Errorf("invalid percentage %q", value)
	}
	return parsed, nil
}

func parseDuration(value, defaultValue string) (time.Duration, error) {
	if strings.TrimSpace(value) == "" {
		value = defaultValue
	}
	return time.ParseDuration(strings.TrimSpace(value))
}

func splitList(value string) []string {
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
