package config

import (
	"fmt"
	"strings"
	"time"
)

func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

// ParseDurationOrDefault returns def for empty or zero values.
func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return def, nil
	}
	return d, nil
}

// ParseScheduleSpec turns a renewal setting into a robfig/cron spec.
//
//	""            -> "@every <def>"
//	"720h"        -> "@every 720h0m0s"
//	"cron:0 3 * * *" / "@daily" -> passed through
func ParseScheduleSpec(path, raw string, def time.Duration) (string, error) {
	s := strings.TrimSpace(raw)
	switch {
	case s == "":
		return "@every " + def.String(), nil
	case strings.HasPrefix(s, "cron:"):
		spec := strings.TrimSpace(strings.TrimPrefix(s, "cron:"))
		if spec == "" {
			return "", fmt.Errorf("%s: empty cron spec", path)
		}
		return spec, nil
	case strings.HasPrefix(s, "@"):
		return s, nil
	}
	d, err := ParseDurationField(path, s)
	if err != nil {
		return "", err
	}
	if d < time.Second {
		return "", fmt.Errorf("%s: interval must be >= 1s", path)
	}
	return "@every " + d.String(), nil
}
