package registry

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// String returns cfg[key] trimmed, or def when unset.
func String(cfg map[string]string, key, def string) string {
	if v, ok := cfg[key]; ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return def
}

// Duration parses cfg[key] as a time.Duration, or returns def when unset.
func Duration(cfg map[string]string, key string, def time.Duration) (time.Duration, error) {
	v := String(cfg, key, "")
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

// Int parses cfg[key] as an int, or returns def when unset.
func Int(cfg map[string]string, key string, def int) (int, error) {
	v := String(cfg, key, "")
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

// Bool parses cfg[key] as a bool, or returns def when unset.
func Bool(cfg map[string]string, key string, def bool) (bool, error) {
	v := String(cfg, key, "")
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s: %w", key, err)
	}
	return b, nil
}
