package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ApplyEnv reads ULISTS_* environment variables that are not represented by
// dedicated CLI flags in the serve command.
func (c *Config) ApplyEnv() error {
	if c == nil {
		return nil
	}

	var err error
	if err = applyBoolEnv("ULISTS_DB_MIGRATE_AT_START", &c.DatastoreMigrateAtStart); err != nil {
		return err
	}
	if err = applyDurationEnv("ULISTS_CACHE_HANDLE_TTL", &c.CacheHandleTTL); err != nil {
		return err
	}
	if err = applyIntEnv("ULISTS_STREAM_BUFFER_SIZE", &c.StreamBufferSize); err != nil {
		return err
	}
	if err = applyDurationEnv("ULISTS_STREAM_PING_INTERVAL", &c.StreamPingInterval); err != nil {
		return err
	}
	if err = applyIntEnv("ULISTS_HANDLE_MAX_ATTEMPTS", &c.HandleMaxAttempts); err != nil {
		return err
	}
	if err = applyDurationEnv("ULISTS_HANDLE_RETRY_DELAY", &c.HandleRetryDelay); err != nil {
		return err
	}
	if err = applyBoolEnv("ULISTS_CORS_ENABLED", &c.CORSEnabled); err != nil {
		return err
	}
	applyStringEnv("ULISTS_CORS_ORIGINS", &c.CORSOrigins)
	if err = applyIntEnv("ULISTS_DRAIN_TIMEOUT_SECONDS", &c.DrainTimeout); err != nil {
		return err
	}

	if raw := strings.TrimSpace(os.Getenv("ULISTS_MAX_BODY_SIZE")); raw != "" {
		size, parseErr := parseMemorySize(raw)
		if parseErr != nil {
			return fmt.Errorf("invalid ULISTS_MAX_BODY_SIZE: %w", parseErr)
		}
		c.MaxBodySize = size
	}

	if c.HandleMaxAttempts <= 0 {
		return fmt.Errorf("invalid ULISTS_HANDLE_MAX_ATTEMPTS: must be positive")
	}
	return nil
}

func applyStringEnv(key string, dest *string) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return
	}
	*dest = raw
}

func applyIntEnv(key string, dest *int) error {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dest = v
	return nil
}

func applyBoolEnv(key string, dest *bool) error {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dest = v
	return nil
}

func applyDurationEnv(key string, dest *time.Duration) error {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return nil
	}
	v, err := parseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dest = v
	return nil
}

func parseDuration(raw string) (time.Duration, error) {
	v := strings.TrimSpace(strings.ToUpper(raw))
	if v == "" {
		return 0, fmt.Errorf("empty duration")
	}

	// Go duration first (e.g. 30s, 5m).
	if d, err := time.ParseDuration(strings.ToLower(v)); err == nil {
		return d, nil
	}

	// Minimal ISO-8601 support: PT#H#M#S
	if !strings.HasPrefix(v, "PT") {
		return 0, fmt.Errorf("unsupported format %q", raw)
	}
	rest := strings.TrimPrefix(v, "PT")
	if rest == "" {
		return 0, fmt.Errorf("invalid format %q", raw)
	}
	total := time.Duration(0)
	for len(rest) > 0 {
		i := 0
		for i < len(rest) && rest[i] >= '0' && rest[i] <= '9' {
			i++
		}
		if i == 0 || i >= len(rest) {
			return 0, fmt.Errorf("invalid format %q", raw)
		}
		n, err := strconv.Atoi(rest[:i])
		if err != nil {
			return 0, fmt.Errorf("invalid format %q", raw)
		}
		switch rest[i] {
		case 'H':
			total += time.Duration(n) * time.Hour
		case 'M':
			total += time.Duration(n) * time.Minute
		case 'S':
			total += time.Duration(n) * time.Second
		default:
			return 0, fmt.Errorf("invalid format %q", raw)
		}
		rest = rest[i+1:]
	}
	if total <= 0 {
		return 0, fmt.Errorf("duration must be positive")
	}
	return total, nil
}

func parseMemorySize(raw string) (int64, error) {
	v := strings.TrimSpace(strings.ToUpper(raw))
	if v == "" {
		return 0, fmt.Errorf("empty size")
	}
	multiplier := int64(1)
	switch {
	case strings.HasSuffix(v, "KB"), strings.HasSuffix(v, "K"):
		multiplier = 1024
		v = strings.TrimSuffix(strings.TrimSuffix(v, "KB"), "K")
	case strings.HasSuffix(v, "MB"), strings.HasSuffix(v, "M"):
		multiplier = 1024 * 1024
		v = strings.TrimSuffix(strings.TrimSuffix(v, "MB"), "M")
	case strings.HasSuffix(v, "GB"), strings.HasSuffix(v, "G"):
		multiplier = 1024 * 1024 * 1024
		v = strings.TrimSuffix(strings.TrimSuffix(v, "GB"), "G")
	case strings.HasSuffix(v, "B"):
		v = strings.TrimSuffix(v, "B")
	}
	n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid size %q", raw)
	}
	return n * multiplier, nil
}
