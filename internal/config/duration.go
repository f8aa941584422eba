package config

import (
	"strings"
	"time"

	"github.com/cockroachdb/errors"
)

// ParseDurationField parses a Go duration string. Empty means zero; negative
// values are rejected. path names the field in error messages.
func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, errors.WithHint(
			errors.Wrapf(err, "%s: invalid duration %q", path, raw),
			`use a Go duration such as "500ms", "10s" or "1m30s"`,
		)
	}
	if d < 0 {
		return 0, errors.Newf("%s: duration must be >= 0", path)
	}
	return d, nil
}

// ParseDurationOrDefault is ParseDurationField with def for empty or zero values.
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
