package config

import (
	"fmt"
	"strings"
	"time"
)

// Duration is a Go duration string as written in the config file ("90s",
// "5m", "720h"). Empty means the component default.
type Duration string

func (d Duration) String() string { return strings.TrimSpace(string(d)) }

// Get parses d. field is the dotted config path quoted in errors.
func (d Duration) Get(field string) (time.Duration, error) {
	raw := d.String()
	if raw == "" {
		return 0, nil
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %q is not a duration, use a form like 90s or 5m", field, raw)
	}
	if v < 0 {
		return 0, fmt.Errorf("%s: %s is negative", field, raw)
	}
	return v, nil
}

// GetOr is Get with def standing in for an empty or zero value.
func (d Duration) GetOr(field string, def time.Duration) (time.Duration, error) {
	v, err := d.Get(field)
	if err != nil || v > 0 {
		return v, err
	}
	return def, nil
}
