package lock

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	verrouerrors "github.com/mirkobrombin/go-verrou/v1/errors"
)

// ParseDuration resolves a duration string. Bare integers are milliseconds,
// anything else uses Go duration syntax such as "2s" or "1m30s".
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("verrou: empty duration")
	}
	var d time.Duration
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		d = time.Duration(ms) * time.Millisecond
	} else {
		d, err = time.ParseDuration(s)
		if err != nil {
			return 0, fmt.Errorf("verrou: invalid duration %q: %w", s, err)
		}
	}
	if d < 0 {
		return 0, verrouerrors.ErrInvalidTTL
	}
	return d, nil
}

// ParseTTL is ParseDuration that also accepts "", "none" and "null" as
// NoExpiration.
func ParseTTL(s string) (time.Duration, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none", "null":
		return NoExpiration, nil
	}
	return ParseDuration(s)
}
