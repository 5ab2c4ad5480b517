package moderation

import (
	"errors"
	"math"
	"regexp"
	"strconv"
	"time"
)

var ErrInvalidDuration = errors.New("invalid duration")

// durationRE accepts an integer magnitude followed by exactly one unit
// letter. Compound forms like "1h30m" are rejected on purpose.
var durationRE = regexp.MustCompile(`^(\d+)([smhd])$`)

var unitSeconds = map[string]int64{
	"s": 1,
	"m": 60,
	"h": 3600,
	"d": 86400,
}

// ParseSanctionDuration converts a sanction duration string (e.g. "30m",
// "7d") into a positive time.Duration.
func ParseSanctionDuration(raw string) (time.Duration, error) {
	matches := durationRE.FindStringSubmatch(raw)
	if matches == nil {
		return 0, ErrInvalidDuration
	}
	magnitude, err := strconv.ParseInt(matches[1], 10, 64)
	if err != nil || magnitude <= 0 {
		return 0, ErrInvalidDuration
	}
	unit := unitSeconds[matches[2]]
	// time.Duration counts nanoseconds; anything the multiplication would
	// overflow is garbage, not a sanction length.
	if magnitude > math.MaxInt64/(unit*int64(time.Second)) {
		return 0, ErrInvalidDuration
	}
	return time.Duration(magnitude*unit) * time.Second, nil
}
