// Package ttl parses and formats link lifetimes written as an integer
// magnitude followed by one unit letter: s, m, h or d.
package ttl

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/sundayezeilo/linkkeeper/internal/errx"
)

const Day = 24 * time.Hour

var pattern = regexp.MustCompile(`^(\d+)([smhd])$`)

var units = map[string]time.Duration{
	"s": time.Second,
	"m": time.Minute,
	"h": time.Hour,
	"d": Day,
}

// Parse converts text such as "30s", "15m", "12h" or "7d" to a duration.
// Empty input returns 0, which callers treat as "use the default".
// Input is case-insensitive and surrounding whitespace is ignored.
func Parse(s string) (time.Duration, error) {
	const op = "ttl.Parse"

	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return 0, nil
	}

	m := pattern.FindStringSubmatch(s)
	if m == nil {
		return 0, errx.E(op, errx.Invalid,
			fmt.Errorf("invalid duration %q (use a number followed by s, m, h or d, e.g. 30m or 7d)", s))
	}

	n, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0, errx.E(op, errx.Invalid, fmt.Errorf("invalid duration %q: %w", s, err))
	}

	unit := units[m[2]]
	if n > math.MaxInt64/int64(unit) {
		return 0, errx.E(op, errx.Invalid, errors.New("duration is too large"))
	}

	return time.Duration(n) * unit, nil
}

// Format renders d in the largest unit that divides it exactly,
// so Format(Parse(x)) round-trips canonical input.
func Format(d time.Duration) string {
	if d <= 0 {
		return "0s"
	}
	for _, u := range []struct {
		suffix string
		size   time.Duration
	}{
		{"d", Day},
		{"h", time.Hour},
		{"m", time.Minute},
	} {
		if d%u.size == 0 {
			return fmt.Sprintf("%d%s", d/u.size, u.suffix)
		}
	}
	return fmt.Sprintf("%ds", d/time.Second)
}
