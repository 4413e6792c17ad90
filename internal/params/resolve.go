package params

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

var relativeRe = regexp.MustCompile(`^__relative_([+-])(\d+)([dwMyhms])$`)

const intervalPrefix = "__interval_"

// Resolve rewrites relative-date tokens in params into absolute values,
// using the current time. Supported forms:
//
//	__relative_-7d                     a single relative date
//	__interval___relative_-7d___relative_-0d  an interval of two
//
// Absolute values and unrecognized tokens pass through untouched.
func Resolve(p StringParams) {
	ResolveAt(p, time.Now().UTC())
}

// ResolveAt is Resolve with an explicit reference time.
func ResolveAt(p StringParams, now time.Time) {
	for key, values := range p {
		for i, value := range values {
			p[key][i] = resolveValue(value, now)
		}
	}
}

func resolveValue(value string, now time.Time) string {
	if rest, ok := strings.CutPrefix(value, intervalPrefix); ok {
		parts := splitInterval(rest)
		if len(parts) != 2 {
			return value
		}
		from := resolveRelative(parts[0], now)
		to := resolveRelative(parts[1], now)
		return intervalPrefix + from + "_" + to
	}
	return resolveRelative(value, now)
}

// splitInterval splits "<from>_<to>" where either side may itself contain
// underscores (relative tokens start with "__relative_"). The separator is
// the last single underscore not owned by a token prefix.
func splitInterval(rest string) []string {
	const relToken = "__relative_"
	if strings.HasPrefix(rest, relToken) {
		// find the end of the first relative token
		idx := strings.Index(rest[len(relToken):], "_")
		if idx < 0 {
			return nil
		}
		cut := len(relToken) + idx
		return []string{rest[:cut], rest[cut+1:]}
	}
	idx := strings.Index(rest, "_")
	if idx < 0 {
		return nil
	}
	return []string{rest[:idx], rest[idx+1:]}
}

func resolveRelative(value string, now time.Time) string {
	m := relativeRe.FindStringSubmatch(value)
	if m == nil {
		return value
	}
	n, err := strconv.Atoi(m[2])
	if err != nil {
		return value
	}
	if m[1] == "-" {
		n = -n
	}

	switch m[3] {
	case "d":
		return now.AddDate(0, 0, n).Format("2006-01-02")
	case "w":
		return now.AddDate(0, 0, n*7).Format("2006-01-02")
	case "M":
		return now.AddDate(0, n, 0).Format("2006-01-02")
	case "y":
		return now.AddDate(n, 0, 0).Format("2006-01-02")
	case "h":
		return now.Add(time.Duration(n) * time.Hour).Format(time.RFC3339)
	case "m":
		return now.Add(time.Duration(n) * time.Minute).Format(time.RFC3339)
	case "s":
		return now.Add(time.Duration(n) * time.Second).Format(time.RFC3339)
	}
	return value
}
