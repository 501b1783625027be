package medication

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var safeServiceID = regexp.MustCompile(`^[a-z0-9][a-z0-9_.-]*$`)

// ParseTimeOfDay parses "H:MM" or "HH:MM" into hour and minute.
func ParseTimeOfDay(value string) (int, int, error) {
	parts := strings.Split(strings.TrimSpace(value), ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid time format: %s", value)
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, fmt.Errorf("invalid time format: %s", value)
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, fmt.Errorf("invalid time format: %s", value)
	}
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("invalid time value: %s", value)
	}
	return hour, minute, nil
}

// NormalizeTimes validates and zero-pads a list of daily times, dropping
// blanks and collapsing duplicates while preserving first-occurrence
// order.
func NormalizeTimes(values []string) ([]string, error) {
	seen := make(map[string]bool)
	var out []string
	for _, v := range values {
		if strings.TrimSpace(v) == "" {
			continue
		}
		hour, minute, err := ParseTimeOfDay(v)
		if err != nil {
			return nil, err
		}
		normalized := fmt.Sprintf("%02d:%02d", hour, minute)
		if seen[normalized] {
			continue
		}
		seen[normalized] = true
		out = append(out, normalized)
	}
	return out, nil
}

// Slugify lowercases a name and squeezes every non-alphanumeric run into
// a single underscore.
func Slugify(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteRune('_')
		}
	}
	parts := strings.FieldsFunc(b.String(), func(r rune) bool { return r == '_' })
	return strings.Join(parts, "_")
}

// FilterNotifyServices keeps only channel identifiers matching the safe
// pattern. Unknown or malformed identifiers are dropped silently.
func FilterNotifyServices(services []string) []string {
	var out []string
	for _, s := range services {
		s = strings.TrimSpace(s)
		if s == "" || !safeServiceID.MatchString(s) {
			continue
		}
		out = append(out, s)
	}
	return out
}
