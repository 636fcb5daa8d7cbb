package model

import "time"

// Payload accessors tolerant of the value shapes that survive a round trip
// through the vector store (JSON numbers arrive as float64, lists as []any).

// PayloadString returns p[key] as a string, or "" when absent.
func PayloadString(p map[string]any, key string) string {
	if v, ok := p[key].(string); ok {
		return v
	}
	return ""
}

// PayloadFloat returns p[key] as a float64, or 0 when absent.
func PayloadFloat(p map[string]any, key string) float64 {
	switch v := p[key].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	}
	return 0
}

// PayloadInt returns p[key] as an int, or 0 when absent.
func PayloadInt(p map[string]any, key string) int {
	return int(PayloadFloat(p, key))
}

// PayloadBool returns p[key] as a bool, or false when absent.
func PayloadBool(p map[string]any, key string) bool {
	if v, ok := p[key].(bool); ok {
		return v
	}
	return false
}

// PayloadStrings returns p[key] as a string slice, accepting both []string
// and []any element shapes.
func PayloadStrings(p map[string]any, key string) []string {
	switch v := p[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, e := range v {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// PayloadTime parses p[key] as RFC 3339, returning the zero time on failure.
func PayloadTime(p map[string]any, key string) time.Time {
	s := PayloadString(p, key)
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
