package storage

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// NormalizeKey converts a staged identifier value to its canonical text form
// (e.g. "8429529" or "TfL-42").
//
// Backends hand back different Go types for the same column (int64 from SQLite,
// int32/int64 from SQL Server, []byte from some drivers). Identifiers are opaque
// strings downstream, so they all pass through here.
func NormalizeKey(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case int32:
		return strconv.FormatInt(int64(t), 10)
	case int:
		return strconv.Itoa(t)
	case []byte:
		return strings.TrimSpace(string(t))
	case time.Time:
		return t.Format(time.RFC3339)
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

// NullableText is NormalizeKey that distinguishes NULL from an empty value.
func NullableText(v any) (string, bool) {
	if v == nil {
		return "", false
	}
	return NormalizeKey(v), true
}

// Int64 converts a staged integer column value. ok is false for NULL.
func Int64(v any) (n int64, ok bool, err error) {
	switch t := v.(type) {
	case nil:
		return 0, false, nil
	case int64:
		return t, true, nil
	case int32:
		return int64(t), true, nil
	case int:
		return int64(t), true, nil
	case float64:
		if t != float64(int64(t)) {
			return 0, false, fmt.Errorf("value %v is not integral", t)
		}
		return int64(t), true, nil
	case []byte:
		return parseInt(string(t))
	case string:
		return parseInt(t)
	default:
		return 0, false, fmt.Errorf("unsupported integer type %T", v)
	}
}

func parseInt(s string) (int64, bool, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false, nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, false, err
	}
	return n, true, nil
}
