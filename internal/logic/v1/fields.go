package v1

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"
)

// timestampLayout is the store's timestamp form: UTC with milliseconds.
const timestampLayout = "2006-01-02T15:04:05.000Z"

// FieldType coerces one caller-supplied value into its stored form.
type FieldType int

const (
	FieldString FieldType = iota
	FieldNullableString
	FieldInteger
	FieldNonZeroInteger
	FieldBool
	FieldStringList
	FieldTimestamp
	FieldEnvelopeID
)

// coerce returns the stored form of v, or a *ValidationError for field.
func (t FieldType) coerce(field string, v any) (any, error) {
	if v == nil {
		if t == FieldNullableString {
			return nil, nil
		}
		return nil, invalid(field, RuleType)
	}

	switch t {
	case FieldString, FieldNullableString:
		s, ok := v.(string)
		if !ok {
			return nil, invalid(field, RuleType)
		}
		return s, nil

	case FieldInteger, FieldNonZeroInteger:
		n, ok := toInt64(v)
		if !ok {
			return nil, invalid(field, RuleType)
		}
		if t == FieldNonZeroInteger && n == 0 {
			return nil, invalid(field, RuleNonZero)
		}
		return n, nil

	case FieldBool:
		b, ok := v.(bool)
		if !ok {
			return nil, invalid(field, RuleType)
		}
		return b, nil

	case FieldStringList:
		return toStringList(field, v)

	case FieldTimestamp:
		s, ok := v.(string)
		if !ok {
			return nil, invalid(field, RuleType)
		}
		ts, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return nil, invalid(field, RuleType)
		}
		return formatTimestamp(ts), nil

	case FieldEnvelopeID:
		if s, ok := v.(string); ok {
			n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
			if err != nil {
				return nil, invalid(field, RuleType)
			}
			return n, nil
		}
		n, ok := toInt64(v)
		if !ok {
			return nil, invalid(field, RuleType)
		}
		return n, nil
	}
	return nil, invalid(field, RuleType)
}

// empty reports whether v fails a required check.
func empty(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(x) == ""
	}
	return false
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case float64:
		if n != math.Trunc(n) || math.IsInf(n, 0) || math.Abs(n) > 1<<53 {
			return 0, false
		}
		return int64(n), true
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	}
	return 0, false
}

func toStringList(field string, v any) ([]string, error) {
	switch list := v.(type) {
	case []string:
		return append([]string{}, list...), nil
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			s, ok := item.(string)
			if !ok {
				return nil, invalid(field, RuleType)
			}
			out = append(out, s)
		}
		return out, nil
	}
	return nil, invalid(field, RuleType)
}

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}

// parseDateBound accepts YYYY-MM-DD or RFC3339. A bare date used as an
// upper bound covers the whole day.
func parseDateBound(field, s string, upper bool) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, invalid(field, RuleDate)
	}
	if upper {
		t = t.Add(24*time.Hour - time.Millisecond)
	}
	return t, nil
}
