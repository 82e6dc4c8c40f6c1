package database

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
	"time"
)

// integralTolerance is how far a value may sit from the nearest integer and
// still be written to an integer column.
const integralTolerance = 1e-4

var textReplacer = strings.NewReplacer(
	"\n", "  ",
	"\t", "  ",
	"\r", "  ",
	";", "  ",
	`\.`, ".",
	`\`, "  ",
)

// IsNull reports whether v counts as missing: nil, a nil pointer, "", "null"
// or NaN.
func IsNull(v any) bool {
	v = deref(v)
	switch x := v.(type) {
	case nil:
		return true
	case string:
		return x == "" || strings.EqualFold(x, "null")
	case float64:
		return math.IsNaN(x)
	case float32:
		return math.IsNaN(float64(x))
	case json.RawMessage:
		return len(x) == 0 || string(x) == "null"
	}
	return false
}

// Coerce converts v into a value safe to bind to a column of the given kind.
// Null values become fill.
func Coerce(v any, kind ColumnKind, fill any) (any, error) {
	if IsNull(v) {
		return fill, nil
	}
	v = deref(v)
	switch kind {
	case KindInteger:
		return coerceInteger(v)
	case KindFloat:
		return coerceFloat(v)
	case KindText:
		return strings.TrimSpace(textReplacer.Replace(toString(v))), nil
	case KindDate:
		return coerceDate(v), nil
	case KindJSON:
		return coerceJSON(v)
	default:
		return v, nil
	}
}

// deref follows pointers to the value they hold. A nil pointer becomes nil.
func deref(v any) any {
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return nil
		}
		rv = rv.Elem()
	}
	if !rv.IsValid() {
		return nil
	}
	return rv.Interface()
}

func coerceInteger(v any) (any, error) {
	var f float64
	switch x := v.(type) {
	case int:
		return int64(x), nil
	case int8:
		return int64(x), nil
	case int16:
		return int64(x), nil
	case int32:
		return int64(x), nil
	case int64:
		return x, nil
	case uint8:
		return int64(x), nil
	case uint16:
		return int64(x), nil
	case uint32:
		return int64(x), nil
	case uint:
		if uint64(x) > math.MaxInt64 {
			return nil, &CastingError{Kind: KindInteger, Value: v, Reason: "out of range"}
		}
		return int64(x), nil
	case uint64:
		if x > math.MaxInt64 {
			return nil, &CastingError{Kind: KindInteger, Value: v, Reason: "out of range"}
		}
		return int64(x), nil
	case float32:
		f = float64(x)
	case float64:
		f = x
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return i, nil
		}
		parsed, err := x.Float64()
		if err != nil {
			return nil, &CastingError{Kind: KindInteger, Value: v, Reason: err.Error()}
		}
		f = parsed
	case string:
		s := strings.TrimSpace(stripThousands(x))
		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			return i, nil
		}
		parsed, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, &CastingError{Kind: KindInteger, Value: v, Reason: "not a number"}
		}
		f = parsed
	default:
		return nil, &CastingError{Kind: KindInteger, Value: v, Reason: fmt.Sprintf("unsupported type %T", v)}
	}

	if math.IsInf(f, 0) {
		return nil, &CastingError{Kind: KindInteger, Value: v, Reason: "infinite"}
	}
	r := math.Round(f)
	if math.Abs(f-r) > integralTolerance {
		return nil, &CastingError{Kind: KindInteger, Value: v, Reason: "not integral"}
	}
	if r > math.MaxInt64 || r < math.MinInt64 {
		return nil, &CastingError{Kind: KindInteger, Value: v, Reason: "out of range"}
	}
	return int64(r), nil
}

func coerceFloat(v any) (any, error) {
	switch x := v.(type) {
	case float64:
		return x, nil
	case float32:
		return float64(x), nil
	case int:
		return float64(x), nil
	case int8:
		return float64(x), nil
	case int16:
		return float64(x), nil
	case int32:
		return float64(x), nil
	case int64:
		return float64(x), nil
	case uint:
		return float64(x), nil
	case uint8:
		return float64(x), nil
	case uint16:
		return float64(x), nil
	case uint32:
		return float64(x), nil
	case uint64:
		return float64(x), nil
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return nil, &CastingError{Kind: KindFloat, Value: v, Reason: err.Error()}
		}
		return f, nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(stripThousands(x)), 64)
		if err != nil {
			return nil, &CastingError{Kind: KindFloat, Value: v, Reason: "not a number"}
		}
		return f, nil
	default:
		return nil, &CastingError{Kind: KindFloat, Value: v, Reason: fmt.Sprintf("unsupported type %T", v)}
	}
}

// coerceDate keeps the first ten characters: "2024-05-01 00:00:00" -> "2024-05-01".
func coerceDate(v any) string {
	var s string
	switch x := v.(type) {
	case time.Time:
		return x.Format(time.DateOnly)
	case string:
		s = x
	default:
		s = toString(v)
	}
	if len(s) > 10 {
		return s[:10]
	}
	return s
}

func coerceJSON(v any) (any, error) {
	switch x := v.(type) {
	case json.RawMessage:
		return string(x), nil
	case []byte:
		return string(x), nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		b, err = json.Marshal(stringifyLeaves(v))
		if err != nil {
			return nil, &CastingError{Kind: KindJSON, Value: v, Reason: err.Error()}
		}
	}
	return string(b), nil
}

// stringifyLeaves replaces leaves that cannot be marshalled with their string form.
func stringifyLeaves(v any) any {
	switch x := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[k] = stringifyLeaves(e)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = stringifyLeaves(e)
		}
		return out
	}
	if _, err := json.Marshal(v); err != nil {
		return toString(v)
	}
	return v
}

// stripThousands removes commas used as thousands separators: "12,000" -> "12000".
// A comma is dropped only when three digits follow it.
func stripThousands(s string) string {
	if !strings.Contains(s, ",") {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == ',' && i+4 <= len(s) && isDigits(s[i+1:i+4]) {
			continue
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

func isDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return s != ""
}

func toString(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case []byte:
		return string(x)
	case fmt.Stringer:
		return x.String()
	default:
		return fmt.Sprint(v)
	}
}
