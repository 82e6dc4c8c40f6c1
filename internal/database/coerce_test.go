package database

import (
	"encoding/json"
	"errors"
	"math"
	"testing"
	"time"
)

func ptr[T any](v T) *T { return &v }

func TestCoerce(t *testing.T) {
	tests := []struct {
		name  string
		value any
		kind  ColumnKind
		fill  any
		want  any
	}{
		{"int with thousands", "12,000", KindInteger, nil, int64(12000)},
		{"int millions", "1,234,567", KindInteger, nil, int64(1234567)},
		{"int from float", 7.0, KindInteger, nil, int64(7)},
		{"int within tolerance", 12000.00005, KindInteger, nil, int64(12000)},
		{"int from float string", "42.0", KindInteger, nil, int64(42)},
		{"int from json number", json.Number("3"), KindInteger, nil, int64(3)},
		{"int passthrough", 5, KindInteger, nil, int64(5)},
		{"float with thousands", "1,500.25", KindFloat, nil, 1500.25},
		{"float from int", 3, KindFloat, nil, 3.0},
		{"float from int8", int8(-4), KindFloat, nil, -4.0},
		{"float from int16", int16(300), KindFloat, nil, 300.0},
		{"float from uint", uint(7), KindFloat, nil, 7.0},
		{"float from uint8", uint8(8), KindFloat, nil, 8.0},
		{"float from uint16", uint16(9), KindFloat, nil, 9.0},
		{"float from uint32", uint32(10), KindFloat, nil, 10.0},
		{"float from uint64", uint64(11), KindFloat, nil, 11.0},
		{"int from uint", uint(12), KindInteger, nil, int64(12)},
		{"int from uint64", uint64(math.MaxInt64), KindInteger, nil, int64(math.MaxInt64)},
		{"int from pointer", ptr(int64(4)), KindInteger, nil, int64(4)},
		{"date from time pointer", ptr(time.Date(2024, 5, 1, 13, 0, 0, 0, time.UTC)), KindDate, nil, "2024-05-01"},
		{"text from string pointer", ptr(" AQU "), KindText, nil, "AQU"},
		{"text whitespace", " a\tb\nc\r ", KindText, nil, "a  b  c"},
		{"text semicolon", "drop;table", KindText, nil, "drop  table"},
		{"text escaped dot", `a\.b`, KindText, nil, "a.b"},
		{"text backslash", `a\b`, KindText, nil, "a  b"},
		{"text from number", 12, KindText, nil, "12"},
		{"date truncation", "2024-05-01 00:00:00", KindDate, nil, "2024-05-01"},
		{"date iso timestamp", "2024-05-01T17:30:00Z", KindDate, nil, "2024-05-01"},
		{"date short", "2024", KindDate, nil, "2024"},
		{"date from time", time.Date(2024, 5, 1, 13, 0, 0, 0, time.UTC), KindDate, nil, "2024-05-01"},
		{"json map", map[string]any{"a": 1}, KindJSON, nil, `{"a":1}`},
		{"json raw", json.RawMessage(`{"b":2}`), KindJSON, nil, `{"b":2}`},
		{"json unsupported leaf", map[string]any{"c": complex(1, 2)}, KindJSON, nil, `{"c":"(1+2i)"}`},
		{"other passthrough", true, KindOther, nil, true},
		{"null nil", nil, KindInteger, nil, nil},
		{"null empty", "", KindText, nil, nil},
		{"null sentinel", "NULL", KindDate, nil, nil},
		{"null nan", math.NaN(), KindFloat, nil, nil},
		{"null with fill", "", KindInteger, int64(-1), int64(-1)},
		{"null time pointer", (*time.Time)(nil), KindDate, nil, nil},
		{"null int pointer", (*int64)(nil), KindInteger, int64(0), int64(0)},
		{"null string pointer", ptr("null"), KindText, nil, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Coerce(tt.value, tt.kind, tt.fill)
			if err != nil {
				t.Fatalf("Coerce(%#v, %s) error: %v", tt.value, tt.kind, err)
			}
			if got != tt.want {
				t.Errorf("Coerce(%#v, %s) = %#v, want %#v", tt.value, tt.kind, got, tt.want)
			}
		})
	}
}

func TestCoerceCastingErrors(t *testing.T) {
	tests := []struct {
		name  string
		value any
		kind  ColumnKind
	}{
		{"half", 12000.5, KindInteger},
		{"half string", "12,000.5", KindInteger},
		{"not a number", "twelve", KindInteger},
		{"bool to int", true, KindInteger},
		{"infinite", math.Inf(1), KindInteger},
		{"float garbage", "1.2.3", KindFloat},
		{"uint64 overflow", uint64(math.MaxInt64) + 1, KindInteger},
		{"uint overflow", ^uint(0), KindInteger},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Coerce(tt.value, tt.kind, nil)
			var ce *CastingError
			if !errors.As(err, &ce) {
				t.Fatalf("expected CastingError, got %v", err)
			}
			if ce.Value != tt.value {
				t.Errorf("CastingError.Value = %#v, want %#v", ce.Value, tt.value)
			}
		})
	}
}

func TestStripThousands(t *testing.T) {
	tests := map[string]string{
		"12,000":    "12000",
		"1,000,000": "1000000",
		"1,00":      "1,00",
		"a,b":       "a,b",
		"12000":     "12000",
		"3,5":       "3,5",
	}
	for in, want := range tests {
		if got := stripThousands(in); got != want {
			t.Errorf("stripThousands(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestKindOf(t *testing.T) {
	tests := map[string]ColumnKind{
		"integer":                  KindInteger,
		"BIGINT":                   KindInteger,
		"double precision":         KindFloat,
		"numeric":                  KindFloat,
		"character varying":        KindText,
		"date":                     KindDate,
		"jsonb":                    KindJSON,
		"timestamp with time zone": KindOther,
		"boolean":                  KindOther,
	}
	for in, want := range tests {
		if got := KindOf(in); got != want {
			t.Errorf("KindOf(%q) = %s, want %s", in, got, want)
		}
	}
}
