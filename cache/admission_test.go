package cache

import (
	"errors"
	"strings"
	"testing"
)

func TestAdmit(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		value   any
		maxSize int
		want    Reason
	}{
		{"string value", "page:/", "<html></html>", 100, ""},
		{"byte value", "page:/", []byte("<html></html>"), 100, ""},
		{"exactly at ceiling", "k", strings.Repeat("x", 10), 10, ""},
		{"empty key", "", "value", 100, InvalidKey},
		{"empty key wins over bad value", "", 42, 100, InvalidKey},
		{"int value", "k", 42, 100, InvalidValueType},
		{"nil value", "k", nil, 100, InvalidValueType},
		{"struct value", "k", struct{ A string }{"a"}, 100, InvalidValueType},
		{"empty string", "k", "", 100, EmptyValue},
		{"empty bytes", "k", []byte{}, 100, EmptyValue},
		{"nil bytes", "k", []byte(nil), 100, EmptyValue},
		{"over ceiling", "k", strings.Repeat("x", 11), 10, ValueTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := Admit(tt.key, tt.value, tt.maxSize)
			if tt.want == "" {
				if err != nil {
					t.Fatalf("Admit(%q) = %v, want nil", tt.key, err)
				}
				if v == "" {
					t.Fatalf("Admit(%q) returned empty value", tt.key)
				}
				return
			}
			reason, ok := ReasonOf(err)
			if !ok || reason != tt.want {
				t.Fatalf("Admit(%q) = %v, want reason %s", tt.key, err, tt.want)
			}
		})
	}
}

func TestRejectionMatchesSentinel(t *testing.T) {
	err := error(&Rejection{Reason: CapacityExceeded, Key: "page:/a"})
	if !errors.Is(err, ErrCapacityExceeded) {
		t.Fatalf("%v does not match ErrCapacityExceeded", err)
	}
	if errors.Is(err, ErrEmptyValue) {
		t.Fatalf("%v matches ErrEmptyValue", err)
	}
	if _, ok := ReasonOf(ErrWriteFailed); ok {
		t.Fatal("ErrWriteFailed has a rejection reason")
	}
}
