package cache

import (
	"errors"
	"fmt"
)

// Reason tells why a write was not admitted to the store.
type Reason string

const (
	InvalidKey       Reason = "InvalidKey"
	InvalidValueType Reason = "InvalidValueType"
	EmptyValue       Reason = "EmptyValue"
	ValueTooLarge    Reason = "ValueTooLarge"
	CapacityExceeded Reason = "CapacityExceeded"
)

// Rejection is the error returned by Set when a write is refused.
// Rejections are expected outcomes, not faults: the store is left unchanged.
type Rejection struct {
	Reason Reason
	Key    string
}

func (r *Rejection) Error() string {
	if r.Key == "" {
		return fmt.Sprintf("cache: write rejected: %s", r.Reason)
	}
	return fmt.Sprintf("cache: write rejected for %q: %s", r.Key, r.Reason)
}

// Is matches any rejection with the same reason,
// so that errors.Is(err, ErrCapacityExceeded) works for keyed rejections.
func (r *Rejection) Is(target error) bool {
	t, ok := target.(*Rejection)
	return ok && t.Reason == r.Reason
}

var (
	ErrInvalidKey       = &Rejection{Reason: InvalidKey}
	ErrInvalidValueType = &Rejection{Reason: InvalidValueType}
	ErrEmptyValue       = &Rejection{Reason: EmptyValue}
	ErrValueTooLarge    = &Rejection{Reason: ValueTooLarge}
	ErrCapacityExceeded = &Rejection{Reason: CapacityExceeded}

	// ErrWriteFailed is returned when a write hit an unexpected internal fault.
	// The caller should treat it like a miss.
	ErrWriteFailed = errors.New("cache: write failed")
)

// ReasonOf returns the rejection reason carried by err, if any.
func ReasonOf(err error) (Reason, bool) {
	var r *Rejection
	if errors.As(err, &r) {
		return r.Reason, true
	}
	return "", false
}

// Admit checks a proposed key and value against the admission rules.
// The rules are checked in order and the first failure wins:
// the key must not be empty, the value must be a string or a byte slice,
// it must not be empty and it must not be larger than maxValueSize bytes.
// On success it returns the value as a string.
func Admit(key string, value any, maxValueSize int) (string, error) {
	if key == "" {
		return "", &Rejection{Reason: InvalidKey}
	}
	var s string
	switch v := value.(type) {
	case string:
		s = v
	case []byte:
		s = string(v)
	default:
		return "", &Rejection{Reason: InvalidValueType, Key: key}
	}
	if len(s) == 0 {
		return "", &Rejection{Reason: EmptyValue, Key: key}
	}
	if len(s) > maxValueSize {
		return "", &Rejection{Reason: ValueTooLarge, Key: key}
	}
	return s, nil
}
