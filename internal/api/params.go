package api

import (
	"fmt"
	"math"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// paramError is a malformed query parameter; handlers map it to 400.
type paramError struct {
	name   string
	value  string
	reason string
}

func (e *paramError) Error() string {
	return fmt.Sprintf("invalid %s %q: %s", e.name, e.value, e.reason)
}

// queryFloat parses an optional finite float. ok is false when absent.
func queryFloat(q url.Values, name string) (v float64, ok bool, err error) {
	raw := strings.TrimSpace(q.Get(name))
	if raw == "" {
		return 0, false, nil
	}
	v, err = strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false, &paramError{name: name, value: raw, reason: "not a number"}
	}
	return v, true, nil
}

// queryPositive parses an optional float that must be greater than zero.
func queryPositive(q url.Values, name string) (float64, bool, error) {
	v, ok, err := queryFloat(q, name)
	if err != nil || !ok {
		return 0, ok, err
	}
	if v <= 0 {
		return 0, false, &paramError{name: name, value: q.Get(name), reason: "must be positive"}
	}
	return v, true, nil
}

// queryDuration parses an optional positive amount of unit.
func queryDuration(q url.Values, name string, unit time.Duration) (time.Duration, error) {
	v, ok, err := queryPositive(q, name)
	if err != nil || !ok {
		return 0, err
	}
	if v >= float64(math.MaxInt64)/float64(unit) {
		return 0, &paramError{name: name, value: q.Get(name), reason: "too large"}
	}
	return time.Duration(v * float64(unit)), nil
}

// queryTime parses an optional RFC 3339 timestamp.
func queryTime(q url.Values, name string) (time.Time, error) {
	raw := strings.TrimSpace(q.Get(name))
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, &paramError{name: name, value: raw, reason: "expected RFC 3339"}
	}
	return t.UTC(), nil
}

// queryFloatPtr parses an optional float into a pointer, nil when absent.
func queryFloatPtr(q url.Values, name string) (*float64, error) {
	v, ok, err := queryFloat(q, name)
	if err != nil || !ok {
		return nil, err
	}
	return &v, nil
}
