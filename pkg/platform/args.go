package platform

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	agerr "github.com/synthagora/agora/pkg/errors"
)

// Args carries the resolved arguments of one facade operation.
type Args map[string]any

// String returns a required, non-blank string argument.
func (a Args) String(key string) (string, error) {
	v, ok := a[key]
	if !ok || v == nil {
		return "", agerr.Newf(agerr.CodeInvalidInput, "missing argument %q", key)
	}
	s, ok := v.(string)
	if !ok {
		return "", agerr.Newf(agerr.CodeInvalidInput, "argument %q must be a string, got %T", key, v)
	}
	if strings.TrimSpace(s) == "" {
		return "", agerr.Newf(agerr.CodeInvalidInput, "argument %q is empty", key)
	}
	return s, nil
}

// OptString returns a string argument or def when absent.
func (a Args) OptString(key, def string) string {
	if s, ok := a[key].(string); ok {
		return s
	}
	return def
}

// ID returns a required positive identifier.
func (a Args) ID(key string) (int64, error) {
	v, ok := a[key]
	if !ok || v == nil {
		return 0, agerr.Newf(agerr.CodeInvalidInput, "missing argument %q", key)
	}
	n, ok := AsInt(v)
	if !ok || n <= 0 {
		return 0, agerr.Newf(agerr.CodeInvalidInput, "argument %q must be a positive integer, got %v", key, v)
	}
	return n, nil
}

// Int returns an integer argument or def when absent or malformed.
func (a Args) Int(key string, def int) int {
	if n, ok := AsInt(a[key]); ok {
		return int(n)
	}
	return def
}

// AsInt converts the integer encodings produced by JSON decoders and Go
// callers. Fractional floats are rejected.
func AsInt(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case float64:
		if n != math.Trunc(n) || math.IsInf(n, 0) {
			return 0, false
		}
		return int64(n), true
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	case string:
		i, err := strconv.ParseInt(strings.TrimSpace(n), 10, 64)
		return i, err == nil
	default:
		return 0, false
	}
}
