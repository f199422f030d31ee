package statestore

import (
	"encoding/json"
	"fmt"
	"maps"
	"reflect"
	"slices"
	"strings"
)

// Attributes is the attribute record of one entity. Values are JSON-shaped:
// string, bool, float64, []any and map[string]any after a round trip.
type Attributes map[string]any

// Clone returns a shallow copy.
func (a Attributes) Clone() Attributes {
	if a == nil {
		return Attributes{}
	}
	return maps.Clone(a)
}

// Apply returns a copy of a with patch merged in. A nil value deletes the key.
func (a Attributes) Apply(patch Attributes) Attributes {
	out := a.Clone()
	for k, v := range patch {
		if v == nil {
			delete(out, k)
			continue
		}
		out[k] = v
	}
	return out
}

// Changes returns the subset of patch that would modify a, or nil when
// applying patch is a no-op.
func (a Attributes) Changes(patch Attributes) Attributes {
	var out Attributes
	for k, v := range patch {
		cur, ok := a[k]
		if v == nil {
			if !ok {
				continue
			}
		} else if ok && equalValues(cur, v) {
			continue
		}
		if out == nil {
			out = Attributes{}
		}
		out[k] = v
	}
	return out
}

// String returns the value at key as a string, or "".
func (a Attributes) String(key string) string {
	switch v := a[key].(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

// Bool returns the value at key as a bool. The strings "on" and "true" count as true.
func (a Attributes) Bool(key string) bool {
	switch v := a[key].(type) {
	case bool:
		return v
	case string:
		s := strings.ToLower(v)
		return s == "true" || s == "on"
	default:
		return false
	}
}

// Float returns the value at key as a float64 and whether it was numeric.
func (a Attributes) Float(key string) (float64, bool) {
	switch v := a[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

// Strings returns the value at key as a string list. It accepts []string,
// []any and the string forms understood by EnsureList.
func (a Attributes) Strings(key string) []string {
	return EnsureList(a[key])
}

// Has reports whether key is present.
func (a Attributes) Has(key string) bool {
	_, ok := a[key]
	return ok
}

// EnsureList converts a loosely typed list value to []string. Strings may be
// a single value, comma separated, or a bracketed list such as
// "[weather, 'music']". Empty entries are dropped.
func EnsureList(v any) []string {
	switch t := v.(type) {
	case nil:
		return nil
	case []string:
		return slices.Clone(t)
	case []any:
		out := make([]string, 0, len(t))
		for _, e := range t {
			if e == nil {
				continue
			}
			if s := strings.TrimSpace(fmt.Sprint(e)); s != "" {
				out = append(out, s)
			}
		}
		return out
	case string:
		s := strings.TrimSpace(t)
		s = strings.TrimSuffix(strings.TrimPrefix(s, "["), "]")
		if s == "" {
			return nil
		}
		var out []string
		for part := range strings.SplitSeq(s, ",") {
			part = strings.Trim(strings.TrimSpace(part), `"'`)
			if part != "" {
				out = append(out, part)
			}
		}
		return out
	default:
		return []string{fmt.Sprint(t)}
	}
}

// equalValues compares attribute values across representations, so
// []string{"a"} equals []any{"a"} read back from JSON.
func equalValues(a, b any) bool {
	if reflect.DeepEqual(a, b) {
		return true
	}
	if isList(a) && isList(b) {
		return slices.Equal(EnsureList(a), EnsureList(b))
	}
	af, aok := Attributes{"v": a}.Float("v")
	bf, bok := Attributes{"v": b}.Float("v")
	return aok && bok && af == bf
}

func isList(v any) bool {
	switch v.(type) {
	case []string, []any:
		return true
	}
	return false
}
