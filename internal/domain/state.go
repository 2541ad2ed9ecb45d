package domain

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
	"strings"
)

// StateData is the open variable bag collected during a conversation.
// Keys are defined by graph authors, so it stays a map; use the accessors
// instead of raw lookups.
type StateData map[string]any

// Clone returns a shallow copy that is safe to mutate at the top level
func (s StateData) Clone() StateData {
	out := make(StateData, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// Get returns the top-level value of key
func (s StateData) Get(key string) (any, bool) {
	if s == nil {
		return nil, false
	}
	v, ok := s[key]
	return v, ok
}

// String returns key rendered as text. Non-string scalars are formatted.
func (s StateData) String(key string) (string, bool) {
	v, ok := s.Get(key)
	if !ok || v == nil {
		return "", false
	}
	return Stringify(v), true
}

// Float returns key as a number when it is numeric or a numeric string
func (s StateData) Float(key string) (float64, bool) {
	v, ok := s.Get(key)
	if !ok {
		return 0, false
	}
	return ToFloat(v)
}

// Bool returns key as a boolean
func (s StateData) Bool(key string) (bool, bool) {
	v, ok := s.Get(key)
	if !ok {
		return false, false
	}
	switch b := v.(type) {
	case bool:
		return b, true
	case string:
		parsed, err := strconv.ParseBool(strings.TrimSpace(b))
		return parsed, err == nil
	}
	return false, false
}

// Lookup resolves a dotted path such as "contact.name" against nested maps
func (s StateData) Lookup(path string) (any, bool) {
	parts := strings.Split(path, ".")
	return s.LookupPath(parts)
}

// LookupPath resolves pre-split path segments
func (s StateData) LookupPath(parts []string) (any, bool) {
	var cur any = map[string]any(s)
	for _, p := range parts {
		switch m := cur.(type) {
		case map[string]any:
			v, ok := m[p]
			if !ok {
				return nil, false
			}
			cur = v
		case StateData:
			v, ok := m[p]
			if !ok {
				return nil, false
			}
			cur = v
		case []any:
			idx, err := strconv.Atoi(p)
			if err != nil || idx < 0 || idx >= len(m) {
				return nil, false
			}
			cur = m[idx]
		default:
			return nil, false
		}
	}
	return cur, true
}

// Set writes key in place
func (s StateData) Set(key string, value any) {
	s[key] = value
}

// Merge returns s with delta applied; nil values delete keys
func (s StateData) Merge(delta map[string]any) StateData {
	if s == nil && len(delta) == 0 {
		return StateData{}
	}
	return StateData(mergeMap(s, delta))
}

// Diff returns the delta that turns s into next, with removed keys mapped to nil
func (s StateData) Diff(next StateData) map[string]any {
	delta := make(map[string]any)
	for k, v := range next {
		old, ok := s[k]
		if !ok || !reflect.DeepEqual(old, v) {
			delta[k] = v
		}
	}
	for k := range s {
		if _, ok := next[k]; !ok {
			delta[k] = nil
		}
	}
	return delta
}

// Stringify renders a state value the way it should appear in a message
func Stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case int, int32, int64, uint, uint32, uint64, bool:
		return fmt.Sprint(t)
	case []string:
		return strings.Join(t, ", ")
	case []any:
		items := make([]string, len(t))
		for i, item := range t {
			items[i] = Stringify(item)
		}
		return strings.Join(items, ", ")
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}

// ToFloat converts numbers and numeric strings to float64
func ToFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	}
	return 0, false
}
