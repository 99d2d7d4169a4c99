// Package config provides the key/value configuration collaborator consumed
// by the orchestrator, the event bus and modules.
package config

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Store is a flat, dot-keyed configuration view.
// Implementations are not safe for concurrent mutation.
type Store interface {
	// Value returns the raw value stored under key.
	Value(key string) (any, bool)
	// Set stores v; persist marks it for the next Persist call.
	Set(key string, v any, persist bool) error
	// Remove deletes key and reports whether it existed.
	Remove(key string) bool
	// Clear drops every value the store owns.
	Clear()
	// Keys lists every visible key in sorted order.
	Keys() []string
	// Persist writes values marked persistent to the backing medium.
	Persist() error
}

// Get reads key as T, falling back to def when missing or not convertible.
func Get[T any](s Store, key string, def T) T {
	if s == nil {
		return def
	}
	raw, ok := s.Value(key)
	if !ok || raw == nil {
		return def
	}
	if v, ok := convert[T](raw); ok {
		return v
	}
	return def
}

// Lookup is Get that reports whether key was present and convertible.
func Lookup[T any](s Store, key string) (T, bool) {
	var zero T
	if s == nil {
		return zero, false
	}
	raw, ok := s.Value(key)
	if !ok || raw == nil {
		return zero, false
	}
	return convert[T](raw)
}

func convert[T any](raw any) (T, bool) {
	var out T
	if v, ok := raw.(T); ok {
		return v, true
	}
	switch p := any(&out).(type) {
	case *string:
		*p = fmt.Sprint(raw)
		return out, true
	case *int:
		n, ok := toInt64(raw)
		*p = int(n)
		return out, ok
	case *int64:
		n, ok := toInt64(raw)
		*p = n
		return out, ok
	case *float64:
		f, ok := toFloat64(raw)
		*p = f
		return out, ok
	case *bool:
		switch v := raw.(type) {
		case string:
			b, err := strconv.ParseBool(strings.TrimSpace(v))
			*p = b
			return out, err == nil
		default:
			n, ok := toInt64(raw)
			*p = n != 0
			return out, ok
		}
	case *time.Duration:
		switch v := raw.(type) {
		case string:
			d, err := time.ParseDuration(strings.TrimSpace(v))
			*p = d
			return out, err == nil
		default:
			n, ok := toInt64(raw)
			*p = time.Duration(n)
			return out, ok
		}
	}
	// structured values go through a YAML round trip
	b, err := yaml.Marshal(raw)
	if err != nil {
		return out, false
	}
	if err := yaml.Unmarshal(b, &out); err != nil {
		return out, false
	}
	return out, true
}

func toInt64(raw any) (int64, bool) {
	switch v := raw.(type) {
	case int:
		return int64(v), true
	case int8:
		return int64(v), true
	case int16:
		return int64(v), true
	case int32:
		return int64(v), true
	case int64:
		return v, true
	case uint:
		return int64(v), true
	case uint8:
		return int64(v), true
	case uint16:
		return int64(v), true
	case uint32:
		return int64(v), true
	case uint64:
		return int64(v), true
	case float32:
		return int64(v), true
	case float64:
		return int64(v), true
	case bool:
		if v {
			return 1, true
		}
		return 0, true
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		return n, err == nil
	default:
		return 0, false
	}
}

func toFloat64(raw any) (float64, bool) {
	switch v := raw.(type) {
	case float32:
		return float64(v), true
	case float64:
		return v, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		return f, err == nil
	default:
		n, ok := toInt64(raw)
		return float64(n), ok
	}
}

// flatten turns nested maps into dot-separated keys.
func flatten(prefix string, in map[string]any, out map[string]any) {
	for k, v := range in {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if nested, ok := v.(map[string]any); ok && len(nested) > 0 {
			flatten(key, nested, out)
			continue
		}
		out[key] = v
	}
}

// expand is the inverse of flatten.
func expand(flat map[string]any) map[string]any {
	root := make(map[string]any)
	keys := make([]string, 0, len(flat))
	for k := range flat {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		parts := strings.Split(k, ".")
		node := root
		for i, part := range parts {
			if i == len(parts)-1 {
				node[part] = flat[k]
				break
			}
			child, ok := node[part].(map[string]any)
			if !ok {
				child = make(map[string]any)
				node[part] = child
			}
			node = child
		}
	}
	return root
}

func sortedKeys(m map[string]struct{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
