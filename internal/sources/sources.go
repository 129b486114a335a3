// Package sources maps monitoring-tool webhook payloads onto models.Alert.
//
// Mappers are pure: they never touch storage and never fail. Missing optional
// keys are replaced by empty strings or empty maps because senders differ in
// how complete their payloads are.
package sources

import (
	"sort"
	"strconv"
	"strings"
	"time"

	"alerthub/internal/models"
)

// Mapper translates one raw payload into zero or more canonical alerts.
type Mapper func(payload map[string]any) []models.Alert

// Registry resolves webhook source names to mappers.
type Registry struct {
	mappers map[string]Mapper
}

// NewRegistry returns a registry with every built-in source registered.
func NewRegistry() *Registry {
	r := &Registry{mappers: make(map[string]Mapper)}
	r.Register("alertmanager", MapAlertmanager)
	r.Register("prometheus", MapAlertmanager)
	r.Register("zabbix", MapZabbix)
	r.Register("grafana", MapGrafana)
	r.Register("custom", MapCustom)
	return r
}

// Register adds or replaces a mapper.
func (r *Registry) Register(name string, m Mapper) {
	r.mappers[strings.ToLower(name)] = m
}

// Lookup finds the mapper for a source name, case-insensitively.
func (r *Registry) Lookup(name string) (Mapper, bool) {
	m, ok := r.mappers[strings.ToLower(strings.TrimSpace(name))]
	return m, ok
}

// Names lists registered source names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.mappers))
	for name := range r.mappers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// str returns the textual form of payload[key], "" when absent or null.
func str(payload map[string]any, key string) string {
	return text(payload[key])
}

func text(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case bool:
		return strconv.FormatBool(t)
	default:
		return ""
	}
}

// firstOf returns the first non-empty value among keys.
func firstOf(payload map[string]any, keys ...string) string {
	for _, k := range keys {
		if v := str(payload, k); v != "" {
			return v
		}
	}
	return ""
}

func object(v any) map[string]any {
	if m, ok := v.(map[string]any); ok {
		return m
	}
	return map[string]any{}
}

func list(v any) []any {
	if l, ok := v.([]any); ok {
		return l
	}
	return nil
}

// stringMap flattens an arbitrary JSON object into string labels.
func stringMap(v any) map[string]string {
	out := make(map[string]string)
	switch m := v.(type) {
	case map[string]any:
		for k, val := range m {
			out[k] = text(val)
		}
	case map[string]string:
		for k, val := range m {
			out[k] = val
		}
	}
	return out
}

// timestamp parses RFC 3339 values. Unparseable values and Go's zero time,
// which Alertmanager sends as the end of a firing alert, yield nil.
func timestamp(v any) *time.Time {
	s := text(v)
	if s == "" {
		return nil
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05", "2006.01.02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			if t.IsZero() || t.Year() <= 1 {
				return nil
			}
			t = t.UTC()
			return &t
		}
	}
	return nil
}

func withDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
