package rules

import (
	"strings"

	"alerthub/internal/models"
)

// Attributes is the flat view of an event that conditions and templates see.
func Attributes(event *models.AlertEvent) map[string]any {
	labels := event.Labels
	if labels == nil {
		labels = map[string]string{}
	}
	annotations := event.Annotations
	if annotations == nil {
		annotations = map[string]any{}
	}
	return map[string]any{
		"id":            event.ID,
		"fingerprint":   event.Fingerprint,
		"source":        event.Source,
		"status":        event.Status,
		"severity":      event.Severity,
		"title":         event.Title,
		"description":   event.Description,
		"labels":        labels,
		"annotations":   annotations,
		"resource":      event.Resource,
		"service":       event.Service,
		"metric":        event.Metric,
		"namespace":     event.Namespace,
		"generator_url": event.GeneratorURL,
	}
}

// Lookup resolves a dotted path such as "labels.instance" against data.
// The second result is false when any segment is missing or the walk hits a
// non-map value before the path ends.
func Lookup(data map[string]any, path string) (any, bool) {
	if path == "" {
		return nil, false
	}
	var cur any = data
	for _, seg := range strings.Split(path, ".") {
		switch m := cur.(type) {
		case map[string]any:
			v, ok := m[seg]
			if !ok {
				return nil, false
			}
			cur = v
		case map[string]string:
			v, ok := m[seg]
			if !ok {
				return nil, false
			}
			cur = v
		default:
			return nil, false
		}
	}
	return cur, true
}

// RootCause gives a coarse hint about where the problem lives, or "" when the
// event carries nothing to go on.
func RootCause(event *models.AlertEvent) string {
	if event.Service != "" && event.Namespace != "" {
		return "Likely issue within service=" + event.Service + " namespace=" + event.Namespace
	}
	if event.Resource != "" {
		return "Host/Instance related: " + event.Resource
	}
	return ""
}
