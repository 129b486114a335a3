package sources

import "alerthub/internal/models"

// MapCustom accepts alerts already shaped like the canonical record, either a
// single object or {"alerts": [...]}.
func MapCustom(payload map[string]any) []models.Alert {
	items := list(payload["alerts"])
	if items == nil {
		items = []any{payload}
	}

	out := make([]models.Alert, 0, len(items))
	for _, raw := range items {
		a := object(raw)
		labels := stringMap(a["labels"])
		out = append(out, models.Alert{
			Source:       withDefault(str(a, "source"), "custom"),
			ExternalID:   str(a, "external_id"),
			Status:       withDefault(str(a, "status"), models.StatusFiring),
			Severity:     withDefault(str(a, "severity"), withDefault(labels["severity"], models.SeverityWarning)),
			Title:        str(a, "title"),
			Description:  str(a, "description"),
			Labels:       labels,
			Annotations:  object(a["annotations"]),
			StartsAt:     timestamp(a["starts_at"]),
			EndsAt:       timestamp(a["ends_at"]),
			Resource:     str(a, "resource"),
			Service:      str(a, "service"),
			Metric:       str(a, "metric"),
			Namespace:    str(a, "namespace"),
			GeneratorURL: str(a, "generator_url"),
		})
	}
	return out
}
