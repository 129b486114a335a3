package sources

import (
	"strings"

	"alerthub/internal/models"
)

// MapGrafana handles Grafana alert notifications. Labels come from the
// explicit labels map, or from the tags of evalMatches on legacy payloads.
func MapGrafana(payload map[string]any) []models.Alert {
	state := strings.ToLower(withDefault(firstOf(payload, "state", "status"), "alerting"))
	status := models.StatusResolved
	if state == "alerting" || state == "firing" {
		status = models.StatusFiring
	}
	ruleName := firstOf(payload, "ruleName", "title")

	labels := stringMap(payload["labels"])
	if len(labels) == 0 {
		for _, m := range list(payload["evalMatches"]) {
			for k, v := range stringMap(object(m)["tags"]) {
				labels[k] = v
			}
		}
	}

	return []models.Alert{{
		Source:       "grafana",
		ExternalID:   withDefault(str(payload, "ruleId"), ruleName),
		Status:       status,
		Severity:     withDefault(labels["severity"], models.SeverityWarning),
		Title:        withDefault(ruleName, "Grafana Alert"),
		Description:  str(payload, "message"),
		Labels:       labels,
		Annotations:  map[string]any{"raw": payload},
		Resource:     labels["instance"],
		Service:      labels["job"],
		Namespace:    labels["namespace"],
		GeneratorURL: firstOf(payload, "ruleUrl", "imageUrl"),
	}}
}
