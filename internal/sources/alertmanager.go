package sources

import "alerthub/internal/models"

// MapAlertmanager handles the Alertmanager webhook_config payload: a list of
// alerts plus the labels shared by all of them.
func MapAlertmanager(payload map[string]any) []models.Alert {
	common := stringMap(payload["commonLabels"])
	alerts := list(payload["alerts"])
	out := make([]models.Alert, 0, len(alerts))

	for _, raw := range alerts {
		a := object(raw)

		labels := make(map[string]string, len(common))
		for k, v := range common {
			labels[k] = v
		}
		for k, v := range stringMap(a["labels"]) {
			labels[k] = v
		}
		annotations := object(a["annotations"])

		metric := labels["__name__"]
		if metric == "" {
			metric = labels["alertname"]
		}

		out = append(out, models.Alert{
			Source:       "prometheus",
			ExternalID:   labels["alertname"],
			Status:       withDefault(str(a, "status"), models.StatusFiring),
			Severity:     withDefault(labels["severity"], models.SeverityWarning),
			Title:        withDefault(labels["alertname"], "Prometheus Alert"),
			Description:  firstOf(annotations, "description", "summary"),
			Labels:       labels,
			Annotations:  annotations,
			StartsAt:     timestamp(a["startsAt"]),
			EndsAt:       timestamp(a["endsAt"]),
			Resource:     labels["instance"],
			Service:      labels["job"],
			Metric:       metric,
			Namespace:    labels["namespace"],
			GeneratorURL: str(a, "generatorURL"),
		})
	}
	return out
}
