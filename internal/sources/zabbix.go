package sources

import (
	"strings"

	"alerthub/internal/models"
)

var zabbixProblemValues = map[string]bool{"1": true, "problem": true, "PROBLEM": true}

// severityFromText maps free-text severities onto the canonical enum.
// Anything unrecognised is treated as a warning.
func severityFromText(s string) models.Severity {
	switch strings.ToLower(s) {
	case "critical", "disaster", "fatal":
		return models.SeverityCritical
	case "high":
		return models.SeverityHigh
	case "warn", "warning":
		return models.SeverityWarning
	case "info", "information":
		return models.SeverityInfo
	default:
		return models.SeverityWarning
	}
}

// MapZabbix handles Zabbix media-type webhooks, which carry a single event.
// The whole payload is kept under the "raw" annotation.
func MapZabbix(payload map[string]any) []models.Alert {
	status := models.StatusResolved
	if zabbixProblemValues[firstOf(payload, "event_value", "value")] {
		status = models.StatusFiring
	}
	severityText := withDefault(firstOf(payload, "severity", "event_severity"), "warning")
	host := firstOf(payload, "host", "host_name")
	eventID := str(payload, "eventid")

	labels := map[string]string{
		"eventid":  eventID,
		"host":     host,
		"severity": strings.ToLower(severityText),
	}

	startsAt := timestamp(payload["event_time"])
	if startsAt == nil {
		startsAt = timestamp(payload["datetime"])
	}

	return []models.Alert{{
		Source:       "zabbix",
		ExternalID:   eventID,
		Status:       status,
		Severity:     severityFromText(severityText),
		Title:        withDefault(firstOf(payload, "subject", "event_name", "eventid"), "Zabbix Alert"),
		Description:  firstOf(payload, "message", "event_description"),
		Labels:       labels,
		Annotations:  map[string]any{"raw": payload},
		StartsAt:     startsAt,
		Resource:     host,
		Service:      firstOf(payload, "trigger_name", "item_name"),
		Metric:       firstOf(payload, "item_key", "metric"),
		GeneratorURL: firstOf(payload, "event_url", "trigger_url"),
	}}
}
