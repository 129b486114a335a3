package models

import "time"

// AlertStatus 告警状态
type AlertStatus = string

const (
	StatusFiring       AlertStatus = "firing"
	StatusResolved     AlertStatus = "resolved"
	StatusAcknowledged AlertStatus = "acknowledged"
)

// Severity 告警级别
type Severity = string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityWarning  Severity = "warning"
	SeverityInfo     Severity = "info"
	SeverityOK       Severity = "ok"
)

// Alert is the canonical alert produced by source mappers. It has no identity
// until it is fingerprinted by the ingestion pipeline.
type Alert struct {
	Source       string            `json:"source"`
	ExternalID   string            `json:"external_id"`
	Status       AlertStatus       `json:"status"`
	Severity     Severity          `json:"severity"`
	Title        string            `json:"title"`
	Description  string            `json:"description"`
	Labels       map[string]string `json:"labels"`
	Annotations  map[string]any    `json:"annotations"`
	StartsAt     *time.Time        `json:"starts_at,omitempty"`
	EndsAt       *time.Time        `json:"ends_at,omitempty"`
	Resource     string            `json:"resource"`
	Service      string            `json:"service"`
	Metric       string            `json:"metric"`
	Namespace    string            `json:"namespace"`
	GeneratorURL string            `json:"generator_url"`
}

// AlertGroup 同一指纹的告警聚合
type AlertGroup struct {
	ID          uint64      `gorm:"primaryKey" json:"id"`
	Fingerprint string      `gorm:"size:64;uniqueIndex;not null" json:"fingerprint"`
	Status      AlertStatus `gorm:"size:16;not null;default:firing" json:"status"`
	Count       int64       `gorm:"not null;default:0" json:"count"`
	FirstSeen   time.Time   `json:"first_seen"`
	LastSeen    time.Time   `json:"last_seen"`

	Events []AlertEvent `gorm:"foreignKey:GroupID;constraint:OnDelete:CASCADE" json:"events,omitempty"`
}

func (AlertGroup) TableName() string {
	return "alert_group"
}

// AlertEvent is one immutable ingested occurrence.
type AlertEvent struct {
	ID           uint64            `gorm:"primaryKey" json:"id"`
	Source       string            `gorm:"size:32;index:idx_event_source_created,priority:1" json:"source"`
	ExternalID   string            `gorm:"size:128" json:"external_id"`
	Status       AlertStatus       `gorm:"size:16;not null" json:"status"`
	Severity     Severity          `gorm:"size:16;not null" json:"severity"`
	Title        string            `gorm:"size:255" json:"title"`
	Description  string            `gorm:"type:text" json:"description"`
	Labels       map[string]string `gorm:"serializer:json;type:text" json:"labels"`
	Annotations  map[string]any    `gorm:"serializer:json;type:text" json:"annotations"`
	Fingerprint  string            `gorm:"size:64;not null;index:idx_event_fp_created,priority:1" json:"fingerprint"`
	StartsAt     *time.Time        `json:"starts_at,omitempty"`
	EndsAt       *time.Time        `json:"ends_at,omitempty"`
	Resource     string            `gorm:"size:128" json:"resource"`
	Service      string            `gorm:"size:128" json:"service"`
	Metric       string            `gorm:"size:128" json:"metric"`
	Namespace    string            `gorm:"size:128" json:"namespace"`
	GeneratorURL string            `gorm:"size:500" json:"generator_url"`
	GroupID      uint64            `gorm:"not null;index" json:"group_id"`
	CreatedAt    time.Time         `gorm:"index:idx_event_fp_created,priority:2;index:idx_event_source_created,priority:2" json:"created_at"`
}

func (AlertEvent) TableName() string {
	return "alert_event"
}
