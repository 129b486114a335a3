package models

import "time"

// Condition is one predicate of a rule, e.g. {"path": "labels.severity", "op": "eq", "value": "critical"}.
type Condition struct {
	Path  string `json:"path"`
	Op    string `json:"op"`
	Value any    `json:"value"`
}

// Action holds the type-specific parameters of a rule action, keyed by "type".
// e.g. {"type": "email", "to": ["oncall@example.com"], "subject": "{{ title }}"}
type Action map[string]any

// Type returns the action type or "" when missing.
func (a Action) Type() string {
	t, _ := a["type"].(string)
	return t
}

// Rule 告警规则
type Rule struct {
	ID         uint64      `gorm:"primaryKey" json:"id"`
	Name       string      `gorm:"size:128;not null" json:"name"`
	Enabled    bool        `gorm:"not null" json:"enabled"`
	Conditions []Condition `gorm:"serializer:json;type:text" json:"conditions"`
	Actions    []Action    `gorm:"serializer:json;type:text" json:"actions"`
	Order      int         `gorm:"column:sort_order;not null;default:0;index" json:"order"`
	CreatedAt  time.Time   `json:"created_at"`
	UpdatedAt  time.Time   `json:"updated_at"`
}

func (Rule) TableName() string {
	return "rule"
}

// KBArticle 知识库文章
type KBArticle struct {
	ID       uint64   `gorm:"primaryKey" json:"id"`
	Title    string   `gorm:"size:200;not null" json:"title"`
	Pattern  string   `gorm:"size:500;not null" json:"pattern"` // regex over title and labels
	Solution string   `gorm:"type:text" json:"solution"`
	Tags     []string `gorm:"serializer:json;type:text" json:"tags"`
	Enabled  bool     `gorm:"not null" json:"enabled"`
	Priority int      `gorm:"not null;default:0" json:"priority"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (KBArticle) TableName() string {
	return "kb_article"
}
