package server

import (
	"fmt"
	"regexp"
	"time"

	"alerthub/internal/models"
)

// RuleRequest is the body of rules/add and rules/update.
type RuleRequest struct {
	Name       string             `json:"name" binding:"required"`
	Enabled    *bool              `json:"enabled"` // defaults to true
	Conditions []models.Condition `json:"conditions"`
	Actions    []models.Action    `json:"actions"`
	Order      int                `json:"order"`
}

// ArticleRequest is the body of kb/add.
type ArticleRequest struct {
	Title    string   `json:"title" binding:"required"`
	Pattern  string   `json:"pattern" binding:"required"`
	Solution string   `json:"solution"`
	Tags     []string `json:"tags"`
	Enabled  *bool    `json:"enabled"` // defaults to true
	Priority int      `json:"priority"`
}

// ConvertRuleRequest 将 RuleRequest 转换为数据库模型
func ConvertRuleRequest(req RuleRequest) *models.Rule {
	rule := &models.Rule{
		Name:       req.Name,
		Enabled:    boolOr(req.Enabled, true),
		Conditions: req.Conditions,
		Actions:    req.Actions,
		Order:      req.Order,
	}
	if rule.Conditions == nil {
		rule.Conditions = []models.Condition{}
	}
	if rule.Actions == nil {
		rule.Actions = []models.Action{}
	}
	return rule
}

// ConvertArticleRequest rejects patterns the suggester could never use.
func ConvertArticleRequest(req ArticleRequest) (*models.KBArticle, error) {
	if _, err := regexp.Compile(req.Pattern); err != nil {
		return nil, fmt.Errorf("invalid pattern: %w", err)
	}
	tags := req.Tags
	if tags == nil {
		tags = []string{}
	}
	return &models.KBArticle{
		Title:    req.Title,
		Pattern:  req.Pattern,
		Solution: req.Solution,
		Tags:     tags,
		Enabled:  boolOr(req.Enabled, true),
		Priority: req.Priority,
	}, nil
}

func boolOr(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}

func unixPtr(ts *int64) *time.Time {
	if ts == nil {
		return nil
	}
	t := time.Unix(*ts, 0).UTC()
	return &t
}
