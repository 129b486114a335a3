package alert

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"alerthub/internal/models"
)

// 动作类型
const (
	ActionEmail   = "email"
	ActionWebhook = "webhook"
)

// Action is a rendered rule action ready to execute.
type Action interface {
	Type() string
}

// EmailAction 邮件动作
type EmailAction struct {
	To      []string
	Subject string
	Body    string
}

func (EmailAction) Type() string { return ActionEmail }

// WebhookAction POSTs JSON to URL. A nil JSON means the default payload.
type WebhookAction struct {
	URL     string
	JSON    any
	Headers map[string]string
}

func (WebhookAction) Type() string { return ActionWebhook }

// UnknownAction carries a type the dispatcher cannot execute.
type UnknownAction struct {
	Name string
}

func (u UnknownAction) Type() string { return u.Name }

// ParseAction converts rendered action parameters into a typed action.
// Parameters of the wrong shape are treated as absent.
func ParseAction(params models.Action) Action {
	switch params.Type() {
	case ActionEmail:
		return EmailAction{
			To:      stringList(params["to"]),
			Subject: stringParam(params["subject"]),
			Body:    stringParam(params["body"]),
		}
	case ActionWebhook:
		a := WebhookAction{
			URL:     stringParam(params["url"]),
			Headers: map[string]string{},
		}
		if v, ok := params["json"]; ok && !empty(v) {
			a.JSON = v
		}
		if h, ok := params["headers"].(map[string]any); ok {
			for k, v := range h {
				a.Headers[k] = fmt.Sprint(v)
			}
		}
		if h, ok := params["headers"].(map[string]string); ok {
			for k, v := range h {
				a.Headers[k] = v
			}
		}
		return a
	default:
		return UnknownAction{Name: params.Type()}
	}
}

// DefaultSubject is used when an email action has no subject.
func DefaultSubject(event *models.AlertEvent) string {
	return fmt.Sprintf("[%s] %s", event.Severity, event.Title)
}

// DefaultBody is the event description, or its labels as JSON.
func DefaultBody(event *models.AlertEvent) string {
	if event.Description != "" {
		return event.Description
	}
	labels := event.Labels
	if labels == nil {
		labels = map[string]string{}
	}
	b, _ := json.Marshal(labels)
	return string(b)
}

// DefaultPayload is posted when a webhook action has no json parameter.
func DefaultPayload(event *models.AlertEvent) map[string]any {
	return map[string]any{"title": event.Title, "severity": event.Severity}
}

func stringParam(v any) string {
	s, _ := v.(string)
	return s
}

// stringList accepts a list or a single address. Comma separated strings
// are split.
func stringList(v any) []string {
	var raw []string
	switch t := v.(type) {
	case nil:
	case string:
		raw = strings.Split(t, ",")
	case []string:
		raw = t
	case []any:
		for _, item := range t {
			raw = append(raw, fmt.Sprint(item))
		}
	default:
		raw = []string{fmt.Sprint(t)}
	}

	out := make([]string, 0, len(raw))
	for _, s := range raw {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func empty(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == ""
	case map[string]any:
		return len(t) == 0
	case []any:
		return len(t) == 0
	}
	return false
}

type ruleKey struct{}

type ruleRef struct {
	id   uint64
	name string
}

// WithRule attaches the rule that produced the actions dispatched under ctx,
// for the audit log.
func WithRule(ctx context.Context, id uint64, name string) context.Context {
	return context.WithValue(ctx, ruleKey{}, ruleRef{id: id, name: name})
}

// RuleFromContext returns the rule set by WithRule.
func RuleFromContext(ctx context.Context) (uint64, string, bool) {
	r, ok := ctx.Value(ruleKey{}).(ruleRef)
	return r.id, r.name, ok
}
