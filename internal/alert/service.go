// Package alert executes rule actions (email and webhook) for alert events.
package alert

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"alerthub/internal/logger"
	"alerthub/internal/metrics"
	"alerthub/internal/models"

	"go.uber.org/zap"
)

// 派发结果
const (
	ResultSent    = "sent"
	ResultFailed  = "failed"
	ResultSkipped = "skipped"
)

// DefaultWebhookTimeout bounds one webhook delivery.
const DefaultWebhookTimeout = 10 * time.Second

// Dispatcher runs one action at a time against an event. Failures are logged
// and recorded but never returned: one action cannot affect another.
type Dispatcher struct {
	email    EmailSender
	webhook  WebhookPoster
	timeout  time.Duration
	auditDir string
	metrics  *metrics.Metrics
	log      *zap.Logger
}

type Option func(*Dispatcher)

func WithEmailSender(s EmailSender) Option { return func(d *Dispatcher) { d.email = s } }

func WithWebhookPoster(p WebhookPoster) Option { return func(d *Dispatcher) { d.webhook = p } }

// WithAuditDir enables the JSONL dispatch log under dir.
func WithAuditDir(dir string) Option { return func(d *Dispatcher) { d.auditDir = dir } }

func WithMetrics(m *metrics.Metrics) Option { return func(d *Dispatcher) { d.metrics = m } }

func WithWebhookTimeout(t time.Duration) Option { return func(d *Dispatcher) { d.timeout = t } }

// NewDispatcher creates a dispatcher. Without a poster, webhooks go through
// an HTTPPoster with the configured timeout; without a sender, email actions
// are recorded as failed.
func NewDispatcher(opts ...Option) *Dispatcher {
	d := &Dispatcher{
		timeout: DefaultWebhookTimeout,
		log:     logger.Named("alert"),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.webhook == nil {
		d.webhook = NewHTTPPoster(d.timeout)
	}
	return d
}

// Dispatch executes the rendered action params for event.
func (d *Dispatcher) Dispatch(ctx context.Context, params models.Action, event *models.AlertEvent) {
	action := ParseAction(params)
	entry := &logger.DispatchLogEntry{
		EventID:     event.ID,
		Fingerprint: event.Fingerprint,
		ActionType:  action.Type(),
		Params:      redactParams(params),
	}
	entry.RuleID, entry.RuleName, _ = RuleFromContext(ctx)

	defer func() {
		if r := recover(); r != nil {
			entry.Result = ResultFailed
			entry.Error = fmt.Sprintf("panic: %v", r)
			d.log.Error("action panicked", zap.Uint64("event_id", event.ID), zap.String("type", action.Type()), zap.Any("panic", r))
		}
		d.record(entry)
	}()

	switch a := action.(type) {
	case EmailAction:
		d.sendEmail(ctx, a, event, entry)
	case WebhookAction:
		d.postWebhook(ctx, a, event, entry)
	default:
		entry.Result = ResultSkipped
		entry.Error = "unknown action type"
		d.log.Warn("unknown action type", zap.String("type", action.Type()), zap.Uint64("event_id", event.ID))
	}
}

func (d *Dispatcher) sendEmail(ctx context.Context, a EmailAction, event *models.AlertEvent, entry *logger.DispatchLogEntry) {
	if len(a.To) == 0 {
		entry.Result = ResultSkipped
		return
	}
	entry.Target = strings.Join(a.To, ",")

	subject := a.Subject
	if subject == "" {
		subject = DefaultSubject(event)
	}
	body := a.Body
	if body == "" {
		body = DefaultBody(event)
	}

	if d.email == nil {
		entry.Result = ResultFailed
		entry.Error = "no email sender configured"
		d.log.Error("email action without sender", zap.Uint64("event_id", event.ID))
		return
	}
	if err := d.email.Send(ctx, a.To, subject, body); err != nil {
		entry.Result = ResultFailed
		entry.Error = err.Error()
		d.log.Error("failed to send email", zap.Strings("to", a.To), zap.Uint64("event_id", event.ID), zap.Error(err))
		return
	}
	entry.Result = ResultSent
	d.log.Info("sent email", zap.Strings("to", a.To), zap.Uint64("event_id", event.ID))
}

func (d *Dispatcher) postWebhook(ctx context.Context, a WebhookAction, event *models.AlertEvent, entry *logger.DispatchLogEntry) {
	if a.URL == "" {
		entry.Result = ResultSkipped
		return
	}
	entry.Target = redactURL(a.URL)

	var payload any = a.JSON
	if payload == nil {
		payload = DefaultPayload(event)
	}

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	status, err := d.webhook.Post(ctx, a.URL, payload, a.Headers)
	if err != nil {
		entry.Result = ResultFailed
		entry.Error = err.Error()
		d.log.Error("failed to post webhook",
			zap.String("url", a.URL),
			zap.Int("status", status),
			zap.Uint64("event_id", event.ID),
			zap.Error(err),
		)
		return
	}
	entry.Result = ResultSent
	d.log.Info("posted webhook", zap.String("url", a.URL), zap.Int("status", status), zap.Uint64("event_id", event.ID))
}

// Redacted replaces secrets in audit log entries.
const Redacted = "[REDACTED]"

// redactParams returns a copy of params safe to persist: webhook header
// values are masked (names kept) and URL user info is dropped.
func redactParams(params models.Action) map[string]any {
	out := make(map[string]any, len(params))
	for k, v := range params {
		out[k] = v
	}
	switch h := params["headers"].(type) {
	case map[string]any:
		masked := make(map[string]any, len(h))
		for name := range h {
			masked[name] = Redacted
		}
		out["headers"] = masked
	case map[string]string:
		masked := make(map[string]string, len(h))
		for name := range h {
			masked[name] = Redacted
		}
		out["headers"] = masked
	case nil:
	default:
		out["headers"] = Redacted
	}
	if u, ok := params["url"].(string); ok {
		out["url"] = redactURL(u)
	}
	return out
}

func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.User == nil {
		return raw
	}
	u.User = nil
	return u.String()
}

func (d *Dispatcher) record(entry *logger.DispatchLogEntry) {
	d.metrics.ActionDispatched(entry.ActionType, entry.Result)
	if d.auditDir == "" {
		return
	}
	entry.Timestamp = time.Now().UTC()
	if err := logger.WriteDispatchLog(d.auditDir, entry); err != nil {
		d.log.Warn("failed to write dispatch log", zap.Error(err))
	}
}
