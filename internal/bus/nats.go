// Package bus publishes ingested alert events to NATS so other services can
// follow the stream without polling the database.
package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"alerthub/internal/config"
	"alerthub/internal/logger"
	"alerthub/internal/models"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

const (
	HeaderEventID      = "Alerthub-Event-Id"
	HeaderFingerprint  = "Alerthub-Fingerprint"
	HeaderDeduplicated = "Alerthub-Deduplicated"
)

// Publisher 事件发布器
type Publisher struct {
	nc     *nats.Conn
	prefix string
	log    *zap.Logger
}

// Connect 连接 NATS。未启用时返回 nil，nil *Publisher 的方法均为空操作。
func Connect(cfg config.NATSConfig) (*Publisher, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	log := logger.Named("bus")
	nc, err := nats.Connect(cfg.URL,
		nats.Name("alerthub"),
		nats.Timeout(2*time.Second),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn("nats disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info("nats reconnected", zap.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats %s: %w", cfg.URL, err)
	}
	return NewPublisher(nc, cfg.SubjectPrefix), nil
}

// NewPublisher wraps an existing connection.
func NewPublisher(nc *nats.Conn, prefix string) *Publisher {
	return &Publisher{nc: nc, prefix: prefix, log: logger.Named("bus")}
}

// Subject 事件主题：<prefix>.<source>
func (p *Publisher) Subject(source string) string {
	if source == "" {
		source = "custom"
	}
	return p.prefix + "." + source
}

// PublishEvent 发布一条事件，duplicate 标记该事件是否被去重跳过了规则评估
func (p *Publisher) PublishEvent(ctx context.Context, event *models.AlertEvent, duplicate bool) error {
	if p == nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event %d: %w", event.ID, err)
	}

	msg := nats.NewMsg(p.Subject(event.Source))
	msg.Data = data
	msg.Header.Set(HeaderEventID, strconv.FormatUint(event.ID, 10))
	msg.Header.Set(HeaderFingerprint, event.Fingerprint)
	msg.Header.Set(HeaderDeduplicated, strconv.FormatBool(duplicate))

	if err := p.nc.PublishMsg(msg); err != nil {
		return fmt.Errorf("publish event %d: %w", event.ID, err)
	}
	return nil
}

// Close 刷新并关闭连接
func (p *Publisher) Close() {
	if p == nil || p.nc == nil {
		return
	}
	if err := p.nc.Drain(); err != nil {
		p.log.Warn("nats drain failed", zap.Error(err))
		p.nc.Close()
	}
}
