// Package event 将媒体与稿件状态变更推送到 NATS JetStream。
// 未配置或连接失败时使用空实现，发布失败只记录日志，不影响业务。
package event

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

const (
	SubjectMediaUploaded        = "newsdesk.media.uploaded"
	SubjectMediaDeleted         = "newsdesk.media.deleted"
	SubjectArticleStatusChanged = "newsdesk.articles.status_changed"

	streamName    = "NEWSDESK"
	schemaVersion = 1
)

// Publisher 发布领域事件。
type Publisher interface {
	Publish(ctx context.Context, subject string, payload any) error
	Close() error
}

// Envelope 是所有事件的统一外层结构。
type Envelope struct {
	Type       string    `json:"type"`
	Version    int       `json:"version"`
	OccurredAt time.Time `json:"occurredAt"`
	Payload    any       `json:"payload"`
}

// NewEnvelope 包装负载。
func NewEnvelope(subject string, payload any) Envelope {
	return Envelope{
		Type:       subject,
		Version:    schemaVersion,
		OccurredAt: time.Now().UTC(),
		Payload:    payload,
	}
}

// Noop 丢弃所有事件。
type Noop struct{}

func (Noop) Publish(context.Context, string, any) error { return nil }
func (Noop) Close() error                               { return nil }

type natsPublisher struct {
	nc  *nats.Conn
	js  nats.JetStreamContext
	log zerolog.Logger
}

// Connect 连接 NATS 并确保 stream 存在；url 为空或任何一步失败时返回 Noop。
func Connect(url string, log zerolog.Logger) Publisher {
	log = log.With().Str("component", "event").Logger()
	if url == "" {
		return Noop{}
	}

	nc, err := nats.Connect(url, nats.Name("newsdesk"), nats.Timeout(5*time.Second))
	if err != nil {
		log.Warn().Err(err).Msg("nats connect failed, events disabled")
		return Noop{}
	}
	js, err := nc.JetStream()
	if err != nil {
		log.Warn().Err(err).Msg("jetstream unavailable, events disabled")
		nc.Close()
		return Noop{}
	}
	if _, err := js.StreamInfo(streamName); err != nil {
		_, err = js.AddStream(&nats.StreamConfig{
			Name:      streamName,
			Subjects:  []string{"newsdesk.>"},
			Retention: nats.LimitsPolicy,
			MaxAge:    7 * 24 * time.Hour,
			Discard:   nats.DiscardOld,
			Storage:   nats.FileStorage,
		})
		if err != nil {
			log.Warn().Err(err).Msg("create stream failed, events disabled")
			nc.Close()
			return Noop{}
		}
	}

	log.Info().Str("url", url).Msg("event publisher connected")
	return &natsPublisher{nc: nc, js: js, log: log}
}

func (p *natsPublisher) Publish(ctx context.Context, subject string, payload any) error {
	data, err := json.Marshal(NewEnvelope(subject, payload))
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if _, err := p.js.Publish(subject, data, nats.Context(ctx)); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}

func (p *natsPublisher) Close() error {
	if err := p.nc.Drain(); err != nil {
		p.nc.Close()
		return err
	}
	return nil
}

// Emit 发布事件，失败只记录 warn。
func Emit(ctx context.Context, pub Publisher, log zerolog.Logger, subject string, payload any) {
	if pub == nil {
		return
	}
	if err := pub.Publish(ctx, subject, payload); err != nil {
		log.Warn().Err(err).Str("subject", subject).Msg("event publish failed")
	}
}
