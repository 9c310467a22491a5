// Package audit records moderation actions to an external sink.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
)

// DefaultTopic is the Kafka topic used when none is configured.
const DefaultTopic = "chatwarden-audit"

// Action names recorded by the bot.
const (
	ActionMute        = "mute"
	ActionUnmute      = "unmute"
	ActionKick        = "kick"
	ActionGrantAdmin  = "grant_admin"
	ActionRevokeAdmin = "revoke_admin"
	ActionDeleteMuted = "delete_muted"
	ActionDashUnmute  = "dashboard_unmute"
	ActionGreetingRun = "greeting_run"
)

// Entry is one audited action.
type Entry struct {
	Action string    `json:"action"`
	Actor  string    `json:"actor,omitempty"`
	Target string    `json:"target,omitempty"`
	ChatID string    `json:"chatId,omitempty"`
	Detail string    `json:"detail,omitempty"`
	Time   time.Time `json:"time"`
}

// Sink receives audit entries. Implementations must not block handlers for long.
type Sink interface {
	Record(ctx context.Context, e Entry) error
	Close() error
}

// LogSink writes entries to the structured log. It is the default sink.
type LogSink struct{}

func (LogSink) Record(ctx context.Context, e Entry) error {
	slog.Info("Audit", "action", e.Action, "actor", e.Actor, "target", e.Target, "chat", e.ChatID, "detail", e.Detail)
	return nil
}

func (LogSink) Close() error { return nil }

// messageWriter is the part of *kafka.Writer the sink uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink publishes JSON entries keyed by chat id.
type KafkaSink struct {
	writer  messageWriter
	timeout time.Duration
}

// NewKafkaSink creates a sink writing to topic on the given brokers.
func NewKafkaSink(addrs []string, topic string) (*KafkaSink, error) {
	if len(addrs) == 0 {
		return nil, fmt.Errorf("audit: no kafka brokers configured")
	}
	if topic == "" {
		topic = DefaultTopic
	}
	w := kafka.NewWriter(kafka.WriterConfig{
		Brokers:  addrs,
		Topic:    topic,
		Balancer: &kafka.LeastBytes{},
	})
	slog.Info("KafkaSink created", "brokers", addrs, "topic", topic)
	return &KafkaSink{writer: w, timeout: 5 * time.Second}, nil
}

func (k *KafkaSink) Record(ctx context.Context, e Entry) error {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	value, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("audit: marshal entry: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, k.timeout)
	defer cancel()
	if err := k.writer.WriteMessages(ctx, kafka.Message{Key: []byte(e.ChatID), Value: value}); err != nil {
		return fmt.Errorf("audit: write to kafka: %w", err)
	}
	return nil
}

func (k *KafkaSink) Close() error {
	return k.writer.Close()
}
