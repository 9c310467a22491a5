package audit

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
)

type mockWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (m *mockWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if m.err != nil {
		return m.err
	}
	m.msgs = append(m.msgs, msgs...)
	return nil
}

func (m *mockWriter) Close() error {
	m.closed = true
	return nil
}

func TestKafkaSinkRecord(t *testing.T) {
	w := &mockWriter{}
	sink := &KafkaSink{writer: w, timeout: time.Second}
	err := sink.Record(context.Background(), Entry{Action: ActionMute, Actor: "a@c.us", Target: "b@c.us", ChatID: "g@g.us"})
	if err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	if len(w.msgs) != 1 || string(w.msgs[0].Key) != "g@g.us" {
		t.Fatalf("unexpected messages: %+v", w.msgs)
	}
	var e Entry
	if err := json.Unmarshal(w.msgs[0].Value, &e); err != nil {
		t.Fatal(err)
	}
	if e.Action != ActionMute || e.Time.IsZero() {
		t.Errorf("unexpected entry: %+v", e)
	}

	sink.Close()
	if !w.closed {
		t.Error("Close should close the writer")
	}
}

func TestKafkaSinkError(t *testing.T) {
	sink := &KafkaSink{writer: &mockWriter{err: errors.New("broker down")}, timeout: time.Second}
	if err := sink.Record(context.Background(), Entry{Action: ActionKick}); err == nil {
		t.Error("expected error from writer")
	}
}

func TestNewKafkaSinkRequiresBrokers(t *testing.T) {
	if _, err := NewKafkaSink(nil, ""); err == nil {
		t.Error("expected error without brokers")
	}
}
