package flowsink

import (
	"context"
	"fmt"

	"github.com/avast/retry-go/v4"

	"github.com/flowprobe/fprobe/internal/flowrecord"
)

// Publisher is the minimal interface a message-bus transport needs to
// expose. The wire format on top of it is deliberately left open, so
// callers supply their own producer (e.g. a Kafka or NATS client).
type Publisher interface {
	Publish(ctx context.Context, key []byte, payload []byte) error
}

// MessageBusSink publishes formatted records through a Publisher with
// bounded retries, replacing a bespoke Kafka reporter retry loop
// (plugins/reporter/kafka/kafka.go) with github.com/avast/retry-go/v4
// (from gchux-pcap-sidecar).
type MessageBusSink struct {
	pub       Publisher
	formatter Formatter
	attempts  uint
}

func NewMessageBusSink(pub Publisher, formatter Formatter, attempts uint) *MessageBusSink {
	if formatter == nil {
		formatter = JSONFormatter{}
	}
	if attempts == 0 {
		attempts = 3
	}
	return &MessageBusSink{pub: pub, formatter: formatter, attempts: attempts}
}

func (s *MessageBusSink) Write(ctx context.Context, rec *flowrecord.Record) error {
	payload, err := s.formatter.Format(rec)
	if err != nil {
		return fmt.Errorf("flowsink: format: %w", err)
	}
	key := rec.Key.SrcIP[:]

	return retry.Do(
		func() error { return s.pub.Publish(ctx, key, payload) },
		retry.Context(ctx),
		retry.Attempts(s.attempts),
	)
}

func (s *MessageBusSink) Close() error {
	if c, ok := s.pub.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}
