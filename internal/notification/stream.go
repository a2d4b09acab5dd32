package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/frahmantamala/enrollment-payments/internal"
	"github.com/frahmantamala/enrollment-payments/internal/core/events"
)

// MessageWriter is satisfied by *kafka.Writer.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// SMSRequest is consumed by the messaging service that owns the SMS provider.
type SMSRequest struct {
	UserID    int64             `json:"user_id"`
	Template  string            `json:"template"`
	Reference string            `json:"reference,omitempty"`
	Params    map[string]string `json:"params,omitempty"`
	EventID   string            `json:"event_id"`
}

type streamEnvelope struct {
	ID         string      `json:"id"`
	Type       string      `json:"type"`
	OccurredAt time.Time   `json:"occurred_at"`
	Data       interface{} `json:"data"`
}

// Stream publishes domain events and SMS requests to Kafka. Topics are set per message so
// one writer serves both.
type Stream struct {
	writer       MessageWriter
	eventsTopic  string
	smsTopic     string
	writeTimeout time.Duration
	logger       *slog.Logger
}

func NewKafkaWriter(cfg internal.KafkaConfig) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		WriteTimeout:           cfg.WriteTimeout,
		AllowAutoTopicCreation: true,
	}
}

func NewStream(writer MessageWriter, cfg internal.KafkaConfig, logger *slog.Logger) *Stream {
	timeout := cfg.WriteTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Stream{
		writer:       writer,
		eventsTopic:  cfg.EventsTopic,
		smsTopic:     cfg.SMSTopic,
		writeTimeout: timeout,
		logger:       logger,
	}
}

// PublishEvent keys the message by key so every event for one payment lands on one partition.
func (s *Stream) PublishEvent(ctx context.Context, key string, event events.Event) error {
	return s.write(ctx, s.eventsTopic, key, streamEnvelope{
		ID:         event.EventID(),
		Type:       event.EventType(),
		OccurredAt: event.OccurredAt(),
		Data:       event.Payload(),
	})
}

func (s *Stream) PublishSMS(ctx context.Context, req SMSRequest) error {
	return s.write(ctx, s.smsTopic, fmt.Sprintf("user-%d", req.UserID), req)
}

func (s *Stream) write(ctx context.Context, topic, key string, value interface{}) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal %s message: %w", topic, err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.writeTimeout)
	defer cancel()

	if err := s.writer.WriteMessages(ctx, kafka.Message{
		Topic: topic,
		Key:   []byte(key),
		Value: payload,
	}); err != nil {
		return fmt.Errorf("write to %s: %w", topic, err)
	}
	s.logger.DebugContext(ctx, "kafka message written", "topic", topic, "key", key)
	return nil
}

func (s *Stream) Close() error {
	return s.writer.Close()
}
