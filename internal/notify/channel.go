package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"coinpulse/config"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Channel delivers a rendered notification and returns the channel's message id.
type Channel interface {
	Send(ctx context.Context, to, subject, body string) (string, error)
}

// LogChannel writes notifications to the log. Used when no broker is configured.
type LogChannel struct {
	logger *zap.Logger
}

func NewLogChannel(logger *zap.Logger) *LogChannel {
	return &LogChannel{logger: logger.Named("notify-log")}
}

func (c *LogChannel) Send(ctx context.Context, to, subject, body string) (string, error) {
	id := uuid.NewString()
	c.logger.Info("notification",
		zap.String("message_id", id),
		zap.String("to", to),
		zap.String("subject", subject),
		zap.String("body", body),
	)
	return id, nil
}

// messageWriter is the part of *kafka.Writer the channel uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaMessage is the JSON payload published for each notification.
type KafkaMessage struct {
	ID      string    `json:"id"`
	To      string    `json:"to"`
	Subject string    `json:"subject"`
	Body    string    `json:"body"`
	SentAt  time.Time `json:"sent_at"`
}

// KafkaChannel publishes notifications to a topic for a downstream delivery
// service. Messages are keyed by recipient so one user's alerts stay ordered.
type KafkaChannel struct {
	writer messageWriter
	topic  string
	logger *zap.Logger
}

func NewKafkaChannel(cfg config.KafkaConfig, logger *zap.Logger) *KafkaChannel {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchSize:    100,
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
		Async:        false,
		Transport: &kafka.Transport{
			ClientID: cfg.ClientID,
		},
	}
	return newKafkaChannel(writer, cfg.Topic, logger)
}

func newKafkaChannel(w messageWriter, topic string, logger *zap.Logger) *KafkaChannel {
	return &KafkaChannel{writer: w, topic: topic, logger: logger.Named("notify-kafka")}
}

func (c *KafkaChannel) Send(ctx context.Context, to, subject, body string) (string, error) {
	msg := KafkaMessage{
		ID:      uuid.NewString(),
		To:      to,
		Subject: subject,
		Body:    body,
		SentAt:  time.Now().UTC(),
	}

	value, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("marshal notification: %w", err)
	}

	err = c.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(to),
		Value: value,
		Headers: []kafka.Header{
			{Key: "message-id", Value: []byte(msg.ID)},
		},
		Time: msg.SentAt,
	})
	if err != nil {
		c.logger.Error("failed to publish notification",
			zap.String("topic", c.topic),
			zap.String("key", to),
			zap.Error(err))
		return "", err
	}

	c.logger.Debug("notification published", zap.String("topic", c.topic), zap.String("message_id", msg.ID))
	return msg.ID, nil
}

func (c *KafkaChannel) Close() error {
	return c.writer.Close()
}
