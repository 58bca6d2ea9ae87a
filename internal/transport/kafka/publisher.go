package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
)

// MessageWriter — часть kafka.Writer, которой пользуется Publisher
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher публикует события сервиса в один топик
type Publisher struct {
	writer MessageWriter
	log    *slog.Logger
}

// NewPublisher создаёт писателя в topic
func NewPublisher(brokers []string, topic string, log *slog.Logger) *Publisher {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 10 * time.Millisecond,
	}
	return NewPublisherWithWriter(writer, log)
}

// NewPublisherWithWriter создаёт Publisher поверх готового писателя
func NewPublisherWithWriter(writer MessageWriter, log *slog.Logger) *Publisher {
	return &Publisher{writer: writer, log: log}
}

// PublishEvent сериализует событие в JSON и отправляет его с ключом key
func (p *Publisher) PublishEvent(ctx context.Context, key string, event any) error {
	const op = "transport.kafka.Publisher.PublishEvent"

	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if err := p.writer.WriteMessages(ctx, kafka.Message{Key: []byte(key), Value: value}); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	p.log.Debug("event published", slog.String("op", op), slog.String("key", key))
	return nil
}

// Close дожидается отправки буфера и закрывает соединения
func (p *Publisher) Close() error {
	return p.writer.Close()
}
