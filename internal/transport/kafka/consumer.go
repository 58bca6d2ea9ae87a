package kafka

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/asquebay/farm-market/internal/lib/logger"

	"github.com/cenkalti/backoff/v5"
	"github.com/segmentio/kafka-go"
)

const (
	defaultRetryInitial = 200 * time.Millisecond
	defaultRetryMax     = 30 * time.Second
)

// MessageHandler обрабатывает одно сообщение топика
// nil означает, что сообщение можно подтвердить, в том числе если оно было пропущено как невалидное
type MessageHandler interface {
	HandleMessage(ctx context.Context, msg kafka.Message) error
}

// MessageReader — часть kafka.Reader, которой пользуется консьюмер
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer представляет собой консьюмер сообщений Kafka
type Consumer struct {
	reader       MessageReader
	handler      MessageHandler
	topic        string
	retryInitial time.Duration
	retryMax     time.Duration
	log          *slog.Logger
}

// ConsumerOption настраивает Consumer
type ConsumerOption func(*Consumer)

// WithRetryBackoff задаёт паузы между повторными попытками обработать сообщение
func WithRetryBackoff(initial, maxInterval time.Duration) ConsumerOption {
	return func(c *Consumer) {
		c.retryInitial = initial
		c.retryMax = maxInterval
	}
}

// NewConsumer создает новый экземпляр консьюмера
func NewConsumer(brokers []string, topic, groupID string, handler MessageHandler, log *slog.Logger, opts ...ConsumerOption) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers: brokers,
		GroupID: groupID,
		Topic:   topic,
	})

	return NewConsumerWithReader(reader, topic, handler, log, opts...)
}

// NewConsumerWithReader создаёт консьюмер поверх готового ридера
func NewConsumerWithReader(reader MessageReader, topic string, handler MessageHandler, log *slog.Logger, opts ...ConsumerOption) *Consumer {
	c := &Consumer{
		reader:       reader,
		handler:      handler,
		topic:        topic,
		retryInitial: defaultRetryInitial,
		retryMax:     defaultRetryMax,
		log:          log,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run запускает цикл чтения сообщений из Kafka
// эта функция блокирующая, поэтому она запускается в отдельной горутине
func (c *Consumer) Run(ctx context.Context) {
	log := c.log.With(slog.String("component", "kafka_consumer"), slog.String("topic", c.topic))
	log.Info("Kafka consumer started")

	for {
		// проверка на отмену контекста
		select {
		case <-ctx.Done():
			log.Info("Context cancelled, stopping consumer.")
			return
		default:
		}

		// FetchMessage блокирует до тех пор, пока не придет новое сообщение или не возникнет ошибка
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			// если контекст был отменен во время ожидания, это нормальное завершение
			if errors.Is(err, context.Canceled) {
				return
			}
			// если ридер был закрыт, тоже выходим
			if errors.Is(err, io.EOF) {
				log.Info("Kafka reader closed")
				return
			}
			log.Error("failed to fetch message", logger.Err(err))
			continue // пробуем снова
		}

		log.Debug("received message",
			slog.Int("partition", msg.Partition),
			slog.Int64("offset", msg.Offset),
		)

		// 1. Обрабатываем, повторяя до успеха
		// следующее сообщение не читаем: его коммит сдвинул бы offset за необработанное
		if err := c.handle(ctx, log, msg); err != nil {
			log.Info("Context cancelled while retrying message", slog.Int64("offset", msg.Offset))
			return
		}

		// 2. Всё прошло — фиксируем offset
		// это ВАЖНО сделать ПОСЛЕ успешной обработки
		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			log.Error("failed to commit message", logger.Err(err))
		}
	}
}

// handle вызывает обработчик с экспоненциальной паузой между попытками
// ошибка возвращается только при отмене контекста
func (c *Consumer) handle(ctx context.Context, log *slog.Logger, msg kafka.Message) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.retryInitial
	b.MaxInterval = c.retryMax
	b.Reset()

	for attempt := 1; ; attempt++ {
		err := c.handler.HandleMessage(ctx, msg)
		if err == nil {
			return nil
		}

		wait := b.NextBackOff()
		log.Error("failed to handle message, will retry",
			logger.Err(err),
			slog.Int64("offset", msg.Offset),
			slog.Int("attempt", attempt),
			slog.Duration("retry_in", wait),
		)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// Close — graceful shutdown консьюмера
func (c *Consumer) Close() error {
	c.log.Info("Closing kafka consumer", slog.String("topic", c.topic))
	return c.reader.Close()
}
