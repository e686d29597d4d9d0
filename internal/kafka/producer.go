package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/Dhoini/numgate/internal/domain"
	"github.com/Dhoini/numgate/pkg/logger"
	"github.com/segmentio/kafka-go"
)

// DefaultTopic получает все доменные события, тип события передается в
// заголовке.
const DefaultTopic = "numgate.events"

const headerEventType = "event_type"

// messageWriter часть kafka.Writer, которую использует producer
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// EventProducer публикует доменные события в топик Kafka
type EventProducer struct {
	writer       messageWriter
	topic        string
	writeTimeout time.Duration
	log          *logger.Logger
}

// NewEventProducer создает producer, пишущий в topic на brokers
func NewEventProducer(brokers []string, topic string, log *logger.Logger) (*EventProducer, error) {
	if len(brokers) == 0 {
		log.Errorw("Kafka brokers list is empty in config, cannot create producer")
		return nil, errors.New("kafka brokers are not configured")
	}
	if topic == "" {
		topic = DefaultTopic
	}

	// Хеширование ключа держит события пользователя в одной партиции по порядку
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchSize:    100,
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
		ReadTimeout:  10 * time.Second,
	}

	log.Infow("Kafka producer initialized", "brokers", brokers, "topic", topic)
	return newEventProducer(writer, topic, log), nil
}

func newEventProducer(w messageWriter, topic string, log *logger.Logger) *EventProducer {
	return &EventProducer{
		writer:       w,
		topic:        topic,
		writeTimeout: 5 * time.Second,
		log:          log,
	}
}

// Publish записывает одно событие с ключом по id пользователя
func (p *EventProducer) Publish(ctx context.Context, event domain.Event) error {
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("kafka: failed to marshal event: %w", err)
	}

	msg := kafka.Message{
		Key:     []byte(strconv.FormatInt(event.UserID, 10)),
		Value:   value,
		Time:    event.OccurredAt,
		Headers: []kafka.Header{{Key: headerEventType, Value: []byte(event.Type)}},
	}

	writeCtx, cancel := context.WithTimeout(ctx, p.writeTimeout)
	defer cancel()

	if err := p.writer.WriteMessages(writeCtx, msg); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("kafka: write timeout: %w", err)
		}
		return fmt.Errorf("kafka: failed to write message: %w", err)
	}

	p.log.Debugw("Published event", "topic", p.topic, "type", event.Type, "user_id", event.UserID)
	return nil
}

// Close сбрасывает буфер и закрывает writer
func (p *EventProducer) Close() error {
	p.log.Infow("Closing Kafka producer writer...")
	if err := p.writer.Close(); err != nil {
		p.log.Errorw("Failed to close Kafka writer", "error", err)
		return fmt.Errorf("kafka: failed to close writer: %w", err)
	}
	return nil
}
