package presencebus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"parley/cmd/internal/realtime"

	"github.com/segmentio/kafka-go"
)

const DefaultTopic = "presence.online"

// KafkaConfig selects the brokers and topic for the Kafka announcer.
type KafkaConfig struct {
	Brokers []string
	Topic   string
	// Key partitions the topic; every set from one process shares a partition.
	Key string
}

// messageWriter is the part of *kafka.Writer the announcer uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher implements realtime.Announcer on a Kafka topic.
type KafkaPublisher struct {
	w   messageWriter
	key []byte
	log *slog.Logger
	now func() time.Time
}

var _ realtime.Announcer = (*KafkaPublisher)(nil)

// NewKafkaPublisher builds a synchronous writer. Topics are auto-created when the broker allows it.
func NewKafkaPublisher(log *slog.Logger, cfg KafkaConfig) (*KafkaPublisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("presencebus: no Kafka brokers")
	}
	if strings.TrimSpace(cfg.Topic) == "" {
		cfg.Topic = DefaultTopic
	}
	if cfg.Key == "" {
		cfg.Key = "parley"
	}

	w := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		BatchTimeout:           10 * time.Millisecond,
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
	}

	log.Info("presencebus.kafka.ready", "brokers", strings.Join(cfg.Brokers, ","), "topic", cfg.Topic)
	return newKafkaPublisher(w, cfg.Key, log), nil
}

func newKafkaPublisher(w messageWriter, key string, log *slog.Logger) *KafkaPublisher {
	return &KafkaPublisher{
		w:   w,
		key: []byte(key),
		log: log,
		now: func() time.Time { return time.Now().UTC() },
	}
}

// Announce writes the online set as one Event message.
func (p *KafkaPublisher) Announce(ctx context.Context, online []string) error {
	if online == nil {
		online = []string{}
	}
	at := p.now()
	data, err := json.Marshal(Event{Online: online, Count: len(online), At: at})
	if err != nil {
		return err
	}

	err = p.w.WriteMessages(ctx, kafka.Message{
		Key:     p.key,
		Value:   data,
		Time:    at,
		Headers: []kafka.Header{{Key: "event_type", Value: []byte("presence.online")}},
	})
	if err != nil {
		return fmt.Errorf("presencebus: kafka write: %w", err)
	}
	return nil
}

// Close flushes and closes the writer.
func (p *KafkaPublisher) Close() error {
	return p.w.Close()
}
