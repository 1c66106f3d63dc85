package producer

import (
	"context"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"github.com/faultline/faultline/internal/config"
	"github.com/faultline/faultline/internal/store"
)

// Topic names in config.KafkaConfig.Topics.
const (
	TopicEvents  = "events"
	TopicChanges = "changes"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaProducer exports accepted events and change signals. It implements
// store.Notifier.
type KafkaProducer struct {
	writers map[string]messageWriter
}

// ChangeRecord is the value written to the changes topic.
type ChangeRecord struct {
	Changed bool   `json:"changed"`
	Reason  string `json:"reason,omitempty"`
	Removed int    `json:"removed,omitempty"`
	Size    int    `json:"size"`
	EventID string `json:"eventId,omitempty"`
	Time    int64  `json:"time"`
}

func NewKafkaProducer(cfg config.KafkaConfig) (*KafkaProducer, error) {
	writers := make(map[string]messageWriter)

	for name, topic := range cfg.Topics {
		writers[name] = &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			BatchSize:    100,
			BatchTimeout: time.Millisecond * 100,
			Async:        true,
			Completion: func(messages []kafka.Message, err error) {
				if err != nil {
					log.Warn().Err(err).Str("topic", topic).Int("messages", len(messages)).Msg("Kafka export failed")
				}
			},
		}
	}

	return &KafkaProducer{writers: writers}, nil
}

// LogChanged implements store.Notifier. Writers are async so this only
// enqueues.
func (p *KafkaProducer) LogChanged(ctx context.Context, c store.Change) {
	if c.Appended != nil {
		if err := p.produce(ctx, TopicEvents, []byte(c.Appended.ContextID.String()), c.Appended); err != nil {
			log.Warn().Err(err).Msg("Failed to export event")
		}
	}

	record := ChangeRecord{
		Changed: true,
		Reason:  c.Reason,
		Removed: c.Removed,
		Size:    c.Size,
		Time:    time.Now().UnixMilli(),
	}
	if c.Appended != nil {
		record.EventID = c.Appended.ID
	}
	if err := p.produce(ctx, TopicChanges, nil, record); err != nil {
		log.Warn().Err(err).Msg("Failed to export change signal")
	}
}

func (p *KafkaProducer) produce(ctx context.Context, name string, key []byte, v any) error {
	w, ok := p.writers[name]
	if !ok {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return w.WriteMessages(ctx, kafka.Message{Key: key, Value: data})
}

func (p *KafkaProducer) Close() error {
	for _, w := range p.writers {
		w.Close()
	}
	return nil
}
