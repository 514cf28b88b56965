// Package kafka publishes row change events to Kafka with a synchronous
// sarama producer.
//
// Each table gets a topic `prefix.schema_name.table_name`; the message key is
// the JSON encoded primary key (when the mutation addressed one row) so that
// changes to the same row land on the same partition. The message value is
// the JSON encoded events.Event, and the operation is repeated in an `op`
// header.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/IBM/sarama"
	"github.com/edgeflare/pgtable/pkg/events"
	"go.uber.org/zap"
)

// Topic returns the topic an event is published to.
func Topic(prefix string, e events.Event) string {
	return fmt.Sprintf("%s.%s.%s", prefix, e.Schema, e.Table)
}

// Message builds the producer message for e.
func Message(prefix string, e events.Event) (*sarama.ProducerMessage, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("marshal event: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic: Topic(prefix, e),
		Value: sarama.ByteEncoder(data),
		Headers: []sarama.RecordHeader{
			{Key: []byte("op"), Value: []byte(e.Op)},
			{Key: []byte("id"), Value: []byte(e.ID)},
		},
	}
	if len(e.Key) > 0 {
		key, err := json.Marshal(e.Key)
		if err != nil {
			return nil, fmt.Errorf("marshal key: %w", err)
		}
		msg.Key = sarama.ByteEncoder(key)
	}
	return msg, nil
}

// Sink publishes to Kafka.
type Sink struct {
	producer sarama.SyncProducer
	admin    sarama.ClusterAdmin
	config   Config
	logger   *zap.Logger

	mu     sync.Mutex
	topics map[string]bool // topics known to exist
}

// Open creates the producer, and the cluster admin when topics are created on demand.
func Open(_ context.Context, config Config, logger *zap.Logger) (*Sink, error) {
	config.setDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}

	conf, err := config.ToSaramaConfig()
	if err != nil {
		return nil, err
	}

	producer, err := sarama.NewSyncProducer(config.Brokers, conf)
	if err != nil {
		return nil, fmt.Errorf("create Kafka producer: %w", err)
	}

	s := &Sink{
		producer: producer,
		config:   config,
		logger:   logger.Named("kafka"),
		topics:   make(map[string]bool),
	}

	if config.CreateTopics {
		if s.admin, err = sarama.NewClusterAdmin(config.Brokers, conf); err != nil {
			producer.Close()
			return nil, fmt.Errorf("create cluster admin: %w", err)
		}
	}
	return s, nil
}

func (s *Sink) Publish(_ context.Context, e events.Event) error {
	msg, err := Message(s.config.TopicPrefix, e)
	if err != nil {
		return err
	}

	if err := s.ensureTopic(msg.Topic); err != nil {
		return err
	}

	partition, offset, err := s.producer.SendMessage(msg)
	if err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	s.logger.Debug("message produced",
		zap.String("topic", msg.Topic),
		zap.Int32("partition", partition),
		zap.Int64("offset", offset))
	return nil
}

func (s *Sink) ensureTopic(topic string) error {
	if s.admin == nil {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.topics[topic] {
		return nil
	}

	retention := fmt.Sprint(s.config.RetentionMS)
	err := s.admin.CreateTopic(topic, &sarama.TopicDetail{
		NumPartitions:     s.config.Partitions,
		ReplicationFactor: s.config.Replicas,
		ConfigEntries:     map[string]*string{"retention.ms": &retention},
	}, false)
	if err != nil && !errors.Is(err, sarama.ErrTopicAlreadyExists) {
		return fmt.Errorf("create topic %s: %w", topic, err)
	}
	if err == nil {
		s.logger.Info("created topic", zap.String("topic", topic))
	}
	s.topics[topic] = true
	return nil
}

func (s *Sink) Close() error {
	var errs []error
	if s.admin != nil {
		errs = append(errs, s.admin.Close())
	}
	errs = append(errs, s.producer.Close())
	return errors.Join(errs...)
}

func init() {
	events.Register(events.ConnectorKafka, func(ctx context.Context, raw map[string]any, logger *zap.Logger) (events.Publisher, error) {
		var cfg Config
		if err := events.Decode(raw, &cfg); err != nil {
			return nil, err
		}
		return Open(ctx, cfg, logger)
	})
}
