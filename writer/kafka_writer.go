package writer

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"

	kafka "github.com/segmentio/kafka-go"

	appconfig "marketpipe/config"
	"marketpipe/logger"
	"marketpipe/models"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type topicCreator func(ctx context.Context, topic string) error

// KafkaPublisher publishes points asynchronously, one topic per symbol,
// keyed by symbol. Topics are created on first use.
type KafkaPublisher struct {
	cfg     appconfig.KafkaConfig
	writer  messageWriter
	create  topicCreator
	log     *logger.Log
	mu      sync.Mutex
	topics  map[string]struct{}
	closed  atomic.Bool
	failed  int64
	written int64
}

func NewKafkaPublisher(cfg appconfig.KafkaConfig, log *logger.Log) (*KafkaPublisher, error) {
	if len(cfg.BootstrapServers) == 0 {
		return nil, fmt.Errorf("kafka brokers not configured")
	}
	if log == nil {
		log = logger.GetLogger()
	}

	kp := &KafkaPublisher{
		cfg:    cfg,
		log:    log,
		topics: make(map[string]struct{}),
	}

	kp.writer = &kafka.Writer{
		Addr:         kafka.TCP(cfg.BootstrapServers...),
		Balancer:     &kafka.Hash{},
		Compression:  compressionCodec(cfg.Compression),
		BatchBytes:   cfg.BatchBytes,
		BatchTimeout: cfg.Linger,
		MaxAttempts:  cfg.Retries,
		RequiredAcks: kafka.RequiredAcks(cfg.Acks),
		Async:        true,
		Completion:   kp.completion,
	}
	kp.create = kp.createTopic

	log.WithComponent("kafka_writer").WithFields(logger.Fields{
		"brokers":     cfg.BootstrapServers,
		"compression": cfg.Compression,
		"linger":      cfg.Linger.String(),
	}).Debug("kafka publisher initialized")
	return kp, nil
}

func compressionCodec(name string) kafka.Compression {
	switch name {
	case "gzip":
		return kafka.Gzip
	case "snappy":
		return kafka.Snappy
	case "lz4":
		return kafka.Lz4
	case "zstd":
		return kafka.Zstd
	default:
		return 0
	}
}

func (kp *KafkaPublisher) completion(msgs []kafka.Message, err error) {
	if err != nil {
		atomic.AddInt64(&kp.failed, int64(len(msgs)))
		topic := ""
		if len(msgs) > 0 {
			topic = msgs[0].Topic
		}
		kp.log.WithComponent("kafka_writer").WithError(err).WithFields(logger.Fields{
			"topic":    topic,
			"messages": len(msgs),
		}).Warn("failed to deliver messages")
		return
	}
	atomic.AddInt64(&kp.written, int64(len(msgs)))
}

// Publish queues p on topic. A nil error means the client accepted the
// message, not that the broker acknowledged it.
func (kp *KafkaPublisher) Publish(ctx context.Context, topic string, p models.DataPoint) error {
	if kp.closed.Load() {
		return ErrPublisherClosed
	}
	kp.ensureTopic(ctx, topic)

	value, err := p.MarshalRecord()
	if err != nil {
		return fmt.Errorf("marshal point: %w", err)
	}
	msg := kafka.Message{
		Topic: topic,
		Key:   []byte(p.Symbol),
		Value: value,
	}
	if err := kp.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("write to %s: %w", topic, err)
	}
	return nil
}

// ensureTopic creates topic once. A failed create is logged and not retried;
// the broker may still auto-create the topic on first write.
func (kp *KafkaPublisher) ensureTopic(ctx context.Context, topic string) {
	kp.mu.Lock()
	if _, ok := kp.topics[topic]; ok {
		kp.mu.Unlock()
		return
	}
	kp.topics[topic] = struct{}{}
	kp.mu.Unlock()

	if err := kp.create(ctx, topic); err != nil {
		kp.log.WithComponent("kafka_writer").WithError(err).WithField("topic", topic).Warn("failed to create topic")
		return
	}
	kp.log.WithComponent("kafka_writer").WithField("topic", topic).Debug("topic ready")
}

func (kp *KafkaPublisher) createTopic(ctx context.Context, topic string) error {
	dialer := &kafka.Dialer{Timeout: kp.cfg.DialTimeout}

	var conn *kafka.Conn
	var err error
	for _, addr := range kp.cfg.BootstrapServers {
		conn, err = dialer.DialContext(ctx, "tcp", addr)
		if err == nil {
			break
		}
	}
	if err != nil {
		return fmt.Errorf("dial brokers: %w", err)
	}
	defer conn.Close()

	controller, err := conn.Controller()
	if err != nil {
		return fmt.Errorf("find controller: %w", err)
	}
	ctrl, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
	if err != nil {
		return fmt.Errorf("dial controller: %w", err)
	}
	defer ctrl.Close()

	err = ctrl.CreateTopics(kafka.TopicConfig{
		Topic:             topic,
		NumPartitions:     kp.cfg.Partitions,
		ReplicationFactor: kp.cfg.ReplicationFactor,
	})
	if err != nil && !errors.Is(err, kafka.TopicAlreadyExists) {
		return err
	}
	return nil
}

// Stats returns delivered and failed message counts reported by the client.
func (kp *KafkaPublisher) Stats() (written, failed int64) {
	return atomic.LoadInt64(&kp.written), atomic.LoadInt64(&kp.failed)
}

// Close flushes pending messages and releases the client.
func (kp *KafkaPublisher) Close() error {
	if !kp.closed.CompareAndSwap(false, true) {
		return nil
	}
	kp.log.WithComponent("kafka_writer").Debug("closing kafka publisher")
	return kp.writer.Close()
}
