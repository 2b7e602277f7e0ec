package writer

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/nats-io/nats.go"

	appconfig "marketpipe/config"
	"marketpipe/logger"
	"marketpipe/models"
)

type natsConn interface {
	Publish(subject string, data []byte) error
	Drain() error
}

// NATSPublisher publishes points over core NATS. The subject is the topic
// name. Core NATS gives no delivery acknowledgement.
type NATSPublisher struct {
	conn   natsConn
	log    *logger.Log
	closed atomic.Bool
}

func NewNATSPublisher(cfg appconfig.NATSConfig, log *logger.Log) (*NATSPublisher, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("nats url not configured")
	}
	if log == nil {
		log = logger.GetLogger()
	}
	entry := log.WithComponent("nats_writer")

	opts := []nats.Option{
		nats.Name(cfg.ClientID),
		nats.Timeout(cfg.ConnectTimeout),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.RetryOnFailedConnect(true),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				entry.WithError(err).Warn("nats disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			entry.WithField("url", nc.ConnectedUrl()).Info("nats reconnected")
		}),
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connection failed: %w", err)
	}
	entry.WithField("url", cfg.URL).Info("nats publisher connected")

	return &NATSPublisher{conn: nc, log: log}, nil
}

func (np *NATSPublisher) Publish(_ context.Context, topic string, p models.DataPoint) error {
	if np.closed.Load() {
		return ErrPublisherClosed
	}
	data, err := p.MarshalRecord()
	if err != nil {
		return fmt.Errorf("marshal point: %w", err)
	}
	if err := np.conn.Publish(topic, data); err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	return nil
}

// Close drains buffered messages before closing the connection.
func (np *NATSPublisher) Close() error {
	if !np.closed.CompareAndSwap(false, true) {
		return nil
	}
	np.log.WithComponent("nats_writer").Debug("draining nats connection")
	return np.conn.Drain()
}
