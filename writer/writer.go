package writer

import (
	"context"
	"errors"
	"fmt"

	appconfig "marketpipe/config"
	"marketpipe/logger"
	"marketpipe/models"
)

// ErrPublisherClosed is returned by Publish after Close.
var ErrPublisherClosed = errors.New("publisher closed")

// Publisher forwards single points to a streaming transport. Publish hands
// the message to the client and returns without waiting for delivery.
type Publisher interface {
	Publish(ctx context.Context, topic string, p models.DataPoint) error
	Close() error
}

// BatchStore persists a flushed batch as one unit.
type BatchStore interface {
	StoreBatch(ctx context.Context, points []models.DataPoint) error
	Close() error
}

// QualityRecorder is implemented by stores that keep data-quality summaries.
type QualityRecorder interface {
	StoreQualityMetrics(ctx context.Context, report models.QualityReport) error
}

// NopPublisher discards everything. Used when streaming is disabled.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, string, models.DataPoint) error { return nil }
func (NopPublisher) Close() error                                            { return nil }

// NewPublisher builds the streaming publisher selected by cfg.Streaming.
func NewPublisher(cfg *appconfig.Config, log *logger.Log) (Publisher, error) {
	if !cfg.Streaming.Enabled {
		return NopPublisher{}, nil
	}
	switch cfg.Streaming.Driver {
	case "kafka", "":
		return NewKafkaPublisher(cfg.Streaming.Kafka, log)
	case "nats":
		return NewNATSPublisher(cfg.Streaming.NATS, log)
	default:
		return nil, fmt.Errorf("unknown streaming driver %q", cfg.Streaming.Driver)
	}
}

// Stores holds the primary batch store and any secondary ones.
type Stores struct {
	Primary BatchStore
	Extra   []BatchStore
}

// NewStores opens every enabled batch store. Already opened stores are
// closed if a later one fails.
func NewStores(ctx context.Context, cfg *appconfig.Config, log *logger.Log) (*Stores, error) {
	s := &Stores{}
	if cfg.Storage.PostgreSQL.Enabled {
		pg, err := NewPostgresStore(cfg.Storage.PostgreSQL, log)
		if err != nil {
			return nil, err
		}
		s.Primary = pg
	}
	if cfg.Storage.S3.Enabled {
		archive, err := NewS3Archive(ctx, cfg.Storage.S3, log)
		if err != nil {
			s.Close()
			return nil, err
		}
		s.Extra = append(s.Extra, archive)
	}
	if cfg.Storage.Redis.Enabled {
		cache, err := NewRedisCache(ctx, cfg.Storage.Redis, log)
		if err != nil {
			s.Close()
			return nil, err
		}
		s.Extra = append(s.Extra, cache)
	}
	return s, nil
}

func (s *Stores) Close() {
	if s.Primary != nil {
		_ = s.Primary.Close()
	}
	for _, st := range s.Extra {
		_ = st.Close()
	}
}
