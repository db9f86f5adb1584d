package ingest

import (
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"

	"zonealert/internal/config"
	"zonealert/internal/domain"
)

// NATSSubscriber consumes metric snapshots from a NATS subject and forwards
// them to the sink. A queue group spreads load across service replicas.
// Params: NATS connection, queue subscription, and snapshot sink.
// Returns: NATS ingest lifecycle handle.
type NATSSubscriber struct {
	nc     *nats.Conn
	sub    *nats.Subscription
	logger *slog.Logger
}

// NewNATSSubscriber creates a queue subscriber for snapshot ingestion.
// Params: ingest NATS config, sink, and logger.
// Returns: started subscriber or initialization error.
func NewNATSSubscriber(cfg config.NATSIngestConfig, sink SnapshotSink, logger *slog.Logger) (*NATSSubscriber, error) {
	nc, err := nats.Connect(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("connect nats ingest: %w", err)
	}

	subscriber := &NATSSubscriber{
		nc:     nc,
		logger: logger,
	}
	sub, err := nc.QueueSubscribe(cfg.Subject, cfg.QueueGroup, func(message *nats.Msg) {
		snapshots, decodeErr := domain.DecodeSnapshotBatch(message.Data)
		if decodeErr != nil {
			logger.Warn("nats ingest decode failed", "subject", message.Subject, "error", decodeErr.Error())
			return
		}
		if pushErr := sink.Push(snapshots); pushErr != nil {
			logger.Error("nats ingest push failed", "subject", message.Subject, "error", pushErr.Error())
		}
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("queue subscribe %q/%q: %w", cfg.Subject, cfg.QueueGroup, err)
	}
	subscriber.sub = sub
	return subscriber, nil
}

// Close stops the NATS subscription and closes the connection.
// Params: none.
// Returns: close error from subscription drain.
func (s *NATSSubscriber) Close() error {
	if s.sub != nil {
		if err := s.sub.Drain(); err != nil {
			s.nc.Close()
			return err
		}
	}
	s.nc.Close()
	return nil
}
