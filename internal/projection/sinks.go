package projection

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"

	"github.com/ashureev/screening-bot/internal/domain"
	"github.com/ashureev/screening-bot/internal/report"
)

// SummarySource provides the rows of the candidate export.
type SummarySource interface {
	CandidateSummaries(ctx context.Context) ([]domain.CandidateSummary, error)
}

// CSVSink re-renders the export file once per batch.
type CSVSink struct {
	path   string
	source SummarySource
}

// NewCSVSink creates a sink that keeps path current.
func NewCSVSink(path string, source SummarySource) *CSVSink {
	return &CSVSink{path: path, source: source}
}

// Name implements Sink.
func (s *CSVSink) Name() string { return "csv" }

// Apply implements Sink.
func (s *CSVSink) Apply(ctx context.Context, _ []domain.Change) error {
	summaries, err := s.source.CandidateSummaries(ctx)
	if err != nil {
		return fmt.Errorf("load summaries: %w", err)
	}
	return report.WriteCSVFile(s.path, summaries)
}

// NATSPublisher is the part of *nats.Conn used by NATSSink.
type NATSPublisher interface {
	Publish(subj string, data []byte) error
}

// NATSSink publishes each change as JSON on "<prefix>.<kind>".
type NATSSink struct {
	conn   NATSPublisher
	prefix string
}

// NewNATSSink creates a sink on an established connection.
func NewNATSSink(conn NATSPublisher, prefix string) *NATSSink {
	return &NATSSink{conn: conn, prefix: prefix}
}

// Name implements Sink.
func (s *NATSSink) Name() string { return "nats" }

// Subject returns the subject a change kind is published on.
func (s *NATSSink) Subject(kind domain.ChangeKind) string {
	return s.prefix + "." + string(kind)
}

// Apply implements Sink.
func (s *NATSSink) Apply(_ context.Context, batch []domain.Change) error {
	for _, change := range batch {
		data, err := json.Marshal(change)
		if err != nil {
			return fmt.Errorf("marshal change: %w", err)
		}
		if err := s.conn.Publish(s.Subject(change.Kind), data); err != nil {
			return fmt.Errorf("publish %s: %w", change.Kind, err)
		}
	}
	return nil
}

// ConnectNATS dials the server with reconnects enabled.
func ConnectNATS(url string, logger *slog.Logger) (*nats.Conn, error) {
	if logger == nil {
		logger = slog.Default()
	}
	conn, err := nats.Connect(url,
		nats.Name("screening-bot"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("NATS disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("NATS reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	logger.Info("connected to NATS", "url", url)
	return conn, nil
}
