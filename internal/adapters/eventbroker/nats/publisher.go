package nats

import (
	"back-to-origin/internal/config"
	"back-to-origin/internal/core/domain"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// Publisher publishes backfill requests and worker tasks to JetStream
type Publisher struct {
	logger *slog.Logger
	conn   *nats.Conn
	js     jetstream.JetStream
	config config.NATSConfig
}

// NewNATSPublisher connects a publisher
func NewNATSPublisher(cfg config.NATSConfig, name string, logger *slog.Logger) (*Publisher, error) {
	conn, js, err := connect(cfg, name, logger)
	if err != nil {
		return nil, err
	}
	return &Publisher{logger: logger, conn: conn, js: js, config: cfg}, nil
}

// EnsureStream provisions the backfill stream
func (p *Publisher) EnsureStream(ctx context.Context) error {
	return EnsureStream(ctx, p.js, p.config)
}

// PublishBackfill enqueues a backfill request. No deduplication is applied, the dispatcher absorbs repeats.
func (p *Publisher) PublishBackfill(ctx context.Context, req domain.BackfillRequest) error {
	data, err := json.Marshal(req)
	if err != nil {
		return err
	}
	if _, err := p.js.Publish(ctx, p.config.BackfillSubject, data); err != nil {
		return fmt.Errorf("publish backfill %s: %w", req.URI, err)
	}
	return nil
}

// PublishTask enqueues a worker task on the subject of its kind, deduplicated by the task identity
func (p *Publisher) PublishTask(ctx context.Context, task domain.Task) error {
	if err := task.Validate(); err != nil {
		return err
	}

	subject, err := p.subjectFor(task.Kind)
	if err != nil {
		return err
	}

	data, err := json.Marshal(task)
	if err != nil {
		return err
	}

	ack, err := p.js.Publish(ctx, subject, data, jetstream.WithMsgID(task.DedupID()))
	if err != nil {
		return fmt.Errorf("publish %s task: %w", task.Kind, err)
	}
	if ack.Duplicate {
		p.logger.Debug("task already queued", "kind", task.Kind, "msg_id", task.DedupID())
	}
	return nil
}

func (p *Publisher) subjectFor(kind domain.JobKind) (string, error) {
	switch kind {
	case domain.JobKindSingle:
		return p.config.SingleSubject, nil
	case domain.JobKindMultipart:
		return p.config.MultipartSubject, nil
	default:
		return "", fmt.Errorf("%w: %q", domain.ErrUnknownTaskKind, kind)
	}
}

// Close drains pending publishes and closes the connection
func (p *Publisher) Close() error {
	if p.conn == nil {
		return nil
	}
	return p.conn.Drain()
}
