package nats

import (
	"back-to-origin/internal/config"
	"back-to-origin/internal/core/domain"
	"back-to-origin/internal/core/port"
	"back-to-origin/internal/metrics"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

const (
	headerOriginSubject = "Backfill-Origin-Subject"
	headerError         = "Backfill-Error"
	maxNakDelay         = time.Minute
)

// ConsumerOptions selects the subject a consumer reads and how many messages it may hold unacked.
// BatchSize bounds the messages buffered by this process, 1 means strictly one at a time.
type ConsumerOptions struct {
	Durable       string
	Subject       string
	MaxAckPending int
	BatchSize     int
}

// Consumer is a struct to interact with nats
type Consumer struct {
	logger  *slog.Logger
	conn    *nats.Conn
	js      jetstream.JetStream
	config  config.NATSConfig
	opts    ConsumerOptions
	metrics *metrics.Metrics
	iter    jetstream.MessagesContext
	wg      sync.WaitGroup
}

func connect(cfg config.NATSConfig, name string, logger *slog.Logger) (*nats.Conn, jetstream.JetStream, error) {
	opts := []nats.Option{
		nats.Name(name),
		nats.ReconnectWait(2 * time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logger.Warn("NATS disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected", "url", nc.ConnectedUrl())
		}),
	}
	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("failed to connect to JetStream: %w", err)
	}
	return conn, js, nil
}

// EnsureStream creates or updates the stream carrying every backfill subject
func EnsureStream(ctx context.Context, js jetstream.JetStream, cfg config.NATSConfig) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:       cfg.StreamName,
		Subjects:   []string{cfg.BackfillSubject, cfg.SingleSubject, cfg.MultipartSubject, cfg.DeadLetter},
		Retention:  jetstream.LimitsPolicy,
		Storage:    jetstream.FileStorage,
		MaxAge:     cfg.Retention,
		Duplicates: cfg.DuplicateWindow,
	})
	if err != nil {
		return fmt.Errorf("failed to ensure stream %s: %w", cfg.StreamName, err)
	}
	return nil
}

// NewNATSConsumer creates a new consumer
func NewNATSConsumer(cfg config.NATSConfig, opts ConsumerOptions, logger *slog.Logger, m *metrics.Metrics) (*Consumer, error) {
	if opts.Durable == "" || opts.Subject == "" {
		return nil, errors.New("consumer requires a durable name and a subject")
	}

	conn, js, err := connect(cfg, opts.Durable, logger)
	if err != nil {
		return nil, err
	}

	return &Consumer{
		conn:    conn,
		js:      js,
		config:  cfg,
		opts:    opts,
		metrics: m,
		logger:  logger.With("subject", opts.Subject, "consumer", opts.Durable),
	}, nil
}

// Subscribe subscribes to stream and handles messages
func (n *Consumer) Subscribe(ctx context.Context, handler port.MessageService) error {
	if err := EnsureStream(ctx, n.js, n.config); err != nil {
		return err
	}

	consumerCfg := jetstream.ConsumerConfig{
		Durable:       n.opts.Durable,
		AckPolicy:     jetstream.AckExplicitPolicy,
		FilterSubject: n.opts.Subject,
		AckWait:       n.config.AckWait,
		MaxDeliver:    n.config.MaxDeliver,
		MaxAckPending: n.opts.MaxAckPending,
	}

	cons, err := n.js.CreateOrUpdateConsumer(ctx, n.config.StreamName, consumerCfg)
	if err != nil {
		return err
	}

	var pullOpts []jetstream.PullMessagesOpt
	if n.opts.BatchSize > 0 {
		pullOpts = append(pullOpts, jetstream.PullMaxMessages(n.opts.BatchSize))
	}

	iter, err := cons.Messages(pullOpts...)
	if err != nil {
		return err
	}
	n.iter = iter

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		n.logger.Info("NATS subscription started")
		for {
			select {
			case <-ctx.Done():
				n.logger.Info("NATS subscription stopped")
				return
			default:
				msg, err := iter.Next()
				if err != nil {
					if ctx.Err() != nil || errors.Is(err, jetstream.ErrMsgIteratorClosed) {
						n.logger.Info("NATS subscription stopped")
						return
					}
					n.logger.Error("failed to receive message", "error", err)
					return
				}
				n.handle(ctx, handler, msg)
			}
		}
	}()
	return nil
}

func (n *Consumer) handle(ctx context.Context, handler port.MessageService, msg jetstream.Msg) {
	msgCtx, cancel := context.WithTimeout(ctx, n.config.AckWait)
	defer cancel()

	handleErr := handler.HandleMessage(msgCtx, msg.Data())
	if handleErr == nil {
		if err := msg.Ack(); err != nil {
			n.logger.Error("failed to ack message", "error", err)
		}
		n.metrics.IncConsumed(n.opts.Subject, "ack")
		return
	}

	delivered := n.deliveries(msg)
	switch {
	case errors.Is(handleErr, domain.ErrMalformedMessage), errors.Is(handleErr, domain.ErrUnknownTaskKind):
		n.logger.Error("dropping malformed message", "error", handleErr)
		n.deadLetter(ctx, msg, handleErr)
		n.term(msg)
	case n.config.MaxDeliver > 0 && delivered >= uint64(n.config.MaxDeliver):
		n.logger.Error("message exhausted its deliveries", "error", handleErr, "deliveries", delivered)
		n.deadLetter(ctx, msg, handleErr)
		n.term(msg)
	default:
		n.logger.Warn("failed to handle message", "error", handleErr, "deliveries", delivered)
		if err := msg.NakWithDelay(nakDelay(delivered)); err != nil {
			n.logger.Error("failed to nak message", "error", err)
		}
		n.metrics.IncConsumed(n.opts.Subject, "nak")
	}
}

func (n *Consumer) deliveries(msg jetstream.Msg) uint64 {
	md, err := msg.Metadata()
	if err != nil {
		return 1
	}
	return md.NumDelivered
}

func (n *Consumer) term(msg jetstream.Msg) {
	if err := msg.Term(); err != nil {
		n.logger.Error("failed to terminate message", "error", err)
	}
	n.metrics.IncConsumed(n.opts.Subject, "term")
}

func (n *Consumer) deadLetter(ctx context.Context, msg jetstream.Msg, cause error) {
	if n.config.DeadLetter == "" {
		return
	}
	dl := nats.NewMsg(n.config.DeadLetter)
	dl.Data = msg.Data()
	dl.Header.Set(headerOriginSubject, msg.Subject())
	dl.Header.Set(headerError, cause.Error())
	if _, err := n.js.PublishMsg(ctx, dl); err != nil {
		n.logger.Error("failed to publish dead letter", "error", err)
		return
	}
	n.metrics.IncConsumed(n.opts.Subject, "dead_letter")
}

// nakDelay doubles from one second per delivery, capped at a minute
func nakDelay(delivered uint64) time.Duration {
	if delivered < 1 {
		delivered = 1
	}
	shift := min(delivered-1, 6)
	return min(time.Second<<shift, maxNakDelay)
}

// Close graceful shutdown
func (n *Consumer) Close() error {
	if n.iter != nil {
		n.iter.Stop()
	}

	n.wg.Wait()

	if n.conn != nil {
		n.conn.Close()
	}
	return nil
}
