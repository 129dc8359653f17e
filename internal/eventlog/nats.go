package eventlog

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/fluxlabs/flux/infrastructure/logging"
)

// NATSLog implements Log on top of a JetStream stream. One stream backs
// every namespace; subjects are "events.<stream>".
type NATSLog struct {
	conn       *nats.Conn
	js         nats.JetStreamContext
	streamName string
	logger     *logging.Logger
}

// NATSConfig configures the JetStream-backed log.
type NATSConfig struct {
	URL        string
	StreamName string
	Subjects   []string
}

// Connect dials NATS, ensures the stream exists, and returns a ready Log.
// Reconnection on dropped connections is handled by nats.go's built-in
// reconnect loop (nats.MaxReconnects(-1)); callers that need backoff on the
// initial dial should wrap Connect with infrastructure/resilience.Retry.
func Connect(cfg NATSConfig, logger *logging.Logger) (*NATSLog, error) {
	nc, err := nats.Connect(cfg.URL,
		nats.Name("flux"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream context: %w", err)
	}

	if _, err := js.StreamInfo(cfg.StreamName); err != nil {
		_, err = js.AddStream(&nats.StreamConfig{
			Name:     cfg.StreamName,
			Subjects: cfg.Subjects,
			Storage:  nats.FileStorage,
		})
		if err != nil {
			nc.Close()
			return nil, fmt.Errorf("add stream %s: %w", cfg.StreamName, err)
		}
	}

	return &NATSLog{conn: nc, js: js, streamName: cfg.StreamName, logger: logger}, nil
}

func (l *NATSLog) Append(ctx context.Context, subject string, data []byte) (uint64, error) {
	ack, err := l.js.Publish(subject, data, nats.Context(ctx))
	if err != nil {
		return 0, fmt.Errorf("publish %s: %w", subject, err)
	}
	return ack.Sequence, nil
}

func (l *NATSLog) SubscribeFrom(ctx context.Context, subjectWildcard, consumerName string, delivery Delivery) (<-chan Message, error) {
	opts := []nats.SubOpt{nats.AckExplicit(), nats.Durable(consumerName)}
	if delivery.All {
		opts = append(opts, nats.DeliverAll())
	} else {
		opts = append(opts, nats.DeliverByStartSequence(delivery.StartSequence+1))
	}

	sub, err := l.js.PullSubscribe(subjectWildcard, consumerName, opts...)
	if err != nil {
		return nil, fmt.Errorf("pull subscribe %s: %w", subjectWildcard, err)
	}

	out := make(chan Message, 64)
	go l.pump(ctx, sub, out)
	return out, nil
}

func (l *NATSLog) pump(ctx context.Context, sub *nats.Subscription, out chan<- Message) {
	defer close(out)
	defer func() { _ = sub.Unsubscribe() }()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		msgs, err := sub.Fetch(32, nats.MaxWait(2*time.Second))
		if err != nil {
			if err == nats.ErrTimeout {
				continue
			}
			if ctx.Err() != nil {
				return
			}
			l.logger.WithContext(ctx).WithError(err).Warn("jetstream fetch error")
			time.Sleep(time.Second)
			continue
		}

		for _, msg := range msgs {
			meta, err := msg.Metadata()
			if err != nil {
				l.logger.WithContext(ctx).WithError(err).Warn("jetstream message missing metadata")
				continue
			}
			m := msg
			select {
			case out <- Message{
				Sequence: meta.Sequence.Stream,
				Subject:  m.Subject,
				Data:     m.Data,
				Ack:      m.Ack,
			}:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (l *NATSLog) ReadRange(ctx context.Context, subject string, since time.Time, max int) ([][]byte, error) {
	consumerName := fmt.Sprintf("history-%d", time.Now().UnixNano())
	sub, err := l.js.PullSubscribe(subject, consumerName,
		nats.AckNone(),
		nats.DeliverByStartTime(since),
		nats.InactiveThreshold(time.Minute),
	)
	if err != nil {
		return nil, fmt.Errorf("history subscribe %s: %w", subject, err)
	}
	defer func() { _ = sub.Unsubscribe() }()

	var out [][]byte
	for len(out) < max {
		remaining := max - len(out)
		if remaining > 256 {
			remaining = 256
		}
		msgs, err := sub.Fetch(remaining, nats.MaxWait(500*time.Millisecond))
		if err != nil {
			if err == nats.ErrTimeout {
				break
			}
			return nil, fmt.Errorf("history fetch %s: %w", subject, err)
		}
		if len(msgs) == 0 {
			break
		}
		for _, msg := range msgs {
			out = append(out, msg.Data)
		}
	}
	return out, nil
}

func (l *NATSLog) ResetConsumer(ctx context.Context, consumerName string, delivery Delivery) error {
	_ = l.js.DeleteConsumer(l.streamName, consumerName)

	cfg := &nats.ConsumerConfig{
		Durable:   consumerName,
		AckPolicy: nats.AckExplicitPolicy,
	}
	if delivery.All {
		cfg.DeliverPolicy = nats.DeliverAllPolicy
	} else {
		cfg.DeliverPolicy = nats.DeliverByStartSequencePolicy
		cfg.OptStartSeq = delivery.StartSequence + 1
	}

	_, err := l.js.AddConsumer(l.streamName, cfg)
	if err != nil {
		return fmt.Errorf("recreate consumer %s: %w", consumerName, err)
	}
	return nil
}

func (l *NATSLog) Close() error {
	l.conn.Close()
	return nil
}
