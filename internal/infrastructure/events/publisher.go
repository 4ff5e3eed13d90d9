package events

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"qagen/internal/bootstrap/config"
	"qagen/internal/bootstrap/logging"
	"qagen/internal/errs"
	"qagen/internal/ports"
)

type conn interface {
	Publish(subject string, data []byte) error
	Drain() error
}

// NATSPublisher sends progress events as JSON on <prefix>.<step>.
type NATSPublisher struct {
	conn   conn
	prefix string
}

var _ ports.EventPublisher = (*NATSPublisher)(nil)

// Noop drops every event. It is used when no NATS URL is configured.
type Noop struct{}

var _ ports.EventPublisher = Noop{}

func (Noop) Publish(context.Context, ports.ProgressEvent) error { return nil }

// New connects to NATS when cfg names a server and returns Noop otherwise. The returned
// close function drains the connection.
func New(ctx context.Context, cfg config.EventsConfig) (ports.EventPublisher, func() error, error) {
	if ctx == nil {
		return nil, nil, errors.New("context is required")
	}

	url := strings.TrimSpace(cfg.NATSURL)
	if url == "" {
		return Noop{}, func() error { return nil }, nil
	}

	nc, err := nats.Connect(url,
		nats.Name("qagen"),
		nats.Timeout(5*time.Second),
		nats.MaxReconnects(3),
	)
	if err != nil {
		return nil, nil, errs.Wrapf(err, "connect nats %s", url)
	}

	logging.Info(
		logging.WithAttrs(ctx, slog.String("component", "events.nats")),
		"nats connected",
		slog.String("url", nc.ConnectedUrlRedacted()),
	)
	publisher := newNATSPublisher(nc, cfg.SubjectPrefix)
	return publisher, nc.Drain, nil
}

func newNATSPublisher(c conn, prefix string) *NATSPublisher {
	prefix = strings.Trim(strings.TrimSpace(prefix), ".")
	if prefix == "" {
		prefix = "qagen"
	}
	return &NATSPublisher{conn: c, prefix: prefix}
}

func (p *NATSPublisher) Publish(ctx context.Context, event ports.ProgressEvent) error {
	if ctx == nil {
		return errors.New("context is required")
	}
	if err := ctx.Err(); err != nil {
		return errs.Wrap(err, "check context")
	}
	if event.At.IsZero() {
		event.At = time.Now().UTC()
	}

	data, err := json.Marshal(event)
	if err != nil {
		return errs.Wrap(err, "encode progress event")
	}
	if err := p.conn.Publish(p.Subject(event.Step), data); err != nil {
		return errs.Wrapf(err, "publish %s", event.Step)
	}
	return nil
}

// Subject maps a step name to its subject. Characters NATS treats specially become '_'.
func (p *NATSPublisher) Subject(step string) string {
	step = strings.TrimSpace(step)
	if step == "" {
		step = "progress"
	}
	return p.prefix + "." + subjectToken.Replace(step)
}

var subjectToken = strings.NewReplacer(" ", "_", ".", "_", "*", "_", ">", "_", "\t", "_")
