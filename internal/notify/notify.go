// Package notify publishes upload and session events to NATS so other
// services (detection workers, dashboards) can react without polling.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

const (
	SubjectUploads  = "particle.uploads"
	SubjectSessions = "particle.sessions"
)

type Publisher interface {
	Publish(ctx context.Context, subject string, payload []byte) error
	Close()
}

type NATSPublisher struct {
	nc  *nats.Conn
	url string
}

// NewNATSPublisher connects to url and keeps reconnecting forever.
func NewNATSPublisher(url, name string, logger *slog.Logger) (*NATSPublisher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	opts := []nats.Option{
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logger.Warn("nats disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
	}
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to nats at %s: %w", url, err)
	}
	return &NATSPublisher{nc: nc, url: url}, nil
}

func (p *NATSPublisher) Publish(ctx context.Context, subject string, payload []byte) error {
	if p.nc == nil || p.nc.IsClosed() {
		return fmt.Errorf("nats not connected")
	}
	return p.nc.Publish(subject, payload)
}

func (p *NATSPublisher) Close() {
	if p.nc != nil {
		_ = p.nc.Drain()
		p.nc.Close()
	}
}

// Nop discards everything; used when NATS_URL is unset.
type Nop struct{}

func (Nop) Publish(context.Context, string, []byte) error { return nil }
func (Nop) Close()                                        {}

type UploadEvent struct {
	MachineID string    `json:"machine_id"`
	Filename  string    `json:"filename"`
	Bytes     int       `json:"bytes"`
	Error     string    `json:"error,omitempty"`
	At        time.Time `json:"at"`
}

type SessionEvent struct {
	Type   string    `json:"type"`
	UserID string    `json:"user_id"`
	At     time.Time `json:"at"`
}

type Notifier struct {
	pub    Publisher
	logger *slog.Logger
}

func New(pub Publisher, logger *slog.Logger) *Notifier {
	if pub == nil {
		pub = Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{pub: pub, logger: logger}
}

// Upload publishes on particle.uploads.<machine id>.
func (n *Notifier) Upload(ctx context.Context, e UploadEvent) error {
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	return n.send(ctx, SubjectUploads+"."+e.MachineID, e)
}

// Session publishes on particle.sessions.<event type>.
func (n *Notifier) Session(ctx context.Context, e SessionEvent) error {
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	return n.send(ctx, SubjectSessions+"."+e.Type, e)
}

func (n *Notifier) send(ctx context.Context, subject string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", subject, err)
	}
	if err := n.pub.Publish(ctx, subject, payload); err != nil {
		n.logger.Warn("publish failed", "subject", subject, "error", err)
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}

func (n *Notifier) Close() {
	n.pub.Close()
}
