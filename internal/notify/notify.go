// Package notify publishes recorded attendance to NATS.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/kozaktomas/face-attendance/internal/config"
)

// AttendanceEvent is published once per recorded member.
type AttendanceEvent struct {
	RequestID    string    `json:"request_id,omitempty"`
	EventID      int64     `json:"event_id"`
	MemberID     int64     `json:"member_id"`
	DisplayName  string    `json:"display_name"`
	Confidence   float64   `json:"confidence"`
	RecognizedAt time.Time `json:"recognized_at"`
}

// Publisher delivers attendance events to subscribers.
type Publisher interface {
	PublishAttendance(ctx context.Context, ev AttendanceEvent) error
	Close() error
}

// Subject returns the subject attendance for eventID is published on.
func Subject(prefix string, eventID int64) string {
	return fmt.Sprintf("%s.events.%d", prefix, eventID)
}

// NoopPublisher drops every event. Used when NATS is not configured.
type NoopPublisher struct{}

func (NoopPublisher) PublishAttendance(context.Context, AttendanceEvent) error { return nil }
func (NoopPublisher) Close() error                                           { return nil }

// NATSPublisher publishes JSON encoded events to a NATS server.
type NATSPublisher struct {
	conn   *nats.Conn
	prefix string
}

var (
	_ Publisher = NoopPublisher{}
	_ Publisher = (*NATSPublisher)(nil)
)

// New connects to cfg.NATSURL, or returns a NoopPublisher when it is empty.
func New(cfg *config.NotifyConfig) (Publisher, error) {
	if cfg == nil || cfg.NATSURL == "" {
		return NoopPublisher{}, nil
	}
	conn, err := nats.Connect(cfg.NATSURL,
		nats.Name("face-attendance"),
		nats.MaxReconnects(5),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	prefix := cfg.SubjectPrefix
	if prefix == "" {
		prefix = "attendance"
	}
	return &NATSPublisher{conn: conn, prefix: prefix}, nil
}

// PublishAttendance publishes ev on Subject(prefix, ev.EventID).
// NATS publish is asynchronous, so ctx is only checked before sending.
func (p *NATSPublisher) PublishAttendance(ctx context.Context, ev AttendanceEvent) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled before publish: %w", err)
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal attendance event: %w", err)
	}
	if err := p.conn.Publish(Subject(p.prefix, ev.EventID), data); err != nil {
		return fmt.Errorf("publish attendance event: %w", err)
	}
	return nil
}

// Close flushes pending messages and closes the connection.
func (p *NATSPublisher) Close() error {
	if err := p.conn.Drain(); err != nil {
		p.conn.Close()
		return fmt.Errorf("drain NATS connection: %w", err)
	}
	return nil
}
