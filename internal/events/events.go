package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// Publisher sends audit events for admin mutations.
type Publisher interface {
	Publish(ctx context.Context, subject string, data interface{}) error
	Close() error
}

type NATSPublisher struct {
	conn   *nats.Conn
	prefix string
	log    zerolog.Logger
}

// NewNATSPublisher connects to url. Subjects are published under prefix.
func NewNATSPublisher(url, prefix string, log zerolog.Logger) (*NATSPublisher, error) {
	conn, err := nats.Connect(url,
		nats.Name("fndparking-admin"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn().Err(err).Msg("NATS disconnected")
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info().Str("url", c.ConnectedUrl()).Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	return &NATSPublisher{
		conn:   conn,
		prefix: prefix,
		log:    log.With().Str("component", "events").Logger(),
	}, nil
}

func (n *NATSPublisher) Publish(ctx context.Context, subject string, data interface{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal event data: %w", err)
	}

	if n.prefix != "" {
		subject = n.prefix + "." + subject
	}
	n.log.Debug().Str("subject", subject).RawJSON("data", payload).Msg("publishing event")

	return n.conn.Publish(subject, payload)
}

func (n *NATSPublisher) Close() error {
	if err := n.conn.Drain(); err != nil {
		n.conn.Close()
		return err
	}
	return nil
}

// NoopPublisher drops every event. Used when no broker is configured.
type NoopPublisher struct{}

func (NoopPublisher) Publish(context.Context, string, interface{}) error { return nil }
func (NoopPublisher) Close() error                                       { return nil }

// Event subjects
const (
	UserStatusChanged   = "user.status_changed"
	SpotStatusChanged   = "spot.status_changed"
	SpotUpdated         = "spot.updated"
	SpotDeleted         = "spot.deleted"
	FraudReportResolved = "fraud_report.resolved"
	SampleUsersCreated  = "user.samples_created"
)

// Event payloads
type UserStatusChangedEvent struct {
	UserID    string    `json:"user_id"`
	Status    string    `json:"status"`
	Previous  string    `json:"previous"`
	Actor     string    `json:"actor"`
	ChangedAt time.Time `json:"changed_at"`
}

type SpotUpdatedEvent struct {
	SpotID    string         `json:"spot_id"`
	Fields    map[string]any `json:"fields"`
	Actor     string         `json:"actor"`
	UpdatedAt time.Time      `json:"updated_at"`
}

type SpotDeletedEvent struct {
	SpotID    string    `json:"spot_id"`
	Actor     string    `json:"actor"`
	DeletedAt time.Time `json:"deleted_at"`
}

type FraudReportResolvedEvent struct {
	ReportID   string    `json:"report_id"`
	SpotID     string    `json:"spot_id"`
	UserID     string    `json:"user_id"`
	Actor      string    `json:"actor"`
	ResolvedAt time.Time `json:"resolved_at"`
}

type SampleUsersCreatedEvent struct {
	UserIDs   []string  `json:"user_ids"`
	Actor     string    `json:"actor"`
	CreatedAt time.Time `json:"created_at"`
}
