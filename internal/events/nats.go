package events

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// DefaultSubjectPrefix is the NATS subject root for execution events.
const DefaultSubjectPrefix = "curatord.events"

// NATSPublisher forwards bus events to NATS subjects of the form:
//
//	{prefix}.{session_id}.{event_type}
//
// Publish failures are logged and dropped; NATS is a best-effort sink.
type NATSPublisher struct {
	nc     *nats.Conn
	prefix string
	logger *zap.Logger
}

// NewNATSPublisher creates a publisher. An empty prefix uses DefaultSubjectPrefix.
func NewNATSPublisher(nc *nats.Conn, prefix string, logger *zap.Logger) *NATSPublisher {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NATSPublisher{nc: nc, prefix: strings.TrimSuffix(prefix, "."), logger: logger}
}

// Subject returns the subject an event is published on.
func (p *NATSPublisher) Subject(event Event) string {
	return fmt.Sprintf("%s.%s.%s", p.prefix, event.SessionID, event.Type)
}

// Publish sends one event.
func (p *NATSPublisher) Publish(event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := p.nc.Publish(p.Subject(event), data); err != nil {
		return fmt.Errorf("publish %s event: %w", event.Type, err)
	}
	return nil
}

// Attach registers the publisher as a global listener on bus and returns the
// unsubscribe function.
func (p *NATSPublisher) Attach(bus *Bus) func() {
	return bus.OnAny(func(event Event) {
		if err := p.Publish(event); err != nil {
			p.logger.Warn("nats publish failed",
				zap.String("session_id", event.SessionID),
				zap.String("event_type", string(event.Type)),
				zap.Error(err),
			)
		}
	})
}

// SubscribeNATS delivers every event published for sessionID to fn. Pass "*"
// to receive events for all sessions. Messages that fail to decode are
// skipped.
func SubscribeNATS(nc *nats.Conn, prefix, sessionID string, fn Listener) (*nats.Subscription, error) {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	subject := fmt.Sprintf("%s.%s.*", strings.TrimSuffix(prefix, "."), sessionID)

	sub, err := nc.Subscribe(subject, func(msg *nats.Msg) {
		var event Event
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			return
		}
		fn(event)
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", subject, err)
	}
	return sub, nil
}
