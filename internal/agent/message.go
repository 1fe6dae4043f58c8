package agent

import (
	"context"
	"time"
)

// MessageType distinguishes inter-agent messages.
type MessageType string

const (
	MessageRequest  MessageType = "request"
	MessageResponse MessageType = "response"
	MessageEvent    MessageType = "event"
)

// Message is an inter-agent message. CorrelationID ties a response to its
// request.
type Message struct {
	ID            string         `json:"id"`
	Type          MessageType    `json:"type"`
	From          string         `json:"from"`
	To            string         `json:"to,omitempty"`
	Topic         string         `json:"topic"`
	Payload       map[string]any `json:"payload,omitempty"`
	CorrelationID string         `json:"correlation_id,omitempty"`
	Timestamp     time.Time      `json:"timestamp"`
}

// Router delivers a message to the agent named in Message.To.
type Router interface {
	RouteMessage(ctx context.Context, msg Message) error
}

// Receiver is implemented by agents that accept messages.
type Receiver interface {
	Deliver(ctx context.Context, msg Message) error
}

// RequestHandler answers a request message with a response payload.
type RequestHandler func(ctx context.Context, msg Message) (map[string]any, error)
