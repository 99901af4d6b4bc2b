// Package events delivers order domain events to a message broker. Every publisher sends
// the same JSON Message and keys it by order ID so consumers see one order's events in order.
package events

import (
	"maps"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/productshop/api/internal/services"
)

// Message is the wire form of services.OrderEvent.
type Message struct {
	ID             string         `json:"id"`
	Type           string         `json:"type"`
	OrderID        string         `json:"orderId"`
	MemberID       string         `json:"memberId"`
	PreviousStatus string         `json:"previousStatus,omitempty"`
	CurrentStatus  string         `json:"currentStatus"`
	ActorID        string         `json:"actorId,omitempty"`
	TotalPrice     int64          `json:"totalPrice"`
	OccurredAt     time.Time      `json:"occurredAt"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// NewMessage converts event, assigning a fresh UUID as the message ID.
func NewMessage(event services.OrderEvent) Message {
	return Message{
		ID:             uuid.NewString(),
		Type:           event.Type,
		OrderID:        event.OrderID,
		MemberID:       event.MemberID,
		PreviousStatus: string(event.PreviousStatus),
		CurrentStatus:  string(event.CurrentStatus),
		ActorID:        event.ActorID,
		TotalPrice:     event.TotalPrice,
		OccurredAt:     event.OccurredAt.UTC(),
		Metadata:       maps.Clone(event.Metadata),
	}
}

// Attributes returns the routing attributes shared by every broker.
func (m Message) Attributes() map[string]string {
	attrs := make(map[string]string, 5)
	setAttr(attrs, "eventId", m.ID)
	setAttr(attrs, "eventType", m.Type)
	setAttr(attrs, "orderId", m.OrderID)
	setAttr(attrs, "memberId", m.MemberID)
	setAttr(attrs, "status", m.CurrentStatus)
	return attrs
}

func setAttr(attrs map[string]string, key string, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}
