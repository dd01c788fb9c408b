package events

import (
	"time"

	"github.com/spec-kit/guild-tickets/internal/domain"
)

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventTicketOpened      EventType = "ticket_opened"
	EventTicketClaimed     EventType = "ticket_claimed"
	EventParticipantJoined EventType = "participant_joined"
	EventTicketClosed      EventType = "ticket_closed"
	EventTicketAutoClosed  EventType = "ticket_auto_closed"
	EventRatingSubmitted   EventType = "rating_submitted"
)

// Event represents a lifecycle event emitted by the engine.
type Event struct {
	ID        string          `json:"id"`
	Type      EventType       `json:"type"`
	GuildID   string          `json:"guild_id"`
	ThreadID  string          `json:"thread_id"`
	Actor     domain.Identity `json:"actor"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   interface{}     `json:"payload"`
}

// TicketOpenedPayload payload.
type TicketOpenedPayload struct {
	TicketID   int64  `json:"ticket_id"`
	TicketType string `json:"ticket_type"`
}

// TicketClaimedPayload payload.
type TicketClaimedPayload struct {
	TicketID int64 `json:"ticket_id"`
}

// ParticipantJoinedPayload payload.
type ParticipantJoinedPayload struct {
	TicketID int64 `json:"ticket_id"`
}

// TicketClosedPayload payload.
type TicketClosedPayload struct {
	TicketID int64  `json:"ticket_id"`
	Reason   string `json:"reason,omitempty"`
	// Auto marks system-initiated closures.
	Auto bool `json:"auto"`
}

// RatingSubmittedPayload payload.
type RatingSubmittedPayload struct {
	TicketID int64 `json:"ticket_id"`
	Value    int   `json:"value"`
}
