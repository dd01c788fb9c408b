package dto

import (
	"github.com/spec-kit/guild-tickets/internal/domain"
)

// TicketSummary response.
type TicketSummary struct {
	TicketID   int64               `json:"ticket_id"`
	ThreadID   string              `json:"thread_id"`
	GuildID    string              `json:"guild_id"`
	OpenedBy   string              `json:"opened_by"`
	ClaimedBy  *string             `json:"claimed_by,omitempty"`
	TicketType string              `json:"ticket_type"`
	Status     domain.TicketStatus `json:"status"`
	OpenTime   int64               `json:"open_time"`
}

// CloseTicketRequest payload for the force-close endpoint.
type CloseTicketRequest struct {
	Reason string `json:"reason"`
}

// CooldownChoice is one picker value with its round-trippable label.
type CooldownChoice struct {
	Label   string `json:"label"`
	Seconds int64  `json:"seconds"`
}

// FromMetadata maps a metadata record to its summary.
func FromMetadata(meta *domain.TicketMetadata) TicketSummary {
	summary := TicketSummary{
		TicketID:   meta.TicketID,
		ThreadID:   meta.ThreadID,
		GuildID:    meta.GuildID,
		OpenedBy:   meta.OpenedBy.Username,
		TicketType: meta.TicketType,
		Status:     meta.Status,
		OpenTime:   meta.OpenTime,
	}
	if meta.ClaimedBy != nil {
		name := meta.ClaimedBy.Username
		summary.ClaimedBy = &name
	}
	return summary
}
