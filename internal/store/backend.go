package store

import (
	"context"

	"github.com/spec-kit/guild-tickets/internal/domain"
)

// ActiveTicket pairs a thread ID with its metadata in listings.
type ActiveTicket struct {
	ThreadID string
	Metadata domain.TicketMetadata
}

// Backend is the external persistence service for ticket metadata. It is a
// last-write-wins key-value contract: no transactions, no conditional writes.
// Reads that find nothing return (nil, nil), not an error.
type Backend interface {
	GetTicketMetadata(ctx context.Context, guildID, threadID string) (*domain.TicketMetadata, error)
	SaveTicketMetadata(ctx context.Context, guildID, threadID string, meta *domain.TicketMetadata, transcriptSeed string) error
	UpdateTicketMetadata(ctx context.Context, guildID, threadID string, meta *domain.TicketMetadata) error
	ListActiveTickets(ctx context.Context, guildID string) ([]ActiveTicket, error)
	UserOpenTimes(ctx context.Context, guildID, userID string) ([]int64, error)
	TicketCounter(ctx context.Context, guildID string) (int64, error)
	IncrementTicketCounter(ctx context.Context, guildID string) (int64, error)
	GuildConfig(ctx context.Context, guildID string) (*domain.GuildConfig, error)
	SaveGuildConfig(ctx context.Context, guildID string, cfg *domain.GuildConfig) error
}
