package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/guild-tickets/internal/domain"
)

// PostgresBackend persists ticket metadata in postgres, metadata as jsonb
// with the fields the queries filter on lifted into columns.
type PostgresBackend struct {
	pool  *pgxpool.Pool
	botID string
}

// NewPostgresBackend instantiates the backend.
func NewPostgresBackend(pool *pgxpool.Pool, botID string) *PostgresBackend {
	return &PostgresBackend{pool: pool, botID: botID}
}

func (b *PostgresBackend) GetTicketMetadata(ctx context.Context, guildID, threadID string) (*domain.TicketMetadata, error) {
	const query = `
        SELECT metadata FROM guild_tickets
        WHERE bot_id=$1 AND guild_id=$2 AND thread_id=$3`
	var raw []byte
	err := b.pool.QueryRow(ctx, query, b.botID, guildID, threadID).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var meta domain.TicketMetadata
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, fmt.Errorf("decode ticket metadata: %w", err)
	}
	return &meta, nil
}

func (b *PostgresBackend) SaveTicketMetadata(ctx context.Context, guildID, threadID string, meta *domain.TicketMetadata, transcriptSeed string) error {
	raw, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("encode ticket metadata: %w", err)
	}
	const query = `
        INSERT INTO guild_tickets (bot_id, guild_id, thread_id, opened_by_id, status, open_time, transcript_seed, metadata)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
        ON CONFLICT (bot_id, guild_id, thread_id) DO UPDATE
            SET status=EXCLUDED.status, metadata=EXCLUDED.metadata, updated_at=NOW()`
	_, err = b.pool.Exec(ctx, query,
		b.botID, guildID, threadID,
		meta.OpenedBy.ID,
		meta.Status,
		meta.OpenTime,
		transcriptSeed,
		raw,
	)
	return err
}

func (b *PostgresBackend) UpdateTicketMetadata(ctx context.Context, guildID, threadID string, meta *domain.TicketMetadata) error {
	raw, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("encode ticket metadata: %w", err)
	}
	const query = `
        UPDATE guild_tickets SET status=$4, metadata=$5, updated_at=NOW()
        WHERE bot_id=$1 AND guild_id=$2 AND thread_id=$3`
	cmd, err := b.pool.Exec(ctx, query, b.botID, guildID, threadID, meta.Status, raw)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (b *PostgresBackend) ListActiveTickets(ctx context.Context, guildID string) ([]ActiveTicket, error) {
	const query = `
        SELECT thread_id, metadata FROM guild_tickets
        WHERE bot_id=$1 AND guild_id=$2 AND status=$3`
	rows, err := b.pool.Query(ctx, query, b.botID, guildID, domain.TicketStatusOpen)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tickets := []ActiveTicket{}
	for rows.Next() {
		var threadID string
		var raw []byte
		if err := rows.Scan(&threadID, &raw); err != nil {
			return nil, err
		}
		var meta domain.TicketMetadata
		if err := json.Unmarshal(raw, &meta); err != nil {
			return nil, fmt.Errorf("decode ticket metadata: %w", err)
		}
		tickets = append(tickets, ActiveTicket{ThreadID: threadID, Metadata: meta})
	}
	return tickets, rows.Err()
}

func (b *PostgresBackend) UserOpenTimes(ctx context.Context, guildID, userID string) ([]int64, error) {
	const query = `
        SELECT open_time FROM guild_tickets
        WHERE bot_id=$1 AND guild_id=$2 AND opened_by_id=$3`
	rows, err := b.pool.Query(ctx, query, b.botID, guildID, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	times := []int64{}
	for rows.Next() {
		var ts int64
		if err := rows.Scan(&ts); err != nil {
			return nil, err
		}
		times = append(times, ts)
	}
	return times, rows.Err()
}

func (b *PostgresBackend) TicketCounter(ctx context.Context, guildID string) (int64, error) {
	const query = `SELECT counter FROM guild_ticket_counters WHERE bot_id=$1 AND guild_id=$2`
	var counter int64
	err := b.pool.QueryRow(ctx, query, b.botID, guildID).Scan(&counter)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	return counter, err
}

func (b *PostgresBackend) IncrementTicketCounter(ctx context.Context, guildID string) (int64, error) {
	const query = `
        INSERT INTO guild_ticket_counters (bot_id, guild_id, counter) VALUES ($1,$2,1)
        ON CONFLICT (bot_id, guild_id) DO UPDATE SET counter = guild_ticket_counters.counter + 1
        RETURNING counter`
	var counter int64
	err := b.pool.QueryRow(ctx, query, b.botID, guildID).Scan(&counter)
	return counter, err
}

func (b *PostgresBackend) GuildConfig(ctx context.Context, guildID string) (*domain.GuildConfig, error) {
	const query = `SELECT config FROM guild_ticket_configs WHERE bot_id=$1 AND guild_id=$2`
	var raw []byte
	err := b.pool.QueryRow(ctx, query, b.botID, guildID).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var cfg domain.GuildConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("decode guild config: %w", err)
	}
	return &cfg, nil
}

func (b *PostgresBackend) SaveGuildConfig(ctx context.Context, guildID string, cfg *domain.GuildConfig) error {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode guild config: %w", err)
	}
	const query = `
        INSERT INTO guild_ticket_configs (bot_id, guild_id, config) VALUES ($1,$2,$3)
        ON CONFLICT (bot_id, guild_id) DO UPDATE SET config=EXCLUDED.config, updated_at=NOW()`
	_, err = b.pool.Exec(ctx, query, b.botID, guildID, raw)
	return err
}
