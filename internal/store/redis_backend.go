package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/spec-kit/guild-tickets/internal/domain"
)

// RedisBackend persists ticket metadata in Redis. Every key is namespaced by
// bot ID so multiple bot instances can share a server.
type RedisBackend struct {
	client *redis.Client
	botID  string
}

// NewRedisBackend instantiates the backend.
func NewRedisBackend(client *redis.Client, botID string) *RedisBackend {
	return &RedisBackend{client: client, botID: botID}
}

func (b *RedisBackend) metaKey(guildID, threadID string) string {
	return fmt.Sprintf("tickets:%s:%s:meta:%s", b.botID, guildID, threadID)
}

func (b *RedisBackend) seedKey(guildID, threadID string) string {
	return fmt.Sprintf("tickets:%s:%s:seed:%s", b.botID, guildID, threadID)
}

func (b *RedisBackend) activeKey(guildID string) string {
	return fmt.Sprintf("tickets:%s:%s:active", b.botID, guildID)
}

func (b *RedisBackend) userKey(guildID, userID string) string {
	return fmt.Sprintf("tickets:%s:%s:user:%s", b.botID, guildID, userID)
}

func (b *RedisBackend) counterKey(guildID string) string {
	return fmt.Sprintf("tickets:%s:%s:counter", b.botID, guildID)
}

func (b *RedisBackend) configKey(guildID string) string {
	return fmt.Sprintf("tickets:%s:%s:config", b.botID, guildID)
}

func (b *RedisBackend) GetTicketMetadata(ctx context.Context, guildID, threadID string) (*domain.TicketMetadata, error) {
	raw, err := b.client.Get(ctx, b.metaKey(guildID, threadID)).Bytes()
	if errors.Is(err, redis.Nil) {
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

func (b *RedisBackend) SaveTicketMetadata(ctx context.Context, guildID, threadID string, meta *domain.TicketMetadata, transcriptSeed string) error {
	raw, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("encode ticket metadata: %w", err)
	}
	_, err = b.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, b.metaKey(guildID, threadID), raw, 0)
		pipe.Set(ctx, b.seedKey(guildID, threadID), transcriptSeed, 0)
		pipe.SAdd(ctx, b.activeKey(guildID), threadID)
		pipe.RPush(ctx, b.userKey(guildID, meta.OpenedBy.ID), strconv.FormatInt(meta.OpenTime, 10))
		return nil
	})
	return err
}

func (b *RedisBackend) UpdateTicketMetadata(ctx context.Context, guildID, threadID string, meta *domain.TicketMetadata) error {
	raw, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("encode ticket metadata: %w", err)
	}
	_, err = b.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, b.metaKey(guildID, threadID), raw, 0)
		if meta.IsClosed() {
			pipe.SRem(ctx, b.activeKey(guildID), threadID)
		} else {
			pipe.SAdd(ctx, b.activeKey(guildID), threadID)
		}
		return nil
	})
	return err
}

func (b *RedisBackend) ListActiveTickets(ctx context.Context, guildID string) ([]ActiveTicket, error) {
	threadIDs, err := b.client.SMembers(ctx, b.activeKey(guildID)).Result()
	if err != nil {
		return nil, err
	}
	tickets := make([]ActiveTicket, 0, len(threadIDs))
	for _, threadID := range threadIDs {
		meta, err := b.GetTicketMetadata(ctx, guildID, threadID)
		if err != nil {
			return nil, err
		}
		if meta == nil {
			// stale set member; the record was removed externally
			continue
		}
		tickets = append(tickets, ActiveTicket{ThreadID: threadID, Metadata: *meta})
	}
	return tickets, nil
}

func (b *RedisBackend) UserOpenTimes(ctx context.Context, guildID, userID string) ([]int64, error) {
	values, err := b.client.LRange(ctx, b.userKey(guildID, userID), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	times := make([]int64, 0, len(values))
	for _, v := range values {
		ts, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			continue
		}
		times = append(times, ts)
	}
	return times, nil
}

func (b *RedisBackend) TicketCounter(ctx context.Context, guildID string) (int64, error) {
	count, err := b.client.Get(ctx, b.counterKey(guildID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return count, err
}

func (b *RedisBackend) IncrementTicketCounter(ctx context.Context, guildID string) (int64, error) {
	return b.client.Incr(ctx, b.counterKey(guildID)).Result()
}

func (b *RedisBackend) GuildConfig(ctx context.Context, guildID string) (*domain.GuildConfig, error) {
	raw, err := b.client.Get(ctx, b.configKey(guildID)).Bytes()
	if errors.Is(err, redis.Nil) {
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

func (b *RedisBackend) SaveGuildConfig(ctx context.Context, guildID string, cfg *domain.GuildConfig) error {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode guild config: %w", err)
	}
	return b.client.Set(ctx, b.configKey(guildID), raw, 0).Err()
}
