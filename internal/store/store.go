package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spec-kit/guild-tickets/internal/domain"
	"github.com/spec-kit/guild-tickets/internal/timeparse"
	"github.com/spec-kit/guild-tickets/pkg/util"
)

// Store combines the in-process cache with the external persistence backend.
// The cache is advisory: writes are last-write-wins and the backend remains
// the source of truth. No locking beyond the cache map itself; correctness
// under races relies on the callers' idempotency checks.
type Store struct {
	backend Backend
	logger  *zap.Logger

	mu    sync.RWMutex
	cache map[string]domain.TicketMetadata
}

// New constructs a Store over the given backend.
func New(backend Backend, logger *zap.Logger) *Store {
	return &Store{
		backend: backend,
		logger:  logger,
		cache:   make(map[string]domain.TicketMetadata),
	}
}

// Get returns the metadata for a thread, cache-first. On a miss it reads the
// backend and populates the cache; it returns (nil, nil) only when the
// backend also misses. Stored timestamps are normalized to epoch seconds.
func (s *Store) Get(ctx context.Context, guildID, threadID string) (*domain.TicketMetadata, error) {
	s.mu.RLock()
	cached, ok := s.cache[threadID]
	s.mu.RUnlock()
	if ok {
		return &cached, nil
	}

	meta, err := s.backend.GetTicketMetadata(ctx, guildID, threadID)
	if err != nil {
		return nil, util.NewExternalServiceFailure("metadata read", err)
	}
	if meta == nil {
		return nil, nil
	}
	normalizeTimes(meta)

	s.mu.Lock()
	s.cache[threadID] = *meta
	s.mu.Unlock()

	copied := *meta
	return &copied, nil
}

// Create writes a brand-new record. The backend write happens first so a
// failed create leaves no partial state behind; the cache is only populated
// on success. The transcript seed keys the transcript record later.
func (s *Store) Create(ctx context.Context, meta *domain.TicketMetadata) error {
	seed := uuid.NewString()
	if err := s.backend.SaveTicketMetadata(ctx, meta.GuildID, meta.ThreadID, meta, seed); err != nil {
		return util.NewExternalServiceFailure("metadata save", err)
	}
	s.mu.Lock()
	s.cache[meta.ThreadID] = *meta
	s.mu.Unlock()
	return nil
}

// Set updates an existing record: cache synchronously, then the backend,
// awaited. A backend failure is returned but the cache keeps the new value;
// claim and close roll forward on in-memory state and log for reconciliation.
func (s *Store) Set(ctx context.Context, meta *domain.TicketMetadata) error {
	s.mu.Lock()
	s.cache[meta.ThreadID] = *meta
	s.mu.Unlock()

	if err := s.backend.UpdateTicketMetadata(ctx, meta.GuildID, meta.ThreadID, meta); err != nil {
		return util.NewExternalServiceFailure("metadata update", err)
	}
	return nil
}

// SetAsync updates the cache synchronously and fires the backend write
// without waiting, for notification-update paths where the caller's response
// must not block on persistence. Failures are logged, not surfaced.
func (s *Store) SetAsync(ctx context.Context, meta *domain.TicketMetadata) {
	s.mu.Lock()
	s.cache[meta.ThreadID] = *meta
	s.mu.Unlock()

	copied := *meta
	go func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if err := s.backend.UpdateTicketMetadata(ctx, copied.GuildID, copied.ThreadID, &copied); err != nil {
			s.logger.Warn("async metadata update failed",
				zap.String("thread_id", copied.ThreadID),
				zap.Error(err))
		}
	}()
}

// ClearClosed evicts closed entries from the cache. The backend retains the
// records; this is memory-bound eviction, not deletion.
func (s *Store) ClearClosed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for threadID, meta := range s.cache {
		if meta.IsClosed() {
			delete(s.cache, threadID)
			removed++
		}
	}
	return removed
}

// ListActive returns all open tickets for a guild from the backend.
func (s *Store) ListActive(ctx context.Context, guildID string) ([]ActiveTicket, error) {
	tickets, err := s.backend.ListActiveTickets(ctx, guildID)
	if err != nil {
		return nil, util.NewExternalServiceFailure("active ticket listing", err)
	}
	for i := range tickets {
		normalizeTimes(&tickets[i].Metadata)
	}
	return tickets, nil
}

// LastOpenTime returns the newest open time among the user's tickets, or the
// zero time when no prior ticket is on record.
func (s *Store) LastOpenTime(ctx context.Context, guildID, userID string) (time.Time, error) {
	times, err := s.backend.UserOpenTimes(ctx, guildID, userID)
	if err != nil {
		return time.Time{}, util.NewExternalServiceFailure("user ticket listing", err)
	}
	var latest int64
	for _, ts := range times {
		if norm := timeparse.NormalizeEpochSeconds(ts); norm > latest {
			latest = norm
		}
	}
	if latest == 0 {
		return time.Time{}, nil
	}
	return time.Unix(latest, 0), nil
}

// NextTicketID increments the guild counter and returns the new value.
func (s *Store) NextTicketID(ctx context.Context, guildID string) (int64, error) {
	id, err := s.backend.IncrementTicketCounter(ctx, guildID)
	if err != nil {
		return 0, util.NewExternalServiceFailure("ticket counter", err)
	}
	return id, nil
}

// TicketCounter returns the current counter value without incrementing.
func (s *Store) TicketCounter(ctx context.Context, guildID string) (int64, error) {
	count, err := s.backend.TicketCounter(ctx, guildID)
	if err != nil {
		return 0, util.NewExternalServiceFailure("ticket counter", err)
	}
	return count, nil
}

// GuildConfig reads the guild's ticket subsystem configuration.
func (s *Store) GuildConfig(ctx context.Context, guildID string) (*domain.GuildConfig, error) {
	cfg, err := s.backend.GuildConfig(ctx, guildID)
	if err != nil {
		return nil, util.NewExternalServiceFailure("config read", err)
	}
	return cfg, nil
}

// SaveGuildConfig validates and writes the configuration. Unparsable
// thresholds are rejected before any mutation.
func (s *Store) SaveGuildConfig(ctx context.Context, guildID string, cfg *domain.GuildConfig) error {
	for _, entry := range cfg.RoleTimeLimits.Included {
		if _, err := timeparse.ParseThreshold(entry.Threshold); err != nil {
			return util.NewInvalidInput("unparsable role time limit", map[string]any{
				"role_id":   entry.RoleID,
				"threshold": entry.Threshold,
			})
		}
	}
	for _, rule := range cfg.AutoClose {
		if !rule.Enabled {
			continue
		}
		if _, err := timeparse.ParseThreshold(rule.Threshold); err != nil {
			return util.NewInvalidInput("unparsable auto-close threshold", map[string]any{
				"threshold": rule.Threshold,
			})
		}
	}
	if err := s.backend.SaveGuildConfig(ctx, guildID, cfg); err != nil {
		return util.NewExternalServiceFailure("config write", err)
	}
	return nil
}

func normalizeTimes(meta *domain.TicketMetadata) {
	meta.OpenTime = timeparse.NormalizeEpochSeconds(meta.OpenTime)
	meta.ClaimedTime = timeparse.NormalizeEpochSeconds(meta.ClaimedTime)
	meta.CloseTime = timeparse.NormalizeEpochSeconds(meta.CloseTime)
	meta.InactivityWarnedAt = timeparse.NormalizeEpochSeconds(meta.InactivityWarnedAt)
}
