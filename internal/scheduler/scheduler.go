// Package scheduler runs the recurring inactivity sweep: warn stale open
// tickets once, then auto-close them after a grace window.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/guild-tickets/internal/platform"
	"github.com/spec-kit/guild-tickets/internal/service"
	"github.com/spec-kit/guild-tickets/internal/store"
	"github.com/spec-kit/guild-tickets/internal/timeparse"
)

// Scheduler periodically scans for stale open tickets and drives them through
// auto-close. A ticket closed by a human between selection and action is
// skipped via the status re-check; cancellation of the grace wait is implicit
// through state observation, not a token.
type Scheduler struct {
	store    *store.Store
	service  *service.TicketService
	platform platform.Platform
	logger   *zap.Logger
	interval time.Duration
	grace    time.Duration
	guildIDs []string
	now      func() time.Time
}

// Dependencies bundles collaborators for the scheduler.
type Dependencies struct {
	Store    *store.Store
	Service  *service.TicketService
	Platform platform.Platform
	Logger   *zap.Logger
	Interval time.Duration
	Grace    time.Duration
	GuildIDs []string
	// Now overrides the clock; nil means time.Now.
	Now func() time.Time
}

// New constructs the scheduler.
func New(deps Dependencies) *Scheduler {
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	return &Scheduler{
		store:    deps.Store,
		service:  deps.Service,
		platform: deps.Platform,
		logger:   deps.Logger,
		interval: deps.Interval,
		grace:    deps.Grace,
		guildIDs: deps.GuildIDs,
		now:      now,
	}
}

// Run sweeps every interval until the context is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, guildID := range s.guildIDs {
				if err := s.Sweep(ctx, guildID); err != nil {
					s.logger.Warn("auto-close sweep failed",
						zap.String("guild_id", guildID), zap.Error(err))
				}
			}
			if evicted := s.store.ClearClosed(); evicted > 0 {
				s.logger.Debug("evicted closed tickets from cache", zap.Int("count", evicted))
			}
		}
	}
}

// Sweep runs one pass over a guild's open tickets.
func (s *Scheduler) Sweep(ctx context.Context, guildID string) error {
	cfg, err := s.store.GuildConfig(ctx, guildID)
	if err != nil {
		return err
	}
	if cfg == nil || !cfg.Enabled {
		return nil
	}
	rule := cfg.ActiveAutoCloseRule()
	if rule == nil {
		return nil
	}
	threshold, err := timeparse.ParseThreshold(rule.Threshold)
	if err != nil {
		// zero means invalid, not "close immediately"
		s.logger.Warn("invalid auto-close threshold",
			zap.String("guild_id", guildID), zap.String("threshold", rule.Threshold))
		return nil
	}

	tickets, err := s.store.ListActive(ctx, guildID)
	if err != nil {
		return err
	}

	now := s.now()
	for _, candidate := range tickets {
		if !staleBy(candidate.Metadata.OpenTime, threshold, now) {
			continue
		}

		// re-read right before acting: a human may have closed it since the
		// listing was taken
		meta, err := s.store.Get(ctx, guildID, candidate.ThreadID)
		if err != nil {
			s.logger.Warn("auto-close re-check failed",
				zap.String("thread_id", candidate.ThreadID), zap.Error(err))
			continue
		}
		if meta == nil || !meta.IsOpen() {
			continue
		}

		if meta.InactivityWarnedAt == 0 {
			if s.warn(ctx, meta.ThreadID, threshold) {
				meta.InactivityWarnedAt = now.Unix()
				if err := s.store.Set(ctx, meta); err != nil {
					s.logger.Warn("persisting inactivity warning failed",
						zap.String("thread_id", meta.ThreadID), zap.Error(err))
				}
			}
			continue
		}

		if now.Unix()-meta.InactivityWarnedAt < int64(s.grace.Seconds()) {
			continue
		}

		if err := s.service.AutoClose(ctx, guildID, meta.ThreadID, rule.Reason); err != nil {
			s.logger.Warn("auto-close failed",
				zap.String("thread_id", meta.ThreadID), zap.Error(err))
		}
	}
	return nil
}

func (s *Scheduler) warn(ctx context.Context, threadID string, threshold time.Duration) bool {
	_, err := s.platform.SendMessage(ctx, threadID, platform.Message{
		Template: platform.TemplateInactivityWarning,
		Fields: map[string]string{
			"body": fmt.Sprintf(
				"This ticket has been inactive for more than %s and will be closed automatically in %s.",
				timeparse.Format(threshold), timeparse.Format(s.grace)),
		},
	})
	if err != nil {
		s.logger.Warn("inactivity warning failed",
			zap.String("thread_id", threadID), zap.Error(err))
		return false
	}
	return true
}

func staleBy(openTime int64, threshold time.Duration, now time.Time) bool {
	if openTime == 0 {
		return false
	}
	return now.Unix()-openTime >= int64(threshold.Seconds())
}
