package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spec-kit/guild-tickets/internal/cooldown"
	"github.com/spec-kit/guild-tickets/internal/domain"
	"github.com/spec-kit/guild-tickets/internal/events"
	"github.com/spec-kit/guild-tickets/internal/observability"
	"github.com/spec-kit/guild-tickets/internal/platform"
	"github.com/spec-kit/guild-tickets/internal/store"
	"github.com/spec-kit/guild-tickets/pkg/util"
)

// TicketService drives the ticket lifecycle: open, claim, join, close and
// auto-close. It holds no locks; operations on the same thread rely on the
// read-before-write idempotency checks, which is acceptable because the worst
// race outcome is a duplicated notification.
type TicketService struct {
	store      *store.Store
	platform   platform.Platform
	dispatcher events.Dispatcher
	metrics    *observability.Metrics
	logger     *zap.Logger
	systemName string
	now        func() time.Time
}

// Dependencies bundles collaborators for the ticket service.
type Dependencies struct {
	Store      *store.Store
	Platform   platform.Platform
	Dispatcher events.Dispatcher
	Metrics    *observability.Metrics
	Logger     *zap.Logger
	SystemName string
	// Now overrides the clock; nil means time.Now.
	Now func() time.Time
}

// NewTicketService constructs the service.
func NewTicketService(deps Dependencies) *TicketService {
	systemName := deps.SystemName
	if systemName == "" {
		systemName = "Ticket System"
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	return &TicketService{
		store:      deps.Store,
		platform:   deps.Platform,
		dispatcher: deps.Dispatcher,
		metrics:    deps.Metrics,
		logger:     deps.Logger,
		systemName: systemName,
		now:        now,
	}
}

// OpenInput describes a ticket-open trigger.
type OpenInput struct {
	GuildID    string
	Actor      domain.Identity
	TicketType string
}

// Open creates a ticket. Guards: subsystem enabled and the cooldown
// calculator allowing the actor. Counter or conversation failure aborts with
// no metadata written.
func (s *TicketService) Open(ctx context.Context, input OpenInput) (*domain.TicketMetadata, error) {
	cfg, err := s.guildConfig(ctx, input.GuildID)
	if err != nil {
		return nil, err
	}
	if !cfg.Enabled {
		s.metrics.RecordOperation("open", "disabled")
		return nil, util.NewConfigurationError("ticket system is disabled")
	}

	roles, err := s.platform.MemberRoles(ctx, input.GuildID, input.Actor.ID)
	if err != nil {
		return nil, util.NewExternalServiceFailure("member lookup", err)
	}
	lastOpen, err := s.store.LastOpenTime(ctx, input.GuildID, input.Actor.ID)
	if err != nil {
		return nil, err
	}
	decision := cooldown.CanOpen(roles, cfg.RoleTimeLimits, lastOpen, s.now())
	if !decision.Allowed {
		s.metrics.RecordOperation("open", "cooldown")
		return nil, util.NewCooldownActive(decision.RetryAt, decision.Limit)
	}

	ticketID, err := s.store.NextTicketID(ctx, input.GuildID)
	if err != nil {
		s.metrics.RecordOperation("open", "error")
		return nil, err
	}

	threadID, err := s.platform.CreateThread(ctx, platform.ThreadRequest{
		GuildID:    input.GuildID,
		Name:       fmt.Sprintf("%d-%s", ticketID, sanitizeName(input.Actor.Username)),
		Topic:      input.TicketType,
		OpenerID:   input.Actor.ID,
		ModRoleIDs: cfg.ModRoleIDs,
	})
	if err != nil {
		s.metrics.RecordOperation("open", "error")
		return nil, util.NewExternalServiceFailure("conversation create", err)
	}

	meta := &domain.TicketMetadata{
		TicketID:   ticketID,
		ThreadID:   threadID,
		GuildID:    input.GuildID,
		OpenedBy:   input.Actor,
		OpenTime:   s.now().Unix(),
		TicketType: input.TicketType,
		Status:     domain.TicketStatusOpen,
	}
	if err := s.store.Create(ctx, meta); err != nil {
		s.metrics.RecordOperation("open", "error")
		return nil, err
	}

	s.trySend(ctx, threadID, platform.Message{
		Template: platform.TemplateWelcome,
		Fields: map[string]string{
			"body":        fmt.Sprintf("Hi %s, a moderator will be with you shortly.", input.Actor.DisplayName),
			"ticket_type": input.TicketType,
		},
	}, "welcome message")

	if cfg.AdminChannelID != "" {
		messageID := s.trySend(ctx, cfg.AdminChannelID, platform.Message{
			Template: platform.TemplateAdminOpenNotice,
			Fields: map[string]string{
				"body":      fmt.Sprintf("Ticket #%d opened by %s.", ticketID, input.Actor.Username),
				"ticket":    fmt.Sprintf("#%d", ticketID),
				"opened_by": input.Actor.Username,
			},
		}, "admin open notice")
		if messageID != "" {
			meta.AdminMessage = &domain.MessageRef{ChannelID: cfg.AdminChannelID, MessageID: messageID}
			s.store.SetAsync(ctx, meta)
		}
	}

	s.publishEvent(ctx, events.Event{
		Type:     events.EventTicketOpened,
		GuildID:  input.GuildID,
		ThreadID: threadID,
		Actor:    input.Actor,
		Payload:  events.TicketOpenedPayload{TicketID: ticketID, TicketType: input.TicketType},
	})
	s.metrics.RecordOperation("open", "ok")
	return meta, nil
}

// ClaimOutcome distinguishes the success-shaped claim results.
type ClaimOutcome string

const (
	ClaimOutcomeClaimed        ClaimOutcome = "claimed"
	ClaimOutcomeAlreadyYours   ClaimOutcome = "already_yours"
	ClaimOutcomeAlreadyClaimed ClaimOutcome = "already_claimed"
)

// ClaimResult reports who holds the claim after the call.
type ClaimResult struct {
	Outcome ClaimOutcome
	Holder  domain.Identity
}

// Claim marks the actor as primary responder. Already-claimed is not an
// error: claiming your own claim and hitting someone else's claim are both
// reported as outcomes, and claimed_by is never overwritten.
func (s *TicketService) Claim(ctx context.Context, guildID, threadID string, actor domain.Identity) (*ClaimResult, error) {
	cfg, err := s.guildConfig(ctx, guildID)
	if err != nil {
		return nil, err
	}
	if err := s.requireModerator(ctx, guildID, actor.ID, cfg); err != nil {
		return nil, err
	}

	// Read immediately before the write; the idempotency check below is the
	// only defense against a concurrent claim.
	meta, err := s.openTicket(ctx, guildID, threadID)
	if err != nil {
		return nil, err
	}

	if meta.ClaimedBy != nil {
		outcome := ClaimOutcomeAlreadyClaimed
		if meta.ClaimedBy.ID == actor.ID {
			outcome = ClaimOutcomeAlreadyYours
		}
		s.metrics.RecordOperation("claim", string(outcome))
		return &ClaimResult{Outcome: outcome, Holder: *meta.ClaimedBy}, nil
	}

	meta.ClaimedBy = &actor
	meta.ClaimedTime = s.now().Unix()
	if err := s.store.Set(ctx, meta); err != nil {
		// roll forward on the in-memory state; an operator reconciles later
		s.logger.Error("claim persisted in memory only",
			zap.String("thread_id", threadID), zap.Error(err))
	}

	s.trySend(ctx, threadID, platform.Message{
		Template: platform.TemplateClaimNotice,
		Fields: map[string]string{
			"body": fmt.Sprintf("%s will be handling this ticket.", actor.DisplayName),
		},
	}, "claim notice")

	s.publishEvent(ctx, events.Event{
		Type:     events.EventTicketClaimed,
		GuildID:  guildID,
		ThreadID: threadID,
		Actor:    actor,
		Payload:  events.TicketClaimedPayload{TicketID: meta.TicketID},
	})
	s.metrics.RecordOperation("claim", "ok")
	return &ClaimResult{Outcome: ClaimOutcomeClaimed, Holder: actor}, nil
}

// Join adds the actor to the conversation. Moderator capability required; no
// metadata changes.
func (s *TicketService) Join(ctx context.Context, guildID, threadID string, actor domain.Identity) error {
	cfg, err := s.guildConfig(ctx, guildID)
	if err != nil {
		return err
	}
	if err := s.requireModerator(ctx, guildID, actor.ID, cfg); err != nil {
		return err
	}
	meta, err := s.openTicket(ctx, guildID, threadID)
	if err != nil {
		return err
	}
	if err := s.platform.AddParticipant(ctx, guildID, threadID, actor.ID); err != nil {
		return util.NewExternalServiceFailure("add participant", err)
	}
	s.publishEvent(ctx, events.Event{
		Type:     events.EventParticipantJoined,
		GuildID:  guildID,
		ThreadID: threadID,
		Actor:    actor,
		Payload:  events.ParticipantJoinedPayload{TicketID: meta.TicketID},
	})
	s.metrics.RecordOperation("join", "ok")
	return nil
}

// RequestClose sends a close-confirmation prompt into the thread. It does not
// close the ticket.
func (s *TicketService) RequestClose(ctx context.Context, guildID, threadID string, actor domain.Identity) error {
	cfg, err := s.guildConfig(ctx, guildID)
	if err != nil {
		return err
	}
	meta, err := s.openTicket(ctx, guildID, threadID)
	if err != nil {
		return err
	}
	if err := s.requireOwnerOrModerator(ctx, guildID, actor, meta, cfg); err != nil {
		return err
	}
	_, err = s.platform.SendMessage(ctx, threadID, platform.Message{
		Template: platform.TemplateCloseConfirm,
		Fields: map[string]string{
			"body":         fmt.Sprintf("%s wants to close this ticket. Confirm to proceed.", actor.DisplayName),
			"requested_by": actor.Username,
		},
	})
	if err != nil {
		return util.NewExternalServiceFailure("close prompt", err)
	}
	return nil
}

// ConfirmClose closes the ticket. Terminal: the engine never reopens.
func (s *TicketService) ConfirmClose(ctx context.Context, guildID, threadID string, actor domain.Identity, reason string) error {
	cfg, err := s.guildConfig(ctx, guildID)
	if err != nil {
		return err
	}
	meta, err := s.openTicket(ctx, guildID, threadID)
	if err != nil {
		return err
	}
	if err := s.requireOwnerOrModerator(ctx, guildID, actor, meta, cfg); err != nil {
		return err
	}
	s.closeTicket(ctx, cfg, meta, actor, reason, false)
	s.metrics.RecordOperation("close", "ok")
	return nil
}

// AutoClose is the system-triggered close. It bypasses the owner/moderator
// guard entirely; time, not permission, is the trigger. A ticket that was
// closed by a human between selection and action is skipped silently.
func (s *TicketService) AutoClose(ctx context.Context, guildID, threadID, reason string) error {
	cfg, err := s.guildConfig(ctx, guildID)
	if err != nil {
		return err
	}
	meta, err := s.store.Get(ctx, guildID, threadID)
	if err != nil {
		return err
	}
	if meta == nil {
		return util.NewNotFound("ticket", map[string]any{"thread_id": threadID})
	}
	if meta.IsClosed() {
		return nil
	}
	s.closeTicket(ctx, cfg, meta, s.systemIdentity(), reason, true)
	s.metrics.RecordOperation("auto_close", "ok")
	return nil
}

// SubmitRating records a satisfaction score on a closed ticket and updates
// the transcript message.
func (s *TicketService) SubmitRating(ctx context.Context, guildID, threadID string, actor domain.Identity, value int) error {
	meta, err := s.store.Get(ctx, guildID, threadID)
	if err != nil {
		return err
	}
	if meta == nil {
		return util.NewNotFound("ticket", map[string]any{"thread_id": threadID})
	}
	if !meta.IsClosed() {
		return util.NewConflict("ticket is still open", nil)
	}
	if meta.OpenedBy.ID != actor.ID {
		return util.NewPermissionDenied("only the ticket opener can rate it")
	}
	if value < 1 || value > 5 {
		return util.NewInvalidInput("rating must be between 1 and 5", map[string]any{"value": value})
	}

	meta.Rating = &domain.Rating{Value: value, SubmittedAt: s.now().Unix()}
	s.store.SetAsync(ctx, meta)

	if ref := meta.TranscriptMessage; ref != nil {
		err := s.platform.EditMessage(ctx, ref.ChannelID, ref.MessageID, platform.Message{
			Template: platform.TemplateTranscript,
			Fields: map[string]string{
				"body":   fmt.Sprintf("Ticket #%d", meta.TicketID),
				"reason": meta.Reason,
				"rating": fmt.Sprintf("%d/5", value),
			},
		})
		if err != nil {
			s.logger.Warn("transcript rating update failed",
				zap.String("thread_id", threadID), zap.Error(err))
		}
	}

	s.publishEvent(ctx, events.Event{
		Type:     events.EventRatingSubmitted,
		GuildID:  guildID,
		ThreadID: threadID,
		Actor:    actor,
		Payload:  events.RatingSubmittedPayload{TicketID: meta.TicketID, Value: value},
	})
	return nil
}

// closeTicket commits the terminal state, then runs the best-effort fan-out.
// Notification failures are logged and swallowed individually; the closure
// itself is the primary guarantee and must never be blocked by them.
func (s *TicketService) closeTicket(ctx context.Context, cfg *domain.GuildConfig, meta *domain.TicketMetadata, actor domain.Identity, reason string, auto bool) {
	meta.ClosedBy = &actor
	meta.CloseTime = s.now().Unix()
	meta.Reason = reason
	meta.Status = domain.TicketStatusClosed
	if err := s.store.Set(ctx, meta); err != nil {
		s.logger.Error("close persisted in memory only",
			zap.String("thread_id", meta.ThreadID), zap.Error(err))
	}

	s.trySend(ctx, meta.ThreadID, platform.Message{
		Template: platform.TemplateClosingNotice,
		Fields: map[string]string{
			"body":      fmt.Sprintf("Ticket closed by %s.", actor.DisplayName),
			"reason":    reason,
			"closed_by": actor.Username,
		},
	}, "closing notice")

	if cfg.TranscriptChannelID != "" {
		messageID := s.trySend(ctx, cfg.TranscriptChannelID, platform.Message{
			Template: platform.TemplateTranscript,
			Fields: map[string]string{
				"body":      fmt.Sprintf("Ticket #%d", meta.TicketID),
				"opened_by": meta.OpenedBy.Username,
				"closed_by": actor.Username,
				"reason":    reason,
			},
		}, "transcript delivery")
		if messageID != "" {
			meta.TranscriptMessage = &domain.MessageRef{ChannelID: cfg.TranscriptChannelID, MessageID: messageID}
			s.store.SetAsync(ctx, meta)
		}
	}

	if ref := meta.AdminMessage; ref != nil {
		if err := s.platform.DeleteMessage(ctx, ref.ChannelID, ref.MessageID); err != nil {
			s.logger.Warn("admin notice cleanup failed",
				zap.String("thread_id", meta.ThreadID), zap.Error(err))
		}
	}

	if _, err := s.platform.SendDirectMessage(ctx, meta.OpenedBy.ID, platform.Message{
		Template: platform.TemplateRatingRequest,
		Fields: map[string]string{
			"body":   fmt.Sprintf("Your ticket #%d was closed. How would you rate the support you received?", meta.TicketID),
			"reason": reason,
		},
	}); err != nil {
		s.logger.Warn("rating request failed",
			zap.String("thread_id", meta.ThreadID), zap.Error(err))
	}

	if err := s.platform.LockThread(ctx, meta.GuildID, meta.ThreadID); err != nil {
		s.logger.Warn("thread lock failed",
			zap.String("thread_id", meta.ThreadID), zap.Error(err))
	} else {
		meta.Status = domain.TicketStatusLocked
		s.store.SetAsync(ctx, meta)
	}

	eventType := events.EventTicketClosed
	if auto {
		eventType = events.EventTicketAutoClosed
	}
	s.publishEvent(ctx, events.Event{
		Type:     eventType,
		GuildID:  meta.GuildID,
		ThreadID: meta.ThreadID,
		Actor:    actor,
		Payload:  events.TicketClosedPayload{TicketID: meta.TicketID, Reason: reason, Auto: auto},
	})
}

func (s *TicketService) guildConfig(ctx context.Context, guildID string) (*domain.GuildConfig, error) {
	cfg, err := s.store.GuildConfig(ctx, guildID)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		return nil, util.NewConfigurationError("ticket system is not configured for this guild")
	}
	return cfg, nil
}

func (s *TicketService) openTicket(ctx context.Context, guildID, threadID string) (*domain.TicketMetadata, error) {
	meta, err := s.store.Get(ctx, guildID, threadID)
	if err != nil {
		return nil, err
	}
	if meta == nil {
		return nil, util.NewNotFound("ticket", map[string]any{"thread_id": threadID})
	}
	if meta.IsClosed() {
		return nil, util.NewConflict("ticket is already closed", map[string]any{"thread_id": threadID})
	}
	return meta, nil
}

func (s *TicketService) requireModerator(ctx context.Context, guildID, userID string, cfg *domain.GuildConfig) error {
	roles, err := s.platform.MemberRoles(ctx, guildID, userID)
	if err != nil {
		return util.NewExternalServiceFailure("member lookup", err)
	}
	for _, roleID := range roles {
		for _, modRoleID := range cfg.ModRoleIDs {
			if roleID == modRoleID {
				return nil
			}
		}
	}
	admin, err := s.platform.HasAdmin(ctx, guildID, userID)
	if err != nil {
		return util.NewExternalServiceFailure("capability check", err)
	}
	if admin {
		return nil
	}
	return util.NewPermissionDenied("moderator role required")
}

func (s *TicketService) requireOwnerOrModerator(ctx context.Context, guildID string, actor domain.Identity, meta *domain.TicketMetadata, cfg *domain.GuildConfig) error {
	if meta.OpenedBy.ID == actor.ID {
		return nil
	}
	return s.requireModerator(ctx, guildID, actor.ID, cfg)
}

func (s *TicketService) systemIdentity() domain.Identity {
	return domain.Identity{ID: "system", Username: "system", DisplayName: s.systemName}
}

// trySend delivers a best-effort notification and returns the message ID, or
// empty on failure.
func (s *TicketService) trySend(ctx context.Context, channelID string, msg platform.Message, what string) string {
	messageID, err := s.platform.SendMessage(ctx, channelID, msg)
	if err != nil {
		s.logger.Warn(what+" failed", zap.String("channel_id", channelID), zap.Error(err))
		return ""
	}
	return messageID
}

func (s *TicketService) publishEvent(ctx context.Context, event events.Event) {
	if s.dispatcher == nil {
		return
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = s.now()
	}
	_ = s.dispatcher.Publish(ctx, event)
}

func sanitizeName(username string) string {
	lowered := strings.ToLower(strings.TrimSpace(username))
	var b strings.Builder
	for _, r := range lowered {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-':
			b.WriteRune(r)
		case r == ' ', r == '_':
			b.WriteRune('-')
		}
	}
	name := strings.Trim(b.String(), "-")
	if name == "" {
		name = "ticket"
	}
	if len(name) > 80 {
		name = name[:80]
	}
	return name
}
