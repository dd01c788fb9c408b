package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/spec-kit/guild-tickets/internal/events"
)

// NotificationService observes lifecycle events for operator visibility.
// Message delivery itself happens inside the state machine's fan-out; this
// layer only records what happened.
type NotificationService struct {
	dispatcher events.Dispatcher
	logger     *zap.Logger
}

// NewNotificationService creates the service.
func NewNotificationService(dispatcher events.Dispatcher, logger *zap.Logger) *NotificationService {
	return &NotificationService{
		dispatcher: dispatcher,
		logger:     logger,
	}
}

// RegisterHandlers subscribes to events.
func (n *NotificationService) RegisterHandlers() {
	if n.dispatcher == nil {
		return
	}
	n.dispatcher.Subscribe(events.EventTicketOpened, n.handleLifecycleEvent)
	n.dispatcher.Subscribe(events.EventTicketClaimed, n.handleLifecycleEvent)
	n.dispatcher.Subscribe(events.EventParticipantJoined, n.handleLifecycleEvent)
	n.dispatcher.Subscribe(events.EventTicketClosed, n.handleLifecycleEvent)
	n.dispatcher.Subscribe(events.EventTicketAutoClosed, n.handleLifecycleEvent)
	n.dispatcher.Subscribe(events.EventRatingSubmitted, n.handleLifecycleEvent)
}

func (n *NotificationService) handleLifecycleEvent(ctx context.Context, event events.Event) error {
	n.logger.Info(string(event.Type),
		zap.String("guild_id", event.GuildID),
		zap.String("thread_id", event.ThreadID),
		zap.String("actor", event.Actor.Username),
		zap.Any("payload", event.Payload))
	return nil
}
