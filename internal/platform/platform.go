// Package platform defines the chat-platform primitives the engine consumes.
// The engine never builds UI; it emits templated messages and lets the
// adapter decide how to render them.
package platform

import "context"

// Template names one of the engine's abstract notification messages.
type Template string

const (
	TemplateWelcome           Template = "welcome"
	TemplateAdminOpenNotice   Template = "admin_open_notice"
	TemplateClaimNotice       Template = "claim_notice"
	TemplateCloseConfirm      Template = "close_confirm"
	TemplateClosingNotice     Template = "closing_notice"
	TemplateInactivityWarning Template = "inactivity_warning"
	TemplateTranscript        Template = "transcript"
	TemplateRatingRequest     Template = "rating_request"
)

// Message is a render-this-templated-message request.
type Message struct {
	Template Template
	Fields   map[string]string
}

// ThreadRequest describes the private conversation to create for a ticket.
type ThreadRequest struct {
	GuildID string
	Name    string
	Topic   string
	// OpenerID and ModRoleIDs receive access to the thread.
	OpenerID   string
	ModRoleIDs []string
}

// Platform is the set of chat-platform primitives the engine needs. Every
// call may block on the network; implementations must honor the context.
type Platform interface {
	CreateThread(ctx context.Context, req ThreadRequest) (threadID string, err error)
	AddParticipant(ctx context.Context, guildID, threadID, userID string) error
	LockThread(ctx context.Context, guildID, threadID string) error

	SendMessage(ctx context.Context, channelID string, msg Message) (messageID string, err error)
	SendDirectMessage(ctx context.Context, userID string, msg Message) (messageID string, err error)
	EditMessage(ctx context.Context, channelID, messageID string, msg Message) error
	DeleteMessage(ctx context.Context, channelID, messageID string) error

	MemberRoles(ctx context.Context, guildID, userID string) ([]string, error)
	// HasAdmin is the platform-level capability bit, checked in addition to
	// the configured moderator roles.
	HasAdmin(ctx context.Context, guildID, userID string) (bool, error)
}
