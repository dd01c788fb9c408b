package domain

// TicketStatus enumerates lifecycle states for tickets.
type TicketStatus string

const (
	TicketStatusOpen   TicketStatus = "OPEN"
	TicketStatusClosed TicketStatus = "CLOSED"
	TicketStatusLocked TicketStatus = "LOCKED"
)

// Identity is a snapshot of the acting member at the time of the action,
// not a live reference into the platform's identity service.
type Identity struct {
	ID          string `json:"id"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
	Avatar      string `json:"avatar"`
}

// MessageRef points back at a previously sent notification message so it can
// be edited or deleted later.
type MessageRef struct {
	ChannelID string `json:"channel_id"`
	MessageID string `json:"message_id"`
}

// Rating captures a satisfaction score submitted after close.
type Rating struct {
	Value       int   `json:"value"`
	SubmittedAt int64 `json:"submitted_at"`
}

// TicketMetadata is the record for one open or recently-closed ticket. The
// thread ID is the primary key; timestamps are epoch seconds, though legacy
// records may carry millisecond values and are normalized on read.
type TicketMetadata struct {
	// TicketID is the per-guild ticket number, assigned by the counter
	// service. Combined with the opener's username it forms the thread name,
	// e.g. "42-wolf".
	TicketID int64 `json:"ticket_id"`

	ThreadID string `json:"thread_id"`
	GuildID  string `json:"guild_id"`

	OpenedBy  Identity  `json:"opened_by"`
	ClaimedBy *Identity `json:"claimed_by,omitempty"`
	ClosedBy  *Identity `json:"closed_by,omitempty"`

	OpenTime    int64 `json:"open_time"`
	ClaimedTime int64 `json:"claimed_time,omitempty"`
	CloseTime   int64 `json:"close_time,omitempty"`

	// TicketType is the free-text category resolved from the triggering
	// control at creation time.
	TicketType string `json:"ticket_type"`

	Status TicketStatus `json:"status"`
	Reason string       `json:"reason,omitempty"`

	AdminMessage      *MessageRef `json:"admin_channel,omitempty"`
	TranscriptMessage *MessageRef `json:"transcript_channel,omitempty"`

	Rating *Rating `json:"rating,omitempty"`

	// InactivityWarnedAt records when the auto-close sweep warned the
	// ticket, so a restart does not warn twice. Zero means not warned.
	InactivityWarnedAt int64 `json:"inactivity_warned_at,omitempty"`
}

// IsOpen reports whether the ticket is still open. Claiming does not change
// the status; a claimed ticket is still open.
func (t *TicketMetadata) IsOpen() bool {
	return t.Status == TicketStatusOpen
}

// IsClosed reports whether the ticket reached its terminal state.
func (t *TicketMetadata) IsClosed() bool {
	return t.Status == TicketStatusClosed || t.Status == TicketStatusLocked
}

// Claimed reports whether a moderator has claimed the ticket.
func (t *TicketMetadata) Claimed() bool {
	return t.ClaimedBy != nil
}
