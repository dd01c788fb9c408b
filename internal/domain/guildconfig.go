package domain

// RoleTimeLimit places a role under an explicit cooldown. Threshold is kept as
// the raw stored string: new config is always a formatted value like "24h",
// but historical records may carry bare numbers in seconds or milliseconds.
type RoleTimeLimit struct {
	RoleID    string `json:"role_id"`
	Threshold string `json:"threshold"`
}

// RoleTimeLimitConfig is the per-guild cooldown configuration. If a role
// appears in both lists, Excluded wins; exemption takes priority.
type RoleTimeLimitConfig struct {
	Included []RoleTimeLimit `json:"included"`
	Excluded []string        `json:"excluded"`
}

// AutoCloseRule configures one inactivity auto-close policy.
type AutoCloseRule struct {
	Enabled   bool   `json:"enabled"`
	Threshold string `json:"threshold"`
	Reason    string `json:"reason"`
}

// GuildConfig is the per-guild ticket subsystem configuration, read from the
// external config store. The engine reads it but does not own it.
type GuildConfig struct {
	Enabled             bool                `json:"enabled"`
	RoleTimeLimits      RoleTimeLimitConfig `json:"role_time_limits"`
	AutoClose           []AutoCloseRule     `json:"auto_close"`
	ModRoleIDs          []string            `json:"mods_role_ids"`
	AdminChannelID      string              `json:"admin_channel_id"`
	TranscriptChannelID string              `json:"transcript_channel_id"`
}

// ActiveAutoCloseRule returns the first enabled auto-close rule, or nil.
func (c *GuildConfig) ActiveAutoCloseRule() *AutoCloseRule {
	for i := range c.AutoClose {
		if c.AutoClose[i].Enabled {
			return &c.AutoClose[i]
		}
	}
	return nil
}
