// Package discord adapts the engine's platform contract to Discord. Tickets
// are private text channels with permission overwrites for the opener and the
// configured moderator roles.
package discord

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"github.com/spec-kit/guild-tickets/internal/platform"
)

const memberPermissions = discordgo.PermissionViewChannel |
	discordgo.PermissionSendMessages |
	discordgo.PermissionReadMessageHistory |
	discordgo.PermissionAttachFiles

// Adapter implements platform.Platform over a discordgo session.
type Adapter struct {
	session *discordgo.Session
	logger  *zap.Logger
}

// New builds the adapter around an open session.
func New(session *discordgo.Session, logger *zap.Logger) *Adapter {
	return &Adapter{session: session, logger: logger}
}

// Connect opens a session for the given bot token.
func Connect(token string, logger *zap.Logger) (*discordgo.Session, error) {
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsGuildMembers
	if err := session.Open(); err != nil {
		return nil, fmt.Errorf("open session: %w", err)
	}
	logger.Info("connected to discord")
	return session, nil
}

func (a *Adapter) CreateThread(ctx context.Context, req platform.ThreadRequest) (string, error) {
	overwrites := []*discordgo.PermissionOverwrite{
		{
			// @everyone shares its ID with the guild
			ID:   req.GuildID,
			Type: discordgo.PermissionOverwriteTypeRole,
			Deny: discordgo.PermissionViewChannel,
		},
		{
			ID:    req.OpenerID,
			Type:  discordgo.PermissionOverwriteTypeMember,
			Allow: memberPermissions,
		},
	}
	for _, roleID := range req.ModRoleIDs {
		overwrites = append(overwrites, &discordgo.PermissionOverwrite{
			ID:    roleID,
			Type:  discordgo.PermissionOverwriteTypeRole,
			Allow: memberPermissions,
		})
	}

	channel, err := a.session.GuildChannelCreateComplex(req.GuildID, discordgo.GuildChannelCreateData{
		Name:                 req.Name,
		Type:                 discordgo.ChannelTypeGuildText,
		Topic:                req.Topic,
		PermissionOverwrites: overwrites,
	}, discordgo.WithContext(ctx))
	if err != nil {
		return "", fmt.Errorf("create ticket channel: %w", err)
	}
	return channel.ID, nil
}

func (a *Adapter) AddParticipant(ctx context.Context, guildID, threadID, userID string) error {
	err := a.session.ChannelPermissionSet(threadID, userID,
		discordgo.PermissionOverwriteTypeMember, memberPermissions, 0,
		discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("add participant: %w", err)
	}
	return nil
}

func (a *Adapter) LockThread(ctx context.Context, guildID, threadID string) error {
	err := a.session.ChannelPermissionSet(threadID, guildID,
		discordgo.PermissionOverwriteTypeRole, 0,
		discordgo.PermissionViewChannel|discordgo.PermissionSendMessages,
		discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("lock ticket channel: %w", err)
	}
	return nil
}

func (a *Adapter) SendMessage(ctx context.Context, channelID string, msg platform.Message) (string, error) {
	sent, err := a.session.ChannelMessageSendEmbed(channelID, render(msg), discordgo.WithContext(ctx))
	if err != nil {
		return "", fmt.Errorf("send message: %w", err)
	}
	return sent.ID, nil
}

func (a *Adapter) SendDirectMessage(ctx context.Context, userID string, msg platform.Message) (string, error) {
	channel, err := a.session.UserChannelCreate(userID, discordgo.WithContext(ctx))
	if err != nil {
		return "", fmt.Errorf("open direct channel: %w", err)
	}
	sent, err := a.session.ChannelMessageSendEmbed(channel.ID, render(msg), discordgo.WithContext(ctx))
	if err != nil {
		return "", fmt.Errorf("send direct message: %w", err)
	}
	return sent.ID, nil
}

func (a *Adapter) EditMessage(ctx context.Context, channelID, messageID string, msg platform.Message) error {
	_, err := a.session.ChannelMessageEditEmbed(channelID, messageID, render(msg), discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("edit message: %w", err)
	}
	return nil
}

func (a *Adapter) DeleteMessage(ctx context.Context, channelID, messageID string) error {
	if err := a.session.ChannelMessageDelete(channelID, messageID, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	return nil
}

func (a *Adapter) MemberRoles(ctx context.Context, guildID, userID string) ([]string, error) {
	member, err := a.session.GuildMember(guildID, userID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("fetch member: %w", err)
	}
	return member.Roles, nil
}

func (a *Adapter) HasAdmin(ctx context.Context, guildID, userID string) (bool, error) {
	member, err := a.session.GuildMember(guildID, userID, discordgo.WithContext(ctx))
	if err != nil {
		return false, fmt.Errorf("fetch member: %w", err)
	}
	guild, err := a.session.State.Guild(guildID)
	if err != nil {
		guild, err = a.session.Guild(guildID, discordgo.WithContext(ctx))
		if err != nil {
			return false, fmt.Errorf("fetch guild: %w", err)
		}
	}
	if guild.OwnerID == userID {
		return true, nil
	}
	for _, roleID := range member.Roles {
		for _, role := range guild.Roles {
			if role.ID != roleID {
				continue
			}
			if role.Permissions&discordgo.PermissionAdministrator != 0 {
				return true, nil
			}
		}
	}
	return false, nil
}

var templateTitles = map[platform.Template]string{
	platform.TemplateWelcome:           "Support Ticket",
	platform.TemplateAdminOpenNotice:   "Ticket Opened",
	platform.TemplateClaimNotice:       "Ticket Claimed",
	platform.TemplateCloseConfirm:      "Close this ticket?",
	platform.TemplateClosingNotice:     "Ticket Closed",
	platform.TemplateInactivityWarning: "Inactivity Warning",
	platform.TemplateTranscript:        "Ticket Transcript",
	platform.TemplateRatingRequest:     "How did we do?",
}

func render(msg platform.Message) *discordgo.MessageEmbed {
	embed := &discordgo.MessageEmbed{
		Title: templateTitles[msg.Template],
	}
	if body, ok := msg.Fields["body"]; ok {
		embed.Description = body
	}
	for name, value := range msg.Fields {
		if name == "body" {
			continue
		}
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name:   name,
			Value:  value,
			Inline: true,
		})
	}
	return embed
}
