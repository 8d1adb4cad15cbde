package discord

import (
	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"github.com/xela07ax/repbot/internal/domain"
	"github.com/xela07ax/repbot/internal/voice"
)

func (c *Client) onReady(s *discordgo.Session, r *discordgo.Ready) {
	if r.User != nil {
		c.setBotUserID(r.User.ID)
		c.logger.Info("discord session ready",
			zap.String("user", r.User.Username),
			zap.String("user_id", r.User.ID))
	}

	if err := s.UpdateStreamingStatus(0, c.cfg.Marker, c.cfg.StreamURL); err != nil {
		c.logger.Warn("failed to set streaming status", zap.Error(err))
	}

	if h := c.currentHandlers(); h.Registration != nil && r.User != nil {
		if _, err := s.ApplicationCommandCreate(r.User.ID, c.cfg.GuildID, panelCommand); err != nil {
			c.logger.Error("failed to register panel command", zap.Error(err))
		}
	}

	c.readyOnce.Do(func() { close(c.ready) })
}

// onVoiceStateUpdate — собственная голосовая сессия бота в целевой гильдии потеряна.
func (c *Client) onVoiceStateUpdate(_ *discordgo.Session, v *discordgo.VoiceStateUpdate) {
	if v == nil || v.VoiceState == nil {
		return
	}
	if v.UserID != c.BotUserID() || v.GuildID != c.cfg.GuildID || v.ChannelID != "" {
		return
	}

	h := c.currentHandlers()
	if h.Disconnects == nil {
		return
	}

	ev := voice.DisconnectEvent{GuildID: v.GuildID, Source: "gateway"}
	if v.BeforeUpdate != nil {
		ev.ChannelBefore = v.BeforeUpdate.ChannelID
	}
	h.Disconnects.NotifyDisconnect(ev)
}

func (c *Client) onGuildMemberUpdate(_ *discordgo.Session, m *discordgo.GuildMemberUpdate) {
	if m == nil || m.Member == nil || m.BeforeUpdate == nil || m.User == nil {
		return
	}
	if m.GuildID != c.cfg.GuildID {
		return
	}

	wasBooster := m.BeforeUpdate.PremiumSince != nil
	isBooster := m.PremiumSince != nil
	if wasBooster == isBooster {
		return
	}

	h := c.currentHandlers()
	if h.Boosts == nil {
		return
	}

	subj := domain.Subject{ID: m.User.ID, Label: memberLabel(m.Member)}
	h.Boosts.HandleTransition(c.baseCtx, subj, wasBooster, isBooster, memberHasRole(m.Member, h.BoosterRole))
}

func (c *Client) onInteractionCreate(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if i == nil || i.Interaction == nil || i.GuildID != c.cfg.GuildID {
		return
	}

	switch i.Type {
	case discordgo.InteractionApplicationCommand:
		if i.ApplicationCommandData().Name == panelCommandName {
			c.handlePanelCommand(s, i)
		}
	case discordgo.InteractionMessageComponent:
		if i.MessageComponentData().CustomID == statusCheckButton {
			c.handleStatusCheck(s, i)
		}
	}
}

func (c *Client) handlePanelCommand(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if c.cfg.PanelChannelID != "" && i.ChannelID != c.cfg.PanelChannelID {
		c.logger.Info("panel command in wrong channel",
			zap.String("channel_id", i.ChannelID),
			zap.String("expected", c.cfg.PanelChannelID))
		c.respondEphemeral(s, i, replyWrongChannel)
		return
	}

	err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: panelMessage(c.cfg.Marker),
	})
	if err != nil {
		c.logger.Error("failed to post registration panel", zap.Error(err))
	}
}

// handleStatusCheck — регистрация и немедленная оценка. Ответ отложенный: оценка ходит в REST.
func (c *Client) handleStatusCheck(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.Member == nil || i.Member.User == nil {
		c.respondEphemeral(s, i, replyNoMember)
		return
	}

	h := c.currentHandlers()
	if h.Registration == nil {
		c.respondEphemeral(s, i, replyFailed)
		return
	}

	err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Flags: discordgo.MessageFlagsEphemeral},
	})
	if err != nil {
		c.logger.Error("failed to defer interaction", zap.Error(err))
		return
	}

	subj := domain.Subject{ID: i.Member.User.ID, Label: memberLabel(i.Member)}
	h.Registration.Register(subj.ID)
	out, evalErr := h.Registration.Evaluate(c.baseCtx, subj)
	if evalErr != nil {
		c.logger.Error("status check failed",
			zap.String("subject_id", subj.ID),
			zap.Error(evalErr))
	}

	_, err = s.FollowupMessageCreate(i.Interaction, true, &discordgo.WebhookParams{
		Content: statusReply(out, evalErr, c.cfg.Marker),
		Flags:   discordgo.MessageFlagsEphemeral,
	})
	if err != nil {
		c.logger.Error("failed to send status check reply", zap.Error(err))
	}
}

func (c *Client) respondEphemeral(s *discordgo.Session, i *discordgo.InteractionCreate, content string) {
	err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: content,
			Flags:   discordgo.MessageFlagsEphemeral,
		},
	})
	if err != nil {
		c.logger.Error("failed to respond to interaction", zap.Error(err))
	}
}
