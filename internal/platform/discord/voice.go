package discord

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

// ResolveChannel проверяет, что цель существует, принадлежит гильдии и является голосовым каналом.
func (c *Client) ResolveChannel(ctx context.Context, channelID string) error {
	ch, err := c.s.State.Channel(channelID)
	if err != nil {
		ch, err = c.s.Channel(channelID, discordgo.WithContext(ctx))
		if err != nil {
			return classifyError(err)
		}
	}
	if ch.GuildID != c.cfg.GuildID {
		return fmt.Errorf("channel %s belongs to guild %s", channelID, ch.GuildID)
	}
	if ch.Type != discordgo.ChannelTypeGuildVoice && ch.Type != discordgo.ChannelTypeGuildStageVoice {
		return fmt.Errorf("channel %s is not a voice channel (type %d)", channelID, ch.Type)
	}
	return nil
}

func (c *Client) voiceConnection() *discordgo.VoiceConnection {
	c.s.RLock()
	defer c.s.RUnlock()
	return c.s.VoiceConnections[c.cfg.GuildID]
}

// CurrentChannel — канал, в котором сейчас сидит бот, или пустая строка.
func (c *Client) CurrentChannel() string {
	vc := c.voiceConnection()
	if vc == nil {
		return ""
	}
	vc.RLock()
	defer vc.RUnlock()
	return vc.ChannelID
}

type joinResult struct {
	vc  *discordgo.VoiceConnection
	err error
}

// Connect подключается к каналу. Таймаут задает ctx.
func (c *Client) Connect(ctx context.Context, channelID string) error {
	done := make(chan joinResult, 1)
	go func() {
		vc, err := c.s.ChannelVoiceJoin(c.cfg.GuildID, channelID, false, true)
		done <- joinResult{vc: vc, err: err}
	}()

	select {
	case res := <-done:
		return res.err
	case <-ctx.Done():
		// Join продолжит работу в фоне; опоздавшее подключение подхватит CurrentChannel
		go func() {
			if res := <-done; res.err == nil {
				c.logger.Warn("voice join completed after deadline", zap.String("channel_id", channelID))
			}
		}()
		return ctx.Err()
	}
}

// Disconnect выходит из голосового канала. force — отправить leave даже без активного соединения.
func (c *Client) Disconnect(_ context.Context, force bool) error {
	vc := c.voiceConnection()
	if vc != nil {
		if err := vc.Disconnect(); err != nil {
			return fmt.Errorf("voice disconnect: %w", err)
		}
		return nil
	}
	if !force {
		return nil
	}
	if err := c.s.ChannelVoiceJoinManual(c.cfg.GuildID, "", false, true); err != nil {
		return fmt.Errorf("voice leave: %w", err)
	}
	return nil
}
