package discord

import (
	"context"
	"errors"
	"fmt"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"github.com/xela07ax/repbot/internal/domain"
)

// member — сначала кэш состояния, затем REST.
func (c *Client) member(ctx context.Context, subjectID string) (*discordgo.Member, error) {
	if m, err := c.s.State.Member(c.cfg.GuildID, subjectID); err == nil {
		return m, nil
	} else if !errors.Is(err, discordgo.ErrStateNotFound) {
		return nil, fmt.Errorf("state member %s: %w", subjectID, err)
	}

	m, err := c.s.GuildMember(c.cfg.GuildID, subjectID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, err
	}
	m.GuildID = c.cfg.GuildID
	if addErr := c.s.State.MemberAdd(m); addErr != nil {
		c.logger.Debug("failed to cache member", zap.String("subject_id", subjectID), zap.Error(addErr))
	}
	return m, nil
}

// Members возвращает тех из ids, кто всё ещё состоит в гильдии.
// Сбой по одному участнику пропускает только его; ошибка возвращается,
// лишь когда не удалось получить ни одного.
func (c *Client) Members(ctx context.Context, ids []string) ([]domain.Subject, error) {
	out := make([]domain.Subject, 0, len(ids))
	var (
		failed  int
		lastErr error
	)
	for _, id := range ids {
		m, err := c.member(ctx, id)
		if err != nil {
			if isUnknownMember(err) {
				continue
			}
			failed++
			lastErr = fmt.Errorf("fetch member %s: %w", id, classifyError(err))
			c.logger.Warn("member fetch failed, skipping subject",
				zap.String("subject_id", id), zap.Error(lastErr))
			continue
		}
		out = append(out, domain.Subject{ID: id, Label: memberLabel(m)})
	}
	if failed > 0 && failed == len(ids) {
		return nil, lastErr
	}
	return out, nil
}

// Activities — описания активностей участника: State и Name каждой активности.
// Офлайн участник без presence в кэше дает пустой список.
func (c *Client) Activities(_ context.Context, subjectID string) ([]string, error) {
	p, err := c.s.State.Presence(c.cfg.GuildID, subjectID)
	if err != nil {
		if errors.Is(err, discordgo.ErrStateNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("state presence %s: %w", subjectID, err)
	}
	return activityDescriptions(p.Activities), nil
}

func (c *Client) HasRole(ctx context.Context, subjectID, roleID string) (bool, error) {
	m, err := c.member(ctx, subjectID)
	if err != nil {
		return false, fmt.Errorf("fetch member %s: %w", subjectID, classifyError(err))
	}
	return memberHasRole(m, roleID), nil
}

func (c *Client) GrantRole(ctx context.Context, subjectID, roleID string) error {
	if err := c.s.GuildMemberRoleAdd(c.cfg.GuildID, subjectID, roleID, discordgo.WithContext(ctx)); err != nil {
		return classifyError(err)
	}
	return nil
}

func (c *Client) RevokeRole(ctx context.Context, subjectID, roleID string) error {
	if err := c.s.GuildMemberRoleRemove(c.cfg.GuildID, subjectID, roleID, discordgo.WithContext(ctx)); err != nil {
		return classifyError(err)
	}
	return nil
}

func activityDescriptions(activities []*discordgo.Activity) []string {
	out := make([]string, 0, len(activities)*2)
	for _, a := range activities {
		if a == nil {
			continue
		}
		// Кастомный статус приходит в State, у остальных активностей текст в Name
		if a.State != "" {
			out = append(out, a.State)
		}
		if a.Name != "" {
			out = append(out, a.Name)
		}
	}
	return out
}

func memberHasRole(m *discordgo.Member, roleID string) bool {
	if m == nil {
		return false
	}
	for _, r := range m.Roles {
		if r == roleID {
			return true
		}
	}
	return false
}

func memberLabel(m *discordgo.Member) string {
	if m == nil {
		return ""
	}
	if m.Nick != "" {
		return m.Nick
	}
	if m.User == nil {
		return ""
	}
	if m.User.GlobalName != "" {
		return m.User.GlobalName
	}
	return m.User.Username
}
