// Package discord — граница с платформой: сессия discordgo, запросы к гильдии,
// мутации ролей, голосовое подключение и диспетчеризация событий гейтвея.
package discord

import (
	"context"
	"fmt"
	"sync"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"github.com/xela07ax/repbot/internal/domain"
	"github.com/xela07ax/repbot/internal/reconcile"
	"github.com/xela07ax/repbot/internal/voice"
)

const defaultStreamURL = "https://twitch.tv/discord"

type Config struct {
	Token          string
	GuildID        string
	PanelChannelID string
	Marker         string
	StreamURL      string
}

// DisconnectNotifier — получатель уведомлений о потере голосовой сессии.
type DisconnectNotifier interface {
	NotifyDisconnect(ev voice.DisconnectEvent)
}

// BoostHandler — обработчик смены статуса буста.
type BoostHandler interface {
	HandleTransition(ctx context.Context, subj domain.Subject, wasBooster, isBooster, hasRole bool) domain.Action
}

// Registrar — панель регистрации: добавить в Tracked Set и сразу оценить.
type Registrar interface {
	Register(subjectID string) bool
	Evaluate(ctx context.Context, subj domain.Subject) (reconcile.Outcome, error)
}

// Handlers связывает события гейтвея с ядром. Поля опциональны.
type Handlers struct {
	Disconnects  DisconnectNotifier
	Boosts       BoostHandler
	BoosterRole  string
	Registration Registrar
}

type Client struct {
	s      *discordgo.Session
	cfg    Config
	logger *zap.Logger

	mu        sync.RWMutex
	handlers  Handlers
	botUserID string

	ready     chan struct{}
	readyOnce sync.Once

	// Корневой контекст процесса для работы, запущенной из обработчиков событий
	baseCtx context.Context
}

func NewClient(cfg Config, logger *zap.Logger) (*Client, error) {
	s, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	if cfg.StreamURL == "" {
		cfg.StreamURL = defaultStreamURL
	}

	s.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMembers |
		discordgo.IntentsGuildPresences |
		discordgo.IntentsGuildVoiceStates
	// 429 отдаем наверх: ожиданием и повторами управляет ReliableMutator
	s.ShouldRetryOnRateLimit = false
	s.State.TrackPresences = true
	s.State.TrackMembers = true
	s.State.TrackVoice = true

	c := &Client{
		s:       s,
		cfg:     cfg,
		logger:  logger.Named("discord"),
		ready:   make(chan struct{}),
		baseCtx: context.Background(),
	}

	s.AddHandler(c.onReady)
	s.AddHandler(c.onVoiceStateUpdate)
	s.AddHandler(c.onGuildMemberUpdate)
	s.AddHandler(c.onInteractionCreate)
	return c, nil
}

// SetHandlers подключает ядро. Вызывается до Open.
func (c *Client) SetHandlers(h Handlers) {
	c.mu.Lock()
	c.handlers = h
	c.mu.Unlock()
}

func (c *Client) currentHandlers() Handlers {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.handlers
}

// Open открывает websocket сессию. ctx ограничивает работу, запущенную из обработчиков.
func (c *Client) Open(ctx context.Context) error {
	c.baseCtx = ctx
	if err := c.s.Open(); err != nil {
		return fmt.Errorf("open discord session: %w", err)
	}
	return nil
}

func (c *Client) Close() error {
	return c.s.Close()
}

// Ready закрывается на первом событии Ready.
func (c *Client) Ready() <-chan struct{} {
	return c.ready
}

func (c *Client) GuildID() string {
	return c.cfg.GuildID
}

func (c *Client) BotUserID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.botUserID
}

func (c *Client) setBotUserID(id string) {
	c.mu.Lock()
	c.botUserID = id
	c.mu.Unlock()
}
