package infra

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config — корневая структура конфигурации бота.
type Config struct {
	Discord   DiscordConfig   `mapstructure:"discord"`
	Roles     RolesConfig     `mapstructure:"roles"`
	Voice     VoiceConfig     `mapstructure:"voice"`
	Reconcile ReconcileConfig `mapstructure:"reconcile"`
	Engine    EngineConfig    `mapstructure:"engine"`
	Server    ServerConfig    `mapstructure:"server"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Logger    LoggerConfig    `mapstructure:"logger"`
}

// DiscordConfig описывает подключение к гейтвею.
type DiscordConfig struct {
	Token          string `mapstructure:"token"`
	GuildID        string `mapstructure:"guild_id"`
	PanelChannelID string `mapstructure:"panel_channel_id"` // Канал, где разрешена команда /url
}

// RolesConfig — отслеживаемая роль и роль бустеров.
type RolesConfig struct {
	MonitoredID string `mapstructure:"monitored_id"`
	BoosterID   string `mapstructure:"booster_id"` // Пусто — обработчик бустов выключен
	Marker      string `mapstructure:"marker"`
}

// VoiceConfig — цель подключения и политика переподключений.
type VoiceConfig struct {
	ChannelID      string        `mapstructure:"channel_id"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	SettleDelay    time.Duration `mapstructure:"settle_delay"`
	Cooldown       time.Duration `mapstructure:"cooldown"`
	MaxAttempts    int           `mapstructure:"max_attempts"`

	// Строка вида "15s,30s,60s", разбирается в DelaySchedule
	DelayScheduleRaw string          `mapstructure:"delay_schedule"`
	DelaySchedule    []time.Duration `mapstructure:"-"`
}

// ReconcileConfig — период сканирования статусов.
type ReconcileConfig struct {
	Period time.Duration `mapstructure:"period"`
}

// EngineConfig — настройки надежности мутаций ролей.
type EngineConfig struct {
	MutationRPS   float64       `mapstructure:"mutation_rps"`
	MutationBurst int           `mapstructure:"mutation_burst"`
	RetryAttempts uint          `mapstructure:"retry_attempts"`
	RetryDelay    time.Duration `mapstructure:"retry_delay"`
	CallTimeout   time.Duration `mapstructure:"call_timeout"`

	// Настройки Circuit Breaker для REST платформы
	CBMaxRequests uint32        `mapstructure:"cb_max_requests"`
	CBInterval    time.Duration `mapstructure:"cb_interval"`
	CBTimeout     time.Duration `mapstructure:"cb_timeout"`
}

// ServerConfig описывает админский HTTP-сервер (health, metrics, console).
type ServerConfig struct {
	Addr         string        `mapstructure:"addr"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// RedisConfig описывает подключение к Redis (Pub/Sub регистраций). Пустой Addr — выключено.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// DatabaseConfig описывает подключение к PostgreSQL для аудита. Пустой URL — аудит в лог.
type DatabaseConfig struct {
	URL string `mapstructure:"url"`
}

// AuthConfig содержит путь к RSA ключу для проверки админских токенов.
type AuthConfig struct {
	PublicKeyPath string `mapstructure:"public_key_path"`
	PublicKey     []byte `mapstructure:"-"`
}

// LoggerConfig настраивает поведение zap логгера.
type LoggerConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, console
}

// LoadConfig инициализирует конфигурацию, объединяя значения из файла и ENV.
func LoadConfig() (*Config, error) {
	v := viper.New()

	// 1. Настройка поиска файла
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")

	// 2. Переменные окружения: VOICE_CHANNEL_ID перекроет voice.channel_id
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Обязательные ключи без дефолтов привязываем явно, иначе Unmarshal их не увидит
	for _, key := range []string{
		"discord.guild_id",
		"discord.panel_channel_id",
		"roles.monitored_id",
		"roles.booster_id",
		"voice.channel_id",
		"redis.addr",
		"redis.password",
		"database.url",
		"auth.public_key_path",
	} {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", key, err)
		}
	}
	// Токен принимаем и под старым именем BOT_TOKEN
	if err := v.BindEnv("discord.token", "DISCORD_TOKEN", "BOT_TOKEN"); err != nil {
		return nil, fmt.Errorf("bind env discord.token: %w", err)
	}

	// 3. Установка дефолтных значений
	setDefaults(v)

	// 4. Чтение файла
	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Если файла нет — работаем на ENV и дефолтах
	}

	// 5. Маппинг в структуру
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}

	schedule, err := ParseDelaySchedule(cfg.Voice.DelayScheduleRaw)
	if err != nil {
		return nil, err
	}
	cfg.Voice.DelaySchedule = schedule

	// 6. Ключ из ENV (Docker/K8s) или из файла
	cfg.Auth.PublicKey = loadKeyResource(cfg.Auth.PublicKeyPath, "AUTH_PUBLIC_KEY_DATA")

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("roles.marker", "/clp")

	v.SetDefault("voice.connect_timeout", 15*time.Second)
	v.SetDefault("voice.settle_delay", 2*time.Second)
	v.SetDefault("voice.cooldown", 30*time.Second)
	v.SetDefault("voice.max_attempts", 5)
	v.SetDefault("voice.delay_schedule", "15s,30s,60s,120s,300s")

	v.SetDefault("reconcile.period", 15*time.Second)

	v.SetDefault("engine.mutation_rps", 5)
	v.SetDefault("engine.mutation_burst", 5)
	v.SetDefault("engine.retry_attempts", 3)
	v.SetDefault("engine.retry_delay", 500*time.Millisecond)
	v.SetDefault("engine.call_timeout", 10*time.Second)
	v.SetDefault("engine.cb_max_requests", 3)
	v.SetDefault("engine.cb_interval", 5*time.Second)
	v.SetDefault("engine.cb_timeout", 30*time.Second)

	v.SetDefault("server.addr", ":9090")
	v.SetDefault("server.read_timeout", 5*time.Second)
	v.SetDefault("server.write_timeout", 10*time.Second)

	v.SetDefault("redis.db", 0)

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "json")
}

// Validate — fail fast: без обязательных значений процесс не стартует.
func (c *Config) Validate() error {
	var errs []error

	required := map[string]string{
		"discord.token":      c.Discord.Token,
		"discord.guild_id":   c.Discord.GuildID,
		"roles.monitored_id": c.Roles.MonitoredID,
		"voice.channel_id":   c.Voice.ChannelID,
	}
	for _, key := range []string{"discord.token", "discord.guild_id", "roles.monitored_id", "voice.channel_id"} {
		if strings.TrimSpace(required[key]) == "" {
			errs = append(errs, fmt.Errorf("%s is required", key))
		}
	}

	if c.Reconcile.Period <= 0 {
		errs = append(errs, errors.New("reconcile.period must be positive"))
	}
	if c.Voice.ConnectTimeout <= 0 {
		errs = append(errs, errors.New("voice.connect_timeout must be positive"))
	}
	if c.Voice.Cooldown <= 0 {
		errs = append(errs, errors.New("voice.cooldown must be positive"))
	}
	if c.Voice.MaxAttempts <= 0 {
		errs = append(errs, errors.New("voice.max_attempts must be positive"))
	}
	if len(c.Voice.DelaySchedule) == 0 {
		errs = append(errs, errors.New("voice.delay_schedule must not be empty"))
	}
	for i := 1; i < len(c.Voice.DelaySchedule); i++ {
		if c.Voice.DelaySchedule[i] < c.Voice.DelaySchedule[i-1] {
			errs = append(errs, fmt.Errorf("voice.delay_schedule must be non-decreasing (%v after %v)",
				c.Voice.DelaySchedule[i], c.Voice.DelaySchedule[i-1]))
			break
		}
	}

	return errors.Join(errs...)
}

// ParseDelaySchedule разбирает "15s,30s,60s" в список длительностей.
func ParseDelaySchedule(raw string) ([]time.Duration, error) {
	var out []time.Duration
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		d, err := time.ParseDuration(part)
		if err != nil {
			return nil, fmt.Errorf("voice.delay_schedule: %w", err)
		}
		if d <= 0 {
			return nil, fmt.Errorf("voice.delay_schedule: non-positive delay %v", d)
		}
		out = append(out, d)
	}
	return out, nil
}

// loadKeyResource — ключ напрямую из ENV (PEM) или из файла по пути
func loadKeyResource(path string, envDataKey string) []byte {
	if data := os.Getenv(envDataKey); data != "" {
		return []byte(data)
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			return data
		}
	}
	return nil
}
