package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xela07ax/repbot/internal/audit"
	"github.com/xela07ax/repbot/internal/booster"
	"github.com/xela07ax/repbot/internal/console/handler"
	"github.com/xela07ax/repbot/internal/console/server"
	"github.com/xela07ax/repbot/internal/engine"
	"github.com/xela07ax/repbot/internal/infra"
	"github.com/xela07ax/repbot/internal/infra/auth"
	"github.com/xela07ax/repbot/internal/platform/discord"
	"github.com/xela07ax/repbot/internal/reconcile"
	"github.com/xela07ax/repbot/internal/repository/postgres"
	"github.com/xela07ax/repbot/internal/voice"
)

func main() {
	// 1. Конфигурация и логгер. Без них стартовать нельзя
	cfg, err := infra.LoadConfig()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger, err := infra.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()

	// Контекст для управления жизненным циклом фоновых горутин
	appCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Метрики
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := engine.NewMetrics(reg)
	clock := clockwork.NewRealClock()

	// 2. Аудит: Postgres, если задан, иначе в лог
	var storage audit.StorageInterface = audit.NewLoggerStorage(logger)
	if cfg.Database.URL != "" {
		repo, err := postgres.NewAuditRepo(cfg.Database.URL)
		if err != nil {
			logger.Fatal("audit repository init failed", zap.Error(err))
		}
		defer repo.Close()

		// Проверяем соединение с таймаутом
		pingCtx, pingCancel := context.WithTimeout(appCtx, 5*time.Second)
		if err := repo.Ping(pingCtx); err != nil {
			pingCancel()
			logger.Fatal("database unreachable", zap.Error(err))
		}
		if err := repo.EnsureSchema(pingCtx); err != nil {
			pingCancel()
			logger.Fatal("audit schema init failed", zap.Error(err))
		}
		pingCancel()
		storage = repo
	}
	roleLog := audit.NewRoleLog(storage, logger, metrics.AuditBufferFill)
	roleLog.Start()

	// 3. Платформа
	client, err := discord.NewClient(discord.Config{
		Token:          cfg.Discord.Token,
		GuildID:        cfg.Discord.GuildID,
		PanelChannelID: cfg.Discord.PanelChannelID,
		Marker:         cfg.Roles.Marker,
	}, logger)
	if err != nil {
		logger.Fatal("discord client init failed", zap.Error(err))
	}

	// Оборачиваем мутации ролей в Reliability (Rate Limit, Circuit Breaker, Retries)
	mutator := engine.NewReliableMutator(client, engine.ReliabilityConfig{
		RatePerSecond: cfg.Engine.MutationRPS,
		Burst:         cfg.Engine.MutationBurst,
		RetryAttempts: cfg.Engine.RetryAttempts,
		RetryDelay:    cfg.Engine.RetryDelay,
		CallTimeout:   cfg.Engine.CallTimeout,
		CBMaxRequests: cfg.Engine.CBMaxRequests,
		CBInterval:    cfg.Engine.CBInterval,
		CBTimeout:     cfg.Engine.CBTimeout,
	}, metrics, logger)

	// 4. Ядро: цикл реконсиляции и супервизор голосового подключения
	loop := reconcile.NewLoop(reconcile.Config{
		RoleID: cfg.Roles.MonitoredID,
		Marker: cfg.Roles.Marker,
		Period: cfg.Reconcile.Period,
	}, client, mutator, roleLog, metrics, clock, logger)

	manager := voice.NewManager(voice.ManagerConfig{
		ChannelID:      cfg.Voice.ChannelID,
		ConnectTimeout: cfg.Voice.ConnectTimeout,
		SettleDelay:    cfg.Voice.SettleDelay,
	}, client, clock, logger)

	supervisor := voice.NewSupervisor(voice.SupervisorConfig{
		Cooldown:      cfg.Voice.Cooldown,
		MaxAttempts:   cfg.Voice.MaxAttempts,
		DelaySchedule: cfg.Voice.DelaySchedule,
	}, manager, metrics, clock, logger)

	boosts := booster.NewHandler(cfg.Roles.BoosterID, mutator, roleLog, metrics, clock, logger)

	handlers := discord.Handlers{
		Disconnects:  supervisor,
		Registration: loop,
	}
	if boosts.Enabled() {
		handlers.Boosts = boosts
		handlers.BoosterRole = cfg.Roles.BoosterID
	}
	client.SetHandlers(handlers)

	var wg sync.WaitGroup
	runBg := func(fn func()) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn()
		}()
	}

	runBg(func() { supervisor.Run(appCtx) })
	runBg(func() { loop.Run(appCtx, client.Ready()) })

	// Первое подключение к голосу после готовности сессии. Неудача передается супервизору
	runBg(func() {
		select {
		case <-appCtx.Done():
			return
		case <-client.Ready():
		}
		if err := manager.EnsureConnected(appCtx, false); err != nil {
			logger.Error("initial voice connect failed", zap.Error(err))
			supervisor.NotifyDisconnect(voice.DisconnectEvent{GuildID: cfg.Discord.GuildID, Source: "startup"})
		}
	})

	// 5. Опционально: регистрации от соседних процессов через Redis
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		relay := engine.NewRegistrationRelay(rdb, loop, logger)
		runBg(func() { relay.StartListener(appCtx) })
	}

	// 6. Админский HTTP сервер: health, metrics, console
	var validator auth.TokenValidator
	if len(cfg.Auth.PublicKey) > 0 {
		pub, err := auth.ParseRSAPublicKey(cfg.Auth.PublicKey)
		if err != nil {
			logger.Fatal("invalid auth public key", zap.Error(err))
		}
		validator = auth.NewBaseValidator(pub)
	}
	consoleSrv := server.NewConsoleServer(logger, reg, validator,
		handler.NewSubjectHandler(loop, logger),
		handler.NewVoiceHandler(supervisor, manager, logger),
	)
	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      consoleSrv,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	go func() {
		logger.Info("admin server started", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("admin server failed", zap.Error(err))
		}
	}()

	// 7. Открываем сессию последней: обработчики уже подключены
	if err := client.Open(appCtx); err != nil {
		logger.Fatal("discord session open failed", zap.Error(err))
	}

	// 8. Graceful Shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	<-stop // Ждем сигнал
	logger.Info("repbot stopping...")

	// Даем 5 секунд на завершение запросов
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("admin server shutdown failed", zap.Error(err))
	}

	cancel()
	wg.Wait()

	if err := client.Disconnect(shutdownCtx, false); err != nil {
		logger.Warn("voice disconnect on shutdown failed", zap.Error(err))
	}
	if err := client.Close(); err != nil {
		logger.Warn("discord session close failed", zap.Error(err))
	}

	// Дописываем хвост аудита
	roleLog.Stop()
	logger.Info("repbot exited properly")
}
