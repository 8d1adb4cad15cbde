package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/xela07ax/repbot/internal/console/handler"
	"github.com/xela07ax/repbot/internal/infra/auth"
)

type ConsoleServer struct {
	router *chi.Mux
	logger *zap.Logger

	// Регистр метрик для /metrics
	gatherer prometheus.Gatherer

	// Проверка токенов (RS256). nil — защищенный периметр не монтируется
	authValidator auth.TokenValidator

	subjectHandler *handler.SubjectHandler // /v1/subjects
	voiceHandler   *handler.VoiceHandler   // /v1/voice
}

// NewConsoleServer инициализирует админский сервер со всеми зависимостями
func NewConsoleServer(
	logger *zap.Logger,
	gatherer prometheus.Gatherer,
	validator auth.TokenValidator,
	subjectH *handler.SubjectHandler,
	voiceH *handler.VoiceHandler,
) *ConsoleServer {
	s := &ConsoleServer{
		router:         chi.NewRouter(),
		logger:         logger.Named("console-api"),
		gatherer:       gatherer,
		authValidator:  validator,
		subjectHandler: subjectH,
		voiceHandler:   voiceH,
	}

	s.routes()
	return s
}

func (s *ConsoleServer) routes() {
	r := s.router

	// --- 1. Глобальные инфраструктурные Middleware (для всех) ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(TracingMiddleware)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	// --- 2. ПУБЛИЧНЫЕ РОУТЫ ---
	r.Group(func(r chi.Router) {
		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		})

		if s.gatherer != nil {
			r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
		}
	})

	// --- 3. ЗАЩИЩЕННЫЙ ПЕРИМЕТР (Требуют RS256 токен со скоупом admin) ---
	if s.authValidator == nil {
		s.logger.Warn("auth public key is not configured, admin routes are disabled")
		return
	}

	r.Group(func(r chi.Router) {
		r.Use(auth.NewMiddleware(s.authValidator, auth.ScopeAdmin, s.logger))

		// Tracked Set
		r.Route("/v1/subjects", func(r chi.Router) {
			r.Get("/", s.subjectHandler.List)
			r.Post("/{id}", s.subjectHandler.Register)
		})

		// Голосовое подключение и супервизор
		r.Route("/v1/voice", func(r chi.Router) {
			r.Get("/", s.voiceHandler.Get)
			r.Post("/reset", s.voiceHandler.Reset)
		})
	})
}

// requestLogger — access log через zap вместо стандартного логгера chi
func (s *ConsoleServer) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		s.logger.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.String("trace_id", TraceID(r.Context())))
	})
}

// Тип для ключа в контексте (избегаем коллизий)
type ctxKey string

const traceIDKey ctxKey = "trace_id"

// TracingMiddleware инициализирует Trace-ID для каждого запроса
func TracingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Берем ID из заголовка (если пришел от прокси), иначе генерируем
		traceID := r.Header.Get("X-Trace-ID")
		if traceID == "" {
			traceID = uuid.New().String()
		}

		ctx := context.WithValue(r.Context(), traceIDKey, traceID)
		w.Header().Set("X-Trace-ID", traceID)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// TraceID достает ID запроса из контекста
func TraceID(ctx context.Context) string {
	if id, ok := ctx.Value(traceIDKey).(string); ok {
		return id
	}
	return ""
}

// ServeHTTP позволяет использовать ConsoleServer как стандартный http.Handler
func (s *ConsoleServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
