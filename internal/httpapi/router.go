// Package httpapi - REST и WebSocket интерфейс сервиса.
package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"
	"github.com/rs/cors"
	"github.com/rs/zerolog"

	"github.com/UkralStul/kindwords-service/internal/dataloader"
	"github.com/UkralStul/kindwords-service/internal/identity"
	"github.com/UkralStul/kindwords-service/internal/logging"
	"github.com/UkralStul/kindwords-service/internal/metrics"
	"github.com/UkralStul/kindwords-service/internal/service"
	"github.com/UkralStul/kindwords-service/internal/storage"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Config - зависимости роутера.
type Config struct {
	Service  *service.Service
	Store    storage.Storage
	Sessions identity.Provider
	Metrics  *metrics.Metrics
	Logger   zerolog.Logger

	// IdentityHeader - заголовок с идентификатором пользователя от прокси аутентификации.
	IdentityHeader string
	AllowedOrigins []string
	// PingInterval для WebSocket; по умолчанию 30s.
	PingInterval time.Duration
}

// API содержит обработчики запросов.
type API struct {
	svc            *service.Service
	sessions       identity.Provider
	identityHeader string
	upgrader       websocket.Upgrader
	pingInterval   time.Duration
	log            zerolog.Logger
}

// NewRouter собирает chi-роутер со всеми маршрутами.
func NewRouter(cfg Config) http.Handler {
	log := logging.Component(cfg.Logger, "http")
	api := &API{
		svc:            cfg.Service,
		sessions:       cfg.Sessions,
		identityHeader: cfg.IdentityHeader,
		upgrader: websocket.Upgrader{
			CheckOrigin: originChecker(cfg.AllowedOrigins),
		},
		pingInterval: cfg.PingInterval,
		log:          log,
	}
	if api.pingInterval <= 0 {
		api.pingInterval = 30 * time.Second
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(logging.RequestLogger(log))
	router.Use(middleware.Recoverer)
	router.Use(cfg.Metrics.Middleware)
	router.Use(cors.New(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
	}).Handler)
	router.Use(identity.Middleware(cfg.Sessions))

	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if cfg.Metrics != nil {
		router.Handle("/metrics", cfg.Metrics.Handler())
	}

	router.Post("/auth/signin", api.signIn)
	router.Post("/auth/signout", api.signOut)
	router.Post("/moderation/analyze", api.analyze)

	// Лоадеры кэшируют результаты в пределах запроса, поэтому WebSocket-маршруты в эту группу не входят
	router.Group(func(r chi.Router) {
		r.Use(dataloader.Middleware(cfg.Store))

		r.Get("/posts", api.feed)
		r.Post("/posts", api.createPost)
		r.Get("/posts/{postID}", api.thread)
		r.Delete("/posts/{postID}", api.deletePost)
		r.Post("/posts/{postID}/comments", api.addComment)
		r.Get("/posts/{postID}/comments/{commentID}/replies", api.replies)
		r.Post("/posts/{postID}/comments/{commentID}/replies", api.addReply)
		r.Get("/me/posts", api.profile)
	})

	router.Get("/ws/feed", api.feedSocket)
	router.Get("/ws/posts/{postID}", api.threadSocket)

	return router
}

func originChecker(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, o := range allowed {
			if o == "*" || o == origin {
				return true
			}
		}
		return false
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// fail пишет ответ с ошибкой; внутренние ошибки логируются.
func (a *API) fail(w http.ResponseWriter, r *http.Request, e *HTTPError) {
	if e.Status >= http.StatusInternalServerError && e.err != nil {
		a.log.Error().
			Err(e.err).
			Str(logging.REQUEST, middleware.GetReqID(r.Context())).
			Msg("request failed")
	}
	writeJSON(w, e.Status, e)
}
