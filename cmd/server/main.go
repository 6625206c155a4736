package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"gorm.io/gorm/logger"

	"github.com/UkralStul/kindwords-service/internal/config"
	"github.com/UkralStul/kindwords-service/internal/domain"
	"github.com/UkralStul/kindwords-service/internal/httpapi"
	"github.com/UkralStul/kindwords-service/internal/identity"
	"github.com/UkralStul/kindwords-service/internal/live"
	"github.com/UkralStul/kindwords-service/internal/logging"
	"github.com/UkralStul/kindwords-service/internal/metrics"
	"github.com/UkralStul/kindwords-service/internal/moderation"
	"github.com/UkralStul/kindwords-service/internal/service"
	"github.com/UkralStul/kindwords-service/internal/storage"
	"github.com/UkralStul/kindwords-service/internal/storage/inmemory"
	"github.com/UkralStul/kindwords-service/internal/storage/sqlstore"
)

func main() {
	// Запасной логгер, пока конфигурация не прочитана
	bootLog := zerolog.New(os.Stderr).With().Timestamp().Logger()

	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		bootLog.Fatal().Err(err).Msg("invalid configuration")
	}

	log, err := logging.New(cfg.LogLevel, cfg.LogPretty)
	if err != nil {
		bootLog.Fatal().Err(err).Msg("invalid log level")
	}

	log.Info().Str("storage", cfg.Storage).Msg("starting server")
	store, closeStore := openStorage(cfg, log)
	defer closeStore()

	sessions := openSessions(cfg, log)
	m := metrics.New()

	var analyzer moderation.Analyzer = moderation.Nop{Metrics: m}
	if cfg.PerspectiveAPIKey != "" {
		analyzer = moderation.NewClient(moderation.Config{
			Endpoint: cfg.PerspectiveEndpoint,
			APIKey:   cfg.PerspectiveAPIKey,
			Timeout:  cfg.ModerationTimeout,
		}, &http.Client{}, log, m)
	} else {
		log.Warn().Msg("PERSPECTIVE_API_KEY is not set, toxicity scores will be 0")
	}

	broker := live.NewBroker(log)
	svc := service.New(store, analyzer, broker, m, log)

	router := httpapi.NewRouter(httpapi.Config{
		Service:        svc,
		Store:          store,
		Sessions:       sessions,
		Metrics:        m,
		Logger:         log,
		IdentityHeader: cfg.IdentityHeader,
		AllowedOrigins: cfg.AllowedOrigins,
	})

	srv := &http.Server{Addr: ":" + cfg.Port, Handler: router}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Info().Str("port", cfg.Port).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed to start")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	}
}

func openStorage(cfg *config.Config, log zerolog.Logger) (storage.Storage, func()) {
	switch cfg.Storage {
	case config.StoragePostgres:
		store, err := sqlstore.OpenPostgres(cfg.DatabaseURL, logger.Warn)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to postgres")
		}
		return store, closer(store, log)
	case config.StorageSQLite:
		store, err := sqlstore.OpenSQLite(cfg.SQLitePath, logger.Warn)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to open sqlite")
		}
		return store, closer(store, log)
	}

	store := inmemory.New()
	if cfg.SeedData {
		// Заполним данными для тестов
		fillWithMockData(store, log)
	}
	return store, func() {}
}

func closer(store *sqlstore.Store, log zerolog.Logger) func() {
	return func() {
		if err := store.Close(); err != nil {
			log.Error().Err(err).Msg("failed to close storage")
		}
	}
}

func openSessions(cfg *config.Config, log zerolog.Logger) identity.Provider {
	if cfg.Sessions == config.SessionsRedis {
		client, err := identity.DialRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to redis")
		}
		return identity.NewRedisSessions(client, cfg.SessionTTL)
	}
	return identity.NewMemorySessions(cfg.SessionTTL)
}

func fillWithMockData(s storage.Storage, log zerolog.Logger) {
	ctx := context.Background()

	// 1. Создаем пост. Проверяем ошибку.
	post, err := s.CreatePost(ctx, &domain.Post{
		AuthorID: "user-1",
		Text:     "Сегодня незнакомец придержал для меня дверь и улыбнулся. Мелочь, а день стал лучше.",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("fillWithMockData: failed to create post")
	}

	// 2. Создаем первый комментарий верхнего уровня и проверяем ошибку.
	c1, err := s.CreateComment(ctx, &domain.Comment{
		PostID:   post.ID,
		AuthorID: "user-2",
		Text:     "Такие мелочи и правда важны!",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("fillWithMockData: failed to create comment 1")
	}

	// 3. Создаем ответ на первый комментарий и проверяем ошибку.
	_, err = s.CreateComment(ctx, &domain.Comment{
		PostID:   post.ID,
		ParentID: &c1.ID, // Указываем родителя
		AuthorID: "user-1",
		Text:     "Спасибо, согласен.",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("fillWithMockData: failed to create reply")
	}

	// 4. Создаем второй комментарий верхнего уровня и проверяем ошибку.
	_, err = s.CreateComment(ctx, &domain.Comment{
		PostID:   post.ID,
		AuthorID: "user-3",
		Text:     "Передам улыбку дальше.",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("fillWithMockData: failed to create comment 2")
	}

	// 5. Создаем длинный пост, чтобы проверить сворачивание текста.
	long, err := s.CreatePost(ctx, &domain.Post{
		AuthorID: "user-admin",
		Text: "Добро пожаловать! Здесь можно анонимно делиться хорошими новостями и поддерживать друг друга. " +
			"Автор каждого поста и комментария показан только псевдонимом, который не меняется между сессиями. " +
			"Пожалуйста, пишите вежливо: комментарии проходят автоматическую проверку на токсичность, " +
			"а оценка видна всем участникам обсуждения. Длинные посты сворачиваются, их можно развернуть.",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("fillWithMockData: failed to create long post")
	}

	log.Info().Str("post", post.ID).Str("long_post", long.ID).Msg("mock data filled successfully")
}
