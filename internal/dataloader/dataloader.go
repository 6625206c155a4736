package dataloader

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/graph-gophers/dataloader"

	"github.com/UkralStul/kindwords-service/internal/domain"
	"github.com/UkralStul/kindwords-service/internal/storage"
)

type contextKey string

const key = contextKey("dataloaders")

// Loaders содержит все дата-лоадеры приложения.
type Loaders struct {
	RepliesByCommentID *dataloader.Loader
}

// NewLoaders создает лоадеры поверх хранилища. Лоадер кеширует результаты,
// поэтому живёт не дольше одного запроса или одного снимка.
func NewLoaders(store storage.Storage) *Loaders {
	// Создаем батч-функцию для лоадера
	batchFn := func(ctx context.Context, keys dataloader.Keys) []*dataloader.Result {
		// Преобразуем ключи в []string
		parentIDs := make([]string, len(keys))
		for i, key := range keys {
			parentIDs[i] = key.String()
		}

		// Вызываем метод хранилища, который делает ОДИН запрос к БД
		commentsMap, err := store.GetCommentsByParentIDs(ctx, parentIDs)
		if err != nil {
			// В случае ошибки, возвращаем ее для всех ключей
			results := make([]*dataloader.Result, len(keys))
			for i := range results {
				results[i] = &dataloader.Result{Error: err}
			}
			return results
		}

		// Формируем результат в том же порядке, что и ключи
		results := make([]*dataloader.Result, len(keys))
		for i, parentID := range parentIDs {
			results[i] = &dataloader.Result{Data: commentsMap[parentID]}
		}

		return results
	}

	return &Loaders{
		RepliesByCommentID: dataloader.NewBatchedLoader(batchFn, dataloader.WithWait(time.Millisecond*1)),
	}
}

// Middleware для внедрения лоадеров в контекст запроса.
func Middleware(store storage.Storage) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := context.WithValue(r.Context(), key, NewLoaders(store))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// For извлекает лоадеры из контекста; nil, если их там нет.
func For(ctx context.Context) *Loaders {
	loaders, _ := ctx.Value(key).(*Loaders)
	return loaders
}

// LoadReplies загружает ответы для набора комментариев одним батчем.
func (l *Loaders) LoadReplies(ctx context.Context, commentIDs []string) (map[string][]*domain.Comment, error) {
	thunks := make([]dataloader.Thunk, len(commentIDs))
	for i, id := range commentIDs {
		thunks[i] = l.RepliesByCommentID.Load(ctx, dataloader.StringKey(id))
	}

	result := make(map[string][]*domain.Comment, len(commentIDs))
	for i, thunk := range thunks {
		data, err := thunk()
		if err != nil {
			return nil, fmt.Errorf("failed to load replies for comment %s: %w", commentIDs[i], err)
		}
		replies, _ := data.([]*domain.Comment)
		result[commentIDs[i]] = replies
	}
	return result, nil
}
