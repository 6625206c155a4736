package storage

import (
	"context"
	"errors"

	"github.com/UkralStul/kindwords-service/internal/domain"
)

var (
	// ErrNotFound возвращается, когда запись не существует.
	ErrNotFound = errors.New("record not found")
	// ErrInvalidParent - ответ можно оставить только на комментарий верхнего уровня того же поста.
	ErrInvalidParent = errors.New("parent must be a top-level comment of the same post")
)

// PaginationArgs - аргументы для курсорной пагинации.
type PaginationArgs struct {
	Limit  int
	Cursor *string
}

// Storage определяет контракт для хранилищ.
// Все списки комментариев упорядочены по CreatedAt по возрастанию, списки постов - по убыванию.
type Storage interface {
	GetPosts(ctx context.Context, limit, offset int) ([]*domain.Post, error)
	GetPostsByAuthor(ctx context.Context, authorID string, limit, offset int) ([]*domain.Post, error)
	GetPostByID(ctx context.Context, id string) (*domain.Post, error)
	CreatePost(ctx context.Context, post *domain.Post) (*domain.Post, error)
	// DeletePost удаляет пост вместе со всеми его комментариями и ответами.
	DeletePost(ctx context.Context, id string) error

	CreateComment(ctx context.Context, comment *domain.Comment) (*domain.Comment, error)
	GetCommentByID(ctx context.Context, id string) (*domain.Comment, error)

	// Методы для пагинации
	GetCommentsByPostID(ctx context.Context, postID string, args PaginationArgs) ([]*domain.Comment, error)
	GetCommentsByParentID(ctx context.Context, parentID string, args PaginationArgs) ([]*domain.Comment, error)

	// Методы для Dataloader'ов
	GetCommentsByParentIDs(ctx context.Context, parentIDs []string) (map[string][]*domain.Comment, error)
}
