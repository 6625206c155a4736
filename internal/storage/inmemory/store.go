package inmemory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/UkralStul/kindwords-service/internal/domain"
	"github.com/UkralStul/kindwords-service/internal/storage"
)

// Store реализует интерфейс Storage в памяти.
type Store struct {
	mu       sync.RWMutex
	posts    map[string]*domain.Post
	comments map[string]*domain.Comment
	// id постов в порядке вставки
	postOrder []string
	// map[postID][]commentID (только корневые)
	commentsByPost map[string][]string
	// map[parentID][]commentID
	commentsByParent map[string][]string

	lastCreatedAt time.Time
	now           func() time.Time
}

// New создает новый экземпляр in-memory хранилища.
func New() *Store {
	return &Store{
		posts:            make(map[string]*domain.Post),
		comments:         make(map[string]*domain.Comment),
		commentsByPost:   make(map[string][]string),
		commentsByParent: make(map[string][]string),
		now:              func() time.Time { return time.Now().UTC() },
	}
}

// nextTimestamp выдаёт строго возрастающие метки времени. Вызывать под s.mu.
func (s *Store) nextTimestamp() time.Time {
	ts := s.now()
	if !ts.After(s.lastCreatedAt) {
		ts = s.lastCreatedAt.Add(time.Nanosecond)
	}
	s.lastCreatedAt = ts
	return ts
}

// === Post Methods ===

func (s *Store) CreatePost(ctx context.Context, post *domain.Post) (*domain.Post, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := *post
	stored.ID = uuid.NewString()
	stored.CreatedAt = s.nextTimestamp()
	stored.Comments = nil
	s.posts[stored.ID] = &stored
	s.postOrder = append(s.postOrder, stored.ID)

	out := stored
	return &out, nil
}

func (s *Store) GetPostByID(ctx context.Context, id string) (*domain.Post, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	post, ok := s.posts[id]
	if !ok {
		return nil, fmt.Errorf("post with id %s: %w", id, storage.ErrNotFound)
	}
	out := *post
	return &out, nil
}

func (s *Store) GetPosts(ctx context.Context, limit, offset int) ([]*domain.Post, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.paginatePosts(func(*domain.Post) bool { return true }, limit, offset), nil
}

func (s *Store) GetPostsByAuthor(ctx context.Context, authorID string, limit, offset int) ([]*domain.Post, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.paginatePosts(func(p *domain.Post) bool { return p.AuthorID == authorID }, limit, offset), nil
}

// paginatePosts возвращает посты от новых к старым. Вызывать под s.mu.
func (s *Store) paginatePosts(keep func(*domain.Post) bool, limit, offset int) []*domain.Post {
	all := make([]*domain.Post, 0, len(s.postOrder))
	for i := len(s.postOrder) - 1; i >= 0; i-- {
		p := s.posts[s.postOrder[i]]
		if keep(p) {
			all = append(all, p)
		}
	}
	sort.SliceStable(all, func(i, j int) bool {
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})

	start := offset
	if start < 0 {
		start = 0
	}
	if start >= len(all) {
		return []*domain.Post{}
	}
	end := start + limit
	if end > len(all) {
		end = len(all)
	}
	page := make([]*domain.Post, 0, end-start)
	for _, p := range all[start:end] {
		cp := *p
		page = append(page, &cp)
	}
	return page
}

func (s *Store) DeletePost(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.posts[id]; !ok {
		return fmt.Errorf("post with id %s: %w", id, storage.ErrNotFound)
	}

	// Каскадно удаляем комментарии и ответы
	for _, cID := range s.commentsByPost[id] {
		for _, rID := range s.commentsByParent[cID] {
			delete(s.comments, rID)
		}
		delete(s.commentsByParent, cID)
		delete(s.comments, cID)
	}
	delete(s.commentsByPost, id)
	delete(s.posts, id)

	for i, pID := range s.postOrder {
		if pID == id {
			s.postOrder = append(s.postOrder[:i], s.postOrder[i+1:]...)
			break
		}
	}
	return nil
}

// === Comment Methods ===

func (s *Store) CreateComment(ctx context.Context, comment *domain.Comment) (*domain.Comment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Проверка поста
	if _, ok := s.posts[comment.PostID]; !ok {
		return nil, fmt.Errorf("post with id %s: %w", comment.PostID, storage.ErrNotFound)
	}

	// Проверка родительского комментария
	if comment.ParentID != nil {
		parent, ok := s.comments[*comment.ParentID]
		if !ok {
			return nil, fmt.Errorf("parent comment %s: %w", *comment.ParentID, storage.ErrNotFound)
		}
		if parent.ParentID != nil || parent.PostID != comment.PostID {
			return nil, storage.ErrInvalidParent
		}
	}

	stored := *comment
	stored.ID = uuid.NewString()
	stored.CreatedAt = s.nextTimestamp()
	stored.Children = nil
	if comment.ParentID != nil {
		parentID := *comment.ParentID
		stored.ParentID = &parentID
	}
	s.comments[stored.ID] = &stored

	// Обновление индексов для иерархии
	if stored.ParentID == nil {
		s.commentsByPost[stored.PostID] = append(s.commentsByPost[stored.PostID], stored.ID)
	} else {
		s.commentsByParent[*stored.ParentID] = append(s.commentsByParent[*stored.ParentID], stored.ID)
	}

	return copyComment(&stored), nil
}

func (s *Store) GetCommentByID(ctx context.Context, id string) (*domain.Comment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	comment, ok := s.comments[id]
	if !ok {
		return nil, fmt.Errorf("comment with id %s: %w", id, storage.ErrNotFound)
	}
	return copyComment(comment), nil
}

// === Pagination Methods ===

func (s *Store) GetCommentsByPostID(ctx context.Context, postID string, args storage.PaginationArgs) ([]*domain.Comment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.paginateComments(s.commentsByPost[postID], args), nil
}

func (s *Store) GetCommentsByParentID(ctx context.Context, parentID string, args storage.PaginationArgs) ([]*domain.Comment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.paginateComments(s.commentsByParent[parentID], args), nil
}

// paginateComments - вспомогательная функция для пагинации
func (s *Store) paginateComments(ids []string, args storage.PaginationArgs) []*domain.Comment {
	allComments := s.orderedComments(ids)

	startIndex := 0
	if args.Cursor != nil {
		for i, c := range allComments {
			if c.ID == *args.Cursor {
				startIndex = i + 1
				break
			}
		}
	}

	if startIndex >= len(allComments) {
		return []*domain.Comment{}
	}

	endIndex := len(allComments)
	if args.Limit > 0 && startIndex+args.Limit < endIndex {
		endIndex = startIndex + args.Limit
	}

	return allComments[startIndex:endIndex]
}

// orderedComments сортирует по времени создания; равные метки сохраняют порядок вставки.
func (s *Store) orderedComments(ids []string) []*domain.Comment {
	out := make([]*domain.Comment, 0, len(ids))
	for _, id := range ids {
		if c, ok := s.comments[id]; ok {
			out = append(out, copyComment(c))
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// === Dataloader Methods ===

func (s *Store) GetCommentsByParentIDs(ctx context.Context, parentIDs []string) (map[string][]*domain.Comment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	results := make(map[string][]*domain.Comment, len(parentIDs))
	for _, pID := range parentIDs {
		results[pID] = s.orderedComments(s.commentsByParent[pID])
	}
	return results, nil
}

func copyComment(c *domain.Comment) *domain.Comment {
	cp := *c
	if c.ParentID != nil {
		parentID := *c.ParentID
		cp.ParentID = &parentID
	}
	cp.Children = nil
	return &cp
}
