// Package service реализует сценарии приложения поверх хранилища, модерации и живых обновлений.
// Ошибки внешних коллабораторов обрабатываются здесь и наружу выходят только как
// ошибки этого пакета или ошибки проверки текста из пакета content.
package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/UkralStul/kindwords-service/internal/content"
	"github.com/UkralStul/kindwords-service/internal/dataloader"
	"github.com/UkralStul/kindwords-service/internal/domain"
	"github.com/UkralStul/kindwords-service/internal/live"
	"github.com/UkralStul/kindwords-service/internal/logging"
	"github.com/UkralStul/kindwords-service/internal/metrics"
	"github.com/UkralStul/kindwords-service/internal/moderation"
	"github.com/UkralStul/kindwords-service/internal/storage"
	"github.com/UkralStul/kindwords-service/internal/thread"
)

var (
	ErrUnauthenticated = errors.New("you must be signed in")
	ErrForbidden       = errors.New("only the author can delete this post")
	ErrNotFound        = errors.New("not found")
	ErrInvalidParent   = errors.New("replies can only be added to top-level kindwords of the same post")
	// ErrWriteFailed - хранилище не смогло сохранить изменения; повтор остаётся за пользователем.
	ErrWriteFailed = errors.New("failed to save changes, please try again")
)

// Лимиты выборок
const (
	DefaultFeedLimit     = 20
	DefaultCommentsLimit = 10
	MaxLimit             = 100
	// Первая страница комментариев раскрытого поста в ленте; остальное - через Thread с EndCursor.
	FeedCommentsLimit = 50
)

// Типы событий
const (
	EventPostCreated    = "post_created"
	EventPostDeleted    = "post_deleted"
	EventCommentCreated = "comment_created"
	EventReplyCreated   = "reply_created"
)

// Page - смещение и размер страницы ленты.
type Page struct {
	Limit  int
	Offset int
}

func (p Page) normalize() Page {
	if p.Limit <= 0 {
		p.Limit = DefaultFeedLimit
	}
	if p.Limit > MaxLimit {
		p.Limit = MaxLimit
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return p
}

// PageInfo - сведения о курсорной пагинации комментариев.
type PageInfo struct {
	HasNextPage bool    `json:"hasNextPage"`
	EndCursor   *string `json:"endCursor"`
}

// ThreadPage - ветка обсуждения со страницей комментариев верхнего уровня.
type ThreadPage struct {
	thread.Thread
	PageInfo PageInfo `json:"pageInfo"`
}

// FeedItem - пост ленты. PageInfo заполнен только для раскрытых постов.
type FeedItem struct {
	thread.Thread
	PageInfo *PageInfo `json:"pageInfo,omitempty"`
}

// RepliesPage - страница ответов на комментарий.
type RepliesPage struct {
	Replies  []thread.RenderedReply `json:"replies"`
	PageInfo PageInfo               `json:"pageInfo"`
}

func commentsLimit(l int) int {
	if l <= 0 {
		return DefaultCommentsLimit
	}
	if l > MaxLimit {
		return MaxLimit
	}
	return l
}

// pageOf обрезает выборку, запрошенную с запасом в один элемент, до limit.
func pageOf(comments []*domain.Comment, limit int) ([]*domain.Comment, PageInfo) {
	var info PageInfo
	if len(comments) > limit {
		info.HasNextPage = true
		comments = comments[:limit] // Убираем лишний элемент
	}
	if len(comments) > 0 {
		last := comments[len(comments)-1].ID
		info.EndCursor = &last
	}
	return comments, info
}

// Service объединяет зависимости приложения.
type Service struct {
	store    storage.Storage
	analyzer moderation.Analyzer
	broker   *live.Broker
	metrics  *metrics.Metrics
	log      zerolog.Logger
}

func New(store storage.Storage, analyzer moderation.Analyzer, broker *live.Broker, m *metrics.Metrics, log zerolog.Logger) *Service {
	if analyzer == nil {
		analyzer = moderation.Nop{Metrics: m}
	}
	return &Service{
		store:    store,
		analyzer: analyzer,
		broker:   broker,
		metrics:  m,
		log:      logging.Component(log, "service"),
	}
}

// Broker возвращает брокер живых обновлений.
func (s *Service) Broker() *live.Broker { return s.broker }

func (s *Service) publish(topic, kind, id string) {
	if s.broker == nil {
		return
	}
	s.broker.Publish(live.Event{Topic: topic, Kind: kind, ID: id})
}

// writeErr переводит ошибки хранилища при записи в ошибки сервиса.
func writeErr(err error) error {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return ErrNotFound
	case errors.Is(err, storage.ErrInvalidParent):
		return ErrInvalidParent
	}
	return fmt.Errorf("%w: %v", ErrWriteFailed, err)
}

func readErr(err error) error {
	if errors.Is(err, storage.ErrNotFound) {
		return ErrNotFound
	}
	return err
}

// === Posts ===

// CreatePost публикует пост от имени пользователя.
func (s *Service) CreatePost(ctx context.Context, userID, text string) (*domain.Post, error) {
	if userID == "" {
		return nil, ErrUnauthenticated
	}
	trimmed, err := content.ValidateSubmission(text, content.PostMinLength)
	if err != nil {
		return nil, err
	}

	post, err := s.store.CreatePost(ctx, &domain.Post{AuthorID: userID, Text: trimmed})
	if err != nil {
		s.log.Error().Err(err).Str(logging.USER, userID).Msg("failed to create post")
		return nil, writeErr(err)
	}

	s.metrics.PostCreated()
	s.publish(live.FeedTopic, EventPostCreated, post.ID)
	s.log.Info().Str(logging.POST, post.ID).Msg("post created")
	return post, nil
}

// DeletePost удаляет пост автора вместе с комментариями и ответами.
func (s *Service) DeletePost(ctx context.Context, userID, postID string) error {
	if userID == "" {
		return ErrUnauthenticated
	}
	post, err := s.store.GetPostByID(ctx, postID)
	if err != nil {
		return readErr(err)
	}
	if post.AuthorID != userID {
		return ErrForbidden
	}

	if err := s.store.DeletePost(ctx, postID); err != nil {
		s.log.Error().Err(err).Str(logging.POST, postID).Msg("failed to delete post")
		return writeErr(err)
	}

	s.metrics.PostDeleted()
	s.publish(live.FeedTopic, EventPostDeleted, postID)
	s.publish(live.PostTopic(postID), EventPostDeleted, postID)
	s.log.Info().Str(logging.POST, postID).Msg("post deleted")
	return nil
}

// === Comments ===

// AddComment добавляет комментарий верхнего уровня к посту.
func (s *Service) AddComment(ctx context.Context, userID, postID, text string) (*domain.Comment, error) {
	return s.addComment(ctx, userID, postID, nil, text)
}

// AddReply добавляет ответ на комментарий верхнего уровня.
func (s *Service) AddReply(ctx context.Context, userID, postID, commentID, text string) (*domain.Comment, error) {
	return s.addComment(ctx, userID, postID, &commentID, text)
}

func (s *Service) addComment(ctx context.Context, userID, postID string, parentID *string, text string) (*domain.Comment, error) {
	if userID == "" {
		return nil, ErrUnauthenticated
	}
	trimmed, err := content.ValidateSubmission(text, content.CommentMinLength)
	if err != nil {
		return nil, err
	}

	if _, err := s.store.GetPostByID(ctx, postID); err != nil {
		return nil, readErr(err)
	}
	if parentID != nil {
		parent, err := s.store.GetCommentByID(ctx, *parentID)
		if err != nil {
			return nil, readErr(err)
		}
		if parent.IsReply() || parent.PostID != postID {
			return nil, ErrInvalidParent
		}
	}

	// Модерация не блокирует публикацию: при сбое оценка равна 0
	score := s.analyzer.AnalyzeCommentToxicity(ctx, trimmed).ToxicityScore

	comment, err := s.store.CreateComment(ctx, &domain.Comment{
		PostID:        postID,
		ParentID:      parentID,
		AuthorID:      userID,
		Text:          trimmed,
		ToxicityScore: score,
	})
	if err != nil {
		s.log.Error().Err(err).Str(logging.POST, postID).Msg("failed to create comment")
		return nil, writeErr(err)
	}

	kind, event := "comment", EventCommentCreated
	if comment.IsReply() {
		kind, event = "reply", EventReplyCreated
	}
	s.metrics.CommentCreated(kind)
	s.publish(live.PostTopic(postID), event, comment.ID)
	s.publish(live.FeedTopic, event, comment.ID)
	s.log.Info().
		Str(logging.POST, postID).
		Str(logging.COMMENT, comment.ID).
		Float64("toxicity", score).
		Msg(kind + " created")
	return comment, nil
}

// AnalyzeToxicity возвращает оценку токсичности текста. Доступно только вошедшим
// пользователям: каждый вызов расходует квоту внешнего API.
func (s *Service) AnalyzeToxicity(ctx context.Context, userID, text string) (moderation.Result, error) {
	if userID == "" {
		return moderation.Result{}, ErrUnauthenticated
	}
	return s.analyzer.AnalyzeCommentToxicity(ctx, text), nil
}

// === Reads ===

// Feed возвращает ленту от новых постов к старым. Комментарии загружаются только для
// раскрытых постов (первая страница), ответы - только для раскрытых комментариев.
func (s *Service) Feed(ctx context.Context, page Page, vis thread.Visibility) ([]FeedItem, error) {
	page = page.normalize()
	posts, err := s.store.GetPosts(ctx, page.Limit, page.Offset)
	if err != nil {
		return nil, fmt.Errorf("failed to get posts: %w", err)
	}

	commentsByPost := make(map[string][]*domain.Comment)
	pageInfos := make(map[string]PageInfo)
	var openComments []string
	for _, p := range posts {
		if !vis.IsOpen(p.ID) {
			continue
		}
		comments, err := s.store.GetCommentsByPostID(ctx, p.ID, storage.PaginationArgs{Limit: FeedCommentsLimit + 1})
		if err != nil {
			return nil, fmt.Errorf("failed to get comments of post %s: %w", p.ID, err)
		}
		comments, info := pageOf(comments, FeedCommentsLimit)
		commentsByPost[p.ID] = comments
		pageInfos[p.ID] = info
		openComments = append(openComments, thread.OpenCommentIDs(comments, vis)...)
	}

	replies, err := s.loadReplies(ctx, openComments)
	if err != nil {
		return nil, err
	}

	threads := thread.ComposeFeed(posts, commentsByPost, replies, vis)
	items := make([]FeedItem, 0, len(threads))
	for _, th := range threads {
		item := FeedItem{Thread: th}
		if info, ok := pageInfos[th.Post.ID]; ok {
			item.PageInfo = &info
		}
		items = append(items, item)
	}
	return items, nil
}

// Thread возвращает пост со страницей комментариев верхнего уровня.
func (s *Service) Thread(ctx context.Context, postID string, args storage.PaginationArgs, vis thread.Visibility) (*ThreadPage, error) {
	post, err := s.store.GetPostByID(ctx, postID)
	if err != nil {
		return nil, readErr(err)
	}

	l := commentsLimit(args.Limit)
	// Запрашиваем на один элемент больше для определения hasNextPage
	comments, err := s.store.GetCommentsByPostID(ctx, postID, storage.PaginationArgs{Limit: l + 1, Cursor: args.Cursor})
	if err != nil {
		return nil, fmt.Errorf("failed to get post comments: %w", err)
	}
	comments, info := pageOf(comments, l)

	replies, err := s.loadReplies(ctx, thread.OpenCommentIDs(comments, vis))
	if err != nil {
		return nil, err
	}

	return &ThreadPage{
		Thread:   thread.Compose(post, comments, replies, vis),
		PageInfo: info,
	}, nil
}

// Replies возвращает страницу ответов на комментарий верхнего уровня; ответы
// подгружаются отдельно от ветки, когда их больше, чем помещается в снимок.
func (s *Service) Replies(ctx context.Context, postID, commentID string, args storage.PaginationArgs, vis thread.Visibility) (*RepliesPage, error) {
	parent, err := s.store.GetCommentByID(ctx, commentID)
	if err != nil {
		return nil, readErr(err)
	}
	if parent.PostID != postID {
		return nil, ErrNotFound
	}
	if parent.IsReply() {
		return nil, ErrInvalidParent
	}

	l := commentsLimit(args.Limit)
	replies, err := s.store.GetCommentsByParentID(ctx, commentID, storage.PaginationArgs{Limit: l + 1, Cursor: args.Cursor})
	if err != nil {
		return nil, fmt.Errorf("failed to get replies: %w", err)
	}
	replies, info := pageOf(replies, l)

	return &RepliesPage{
		Replies:  thread.ComposeReplies(replies, vis),
		PageInfo: info,
	}, nil
}

// Profile возвращает посты пользователя в сокращённом виде страницы профиля.
func (s *Service) Profile(ctx context.Context, userID string, page Page, vis thread.Visibility) ([]thread.RenderedPost, error) {
	if userID == "" {
		return nil, ErrUnauthenticated
	}
	page = page.normalize()
	posts, err := s.store.GetPostsByAuthor(ctx, userID, page.Limit, page.Offset)
	if err != nil {
		return nil, fmt.Errorf("failed to get posts of user: %w", err)
	}

	out := make([]thread.RenderedPost, 0, len(posts))
	for _, p := range posts {
		out = append(out, thread.ComposePost(p, content.ProfilePostLimit, vis))
	}
	return out, nil
}

// loadReplies загружает ответы батчем: через лоадер запроса, если он есть, иначе через новый.
func (s *Service) loadReplies(ctx context.Context, commentIDs []string) (map[string][]*domain.Comment, error) {
	if len(commentIDs) == 0 {
		return map[string][]*domain.Comment{}, nil
	}
	loaders := dataloader.For(ctx)
	if loaders == nil {
		loaders = dataloader.NewLoaders(s.store)
	}
	replies, err := loaders.LoadReplies(ctx, commentIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to get replies: %w", err)
	}
	return replies, nil
}
