package sqlstore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/UkralStul/kindwords-service/internal/domain"
	"github.com/UkralStul/kindwords-service/internal/storage"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Store реализует интерфейс Storage поверх GORM (PostgreSQL или SQLite).
type Store struct {
	db *gorm.DB

	clockMu       sync.Mutex
	lastCreatedAt time.Time
}

// OpenPostgres подключается к PostgreSQL по DSN.
func OpenPostgres(dsn string, level logger.LogLevel) (*Store, error) {
	db, err := open(postgres.Open(dsn), level)
	if err != nil {
		return nil, err
	}
	return New(db)
}

// OpenSQLite открывает файл SQLite (":memory:" для временной базы).
func OpenSQLite(path string, level logger.LogLevel) (*Store, error) {
	db, err := open(sqlite.Open(path), level)
	if err != nil {
		return nil, err
	}
	// SQLite не любит конкурентную запись, а ":memory:" живёт в пределах одного соединения
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)
	return New(db)
}

func open(dialector gorm.Dialector, level logger.LogLevel) (*gorm.DB, error) {
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(level),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

// New создает хранилище поверх готового соединения GORM и мигрирует схему.
func New(db *gorm.DB) (*Store, error) {
	// Выполняем миграцию схемы
	if err := db.AutoMigrate(&domain.Post{}, &domain.Comment{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &Store{db: db}, nil
}

// Close закрывает пул соединений.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// nextTimestamp выдаёт строго возрастающие метки времени в пределах экземпляра.
func (s *Store) nextTimestamp() time.Time {
	s.clockMu.Lock()
	defer s.clockMu.Unlock()
	// Микросекунды - точность timestamp в PostgreSQL
	ts := time.Now().UTC().Truncate(time.Microsecond)
	if !ts.After(s.lastCreatedAt) {
		ts = s.lastCreatedAt.Add(time.Microsecond)
	}
	s.lastCreatedAt = ts
	return ts
}

func notFound(err error, what, id string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%s with id %s: %w", what, id, storage.ErrNotFound)
	}
	return err
}

// === Post Methods ===

func (s *Store) CreatePost(ctx context.Context, post *domain.Post) (*domain.Post, error) {
	stored := &domain.Post{
		AuthorID:  post.AuthorID,
		Text:      post.Text,
		CreatedAt: s.nextTimestamp(),
	}
	if err := s.db.WithContext(ctx).Create(stored).Error; err != nil {
		return nil, err
	}
	// ID заполняется хуком BeforeCreate
	return stored, nil
}

func (s *Store) GetPostByID(ctx context.Context, id string) (*domain.Post, error) {
	var post domain.Post
	if err := s.db.WithContext(ctx).First(&post, "id = ?", id).Error; err != nil {
		return nil, notFound(err, "post", id)
	}
	return &post, nil
}

func (s *Store) GetPosts(ctx context.Context, limit, offset int) ([]*domain.Post, error) {
	posts := []*domain.Post{}
	err := s.db.WithContext(ctx).Order("created_at DESC").Limit(limit).Offset(offset).Find(&posts).Error
	return posts, err
}

func (s *Store) GetPostsByAuthor(ctx context.Context, authorID string, limit, offset int) ([]*domain.Post, error) {
	posts := []*domain.Post{}
	err := s.db.WithContext(ctx).
		Where("user_id = ?", authorID).
		Order("created_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&posts).Error
	return posts, err
}

func (s *Store) DeletePost(ctx context.Context, id string) error {
	// Пост, комментарии и ответы удаляются в одной транзакции
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Сначала ответы, затем комментарии верхнего уровня и сам пост, чтобы не нарушать внешние ключи
		if err := tx.Where("post_id = ? AND parent_id IS NOT NULL", id).Delete(&domain.Comment{}).Error; err != nil {
			return err
		}
		if err := tx.Where("post_id = ?", id).Delete(&domain.Comment{}).Error; err != nil {
			return err
		}
		res := tx.Delete(&domain.Post{}, "id = ?", id)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("post with id %s: %w", id, storage.ErrNotFound)
		}
		return nil
	})
}

// === Comment Methods ===

func (s *Store) CreateComment(ctx context.Context, comment *domain.Comment) (*domain.Comment, error) {
	stored := &domain.Comment{
		PostID:        comment.PostID,
		ParentID:      comment.ParentID,
		AuthorID:      comment.AuthorID,
		Text:          comment.Text,
		ToxicityScore: comment.ToxicityScore,
	}

	// Проверяем существование поста и родителя в одной транзакции с вставкой
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var postCount int64
		if err := tx.Model(&domain.Post{}).Where("id = ?", stored.PostID).Count(&postCount).Error; err != nil {
			return err
		}
		if postCount == 0 {
			return fmt.Errorf("post with id %s: %w", stored.PostID, storage.ErrNotFound)
		}

		// Если есть родитель, проверяем, что это корневой комментарий того же поста
		if stored.ParentID != nil {
			var parent domain.Comment
			if err := tx.First(&parent, "id = ?", *stored.ParentID).Error; err != nil {
				return notFound(err, "parent comment", *stored.ParentID)
			}
			if parent.ParentID != nil || parent.PostID != stored.PostID {
				return storage.ErrInvalidParent
			}
		}

		stored.CreatedAt = s.nextTimestamp()
		return tx.Create(stored).Error
	})

	if err != nil {
		return nil, err
	}

	return stored, nil
}

func (s *Store) GetCommentByID(ctx context.Context, id string) (*domain.Comment, error) {
	var comment domain.Comment
	if err := s.db.WithContext(ctx).First(&comment, "id = ?", id).Error; err != nil {
		return nil, notFound(err, "comment", id)
	}
	return &comment, nil
}

// === Pagination Methods ===

func (s *Store) GetCommentsByPostID(ctx context.Context, postID string, args storage.PaginationArgs) ([]*domain.Comment, error) {
	// Выбираем только комментарии верхнего уровня для поста (parent_id IS NULL)
	query := s.db.WithContext(ctx).Where("post_id = ? AND parent_id IS NULL", postID)
	return s.paginate(ctx, query, args)
}

func (s *Store) GetCommentsByParentID(ctx context.Context, parentID string, args storage.PaginationArgs) ([]*domain.Comment, error) {
	query := s.db.WithContext(ctx).Where("parent_id = ?", parentID)
	return s.paginate(ctx, query, args)
}

func (s *Store) paginate(ctx context.Context, query *gorm.DB, args storage.PaginationArgs) ([]*domain.Comment, error) {
	query = query.Order("created_at ASC").Order("id ASC")
	if args.Limit > 0 {
		query = query.Limit(args.Limit)
	}

	// Реализация курсорной пагинации
	if args.Cursor != nil {
		var cursorComment domain.Comment
		// Находим время создания комментария-курсора
		if err := s.db.WithContext(ctx).First(&cursorComment, "id = ?", *args.Cursor).Error; err == nil {
			// И выбираем все записи, созданные ПОСЛЕ него
			query = query.Where("created_at > ?", cursorComment.CreatedAt)
		}
	}

	comments := []*domain.Comment{}
	err := query.Find(&comments).Error
	return comments, err
}

// === Dataloader Method ===

func (s *Store) GetCommentsByParentIDs(ctx context.Context, parentIDs []string) (map[string][]*domain.Comment, error) {
	result := make(map[string][]*domain.Comment, len(parentIDs))
	if len(parentIDs) == 0 {
		return result, nil
	}

	var comments []*domain.Comment
	// Загружаем все дочерние комментарии для всех переданных parentID одним запросом
	err := s.db.WithContext(ctx).
		Where("parent_id IN ?", parentIDs).
		Order("parent_id, created_at ASC"). // Сортируем для правильной группировки и порядка
		Find(&comments).Error

	if err != nil {
		return nil, err
	}

	// Группируем результаты в карту map[parentID][]*Comment
	for _, c := range comments {
		if c.ParentID != nil {
			result[*c.ParentID] = append(result[*c.ParentID], c)
		}
	}

	return result, nil
}
