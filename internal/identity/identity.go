// Package identity связывает сеансы с идентификаторами пользователей, выданными внешним провайдером.
// Проверку личности выполняет прокси аутентификации перед сервисом; здесь хранятся только сеансы.
package identity

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrUnauthenticated - нет действующего сеанса.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrInvalidUser - провайдер не передал идентификатор пользователя.
	ErrInvalidUser = errors.New("user id is required")
)

// DefaultTTL - время жизни сеанса.
const DefaultTTL = 30 * 24 * time.Hour

// Provider - хранилище сеансов.
type Provider interface {
	SignIn(ctx context.Context, userID string) (token string, err error)
	SignOut(ctx context.Context, token string) error
	CurrentUser(ctx context.Context, token string) (userID string, err error)
}

func newToken() string {
	return uuid.NewString()
}

// MemorySessions хранит сеансы в памяти процесса.
type MemorySessions struct {
	mu       sync.RWMutex
	sessions map[string]memorySession
	ttl      time.Duration
	now      func() time.Time
}

type memorySession struct {
	userID    string
	expiresAt time.Time
}

func NewMemorySessions(ttl time.Duration) *MemorySessions {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemorySessions{
		sessions: make(map[string]memorySession),
		ttl:      ttl,
		now:      time.Now,
	}
}

func (m *MemorySessions) SignIn(ctx context.Context, userID string) (string, error) {
	if strings.TrimSpace(userID) == "" {
		return "", ErrInvalidUser
	}
	token := newToken()
	m.mu.Lock()
	m.sessions[token] = memorySession{userID: userID, expiresAt: m.now().Add(m.ttl)}
	m.mu.Unlock()
	return token, nil
}

func (m *MemorySessions) SignOut(ctx context.Context, token string) error {
	m.mu.Lock()
	delete(m.sessions, token)
	m.mu.Unlock()
	return nil
}

func (m *MemorySessions) CurrentUser(ctx context.Context, token string) (string, error) {
	m.mu.RLock()
	s, ok := m.sessions[token]
	m.mu.RUnlock()
	if !ok {
		return "", ErrUnauthenticated
	}
	if m.now().After(s.expiresAt) {
		_ = m.SignOut(ctx, token)
		return "", ErrUnauthenticated
	}
	return s.userID, nil
}

type contextKey string

const userKey = contextKey("userID")

// WithUser кладёт идентификатор пользователя в контекст.
func WithUser(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userKey, userID)
}

// UserFrom достаёт идентификатор пользователя из контекста.
func UserFrom(ctx context.Context) (string, bool) {
	userID, ok := ctx.Value(userKey).(string)
	return userID, ok && userID != ""
}

// BearerToken извлекает токен из заголовка Authorization.
func BearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(h) > len(prefix) && strings.EqualFold(h[:len(prefix)], prefix) {
		return strings.TrimSpace(h[len(prefix):])
	}
	return ""
}

// Middleware распознаёт сеанс по токену и добавляет пользователя в контекст запроса.
// Запросы без сеанса пропускаются дальше анонимными: решение об отказе принимает обработчик.
func Middleware(p Provider) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := BearerToken(r)
			if token == "" {
				next.ServeHTTP(w, r)
				return
			}
			userID, err := p.CurrentUser(r.Context(), token)
			if err != nil {
				next.ServeHTTP(w, r)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), userID)))
		})
	}
}
