package identity

import (
	"context"
	"strings"
	"time"

	"github.com/go-redis/redis"
)

const sessionPrefix = "session:"

// RedisSessions хранит сеансы в Redis с истечением по TTL.
type RedisSessions struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisSessions(client *redis.Client, ttl time.Duration) *RedisSessions {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisSessions{client: client, ttl: ttl}
}

// DialRedis подключается к Redis и проверяет соединение.
func DialRedis(addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping().Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}

func (r *RedisSessions) SignIn(ctx context.Context, userID string) (string, error) {
	if strings.TrimSpace(userID) == "" {
		return "", ErrInvalidUser
	}
	token := newToken()
	if err := r.client.WithContext(ctx).Set(sessionPrefix+token, userID, r.ttl).Err(); err != nil {
		return "", err
	}
	return token, nil
}

func (r *RedisSessions) SignOut(ctx context.Context, token string) error {
	return r.client.WithContext(ctx).Del(sessionPrefix + token).Err()
}

func (r *RedisSessions) CurrentUser(ctx context.Context, token string) (string, error) {
	userID, err := r.client.WithContext(ctx).Get(sessionPrefix + token).Result()
	if err != nil {
		if err == redis.Nil {
			return "", ErrUnauthenticated
		}
		return "", err
	}
	return userID, nil
}
