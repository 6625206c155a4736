// Package live рассылает уведомления об изменениях данных подписчикам.
// Уведомление не несёт данных: подписчик сам перечитывает актуальный снимок,
// поэтому пропущенные уведомления безопасны - побеждает последний снимок.
package live

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// FeedTopic - изменения ленты (создание и удаление постов).
const FeedTopic = "feed"

// PostTopic - изменения ветки обсуждения поста.
func PostTopic(postID string) string {
	return "post:" + postID
}

// Event - уведомление об изменении.
type Event struct {
	Topic string
	// Kind - что произошло: post_created, post_deleted, comment_created, reply_created.
	Kind string
	ID   string
}

// Broker хранит каналы для подписчиков на темы.
type Broker struct {
	mu sync.RWMutex
	//          map[topic] map[subscriberID] channel
	subs map[string]map[string]chan Event
	log  zerolog.Logger
}

// NewBroker - конструктор брокера.
func NewBroker(log zerolog.Logger) *Broker {
	return &Broker{
		subs: make(map[string]map[string]chan Event),
		log:  log.With().Str("component", "live").Logger(),
	}
}

// Subscribe подписывает на тему до отмены ctx. Канал закрывается после отписки.
func (b *Broker) Subscribe(ctx context.Context, topic string) <-chan Event {
	// Буфер на одно событие: медленный подписчик всё равно перечитает свежий снимок
	ch := make(chan Event, 1)
	subID := uuid.NewString()

	b.mu.Lock()
	if b.subs[topic] == nil {
		b.subs[topic] = make(map[string]chan Event)
	}
	b.subs[topic][subID] = ch
	b.mu.Unlock()

	// Горутина для очистки при отключении клиента
	go func() {
		<-ctx.Done()
		b.mu.Lock()
		if topicSubs, ok := b.subs[topic]; ok {
			delete(topicSubs, subID)
			if len(topicSubs) == 0 {
				delete(b.subs, topic)
			}
		}
		b.mu.Unlock()
		close(ch)
	}()

	return ch
}

// Publish уведомляет подписчиков темы, не блокируясь на медленных.
func (b *Broker) Publish(ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subs[ev.Topic] {
		select {
		case ch <- ev:
		default:
			// Клиент не успевает читать; в канале уже лежит событие, которое заставит его перечитать снимок
			b.log.Debug().Str("topic", ev.Topic).Msg("subscriber busy, event coalesced")
		}
	}
}

// Subscribers возвращает число подписчиков темы.
func (b *Broker) Subscribers(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[topic])
}
