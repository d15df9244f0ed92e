package store

import (
	"context"
	"log"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Notifier carries change notifications from store writers to subscribers.
// A notification only says "this channel changed"; subscribers re-read the
// record, which keeps delivery at-least-once and eventually consistent
// without requiring every intermediate state to be observed.
type Notifier interface {
	Publish(ctx context.Context, channel string)
	Subscribe(channel string, fn func()) Unsubscribe
}

func requestChannel(id string) string   { return "requests:" + id }
func sellerChannel(phone string) string { return "seller_requests:" + phone }

// RedisNotifier fans change notifications out across processes via Redis
// pub/sub, so two participants' sessions can live on different instances.
type RedisNotifier struct {
	client *redis.Client
}

// NewRedisNotifier wraps an already-connected Redis client.
func NewRedisNotifier(client *redis.Client) *RedisNotifier {
	return &RedisNotifier{client: client}
}

func (n *RedisNotifier) Publish(ctx context.Context, channel string) {
	if err := n.client.Publish(ctx, channel, "1").Err(); err != nil {
		log.Printf("redis notify %s: %v", channel, err)
	}
}

func (n *RedisNotifier) Subscribe(channel string, fn func()) Unsubscribe {
	sub := n.client.Subscribe(context.Background(), channel)
	done := make(chan struct{})
	go func() {
		msgs := sub.Channel()
		for {
			select {
			case <-done:
				return
			case _, ok := <-msgs:
				if !ok {
					return
				}
				fn()
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			close(done)
			if err := sub.Close(); err != nil {
				log.Printf("redis unsubscribe %s: %v", channel, err)
			}
		})
	}
}

// LocalNotifier is the single-process fallback used when no Redis client is
// configured. Delivery is synchronous in the publisher's goroutine.
type LocalNotifier struct {
	mu     sync.Mutex
	subs   map[string]map[int]func()
	nextID int
}

// NewLocalNotifier returns an empty in-process notifier.
func NewLocalNotifier() *LocalNotifier {
	return &LocalNotifier{subs: make(map[string]map[int]func())}
}

func (n *LocalNotifier) Publish(ctx context.Context, channel string) {
	n.mu.Lock()
	fns := make([]func(), 0, len(n.subs[channel]))
	for _, fn := range n.subs[channel] {
		fns = append(fns, fn)
	}
	n.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

func (n *LocalNotifier) Subscribe(channel string, fn func()) Unsubscribe {
	n.mu.Lock()
	n.nextID++
	id := n.nextID
	if n.subs[channel] == nil {
		n.subs[channel] = make(map[int]func())
	}
	n.subs[channel][id] = fn
	n.mu.Unlock()

	return func() {
		n.mu.Lock()
		delete(n.subs[channel], id)
		n.mu.Unlock()
	}
}
