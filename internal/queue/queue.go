package queue

import (
	"context"
	"log"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Message is a change notification.
type Message struct {
	Type string
	Body []byte
}

// Queue fans messages out to every active consumer. Each Consume call gets its
// own channel, closed when ctx is done.
type Queue interface {
	Publish(ctx context.Context, msg Message) error
	Consume(ctx context.Context) (<-chan Message, error)
}

// InMemory is a channel-backed fanout for single-process deployments and tests.
type InMemory struct {
	size int

	mu   sync.Mutex
	subs map[chan Message]struct{}
}

// NewInMemory creates a fanout whose consumers buffer up to size messages.
func NewInMemory(size int) *InMemory {
	if size <= 0 {
		size = 64
	}
	return &InMemory{size: size, subs: make(map[chan Message]struct{})}
}

// Publish delivers msg to every consumer. A consumer whose buffer is full
// misses the message.
func (q *InMemory) Publish(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	for ch := range q.subs {
		select {
		case ch <- msg:
		default:
			log.Printf("queue: consumer buffer full, dropping %s message", msg.Type)
		}
	}
	return nil
}

// Consume registers a consumer until ctx is done.
func (q *InMemory) Consume(ctx context.Context) (<-chan Message, error) {
	ch := make(chan Message, q.size)
	q.mu.Lock()
	q.subs[ch] = struct{}{}
	q.mu.Unlock()

	go func() {
		<-ctx.Done()
		q.mu.Lock()
		delete(q.subs, ch)
		close(ch)
		q.mu.Unlock()
	}()
	return ch, nil
}

// RedisQueue fans messages out over a Redis pub/sub channel so every API
// instance sees every write.
type RedisQueue struct {
	client  *redis.Client
	channel string
}

// NewRedisQueue builds a fanout on the given pub/sub channel.
func NewRedisQueue(client *redis.Client, channel string) *RedisQueue {
	if channel == "" {
		channel = "attendance:changes"
	}
	return &RedisQueue{client: client, channel: channel}
}

// Publish sends msg to all subscribers.
func (q *RedisQueue) Publish(ctx context.Context, msg Message) error {
	return q.client.Publish(ctx, q.channel, serialize(msg)).Err()
}

// Consume subscribes to the channel until ctx is done.
func (q *RedisQueue) Consume(ctx context.Context) (<-chan Message, error) {
	sub := q.client.Subscribe(ctx, q.channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, err
	}

	out := make(chan Message)
	go func() {
		defer close(out)
		defer sub.Close()
		in := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-in:
				if !ok {
					return
				}
				select {
				case out <- deserialize(m.Payload):
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// serialize stores messages as Type|Body.
func serialize(msg Message) string {
	return msg.Type + "|" + string(msg.Body)
}

func deserialize(s string) Message {
	typ, body, ok := strings.Cut(s, "|")
	if !ok {
		return Message{Body: []byte(s)}
	}
	return Message{Type: typ, Body: []byte(body)}
}
