package calls

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"
)

const channelPrefix = "crm:calls:"

// Notifier fans record changes out to every session watching that record.
type Notifier interface {
	Publish(ctx context.Context, c Call) error
	Subscribe(ctx context.Context, id string) (Subscription, error)
}

// RedisNotifier carries change notifications over Redis pub/sub, one channel per call id.
// Delivery is at-most-once; subscribers that miss a message catch up on the next one
// (each message carries the full record).
type RedisNotifier struct {
	rdb *redis.Client
	log *slog.Logger
}

func NewRedisNotifier(rdb *redis.Client, log *slog.Logger) *RedisNotifier {
	if log == nil {
		log = slog.Default()
	}
	return &RedisNotifier{rdb: rdb, log: log}
}

func channelFor(id string) string { return channelPrefix + id }

func (n *RedisNotifier) Publish(ctx context.Context, c Call) error {
	if n.rdb == nil {
		return fmt.Errorf("%w: redis client is nil", ErrStoreUnavailable)
	}
	payload, err := json.Marshal(c)
	if err != nil {
		return err
	}
	if err := n.rdb.Publish(ctx, channelFor(c.ID), payload).Err(); err != nil {
		return fmt.Errorf("%w: publish: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func (n *RedisNotifier) Subscribe(ctx context.Context, id string) (Subscription, error) {
	if n.rdb == nil {
		return nil, fmt.Errorf("%w: redis client is nil", ErrStoreUnavailable)
	}
	if id == "" {
		return nil, ErrInvalidArgument
	}
	ps := n.rdb.Subscribe(ctx, channelFor(id))
	// Wait for the subscription confirmation so no publish after this call is missed.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("%w: subscribe: %v", ErrStoreUnavailable, err)
	}

	sub := &redisSub{ps: ps, out: make(chan Call, 16), done: make(chan struct{})}
	go sub.pump(ctx, n.log.With("call_id", id))
	return sub, nil
}

type redisSub struct {
	ps   *redis.PubSub
	out  chan Call
	done chan struct{}
	once sync.Once
}

func (s *redisSub) Updates() <-chan Call { return s.out }

func (s *redisSub) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		err = s.ps.Close()
	})
	return err
}

func (s *redisSub) pump(ctx context.Context, log *slog.Logger) {
	defer close(s.out)
	defer func() { _ = s.Close() }()

	for {
		msg, err := s.ps.ReceiveMessage(ctx)
		if err != nil {
			select {
			case <-s.done:
			case <-ctx.Done():
			default:
				log.Warn("call subscription ended", "err", err)
			}
			return
		}
		c, err := decodeNotification(msg.Payload)
		if err != nil {
			log.Warn("call notification decode failed", "err", err)
			continue
		}
		if c.Deleted {
			return
		}
		select {
		case s.out <- c:
		case <-s.done:
			return
		case <-ctx.Done():
			return
		}
	}
}

func decodeNotification(payload string) (Call, error) {
	var c Call
	if err := json.Unmarshal([]byte(payload), &c); err != nil {
		return Call{}, err
	}
	if c.ID == "" {
		return Call{}, fmt.Errorf("%w: notification without id", ErrInvalidArgument)
	}
	return c, nil
}
