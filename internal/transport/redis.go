package transport

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/yungbote/threshold-orchestrator/internal/platform/logger"
)

const (
	defaultRedisBlockTimeout = time.Second
	defaultRedisRetryBackoff = 500 * time.Millisecond
)

type RedisOptions struct {
	// KeyPrefix namespaces queue keys and topic channels, e.g. "orch:".
	KeyPrefix string
	// BlockTimeout bounds each BRPOP; it is also the worst-case Unsubscribe latency.
	BlockTimeout time.Duration
	RetryBackoff time.Duration
}

// Redis carries queues on Redis lists (LPUSH / BRPOP) and topics on Redis pub/sub.
type Redis struct {
	log       *logger.Logger
	rdb       *goredis.Client
	opts      RedisOptions
	ownsConn  bool
	consumers *consumers
}

// DialRedis connects to addr and verifies the server answers before returning.
func DialRedis(log *logger.Logger, addr string, opts RedisOptions) (*Redis, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil, fmt.Errorf("missing redis address")
	}
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	r := NewRedis(log, rdb, opts)
	r.ownsConn = true
	return r, nil
}

// NewRedis wraps an existing client; Close will not close it.
func NewRedis(log *logger.Logger, rdb *goredis.Client, opts RedisOptions) *Redis {
	if opts.BlockTimeout <= 0 {
		opts.BlockTimeout = defaultRedisBlockTimeout
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = defaultRedisRetryBackoff
	}
	return &Redis{
		log:       log.With("service", "RedisTransport"),
		rdb:       rdb,
		opts:      opts,
		consumers: newConsumers(),
	}
}

func (r *Redis) key(name string) string { return r.opts.KeyPrefix + name }

func (r *Redis) Send(ctx context.Context, destination string, msg []byte) error {
	if r == nil || r.rdb == nil {
		return fmt.Errorf("redis transport not initialized")
	}
	return r.rdb.LPush(ctx, r.key(destination), msg).Err()
}

func (r *Redis) Subscribe(destination string, h Handler) error {
	if r == nil || r.rdb == nil {
		return fmt.Errorf("redis transport not initialized")
	}
	if h == nil {
		return fmt.Errorf("handler required")
	}
	key := r.key(destination)
	return r.consumers.start(destination, h, func(ctx context.Context) {
		for {
			if ctx.Err() != nil {
				return
			}
			res, err := r.rdb.BRPop(ctx, r.opts.BlockTimeout, key).Result()
			if err != nil {
				if errors.Is(err, goredis.Nil) {
					continue
				}
				if ctx.Err() != nil {
					return
				}
				if errors.Is(err, goredis.ErrClosed) {
					r.log.Warn("redis client closed, consumer exiting", "destination", destination)
					return
				}
				r.log.Warn("redis BRPOP failed", "destination", destination, "error", err)
				select {
				case <-ctx.Done():
					return
				case <-time.After(r.opts.RetryBackoff):
				}
				continue
			}
			// BRPOP answers [key, value]
			if len(res) != 2 {
				r.log.Warn("unexpected BRPOP reply", "destination", destination, "len", len(res))
				continue
			}
			dispatch(ctx, r.log, destination, h, []byte(res[1]))
		}
	})
}

func (r *Redis) Unsubscribe(destination string, h Handler) error {
	return r.consumers.stop(destination, h)
}

func (r *Redis) Publish(ctx context.Context, topic string, msg []byte) error {
	if r == nil || r.rdb == nil {
		return fmt.Errorf("redis transport not initialized")
	}
	return r.rdb.Publish(ctx, r.key(topic), msg).Err()
}

func (r *Redis) StartForwarder(ctx context.Context, topic string, onMsg func(msg []byte)) error {
	if r == nil || r.rdb == nil {
		return fmt.Errorf("redis transport not initialized")
	}
	if onMsg == nil {
		return fmt.Errorf("onMsg callback required")
	}

	sub := r.rdb.Subscribe(ctx, r.key(topic))

	// ensures subscription actually started
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("redis subscribe: %w", err)
	}

	go func() {
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				_ = sub.Close()
				return
			case m, ok := <-ch:
				if !ok || m == nil {
					_ = sub.Close()
					return
				}
				onMsg([]byte(m.Payload))
			}
		}
	}()

	return nil
}

func (r *Redis) Close() error {
	if r == nil || r.rdb == nil {
		return nil
	}
	r.consumers.stopAll()
	if !r.ownsConn {
		return nil
	}
	return r.rdb.Close()
}

// Client exposes the underlying connection for health probes.
func (r *Redis) Client() *goredis.Client { return r.rdb }

func (r *Redis) QueueDepth(ctx context.Context, destination string) (int, error) {
	n, err := r.rdb.LLen(ctx, r.key(destination)).Result()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}
