package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"kvfs/internal/logging"

	"github.com/redis/go-redis/v9"
)

var (
	redisLogger = logging.GetLogger().WithPrefix("redis")
)

// scanBatch is the COUNT hint passed to SCAN.
const scanBatch = 512

// failed classifies a go-redis error. An error reply from the server means
// the connection works, so only transport failures become ErrUnavailable.
func failed(op string, err error) error {
	var reply redis.Error
	if errors.As(err, &reply) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return unavailable(op, err)
}

// isWrongType reports a WRONGTYPE reply: the key now holds a non-string type.
func isWrongType(err error) bool {
	var reply redis.Error
	return errors.As(err, &reply) && strings.HasPrefix(reply.Error(), "WRONGTYPE")
}

// Redis is a Store backed by a Redis server. Only keys of the Redis "string"
// type are classified as KindValue.
type Redis struct {
	client *redis.Client
	addr   string
}

var _ Store = (*Redis)(nil)

// NewRedis connects to the server described by a go-redis URL
// (redis://, rediss:// or unix://) and verifies it answers PING.
func NewRedis(ctx context.Context, rawURL string) (*Redis, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	r := &Redis{
		client: redis.NewClient(opts),
		addr:   opts.Addr,
	}

	redisLogger.Debug("Connecting to redis at %s (db %d)", opts.Addr, opts.DB)
	if err := r.Ping(ctx); err != nil {
		_ = r.client.Close()
		return nil, err
	}

	return r, nil
}

// Keys walks the keyspace with SCAN instead of KEYS so a large database
// does not block the server.
func (r *Redis) Keys(ctx context.Context) ([]string, error) {
	var (
		keys   []string
		cursor uint64
	)
	for {
		batch, next, err := r.client.Scan(ctx, cursor, "*", scanBatch).Result()
		if err != nil {
			return nil, failed("redis scan", err)
		}
		keys = append(keys, batch...)
		if next == 0 {
			break
		}
		cursor = next
	}

	// SCAN may return a key more than once while the keyspace is rehashed.
	seen := make(map[string]struct{}, len(keys))
	unique := keys[:0]
	for _, k := range keys {
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		unique = append(unique, k)
	}

	redisLogger.Trace("SCAN returned %d keys", len(unique))
	return unique, nil
}

// Kind maps the Redis TYPE reply onto a Kind.
func (r *Redis) Kind(ctx context.Context, key string) (Kind, error) {
	t, err := r.client.Type(ctx, key).Result()
	if err != nil {
		return KindNone, failed("redis type", err)
	}

	switch t {
	case "string":
		return KindValue, nil
	case "none":
		return KindNone, nil
	default:
		return KindComposite, nil
	}
}

func (r *Redis) Get(ctx context.Context, key string) ([]byte, error) {
	b, err := r.client.Get(ctx, key).Bytes()
	// a key whose type changed since it was classified no longer has a value
	if errors.Is(err, redis.Nil) || isWrongType(err) {
		return nil, fmt.Errorf("redis get %q: %w", key, ErrNotFound)
	}
	if err != nil {
		return nil, failed("redis get", err)
	}
	return b, nil
}

// Set stores value, keeping any expiry already set on the key.
func (r *Redis) Set(ctx context.Context, key string, value []byte) error {
	if err := r.client.Set(ctx, key, value, redis.KeepTTL).Err(); err != nil {
		return failed("redis set", err)
	}
	return nil
}

func (r *Redis) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return failed("redis ping "+r.addr, err)
	}
	return nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}

// String identifies the backend in logs and trace attributes.
func (r *Redis) String() string {
	return "redis://" + r.addr
}
