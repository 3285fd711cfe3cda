package coordination

import (
	"context"

	"github.com/redis/go-redis/v9"

	"github.com/nanaya/osu-elastic-indexer/x"
)

var log = x.Log("coordination")

// Redis implements Store against a Redis instance: GET/SET for
// current_schema, SADD/SREM/SMEMBERS for active_schemas. Redis is not
// part of the teacher's dependency set -- the spec treats the
// coordination-store client library as an out-of-scope collaborator --
// but its native set type is a direct fit for §3's "small shared key
// space" and is the natural choice among actively maintained Go clients.
type Redis struct {
	client *redis.Client
}

// NewRedis dials addr (a redis:// URL or host:port) and verifies
// connectivity with a PING.
func NewRedis(ctx context.Context, addr string) (*Redis, error) {
	opt, err := redis.ParseURL(addr)
	if err != nil {
		// Fall back to treating addr as a bare host:port.
		opt = &redis.Options{Addr: addr}
	}
	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, x.Wrap(err, "connecting to coordination store")
	}
	log.Debug("connected to coordination store")
	return &Redis{client: client}, nil
}

// Get implements Store.
func (r *Redis) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := r.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, x.Wrapf(err, "GET %s", key)
	}
	return val, true, nil
}

// Set implements Store.
func (r *Redis) Set(ctx context.Context, key, value string) error {
	if err := r.client.Set(ctx, key, value, 0).Err(); err != nil {
		return x.Wrapf(err, "SET %s", key)
	}
	return nil
}

// Add implements Store.
func (r *Redis) Add(ctx context.Context, key, member string) error {
	if err := r.client.SAdd(ctx, key, member).Err(); err != nil {
		return x.Wrapf(err, "SADD %s %s", key, member)
	}
	return nil
}

// Remove implements Store.
func (r *Redis) Remove(ctx context.Context, key, member string) error {
	if err := r.client.SRem(ctx, key, member).Err(); err != nil {
		return x.Wrapf(err, "SREM %s %s", key, member)
	}
	return nil
}

// Members implements Store.
func (r *Redis) Members(ctx context.Context, key string) ([]string, error) {
	members, err := r.client.SMembers(ctx, key).Result()
	if err != nil {
		return nil, x.Wrapf(err, "SMEMBERS %s", key)
	}
	return members, nil
}

// Close releases the underlying connection pool.
func (r *Redis) Close() error {
	return r.client.Close()
}
