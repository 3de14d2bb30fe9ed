// Package holds keeps short-lived advisory holds on listings in Redis so that
// two guests are not both handed a deposit transaction for the same listing.
// A hold is never authoritative: the ledger's booking flag decides.
package holds

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

const keyPrefix = "stayescrow:hold:"

// releaseScript deletes the hold only if it still belongs to the caller.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

func New(client *redis.Client, ttl time.Duration) *Redis {
	return &Redis{client: client, ttl: ttl}
}

// Dial connects to addr and pings it.
func Dial(ctx context.Context, addr string, ttl time.Duration) (*Redis, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return New(client, ttl), nil
}

// Acquire places a hold on listing for bookingID. It reports false when
// another booking already holds the listing.
func (r *Redis) Acquire(ctx context.Context, listing string, bookingID uuid.UUID) (bool, error) {
	ok, err := r.client.SetNX(ctx, keyPrefix+listing, bookingID.String(), r.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire hold: %w", err)
	}
	return ok, nil
}

func (r *Redis) Release(ctx context.Context, listing string, bookingID uuid.UUID) error {
	if err := releaseScript.Run(ctx, r.client, []string{keyPrefix + listing}, bookingID.String()).Err(); err != nil && err != redis.Nil {
		return fmt.Errorf("release hold: %w", err)
	}
	return nil
}

// Holder returns the booking currently holding listing, if any.
func (r *Redis) Holder(ctx context.Context, listing string) (uuid.UUID, bool, error) {
	v, err := r.client.Get(ctx, keyPrefix+listing).Result()
	if err == redis.Nil {
		return uuid.Nil, false, nil
	}
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("read hold: %w", err)
	}
	id, err := uuid.Parse(v)
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("read hold: %w", err)
	}
	return id, true, nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}

// Noop is used when no Redis is configured; every hold succeeds.
type Noop struct{}

func (Noop) Acquire(context.Context, string, uuid.UUID) (bool, error) { return true, nil }
func (Noop) Release(context.Context, string, uuid.UUID) error         { return nil }
