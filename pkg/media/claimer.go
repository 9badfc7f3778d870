package media

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Claimer hands out short-lived exclusive claims on media ids so that two
// feed paths cannot both pass the gate before either has marked the id sent.
type Claimer interface {
	Claim(ctx context.Context, id string) (bool, error)
	Release(ctx context.Context, id string) error
}

// LocalClaimer serializes claims within one process.
type LocalClaimer struct {
	mu     sync.Mutex
	claims map[string]struct{}
}

func NewLocalClaimer() *LocalClaimer {
	return &LocalClaimer{claims: make(map[string]struct{})}
}

func (c *LocalClaimer) Claim(ctx context.Context, id string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, held := c.claims[id]; held {
		return false, nil
	}
	c.claims[id] = struct{}{}
	return true, nil
}

func (c *LocalClaimer) Release(ctx context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.claims, id)
	return nil
}

// releaseScript deletes the claim only if this claimer still owns it.
// KEYS[1] = claim key
// ARGV[1] = owner token
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisClaimer shares claims across processes. Claims expire after ttl so a
// crashed holder cannot block an id forever.
type RedisClaimer struct {
	client redis.UniversalClient
	ttl    time.Duration
	token  string
}

func NewRedisClaimer(client redis.UniversalClient, ttl time.Duration) *RedisClaimer {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &RedisClaimer{client: client, ttl: ttl, token: uuid.New().String()}
}

func claimKey(id string) string {
	return fmt.Sprintf("media:claim:%s", id)
}

func (c *RedisClaimer) Claim(ctx context.Context, id string) (bool, error) {
	ok, err := c.client.SetNX(ctx, claimKey(id), c.token, c.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("claim media %s: %w", id, err)
	}
	return ok, nil
}

func (c *RedisClaimer) Release(ctx context.Context, id string) error {
	if err := releaseScript.Run(ctx, c.client, []string{claimKey(id)}, c.token).Err(); err != nil {
		return fmt.Errorf("release media %s: %w", id, err)
	}
	return nil
}
