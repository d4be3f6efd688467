package reliability

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sirosfoundation/go-ebms/pkg/pmode"
)

// DefaultRedisPrefix namespaces ledger keys
const DefaultRedisPrefix = "ebms:dedup:"

// RedisLedger shares duplicate detection between engine instances.
// Claims use SET NX, so exactly one instance wins a message ID.
type RedisLedger struct {
	client   redis.Cmdable
	prefix   string
	claimTTL time.Duration
	now      func() time.Time
}

// RedisLedgerOption configures a RedisLedger
type RedisLedgerOption func(*RedisLedger)

// WithRedisPrefix replaces DefaultRedisPrefix
func WithRedisPrefix(prefix string) RedisLedgerOption {
	return func(l *RedisLedger) { l.prefix = prefix }
}

// WithRedisClaimTTL bounds uncommitted claims
func WithRedisClaimTTL(d time.Duration) RedisLedgerOption {
	return func(l *RedisLedger) {
		if d > 0 {
			l.claimTTL = d
		}
	}
}

// NewRedisLedger creates a ledger on client
func NewRedisLedger(client redis.Cmdable, opts ...RedisLedgerOption) *RedisLedger {
	l := &RedisLedger{
		client:   client,
		prefix:   DefaultRedisPrefix,
		claimTTL: DefaultClaimTTL,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *RedisLedger) key(k Key) string {
	return l.prefix + k.String()
}

// claim entries remember their window so Commit can apply it
type redisEntry struct {
	Entry
	WindowMillis int64 `json:"windowMillis"`
}

func (l *RedisLedger) Claim(ctx context.Context, key Key, window time.Duration) (ClaimResult, error) {
	if window <= 0 {
		window = pmode.DefaultDuplicateWindow
	}
	data, err := json.Marshal(redisEntry{
		Entry:        Entry{Key: key, ClaimedAt: l.now().UTC()},
		WindowMillis: window.Milliseconds(),
	})
	if err != nil {
		return 0, err
	}

	ok, err := l.client.SetNX(ctx, l.key(key), data, l.claimTTL).Result()
	if err != nil {
		return 0, fmt.Errorf("claiming %s: %w", key, err)
	}
	if !ok {
		return Duplicate, nil
	}
	return Claimed, nil
}

func (l *RedisLedger) Commit(ctx context.Context, key Key, receipt []byte) error {
	e, err := l.get(ctx, key)
	if err != nil {
		return err
	}
	if e == nil {
		return fmt.Errorf("commit %s: no claim", key)
	}

	e.Committed = true
	e.CommittedAt = l.now().UTC()
	e.Receipt = receipt
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}

	window := time.Duration(e.WindowMillis) * time.Millisecond
	if window <= 0 {
		window = pmode.DefaultDuplicateWindow
	}
	if err := l.client.Set(ctx, l.key(key), data, window).Err(); err != nil {
		return fmt.Errorf("committing %s: %w", key, err)
	}
	return nil
}

func (l *RedisLedger) Release(ctx context.Context, key Key) error {
	e, err := l.get(ctx, key)
	if err != nil {
		return err
	}
	if e == nil || e.Committed {
		return nil
	}
	if err := l.client.Del(ctx, l.key(key)).Err(); err != nil {
		return fmt.Errorf("releasing %s: %w", key, err)
	}
	return nil
}

func (l *RedisLedger) Lookup(ctx context.Context, key Key) (*Entry, bool, error) {
	e, err := l.get(ctx, key)
	if err != nil || e == nil {
		return nil, false, err
	}
	return &e.Entry, true, nil
}

func (l *RedisLedger) get(ctx context.Context, key Key) (*redisEntry, error) {
	data, err := l.client.Get(ctx, l.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", key, err)
	}
	var e redisEntry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", key, err)
	}
	return &e, nil
}
