package reliability

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ledgerContract(t *testing.T, l Ledger) {
	t.Helper()
	ctx := context.Background()
	key := Key{PartyID: "urn:party:a", MessageID: "m1@ebms"}

	_, found, err := l.Lookup(ctx, key)
	require.NoError(t, err)
	assert.False(t, found)

	res, err := l.Claim(ctx, key, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, Claimed, res)

	res, err = l.Claim(ctx, key, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, Duplicate, res, "in-progress claims count as duplicates")

	// failed processing releases the claim so a resend is processed
	require.NoError(t, l.Release(ctx, key))
	res, err = l.Claim(ctx, key, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, Claimed, res)

	require.NoError(t, l.Commit(ctx, key, []byte("<receipt/>")))
	e, found, err := l.Lookup(ctx, key)
	require.NoError(t, err)
	require.True(t, found)
	assert.True(t, e.Committed)
	assert.Equal(t, key, e.Key)
	assert.Equal(t, []byte("<receipt/>"), e.Receipt)

	// release never undoes a commit
	require.NoError(t, l.Release(ctx, key))
	res, err = l.Claim(ctx, key, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, Duplicate, res)

	// the same message ID from another party is a different message
	res, err = l.Claim(ctx, Key{PartyID: "urn:party:b", MessageID: "m1@ebms"}, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, Claimed, res)

	// a separator inside the party ID does not alias another key
	res, err = l.Claim(ctx, Key{PartyID: "a|b", MessageID: "c"}, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, Claimed, res)
	res, err = l.Claim(ctx, Key{PartyID: "a", MessageID: "b|c"}, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, Claimed, res)

	assert.Error(t, l.Commit(ctx, Key{PartyID: "x", MessageID: "unclaimed"}, nil))
}

func TestKey_String(t *testing.T) {
	assert.Equal(t, "11:urn:party:a|m1@ebms", Key{PartyID: "urn:party:a", MessageID: "m1@ebms"}.String())
	assert.NotEqual(t, Key{PartyID: "a|b", MessageID: "c"}.String(), Key{PartyID: "a", MessageID: "b|c"}.String())
	assert.Equal(t, "0:|m1", Key{MessageID: "m1"}.String())
}

func ledgerRace(t *testing.T, l Ledger) {
	t.Helper()
	ctx := context.Background()
	key := Key{PartyID: "urn:party:a", MessageID: "race@ebms"}

	const workers = 32
	var wg sync.WaitGroup
	results := make(chan ClaimResult, workers)
	start := make(chan struct{})
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			res, err := l.Claim(ctx, key, time.Hour)
			assert.NoError(t, err)
			results <- res
		}()
	}
	close(start)
	wg.Wait()
	close(results)

	claimed := 0
	for res := range results {
		if res == Claimed {
			claimed++
		}
	}
	assert.Equal(t, 1, claimed)
}

func TestMemoryLedger(t *testing.T) {
	l := NewMemoryLedger()
	defer l.Close()
	ledgerContract(t, l)
}

func TestMemoryLedger_ConcurrentClaim(t *testing.T) {
	l := NewMemoryLedger()
	defer l.Close()
	ledgerRace(t, l)
}

func TestMemoryLedger_Expiry(t *testing.T) {
	clock := newFakeClock()
	l := NewMemoryLedger(withClock(clock.now), WithClaimTTL(time.Minute))
	defer l.Close()

	ctx := context.Background()
	committed := Key{PartyID: "a", MessageID: "committed"}
	stale := Key{PartyID: "a", MessageID: "stale"}

	_, err := l.Claim(ctx, committed, time.Hour)
	require.NoError(t, err)
	require.NoError(t, l.Commit(ctx, committed, nil))
	_, err = l.Claim(ctx, stale, time.Hour)
	require.NoError(t, err)

	// an abandoned claim expires after the claim TTL
	clock.advance(2 * time.Minute)
	res, err := l.Claim(ctx, stale, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, Claimed, res)
	res, err = l.Claim(ctx, committed, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, Duplicate, res)

	// committed entries live for the window
	clock.advance(time.Hour)
	_, found, err := l.Lookup(ctx, committed)
	require.NoError(t, err)
	assert.False(t, found)

	assert.Equal(t, 1, l.Len())
	assert.Equal(t, 1, l.Sweep())
	assert.Zero(t, l.Len())
}

func TestMemoryLedger_JanitorAndClose(t *testing.T) {
	l := NewMemoryLedger(WithJanitor(time.Millisecond), WithClaimTTL(time.Millisecond))
	ctx := context.Background()

	_, err := l.Claim(ctx, Key{MessageID: "m"}, time.Hour)
	require.NoError(t, err)
	assert.Eventually(t, func() bool { return l.Len() == 0 }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, l.Close())
	require.NoError(t, l.Close())
	_, err = l.Claim(ctx, Key{MessageID: "m"}, time.Hour)
	assert.ErrorIs(t, err, ErrLedgerClosed)
}

func setupMiniredis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func TestRedisLedger(t *testing.T) {
	_, client := setupMiniredis(t)
	ledgerContract(t, NewRedisLedger(client))
}

func TestRedisLedger_ConcurrentClaim(t *testing.T) {
	_, client := setupMiniredis(t)
	ledgerRace(t, NewRedisLedger(client))
}

func TestRedisLedger_Expiry(t *testing.T) {
	mr, client := setupMiniredis(t)
	l := NewRedisLedger(client, WithRedisPrefix("test:"), WithRedisClaimTTL(time.Minute))
	ctx := context.Background()

	stale := Key{PartyID: "a", MessageID: "stale"}
	committed := Key{PartyID: "a", MessageID: "committed"}

	_, err := l.Claim(ctx, stale, time.Hour)
	require.NoError(t, err)
	_, err = l.Claim(ctx, committed, 2*time.Hour)
	require.NoError(t, err)
	require.NoError(t, l.Commit(ctx, committed, []byte("r")))

	assert.True(t, mr.Exists("test:1:a|stale"))
	assert.Equal(t, 2*time.Hour, mr.TTL("test:1:a|committed"))

	mr.FastForward(2 * time.Minute)
	res, err := l.Claim(ctx, stale, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, Claimed, res)

	mr.FastForward(2 * time.Hour)
	_, found, err := l.Lookup(ctx, committed)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestRedisLedger_Errors(t *testing.T) {
	mr, client := setupMiniredis(t)
	l := NewRedisLedger(client)
	ctx := context.Background()

	require.NoError(t, mr.Set(DefaultRedisPrefix+"a|garbage", "not json"))
	_, _, err := l.Lookup(ctx, Key{PartyID: "a", MessageID: "garbage"})
	assert.ErrorContains(t, err, "decoding")

	mr.Close()
	_, err = l.Claim(ctx, Key{PartyID: "a", MessageID: "m"}, time.Hour)
	assert.Error(t, err)
}
