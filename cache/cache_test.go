package cache_test

import (
	"context"
	"errors"
	"net/url"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/finance-engine/cache"
	"github.com/warp/finance-engine/ledger"
)

// =============================================================================
// TEST SETUP
// =============================================================================

type result struct {
	N int `json:"n"`
}

// counter returns a compute func that counts its invocations.
func counter(calls *int) func(context.Context) (result, error) {
	return func(context.Context) (result, error) {
		*calls++
		return result{N: *calls}, nil
	}
}

// brokenBackend fails every operation.
type brokenBackend struct{}

var errDown = errors.New("backend down")

func (brokenBackend) Get(context.Context, string) ([]byte, bool, error) { return nil, false, errDown }
func (brokenBackend) Set(context.Context, string, []byte, time.Duration) error {
	return errDown
}
func (brokenBackend) DeletePrefix(context.Context, string) (int, error) { return 0, errDown }

func newRedisBackend(t *testing.T) (*cache.Redis, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return cache.NewRedis(client), mr
}

// =============================================================================
// KEY DERIVATION
// =============================================================================

func TestKey_ParamOrderDoesNotMatter(t *testing.T) {
	a, _ := url.ParseQuery("from=2024-01-01&to=2024-01-31&type=EXPENSE")
	b, _ := url.ParseQuery("type=EXPENSE&to=2024-01-31&from=2024-01-01")

	assert.Equal(t,
		cache.Key("p", "stats_categories", 1, a),
		cache.Key("p", "stats_categories", 1, b))
}

func TestKey_RefreshExcluded(t *testing.T) {
	plain, _ := url.ParseQuery("from=2024-01-01")
	forced, _ := url.ParseQuery("from=2024-01-01&refresh=1")

	assert.Equal(t, cache.Key("p", "summary", 1, plain), cache.Key("p", "summary", 1, forced))
}

func TestKey_DistinguishesInputs(t *testing.T) {
	q1, _ := url.ParseQuery("type=INCOME")
	q2, _ := url.ParseQuery("type=EXPENSE")
	multi1, _ := url.ParseQuery("type=A&type=B")
	multi2, _ := url.ParseQuery("type=A")

	assert.NotEqual(t, cache.Key("p", "x", 1, q1), cache.Key("p", "x", 1, q2))
	assert.NotEqual(t, cache.Key("p", "x", 1, q1), cache.Key("p", "x", 2, q1))
	assert.NotEqual(t, cache.Key("p", "x", 1, q1), cache.Key("p", "y", 1, q1))
	assert.NotEqual(t, cache.Key("p", "x", 1, multi1), cache.Key("p", "x", 1, multi2))
}

func TestKey_UserNamespace(t *testing.T) {
	key := cache.Key("beshtash", "dashboard", 1, nil)
	assert.True(t, len(key) > len(cache.UserPrefix("beshtash", 1)))
	assert.Contains(t, key, cache.UserPrefix("beshtash", 1))
	assert.NotContains(t, cache.Key("beshtash", "dashboard", 12, nil), cache.UserPrefix("beshtash", 1))
}

// =============================================================================
// READ-THROUGH
// =============================================================================

func TestReadThrough_MissThenHit(t *testing.T) {
	// GIVEN: An empty cache
	// WHEN: The same request is made twice
	// THEN: The first computes (MISS), the second is served from cache (HIT)

	c := cache.New(cache.NewMemory())
	ctx := context.Background()
	calls := 0
	req := cache.Request{Endpoint: "dashboard", User: 1}

	v1, st1, err := cache.ReadThrough(ctx, c, req, counter(&calls))
	require.NoError(t, err)
	v2, st2, err := cache.ReadThrough(ctx, c, req, counter(&calls))
	require.NoError(t, err)

	assert.Equal(t, cache.Miss, st1)
	assert.Equal(t, cache.Hit, st2)
	assert.Equal(t, v1, v2)
	assert.Equal(t, 1, calls)
}

func TestReadThrough_RefreshRecomputesAndStores(t *testing.T) {
	c := cache.New(cache.NewMemory())
	ctx := context.Background()
	calls := 0
	plain := cache.Request{Endpoint: "summary", User: 1, Params: url.Values{}}
	forced := cache.Request{Endpoint: "summary", User: 1, Params: url.Values{"refresh": {"1"}}}

	_, _, err := cache.ReadThrough(ctx, c, plain, counter(&calls))
	require.NoError(t, err)

	v, st, err := cache.ReadThrough(ctx, c, forced, counter(&calls))
	require.NoError(t, err)
	assert.Equal(t, cache.Miss, st)
	assert.Equal(t, 2, v.N)

	// The refreshed value replaced the old entry
	v, st, err = cache.ReadThrough(ctx, c, plain, counter(&calls))
	require.NoError(t, err)
	assert.Equal(t, cache.Hit, st)
	assert.Equal(t, 2, v.N)
}

func TestReadThrough_BackendDownDegradesToMiss(t *testing.T) {
	c := cache.New(brokenBackend{})
	calls := 0

	for i := 0; i < 2; i++ {
		_, st, err := cache.ReadThrough(context.Background(), c, cache.Request{Endpoint: "dashboard", User: 1}, counter(&calls))
		require.NoError(t, err)
		assert.Equal(t, cache.Miss, st)
	}
	assert.Equal(t, 2, calls)
	assert.False(t, c.Invalidate(context.Background(), 1))
}

func TestReadThrough_ComputeErrorPropagatesAndIsNotCached(t *testing.T) {
	c := cache.New(cache.NewMemory())
	req := cache.Request{Endpoint: "dashboard", User: 1}

	_, _, err := cache.ReadThrough(context.Background(), c, req, func(context.Context) (result, error) {
		return result{}, assert.AnError
	})
	assert.ErrorIs(t, err, assert.AnError)

	calls := 0
	_, st, err := cache.ReadThrough(context.Background(), c, req, counter(&calls))
	require.NoError(t, err)
	assert.Equal(t, cache.Miss, st)
}

// =============================================================================
// INVALIDATION
// =============================================================================

func TestInvalidate_OnlyTouchesOneUser(t *testing.T) {
	// GIVEN: Cached entries for users 1 and 12
	// WHEN: User 1 is invalidated
	// THEN: User 1 recomputes, user 12 still hits

	c := cache.New(cache.NewMemory())
	ctx := context.Background()
	calls := 0

	for _, user := range []ledger.UserID{1, 12} {
		for _, ep := range []string{"dashboard", "summary"} {
			_, _, err := cache.ReadThrough(ctx, c, cache.Request{Endpoint: ep, User: user}, counter(&calls))
			require.NoError(t, err)
		}
	}

	assert.True(t, c.Invalidate(ctx, 1))

	_, st, _ := cache.ReadThrough(ctx, c, cache.Request{Endpoint: "dashboard", User: 1}, counter(&calls))
	assert.Equal(t, cache.Miss, st)
	_, st, _ = cache.ReadThrough(ctx, c, cache.Request{Endpoint: "summary", User: 1}, counter(&calls))
	assert.Equal(t, cache.Miss, st)
	_, st, _ = cache.ReadThrough(ctx, c, cache.Request{Endpoint: "dashboard", User: 12}, counter(&calls))
	assert.Equal(t, cache.Hit, st)
}

// =============================================================================
// BACKENDS
// =============================================================================

func TestMemory_Expiry(t *testing.T) {
	m := cache.NewMemory()
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "k", []byte("v"), time.Nanosecond))
	time.Sleep(time.Millisecond)

	_, ok, err := m.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSweeper_EvictsUnreadEntries(t *testing.T) {
	// GIVEN: One expired entry nobody reads again and one live entry
	m := cache.NewMemory()
	ctx := context.Background()
	require.NoError(t, m.Set(ctx, "stale", []byte("v"), time.Nanosecond))
	require.NoError(t, m.Set(ctx, "live", []byte("v"), time.Hour))

	// WHEN: The sweeper runs for a few ticks
	s := cache.NewSweeper(m, 5*time.Millisecond, nil)
	s.Start()
	s.Start()
	t.Cleanup(s.Stop)

	// THEN: Only the live entry remains
	assert.Eventually(t, func() bool { return m.Len() == 1 }, time.Second, 5*time.Millisecond)
	_, ok, err := m.Get(ctx, "live")
	require.NoError(t, err)
	assert.True(t, ok)

	s.Stop()
	s.Stop()
}

func TestRedis_GetSetDeletePrefix(t *testing.T) {
	r, mr := newRedisBackend(t)
	ctx := context.Background()

	require.NoError(t, r.Set(ctx, "beshtash:u1:dashboard:a", []byte("1"), time.Minute))
	require.NoError(t, r.Set(ctx, "beshtash:u1:summary:b", []byte("2"), time.Minute))
	require.NoError(t, r.Set(ctx, "beshtash:u12:dashboard:a", []byte("3"), time.Minute))

	b, ok, err := r.Get(ctx, "beshtash:u1:dashboard:a")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("1"), b)

	n, err := r.DeletePrefix(ctx, cache.UserPrefix("beshtash", 1))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	assert.False(t, mr.Exists("beshtash:u1:dashboard:a"))
	assert.True(t, mr.Exists("beshtash:u12:dashboard:a"))

	_, ok, err = r.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedis_TTLApplied(t *testing.T) {
	r, mr := newRedisBackend(t)
	require.NoError(t, r.Set(context.Background(), "k", []byte("v"), cache.DefaultTTL))
	assert.Equal(t, cache.DefaultTTL, mr.TTL("k"))

	mr.FastForward(cache.DefaultTTL + time.Second)
	assert.False(t, mr.Exists("k"))
}

func TestRedis_ServerDownDegrades(t *testing.T) {
	r, mr := newRedisBackend(t)
	c := cache.New(r)
	mr.Close()

	calls := 0
	_, st, err := cache.ReadThrough(context.Background(), c, cache.Request{Endpoint: "dashboard", User: 1}, counter(&calls))
	require.NoError(t, err)
	assert.Equal(t, cache.Miss, st)
	assert.Equal(t, 1, calls)
}
