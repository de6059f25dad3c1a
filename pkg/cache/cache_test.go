package cache

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type flakyStore struct {
	*MemoryStore
	failDeletes bool
}

func (s *flakyStore) DeletePrefix(ctx context.Context, prefix string) error {
	if s.failDeletes {
		return errors.New("connection reset")
	}
	return s.MemoryStore.DeletePrefix(ctx, prefix)
}

func TestMemoryStoreTTL(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	s := NewMemoryStore(func() time.Time { return now })
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "a", []byte("1"), time.Minute))
	require.NoError(t, s.Set(ctx, "b", []byte("2"), 0))

	v, ok, err := s.Get(ctx, "a")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("1"), v)

	now = now.Add(time.Minute)
	_, ok, _ = s.Get(ctx, "a")
	assert.False(t, ok)
	_, ok, _ = s.Get(ctx, "b")
	assert.True(t, ok)
}

func TestMemoryStoreDeletePrefix(t *testing.T) {
	s := NewMemoryStore(nil)
	ctx := context.Background()
	for _, k := range []string{"products:tire:x", "products:tire:y", "products:wheel:x", "brands:tire"} {
		require.NoError(t, s.Set(ctx, k, []byte("v"), 0))
	}
	require.NoError(t, s.DeletePrefix(ctx, ProductsPrefix("tire")))
	assert.Equal(t, 2, s.Len())
	require.NoError(t, s.DeletePrefix(ctx, ""))
	assert.Equal(t, 0, s.Len())
}

func TestRememberLoadsOnceThenHits(t *testing.T) {
	c := New(NewMemoryStore(nil), zap.NewNop(), nil)
	ctx := context.Background()
	calls := 0
	load := func(context.Context) ([]string, error) {
		calls++
		return []string{"Bridgestone", "Michelin"}, nil
	}

	first, err := Remember(ctx, c, BrandsKey("tire"), TTLMasters, load)
	require.NoError(t, err)
	second, err := Remember(ctx, c, BrandsKey("tire"), TTLMasters, load)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, calls)

	c.Invalidate(ctx, PrefixBrands)
	_, err = Remember(ctx, c, BrandsKey("tire"), TTLMasters, load)
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestUnreadInvalidationIsPerUser(t *testing.T) {
	c := New(NewMemoryStore(nil), zap.NewNop(), nil)
	ctx := context.Background()
	calls := map[int64]int{}
	count := func(userID int64) func(context.Context) (int64, error) {
		return func(context.Context) (int64, error) {
			calls[userID]++
			return userID * 100, nil
		}
	}

	for _, id := range []int64{1, 10, 11} {
		_, err := Remember(ctx, c, UnreadKey(id), TTLUnread, count(id))
		require.NoError(t, err)
	}
	c.Invalidate(ctx, UnreadKey(1))

	for _, id := range []int64{1, 10, 11} {
		v, err := Remember(ctx, c, UnreadKey(id), TTLUnread, count(id))
		require.NoError(t, err)
		assert.Equal(t, id*100, v)
	}
	assert.Equal(t, map[int64]int{1: 2, 10: 1, 11: 1}, calls)

	assert.False(t, strings.HasPrefix(UnreadKey(10), UnreadKey(1)))
	assert.True(t, strings.HasPrefix(UnreadKey(10), PrefixUnread))
}

func TestRememberDoesNotCacheErrors(t *testing.T) {
	c := New(NewMemoryStore(nil), zap.NewNop(), nil)
	ctx := context.Background()
	_, err := Remember(ctx, c, "k", 0, func(context.Context) (int, error) { return 0, errors.New("boom") })
	require.Error(t, err)
	v, err := Remember(ctx, c, "k", 0, func(context.Context) (int, error) { return 7, nil })
	require.NoError(t, err)
	assert.Equal(t, 7, v)
}

func TestFailedInvalidationBypassesUntilFlush(t *testing.T) {
	store := &flakyStore{MemoryStore: NewMemoryStore(nil)}
	c := New(store, zap.NewNop(), nil)
	ctx := context.Background()

	value := 1
	load := func(context.Context) (int, error) { return value, nil }
	v, _ := Remember(ctx, c, UnreadKey(1), TTLUnread, load)
	assert.Equal(t, 1, v)

	value = 2
	store.failDeletes = true
	c.Invalidate(ctx, PrefixUnread)
	assert.True(t, c.Degraded())

	// stale entry is still in the store but must not be served
	v, _ = Remember(ctx, c, UnreadKey(1), TTLUnread, load)
	assert.Equal(t, 2, v)

	store.failDeletes = false
	value = 3
	v, _ = Remember(ctx, c, UnreadKey(1), TTLUnread, load)
	assert.Equal(t, 3, v)
	assert.False(t, c.Degraded())
}

func TestNilCacheLoadsDirectly(t *testing.T) {
	var c *Cache
	v, err := Remember(context.Background(), c, "k", 0, func(context.Context) (string, error) { return "x", nil })
	require.NoError(t, err)
	assert.Equal(t, "x", v)
	c.Invalidate(context.Background(), "k")
}

type mockRedis struct {
	mock.Mock
}

func (m *mockRedis) Get(ctx context.Context, key string) *redis.StringCmd {
	args := m.Called(ctx, key)
	return args.Get(0).(*redis.StringCmd)
}

func (m *mockRedis) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	args := m.Called(ctx, key, value, expiration)
	return args.Get(0).(*redis.StatusCmd)
}

func (m *mockRedis) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	args := m.Called(ctx, keys)
	return args.Get(0).(*redis.IntCmd)
}

func (m *mockRedis) Scan(ctx context.Context, cursor uint64, match string, count int64) *redis.ScanCmd {
	args := m.Called(ctx, cursor, match, count)
	return args.Get(0).(*redis.ScanCmd)
}

func TestRedisStoreNamespacesKeys(t *testing.T) {
	ctx := context.Background()
	m := new(mockRedis)
	s := NewRedisStore(m, "tireshop:")

	m.On("Get", ctx, "tireshop:channels:all").Return(redis.NewStringResult("[]", nil))
	m.On("Get", ctx, "tireshop:platforms:all").Return(redis.NewStringResult("", redis.Nil))
	m.On("Set", ctx, "tireshop:channels:all", []byte("[]"), TTLMasters).Return(redis.NewStatusResult("OK", nil))

	v, ok, err := s.Get(ctx, ChannelsKey())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("[]"), v)

	_, ok, err = s.Get(ctx, PlatformsKey())
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Set(ctx, ChannelsKey(), []byte("[]"), TTLMasters))
	m.AssertExpectations(t)
}

func TestRedisStoreDeletePrefixScansAllPages(t *testing.T) {
	ctx := context.Background()
	m := new(mockRedis)
	s := NewRedisStore(m, "tireshop:")

	m.On("Scan", ctx, uint64(0), "tireshop:products:tire:*", int64(200)).
		Return(redis.NewScanCmdResult([]string{"tireshop:products:tire:a"}, 42, nil))
	m.On("Scan", ctx, uint64(42), "tireshop:products:tire:*", int64(200)).
		Return(redis.NewScanCmdResult([]string{"tireshop:products:tire:b"}, 0, nil))
	m.On("Del", ctx, []string{"tireshop:products:tire:a"}).Return(redis.NewIntResult(1, nil))
	m.On("Del", ctx, []string{"tireshop:products:tire:b"}).Return(redis.NewIntResult(1, nil))

	require.NoError(t, s.DeletePrefix(ctx, ProductsPrefix("tire")))
	m.AssertExpectations(t)
}

func TestRedisStoreScanErrorSurfaces(t *testing.T) {
	ctx := context.Background()
	m := new(mockRedis)
	s := NewRedisStore(m, "ns:")
	m.On("Scan", ctx, uint64(0), "ns:*", int64(200)).
		Return(redis.NewScanCmdResult(nil, 0, errors.New("down")))

	err := s.DeletePrefix(ctx, "")
	require.Error(t, err)
}
