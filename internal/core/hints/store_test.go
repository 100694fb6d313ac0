package hints

import (
	"context"
	"fmt"
	"path"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shelfchain/v1/client/core/config"
)

var (
	alice = common.HexToAddress("0x00000000000000000000000000000000000A11CE")
	bob   = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
)

// ==================== Mock redisClient ====================

type mockRedisClient struct {
	mu     sync.Mutex
	data   map[string][]byte
	closed bool
}

func newMockRedisClient() *mockRedisClient {
	return &mockRedisClient{data: make(map[string][]byte)}
}

func (m *mockRedisClient) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return fmt.Errorf("client closed")
	}
	switch v := value.(type) {
	case []byte:
		m.data[key] = v
	case string:
		m.data[key] = []byte(v)
	default:
		return fmt.Errorf("unsupported value %T", value)
	}
	return nil
}

func (m *mockRedisClient) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return nil, errKeyNotFound
	}
	return v, nil
}

func (m *mockRedisClient) Del(ctx context.Context, keys ...string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, k := range keys {
		if _, ok := m.data[k]; ok {
			delete(m.data, k)
			n++
		}
	}
	return n, nil
}

func (m *mockRedisClient) Keys(ctx context.Context, pattern string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for k := range m.data {
		if ok, _ := path.Match(pattern, k); ok {
			out = append(out, k)
		}
	}
	return out, nil
}

func (m *mockRedisClient) Ping(ctx context.Context) error { return nil }

func (m *mockRedisClient) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// ==================== 公共行为 ====================

func storeContract(t *testing.T, s Store) {
	ctx := context.Background()

	_, ok, err := s.Get(ctx, alice)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Set(ctx, alice, 3))
	require.NoError(t, s.Set(ctx, bob, 5))

	id, ok, err := s.Get(ctx, alice)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, uint64(3), id)

	require.NoError(t, s.Delete(ctx, alice))
	_, ok, err = s.Get(ctx, alice)
	require.NoError(t, err)
	assert.False(t, ok)

	// 删除不存在的键不报错
	require.NoError(t, s.Delete(ctx, alice))

	require.NoError(t, s.Clear(ctx))
	_, ok, err = s.Get(ctx, bob)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestBadgerStore(t *testing.T) {
	s, err := NewBadgerStore("", "", nil)
	require.NoError(t, err)
	defer s.Close()
	storeContract(t, s)
}

func TestBadgerStore_PersistsOnDisk(t *testing.T) {
	dir := t.TempDir()
	s, err := NewBadgerStore(dir, "p:", nil)
	require.NoError(t, err)
	require.NoError(t, s.Set(context.Background(), alice, 9))
	require.NoError(t, s.Close())

	s, err = NewBadgerStore(dir, "p:", nil)
	require.NoError(t, err)
	defer s.Close()
	id, ok, err := s.Get(context.Background(), alice)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, uint64(9), id)
}

func TestBadgerStore_Closed(t *testing.T) {
	s, err := NewBadgerStore("", "", nil)
	require.NoError(t, err)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	_, _, err = s.Get(context.Background(), alice)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestRedisStore(t *testing.T) {
	client := newMockRedisClient()
	s := newRedisStoreWithClient(client, RedisConfig{KeyPrefix: "t:"})
	storeContract(t, s)
}

func TestRedisStore_KeyFormat(t *testing.T) {
	client := newMockRedisClient()
	s := newRedisStoreWithClient(client, RedisConfig{})
	require.NoError(t, s.Set(context.Background(), alice, 2))

	raw, ok := client.data[DefaultKeyPrefix+"0x00000000000000000000000000000000000a11ce"]
	require.True(t, ok, "keys use lower-case addresses")
	assert.Equal(t, "2", string(raw))

	// 其他前缀的键不受 Clear 影响
	client.data["other:x"] = []byte("1")
	require.NoError(t, s.Clear(context.Background()))
	assert.Contains(t, client.data, "other:x")
}

func TestRedisStore_CorruptValue(t *testing.T) {
	client := newMockRedisClient()
	s := newRedisStoreWithClient(client, RedisConfig{})
	client.data[accountKey(DefaultKeyPrefix, alice)] = []byte("abc")
	_, _, err := s.Get(context.Background(), alice)
	assert.Error(t, err)
}

func TestOpen(t *testing.T) {
	s, err := Open(config.HintStoreConfig{Backend: "badger"}, t.TempDir(), nil)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	_, err = Open(config.HintStoreConfig{Backend: "memcached"}, t.TempDir(), nil)
	assert.Error(t, err)

	_, err = Open(config.HintStoreConfig{Backend: "redis"}, t.TempDir(), nil)
	assert.Error(t, err, "redis backend requires an address")
}
