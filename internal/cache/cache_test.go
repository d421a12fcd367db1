package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client, err := NewClient(mr.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return New(client), mr
}

type payload struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func TestStore_JSONRoundTrip(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SetJSON(ctx, "k", payload{Name: "a", Count: 2}, time.Minute))

	var got payload
	found, err := s.GetJSON(ctx, "k", &got)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, payload{Name: "a", Count: 2}, got)

	mr.FastForward(2 * time.Minute)
	found, err = s.GetJSON(ctx, "k", &got)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestStore_CacheAside(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	fetches := 0
	fetch := func(dest *payload) func() error {
		return func() error {
			fetches++
			*dest = payload{Name: "fresh", Count: fetches}
			return nil
		}
	}

	var first payload
	require.NoError(t, s.CacheAside(ctx, RecentPostsKey, &first, time.Minute, fetch(&first)))
	var second payload
	require.NoError(t, s.CacheAside(ctx, RecentPostsKey, &second, time.Minute, fetch(&second)))

	assert.Equal(t, 1, fetches)
	assert.Equal(t, first, second)

	s.Invalidate(ctx, RecentPostsKey)
	var third payload
	require.NoError(t, s.CacheAside(ctx, RecentPostsKey, &third, time.Minute, fetch(&third)))
	assert.Equal(t, 2, fetches)
}

func TestStore_CacheAsidePropagatesFetchError(t *testing.T) {
	s, _ := newTestStore(t)
	boom := errors.New("boom")

	var dest payload
	err := s.CacheAside(context.Background(), "x", &dest, time.Minute, func() error { return boom })
	assert.ErrorIs(t, err, boom)
}

func TestStore_NilClientIsNoop(t *testing.T) {
	s := New(nil)
	ctx := context.Background()

	assert.False(t, s.Available())
	assert.NoError(t, s.SetJSON(ctx, "k", 1, time.Minute))
	found, err := s.GetJSON(ctx, "k", new(int))
	assert.NoError(t, err)
	assert.False(t, found)
	s.Invalidate(ctx, "k")
	assert.ErrorIs(t, s.Ping(ctx), ErrUnavailable)

	calls := 0
	require.NoError(t, s.CacheAside(ctx, "k", new(int), time.Minute, func() error { calls++; return nil }))
	assert.Equal(t, 1, calls)
}

func TestStore_Allow(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, err := s.Allow(ctx, "send-otp", "ip:1", 3, time.Minute)
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ok, err := s.Allow(ctx, "send-otp", "ip:1", 3, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	mr.FastForward(time.Minute + time.Second)
	ok, err = s.Allow(ctx, "send-otp", "ip:1", 3, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCooldown_ReserveAndRelease(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()
	c := NewCooldown(s, 20*time.Minute, FailOpen)

	ok, err := c.Reserve(ctx, "9800000000")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.Reserve(ctx, "9800000000")
	require.NoError(t, err)
	assert.False(t, ok, "second reservation inside the window must be refused")

	ok, err = c.Reserve(ctx, "9811111111")
	require.NoError(t, err)
	assert.True(t, ok, "other contacts are independent")

	require.NoError(t, c.Release(ctx, "9800000000"))
	ok, err = c.Reserve(ctx, "9800000000")
	require.NoError(t, err)
	assert.True(t, ok)

	mr.FastForward(21 * time.Minute)
	ok, err = c.Reserve(ctx, "9811111111")
	require.NoError(t, err)
	assert.True(t, ok, "reservation expires with the window")
}

func TestCooldown_FailPolicy(t *testing.T) {
	ctx := context.Background()

	open := NewCooldown(New(nil), time.Minute, FailOpen)
	ok, err := open.Reserve(ctx, "a")
	assert.NoError(t, err)
	assert.True(t, ok)

	closed := NewCooldown(New(nil), time.Minute, FailClosed)
	ok, err = closed.Reserve(ctx, "a")
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.False(t, ok)

	disabled := NewCooldown(New(nil), 0, FailClosed)
	ok, err = disabled.Reserve(ctx, "a")
	assert.NoError(t, err)
	assert.True(t, ok)
}

func TestKeyFamily(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		cmd  redis.Cmder
		want string
	}{
		{redis.NewStringCmd(ctx, "get", CounterKey("approved")), "counter"},
		{redis.NewBoolCmd(ctx, "setnx", VerifyCooldownKey("09120000000")), "cooldown"},
		{redis.NewIntCmd(ctx, "incr", RateLimitKey("verify", "10.0.0.1")), "ratelimit"},
		{redis.NewStringCmd(ctx, "get", RecentPostsKey), "posts"},
		{redis.NewStatusCmd(ctx, "ping"), "other"},
		{redis.NewStringCmd(ctx, "get", "unprefixed"), "other"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, keyFamily(tt.cmd), tt.cmd.Args())
	}
}

func TestInitRedis_Unavailable(t *testing.T) {
	assert.Nil(t, InitRedis(""))
	assert.Nil(t, InitRedis("redis://:bad url"))

	mr := miniredis.RunT(t)
	client := InitRedis(mr.Addr())
	require.NotNil(t, client)
	_ = client.Close()
}
