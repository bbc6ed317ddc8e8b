package kv_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/scrapeshifter/goldenrecord/kv"
)

func newTestClient(t *testing.T) *kv.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return kv.FromRedisClient(rdb)
}

func TestStringRoundTrip(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t)

	require.NoError(t, c.Set(ctx, "foo", "bar", time.Minute))
	v, err := c.Get(ctx, "foo")
	require.NoError(t, err)
	require.Equal(t, "bar", v)

	ok, err := c.Exists(ctx, "foo")
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, c.Del(ctx, "foo"))
	v, err = c.Get(ctx, "foo")
	require.NoError(t, err)
	require.Empty(t, v)
}

func TestListMissionQueue(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t)

	require.NoError(t, c.LPush(ctx, "chimera:missions", "mission-1"))
	require.NoError(t, c.LPush(ctx, "chimera:missions", "mission-2"))

	n, err := c.LLen(ctx, "chimera:missions")
	require.NoError(t, err)
	require.EqualValues(t, 2, n)

	val, ok, err := c.BRPop(ctx, "chimera:missions", time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "mission-1", val)
}

func TestBRPopTimeout(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t)

	_, ok, err := c.BRPop(ctx, "empty:queue", 50*time.Millisecond)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestHashProviderHealth(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t)

	require.NoError(t, c.HSet(ctx, "provider_health:FastPeopleSearch", map[string]any{
		"success_count": "10",
		"failure_count": "2",
	}))
	fields, err := c.HGetAll(ctx, "provider_health:FastPeopleSearch")
	require.NoError(t, err)
	require.Equal(t, "10", fields["success_count"])
	require.Equal(t, "2", fields["failure_count"])
}

func TestSetPoisonTracker(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t)

	require.NoError(t, c.SAdd(ctx, "poison:p:5551234567", "FastPeopleSearch", "ZabaSearch"))
	n, err := c.SCard(ctx, "poison:p:5551234567")
	require.NoError(t, err)
	require.EqualValues(t, 2, n)

	require.NoError(t, c.SRem(ctx, "poison:p:5551234567", "ZabaSearch"))
	members, err := c.SMembers(ctx, "poison:p:5551234567")
	require.NoError(t, err)
	require.Equal(t, []string{"FastPeopleSearch"}, members)
}

func TestPublishSubscribe(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t)

	sub := c.Subscribe(ctx, "dojo:alerts")
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	require.NoError(t, c.Publish(ctx, "dojo:alerts", `{"domain":"example.com"}`))

	msg, err := sub.ReceiveMessage(ctx)
	require.NoError(t, err)
	require.Equal(t, `{"domain":"example.com"}`, msg.Payload)
}
