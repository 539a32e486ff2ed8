package webhooks

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func exerciseDeduper(t *testing.T, d Deduper) {
	ctx := context.Background()

	first, err := d.MarkSeen(ctx, "evt-1")
	require.NoError(t, err)
	assert.True(t, first)

	first, err = d.MarkSeen(ctx, "evt-1")
	require.NoError(t, err)
	assert.False(t, first)

	first, err = d.MarkSeen(ctx, "evt-2")
	require.NoError(t, err)
	assert.True(t, first)

	require.NoError(t, d.Forget(ctx, "evt-1"))
	first, err = d.MarkSeen(ctx, "evt-1")
	require.NoError(t, err)
	assert.True(t, first)
}

func TestLRUDeduper(t *testing.T) {
	exerciseDeduper(t, NewLRUDeduper(16, time.Minute))
}

func TestRedisDeduper(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	exerciseDeduper(t, NewRedisDeduper(rdb, time.Minute))

	assert.True(t, mr.Exists("larkbridge:event:evt-2"))
	mr.FastForward(2 * time.Minute)
	assert.False(t, mr.Exists("larkbridge:event:evt-2"))
}

func TestRedisDeduper_Unavailable(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer rdb.Close()
	mr.Close()

	_, err := NewRedisDeduper(rdb, 0).MarkSeen(context.Background(), "evt")
	assert.Error(t, err)
}
