package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
)

func TestDistributedLock_SingleInstance(t *testing.T) {
	// Setup mini redis
	mr := miniredis.RunT(t)
	defer mr.Close()

	client := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})
	defer client.Close()

	lock := NewRedisDistributedLock(client, GroupLockKey("cim-test"))
	ctx := context.Background()

	// Test acquiring lock
	acquired, err := lock.TryLock(ctx)
	assert.NoError(t, err)
	assert.True(t, acquired)
	assert.True(t, lock.IsHeld())

	// Test unlocking
	err = lock.Unlock(ctx)
	assert.NoError(t, err)
	assert.False(t, lock.IsHeld())
}

func TestDistributedLock_OneLearnerPerGroup(t *testing.T) {
	// Setup mini redis
	mr := miniredis.RunT(t)
	defer mr.Close()

	client := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})
	defer client.Close()

	lock1 := NewRedisDistributedLock(client, GroupLockKey("cim"))
	lock2 := NewRedisDistributedLock(client, GroupLockKey("cim"))
	ctx := context.Background()

	// First learner acquires the group
	acquired1, err := lock1.TryLock(ctx)
	assert.NoError(t, err)
	assert.True(t, acquired1)

	// Second learner on the same group must fail
	acquired2, err := lock2.TryLock(ctx)
	assert.NoError(t, err)
	assert.False(t, acquired2, "second learner should not acquire the group")

	// A different group is unaffected
	lock3 := NewRedisDistributedLock(client, GroupLockKey("citi-bike"))
	acquired3, err := lock3.TryLock(ctx)
	assert.NoError(t, err)
	assert.True(t, acquired3, "unrelated group should be free")

	// Release group 1, second learner can now take over
	err = lock1.Unlock(ctx)
	assert.NoError(t, err)

	acquired2, err = lock2.TryLock(ctx)
	assert.NoError(t, err)
	assert.True(t, acquired2, "group should be free after first learner releases")

	lock2.Unlock(ctx)
	lock3.Unlock(ctx)
}

func TestDistributedLock_AutoExpire(t *testing.T) {
	// Setup mini redis
	mr := miniredis.RunT(t)
	defer mr.Close()

	client := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})
	defer client.Close()

	lock1 := NewRedisDistributedLock(client, GroupLockKey("expire-test"))
	lock2 := NewRedisDistributedLock(client, GroupLockKey("expire-test"))
	ctx := context.Background()

	acquired1, err := lock1.TryLock(ctx)
	assert.NoError(t, err)
	assert.True(t, acquired1)

	// Fast forward time in miniredis to simulate TTL expiration
	mr.FastForward(lockTTL + time.Second)

	// A crashed learner's slot frees itself
	acquired2, err := lock2.TryLock(ctx)
	assert.NoError(t, err)
	assert.True(t, acquired2, "lock should be available after TTL expiration")

	err = lock2.Unlock(ctx)
	assert.NoError(t, err)
}

func TestDistributedLock_NilClient(t *testing.T) {
	// Graceful degradation when Redis is not available
	lock := NewRedisDistributedLock(nil, GroupLockKey("nil-test"))
	ctx := context.Background()

	// Should still work (single-instance mode)
	acquired, err := lock.TryLock(ctx)
	assert.NoError(t, err)
	assert.True(t, acquired)
	assert.True(t, lock.IsHeld())

	err = lock.Unlock(ctx)
	assert.NoError(t, err)
	assert.False(t, lock.IsHeld())
}
