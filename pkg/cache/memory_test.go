package cache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemory_SetGet(t *testing.T) {
	ctx := context.Background()
	store := NewMemory(0, 0)

	_, err := store.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrMiss)

	require.NoError(t, store.Set(ctx, "k", []byte("v")))
	got, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), got)
}

func TestMemory_TTLExpiry(t *testing.T) {
	ctx := context.Background()
	store := NewMemory(16, 50*time.Millisecond)

	require.NoError(t, store.Set(ctx, "k", []byte("v")))
	_, err := store.Get(ctx, "k")
	require.NoError(t, err)

	time.Sleep(80 * time.Millisecond)

	_, err = store.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrMiss, "expired entry must read as a miss")
}

func TestMemory_DeleteAndClear(t *testing.T) {
	ctx := context.Background()
	store := NewMemory(16, time.Minute)

	require.NoError(t, store.Set(ctx, "a", []byte("1")))
	require.NoError(t, store.Set(ctx, "b", []byte("2")))

	require.NoError(t, store.Delete(ctx, "a", "does-not-exist"))
	_, err := store.Get(ctx, "a")
	assert.ErrorIs(t, err, ErrMiss)
	_, err = store.Get(ctx, "b")
	assert.NoError(t, err)

	require.NoError(t, store.Clear(ctx))
	_, err = store.Get(ctx, "b")
	assert.ErrorIs(t, err, ErrMiss)
	assert.Zero(t, store.Len())
}

func TestUserKeys_CoverEveryConcern(t *testing.T) {
	userID := uuid.New()
	keys := UserKeys(userID)

	assert.Len(t, keys, 4)
	assert.Contains(t, keys, "effective_perms:"+userID.String())
	assert.Contains(t, keys, "user_roles:"+userID.String())
	assert.Contains(t, keys, "admin_role:"+userID.String())
	assert.Contains(t, keys, "internal_org:"+userID.String())
}

func TestInvalidateUser_ClearsAllConcerns(t *testing.T) {
	ctx := context.Background()
	store := NewMemory(64, time.Minute)
	userID := uuid.New()
	other := uuid.New()

	for _, key := range UserKeys(userID) {
		require.NoError(t, store.Set(ctx, key, []byte("x")))
	}
	require.NoError(t, store.Set(ctx, UserKey(ConcernEffectivePerms, other), []byte("y")))

	require.NoError(t, InvalidateUser(ctx, store, userID))

	for _, key := range UserKeys(userID) {
		_, err := store.Get(ctx, key)
		assert.ErrorIs(t, err, ErrMiss, key)
	}
	_, err := store.Get(ctx, UserKey(ConcernEffectivePerms, other))
	assert.NoError(t, err, "other users' entries must survive")
}

func TestMemory_ConcurrentAccess(t *testing.T) {
	ctx := context.Background()
	store := NewMemory(1024, time.Minute)
	userID := uuid.New()
	key := UserKey(ConcernEffectivePerms, userID)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				_ = store.Set(ctx, key, []byte("v"))
				if val, err := store.Get(ctx, key); err == nil {
					assert.Equal(t, []byte("v"), val)
				}
				_ = InvalidateUser(ctx, store, userID)
			}
		}()
	}
	wg.Wait()
}
