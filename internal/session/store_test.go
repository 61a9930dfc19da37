package session

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		// INFO: https://github.com/go-redis/redis/issues/1029
		goleak.IgnoreTopFunction(
			"github.com/go-redis/redis/v8/internal/pool.(*ConnPool).reaper",
		),
	)
}

// faultyBackend wraps a MemoryBackend and fails the n-th Set call (1-based), or Get/Delete on demand.
type faultyBackend struct {
	*MemoryBackend
	failSetOn  int
	sets       int
	failGet    bool
	failDelete bool
}

func (f *faultyBackend) Get(ctx context.Context, key string) (string, bool, error) {
	if f.failGet {
		return "", false, errors.New("storage unavailable")
	}
	return f.MemoryBackend.Get(ctx, key)
}

func (f *faultyBackend) Set(ctx context.Context, key, value string) error {
	f.sets++
	if f.sets == f.failSetOn {
		return errors.New("quota exceeded")
	}
	return f.MemoryBackend.Set(ctx, key, value)
}

func (f *faultyBackend) Delete(ctx context.Context, keys ...string) error {
	if f.failDelete {
		return errors.New("storage unavailable")
	}
	return f.MemoryBackend.Delete(ctx, keys...)
}

type transition struct {
	prev, next State
}

func recordTransitions(s *Store) *[]transition {
	var transitions []transition
	s.Subscribe(func(prev, next State) {
		transitions = append(transitions, transition{prev, next})
	})
	return &transitions
}

func TestStore_InitializeWithoutCredential(t *testing.T) {
	ctx := context.Background()
	store := NewStore(NewMemoryBackend())
	transitions := recordTransitions(store)
	assert.Equal(t, Unknown, store.State())

	require.NoError(t, store.Initialize(ctx))
	assert.Equal(t, Unauthenticated, store.State())
	assert.False(t, store.Authenticated())
	assert.Equal(t, []transition{{Unknown, Unauthenticated}}, *transitions)

	// second initialize is a no-op
	require.NoError(t, store.Initialize(ctx))
	assert.Len(t, *transitions, 1)
}

func TestStore_LoginThenReload(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryBackend()

	store := NewStore(backend)
	require.NoError(t, store.Initialize(ctx))
	require.NoError(t, store.Login(ctx, "tok123", Profile(`{"id":1,"name":"A"}`)))
	assert.True(t, store.Authenticated())

	cred, ok := store.Credential()
	assert.True(t, ok)
	assert.Equal(t, "tok123", cred)

	stored, found, err := backend.Get(ctx, KeyCredential)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "tok123", stored)

	// "reload": a fresh store over the same durable backend
	reloaded := NewStore(backend)
	transitions := recordTransitions(reloaded)
	require.NoError(t, reloaded.Initialize(ctx))
	assert.Equal(t, Authenticated, reloaded.State())
	assert.Equal(t, []transition{{Unknown, Authenticated}}, *transitions)
	assert.Equal(t, "A", reloaded.Profile().Name())
}

func TestStore_LoginRollsBackOnSecondWriteFailure(t *testing.T) {
	ctx := context.Background()
	backend := &faultyBackend{MemoryBackend: NewMemoryBackend(), failSetOn: 2}
	store := NewStore(backend)
	require.NoError(t, store.Initialize(ctx))
	transitions := recordTransitions(store)

	err := store.Login(ctx, "tok123", Profile(`{"id":1}`))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPersistence)
	assert.Contains(t, err.Error(), "quota exceeded")

	assert.False(t, store.Authenticated())
	_, ok := store.Credential()
	assert.False(t, ok)

	_, found, _ := backend.MemoryBackend.Get(ctx, KeyCredential)
	assert.False(t, found)
	_, found, _ = backend.MemoryBackend.Get(ctx, KeyProfile)
	assert.False(t, found)
	assert.Equal(t, 0, backend.Len())

	// unauthenticated before and after: no transition
	assert.Empty(t, *transitions)
}

func TestStore_LoginFirstWriteFailure(t *testing.T) {
	ctx := context.Background()
	backend := &faultyBackend{MemoryBackend: NewMemoryBackend(), failSetOn: 1}
	store := NewStore(backend)

	err := store.Login(ctx, "tok123", Profile(`{"id":1}`))
	assert.ErrorIs(t, err, ErrPersistence)
	assert.Equal(t, Unauthenticated, store.State())
	assert.Equal(t, 0, backend.Len())
}

func TestStore_LoginRollbackFailureIsReported(t *testing.T) {
	ctx := context.Background()
	backend := &faultyBackend{MemoryBackend: NewMemoryBackend(), failSetOn: 2, failDelete: true}
	store := NewStore(backend)

	err := store.Login(ctx, "tok123", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPersistence)
	assert.Contains(t, err.Error(), "quota exceeded")
	assert.Contains(t, err.Error(), "rollback")
	assert.False(t, store.Authenticated())
}

func TestStore_LoginEmptyCredential(t *testing.T) {
	store := NewStore(NewMemoryBackend())
	assert.ErrorIs(t, store.Login(context.Background(), "", nil), ErrEmptyCredential)
	assert.Equal(t, Unknown, store.State())
}

func TestStore_Logout(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryBackend()
	store := NewStore(backend)
	require.NoError(t, store.Login(ctx, "tok123", Profile(`{"name":"A"}`)))
	transitions := recordTransitions(store)

	require.NoError(t, store.Logout(ctx))
	assert.Equal(t, Unauthenticated, store.State())
	assert.True(t, store.Profile().Empty())
	assert.Equal(t, 0, backend.Len())
	assert.Equal(t, []transition{{Authenticated, Unauthenticated}}, *transitions)

	reloaded := NewStore(backend)
	require.NoError(t, reloaded.Initialize(ctx))
	assert.Equal(t, Unauthenticated, reloaded.State())
}

func TestStore_LogoutFailsClosed(t *testing.T) {
	ctx := context.Background()
	backend := &faultyBackend{MemoryBackend: NewMemoryBackend()}
	store := NewStore(backend)
	require.NoError(t, store.Login(ctx, "tok123", nil))

	backend.failDelete = true
	err := store.Logout(ctx)
	assert.ErrorIs(t, err, ErrPersistence)
	assert.Equal(t, Unauthenticated, store.State())
}

func TestStore_InitializeReadFailureFailsClosed(t *testing.T) {
	ctx := context.Background()
	backend := &faultyBackend{MemoryBackend: NewMemoryBackend()}
	require.NoError(t, backend.MemoryBackend.Set(ctx, KeyCredential, "tok123"))
	backend.failGet = true

	store := NewStore(backend)
	transitions := recordTransitions(store)
	err := store.Initialize(ctx)
	assert.ErrorIs(t, err, ErrPersistence)
	assert.Equal(t, Unauthenticated, store.State())
	assert.Equal(t, []transition{{Unknown, Unauthenticated}}, *transitions)
}

func TestStore_CredentialWithoutProfileIsAuthenticated(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryBackend()
	require.NoError(t, backend.Set(ctx, KeyCredential, "tok123"))

	store := NewStore(backend)
	require.NoError(t, store.Initialize(ctx))
	assert.True(t, store.Authenticated())
	assert.True(t, store.Profile().Empty())
	assert.Equal(t, "", store.Profile().Name())
}
