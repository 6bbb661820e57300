package service_test

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/exzibtx/deployd/internal/domain"
	"github.com/exzibtx/deployd/internal/service"
	"github.com/exzibtx/deployd/internal/store"
	"github.com/exzibtx/deployd/pkg/cryptox"
	"github.com/stretchr/testify/require"
)

func TestSessionLifecycle(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t)
	ctx := context.Background()

	user := e.create(t, "walter", "secret")

	t.Run("create issues an opaque 128 character token", func(t *testing.T) {
		sess, err := e.sessions.Create(ctx, "users", user.ID())
		require.NoError(t, err)
		require.Len(t, sess.ID, cryptox.SessionTokenLength)
		require.Equal(t, user.ID(), sess.UID)
	})

	t.Run("resolve maps the token back to the user", func(t *testing.T) {
		sess, err := e.sessions.Create(ctx, "users", user.ID())
		require.NoError(t, err)

		id, err := e.sessions.Resolve(ctx, sess.ID)
		require.NoError(t, err)
		require.NotNil(t, id)
		require.Equal(t, user.ID(), id.UserID())
		require.Equal(t, "users", id.Collection)
		require.False(t, id.IsAnonymous())
	})

	t.Run("unknown and empty tokens resolve to anonymous", func(t *testing.T) {
		id, err := e.sessions.Resolve(ctx, "no-such-token")
		require.NoError(t, err)
		require.Nil(t, id)
		require.True(t, id.IsAnonymous())

		id, err = e.sessions.Resolve(ctx, "")
		require.NoError(t, err)
		require.Nil(t, id)
	})

	t.Run("destroy is idempotent", func(t *testing.T) {
		sess, err := e.sessions.Create(ctx, "users", user.ID())
		require.NoError(t, err)

		require.NoError(t, e.sessions.Destroy(ctx, sess.ID))
		require.NoError(t, e.sessions.Destroy(ctx, sess.ID))

		id, err := e.sessions.Resolve(ctx, sess.ID)
		require.NoError(t, err)
		require.Nil(t, id)
	})
}

func TestSessionStalePurge(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t)
	ctx := context.Background()

	user := e.create(t, "gone", "secret")
	sess, err := e.sessions.Create(ctx, "users", user.ID())
	require.NoError(t, err)

	// Remove the user out from under the session.
	require.NoError(t, e.store.Documents().Delete(ctx, "users", user.ID()))

	id, err := e.sessions.Resolve(ctx, sess.ID)
	require.NoError(t, err)
	require.Nil(t, id)

	// The stale session row was purged on the way.
	_, err = e.store.Sessions().Get(ctx, sess.ID)
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestHousekeepingPurgesOrphans(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t)
	ctx := context.Background()

	user := e.create(t, "kept", "secret")
	kept, err := e.sessions.Create(ctx, "users", user.ID())
	require.NoError(t, err)

	orphan := domain.Session{ID: "orphan-token", Collection: "users", UID: "missing-user-id"}
	require.NoError(t, e.store.Sessions().Create(ctx, orphan))

	hk := service.NewHousekeepingService(e.store, slog.Default(), time.Hour)
	hk.Start()
	defer hk.Stop()

	require.Eventually(t, func() bool {
		_, err := e.store.Sessions().Get(ctx, orphan.ID)
		return err != nil
	}, 2*time.Second, 10*time.Millisecond)

	_, err = e.store.Sessions().Get(ctx, kept.ID)
	require.NoError(t, err)
}
