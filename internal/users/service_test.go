package users

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goldmarket/internal/store"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	db, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewService(store.NewUsers(db))
}

func TestRegister(t *testing.T) {
	ctx := context.Background()

	t.Run("NewAccountStartsEmpty", func(t *testing.T) {
		svc := newTestService(t)
		user, err := svc.Register(ctx, "alice", "secret", "secret")
		require.NoError(t, err)

		assert.Equal(t, "alice", user.Username)
		assert.NotEqual(t, "secret", user.PasswordHash, "password must be hashed")
		assert.Zero(t, user.Gold)
		assert.Zero(t, user.Level)
		assert.Zero(t, user.SignStreak)
		assert.Empty(t, user.Purchases)
		assert.Empty(t, user.Likes)
		assert.Empty(t, user.Collections)

		got, err := svc.Get(ctx, user.ID)
		require.NoError(t, err)
		assert.Equal(t, "alice", got.Username)
	})

	t.Run("DuplicateUsername", func(t *testing.T) {
		svc := newTestService(t)
		_, err := svc.Register(ctx, "alice", "secret", "secret")
		require.NoError(t, err)

		_, err = svc.Register(ctx, "alice", "other", "other")
		assert.ErrorIs(t, err, ErrUsernameTaken)
	})

	t.Run("UsernamesAreCaseSensitive", func(t *testing.T) {
		svc := newTestService(t)
		_, err := svc.Register(ctx, "alice", "secret", "secret")
		require.NoError(t, err)

		_, err = svc.Register(ctx, "Alice", "secret", "secret")
		assert.NoError(t, err)
	})

	t.Run("Validation", func(t *testing.T) {
		svc := newTestService(t)

		_, err := svc.Register(ctx, "", "secret", "secret")
		assert.ErrorIs(t, err, ErrEmptyCredentials)
		_, err = svc.Register(ctx, "   ", "secret", "secret")
		assert.ErrorIs(t, err, ErrEmptyCredentials)
		_, err = svc.Register(ctx, "alice", "", "")
		assert.ErrorIs(t, err, ErrEmptyCredentials)
		_, err = svc.Register(ctx, "alice", "secret", "different")
		assert.ErrorIs(t, err, ErrPasswordMismatch)
	})
}

func TestLogin(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	registered, err := svc.Register(ctx, "alice", "secret", "secret")
	require.NoError(t, err)

	t.Run("CorrectCredentials", func(t *testing.T) {
		user, err := svc.Login(ctx, "alice", "secret")
		require.NoError(t, err)
		assert.Equal(t, registered.ID, user.ID)
	})

	t.Run("TrimsUsername", func(t *testing.T) {
		_, err := svc.Login(ctx, "  alice  ", "secret")
		assert.NoError(t, err)
	})

	t.Run("WrongPassword", func(t *testing.T) {
		_, err := svc.Login(ctx, "alice", "wrong")
		assert.ErrorIs(t, err, ErrInvalidLogin)
	})

	t.Run("UnknownUsername", func(t *testing.T) {
		_, err := svc.Login(ctx, "mallory", "secret")
		assert.ErrorIs(t, err, ErrInvalidLogin)
	})

	t.Run("EmptyCredentials", func(t *testing.T) {
		_, err := svc.Login(ctx, "", "")
		assert.ErrorIs(t, err, ErrEmptyCredentials)
	})
}

func TestChangePassword(t *testing.T) {
	ctx := context.Background()

	t.Run("OldPasswordStopsWorking", func(t *testing.T) {
		svc := newTestService(t)
		user, err := svc.Register(ctx, "alice", "old", "old")
		require.NoError(t, err)

		require.NoError(t, svc.ChangePassword(ctx, user.ID, "old", "new", "new"))

		_, err = svc.Login(ctx, "alice", "old")
		assert.ErrorIs(t, err, ErrInvalidLogin)
		_, err = svc.Login(ctx, "alice", "new")
		assert.NoError(t, err)
	})

	t.Run("WrongOldPassword", func(t *testing.T) {
		svc := newTestService(t)
		user, err := svc.Register(ctx, "alice", "old", "old")
		require.NoError(t, err)

		err = svc.ChangePassword(ctx, user.ID, "wrong", "new", "new")
		assert.ErrorIs(t, err, ErrWrongOldPassword)

		_, err = svc.Login(ctx, "alice", "old")
		assert.NoError(t, err, "failed change must leave the password intact")
	})

	t.Run("Validation", func(t *testing.T) {
		svc := newTestService(t)
		user, err := svc.Register(ctx, "alice", "old", "old")
		require.NoError(t, err)

		assert.ErrorIs(t, svc.ChangePassword(ctx, user.ID, "old", "", ""), ErrEmptyCredentials)
		assert.ErrorIs(t, svc.ChangePassword(ctx, user.ID, "old", "new", "other"), ErrPasswordMismatch)
	})

	t.Run("UnknownUser", func(t *testing.T) {
		svc := newTestService(t)
		err := svc.ChangePassword(ctx, 999, "old", "new", "new")
		assert.ErrorIs(t, err, store.ErrNotFound)
	})
}
