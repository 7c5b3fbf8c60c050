package auth

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xtrntr/peertrade/internal/p2p"
	"github.com/xtrntr/peertrade/internal/store"
)

func newService(t *testing.T) *AuthService {
	t.Helper()
	st, err := store.NewFileStore(t.TempDir())
	require.NoError(t, err)
	users := p2p.NewUserRepository(st, zap.NewNop())
	return NewAuthService(users, "test-secret")
}

func TestRegisterAndLogin(t *testing.T) {
	s := newService(t)
	ctx := context.Background()

	user, err := s.Register(ctx, "alice", "hunter2")
	require.NoError(t, err)
	assert.NotEmpty(t, user.ID)
	assert.Equal(t, "alice", user.Username)
	assert.NotEqual(t, "hunter2", user.PasswordHash, "password must be hashed")

	token, err := s.Login(ctx, "alice", "hunter2")
	require.NoError(t, err)
	assert.NotEmpty(t, token)

	resolved, err := s.UserFromToken(token)
	require.NoError(t, err)
	assert.Equal(t, user.ID, resolved.ID)
	assert.Equal(t, "alice", resolved.Username)
}

func TestRegister_Validation(t *testing.T) {
	s := newService(t)
	ctx := context.Background()

	_, err := s.Register(ctx, "", "pw")
	assert.Error(t, err)

	_, err = s.Register(ctx, "alice", "")
	assert.Error(t, err)

	_, err = s.Register(ctx, "alice", "pw")
	require.NoError(t, err)
	_, err = s.Register(ctx, "alice", "other")
	assert.Error(t, err, "duplicate usernames are rejected")
}

func TestLogin_WrongPassword(t *testing.T) {
	s := newService(t)
	ctx := context.Background()

	_, err := s.Register(ctx, "alice", "hunter2")
	require.NoError(t, err)

	_, err = s.Login(ctx, "alice", "wrong")
	assert.Error(t, err)

	_, err = s.Login(ctx, "nobody", "hunter2")
	assert.Error(t, err)
}

func TestUserFromToken_Invalid(t *testing.T) {
	s := newService(t)

	_, err := s.UserFromToken("not-a-token")
	assert.Error(t, err)

	// A token signed with a different secret is rejected
	other := newService(t)
	_, err = other.Register(context.Background(), "alice", "pw")
	require.NoError(t, err)
	token, err := other.Login(context.Background(), "alice", "pw")
	require.NoError(t, err)

	wrongSecret := NewAuthService(s.Users, "another-secret")
	_, err = wrongSecret.UserFromToken(token)
	assert.Error(t, err)
}
