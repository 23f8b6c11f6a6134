package auth

import (
	"context"
	"testing"

	"github.com/petermazzocco/particle-monitor/internal/store"
	"github.com/petermazzocco/particle-monitor/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupTestService(t *testing.T) *Service {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err, "Failed to create test database")

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, store.New(db).Migrate())
	s := NewService(db)
	s.cost = bcrypt.MinCost
	return s
}

func TestSignUpAndSignIn(t *testing.T) {
	s := setupTestService(t)
	ctx := context.Background()

	user, err := s.SignUp(ctx, "  Ada@Example.com ", "secret1", "Ada Lovelace")
	require.NoError(t, err)
	assert.Equal(t, "ada@example.com", user.Email)
	assert.NotEqual(t, "secret1", user.PasswordHash)

	got, err := s.SignIn(ctx, "ada@example.com", "secret1")
	require.NoError(t, err)
	assert.Equal(t, user.ID, got.ID)

	_, err = s.SignIn(ctx, "ada@example.com", "wrong-password")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = s.SignIn(ctx, "nobody@example.com", "secret1")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = s.SignUp(ctx, "ADA@example.com", "another1", "Someone Else")
	assert.ErrorIs(t, err, ErrEmailTaken)
}

func TestSignUpValidation(t *testing.T) {
	s := setupTestService(t)
	tests := []struct {
		name, email, password, fullName string
	}{
		{"bad email", "not-an-email", "secret1", "Ada"},
		{"short password", "a@example.com", "12345", "Ada"},
		{"short name", "a@example.com", "secret1", " A "},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.SignUp(context.Background(), tt.email, tt.password, tt.fullName)
			assert.ErrorIs(t, err, store.ErrInvalid)
		})
	}
}

func TestCurrentAndUpdateUser(t *testing.T) {
	s := setupTestService(t)
	ctx := context.Background()
	user, err := s.SignUp(ctx, "grace@example.com", "secret1", "Grace")
	require.NoError(t, err)

	got, err := s.CurrentUser(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, "Grace", got.FullName)

	updated, err := s.UpdateUser(ctx, user.ID, "Grace Hopper")
	require.NoError(t, err)
	assert.Equal(t, "Grace Hopper", updated.FullName)

	_, err = s.CurrentUser(ctx, "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = s.CurrentUser(ctx, "")
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = s.UpdateUser(ctx, "missing", "Nobody")
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = s.UpdateUser(ctx, user.ID, "")
	assert.ErrorIs(t, err, store.ErrInvalid)
}

func TestSubscribe(t *testing.T) {
	s := setupTestService(t)
	ctx := context.Background()

	var order []string
	var events []EventType
	unsubFirst := s.Subscribe(func(e Event) {
		order = append(order, "first")
		events = append(events, e.Type)
	})
	s.Subscribe(func(Event) { order = append(order, "second") })

	user, err := s.SignUp(ctx, "lin@example.com", "secret1", "Lin")
	require.NoError(t, err)
	_, err = s.SignIn(ctx, "lin@example.com", "secret1")
	require.NoError(t, err)
	require.NoError(t, s.SignOut(ctx, user.ID))

	assert.Equal(t, []EventType{EventSignedUp, EventSignedIn, EventSignedOut}, events)
	assert.Equal(t, []string{"first", "second", "first", "second", "first", "second"}, order)

	unsubFirst()
	unsubFirst()
	order = nil
	require.NoError(t, s.SignOut(ctx, user.ID))
	assert.Equal(t, []string{"second"}, order)
}

func TestFindOrCreateOAuthUser(t *testing.T) {
	s := setupTestService(t)
	ctx := context.Background()

	var events []EventType
	s.Subscribe(func(e Event) { events = append(events, e.Type) })

	first, err := s.FindOrCreateOAuthUser(ctx, "Kim@example.com", "Kim")
	require.NoError(t, err)
	second, err := s.FindOrCreateOAuthUser(ctx, "kim@example.com", "Kim K")
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "Kim", second.FullName)
	assert.Equal(t, []EventType{EventSignedUp, EventSignedIn, EventSignedIn}, events)

	var count int64
	require.NoError(t, s.db.Model(&models.User{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)

	// no password was set, so password sign-in is refused
	_, err = s.SignIn(ctx, "kim@example.com", "")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = s.FindOrCreateOAuthUser(ctx, "", "No Email")
	assert.ErrorIs(t, err, store.ErrInvalid)
}
