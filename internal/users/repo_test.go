package users

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/capsule-ai/capsule-backend/pkg/config"
	"github.com/capsule-ai/capsule-backend/pkg/db"
	"github.com/capsule-ai/capsule-backend/pkg/enums"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func setupUsersTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	client, err := db.New(context.Background(), config.DBConfig{
		Driver:     db.DriverSQLite,
		SQLitePath: fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()),
	}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client.DB()
}

func TestCreateAndFind(t *testing.T) {
	repo := NewRepository(setupUsersTestDB(t))
	ctx := context.Background()

	created, err := repo.Create(ctx, CreateUserDTO{
		Email:           "Demo@Capsule-AI.com",
		PasswordHash:    "$argon2id$hash",
		StartingCredits: 50,
	})
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, created.ID)
	assert.Equal(t, enums.SubscriptionTierFree, created.SubscriptionTier)

	found, err := repo.FindByEmail(ctx, "Demo@Capsule-AI.com")
	require.NoError(t, err)
	assert.Equal(t, created.ID, found.ID)
	assert.Equal(t, 50, found.CreditsBalance)
	assert.True(t, found.IsActive)
	assert.Nil(t, found.LastLogin)

	_, err = repo.FindByEmail(ctx, "demo@capsule-ai.com")
	assert.ErrorIs(t, err, ErrNotFound, "email lookup is exact")

	byID, err := repo.FindByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "Demo@Capsule-AI.com", byID.Email)

	_, err = repo.FindByID(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCreateDuplicateEmail(t *testing.T) {
	repo := NewRepository(setupUsersTestDB(t))
	ctx := context.Background()

	first, err := repo.Create(ctx, CreateUserDTO{Email: "dup@capsule-ai.com", PasswordHash: "h1", StartingCredits: 50})
	require.NoError(t, err)

	_, err = repo.Create(ctx, CreateUserDTO{Email: "dup@capsule-ai.com", PasswordHash: "h2", StartingCredits: 10})
	require.ErrorIs(t, err, ErrDuplicateEmail)

	stored, err := repo.FindByEmail(ctx, "dup@capsule-ai.com")
	require.NoError(t, err)
	assert.Equal(t, first.ID, stored.ID)
	assert.Equal(t, "h1", stored.PasswordHash)
	assert.Equal(t, 50, stored.CreditsBalance)
}

func TestConcurrentCreateSameEmail(t *testing.T) {
	conn := setupUsersTestDB(t)
	repo := NewRepository(conn)
	ctx := context.Background()

	const attempts = 8
	var wg sync.WaitGroup
	results := make(chan error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := repo.Create(ctx, CreateUserDTO{Email: "race@capsule-ai.com", PasswordHash: "h", StartingCredits: 50})
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	succeeded, duplicates := 0, 0
	for err := range results {
		switch err {
		case nil:
			succeeded++
		case ErrDuplicateEmail:
			duplicates++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, attempts-1, duplicates)

	var count int64
	require.NoError(t, conn.Table("users").Where("email = ?", "race@capsule-ai.com").Count(&count).Error)
	assert.EqualValues(t, 1, count)
}

func TestDeactivateHidesUser(t *testing.T) {
	repo := NewRepository(setupUsersTestDB(t))
	ctx := context.Background()

	user, err := repo.Create(ctx, CreateUserDTO{Email: "gone@capsule-ai.com", PasswordHash: "h", StartingCredits: 50})
	require.NoError(t, err)

	require.NoError(t, repo.Deactivate(ctx, user.ID))
	assert.ErrorIs(t, repo.Deactivate(ctx, user.ID), ErrNotFound)

	_, err = repo.FindByEmail(ctx, "gone@capsule-ai.com")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = repo.FindByID(ctx, user.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	audit, err := repo.FindByIDIncludingInactive(ctx, user.ID)
	require.NoError(t, err)
	assert.False(t, audit.IsActive)

	_, err = repo.Create(ctx, CreateUserDTO{Email: "gone@capsule-ai.com", PasswordHash: "h", StartingCredits: 50})
	assert.ErrorIs(t, err, ErrDuplicateEmail, "deactivated emails stay reserved")
}

func TestUpdateMutableFields(t *testing.T) {
	repo := NewRepository(setupUsersTestDB(t))
	ctx := context.Background()

	user, err := repo.Create(ctx, CreateUserDTO{Email: "edit@capsule-ai.com", PasswordHash: "old", StartingCredits: 50})
	require.NoError(t, err)

	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, repo.UpdateLastLogin(ctx, user.ID, at))
	require.NoError(t, repo.UpdatePasswordHash(ctx, user.ID, "new"))

	user.CreditsBalance = 9999
	user.SubscriptionTier = enums.SubscriptionTierStudio
	user.PasswordHash = "newer"
	user.LastLogin = &at
	require.NoError(t, repo.Update(ctx, user))

	stored, err := repo.FindByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, "newer", stored.PasswordHash)
	assert.Equal(t, enums.SubscriptionTierStudio, stored.SubscriptionTier)
	assert.Equal(t, 50, stored.CreditsBalance, "Update must not write the balance")
	require.NotNil(t, stored.LastLogin)
	assert.True(t, stored.LastLogin.Equal(at))

	assert.ErrorIs(t, repo.UpdatePasswordHash(ctx, uuid.New(), "x"), ErrNotFound)
}
