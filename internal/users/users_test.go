package users_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"cherrycap/internal/testsupport"
	"cherrycap/internal/users"
)

func TestFindByEmail(t *testing.T) {
	dbManager, _ := testsupport.SetupTestDBManager(t)
	db := dbManager.GetConnection()

	t.Run("finds existing user", func(t *testing.T) {
		created := testsupport.CreateTestUser(t, db, "find@example.com", "password123")

		found, err := users.FindByEmail(db, "find@example.com")
		require.NoError(t, err)
		assert.Equal(t, created.ID, found.ID)
		assert.Equal(t, created.Email, found.Email)
	})

	t.Run("returns ErrRecordNotFound for unknown email", func(t *testing.T) {
		found, err := users.FindByEmail(db, "nobody@example.com")
		assert.Nil(t, found)
		assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
	})
}

func TestCreateUser(t *testing.T) {
	dbManager, _ := testsupport.SetupTestDBManager(t)
	db := dbManager.GetConnection()
	logger := testsupport.GetLogger()

	t.Run("creates a user with a hashed password", func(t *testing.T) {
		user, err := users.CreateUser(logger, db, "new@example.com", "securepassword123")
		require.NoError(t, err)
		assert.NotZero(t, user.ID)
		assert.Equal(t, "new@example.com", user.Email)
		assert.NotEmpty(t, user.EncryptedPassword)
		assert.NotEqual(t, "securepassword123", user.EncryptedPassword)
	})

	t.Run("rejects duplicate email", func(t *testing.T) {
		_, err := users.CreateUser(logger, db, "dupe@example.com", "password123")
		require.NoError(t, err)

		_, err = users.CreateUser(logger, db, "dupe@example.com", "password123")
		assert.ErrorIs(t, err, users.ErrUserExists)
	})

	t.Run("rejects empty email", func(t *testing.T) {
		_, err := users.CreateUser(logger, db, "", "password123")
		assert.Error(t, err)
	})

	t.Run("rejects empty password", func(t *testing.T) {
		_, err := users.CreateUser(logger, db, "blank@example.com", "")
		assert.Error(t, err)
	})
}

func TestAuthenticate(t *testing.T) {
	dbManager, _ := testsupport.SetupTestDBManager(t)
	db := dbManager.GetConnection()
	logger := testsupport.GetLogger()

	_, err := users.CreateUser(logger, db, "auth@example.com", "correct-horse")
	require.NoError(t, err)

	t.Run("valid credentials", func(t *testing.T) {
		user, err := users.Authenticate(db, "auth@example.com", "correct-horse")
		require.NoError(t, err)
		assert.Equal(t, "auth@example.com", user.Email)
	})

	t.Run("wrong password and unknown email return the same error", func(t *testing.T) {
		_, wrongPass := users.Authenticate(db, "auth@example.com", "wrong")
		_, unknown := users.Authenticate(db, "ghost@example.com", "whatever")
		assert.ErrorIs(t, wrongPass, users.ErrUserNotFound)
		assert.ErrorIs(t, unknown, users.ErrUserNotFound)
	})
}

func TestChangePassword(t *testing.T) {
	dbManager, _ := testsupport.SetupTestDBManager(t)
	db := dbManager.GetConnection()
	logger := testsupport.GetLogger()

	t.Run("replaces the stored hash", func(t *testing.T) {
		_, err := users.CreateUser(logger, db, "change@example.com", "oldpassword123")
		require.NoError(t, err)

		before, err := users.FindByEmail(db, "change@example.com")
		require.NoError(t, err)

		require.NoError(t, users.ChangePassword(logger, db, "change@example.com", "newpassword456"))

		after, err := users.FindByEmail(db, "change@example.com")
		require.NoError(t, err)
		assert.NotEqual(t, before.EncryptedPassword, after.EncryptedPassword)

		_, err = users.Authenticate(db, "change@example.com", "newpassword456")
		assert.NoError(t, err)
	})

	t.Run("unknown user", func(t *testing.T) {
		err := users.ChangePassword(logger, db, "ghost@example.com", "newpassword")
		assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
	})

	t.Run("empty password", func(t *testing.T) {
		err := users.ChangePassword(logger, db, "change@example.com", "")
		assert.Error(t, err)
	})
}

func TestSetupAdminUserIfNotExists(t *testing.T) {
	dbManager, _ := testsupport.SetupTestDBManager(t)
	db := dbManager.GetConnection()
	logger := testsupport.GetLogger()

	t.Run("creates the bootstrap admin", func(t *testing.T) {
		users.SetupAdminUserIfNotExists(logger, db, "admin@example.com")

		found, err := users.FindByEmail(db, "admin@example.com")
		require.NoError(t, err)
		assert.Equal(t, "admin@example.com", found.Email)
	})

	t.Run("leaves an existing account untouched", func(t *testing.T) {
		created, err := users.CreateUser(logger, db, "keeper@example.com", "mypassword")
		require.NoError(t, err)

		users.SetupAdminUserIfNotExists(logger, db, "keeper@example.com")

		found, err := users.FindByEmail(db, "keeper@example.com")
		require.NoError(t, err)
		assert.Equal(t, created.EncryptedPassword, found.EncryptedPassword)
	})
}
