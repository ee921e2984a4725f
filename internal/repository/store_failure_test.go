package repository

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func setupMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)

	// GORM pings during initialization
	mock.ExpectPing()

	dialector := postgres.New(postgres.Config{
		Conn:       db,
		DriverName: "postgres",
	})

	gormDB, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)

	cleanup := func() {
		db.Close()
	}

	return gormDB, mock, cleanup
}

func TestGetByAddress_QueryFailure_WrapsError(t *testing.T) {
	gormDB, mock, cleanup := setupMockDB(t)
	defer cleanup()

	mock.ExpectQuery("SELECT").WillReturnError(assert.AnError)

	repo := NewMailboxRepository(gormDB)
	_, err := repo.GetByAddress(context.Background(), "user@tempbox.example")

	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
	assert.Contains(t, err.Error(), "failed to get mailbox")
}

func TestDeleteOlderThan_ExecFailure_WrapsError(t *testing.T) {
	gormDB, mock, cleanup := setupMockDB(t)
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectExec("DELETE").WillReturnError(assert.AnError)
	mock.ExpectRollback()

	repo := NewMessageRepository(gormDB)
	_, err := repo.DeleteOlderThan(context.Background(), time.Now())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to delete old messages")
}

func TestDeleteExpired_MessageDeleteFailure_RollsBack(t *testing.T) {
	gormDB, mock, cleanup := setupMockDB(t)
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM messages").WillReturnError(assert.AnError)
	mock.ExpectRollback()

	repo := NewMailboxRepository(gormDB)
	_, err := repo.DeleteExpired(context.Background(), time.Now())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to delete messages of expired mailboxes")
	assert.NoError(t, mock.ExpectationsWereMet())
}
