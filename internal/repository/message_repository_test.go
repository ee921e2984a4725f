package repository

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"github.com/tempbox/tempbox-backend/internal/models"
	"gorm.io/gorm"
)

// MessageRepositoryTestSuite is the test suite for MessageRepository
type MessageRepositoryTestSuite struct {
	suite.Suite
	db        *gorm.DB
	repo      MessageRepository
	mailboxes MailboxRepository
	mailbox   *models.Mailbox
}

// SetupSuite runs once before all tests
func (s *MessageRepositoryTestSuite) SetupSuite() {
	s.db = newTestDB(s.T())
	s.repo = NewMessageRepository(s.db)
	s.mailboxes = NewMailboxRepository(s.db)
}

// TearDownSuite runs once after all tests
func (s *MessageRepositoryTestSuite) TearDownSuite() {
	sqlDB, _ := s.db.DB()
	if sqlDB != nil {
		sqlDB.Close()
	}
}

// SetupTest runs before each test - clean up data and create a test mailbox
func (s *MessageRepositoryTestSuite) SetupTest() {
	s.db.Exec("DELETE FROM messages")
	s.db.Exec("DELETE FROM mailboxes")

	s.mailbox = testMailbox("inbox@tempbox.example")
	require.NoError(s.T(), s.mailboxes.Create(context.Background(), s.mailbox))
}

// TestMessageRepositoryTestSuite runs the test suite
func TestMessageRepositoryTestSuite(t *testing.T) {
	suite.Run(t, new(MessageRepositoryTestSuite))
}

// ==================== Create Tests ====================

func (s *MessageRepositoryTestSuite) TestCreate_Success() {
	// Arrange
	msg := testMessage(s.mailbox.ID, time.Now().UTC())

	// Act
	err := s.repo.Create(context.Background(), msg)

	// Assert
	assert.NoError(s.T(), err)
	assert.NotZero(s.T(), msg.InsertedAt)
}

func (s *MessageRepositoryTestSuite) TestCreate_DuplicateID_ReturnsError() {
	// Arrange
	msg := testMessage(s.mailbox.ID, time.Now().UTC())
	require.NoError(s.T(), s.repo.Create(context.Background(), msg))

	dup := testMessage(s.mailbox.ID, time.Now().UTC())
	dup.ID = msg.ID

	// Act
	err := s.repo.Create(context.Background(), dup)

	// Assert
	assert.ErrorIs(s.T(), err, ErrDuplicateEntry)
}

// ==================== Eviction Tests ====================

func (s *MessageRepositoryTestSuite) TestCreateEvictingOverflow_KeepsNewest() {
	// Arrange: fill the mailbox to the cap of 3
	now := time.Now().UTC()
	var ids []string
	for i := 0; i < 3; i++ {
		msg := testMessage(s.mailbox.ID, now.Add(time.Duration(i)*time.Minute))
		msg.Subject = fmt.Sprintf("msg-%d", i)
		require.NoError(s.T(), s.repo.CreateEvictingOverflow(context.Background(), msg, 3))
		ids = append(ids, msg.ID)
	}

	// Act: a fourth, newer message arrives
	newest := testMessage(s.mailbox.ID, now.Add(time.Hour))
	newest.Subject = "msg-newest"
	require.NoError(s.T(), s.repo.CreateEvictingOverflow(context.Background(), newest, 3))

	// Assert: cap held and the oldest message was evicted
	items, total, err := s.repo.ListByMailbox(context.Background(), s.mailbox.ID, 10, 0)
	require.NoError(s.T(), err)
	assert.EqualValues(s.T(), 3, total)
	assert.Equal(s.T(), "msg-newest", items[0].Subject)
	for _, item := range items {
		assert.NotEqual(s.T(), ids[0], item.ID)
	}
}

func (s *MessageRepositoryTestSuite) TestCreateEvictingOverflow_TieBrokenByInsertionOrder() {
	// Arrange: three messages sharing one timestamp
	ts := time.Now().UTC().Truncate(time.Second)
	var ids []string
	for i := 0; i < 3; i++ {
		msg := testMessage(s.mailbox.ID, ts)
		require.NoError(s.T(), s.repo.CreateEvictingOverflow(context.Background(), msg, 2))
		ids = append(ids, msg.ID)
	}

	// Assert: the earliest insertion lost the tie
	items, total, err := s.repo.ListByMailbox(context.Background(), s.mailbox.ID, 10, 0)
	require.NoError(s.T(), err)
	assert.EqualValues(s.T(), 2, total)
	assert.Equal(s.T(), ids[2], items[0].ID)
	assert.Equal(s.T(), ids[1], items[1].ID)
}

func (s *MessageRepositoryTestSuite) TestCreateEvictingOverflow_OnlyTargetMailboxAffected() {
	// Arrange: a second mailbox with its own message
	other := testMailbox("other@tempbox.example")
	require.NoError(s.T(), s.mailboxes.Create(context.Background(), other))
	require.NoError(s.T(), s.repo.Create(context.Background(), testMessage(other.ID, time.Now().UTC())))

	// Act: overflow the first mailbox with keep=1
	now := time.Now().UTC()
	require.NoError(s.T(), s.repo.CreateEvictingOverflow(context.Background(), testMessage(s.mailbox.ID, now), 1))
	require.NoError(s.T(), s.repo.CreateEvictingOverflow(context.Background(), testMessage(s.mailbox.ID, now.Add(time.Minute)), 1))

	// Assert
	_, total, err := s.repo.ListByMailbox(context.Background(), s.mailbox.ID, 10, 0)
	require.NoError(s.T(), err)
	assert.EqualValues(s.T(), 1, total)

	_, total, err = s.repo.ListByMailbox(context.Background(), other.ID, 10, 0)
	require.NoError(s.T(), err)
	assert.EqualValues(s.T(), 1, total)
}

// ==================== List Tests ====================

func (s *MessageRepositoryTestSuite) TestListByMailbox_NewestFirstWithPagination() {
	// Arrange
	now := time.Now().UTC()
	for i := 0; i < 5; i++ {
		msg := testMessage(s.mailbox.ID, now.Add(time.Duration(i)*time.Minute))
		msg.Subject = fmt.Sprintf("msg-%d", i)
		require.NoError(s.T(), s.repo.Create(context.Background(), msg))
	}

	// Act
	items, total, err := s.repo.ListByMailbox(context.Background(), s.mailbox.ID, 2, 0)

	// Assert
	require.NoError(s.T(), err)
	assert.EqualValues(s.T(), 5, total)
	require.Len(s.T(), items, 2)
	assert.Equal(s.T(), "msg-4", items[0].Subject)
	assert.Equal(s.T(), "msg-3", items[1].Subject)

	items, _, err = s.repo.ListByMailbox(context.Background(), s.mailbox.ID, 2, 4)
	require.NoError(s.T(), err)
	require.Len(s.T(), items, 1)
	assert.Equal(s.T(), "msg-0", items[0].Subject)
}

// ==================== Read-state Tests ====================

func (s *MessageRepositoryTestSuite) TestSetRead_Toggle() {
	msg := testMessage(s.mailbox.ID, time.Now().UTC())
	require.NoError(s.T(), s.repo.Create(context.Background(), msg))

	require.NoError(s.T(), s.repo.SetRead(context.Background(), msg.ID, true))
	got, err := s.repo.GetByID(context.Background(), msg.ID)
	require.NoError(s.T(), err)
	assert.True(s.T(), got.IsRead)

	require.NoError(s.T(), s.repo.SetRead(context.Background(), msg.ID, false))
	got, err = s.repo.GetByID(context.Background(), msg.ID)
	require.NoError(s.T(), err)
	assert.False(s.T(), got.IsRead)
}

func (s *MessageRepositoryTestSuite) TestSetRead_NotFound() {
	err := s.repo.SetRead(context.Background(), uuid.NewString(), true)
	assert.ErrorIs(s.T(), err, ErrNotFound)
}

func (s *MessageRepositoryTestSuite) TestMarkAllRead() {
	// Arrange
	now := time.Now().UTC()
	for i := 0; i < 3; i++ {
		require.NoError(s.T(), s.repo.Create(context.Background(), testMessage(s.mailbox.ID, now)))
	}

	// Act
	updated, err := s.repo.MarkAllRead(context.Background(), s.mailbox.ID)

	// Assert
	require.NoError(s.T(), err)
	assert.EqualValues(s.T(), 3, updated)

	unread, err := s.repo.CountUnread(context.Background(), s.mailbox.ID)
	require.NoError(s.T(), err)
	assert.Zero(s.T(), unread)

	// idempotent on a fully read inbox
	updated, err = s.repo.MarkAllRead(context.Background(), s.mailbox.ID)
	require.NoError(s.T(), err)
	assert.Zero(s.T(), updated)
}

// ==================== Delete Tests ====================

func (s *MessageRepositoryTestSuite) TestDelete_Success() {
	msg := testMessage(s.mailbox.ID, time.Now().UTC())
	require.NoError(s.T(), s.repo.Create(context.Background(), msg))

	require.NoError(s.T(), s.repo.Delete(context.Background(), msg.ID))
	_, err := s.repo.GetByID(context.Background(), msg.ID)
	assert.ErrorIs(s.T(), err, ErrNotFound)
}

func (s *MessageRepositoryTestSuite) TestDeleteOlderThan() {
	// Arrange
	now := time.Now().UTC()
	old := testMessage(s.mailbox.ID, now.Add(-48*time.Hour))
	recent := testMessage(s.mailbox.ID, now)
	require.NoError(s.T(), s.repo.Create(context.Background(), old))
	require.NoError(s.T(), s.repo.Create(context.Background(), recent))

	// Act
	deleted, err := s.repo.DeleteOlderThan(context.Background(), now.Add(-24*time.Hour))

	// Assert
	require.NoError(s.T(), err)
	assert.EqualValues(s.T(), 1, deleted)

	_, err = s.repo.GetByID(context.Background(), old.ID)
	assert.ErrorIs(s.T(), err, ErrNotFound)
	_, err = s.repo.GetByID(context.Background(), recent.ID)
	assert.NoError(s.T(), err)
}
