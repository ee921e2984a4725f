package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tempbox/tempbox-backend/internal/models"
	"github.com/tempbox/tempbox-backend/internal/repository"
	"github.com/tempbox/tempbox-backend/internal/services"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// handlerFixture wires the public handlers over an in-memory database
type handlerFixture struct {
	db        *gorm.DB
	mailboxes *services.MailboxService
	messages  repository.MessageRepository
	e         *echo.Echo
}

func newHandlerFixture(t *testing.T) *handlerFixture {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	db.Exec("PRAGMA foreign_keys = ON")
	require.NoError(t, db.AutoMigrate(&models.Mailbox{}, &models.Message{}, &models.AuditLog{}))

	mailboxRepo := repository.NewMailboxRepository(db)
	messageRepo := repository.NewMessageRepository(db)
	auditRepo := repository.NewAuditRepository(db)

	svc, err := services.NewMailboxService(mailboxRepo, messageRepo, auditRepo, services.MailboxConfig{
		Domains:              []string{"tempbox.example"},
		DefaultRetentionDays: 7,
		MinRetentionDays:     1,
		MaxRetentionDays:     90,
		ProtectedPattern:     "^(admin|postmaster|abuse)$",
	}, nil)
	require.NoError(t, err)

	mailboxHandler := NewMailboxHandler(svc, []string{"tempbox.example"})
	messageHandler := NewMessageHandler(svc, messageRepo)

	e := echo.New()
	mailboxes := e.Group("/api/mailboxes")
	mailboxes.POST("", mailboxHandler.Create)
	mailboxes.POST("/random", mailboxHandler.CreateRandom)
	mailboxes.POST("/claim", mailboxHandler.Claim)
	mailboxes.GET("/:address", mailboxHandler.Get)
	mailboxes.POST("/:address/token", mailboxHandler.Token)
	mailboxes.POST("/:address/rotate-key", mailboxHandler.RotateKey)
	mailboxes.POST("/:address/renew", mailboxHandler.Renew)
	mailboxes.PUT("/:address/whitelist", mailboxHandler.UpdateWhitelist)
	mailboxes.DELETE("/:address", mailboxHandler.Delete)
	mailboxes.GET("/:address/messages", messageHandler.List)
	mailboxes.GET("/:address/messages/:id", messageHandler.Get)
	mailboxes.PATCH("/:address/messages/:id/read", messageHandler.MarkRead)
	mailboxes.POST("/:address/messages/read-all", messageHandler.MarkAllRead)
	mailboxes.DELETE("/:address/messages/:id", messageHandler.Delete)

	return &handlerFixture{
		db:        db,
		mailboxes: svc,
		messages:  messageRepo,
		e:         e,
	}
}

// request performs an HTTP request against the fixture router
func (f *handlerFixture) request(method, path, token, body string) *httptest.ResponseRecorder {
	var reader *strings.Reader
	if body != "" {
		reader = strings.NewReader(body)
	} else {
		reader = strings.NewReader("")
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.e.ServeHTTP(rec, req)
	return rec
}

// createdMailbox captures the creation response credentials
type createdMailbox struct {
	Address     string `json:"address"`
	AccessToken string `json:"access_token"`
	MailboxKey  string `json:"mailbox_key"`
}

// createMailbox provisions a mailbox through the API and returns its credentials
func (f *handlerFixture) createMailbox(t *testing.T, address string) createdMailbox {
	rec := f.request(http.MethodPost, "/api/mailboxes", "", `{"address":"`+address+`"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var envelope struct {
		Data createdMailbox `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	require.NotEmpty(t, envelope.Data.AccessToken)
	require.NotEmpty(t, envelope.Data.MailboxKey)
	return envelope.Data
}

func TestMailboxHandler_Create(t *testing.T) {
	f := newHandlerFixture(t)

	box := f.createMailbox(t, "inbox@tempbox.example")
	assert.Equal(t, "inbox@tempbox.example", box.Address)
}

func TestMailboxHandler_Create_MissingAddress(t *testing.T) {
	f := newHandlerFixture(t)

	rec := f.request(http.MethodPost, "/api/mailboxes", "", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMailboxHandler_Create_ProtectedAddress(t *testing.T) {
	f := newHandlerFixture(t)

	rec := f.request(http.MethodPost, "/api/mailboxes", "", `{"address":"admin@tempbox.example"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "PROTECTED_ADDRESS")
}

func TestMailboxHandler_Create_Conflict(t *testing.T) {
	f := newHandlerFixture(t)
	f.createMailbox(t, "taken@tempbox.example")

	rec := f.request(http.MethodPost, "/api/mailboxes", "", `{"address":"taken@tempbox.example"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestMailboxHandler_Create_UnservedDomain(t *testing.T) {
	f := newHandlerFixture(t)

	rec := f.request(http.MethodPost, "/api/mailboxes", "", `{"address":"inbox@elsewhere.example"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMailboxHandler_CreateRandom(t *testing.T) {
	f := newHandlerFixture(t)

	rec := f.request(http.MethodPost, "/api/mailboxes/random", "", `{}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var envelope struct {
		Data createdMailbox `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	assert.True(t, strings.HasSuffix(envelope.Data.Address, "@tempbox.example"))
	assert.NotEmpty(t, envelope.Data.AccessToken)
}

func TestMailboxHandler_Claim_CreatesWhenAbsent(t *testing.T) {
	f := newHandlerFixture(t)

	rec := f.request(http.MethodPost, "/api/mailboxes/claim", "", `{"address":"fresh@tempbox.example"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var envelope struct {
		Data createdMailbox `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	assert.NotEmpty(t, envelope.Data.AccessToken)
}

func TestMailboxHandler_Claim_ExistingReturnsWithoutCredentials(t *testing.T) {
	f := newHandlerFixture(t)
	f.createMailbox(t, "inbox@tempbox.example")

	rec := f.request(http.MethodPost, "/api/mailboxes/claim", "", `{"address":"inbox@tempbox.example"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "access_token")
	assert.NotContains(t, rec.Body.String(), "mailbox_key")
}

func TestMailboxHandler_Get(t *testing.T) {
	f := newHandlerFixture(t)
	box := f.createMailbox(t, "inbox@tempbox.example")

	rec := f.request(http.MethodGet, "/api/mailboxes/inbox@tempbox.example", box.AccessToken, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "inbox@tempbox.example")
	assert.Contains(t, rec.Body.String(), "message_count")
}

func TestMailboxHandler_Get_NoToken(t *testing.T) {
	f := newHandlerFixture(t)
	f.createMailbox(t, "inbox@tempbox.example")

	rec := f.request(http.MethodGet, "/api/mailboxes/inbox@tempbox.example", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMailboxHandler_Get_TokenQueryParam(t *testing.T) {
	f := newHandlerFixture(t)
	box := f.createMailbox(t, "inbox@tempbox.example")

	rec := f.request(http.MethodGet, "/api/mailboxes/inbox@tempbox.example?token="+box.AccessToken, "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMailboxHandler_Get_WrongMailboxToken(t *testing.T) {
	f := newHandlerFixture(t)
	f.createMailbox(t, "first@tempbox.example")
	other := f.createMailbox(t, "second@tempbox.example")

	rec := f.request(http.MethodGet, "/api/mailboxes/first@tempbox.example", other.AccessToken, "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestMailboxHandler_Token(t *testing.T) {
	f := newHandlerFixture(t)
	box := f.createMailbox(t, "inbox@tempbox.example")

	rec := f.request(http.MethodPost, "/api/mailboxes/inbox@tempbox.example/token", "",
		`{"mailbox_key":"`+box.MailboxKey+`"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var envelope struct {
		Data map[string]string `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	assert.Equal(t, box.AccessToken, envelope.Data["access_token"])
}

func TestMailboxHandler_Token_WrongKey(t *testing.T) {
	f := newHandlerFixture(t)
	f.createMailbox(t, "inbox@tempbox.example")

	rec := f.request(http.MethodPost, "/api/mailboxes/inbox@tempbox.example/token", "",
		`{"mailbox_key":"not-the-key"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMailboxHandler_RotateKey(t *testing.T) {
	f := newHandlerFixture(t)
	box := f.createMailbox(t, "inbox@tempbox.example")

	rec := f.request(http.MethodPost, "/api/mailboxes/inbox@tempbox.example/rotate-key", "",
		`{"mailbox_key":"`+box.MailboxKey+`"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var envelope struct {
		Data map[string]string `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	newKey := envelope.Data["mailbox_key"]
	require.NotEmpty(t, newKey)
	require.NotEqual(t, box.MailboxKey, newKey)

	// the old key no longer issues tokens, the new one does
	rec = f.request(http.MethodPost, "/api/mailboxes/inbox@tempbox.example/token", "",
		`{"mailbox_key":"`+box.MailboxKey+`"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.request(http.MethodPost, "/api/mailboxes/inbox@tempbox.example/token", "",
		`{"mailbox_key":"`+newKey+`"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMailboxHandler_Renew(t *testing.T) {
	f := newHandlerFixture(t)
	box := f.createMailbox(t, "inbox@tempbox.example")

	rec := f.request(http.MethodPost, "/api/mailboxes/inbox@tempbox.example/renew", box.AccessToken,
		`{"retention_days":30}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"retention_days":30`)
}

func TestMailboxHandler_Renew_BeyondMaximum(t *testing.T) {
	f := newHandlerFixture(t)
	box := f.createMailbox(t, "inbox@tempbox.example")

	rec := f.request(http.MethodPost, "/api/mailboxes/inbox@tempbox.example/renew", box.AccessToken,
		`{"retention_days":365}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMailboxHandler_UpdateWhitelist(t *testing.T) {
	f := newHandlerFixture(t)
	box := f.createMailbox(t, "inbox@tempbox.example")

	rec := f.request(http.MethodPut, "/api/mailboxes/inbox@tempbox.example/whitelist", box.AccessToken,
		`{"rules":["*@friendly.example"],"enabled":true}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.request(http.MethodGet, "/api/mailboxes/inbox@tempbox.example", box.AccessToken, "")
	assert.Contains(t, rec.Body.String(), "*@friendly.example")
	assert.Contains(t, rec.Body.String(), `"whitelist_enabled":true`)
}

func TestMailboxHandler_UpdateWhitelist_InvalidRule(t *testing.T) {
	f := newHandlerFixture(t)
	box := f.createMailbox(t, "inbox@tempbox.example")

	rec := f.request(http.MethodPut, "/api/mailboxes/inbox@tempbox.example/whitelist", box.AccessToken,
		`{"rules":["no-at-sign"],"enabled":true}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMailboxHandler_Delete(t *testing.T) {
	f := newHandlerFixture(t)
	box := f.createMailbox(t, "inbox@tempbox.example")

	rec := f.request(http.MethodDelete, "/api/mailboxes/inbox@tempbox.example", box.AccessToken, "")
	require.Equal(t, http.StatusNoContent, rec.Code)

	// the token died with the mailbox
	rec = f.request(http.MethodGet, "/api/mailboxes/inbox@tempbox.example", box.AccessToken, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
