package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"ride-messaging/internal/auth"
	"ride-messaging/internal/mocks"
	"ride-messaging/internal/models"
	"ride-messaging/internal/telemetry"
)

var _ PresenceSource = (*mocks.PresenceSourceMock)(nil)

func setupPresenceRouter(handler *PresenceHandler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/presence", handler.ListOnline)
	r.GET("/presence/:user_id", handler.GetPresence)
	return r
}

func TestGetPresence(t *testing.T) {
	source := new(mocks.PresenceSourceMock)
	router := setupPresenceRouter(NewPresenceHandler(source))
	seen := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	source.On("Presence", "driver-9").Return(models.UserStatusInfo{UserID: "driver-9", Status: models.PresenceOffline, LastSeen: seen}).Once()

	req := httptest.NewRequest(http.MethodGet, "/presence/driver-9", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp models.UserStatusInfo
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, models.PresenceOffline, resp.Status)
	assert.True(t, seen.Equal(resp.LastSeen))
	source.AssertExpectations(t)
}

func TestListOnline(t *testing.T) {
	source := new(mocks.PresenceSourceMock)
	router := setupPresenceRouter(NewPresenceHandler(source))
	source.On("OnlineUsers").Return([]string{"driver-9", "rider-1"}).Once()

	req := httptest.NewRequest(http.MethodGet, "/presence", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"users":["driver-9","rider-1"]}`, rec.Body.String())
	source.AssertExpectations(t)
}

func TestDebugTokenRoute(t *testing.T) {
	gin.SetMode(gin.TestMode)
	svc := auth.NewJWTService("secret", time.Hour)
	pub := &mocks.PublisherMock{}
	pub.On("PublishJSON", mock.Anything, telemetry.RoutingKeyAudit, mock.Anything, mock.Anything).Return(nil).Once()
	r := gin.New()
	RegisterDebugRoutes(r, svc, telemetry.NewAuditEmitter(pub, "relay", "test", nil), true)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/debug/token", bytes.NewBufferString(`{"user_id":"rider-1"}`)))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]string
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	userID, err := svc.ValidateToken(context.Background(), resp["token"])
	require.NoError(t, err)
	assert.Equal(t, "rider-1", userID)
	pub.AssertExpectations(t)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/debug/token", bytes.NewBufferString(`{}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDebugRoutesDisabled(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	RegisterDebugRoutes(r, auth.NewJWTService("secret", time.Hour), nil, false)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/debug/token", bytes.NewBufferString(`{"user_id":"x"}`)))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
