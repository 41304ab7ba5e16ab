package push

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPServiceSendsAndDecodesResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/push", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "Appointment updated", body["title"])

		json.NewEncoder(w).Encode(Result{Success: true, DeviceCount: 2})
	}))
	t.Cleanup(srv.Close)

	svc := NewHTTPService(srv.URL, "secret", nil)
	res, err := svc.SendPushNotification(context.Background(), uuid.New(), Notification{
		Title:   "Appointment updated",
		Message: "Your appointment state changed",
		Type:    "appointment.state_changed",
	})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 2, res.DeviceCount)
}

func TestHTTPServiceErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	t.Cleanup(srv.Close)

	svc := NewHTTPService(srv.URL, "", nil)
	_, err := svc.SendPushNotification(context.Background(), uuid.New(), Notification{Title: "x"})
	assert.Error(t, err)
}

func TestNewHTTPServiceNilWithoutURL(t *testing.T) {
	assert.Nil(t, NewHTTPService("", "token", nil))
}

func TestStubServiceAlwaysSucceeds(t *testing.T) {
	res, err := NewStubService(nil).SendPushNotification(context.Background(), uuid.New(), Notification{})
	require.NoError(t, err)
	assert.True(t, res.Success)
}
