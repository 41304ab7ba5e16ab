package realtime

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinicore/clinic-ops/internal/identity"
)

func dialSession(t *testing.T, hub *Hub, caller identity.Caller) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.HandleWS(w, r.WithContext(identity.WithCaller(r.Context(), caller)))
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	// Wait for the session to register before the test sends.
	require.Eventually(t, func() bool {
		hub.mu.RLock()
		defer hub.mu.RUnlock()
		return len(hub.sessions) > 0
	}, time.Second, 5*time.Millisecond)
	return conn
}

func TestSendToUserDeliversToConnectedSession(t *testing.T) {
	hub := NewHub(nil)
	userID := uuid.New()
	conn := dialSession(t, hub, identity.Caller{UserID: userID, Role: identity.RoleDoctor})

	ok := hub.SendToUser(userID, map[string]string{"title": "Appointment updated"})
	assert.True(t, ok)

	conn.SetReadDeadline(time.Now().Add(time.Second))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)

	var got map[string]string
	require.NoError(t, json.Unmarshal(msg, &got))
	assert.Equal(t, "Appointment updated", got["title"])
}

func TestSendToUserWithoutSessions(t *testing.T) {
	hub := NewHub(nil)
	assert.False(t, hub.SendToUser(uuid.New(), "hello"))
}

func TestSendToRoleMatchesRoleOnly(t *testing.T) {
	hub := NewHub(nil)
	doctorConn := dialSession(t, hub, identity.Caller{UserID: uuid.New(), Role: identity.RoleDoctor})

	assert.True(t, hub.SendToRole(identity.RoleDoctor, "ping"))
	assert.False(t, hub.SendToRole(identity.RoleAdmin, "ping"))

	doctorConn.SetReadDeadline(time.Now().Add(time.Second))
	_, msg, err := doctorConn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, `"ping"`, string(msg))
}

func TestSendToPatientUsesPatientLink(t *testing.T) {
	hub := NewHub(nil)
	patientID := uuid.New()
	dialSession(t, hub, identity.Caller{
		UserID:    uuid.New(),
		Role:      identity.RolePatient,
		PatientID: patientID,
	})

	assert.True(t, hub.SendToPatient(patientID, "ping"))
	assert.False(t, hub.SendToPatient(uuid.New(), "ping"))
}
