package devserver

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pliu/courier/internal/models"
)

func dialHub(t *testing.T, httpURL, userID string) *websocket.Conn {
	t.Helper()
	wsURL := strings.Replace(httpURL, "http://", "ws://", 1) + "/ws"
	ws, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })

	env, err := models.NewEnvelope(models.EventRegister, userID)
	require.NoError(t, err)
	require.NoError(t, ws.WriteJSON(env))
	return ws
}

func readDM(t *testing.T, ws *websocket.Conn) models.Message {
	t.Helper()
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	var env models.Envelope
	require.NoError(t, ws.ReadJSON(&env))
	require.Equal(t, models.EventDM, env.Event)
	var msg models.Message
	require.NoError(t, json.Unmarshal(env.Data, &msg))
	return msg
}

func TestHubFanOut(t *testing.T) {
	srv, ts := newTestServer(t)
	alice, _ := srv.Store.CreateUser("a@x.com", "alice", "pw")
	bob, _ := srv.Store.CreateUser("b@x.com", "bob", "pw")
	carol, _ := srv.Store.CreateUser("c@x.com", "carol", "pw")

	aliceWS := dialHub(t, ts.URL, alice.ID)
	bobWS := dialHub(t, ts.URL, bob.ID)
	carolWS := dialHub(t, ts.URL, carol.ID)
	time.Sleep(50 * time.Millisecond) // let registrations land

	draft := models.OutboundDraft{FromUserID: alice.ID, ToUserID: bob.ID, Text: "hello bob"}
	env, err := models.NewEnvelope(models.EventDM, draft)
	require.NoError(t, err)
	require.NoError(t, aliceWS.WriteJSON(env))

	// Recipient gets the full message with server-assigned id and timestamp.
	got := readDM(t, bobWS)
	assert.NotEmpty(t, got.ID)
	assert.Equal(t, "hello bob", got.Content)
	assert.False(t, got.CreatedAt.IsZero())

	// Sender gets the echo, with the same id.
	echo := readDM(t, aliceWS)
	assert.Equal(t, got.ID, echo.ID)

	// A third party gets nothing.
	carolWS.SetReadDeadline(time.Now().Add(150 * time.Millisecond))
	var env2 models.Envelope
	assert.Error(t, carolWS.ReadJSON(&env2))

	// And the message is persisted for the history snapshot.
	msgs, err := srv.Store.GetThreadMessages(alice.ID, bob.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, got.ID, msgs[0].ID)
}

func TestHubIgnoresUnregisteredSender(t *testing.T) {
	srv, ts := newTestServer(t)
	alice, _ := srv.Store.CreateUser("a@x.com", "alice", "pw")
	bob, _ := srv.Store.CreateUser("b@x.com", "bob", "pw")

	bobWS := dialHub(t, ts.URL, bob.ID)

	wsURL := strings.Replace(ts.URL, "http://", "ws://", 1) + "/ws"
	anon, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer anon.Close()

	draft := models.OutboundDraft{FromUserID: alice.ID, ToUserID: bob.ID, Text: "spoofed"}
	env, _ := models.NewEnvelope(models.EventDM, draft)
	require.NoError(t, anon.WriteJSON(env))

	bobWS.SetReadDeadline(time.Now().Add(150 * time.Millisecond))
	var got models.Envelope
	assert.Error(t, bobWS.ReadJSON(&got))
}
