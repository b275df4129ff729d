package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readEvent(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))

	var ev map[string]any
	require.NoError(t, conn.ReadJSON(&ev))
	return ev
}

func TestLiveChannelThroughApp(t *testing.T) {
	ta := newTestApp(t)
	ts := httptest.NewServer(ta.app.Handler())
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/messages?token=" + ta.token(t, ta.vet)
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()
	assert.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)

	ev := readEvent(t, conn)
	assert.Equal(t, "connection_established", ev["type"])

	// a REST send reaches the recipient's live connection
	ta.send(t, ta.customer, ta.vet, "hello doctor")

	ev = readEvent(t, conn)
	assert.Equal(t, "new_message", ev["type"])
	msg, ok := ev["message"].(map[string]any)
	require.True(t, ok, "expected message payload, got %v", ev)
	assert.Equal(t, "hello doctor", msg["content"])
	assert.Equal(t, float64(ta.customer.Id), msg["sender"])

	// and an admin notification is fanned out over the same connection
	rr := ta.do(t, http.MethodPost, "/api/notifications", &ta.admin, CreateNotificationRequest{
		UserId: ta.vet.Id,
		Kind:   "system",
		Body:   "maintenance tonight",
	})
	require.Equal(t, http.StatusCreated, rr.Code)

	ev = readEvent(t, conn)
	assert.Equal(t, "new_notification", ev["type"])

	// frames sent on the socket are persisted like REST sends
	require.NoError(t, conn.WriteJSON(map[string]any{
		"type":      "new_message",
		"recipient": ta.customer.Id,
		"content":   "please bring her in",
	}))
	ev = readEvent(t, conn)
	assert.Equal(t, "new_message", ev["type"])

	rr = ta.do(t, http.MethodGet, "/api/messages", &ta.customer, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var msgs []map[string]any
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&msgs))
	assert.Len(t, msgs, 2)
}

func TestLiveChannelRejectsMissingToken(t *testing.T) {
	ta := newTestApp(t)
	ts := httptest.NewServer(ta.app.Handler())
	defer ts.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws/messages", nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err = conn.ReadMessage()
	var closeErr *websocket.CloseError
	require.ErrorAs(t, err, &closeErr)
	assert.Equal(t, 4401, closeErr.Code)
}

func TestRoomChatIsStored(t *testing.T) {
	ta := newTestApp(t)
	ts := httptest.NewServer(ta.app.Handler())
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/chat/clinic?token=" + ta.token(t, ta.customer)
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	assert.Equal(t, "connection_established", readEvent(t, conn)["type"])

	require.NoError(t, conn.WriteJSON(map[string]any{
		"type":      "chat_message",
		"recipient": ta.vet.Id,
		"content":   "is the clinic open today?",
	}))

	ev := readEvent(t, conn)
	assert.Equal(t, "chat_message", ev["type"])
	assert.Equal(t, "clinic", ev["room"])
	assert.Equal(t, "is the clinic open today?", ev["content"])

	rr := ta.do(t, http.MethodGet, "/api/messages", &ta.vet, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var msgs []map[string]any
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&msgs))
	require.Len(t, msgs, 1)
	assert.Equal(t, "is the clinic open today?", msgs[0]["content"])
	assert.Equal(t, ev["message_id"], msgs[0]["id"])
}
