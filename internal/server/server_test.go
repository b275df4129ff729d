package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/npezzotti/vetchat/internal/apperr"
	"github.com/npezzotti/vetchat/internal/identity"
	"github.com/npezzotti/vetchat/internal/stats"
	"github.com/npezzotti/vetchat/internal/testutil"
	"github.com/npezzotti/vetchat/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type fakeResolver map[string]types.User

func (f fakeResolver) Resolve(_ context.Context, token string) (types.User, error) {
	if token == "" {
		return types.User{}, identity.ErrMissingCredential
	}
	if token == "down" {
		return types.User{}, apperr.Unavailable(errors.New("db down"))
	}
	u, ok := f[token]
	if !ok {
		return types.User{}, identity.ErrInvalidCredential
	}
	return u, nil
}

type mockSender struct {
	mock.Mock
}

func (m *mockSender) Send(ctx context.Context, senderId, recipientId int, content string) (types.Message, error) {
	args := m.Called(ctx, senderId, recipientId, content)
	return args.Get(0).(types.Message), args.Error(1)
}

func (m *mockSender) MarkAllRead(ctx context.Context, userId int, ids *[]int) (int, error) {
	args := m.Called(ctx, userId, ids)
	return args.Int(0), args.Error(1)
}

var (
	alice = types.User{Id: 1, Username: "alice", Role: types.RoleCustomer}
	bob   = types.User{Id: 2, Username: "bob", Role: types.RoleVeterinarian}
)

type testEnv struct {
	cs       *ChatServer
	registry *Registry
	sender   *mockSender
	srv      *httptest.Server
}

func newTestEnv(t *testing.T) *testEnv {
	logger := testutil.TestLogger(t)
	su := stats.NewPermissiveMock()
	registry := NewRegistry(logger, su)
	sender := &mockSender{}
	resolver := fakeResolver{"alice-token": alice, "bob-token": bob}

	cs := NewChatServer(logger, registry, resolver, sender, su, []string{"http://localhost:3000"})

	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws/messages", cs.ServeMessages)
	mux.HandleFunc("GET /ws/chat/{room}", cs.ServeRoom)
	mux.HandleFunc("GET /ws/test", cs.ServeEcho)

	srv := httptest.NewServer(mux)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		cs.Shutdown(ctx)
		srv.Close()
	})

	return &testEnv{cs: cs, registry: registry, sender: sender, srv: srv}
}

func (e *testEnv) dial(t *testing.T, path string) *websocket.Conn {
	url := "ws" + strings.TrimPrefix(e.srv.URL, "http") + path
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var ev map[string]any
	require.NoError(t, json.Unmarshal(data, &ev))
	return ev
}

func writeFrame(t *testing.T, conn *websocket.Conn, frame string) {
	t.Helper()
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(frame)))
}

func TestHandshake_Rejections(t *testing.T) {
	env := newTestEnv(t)

	tcases := []struct {
		name string
		path string
		code int
	}{
		{name: "missing credential", path: "/ws/messages", code: CloseMissingCredential},
		{name: "invalid credential", path: "/ws/messages?token=forged", code: CloseInvalidCredential},
		{name: "identity unavailable", path: "/ws/messages?token=down", code: websocket.CloseTryAgainLater},
		{name: "room without credential", path: "/ws/chat/lobby", code: CloseMissingCredential},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			conn := env.dial(t, tc.path)
			conn.SetReadDeadline(time.Now().Add(2 * time.Second))
			_, _, err := conn.ReadMessage()

			var closeErr *websocket.CloseError
			require.ErrorAs(t, err, &closeErr)
			assert.Equal(t, tc.code, closeErr.Code)
		})
	}

	assert.Equal(t, 0, env.cs.NumClients())
}

func TestHandshake_CookieCredential(t *testing.T) {
	env := newTestEnv(t)

	url := "ws" + strings.TrimPrefix(env.srv.URL, "http") + "/ws/messages"
	header := http.Header{}
	header.Set("Cookie", "token=bob-token")
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	defer conn.Close()

	ev := readEvent(t, conn)
	assert.Equal(t, "connection_established", ev["type"])
	assert.Equal(t, float64(bob.Id), ev["user_id"])
}

func TestHandshake_DisallowedOrigin(t *testing.T) {
	env := newTestEnv(t)

	url := "ws" + strings.TrimPrefix(env.srv.URL, "http") + "/ws/messages?token=alice-token"
	header := http.Header{}
	header.Set("Origin", "http://evil.example.com")
	_, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.Error(t, err)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestMessages_ConnectAndReceive(t *testing.T) {
	env := newTestEnv(t)
	conn := env.dial(t, "/ws/messages?token=alice-token")

	ev := readEvent(t, conn)
	assert.Equal(t, "connection_established", ev["type"])
	assert.NotEmpty(t, ev["connection_id"])

	require.Eventually(t, func() bool { return env.registry.Size(UserGroup(alice.Id)) == 1 }, time.Second, 10*time.Millisecond)

	err := env.registry.Publish(context.Background(), UserGroup(alice.Id), NewNotification{
		Notification: types.Notification{Id: 3, UserId: alice.Id, Kind: types.KindOrder, Body: "shipped"},
	})
	require.NoError(t, err)

	ev = readEvent(t, conn)
	assert.Equal(t, "new_notification", ev["type"])
	assert.Equal(t, "shipped", ev["notification"].(map[string]any)["body"])
}

func TestMessages_PingAndMalformedFrames(t *testing.T) {
	env := newTestEnv(t)
	conn := env.dial(t, "/ws/messages?token=alice-token")
	readEvent(t, conn)

	writeFrame(t, conn, `{"type":"ping"}`)
	assert.Equal(t, "pong", readEvent(t, conn)["type"])

	writeFrame(t, conn, `{not json`)
	assert.Equal(t, "error", readEvent(t, conn)["type"])

	writeFrame(t, conn, `{"type":"subscribe"}`)
	assert.Equal(t, "error", readEvent(t, conn)["type"])

	writeFrame(t, conn, `{"type":"chat_message","content":"hi"}`)
	assert.Equal(t, "error", readEvent(t, conn)["type"])

	// still open after errors
	writeFrame(t, conn, `{"type":"ping"}`)
	assert.Equal(t, "pong", readEvent(t, conn)["type"])
}

func TestMessages_SendPersistsThroughService(t *testing.T) {
	env := newTestEnv(t)
	defer env.sender.AssertExpectations(t)

	stored := types.Message{Id: 10, SenderId: alice.Id, RecipientId: bob.Id, SenderName: "alice", RecipientName: "bob", Content: "hello"}
	env.sender.On("Send", mock.Anything, alice.Id, bob.Id, "hello").Return(stored, nil).Once()
	env.sender.On("Send", mock.Anything, alice.Id, bob.Id, "").
		Return(types.Message{}, apperr.Invalid("content", "is required")).Once()

	conn := env.dial(t, "/ws/messages?token=alice-token")
	readEvent(t, conn)

	writeFrame(t, conn, `{"type":"new_message","recipient":2,"content":"hello"}`)
	ev := readEvent(t, conn)
	assert.Equal(t, "new_message", ev["type"])
	assert.Equal(t, float64(10), ev["message"].(map[string]any)["id"])

	writeFrame(t, conn, `{"type":"new_message","recipient":2,"content":""}`)
	ev = readEvent(t, conn)
	assert.Equal(t, "error", ev["type"])
	assert.Equal(t, []any{map[string]any{"field": "content", "reason": "is required"}}, ev["fields"])
}

func TestMessages_InternalErrorsAreNotLeaked(t *testing.T) {
	env := newTestEnv(t)
	env.sender.On("Send", mock.Anything, alice.Id, bob.Id, "x").
		Return(types.Message{}, errors.New("pq: secret table detail")).Once()

	conn := env.dial(t, "/ws/messages?token=alice-token")
	readEvent(t, conn)

	writeFrame(t, conn, `{"type":"new_message","recipient":2,"content":"x"}`)
	ev := readEvent(t, conn)
	assert.Equal(t, "error", ev["type"])
	assert.Equal(t, "internal error", ev["message"])
}

func TestMessages_PanicInHandlerKeepsConnection(t *testing.T) {
	env := newTestEnv(t)
	env.sender.On("Send", mock.Anything, alice.Id, bob.Id, "boom").Run(func(mock.Arguments) {
		panic("handler exploded")
	}).Once()

	conn := env.dial(t, "/ws/messages?token=alice-token")
	readEvent(t, conn)

	writeFrame(t, conn, `{"type":"new_message","recipient":2,"content":"boom"}`)
	assert.Equal(t, "error", readEvent(t, conn)["type"])

	writeFrame(t, conn, `{"type":"ping"}`)
	assert.Equal(t, "pong", readEvent(t, conn)["type"])
}

func TestMessages_MarkRead(t *testing.T) {
	env := newTestEnv(t)
	defer env.sender.AssertExpectations(t)

	called := make(chan *[]int, 1)
	env.sender.On("MarkAllRead", mock.Anything, bob.Id, mock.Anything).Run(func(args mock.Arguments) {
		called <- args.Get(2).(*[]int)
	}).Return(2, nil).Once()

	conn := env.dial(t, "/ws/messages?token=bob-token")
	readEvent(t, conn)

	writeFrame(t, conn, `{"type":"mark_read","message_ids":[3,4]}`)

	select {
	case ids := <-called:
		require.NotNil(t, ids)
		assert.Equal(t, []int{3, 4}, *ids)
	case <-time.After(2 * time.Second):
		t.Fatal("expected MarkAllRead to be called")
	}
}

func TestRoom_Broadcast(t *testing.T) {
	env := newTestEnv(t)
	stored := types.Message{
		Id:          7,
		SenderId:    alice.Id,
		RecipientId: bob.Id,
		SenderName:  "alice",
		Content:     "hello room",
		Timestamp:   time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
	env.sender.On("Send", mock.Anything, alice.Id, bob.Id, "hello room").Return(stored, nil).Once()
	env.sender.On("Send", mock.Anything, bob.Id, alice.Id, "   ").
		Return(types.Message{}, apperr.Invalid("content", "is required")).Once()

	a := env.dial(t, "/ws/chat/lobby?token=alice-token")
	b := env.dial(t, "/ws/chat/lobby?token=bob-token")
	readEvent(t, a)
	readEvent(t, b)

	require.Eventually(t, func() bool { return env.registry.Size(RoomGroup("lobby")) == 2 }, time.Second, 10*time.Millisecond)

	writeFrame(t, a, `{"type":"chat_message","recipient":2,"content":"hello room"}`)

	for _, conn := range []*websocket.Conn{a, b} {
		ev := readEvent(t, conn)
		assert.Equal(t, "chat_message", ev["type"])
		assert.Equal(t, "lobby", ev["room"])
		assert.Equal(t, float64(7), ev["message_id"])
		assert.Equal(t, float64(bob.Id), ev["recipient"])
		assert.Equal(t, "alice", ev["sender_name"])
		assert.Equal(t, "hello room", ev["content"])
		assert.Equal(t, "2024-05-01T12:00:00Z", ev["timestamp"])
	}

	writeFrame(t, b, `{"type":"chat_message","recipient":1,"content":"   "}`)
	ev := readEvent(t, b)
	assert.Equal(t, "error", ev["type"])
	assert.NotEmpty(t, ev["fields"])

	env.sender.AssertExpectations(t)
}

func TestRoom_StoreFailureIsNotBroadcast(t *testing.T) {
	env := newTestEnv(t)
	env.sender.On("Send", mock.Anything, alice.Id, bob.Id, "hello").
		Return(types.Message{}, apperr.Unavailable(errors.New("db down"))).Once()

	a := env.dial(t, "/ws/chat/lobby?token=alice-token")
	b := env.dial(t, "/ws/chat/lobby?token=bob-token")
	readEvent(t, a)
	readEvent(t, b)
	require.Eventually(t, func() bool { return env.registry.Size(RoomGroup("lobby")) == 2 }, time.Second, 10*time.Millisecond)

	writeFrame(t, a, `{"type":"chat_message","recipient":2,"content":"hello"}`)
	assert.Equal(t, "error", readEvent(t, a)["type"])

	b.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	_, _, err := b.ReadMessage()
	assert.Error(t, err, "room member should not see an unstored message")
}

func TestRoom_InvalidName(t *testing.T) {
	env := newTestEnv(t)

	url := "ws" + strings.TrimPrefix(env.srv.URL, "http") + "/ws/chat/bad%20room?token=alice-token"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestEcho(t *testing.T) {
	env := newTestEnv(t)
	conn := env.dial(t, "/ws/test")

	assert.Equal(t, "connection_established", readEvent(t, conn)["type"])

	writeFrame(t, conn, `{"hello":"world"}`)
	ev := readEvent(t, conn)
	assert.Equal(t, "echo", ev["type"])
	assert.Equal(t, map[string]any{"hello": "world"}, ev["data"])

	writeFrame(t, conn, `plain text`)
	ev = readEvent(t, conn)
	assert.Equal(t, "plain text", ev["data"])
}

func TestDisconnectLeavesGroup(t *testing.T) {
	env := newTestEnv(t)
	conn := env.dial(t, "/ws/messages?token=alice-token")
	readEvent(t, conn)

	require.Eventually(t, func() bool { return env.registry.Size(UserGroup(alice.Id)) == 1 }, time.Second, 10*time.Millisecond)
	conn.Close()

	assert.Eventually(t, func() bool {
		return env.registry.Size(UserGroup(alice.Id)) == 0 && env.cs.NumClients() == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestShutdown_ClosesConnections(t *testing.T) {
	env := newTestEnv(t)
	conn := env.dial(t, "/ws/messages?token=alice-token")
	readEvent(t, conn)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, env.cs.Shutdown(ctx))
	assert.Equal(t, 0, env.cs.NumClients())

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	var closeErr *websocket.CloseError
	require.ErrorAs(t, err, &closeErr)
	assert.Equal(t, websocket.CloseGoingAway, closeErr.Code)
}
