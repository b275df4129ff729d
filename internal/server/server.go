package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"regexp"
	"slices"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/npezzotti/vetchat/internal/apperr"
	"github.com/npezzotti/vetchat/internal/identity"
	"github.com/npezzotti/vetchat/internal/stats"
	"github.com/npezzotti/vetchat/internal/types"
	"github.com/teris-io/shortid"
)

// Close codes sent when the handshake cannot authenticate the caller.
const (
	CloseMissingCredential = 4401
	CloseInvalidCredential = 4403
)

const tokenCookieKey = "token"

var roomNamePattern = regexp.MustCompile(`^[A-Za-z0-9_.-]{1,64}$`)

type Resolver interface {
	Resolve(ctx context.Context, token string) (types.User, error)
}

// MessageSender is the slice of the message service the live channel uses.
// Sends made here are persisted exactly like REST sends.
type MessageSender interface {
	Send(ctx context.Context, senderId, recipientId int, content string) (types.Message, error)
	MarkAllRead(ctx context.Context, userId int, ids *[]int) (int, error)
}

type ChatServer struct {
	log      *log.Logger
	pub      Publisher
	identity Resolver
	messages MessageSender
	stats    stats.StatsProvider
	upgrader websocket.Upgrader

	// base context for frame handling; hijacked requests lose theirs
	ctx    context.Context
	cancel context.CancelFunc

	clients     map[*Client]struct{}
	clientsLock sync.Mutex
	wg          sync.WaitGroup
}

func NewChatServer(logger *log.Logger, pub Publisher, resolver Resolver, messages MessageSender, su stats.StatsProvider, allowedOrigins []string) *ChatServer {
	ctx, cancel := context.WithCancel(context.Background())
	cs := &ChatServer{
		log:      logger,
		pub:      pub,
		identity: resolver,
		messages: messages,
		stats:    su,
		ctx:      ctx,
		cancel:   cancel,
		clients:  make(map[*Client]struct{}),
	}

	cs.upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}

			return slices.Contains(allowedOrigins, origin)
		},
	}

	return cs
}

// credential returns the token from the query string, falling back to the
// session cookie. Browsers cannot set headers on a websocket handshake.
func credential(r *http.Request) string {
	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}
	if cookie, err := r.Cookie(tokenCookieKey); err == nil {
		return cookie.Value
	}
	return ""
}

// ServeMessages handles /ws/messages: the per-user event stream.
func (cs *ChatServer) ServeMessages(w http.ResponseWriter, r *http.Request) {
	cs.serve(w, r, true, func(u types.User) []string {
		return []string{UserGroup(u.Id)}
	}, cs.handleMessageFrame)
}

// ServeRoom handles /ws/chat/{room}. Room messages are stored like any
// other send before the room sees them.
func (cs *ChatServer) ServeRoom(w http.ResponseWriter, r *http.Request) {
	room := r.PathValue("room")
	if !roomNamePattern.MatchString(room) {
		http.Error(w, "invalid room name", http.StatusBadRequest)
		return
	}

	cs.serve(w, r, true, func(types.User) []string {
		return []string{RoomGroup(room)}
	}, cs.roomHandler(room))
}

// ServeEcho handles /ws/test, an unauthenticated echo endpoint for
// checking connectivity.
func (cs *ChatServer) ServeEcho(w http.ResponseWriter, r *http.Request) {
	cs.serve(w, r, false, func(types.User) []string { return nil }, handleEchoFrame)
}

func (cs *ChatServer) serve(w http.ResponseWriter, r *http.Request, authenticate bool, groups func(types.User) []string, handle frameHandler) {
	id, err := shortid.Generate()
	if err != nil {
		cs.log.Println("generate connection id:", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	conn, err := cs.upgrader.Upgrade(w, r, nil)
	if err != nil {
		cs.log.Println("error upgrading connection:", err)
		return
	}

	c := NewClient(id, conn, cs.pub, cs.log, cs.stats)
	c.handle = handle

	if authenticate {
		user, err := cs.identity.Resolve(r.Context(), credential(r))
		if err != nil {
			code, reason := closeCodeFor(err)
			cs.log.Printf("rejecting connection %s: %v", id, err)
			c.setState(stateClosed)
			c.closeWith(code, reason)
			return
		}
		c.authenticate(user)
	}

	cs.addClient(c)
	c.onClose = cs.removeClient
	c.open(groups(c.user))

	go c.Write()
	go c.Read(cs.ctx)
}

func closeCodeFor(err error) (int, string) {
	switch {
	case errors.Is(err, identity.ErrMissingCredential):
		return CloseMissingCredential, "missing credential"
	case errors.Is(err, identity.ErrInvalidCredential):
		return CloseInvalidCredential, "invalid credential"
	default:
		return websocket.CloseTryAgainLater, "identity unavailable"
	}
}

func (cs *ChatServer) handleMessageFrame(ctx context.Context, c *Client, raw []byte) {
	frame, err := DecodeFrame(raw)
	if err != nil {
		c.queueEvent(ErrorFor(err))
		return
	}

	switch f := frame.(type) {
	case PingFrame:
		c.queueEvent(Pong{})
	case SendMessageFrame:
		msg, err := cs.messages.Send(ctx, c.user.Id, f.Recipient, f.Content)
		if err != nil {
			cs.log.Printf("send from %s failed: %v", c.id, err)
			c.queueEvent(ErrorFor(err))
			return
		}
		c.queueEvent(NewMessage{Message: msg})
	case MarkReadFrame:
		if _, err := cs.messages.MarkAllRead(ctx, c.user.Id, f.MessageIds); err != nil {
			cs.log.Printf("mark read from %s failed: %v", c.id, err)
			c.queueEvent(ErrorFor(err))
		}
	default:
		c.queueEvent(ErrorFor(fmt.Errorf("%w: frame not supported on this channel", apperr.ErrProtocol)))
	}
}

func (cs *ChatServer) roomHandler(room string) frameHandler {
	return func(ctx context.Context, c *Client, raw []byte) {
		frame, err := DecodeFrame(raw)
		if err != nil {
			c.queueEvent(ErrorFor(err))
			return
		}

		switch f := frame.(type) {
		case PingFrame:
			c.queueEvent(Pong{})
		case ChatFrame:
			msg, err := cs.messages.Send(ctx, c.user.Id, f.Recipient, f.Content)
			if err != nil {
				cs.log.Printf("room %q send from %s failed: %v", room, c.id, err)
				c.queueEvent(ErrorFor(err))
				return
			}
			if err := cs.pub.Publish(ctx, RoomGroup(room), chatMessageFor(room, msg)); err != nil {
				cs.log.Printf("publish to room %q: %v", room, err)
			}
		default:
			c.queueEvent(ErrorFor(fmt.Errorf("%w: frame not supported on this channel", apperr.ErrProtocol)))
		}
	}
}

func handleEchoFrame(_ context.Context, c *Client, raw []byte) {
	data := json.RawMessage(raw)
	if !json.Valid(raw) {
		quoted, _ := json.Marshal(string(raw))
		data = quoted
	}
	c.queueEvent(Echo{Data: data})
}

func (cs *ChatServer) addClient(c *Client) {
	cs.clientsLock.Lock()
	defer cs.clientsLock.Unlock()
	cs.clients[c] = struct{}{}
	cs.wg.Add(1)
}

func (cs *ChatServer) removeClient(c *Client) {
	cs.clientsLock.Lock()
	defer cs.clientsLock.Unlock()
	if _, ok := cs.clients[c]; ok {
		delete(cs.clients, c)
		cs.wg.Done()
	}
}

func (cs *ChatServer) NumClients() int {
	cs.clientsLock.Lock()
	defer cs.clientsLock.Unlock()
	return len(cs.clients)
}

// Shutdown closes every live connection with a going-away frame and waits
// for their read loops to finish.
func (cs *ChatServer) Shutdown(ctx context.Context) error {
	cs.log.Println("closing live connections")
	cs.cancel()

	cs.clientsLock.Lock()
	for c := range cs.clients {
		c.closeWith(websocket.CloseGoingAway, "server shutting down")
	}
	cs.clientsLock.Unlock()

	done := make(chan struct{})
	go func() {
		cs.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for connections: %w", ctx.Err())
	}
}

func Now() time.Time {
	return time.Now().UTC().Round(time.Millisecond)
}
