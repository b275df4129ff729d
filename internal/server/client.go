package server

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/npezzotti/vetchat/internal/stats"
	"github.com/npezzotti/vetchat/internal/types"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendQueueSize  = 256
)

type connState int32

const (
	stateConnecting connState = iota
	stateAuthenticated
	stateOpen
	stateClosed
)

func (s connState) String() string {
	switch s {
	case stateConnecting:
		return "connecting"
	case stateAuthenticated:
		return "authenticated"
	case stateOpen:
		return "open"
	case stateClosed:
		return "closed"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// frameHandler processes one inbound frame for a connection.
type frameHandler func(ctx context.Context, c *Client, raw []byte)

type Client struct {
	id       string
	conn     *websocket.Conn
	log      *log.Logger
	user     types.User
	send     chan []byte
	pub      Publisher
	groups   []string
	handle   frameHandler
	stats    stats.StatsProvider
	state    atomic.Int32
	stop     chan struct{}
	stopOnce sync.Once
	onClose  func(*Client)
}

func NewClient(id string, conn *websocket.Conn, pub Publisher, l *log.Logger, su stats.StatsProvider) *Client {
	return &Client{
		id:    id,
		conn:  conn,
		log:   l,
		pub:   pub,
		stats: su,
		send:  make(chan []byte, sendQueueSize),
		stop:  make(chan struct{}),
	}
}

func (c *Client) Id() string { return c.id }

func (c *Client) User() types.User { return c.user }

func (c *Client) getState() connState {
	return connState(c.state.Load())
}

func (c *Client) setState(s connState) {
	c.state.Store(int32(s))
}

func (c *Client) authenticate(user types.User) {
	c.user = user
	c.setState(stateAuthenticated)
}

// open makes the connection live: the confirmation event is queued first so
// it always precedes anything published to the joined groups.
func (c *Client) open(groups []string) {
	c.setState(stateOpen)
	c.queueEvent(ConnectionEstablished{
		Message:      "connected",
		ConnectionId: c.id,
		UserId:       c.user.Id,
	})

	c.groups = groups
	for _, g := range groups {
		c.pub.Join(g, c)
	}
	c.stats.Incr(stats.ActiveConnections)
}

func (c *Client) Write() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame := <-c.send:
			if !c.sendMessage(websocket.TextMessage, frame) {
				return
			}
		case <-c.stop:
			return
		case <-ticker.C:
			if !c.sendMessage(websocket.PingMessage, nil) {
				return
			}
		}
	}
}

func (c *Client) Read(ctx context.Context) {
	defer func() {
		c.conn.Close()
		c.cleanup()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(appData string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				c.log.Printf("ws: read from %s: %v", c.id, err)
			}
			break
		}

		c.dispatch(ctx, raw)
	}
}

// dispatch runs the frame handler. A panic is answered with an error event
// and the connection stays open.
func (c *Client) dispatch(ctx context.Context, raw []byte) {
	defer func() {
		if err := recover(); err != nil {
			c.log.Printf("panic handling frame from %s: %v", c.id, err)
			c.queueEvent(ErrorEvent{Message: "internal error"})
		}
	}()

	c.handle(ctx, c, raw)
}

func (c *Client) queueEvent(ev Event) bool {
	frame, err := Encode(ev)
	if err != nil {
		c.log.Println("failed to serialize event:", err)
		return false
	}
	return c.queueFrame(frame)
}

func (c *Client) queueFrame(frame []byte) bool {
	if c.getState() != stateOpen {
		return false
	}

	select {
	case c.send <- frame:
	default:
		c.log.Printf("failed to queue frame for %s, channel is full", c.id)
		return false
	}

	return true
}

func (c *Client) sendMessage(msgType int, msg []byte) bool {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))

	if err := c.conn.WriteMessage(msgType, msg); err != nil {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
			websocket.CloseNormalClosure) {
			c.log.Printf("write message: %s", err)
		}
		return false
	}

	return true
}

// closeWith sends a close frame carrying code and drops the connection.
func (c *Client) closeWith(code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	if err := c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait)); err != nil {
		c.log.Printf("write close frame to %s: %v", c.id, err)
	}
	c.conn.Close()
}

func (c *Client) stopClient() {
	c.stopOnce.Do(func() { close(c.stop) })
}

func (c *Client) cleanup() {
	wasOpen := c.getState() == stateOpen
	c.setState(stateClosed)

	for _, g := range c.groups {
		c.pub.Leave(g, c)
	}
	c.stopClient()

	if wasOpen {
		c.stats.Decr(stats.ActiveConnections)
	}
	if c.onClose != nil {
		c.onClose(c)
	}
}
