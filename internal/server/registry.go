package server

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"sync"

	"github.com/npezzotti/vetchat/internal/stats"
)

// Publisher fans events out to the connections joined to a group.
type Publisher interface {
	Publish(ctx context.Context, group string, ev Event) error
	Join(group string, c *Client)
	Leave(group string, c *Client)
}

func UserGroup(userId int) string {
	return "messages:" + strconv.Itoa(userId)
}

func RoomGroup(room string) string {
	return "chat:" + room
}

// Registry is the in-process Publisher. Delivery never blocks: a client
// whose send queue is full loses the frame.
type Registry struct {
	log    *log.Logger
	stats  stats.StatsProvider
	mu     sync.RWMutex
	groups map[string]map[*Client]struct{}
}

func NewRegistry(logger *log.Logger, su stats.StatsProvider) *Registry {
	return &Registry{
		log:    logger,
		stats:  su,
		groups: make(map[string]map[*Client]struct{}),
	}
}

func (r *Registry) Join(group string, c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.groups[group] == nil {
		r.groups[group] = make(map[*Client]struct{})
	}
	r.groups[group][c] = struct{}{}
}

func (r *Registry) Leave(group string, c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()

	members, ok := r.groups[group]
	if !ok {
		return
	}

	delete(members, c)
	if len(members) == 0 {
		delete(r.groups, group)
	}
}

// Size returns the number of connections joined to group.
func (r *Registry) Size(group string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.groups[group])
}

func (r *Registry) Publish(ctx context.Context, group string, ev Event) error {
	frame, err := Encode(ev)
	if err != nil {
		return fmt.Errorf("publish to %q: %w", group, err)
	}

	r.deliver(group, frame, true)
	return nil
}

// deliver queues an encoded frame on every member of group and returns how
// many accepted it. countEmpty records a group with no members as a drop;
// broker fan-in passes false because every process sees every frame.
func (r *Registry) deliver(group string, frame []byte, countEmpty bool) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members := r.groups[group]
	if len(members) == 0 {
		if countEmpty {
			r.stats.Incr(stats.EventsDropped)
		}
		return 0
	}

	delivered := 0
	for c := range members {
		if c.queueFrame(frame) {
			delivered++
			r.stats.Incr(stats.EventsPublished)
		} else {
			r.log.Printf("dropped frame for connection %s in %q: send queue full", c.id, group)
			r.stats.Incr(stats.EventsDropped)
		}
	}

	return delivered
}
