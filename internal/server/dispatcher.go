package server

import (
	"context"
	"log"
)

// Dispatcher is what the services use to push events at users. Delivery
// is best effort: failures are logged and never reach the caller, whose
// write has already been committed.
type Dispatcher struct {
	log *log.Logger
	pub Publisher
}

func NewDispatcher(logger *log.Logger, pub Publisher) *Dispatcher {
	return &Dispatcher{log: logger, pub: pub}
}

func (d *Dispatcher) PublishToUser(ctx context.Context, userId int, ev Event) {
	d.publish(ctx, UserGroup(userId), ev)
}

func (d *Dispatcher) PublishToRoom(ctx context.Context, room string, ev Event) {
	d.publish(ctx, RoomGroup(room), ev)
}

func (d *Dispatcher) publish(ctx context.Context, group string, ev Event) {
	if err := d.pub.Publish(ctx, group, ev); err != nil {
		d.log.Printf("publish %s to %q: %v", ev.Kind(), group, err)
	}
}
