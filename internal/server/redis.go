package server

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/npezzotti/vetchat/internal/apperr"
	"github.com/redis/go-redis/v9"
)

const redisChannelPrefix = "vetchat:"

// RedisBroker is a Publisher for deployments running several processes.
// Publish goes through a Redis channel per group and every process
// delivers what it receives to its own Registry.
type RedisBroker struct {
	log   *log.Logger
	rdb   *redis.Client
	local *Registry
	sub   *redis.PubSub
	done  chan struct{}
}

func NewRedisBroker(logger *log.Logger, rdb *redis.Client, local *Registry) *RedisBroker {
	return &RedisBroker{
		log:   logger,
		rdb:   rdb,
		local: local,
		done:  make(chan struct{}),
	}
}

// Start subscribes to every group channel and begins delivering. It
// returns once the subscription is confirmed.
func (b *RedisBroker) Start(ctx context.Context) error {
	b.sub = b.rdb.PSubscribe(ctx, redisChannelPrefix+"*")
	if _, err := b.sub.Receive(ctx); err != nil {
		b.sub.Close()
		return fmt.Errorf("subscribe: %w", err)
	}

	go b.run(b.sub.Channel())
	return nil
}

func (b *RedisBroker) run(ch <-chan *redis.Message) {
	defer close(b.done)

	for msg := range ch {
		group := strings.TrimPrefix(msg.Channel, redisChannelPrefix)
		b.local.deliver(group, []byte(msg.Payload), false)
	}
}

func (b *RedisBroker) Publish(ctx context.Context, group string, ev Event) error {
	frame, err := Encode(ev)
	if err != nil {
		return fmt.Errorf("publish to %q: %w", group, err)
	}

	if err := b.rdb.Publish(ctx, redisChannelPrefix+group, frame).Err(); err != nil {
		return apperr.Unavailable(fmt.Errorf("redis publish to %q: %w", group, err))
	}

	return nil
}

func (b *RedisBroker) Join(group string, c *Client) {
	b.local.Join(group, c)
}

func (b *RedisBroker) Leave(group string, c *Client) {
	b.local.Leave(group, c)
}

// Close ends the subscription and waits for the delivery loop to exit.
func (b *RedisBroker) Close() error {
	if b.sub == nil {
		return nil
	}

	err := b.sub.Close()
	<-b.done
	return err
}
