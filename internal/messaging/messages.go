package messaging

import (
	"context"
	"log"
	"strings"
	"time"

	"github.com/npezzotti/vetchat/internal/apperr"
	"github.com/npezzotti/vetchat/internal/database"
	"github.com/npezzotti/vetchat/internal/server"
	"github.com/npezzotti/vetchat/internal/stats"
	"github.com/npezzotti/vetchat/internal/types"
)

type Page struct {
	Limit  int
	Offset int
}

type MessageService struct {
	log     *log.Logger
	repo    database.MessageRepository
	events  EventPublisher
	stats   stats.StatsProvider
	timeout time.Duration
}

func NewMessageService(logger *log.Logger, repo database.MessageRepository, events EventPublisher, su stats.StatsProvider, timeout time.Duration) *MessageService {
	return &MessageService{
		log:     logger,
		repo:    repo,
		events:  events,
		stats:   su,
		timeout: storeTimeout(timeout),
	}
}

// Send stores a message and pushes it to the recipient's connections.
func (s *MessageService) Send(ctx context.Context, senderId, recipientId int, content string) (types.Message, error) {
	switch {
	case strings.TrimSpace(content) == "":
		return types.Message{}, apperr.Invalid("content", "is required")
	case recipientId <= 0:
		return types.Message{}, apperr.Invalid("recipient", "is required")
	case recipientId == senderId:
		return types.Message{}, apperr.Invalid("recipient", "cannot be the sender")
	}

	sctx, cancel := context.WithTimeout(ctx, s.timeout)
	dbMsg, err := s.repo.CreateMessage(sctx, database.CreateMessageParams{
		SenderId:    senderId,
		RecipientId: recipientId,
		Content:     content,
	})
	cancel()
	if err != nil {
		return types.Message{}, err
	}

	msg := toMessage(dbMsg)
	s.stats.Incr(stats.MessagesSent)

	pctx, cancel := publishContext(ctx, s.timeout)
	defer cancel()
	s.events.PublishToUser(pctx, recipientId, server.NewMessage{Message: msg})

	return msg, nil
}

func (s *MessageService) get(ctx context.Context, id int) (database.Message, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.repo.GetMessage(ctx, id)
}

// Get returns a message the actor sent or received.
func (s *MessageService) Get(ctx context.Context, id, actorId int) (types.Message, error) {
	msg, err := s.get(ctx, id)
	if err != nil {
		return types.Message{}, err
	}

	if msg.SenderId != actorId && msg.RecipientId != actorId {
		return types.Message{}, apperr.ErrForbidden
	}

	return toMessage(msg), nil
}

// MarkRead flips is_read on a message addressed to the actor. Marking an
// already read message returns it unchanged and notifies no one.
func (s *MessageService) MarkRead(ctx context.Context, id, actorId int) (types.Message, error) {
	msg, err := s.get(ctx, id)
	if err != nil {
		return types.Message{}, err
	}

	if msg.RecipientId != actorId {
		return types.Message{}, apperr.ErrForbidden
	}
	if msg.IsRead {
		return toMessage(msg), nil
	}

	sctx, cancel := context.WithTimeout(ctx, s.timeout)
	updated, changed, err := s.repo.MarkMessageRead(sctx, id)
	cancel()
	if err != nil {
		return types.Message{}, err
	}

	if changed {
		pctx, cancel := publishContext(ctx, s.timeout)
		defer cancel()
		s.events.PublishToUser(pctx, updated.SenderId, server.MessageStatusUpdate{
			MessageId: updated.Id,
			IsRead:    true,
		})
	}

	return toMessage(updated), nil
}

// ListForUser returns every message the user sent or received, oldest
// first. A zero limit means no limit.
func (s *MessageService) ListForUser(ctx context.Context, userId int, page Page) ([]types.Message, error) {
	if page.Limit < 0 {
		return nil, apperr.Invalid("limit", "must not be negative")
	}
	if page.Offset < 0 {
		return nil, apperr.Invalid("offset", "must not be negative")
	}

	return s.list(ctx, database.ListMessagesParams{
		UserId: userId,
		Limit:  page.Limit,
		Offset: page.Offset,
	})
}

// ListSince returns the user's messages created strictly after since,
// oldest first.
func (s *MessageService) ListSince(ctx context.Context, userId int, since time.Time) ([]types.Message, error) {
	return s.list(ctx, database.ListMessagesParams{
		UserId: userId,
		Since:  since,
	})
}

func (s *MessageService) list(ctx context.Context, params database.ListMessagesParams) ([]types.Message, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	msgs, err := s.repo.ListMessages(ctx, params)
	if err != nil {
		return nil, err
	}

	return toMessages(msgs), nil
}

func (s *MessageService) UnreadCount(ctx context.Context, userId int) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.repo.CountUnreadMessages(ctx, userId)
}

// MarkAllRead marks the user's unread messages, or only those in ids when
// ids is non-nil, and sends one receipt per original sender. It returns
// how many messages changed.
func (s *MessageService) MarkAllRead(ctx context.Context, userId int, ids *[]int) (int, error) {
	if ids != nil && len(*ids) == 0 {
		return 0, nil
	}

	sctx, cancel := context.WithTimeout(ctx, s.timeout)
	var (
		receipts []database.ReadReceipt
		err      error
	)
	if ids == nil {
		receipts, err = s.repo.MarkAllMessagesRead(sctx, userId)
	} else {
		receipts, err = s.repo.MarkMessagesRead(sctx, userId, *ids)
	}
	cancel()
	if err != nil {
		return 0, err
	}

	var senders []int
	bySender := make(map[int][]int)
	for _, r := range receipts {
		if _, ok := bySender[r.SenderId]; !ok {
			senders = append(senders, r.SenderId)
		}
		bySender[r.SenderId] = append(bySender[r.SenderId], r.MessageId)
	}

	pctx, pcancel := publishContext(ctx, s.timeout)
	defer pcancel()
	for _, sender := range senders {
		s.events.PublishToUser(pctx, sender, server.MessageStatusUpdate{
			MessageIds: bySender[sender],
			IsRead:     true,
		})
	}

	return len(receipts), nil
}
