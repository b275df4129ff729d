package messaging

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/npezzotti/vetchat/internal/apperr"
	"github.com/npezzotti/vetchat/internal/database"
	"github.com/npezzotti/vetchat/internal/server"
	"github.com/npezzotti/vetchat/internal/stats"
	"github.com/npezzotti/vetchat/internal/types"
)

type NotificationService struct {
	log     *log.Logger
	repo    database.NotificationRepository
	events  EventPublisher
	stats   stats.StatsProvider
	timeout time.Duration
}

func NewNotificationService(logger *log.Logger, repo database.NotificationRepository, events EventPublisher, su stats.StatsProvider, timeout time.Duration) *NotificationService {
	return &NotificationService{
		log:     logger,
		repo:    repo,
		events:  events,
		stats:   su,
		timeout: storeTimeout(timeout),
	}
}

func (s *NotificationService) Create(ctx context.Context, userId int, kind types.NotificationKind, body string) (types.Notification, error) {
	switch {
	case userId <= 0:
		return types.Notification{}, apperr.Invalid("user_id", "is required")
	case !kind.Valid():
		return types.Notification{}, apperr.Invalid("kind", "is invalid")
	case strings.TrimSpace(body) == "":
		return types.Notification{}, apperr.Invalid("body", "is required")
	}

	sctx, cancel := context.WithTimeout(ctx, s.timeout)
	dbNotification, err := s.repo.CreateNotification(sctx, database.CreateNotificationParams{
		UserId: userId,
		Kind:   string(kind),
		Body:   body,
	})
	cancel()
	if err != nil {
		return types.Notification{}, err
	}

	n := toNotification(dbNotification)
	s.stats.Incr(stats.NotificationsCreated)

	pctx, cancel := publishContext(ctx, s.timeout)
	defer cancel()
	s.events.PublishToUser(pctx, userId, server.NewNotification{Notification: n})

	return n, nil
}

// OrderStatusChanged records an order notification for the customer. The
// order subsystem calls it whenever an order or its payment changes state.
func (s *NotificationService) OrderStatusChanged(ctx context.Context, userId, orderId int, status string) (types.Notification, error) {
	if orderId <= 0 {
		return types.Notification{}, apperr.Invalid("order_id", "is required")
	}
	if strings.TrimSpace(status) == "" {
		return types.Notification{}, apperr.Invalid("status", "is required")
	}

	body := fmt.Sprintf("Your order #%d status has been updated to %s.", orderId, status)
	return s.Create(ctx, userId, types.KindOrder, body)
}

// ListForUser returns the user's notifications, newest first.
func (s *NotificationService) ListForUser(ctx context.Context, userId int) ([]types.Notification, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	dbNotifications, err := s.repo.ListNotifications(ctx, userId)
	if err != nil {
		return nil, err
	}

	res := make([]types.Notification, 0, len(dbNotifications))
	for _, n := range dbNotifications {
		res = append(res, toNotification(n))
	}
	return res, nil
}

func (s *NotificationService) owned(ctx context.Context, id, actorId int) (database.Notification, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	n, err := s.repo.GetNotification(ctx, id)
	if err != nil {
		return database.Notification{}, err
	}
	if n.UserId != actorId {
		return database.Notification{}, apperr.ErrForbidden
	}
	return n, nil
}

func (s *NotificationService) MarkRead(ctx context.Context, id, actorId int) (types.Notification, error) {
	n, err := s.owned(ctx, id, actorId)
	if err != nil {
		return types.Notification{}, err
	}
	if n.IsRead {
		return toNotification(n), nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	updated, err := s.repo.MarkNotificationRead(ctx, id)
	if err != nil {
		return types.Notification{}, err
	}
	return toNotification(updated), nil
}

func (s *NotificationService) Delete(ctx context.Context, id, actorId int) error {
	if _, err := s.owned(ctx, id, actorId); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.repo.DeleteNotification(ctx, id)
}
