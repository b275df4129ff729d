// Package messaging holds the services behind both transports: direct
// messages with read receipts, notifications and consultation intake.
// Each service persists first and publishes live events after the write
// has committed.
package messaging

import (
	"context"
	"time"

	"github.com/npezzotti/vetchat/internal/database"
	"github.com/npezzotti/vetchat/internal/server"
	"github.com/npezzotti/vetchat/internal/types"
)

const DefaultStoreTimeout = 3 * time.Second

// EventPublisher pushes an event to every live connection of a user.
type EventPublisher interface {
	PublishToUser(ctx context.Context, userId int, ev server.Event)
}

type UserLookup interface {
	Lookup(ctx context.Context, id int) (types.User, error)
}

func storeTimeout(d time.Duration) time.Duration {
	if d <= 0 {
		return DefaultStoreTimeout
	}
	return d
}

// publishContext outlives the caller's request so that an event for a
// committed write is not lost to a client hanging up.
func publishContext(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), timeout)
}

func toMessage(m database.Message) types.Message {
	return types.Message{
		Id:            m.Id,
		SenderId:      m.SenderId,
		RecipientId:   m.RecipientId,
		SenderName:    m.SenderName,
		RecipientName: m.RecipientName,
		Content:       m.Content,
		Timestamp:     m.CreatedAt,
		IsRead:        m.IsRead,
	}
}

func toMessages(msgs []database.Message) []types.Message {
	res := make([]types.Message, 0, len(msgs))
	for _, m := range msgs {
		res = append(res, toMessage(m))
	}
	return res
}

func toNotification(n database.Notification) types.Notification {
	return types.Notification{
		Id:        n.Id,
		UserId:    n.UserId,
		Kind:      types.NotificationKind(n.Kind),
		Body:      n.Body,
		CreatedAt: n.CreatedAt,
		IsRead:    n.IsRead,
	}
}

func toConsultation(c database.Consultation) types.Consultation {
	return types.Consultation{
		Id:        c.Id,
		Name:      c.Name,
		Email:     c.Email,
		Problem:   c.Problem,
		CreatedAt: c.CreatedAt,
	}
}

func toConsultationRequest(r database.ConsultationRequest) types.ConsultationRequest {
	return types.ConsultationRequest{
		Id:               r.Id,
		UserName:         r.UserName,
		UserEmail:        r.UserEmail,
		Problem:          r.Problem,
		VeterinarianId:   r.VeterinarianId,
		VeterinarianName: r.VeterinarianName,
		CreatedAt:        r.CreatedAt,
		AssignedAt:       r.AssignedAt,
	}
}
