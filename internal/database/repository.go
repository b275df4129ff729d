package database

import "context"

// Implementations translate driver failures into the apperr taxonomy
// before returning.

type AccountRepository interface {
	CreateAccount(ctx context.Context, params CreateAccountParams) (User, error)
	GetAccountById(ctx context.Context, id int) (User, error)
	GetAccountByEmail(ctx context.Context, email string) (User, error)
}

type MessageRepository interface {
	CreateMessage(ctx context.Context, params CreateMessageParams) (Message, error)
	GetMessage(ctx context.Context, id int) (Message, error)
	// MarkMessageRead sets is_read and reports whether the flag changed.
	MarkMessageRead(ctx context.Context, id int) (Message, bool, error)
	ListMessages(ctx context.Context, params ListMessagesParams) ([]Message, error)
	CountUnreadMessages(ctx context.Context, recipientId int) (int, error)
	MarkMessagesRead(ctx context.Context, recipientId int, ids []int) ([]ReadReceipt, error)
	MarkAllMessagesRead(ctx context.Context, recipientId int) ([]ReadReceipt, error)
}

type NotificationRepository interface {
	CreateNotification(ctx context.Context, params CreateNotificationParams) (Notification, error)
	GetNotification(ctx context.Context, id int) (Notification, error)
	ListNotifications(ctx context.Context, userId int) ([]Notification, error)
	MarkNotificationRead(ctx context.Context, id int) (Notification, error)
	DeleteNotification(ctx context.Context, id int) error
}

type ConsultationRepository interface {
	CreateConsultation(ctx context.Context, params CreateConsultationParams) (Consultation, error)
	CreateConsultationRequest(ctx context.Context, params CreateConsultationRequestParams) (ConsultationRequest, error)
	GetConsultationRequest(ctx context.Context, id int) (ConsultationRequest, error)
	ListConsultationRequests(ctx context.Context, unassignedOnly bool) ([]ConsultationRequest, error)
	// AssignConsultationRequest reports false when the veterinarian was
	// already assigned and nothing was written.
	AssignConsultationRequest(ctx context.Context, params AssignConsultationParams) (ConsultationRequest, bool, error)
}

type VetChatRepository interface {
	Ping(ctx context.Context) error
	AccountRepository
	MessageRepository
	NotificationRepository
	ConsultationRepository
}
