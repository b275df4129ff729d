package database

import (
	"context"

	"github.com/stretchr/testify/mock"
)

type MockVetChatRepository struct {
	mock.Mock
}

func (m *MockVetChatRepository) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}
func (m *MockVetChatRepository) CreateAccount(ctx context.Context, params CreateAccountParams) (User, error) {
	args := m.Called(ctx, params)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockVetChatRepository) GetAccountById(ctx context.Context, id int) (User, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockVetChatRepository) GetAccountByEmail(ctx context.Context, email string) (User, error) {
	args := m.Called(ctx, email)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockVetChatRepository) CreateMessage(ctx context.Context, params CreateMessageParams) (Message, error) {
	args := m.Called(ctx, params)
	return args.Get(0).(Message), args.Error(1)
}
func (m *MockVetChatRepository) GetMessage(ctx context.Context, id int) (Message, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(Message), args.Error(1)
}
func (m *MockVetChatRepository) MarkMessageRead(ctx context.Context, id int) (Message, bool, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(Message), args.Bool(1), args.Error(2)
}
func (m *MockVetChatRepository) ListMessages(ctx context.Context, params ListMessagesParams) ([]Message, error) {
	args := m.Called(ctx, params)
	if msgs, ok := args.Get(0).([]Message); ok {
		return msgs, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *MockVetChatRepository) CountUnreadMessages(ctx context.Context, recipientId int) (int, error) {
	args := m.Called(ctx, recipientId)
	return args.Int(0), args.Error(1)
}
func (m *MockVetChatRepository) MarkMessagesRead(ctx context.Context, recipientId int, ids []int) ([]ReadReceipt, error) {
	args := m.Called(ctx, recipientId, ids)
	if receipts, ok := args.Get(0).([]ReadReceipt); ok {
		return receipts, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *MockVetChatRepository) MarkAllMessagesRead(ctx context.Context, recipientId int) ([]ReadReceipt, error) {
	args := m.Called(ctx, recipientId)
	if receipts, ok := args.Get(0).([]ReadReceipt); ok {
		return receipts, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *MockVetChatRepository) CreateNotification(ctx context.Context, params CreateNotificationParams) (Notification, error) {
	args := m.Called(ctx, params)
	return args.Get(0).(Notification), args.Error(1)
}
func (m *MockVetChatRepository) GetNotification(ctx context.Context, id int) (Notification, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(Notification), args.Error(1)
}
func (m *MockVetChatRepository) ListNotifications(ctx context.Context, userId int) ([]Notification, error) {
	args := m.Called(ctx, userId)
	if ns, ok := args.Get(0).([]Notification); ok {
		return ns, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *MockVetChatRepository) MarkNotificationRead(ctx context.Context, id int) (Notification, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(Notification), args.Error(1)
}
func (m *MockVetChatRepository) DeleteNotification(ctx context.Context, id int) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}
func (m *MockVetChatRepository) CreateConsultation(ctx context.Context, params CreateConsultationParams) (Consultation, error) {
	args := m.Called(ctx, params)
	return args.Get(0).(Consultation), args.Error(1)
}
func (m *MockVetChatRepository) CreateConsultationRequest(ctx context.Context, params CreateConsultationRequestParams) (ConsultationRequest, error) {
	args := m.Called(ctx, params)
	return args.Get(0).(ConsultationRequest), args.Error(1)
}
func (m *MockVetChatRepository) GetConsultationRequest(ctx context.Context, id int) (ConsultationRequest, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(ConsultationRequest), args.Error(1)
}
func (m *MockVetChatRepository) ListConsultationRequests(ctx context.Context, unassignedOnly bool) ([]ConsultationRequest, error) {
	args := m.Called(ctx, unassignedOnly)
	if reqs, ok := args.Get(0).([]ConsultationRequest); ok {
		return reqs, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *MockVetChatRepository) AssignConsultationRequest(ctx context.Context, params AssignConsultationParams) (ConsultationRequest, bool, error) {
	args := m.Called(ctx, params)
	return args.Get(0).(ConsultationRequest), args.Bool(1), args.Error(2)
}
