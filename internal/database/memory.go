package database

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/npezzotti/vetchat/internal/apperr"
)

// MemoryVetChatRepository keeps everything in process. It backs the
// -store=memory development mode and the service tests.
type MemoryVetChatRepository struct {
	mu sync.RWMutex

	now     func() time.Time
	lastTs  time.Time
	nextIds map[string]int

	accounts      map[int]User
	messages      []Message // insertion order, which is also created_at order
	notifications map[int]Notification
	consultations []Consultation
	requests      map[int]ConsultationRequest
	assignments   []AssignConsultationParams
}

func NewMemoryVetChatRepository() *MemoryVetChatRepository {
	return &MemoryVetChatRepository{
		now:           time.Now,
		nextIds:       make(map[string]int),
		accounts:      make(map[int]User),
		notifications: make(map[int]Notification),
		requests:      make(map[int]ConsultationRequest),
	}
}

// SetClock replaces the time source. Tests use it to place messages in time.
func (m *MemoryVetChatRepository) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

func (m *MemoryVetChatRepository) nextId(table string) int {
	m.nextIds[table]++
	return m.nextIds[table]
}

// timestamp returns a millisecond-precision time that never goes backwards
// and never repeats within the store.
func (m *MemoryVetChatRepository) timestamp() time.Time {
	ts := m.now().UTC().Truncate(time.Millisecond)
	if !ts.After(m.lastTs) {
		ts = m.lastTs.Add(time.Millisecond)
	}
	m.lastTs = ts
	return ts
}

func (m *MemoryVetChatRepository) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return apperr.Unavailable(err)
	}
	return nil
}

func (m *MemoryVetChatRepository) CreateAccount(ctx context.Context, params CreateAccountParams) (User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, u := range m.accounts {
		if u.EmailAddress == params.EmailAddress {
			return User{}, apperr.Invalid("email", "already exists")
		}
		if u.Username == params.Username {
			return User{}, apperr.Invalid("username", "already exists")
		}
	}

	now := m.now().UTC()
	u := User{
		Id:           m.nextId("accounts"),
		Username:     params.Username,
		EmailAddress: params.EmailAddress,
		PasswordHash: params.PasswordHash,
		Role:         params.Role,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	m.accounts[u.Id] = u

	return u, nil
}

func (m *MemoryVetChatRepository) GetAccountById(ctx context.Context, id int) (User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	u, ok := m.accounts[id]
	if !ok {
		return User{}, apperr.NotFound("account")
	}
	u.PasswordHash = ""
	return u, nil
}

func (m *MemoryVetChatRepository) GetAccountByEmail(ctx context.Context, email string) (User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, u := range m.accounts {
		if u.EmailAddress == email {
			return u, nil
		}
	}
	return User{}, apperr.NotFound("account")
}

func (m *MemoryVetChatRepository) CreateMessage(ctx context.Context, params CreateMessageParams) (Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sender, ok := m.accounts[params.SenderId]
	if !ok {
		return Message{}, apperr.Invalid("sender", "references an unknown record")
	}
	recipient, ok := m.accounts[params.RecipientId]
	if !ok {
		return Message{}, apperr.Invalid("recipient", "references an unknown record")
	}
	if params.SenderId == params.RecipientId {
		return Message{}, apperr.Invalid("recipient", "is invalid")
	}
	if strings.TrimSpace(params.Content) == "" {
		return Message{}, apperr.Invalid("content", "is invalid")
	}

	msg := Message{
		Id:            m.nextId("messages"),
		SenderId:      sender.Id,
		RecipientId:   recipient.Id,
		SenderName:    sender.Username,
		RecipientName: recipient.Username,
		Content:       params.Content,
		CreatedAt:     m.timestamp(),
	}
	m.messages = append(m.messages, msg)

	return msg, nil
}

func (m *MemoryVetChatRepository) messageIndex(id int) int {
	return slices.IndexFunc(m.messages, func(msg Message) bool { return msg.Id == id })
}

func (m *MemoryVetChatRepository) GetMessage(ctx context.Context, id int) (Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	i := m.messageIndex(id)
	if i < 0 {
		return Message{}, apperr.NotFound("message")
	}
	return m.messages[i], nil
}

func (m *MemoryVetChatRepository) MarkMessageRead(ctx context.Context, id int) (Message, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	i := m.messageIndex(id)
	if i < 0 {
		return Message{}, false, apperr.NotFound("message")
	}
	if m.messages[i].IsRead {
		return m.messages[i], false, nil
	}

	m.messages[i].IsRead = true
	return m.messages[i], true, nil
}

func (m *MemoryVetChatRepository) ListMessages(ctx context.Context, params ListMessagesParams) ([]Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	res := make([]Message, 0)
	skipped := 0
	for _, msg := range m.messages {
		if msg.SenderId != params.UserId && msg.RecipientId != params.UserId {
			continue
		}
		if !msg.CreatedAt.After(params.Since) {
			continue
		}
		if skipped < params.Offset {
			skipped++
			continue
		}
		res = append(res, msg)
		if params.Limit > 0 && len(res) == params.Limit {
			break
		}
	}

	return res, nil
}

func (m *MemoryVetChatRepository) CountUnreadMessages(ctx context.Context, recipientId int) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	count := 0
	for _, msg := range m.messages {
		if msg.RecipientId == recipientId && !msg.IsRead {
			count++
		}
	}
	return count, nil
}

func (m *MemoryVetChatRepository) MarkMessagesRead(ctx context.Context, recipientId int, ids []int) ([]ReadReceipt, error) {
	return m.markRead(recipientId, func(msg Message) bool { return slices.Contains(ids, msg.Id) }), nil
}

func (m *MemoryVetChatRepository) MarkAllMessagesRead(ctx context.Context, recipientId int) ([]ReadReceipt, error) {
	return m.markRead(recipientId, func(Message) bool { return true }), nil
}

func (m *MemoryVetChatRepository) markRead(recipientId int, match func(Message) bool) []ReadReceipt {
	m.mu.Lock()
	defer m.mu.Unlock()

	receipts := make([]ReadReceipt, 0)
	for i, msg := range m.messages {
		if msg.RecipientId != recipientId || msg.IsRead || !match(msg) {
			continue
		}
		m.messages[i].IsRead = true
		receipts = append(receipts, ReadReceipt{MessageId: msg.Id, SenderId: msg.SenderId})
	}
	return receipts
}

func (m *MemoryVetChatRepository) CreateNotification(ctx context.Context, params CreateNotificationParams) (Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.accounts[params.UserId]; !ok {
		return Notification{}, apperr.Invalid("user_id", "references an unknown record")
	}

	n := Notification{
		Id:        m.nextId("notifications"),
		UserId:    params.UserId,
		Kind:      params.Kind,
		Body:      params.Body,
		CreatedAt: m.timestamp(),
	}
	m.notifications[n.Id] = n

	return n, nil
}

func (m *MemoryVetChatRepository) GetNotification(ctx context.Context, id int) (Notification, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n, ok := m.notifications[id]
	if !ok {
		return Notification{}, apperr.NotFound("notification")
	}
	return n, nil
}

func (m *MemoryVetChatRepository) ListNotifications(ctx context.Context, userId int) ([]Notification, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	res := make([]Notification, 0)
	for _, n := range m.notifications {
		if n.UserId == userId {
			res = append(res, n)
		}
	}

	slices.SortFunc(res, func(a, b Notification) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return b.Id - a.Id
	})

	return res, nil
}

func (m *MemoryVetChatRepository) MarkNotificationRead(ctx context.Context, id int) (Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n, ok := m.notifications[id]
	if !ok {
		return Notification{}, apperr.NotFound("notification")
	}
	n.IsRead = true
	m.notifications[id] = n

	return n, nil
}

func (m *MemoryVetChatRepository) DeleteNotification(ctx context.Context, id int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.notifications[id]; !ok {
		return apperr.NotFound("notification")
	}
	delete(m.notifications, id)

	return nil
}

func (m *MemoryVetChatRepository) CreateConsultation(ctx context.Context, params CreateConsultationParams) (Consultation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c := Consultation{
		Id:        m.nextId("consultations"),
		Name:      params.Name,
		Email:     params.Email,
		Problem:   params.Problem,
		CreatedAt: m.now().UTC(),
	}
	m.consultations = append(m.consultations, c)

	return c, nil
}

func (m *MemoryVetChatRepository) CreateConsultationRequest(ctx context.Context, params CreateConsultationRequestParams) (ConsultationRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	req := ConsultationRequest{
		Id:        m.nextId("consultation_requests"),
		UserName:  params.UserName,
		UserEmail: params.UserEmail,
		Problem:   params.Problem,
		CreatedAt: m.now().UTC(),
	}
	m.requests[req.Id] = req

	return req, nil
}

func (m *MemoryVetChatRepository) GetConsultationRequest(ctx context.Context, id int) (ConsultationRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	req, ok := m.requests[id]
	if !ok {
		return ConsultationRequest{}, apperr.NotFound("consultation request")
	}
	return req, nil
}

func (m *MemoryVetChatRepository) ListConsultationRequests(ctx context.Context, unassignedOnly bool) ([]ConsultationRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	res := make([]ConsultationRequest, 0, len(m.requests))
	for _, req := range m.requests {
		if unassignedOnly && req.VeterinarianId != nil {
			continue
		}
		res = append(res, req)
	}

	slices.SortFunc(res, func(a, b ConsultationRequest) int { return a.Id - b.Id })
	return res, nil
}

func (m *MemoryVetChatRepository) AssignConsultationRequest(ctx context.Context, params AssignConsultationParams) (ConsultationRequest, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	req, ok := m.requests[params.RequestId]
	if !ok {
		return ConsultationRequest{}, false, apperr.NotFound("consultation request")
	}
	vet, ok := m.accounts[params.VeterinarianId]
	if !ok {
		return ConsultationRequest{}, false, apperr.Invalid("veterinarian_id", "references an unknown record")
	}

	if req.VeterinarianId != nil && *req.VeterinarianId == params.VeterinarianId {
		return req, false, nil
	}

	vetId := vet.Id
	now := m.now().UTC()
	req.VeterinarianId = &vetId
	req.VeterinarianName = vet.Username
	req.AssignedAt = &now
	m.requests[req.Id] = req
	m.assignments = append(m.assignments, params)

	return req, true, nil
}

// Assignments returns the audit trail written by AssignConsultationRequest.
func (m *MemoryVetChatRepository) Assignments() []AssignConsultationParams {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.assignments)
}
