package messaging

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/npezzotti/vetchat/internal/database"
	"github.com/npezzotti/vetchat/internal/identity"
	"github.com/npezzotti/vetchat/internal/mailer"
	"github.com/npezzotti/vetchat/internal/server"
	"github.com/npezzotti/vetchat/internal/stats"
	"github.com/npezzotti/vetchat/internal/testutil"
	"github.com/npezzotti/vetchat/internal/types"
	"github.com/stretchr/testify/require"
)

type publishedEvent struct {
	userId int
	event  server.Event
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []publishedEvent
}

func (p *recordingPublisher) PublishToUser(_ context.Context, userId int, ev server.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, publishedEvent{userId: userId, event: ev})
}

func (p *recordingPublisher) all() []publishedEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]publishedEvent(nil), p.events...)
}

func (p *recordingPublisher) reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = nil
}

type fixture struct {
	repo          *database.MemoryVetChatRepository
	pub           *recordingPublisher
	stats         *stats.MockStatsUpdater
	mailer        *mailer.MockMailer
	messages      *MessageService
	notifications *NotificationService
	consultations *ConsultationService

	admin, customer, other, vet, vet2 types.User
}

func newFixture(t *testing.T) *fixture {
	logger := testutil.TestLogger(t)
	repo := database.NewMemoryVetChatRepository()
	pub := &recordingPublisher{}
	su := stats.NewPermissiveMock()
	m := &mailer.MockMailer{}
	dir := identity.NewDirectory(logger, repo, []byte("key"), time.Second)

	f := &fixture{
		repo:   repo,
		pub:    pub,
		stats:  su,
		mailer: m,
	}
	f.messages = NewMessageService(logger, repo, pub, su, time.Second)
	f.notifications = NewNotificationService(logger, repo, pub, su, time.Second)
	f.consultations = NewConsultationService(logger, repo, dir, f.notifications, m, time.Second, time.Second)

	f.admin = f.account(t, "admin", types.RoleAdmin)
	f.customer = f.account(t, "carla", types.RoleCustomer)
	f.other = f.account(t, "oscar", types.RoleCustomer)
	f.vet = f.account(t, "drsmith", types.RoleVeterinarian)
	f.vet2 = f.account(t, "drjones", types.RoleVeterinarian)

	return f
}

func (f *fixture) account(t *testing.T, name string, role types.Role) types.User {
	u, err := f.repo.CreateAccount(context.Background(), database.CreateAccountParams{
		Username:     name,
		EmailAddress: name + "@example.com",
		PasswordHash: "hash",
		Role:         int(role),
	})
	require.NoError(t, err)
	return identity.ToUser(u)
}

func ids(msgs []types.Message) []int {
	res := make([]int, 0, len(msgs))
	for _, m := range msgs {
		res = append(res, m.Id)
	}
	return res
}
