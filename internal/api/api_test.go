package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/npezzotti/vetchat/internal/config"
	"github.com/npezzotti/vetchat/internal/database"
	"github.com/npezzotti/vetchat/internal/identity"
	"github.com/npezzotti/vetchat/internal/mailer"
	"github.com/npezzotti/vetchat/internal/messaging"
	"github.com/npezzotti/vetchat/internal/server"
	"github.com/npezzotti/vetchat/internal/stats"
	"github.com/npezzotti/vetchat/internal/testutil"
	"github.com/npezzotti/vetchat/internal/types"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

// lockedBuffer collects log output written from handler goroutines.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type testApp struct {
	app    *VetChatApp
	repo   *database.MemoryVetChatRepository
	dir    *identity.Directory
	mailer *mailer.MockMailer
	logs   *lockedBuffer

	admin, customer, other, vet types.User
}

func newTestApp(t *testing.T) *testApp {
	logs := &lockedBuffer{}
	logger := testutil.TestLogger(t)
	logger.SetOutput(logs)

	repo := database.NewMemoryVetChatRepository()
	su := stats.NewPermissiveMock()
	registry := server.NewRegistry(logger, su)
	dispatcher := server.NewDispatcher(logger, registry)
	dir := identity.NewDirectory(logger, repo, []byte("test-signing-key"), time.Second)
	m := &mailer.MockMailer{}

	messages := messaging.NewMessageService(logger, repo, dispatcher, su, time.Second)
	notifications := messaging.NewNotificationService(logger, repo, dispatcher, su, time.Second)
	consultations := messaging.NewConsultationService(logger, repo, dir, notifications, m, time.Second, time.Second)

	cs := server.NewChatServer(logger, registry, dir, messages, su, nil)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		cs.Shutdown(ctx)
	})

	app := NewVetChatApp(http.NewServeMux(), logger, cs, repo, Services{
		Identity:      dir,
		Messages:      messages,
		Notifications: notifications,
		Consultations: consultations,
	}, &config.Config{
		ServerAddr:   "localhost:0",
		StoreTimeout: time.Second,
	})

	ta := &testApp{
		app:    app,
		repo:   repo,
		dir:    dir,
		mailer: m,
		logs:   logs,
	}
	ta.admin = ta.account(t, "admin", types.RoleAdmin)
	ta.customer = ta.account(t, "carla", types.RoleCustomer)
	ta.other = ta.account(t, "oscar", types.RoleCustomer)
	ta.vet = ta.account(t, "drsmith", types.RoleVeterinarian)

	return ta
}

func (ta *testApp) account(t *testing.T, name string, role types.Role) types.User {
	pwdHash, err := bcrypt.GenerateFromPassword([]byte("password123"), bcrypt.MinCost)
	require.NoError(t, err)

	u, err := ta.repo.CreateAccount(context.Background(), database.CreateAccountParams{
		Username:     name,
		EmailAddress: name + "@example.com",
		PasswordHash: string(pwdHash),
		Role:         int(role),
	})
	require.NoError(t, err)
	return identity.ToUser(u)
}

func (ta *testApp) token(t *testing.T, u types.User) string {
	token, err := ta.dir.CreateToken(u.Id, time.Hour)
	require.NoError(t, err)
	return token
}

// do sends a request through the fully wrapped handler. A string body is
// sent verbatim; anything else is encoded as JSON.
func (ta *testApp) do(t *testing.T, method, path string, as *types.User, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		require.NoError(t, json.NewEncoder(&buf).Encode(b))
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if as != nil {
		req.Header.Set("Authorization", "Bearer "+ta.token(t, *as))
	}

	rr := httptest.NewRecorder()
	ta.app.Handler().ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	var v T
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&v), "body: %s", rr.Body.String())
	return v
}

// findCookie returns the named cookie from the response, or nil.
func findCookie(rr *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, cookie := range rr.Result().Cookies() {
		if cookie.Name == name {
			return cookie
		}
	}
	return nil
}
