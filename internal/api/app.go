package api

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/npezzotti/vetchat/internal/config"
	"github.com/npezzotti/vetchat/internal/database"
	"github.com/npezzotti/vetchat/internal/identity"
	"github.com/npezzotti/vetchat/internal/messaging"
	"github.com/npezzotti/vetchat/internal/server"
)

// Services bundles the domain services the REST surface calls into.
type Services struct {
	Identity      *identity.Directory
	Messages      *messaging.MessageService
	Notifications *messaging.NotificationService
	Consultations *messaging.ConsultationService
}

type VetChatApp struct {
	log           *log.Logger
	db            database.VetChatRepository
	srv           *http.Server
	cs            *server.ChatServer
	identity      *identity.Directory
	messages      *messaging.MessageService
	notifications *messaging.NotificationService
	consultations *messaging.ConsultationService
	storeTimeout  time.Duration
}

func NewVetChatApp(mux *http.ServeMux, logger *log.Logger, cs *server.ChatServer, db database.VetChatRepository, svc Services, cfg *config.Config) *VetChatApp {
	s := &VetChatApp{
		log:           logger,
		db:            db,
		cs:            cs,
		identity:      svc.Identity,
		messages:      svc.Messages,
		notifications: svc.Notifications,
		consultations: svc.Consultations,
		storeTimeout:  cfg.StoreTimeout,
	}
	if s.storeTimeout <= 0 {
		s.storeTimeout = messaging.DefaultStoreTimeout
	}

	mux.HandleFunc("GET /healthz", s.healthCheck)

	mux.HandleFunc("POST /api/auth/register", s.createAccount)
	mux.HandleFunc("POST /api/auth/login", s.login)
	mux.HandleFunc("GET /api/auth/session", s.authMiddleware(s.session))
	mux.HandleFunc("POST /api/auth/logout", s.logout)

	mux.HandleFunc("GET /api/messages", s.authMiddleware(s.listMessages))
	mux.HandleFunc("POST /api/messages", s.authMiddleware(s.sendMessage))
	mux.HandleFunc("GET /api/messages/{id}", s.authMiddleware(s.getMessage))
	mux.HandleFunc("PATCH /api/messages/{id}", s.authMiddleware(s.updateMessage))
	mux.HandleFunc("GET /api/messages/unread/count", s.authMiddleware(s.unreadCount))
	mux.HandleFunc("POST /api/messages/mark-read", s.authMiddleware(s.markAllRead))
	mux.HandleFunc("GET /api/messages/polling", s.authMiddleware(s.pollMessages))
	mux.HandleFunc("GET /api/messages/{id}/assign", s.authMiddleware(s.getAssignment))
	mux.HandleFunc("PATCH /api/messages/{id}/assign", s.adminOnly(s.assignVeterinarian))

	mux.HandleFunc("POST /api/consultations", s.createConsultation)
	mux.HandleFunc("POST /api/consultations/requests", s.createConsultationRequest)
	mux.HandleFunc("GET /api/consultations/requests", s.adminOnly(s.listConsultationRequests))

	mux.HandleFunc("GET /api/notifications", s.authMiddleware(s.listNotifications))
	mux.HandleFunc("POST /api/notifications", s.adminOnly(s.createNotification))
	mux.HandleFunc("POST /api/notifications/{id}/read", s.authMiddleware(s.readNotification))
	mux.HandleFunc("DELETE /api/notifications/{id}", s.authMiddleware(s.deleteNotification))
	mux.HandleFunc("POST /api/orders/{id}/notify", s.adminOnly(s.notifyOrderStatus))

	// the live channel authenticates during the handshake itself
	mux.HandleFunc("GET /ws/messages", cs.ServeMessages)
	mux.HandleFunc("GET /ws/chat/{room}", cs.ServeRoom)
	mux.HandleFunc("GET /ws/test", cs.ServeEcho)

	h := handlers.CORS(
		handlers.MaxAge(3600),
		handlers.AllowedOrigins(cfg.AllowedOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Origin", "Content-Type", "Accept", "Authorization"}),
		handlers.AllowCredentials(),
	)(mux)

	h = handlers.CombinedLoggingHandler(logger.Writer(), h)
	h = s.errorHandler(h)

	s.srv = &http.Server{
		Addr:              cfg.ServerAddr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s
}

// Handler returns the fully wrapped handler, for tests and embedding.
func (s *VetChatApp) Handler() http.Handler {
	return s.srv.Handler
}

func (s *VetChatApp) Start() error {
	s.log.Printf("starting server on %s\n", s.srv.Addr)
	return s.srv.ListenAndServe()
}

func (s *VetChatApp) Shutdown(ctx context.Context) error {
	s.log.Println("shutting down HTTP server...")
	if err := s.srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	return nil
}
