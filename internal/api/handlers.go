package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/npezzotti/vetchat/internal/apperr"
	"github.com/npezzotti/vetchat/internal/identity"
	"github.com/npezzotti/vetchat/internal/messaging"
	"github.com/npezzotti/vetchat/internal/server"
	"github.com/npezzotti/vetchat/internal/types"
)

// defaultPollWindow is how far back polling looks when the client sends no
// usable cursor.
const defaultPollWindow = 10 * time.Minute

type SendMessageRequest struct {
	Recipient int    `json:"recipient" validate:"required,gt=0"`
	Content   string `json:"content" validate:"required"`
}

type UpdateMessageRequest struct {
	IsRead *bool `json:"is_read"`
}

type MarkReadRequest struct {
	MessageIds *[]int `json:"message_ids"`
}

type MarkReadResponse struct {
	Message      string `json:"message"`
	UpdatedCount int    `json:"updated_count"`
}

type UnreadCountResponse struct {
	UnreadCount int `json:"unread_count"`
}

type AssignRequest struct {
	VeterinarianId int `json:"veterinarian_id" validate:"required,gt=0"`
}

func (s *VetChatApp) writeJson(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if v == nil {
		return
	}

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Printf("json encode: %v", err)
	}
}

func (s *VetChatApp) writeError(w http.ResponseWriter, err error) {
	errResp := errorFor(err)
	if errResp.StatusCode >= http.StatusInternalServerError {
		s.log.Printf("request failed: %v", err)
	}
	s.writeJson(w, errResp.StatusCode, errResp)
}

func pathId(r *http.Request) (int, error) {
	id, err := strconv.Atoi(r.PathValue("id"))
	if err != nil || id <= 0 {
		return 0, apperr.Invalid("id", "must be a positive integer")
	}
	return id, nil
}

func queryInt(r *http.Request, name string) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return 0, nil
	}

	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, apperr.Invalid(name, "must be an integer")
	}
	return n, nil
}

func (s *VetChatApp) healthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.storeTimeout)
	defer cancel()

	if err := s.db.Ping(ctx); err != nil {
		s.log.Printf("health check: %v", err)
		errResp := NewServiceUnavailableError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (s *VetChatApp) listMessages(w http.ResponseWriter, r *http.Request) {
	user, _ := CurrentUser(r.Context())

	limit, err := queryInt(r, "limit")
	if err != nil {
		s.writeError(w, err)
		return
	}
	offset, err := queryInt(r, "offset")
	if err != nil {
		s.writeError(w, err)
		return
	}

	msgs, err := s.messages.ListForUser(r.Context(), user.Id, messaging.Page{Limit: limit, Offset: offset})
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJson(w, http.StatusOK, msgs)
}

func (s *VetChatApp) sendMessage(w http.ResponseWriter, r *http.Request) {
	user, _ := CurrentUser(r.Context())

	var req SendMessageRequest
	if err := decodeJson(r, &req, false); err != nil {
		s.writeError(w, err)
		return
	}

	msg, err := s.messages.Send(r.Context(), user.Id, req.Recipient, req.Content)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJson(w, http.StatusCreated, msg)
}

func (s *VetChatApp) getMessage(w http.ResponseWriter, r *http.Request) {
	user, _ := CurrentUser(r.Context())

	id, err := pathId(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	msg, err := s.messages.Get(r.Context(), id, user.Id)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJson(w, http.StatusOK, msg)
}

// updateMessage only supports flipping is_read to true. An empty body is
// treated as a request to mark the message read.
func (s *VetChatApp) updateMessage(w http.ResponseWriter, r *http.Request) {
	user, _ := CurrentUser(r.Context())

	id, err := pathId(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	var req UpdateMessageRequest
	if err := decodeJson(r, &req, true); err != nil {
		s.writeError(w, err)
		return
	}
	if req.IsRead != nil && !*req.IsRead {
		s.writeError(w, apperr.Invalid("is_read", "cannot be reset to false"))
		return
	}

	msg, err := s.messages.MarkRead(r.Context(), id, user.Id)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJson(w, http.StatusOK, msg)
}

func (s *VetChatApp) unreadCount(w http.ResponseWriter, r *http.Request) {
	user, _ := CurrentUser(r.Context())

	n, err := s.messages.UnreadCount(r.Context(), user.Id)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJson(w, http.StatusOK, UnreadCountResponse{UnreadCount: n})
}

func (s *VetChatApp) markAllRead(w http.ResponseWriter, r *http.Request) {
	user, _ := CurrentUser(r.Context())

	var req MarkReadRequest
	if err := decodeJson(r, &req, true); err != nil {
		s.writeError(w, err)
		return
	}

	n, err := s.messages.MarkAllRead(r.Context(), user.Id, req.MessageIds)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJson(w, http.StatusOK, MarkReadResponse{
		Message:      fmt.Sprintf("Marked %d messages as read", n),
		UpdatedCount: n,
	})
}

// pollSince parses the since cursor in epoch milliseconds. Missing, invalid
// or negative values fall back to the default window.
func pollSince(r *http.Request, now time.Time) time.Time {
	ms, err := strconv.ParseInt(r.URL.Query().Get("since"), 10, 64)
	if err != nil || ms < 0 {
		return now.Add(-defaultPollWindow)
	}
	return time.UnixMilli(ms)
}

func (s *VetChatApp) pollMessages(w http.ResponseWriter, r *http.Request) {
	user, _ := CurrentUser(r.Context())

	msgs, err := s.messages.ListSince(r.Context(), user.Id, pollSince(r, server.Now()))
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJson(w, http.StatusOK, msgs)
}

// getAssignment shows a consultation request to admins and to the
// veterinarian it is assigned to.
func (s *VetChatApp) getAssignment(w http.ResponseWriter, r *http.Request) {
	user, _ := CurrentUser(r.Context())

	id, err := pathId(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	req, err := s.consultations.GetRequest(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}

	if !identity.IsAdmin(user) && !assignedTo(req, user) {
		s.writeError(w, apperr.ErrForbidden)
		return
	}

	s.writeJson(w, http.StatusOK, req)
}

func assignedTo(req types.ConsultationRequest, user types.User) bool {
	return req.VeterinarianId != nil && *req.VeterinarianId == user.Id
}

func (s *VetChatApp) assignVeterinarian(w http.ResponseWriter, r *http.Request) {
	user, _ := CurrentUser(r.Context())

	id, err := pathId(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	var req AssignRequest
	if err := decodeJson(r, &req, false); err != nil {
		s.writeError(w, err)
		return
	}

	assigned, err := s.consultations.Assign(r.Context(), id, req.VeterinarianId, user)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJson(w, http.StatusOK, assigned)
}
