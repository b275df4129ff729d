package api

import (
	"net/http"

	"github.com/npezzotti/vetchat/internal/types"
)

type CreateNotificationRequest struct {
	UserId int    `json:"user_id" validate:"required,gt=0"`
	Kind   string `json:"kind" validate:"required,oneof=order message consultation system"`
	Body   string `json:"body" validate:"required"`
}

// OrderStatusRequest is sent by the order subsystem whenever an order or
// its payment changes state.
type OrderStatusRequest struct {
	UserId int    `json:"user_id" validate:"required,gt=0"`
	Status string `json:"status" validate:"required,max=50"`
}

func (s *VetChatApp) listNotifications(w http.ResponseWriter, r *http.Request) {
	user, _ := CurrentUser(r.Context())

	ns, err := s.notifications.ListForUser(r.Context(), user.Id)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJson(w, http.StatusOK, ns)
}

func (s *VetChatApp) createNotification(w http.ResponseWriter, r *http.Request) {
	var req CreateNotificationRequest
	if err := decodeJson(r, &req, false); err != nil {
		s.writeError(w, err)
		return
	}

	n, err := s.notifications.Create(r.Context(), req.UserId, types.NotificationKind(req.Kind), req.Body)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJson(w, http.StatusCreated, n)
}

func (s *VetChatApp) readNotification(w http.ResponseWriter, r *http.Request) {
	user, _ := CurrentUser(r.Context())

	id, err := pathId(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	n, err := s.notifications.MarkRead(r.Context(), id, user.Id)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJson(w, http.StatusOK, n)
}

func (s *VetChatApp) deleteNotification(w http.ResponseWriter, r *http.Request) {
	user, _ := CurrentUser(r.Context())

	id, err := pathId(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	if err := s.notifications.Delete(r.Context(), id, user.Id); err != nil {
		s.writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *VetChatApp) notifyOrderStatus(w http.ResponseWriter, r *http.Request) {
	orderId, err := pathId(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	var req OrderStatusRequest
	if err := decodeJson(r, &req, false); err != nil {
		s.writeError(w, err)
		return
	}

	n, err := s.notifications.OrderStatusChanged(r.Context(), req.UserId, orderId, req.Status)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJson(w, http.StatusCreated, n)
}
