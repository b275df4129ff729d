package api

import (
	"net/http"
	"strconv"

	"github.com/npezzotti/vetchat/internal/apperr"
)

type ConsultationRequest struct {
	Name    string `json:"name" validate:"required,max=100"`
	Email   string `json:"email" validate:"required,email"`
	Problem string `json:"problem" validate:"required"`
}

type CreateConsultationRequestRequest struct {
	UserName  string `json:"user_name" validate:"required,max=100"`
	UserEmail string `json:"user_email" validate:"required,email"`
	Problem   string `json:"problem" validate:"required"`
}

func (s *VetChatApp) createConsultation(w http.ResponseWriter, r *http.Request) {
	var req ConsultationRequest
	if err := decodeJson(r, &req, false); err != nil {
		s.writeError(w, err)
		return
	}

	c, err := s.consultations.SubmitConsultation(r.Context(), req.Name, req.Email, req.Problem)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJson(w, http.StatusCreated, c)
}

func (s *VetChatApp) createConsultationRequest(w http.ResponseWriter, r *http.Request) {
	var req CreateConsultationRequestRequest
	if err := decodeJson(r, &req, false); err != nil {
		s.writeError(w, err)
		return
	}

	created, err := s.consultations.SubmitRequest(r.Context(), req.UserName, req.UserEmail, req.Problem)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJson(w, http.StatusCreated, created)
}

func (s *VetChatApp) listConsultationRequests(w http.ResponseWriter, r *http.Request) {
	user, _ := CurrentUser(r.Context())

	var unassigned bool
	if v := r.URL.Query().Get("unassigned"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			s.writeError(w, apperr.Invalid("unassigned", "must be a boolean"))
			return
		}
		unassigned = b
	}

	reqs, err := s.consultations.ListRequests(r.Context(), user, unassigned)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJson(w, http.StatusOK, reqs)
}
