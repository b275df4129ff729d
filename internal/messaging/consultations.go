package messaging

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/npezzotti/vetchat/internal/apperr"
	"github.com/npezzotti/vetchat/internal/database"
	"github.com/npezzotti/vetchat/internal/identity"
	"github.com/npezzotti/vetchat/internal/mailer"
	"github.com/npezzotti/vetchat/internal/types"
)

const DefaultMailTimeout = 10 * time.Second

type ConsultationService struct {
	log           *log.Logger
	repo          database.ConsultationRepository
	users         UserLookup
	notifications *NotificationService
	mailer        mailer.Mailer
	timeout       time.Duration
	mailTimeout   time.Duration
	pending       sync.WaitGroup
}

func NewConsultationService(logger *log.Logger, repo database.ConsultationRepository, users UserLookup, notifications *NotificationService, m mailer.Mailer, timeout, mailTimeout time.Duration) *ConsultationService {
	if mailTimeout <= 0 {
		mailTimeout = DefaultMailTimeout
	}

	return &ConsultationService{
		log:           logger,
		repo:          repo,
		users:         users,
		notifications: notifications,
		mailer:        m,
		timeout:       storeTimeout(timeout),
		mailTimeout:   mailTimeout,
	}
}

func required(fields ...[2]string) error {
	var missing []apperr.FieldError
	for _, f := range fields {
		if strings.TrimSpace(f[1]) == "" {
			missing = append(missing, apperr.FieldError{Field: f[0], Reason: "is required"})
		}
	}
	if len(missing) > 0 {
		return &apperr.ValidationError{Fields: missing}
	}
	return nil
}

// SubmitConsultation stores an intake form. Forms are never modified.
func (s *ConsultationService) SubmitConsultation(ctx context.Context, name, email, problem string) (types.Consultation, error) {
	if err := required([2]string{"name", name}, [2]string{"email", email}, [2]string{"problem", problem}); err != nil {
		return types.Consultation{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	c, err := s.repo.CreateConsultation(ctx, database.CreateConsultationParams{
		Name:    name,
		Email:   email,
		Problem: problem,
	})
	if err != nil {
		return types.Consultation{}, err
	}
	return toConsultation(c), nil
}

// SubmitRequest stores an anonymous request waiting for a veterinarian.
func (s *ConsultationService) SubmitRequest(ctx context.Context, userName, userEmail, problem string) (types.ConsultationRequest, error) {
	if err := required([2]string{"user_name", userName}, [2]string{"user_email", userEmail}, [2]string{"problem", problem}); err != nil {
		return types.ConsultationRequest{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	req, err := s.repo.CreateConsultationRequest(ctx, database.CreateConsultationRequestParams{
		UserName:  userName,
		UserEmail: userEmail,
		Problem:   problem,
	})
	if err != nil {
		return types.ConsultationRequest{}, err
	}
	return toConsultationRequest(req), nil
}

func (s *ConsultationService) GetRequest(ctx context.Context, id int) (types.ConsultationRequest, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	req, err := s.repo.GetConsultationRequest(ctx, id)
	if err != nil {
		return types.ConsultationRequest{}, err
	}
	return toConsultationRequest(req), nil
}

func (s *ConsultationService) ListRequests(ctx context.Context, actor types.User, unassignedOnly bool) ([]types.ConsultationRequest, error) {
	if !identity.IsAdmin(actor) {
		return nil, apperr.ErrForbidden
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	reqs, err := s.repo.ListConsultationRequests(ctx, unassignedOnly)
	if err != nil {
		return nil, err
	}

	res := make([]types.ConsultationRequest, 0, len(reqs))
	for _, r := range reqs {
		res = append(res, toConsultationRequest(r))
	}
	return res, nil
}

// Assign routes a request to a veterinarian. Admins may reassign; every
// change is audited. Assigning the veterinarian already assigned changes
// nothing and sends nothing. The requester email and the veterinarian's
// notification are best effort and never undo the assignment.
func (s *ConsultationService) Assign(ctx context.Context, requestId, vetId int, actor types.User) (types.ConsultationRequest, error) {
	if !identity.IsAdmin(actor) {
		return types.ConsultationRequest{}, apperr.ErrForbidden
	}
	if vetId <= 0 {
		return types.ConsultationRequest{}, apperr.Invalid("veterinarian_id", "is required")
	}

	if _, err := s.GetRequest(ctx, requestId); err != nil {
		return types.ConsultationRequest{}, err
	}

	vet, err := s.users.Lookup(ctx, vetId)
	if errors.Is(err, apperr.ErrNotFound) || (err == nil && !identity.IsVeterinarian(vet)) {
		return types.ConsultationRequest{}, apperr.NotFound("veterinarian")
	}
	if err != nil {
		return types.ConsultationRequest{}, err
	}

	sctx, cancel := context.WithTimeout(ctx, s.timeout)
	dbReq, changed, err := s.repo.AssignConsultationRequest(sctx, database.AssignConsultationParams{
		RequestId:      requestId,
		VeterinarianId: vet.Id,
		AssignedBy:     actor.Id,
	})
	cancel()
	if err != nil {
		return types.ConsultationRequest{}, err
	}

	req := toConsultationRequest(dbReq)
	if !changed {
		return req, nil
	}

	s.log.Printf("consultation request %d assigned to veterinarian %d by %d", req.Id, vet.Id, actor.Id)

	body := fmt.Sprintf("You have been assigned consultation request #%d: %s", req.Id, req.Problem)
	if _, err := s.notifications.Create(ctx, vet.Id, types.KindConsultation, body); err != nil {
		s.log.Printf("notify veterinarian %d of request %d: %v", vet.Id, req.Id, err)
	}

	s.sendAssignmentMail(req, vet)

	return req, nil
}

func (s *ConsultationService) sendAssignmentMail(req types.ConsultationRequest, vet types.User) {
	mail := mailer.Mail{
		To:      req.UserEmail,
		Subject: fmt.Sprintf("Consultation Update: %s", strings.Join(strings.Fields(req.Problem), " ")),
		Body: fmt.Sprintf("Dear %s,\n\nYour consultation request for the problem '%s' has been assigned to Dr. %s.",
			req.UserName, req.Problem, vet.Username),
	}

	s.pending.Add(1)
	go func() {
		defer s.pending.Done()

		ctx, cancel := context.WithTimeout(context.Background(), s.mailTimeout)
		defer cancel()

		if err := s.mailer.Send(ctx, mail); err != nil {
			s.log.Printf("assignment mail for request %d: %v", req.Id, err)
		}
	}()
}

// Wait blocks until every in-flight assignment email has finished.
func (s *ConsultationService) Wait() {
	s.pending.Wait()
}
