package messaging

import (
	"context"
	"errors"
	"testing"

	"github.com/npezzotti/vetchat/internal/apperr"
	"github.com/npezzotti/vetchat/internal/mailer"
	"github.com/npezzotti/vetchat/internal/server"
	"github.com/npezzotti/vetchat/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestSubmitConsultation(t *testing.T) {
	f := newFixture(t)

	_, err := f.consultations.SubmitConsultation(context.Background(), "", "ann@example.com", "")
	require.ErrorIs(t, err, apperr.ErrValidation)
	assert.Equal(t, []apperr.FieldError{
		{Field: "name", Reason: "is required"},
		{Field: "problem", Reason: "is required"},
	}, apperr.Fields(err))

	c, err := f.consultations.SubmitConsultation(context.Background(), "Ann", "ann@example.com", "limping cat")
	require.NoError(t, err)
	assert.NotZero(t, c.Id)
	assert.Equal(t, "limping cat", c.Problem)
}

func TestSubmitAndListRequests(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.consultations.SubmitRequest(ctx, "Ann", "", "cough")
	assert.ErrorIs(t, err, apperr.ErrValidation)

	req, err := f.consultations.SubmitRequest(ctx, "Ann", "ann@example.com", "cough")
	require.NoError(t, err)
	assert.Nil(t, req.VeterinarianId)

	got, err := f.consultations.GetRequest(ctx, req.Id)
	require.NoError(t, err)
	assert.Equal(t, req, got)

	_, err = f.consultations.ListRequests(ctx, f.customer, true)
	assert.ErrorIs(t, err, apperr.ErrForbidden)

	list, err := f.consultations.ListRequests(ctx, f.admin, true)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestAssign_Errors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req, err := f.consultations.SubmitRequest(ctx, "Ann", "ann@example.com", "cough")
	require.NoError(t, err)

	tcases := []struct {
		name    string
		request int
		vet     int
		actor   types.User
		err     error
	}{
		{name: "not an admin", request: req.Id, vet: f.vet.Id, actor: f.customer, err: apperr.ErrForbidden},
		{name: "unknown request", request: 999, vet: f.vet.Id, actor: f.admin, err: apperr.ErrNotFound},
		{name: "unknown veterinarian", request: req.Id, vet: 999, actor: f.admin, err: apperr.ErrNotFound},
		{name: "user is not a veterinarian", request: req.Id, vet: f.customer.Id, actor: f.admin, err: apperr.ErrNotFound},
		{name: "missing veterinarian", request: req.Id, vet: 0, actor: f.admin, err: apperr.ErrValidation},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.consultations.Assign(ctx, tc.request, tc.vet, tc.actor)
			assert.ErrorIs(t, err, tc.err)
		})
	}

	f.consultations.Wait()
	f.mailer.AssertNotCalled(t, "Send", mock.Anything, mock.Anything)
	assert.Empty(t, f.repo.Assignments())
}

func TestAssign(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req, err := f.consultations.SubmitRequest(ctx, "Ann", "ann@example.com", "cough")
	require.NoError(t, err)

	f.mailer.On("Send", mock.Anything, mailer.Mail{
		To:      "ann@example.com",
		Subject: "Consultation Update: cough",
		Body:    "Dear Ann,\n\nYour consultation request for the problem 'cough' has been assigned to Dr. drsmith.",
	}).Return(nil).Once()

	assigned, err := f.consultations.Assign(ctx, req.Id, f.vet.Id, f.admin)
	require.NoError(t, err)
	require.NotNil(t, assigned.VeterinarianId)
	assert.Equal(t, f.vet.Id, *assigned.VeterinarianId)
	assert.Equal(t, "drsmith", assigned.VeterinarianName)

	f.consultations.Wait()
	f.mailer.AssertExpectations(t)

	events := f.pub.all()
	require.Len(t, events, 1)
	assert.Equal(t, f.vet.Id, events[0].userId)
	notification := events[0].event.(server.NewNotification).Notification
	assert.Equal(t, types.KindConsultation, notification.Kind)

	// same veterinarian again: no audit row, no mail, no notification
	again, err := f.consultations.Assign(ctx, req.Id, f.vet.Id, f.admin)
	require.NoError(t, err)
	assert.Equal(t, f.vet.Id, *again.VeterinarianId)
	f.consultations.Wait()
	f.mailer.AssertNumberOfCalls(t, "Send", 1)
	assert.Len(t, f.pub.all(), 1)
	assert.Len(t, f.repo.Assignments(), 1)

	// reassignment is audited and mailed
	f.mailer.On("Send", mock.Anything, mock.MatchedBy(func(m mailer.Mail) bool {
		return m.To == "ann@example.com"
	})).Return(nil).Once()

	moved, err := f.consultations.Assign(ctx, req.Id, f.vet2.Id, f.admin)
	require.NoError(t, err)
	assert.Equal(t, f.vet2.Id, *moved.VeterinarianId)
	f.consultations.Wait()
	f.mailer.AssertNumberOfCalls(t, "Send", 2)
	assert.Len(t, f.repo.Assignments(), 2)

	unassigned, err := f.consultations.ListRequests(ctx, f.admin, true)
	require.NoError(t, err)
	assert.Empty(t, unassigned)
}

func TestAssign_MailFailureKeepsAssignment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req, err := f.consultations.SubmitRequest(ctx, "Ann", "ann@example.com", "cough")
	require.NoError(t, err)

	f.mailer.On("Send", mock.Anything, mock.Anything).Return(errors.New("smtp down")).Once()

	assigned, err := f.consultations.Assign(ctx, req.Id, f.vet.Id, f.admin)
	require.NoError(t, err)
	f.consultations.Wait()
	f.mailer.AssertExpectations(t)

	stored, err := f.consultations.GetRequest(ctx, req.Id)
	require.NoError(t, err)
	assert.Equal(t, assigned.VeterinarianId, stored.VeterinarianId)
}

func TestAssign_MailHasDeadline(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req, err := f.consultations.SubmitRequest(ctx, "Ann", "ann@example.com", "cough")
	require.NoError(t, err)

	f.mailer.On("Send", mock.MatchedBy(func(ctx context.Context) bool {
		_, ok := ctx.Deadline()
		return ok
	}), mock.Anything).Return(nil).Once()

	_, err = f.consultations.Assign(ctx, req.Id, f.vet.Id, f.admin)
	require.NoError(t, err)
	f.consultations.Wait()
	f.mailer.AssertExpectations(t)
}
