package mailer

import (
	"context"

	"github.com/stretchr/testify/mock"
)

type MockMailer struct {
	mock.Mock
}

func (m *MockMailer) Send(ctx context.Context, mail Mail) error {
	args := m.Called(ctx, mail)
	return args.Error(0)
}
