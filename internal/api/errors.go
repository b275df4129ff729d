package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/npezzotti/vetchat/internal/apperr"
	"github.com/npezzotti/vetchat/internal/identity"
)

type ApiError struct {
	StatusCode int                 `json:"status_code"`
	Message    string              `json:"message"`
	Fields     []apperr.FieldError `json:"fields,omitempty"`
	Err        error               `json:"-"`
}

func (e *ApiError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s", e.Message, e.Err.Error())
	}

	return e.Message
}

func (e *ApiError) Unwrap() error {
	return e.Err
}

func lower(s string) string {
	return strings.ToLower(s)
}

func NewBadRequestError() *ApiError {
	return &ApiError{
		StatusCode: http.StatusBadRequest,
		Message:    lower(http.StatusText(http.StatusBadRequest)),
	}
}

func NewValidationError(err error) *ApiError {
	return &ApiError{
		StatusCode: http.StatusBadRequest,
		Message:    apperr.ErrValidation.Error(),
		Fields:     apperr.Fields(err),
		Err:        err,
	}
}

func NewNotFoundError() *ApiError {
	return &ApiError{
		StatusCode: http.StatusNotFound,
		Message:    lower(http.StatusText(http.StatusNotFound)),
	}
}

func NewInternalServerError(err error) *ApiError {
	return &ApiError{
		StatusCode: http.StatusInternalServerError,
		Message:    lower(http.StatusText(http.StatusInternalServerError)),
		Err:        err,
	}
}

func NewUnauthorizedError() *ApiError {
	return &ApiError{
		StatusCode: http.StatusUnauthorized,
		Message:    lower(http.StatusText(http.StatusUnauthorized)),
	}
}

func NewForbiddenError() *ApiError {
	return &ApiError{
		StatusCode: http.StatusForbidden,
		Message:    lower(http.StatusText(http.StatusForbidden)),
	}
}

func NewServiceUnavailableError(err error) *ApiError {
	return &ApiError{
		StatusCode: http.StatusServiceUnavailable,
		Message:    lower(http.StatusText(http.StatusServiceUnavailable)),
		Err:        err,
	}
}

// errorFor maps the apperr taxonomy onto a response. Anything outside the
// taxonomy is a 500 whose cause is only logged.
func errorFor(err error) *ApiError {
	var apiErr *ApiError
	switch {
	case errors.As(err, &apiErr):
		return apiErr
	case errors.Is(err, apperr.ErrValidation):
		return NewValidationError(err)
	case errors.Is(err, identity.ErrMissingCredential), errors.Is(err, identity.ErrInvalidCredential):
		return NewUnauthorizedError()
	case errors.Is(err, apperr.ErrForbidden):
		return NewForbiddenError()
	case errors.Is(err, apperr.ErrNotFound):
		e := NewNotFoundError()
		e.Message = err.Error()
		return e
	case errors.Is(err, apperr.ErrUnavailable):
		return NewServiceUnavailableError(err)
	default:
		return NewInternalServerError(err)
	}
}
