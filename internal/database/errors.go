package database

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"

	"github.com/lib/pq"
	"github.com/npezzotti/vetchat/internal/apperr"
)

const (
	pqForeignKeyViolation = "23503"
	pqUniqueViolation     = "23505"
	pqCheckViolation      = "23514"
	pqNotNullViolation    = "23502"
)

// constraintFields maps schema constraint names to the API field a client
// has to fix.
var constraintFields = map[string]string{
	"messages_sender_id_fkey":                       "sender",
	"messages_recipient_id_fkey":                    "recipient",
	"messages_content_check":                        "content",
	"messages_distinct_parties_check":               "recipient",
	"accounts_username_key":                         "username",
	"accounts_email_key":                            "email",
	"accounts_role_check":                           "role",
	"notifications_user_id_fkey":                    "user_id",
	"consultation_requests_veterinarian_id_fkey":    "veterinarian_id",
	"consultation_assignments_veterinarian_id_fkey": "veterinarian_id",
}

func fieldForConstraint(pqErr *pq.Error) string {
	if f, ok := constraintFields[pqErr.Constraint]; ok {
		return f
	}
	if pqErr.Column != "" {
		return pqErr.Column
	}
	return "request"
}

// translateError maps driver errors onto the apperr taxonomy so that no
// driver type escapes this package.
func translateError(err error, object string) error {
	if err == nil {
		return nil
	}

	switch {
	case errors.Is(err, sql.ErrNoRows):
		return apperr.NotFound(object)
	case errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled),
		errors.Is(err, driver.ErrBadConn),
		errors.Is(err, sql.ErrConnDone):
		return apperr.Unavailable(err)
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case pqForeignKeyViolation:
			return apperr.Invalid(fieldForConstraint(pqErr), "references an unknown record")
		case pqUniqueViolation:
			return apperr.Invalid(fieldForConstraint(pqErr), "already exists")
		case pqCheckViolation:
			return apperr.Invalid(fieldForConstraint(pqErr), "is invalid")
		case pqNotNullViolation:
			return apperr.Invalid(fieldForConstraint(pqErr), "is required")
		}

		// class 08 is connection exception, 57 is operator intervention
		if class := pqErr.Code.Class(); class == "08" || class == "57" {
			return apperr.Unavailable(err)
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return apperr.Unavailable(err)
	}

	return fmt.Errorf("%s: %v", object, err)
}
