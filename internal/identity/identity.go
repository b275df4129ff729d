// Package identity resolves bearer credentials to users and answers the
// role questions the rest of the application asks.
package identity

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/golang-jwt/jwt"
	"github.com/npezzotti/vetchat/internal/apperr"
	"github.com/npezzotti/vetchat/internal/database"
	"github.com/npezzotti/vetchat/internal/types"
)

const (
	userIdClaim = "user-id"
	expClaim    = "exp"

	DefaultTokenExpiration = 24 * time.Hour
	defaultLookupTimeout   = 3 * time.Second
)

var (
	ErrMissingCredential = errors.New("missing credential")
	ErrInvalidCredential = errors.New("invalid credential")
)

type Directory struct {
	log        *log.Logger
	accounts   database.AccountRepository
	signingKey []byte
	timeout    time.Duration
}

func NewDirectory(logger *log.Logger, accounts database.AccountRepository, signingKey []byte, timeout time.Duration) *Directory {
	if timeout <= 0 {
		timeout = defaultLookupTimeout
	}

	return &Directory{
		log:        logger,
		accounts:   accounts,
		signingKey: signingKey,
		timeout:    timeout,
	}
}

// CreateToken signs a session token for userId.
func (d *Directory) CreateToken(userId int, exp time.Duration) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		userIdClaim: userId,
		expClaim:    time.Now().Add(exp).Unix(),
	})

	return token.SignedString(d.signingKey)
}

func (d *Directory) userIdFromToken(tokenString string) (int, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return d.signingKey, nil
	})
	if err != nil {
		return 0, fmt.Errorf("parse token: %w", err)
	}

	if !token.Valid {
		return 0, fmt.Errorf("invalid token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return 0, fmt.Errorf("invalid token claims")
	}

	userId, ok := claims[userIdClaim].(float64)
	if !ok {
		return 0, fmt.Errorf("invalid user id claim")
	}

	return int(userId), nil
}

// Resolve maps a bearer token to the user it was issued for. An empty
// token yields ErrMissingCredential; a bad signature, an expired token or
// a token for an unknown account yields ErrInvalidCredential.
func (d *Directory) Resolve(ctx context.Context, tokenString string) (types.User, error) {
	if tokenString == "" {
		return types.User{}, ErrMissingCredential
	}

	userId, err := d.userIdFromToken(tokenString)
	if err != nil {
		return types.User{}, fmt.Errorf("%w: %v", ErrInvalidCredential, err)
	}

	user, err := d.Lookup(ctx, userId)
	if errors.Is(err, apperr.ErrNotFound) {
		return types.User{}, fmt.Errorf("%w: account %d no longer exists", ErrInvalidCredential, userId)
	}

	return user, err
}

// Lookup fetches a user by id within the directory's store timeout.
func (d *Directory) Lookup(ctx context.Context, id int) (types.User, error) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	dbUser, err := d.accounts.GetAccountById(ctx, id)
	if err != nil {
		return types.User{}, err
	}

	return ToUser(dbUser), nil
}

func ToUser(u database.User) types.User {
	return types.User{
		Id:           u.Id,
		Username:     u.Username,
		EmailAddress: u.EmailAddress,
		Role:         types.Role(u.Role),
		CreatedAt:    u.CreatedAt,
		UpdatedAt:    u.UpdatedAt,
	}
}

func IsAdmin(u types.User) bool {
	return u.Role == types.RoleAdmin
}

func IsVeterinarian(u types.User) bool {
	return u.Role == types.RoleVeterinarian
}
