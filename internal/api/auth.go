package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/npezzotti/vetchat/internal/apperr"
	"github.com/npezzotti/vetchat/internal/database"
	"github.com/npezzotti/vetchat/internal/identity"
	"github.com/npezzotti/vetchat/internal/types"
	"golang.org/x/crypto/bcrypt"
)

const tokenCookieKey = "token"

type contextKey string

const userKey contextKey = "user"

func WithUser(ctx context.Context, user types.User) context.Context {
	return context.WithValue(ctx, userKey, user)
}

func CurrentUser(ctx context.Context) (types.User, bool) {
	user, ok := ctx.Value(userKey).(types.User)
	return user, ok
}

type RegisterRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Username string `json:"username" validate:"required,min=3,max=150"`
	Password string `json:"password" validate:"required,min=8,max=72"`
	// admins are provisioned out of band
	Role string `json:"role" validate:"omitempty,oneof=customer veterinarian"`
}

type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type LoginResponse struct {
	Token string     `json:"token"`
	User  types.User `json:"user"`
}

func (s *VetChatApp) createAccount(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := decodeJson(r, &req, false); err != nil {
		s.writeError(w, err)
		return
	}

	role := types.RoleCustomer
	if req.Role != "" {
		if err := role.UnmarshalText([]byte(req.Role)); err != nil {
			s.writeError(w, apperr.Invalid("role", "is invalid"))
			return
		}
	}

	pwdHash, err := hashPassword(req.Password)
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.storeTimeout)
	defer cancel()

	newUser, err := s.db.CreateAccount(ctx, database.CreateAccountParams{
		Username:     req.Username,
		EmailAddress: req.Email,
		PasswordHash: pwdHash,
		Role:         int(role),
	})
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJson(w, http.StatusCreated, identity.ToUser(newUser))
}

func (s *VetChatApp) login(w http.ResponseWriter, r *http.Request) {
	var lr LoginRequest
	if err := decodeJson(r, &lr, false); err != nil {
		s.writeError(w, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.storeTimeout)
	defer cancel()

	dbUser, err := s.db.GetAccountByEmail(ctx, lr.Email)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			errResp := NewUnauthorizedError()
			s.writeJson(w, errResp.StatusCode, errResp)
			return
		}
		s.writeError(w, err)
		return
	}

	if !verifyPassword(dbUser.PasswordHash, lr.Password) {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	token, err := s.identity.CreateToken(dbUser.Id, identity.DefaultTokenExpiration)
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	http.SetCookie(w, createJwtCookie(token, identity.DefaultTokenExpiration))

	s.writeJson(w, http.StatusOK, LoginResponse{
		Token: token,
		User:  identity.ToUser(dbUser),
	})
}

func (s *VetChatApp) session(w http.ResponseWriter, r *http.Request) {
	user, ok := CurrentUser(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusOK, user)
}

func (s *VetChatApp) logout(w http.ResponseWriter, _ *http.Request) {
	// instruct browser to delete cookie by overwriting it with an expired token
	c := createJwtCookie("", 0)
	c.Expires = time.Unix(0, 0)
	c.MaxAge = -1
	http.SetCookie(w, c)
	w.WriteHeader(http.StatusNoContent)
}

func createJwtCookie(tokenString string, exp time.Duration) *http.Cookie {
	return &http.Cookie{
		Name:     tokenCookieKey,
		Value:    tokenString,
		Path:     "/",
		Expires:  time.Now().Add(exp),
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	}
}

func hashPassword(passwd string) (string, error) {
	passwdHash, err := bcrypt.GenerateFromPassword([]byte(passwd), bcrypt.DefaultCost)
	return string(passwdHash), err
}

func verifyPassword(passwdHash, passwd string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(passwdHash), []byte(passwd))
	return err == nil
}
