package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"medipos/m/domain"
	"medipos/m/internal/access"
	"medipos/m/internal/apperr"
	"medipos/m/internal/store"
)

const (
	defaultAdminUsername = "admin"
	defaultAdminPassword = "admin123"
)

// Authentication helpers

type authClaims struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

func (h *Handler) generateToken(u domain.User) (string, error) {
	now := h.now()
	claims := authClaims{
		UserID:   u.ID,
		Username: u.Username,
		Role:     string(u.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.Username,
			ExpiresAt: jwt.NewNumericDate(now.Add(h.tokenTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(h.secret))
}

// authMiddleware validates the bearer token and attaches the caller's
// principal. The user is reloaded on every request so deactivation and
// permission changes apply at once.
func (h *Handler) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" || !strings.HasPrefix(strings.ToLower(header), "bearer ") {
			h.fail(w, r, apperr.Unauthorized("missing bearer token"))
			return
		}
		tokenString := strings.TrimSpace(header[len("Bearer "):])
		token, err := jwt.ParseWithClaims(tokenString, &authClaims{}, func(token *jwt.Token) (interface{}, error) {
			if token.Method != jwt.SigningMethodHS256 {
				return nil, errors.New("unexpected signing method")
			}
			return []byte(h.secret), nil
		})
		if err != nil || !token.Valid {
			h.fail(w, r, apperr.Unauthorized("invalid token"))
			return
		}
		claims, ok := token.Claims.(*authClaims)
		if !ok || claims.UserID == "" {
			h.fail(w, r, apperr.Unauthorized("invalid token claims"))
			return
		}
		user, err := h.users.Get(r.Context(), claims.UserID)
		if err != nil {
			if store.IsNotFound(err) {
				h.fail(w, r, apperr.Unauthorized("could not validate credentials"))
				return
			}
			h.fail(w, r, apperr.Storage(err))
			return
		}
		if !user.IsActive {
			h.fail(w, r, apperr.Unauthorized("inactive user"))
			return
		}
		ctx := access.WithPrincipal(r.Context(), access.PrincipalFor(user))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func principal(r *http.Request) access.Principal {
	p, _ := access.FromContext(r.Context())
	return p
}

func hashPassword(password string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", apperr.New(apperr.CodeInternal, "unable to secure password", http.StatusInternalServerError).Wrap(err)
	}
	return string(hashed), nil
}

// Auth Handlers

type loginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type authResponse struct {
	AccessToken string          `json:"access_token"`
	TokenType   string          `json:"token_type"`
	ExpiresIn   int64           `json:"expires_in"`
	User        domain.User     `json:"user"`
	Permissions map[string]bool `json:"permissions"`
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}

	user, err := h.userByName(r.Context(), req.Username)
	if err != nil && !store.IsNotFound(err) {
		h.fail(w, r, apperr.Storage(err))
		return
	}
	if err != nil || bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)) != nil {
		w.Header().Set("WWW-Authenticate", "Bearer")
		h.fail(w, r, apperr.Unauthorized("incorrect username or password"))
		return
	}
	if !user.IsActive {
		h.fail(w, r, apperr.Unauthorized("inactive user"))
		return
	}

	token, err := h.generateToken(user)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	now := h.timestamp()
	if _, err := h.store.UpdateOne(r.Context(), store.Users, store.ByID(user.ID), store.Document{"last_login": now}); err != nil {
		h.log.Warn().Err(err).Str("user", user.Username).Msg("unable to record last login")
	} else {
		user.LastLogin = &now
	}

	respondJSON(w, http.StatusOK, authResponse{
		AccessToken: token,
		TokenType:   "bearer",
		ExpiresIn:   int64(h.tokenTTL / time.Second),
		User:        user.Public(),
		Permissions: access.Effective(access.PrincipalFor(user)),
	})
}

func (h *Handler) me(w http.ResponseWriter, r *http.Request) {
	p := principal(r)
	user, err := h.users.Get(r.Context(), p.UserID)
	if err != nil {
		h.fail(w, r, lookupErr(err, "user", p.UserID))
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"user":        user.Public(),
		"permissions": access.Effective(p),
	})
}

func (h *Handler) register(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := decodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	user, err := h.addUser(r.Context(), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, user.Public())
}

type resetPasswordRequest struct {
	CurrentPassword string `json:"current_password" validate:"required"`
	NewPassword     string `json:"new_password" validate:"required,min=6"`
}

func (h *Handler) resetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if err := decodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	p := principal(r)
	user, err := h.users.Get(r.Context(), p.UserID)
	if err != nil {
		h.fail(w, r, lookupErr(err, "user", p.UserID))
		return
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.CurrentPassword)) != nil {
		h.fail(w, r, apperr.Validation("current password is incorrect").WithDetail("current_password", "current_password does not match"))
		return
	}
	hashed, err := hashPassword(req.NewPassword)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if _, err := h.store.UpdateOne(r.Context(), store.Users, store.ByID(user.ID), store.Document{"password_hash": hashed}); err != nil {
		h.fail(w, r, apperr.Storage(err))
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "password updated"})
}

type initAdminRequest struct {
	Username string  `json:"username,omitempty" validate:"omitempty,min=3,max=50"`
	Password string  `json:"password,omitempty" validate:"omitempty,min=6"`
	Email    *string `json:"email,omitempty" validate:"omitempty,email"`
	FullName *string `json:"full_name,omitempty"`
}

// initAdmin creates the first administrator. It does nothing once an admin
// exists.
func (h *Handler) initAdmin(w http.ResponseWriter, r *http.Request) {
	var req initAdminRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			h.fail(w, r, err)
			return
		}
	}
	defaulted := req.Password == ""
	user, created, err := h.EnsureAdmin(r.Context(), req.Username, req.Password)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if !created {
		respondJSON(w, http.StatusOK, map[string]string{
			"message":  "Admin user already exists",
			"username": user.Username,
		})
		return
	}
	if req.Email != nil || req.FullName != nil {
		patch := store.Document{}
		if req.Email != nil {
			patch["email"] = strings.ToLower(*req.Email)
		}
		if req.FullName != nil {
			patch["full_name"] = *req.FullName
		}
		if _, err := h.store.UpdateOne(r.Context(), store.Users, store.ByID(user.ID), patch); err != nil {
			h.log.Warn().Err(err).Msg("unable to store admin profile")
		}
	}
	body := map[string]string{
		"message":  "Default admin user created successfully",
		"username": user.Username,
	}
	if defaulted {
		body["password"] = defaultAdminPassword
		body["note"] = "Please change the password after first login"
	}
	respondJSON(w, http.StatusCreated, body)
}

// EnsureAdmin creates an active admin account unless one already exists.
// Empty credentials fall back to admin / admin123.
func (h *Handler) EnsureAdmin(ctx context.Context, username, password string) (domain.User, bool, error) {
	admins, err := h.users.Find(ctx, store.Where(store.Eq("role", string(domain.RoleAdmin))), store.Limit(1))
	if err != nil {
		return domain.User{}, false, apperr.Storage(err)
	}
	if len(admins) > 0 {
		return admins[0], false, nil
	}
	if username == "" {
		username = defaultAdminUsername
	}
	if password == "" {
		password = defaultAdminPassword
	}
	user, err := h.addUser(ctx, createUserRequest{
		Username: username,
		Password: password,
		FullName: nullIfEmpty("System Administrator"),
		Role:     domain.RoleAdmin,
	})
	if err != nil {
		return domain.User{}, false, err
	}
	h.log.Info().Str("username", username).Msg("created default admin user")
	return user, true, nil
}

func (h *Handler) userByName(ctx context.Context, username string) (domain.User, error) {
	users, err := h.users.Find(ctx, store.Where(store.Eq("username", strings.TrimSpace(username))), store.Limit(1))
	if err != nil {
		return domain.User{}, err
	}
	if len(users) == 0 {
		return domain.User{}, store.ErrNotFound
	}
	return users[0], nil
}

func (h *Handler) permissionDefinitions(w http.ResponseWriter, r *http.Request) {
	perms, categories := access.Definitions()
	respondJSON(w, http.StatusOK, map[string]any{
		"permissions": perms,
		"categories":  categories,
	})
}
