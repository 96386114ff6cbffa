package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"medipos/m/domain"
	"medipos/m/internal/access"
	"medipos/m/internal/apperr"
	"medipos/m/internal/store"
)

type createUserRequest struct {
	Username    string          `json:"username" validate:"required,min=3,max=50"`
	Email       *string         `json:"email,omitempty" validate:"omitempty,email"`
	FullName    *string         `json:"full_name,omitempty"`
	Password    string          `json:"password" validate:"required,min=6"`
	Role        domain.Role     `json:"role" validate:"omitempty,oneof=admin manager staff"`
	Permissions map[string]bool `json:"permissions,omitempty"`
}

type updateUserRequest struct {
	Username    *string         `json:"username,omitempty" validate:"omitempty,min=3,max=50"`
	Email       *string         `json:"email,omitempty" validate:"omitempty,email"`
	FullName    *string         `json:"full_name,omitempty"`
	Role        *domain.Role    `json:"role,omitempty" validate:"omitempty,oneof=admin manager staff"`
	Permissions map[string]bool `json:"permissions,omitempty"`
	IsActive    *bool           `json:"is_active,omitempty"`
}

func checkPermissionKeys(perms map[string]bool) error {
	for k := range perms {
		if !access.Permission(k).Valid() {
			return apperr.Validation(fmt.Sprintf("unknown permission %q", k)).WithDetail("permissions", k)
		}
	}
	return nil
}

// addUser creates an active account. Username and email are unique.
func (h *Handler) addUser(ctx context.Context, req createUserRequest) (domain.User, error) {
	if req.Role == "" {
		req.Role = domain.RoleStaff
	}
	if err := checkPermissionKeys(req.Permissions); err != nil {
		return domain.User{}, err
	}
	if err := h.ensureUnique(ctx, "", strings.TrimSpace(req.Username), req.Email); err != nil {
		return domain.User{}, err
	}
	hashed, err := hashPassword(req.Password)
	if err != nil {
		return domain.User{}, err
	}
	if req.Email != nil {
		email := strings.ToLower(strings.TrimSpace(*req.Email))
		req.Email = &email
	}
	user := domain.User{
		ID:           h.newID(),
		Username:     strings.TrimSpace(req.Username),
		Email:        req.Email,
		FullName:     req.FullName,
		PasswordHash: hashed,
		Role:         req.Role,
		Permissions:  req.Permissions,
		IsActive:     true,
		CreatedAt:    h.timestamp(),
	}
	if err := h.users.Insert(ctx, user); err != nil {
		if errors.Is(err, store.ErrDuplicateID) {
			return domain.User{}, apperr.Conflict("user already exists")
		}
		return domain.User{}, apperr.Storage(err)
	}
	h.log.Info().Str("username", user.Username).Str("role", string(user.Role)).Msg("user created")
	return user, nil
}

// ensureUnique rejects a username or email another account already uses.
func (h *Handler) ensureUnique(ctx context.Context, selfID, username string, email *string) error {
	if username != "" {
		other, err := h.userByName(ctx, username)
		if err == nil && other.ID != selfID {
			return apperr.Conflict("username already registered").WithDetail("username", username)
		}
		if err != nil && !store.IsNotFound(err) {
			return apperr.Storage(err)
		}
	}
	if email != nil && *email != "" {
		normalized := strings.ToLower(strings.TrimSpace(*email))
		others, err := h.users.Find(ctx, store.Where(store.Eq("email", normalized)), store.Limit(1))
		if err != nil {
			return apperr.Storage(err)
		}
		if len(others) > 0 && others[0].ID != selfID {
			return apperr.Conflict("email already registered").WithDetail("email", normalized)
		}
	}
	return nil
}

func (h *Handler) listUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.users.Find(r.Context(), store.Filter{}, store.SortBy("username", false))
	if err != nil {
		h.fail(w, r, apperr.Storage(err))
		return
	}
	out := make([]domain.User, len(users))
	for i, u := range users {
		out[i] = u.Public()
	}
	respondJSON(w, http.StatusOK, out)
}

func (h *Handler) createUser(w http.ResponseWriter, r *http.Request) {
	h.register(w, r)
}

// selfOr admits the caller acting on its own account or holding perm.
func selfOr(r *http.Request, id string, perm access.Permission) error {
	p := principal(r)
	if p.UserID == id {
		return nil
	}
	if d := access.Authorize(p, perm); !d.Allowed {
		return apperr.Forbidden(fmt.Sprintf("permission %s required", perm))
	}
	return nil
}

func (h *Handler) getUser(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := selfOr(r, id, access.UsersView); err != nil {
		h.fail(w, r, err)
		return
	}
	user, err := h.users.Get(r.Context(), id)
	if err != nil {
		h.fail(w, r, lookupErr(err, "user", id))
		return
	}
	respondJSON(w, http.StatusOK, user.Public())
}

func (h *Handler) updateUser(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req updateUserRequest
	if err := decodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	if err := selfOr(r, id, access.UsersEdit); err != nil {
		h.fail(w, r, err)
		return
	}
	p := principal(r)
	if (req.Role != nil || req.Permissions != nil) && p.Role != domain.RoleAdmin {
		h.fail(w, r, apperr.Forbidden("only admin can change user roles and permissions"))
		return
	}
	if p.UserID == id && req.IsActive != nil && !*req.IsActive {
		h.fail(w, r, apperr.BusinessRule("cannot deactivate your own account"))
		return
	}
	if err := checkPermissionKeys(req.Permissions); err != nil {
		h.fail(w, r, err)
		return
	}
	username := ""
	if req.Username != nil {
		username = strings.TrimSpace(*req.Username)
	}
	if err := h.ensureUnique(r.Context(), id, username, req.Email); err != nil {
		h.fail(w, r, err)
		return
	}
	if req.Email != nil {
		email := strings.ToLower(strings.TrimSpace(*req.Email))
		req.Email = &email
	}

	patch, err := patchOf(req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	// A role change without explicit permissions drops the old overrides.
	switch {
	case req.Permissions != nil:
		patch["permissions"] = req.Permissions
	case req.Role != nil:
		patch["permissions"] = map[string]bool{}
	}
	user, err := h.users.Update(r.Context(), id, patch)
	if err != nil {
		h.fail(w, r, lookupErr(err, "user", id))
		return
	}
	respondJSON(w, http.StatusOK, user.Public())
}

func (h *Handler) deleteUser(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if principal(r).UserID == id {
		h.fail(w, r, apperr.BusinessRule("cannot delete your own account"))
		return
	}
	if err := h.users.Delete(r.Context(), id); err != nil {
		h.fail(w, r, lookupErr(err, "user", id))
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"message": "User deleted successfully"})
}
