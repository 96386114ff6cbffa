package access

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/rs/zerolog"

	"medipos/m/domain"
	"medipos/m/internal/apperr"
)

// Principal is the authenticated caller.
type Principal struct {
	UserID    string
	Username  string
	Role      domain.Role
	Overrides map[string]bool
}

// PrincipalFor builds the principal of an authenticated user.
func PrincipalFor(u domain.User) Principal {
	return Principal{UserID: u.ID, Username: u.Username, Role: u.Role, Overrides: u.Permissions}
}

// Decision is the outcome of an authorization check.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason"`
}

// Authorize decides whether p may use perm. A per-user override, when
// present, beats the role table.
func Authorize(p Principal, perm Permission) Decision {
	if !perm.Valid() {
		return Decision{Reason: fmt.Sprintf("unknown permission %q", perm)}
	}
	if v, ok := p.Overrides[string(perm)]; ok {
		if v {
			return Decision{Allowed: true, Reason: "granted by user override"}
		}
		return Decision{Reason: fmt.Sprintf("%s revoked for user %s", perm, p.Username)}
	}
	if !p.Role.Valid() {
		return Decision{Reason: fmt.Sprintf("unknown role %q", p.Role)}
	}
	if RoleGrants(p.Role, perm) {
		return Decision{Allowed: true, Reason: fmt.Sprintf("granted by role %s", p.Role)}
	}
	return Decision{Reason: fmt.Sprintf("role %s lacks %s", p.Role, perm)}
}

// Effective resolves every permission of p.
func Effective(p Principal) map[string]bool {
	out := make(map[string]bool, len(All))
	for _, perm := range All {
		out[string(perm)] = Authorize(p, perm).Allowed
	}
	return out
}

type ctxKey struct{}

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, ctxKey{}, p)
}

func FromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(ctxKey{}).(Principal)
	return p, ok
}

// Guard enforces permissions on routes.
type Guard struct {
	log zerolog.Logger
}

func NewGuard(log zerolog.Logger) *Guard {
	return &Guard{log: log.With().Str("component", "access").Logger()}
}

// Require rejects the request with 401 when no principal is attached and
// with 403 when the principal lacks perm.
func (g *Guard) Require(perm Permission) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := FromContext(r.Context())
			if !ok {
				writeError(w, apperr.Unauthorized(""))
				return
			}
			d := Authorize(p, perm)
			if !d.Allowed {
				g.log.Info().
					Str("user", p.Username).
					Str("permission", string(perm)).
					Str("reason", d.Reason).
					Str("path", r.URL.Path).
					Msg("access denied")
				writeError(w, apperr.Forbidden(fmt.Sprintf("permission %s required", perm)))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireRole admits only principals holding one of roles.
func (g *Guard) RequireRole(roles ...domain.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := FromContext(r.Context())
			if !ok {
				writeError(w, apperr.Unauthorized(""))
				return
			}
			for _, role := range roles {
				if p.Role == role {
					next.ServeHTTP(w, r)
					return
				}
			}
			writeError(w, apperr.Forbidden("role not permitted"))
		})
	}
}

func writeError(w http.ResponseWriter, err *apperr.Error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(err.HTTPStatus)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Message, "code": err.Code})
}
