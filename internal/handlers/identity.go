package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/prudhvinik1/omnisync/internal/logging"
	"github.com/prudhvinik1/omnisync/internal/services"
)

// MsgNoUser is the body clients already match on when the user is missing.
const MsgNoUser = "No user id was passed."

type ownerContextKey struct{}

// TokenVerifier resolves a bearer token to a user id.
type TokenVerifier interface {
	VerifyToken(token string) (string, error)
}

// IdentityResolver decides which user a request acts for.
//
// With a verifier the bearer token is authoritative and the user query
// parameter must name the same user. Without one the service sits behind
// an authenticating gateway and the user parameter is taken as is.
type IdentityResolver struct {
	verifier TokenVerifier
	logger   logging.Logger
}

func NewIdentityResolver(verifier TokenVerifier, logger logging.Logger) *IdentityResolver {
	return &IdentityResolver{verifier: verifier, logger: logger}
}

// NewAuthIdentityResolver returns a gateway-mode resolver when secret is empty.
func NewAuthIdentityResolver(secret string, logger logging.Logger) *IdentityResolver {
	if secret == "" {
		return NewIdentityResolver(nil, logger)
	}
	return NewIdentityResolver(services.NewAuthService(secret), logger)
}

func (ir *IdentityResolver) GatewayMode() bool {
	return ir.verifier == nil
}

func (ir *IdentityResolver) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user := r.URL.Query().Get("user")
		if user == "" {
			writeError(w, http.StatusBadRequest, MsgNoUser)
			return
		}

		if ir.verifier != nil {
			header := r.Header.Get("Authorization")
			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || token == "" {
				writeError(w, http.StatusUnauthorized, "missing bearer token")
				return
			}
			subject, err := ir.verifier.VerifyToken(token)
			if err != nil {
				writeError(w, http.StatusUnauthorized, "invalid token")
				return
			}
			if subject != user {
				ir.logger.Warn(r.Context(), "user parameter does not match token",
					"user", user,
					"subject", subject,
					"path", r.URL.Path,
				)
				writeError(w, http.StatusForbidden, "user does not match token")
				return
			}
		}

		ctx := context.WithValue(r.Context(), ownerContextKey{}, user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// OwnerFromContext returns the user resolved by IdentityResolver.
func OwnerFromContext(ctx context.Context) string {
	owner, _ := ctx.Value(ownerContextKey{}).(string)
	return owner
}
