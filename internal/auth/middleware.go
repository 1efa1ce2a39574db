package auth

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/frahmantamala/crm-authz/internal"
	"github.com/frahmantamala/crm-authz/internal/access"
	"github.com/frahmantamala/crm-authz/internal/transport"
	"github.com/frahmantamala/crm-authz/pkg/logger"
)

// OrganizationHeader selects the active tenant and takes precedence over the token claim.
const OrganizationHeader = "X-Organization-ID"

// SessionProvider opens the authorization session of a user in an organization.
type SessionProvider interface {
	Session(ctx context.Context, userID, orgID string) (*access.Session, error)
}

type Authenticator struct {
	*transport.BaseHandler
	tokens   TokenValidator
	sessions SessionProvider
}

func NewAuthenticator(tokens TokenValidator, sessions SessionProvider, lg *slog.Logger) *Authenticator {
	return &Authenticator{
		BaseHandler: transport.NewBaseHandler(lg),
		tokens:      tokens,
		sessions:    sessions,
	}
}

// AuthMiddleware verifies the bearer token and attaches the caller's session
// for the selected organization to the request context.
func (a *Authenticator) AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString := a.ExtractTokenFromHeader(r)
		if tokenString == "" {
			a.HandleServiceError(w, internal.ErrUnauthorizedAccess)
			return
		}

		identity, err := a.tokens.ValidateToken(tokenString)
		if err != nil {
			a.Logger.WarnContext(r.Context(), "rejected access token", "error", err)
			a.HandleServiceError(w, err)
			return
		}

		orgID := strings.TrimSpace(r.Header.Get(OrganizationHeader))
		if orgID == "" {
			orgID = identity.OrganizationID
		}
		if orgID == "" {
			a.HandleServiceError(w, internal.ErrNoActiveOrganization)
			return
		}

		sess, err := a.sessions.Session(r.Context(), identity.UserID, orgID)
		if err != nil {
			a.Logger.ErrorContext(r.Context(), "failed to open session", "user_id", identity.UserID, "organization_id", orgID, "error", err)
			a.HandleServiceError(w, err)
			return
		}

		ctx := internal.ContextWithUserID(r.Context(), identity.UserID)
		ctx = internal.ContextWithOrganizationID(ctx, orgID)
		ctx = access.ContextWithSession(ctx, sess)
		ctx = logger.With(ctx, "user_id", identity.UserID, "organization_id", orgID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
