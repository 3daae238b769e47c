// Package middleware provides the bearer-token middleware chain. Two
// trust tiers exist: RequireSession admits any live session,
// RequireVerified additionally demands that the session passed an MFA
// check. Machine callers authenticate with API keys through
// RequireAPIKeyOrSession.
package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"warden/internal/crypto"
	id "warden/pkg/domain"
	"warden/pkg/requestcontext"
)

// Principal is the authenticated caller a validator resolved from a
// bearer credential. SessionID is nil for API key callers.
type Principal struct {
	UserID      id.UserID
	TenantID    id.TenantID
	SessionID   id.SessionID
	MFAVerified bool
}

// SessionAuthenticator resolves a session token to its principal. Any
// error means the caller is not authenticated; the middleware does not
// distinguish expired from revoked from unknown.
type SessionAuthenticator interface {
	AuthenticateSession(ctx context.Context, token string) (*Principal, error)
}

// APIKeyAuthenticator resolves an API key to its principal.
type APIKeyAuthenticator interface {
	AuthenticateAPIKey(ctx context.Context, token string) (*Principal, error)
}

// RequireSession admits requests carrying a valid session bearer token
// and stores the principal in the context. Everything else gets a 401
// with a deliberately uniform body.
func RequireSession(sessions SessionAuthenticator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			token, ok := bearerToken(r)
			if !ok || !strings.HasPrefix(token, crypto.TokenPrefixSession) {
				logUnauthorized(ctx, logger, "missing or malformed session token")
				writeUnauthorized(w)
				return
			}

			principal, err := sessions.AuthenticateSession(ctx, token)
			if err != nil {
				logUnauthorized(ctx, logger, "session token rejected")
				writeUnauthorized(w)
				return
			}

			next.ServeHTTP(w, r.WithContext(withPrincipal(ctx, principal)))
		})
	}
}

// RequireAPIKeyOrSession admits both interactive sessions and API keys,
// dispatching on the token prefix. API key callers count as MFA-verified;
// a key can only be created from a verified session.
func RequireAPIKeyOrSession(sessions SessionAuthenticator, keys APIKeyAuthenticator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			token, ok := bearerToken(r)
			if !ok {
				logUnauthorized(ctx, logger, "missing bearer token")
				writeUnauthorized(w)
				return
			}

			var (
				principal *Principal
				err       error
			)
			switch {
			case strings.HasPrefix(token, crypto.TokenPrefixSession):
				principal, err = sessions.AuthenticateSession(ctx, token)
			case strings.HasPrefix(token, crypto.TokenPrefixAPIKey):
				principal, err = keys.AuthenticateAPIKey(ctx, token)
			default:
				err = fmt.Errorf("unrecognized token prefix")
			}
			if err != nil {
				logUnauthorized(ctx, logger, "bearer token rejected")
				writeUnauthorized(w)
				return
			}

			next.ServeHTTP(w, r.WithContext(withPrincipal(ctx, principal)))
		})
	}
}

// RequireVerified gates routes on the second trust tier. It must run
// after RequireSession; a session that never passed an MFA check is
// refused with 403 so clients can tell "log in again" apart from
// "complete verification".
func RequireVerified(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			if !requestcontext.MFAVerified(ctx) {
				logger.WarnContext(ctx, "blocked unverified session",
					"user_id", requestcontext.UserID(ctx).String(),
					"request_id", requestcontext.RequestID(ctx),
				)
				writeJSONError(w, http.StatusForbidden, "forbidden", "multi-factor verification required")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func withPrincipal(ctx context.Context, p *Principal) context.Context {
	ctx = requestcontext.WithUserID(ctx, p.UserID)
	if !p.TenantID.IsNil() {
		ctx = requestcontext.WithTenantID(ctx, p.TenantID)
	}
	if !p.SessionID.IsNil() {
		ctx = requestcontext.WithSessionID(ctx, p.SessionID)
	}
	return requestcontext.WithMFAVerified(ctx, p.MFAVerified)
}

func bearerToken(r *http.Request) (string, bool) {
	const bearerPrefix = "Bearer "
	return strings.CutPrefix(r.Header.Get("Authorization"), bearerPrefix)
}

func logUnauthorized(ctx context.Context, logger *slog.Logger, reason string) {
	logger.WarnContext(ctx, "unauthorized access - "+reason,
		"request_id", requestcontext.RequestID(ctx),
	)
}

// writeUnauthorized answers every authentication failure identically so
// the response does not reveal whether a token exists, expired, or was
// revoked.
func writeUnauthorized(w http.ResponseWriter) {
	writeJSONError(w, http.StatusUnauthorized, "unauthorized", "Invalid or expired credentials")
}

func writeJSONError(w http.ResponseWriter, status int, errCode, errDesc string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(fmt.Appendf(nil, `{"error":"%s","error_description":"%s"}`, errCode, errDesc))
}
