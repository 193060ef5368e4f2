package middleware

import (
	"context"
	"fmt"
	"net/http"

	"github.com/czvisa/monitor/engine/store"
)

type contextKey string

const emailContextKey contextKey = "email"

// RequireSession resolves a session from either the session_id cookie or
// the X-Session-ID header, rejecting the request with 401 if it is missing,
// unknown, or expired. This replaces bearer-token auth entirely: the
// management API has no concept of a JWT, only short-lived sessions minted
// by /api/login and verification codes minted by /api/send-manage-code.
func RequireSession(mgr *store.Manager, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sid := sessionIDFromRequest(r)
		if sid == "" {
			http.Error(w, "missing session", http.StatusUnauthorized)
			return
		}

		session := mgr.GetSession(sid)
		if session == nil {
			http.Error(w, "session expired or unknown", http.StatusUnauthorized)
			return
		}

		_ = mgr.TouchSession(sid) // best-effort; an unrecorded last_used bump never blocks the request

		ctx := context.WithValue(r.Context(), emailContextKey, session.Email)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireAdmin additionally restricts access to the configured admin
// address set, used by the /admin/... endpoints.
func RequireAdmin(mgr *store.Manager, adminEmails map[string]bool, next http.Handler) http.Handler {
	return RequireSession(mgr, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		email, ok := EmailFromContext(r.Context())
		if !ok || !adminEmails[email] {
			http.Error(w, "admin session required", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	}))
}

func sessionIDFromRequest(r *http.Request) string {
	if sid := r.Header.Get("X-Session-ID"); sid != "" {
		return sid
	}
	if c, err := r.Cookie("session_id"); err == nil {
		return c.Value
	}
	return ""
}

// EmailFromContext retrieves the authenticated email injected by RequireSession.
func EmailFromContext(ctx context.Context) (string, bool) {
	v := ctx.Value(emailContextKey)
	if v == nil {
		return "", false
	}
	email, ok := v.(string)
	return email, ok
}

// ResolveEmailOrVerificationCode implements the dual-mode auth contract
// several endpoints accept: either an active session_id or a fresh
// (email, verification_code) pair. Exactly one must validate.
func ResolveEmailOrVerificationCode(mgr *store.Manager, sessionID, email, code string) (string, error) {
	if sessionID != "" {
		session := mgr.GetSession(sessionID)
		if session == nil {
			return "", fmt.Errorf("session expired or unknown")
		}
		return session.Email, nil
	}
	if email == "" || code == "" {
		return "", fmt.Errorf("session_id or (email, verification_code) required")
	}
	v, err := mgr.PopVerificationCode(email)
	if err != nil {
		return "", err
	}
	if v == nil || v.Code != code || v.Type != store.VerificationManagement {
		return "", fmt.Errorf("invalid or expired verification code")
	}
	return email, nil
}
