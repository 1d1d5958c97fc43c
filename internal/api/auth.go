package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/nerrad567/gray-logic-insteon/internal/auth"
)

// ctxKeyClaims is the context key for the authenticated caller's claims.
const ctxKeyClaims contextKey = "claims"

// maxCredentialLen bounds login fields before any hashing work is done.
const maxCredentialLen = 256

// Authenticator checks credentials and access tokens. *auth.Authenticator
// satisfies it.
type Authenticator interface {
	Login(username, password string) (auth.Token, error)
	Verify(token string) (*auth.Claims, error)
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresIn   int       `json:"expires_in"`
	Role        auth.Role `json:"role"`
}

// handleLogin exchanges a username and password for a bearer token.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if s.auth == nil {
		writeNotFound(w, "authentication is not enabled")
		return
	}

	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Username == "" || req.Password == "" {
		writeBadRequest(w, "username and password are required")
		return
	}
	if len(req.Username) > maxCredentialLen || len(req.Password) > maxCredentialLen {
		writeBadRequest(w, "credentials exceed maximum length")
		return
	}

	tok, err := s.auth.Login(req.Username, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			s.logger.Warn("API login failed", "username", req.Username, "remote", r.RemoteAddr)
			writeUnauthorized(w, "invalid credentials")
			return
		}
		writeInternalError(w, "failed to issue token")
		return
	}

	s.logger.Info("API login", "username", req.Username, "role", tok.Role)
	writeJSON(w, http.StatusOK, loginResponse{
		AccessToken: tok.AccessToken,
		TokenType:   "Bearer",
		ExpiresIn:   int(time.Until(tok.ExpiresAt).Round(time.Second).Seconds()),
		Role:        tok.Role,
	})
}

// handleMe returns the authenticated caller's identity and permissions.
func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	if claims == nil {
		writeJSON(w, http.StatusOK, map[string]any{"authenticated": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"authenticated": true,
		"username":      claims.Subject,
		"role":          claims.Role,
		"permissions":   auth.PermissionsForRole(claims.Role),
		"expires_at":    claims.ExpiresAt.Time,
	})
}

// authMiddleware requires a valid bearer token when authentication is
// enabled. Browsers cannot set headers on a WebSocket upgrade, so the token
// may also arrive in the token query parameter.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.auth == nil {
			next.ServeHTTP(w, r)
			return
		}

		token := bearerToken(r)
		if token == "" {
			writeUnauthorized(w, "missing bearer token")
			return
		}

		claims, err := s.auth.Verify(token)
		if err != nil {
			writeUnauthorized(w, "invalid or expired token")
			return
		}

		ctx := context.WithValue(r.Context(), ctxKeyClaims, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requirePermission rejects callers whose role lacks perm. It is a no-op
// when authentication is disabled.
func (s *Server) requirePermission(perm auth.Permission) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if s.auth == nil {
				next.ServeHTTP(w, r)
				return
			}
			claims := claimsFromContext(r.Context())
			if claims == nil || !auth.HasPermission(claims.Role, perm) {
				writeForbidden(w, "requires "+string(perm))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, token, ok := strings.Cut(h, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
		return ""
	}
	return r.URL.Query().Get("token")
}

// claimsFromContext returns the caller's claims, or nil when the request
// was not authenticated.
func claimsFromContext(ctx context.Context) *auth.Claims {
	claims, _ := ctx.Value(ctxKeyClaims).(*auth.Claims)
	return claims
}
