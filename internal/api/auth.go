package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/tanq16/moneybook/internal/storage"
)

const (
	sessionCookieName       = "moneybook_session"
	sessionDuration         = 24 * time.Hour
	sessionRememberDuration = 30 * 24 * time.Hour
)

type authPayload struct {
	Password string `json:"password"`
	Remember bool   `json:"remember"`
}

type authStatusResponse struct {
	Authenticated bool      `json:"authenticated"`
	AuthEnabled   bool      `json:"authEnabled"`
	ExpiresAt     time.Time `json:"expiresAt,omitempty"`
}

func (h *Handler) authEnabled() bool {
	return h.opts.PasswordHash != ""
}

// currentSession resolves the session cookie. Expired sessions are deleted.
func (h *Handler) currentSession(w http.ResponseWriter, r *http.Request) (storage.Session, error) {
	cookie, err := r.Cookie(sessionCookieName)
	if err != nil || cookie == nil || cookie.Value == "" {
		return storage.Session{}, storage.ErrNotFound
	}
	session, err := h.storage.GetSession(hashSessionToken(cookie.Value))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			clearSessionCookie(w, r)
		}
		return storage.Session{}, err
	}
	if h.now().After(session.ExpiresAt) {
		_ = h.storage.DeleteSession(session.ID)
		clearSessionCookie(w, r)
		return storage.Session{}, storage.ErrNotFound
	}
	return session, nil
}

func (h *Handler) RequireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !h.authEnabled() {
			next(w, r)
			return
		}
		if _, err := h.currentSession(w, r); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				writeJSON(w, http.StatusUnauthorized, ErrorResponse{Error: "Unauthorized"})
				return
			}
			h.logger.Error("failed to validate session", zap.Error(err))
			writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "Failed to validate session"})
			return
		}
		next(w, r)
	}
}

// RequirePage redirects to the login page instead of answering 401.
func (h *Handler) RequirePage(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if h.authEnabled() {
			if _, err := h.currentSession(w, r); err != nil {
				http.Redirect(w, r, "/login", http.StatusSeeOther)
				return
			}
		}
		next(w, r)
	}
}

func (h *Handler) AuthLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, ErrorResponse{Error: "Method not allowed"})
		return
	}
	if !h.authEnabled() {
		writeJSON(w, http.StatusOK, authStatusResponse{Authenticated: true})
		return
	}
	var payload authPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "Invalid request body"})
		return
	}
	if err := storage.ComparePassword(h.opts.PasswordHash, payload.Password); err != nil {
		h.logger.Warn("failed login", zap.String("ip", readClientIP(r)))
		writeJSON(w, http.StatusUnauthorized, ErrorResponse{Error: "Invalid credentials"})
		return
	}
	session, err := h.createSession(w, r, payload.Remember)
	if err != nil {
		h.logger.Error("failed to create session", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "Failed to create session"})
		return
	}
	writeJSON(w, http.StatusOK, authStatusResponse{Authenticated: true, AuthEnabled: true, ExpiresAt: session.ExpiresAt})
}

func (h *Handler) AuthLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, ErrorResponse{Error: "Method not allowed"})
		return
	}
	if cookie, err := r.Cookie(sessionCookieName); err == nil && cookie != nil && cookie.Value != "" {
		_ = h.storage.DeleteSession(hashSessionToken(cookie.Value))
	}
	clearSessionCookie(w, r)
	writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
}

func (h *Handler) AuthMe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, ErrorResponse{Error: "Method not allowed"})
		return
	}
	resp := authStatusResponse{Authenticated: true, AuthEnabled: h.authEnabled()}
	if resp.AuthEnabled {
		if session, err := h.currentSession(w, r); err == nil {
			resp.ExpiresAt = session.ExpiresAt
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) createSession(w http.ResponseWriter, r *http.Request, remember bool) (storage.Session, error) {
	token, err := newSessionToken()
	if err != nil {
		return storage.Session{}, err
	}
	duration := sessionDuration
	if remember {
		duration = sessionRememberDuration
	}
	now := h.now()
	session := storage.Session{
		ID:        hashSessionToken(token),
		CreatedAt: now,
		ExpiresAt: now.Add(duration),
		IP:        readClientIP(r),
		UserAgent: storage.SanitizeString(r.UserAgent()),
	}
	if err := h.storage.CreateSession(session); err != nil {
		return storage.Session{}, err
	}
	setSessionCookie(w, r, token, session.ExpiresAt)
	return session, nil
}

func setSessionCookie(w http.ResponseWriter, r *http.Request, token string, expires time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   isSecureRequest(r),
		Expires:  expires,
	})
}

func clearSessionCookie(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   isSecureRequest(r),
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
	})
}

func isSecureRequest(r *http.Request) bool {
	if r.TLS != nil {
		return true
	}
	return strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https")
}

func readClientIP(r *http.Request) string {
	xff := strings.TrimSpace(r.Header.Get("X-Forwarded-For"))
	if xff != "" {
		parts := strings.Split(xff, ",")
		return strings.TrimSpace(parts[0])
	}
	return r.RemoteAddr
}
