package api

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/mailsift/mailsift/internal/config"
	"github.com/mailsift/mailsift/internal/fileutil"
)

// sessionCookie names the signed login cookie.
const sessionCookie = "mailsift_session"

// sessionUser is the identity carried in the session cookie and returned
// by /api/auth/me.
type sessionUser struct {
	Email   string `json:"email"`
	Name    string `json:"name"`
	Picture string `json:"picture"`
	Sub     string `json:"sub"`
}

type sessionData struct {
	User      sessionUser `json:"user"`
	ExpiresAt int64       `json:"expires_at"`
}

func (d *sessionData) expired(now time.Time) bool {
	return now.Unix() >= d.ExpiresAt
}

// encodeSession renders the session as base64url(JSON) + "." + HMAC hex.
func encodeSession(secret []byte, data sessionData) string {
	payload, _ := json.Marshal(data)
	raw := base64.RawURLEncoding.EncodeToString(payload)
	return raw + "." + signSession(secret, raw)
}

// decodeSession verifies the signature and decodes the payload.
func decodeSession(secret []byte, value string) (*sessionData, error) {
	i := strings.LastIndex(value, ".")
	if i < 0 {
		return nil, fmt.Errorf("malformed session cookie")
	}
	raw, sig := value[:i], value[i+1:]
	if !hmac.Equal([]byte(sig), []byte(signSession(secret, raw))) {
		return nil, fmt.Errorf("session signature mismatch")
	}
	payload, err := base64.RawURLEncoding.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("decode session payload: %w", err)
	}
	var data sessionData
	if err := json.Unmarshal(payload, &data); err != nil {
		return nil, fmt.Errorf("unmarshal session payload: %w", err)
	}
	return &data, nil
}

func signSession(secret []byte, raw string) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(raw))
	return hex.EncodeToString(mac.Sum(nil))
}

// ensureSessionSecret resolves the cookie-signing secret: the configured
// value wins, otherwise a generated secret persisted next to the database
// so sessions survive restarts.
func ensureSessionSecret(cfg *config.Config) ([]byte, error) {
	if s := strings.TrimSpace(cfg.Dashboard.SessionSecret); s != "" {
		return []byte(s), nil
	}

	path := cfg.SessionSecretPath()
	if data, err := os.ReadFile(path); err == nil {
		if s := strings.TrimSpace(string(data)); s != "" {
			return []byte(s), nil
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read session secret: %w", err)
	}

	buf := make([]byte, 48)
	if _, err := rand.Read(buf); err != nil {
		return nil, fmt.Errorf("generate session secret: %w", err)
	}
	secret := base64.RawURLEncoding.EncodeToString(buf)
	if err := fileutil.SecureWriteFile(path, []byte(secret), 0o600); err != nil {
		return nil, fmt.Errorf("persist session secret: %w", err)
	}
	return []byte(secret), nil
}

func (s *Server) sessionTTL() time.Duration {
	ttl := s.cfg.Dashboard.SessionTTLSeconds
	if ttl <= 0 {
		ttl = 86400
	}
	return time.Duration(ttl) * time.Second
}

func (s *Server) setSessionCookie(w http.ResponseWriter, data sessionData) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    encodeSession(s.sessionSecret, data),
		Path:     "/",
		MaxAge:   int(s.sessionTTL() / time.Second),
		HttpOnly: true,
		Secure:   s.cfg.Dashboard.HTTPSOnly,
		SameSite: http.SameSiteLaxMode,
	})
}

func (s *Server) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.cfg.Dashboard.HTTPSOnly,
		SameSite: http.SameSiteLaxMode,
	})
}

// currentSession returns the decoded session, or nil when the cookie is
// missing or fails verification. Expiry is the caller's concern.
func (s *Server) currentSession(r *http.Request) *sessionData {
	c, err := r.Cookie(sessionCookie)
	if err != nil || c.Value == "" {
		return nil
	}
	data, err := decodeSession(s.sessionSecret, c.Value)
	if err != nil {
		return nil
	}
	return data
}

// requireAuth guards dashboard routes behind the login session. With
// auth disabled in config every request passes through.
func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.cfg.Dashboard.AuthEnabled {
			next.ServeHTTP(w, r)
			return
		}
		sess := s.currentSession(r)
		if sess == nil {
			writeError(w, http.StatusUnauthorized, "Not authenticated")
			return
		}
		if sess.expired(time.Now()) {
			s.clearSessionCookie(w)
			writeError(w, http.StatusUnauthorized, "Session expired")
			return
		}
		next.ServeHTTP(w, r)
	})
}
