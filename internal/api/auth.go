package api

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"

	"github.com/mailsift/mailsift/internal/fileutil"
	"github.com/mailsift/mailsift/internal/oauth"
)

// googleIssuer is the OIDC issuer for Google accounts.
const googleIssuer = "https://accounts.google.com"

// idClaims are the Google ID token fields the dashboard keeps.
type idClaims struct {
	Email   string `json:"email"`
	Name    string `json:"name"`
	Picture string `json:"picture"`
	Sub     string `json:"sub"`
}

// oauthState is the signed round-trip payload for the authorization
// redirect: a nonce, the redirect URI picked at login time, and the
// in-app path to land on afterwards.
type oauthState struct {
	Nonce    string `json:"s"`
	Redirect string `json:"r"`
	Next     string `json:"n"`
}

// webOAuthClient resolves the OAuth client for the browser login flow.
// Explicit dashboard credentials win over the credentials.json file. On
// failure it writes the error response and returns false.
func (s *Server) webOAuthClient(w http.ResponseWriter) (*oauth.Client, bool) {
	d := s.cfg.Dashboard
	if d.GoogleClientID != "" && d.GoogleClientSecret != "" {
		return oauth.StaticClient(d.GoogleClientID, d.GoogleClientSecret, d.GoogleRedirectURI, oauth.Scopes...), true
	}

	client, err := oauth.LoadClient(s.cfg.Gmail.CredentialsPath, oauth.Scopes...)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			writeError(w, http.StatusInternalServerError, "Missing OAuth credentials")
		} else {
			writeError(w, http.StatusInternalServerError, "Invalid credentials.json format")
		}
		return nil, false
	}
	return client, true
}

// resolveRedirectURI picks the callback URI to hand Google: the config
// override, then a registered localhost URI on our port, then one
// derived from the request origin, then the first registered URI.
func (s *Server) resolveRedirectURI(r *http.Request, client *oauth.Client) (string, error) {
	if uri := s.cfg.Dashboard.GoogleRedirectURI; uri != "" {
		return uri, nil
	}
	uris := client.RedirectURIs
	if len(uris) == 0 {
		return "", errors.New("no redirect URI registered")
	}

	localhost := fmt.Sprintf("http://localhost:%d", s.cfg.Server.Port)
	loopback := fmt.Sprintf("http://127.0.0.1:%d", s.cfg.Server.Port)
	for _, uri := range uris {
		if strings.HasPrefix(uri, localhost) || strings.HasPrefix(uri, loopback) {
			return uri, nil
		}
	}

	if origin := r.Header.Get("Origin"); origin != "" && s.originAllowed(origin) {
		candidate := origin + "/api/auth/callback"
		for _, uri := range uris {
			if uri == candidate {
				return candidate, nil
			}
		}
	}

	return uris[0], nil
}

func (s *Server) originAllowed(origin string) bool {
	for _, o := range s.cfg.CORSOriginList() {
		if o == origin {
			return true
		}
	}
	return false
}

// safeNext clamps the post-login redirect to a local path so the
// callback can never bounce the browser to an arbitrary site.
func (s *Server) safeNext(raw string) string {
	if raw == "" {
		return "/"
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return "/"
	}
	if parsed.Scheme != "" || parsed.Host != "" {
		origin := parsed.Scheme + "://" + parsed.Host
		if !s.originAllowed(origin) {
			return "/"
		}
	}
	if parsed.Path == "" {
		return "/"
	}
	return parsed.Path
}

func (s *Server) makeState(redirectURI, nextPath string) (string, error) {
	nonce := make([]byte, 32)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generate state nonce: %w", err)
	}
	payload, err := json.Marshal(oauthState{
		Nonce:    base64.RawURLEncoding.EncodeToString(nonce),
		Redirect: redirectURI,
		Next:     nextPath,
	})
	if err != nil {
		return "", err
	}
	raw := base64.URLEncoding.EncodeToString(payload)
	return raw + "." + s.signState(raw), nil
}

// parseState verifies the signature and decodes the payload, returning
// nil for anything that does not check out.
func (s *Server) parseState(state string) *oauthState {
	i := strings.LastIndex(state, ".")
	if i < 0 {
		return nil
	}
	raw, sig := state[:i], state[i+1:]
	if !hmac.Equal([]byte(sig), []byte(s.signState(raw))) {
		return nil
	}
	payload, err := base64.URLEncoding.DecodeString(raw)
	if err != nil {
		return nil
	}
	var st oauthState
	if err := json.Unmarshal(payload, &st); err != nil {
		return nil
	}
	return &st
}

func (s *Server) signState(raw string) string {
	mac := hmac.New(sha256.New, s.sessionSecret)
	mac.Write([]byte(raw))
	return hex.EncodeToString(mac.Sum(nil))[:24]
}

// handleLogin starts the Google authorization flow.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if !s.cfg.Dashboard.AuthEnabled {
		writeJSON(w, http.StatusOK, map[string]string{"message": "auth disabled"})
		return
	}

	client, ok := s.webOAuthClient(w)
	if !ok {
		return
	}
	redirectURI, err := s.resolveRedirectURI(r, client)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "No redirect URI configured")
		return
	}

	nextPath := s.safeNext(r.URL.Query().Get("next"))
	state, err := s.makeState(redirectURI, nextPath)
	if err != nil {
		s.internalError(w, r, err)
		return
	}

	authCfg := *client.Config
	authCfg.RedirectURL = redirectURI
	authURL := authCfg.AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.SetAuthURLParam("prompt", "consent"),
	)
	http.Redirect(w, r, authURL, http.StatusTemporaryRedirect)
}

// handleCallback finishes the flow: exchanges the code, stores the Gmail
// token, verifies the ID token, and opens the session.
func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	if !s.cfg.Dashboard.AuthEnabled {
		writeJSON(w, http.StatusOK, map[string]string{"message": "auth disabled"})
		return
	}

	st := s.parseState(r.URL.Query().Get("state"))
	if st == nil {
		writeError(w, http.StatusBadRequest, "Missing OAuth state")
		return
	}
	code := r.URL.Query().Get("code")
	if code == "" {
		writeError(w, http.StatusBadRequest, "Missing authorization code")
		return
	}

	client, ok := s.webOAuthClient(w)
	if !ok {
		return
	}
	exchangeCfg := *client.Config
	exchangeCfg.RedirectURL = st.Redirect
	token, err := exchangeCfg.Exchange(r.Context(), code)
	if err != nil {
		s.internalError(w, r, fmt.Errorf("exchange authorization code: %w", err))
		return
	}

	// Persist the token so sync can reach Gmail with the same grant.
	mgr := oauth.NewManagerFromClient(client, s.cfg.Gmail.TokenPath, s.logger)
	if err := mgr.SaveToken(token); err != nil {
		s.logger.Warn("failed to persist OAuth token", "error", err)
	}

	rawIDToken, _ := token.Extra("id_token").(string)
	if rawIDToken == "" {
		writeError(w, http.StatusBadRequest, "Missing id_token")
		return
	}
	claims, err := s.verifyIDToken(r.Context(), client.Config.ClientID, rawIDToken)
	if err != nil {
		s.internalError(w, r, fmt.Errorf("verify id_token: %w", err))
		return
	}
	email := strings.ToLower(claims.Email)

	allowed, err := s.emailAllowed(email)
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	if !allowed {
		s.clearSessionCookie(w)
		writeError(w, http.StatusForbidden, "Email not authorized")
		return
	}

	s.setSessionCookie(w, sessionData{
		User: sessionUser{
			Email:   email,
			Name:    claims.Name,
			Picture: claims.Picture,
			Sub:     claims.Sub,
		},
		ExpiresAt: time.Now().Add(s.sessionTTL()).Unix(),
	})
	s.logger.Info("dashboard login", "email", email)

	if s.deps.Runner != nil {
		go s.deps.Runner.OnLogin()
	}

	http.Redirect(w, r, st.Next, http.StatusTemporaryRedirect)
}

// emailAllowed reports whether email may use the dashboard. Without a
// configured address, the first login claims the dashboard and is
// remembered in the allowlist artifact.
func (s *Server) emailAllowed(email string) (bool, error) {
	if cfg := strings.ToLower(strings.TrimSpace(s.cfg.Dashboard.AllowedEmail)); cfg != "" {
		return email == cfg, nil
	}

	path := s.cfg.AllowlistPath()
	var saved struct {
		Email string `json:"email"`
	}
	found, err := fileutil.ReadJSON(path, &saved)
	if err != nil {
		return false, fmt.Errorf("read dashboard allowlist: %w", err)
	}
	if found && strings.TrimSpace(saved.Email) != "" {
		return email == strings.ToLower(saved.Email), nil
	}

	saved.Email = email
	if err := fileutil.WriteJSONPrivate(path, saved); err != nil {
		return false, fmt.Errorf("write dashboard allowlist: %w", err)
	}
	s.logger.Info("dashboard claimed by first login", "email", email)
	return true, nil
}

// handleMe returns the signed-in user.
func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	if !s.cfg.Dashboard.AuthEnabled {
		writeJSON(w, http.StatusOK, map[string]string{"email": "disabled"})
		return
	}
	sess := s.currentSession(r)
	if sess == nil || sess.expired(time.Now()) {
		writeError(w, http.StatusUnauthorized, "Not authenticated")
		return
	}
	writeJSON(w, http.StatusOK, sess.User)
}

// handleLogout clears the session cookie.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	s.clearSessionCookie(w)
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// verifyGoogleIDToken is the production ID token verifier, checking the
// signature and audience against Google's published keys.
func (s *Server) verifyGoogleIDToken(ctx context.Context, clientID, rawIDToken string) (*idClaims, error) {
	provider, err := s.googleProvider(ctx)
	if err != nil {
		return nil, err
	}
	verifier := provider.Verifier(&oidc.Config{ClientID: clientID})
	idToken, err := verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, err
	}
	var claims idClaims
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("decode id_token claims: %w", err)
	}
	return &claims, nil
}

// googleProvider caches the OIDC discovery document across logins.
// Failures are not cached so a network blip only costs one login attempt.
func (s *Server) googleProvider(ctx context.Context) (*oidc.Provider, error) {
	s.oidcMu.Lock()
	defer s.oidcMu.Unlock()
	if s.oidcProvider != nil {
		return s.oidcProvider, nil
	}
	provider, err := oidc.NewProvider(context.WithoutCancel(ctx), googleIssuer)
	if err != nil {
		return nil, fmt.Errorf("discover google issuer: %w", err)
	}
	s.oidcProvider = provider
	return provider, nil
}
