// Package oauth provides OAuth2 authorization for the Gmail API and the
// dashboard login flow.
package oauth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

// Scopes requested during authorization. The identity scopes feed the
// dashboard login; gmail.modify covers sync, label edits, and trash.
var Scopes = []string{
	"openid",
	"email",
	"profile",
	"https://www.googleapis.com/auth/gmail.modify",
}

// GmailScope is the scope required for mailbox operations. Tokens saved
// without it need re-authorization before sync or actions will work.
const GmailScope = "https://www.googleapis.com/auth/gmail.modify"

// Client is an OAuth2 client application plus the redirect URIs registered
// for it. The redirect list drives callback URI selection for the web login.
type Client struct {
	Config       *oauth2.Config
	RedirectURIs []string
}

// clientSecretsFile mirrors the Google client secrets JSON layout. Desktop
// credentials use the "installed" key, web applications use "web".
type clientSecretsFile struct {
	Web       *clientSecrets `json:"web"`
	Installed *clientSecrets `json:"installed"`
}

type clientSecrets struct {
	ClientID     string   `json:"client_id"`
	ClientSecret string   `json:"client_secret"`
	AuthURI      string   `json:"auth_uri"`
	TokenURI     string   `json:"token_uri"`
	RedirectURIs []string `json:"redirect_uris"`
}

// LoadClient reads a Google client secrets file. Both "web" and "installed"
// credential types are accepted.
func LoadClient(credentialsPath string, scopes ...string) (*Client, error) {
	data, err := os.ReadFile(credentialsPath)
	if err != nil {
		return nil, fmt.Errorf("read client secrets: %w", err)
	}

	var file clientSecretsFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse client secrets: %w", err)
	}

	secrets := file.Web
	if secrets == nil {
		secrets = file.Installed
	}
	if secrets == nil || secrets.ClientID == "" {
		return nil, fmt.Errorf("no web or installed client in %s", credentialsPath)
	}

	endpoint := google.Endpoint
	if secrets.AuthURI != "" && secrets.TokenURI != "" {
		endpoint = oauth2.Endpoint{AuthURL: secrets.AuthURI, TokenURL: secrets.TokenURI}
	}

	cfg := &oauth2.Config{
		ClientID:     secrets.ClientID,
		ClientSecret: secrets.ClientSecret,
		Endpoint:     endpoint,
		Scopes:       scopes,
	}
	if len(secrets.RedirectURIs) > 0 {
		cfg.RedirectURL = secrets.RedirectURIs[0]
	}

	return &Client{Config: cfg, RedirectURIs: secrets.RedirectURIs}, nil
}

// StaticClient builds a client from an explicit ID and secret, for
// deployments that configure credentials without a secrets file.
func StaticClient(clientID, clientSecret, redirectURI string, scopes ...string) *Client {
	cfg := &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Endpoint:     google.Endpoint,
		Scopes:       scopes,
		RedirectURL:  redirectURI,
	}
	var uris []string
	if redirectURI != "" {
		uris = []string{redirectURI}
	}
	return &Client{Config: cfg, RedirectURIs: uris}
}

// Manager handles OAuth2 token acquisition and storage for the single
// authorized account.
type Manager struct {
	client    *Client
	tokenPath string
	logger    *slog.Logger
}

// NewManager creates an OAuth manager from a client secrets file.
func NewManager(credentialsPath, tokenPath string, logger *slog.Logger) (*Manager, error) {
	client, err := LoadClient(credentialsPath, Scopes...)
	if err != nil {
		return nil, err
	}
	return NewManagerFromClient(client, tokenPath, logger), nil
}

// NewManagerFromClient creates an OAuth manager for an already-built client.
func NewManagerFromClient(client *Client, tokenPath string, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		client:    client,
		tokenPath: tokenPath,
		logger:    logger,
	}
}

// Config returns a copy of the OAuth2 client config. Callers may set a
// redirect URL on the copy without affecting the manager.
func (m *Manager) Config() *oauth2.Config {
	cfg := *m.client.Config
	return &cfg
}

// RedirectURIs returns the redirect URIs registered for the client.
func (m *Manager) RedirectURIs() []string {
	return m.client.RedirectURIs
}

// TokenSource returns an auto-refreshing token source backed by the stored
// token. If the refresh produced a new access token, it is persisted.
func (m *Manager) TokenSource(ctx context.Context) (oauth2.TokenSource, error) {
	token, err := m.LoadToken()
	if err != nil {
		return nil, fmt.Errorf("no valid token: %w", err)
	}

	ts := m.client.Config.TokenSource(ctx, token)

	newToken, err := ts.Token()
	if err != nil {
		return nil, fmt.Errorf("refresh token: %w", err)
	}

	if newToken.AccessToken != token.AccessToken {
		if err := m.SaveToken(newToken); err != nil {
			m.logger.Warn("failed to save refreshed token", "error", err)
		}
	}

	return ts, nil
}

// HasToken checks if a stored token exists.
func (m *Manager) HasToken() bool {
	_, err := m.LoadToken()
	return err == nil
}

// Authorize performs the OAuth flow and stores the resulting token.
// If headless is true, uses device code flow; otherwise opens a browser.
func (m *Manager) Authorize(ctx context.Context, headless bool) error {
	var token *oauth2.Token
	var err error

	if headless {
		token, err = m.deviceFlow(ctx)
	} else {
		token, err = m.browserFlow(ctx)
	}

	if err != nil {
		return err
	}

	return m.SaveToken(token)
}

const (
	redirectPort = "8089"
	callbackPath = "/callback"
)

// newCallbackHandler returns an HTTP handler that processes the OAuth callback.
func (m *Manager) newCallbackHandler(expectedState string, codeChan chan<- string, errChan chan<- error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("state") != expectedState {
			errChan <- fmt.Errorf("state mismatch: possible CSRF attack")
			fmt.Fprintf(w, "Error: state mismatch")
			return
		}
		code := r.URL.Query().Get("code")
		if code == "" {
			errChan <- fmt.Errorf("no code in callback")
			fmt.Fprintf(w, "Error: no authorization code received")
			return
		}
		codeChan <- code
		fmt.Fprintf(w, "Authorization successful! You can close this window.")
	}
}

// browserFlow opens a browser for OAuth authorization.
func (m *Manager) browserFlow(ctx context.Context) (*oauth2.Token, error) {
	// Generate random state for CSRF protection
	stateBytes := make([]byte, 16)
	if _, err := rand.Read(stateBytes); err != nil {
		return nil, fmt.Errorf("generate state: %w", err)
	}
	state := base64.URLEncoding.EncodeToString(stateBytes)

	// Start local server for callback
	codeChan := make(chan string, 1)
	errChan := make(chan error, 1)

	mux := http.NewServeMux()
	mux.Handle(callbackPath, m.newCallbackHandler(state, codeChan, errChan))
	server := &http.Server{Addr: "localhost:" + redirectPort, Handler: mux}

	go func() {
		if err := server.ListenAndServe(); err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	defer func() { _ = server.Shutdown(ctx) }()

	// Generate auth URL against a copy so the shared config keeps the
	// redirect registered for the web login.
	cfg := m.Config()
	cfg.RedirectURL = "http://localhost:" + redirectPort + callbackPath
	authURL := cfg.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)

	// Open browser
	fmt.Printf("Opening browser for authorization...\n")
	fmt.Printf("If browser doesn't open, visit:\n%s\n\n", authURL)

	if err := openBrowser(authURL); err != nil {
		m.logger.Warn("failed to open browser", "error", err)
	}

	// Wait for callback
	select {
	case code := <-codeChan:
		return cfg.Exchange(ctx, code)
	case err := <-errChan:
		return nil, err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// deviceFlow uses the device authorization grant for headless environments.
func (m *Manager) deviceFlow(ctx context.Context) (*oauth2.Token, error) {
	// Device flow endpoint
	deviceEndpoint := "https://oauth2.googleapis.com/device/code"

	// Request device code
	resp, err := http.PostForm(deviceEndpoint, map[string][]string{
		"client_id": {m.client.Config.ClientID},
		"scope":     {scopesToString(m.client.Config.Scopes)},
	})
	if err != nil {
		return nil, fmt.Errorf("request device code: %w", err)
	}
	defer resp.Body.Close()

	var deviceResp struct {
		DeviceCode      string `json:"device_code"`
		UserCode        string `json:"user_code"`
		VerificationURL string `json:"verification_url"`
		ExpiresIn       int    `json:"expires_in"`
		Interval        int    `json:"interval"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&deviceResp); err != nil {
		return nil, fmt.Errorf("parse device response: %w", err)
	}

	// Display instructions to user
	fmt.Printf("\n")
	fmt.Printf("To authorize mailsift, visit:\n")
	fmt.Printf("  %s\n\n", deviceResp.VerificationURL)
	fmt.Printf("And enter code: %s\n\n", deviceResp.UserCode)
	fmt.Printf("Waiting for authorization...\n")

	// Poll for token
	interval := time.Duration(deviceResp.Interval) * time.Second
	if interval < 5*time.Second {
		interval = 5 * time.Second
	}

	deadline := time.Now().Add(time.Duration(deviceResp.ExpiresIn) * time.Second)

	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(interval):
		}

		token, err := m.pollForToken(ctx, deviceResp.DeviceCode)
		if err == nil {
			fmt.Printf("Authorization successful!\n")
			return token, nil
		}

		// Check if we should continue polling
		errStr := err.Error()
		if errStr == "oauth error: authorization_pending" || errStr == "oauth error: slow_down" {
			continue
		}

		return nil, err
	}

	return nil, fmt.Errorf("authorization timed out")
}

// pollForToken polls the token endpoint during device flow.
func (m *Manager) pollForToken(ctx context.Context, deviceCode string) (*oauth2.Token, error) {
	resp, err := http.PostForm("https://oauth2.googleapis.com/token", map[string][]string{
		"client_id":     {m.client.Config.ClientID},
		"client_secret": {m.client.Config.ClientSecret},
		"device_code":   {deviceCode},
		"grant_type":    {"urn:ietf:params:oauth:grant-type:device_code"},
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var tokenResp struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		ExpiresIn    int    `json:"expires_in"`
		TokenType    string `json:"token_type"`
		Error        string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tokenResp); err != nil {
		return nil, err
	}

	if tokenResp.Error != "" {
		return nil, fmt.Errorf("oauth error: %s", tokenResp.Error)
	}

	return &oauth2.Token{
		AccessToken:  tokenResp.AccessToken,
		RefreshToken: tokenResp.RefreshToken,
		TokenType:    tokenResp.TokenType,
		Expiry:       time.Now().Add(time.Duration(tokenResp.ExpiresIn) * time.Second),
	}, nil
}

// tokenFile wraps an OAuth2 token with metadata about the scopes it was
// authorized with. This enables proactive scope checking (e.g., detecting
// that mailbox actions need re-authorization) without making an API call.
type tokenFile struct {
	oauth2.Token
	Scopes []string `json:"scopes,omitempty"`
}

// LoadToken reads the stored token.
func (m *Manager) LoadToken() (*oauth2.Token, error) {
	tf, err := m.loadTokenFile()
	if err != nil {
		return nil, err
	}
	return &tf.Token, nil
}

// loadTokenFile loads the full token file including scope metadata.
func (m *Manager) loadTokenFile() (*tokenFile, error) {
	data, err := os.ReadFile(m.tokenPath)
	if err != nil {
		return nil, err
	}

	var tf tokenFile
	if err := json.Unmarshal(data, &tf); err != nil {
		return nil, err
	}

	return &tf, nil
}

// HasScopeMetadata returns true if the stored token has any scope metadata.
// Legacy tokens saved before scope tracking return false.
func (m *Manager) HasScopeMetadata() bool {
	tf, err := m.loadTokenFile()
	if err != nil {
		return false
	}
	return len(tf.Scopes) > 0
}

// HasScope checks if the stored token was authorized with the specified
// scope. Returns false if the token doesn't exist or has no scope metadata.
func (m *Manager) HasScope(scope string) bool {
	tf, err := m.loadTokenFile()
	if err != nil {
		return false
	}
	for _, s := range tf.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// SaveToken persists a token along with the scopes from the client config.
func (m *Manager) SaveToken(token *oauth2.Token) error {
	if err := os.MkdirAll(filepath.Dir(m.tokenPath), 0700); err != nil {
		return err
	}

	tf := tokenFile{
		Token:  *token,
		Scopes: m.client.Config.Scopes,
	}

	data, err := json.MarshalIndent(tf, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(m.tokenPath, data, 0600)
}

// DeleteToken removes the stored token.
func (m *Manager) DeleteToken() error {
	err := os.Remove(m.tokenPath)
	if os.IsNotExist(err) {
		return nil // Already gone
	}
	return err
}

// TokenPath returns the token file location.
func (m *Manager) TokenPath() string {
	return m.tokenPath
}

// IsInvalidGrant reports whether err is an invalid_grant OAuth response,
// meaning the refresh token was revoked or expired and the account needs
// re-authorization.
func IsInvalidGrant(err error) bool {
	if err == nil {
		return false
	}
	var retrieve *oauth2.RetrieveError
	if errors.As(err, &retrieve) {
		if retrieve.ErrorCode == "invalid_grant" {
			return true
		}
		return strings.Contains(string(retrieve.Body), "invalid_grant")
	}
	return strings.Contains(err.Error(), "invalid_grant")
}

// scopesToString joins scopes with spaces.
func scopesToString(scopes []string) string {
	return strings.Join(scopes, " ")
}

// openBrowser opens the default browser to the given URL.
func openBrowser(url string) error {
	var cmd *exec.Cmd

	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "linux":
		cmd = exec.Command("xdg-open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		return fmt.Errorf("unsupported platform: %s", runtime.GOOS)
	}

	return cmd.Start()
}
