// Package config handles loading and managing mailsift configuration.
//
// Configuration comes from an optional TOML file (<home>/config.toml) with
// per-section defaults, then environment variables override individual
// fields: EMAIL_PARSER_* for the ingestion side, DASHBOARD_* for the
// dashboard/API side.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
)

// Config represents the mailsift configuration.
type Config struct {
	Data      DataConfig      `toml:"data"`
	Gmail     GmailConfig     `toml:"gmail"`
	Embedding EmbeddingConfig `toml:"embedding"`
	Sync      SyncConfig      `toml:"sync"`
	Dashboard DashboardConfig `toml:"dashboard"`
	LLM       LLMConfig       `toml:"llm"`
	Server    ServerConfig    `toml:"server"`
	Schedule  ScheduleConfig  `toml:"schedule"`

	// Computed paths (not from config file)
	HomeDir string `toml:"-"`
}

// DataConfig holds persisted-state storage configuration.
type DataConfig struct {
	PersistDir string `toml:"persist_dir"` // Directory holding mail.db + JSON artifacts
}

// GmailConfig holds Gmail API credential locations.
type GmailConfig struct {
	CredentialsPath string `toml:"credentials_path"` // OAuth client secrets JSON
	TokenPath       string `toml:"token_path"`       // Stored OAuth token
}

// EmbeddingConfig holds embedding provider configuration.
type EmbeddingConfig struct {
	Model     string `toml:"model"`     // Embedding model name
	Dimension int    `toml:"dimension"` // Vector dimension; stored and query vectors must agree
	BaseURL   string `toml:"base_url"`  // OpenAI-compatible embeddings endpoint
	APIKey    string `toml:"api_key"`
}

// SyncConfig holds sync-related configuration.
type SyncConfig struct {
	BatchSize           int `toml:"batch_size"`            // Messages fetched+stored per chunk
	AutoIntervalSeconds int `toml:"auto_interval_seconds"` // Auto-sync cadence in the serve daemon
	RateLimitQPS        int `toml:"rate_limit_qps"`        // Gmail API quota units per second
}

// DashboardConfig holds dashboard auth and CORS configuration.
type DashboardConfig struct {
	AuthEnabled        bool   `toml:"auth_enabled"`
	GoogleClientID     string `toml:"google_client_id"`
	GoogleClientSecret string `toml:"google_client_secret"`
	GoogleRedirectURI  string `toml:"google_redirect_uri"`
	AllowedEmail       string `toml:"allowed_email"`
	SessionSecret      string `toml:"session_secret"`
	SessionTTLSeconds  int    `toml:"session_ttl_seconds"`
	HTTPSOnly          bool   `toml:"https_only"`
	CORSOrigins        string `toml:"cors_origins"` // Comma-separated origin list
}

// LLMConfig holds enrichment LLM configuration.
type LLMConfig struct {
	Provider string `toml:"provider"` // "command" (local runner) or "openai"
	Model    string `toml:"model"`
	APIKey   string `toml:"api_key"`
	BaseURL  string `toml:"base_url"`
}

// ServerConfig holds HTTP API server configuration.
type ServerConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

// ScheduleConfig holds the optional cron schedule for the serve daemon.
type ScheduleConfig struct {
	Sync string `toml:"sync"` // Cron expression, e.g. "0 */6 * * *"; empty disables
}

// DefaultHome returns the default mailsift home directory.
// Respects the MAILSIFT_HOME environment variable.
func DefaultHome() string {
	if h := os.Getenv("MAILSIFT_HOME"); h != "" {
		return h
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".mailsift"
	}
	return filepath.Join(home, ".mailsift")
}

// Load reads the configuration from the specified file. If path is empty,
// <homeDir>/config.toml is used; if homeDir is empty, DefaultHome() decides.
// A missing config file is not an error — defaults plus environment
// overrides apply.
func Load(path, homeDir string) (*Config, error) {
	if homeDir == "" {
		homeDir = DefaultHome()
	}
	homeDir = expandPath(homeDir)

	if path == "" {
		path = filepath.Join(homeDir, "config.toml")
	}

	cfg := &Config{
		HomeDir: homeDir,
		Data: DataConfig{
			PersistDir: filepath.Join(homeDir, "data"),
		},
		Gmail: GmailConfig{
			CredentialsPath: filepath.Join(homeDir, "credentials.json"),
		},
		Embedding: EmbeddingConfig{
			Model:     "all-MiniLM-L6-v2",
			Dimension: 384,
			BaseURL:   "http://localhost:8001/v1",
		},
		Sync: SyncConfig{
			BatchSize:           100,
			AutoIntervalSeconds: 30,
			RateLimitQPS:        25,
		},
		Dashboard: DashboardConfig{
			AuthEnabled:       true,
			SessionTTLSeconds: 86400,
			CORSOrigins:       "http://localhost:5173",
		},
		LLM: LLMConfig{
			Provider: "command",
			BaseURL:  "http://localhost:8001/run",
		},
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: 8000,
		},
	}

	if _, err := os.Stat(path); err == nil {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("decode config: %w", err)
		}
	}

	cfg.applyEnv()

	cfg.Data.PersistDir = expandPath(cfg.Data.PersistDir)
	cfg.Gmail.CredentialsPath = expandPath(cfg.Gmail.CredentialsPath)
	cfg.Gmail.TokenPath = expandPath(cfg.Gmail.TokenPath)
	if cfg.Gmail.TokenPath == "" {
		cfg.Gmail.TokenPath = filepath.Join(cfg.Data.PersistDir, "token.json")
	}

	return cfg, nil
}

// applyEnv overrides individual fields from the environment.
func (c *Config) applyEnv() {
	envString("EMAIL_PARSER_CHROMA_PERSIST_DIR", &c.Data.PersistDir)
	envString("EMAIL_PARSER_GOOGLE_CREDENTIALS_PATH", &c.Gmail.CredentialsPath)
	envString("EMAIL_PARSER_GOOGLE_TOKEN_PATH", &c.Gmail.TokenPath)
	envString("EMAIL_PARSER_EMBEDDING_MODEL", &c.Embedding.Model)
	envInt("EMAIL_PARSER_EMBEDDING_DIMENSION", &c.Embedding.Dimension)
	envInt("EMAIL_PARSER_SYNC_BATCH_SIZE", &c.Sync.BatchSize)

	envBool("DASHBOARD_AUTH_ENABLED", &c.Dashboard.AuthEnabled)
	envString("DASHBOARD_GOOGLE_CLIENT_ID", &c.Dashboard.GoogleClientID)
	envString("DASHBOARD_GOOGLE_CLIENT_SECRET", &c.Dashboard.GoogleClientSecret)
	envString("DASHBOARD_GOOGLE_REDIRECT_URI", &c.Dashboard.GoogleRedirectURI)
	envString("DASHBOARD_ALLOWED_EMAIL", &c.Dashboard.AllowedEmail)
	envString("DASHBOARD_SESSION_SECRET", &c.Dashboard.SessionSecret)
	envInt("DASHBOARD_SESSION_TTL_SECONDS", &c.Dashboard.SessionTTLSeconds)
	envBool("DASHBOARD_HTTPS_ONLY", &c.Dashboard.HTTPSOnly)
	envString("DASHBOARD_CORS_ORIGINS", &c.Dashboard.CORSOrigins)
	envString("DASHBOARD_LLM_PROVIDER", &c.LLM.Provider)
	envString("DASHBOARD_LLM_MODEL", &c.LLM.Model)
	envString("DASHBOARD_LLM_API_KEY", &c.LLM.APIKey)
	envString("DASHBOARD_LLM_BASE_URL", &c.LLM.BaseURL)
}

func envString(key string, dst *string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envBool(key string, dst *bool) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

// ConfigFilePath returns the path where the config file is expected.
func (c *Config) ConfigFilePath() string {
	return filepath.Join(c.HomeDir, "config.toml")
}

// Save writes the configuration to ConfigFilePath. The file is created
// 0600 since it can hold API keys.
func (c *Config) Save() error {
	if err := os.MkdirAll(c.HomeDir, 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(c.ConfigFilePath(), os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	defer f.Close()
	return toml.NewEncoder(f).Encode(c)
}

// EnsureHomeDir creates the home and persist directories if missing.
func (c *Config) EnsureHomeDir() error {
	if err := os.MkdirAll(c.HomeDir, 0700); err != nil {
		return err
	}
	return os.MkdirAll(c.Data.PersistDir, 0700)
}

// DatabasePath returns the path to the SQLite database.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Data.PersistDir, "mail.db")
}

// ArtifactPath returns the path of a named JSON artifact in the persist dir.
func (c *Config) ArtifactPath(name string) string {
	return filepath.Join(c.Data.PersistDir, name)
}

// Named artifact paths. These are the persisted-state files that survive
// alongside the database.
func (c *Config) SenderCategoriesPath() string  { return c.ArtifactPath("sender_categories.json") }
func (c *Config) SubjectCategoriesPath() string { return c.ArtifactPath("subject_categories.json") }
func (c *Config) CustomCategoriesPath() string  { return c.ArtifactPath("custom_categories.json") }
func (c *Config) AlertRulesPath() string        { return c.ArtifactPath("alert_rules.json") }
func (c *Config) InboxRulesPath() string        { return c.ArtifactPath("inbox_rules.json") }
func (c *Config) ExpenseRulesPath() string      { return c.ArtifactPath("expense_rules.json") }
func (c *Config) DismissedActionsPath() string  { return c.ArtifactPath("dismissed_actions.json") }
func (c *Config) AllowlistPath() string         { return c.ArtifactPath("dashboard_allowlist.json") }
func (c *Config) SessionSecretPath() string {
	return c.ArtifactPath("dashboard_session_secret.txt")
}

// CORSOriginList splits the comma-separated CORS origins setting.
func (c *Config) CORSOriginList() []string {
	var origins []string
	for _, o := range strings.Split(c.Dashboard.CORSOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}

// ListenAddr returns the host:port address for the API server.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// expandPath expands ~ to the user's home directory.
func expandPath(path string) string {
	if path == "" {
		return path
	}
	if path[0] == '~' {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[1:])
	}
	return path
}
