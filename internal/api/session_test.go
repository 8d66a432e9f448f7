package api

import (
	"os"
	"strings"
	"testing"
	"time"

	"github.com/mailsift/mailsift/internal/config"
)

func TestSessionCodecRoundtrip(t *testing.T) {
	secret := []byte("test-secret")
	data := sessionData{
		User:      sessionUser{Email: "me@example.com", Name: "Me", Sub: "sub-1"},
		ExpiresAt: time.Now().Add(time.Hour).Unix(),
	}

	got, err := decodeSession(secret, encodeSession(secret, data))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.User != data.User || got.ExpiresAt != data.ExpiresAt {
		t.Errorf("roundtrip = %+v, want %+v", got, data)
	}
}

func TestSessionCodecRejectsTampering(t *testing.T) {
	secret := []byte("test-secret")
	cookie := encodeSession(secret, sessionData{
		User:      sessionUser{Email: "me@example.com"},
		ExpiresAt: time.Now().Add(time.Hour).Unix(),
	})

	cases := map[string]string{
		"flipped payload byte": "x" + cookie[1:],
		"truncated signature":  cookie[:len(cookie)-2],
		"no separator":         strings.ReplaceAll(cookie, ".", ""),
		"wrong secret":         encodeSession([]byte("other"), sessionData{ExpiresAt: 1}),
	}
	for name, value := range cases {
		if _, err := decodeSession(secret, value); err == nil {
			t.Errorf("%s: decode succeeded", name)
		}
	}
}

func TestSessionExpiry(t *testing.T) {
	now := time.Now()
	live := sessionData{ExpiresAt: now.Add(time.Minute).Unix()}
	dead := sessionData{ExpiresAt: now.Add(-time.Minute).Unix()}

	if live.expired(now) {
		t.Error("future expiry reported expired")
	}
	if !dead.expired(now) {
		t.Error("past expiry reported live")
	}
}

func TestEnsureSessionSecretConfigWins(t *testing.T) {
	cfg := &config.Config{}
	cfg.Data.PersistDir = t.TempDir()
	cfg.Dashboard.SessionSecret = "  configured-secret  "

	secret, err := ensureSessionSecret(cfg)
	if err != nil {
		t.Fatalf("ensureSessionSecret: %v", err)
	}
	if string(secret) != "configured-secret" {
		t.Errorf("secret = %q, want trimmed config value", secret)
	}
	if _, err := os.Stat(cfg.SessionSecretPath()); !os.IsNotExist(err) {
		t.Error("secret file written despite configured value")
	}
}

func TestEnsureSessionSecretPersists(t *testing.T) {
	cfg := &config.Config{}
	cfg.Data.PersistDir = t.TempDir()

	first, err := ensureSessionSecret(cfg)
	if err != nil {
		t.Fatalf("first call: %v", err)
	}
	if len(first) == 0 {
		t.Fatal("generated secret is empty")
	}

	info, err := os.Stat(cfg.SessionSecretPath())
	if err != nil {
		t.Fatalf("stat secret file: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("secret file mode = %o, want 600", perm)
	}

	second, err := ensureSessionSecret(cfg)
	if err != nil {
		t.Fatalf("second call: %v", err)
	}
	if string(first) != string(second) {
		t.Error("secret changed between calls")
	}
}
