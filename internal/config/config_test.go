package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTempConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("writing temp config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeTempConfig(t, "mode: server\nlisten: \"0.0.0.0:443\"\npassword: hunter2\ncert_file: cert.pem\nkey_file: key.pem\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !cfg.LiteTLS {
		t.Fatal("expected lite_tls default to be true")
	}
	if cfg.Transport != TransportTLS {
		t.Fatalf("transport = %q, want %q", cfg.Transport, TransportTLS)
	}
	if cfg.HandshakeTimeoutSeconds != 10 {
		t.Fatalf("handshake_timeout_seconds = %d, want 10", cfg.HandshakeTimeoutSeconds)
	}
}

func TestLoadRejectsMissingPassword(t *testing.T) {
	path := writeTempConfig(t, "mode: client\nlisten: \"127.0.0.1:1080\"\nremote: \"example.com:443\"\n")
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for missing password")
	}
}

func TestLoadRejectsClientWithoutRemote(t *testing.T) {
	path := writeTempConfig(t, "mode: client\nlisten: \"127.0.0.1:1080\"\npassword: x\n")
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for client mode without remote")
	}
}
