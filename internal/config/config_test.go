package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadJSONConfig(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "cqlcontrol.json")

	content := `{
		"contactPoints": ["10.0.0.1", "10.0.0.2"],
		"port": 9043,
		"useSchema": true,
		"tokenAwareRouting": true,
		"protocolVersion": 4,
		"reconnectWaitMs": 500
	}`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("Failed to create test config file: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if len(cfg.ContactPoints) != 2 || cfg.ContactPoints[0] != "10.0.0.1" {
		t.Errorf("Expected two contact points, got %v", cfg.ContactPoints)
	}
	if cfg.Port != 9043 {
		t.Errorf("Expected port 9043, got %d", cfg.Port)
	}
	if !cfg.UseSchema || !cfg.TokenAwareRouting {
		t.Errorf("Expected schema and token awareness enabled, got %+v", cfg)
	}
	if cfg.ProtocolVersion != 4 {
		t.Errorf("Expected protocol version 4, got %d", cfg.ProtocolVersion)
	}
	if cfg.ReconnectWaitMs != 500 {
		t.Errorf("Expected reconnect wait 500ms, got %d", cfg.ReconnectWaitMs)
	}
}

func TestLoadYAMLConfig(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "cqlcontrol.yaml")

	content := `contactPoints:
  - 10.0.0.5
port: 9042
useSchema: false
tokenAwareRouting: true
ssl:
  enabled: true
  caPath: /etc/certs/ca.pem
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("Failed to create test config file: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if len(cfg.ContactPoints) != 1 || cfg.ContactPoints[0] != "10.0.0.5" {
		t.Errorf("Expected contact point 10.0.0.5, got %v", cfg.ContactPoints)
	}
	if cfg.UseSchema {
		t.Error("Expected useSchema false")
	}
	if !cfg.TokenAwareRouting {
		t.Error("Expected tokenAwareRouting true")
	}
	if cfg.SSL == nil || !cfg.SSL.Enabled || cfg.SSL.CAPath != "/etc/certs/ca.pem" {
		t.Errorf("SSL config not loaded: %+v", cfg.SSL)
	}
}

func TestLoadMissingCustomConfigFails(t *testing.T) {
	if _, err := Load("/nonexistent/cqlcontrol.json"); err == nil {
		t.Error("Expected error for missing custom config file")
	}
}

func TestLoadCQLSHRC(t *testing.T) {
	tmpDir := t.TempDir()
	cqlshrcPath := filepath.Join(tmpDir, "cqlshrc")

	cqlshrcContent := `; Test CQLSHRC file
[connection]
hostname = testhost.example.com
port = 9043
ssl = true

[authentication]
username = testuser
password = 'secret'

[ssl]
certfile = /certs/ca.pem
validate = false
`
	if err := os.WriteFile(cqlshrcPath, []byte(cqlshrcContent), 0600); err != nil {
		t.Fatalf("Failed to create test cqlshrc file: %v", err)
	}

	cfg := Default()
	if err := loadCQLSHRC(cqlshrcPath, cfg); err != nil {
		t.Fatalf("Failed to load cqlshrc: %v", err)
	}

	if len(cfg.ContactPoints) != 1 || cfg.ContactPoints[0] != "testhost.example.com" {
		t.Errorf("Expected contact point from cqlshrc, got %v", cfg.ContactPoints)
	}
	if cfg.Port != 9043 {
		t.Errorf("Expected port 9043, got %d", cfg.Port)
	}
	if cfg.Username != "testuser" || cfg.Password != "secret" {
		t.Errorf("Expected credentials from cqlshrc, got %q/%q", cfg.Username, cfg.Password)
	}
	if cfg.SSL == nil || !cfg.SSL.Enabled {
		t.Error("Expected SSL enabled from cqlshrc")
	}
	if cfg.SSL.CAPath != "/certs/ca.pem" {
		t.Errorf("Expected CA path from cqlshrc, got %q", cfg.SSL.CAPath)
	}
	if !cfg.SSL.InsecureSkipVerify {
		t.Error("Expected validate=false to disable verification")
	}
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("CQLCONTROL_CONTACT_POINTS", "10.1.1.1, 10.1.1.2")
	t.Setenv("CQLCONTROL_PORT", "19042")
	t.Setenv("CQLCONTROL_TOKEN_AWARE", "true")
	t.Setenv("CQLCONTROL_USE_SCHEMA", "false")

	cfg := Default()
	OverrideWithEnvVars(cfg)

	if len(cfg.ContactPoints) != 2 || cfg.ContactPoints[1] != "10.1.1.2" {
		t.Errorf("Expected contact points from environment, got %v", cfg.ContactPoints)
	}
	if cfg.Port != 19042 {
		t.Errorf("Expected port 19042, got %d", cfg.Port)
	}
	if !cfg.TokenAwareRouting {
		t.Error("Expected token awareness from environment")
	}
	if cfg.UseSchema {
		t.Error("Expected useSchema disabled from environment")
	}
}

func TestDefaults(t *testing.T) {
	cfg := Default()

	if len(cfg.ContactPoints) != 1 || cfg.ContactPoints[0] != "127.0.0.1" {
		t.Errorf("Unexpected default contact points: %v", cfg.ContactPoints)
	}
	if cfg.Port != 9042 {
		t.Errorf("Unexpected default port: %d", cfg.Port)
	}
	if !cfg.UseSchema {
		t.Error("Schema metadata should default to enabled")
	}
	if cfg.ReconnectWaitMs != 1000 {
		t.Errorf("Unexpected default reconnect wait: %d", cfg.ReconnectWaitMs)
	}
}
