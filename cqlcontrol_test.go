package cqlcontrol

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestOpenFromConfigFile(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "cqlcontrol.json")

	content := `{
		"contactPoints": ["10.0.0.1:9042", "10.0.0.2"],
		"port": 9043,
		"useSchema": true
	}`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	ctl, cfg, err := Open(Options{
		ConfigPath: path,
		Registerer: prometheus.NewRegistry(),
	})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if ctl == nil {
		t.Fatal("expected a control channel")
	}

	addrs, err := ContactAddresses(cfg)
	if err != nil {
		t.Fatalf("ContactAddresses failed: %v", err)
	}
	if len(addrs) != 2 {
		t.Fatalf("expected 2 addresses, got %v", addrs)
	}
	// An explicit port on the contact point wins over the config port.
	if addrs[0].Port != 9042 {
		t.Errorf("expected explicit port 9042, got %d", addrs[0].Port)
	}
	if addrs[1].Port != 9043 {
		t.Errorf("expected config port 9043, got %d", addrs[1].Port)
	}
}

func TestOpenMissingConfigFails(t *testing.T) {
	if _, _, err := Open(Options{ConfigPath: "/nonexistent/config.json"}); err == nil {
		t.Error("expected error for missing config file")
	}
}
