package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeTemp(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "node.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeTemp(t, "name: foo@localhost\ncookie: secret\n")
	c, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.ListenAddr != defaultListenAddr {
		t.Errorf("expected default listen addr, got %q", c.ListenAddr)
	}
	if c.EPMDHost != defaultEPMDHost {
		t.Errorf("expected default epmd host, got %q", c.EPMDHost)
	}
	if c.TickTime != defaultTickTime {
		t.Errorf("expected default tick time, got %v", c.TickTime)
	}
}

func TestLoadRespectsExplicitValues(t *testing.T) {
	path := writeTemp(t, `
name: foo@localhost
cookie: secret
listen_addr: ":9999"
epmd_host: epmd.internal
epmd_port: 4370
tick_time: 30s
peers:
  - bar@otherhost
`)
	c, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.ListenAddr != ":9999" || c.EPMDHost != "epmd.internal" || c.EPMDPort != 4370 {
		t.Fatalf("unexpected config: %+v", c)
	}
	if c.TickTime != 30*time.Second {
		t.Fatalf("expected 30s tick time, got %v", c.TickTime)
	}
	if len(c.Peers) != 1 || c.Peers[0] != "bar@otherhost" {
		t.Fatalf("unexpected peers: %+v", c.Peers)
	}
}

func TestLoadRejectsMissingName(t *testing.T) {
	path := writeTemp(t, "cookie: secret\n")
	if _, err := Load(path); err == nil {
		t.Fatalf("expected error for missing name")
	}
}
