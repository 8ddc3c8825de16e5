package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadMissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	require.Equal(t, 200, cfg.MaxHistory)
	require.Equal(t, time.Second, cfg.Probe.HTTPInterval())
	require.Equal(t, 500*time.Millisecond, cfg.Probe.WSInterval())
	require.Equal(t, ":9091", cfg.Observer.Addr)
	require.Equal(t, DefaultWSPort, cfg.Agent.WSPort)
}

func TestLoadRepairsRecoverableValues(t *testing.T) {
	path := writeConfig(t, `
node_id: bastion
max_history: -5
probe:
  http_interval_ms: 0
  ws_interval_ms: 250
observer:
  poll_interval_ms: -1
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "bastion", cfg.NodeID)
	require.Equal(t, 200, cfg.MaxHistory)
	require.Equal(t, time.Second, cfg.Probe.HTTPInterval())
	require.Equal(t, 250*time.Millisecond, cfg.Probe.WSInterval())
	require.Equal(t, time.Second, cfg.Observer.PollInterval())
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	path := writeConfig(t, "observer: [not a map")
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadRejectsIncompleteTargets(t *testing.T) {
	path := writeConfig(t, `
observer:
  nodeports:
    - name: peer-1-np
      host: 10.0.0.1
      ws_port: 30926
`)
	_, err := Load(path)
	require.Error(t, err)
	require.Contains(t, err.Error(), "peer-1-np")

	path = writeConfig(t, `
observer:
  routes:
    - name: peer-1-route
`)
	_, err = Load(path)
	require.Error(t, err)
}

func TestDerivedTimeouts(t *testing.T) {
	path := writeConfig(t, `
probe:
  ws_interval_ms: 500
  tcp_interval_ms: 400
  ack_grace_ms: 300
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 800*time.Millisecond, cfg.Probe.PongTimeout())
	require.Equal(t, 700*time.Millisecond, cfg.Probe.EchoTimeout())
}
