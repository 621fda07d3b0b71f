package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, contents string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func TestLoadFillsDefaultsAndParsesDurations(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "system.yaml", `
data_dir: /var/lib/disorder
queue_pad: 5
replay_min: 2h
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.QueuePad)
	assert.Equal(t, "/var/lib/disorder", cfg.DataDir)
	assert.Equal(t, 2*3600*1e9, float64(cfg.ReplayMin))
	assert.Equal(t, "unicast", cfg.RTPAddressing)
}

func TestLoadRejectsBadRTPAddressing(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "system.yaml", `
data_dir: /var/lib/disorder
rtp_addressing: carrier-pigeon
`)
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadRejectsMissingDataDir(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "system.yaml", `
listeners: [":9999"]
`)
	_, err := Load(path)
	assert.Error(t, err)
}

func TestHolderReloadsOnFileChange(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "system.yaml", "data_dir: /var/lib/disorder\nqueue_pad: 1\n")

	h, err := NewHolder(path, nil)
	require.NoError(t, err)
	require.NoError(t, h.Watch())
	t.Cleanup(h.Stop)

	reloaded := make(chan *System, 1)
	h.OnReload(func(c *System) { reloaded <- c })

	writeFile(t, dir, "system.yaml", "data_dir: /var/lib/disorder\nqueue_pad: 9\n")

	select {
	case c := <-reloaded:
		assert.Equal(t, 9, c.QueuePad)
	case <-time.After(2 * time.Second):
		t.Fatal("reload did not fire")
	}
}
