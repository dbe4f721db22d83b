package wizard

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hazyhaar/scrapewizard/internal/scanner"
)

func TestDefaultConfig(t *testing.T) {
	c := DefaultConfig()
	assert.Equal(t, 40, c.Scanner.HostilityThreshold)
	assert.Equal(t, 3, c.Codegen.MaxRepairAttempts)
	assert.Equal(t, 2, c.Codegen.MaxGenerationRetries)
	assert.Equal(t, 2, c.Codegen.MaxStructuralFixes)
	assert.Equal(t, 0.20, c.Harness.QualityThreshold)
	assert.Equal(t, 90*time.Second, c.Harness.TestTimeout)
	assert.Equal(t, "output", c.Output.Dir)
	assert.False(t, c.CI)
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scrapewizard.yaml")
	data := `
scanner:
  window: 6s
  hostility_threshold: 55
  weights:
    captcha: 40
codegen:
  max_repair_attempts: 5
harness:
  quality_threshold: 0.35
  block_resources: true
output:
  dir: /tmp/sw
events:
  prometheus: true
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	c, err := LoadConfigFile(path)
	require.NoError(t, err)
	assert.Equal(t, 6*time.Second, c.Scanner.Window)
	assert.Equal(t, 55, c.Scanner.HostilityThreshold)
	assert.Equal(t, 5, c.Codegen.MaxRepairAttempts)
	assert.Equal(t, 2, c.Codegen.MaxStructuralFixes, "unset keeps default")
	assert.Equal(t, 0.35, c.Harness.QualityThreshold)
	assert.True(t, c.Harness.BlockResources)
	assert.Equal(t, "/tmp/sw", c.Output.Dir)
	assert.True(t, c.Events.Prometheus)
	assert.Equal(t, "scrapewizard.events", c.Events.NATSSubject)

	w := c.Scanner.Weights.Weights()
	d := scanner.DefaultWeights()
	assert.Equal(t, 40, w.Captcha)
	assert.Equal(t, d.Vendor, w.Vendor)
}

func TestLoadConfigFileErrors(t *testing.T) {
	_, err := LoadConfigFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("scanner: [1, 2"), 0o644))
	_, err = LoadConfigFile(path)
	assert.Error(t, err)
}
