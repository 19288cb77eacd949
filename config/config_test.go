package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
task: link
left:
  path: data/left.parquet
right:
  path: data/right.parquet
  id_column: customer_id
linker:
  keys: [first, last]
  max_pairs: 1000
  on_slow: warn
cluster:
  enabled: true
output:
  dir: out
  report_path: out/report.json
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "run.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadConfig(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, "link", cfg.Task)
	assert.Equal(t, "data/left.parquet", cfg.Left.Path)
	assert.Equal(t, "customer_id", cfg.Right.IDColumn)
	assert.Equal(t, []string{"first", "last"}, cfg.Linker.Keys)
	assert.Equal(t, int64(1000), cfg.Linker.MaxPairs)
	assert.Equal(t, "warn", cfg.Linker.OnSlow)
	assert.True(t, cfg.Cluster.Enabled)
	assert.Equal(t, "out/report.json", cfg.Output.ReportPath)

	require.NoError(t, cfg.Validate())
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestValidateRejectsBadTask(t *testing.T) {
	cfg := &Config{
		Task:   "merge",
		Left:   InputConfig{Path: "a.parquet"},
		Linker: LinkerConfig{Keys: []string{"k"}},
	}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "task")
}

func TestValidateRequiresLeftPath(t *testing.T) {
	cfg := &Config{Linker: LinkerConfig{Keys: []string{"k"}}}
	require.Error(t, cfg.Validate())
}

func TestValidateLinkNeedsRight(t *testing.T) {
	cfg := &Config{
		Task:   "link",
		Left:   InputConfig{Path: "a.parquet"},
		Linker: LinkerConfig{Keys: []string{"k"}},
	}
	require.Error(t, cfg.Validate())

	cfg.Right.Path = "b.parquet"
	require.NoError(t, cfg.Validate())
}

func TestValidateDedupeNeedsNoRight(t *testing.T) {
	cfg := &Config{
		Task:   "dedupe",
		Left:   InputConfig{Path: "a.parquet"},
		Linker: LinkerConfig{Keys: []string{"k"}},
	}
	require.NoError(t, cfg.Validate())
}

func TestValidateLinkerConfig(t *testing.T) {
	lc := LinkerConfig{}
	require.Error(t, lc.Validate())

	lc.Keys = []string{""}
	require.Error(t, lc.Validate())

	lc.Keys = []string{"first"}
	lc.MaxPairs = -1
	require.Error(t, lc.Validate())

	lc.MaxPairs = 0
	lc.OnSlow = "sometimes"
	require.Error(t, lc.Validate())

	lc.OnSlow = "ignore"
	require.NoError(t, lc.Validate())
}
