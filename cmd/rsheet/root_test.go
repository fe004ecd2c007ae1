package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vogtb/rsheet/packages/config"
	"github.com/vogtb/rsheet/packages/spreadsheet"
)

func execute(t *testing.T, stdin string, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cmd := newRootCommand("test")
	cmd.SetArgs(args)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rsheet.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestRootTerminalSession(t *testing.T) {
	out, _, err := execute(t, "set A1 4\nset A2 A1 * A1\nset A1 5\nget A2\nget A1 junk\n", "--log-level", "error")
	require.NoError(t, err)
	assert.Equal(t, "A1 = 4\nA2 = 16\nA1 = 5\nA2 = 25\nError: unexpected argument: \"junk\"\n", out)
}

func TestRootMarkMode(t *testing.T) {
	out, _, err := execute(t, "set A1 1 / 0\n", "-m", "--log-level", "error")
	require.NoError(t, err)
	assert.Equal(t, "Error\n", out)
}

func TestRootSeedCells(t *testing.T) {
	path := writeConfig(t, `
log:
  level: error
cells:
  A1: "3"
  A2: A1 + 1
  B1: sum(A1_A2)
`)
	out, _, err := execute(t, "get B1\nset A1 10\nget B1\n", "--config", path)
	require.NoError(t, err)
	assert.Equal(t, "B1 = 7\nA1 = 10\nB1 = 21\n", out)
}

func TestRootFailingSeedAborts(t *testing.T) {
	path := writeConfig(t, `
log:
  level: error
cells:
  A1: 1 / 0
`)
	out, _, err := execute(t, "get A1\n", "--config", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "seed cells")
	assert.Empty(t, out)
}

func TestRootRejectsBadArguments(t *testing.T) {
	_, _, err := execute(t, "", "127.0.0.1:1", "127.0.0.1:2")
	assert.Error(t, err)

	_, _, err = execute(t, "", "--log-format", "xml")
	assert.ErrorIs(t, err, config.ErrInvalidConfig)

	_, _, err = execute(t, "", "not-an-address")
	assert.ErrorIs(t, err, config.ErrInvalidConfig)
}

func TestResolveConfig(t *testing.T) {
	path := writeConfig(t, `
listen_addr: 127.0.0.1:7000
max_connections: 8
mark_mode: true
log:
  format: json
`)

	t.Run("FileOnly", func(t *testing.T) {
		cmd := newRootCommand("test")
		require.NoError(t, cmd.ParseFlags([]string{"--config", path}))
		cfg, err := resolveConfig(cmd, nil, &rootOptions{configPath: path})
		require.NoError(t, err)
		assert.Equal(t, "127.0.0.1:7000", cfg.ListenAddr)
		assert.Equal(t, 8, cfg.MaxConnections)
		assert.True(t, cfg.MarkMode)
		assert.Equal(t, "json", cfg.Log.Format)
	})

	t.Run("FlagsOverride", func(t *testing.T) {
		cmd := newRootCommand("test")
		require.NoError(t, cmd.ParseFlags([]string{
			"--config", path, "--max-conns", "2", "--mark-mode=false", "--log-level", "debug",
		}))
		opts := &rootOptions{configPath: path, maxConns: 2, markMode: false, logLevel: "debug"}
		cfg, err := resolveConfig(cmd, []string{"127.0.0.1:7001"}, opts)
		require.NoError(t, err)
		assert.Equal(t, "127.0.0.1:7001", cfg.ListenAddr)
		assert.Equal(t, 2, cfg.MaxConnections)
		assert.False(t, cfg.MarkMode)
		assert.Equal(t, "debug", cfg.Log.Level)
		assert.Equal(t, "json", cfg.Log.Format)
	})
}

func TestSeedCellsOrder(t *testing.T) {
	sheet := spreadsheet.NewSheet()
	require.NoError(t, seedCells(sheet, map[string]string{
		"C1": "B1 * 2",
		"A1": "1",
		"B1": "A1 + 1",
	}))
	value, err := sheet.Get("C1")
	require.NoError(t, err)
	assert.Equal(t, int64(4), value.Int)
}

func TestNewLoggerEnvOverride(t *testing.T) {
	var buf bytes.Buffer
	t.Setenv(logLevelEnv, "debug")
	logger := newLogger(config.LogConfig{Level: "error", Format: "json"}, &buf)
	logger.Debug("hello")
	assert.Contains(t, buf.String(), `"msg":"hello"`)

	buf.Reset()
	t.Setenv(logLevelEnv, "nonsense")
	logger = newLogger(config.LogConfig{Level: "error", Format: "text"}, &buf)
	logger.Info("quiet")
	assert.Empty(t, buf.String())
}
