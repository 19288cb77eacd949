package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tempLogPath(t *testing.T) string {
	t.Helper()
	ResetLogger()
	path := filepath.Join(t.TempDir(), "entlink.log")
	SetLogPath(path)
	return path
}

func TestInitLoggerCreatesLogFile(t *testing.T) {
	path := tempLogPath(t)

	InitLogger()
	require.NotNil(t, log)

	log.Info("test log message")
	Sync()

	_, err := os.Stat(path)
	assert.NoError(t, err, "log file should exist after init")
}

func TestGetLoggerInitializesLazily(t *testing.T) {
	path := tempLogPath(t)

	l := GetLogger()
	require.NotNil(t, l)

	l.Info("lazy init works")
	Sync()

	_, err := os.Stat(path)
	assert.NoError(t, err)
}

func TestLogMessagesReachFile(t *testing.T) {
	path := tempLogPath(t)

	InitLogger()
	log.Info("writing to log file")
	Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "writing to log file")
}

func TestResetLoggerAllowsReinit(t *testing.T) {
	first := tempLogPath(t)
	InitLogger()
	log.Info("first")
	Sync()

	second := tempLogPath(t)
	InitLogger()
	log.Info("second")
	Sync()

	data, err := os.ReadFile(second)
	require.NoError(t, err)
	assert.Contains(t, string(data), "second")

	firstData, err := os.ReadFile(first)
	require.NoError(t, err)
	assert.NotContains(t, string(firstData), "second")
}
