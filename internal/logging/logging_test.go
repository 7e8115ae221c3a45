package logging_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ehdtndla123/proxy-server/internal/logging"
)

func TestLogCallsAreNoOpsBeforeInit(t *testing.T) {
	logging.Cleanup()
	require.NotPanics(t, func() {
		logging.Debugf("ignored %d", 1)
		logging.Infof("ignored")
		logging.Warnf("ignored")
		logging.Errorf("ignored")
	})
}

func TestInitWritesToConfiguredFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "proxy.log")

	closer, err := logging.Init(path, logging.LevelInfo)
	require.NoError(t, err)
	defer logging.Cleanup()
	require.NotNil(t, closer)

	logging.Infof("hello from the test suite")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data), "hello from the test suite")
}

func TestInitWithEmptyPathReturnsNilCloser(t *testing.T) {
	closer, err := logging.Init("", logging.LevelDebug)
	require.NoError(t, err)
	defer logging.Cleanup()
	require.Nil(t, closer)

	require.NotPanics(t, func() {
		logging.Debugf("stderr only")
	})
}

func TestCleanupMakesSubsequentCallsNoOps(t *testing.T) {
	_, err := logging.Init("", logging.LevelInfo)
	require.NoError(t, err)

	logging.Cleanup()
	require.NotPanics(t, func() {
		logging.Infof("after cleanup")
	})
}
