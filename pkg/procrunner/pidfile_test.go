package process

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writePIDFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.pid")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestReadPIDFileOfLiveProcess(t *testing.T) {
	myPID := os.Getpid()
	path := writePIDFile(t, strconv.Itoa(myPID)+"\n")

	pid, result, err := ReadPIDFile(path)

	require.NoError(t, err)
	assert.Equal(t, PIDResultOK, result)
	assert.Equal(t, myPID, pid)
}

func TestReadPIDFileRejectsGarbage(t *testing.T) {
	path := writePIDFile(t, "not-a-number\n")

	_, result, err := ReadPIDFile(path)

	assert.Equal(t, PIDResultFailed, result)
	assert.Error(t, err)
}

func TestReadPIDFileOfDeadProcess(t *testing.T) {
	const unlikelyPID = 4194304
	path := writePIDFile(t, strconv.Itoa(unlikelyPID)+"\n")

	pid, result, err := ReadPIDFile(path)

	assert.Equal(t, PIDResultTerminated, result)
	assert.Equal(t, unlikelyPID, pid)
	assert.NoError(t, err)
}

func TestReadPIDFileMissingPath(t *testing.T) {
	_, result, err := ReadPIDFile(filepath.Join(t.TempDir(), "does-not-exist.pid"))

	assert.Equal(t, PIDResultFailed, result)
	assert.Error(t, err)
}
