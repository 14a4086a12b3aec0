package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWritePIDFile_LockLifecycle(t *testing.T) {
	t.Parallel()

	path := servePIDPath(filepath.Join(t.TempDir(), "nested", "history.db"))

	release, err := writePIDFile(path)
	require.NoError(t, err)

	pid, err := readPIDFile(path)
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)

	again, err := writePIDFile(path)
	require.ErrorIs(t, err, errServeRunning)
	assert.Nil(t, again)

	release()

	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))

	// The lock is free again once released.
	release, err = writePIDFile(path)
	require.NoError(t, err)
	release()
}

func TestWritePIDFile_OverwritesStalePID(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), servePIDName)
	require.NoError(t, os.WriteFile(path, []byte("99999999999\nleftover\n"), 0o644))

	release, err := writePIDFile(path)
	require.NoError(t, err)
	defer release()

	pid, err := readPIDFile(path)
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)
}

func TestWritePIDFile_EmptyPath(t *testing.T) {
	t.Parallel()

	release, err := writePIDFile("")
	require.Error(t, err)
	assert.Nil(t, release)
	assert.Contains(t, err.Error(), "empty")
}

func TestReadPIDFile(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		content string
		want    int
		wantErr string
	}{
		{name: "valid", content: "12345\n", want: 12345},
		{name: "garbage", content: "not-a-pid\n", wantErr: "invalid PID"},
		{name: "zero", content: "0", wantErr: "invalid PID"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			path := filepath.Join(t.TempDir(), servePIDName)
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0o644))

			pid, err := readPIDFile(path)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.want, pid)
		})
	}

	_, err := readPIDFile(filepath.Join(t.TempDir(), "missing.pid"))
	assert.Error(t, err)
}

func TestRunningServer(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := servePIDPath(filepath.Join(dir, "history.db"))
	assert.Equal(t, filepath.Join(dir, servePIDName), path)

	assert.Zero(t, runningServer(path))

	release, err := writePIDFile(path)
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), runningServer(path))

	release()
	assert.Zero(t, runningServer(path))
}

func TestRunningServer_StalePID(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), servePIDName)
	// PID 999999999 is almost certainly not a running process.
	require.NoError(t, os.WriteFile(path, []byte("999999999\n"), 0o644))

	assert.Zero(t, runningServer(path))
}
