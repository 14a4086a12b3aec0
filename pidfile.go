package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

const (
	servePIDName      = "serve.pid"
	pidFilePerms      = 0o644
	pidDirPermissions = 0o700
)

// errServeRunning is returned when another process holds the serve lock.
var errServeRunning = errors.New("another vidpub serve is already running")

// servePIDPath is the lock file of "vidpub serve", kept next to the history
// database it guards.
func servePIDPath(historyPath string) string {
	return filepath.Join(filepath.Dir(historyPath), servePIDName)
}

// writePIDFile takes a non-blocking flock on path and records our PID in it.
// The lock lives as long as the file descriptor, so a crashed server never
// leaves a stale lock behind, only a stale PID that runningServer ignores.
func writePIDFile(path string) (release func(), err error) {
	if path == "" {
		return nil, errors.New("PID file path is empty: cannot determine data directory")
	}

	if err := os.MkdirAll(filepath.Dir(path), pidDirPermissions); err != nil {
		return nil, fmt.Errorf("creating PID file directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, pidFilePerms)
	if err != nil {
		return nil, fmt.Errorf("opening PID file: %w", err)
	}

	fail := func(err error) (func(), error) {
		f.Close()
		return nil, err
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		return fail(fmt.Errorf("%w (could not lock %s)", errServeRunning, path))
	}

	if err := f.Truncate(0); err != nil {
		return fail(fmt.Errorf("truncating PID file: %w", err))
	}

	if _, err := f.WriteAt([]byte(strconv.Itoa(os.Getpid())+"\n"), 0); err != nil {
		return fail(fmt.Errorf("writing PID file: %w", err))
	}

	if err := f.Sync(); err != nil {
		return fail(fmt.Errorf("syncing PID file: %w", err))
	}

	return func() {
		os.Remove(path)
		f.Close()
	}, nil
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("reading PID file: %w", err)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("invalid PID in %s: %q", path, strings.TrimSpace(string(data)))
	}

	return pid, nil
}

// runningServer returns the PID of a live "vidpub serve", or 0.
func runningServer(pidPath string) int {
	pid, err := readPIDFile(pidPath)
	if err != nil {
		return 0
	}

	proc, err := os.FindProcess(pid)
	if err != nil {
		return 0
	}

	// Signal 0 checks liveness without delivering anything.
	if proc.Signal(syscall.Signal(0)) != nil {
		return 0
	}

	return pid
}
