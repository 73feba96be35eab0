package cachelock

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/go-ps"

	"github.com/oshokin/libpack/internal/logger"
)

const (
	// Filename is the lock file name inside the cache directory.
	Filename = ".libpack.lock"

	// lockFileMode restricts the lock file to the current user.
	lockFileMode os.FileMode = 0o600
	// cacheDirMode is used when the cache directory does not exist yet.
	cacheDirMode os.FileMode = 0o755

	// unreadableGrace is how long a lock without a valid pid counts as held.
	// A competing run may have created the file and not written its pid yet.
	unreadableGrace = 10 * time.Second
)

// ErrLocked is returned when another live process holds the cache lock.
var ErrLocked = errors.New("cache directory is locked by another run")

// processFinder looks up a process by id; it is replaced in tests.
type processFinder func(pid int) (ps.Process, error)

// Lock is a held cache lock.
type Lock struct {
	// path is the lock file location.
	path string
	// pid is the process id written to the lock file.
	pid int
}

// Acquire takes the lock for cacheDir, creating the directory when needed.
func Acquire(ctx context.Context, cacheDir string) (*Lock, error) {
	return acquire(ctx, cacheDir, os.Getpid(), ps.FindProcess)
}

// acquire implements Acquire with an injectable pid and process lookup.
func acquire(ctx context.Context, cacheDir string, pid int, find processFinder) (*Lock, error) {
	if err := os.MkdirAll(cacheDir, cacheDirMode); err != nil {
		return nil, fmt.Errorf("create cache directory: %w", err)
	}

	path := filepath.Join(cacheDir, Filename)

	// Two passes: the second one runs after a stale lock was removed.
	for range 2 {
		err := create(path, pid)
		if err == nil {
			logger.DebugKV(ctx, "Acquired cache lock", "path", path, "pid", pid)

			return &Lock{path: path, pid: pid}, nil
		}

		if !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("create cache lock: %w", err)
		}

		owner, alive, err := inspect(path, find)
		if err != nil {
			return nil, err
		}

		if alive && owner == 0 {
			return nil, fmt.Errorf("%w: %s is being created by another run", ErrLocked, path)
		}

		if alive && owner != pid {
			return nil, fmt.Errorf("%w: %s held by pid %d", ErrLocked, path, owner)
		}

		logger.InfoKV(ctx, "Removing stale cache lock", "path", path, "owner_pid", owner)

		if err = os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("remove stale cache lock: %w", err)
		}
	}

	return nil, fmt.Errorf("%w: %s", ErrLocked, path)
}

// Release removes the lock file if it still belongs to this lock.
func (l *Lock) Release() error {
	if l == nil {
		return nil
	}

	contents, err := os.ReadFile(l.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}

		return fmt.Errorf("read cache lock: %w", err)
	}

	if owner, parseErr := strconv.Atoi(strings.TrimSpace(string(contents))); parseErr == nil && owner != l.pid {
		// Someone else took over a lock they considered stale; leave it alone.
		return nil
	}

	if err = os.Remove(l.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove cache lock: %w", err)
	}

	return nil
}

// Path returns the lock file location.
func (l *Lock) Path() string {
	return l.path
}

// create writes pid to a new lock file, failing if it already exists.
func create(path string, pid int) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, lockFileMode)
	if err != nil {
		return err
	}

	if _, err = f.WriteString(strconv.Itoa(pid)); err != nil {
		_ = f.Close()
		_ = os.Remove(path)

		return err
	}

	return f.Close()
}

// inspect reads the owner pid of an existing lock and reports whether that process is alive.
// A lock without a valid pid is held (owner 0) while it is younger than unreadableGrace
// and stale afterwards.
func inspect(path string, find processFinder) (int, bool, error) {
	contents, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, false, nil
		}

		return 0, false, fmt.Errorf("read cache lock: %w", err)
	}

	owner, err := strconv.Atoi(strings.TrimSpace(string(contents)))
	if err != nil || owner <= 0 {
		info, statErr := os.Stat(path)
		if statErr != nil {
			if errors.Is(statErr, os.ErrNotExist) {
				return 0, false, nil
			}

			return 0, false, fmt.Errorf("stat cache lock: %w", statErr)
		}

		return 0, time.Since(info.ModTime()) < unreadableGrace, nil
	}

	process, err := find(owner)
	if err != nil {
		return owner, false, fmt.Errorf("look up lock owner %d: %w", owner, err)
	}

	return owner, process != nil, nil
}
