package cook

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-isatty"
)

// FSOracle answers existence/mtime/path questions about the workspace,
// caching results by path so a build never stats the same file twice. It is
// shared by the graph builder, the scheduler, and the interpreter;
// callers that need fresh answers (after a recipe writes its targets)
// invalidate the affected paths.
type FSOracle struct {
	mu    sync.RWMutex
	stats map[string]statEntry
	cwd   string
}

type statEntry struct {
	exists bool
	mtime  time.Time
	isExec bool
}

// NewFSOracle returns an oracle rooted at the process's current directory.
func NewFSOracle() *FSOracle {
	cwd, _ := os.Getwd()
	return &FSOracle{stats: make(map[string]statEntry), cwd: cwd}
}

func (o *FSOracle) lookup(path string) (statEntry, bool) {
	o.mu.RLock()
	e, ok := o.stats[path]
	o.mu.RUnlock()
	return e, ok
}

func (o *FSOracle) stat(path string) statEntry {
	if e, ok := o.lookup(path); ok {
		return e
	}

	info, err := os.Stat(path)
	var e statEntry
	if err == nil {
		e = statEntry{exists: true, mtime: info.ModTime(), isExec: info.Mode()&0o111 != 0}
	}
	// File-not-found is a normal result, not an error: e stays the zero
	// value (exists=false) for any Stat failure, including permission
	// errors.
	_ = err

	o.mu.Lock()
	o.stats[path] = e
	o.mu.Unlock()
	return e
}

// Exists reports whether path exists.
func (o *FSOracle) Exists(path string) bool { return o.stat(path).exists }

// Mtime returns path's modification time, or the zero time if it does not
// exist.
func (o *FSOracle) Mtime(path string) time.Time { return o.stat(path).mtime }

// IsExecutable reports whether path exists and has any execute bit set.
func (o *FSOracle) IsExecutable(path string) bool {
	e := o.stat(path)
	return e.exists && e.isExec
}

// Dirname returns the directory component of path, mirroring
// filepath.Dir's "." for a bare filename.
func (o *FSOracle) Dirname(path string) string { return filepath.Dir(path) }

// Entryname returns the final path component.
func (o *FSOracle) Entryname(path string) string { return filepath.Base(path) }

// Canonicalise resolves symlinks and returns an absolute, cleaned path. If
// the path does not exist, it is cleaned but not resolved.
func (o *FSOracle) Canonicalise(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return filepath.Clean(abs), nil
		}
		return "", err
	}
	return resolved, nil
}

// RelativeIfPossible shortens path to be relative to the oracle's working
// directory when that is unambiguous and safe (does not escape upward past
// a point that would be more confusing than the absolute form).
func (o *FSOracle) RelativeIfPossible(path string) string {
	if o.cwd == "" {
		return path
	}
	rel, err := filepath.Rel(o.cwd, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return path
	}
	return rel
}

// Readdir lists entry names of a directory, sorted implicitly by the
// underlying os.ReadDir call.
func (o *FSOracle) Readdir(path string) ([]string, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Name()
	}
	return names, nil
}

// MakeSymlinkTree recreates the directory structure of "from" under "to",
// symlinking each regular file found. Used by recipes that stage a read-only
// ingredient tree for a sandboxed build step.
func (o *FSOracle) MakeSymlinkTree(from, to string) error {
	return filepath.Walk(from, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(from, path)
		if err != nil {
			return err
		}
		dest := filepath.Join(to, rel)
		if info.IsDir() {
			return os.MkdirAll(dest, 0o755)
		}
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return err
		}
		abs, err := filepath.Abs(path)
		if err != nil {
			return err
		}
		_ = os.Remove(dest)
		return os.Symlink(abs, dest)
	})
}

// InvalidateStatCache drops all cached stat results. Bound to the
// invalidate-stat-cache option.
func (o *FSOracle) InvalidateStatCache() {
	o.mu.Lock()
	o.stats = make(map[string]statEntry)
	o.mu.Unlock()
}

// Invalidate drops the cached stat result for a single path, called after
// a recipe is known to have written it.
func (o *FSOracle) Invalidate(path string) {
	o.mu.Lock()
	delete(o.stats, path)
	o.mu.Unlock()
}

// IsTerminal reports whether fd refers to a terminal, backing the
// `terminal` option.
func IsTerminal(fd uintptr) bool {
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
