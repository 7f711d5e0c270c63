package cook

import (
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

// registerFSBuiltins installs the Filesystem family: exists,
// exists-symlink, readlink, mtime, mtime-seconds, cando, find_command.
func registerFSBuiltins(it *Interp) {
	it.RegisterBuiltin("exists", biExists)
	it.RegisterBuiltin("exists-symlink", biExistsSymlink)
	it.RegisterBuiltin("readlink", biReadlink)
	it.RegisterBuiltin("mtime", biMtime)
	it.RegisterBuiltin("mtime-seconds", biMtimeSeconds)
	it.RegisterBuiltin("cando", biCando)
	it.RegisterBuiltin("find_command", biFindCommand)
}

func biExists(it *Interp, scope *Scope, args []string, pos Position) ([]string, error) {
	var out []string
	for _, a := range args {
		if it.FS.Exists(a) {
			out = append(out, a)
		}
	}
	return out, nil
}

// biExistsSymlink reports existence following symlink semantics: a dangling
// symlink still counts as "exists" here, unlike biExists which goes through
// the stat cache (os.Stat already follows links; os.Lstat does not).
func biExistsSymlink(it *Interp, scope *Scope, args []string, pos Position) ([]string, error) {
	var out []string
	for _, a := range args {
		if _, err := os.Lstat(a); err == nil {
			out = append(out, a)
		}
	}
	return out, nil
}

func biReadlink(it *Interp, scope *Scope, args []string, pos Position) ([]string, error) {
	out := make([]string, 0, len(args))
	for _, a := range args {
		target, err := os.Readlink(a)
		if err != nil {
			continue
		}
		out = append(out, target)
	}
	return out, nil
}

func biMtime(it *Interp, scope *Scope, args []string, pos Position) ([]string, error) {
	out := make([]string, len(args))
	for i, a := range args {
		out[i] = it.FS.Mtime(a).UTC().Format("2006-01-02T15:04:05Z")
	}
	return out, nil
}

func biMtimeSeconds(it *Interp, scope *Scope, args []string, pos Position) ([]string, error) {
	out := make([]string, len(args))
	for i, a := range args {
		out[i] = strconv.FormatInt(it.FS.Mtime(a).Unix(), 10)
	}
	return out, nil
}

// biCando checks a permission class against a path: `cando PERM PATHS...`
// where PERM is one of read/write/execute.
func biCando(it *Interp, scope *Scope, args []string, pos Position) ([]string, error) {
	if err := requireArgs("cando", pos, args, 2, -1); err != nil {
		return nil, err
	}
	perm := args[0]
	var mask os.FileMode
	switch perm {
	case "read":
		mask = 0o444
	case "write":
		mask = 0o222
	case "execute":
		mask = 0o111
	default:
		return nil, argError("cando", pos, `"read", "write", or "execute"`, args)
	}
	var out []string
	for _, path := range args[1:] {
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		if info.Mode()&mask != 0 {
			out = append(out, path)
		}
	}
	return out, nil
}

// biFindCommand searches PATH for the first matching executable, the way
// exec.LookPath does, but checked against every word given so a recipe can
// probe for the first of several candidate tool names.
func biFindCommand(it *Interp, scope *Scope, args []string, pos Position) ([]string, error) {
	pathDirs := strings.Split(os.Getenv("PATH"), string(os.PathListSeparator))
	for _, name := range args {
		if strings.Contains(name, string(os.PathSeparator)) {
			if it.FS.IsExecutable(name) {
				return []string{name}, nil
			}
			continue
		}
		if full, err := exec.LookPath(name); err == nil {
			return []string{full}, nil
		}
		for _, dir := range pathDirs {
			candidate := filepath.Join(dir, name)
			if it.FS.IsExecutable(candidate) {
				return []string{candidate}, nil
			}
		}
	}
	return nil, nil
}
