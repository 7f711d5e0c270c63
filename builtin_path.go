package cook

import (
	"path/filepath"
	"strings"
)

// registerPathBuiltins installs the Path family: dir/
// dirname, entryname/notdir, pathname, dos-path, dos-path-undo,
// un-dos-path.
func registerPathBuiltins(it *Interp) {
	it.RegisterBuiltin("dir", biDirname)
	it.RegisterBuiltin("dirname", biDirname)
	it.RegisterBuiltin("entryname", biEntryname)
	it.RegisterBuiltin("notdir", biEntryname)
	it.RegisterBuiltin("pathname", biPathname)
	it.RegisterBuiltin("dos-path", biDosPath)
	it.RegisterBuiltin("dos-path-undo", biUnDosPath)
	it.RegisterBuiltin("un-dos-path", biUnDosPath)
}

func biDirname(it *Interp, scope *Scope, args []string, pos Position) ([]string, error) {
	out := make([]string, len(args))
	for i, a := range args {
		out[i] = filepath.Dir(a)
	}
	return out, nil
}

func biEntryname(it *Interp, scope *Scope, args []string, pos Position) ([]string, error) {
	out := make([]string, len(args))
	for i, a := range args {
		out[i] = filepath.Base(a)
	}
	return out, nil
}

// biPathname resolves each word to an absolute, cleaned path via the
// shared filesystem oracle.
func biPathname(it *Interp, scope *Scope, args []string, pos Position) ([]string, error) {
	out := make([]string, len(args))
	for i, a := range args {
		abs, err := it.FS.Canonicalise(a)
		if err != nil {
			return nil, err
		}
		out[i] = abs
	}
	return out, nil
}

// biDosPath converts forward slashes to backslashes, for recipes that shell
// out to a Windows toolchain.
func biDosPath(it *Interp, scope *Scope, args []string, pos Position) ([]string, error) {
	out := make([]string, len(args))
	for i, a := range args {
		out[i] = strings.ReplaceAll(a, "/", `\`)
	}
	return out, nil
}

func biUnDosPath(it *Interp, scope *Scope, args []string, pos Position) ([]string, error) {
	out := make([]string, len(args))
	for i, a := range args {
		out[i] = strings.ReplaceAll(a, `\`, "/")
	}
	return out, nil
}
