package cook

import (
	"os"
	"runtime"
	"strconv"

	"github.com/google/uuid"
)

// registerIntrospectBuiltins installs the Introspection family: defined,
// options, operating_system, os, home, getenv, thread-id, __FILE__,
// __LINE__.
func registerIntrospectBuiltins(it *Interp) {
	it.RegisterBuiltin("defined", biDefined)
	it.RegisterBuiltin("options", biOptions)
	it.RegisterBuiltin("operating_system", biOperatingSystem)
	it.RegisterBuiltin("os", biOperatingSystem)
	it.RegisterBuiltin("home", biHome)
	it.RegisterBuiltin("getenv", biGetenv)
	it.RegisterBuiltin("thread-id", biThreadID)
	it.RegisterBuiltin("__FILE__", biFile)
	it.RegisterBuiltin("__LINE__", biLine)
}

// biDefined reports, per name in args, whether a variable is bound
// anywhere in the calling scope's chain.
func biDefined(it *Interp, scope *Scope, args []string, pos Position) ([]string, error) {
	var out []string
	for _, name := range args {
		if _, ok := scope.find(name); ok {
			out = append(out, name)
		}
	}
	return out, nil
}

// biOptions reports which of args are currently set true on the option
// stack.
func biOptions(it *Interp, scope *Scope, args []string, pos Position) ([]string, error) {
	var out []string
	for _, name := range args {
		if it.Options != nil && it.Options.Test(Option(name)) {
			out = append(out, name)
		}
	}
	return out, nil
}

func biOperatingSystem(it *Interp, scope *Scope, args []string, pos Position) ([]string, error) {
	return []string{runtime.GOOS}, nil
}

func biHome(it *Interp, scope *Scope, args []string, pos Position) ([]string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, nil
	}
	return []string{home}, nil
}

func biGetenv(it *Interp, scope *Scope, args []string, pos Position) ([]string, error) {
	if err := requireArgs("getenv", pos, args, 1, 1); err != nil {
		return nil, err
	}
	if v, ok := it.Env[args[0]]; ok {
		return []string{v}, nil
	}
	return []string{os.Getenv(args[0])}, nil
}

// biThreadID returns a fresh random (v4 uuid) id on every call, repeated
// calls from one recipe instance included; the machine name is not part of
// it.
func biThreadID(it *Interp, scope *Scope, args []string, pos Position) ([]string, error) {
	return []string{uuid.NewString()}, nil
}

func biFile(it *Interp, scope *Scope, args []string, pos Position) ([]string, error) {
	return []string{pos.File}, nil
}

func biLine(it *Interp, scope *Scope, args []string, pos Position) ([]string, error) {
	return []string{strconv.Itoa(pos.Line)}, nil
}
