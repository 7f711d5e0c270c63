package cook

import "fmt"

// RegisterStandardLibrary installs the full builtin library
// into it. Split across builtin_bool.go, builtin_text.go, builtin_path.go,
// builtin_pattern.go, builtin_fs.go, builtin_process.go and
// builtin_introspect.go by family.
func RegisterStandardLibrary(it *Interp) {
	registerBoolBuiltins(it)
	registerTextBuiltins(it)
	registerPathBuiltins(it)
	registerPatternBuiltins(it)
	registerFSBuiltins(it)
	registerProcessBuiltins(it)
	registerIntrospectBuiltins(it)
}

// argError formats the position-tagged diagnostic every builtin emits when
// its argument count or shape is wrong.
func argError(name string, pos Position, want string, got []string) error {
	return fmt.Errorf("%s: %s: expected %s, got %d argument(s)", pos, name, want, len(got))
}

func requireArgs(name string, pos Position, args []string, min, max int) error {
	if len(args) < min || (max >= 0 && len(args) > max) {
		want := fmt.Sprintf("%d", min)
		if max < 0 {
			want = fmt.Sprintf("at least %d", min)
		} else if max != min {
			want = fmt.Sprintf("%d-%d", min, max)
		}
		return argError(name, pos, want+" argument(s)", args)
	}
	return nil
}
