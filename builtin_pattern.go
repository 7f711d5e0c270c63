package cook

import (
	"path/filepath"
	"strconv"
)

// registerPatternBuiltins installs the Pattern family: match/
// matches, match_mask/filter, fromto/patsubst, glob/wildcard, filter_out.
// Every one of these defers its actual pattern logic to match.go, which is
// also what the graph builder and recipe store use.
func registerPatternBuiltins(it *Interp) {
	it.RegisterBuiltin("match", biMatch)
	it.RegisterBuiltin("matches", biMatch)
	it.RegisterBuiltin("match_mask", biFilter)
	it.RegisterBuiltin("filter", biFilter)
	it.RegisterBuiltin("fromto", biFromto)
	it.RegisterBuiltin("patsubst", biFromto)
	it.RegisterBuiltin("glob", biGlob)
	it.RegisterBuiltin("wildcard", biGlob)
	it.RegisterBuiltin("filter_out", biFilterOut)
}

func (it *Interp) matchMode() MatchMode {
	if it.Options != nil && it.Options.Test(OptMatchModeRegex) {
		return ModeRegex
	}
	return ModePercent
}

// biMatch returns the 1-based index of the first pattern (args[1:]) that
// matches args[0], or empty if none does: `match WORD PATTERNS...`.
func biMatch(it *Interp, scope *Scope, args []string, pos Position) ([]string, error) {
	if err := requireArgs("match", pos, args, 1, -1); err != nil {
		return nil, err
	}
	word := args[0]
	mode := it.matchMode()
	for i, pat := range args[1:] {
		ctx, err := Compile(mode, pat)
		if err != nil {
			return nil, err
		}
		if ok, _ := ctx.Execute(word); ok {
			return []string{strconv.Itoa(i + 1)}, nil
		}
	}
	return nil, nil
}

// biFilter keeps only the words (args[1:]) matching pattern args[0]:
// `filter PATTERN WORDS...`.
func biFilter(it *Interp, scope *Scope, args []string, pos Position) ([]string, error) {
	if err := requireArgs("filter", pos, args, 1, -1); err != nil {
		return nil, err
	}
	ctx, err := Compile(it.matchMode(), args[0])
	if err != nil {
		return nil, err
	}
	var out []string
	for _, w := range args[1:] {
		if ok, _ := ctx.Execute(w); ok {
			out = append(out, w)
		}
	}
	return out, nil
}

// biFilterOut keeps only the words NOT matching pattern args[0].
func biFilterOut(it *Interp, scope *Scope, args []string, pos Position) ([]string, error) {
	if err := requireArgs("filter_out", pos, args, 1, -1); err != nil {
		return nil, err
	}
	ctx, err := Compile(it.matchMode(), args[0])
	if err != nil {
		return nil, err
	}
	var out []string
	for _, w := range args[1:] {
		if ok, _ := ctx.Execute(w); !ok {
			out = append(out, w)
		}
	}
	return out, nil
}

// biFromto reconstructs each word (args[2:]) matched against FROM pattern
// args[0] through the TO pattern args[1]: `fromto FROM TO WORDS...`. Words
// that don't match FROM pass through unchanged.
func biFromto(it *Interp, scope *Scope, args []string, pos Position) ([]string, error) {
	if err := requireArgs("fromto", pos, args, 2, -1); err != nil {
		return nil, err
	}
	from, to := args[0], args[1]
	ctx, err := Compile(it.matchMode(), from)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, w := range args[2:] {
		ok, _ := ctx.Execute(w)
		if !ok {
			out = append(out, w)
			continue
		}
		repl, err := ctx.ReconstructRHS(to, pos)
		if err != nil {
			return nil, err
		}
		out = append(out, repl)
	}
	return out, nil
}

// biGlob expands filesystem wildcard patterns via filepath.Glob.
func biGlob(it *Interp, scope *Scope, args []string, pos Position) ([]string, error) {
	var out []string
	for _, pat := range args {
		matches, err := filepath.Glob(pat)
		if err != nil {
			return nil, err
		}
		out = append(out, matches...)
	}
	return out, nil
}
