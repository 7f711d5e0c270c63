package cook

import "strconv"

// registerBoolBuiltins installs the Boolean family: if, not,
// and, or, in. A word list is "true" when non-empty and not a single empty
// word (isEmptyWordList in interp.go draws the same line for goto-if-empty),
// so these builtins compose naturally with recipe preconditions.
func registerBoolBuiltins(it *Interp) {
	it.RegisterBuiltin("if", biIf)
	it.RegisterBuiltin("not", biNot)
	it.RegisterBuiltin("and", biAnd)
	it.RegisterBuiltin("or", biOr)
	it.RegisterBuiltin("in", biIn)
}

// biIf implements `if COND THEN ELSE`: args[0] is the condition, a literal
// "," word separates the then-branch from the else-branch in the remaining
// words (absent means no else-branch).
func biIf(it *Interp, scope *Scope, args []string, pos Position) ([]string, error) {
	if err := requireArgs("if", pos, args, 1, -1); err != nil {
		return nil, err
	}
	cond := args[0] != ""
	then, els := splitOnComma(args[1:])
	if cond {
		return then, nil
	}
	return els, nil
}

func splitOnComma(words []string) (then, els []string) {
	for i, w := range words {
		if w == "," {
			return words[:i], words[i+1:]
		}
	}
	return words, nil
}

// biNot returns a single truthy word when args is empty/falsy, else empty.
func biNot(it *Interp, scope *Scope, args []string, pos Position) ([]string, error) {
	if isEmptyWordList(args) {
		return []string{"1"}, nil
	}
	return nil, nil
}

// biAnd returns its last argument if every argument is non-empty, else
// empty.
func biAnd(it *Interp, scope *Scope, args []string, pos Position) ([]string, error) {
	if len(args) == 0 {
		return []string{"1"}, nil
	}
	for _, a := range args {
		if a == "" {
			return nil, nil
		}
	}
	return args[len(args)-1:], nil
}

// biOr returns the first non-empty argument, else empty.
func biOr(it *Interp, scope *Scope, args []string, pos Position) ([]string, error) {
	for _, a := range args {
		if a != "" {
			return []string{a}, nil
		}
	}
	return nil, nil
}

// biIn returns the 1-based index of the first occurrence of args[0] among
// args[1:], or empty if absent.
func biIn(it *Interp, scope *Scope, args []string, pos Position) ([]string, error) {
	if err := requireArgs("in", pos, args, 1, -1); err != nil {
		return nil, err
	}
	needle := args[0]
	for i, w := range args[1:] {
		if w == needle {
			return []string{strconv.Itoa(i + 1)}, nil
		}
	}
	return nil, nil
}
