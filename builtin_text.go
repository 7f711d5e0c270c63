package cook

import (
	"sort"
	"strconv"
	"strings"
)

// registerTextBuiltins installs the Text family: upcase,
// downcase, catenate, head, tail, count, sort, quote, prepost, split,
// unsplit, substr, strlen, stringset, strip, stripdot, subst.
func registerTextBuiltins(it *Interp) {
	it.RegisterBuiltin("upcase", biUpcase)
	it.RegisterBuiltin("downcase", biDowncase)
	it.RegisterBuiltin("catenate", biCatenate)
	it.RegisterBuiltin("head", biHead)
	it.RegisterBuiltin("tail", biTail)
	it.RegisterBuiltin("count", biCount)
	it.RegisterBuiltin("sort", biSort)
	it.RegisterBuiltin("quote", biQuote)
	it.RegisterBuiltin("prepost", biPrepost)
	it.RegisterBuiltin("split", biSplit)
	it.RegisterBuiltin("unsplit", biUnsplit)
	it.RegisterBuiltin("substr", biSubstr)
	it.RegisterBuiltin("strlen", biStrlen)
	it.RegisterBuiltin("stringset", biStringset)
	it.RegisterBuiltin("strip", biStrip)
	it.RegisterBuiltin("stripdot", biStripdot)
	it.RegisterBuiltin("subst", biSubst)
}

func biUpcase(it *Interp, scope *Scope, args []string, pos Position) ([]string, error) {
	out := make([]string, len(args))
	for i, a := range args {
		out[i] = strings.ToUpper(a)
	}
	return out, nil
}

func biDowncase(it *Interp, scope *Scope, args []string, pos Position) ([]string, error) {
	out := make([]string, len(args))
	for i, a := range args {
		out[i] = strings.ToLower(a)
	}
	return out, nil
}

// biCatenate joins every word into one, with no separator.
func biCatenate(it *Interp, scope *Scope, args []string, pos Position) ([]string, error) {
	return []string{strings.Join(args, "")}, nil
}

func biHead(it *Interp, scope *Scope, args []string, pos Position) ([]string, error) {
	if len(args) == 0 {
		return nil, nil
	}
	return args[:1], nil
}

func biTail(it *Interp, scope *Scope, args []string, pos Position) ([]string, error) {
	if len(args) <= 1 {
		return nil, nil
	}
	return args[1:], nil
}

func biCount(it *Interp, scope *Scope, args []string, pos Position) ([]string, error) {
	return []string{strconv.Itoa(len(args))}, nil
}

func biSort(it *Interp, scope *Scope, args []string, pos Position) ([]string, error) {
	out := append([]string(nil), args...)
	sort.Strings(out)
	return out, nil
}

// biQuote shell-quotes each word: verbatim if nothing requires quoting;
// else single-quote, switching to double-quote
// only across an embedded single quote, since single quotes cannot be
// escaped inside a single-quoted string and "!" cannot be escaped inside a
// double-quoted one; non-printable bytes are octal-escaped.
func biQuote(it *Interp, scope *Scope, args []string, pos Position) ([]string, error) {
	out := make([]string, len(args))
	for i, a := range args {
		out[i] = shellQuote(a)
	}
	return out, nil
}

func needsQuoting(s string) bool {
	if s == "" {
		return true
	}
	for _, c := range s {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		case strings.ContainsRune("_-./,:+=@%", c):
		default:
			return true
		}
	}
	return false
}

func shellQuote(s string) string {
	if !needsQuoting(s) {
		return s
	}

	var b strings.Builder
	singleOpen := false
	doubleOpen := false

	open := func(single bool) {
		if single {
			if !singleOpen {
				if doubleOpen {
					b.WriteByte('"')
					doubleOpen = false
				}
				b.WriteByte('\'')
				singleOpen = true
			}
		} else {
			if !doubleOpen {
				if singleOpen {
					b.WriteByte('\'')
					singleOpen = false
				}
				b.WriteByte('"')
				doubleOpen = true
			}
		}
	}

	open(true)
	for _, c := range s {
		switch {
		case c == '\'':
			// Can't escape within single quotes: switch to double.
			open(false)
			b.WriteByte('\'')
		case c == '!':
			// Can't escape within double quotes (history expansion): switch
			// to single.
			open(true)
			b.WriteByte('!')
		case c == '"' || c == '\\' || c == '$' || c == '`':
			if doubleOpen {
				b.WriteByte('\\')
			}
			b.WriteRune(c)
		case c < 0x20 || c == 0x7f:
			open(true)
			for _, bb := range []byte(string(c)) {
				b.WriteString("\\")
				b.WriteString(strconv.FormatInt(int64(bb), 8))
			}
		default:
			b.WriteRune(c)
		}
	}
	if singleOpen {
		b.WriteByte('\'')
	}
	if doubleOpen {
		b.WriteByte('"')
	}
	return b.String()
}

// biPrepost wraps each remaining word with a prefix and suffix: `prepost
// PRE POST words...`.
func biPrepost(it *Interp, scope *Scope, args []string, pos Position) ([]string, error) {
	if err := requireArgs("prepost", pos, args, 2, -1); err != nil {
		return nil, err
	}
	pre, post := args[0], args[1]
	words := args[2:]
	out := make([]string, len(words))
	for i, w := range words {
		out[i] = pre + w + post
	}
	return out, nil
}

// biSplit breaks args[1:] joined text on the single-character separator
// args[0].
func biSplit(it *Interp, scope *Scope, args []string, pos Position) ([]string, error) {
	if err := requireArgs("split", pos, args, 1, -1); err != nil {
		return nil, err
	}
	sep := args[0]
	text := strings.Join(args[1:], " ")
	if sep == "" {
		return strings.Fields(text), nil
	}
	return strings.Split(text, sep), nil
}

// biUnsplit joins args[1:] with the separator args[0].
func biUnsplit(it *Interp, scope *Scope, args []string, pos Position) ([]string, error) {
	if err := requireArgs("unsplit", pos, args, 1, -1); err != nil {
		return nil, err
	}
	return []string{strings.Join(args[1:], args[0])}, nil
}

// biSubstr extracts a substring: `substr TEXT START [LEN]`, 0-based start.
func biSubstr(it *Interp, scope *Scope, args []string, pos Position) ([]string, error) {
	if err := requireArgs("substr", pos, args, 2, 3); err != nil {
		return nil, err
	}
	text := args[0]
	start, err := strconv.Atoi(args[1])
	if err != nil || start < 0 || start > len(text) {
		return nil, argError("substr", pos, "a valid start index", args)
	}
	end := len(text)
	if len(args) == 3 {
		n, err := strconv.Atoi(args[2])
		if err != nil || n < 0 {
			return nil, argError("substr", pos, "a valid length", args)
		}
		if start+n < end {
			end = start + n
		}
	}
	return []string{text[start:end]}, nil
}

func biStrlen(it *Interp, scope *Scope, args []string, pos Position) ([]string, error) {
	out := make([]string, len(args))
	for i, a := range args {
		out[i] = strconv.Itoa(len(a))
	}
	return out, nil
}

// biStringset performs set algebra on word lists: `stringset OP A... , B...`
// where OP is union, intersect, or subtract and the two operand lists are
// separated by a literal ",".
func biStringset(it *Interp, scope *Scope, args []string, pos Position) ([]string, error) {
	if err := requireArgs("stringset", pos, args, 1, -1); err != nil {
		return nil, err
	}
	op := args[0]
	a, b := splitOnComma(args[1:])

	seen := func(words []string) map[string]bool {
		m := make(map[string]bool, len(words))
		for _, w := range words {
			m[w] = true
		}
		return m
	}

	switch op {
	case "union":
		out := append([]string(nil), a...)
		have := seen(a)
		for _, w := range b {
			if !have[w] {
				out = append(out, w)
				have[w] = true
			}
		}
		return out, nil
	case "intersect":
		have := seen(b)
		var out []string
		for _, w := range a {
			if have[w] {
				out = append(out, w)
			}
		}
		return out, nil
	case "subtract":
		have := seen(b)
		var out []string
		for _, w := range a {
			if !have[w] {
				out = append(out, w)
			}
		}
		return out, nil
	default:
		return nil, argError("stringset", pos, `"union", "intersect", or "subtract"`, args)
	}
}

// biStrip removes leading/trailing whitespace from each word (a no-op for
// already-field-split words; useful after catenate/unsplit).
func biStrip(it *Interp, scope *Scope, args []string, pos Position) ([]string, error) {
	out := make([]string, len(args))
	for i, a := range args {
		out[i] = strings.TrimSpace(a)
	}
	return out, nil
}

// biStripdot removes a leading "./" from each word, mirroring the
// strip-dot option's effect on a single name.
func biStripdot(it *Interp, scope *Scope, args []string, pos Position) ([]string, error) {
	out := make([]string, len(args))
	for i, a := range args {
		out[i] = strings.TrimPrefix(a, "./")
	}
	return out, nil
}

// biSubst replaces OLD with NEW across TEXT: `subst OLD NEW TEXT...`.
func biSubst(it *Interp, scope *Scope, args []string, pos Position) ([]string, error) {
	if err := requireArgs("subst", pos, args, 2, -1); err != nil {
		return nil, err
	}
	old, repl := args[0], args[1]
	out := make([]string, len(args)-2)
	for i, w := range args[2:] {
		out[i] = strings.ReplaceAll(w, old, repl)
	}
	return out, nil
}
