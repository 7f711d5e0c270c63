package cook

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Scope is one link in the interpreter's variable scope chain: local,
// recipe, cookbook, and the root (global/environment) scope, outermost
// last. A Scope only ever holds the bindings introduced at its own level;
// lookups and plain assignment walk the chain so that local variables
// shadow recipe variables, which shadow cookbook variables.
type Scope struct {
	parent *Scope
	vars   map[string]string
}

// NewScope returns a scope chained to parent. A nil parent makes this the
// root scope.
func NewScope(parent *Scope) *Scope {
	return &Scope{parent: parent, vars: make(map[string]string)}
}

// Root walks to the outermost scope in the chain.
func (s *Scope) Root() *Scope {
	r := s
	for r.parent != nil {
		r = r.parent
	}
	return r
}

// find returns the nearest scope in the chain (starting at s) that already
// binds name, or (nil, false) if none does.
func (s *Scope) find(name string) (*Scope, bool) {
	for sc := s; sc != nil; sc = sc.parent {
		if _, ok := sc.vars[name]; ok {
			return sc, true
		}
	}
	return nil, false
}

// Get returns a variable's value, searching outward through the chain. An
// unbound variable reads as the empty string.
func (s *Scope) Get(name string) string {
	if owner, ok := s.find(name); ok {
		return owner.vars[name]
	}
	return ""
}

// SetLocal binds name in this scope only (OpAssignLocal), shadowing any
// outer binding without disturbing it.
func (s *Scope) SetLocal(name string, val []string) {
	s.vars[name] = strings.Join(val, " ")
}

// Assign binds name in the scope that already defines it, or in the root
// scope if none does (OpAssign): plain
// assignment updates the existing binding wherever it lives, and otherwise
// introduces a new global.
func (s *Scope) Assign(name string, val []string) {
	target := s
	if owner, ok := s.find(name); ok {
		target = owner
	} else {
		target = s.Root()
	}
	target.vars[name] = strings.Join(val, " ")
}

// AssignAppend appends val to the existing binding of name wherever it
// lives (or creates it in the root scope), space-separating from any
// existing content (OpAssignAppend).
func (s *Scope) AssignAppend(name string, val []string) {
	target := s
	if owner, ok := s.find(name); ok {
		target = owner
	} else {
		target = s.Root()
	}
	add := strings.Join(val, " ")
	existing := target.vars[name]
	switch {
	case existing == "":
		target.vars[name] = add
	case add == "":
		// nothing to append
	default:
		target.vars[name] = existing + " " + add
	}
}

// Expand performs the text-substitution pass ("word
// expansion"): $name and ${name} substitute a variable's value, $name.dir /
// $name.file perform path-property access, $name:old=new applies a %
// pattern substitution across the value's words, $[func args] invokes a
// registered builtin (builtin.go et al.), and $$ escapes to a literal $.
func (s *Scope) Expand(raw string, it *Interp, pos Position) (string, error) {
	var b strings.Builder
	i := 0
	for i < len(raw) {
		if raw[i] != '$' {
			b.WriteByte(raw[i])
			i++
			continue
		}
		i++
		if i >= len(raw) {
			b.WriteByte('$')
			break
		}

		switch {
		case raw[i] == '$':
			b.WriteByte('$')
			i++

		case raw[i] == '{':
			end := strings.IndexByte(raw[i:], '}')
			if end < 0 {
				return "", fmt.Errorf("%s: unterminated ${...} in %q", pos, raw)
			}
			name := raw[i+1 : i+end]
			b.WriteString(s.Get(name))
			i += end + 1

		case raw[i] == '[':
			end := findMatchingBracket(raw[i:])
			if end < 0 {
				return "", fmt.Errorf("%s: unterminated $[...] in %q", pos, raw)
			}
			inner := raw[i+1 : i+end]
			val, err := s.evalCall(inner, it, pos)
			if err != nil {
				return "", err
			}
			b.WriteString(val)
			i += end + 1

		case isIdentStart(raw[i]):
			start := i
			for i < len(raw) && isIdentCont(raw[i]) {
				i++
			}
			name := raw[start:i]
			val := s.Get(name)

			if i < len(raw) && raw[i] == '.' {
				propStart := i + 1
				j := propStart
				for j < len(raw) && isIdentCont(raw[j]) {
					j++
				}
				if j > propStart {
					prop := raw[propStart:j]
					if p, ok := pathProperty(val, prop); ok {
						val = p
						i = j
					}
				}
			}

			if i < len(raw) && raw[i] == ':' {
				rest := raw[i+1:]
				if eq := strings.IndexByte(rest, '='); eq >= 0 {
					old := rest[:eq]
					replEnd := strings.IndexByte(rest[eq+1:], ' ')
					var repl string
					if replEnd < 0 {
						repl = rest[eq+1:]
						i = len(raw)
					} else {
						repl = rest[eq+1 : eq+1+replEnd]
						i += 1 + eq + 1 + replEnd
					}
					val = substWords(val, old, repl)
				}
			}

			b.WriteString(val)

		default:
			b.WriteByte('$')
		}
	}
	return b.String(), nil
}

// evalCall expands the "func args..." text inside a $[...] reference. The
// first word is looked up through the scope chain before the builtin table:
// a bound variable wins, its value substitutes and any remaining words are
// discarded. Otherwise the arguments are expanded, split into words, and
// dispatched to a registered builtin by name.
func (s *Scope) evalCall(inner string, it *Interp, pos Position) (string, error) {
	name, rest, _ := strings.Cut(strings.TrimSpace(inner), " ")
	if owner, ok := s.find(name); ok {
		return owner.vars[name], nil
	}
	expandedArgs, err := s.Expand(strings.TrimSpace(rest), it, pos)
	if err != nil {
		return "", err
	}
	fn, ok := it.Builtins[name]
	if !ok {
		return "", it.undefinedFunctionError(name, pos)
	}
	result, err := fn(it, s, strings.Fields(expandedArgs), pos)
	if err != nil {
		return "", err
	}
	return strings.Join(result, " "), nil
}

// pathProperty implements the $name.dir / $name.file property accessors.
func pathProperty(val, prop string) (string, bool) {
	switch prop {
	case "dir":
		return filepath.Dir(val), true
	case "file":
		return filepath.Base(val), true
	default:
		return "", false
	}
}

// substWords applies a %old=%new-style patsubst (as a ":old=new" reference
// shorthand) across every word of val.
func substWords(val, old, repl string) string {
	oldPat := "%" + old
	replPat := "%" + repl
	words := strings.Fields(val)
	for i, w := range words {
		words[i] = patsubstWord(oldPat, replPat, w)
	}
	return strings.Join(words, " ")
}

// patsubstWord applies a single % pattern substitution to one word, used by
// the $name:old=new expansion shorthand. It is deliberately simpler than
// match.go's Compile/Execute: at most one wildcard, no captures, no regex
// mode, the narrow make-style substitution form.
func patsubstWord(pattern, replacement, word string) string {
	if !strings.Contains(pattern, "%") {
		if word == pattern {
			return replacement
		}
		return word
	}
	prefix, suffix, _ := strings.Cut(pattern, "%")
	if strings.HasPrefix(word, prefix) && strings.HasSuffix(word, suffix) {
		stem := word[len(prefix) : len(word)-len(suffix)]
		return strings.ReplaceAll(replacement, "%", stem)
	}
	return word
}

func findMatchingBracket(s string) int {
	depth := 0
	for i, c := range s {
		switch c {
		case '[':
			depth++
		case ']':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

func isIdentStart(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c == '_'
}

func isIdentCont(c byte) bool {
	return isIdentStart(c) || c >= '0' && c <= '9'
}
