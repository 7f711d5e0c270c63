package cook

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// MatchMode selects which of the two interchangeable pattern back-ends
// compile/execute against, toggled by the match-mode-regex option.
type MatchMode int

const (
	// ModePercent is the default: %/* wildcards, numbered left to right.
	ModePercent MatchMode = iota
	// ModeRegex wraps the pattern in ^...$ POSIX basic-regex matching.
	ModeRegex
)

// wildcardKind distinguishes the two percent-mode wildcards.
type wildcardKind byte

const (
	wildcardPercent wildcardKind = '%' // one or more non-separator bytes
	wildcardStar    wildcardKind = '*' // zero or more bytes, including '/'
)

// MatchCtx is a compiled pattern plus, after a successful Execute, the
// captured substrings keyed by 1-based wildcard/sub-expression number. This
// is shared by both back-ends; Kind says which.
type MatchCtx struct {
	Kind MatchMode
	Raw  string

	// percent-mode fields
	parts []string       // literal separators between wildcards, len = len(kinds)+1
	kinds []wildcardKind // one per numbered wildcard, in left-to-right order

	// regex-mode fields
	re *regexp.Regexp

	// populated by Execute
	matched  bool
	captures map[int]string
}

// Compile parses pattern according to mode and returns a reusable match
// context. In percent mode, a pattern with no wildcards still compiles (it
// only ever matches itself literally). In regex mode, pattern is a POSIX
// basic regular expression; Compile wraps it with ^...$ to force whole-
// string matching.
func Compile(mode MatchMode, pattern string) (*MatchCtx, error) {
	switch mode {
	case ModeRegex:
		translated, err := translateBRE(pattern)
		if err != nil {
			return nil, fmt.Errorf("pattern %q: %w", pattern, err)
		}
		re, err := regexp.Compile("^(?:" + translated + ")$")
		if err != nil {
			return nil, fmt.Errorf("pattern %q: %w", pattern, err)
		}
		return &MatchCtx{Kind: ModeRegex, Raw: pattern, re: re}, nil

	default:
		parts, kinds := splitPercentPattern(pattern)
		return &MatchCtx{Kind: ModePercent, Raw: pattern, parts: parts, kinds: kinds}, nil
	}
}

// splitPercentPattern breaks a percent-mode pattern into literal parts and
// the wildcard kinds between them. len(parts) == len(kinds)+1.
func splitPercentPattern(pattern string) ([]string, []wildcardKind) {
	var parts []string
	var kinds []wildcardKind
	var cur strings.Builder
	for i := 0; i < len(pattern); i++ {
		c := pattern[i]
		if c == '%' || c == '*' {
			parts = append(parts, cur.String())
			cur.Reset()
			kinds = append(kinds, wildcardKind(c))
			continue
		}
		cur.WriteByte(c)
	}
	parts = append(parts, cur.String())
	return parts, kinds
}

// UsageMask returns a bitmask of which numbered wildcards appear in pattern
// (bit N-1 set means wildcard N is used), used to classify implicit recipes
// for diagnostics.
func UsageMask(mode MatchMode, pattern string) uint32 {
	if mode == ModeRegex {
		translated, err := translateBRE(pattern)
		if err != nil {
			return 0
		}
		re, err := regexp.Compile(translated)
		if err != nil {
			return 0
		}
		n := re.NumSubexp()
		if n > 31 {
			n = 31
		}
		var mask uint32
		for i := 0; i < n; i++ {
			mask |= 1 << uint(i)
		}
		return mask
	}
	_, kinds := splitPercentPattern(pattern)
	var mask uint32
	for i := range kinds {
		if i < 31 {
			mask |= 1 << uint(i)
		}
	}
	return mask
}

// Execute matches actual against the compiled pattern. On success it
// records the captures (retrievable via Captures) and returns true.
func (ctx *MatchCtx) Execute(actual string) (bool, map[int]string) {
	switch ctx.Kind {
	case ModeRegex:
		sub := ctx.re.FindStringSubmatch(actual)
		if sub == nil {
			ctx.matched = false
			return false, nil
		}
		caps := make(map[int]string, len(sub))
		for i, s := range sub {
			caps[i] = s
		}
		ctx.matched = true
		ctx.captures = caps
		return true, caps

	default:
		caps := make(map[int]string)
		ok := matchPercent(ctx.parts, ctx.kinds, actual, 0, caps)
		ctx.matched = ok
		if ok {
			ctx.captures = caps
			return true, caps
		}
		return false, nil
	}
}

// Captures returns the capture map recorded by the most recent successful
// Execute call, or nil.
func (ctx *MatchCtx) Captures() map[int]string { return ctx.captures }

// matchPercent backtracks over the possible split points for each
// wildcard, honouring greediness rules ("%" requires at least
// one non-separator byte; "*" is greedy and may include separators).
func matchPercent(parts []string, kinds []wildcardKind, s string, idx int, caps map[int]string) bool {
	prefix := parts[idx]
	if !strings.HasPrefix(s, prefix) {
		return false
	}
	s = s[len(prefix):]

	if idx == len(kinds) {
		return s == ""
	}

	kind := kinds[idx]

	// Try the shortest-to-longest split for '%' (still requires >=1 byte
	// and no separator), longest-to-shortest for '*' to keep its greedy
	// semantics when ambiguous.
	tryOrder := func(try func(n int) bool) bool {
		switch kind {
		case wildcardPercent:
			for n := 1; n <= len(s); n++ {
				if try(n) {
					return true
				}
			}
		default: // '*'
			for n := len(s); n >= 0; n-- {
				if try(n) {
					return true
				}
			}
		}
		return false
	}

	return tryOrder(func(n int) bool {
		cand := s[:n]
		if kind == wildcardPercent && strings.ContainsRune(cand, '/') {
			return false
		}
		savedCaps := map[int]string{}
		for k, v := range caps {
			savedCaps[k] = v
		}
		num := idx + 1
		if existing, ok := savedCaps[num]; ok && existing != cand {
			return false
		}
		savedCaps[num] = cand
		if matchPercent(parts, kinds, s[n:], idx+1, savedCaps) {
			for k, v := range savedCaps {
				caps[k] = v
			}
			return true
		}
		return false
	})
}

// ReconstructLHS substitutes captured values back into a left-hand-side
// (target) pattern, producing the concrete string that was matched. The
// graph builder uses it to name every target of a matched recipe.
func (ctx *MatchCtx) ReconstructLHS(lhs string) (string, error) {
	return ctx.reconstructPercent(lhs)
}

// ReconstructRHS substitutes captured values into a right-hand-side
// (ingredient/action) pattern string. In percent mode this replaces %N/*N
// tokens; in regex mode it replaces \0-\9 and & (== \0) with the
// corresponding capture, failing with a position-tagged diagnostic for an
// out-of-range index.
func (ctx *MatchCtx) ReconstructRHS(rhs string, pos Position) (string, error) {
	if ctx.Kind == ModeRegex {
		return ctx.reconstructRegex(rhs, pos)
	}
	return ctx.reconstructPercent(rhs)
}

func (ctx *MatchCtx) reconstructPercent(s string) (string, error) {
	var b strings.Builder
	n := 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '%' || c == '*' {
			n++
			// Optional explicit index, e.g. %1, to reference a capture out
			// of left-to-right order.
			idx := n
			j := i + 1
			start := j
			for j < len(s) && s[j] >= '0' && s[j] <= '9' {
				j++
			}
			if j > start {
				if v, err := strconv.Atoi(s[start:j]); err == nil {
					idx = v
					i = j - 1
				}
			}
			val, ok := ctx.captures[idx]
			if !ok {
				return "", fmt.Errorf("pattern reconstruction: no capture %d", idx)
			}
			b.WriteString(val)
			continue
		}
		b.WriteByte(c)
	}
	return b.String(), nil
}

func (ctx *MatchCtx) reconstructRegex(s string, pos Position) (string, error) {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '&' {
			val, ok := ctx.captures[0]
			if !ok {
				return "", fmt.Errorf("%s: pattern reconstruction: no capture 0", pos)
			}
			b.WriteString(val)
			continue
		}
		if c == '\\' && i+1 < len(s) && s[i+1] >= '0' && s[i+1] <= '9' {
			idx := int(s[i+1] - '0')
			val, ok := ctx.captures[idx]
			if !ok {
				return "", fmt.Errorf("%s: pattern reconstruction: illegal sub-expression index %d", pos, idx)
			}
			b.WriteString(val)
			i++
			continue
		}
		b.WriteByte(c)
	}
	return b.String(), nil
}

// translateBRE converts a POSIX basic regular expression (\(...\) groups,
// \{m,n\} intervals, literal metacharacters) into the Go regexp/RE2 syntax
// Compile needs. This covers the subset of BRE that recipe patterns
// realistically use; it is not a complete POSIX BRE implementation.
func translateBRE(pattern string) (string, error) {
	var b strings.Builder
	for i := 0; i < len(pattern); i++ {
		c := pattern[i]
		if c == '\\' && i+1 < len(pattern) {
			next := pattern[i+1]
			switch next {
			case '(', ')', '{', '}', '|', '+', '?':
				b.WriteByte(next)
			default:
				b.WriteByte('\\')
				b.WriteByte(next)
			}
			i++
			continue
		}
		switch c {
		case '(', ')', '{', '}', '|', '+', '?':
			// Literal in BRE unless escaped; escape for RE2.
			b.WriteByte('\\')
			b.WriteByte(c)
		default:
			b.WriteByte(c)
		}
	}
	return b.String(), nil
}
