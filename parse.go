package cook

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// Cookbook is the parsed form of one cookbook source file: a prologue of
// top-level variable assignments and cascade declarations (executed once,
// before any recipe runs; each cascade reaches the interpreter's OnCascade
// hook) plus the parsed recipe and cascade declarations.
type Cookbook struct {
	Prologue *OpcodeList
	Recipes  []*RecipeDecl
	Cascades []*CascadeDecl
}

type tokKind int

const (
	tokWord tokKind = iota
	tokColon
	tokDoubleColon
	tokSemicolon
	tokLBrace
	tokRBrace
	tokEquals
	tokPlusEquals
	tokEOF
)

type token struct {
	kind   tokKind
	text   string
	pos    Position
	quoted bool // word came from a "..."/'...' literal; stays unsplit after expansion
}

// lex turns cookbook source into a flat token stream. Words absorb
// balanced $[...] / ${...} expansions so punctuation meaningful to a
// builtin call (commas, colons) never gets mistaken for cook's own
// statement punctuation. A word may also be a "..."/'...' quoted literal,
// which keeps embedded whitespace out of reach of the interpreter's usual
// post-expansion word-splitting (ast.go's Opcode.Raw).
func lex(src, file string) ([]token, error) {
	var toks []token
	line := 1
	i := 0
	n := len(src)

	emit := func(k tokKind, text string, atLine int) {
		toks = append(toks, token{kind: k, text: text, pos: Position{File: file, Line: atLine}})
	}

	for i < n {
		c := src[i]
		switch {
		case c == '\n':
			line++
			i++
		case c == ' ' || c == '\t' || c == '\r':
			i++
		case c == '#':
			for i < n && src[i] != '\n' {
				i++
			}
		case c == ':':
			if i+1 < n && src[i+1] == ':' {
				emit(tokDoubleColon, "::", line)
				i += 2
			} else {
				emit(tokColon, ":", line)
				i++
			}
		case c == ';':
			emit(tokSemicolon, ";", line)
			i++
		case c == '{':
			emit(tokLBrace, "{", line)
			i++
		case c == '}':
			emit(tokRBrace, "}", line)
			i++
		case c == '=':
			emit(tokEquals, "=", line)
			i++
		case c == '+' && i+1 < n && src[i+1] == '=':
			emit(tokPlusEquals, "+=", line)
			i += 2
		case c == '"' || c == '\'':
			quote := c
			startLine := line
			var b strings.Builder
			j := i + 1
			closed := false
			for j < n {
				cj := src[j]
				if cj == '\n' {
					line++
				}
				if cj == '\\' && j+1 < n && (src[j+1] == quote || src[j+1] == '\\') {
					b.WriteByte(src[j+1])
					j += 2
					continue
				}
				if cj == quote {
					j++
					closed = true
					break
				}
				b.WriteByte(cj)
				j++
			}
			if !closed {
				return nil, fmt.Errorf("%s:%d: unterminated quoted string", file, startLine)
			}
			toks = append(toks, token{kind: tokWord, text: b.String(), pos: Position{File: file, Line: startLine}, quoted: true})
			i = j
		default:
			start := i
			startLine := line
			for i < n {
				c := src[i]
				if c == '\n' {
					break
				}
				if c == ' ' || c == '\t' || c == '\r' {
					break
				}
				if strings.IndexByte(":;{}=", c) >= 0 {
					break
				}
				if c == '$' && i+1 < n && (src[i+1] == '[' || src[i+1] == '{') {
					open, close := src[i+1], byte(']')
					if open == '{' {
						close = '}'
					}
					depth := 1
					j := i + 2
					for j < n && depth > 0 {
						switch src[j] {
						case open:
							depth++
						case close:
							depth--
						case '\n':
							line++
						}
						j++
					}
					i = j
					continue
				}
				i++
			}
			if i == start {
				return nil, fmt.Errorf("%s:%d: unexpected character %q", file, startLine, string(c))
			}
			emit(tokWord, src[start:i], startLine)
		}
	}
	emit(tokEOF, "", line)
	return toks, nil
}

type cookParser struct {
	toks []token
	pos  int
	file string
}

func (p *cookParser) peek() token  { return p.toks[p.pos] }
func (p *cookParser) advance() token {
	t := p.toks[p.pos]
	if p.pos < len(p.toks)-1 {
		p.pos++
	}
	return t
}

// ParseCookbook reads and parses a full cookbook source file.
func ParseCookbook(r io.Reader, file string) (*Cookbook, error) {
	data, err := io.ReadAll(bufio.NewReader(r))
	if err != nil {
		return nil, err
	}
	toks, err := lex(string(data), file)
	if err != nil {
		return nil, err
	}
	p := &cookParser{toks: toks, file: file}
	cb := &Cookbook{Prologue: NewOpcodeList()}

	for p.peek().kind != tokEOF {
		if err := p.parseStatement(cb); err != nil {
			return nil, err
		}
	}
	return cb, nil
}

func (p *cookParser) parseStatement(cb *Cookbook) error {
	start := p.peek()

	if start.kind == tokWord && start.text == "cascade" {
		p.advance()
		return p.parseCascade(cb)
	}

	// Lookahead for "NAME = ..." / "NAME += ...": a variable assignment,
	// only when the name is a single bare word immediately followed by =
	// or +=.
	if start.kind == tokWord && !looksLikePattern(start.text) {
		if p.toks[p.pos+1].kind == tokEquals || p.toks[p.pos+1].kind == tokPlusEquals {
			return p.parseAssignStatement(cb)
		}
	}

	return p.parseRecipe(cb)
}

func (p *cookParser) parseAssignStatement(cb *Cookbook) error {
	name := p.advance()
	op := p.advance() // = or +=
	words, err := p.parseWordsUntil(tokSemicolon)
	if err != nil {
		return err
	}
	if p.peek().kind == tokSemicolon {
		p.advance()
	}

	cb.Prologue.append(Opcode{Kind: OpPushFrame, Pos: name.pos})
	for _, w := range words {
		cb.Prologue.append(Opcode{Kind: OpPushWord, Pos: w.pos, Word: w.text, Raw: w.quoted})
	}
	kind := OpAssign
	if op.kind == tokPlusEquals {
		kind = OpAssignAppend
	}
	cb.Prologue.append(Opcode{Kind: kind, Pos: name.pos, Word: name.text})
	return nil
}

func (p *cookParser) parseCascade(cb *Cookbook) error {
	target := p.advance()
	if p.peek().kind != tokEquals {
		return fmt.Errorf("%s: cascade: expected '='", p.peek().pos)
	}
	p.advance()
	words, err := p.parseWordsUntil(tokSemicolon)
	if err != nil {
		return err
	}
	if p.peek().kind == tokSemicolon {
		p.advance()
	}
	for _, w := range words {
		decl := &CascadeDecl{Pos: target.pos, Target: target.text, Ingredient: w.text}
		cb.Cascades = append(cb.Cascades, decl)
		cb.Prologue.append(Opcode{Kind: OpCascade, Pos: target.pos, Cascade: decl})
	}
	return nil
}

// parseWordsUntil collects tokWord tokens up to (not including) the given
// terminator kind, also stopping at any other structural token.
func (p *cookParser) parseWordsUntil(stop tokKind) ([]token, error) {
	var words []token
	for {
		t := p.peek()
		if t.kind == stop || t.kind == tokEOF {
			return words, nil
		}
		if t.kind != tokWord {
			return words, nil
		}
		words = append(words, p.advance())
	}
}

// looksLikePattern reports whether a bare word is plausibly a target
// pattern rather than a variable name (cook variable names don't contain
// '%', '*', '/', or '.'; this disambiguates "NAME = val" from "a.o: a.c").
func looksLikePattern(s string) bool {
	return strings.ContainsAny(s, "%*/.")
}

// parseRecipe parses one recipe declaration:
//
//	TARGETS (':'|'::') INGREDIENTS [ ':' INGREDIENTS2 ]
//	    [ 'set' FLAGS ] [ 'if' PRECOND ]
//	    [ 'single-thread' TOKENS ] [ 'host-binding' HOSTS ]
//	    [ '{' ACTION '}' [ 'then' '{' USE-ACTION '}' ] ] ';'
func (p *cookParser) parseRecipe(cb *Cookbook) error {
	pos := p.peek().pos
	targets, err := p.parseWordsUntil(tokColon)
	if err != nil {
		return err
	}
	if len(targets) == 0 {
		return fmt.Errorf("%s: expected a target pattern", pos)
	}

	multiple := false
	if p.peek().kind == tokDoubleColon {
		multiple = true
		p.advance()
	} else if p.peek().kind == tokColon {
		p.advance()
	} else {
		return fmt.Errorf("%s: expected ':' or '::' after targets", p.peek().pos)
	}

	primary, err := p.parseClauseWords()
	if err != nil {
		return err
	}

	var secondary []token
	if p.peek().kind == tokColon {
		p.advance()
		secondary, err = p.parseClauseWords()
		if err != nil {
			return err
		}
	}

	decl := &RecipeDecl{
		Pos:      pos,
		Multiple: multiple,
		Flags:    FlagSet{},
	}
	for _, t := range targets {
		decl.TargetPatterns = append(decl.TargetPatterns, t.text)
		decl.ImplicitMask |= UsageMask(ModePercent, t.text)
	}
	decl.PrimaryIngredients = wordsToOpcodeList(primary)
	if secondary != nil {
		decl.SecondaryIngredients = wordsToOpcodeList(secondary)
	}

	for {
		t := p.peek()
		if t.kind != tokWord {
			break
		}
		switch t.text {
		case "set":
			p.advance()
			flagWords, err := p.parseClauseWords()
			if err != nil {
				return err
			}
			for _, f := range flagWords {
				decl.Flags[f.text] = true
			}
		case "if":
			p.advance()
			words, err := p.parseClauseWords()
			if err != nil {
				return err
			}
			decl.Precondition = wordsToOpcodeList(words)
		case "single-thread":
			p.advance()
			words, err := p.parseClauseWords()
			if err != nil {
				return err
			}
			decl.SingleThread = wordsToOpcodeList(words)
		case "host-binding":
			p.advance()
			words, err := p.parseClauseWords()
			if err != nil {
				return err
			}
			decl.HostBinding = wordsToOpcodeList(words)
		case "fingerprint":
			p.advance()
			action, err := p.parseActionBlock()
			if err != nil {
				return err
			}
			decl.Fingerprint = action
		default:
			goto clausesDone
		}
	}
clausesDone:

	if p.peek().kind == tokLBrace {
		action, err := p.parseActionBlock()
		if err != nil {
			return err
		}
		decl.Action = action

		if p.peek().kind == tokWord && p.peek().text == "then" {
			p.advance()
			if p.peek().kind != tokLBrace {
				return fmt.Errorf("%s: expected '{' after 'then'", p.peek().pos)
			}
			useAction, err := p.parseActionBlock()
			if err != nil {
				return err
			}
			decl.UseAction = useAction
		}
	}

	if p.peek().kind == tokSemicolon {
		p.advance()
	}

	cb.Recipes = append(cb.Recipes, decl)
	return nil
}

// IntoStore feeds every parsed recipe declaration into store, in source
// order, so a caller that merges several parsed cookbooks (via `include`)
// can build one RecipeStore spanning all of them.
func (cb *Cookbook) IntoStore(store *RecipeStore) error {
	for _, decl := range cb.Recipes {
		if err := store.Add(decl); err != nil {
			return err
		}
	}
	return nil
}

// parseClauseWords collects the word list for one recipe clause, stopping
// at the next structural token or a keyword that introduces another
// clause. Clause keywords are reserved: an ingredient cannot be literally
// named "set" or "if", which is also true of the cookbook language itself.
func (p *cookParser) parseClauseWords() ([]token, error) {
	var words []token
	for {
		t := p.peek()
		if t.kind != tokWord {
			return words, nil
		}
		if isClauseKeyword(t.text) {
			return words, nil
		}
		words = append(words, p.advance())
	}
}

func isClauseKeyword(s string) bool {
	switch s {
	case "set", "if", "single-thread", "host-binding", "fingerprint", "then":
		return true
	default:
		return false
	}
}

func wordsToOpcodeList(words []token) *OpcodeList {
	l := NewOpcodeList()
	l.append(Opcode{Kind: OpPushFrame})
	for _, w := range words {
		l.append(Opcode{Kind: OpPushWord, Pos: w.pos, Word: w.text, Raw: w.quoted})
	}
	l.append(Opcode{Kind: OpReturn})
	return l
}

// parseActionBlock consumes a brace-delimited action block and compiles it
// into an opcode list. Each statement inside is `NAME ARG ARG... ;`, a call
// to one of the interpreter's builtins (execute, collect, shell, ...),
// e.g. `{ execute cc -c foo.c -o foo.o; }`, rather than raw shell script
// text.
// A shared outer frame absorbs (and discards) each call's result; only
// side effects matter here.
func (p *cookParser) parseActionBlock() (*OpcodeList, error) {
	if p.peek().kind != tokLBrace {
		return nil, fmt.Errorf("%s: expected '{'", p.peek().pos)
	}
	p.advance()

	list := NewOpcodeList()
	list.append(Opcode{Kind: OpPushFrame})

	for {
		t := p.peek()
		if t.kind == tokEOF {
			return nil, fmt.Errorf("%s: unterminated action block", t.pos)
		}
		if t.kind == tokRBrace {
			p.advance()
			break
		}
		if t.kind == tokSemicolon {
			p.advance()
			continue
		}
		if t.kind != tokWord {
			return nil, fmt.Errorf("%s: expected a function call in action block", t.pos)
		}

		name := p.advance()
		list.append(Opcode{Kind: OpPushFrame, Pos: name.pos})
		for p.peek().kind == tokWord {
			arg := p.advance()
			list.append(Opcode{Kind: OpPushWord, Pos: arg.pos, Word: arg.text, Raw: arg.quoted})
		}
		list.append(Opcode{Kind: OpCall, Pos: name.pos, Word: name.text})

		if p.peek().kind == tokSemicolon {
			p.advance()
		}
	}

	list.append(Opcode{Kind: OpReturn})
	return list, nil
}
