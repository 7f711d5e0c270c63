package cook

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func newTestInterpWithLibrary() *Interp {
	it := newTestInterp()
	RegisterStandardLibrary(it)
	return it
}

func call(t *testing.T, it *Interp, name string, args ...string) []string {
	t.Helper()
	fn, ok := it.Builtins[name]
	if !ok {
		t.Fatalf("builtin %q not registered", name)
	}
	out, err := fn(it, NewScope(nil), args, Position{})
	if err != nil {
		t.Fatalf("%s(%v) returned error: %v", name, args, err)
	}
	return out
}

func TestBuiltinBoolFamily(t *testing.T) {
	it := newTestInterpWithLibrary()

	if got := call(t, it, "if", "1", "yes", ",", "no"); !reflect.DeepEqual(got, []string{"yes"}) {
		t.Errorf("if true branch = %v", got)
	}
	if got := call(t, it, "if", "", "yes", ",", "no"); !reflect.DeepEqual(got, []string{"no"}) {
		t.Errorf("if false branch = %v", got)
	}
	if got := call(t, it, "not", ""); !reflect.DeepEqual(got, []string{"1"}) {
		t.Errorf("not empty = %v, want [1]", got)
	}
	if got := call(t, it, "not", "x"); got != nil {
		t.Errorf("not non-empty = %v, want nil", got)
	}
	if got := call(t, it, "and", "a", "b"); !reflect.DeepEqual(got, []string{"b"}) {
		t.Errorf("and = %v, want [b]", got)
	}
	if got := call(t, it, "and", "a", ""); got != nil {
		t.Errorf("and with empty operand = %v, want nil", got)
	}
	if got := call(t, it, "or", "", "b"); !reflect.DeepEqual(got, []string{"b"}) {
		t.Errorf("or = %v, want [b]", got)
	}
	if got := call(t, it, "in", "b", "a", "b", "c"); !reflect.DeepEqual(got, []string{"2"}) {
		t.Errorf("in = %v, want [2]", got)
	}
	if got := call(t, it, "in", "z", "a", "b", "c"); got != nil {
		t.Errorf("in (missing) = %v, want nil", got)
	}
}

func TestBuiltinTextFamily(t *testing.T) {
	it := newTestInterpWithLibrary()

	if got := call(t, it, "upcase", "ab", "cd"); !reflect.DeepEqual(got, []string{"AB", "CD"}) {
		t.Errorf("upcase = %v", got)
	}
	if got := call(t, it, "catenate", "a", "b", "c"); !reflect.DeepEqual(got, []string{"abc"}) {
		t.Errorf("catenate = %v", got)
	}
	if got := call(t, it, "head", "a", "b", "c"); !reflect.DeepEqual(got, []string{"a"}) {
		t.Errorf("head = %v", got)
	}
	if got := call(t, it, "tail", "a", "b", "c"); !reflect.DeepEqual(got, []string{"b", "c"}) {
		t.Errorf("tail = %v", got)
	}
	if got := call(t, it, "count", "a", "b", "c"); !reflect.DeepEqual(got, []string{"3"}) {
		t.Errorf("count = %v", got)
	}
	if got := call(t, it, "sort", "c", "a", "b"); !reflect.DeepEqual(got, []string{"a", "b", "c"}) {
		t.Errorf("sort = %v", got)
	}
	if got := call(t, it, "prepost", "[", "]", "a", "b"); !reflect.DeepEqual(got, []string{"[a]", "[b]"}) {
		t.Errorf("prepost = %v", got)
	}
	if got := call(t, it, "split", ",", "a,b,c"); !reflect.DeepEqual(got, []string{"a", "b", "c"}) {
		t.Errorf("split = %v", got)
	}
	if got := call(t, it, "unsplit", ",", "a", "b", "c"); !reflect.DeepEqual(got, []string{"a,b,c"}) {
		t.Errorf("unsplit = %v", got)
	}
	if got := call(t, it, "substr", "hello", "1", "3"); !reflect.DeepEqual(got, []string{"ell"}) {
		t.Errorf("substr = %v", got)
	}
	if got := call(t, it, "strlen", "ab", "cde"); !reflect.DeepEqual(got, []string{"2", "3"}) {
		t.Errorf("strlen = %v", got)
	}
	if got := call(t, it, "stripdot", "./a.c", "b.c"); !reflect.DeepEqual(got, []string{"a.c", "b.c"}) {
		t.Errorf("stripdot = %v", got)
	}
	if got := call(t, it, "subst", "foo", "bar", "foofoo", "baz"); !reflect.DeepEqual(got, []string{"barbar", "baz"}) {
		t.Errorf("subst = %v", got)
	}
	if got := call(t, it, "stringset", "union", "a", "b", ",", "b", "c"); !reflect.DeepEqual(got, []string{"a", "b", "c"}) {
		t.Errorf("stringset union = %v", got)
	}
	if got := call(t, it, "stringset", "intersect", "a", "b", ",", "b", "c"); !reflect.DeepEqual(got, []string{"b"}) {
		t.Errorf("stringset intersect = %v", got)
	}
	if got := call(t, it, "stringset", "subtract", "a", "b", ",", "b", "c"); !reflect.DeepEqual(got, []string{"a"}) {
		t.Errorf("stringset subtract = %v", got)
	}
}

func TestShellQuoteEmptyAndPlainForms(t *testing.T) {
	cases := []string{"plain", "has space", "quo'te", "bang!history", `say "hi"`, ""}
	for _, c := range cases {
		q := shellQuote(c)
		if c == "" && q != `""` && q != "''" {
			t.Errorf("shellQuote(%q) = %q, want an empty quoted form", c, q)
		}
	}
	if got := shellQuote("plain"); got != "plain" {
		t.Errorf("shellQuote(plain) = %q, want unquoted", got)
	}
}

func TestBuiltinPathFamily(t *testing.T) {
	it := newTestInterpWithLibrary()

	if got := call(t, it, "dirname", "a/b/c.o"); !reflect.DeepEqual(got, []string{"a/b"}) {
		t.Errorf("dirname = %v", got)
	}
	if got := call(t, it, "entryname", "a/b/c.o"); !reflect.DeepEqual(got, []string{"c.o"}) {
		t.Errorf("entryname = %v", got)
	}
	if got := call(t, it, "dos-path", "a/b/c.o"); !reflect.DeepEqual(got, []string{`a\b\c.o`}) {
		t.Errorf("dos-path = %v", got)
	}
	if got := call(t, it, "un-dos-path", `a\b\c.o`); !reflect.DeepEqual(got, []string{"a/b/c.o"}) {
		t.Errorf("un-dos-path = %v", got)
	}
}

func TestBuiltinPatternFamily(t *testing.T) {
	it := newTestInterpWithLibrary()

	if got := call(t, it, "match", "foo.o", "%.c", "%.o"); !reflect.DeepEqual(got, []string{"2"}) {
		t.Errorf("match = %v", got)
	}
	if got := call(t, it, "filter", "%.o", "a.o", "b.c", "c.o"); !reflect.DeepEqual(got, []string{"a.o", "c.o"}) {
		t.Errorf("filter = %v", got)
	}
	if got := call(t, it, "filter_out", "%.o", "a.o", "b.c", "c.o"); !reflect.DeepEqual(got, []string{"b.c"}) {
		t.Errorf("filter_out = %v", got)
	}
	if got := call(t, it, "fromto", "%.c", "%.o", "a.c", "b.h", "c.c"); !reflect.DeepEqual(got, []string{"a.o", "b.h", "c.o"}) {
		t.Errorf("fromto = %v", got)
	}
}

func TestBuiltinGlob(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"a.txt", "b.txt", "c.md"} {
		if err := os.WriteFile(filepath.Join(dir, name), nil, 0o644); err != nil {
			t.Fatal(err)
		}
	}
	it := newTestInterpWithLibrary()
	got := call(t, it, "glob", filepath.Join(dir, "*.txt"))
	if len(got) != 2 {
		t.Errorf("glob(*.txt) = %v, want 2 entries", got)
	}
}

func TestBuiltinFSFamily(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "f.txt")
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	it := newTestInterpWithLibrary()
	if got := call(t, it, "exists", path, filepath.Join(dir, "missing")); !reflect.DeepEqual(got, []string{path}) {
		t.Errorf("exists = %v", got)
	}
	if got := call(t, it, "cando", "read", path); !reflect.DeepEqual(got, []string{path}) {
		t.Errorf("cando read = %v", got)
	}
}

func TestBuiltinProcessExecuteAndCollect(t *testing.T) {
	it := newTestInterpWithLibrary()
	it.Stdout = nullWriter{}
	it.Stderr = nullWriter{}

	if _, err := it.Builtins["execute"](it, NewScope(nil), []string{"true"}, Position{}); err != nil {
		t.Errorf("execute true returned error: %v", err)
	}

	got := call(t, it, "collect", "echo", "hello")
	if !reflect.DeepEqual(got, []string{"hello"}) {
		t.Errorf("collect echo hello = %v, want [hello]", got)
	}
}

func TestBuiltinProcessReadWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.txt")

	it := newTestInterpWithLibrary()
	call(t, it, "write", path, "a", "b")

	got := call(t, it, "read_lines", path)
	if !reflect.DeepEqual(got, []string{"a b"}) {
		t.Errorf("read_lines = %v, want [a b]", got)
	}
}

func TestBuiltinIntrospectDefinedAndGetenv(t *testing.T) {
	it := newTestInterpWithLibrary()
	scope := NewScope(nil)
	scope.Assign("FOO", []string{"1"})

	fn := it.Builtins["defined"]
	got, err := fn(it, scope, []string{"FOO", "BAR"}, Position{})
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got, []string{"FOO"}) {
		t.Errorf("defined = %v, want [FOO]", got)
	}

	it.Env["BAZ"] = "qux"
	got2 := call(t, it, "getenv", "BAZ")
	if !reflect.DeepEqual(got2, []string{"qux"}) {
		t.Errorf("getenv BAZ = %v, want [qux]", got2)
	}
}

func TestBuiltinIntrospectThreadIDUnique(t *testing.T) {
	it := newTestInterpWithLibrary()
	a := call(t, it, "thread-id")
	b := call(t, it, "thread-id")
	if len(a) != 1 || len(b) != 1 || a[0] == b[0] {
		t.Errorf("thread-id did not produce distinct ids: %v, %v", a, b)
	}
}

type nullWriter struct{}

func (nullWriter) Write(p []byte) (int, error) { return len(p), nil }
