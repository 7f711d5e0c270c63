package cook

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func wordsOpcodeList(words ...string) *OpcodeList {
	ops := NewOpcodeList()
	ops.append(Opcode{Kind: OpPushFrame})
	for _, w := range words {
		ops.append(Opcode{Kind: OpPushWord, Word: w, Raw: true})
	}
	ops.append(Opcode{Kind: OpReturn})
	return ops
}

func newTestGraphEnv(t *testing.T) (*Graph, *RecipeStore, *CascadeResolver, string) {
	t.Helper()
	dir := t.TempDir()
	prevWd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Chdir(prevWd) })

	store := NewRecipeStore()
	cascade := NewCascadeResolver()
	fs := NewFSOracle()
	opts := NewOptionStack()
	interp := newTestInterp()
	g := NewGraph(store, cascade, interp, fs, opts)
	return g, store, cascade, dir
}

func TestGraphResolveSourceFileNoRecipe(t *testing.T) {
	g, _, _, dir := newTestGraphEnv(t)
	path := filepath.Join(dir, "src.c")
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	roots, err := g.Build([]string{path})
	if err != nil {
		t.Fatal(err)
	}
	if roots[0].Producer != nil {
		t.Error("a plain source file should have no Producer")
	}
}

func TestGraphResolveMissingFileNoRecipe(t *testing.T) {
	g, _, _, _ := newTestGraphEnv(t)
	if _, err := g.Build([]string{"nowhere.c"}); err == nil {
		t.Error("expected an error resolving a nonexistent file with no recipe")
	}
}

func TestGraphBuildWiresIngredientEdges(t *testing.T) {
	g, store, _, dir := newTestGraphEnv(t)
	src := filepath.Join(dir, "foo.c")
	if err := os.WriteFile(src, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	out := filepath.Join(dir, "foo.o")

	decl := &RecipeDecl{
		TargetPatterns:     []string{out},
		PrimaryIngredients: wordsOpcodeList(src),
		Action:             NewOpcodeList(),
	}
	if err := store.Add(decl); err != nil {
		t.Fatal(err)
	}

	roots, err := g.Build([]string{out})
	if err != nil {
		t.Fatal(err)
	}
	node := roots[0]
	if len(node.Deps) != 1 || node.Deps[0].To.Name != src {
		t.Fatalf("Deps = %v, want a single edge to %s", node.Deps, src)
	}
	if node.Producer == nil || node.Producer.Recipe != decl {
		t.Error("Producer not wired to the matching recipe")
	}
}

func TestGraphBuildAppliesCascadeClosure(t *testing.T) {
	g, store, cascade, dir := newTestGraphEnv(t)
	header := filepath.Join(dir, "config.h")
	if err := os.WriteFile(header, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	src := filepath.Join(dir, "foo.c")
	if err := os.WriteFile(src, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	out := filepath.Join(dir, "foo.o")

	cascade.Declare(&CascadeDecl{Target: src, Ingredient: header})

	decl := &RecipeDecl{
		TargetPatterns:     []string{out},
		PrimaryIngredients: wordsOpcodeList(src),
		Action:             NewOpcodeList(),
	}
	if err := store.Add(decl); err != nil {
		t.Fatal(err)
	}

	roots, err := g.Build([]string{out})
	if err != nil {
		t.Fatal(err)
	}
	names := map[string]bool{}
	for _, e := range roots[0].Deps {
		names[e.To.Name] = true
	}
	if !names[src] || !names[header] {
		t.Errorf("expected Deps to include both %s and %s via cascade, got %v", src, header, roots[0].Deps)
	}
}

func TestGraphDisambiguateRejectsAmbiguousExplicitMatches(t *testing.T) {
	g, store, _, dir := newTestGraphEnv(t)
	out := filepath.Join(dir, "foo.o")
	one := &RecipeDecl{TargetPatterns: []string{out}, Action: NewOpcodeList()}
	two := &RecipeDecl{TargetPatterns: []string{out}, Action: NewOpcodeList()}
	store.Add(one)
	store.Add(two)

	if _, err := g.Build([]string{out}); err == nil {
		t.Error("expected an ambiguity error with two explicit recipes for the same target")
	}
}

func TestGraphDefaultTargetIsFirstExplicit(t *testing.T) {
	g, store, _, dir := newTestGraphEnv(t)
	first := filepath.Join(dir, "all")
	second := filepath.Join(dir, "clean")
	store.Add(&RecipeDecl{TargetPatterns: []string{first}, Action: NewOpcodeList()})
	store.Add(&RecipeDecl{TargetPatterns: []string{second}, Action: NewOpcodeList()})

	if got := g.DefaultTarget(); got != first {
		t.Errorf("DefaultTarget = %q, want %q", got, first)
	}
}

func TestGraphWhyRebuildDetectsNewerIngredient(t *testing.T) {
	g, store, _, dir := newTestGraphEnv(t)
	src := filepath.Join(dir, "foo.c")
	out := filepath.Join(dir, "foo.o")

	past := time.Now().Add(-time.Hour)
	if err := os.WriteFile(out, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	os.Chtimes(out, past, past)
	if err := os.WriteFile(src, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	decl := &RecipeDecl{
		TargetPatterns:     []string{out},
		PrimaryIngredients: wordsOpcodeList(src),
		Action:             NewOpcodeList(),
	}
	store.Add(decl)

	roots, err := g.Build([]string{out})
	if err != nil {
		t.Fatal(err)
	}

	reasons, err := g.WhyRebuild(roots[0], nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(reasons) == 0 {
		t.Error("expected a rebuild reason since the ingredient is newer than the target")
	}
}

func TestGraphWhyRebuildUpToDate(t *testing.T) {
	g, store, _, dir := newTestGraphEnv(t)
	src := filepath.Join(dir, "foo.c")
	out := filepath.Join(dir, "foo.o")

	past := time.Now().Add(-time.Hour)
	if err := os.WriteFile(src, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	os.Chtimes(src, past, past)
	if err := os.WriteFile(out, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	decl := &RecipeDecl{
		TargetPatterns:     []string{out},
		PrimaryIngredients: wordsOpcodeList(src),
		Action:             NewOpcodeList(),
	}
	store.Add(decl)

	roots, err := g.Build([]string{out})
	if err != nil {
		t.Fatal(err)
	}

	reasons, err := g.WhyRebuild(roots[0], nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(reasons) != 0 {
		t.Errorf("expected no rebuild reasons, got %v", reasons)
	}
}

func TestGraphPrintGraphEmitsDOT(t *testing.T) {
	g, store, _, dir := newTestGraphEnv(t)
	src := filepath.Join(dir, "foo.c")
	out := filepath.Join(dir, "foo.o")
	os.WriteFile(src, []byte("x"), 0o644)

	decl := &RecipeDecl{
		TargetPatterns:     []string{out},
		PrimaryIngredients: wordsOpcodeList(src),
		Action:             NewOpcodeList(),
	}
	store.Add(decl)
	if _, err := g.Build([]string{out}); err != nil {
		t.Fatal(err)
	}

	var b strings.Builder
	if err := g.PrintGraph(&b, []string{out}); err != nil {
		t.Fatal(err)
	}
	dot := b.String()
	if !strings.Contains(dot, "digraph cook") || !strings.Contains(dot, src) {
		t.Errorf("PrintGraph output missing expected DOT content: %s", dot)
	}
}
