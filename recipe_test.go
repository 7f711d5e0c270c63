package cook

import "testing"

func TestRecipeStoreExplicitBeforeImplicit(t *testing.T) {
	store := NewRecipeStore()
	implicit := &RecipeDecl{TargetPatterns: []string{"%.o"}, ImplicitMask: 1}
	explicit := &RecipeDecl{TargetPatterns: []string{"foo.o"}}

	if err := store.Add(implicit); err != nil {
		t.Fatal(err)
	}
	if err := store.Add(explicit); err != nil {
		t.Fatal(err)
	}

	matches, err := store.Lookup(ModePercent, "foo.o")
	if err != nil {
		t.Fatal(err)
	}
	if len(matches) != 1 || matches[0].Recipe != explicit {
		t.Fatalf("Lookup(foo.o) = %v, want only the explicit recipe", matches)
	}
}

func TestRecipeStoreFallsBackToImplicit(t *testing.T) {
	store := NewRecipeStore()
	implicit := &RecipeDecl{TargetPatterns: []string{"%.o"}, ImplicitMask: 1}
	if err := store.Add(implicit); err != nil {
		t.Fatal(err)
	}

	matches, err := store.Lookup(ModePercent, "bar.o")
	if err != nil {
		t.Fatal(err)
	}
	if len(matches) != 1 || matches[0].Recipe != implicit {
		t.Fatalf("Lookup(bar.o) = %v, want the implicit recipe", matches)
	}
}

func TestRecipeStoreSourceOrderTieBreak(t *testing.T) {
	store := NewRecipeStore()
	first := &RecipeDecl{TargetPatterns: []string{"%.o"}, ImplicitMask: 1}
	second := &RecipeDecl{TargetPatterns: []string{"%.o"}, ImplicitMask: 1}
	if err := store.Add(first); err != nil {
		t.Fatal(err)
	}
	if err := store.Add(second); err != nil {
		t.Fatal(err)
	}

	matches, err := store.Lookup(ModePercent, "x.o")
	if err != nil {
		t.Fatal(err)
	}
	if len(matches) != 2 || matches[0].Recipe != first || matches[1].Recipe != second {
		t.Fatalf("Lookup did not preserve source order: %v", matches)
	}
}

func TestRecipeStoreRejectsUnevenWildcardTargets(t *testing.T) {
	store := NewRecipeStore()
	decl := &RecipeDecl{
		TargetPatterns: []string{"%.tab.c", "%.tab.h", "all.h"},
		ImplicitMask:   UsageMask(ModePercent, "%.tab.c"),
	}
	if err := store.Add(decl); err == nil {
		t.Error("expected an error when one target of an implicit recipe uses no wildcard")
	}

	even := &RecipeDecl{
		TargetPatterns: []string{"%.tab.c", "%.tab.h"},
		ImplicitMask:   UsageMask(ModePercent, "%.tab.c"),
	}
	if err := store.Add(even); err != nil {
		t.Errorf("targets sharing the full wildcard set were rejected: %v", err)
	}
}

func TestRecipeStoreRejectsAmbiguousDoubleColon(t *testing.T) {
	store := NewRecipeStore()
	decl := &RecipeDecl{
		TargetPatterns: []string{"a.o", "b.o"},
		Multiple:       true,
		Action:         NewOpcodeList(),
	}
	if err := store.Add(decl); err == nil {
		t.Error("expected an error for a double-colon multi-target recipe with an action")
	}
}
