package cook

import "testing"

func TestOptionStackLevelPriority(t *testing.T) {
	s := NewOptionStack()
	s.Set(OptForce, LevelDefault, false)
	s.Set(OptForce, LevelCommandLine, true)
	if !s.Test(OptForce) {
		t.Errorf("Test(OptForce) = false, want true (command-line outranks default)")
	}
}

func TestOptionStackUndoLevelMonotonicity(t *testing.T) {
	// After set(opt, L, v) then
	// undo_level(L), test(opt) returns the same value it returned before
	// the set.
	s := NewOptionStack()
	before := s.Test(OptSilent)

	s.Set(OptSilent, LevelRecipe, !before)
	if s.Test(OptSilent) == before {
		t.Fatalf("Set did not take effect")
	}

	s.UndoLevel(LevelRecipe)
	if s.Test(OptSilent) != before {
		t.Errorf("Test(OptSilent) after undo = %v, want %v", s.Test(OptSilent), before)
	}
}

func TestOptionStackUndoLevelAcrossOptions(t *testing.T) {
	s := NewOptionStack()
	s.Set(OptForce, LevelRecipe, true)
	s.Set(OptSilent, LevelRecipe, true)
	s.Set(OptStar, LevelCommandLine, true)

	s.UndoLevel(LevelRecipe)

	if s.Test(OptForce) {
		t.Error("OptForce still set after undoing its level")
	}
	if s.Test(OptSilent) {
		t.Error("OptSilent still set after undoing its level")
	}
	if !s.Test(OptStar) {
		t.Error("OptStar was cleared by an unrelated level's undo")
	}
}

func TestOptionStackForceOffOnError(t *testing.T) {
	s := NewOptionStack()
	s.Set(OptSilent, LevelCommandLine, true)
	s.Set(OptTouch, LevelCommandLine, true)
	s.Set(OptForce, LevelCommandLine, true)

	s.ForceOffOnError()

	if s.Test(OptSilent) {
		t.Error("unsafe option OptSilent not forced off on error")
	}
	if s.Test(OptTouch) {
		t.Error("unsafe option OptTouch not forced off on error")
	}
	if !s.Test(OptForce) {
		t.Error("safe option OptForce incorrectly cleared")
	}
}
