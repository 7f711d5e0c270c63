package cook

import "sync"

// OptionLevel names one layer of the option stack, outermost
// first.
type OptionLevel int

const (
	LevelDefault OptionLevel = iota
	LevelEnvironment
	LevelCookbook
	LevelRecipe
	LevelExecute
	LevelCommandLine
	LevelAuto
	LevelError
)

// Option names every boolean flag the interpreter/scheduler consult. This
// is a fixed set; unsafe options (forced off once
// a cookbook error occurs) are marked in unsafeOptions below.
type Option string

const (
	OptAction                 Option = "action"
	OptCascade                Option = "cascade"
	OptErrok                  Option = "errok"
	OptFingerprint            Option = "fingerprint"
	OptForce                  Option = "force"
	OptMeter                  Option = "meter"
	OptPersevere              Option = "persevere"
	OptPrecious               Option = "precious"
	OptReason                 Option = "reason"
	OptShallow                Option = "shallow"
	OptSilent                 Option = "silent"
	OptStar                   Option = "star"
	OptStripDot               Option = "strip-dot"
	OptSymlinkIngredients     Option = "symlink-ingredients"
	OptTerminal               Option = "terminal"
	OptTouch                  Option = "touch"
	OptUpdate                 Option = "update"
	OptTellPosition           Option = "tell-position"
	OptMkdir                  Option = "mkdir"
	OptUnlink                 Option = "unlink"
	OptMatchModeRegex         Option = "match-mode-regex"
	OptInvalidateStatCache    Option = "invalidate-stat-cache"
	OptIngredientsFingerprint Option = "ingredients-fingerprint"
	OptRecursion              Option = "recursion"
)

// unsafeOptions suppress error reporting or skip work; once a cookbook
// error is encountered they are forced off irreversibly for the rest of the
// run.
var unsafeOptions = map[Option]bool{
	OptSilent: true,
	OptTouch:  true,
	OptErrok:  true,
}

type frame struct {
	level OptionLevel
	value bool
}

// OptionStack holds a stack of (level, value) frames per option; reads
// see the highest-priority frame.
type OptionStack struct {
	mu     sync.RWMutex
	frames map[Option][]frame
	forced map[Option]bool // forced off at the internal error level
}

// NewOptionStack returns a stack with every option defaulting to false.
func NewOptionStack() *OptionStack {
	return &OptionStack{
		frames: make(map[Option][]frame),
		forced: make(map[Option]bool),
	}
}

// Set installs value at level for opt: if that level already has a frame it
// is replaced, else a new frame is pushed.
func (s *OptionStack) Set(opt Option, level OptionLevel, value bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fs := s.frames[opt]
	for i := range fs {
		if fs[i].level == level {
			fs[i].value = value
			return
		}
	}
	fs = append(fs, frame{level: level, value: value})
	// Keep frames ordered by level so Test can take the highest-priority one.
	for i := len(fs) - 1; i > 0 && fs[i-1].level > fs[i].level; i-- {
		fs[i-1], fs[i] = fs[i], fs[i-1]
	}
	s.frames[opt] = fs
}

// UndoLevel pops every frame at level, across all options.
func (s *OptionStack) UndoLevel(level OptionLevel) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for opt, fs := range s.frames {
		out := fs[:0]
		for _, f := range fs {
			if f.level != level {
				out = append(out, f)
			}
		}
		s.frames[opt] = out
	}
}

// Test returns the value of the highest-priority frame set for opt, or
// false if none is set. A force-off (from an unsafe-option cookbook-error
// reaction) always wins.
func (s *OptionStack) Test(opt Option) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.forced[opt] {
		return false
	}
	fs := s.frames[opt]
	if len(fs) == 0 {
		return false
	}
	return fs[len(fs)-1].value
}

// ForceOffOnError disables every unsafe option at the internal error level,
// irreversibly for the remainder of the run.
func (s *OptionStack) ForceOffOnError() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for opt := range unsafeOptions {
		s.forced[opt] = true
	}
}
