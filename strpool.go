package cook

import "sync"

// StringPool interns byte sequences so that equal values share one
// representation. Go's native string type already gives O(1) byte-slice
// equality for short keys, so the pool below is an optional optimisation
// layer over that: interning collapses repeated ingredient/target names (the
// same path string is produced over and over while walking a graph) down to
// one allocation, and lets callers that want identity comparison get it.
// Equal-by-value is the only semantics callers may rely on; nothing here
// requires interning to happen.
type StringPool struct {
	mu      sync.RWMutex
	entries map[string]*internedString
}

// internedString is the pool's stored representation. Two Interned values
// with the same Text always point at the same *internedString once the same
// pool has interned them, which is what makes Identical an O(1) pointer compare.
type internedString struct {
	text string
	refs int
}

// Interned is a handle into the pool. The zero value is not valid; obtain
// one from (*StringPool).Intern.
type Interned struct {
	entry *internedString
}

// NewStringPool returns an empty pool.
func NewStringPool() *StringPool {
	return &StringPool{entries: make(map[string]*internedString)}
}

// Intern returns the pool's canonical handle for s, allocating one if this
// is the first time s has been seen.
func (p *StringPool) Intern(s string) Interned {
	p.mu.RLock()
	e, ok := p.entries[s]
	p.mu.RUnlock()
	if ok {
		p.mu.Lock()
		e.refs++
		p.mu.Unlock()
		return Interned{entry: e}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if e, ok := p.entries[s]; ok {
		e.refs++
		return Interned{entry: e}
	}
	e = &internedString{text: s, refs: 1}
	p.entries[s] = e
	return Interned{entry: e}
}

// Release decrements the reference count of an interned value and removes
// it from the pool once no holder remains. Callers are free to skip Release
// entirely and let entries live for the process lifetime; it exists for
// long-running callers (the interpreter re-interning the same literal
// across many recipe expansions) that want to bound memory.
func (p *StringPool) Release(s Interned) {
	if s.entry == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	s.entry.refs--
	if s.entry.refs <= 0 {
		delete(p.entries, s.entry.text)
	}
}

// Bytes returns the underlying byte sequence.
func (s Interned) Bytes() []byte { return []byte(s.entry.text) }

// String returns the underlying string.
func (s Interned) String() string { return s.entry.text }

// Len returns the byte length of the interned value.
func (s Interned) Len() int { return len(s.entry.text) }

// Equal reports value equality: for any two strings produced by the pool,
// Equal holds iff their byte sequences are equal, regardless of whether
// they share an entry pointer, so this also answers correctly for a zero
// Interned compared by value.
func Equal(a, b Interned) bool {
	if a.entry == b.entry {
		return true
	}
	if a.entry == nil || b.entry == nil {
		return false
	}
	return a.entry.text == b.entry.text
}

// Identical reports whether a and b were interned from the same pool entry;
// an O(1) pointer compare, valid only when both handles came from the same
// *StringPool. It is strictly stronger than Equal and is never required by
// the package API; it is an optimisation only.
func Identical(a, b Interned) bool {
	return a.entry != nil && a.entry == b.entry
}
