package cook

import "strings"

// cascadeEntry is one (ingredient, position) pair recorded against a
// cascade target, kept even when duplicated across positions so later
// diagnostics can report every declaration site.
type cascadeEntry struct {
	ingredient string
	pos        Position
}

// CascadeResolver maintains the table built by `cascade TARGET =
// INGREDIENT …;` declarations and computes the transitive closure of a
// need list across it.
type CascadeResolver struct {
	table map[string][]cascadeEntry
	seen  map[string]map[string]bool // target -> ingredient -> already recorded at an identical position-less key
}

// NewCascadeResolver returns an empty resolver.
func NewCascadeResolver() *CascadeResolver {
	return &CascadeResolver{
		table: make(map[string][]cascadeEntry),
		seen:  make(map[string]map[string]bool),
	}
}

// stripDot removes a leading "./" the way every cascade key is normalised
// before lookup or insertion.
func stripDot(name string) string {
	return strings.TrimPrefix(name, "./")
}

// Declare records one cascade declaration, silently de-duplicating an exact
// (target, ingredient, position) repeat.
func (r *CascadeResolver) Declare(decl *CascadeDecl) {
	target := stripDot(decl.Target)
	ingredient := stripDot(decl.Ingredient)

	key := ingredient + "@" + decl.Pos.String()
	if r.seen[target] == nil {
		r.seen[target] = make(map[string]bool)
	}
	if r.seen[target][key] {
		return
	}
	r.seen[target][key] = true

	r.table[target] = append(r.table[target], cascadeEntry{ingredient: ingredient, pos: decl.Pos})
}

// Closure performs the transitive closure: for each name currently in the
// extended need list, append every cascade ingredient declared for it; keep
// iterating over newly appended names until no new names are produced.
// Order is preserved (first appearance order), and duplicates already in
// the need list pass through verbatim. Each name's cascade table is
// consulted at most once per call, and a name already present in the list
// is never appended again, so the closure of a closure is itself:
// closure(closure(X)) == closure(X).
func (r *CascadeResolver) Closure(need []string) []string {
	extended := append([]string(nil), need...)
	present := make(map[string]bool, len(extended))
	for _, n := range extended {
		present[stripDot(n)] = true
	}
	expanded := make(map[string]bool, len(extended))
	for i := 0; i < len(extended); i++ {
		name := stripDot(extended[i])
		if expanded[name] {
			continue
		}
		expanded[name] = true
		for _, entry := range r.table[name] {
			if present[entry.ingredient] {
				continue
			}
			present[entry.ingredient] = true
			extended = append(extended, entry.ingredient)
		}
	}
	return extended
}
