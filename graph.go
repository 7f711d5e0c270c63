package cook

import (
	"fmt"
	"io"
	"strconv"
)

// Node is one named artifact in the dependency graph: either a source file
// (Producer is nil) or the output of a RecipeInstance. Several Nodes can
// share one Producer when a recipe declares multiple targets.
type Node struct {
	Name     string
	Producer *RecipeInstance

	Deps       []Edge  // ingredient edges, in resolution order
	Dependents []*Node // reverse edges, populated as ingredients are linked
}

// Edge is one ingredient link with its timing constraint.
type Edge struct {
	To   *Node
	Type EdgeType
}

// RecipeInstance is a recipe bound to one concrete set of targets and
// ingredients, ready for the scheduler to gate and run.
type RecipeInstance struct {
	Recipe    *RecipeDecl
	Targets   []string
	Primary   []string // post cascade-closure
	Secondary []string
	Match     *MatchCtx
}

// AmbiguityPolicy controls what the graph builder does when more than one
// recipe in the same class (explicit or implicit) matches a target. The
// matches' ingredient sets are not compared: any second match counts as
// ambiguous, even when its ingredients agree with the first.
type AmbiguityPolicy int

const (
	// AmbiguityError rejects the build with a diagnostic (default).
	AmbiguityError AmbiguityPolicy = iota
	// AmbiguityFirstWins silently keeps the first match in source order.
	AmbiguityFirstWins
)

// Graph is the dependency DAG builder and the scheduler's read-only view of
// it once built.
type Graph struct {
	Store     *RecipeStore
	Cascade   *CascadeResolver
	Interp    *Interp
	FS        *FSOracle
	Options   *OptionStack
	Ambiguity AmbiguityPolicy

	nodes      map[string]*Node
	inProgress map[string]*Node
}

// NewGraph returns an empty graph wired to the given recipe/cascade/
// interpreter services.
func NewGraph(store *RecipeStore, cascade *CascadeResolver, interp *Interp, fs *FSOracle, opts *OptionStack) *Graph {
	return &Graph{
		Store:      store,
		Cascade:    cascade,
		Interp:     interp,
		FS:         fs,
		Options:    opts,
		nodes:      make(map[string]*Node),
		inProgress: make(map[string]*Node),
	}
}

func (g *Graph) matchMode() MatchMode {
	if g.Options != nil && g.Options.Test(OptMatchModeRegex) {
		return ModeRegex
	}
	return ModePercent
}

func (g *Graph) canonicalName(name string) string {
	if g.Options != nil && g.Options.Test(OptStripDot) {
		return stripDot(name)
	}
	return name
}

// Build resolves every name in targets and everything they transitively
// depend on, populating g's node table.
func (g *Graph) Build(targets []string) ([]*Node, error) {
	roots := make([]*Node, 0, len(targets))
	for _, t := range targets {
		n, err := g.resolve(t)
		if err != nil {
			return nil, err
		}
		roots = append(roots, n)
	}
	return roots, nil
}

// resolve canonicalises one target name, picks its producing recipe, and
// recurses into the ingredients, detecting cycles along the way.
func (g *Graph) resolve(rawName string) (*Node, error) {
	name := g.canonicalName(rawName)

	if n, ok := g.nodes[name]; ok {
		return n, nil
	}
	if n, ok := g.inProgress[name]; ok {
		if g.Options != nil && g.Options.Test(OptRecursion) {
			return n, nil
		}
		return nil, fmt.Errorf("cycle detected at %q (recursion option not set)", name)
	}

	mode := g.matchMode()
	matches, err := g.Store.Lookup(mode, name)
	if err != nil {
		return nil, err
	}

	if len(matches) == 0 {
		if g.FS.Exists(name) {
			n := &Node{Name: name}
			g.nodes[name] = n
			return n, nil
		}
		return nil, fmt.Errorf("no recipe to build %q and no such file exists", name)
	}

	chosen, err := g.disambiguate(matches, name)
	if err != nil {
		return nil, err
	}

	allTargets, err := reconstructAllTargets(chosen)
	if err != nil {
		return nil, err
	}

	stub := &Node{Name: name}
	g.inProgress[name] = stub
	for _, t := range allTargets {
		if t != name {
			g.inProgress[t] = stub
		}
	}

	primary, secondary, err := g.evaluateIngredients(chosen)
	if err != nil {
		return nil, err
	}
	extendedPrimary := g.Cascade.Closure(primary)

	inst := &RecipeInstance{
		Recipe:    chosen.Recipe,
		Targets:   allTargets,
		Primary:   extendedPrimary,
		Secondary: secondary,
		Match:     chosen.Match,
	}

	nodesByTarget := make(map[string]*Node, len(allTargets))
	for _, t := range allTargets {
		node := stub
		if t != name {
			node = &Node{Name: t}
		}
		node.Name = t
		node.Producer = inst
		g.nodes[t] = node
		nodesByTarget[t] = node
	}
	delete(g.inProgress, name)
	for _, t := range allTargets {
		delete(g.inProgress, t)
	}

	edgeType := recipeEdgeType(chosen.Recipe)

	ingredientNames := append(append([]string(nil), extendedPrimary...), secondary...)
	for _, ing := range ingredientNames {
		ingNode, err := g.resolve(ing)
		if err != nil {
			return nil, err
		}
		for _, node := range nodesByTarget {
			node.Deps = append(node.Deps, Edge{To: ingNode, Type: edgeType})
			ingNode.Dependents = append(ingNode.Dependents, node)
		}
	}

	return nodesByTarget[name], nil
}

// recipeEdgeType reads the "weak"/"exists-only" recipe flags, defaulting to
// strict.
func recipeEdgeType(r *RecipeDecl) EdgeType {
	if r.Flags["exists-only"] {
		return EdgeExistsOnly
	}
	if r.Flags["weak"] {
		return EdgeWeak
	}
	return EdgeStrict
}

// disambiguate applies the ambiguity policy when more than one recipe in
// the chosen class matches.
func (g *Graph) disambiguate(matches []RecipeMatch, target string) (RecipeMatch, error) {
	if len(matches) == 1 {
		return matches[0], nil
	}
	if g.Ambiguity == AmbiguityFirstWins {
		return matches[0], nil
	}
	return RecipeMatch{}, fmt.Errorf("%q is produced ambiguously by %d recipes", target, len(matches))
}

// reconstructAllTargets reconstructs every target pattern of the chosen
// recipe against the captures recorded by matching the requested target, so
// a multi-target recipe's siblings all resolve to the same RecipeInstance.
func reconstructAllTargets(m RecipeMatch) ([]string, error) {
	out := make([]string, len(m.Recipe.TargetPatterns))
	for i, pat := range m.Recipe.TargetPatterns {
		name, err := m.Match.ReconstructLHS(pat)
		if err != nil {
			return nil, err
		}
		out[i] = name
	}
	return out, nil
}

// evaluateIngredients runs the chosen recipe's ingredient opcode lists in a
// fresh scope, chained to the cookbook globals, with the match captures
// bound as $1, $2, ... For an implicit recipe, wildcards left in the
// resulting words (the "%" of "%.c") are then replaced by the captures.
func (g *Graph) evaluateIngredients(m RecipeMatch) (primary, secondary []string, err error) {
	scope := bindMatchScope(g.Interp.Globals, m.Match)
	if m.Recipe.PrimaryIngredients != nil {
		primary, err = g.Interp.Run(m.Recipe.PrimaryIngredients, scope)
		if err != nil {
			return nil, nil, err
		}
	}
	if m.Recipe.SecondaryIngredients != nil {
		secondary, err = g.Interp.Run(m.Recipe.SecondaryIngredients, scope)
		if err != nil {
			return nil, nil, err
		}
	}
	if m.Recipe.IsImplicit() {
		for _, words := range [][]string{primary, secondary} {
			for i, w := range words {
				if words[i], err = m.Match.ReconstructRHS(w, m.Recipe.Pos); err != nil {
					return nil, nil, err
				}
			}
		}
	}
	return primary, secondary, nil
}

// bindMatchScope creates a scope exposing a match's numbered captures as
// variables "0".."9", the way recipe action/ingredient text references
// `$1`/`$2`.
func bindMatchScope(parent *Scope, m *MatchCtx) *Scope {
	s := NewScope(parent)
	if m == nil {
		return s
	}
	for n, v := range m.Captures() {
		s.SetLocal(strconv.Itoa(n), []string{v})
	}
	return s
}

// WhyRebuild explains, in order, why node would be rebuilt: which
// ingredient is newer, or that its fingerprint changed, or that it is
// forced. It returns nil when the node is up to date. Backs the `cook why`
// subcommand and the --reason flag.
func (g *Graph) WhyRebuild(node *Node, fp *FingerprintStore) ([]string, error) {
	if node.Producer == nil {
		return nil, nil
	}
	if g.Options != nil && g.Options.Test(OptForce) {
		return []string{fmt.Sprintf("%s: force option is set", node.Name)}, nil
	}

	var reasons []string
	targetMtime := g.FS.Mtime(node.Name)
	targetExists := g.FS.Exists(node.Name)
	if !targetExists {
		reasons = append(reasons, fmt.Sprintf("%s: target does not exist", node.Name))
		return reasons, nil
	}

	for _, e := range node.Deps {
		ingMtime := g.FS.Mtime(e.To.Name)
		stale := false
		switch e.Type {
		case EdgeStrict:
			stale = !ingMtime.Before(targetMtime)
		case EdgeWeak:
			stale = ingMtime.After(targetMtime)
		case EdgeExistsOnly:
			stale = false
		}
		if stale {
			reasons = append(reasons, fmt.Sprintf("%s: %s is newer", node.Name, e.To.Name))
		}
	}

	if len(reasons) == 0 && fp != nil && g.Options != nil && g.Options.Test(OptIngredientsFingerprint) {
		rec, ok := fp.Lookup(node.Name)
		if ok {
			sum, err := Fingerprint(node.Name)
			if err == nil && sum != rec.Contents {
				reasons = append(reasons, fmt.Sprintf("%s: content fingerprint changed", node.Name))
			}
		}
	}

	return reasons, nil
}

// PrintGraph writes the dependency subgraph rooted at targets as a Graphviz
// DOT document to w. Backs the `cook graph` subcommand.
func (g *Graph) PrintGraph(w io.Writer, targets []string) error {
	fmt.Fprintln(w, "digraph cook {")
	fmt.Fprintln(w, "  rankdir=LR;")
	visited := map[string]bool{}
	for _, t := range targets {
		if err := g.printNode(w, t, visited); err != nil {
			return err
		}
	}
	fmt.Fprintln(w, "}")
	return nil
}

func (g *Graph) printNode(w io.Writer, name string, visited map[string]bool) error {
	if visited[name] {
		return nil
	}
	visited[name] = true

	node, ok := g.nodes[name]
	if !ok {
		return nil
	}
	for _, e := range node.Deps {
		style := ""
		switch e.Type {
		case EdgeWeak:
			style = " [style=dashed]"
		case EdgeExistsOnly:
			style = " [style=dotted]"
		}
		fmt.Fprintf(w, "  %q -> %q%s;\n", name, e.To.Name, style)
		if err := g.printNode(w, e.To.Name, visited); err != nil {
			return err
		}
	}
	return nil
}

// DefaultTarget returns the first target of the first explicit recipe
// declared in the cookbook, the conventional "build everything" default.
func (g *Graph) DefaultTarget() string {
	for _, r := range g.Store.explicit {
		return r.TargetPatterns[0]
	}
	return ""
}
