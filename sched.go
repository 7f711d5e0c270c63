package cook

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"
	"golang.org/x/sync/semaphore"
)

// buildResult is the singleflight record for one in-flight or completed
// recipe instance; every target of a multi-output recipe shares one.
type buildResult struct {
	done chan struct{}
	err  error
}

// Scheduler is the parallel build walker: a bounded pool of concurrent
// recipe-instance executions, singleflight-deduplicated by target, gated
// by precondition/host-binding/single-thread-token/freshness checks before
// a recipe's action ever runs.
type Scheduler struct {
	Graph        *Graph
	Interp       *Interp
	Options      *OptionStack
	FS           *FSOracle
	Fingerprints *FingerprintStore

	// Jobs is the worker count (the `parallel` option, which is numeric
	// rather than boolean and so lives outside the OptionStack's boolean
	// frames).
	Jobs int

	Star bool // echo a "." per recipe whose action starts, instead of its target names

	// Log receives structured diagnostics for each recipe instance's
	// start/completion. Defaults to DiscardLogger, whose threshold sits
	// above Error, so nothing is written.
	Log *slog.Logger

	sem      *semaphore.Weighted
	outputMu sync.Mutex
	mu       sync.Mutex
	building map[string]*buildResult

	desist atomic.Bool

	tokenMu sync.Mutex
	tokens  map[string]*sync.Mutex

	bar *progressbar.ProgressBar
}

var errDesist = fmt.Errorf("build cancelled")

// NewScheduler returns a scheduler bounded to jobs concurrent recipe
// executions (0 or negative means runtime.NumCPU()).
func NewScheduler(g *Graph, interp *Interp, opts *OptionStack, fs *FSOracle, fp *FingerprintStore, jobs int) *Scheduler {
	if jobs <= 0 {
		jobs = runtime.NumCPU()
	}
	return &Scheduler{
		Graph:        g,
		Interp:       interp,
		Options:      opts,
		FS:           fs,
		Fingerprints: fp,
		Jobs:         jobs,
		Log:          DiscardLogger(),
		sem:          semaphore.NewWeighted(int64(jobs)),
		building:     make(map[string]*buildResult),
		tokens:       make(map[string]*sync.Mutex),
	}
}

// Desist sets the process-wide cancellation latch: workers check it at the
// start of every recipe-instance and return without starting new work;
// in-flight child processes are left to finish (or are signalled
// separately by the caller's SIGINT handler).
func (s *Scheduler) Desist() { s.desist.Store(true) }

// EnableMeter attaches a progress bar tracking total completed against n
// expected recipe instances, backing the `meter` option.
func (s *Scheduler) EnableMeter(n int) {
	s.bar = progressbar.NewOptions(n,
		progressbar.OptionSetDescription("building"),
		progressbar.OptionShowCount(),
		progressbar.OptionSetWriter(os.Stderr),
	)
}

// Build runs every root to completion, returning the first error
// encountered (subsequent sibling errors are still collected into the
// underlying instances' buildResults, but only the first surfaces here).
func (s *Scheduler) Build(roots []*Node) error {
	var wg sync.WaitGroup
	errs := make([]error, len(roots))
	for i, r := range roots {
		wg.Add(1)
		go func(i int, n *Node) {
			defer wg.Done()
			errs[i] = s.build(n)
		}(i, r)
	}
	wg.Wait()
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

func nodeTargets(n *Node) []string {
	if n.Producer != nil {
		return n.Producer.Targets
	}
	return []string{n.Name}
}

func (s *Scheduler) build(node *Node) error {
	s.mu.Lock()
	if res, ok := s.building[node.Name]; ok {
		s.mu.Unlock()
		<-res.done
		return res.err
	}
	res := &buildResult{done: make(chan struct{})}
	for _, t := range nodeTargets(node) {
		s.building[t] = res
	}
	s.mu.Unlock()

	err := s.doBuild(node)
	res.err = err
	close(res.done)
	return err
}

func (s *Scheduler) doBuild(node *Node) error {
	if s.desist.Load() {
		return errDesist
	}
	if node.Producer == nil {
		return nil
	}

	var wg sync.WaitGroup
	errs := make([]error, len(node.Deps))
	for i, e := range node.Deps {
		wg.Add(1)
		go func(i int, e Edge) {
			defer wg.Done()
			errs[i] = s.build(e.To)
		}(i, e)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			if !s.Options.Test(OptPersevere) {
				s.desist.Store(true)
			}
			return fmt.Errorf("building %q for %q: %w", node.Deps[i].To.Name, node.Name, err)
		}
	}

	if s.desist.Load() {
		return errDesist
	}

	return s.runInstance(node)
}

// runInstance runs the per-instance gate sequence in order: precondition,
// host binding, single-thread tokens, freshness, execution, fingerprint
// update.
func (s *Scheduler) runInstance(node *Node) error {
	inst := node.Producer
	scope := bindMatchScope(s.Interp.Globals, inst.Match)

	// 1. Precondition.
	if inst.Recipe.Precondition != nil {
		result, err := s.Interp.Run(inst.Recipe.Precondition, scope)
		if err != nil {
			return err
		}
		if isEmptyWordList(result) {
			return nil
		}
	}

	// 2. Host binding. Without distributed dispatch this is a no-op once
	// evaluated.
	if inst.Recipe.HostBinding != nil {
		if _, err := s.Interp.Run(inst.Recipe.HostBinding, scope); err != nil {
			return err
		}
	}

	// 3. Single-thread tokens, acquired in canonical (sorted) order to
	// avoid deadlock.
	var tokenNames []string
	if inst.Recipe.SingleThread != nil {
		words, err := s.Interp.Run(inst.Recipe.SingleThread, scope)
		if err != nil {
			return err
		}
		tokenNames = append([]string(nil), words...)
		sort.Strings(tokenNames)
	}
	locks := s.acquireTokens(tokenNames)
	defer s.releaseTokens(locks)

	// 4. Freshness.
	forced := inst.Recipe.Flags["forced"] || (s.Options != nil && s.Options.Test(OptForce))
	if !forced {
		var stale bool
		var err error
		if inst.Recipe.Fingerprint != nil {
			stale, err = s.isStaleByCommand(node, scope)
		} else {
			stale, err = s.isStale(node)
		}
		if err != nil {
			return err
		}
		if !stale {
			if inst.Recipe.UseAction != nil {
				if _, err := s.Interp.Run(inst.Recipe.UseAction, scope); err != nil {
					return err
				}
			}
			logRecipeDone(context.Background(), s.Log, nodeTargets(node), "up to date", nil)
			s.markDone()
			return nil
		}
	}

	// 5. Execution, or, with the `touch` option set, a stand-in that
	// advances each target's mtime past its ingredients' instead of
	// actually running the action (mirrors make(1)'s `-t`; unsafe options
	// like `touch` are forced off the instant a cookbook error occurs).
	if s.Options != nil && s.Options.Test(OptTouch) {
		s.touch(node)
	} else if err := s.execute(node, scope); err != nil {
		return err
	}

	// 6. Fingerprint update.
	s.updateFingerprints(node, scope)
	s.markDone()
	return nil
}

// isStale evaluates the timestamp rule per edge. When the
// ingredients-fingerprint option is set and timestamps alone don't condemn
// the target, it falls back to a content-fingerprint comparison.
func (s *Scheduler) isStale(node *Node) (bool, error) {
	for _, t := range nodeTargets(node) {
		if !s.FS.Exists(t) {
			return true, nil
		}
	}
	targetOldest := s.oldestTargetMtime(node)

	for _, e := range node.Deps {
		ingMtime := s.effectiveMtime(e.To.Name)
		switch e.Type {
		case EdgeStrict:
			if !ingMtime.Before(targetOldest) {
				return true, nil
			}
		case EdgeWeak:
			if ingMtime.After(targetOldest) {
				return true, nil
			}
		case EdgeExistsOnly:
			// no time comparison
		}
	}

	if s.Options != nil && s.Options.Test(OptIngredientsFingerprint) && s.Fingerprints != nil {
		want := s.ingredientsFingerprint(node)
		for _, t := range nodeTargets(node) {
			rec, ok := s.Fingerprints.Lookup(t)
			if !ok || rec.Ingredients != want {
				return true, nil
			}
		}
	}

	return false, nil
}

// effectiveMtime is the time an ingredient contributes to the freshness
// comparison. With the fingerprint option on, the file is re-fingerprinted
// and the record's oldest time is used instead of the stat mtime: a file
// touched to a later time with identical contents keeps its original
// oldest time and does not condemn its dependents, while genuinely new
// content resets oldest to the current mtime and does.
func (s *Scheduler) effectiveMtime(name string) time.Time {
	m := s.FS.Mtime(name)
	if s.Options == nil || !s.Options.Test(OptFingerprint) || s.Fingerprints == nil {
		return m
	}
	sum, err := Fingerprint(name)
	if err != nil {
		return m
	}
	rec := s.Fingerprints.Update(name, m, sum)
	return rec.Oldest
}

// ingredientsFingerprint combines the per-ingredient content fingerprints
// into one value stored on each target, so a semantic change to any
// ingredient condemns the target even when timestamps line up. Cascaded-in
// ingredients are edges like any other and participate equally.
func (s *Scheduler) ingredientsFingerprint(node *Node) string {
	var b strings.Builder
	for _, e := range node.Deps {
		sum, err := Fingerprint(e.To.Name)
		if err != nil {
			sum = "absent"
		}
		b.WriteString(e.To.Name)
		b.WriteByte('=')
		b.WriteString(sum)
		b.WriteByte('\n')
	}
	return FingerprintBytes([]byte(b.String()))
}

// isStaleByCommand is the freshness check for a recipe carrying a
// `fingerprint { ... }` clause: the clause's captured output replaces both
// the existence check and the content fingerprint, since the target need
// not be an ordinary file.
func (s *Scheduler) isStaleByCommand(node *Node, scope *Scope) (bool, error) {
	sum, err := s.runFingerprintCommand(node, scope)
	if err != nil {
		return false, err
	}
	if s.Fingerprints == nil {
		return true, nil
	}
	for _, t := range nodeTargets(node) {
		rec, ok := s.Fingerprints.Lookup(t)
		if !ok || rec.Contents != sum {
			return true, nil
		}
	}
	return false, nil
}

func (s *Scheduler) runFingerprintCommand(node *Node, scope *Scope) (string, error) {
	words, err := s.Interp.Run(node.Producer.Recipe.Fingerprint, scope)
	if err != nil {
		return "", fmt.Errorf("fingerprint clause for %q: %w", node.Name, err)
	}
	return strings.Join(words, " "), nil
}

func (s *Scheduler) oldestTargetMtime(node *Node) time.Time {
	oldest := s.FS.Mtime(nodeTargets(node)[0])
	for _, t := range nodeTargets(node)[1:] {
		if m := s.FS.Mtime(t); m.Before(oldest) {
			oldest = m
		}
	}
	return oldest
}

// execute runs the action opcode list, honouring errok/persevere/precious/
// silent/star options and unlinking partial targets on a non-precious
// failure.
func (s *Scheduler) execute(node *Node, scope *Scope) error {
	inst := node.Producer

	ctx := context.Background()
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer s.sem.Release(1)

	if !s.Options.Test(OptSilent) {
		s.echo(node)
	}
	logRecipeStart(context.Background(), s.Log, nodeTargets(node))

	_, err := s.Interp.Run(inst.Recipe.Action, scope)
	if err != nil {
		if !inst.Recipe.Flags["precious"] && !s.Options.Test(OptPrecious) {
			for _, t := range nodeTargets(node) {
				os.Remove(t)
				s.FS.Invalidate(t)
			}
		}
		if s.Options.Test(OptErrok) || inst.Recipe.Flags["errok"] {
			logRecipeDone(context.Background(), s.Log, nodeTargets(node), "errok", nil)
			return nil
		}
		if !s.Options.Test(OptPersevere) {
			s.desist.Store(true)
		}
		logRecipeDone(context.Background(), s.Log, nodeTargets(node), "failed", err)
		return fmt.Errorf("recipe for %q failed: %w", node.Name, err)
	}
	for _, t := range nodeTargets(node) {
		s.FS.Invalidate(t)
	}
	logRecipeDone(context.Background(), s.Log, nodeTargets(node), "built", nil)
	return nil
}

// echo prints either the star mark or the target name being built,
// serialised through outputMu so `star`/command output from concurrent
// workers never interleaves.
func (s *Scheduler) echo(node *Node) {
	s.outputMu.Lock()
	defer s.outputMu.Unlock()
	if s.Options.Test(OptStar) || s.Star {
		color.New(color.FgGreen).Fprint(os.Stderr, ".")
	} else {
		fmt.Fprintf(os.Stderr, "cook: building %s\n", strings.Join(nodeTargets(node), " "))
	}
}

// touch advances every target's mtime to now without invoking its action,
// creating the target first if it does not yet exist.
func (s *Scheduler) touch(node *Node) {
	now := time.Now()
	for _, t := range nodeTargets(node) {
		if !s.FS.Exists(t) {
			if f, err := os.Create(t); err == nil {
				f.Close()
			}
		}
		os.Chtimes(t, now, now)
		s.FS.Invalidate(t)
	}
	logRecipeDone(context.Background(), s.Log, nodeTargets(node), "touched", nil)
}

func (s *Scheduler) markDone() {
	if s.bar != nil {
		s.outputMu.Lock()
		s.bar.Add(1)
		s.outputMu.Unlock()
	}
}

// updateFingerprints re-fingerprints each target and touches its mtime
// forward when the `update` option is set and the content actually
// changed. A recipe carrying a `fingerprint { ... }` clause re-runs that
// command instead of hashing the target path, since the target may be a
// non-file pseudo-artifact.
func (s *Scheduler) updateFingerprints(node *Node, scope *Scope) {
	if s.Fingerprints == nil {
		return
	}
	if node.Producer.Recipe.Fingerprint != nil {
		sum, err := s.runFingerprintCommand(node, scope)
		if err != nil {
			return
		}
		now := time.Now()
		for _, t := range nodeTargets(node) {
			s.Fingerprints.Update(t, now, sum)
		}
		return
	}
	// Record the ingredients too when the fingerprint option is on, so a
	// later run can compare against when their content first appeared.
	if s.Options != nil && s.Options.Test(OptFingerprint) {
		for _, e := range node.Deps {
			s.effectiveMtime(e.To.Name)
		}
	}

	ingFP := s.ingredientsFingerprint(node)
	for _, t := range nodeTargets(node) {
		sum, err := Fingerprint(t)
		if err != nil {
			continue
		}
		mtime := s.FS.Mtime(t)
		before, existed := s.Fingerprints.Lookup(t)
		rec := s.Fingerprints.Update(t, mtime, sum)
		s.Fingerprints.UpdateIngredients(t, ingFP)
		if s.Options != nil && s.Options.Test(OptUpdate) && existed && before.Contents != rec.Contents {
			now := time.Now()
			os.Chtimes(t, now, now)
			s.FS.Invalidate(t)
		}
	}
}

func (s *Scheduler) acquireTokens(names []string) []*sync.Mutex {
	locks := make([]*sync.Mutex, 0, len(names))
	for _, n := range names {
		s.tokenMu.Lock()
		l, ok := s.tokens[n]
		if !ok {
			l = &sync.Mutex{}
			s.tokens[n] = l
		}
		s.tokenMu.Unlock()
		l.Lock()
		locks = append(locks, l)
	}
	return locks
}

func (s *Scheduler) releaseTokens(locks []*sync.Mutex) {
	for i := len(locks) - 1; i >= 0; i-- {
		locks[i].Unlock()
	}
}
