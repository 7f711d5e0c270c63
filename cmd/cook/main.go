package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/cookbuild/cook"
)

var (
	flagFile      string
	flagJobs      int
	flagForce     bool
	flagPersevere bool
	flagSilent    bool
	flagStar      bool
	flagMeter     bool
	flagStripDot  bool
	flagRegex     bool
	flagErrok     bool
	flagTouch     bool
	flagPrecious  bool
	flagReason    bool
	flagVars      []string
)

// argSpecs is the abbreviation table for the argument lexer: a user may
// type any unambiguous prefix of these formal names (case insensitively)
// as a single-dash option, and it expands to the canonical long flag
// below before cobra/pflag ever parses argv. Patterns
// deliberately give each option a mandatory prefix distinct from cobra's
// own single-letter shorthands (-f, -F, -s) and from each other, so the
// pre-pass never reinterprets those; "force", "file", and "silent" are left
// to cobra's native flag parsing. "jobs" is the exception: its "J*" pattern
// takes -j itself, so "-j" and "-jN" both expand to --jobs.
var argSpecs = []cook.ArgSpec{
	{Pattern: "PERsevere", Name: "persevere"},
	{Pattern: "STAr", Name: "star"},
	{Pattern: "METer", Name: "meter"},
	{Pattern: "STRip_dot", Name: "strip-dot"},
	{Pattern: "MATch_mode_regex", Name: "match-mode-regex"},
	{Pattern: "ERRok", Name: "errok"},
	{Pattern: "Touch", Name: "touch"},
	{Pattern: "PREcious", Name: "precious"},
	{Pattern: "Reason", Name: "reason"},
	{Pattern: "J*", Name: "jobs"},
}

// expandArgs runs argv through the arglex abbreviation lexer, translating
// any recognised abbreviated single-dash option (e.g. "-Pers", "-j4")
// into its canonical "--long-name[=value]" form; anything that doesn't
// match a formal name (bare words, numbers, cobra's own "-f" shorthand)
// passes through untouched; a bare "-j" matches the jobs pattern and
// becomes "--jobs".
func expandArgs(argv []string) ([]string, error) {
	lexer := cook.NewArgLexer(argSpecs)
	toks, err := lexer.Lex(argv)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(toks))
	for _, t := range toks {
		switch t.Kind {
		case cook.ArgOption:
			if t.Value != "" {
				out = append(out, "--"+t.Name+"="+t.Value)
			} else {
				out = append(out, "--"+t.Name)
			}
		default:
			out = append(out, t.Value)
		}
	}
	return out, nil
}

func main() {
	root := &cobra.Command{
		Use:   "cook [targets...]",
		Short: "cook builds files from a cookbook of recipes",
		RunE:  runBuild,
	}
	root.PersistentFlags().StringVarP(&flagFile, "file", "f", "cookbook", "cookbook to read")
	root.PersistentFlags().IntVarP(&flagJobs, "jobs", "j", 0, "parallel jobs (0 = NumCPU)")
	root.PersistentFlags().BoolVarP(&flagForce, "force", "F", false, "unconditional rebuild")
	root.PersistentFlags().BoolVar(&flagPersevere, "persevere", false, "continue past recipe failures in unrelated branches")
	root.PersistentFlags().BoolVarP(&flagSilent, "silent", "s", false, "suppress the per-recipe echo")
	root.PersistentFlags().BoolVar(&flagStar, "star", false, "echo a '.' per recipe run instead of its name")
	root.PersistentFlags().BoolVar(&flagMeter, "meter", false, "show a progress bar")
	root.PersistentFlags().BoolVar(&flagStripDot, "strip-dot", false, "canonicalise target names by stripping a leading ./")
	root.PersistentFlags().BoolVar(&flagRegex, "match-mode-regex", false, "use POSIX regex pattern matching instead of percent wildcards")
	root.PersistentFlags().BoolVar(&flagErrok, "errok", false, "downgrade recipe-body process failures to warnings")
	root.PersistentFlags().BoolVar(&flagTouch, "touch", false, "update timestamps instead of running actions")
	root.PersistentFlags().BoolVar(&flagPrecious, "precious", false, "never unlink targets after a failed recipe")
	root.PersistentFlags().BoolVar(&flagReason, "reason", false, "explain each staleness verdict as it is made")
	root.PersistentFlags().StringArrayVar(&flagVars, "var", nil, "NAME=value cookbook variable override")

	root.AddCommand(newWhyCmd())
	root.AddCommand(newGraphCmd())
	root.AddCommand(newFingerprintCmd())

	argv := os.Args[1:]
	// The per-binary environment variable (COOK for a binary named cook) is
	// tokenised on spaces, no quoting, and prepended to the command line.
	if v := os.Getenv(strings.ToUpper(filepath.Base(os.Args[0]))); v != "" {
		argv = append(strings.Fields(v), argv...)
	}

	expanded, err := expandArgs(argv)
	if err != nil {
		fmt.Fprintf(os.Stderr, "cook: %s\n", err)
		os.Exit(2)
	}
	root.SetArgs(expanded)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "cook: %s\n", err)
		os.Exit(1)
	}
}

// buildEnv bundles every service wired together once per invocation: the
// string pool, filesystem oracle, option stack, interpreter, cookbook, and
// the graph/cascade/recipe stores it produces.
type buildEnv struct {
	pool    *cook.StringPool
	fs      *cook.FSOracle
	opts    *cook.OptionStack
	interp  *cook.Interp
	store   *cook.RecipeStore
	cascade *cook.CascadeResolver
	graph   *cook.Graph
	fp      *cook.FingerprintStore
}

// setupEnv reads the config file (if any) and the named cookbook, wiring
// every layer the rest of the CLI drives.
func setupEnv(targets []string) (*buildEnv, []string, error) {
	opts := cook.NewOptionStack()

	if dir, err := os.Getwd(); err == nil {
		if cfgPath, err := cook.FindConfig(dir); err == nil && cfgPath != "" {
			if cfg, err := cook.LoadConfig(cfgPath); err == nil {
				cfg.ApplyDefaults(opts)
			}
		}
	}

	opts.Set(cook.OptForce, cook.LevelCommandLine, flagForce)
	opts.Set(cook.OptPersevere, cook.LevelCommandLine, flagPersevere)
	opts.Set(cook.OptSilent, cook.LevelCommandLine, flagSilent)
	opts.Set(cook.OptStar, cook.LevelCommandLine, flagStar)
	opts.Set(cook.OptMeter, cook.LevelCommandLine, flagMeter)
	opts.Set(cook.OptStripDot, cook.LevelCommandLine, flagStripDot)
	opts.Set(cook.OptMatchModeRegex, cook.LevelCommandLine, flagRegex)
	opts.Set(cook.OptErrok, cook.LevelCommandLine, flagErrok)
	opts.Set(cook.OptTouch, cook.LevelCommandLine, flagTouch)
	opts.Set(cook.OptPrecious, cook.LevelCommandLine, flagPrecious)
	opts.Set(cook.OptReason, cook.LevelCommandLine, flagReason)

	pool := cook.NewStringPool()
	fs := cook.NewFSOracle()
	interp := cook.NewInterp(pool, fs, opts)
	cook.RegisterStandardLibrary(interp)

	store := cook.NewRecipeStore()
	cascade := cook.NewCascadeResolver()
	interp.OnRecipe = store.Add
	interp.OnCascade = cascade.Declare

	f, err := os.Open(flagFile)
	if err != nil {
		return nil, nil, fmt.Errorf("opening %s: %w", flagFile, err)
	}
	defer f.Close()

	cb, err := cook.ParseCookbook(f, flagFile)
	if err != nil {
		return nil, nil, err
	}
	if err := cb.IntoStore(store); err != nil {
		return nil, nil, err
	}

	if _, err := interp.Run(cb.Prologue, interp.Globals); err != nil {
		return nil, nil, err
	}
	// Command-line variable overrides beat anything the prologue assigned.
	for _, kv := range flagVars {
		name, val, ok := strings.Cut(kv, "=")
		if !ok {
			return nil, nil, fmt.Errorf("--var %q: expected NAME=value", kv)
		}
		interp.Globals.Assign(name, strings.Fields(val))
	}

	g := cook.NewGraph(store, cascade, interp, fs, opts)

	fpDir := filepath.Dir(flagFile)
	fp := cook.NewFingerprintStore(fpDir)

	if len(targets) == 0 {
		def := g.DefaultTarget()
		if def == "" {
			return nil, nil, fmt.Errorf("no targets given and no default target declared")
		}
		targets = []string{def}
	}

	return &buildEnv{
		pool: pool, fs: fs, opts: opts, interp: interp,
		store: store, cascade: cascade, graph: g, fp: fp,
	}, targets, nil
}

func runBuild(cmd *cobra.Command, args []string) error {
	env, targets, err := setupEnv(args)
	if err != nil {
		return err
	}

	roots, err := env.graph.Build(targets)
	if err != nil {
		return err
	}

	sched := cook.NewScheduler(env.graph, env.interp, env.opts, env.fs, env.fp, flagJobs)
	sched.Log = cook.NewLogger(flagMeter, flagSilent)
	if flagMeter {
		sched.EnableMeter(len(roots))
	}
	if flagStar && !isatty.IsTerminal(os.Stderr.Fd()) {
		// Plain pipes get the verbose form instead of single dots, which
		// are meaningless without a terminal to overwrite them on.
		sched.Star = false
	} else {
		sched.Star = flagStar
	}

	if err := sched.Build(roots); err != nil {
		return err
	}
	return env.fp.Flush()
}

func newWhyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "why [targets...]",
		Short: "explain why each target would or would not be rebuilt",
		RunE: func(cmd *cobra.Command, args []string) error {
			env, targets, err := setupEnv(args)
			if err != nil {
				return err
			}
			roots, err := env.graph.Build(targets)
			if err != nil {
				return err
			}
			for _, n := range roots {
				reasons, err := env.graph.WhyRebuild(n, env.fp)
				if err != nil {
					return err
				}
				if len(reasons) == 0 {
					fmt.Printf("%s is up to date\n", n.Name)
					continue
				}
				fmt.Printf("%s needs rebuilding:\n", n.Name)
				for _, r := range reasons {
					fmt.Printf("  - %s\n", r)
				}
			}
			return nil
		},
	}
}

func newGraphCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "graph [targets...]",
		Short: "print the dependency subgraph as Graphviz DOT",
		RunE: func(cmd *cobra.Command, args []string) error {
			env, targets, err := setupEnv(args)
			if err != nil {
				return err
			}
			if _, err := env.graph.Build(targets); err != nil {
				return err
			}
			return env.graph.PrintGraph(os.Stdout, targets)
		},
	}
}

func newFingerprintCmd() *cobra.Command {
	var clear bool
	cmd := &cobra.Command{
		Use:   "fp [paths...]",
		Short: "inspect or clear fingerprint cache entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			fp := cook.NewFingerprintStore(".")
			for _, p := range args {
				if clear {
					fp.Clear(p)
					continue
				}
				rec, ok := fp.Lookup(p)
				if !ok {
					fmt.Printf("%s: no fingerprint recorded\n", p)
					continue
				}
				fmt.Printf("%s: contents=%s ingredients=%s\n", p, rec.Contents, rec.Ingredients)
			}
			return fp.Flush()
		},
	}
	cmd.Flags().BoolVar(&clear, "clear", false, "clear the named entries instead of printing them")
	return cmd
}
