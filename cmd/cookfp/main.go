// Command cookfp is a standalone inspector for cook's fingerprint cache
// files, independent of a cookbook or build. Useful for debugging a
// cache left behind by a CI run.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/cookbuild/cook"
)

func main() {
	var (
		dir   = flag.String("dir", ".", "directory whose fingerprint cache to open")
		clear = flag.Bool("clear", false, "clear the named entries instead of printing them")
	)
	flag.Parse()

	fp := cook.NewFingerprintStore(*dir)
	args := flag.Args()
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "cookfp: no paths given")
		os.Exit(2)
	}

	status := 0
	for _, p := range args {
		if *clear {
			fp.Clear(p)
			continue
		}
		rec, ok := fp.Lookup(p)
		if !ok {
			fmt.Printf("%s: no fingerprint recorded\n", p)
			status = 1
			continue
		}
		fmt.Printf("%s:\n  oldest:      %s\n  newest:      %s\n  stat-mtime:  %s\n  contents:    %s\n  ingredients: %s\n",
			p, rec.Oldest, rec.Newest, rec.StatModTime, rec.Contents, rec.Ingredients)
	}

	if err := fp.Flush(); err != nil {
		fmt.Fprintf(os.Stderr, "cookfp: %s\n", err)
		os.Exit(1)
	}
	os.Exit(status)
}
