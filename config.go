package cook

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config is the on-disk default-option layer of the option stack: a YAML
// document naming a default cookbook file, a parallelism level, and the
// boolean options to pre-set before any command-line or cookbook override
// is applied.
type Config struct {
	Cookbook string            `yaml:"cookbook,omitempty"`
	Jobs     int               `yaml:"jobs,omitempty"`
	Options  []string          `yaml:"options,omitempty"`
	Var      map[string]string `yaml:"var,omitempty"`
}

// LoadConfig reads and parses a cook.yaml configuration file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return &cfg, nil
}

// FindConfig walks up from dir looking for a .cook.yaml (or cook.yaml)
// file, the same upward search other build tools in the ecosystem use for
// project-root configuration.
func FindConfig(dir string) (string, error) {
	dir, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("resolving directory: %w", err)
	}
	for {
		for _, name := range []string{".cook.yaml", "cook.yaml"} {
			candidate := filepath.Join(dir, name)
			if _, err := os.Stat(candidate); err == nil {
				return candidate, nil
			}
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", nil
		}
		dir = parent
	}
}

// ApplyDefaults pushes cfg's options onto opts at LevelDefault, giving the
// option stack its lowest-priority layer before environment, cookbook,
// recipe, and command-line layers are applied on top.
func (cfg *Config) ApplyDefaults(opts *OptionStack) {
	if cfg == nil {
		return
	}
	for _, name := range cfg.Options {
		if opt, ok := optionByName(name); ok {
			opts.Set(opt, LevelDefault, true)
		}
	}
}

// optionByName maps a config/CLI option name to its Option constant.
func optionByName(name string) (Option, bool) {
	switch name {
	case "action":
		return OptAction, true
	case "cascade":
		return OptCascade, true
	case "errok":
		return OptErrok, true
	case "fingerprint":
		return OptFingerprint, true
	case "force":
		return OptForce, true
	case "meter":
		return OptMeter, true
	case "persevere":
		return OptPersevere, true
	case "precious":
		return OptPrecious, true
	case "reason":
		return OptReason, true
	case "shallow":
		return OptShallow, true
	case "silent":
		return OptSilent, true
	case "star":
		return OptStar, true
	case "strip-dot":
		return OptStripDot, true
	case "symlink-ingredients":
		return OptSymlinkIngredients, true
	case "terminal":
		return OptTerminal, true
	case "touch":
		return OptTouch, true
	case "update":
		return OptUpdate, true
	case "tell-position":
		return OptTellPosition, true
	case "mkdir":
		return OptMkdir, true
	case "unlink":
		return OptUnlink, true
	case "match-mode-regex":
		return OptMatchModeRegex, true
	case "invalidate-stat-cache":
		return OptInvalidateStatCache, true
	case "ingredients-fingerprint":
		return OptIngredientsFingerprint, true
	case "recursion":
		return OptRecursion, true
	default:
		return "", false
	}
}
