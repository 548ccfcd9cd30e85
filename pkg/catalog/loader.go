package catalog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
)

const (
	frameworksFile = "frameworks.json"
	modulesFile    = "modules.json"
)

// Provider is the read-only catalog lookup the engine depends on.
type Provider interface {
	// FrameworkByID returns the framework definition or an error when the
	// id is unknown.
	FrameworkByID(id string) (*Framework, error)

	// ModuleByID returns the module definition or an error when the id is
	// unknown.
	ModuleByID(id string) (*Module, error)

	// Frameworks returns all framework definitions.
	Frameworks() []Framework

	// Modules returns all module definitions.
	Modules() []Module
}

// Catalog is an in-memory Provider loaded from a directory of JSON files.
// Reload replaces the definition set atomically, so a Catalog can sit behind
// a Watcher while sessions read from it.
type Catalog struct {
	mu         sync.RWMutex
	dir        string
	frameworks map[string]Framework
	modules    map[string]Module
	validate   *validator.Validate
	logger     zerolog.Logger
}

// Load reads framework and module definitions from dir and validates them.
func Load(dir string, logger zerolog.Logger) (*Catalog, error) {
	c := &Catalog{
		dir:      dir,
		validate: validator.New(),
		logger:   logger.With().Str("component", "catalog").Logger(),
	}
	if err := c.Reload(); err != nil {
		return nil, err
	}
	return c, nil
}

// Reload re-reads the catalog directory. On error the previous definitions
// are kept.
func (c *Catalog) Reload() error {
	var frameworks []Framework
	if err := readJSONFile(filepath.Join(c.dir, frameworksFile), &frameworks); err != nil {
		return fmt.Errorf("failed to load frameworks: %w", err)
	}

	var modules []Module
	if err := readJSONFile(filepath.Join(c.dir, modulesFile), &modules); err != nil {
		return fmt.Errorf("failed to load modules: %w", err)
	}

	fwByID := make(map[string]Framework, len(frameworks))
	for _, fw := range frameworks {
		if err := c.validate.Struct(fw); err != nil {
			return fmt.Errorf("invalid framework definition %q: %w", fw.ID, err)
		}
		if _, exists := fwByID[fw.ID]; exists {
			return fmt.Errorf("duplicate framework id: %s", fw.ID)
		}
		fwByID[fw.ID] = fw
	}

	modByID := make(map[string]Module, len(modules))
	for _, mod := range modules {
		if err := c.validate.Struct(mod); err != nil {
			return fmt.Errorf("invalid module definition %q: %w", mod.ID, err)
		}
		if _, exists := modByID[mod.ID]; exists {
			return fmt.Errorf("duplicate module id: %s", mod.ID)
		}
		modByID[mod.ID] = mod
	}

	if err := checkContradictions(modByID); err != nil {
		return err
	}

	c.mu.Lock()
	c.frameworks = fwByID
	c.modules = modByID
	c.mu.Unlock()

	c.logger.Info().
		Int("frameworks", len(fwByID)).
		Int("modules", len(modByID)).
		Msg("catalog loaded")
	return nil
}

// checkContradictions rejects catalogs where a module lists the same id both
// as a dependency and as incompatible, in either direction of a pair.
func checkContradictions(modules map[string]Module) error {
	for _, mod := range modules {
		incompatible := make(map[string]bool, len(mod.IncompatibleWith))
		for _, id := range mod.IncompatibleWith {
			incompatible[id] = true
		}
		for _, dep := range mod.Dependencies {
			if incompatible[dep] {
				return fmt.Errorf("module %s declares %s both as dependency and incompatible", mod.ID, dep)
			}
			other, ok := modules[dep]
			if !ok {
				return fmt.Errorf("module %s depends on unknown module %s", mod.ID, dep)
			}
			for _, id := range other.IncompatibleWith {
				if id == mod.ID {
					return fmt.Errorf("module %s depends on %s, which declares %s incompatible", mod.ID, dep, mod.ID)
				}
			}
		}
	}
	return nil
}

// FrameworkByID implements Provider.
func (c *Catalog) FrameworkByID(id string) (*Framework, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	fw, ok := c.frameworks[id]
	if !ok {
		return nil, fmt.Errorf("unknown framework: %s", id)
	}
	return &fw, nil
}

// ModuleByID implements Provider.
func (c *Catalog) ModuleByID(id string) (*Module, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	mod, ok := c.modules[id]
	if !ok {
		return nil, fmt.Errorf("unknown module: %s", id)
	}
	return &mod, nil
}

// Frameworks implements Provider.
func (c *Catalog) Frameworks() []Framework {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Framework, 0, len(c.frameworks))
	for _, fw := range c.frameworks {
		out = append(out, fw)
	}
	return out
}

// Modules implements Provider.
func (c *Catalog) Modules() []Module {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Module, 0, len(c.modules))
	for _, mod := range c.modules {
		out = append(out, mod)
	}
	return out
}

// Dir returns the directory the catalog was loaded from.
func (c *Catalog) Dir() string {
	return c.dir
}

func readJSONFile(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to parse %s: %w", filepath.Base(path), err)
	}
	return nil
}
