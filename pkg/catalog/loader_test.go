package catalog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testFrameworks = `[
  {
    "id": "nextjs",
    "name": "Next.js",
    "description": "React framework",
    "version": "1.0.0",
    "type": "frontend",
    "cli": {
      "base_command": "npx create-next-app@latest",
      "flags": ["--yes"]
    },
    "compatible_modules": ["tailwind", "eslint-strict"],
    "directory_structure": {
      "enforced": true,
      "directories": ["src/components", "src/lib"]
    },
    "cleanup": {"commands": ["npm install"]}
  }
]`

const testModules = `[
  {
    "id": "tailwind",
    "name": "Tailwind CSS",
    "version": "1.0.0",
    "category": "styling",
    "dependencies": [],
    "incompatible_with": [],
    "installation": {
      "commands": ["npm install -D tailwindcss"],
      "file_operations": [
        {"operation": "create", "path": "tailwind.config.js", "content": "module.exports = {}"}
      ]
    },
    "configuration": {"options": []}
  },
  {
    "id": "eslint-strict",
    "name": "Strict ESLint",
    "version": "1.0.0",
    "category": "linting",
    "dependencies": ["tailwind"],
    "incompatible_with": [],
    "installation": {"commands": [], "file_operations": []},
    "configuration": {"options": []}
  }
]`

func writeCatalogDir(t *testing.T, frameworks, modules string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "frameworks.json"), []byte(frameworks), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "modules.json"), []byte(modules), 0o644))
	return dir
}

func TestLoad(t *testing.T) {
	dir := writeCatalogDir(t, testFrameworks, testModules)

	c, err := Load(dir, zerolog.Nop())
	require.NoError(t, err)

	fw, err := c.FrameworkByID("nextjs")
	require.NoError(t, err)
	assert.Equal(t, "Next.js", fw.Name)
	assert.Equal(t, []string{"npm install"}, fw.Cleanup.Commands)
	assert.True(t, fw.DirectoryStructure.Enforced)

	mod, err := c.ModuleByID("tailwind")
	require.NoError(t, err)
	assert.Len(t, mod.Installation.Commands, 1)
	assert.Len(t, mod.Installation.FileOperations, 1)

	assert.Len(t, c.Frameworks(), 1)
	assert.Len(t, c.Modules(), 2)
}

func TestLoad_UnknownIDs(t *testing.T) {
	dir := writeCatalogDir(t, testFrameworks, testModules)
	c, err := Load(dir, zerolog.Nop())
	require.NoError(t, err)

	_, err = c.FrameworkByID("rails")
	assert.ErrorContains(t, err, "unknown framework")

	_, err = c.ModuleByID("prisma")
	assert.ErrorContains(t, err, "unknown module")
}

func TestLoad_MissingRequiredField(t *testing.T) {
	// Framework without a base command is rejected by struct validation.
	broken := `[{"id": "x", "name": "X", "cli": {}}]`
	dir := writeCatalogDir(t, broken, `[]`)

	_, err := Load(dir, zerolog.Nop())
	assert.ErrorContains(t, err, "invalid framework definition")
}

func TestLoad_ContradictoryModulePair(t *testing.T) {
	contradictory := `[
	  {
	    "id": "a", "name": "A", "dependencies": ["b"], "incompatible_with": ["b"],
	    "installation": {"commands": [], "file_operations": []},
	    "configuration": {"options": []}
	  },
	  {
	    "id": "b", "name": "B", "dependencies": [], "incompatible_with": [],
	    "installation": {"commands": [], "file_operations": []},
	    "configuration": {"options": []}
	  }
	]`
	dir := writeCatalogDir(t, testFrameworks, contradictory)

	_, err := Load(dir, zerolog.Nop())
	assert.ErrorContains(t, err, "both as dependency and incompatible")
}

func TestLoad_ReverseContradiction(t *testing.T) {
	// a depends on b while b declares a incompatible.
	contradictory := `[
	  {
	    "id": "a", "name": "A", "dependencies": ["b"], "incompatible_with": [],
	    "installation": {"commands": [], "file_operations": []},
	    "configuration": {"options": []}
	  },
	  {
	    "id": "b", "name": "B", "dependencies": [], "incompatible_with": ["a"],
	    "installation": {"commands": [], "file_operations": []},
	    "configuration": {"options": []}
	  }
	]`
	dir := writeCatalogDir(t, testFrameworks, contradictory)

	_, err := Load(dir, zerolog.Nop())
	assert.ErrorContains(t, err, "declares a incompatible")
}

func TestReload_KeepsPreviousOnError(t *testing.T) {
	dir := writeCatalogDir(t, testFrameworks, testModules)
	c, err := Load(dir, zerolog.Nop())
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "modules.json"), []byte("{not json"), 0o644))
	assert.Error(t, c.Reload())

	// Previous definitions survive a failed reload.
	_, err = c.ModuleByID("tailwind")
	assert.NoError(t, err)
}
