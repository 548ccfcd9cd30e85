// Package fsops applies catalog file operations to a generated project tree.
package fsops

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"

	"github.com/Antoinesrvt/architech/pkg/catalog"
)

// Applier executes file operations relative to a project root. Operations
// that cannot take effect because the target content does not match (an
// existing file on create, a pattern with no occurrence on modify) produce
// warnings rather than failures.
type Applier struct {
	fs     afero.Fs
	logger zerolog.Logger
}

// NewApplier creates an applier over the given filesystem.
func NewApplier(fs afero.Fs, logger zerolog.Logger) *Applier {
	return &Applier{
		fs:     fs,
		logger: logger.With().Str("component", "fsops").Logger(),
	}
}

// Apply runs a single file operation rooted at projectDir. The returned
// warnings describe skipped or partial work; a non-nil error means the
// operation itself failed.
func (a *Applier) Apply(projectDir string, op catalog.FileOperation) ([]string, error) {
	path := filepath.Join(projectDir, filepath.FromSlash(op.Path))

	switch op.Operation {
	case "create":
		return a.create(path, op)
	case "modify":
		return a.modify(path, op)
	case "modify_import":
		return a.modifyImport(path, op)
	default:
		return nil, fmt.Errorf("unknown file operation %q for %s", op.Operation, op.Path)
	}
}

// ApplyAll runs every operation in order, collecting warnings. It stops at
// the first hard failure.
func (a *Applier) ApplyAll(projectDir string, ops []catalog.FileOperation) ([]string, error) {
	var warnings []string
	for _, op := range ops {
		w, err := a.Apply(projectDir, op)
		warnings = append(warnings, w...)
		if err != nil {
			return warnings, err
		}
	}
	return warnings, nil
}

// EnsureDirectories creates the directories a framework declares as part of
// its enforced layout.
func (a *Applier) EnsureDirectories(projectDir string, dirs []string) error {
	for _, dir := range dirs {
		full := filepath.Join(projectDir, filepath.FromSlash(dir))
		if err := a.fs.MkdirAll(full, 0o755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}

func (a *Applier) create(path string, op catalog.FileOperation) ([]string, error) {
	exists, err := afero.Exists(a.fs, path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", op.Path, err)
	}
	if exists {
		a.logger.Warn().Str("path", op.Path).Msg("file already exists, skipping create")
		return []string{fmt.Sprintf("file %s already exists, skipped", op.Path)}, nil
	}

	if err := a.fs.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create parent directory for %s: %w", op.Path, err)
	}
	if err := afero.WriteFile(a.fs, path, []byte(op.Content), 0o644); err != nil {
		return nil, fmt.Errorf("failed to write %s: %w", op.Path, err)
	}
	return nil, nil
}

func (a *Applier) modify(path string, op catalog.FileOperation) ([]string, error) {
	content, err := afero.ReadFile(a.fs, path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", op.Path, err)
	}

	re, err := regexp.Compile(op.Pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid pattern for %s: %w", op.Path, err)
	}

	if !re.Match(content) {
		a.logger.Warn().Str("path", op.Path).Str("pattern", op.Pattern).Msg("pattern not found, leaving file unchanged")
		return []string{fmt.Sprintf("pattern not found in %s, file unchanged", op.Path)}, nil
	}

	updated := re.ReplaceAll(content, []byte(op.Replacement))
	if err := afero.WriteFile(a.fs, path, updated, 0o644); err != nil {
		return nil, fmt.Errorf("failed to write %s: %w", op.Path, err)
	}
	return nil, nil
}

func (a *Applier) modifyImport(path string, op catalog.FileOperation) ([]string, error) {
	content, err := afero.ReadFile(a.fs, path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", op.Path, err)
	}

	switch op.Action {
	case "add":
		updated, warning := addImport(string(content), op.Import)
		if warning != "" {
			return []string{warning}, nil
		}
		if err := afero.WriteFile(a.fs, path, []byte(updated), 0o644); err != nil {
			return nil, fmt.Errorf("failed to write %s: %w", op.Path, err)
		}
		return nil, nil
	case "remove":
		updated, warning := removeImport(string(content), op.Import, op.Path)
		if warning != "" {
			return []string{warning}, nil
		}
		if err := afero.WriteFile(a.fs, path, []byte(updated), 0o644); err != nil {
			return nil, fmt.Errorf("failed to write %s: %w", op.Path, err)
		}
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown import action %q for %s", op.Action, op.Path)
	}
}

var importLine = regexp.MustCompile(`(?m)^import .*$`)

// addImport inserts the statement after the last existing import, or at the
// top of the file when there are none. Duplicate statements are skipped.
func addImport(content, statement string) (string, string) {
	if strings.Contains(content, statement) {
		return "", fmt.Sprintf("import already present: %s", statement)
	}

	locs := importLine.FindAllStringIndex(content, -1)
	if len(locs) == 0 {
		return statement + "\n" + content, ""
	}

	last := locs[len(locs)-1]
	return content[:last[1]] + "\n" + statement + content[last[1]:], ""
}

// removeImport deletes the exact statement line.
func removeImport(content, statement, path string) (string, string) {
	lines := strings.Split(content, "\n")
	kept := lines[:0]
	found := false
	for _, line := range lines {
		if strings.TrimSpace(line) == strings.TrimSpace(statement) {
			found = true
			continue
		}
		kept = append(kept, line)
	}
	if !found {
		return "", fmt.Sprintf("import not found in %s: %s", path, statement)
	}
	return strings.Join(kept, "\n"), ""
}
