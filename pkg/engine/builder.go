package engine

import (
	"fmt"
	"sort"

	"github.com/go-playground/validator/v10"

	"github.com/Antoinesrvt/architech/pkg/catalog"
)

// Well-known task IDs. Framework and module tasks are namespaced by the
// catalog entry that defines them; cleanup is a single trailing task.
const (
	taskPrefixFramework = "framework:"
	taskPrefixModule    = "module:"
	TaskIDCleanup       = "cleanup"
)

// FrameworkTaskID returns the task ID for scaffolding the given framework.
func FrameworkTaskID(frameworkID string) string {
	return taskPrefixFramework + frameworkID
}

// ModuleTaskID returns the task ID for installing the given module.
func ModuleTaskID(moduleID string) string {
	return taskPrefixModule + moduleID
}

// Builder validates project configurations against the catalog and turns
// them into task graphs.
type Builder struct {
	provider catalog.Provider
	validate *validator.Validate
}

// NewBuilder creates a builder over the given catalog.
func NewBuilder(provider catalog.Provider) *Builder {
	return &Builder{
		provider: provider,
		validate: validator.New(),
	}
}

// ValidateConfig checks a project configuration against the catalog. It
// collects every issue rather than stopping at the first, so the caller can
// present all problems at once.
func (b *Builder) ValidateConfig(cfg *ProjectConfig) *ValidationResult {
	result := &ValidationResult{Valid: true}
	add := func(field, format string, args ...interface{}) {
		result.Valid = false
		result.Issues = append(result.Issues, ValidationIssue{
			Field:   field,
			Message: fmt.Sprintf(format, args...),
		})
	}

	if err := b.validate.Struct(cfg); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok {
			for _, ve := range verrs {
				add(ve.Field(), "field %s failed %s validation", ve.Field(), ve.Tag())
			}
		} else {
			add("", "invalid configuration: %v", err)
		}
		return result
	}

	fw, err := b.provider.FrameworkByID(cfg.FrameworkID)
	if err != nil {
		add("framework_id", "unknown framework %q", cfg.FrameworkID)
		return result
	}

	compatible := make(map[string]bool, len(fw.CompatibleModules))
	for _, id := range fw.CompatibleModules {
		compatible[id] = true
	}

	selected := make(map[string]*catalog.Module, len(cfg.Modules))
	for _, sel := range cfg.Modules {
		if _, dup := selected[sel.ID]; dup {
			add("modules", "module %q selected more than once", sel.ID)
			continue
		}
		mod, err := b.provider.ModuleByID(sel.ID)
		if err != nil {
			add("modules", "unknown module %q", sel.ID)
			continue
		}
		if len(fw.CompatibleModules) > 0 && !compatible[sel.ID] {
			add("modules", "module %q is not compatible with framework %q", sel.ID, fw.ID)
		}
		selected[sel.ID] = mod
	}

	// Dependency and incompatibility checks name both modules involved so
	// the user knows what to add or remove.
	for id, mod := range selected {
		for _, dep := range mod.Dependencies {
			if _, ok := selected[dep]; !ok {
				add("modules", "module %q requires module %q, which is not selected", id, dep)
			}
		}
		for _, other := range mod.IncompatibleWith {
			if _, ok := selected[other]; ok {
				add("modules", "module %q is incompatible with selected module %q", id, other)
			}
		}
	}

	return result
}

// BuildTasks synthesizes the task graph for a validated configuration.
// The framework scaffold runs first, each module installs after the
// framework and after its selected dependency modules, and a final cleanup
// task depends on everything else.
func (b *Builder) BuildTasks(cfg *ProjectConfig) (*TaskGraph, error) {
	if result := b.ValidateConfig(cfg); !result.Valid {
		return nil, NewPermanentError(
			fmt.Sprintf("invalid project configuration: %s", result.Issues[0].Message),
			nil,
		).WithCode(ErrCodeValidation)
	}

	fw, err := b.provider.FrameworkByID(cfg.FrameworkID)
	if err != nil {
		return nil, NewPermanentError("unknown framework", err).WithCode(ErrCodeValidation)
	}

	frameworkID := FrameworkTaskID(fw.ID)
	tasks := []Task{{
		ID:          frameworkID,
		Name:        fmt.Sprintf("Scaffold %s", fw.Name),
		Description: fmt.Sprintf("Create the base %s project", fw.Name),
		Status:      StatusPending,
	}}

	selected := make(map[string]bool, len(cfg.Modules))
	for _, sel := range cfg.Modules {
		selected[sel.ID] = true
	}

	// Stable module order keeps task listings deterministic.
	moduleIDs := make([]string, 0, len(cfg.Modules))
	for _, sel := range cfg.Modules {
		moduleIDs = append(moduleIDs, sel.ID)
	}
	sort.Strings(moduleIDs)

	allTaskIDs := []string{frameworkID}
	for _, id := range moduleIDs {
		mod, err := b.provider.ModuleByID(id)
		if err != nil {
			return nil, NewPermanentError("unknown module", err).WithCode(ErrCodeValidation)
		}

		deps := []string{frameworkID}
		for _, dep := range mod.Dependencies {
			if selected[dep] {
				deps = append(deps, ModuleTaskID(dep))
			}
		}

		taskID := ModuleTaskID(id)
		tasks = append(tasks, Task{
			ID:            taskID,
			Name:          fmt.Sprintf("Install %s", mod.Name),
			Description:   mod.Description,
			Status:        StatusPending,
			DependencyIDs: deps,
		})
		allTaskIDs = append(allTaskIDs, taskID)
	}

	tasks = append(tasks, Task{
		ID:            TaskIDCleanup,
		Name:          "Finalize project",
		Description:   "Run final cleanup and formatting",
		Status:        StatusPending,
		DependencyIDs: allTaskIDs,
	})

	return NewDAGBuilder().BuildGraph(tasks)
}
