// Package catalog holds the static framework and module definitions the
// generation engine consumes. Definitions are loaded from JSON files and are
// read-only at runtime; the engine looks them up by id when building a task
// graph.
package catalog

import "encoding/json"

// Framework describes how to scaffold a base project via a CLI command.
type Framework struct {
	// ID is the unique identifier for this framework (e.g., "nextjs").
	ID string `json:"id" validate:"required"`

	// Name is the human-readable name.
	Name string `json:"name" validate:"required"`

	// Description explains what the framework provides.
	Description string `json:"description"`

	// Version is the catalog entry version.
	Version string `json:"version"`

	// Type categorizes the framework (e.g., "frontend", "fullstack").
	Type string `json:"type"`

	// Tags are free-form labels for catalog browsing.
	Tags []string `json:"tags,omitempty"`

	// CLI describes the scaffolding invocation.
	CLI CLIDefinition `json:"cli" validate:"required"`

	// CompatibleModules lists module ids that may be layered onto this
	// framework. An empty list means no modules are supported.
	CompatibleModules []string `json:"compatible_modules"`

	// DirectoryStructure describes directories the framework enforces.
	DirectoryStructure DirectoryStructure `json:"directory_structure"`

	// Cleanup lists finalization commands run after all modules installed.
	Cleanup CleanupDefinition `json:"cleanup"`
}

// CLIDefinition describes the scaffolding command for a framework. The
// command strings are opaque to the engine; templating lives in the catalog.
type CLIDefinition struct {
	// BaseCommand is the executable plus fixed arguments (e.g.,
	// "npx create-next-app@latest").
	BaseCommand string `json:"base_command" validate:"required"`

	// Flags are appended to the base command, after option filtering by
	// the catalog author (the engine appends them verbatim).
	Flags []string `json:"flags,omitempty"`

	// Interactive marks commands that prompt on stdin.
	Interactive bool `json:"interactive,omitempty"`

	// Responses is the scripted prompt/response sequence fed to stdin when
	// Interactive is set.
	Responses []PromptResponse `json:"responses,omitempty"`
}

// PromptResponse is one scripted answer for an interactive CLI.
type PromptResponse struct {
	// Prompt is the text the CLI prints before waiting for input.
	Prompt string `json:"prompt"`

	// Response is the answer to send. Ignored when UseProjectName is set.
	Response string `json:"response"`

	// UseProjectName substitutes the project name as the answer.
	UseProjectName bool `json:"use_project_name,omitempty"`
}

// DirectoryStructure describes the directory layout a framework enforces.
type DirectoryStructure struct {
	// Enforced indicates the directories must exist after scaffolding.
	Enforced bool `json:"enforced"`

	// Directories are paths relative to the project root.
	Directories []string `json:"directories,omitempty"`
}

// CleanupDefinition lists the framework's finalization commands, run by the
// trailing cleanup task once every module task has finished.
type CleanupDefinition struct {
	Commands []string `json:"commands,omitempty"`
}

// Module describes an optional add-on layered onto a scaffolded project.
type Module struct {
	// ID is the unique identifier for this module (e.g., "tailwind").
	ID string `json:"id" validate:"required"`

	// Name is the human-readable name.
	Name string `json:"name" validate:"required"`

	// Description explains what the module adds.
	Description string `json:"description"`

	// Version is the catalog entry version.
	Version string `json:"version"`

	// Category groups modules in the catalog (e.g., "styling", "testing").
	Category string `json:"category"`

	// Dependencies lists module ids that must be selected alongside this
	// module. The engine validates selection; it does not auto-include.
	Dependencies []string `json:"dependencies"`

	// IncompatibleWith lists module ids that must not be selected together
	// with this module.
	IncompatibleWith []string `json:"incompatible_with"`

	// Installation describes how the module is applied to a project.
	Installation Installation `json:"installation"`

	// Configuration lists the module's user-facing options.
	Configuration Configuration `json:"configuration"`
}

// Installation is a module's execution recipe: shell commands first, file
// operations second.
type Installation struct {
	// Commands are opaque shell command lines, run sequentially in the
	// project directory. The module task aborts on the first command whose
	// final attempt exits non-zero.
	Commands []string `json:"commands"`

	// FileOperations are applied after all commands succeeded.
	FileOperations []FileOperation `json:"file_operations"`
}

// FileOperation is a single file mutation carried by a module definition.
type FileOperation struct {
	// Operation is one of "create", "modify" or "modify_import".
	Operation string `json:"operation" validate:"required,oneof=create modify modify_import"`

	// Path is relative to the project directory.
	Path string `json:"path" validate:"required"`

	// Content is the file body for "create".
	Content string `json:"content,omitempty"`

	// Pattern is the regular expression for "modify".
	Pattern string `json:"pattern,omitempty"`

	// Replacement is the substitution text for "modify".
	Replacement string `json:"replacement,omitempty"`

	// Action is "add" or "remove" for "modify_import".
	Action string `json:"action,omitempty"`

	// Import is the import specifier for "modify_import".
	Import string `json:"import,omitempty"`
}

// Configuration lists a module's configurable options with defaults.
type Configuration struct {
	Options []Option `json:"options"`
}

// Option is one user-facing module option.
type Option struct {
	// ID is the option key referenced from ProjectConfig module options.
	ID string `json:"id" validate:"required"`

	// Type is "boolean", "select" or "string".
	Type string `json:"type" validate:"required,oneof=boolean select string"`

	// Label and Description are presentation hints for the host UI.
	Label       string `json:"label"`
	Description string `json:"description"`

	// Default is the value used when the config omits the option.
	Default json.RawMessage `json:"default,omitempty"`

	// Choices constrain "select" options.
	Choices []OptionChoice `json:"choices,omitempty"`
}

// OptionChoice is one allowed value of a select option.
type OptionChoice struct {
	Value string `json:"value"`
	Label string `json:"label"`
}
