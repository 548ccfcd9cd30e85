package engine

import (
	"fmt"
	"sort"
	"strings"
)

// DAGBuilder constructs a TaskGraph from a task list. It validates
// dependencies, detects cycles, and computes execution levels.
type DAGBuilder struct {
	tasks map[string]*Task

	// adjacencyList maps task IDs to their dependents.
	adjacencyList map[string][]string

	// reverseAdjacencyList maps task IDs to their dependencies.
	reverseAdjacencyList map[string][]string

	inDegree map[string]int

	levels [][]string
}

// NewDAGBuilder creates a new DAG builder.
func NewDAGBuilder() *DAGBuilder {
	return &DAGBuilder{
		tasks:                make(map[string]*Task),
		adjacencyList:        make(map[string][]string),
		reverseAdjacencyList: make(map[string][]string),
		inDegree:             make(map[string]int),
	}
}

// BuildGraph validates the tasks and returns their execution graph.
func (b *DAGBuilder) BuildGraph(tasks []Task) (*TaskGraph, error) {
	if len(tasks) == 0 {
		return &TaskGraph{
			Tasks:      make(map[string]*Task),
			Dependents: make(map[string][]string),
		}, nil
	}

	if err := b.initialize(tasks); err != nil {
		return nil, err
	}

	if err := b.detectCycles(); err != nil {
		return nil, err
	}

	if err := b.computeLevels(); err != nil {
		return nil, err
	}

	graph := &TaskGraph{
		Tasks:      b.tasks,
		Dependents: b.adjacencyList,
		Levels:     b.levels,
	}
	for _, level := range b.levels {
		graph.Order = append(graph.Order, level...)
	}
	return graph, nil
}

func (b *DAGBuilder) initialize(tasks []Task) error {
	// First pass: index all tasks.
	for i := range tasks {
		task := &tasks[i]
		if task.ID == "" {
			return NewPermanentError("task has empty ID", nil).
				WithCode(ErrCodeValidation)
		}
		if _, exists := b.tasks[task.ID]; exists {
			return NewPermanentError(fmt.Sprintf("duplicate task ID: %s", task.ID), nil).
				WithCode(ErrCodeValidation)
		}

		b.tasks[task.ID] = task
		b.adjacencyList[task.ID] = make([]string, 0)
		b.reverseAdjacencyList[task.ID] = make([]string, 0)
		b.inDegree[task.ID] = 0
	}

	// Second pass: build adjacency lists and validate dependencies.
	for _, task := range b.tasks {
		for _, dep := range task.DependencyIDs {
			if _, exists := b.tasks[dep]; !exists {
				return NewPermanentError(
					fmt.Sprintf("task %s depends on unknown task %s", task.ID, dep),
					nil,
				).WithCode(ErrCodeValidation).WithTask(task.ID)
			}

			// Edge runs from dependency to dependent: the dependency
			// must complete before the task can start.
			b.adjacencyList[dep] = append(b.adjacencyList[dep], task.ID)
			b.reverseAdjacencyList[task.ID] = append(b.reverseAdjacencyList[task.ID], dep)
			b.inDegree[task.ID]++
		}
	}

	return nil
}

// detectCycles uses depth-first search to find circular dependencies.
func (b *DAGBuilder) detectCycles() error {
	visited := make(map[string]bool)
	recStack := make(map[string]bool)

	ids := make([]string, 0, len(b.tasks))
	for id := range b.tasks {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		if !visited[id] {
			if cycle := b.findCycle(id, visited, recStack, nil); cycle != nil {
				return NewPermanentError(
					fmt.Sprintf("circular dependency detected: %s", strings.Join(cycle, " -> ")),
					nil,
				).WithCode(ErrCodeValidation)
			}
		}
	}
	return nil
}

func (b *DAGBuilder) findCycle(nodeID string, visited, recStack map[string]bool, path []string) []string {
	visited[nodeID] = true
	recStack[nodeID] = true
	path = append(path, nodeID)

	for _, dependent := range b.adjacencyList[nodeID] {
		if !visited[dependent] {
			if cycle := b.findCycle(dependent, visited, recStack, path); cycle != nil {
				return cycle
			}
		} else if recStack[dependent] {
			for i, id := range path {
				if id == dependent {
					return append(path[i:], dependent)
				}
			}
		}
	}

	recStack[nodeID] = false
	return nil
}

// computeLevels assigns execution levels with Kahn's algorithm. Tasks at the
// same level have no dependency relationship between them.
func (b *DAGBuilder) computeLevels() error {
	inDegree := make(map[string]int, len(b.inDegree))
	for id, degree := range b.inDegree {
		inDegree[id] = degree
	}

	currentLevel := make([]string, 0)
	for id, degree := range inDegree {
		if degree == 0 {
			currentLevel = append(currentLevel, id)
		}
	}
	if len(currentLevel) == 0 && len(b.tasks) > 0 {
		return NewPermanentError("no root tasks found, every task has dependencies", nil).
			WithCode(ErrCodeValidation)
	}

	processed := 0
	for len(currentLevel) > 0 {
		// Deterministic order within a level for stable output.
		sort.Strings(currentLevel)
		b.levels = append(b.levels, currentLevel)
		processed += len(currentLevel)

		nextLevel := make([]string, 0)
		for _, nodeID := range currentLevel {
			for _, dependent := range b.adjacencyList[nodeID] {
				inDegree[dependent]--
				if inDegree[dependent] == 0 {
					nextLevel = append(nextLevel, dependent)
				}
			}
		}
		currentLevel = nextLevel
	}

	if processed != len(b.tasks) {
		return NewPermanentError("failed to order all tasks, possible cycle", nil).
			WithCode(ErrCodeInternal)
	}
	return nil
}

// GetLevels returns the computed execution levels.
func (b *DAGBuilder) GetLevels() [][]string {
	return b.levels
}

// ToDOT renders the graph in DOT format for Graphviz.
func ToDOT(graph *TaskGraph) string {
	var sb strings.Builder

	sb.WriteString("digraph TaskGraph {\n")
	sb.WriteString("  rankdir=TB;\n")
	sb.WriteString("  node [shape=box, style=rounded];\n\n")

	for level, ids := range graph.Levels {
		sb.WriteString(fmt.Sprintf("  subgraph cluster_level_%d {\n", level))
		sb.WriteString(fmt.Sprintf("    label=\"Level %d\";\n", level))
		sb.WriteString("    style=dashed;\n")
		for _, id := range ids {
			task := graph.Tasks[id]
			sb.WriteString(fmt.Sprintf("    %q [label=%q];\n", id, task.Name))
		}
		sb.WriteString("  }\n\n")
	}

	for _, id := range graph.Order {
		for _, dep := range graph.Tasks[id].DependencyIDs {
			sb.WriteString(fmt.Sprintf("  %q -> %q;\n", dep, id))
		}
	}

	sb.WriteString("}\n")
	return sb.String()
}
