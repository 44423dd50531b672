// Package prompt renders task prompts for the generation backend.
package prompt

import (
	"fmt"
)

// TaskKind identifies one of the supported assistance tasks.
type TaskKind string

const (
	TaskExplain  TaskKind = "explain"
	TaskDebug    TaskKind = "debug"
	TaskOptimize TaskKind = "optimize"
	TaskDiagram  TaskKind = "diagram"
)

// Parse validates a task name from an external source.
func Parse(s string) (TaskKind, error) {
	switch TaskKind(s) {
	case TaskExplain, TaskDebug, TaskOptimize, TaskDiagram:
		return TaskKind(s), nil
	}
	return "", fmt.Errorf("unknown task %q", s)
}

const roleLine = "You are an expert %s developer.\n"

const (
	explainBody = "Explain this %s code step by step in simple language:\n\n%s"

	debugBody = "Find and fix bugs or syntax issues in this %s code. " +
		"Explain what was wrong and show corrected code:\n\n%s"

	optimizeBody = "Optimize this %s code for performance and readability. " +
		"Explain what changes were made:\n\n%s"

	diagramBody = "Convert this %s code into a Mermaid flowchart. " +
		"Respond with valid Mermaid flowchart TD syntax only, with no code fences, " +
		"headings or commentary. Include nodes for functions, loops, conditions and " +
		"return statements:\n\n%s"
)

// Build renders the prompt for a task. The task kind must have been validated
// at the edge; an unrecognised kind here is a programming error.
func Build(task TaskKind, language, code string) string {
	head := fmt.Sprintf(roleLine, language)
	switch task {
	case TaskExplain:
		return head + fmt.Sprintf(explainBody, language, code)
	case TaskDebug:
		return head + fmt.Sprintf(debugBody, language, code)
	case TaskOptimize:
		return head + fmt.Sprintf(optimizeBody, language, code)
	case TaskDiagram:
		return head + fmt.Sprintf(diagramBody, language, code)
	}
	panic(fmt.Sprintf("prompt: unhandled task kind %q", task))
}
