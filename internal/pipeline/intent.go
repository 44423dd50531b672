package pipeline

import (
	"errors"
	"fmt"
	"strings"

	"github.com/sagehq/sage/internal/prompt"
)

// ErrUnknownIntent signals that an utterance matched no known command.
var ErrUnknownIntent = errors.New("unrecognized intent")

// Intent maps a transcribed utterance to a task kind. Keyword containment,
// first match wins. The utterance only selects the task; the code to operate
// on always comes from the request.
func Intent(utterance string) (prompt.TaskKind, error) {
	u := strings.ToLower(utterance)
	switch {
	case strings.Contains(u, "explain"):
		return prompt.TaskExplain, nil
	case strings.Contains(u, "debug"):
		return prompt.TaskDebug, nil
	case strings.Contains(u, "optimize"), strings.Contains(u, "improve"):
		return prompt.TaskOptimize, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownIntent, utterance)
}
