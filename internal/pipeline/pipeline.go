// Package pipeline orchestrates prompt construction, generation and
// persistence for one caller request.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sagehq/sage/internal/language"
	"github.com/sagehq/sage/internal/ollama"
	"github.com/sagehq/sage/internal/prompt"
)

// ErrUnknownTask rejects a task kind before any backend call is made.
var ErrUnknownTask = errors.New("unknown task")

// Generator is the model client surface the pipeline consumes.
type Generator interface {
	Run(ctx context.Context, model, prompt string, stream bool) <-chan ollama.Chunk
}

type Pipeline struct {
	llm          Generator
	model        string
	diagramModel string
	recorder     *Recorder
	logger       *slog.Logger
}

func New(llm Generator, model, diagramModel string, recorder *Recorder, logger *slog.Logger) *Pipeline {
	return &Pipeline{
		llm:          llm,
		model:        model,
		diagramModel: diagramModel,
		recorder:     recorder,
		logger:       logger,
	}
}

// Run executes a streaming task, forwarding each delta to sink as it arrives.
// The completed (or partial) output is handed to the recorder on every exit
// path: normal completion, backend error chunk, and sink failure (caller
// disconnect) all persist whatever text accumulated up to that point.
func (p *Pipeline) Run(ctx context.Context, task prompt.TaskKind, code, lang string, sink func(delta string) error) error {
	switch task {
	case prompt.TaskExplain, prompt.TaskDebug, prompt.TaskOptimize:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownTask, task)
	}

	if lang == "" {
		lang = language.Detect(code)
	}
	rendered := prompt.Build(task, lang, code)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var output strings.Builder
	defer func() {
		p.recorder.Record(string(task), code, lang, output.String())
	}()

	for chunk := range p.llm.Run(ctx, p.model, rendered, true) {
		if chunk.Delta != "" {
			// Retry notices and error text reach the caller but are not
			// model output; only real deltas land in the recorded response.
			if !chunk.Err && !chunk.Notice {
				output.WriteString(chunk.Delta)
			}
			if err := sink(chunk.Delta); err != nil {
				// Caller is gone; abort the backend read and persist what we have.
				cancel()
				return fmt.Errorf("forward output: %w", err)
			}
		}
		if chunk.Err {
			return fmt.Errorf("generation failed: %s", strings.TrimSpace(chunk.Delta))
		}
		if chunk.Done {
			break
		}
	}
	return nil
}

// Diagram executes a single-shot diagram run and returns the aggregated text.
// Unlike Run, failure here surfaces as an ordinary error: nothing has been
// streamed to the caller yet. An empty result is not recorded.
func (p *Pipeline) Diagram(ctx context.Context, code, lang string) (string, error) {
	if lang == "" {
		lang = language.Detect(code)
	}
	rendered := prompt.Build(prompt.TaskDiagram, lang, code)

	var output strings.Builder
	for chunk := range p.llm.Run(ctx, p.diagramModel, rendered, false) {
		if chunk.Err {
			return "", fmt.Errorf("generation failed: %s", strings.TrimSpace(chunk.Delta))
		}
		output.WriteString(chunk.Delta)
	}

	diagram := strings.TrimSpace(output.String())
	if diagram != "" {
		p.recorder.Record(string(prompt.TaskDiagram), code, lang, diagram)
	}
	return diagram, nil
}
