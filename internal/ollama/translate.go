package ollama

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Chunk is one normalized unit of model output. An Err chunk carries its
// message in Delta. A final line may carry both the last delta and the done
// flag, so Delta and Done can be set together. Notice marks client-generated
// status text (retry notices): forwarded to the consumer but not model output.
type Chunk struct {
	Delta  string
	Err    bool
	Done   bool
	Notice bool
}

// contentKeys are probed in priority order. The backend's documented field is
// "response", but local model servers drift; the alternates cover the common
// shapes seen from llama.cpp and OpenAI-compatible frontends.
var contentKeys = []string{"response", "content", "text"}

// Translate normalizes one parsed backend object into a Chunk. Objects with
// none of the known fields produce an empty chunk, which pipelines ignore.
func Translate(obj map[string]any) Chunk {
	if errVal, ok := obj["error"]; ok && errVal != nil {
		return Chunk{Err: true, Delta: fmt.Sprintf("model error: %v", errVal)}
	}
	var chunk Chunk
	for _, key := range contentKeys {
		if s, ok := obj[key].(string); ok && s != "" {
			chunk.Delta = s
			break
		}
	}
	// Chat-style servers nest the delta under message.content.
	if chunk.Delta == "" {
		if msg, ok := obj["message"].(map[string]any); ok {
			if s, ok := msg["content"].(string); ok && s != "" {
				chunk.Delta = s
			}
		}
	}
	// The done flag may ride on a content-carrying line; keep both.
	if done, ok := obj["done"].(bool); ok && done {
		chunk.Done = true
	}
	return chunk
}

// translateLine parses one raw line from a streaming response body.
// Blank and malformed lines report ok=false and are skipped by the caller;
// they never terminate the stream.
func translateLine(line []byte) (Chunk, bool) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return Chunk{}, false
	}
	var obj map[string]any
	if err := json.Unmarshal(line, &obj); err != nil {
		return Chunk{}, false
	}
	return Translate(obj), true
}
