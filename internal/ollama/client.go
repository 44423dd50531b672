// Package ollama is the HTTP client for the local generation backend.
package ollama

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

type Client struct {
	baseURL string
	client  *http.Client
	retries int
	delay   time.Duration
	logger  *slog.Logger
}

// NewClient builds a client for the backend at baseURL. retries is the total
// number of attempts per run; delay is the fixed pause between attempts.
// No request timeout is set: streaming generations are open-ended.
func NewClient(baseURL string, retries int, delay time.Duration, logger *slog.Logger) *Client {
	if retries < 1 {
		retries = 1
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{},
		retries: retries,
		delay:   delay,
		logger:  logger,
	}
}

type generateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

// Run starts a generation and returns a channel of normalized chunks. The
// channel is closed on every exit path. Transport failures are retried up to
// the configured attempt count with a fixed delay; exhausting all attempts
// yields one terminal Err chunk rather than an error, since content already
// forwarded to the consumer cannot be retracted. Cancelling ctx aborts any
// in-flight request and ends the sequence.
func (c *Client) Run(ctx context.Context, model, prompt string, stream bool) <-chan Chunk {
	out := make(chan Chunk)
	go func() {
		defer close(out)
		if stream {
			c.runStream(ctx, model, prompt, out)
		} else {
			c.runOnce(ctx, model, prompt, out)
		}
	}()
	return out
}

func (c *Client) runStream(ctx context.Context, model, prompt string, out chan<- Chunk) {
	var lastErr error
	for attempt := 1; attempt <= c.retries; attempt++ {
		terminal, err := c.streamAttempt(ctx, model, prompt, out)
		if terminal || err == nil {
			return
		}
		lastErr = err
		if ctx.Err() != nil {
			return
		}
		c.logger.Warn("generation stream interrupted",
			"attempt", attempt,
			"max_attempts", c.retries,
			"error", err,
		)
		if attempt < c.retries {
			notice := fmt.Sprintf("\n[stream interrupted, retrying %d/%d]\n", attempt, c.retries)
			if !emit(ctx, out, Chunk{Delta: notice, Notice: true}) {
				return
			}
			select {
			case <-time.After(c.delay):
			case <-ctx.Done():
				return
			}
		}
	}
	emit(ctx, out, Chunk{
		Err:   true,
		Delta: fmt.Sprintf("\ngeneration failed after %d attempts: %v\n", c.retries, lastErr),
	})
}

// streamAttempt runs one streaming request. terminal=true means the sequence
// is over for good (done flag, backend error chunk, or consumer cancellation)
// and no retry should happen. A non-terminal return always carries an error.
func (c *Client) streamAttempt(ctx context.Context, model, prompt string, out chan<- Chunk) (terminal bool, err error) {
	resp, err := c.post(ctx, model, prompt, true)
	if err != nil {
		if ctx.Err() != nil {
			return true, nil
		}
		return false, err
	}
	defer resp.Body.Close()

	reader := bufio.NewReader(resp.Body)
	for {
		line, readErr := reader.ReadBytes('\n')
		if len(line) > 0 {
			if chunk, ok := translateLine(line); ok {
				if chunk.Err {
					emit(ctx, out, chunk)
					return true, nil
				}
				// Forward the delta before honoring the done flag: the final
				// line may carry both.
				if chunk.Delta != "" {
					if !emit(ctx, out, chunk) {
						return true, nil
					}
				}
				if chunk.Done {
					return true, nil
				}
			}
		}
		if readErr != nil {
			if ctx.Err() != nil {
				return true, nil
			}
			if errors.Is(readErr, io.EOF) {
				// The backend closed the stream without a done flag.
				return false, errors.New("stream closed before completion")
			}
			return false, fmt.Errorf("read stream: %w", readErr)
		}
	}
}

func (c *Client) runOnce(ctx context.Context, model, prompt string, out chan<- Chunk) {
	var lastErr error
	for attempt := 1; attempt <= c.retries; attempt++ {
		chunk, err := c.onceAttempt(ctx, model, prompt)
		if err == nil {
			emit(ctx, out, chunk)
			return
		}
		lastErr = err
		if ctx.Err() != nil {
			return
		}
		c.logger.Warn("generation request failed",
			"attempt", attempt,
			"max_attempts", c.retries,
			"error", err,
		)
		if attempt < c.retries {
			select {
			case <-time.After(c.delay):
			case <-ctx.Done():
				return
			}
		}
	}
	emit(ctx, out, Chunk{
		Err:   true,
		Delta: fmt.Sprintf("generation failed after %d attempts: %v", c.retries, lastErr),
	})
}

func (c *Client) onceAttempt(ctx context.Context, model, prompt string) (Chunk, error) {
	resp, err := c.post(ctx, model, prompt, false)
	if err != nil {
		return Chunk{}, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Chunk{}, fmt.Errorf("read response: %w", err)
	}

	var obj map[string]any
	if err := json.Unmarshal(body, &obj); err != nil {
		// Not JSON: treat the raw body as the generated text.
		return Chunk{Delta: string(body)}, nil
	}
	return Translate(obj), nil
}

func (c *Client) post(ctx context.Context, model, prompt string, stream bool) (*http.Response, error) {
	body, err := json.Marshal(generateRequest{Model: model, Prompt: prompt, Stream: stream})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("backend request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		resp.Body.Close()
		return nil, fmt.Errorf("backend status %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}
	return resp, nil
}

// emit sends a chunk unless the consumer has gone away.
func emit(ctx context.Context, out chan<- Chunk, chunk Chunk) bool {
	select {
	case out <- chunk:
		return true
	case <-ctx.Done():
		return false
	}
}
