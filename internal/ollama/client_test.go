package ollama

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func collect(ch <-chan Chunk) []Chunk {
	var out []Chunk
	for chunk := range ch {
		out = append(out, chunk)
	}
	return out
}

func joinDeltas(chunks []Chunk) string {
	var b strings.Builder
	for _, chunk := range chunks {
		b.WriteString(chunk.Delta)
	}
	return b.String()
}

func countErrors(chunks []Chunk) int {
	n := 0
	for _, chunk := range chunks {
		if chunk.Err {
			n++
		}
	}
	return n
}

// backend tracks attempts against a fake generation server.
type backend struct {
	mu       sync.Mutex
	attempts int
	times    []time.Time
}

func (b *backend) next() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.attempts++
	b.times = append(b.times, time.Now())
	return b.attempts
}

func (b *backend) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.attempts
}

func TestRun_StreamsUntilDone(t *testing.T) {
	b := &backend{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b.next()
		io.WriteString(w, `{"response":"hello "}`+"\n")
		io.WriteString(w, `{"response":"world"}`+"\n")
		io.WriteString(w, `{"done":true}`+"\n")
		io.WriteString(w, `{"response":"after done, never seen"}`+"\n")
	}))
	defer server.Close()

	c := NewClient(server.URL, 3, 10*time.Millisecond, discardLogger())
	chunks := collect(c.Run(context.Background(), "llama3", "hi", true))

	if got := joinDeltas(chunks); got != "hello world" {
		t.Errorf("expected \"hello world\", got %q", got)
	}
	if countErrors(chunks) != 0 {
		t.Errorf("expected no error chunks, got %+v", chunks)
	}
	if b.count() != 1 {
		t.Errorf("expected 1 attempt, got %d", b.count())
	}
}

func TestRun_DoneFlagOnContentLineEndsStream(t *testing.T) {
	// The backend may attach the completion flag to the last content line
	// and then close the connection. That is a clean end: the final delta is
	// forwarded and the EOF must not be mistaken for a dropped stream.
	b := &backend{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b.next()
		io.WriteString(w, `{"response":"the answer"}`+"\n")
		io.WriteString(w, `{"response":" tail","done":true}`+"\n")
	}))
	defer server.Close()

	c := NewClient(server.URL, 3, 5*time.Millisecond, discardLogger())
	chunks := collect(c.Run(context.Background(), "llama3", "hi", true))

	if b.count() != 1 {
		t.Errorf("a done-flagged final line must not be retried, got %d attempts", b.count())
	}
	if got := joinDeltas(chunks); got != "the answer tail" {
		t.Errorf("expected the full answer exactly once, got %q", got)
	}
	if countErrors(chunks) != 0 {
		t.Errorf("expected a clean end, got %+v", chunks)
	}
}

func TestRun_RetryNoticesAreTagged(t *testing.T) {
	b := &backend{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if b.next() == 1 {
			panic(http.ErrAbortHandler)
		}
		io.WriteString(w, `{"response":"content"}`+"\n")
		io.WriteString(w, `{"done":true}`+"\n")
	}))
	defer server.Close()

	c := NewClient(server.URL, 3, 5*time.Millisecond, discardLogger())
	chunks := collect(c.Run(context.Background(), "llama3", "hi", true))

	var notices, content int
	for _, chunk := range chunks {
		if chunk.Notice {
			notices++
		} else if chunk.Delta != "" {
			content++
		}
	}
	if notices != 1 {
		t.Errorf("expected one tagged retry notice, got %d (%+v)", notices, chunks)
	}
	if content != 1 {
		t.Errorf("expected one untagged content chunk, got %d (%+v)", content, chunks)
	}
}

func TestRun_SkipsMalformedLines(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "this is not json\n")
		io.WriteString(w, `{"response":"ok"}`+"\n")
		io.WriteString(w, "{truncated\n")
		io.WriteString(w, `{"done":true}`+"\n")
	}))
	defer server.Close()

	c := NewClient(server.URL, 3, 10*time.Millisecond, discardLogger())
	chunks := collect(c.Run(context.Background(), "llama3", "hi", true))

	if got := joinDeltas(chunks); got != "ok" {
		t.Errorf("expected malformed lines to be dropped, got %q", got)
	}
	if countErrors(chunks) != 0 {
		t.Errorf("expected no error chunks, got %+v", chunks)
	}
}

func TestRun_RetriesDroppedConnectionThenSucceeds(t *testing.T) {
	delay := 50 * time.Millisecond
	b := &backend{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if b.next() <= 2 {
			panic(http.ErrAbortHandler) // drop the connection
		}
		io.WriteString(w, `{"response":"hello "}`+"\n")
		io.WriteString(w, `{"response":"world"}`+"\n")
		io.WriteString(w, `{"done":true}`+"\n")
	}))
	defer server.Close()

	c := NewClient(server.URL, 3, delay, discardLogger())
	chunks := collect(c.Run(context.Background(), "llama3", "hi", true))

	if b.count() != 3 {
		t.Errorf("expected 3 attempts (2 retries), got %d", b.count())
	}
	joined := joinDeltas(chunks)
	if strings.Count(joined, "hello world") != 1 {
		t.Errorf("expected payload exactly once, got %q", joined)
	}
	if countErrors(chunks) != 0 {
		t.Errorf("expected success, got error chunks: %+v", chunks)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for i := 1; i < len(b.times); i++ {
		if gap := b.times[i].Sub(b.times[i-1]); gap < delay {
			t.Errorf("expected at least %v between attempts, got %v", delay, gap)
		}
	}
}

func TestRun_ExhaustedRetriesYieldOneTerminalError(t *testing.T) {
	b := &backend{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b.next()
		panic(http.ErrAbortHandler)
	}))
	defer server.Close()

	c := NewClient(server.URL, 3, 5*time.Millisecond, discardLogger())
	chunks := collect(c.Run(context.Background(), "llama3", "hi", true))

	if b.count() != 3 {
		t.Errorf("expected 3 attempts, got %d", b.count())
	}
	if countErrors(chunks) != 1 {
		t.Fatalf("expected exactly one terminal error chunk, got %+v", chunks)
	}
	last := chunks[len(chunks)-1]
	if !last.Err {
		t.Errorf("expected the error chunk to be last, got %+v", chunks)
	}
	if !strings.Contains(last.Delta, "failed after 3 attempts") {
		t.Errorf("expected a readable failure message, got %q", last.Delta)
	}
}

func TestRun_MidStreamDropRetriesWithoutDuplicates(t *testing.T) {
	b := &backend{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if b.next() == 1 {
			io.WriteString(w, `{"response":"partial "}`+"\n")
			w.(http.Flusher).Flush()
			panic(http.ErrAbortHandler) // cut the stream before done
		}
		io.WriteString(w, `{"response":"full answer"}`+"\n")
		io.WriteString(w, `{"done":true}`+"\n")
	}))
	defer server.Close()

	c := NewClient(server.URL, 3, 5*time.Millisecond, discardLogger())
	chunks := collect(c.Run(context.Background(), "llama3", "hi", true))

	if b.count() != 2 {
		t.Errorf("expected 2 attempts, got %d", b.count())
	}
	joined := joinDeltas(chunks)
	if strings.Count(joined, "partial ") != 1 {
		t.Errorf("expected the interrupted prefix exactly once, got %q", joined)
	}
	if strings.Count(joined, "full answer") != 1 {
		t.Errorf("expected the retried payload exactly once, got %q", joined)
	}
	if countErrors(chunks) != 0 {
		t.Errorf("expected no error chunks after successful retry, got %+v", chunks)
	}
}

func TestRun_BackendErrorChunkEndsStreamWithoutRetry(t *testing.T) {
	b := &backend{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b.next()
		io.WriteString(w, `{"error":"model not loaded"}`+"\n")
	}))
	defer server.Close()

	c := NewClient(server.URL, 3, 5*time.Millisecond, discardLogger())
	chunks := collect(c.Run(context.Background(), "llama3", "hi", true))

	if b.count() != 1 {
		t.Errorf("backend-reported errors must not be retried, got %d attempts", b.count())
	}
	if len(chunks) != 1 || !chunks[0].Err {
		t.Fatalf("expected a single error chunk, got %+v", chunks)
	}
	if !strings.Contains(chunks[0].Delta, "model not loaded") {
		t.Errorf("expected backend message surfaced inline, got %q", chunks[0].Delta)
	}
}

func TestRun_ConsumerCancelAbortsStream(t *testing.T) {
	b := &backend{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b.next()
		io.WriteString(w, `{"response":"first"}`+"\n")
		w.(http.Flusher).Flush()
		<-r.Context().Done() // hang until the client goes away
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	c := NewClient(server.URL, 3, 5*time.Millisecond, discardLogger())
	ch := c.Run(ctx, "llama3", "hi", true)

	first := <-ch
	if first.Delta != "first" {
		t.Fatalf("expected first delta, got %+v", first)
	}
	cancel()

	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, open := <-ch:
			if !open {
				if b.count() != 1 {
					t.Errorf("cancellation must not trigger retries, got %d attempts", b.count())
				}
				return
			}
		case <-deadline:
			t.Fatal("chunk channel not closed after cancellation")
		}
	}
}

func TestRun_SingleShot(t *testing.T) {
	b := &backend{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b.next()
		io.WriteString(w, `{"response":"flowchart TD\nA-->B"}`)
	}))
	defer server.Close()

	c := NewClient(server.URL, 3, 5*time.Millisecond, discardLogger())
	chunks := collect(c.Run(context.Background(), "codellama", "hi", false))

	if len(chunks) != 1 {
		t.Fatalf("expected exactly one chunk, got %+v", chunks)
	}
	if chunks[0].Delta != "flowchart TD\nA-->B" {
		t.Errorf("unexpected delta %q", chunks[0].Delta)
	}
	if b.count() != 1 {
		t.Errorf("expected 1 attempt, got %d", b.count())
	}
}

func TestRun_SingleShotRawBodyFallback(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "plain text, not json")
	}))
	defer server.Close()

	c := NewClient(server.URL, 3, 5*time.Millisecond, discardLogger())
	chunks := collect(c.Run(context.Background(), "codellama", "hi", false))

	if len(chunks) != 1 || chunks[0].Delta != "plain text, not json" {
		t.Fatalf("expected raw body fallback, got %+v", chunks)
	}
}

func TestRun_SingleShotRetries(t *testing.T) {
	b := &backend{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if b.next() <= 2 {
			panic(http.ErrAbortHandler)
		}
		io.WriteString(w, `{"response":"ok"}`)
	}))
	defer server.Close()

	c := NewClient(server.URL, 3, 5*time.Millisecond, discardLogger())
	chunks := collect(c.Run(context.Background(), "codellama", "hi", false))

	if b.count() != 3 {
		t.Errorf("expected 3 attempts, got %d", b.count())
	}
	if len(chunks) != 1 || chunks[0].Delta != "ok" {
		t.Fatalf("expected single ok chunk, got %+v", chunks)
	}
}

func TestRun_RequestShape(t *testing.T) {
	var mu sync.Mutex
	var gotBody, gotPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		gotBody = string(body)
		gotPath = r.URL.Path
		mu.Unlock()
		io.WriteString(w, `{"done":true}`+"\n")
	}))
	defer server.Close()

	c := NewClient(server.URL, 1, 0, discardLogger())
	collect(c.Run(context.Background(), "llama3", "the prompt", true))

	mu.Lock()
	defer mu.Unlock()
	if gotPath != "/api/generate" {
		t.Errorf("expected /api/generate, got %s", gotPath)
	}
	for _, want := range []string{`"model":"llama3"`, `"prompt":"the prompt"`, `"stream":true`} {
		if !strings.Contains(gotBody, want) {
			t.Errorf("request body missing %s: %s", want, gotBody)
		}
	}
}
