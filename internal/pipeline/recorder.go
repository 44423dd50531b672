package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sagehq/sage/internal/events"
	"github.com/sagehq/sage/internal/store"
)

// ExchangeStore is the persistence surface the recorder writes to.
type ExchangeStore interface {
	SaveExchange(ctx context.Context, ex store.Exchange) (uuid.UUID, error)
}

// Recorder persists finished exchanges off the response critical path.
// Storage and the event bus are both optional; a recorder with neither is a
// logged no-op. Nothing that happens in here ever reaches the HTTP caller.
type Recorder struct {
	store  ExchangeStore
	bus    *events.Announcer
	logger *slog.Logger
	wg     sync.WaitGroup
}

func NewRecorder(s ExchangeStore, bus *events.Announcer, logger *slog.Logger) *Recorder {
	return &Recorder{store: s, bus: bus, logger: logger}
}

// Record schedules one exchange write and returns immediately.
func (r *Recorder) Record(task, code, lang, response string) {
	ex := store.Exchange{
		Task:      task,
		Code:      code,
		Language:  lang,
		Response:  response,
		CreatedAt: time.Now().UTC(),
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer func() {
			if p := recover(); p != nil {
				r.logger.Error("exchange recording panicked", "task", task, "panic", p)
			}
		}()
		r.record(ex)
	}()
}

func (r *Recorder) record(ex store.Exchange) {
	if r.store == nil {
		r.logger.Debug("storage not configured, dropping exchange", "task", ex.Task)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	id, err := r.store.SaveExchange(ctx, ex)
	if err != nil {
		r.logger.Warn("failed to record exchange", "task", ex.Task, "error", err)
		return
	}
	r.logger.Info("exchange recorded",
		"id", id,
		"task", ex.Task,
		"language", ex.Language,
		"response_len", len(ex.Response),
	)

	if r.bus != nil {
		err := r.bus.Announce(events.ExchangeRecorded{
			ID:        id.String(),
			Task:      ex.Task,
			Language:  ex.Language,
			CreatedAt: ex.CreatedAt.Format(time.RFC3339),
		})
		if err != nil {
			r.logger.Warn("failed to announce exchange", "id", id, "error", err)
		}
	}
}

// Wait blocks until all scheduled writes have finished. Used at shutdown.
func (r *Recorder) Wait() {
	r.wg.Wait()
}
