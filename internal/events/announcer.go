// Package events publishes exchange lifecycle events to the bus.
package events

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

// SubjectExchangeRecorded is published after an exchange lands in storage.
const SubjectExchangeRecorded = "sage.exchange.recorded"

// ExchangeRecorded carries the metadata of a persisted exchange. The code and
// response bodies stay in the store; subscribers fetch them via the history API.
type ExchangeRecorded struct {
	ID        string `json:"id"`
	Task      string `json:"task"`
	Language  string `json:"language"`
	CreatedAt string `json:"created_at"`
}

type Announcer struct {
	conn   *nats.Conn
	logger *slog.Logger
}

func NewAnnouncer(url, token string, logger *slog.Logger) (*Announcer, error) {
	opts := []nats.Option{
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(60),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info("nats reconnected")
		}),
	}
	if token != "" {
		opts = append(opts, nats.Token(token))
	}

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	return &Announcer{conn: nc, logger: logger}, nil
}

// Announce publishes one recorded-exchange event. Best effort: the caller
// logs and moves on when the bus is down.
func (a *Announcer) Announce(evt ExchangeRecorded) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	return a.conn.Publish(SubjectExchangeRecorded, payload)
}

func (a *Announcer) Close() {
	a.conn.Close()
}
