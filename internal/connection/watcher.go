package connection

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/acquity/roundmarket/internal/round"
)

// EventHandler receives each decoded round event.
type EventHandler func(ev round.Event, receivedAt time.Time)

// Watcher keeps one stream connection open and hands events to a handler.
type Watcher struct {
	cfg    WatcherConfig
	logger *slog.Logger

	dial func(ClientConfig, *slog.Logger) Client
}

// NewWatcher creates a Watcher.
func NewWatcher(cfg WatcherConfig, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{cfg: cfg, logger: logger, dial: NewClient}
}

// Run connects and delivers events until ctx is cancelled. A dropped
// connection is re-dialled after a wait that doubles on each consecutive
// failure, up to ReconnectMaxWait.
func (w *Watcher) Run(ctx context.Context, handle EventHandler) error {
	wait := w.cfg.ReconnectBaseWait
	for {
		client := w.dial(w.cfg.Client, w.logger)
		err := client.Connect(ctx)
		if err == nil {
			w.logger.Info("watching round events", "url", w.cfg.Client.URL)
			wait = w.cfg.ReconnectBaseWait
			err = w.consume(ctx, client, handle)
			client.Close()
		}
		if ctx.Err() != nil {
			return nil
		}

		w.logger.Warn("stream disconnected, reconnecting", "error", err, "wait", wait)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
		wait *= 2
		if wait > w.cfg.ReconnectMaxWait {
			wait = w.cfg.ReconnectMaxWait
		}
	}
}

func (w *Watcher) consume(ctx context.Context, client Client, handle EventHandler) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-client.Errors():
			// Messages read before the failure are still buffered.
			for {
				select {
				case msg := <-client.Messages():
					w.deliver(msg, handle)
				default:
					return err
				}
			}
		case msg := <-client.Messages():
			w.deliver(msg, handle)
		}
	}
}

func (w *Watcher) deliver(msg TimestampedMessage, handle EventHandler) {
	var ev round.Event
	if err := json.Unmarshal(msg.Data, &ev); err != nil {
		w.logger.Warn("undecodable stream message", "error", err, "bytes", len(msg.Data))
		return
	}
	handle(ev, msg.ReceivedAt)
}
