// roundwatch connects to a marketd event stream and prints round events.
// Usage: go run ./cmd/roundwatch --url ws://localhost:8080/ws
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/acquity/roundmarket/internal/connection"
	"github.com/acquity/roundmarket/internal/round"
)

func main() {
	url := flag.String("url", "ws://localhost:8080/ws", "marketd stream URL")
	asJSON := flag.Bool("json", false, "print each event as a JSON line")
	verbose := flag.Bool("verbose", false, "log connection details")
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := connection.DefaultWatcherConfig()
	cfg.Client.URL = *url

	var count int
	err := connection.NewWatcher(cfg, logger).Run(ctx, func(ev round.Event, receivedAt time.Time) {
		count++
		if *asJSON {
			data, _ := json.Marshal(ev)
			fmt.Println(string(data))
			return
		}
		fmt.Println(formatEvent(ev, receivedAt))
	})
	if err != nil {
		logger.Error("watch failed", "error", err)
		os.Exit(1)
	}
	logger.Info("stopped", "events", count)
}

func formatEvent(ev round.Event, receivedAt time.Time) string {
	ts := receivedAt.Format("15:04:05.000")
	switch ev.Type {
	case round.EventRoundOpened:
		return fmt.Sprintf("[%s] round %s opened, ends %s", ts, ev.RoundID, ev.EndTime.Format(time.RFC3339))
	case round.EventRoundClosingSoon:
		return fmt.Sprintf("[%s] round %s closing at %s", ts, ev.RoundID, ev.EndTime.Format(time.RFC3339))
	case round.EventRoundConcluded:
		return fmt.Sprintf("[%s] round %s concluded with %d matches", ts, ev.RoundID, ev.Matches)
	default:
		return fmt.Sprintf("[%s] %s %s", ts, ev.Type, ev.RoundID)
	}
}
