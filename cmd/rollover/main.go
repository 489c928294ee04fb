// Command rollover performs the daily maintenance pass for a collection:
// it lifts the previous day's burials across every deck and reports the
// per-deck due counts for the new day. It is intended to be invoked by an
// external cron job shortly after the configured rollover hour.
//
// Exit codes: 0 = success, 1 = error.
package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"time"

	deckrepo "github.com/heartmarshall/recall-backend/internal/adapter/postgres/deck"
	"github.com/heartmarshall/recall-backend/internal/app"
	"github.com/heartmarshall/recall-backend/internal/config"
	"github.com/heartmarshall/recall-backend/internal/domain"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger := app.NewLogger(cfg.Log)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	svc, pool, err := app.Build(ctx, cfg, logger)
	if err != nil {
		logger.Error("build scheduler", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer pool.Close()

	decks, err := deckrepo.New(pool).All(ctx)
	if err != nil {
		logger.Error("load decks", slog.String("error", err.Error()))
		os.Exit(1)
	}

	for _, d := range decks {
		if err := svc.UnburyCardsForDeck(ctx, d.ID, domain.UnburyScopeAll); err != nil {
			logger.Error("unbury deck",
				slog.String("deck", d.Name),
				slog.String("error", err.Error()),
			)
			os.Exit(1)
		}
	}

	tree, err := svc.DeckDueTree(ctx)
	if err != nil {
		logger.Error("compute due tree", slog.String("error", err.Error()))
		os.Exit(1)
	}

	for _, d := range decks {
		due := tree[d.ID].Due
		logger.Info("deck due",
			slog.String("deck", d.Name),
			slog.Int("new", due.New),
			slog.Int("learning", due.Learning),
			slog.Int("review", due.Review),
		)
	}

	logger.Info("rollover completed",
		slog.Int("day", svc.Today()),
		slog.Int("decks", len(decks)),
	)
}
