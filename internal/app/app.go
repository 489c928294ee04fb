package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/heartmarshall/recall-backend/internal/adapter/postgres"
	cardrepo "github.com/heartmarshall/recall-backend/internal/adapter/postgres/card"
	deckrepo "github.com/heartmarshall/recall-backend/internal/adapter/postgres/deck"
	"github.com/heartmarshall/recall-backend/internal/adapter/postgres/reviewlog"
	"github.com/heartmarshall/recall-backend/internal/adapter/postgres/search"
	"github.com/heartmarshall/recall-backend/internal/config"
	"github.com/heartmarshall/recall-backend/internal/domain"
	"github.com/heartmarshall/recall-backend/internal/service/scheduler"
)

// Build wires configuration into a ready scheduler service backed by
// PostgreSQL. The caller owns the returned pool and must Close it.
func Build(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*scheduler.Service, *pgxpool.Pool, error) {
	pool, err := postgres.NewPool(ctx, cfg.Database)
	if err != nil {
		return nil, nil, err
	}

	schedCfg := scheduler.Config{
		CreatedAt:      cfg.Scheduler.CollectionEpoch,
		RolloverHour:   cfg.Scheduler.RolloverHour,
		CollapseWindow: cfg.Scheduler.CollapseWindow,
		NewSpread:      parseNewSpread(cfg.Scheduler.NewSpread),
		QueueBatch:     cfg.Scheduler.QueueBatch,
		Version:        domain.SchedulerVersion(cfg.Scheduler.Version),
	}

	// The search compiler needs the scheduling day and the learn-ahead
	// cutoff to evaluate is:due without depending on the service.
	finderClock := func() (int, time.Time) {
		c := scheduler.NewClock(time.Now(), schedCfg.CreatedAt, schedCfg.RolloverHour)
		return c.Today, c.Now.Add(schedCfg.CollapseWindow)
	}

	svc, err := scheduler.NewService(
		logger,
		cardrepo.New(pool),
		reviewlog.New(pool),
		deckrepo.New(pool),
		search.New(pool, finderClock),
		postgres.NewTxManager(pool),
		schedCfg,
	)
	if err != nil {
		pool.Close()
		return nil, nil, err
	}

	return svc, pool, nil
}

func parseNewSpread(s string) scheduler.NewSpread {
	switch s {
	case "last":
		return scheduler.NewSpreadLast
	case "first":
		return scheduler.NewSpreadFirst
	default:
		return scheduler.NewSpreadDistribute
	}
}
