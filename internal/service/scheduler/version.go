package scheduler

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/heartmarshall/recall-backend/internal/domain"
)

// ChangeSchedulerVersion migrates every card's state between the v1 and v2
// queue semantics in one batch. Filtered decks are emptied first in either
// direction, since the two versions disagree on what a stay means.
//
// This is an explicit data migration, not a mode switch: the service keeps
// running with the version it was constructed with until it reports the new
// one.
func (s *Service) ChangeSchedulerVersion(ctx context.Context, to domain.SchedulerVersion) error {
	if !to.IsValid() {
		return domain.NewValidationError("version", "unknown scheduler version")
	}
	if to == s.cfg.Version {
		return fmt.Errorf("already on scheduler v%d: %w", to, domain.ErrConflict)
	}
	clock := s.clockNow()

	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		decks, err := s.decks.All(ctx)
		if err != nil {
			return fmt.Errorf("load decks: %w", err)
		}
		allIDs := make([]uuid.UUID, 0, len(decks))
		for _, d := range decks {
			allIDs = append(allIDs, d.ID)
			if d.Filtered {
				if err := s.emptyFiltered(ctx, d); err != nil {
					return err
				}
			}
		}

		if to == domain.SchedulerV1 {
			return s.migrateToV1(ctx, allIDs, clock.Today)
		}
		return s.migrateToV2(ctx, allIDs)
	})
	if err != nil {
		return err
	}

	s.cfg.Version = to
	s.haveQueues = false
	s.log.Info("scheduler version changed", "version", to)
	return nil
}

// migrateToV1 folds the v2-only states away: manual burials collapse into
// the single v1 buried queue, and relearning cards go straight back to
// review with their post-lapse interval.
func (s *Service) migrateToV1(ctx context.Context, deckIDs []uuid.UUID, today int) error {
	buried, err := s.cards.ByQueue(ctx, deckIDs, []domain.Queue{domain.QueueUserBuried})
	if err != nil {
		return fmt.Errorf("load buried cards: %w", err)
	}
	updated := make([]*domain.Card, 0, len(buried))
	for i := range buried {
		buried[i].Queue = domain.QueueSchedBuried
		updated = append(updated, &buried[i])
	}

	learning, err := s.cards.ByQueue(ctx, deckIDs, []domain.Queue{domain.QueueLearning, domain.QueueDayLearning})
	if err != nil {
		return fmt.Errorf("load learning cards: %w", err)
	}
	for i := range learning {
		card := &learning[i]
		if card.Type != domain.CardTypeRelearning {
			continue
		}
		card.Type = domain.CardTypeReview
		card.Queue = domain.QueueReview
		card.Due = domain.DueOnDay(today + card.IntervalDays)
		card.Left = domain.StepsLeft{}
		updated = append(updated, card)
	}
	if err := s.cards.SaveAll(ctx, updated); err != nil {
		return fmt.Errorf("migrate cards to v1: %w", err)
	}
	return nil
}

// migrateToV2 resets in-flight learning episodes (the step ladders do not
// line up between versions) and marks v1 burials as manual.
func (s *Service) migrateToV2(ctx context.Context, deckIDs []uuid.UUID) error {
	buried, err := s.cards.ByQueue(ctx, deckIDs, []domain.Queue{domain.QueueSchedBuried})
	if err != nil {
		return fmt.Errorf("load buried cards: %w", err)
	}
	updated := make([]*domain.Card, 0, len(buried))
	for i := range buried {
		buried[i].Queue = domain.QueueUserBuried
		updated = append(updated, &buried[i])
	}

	learning, err := s.cards.ByQueue(ctx, deckIDs, []domain.Queue{domain.QueueLearning, domain.QueueDayLearning})
	if err != nil {
		return fmt.Errorf("load learning cards: %w", err)
	}
	for i := range learning {
		card := &learning[i]
		switch card.Type {
		case domain.CardTypeLearning, domain.CardTypeNew:
			card.Type = domain.CardTypeNew
			card.Queue = domain.QueueNew
			card.Due = domain.DueAtPosition(card.Position)
			card.IntervalDays = 0
			card.Left = domain.StepsLeft{}
		case domain.CardTypeRelearning:
			card.Type = domain.CardTypeReview
			card.Queue = domain.QueueReview
			card.Due = domain.DueOnDay(s.clockNow().Today + card.IntervalDays)
			card.Left = domain.StepsLeft{}
		}
		updated = append(updated, card)
	}
	if err := s.cards.SaveAll(ctx, updated); err != nil {
		return fmt.Errorf("migrate cards to v2: %w", err)
	}
	return nil
}
