package scheduler

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/heartmarshall/recall-backend/internal/domain"
)

// UndoReview reverts a card's most recent answer: the scheduling state
// snapshotted on the revlog row comes back, the row is deleted, and the
// day's quota charge is refunded. Returns the restored card.
func (s *Service) UndoReview(ctx context.Context, cardID uuid.UUID) (domain.Card, error) {
	if !s.haveQueues {
		s.clock = s.clockNow()
	}
	var restored domain.Card
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		entry, err := s.revlogs.LastForCard(ctx, cardID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return domain.ErrUndoUnavailable
			}
			return fmt.Errorf("load last review: %w", err)
		}
		if entry.PrevState == nil {
			return domain.ErrUndoUnavailable
		}

		card, err := s.cards.Get(ctx, cardID)
		if err != nil {
			return fmt.Errorf("load card: %w", err)
		}

		prev := *entry.PrevState
		card.Restore(prev)

		if err := s.cards.Save(ctx, &card); err != nil {
			return fmt.Errorf("restore card: %w", err)
		}
		if err := s.revlogs.DeleteByID(ctx, entry.ID); err != nil {
			return fmt.Errorf("delete revlog row: %w", err)
		}

		// Refund the quota the answer consumed.
		deltaNew, deltaRev := 0, 0
		switch {
		case prev.Queue == domain.QueueNew:
			deltaNew = -1
		case entry.Kind == domain.ReviewKindReview || entry.Kind == domain.ReviewKindFiltered:
			if prev.Queue == domain.QueueReview {
				deltaRev = -1
			}
		}
		if deltaNew != 0 || deltaRev != 0 {
			if err := s.bumpUsage(ctx, prev.DeckID, deltaNew, deltaRev); err != nil {
				return err
			}
		}

		restored = card
		return nil
	})
	if err != nil {
		return domain.Card{}, err
	}
	s.haveQueues = false
	s.log.Info("review undone", "card", cardID)
	return restored, nil
}
