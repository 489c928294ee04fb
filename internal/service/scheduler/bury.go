package scheduler

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/heartmarshall/recall-backend/internal/domain"
)

// homeQueue maps a card's type (and due kind, for learning) back to the
// queue it belongs in once a suspension, burial, or preview ends.
func homeQueue(card *domain.Card) domain.Queue {
	switch card.Type {
	case domain.CardTypeNew:
		return domain.QueueNew
	case domain.CardTypeReview:
		return domain.QueueReview
	default:
		if card.Due.Kind == domain.DueStamp {
			return domain.QueueLearning
		}
		return domain.QueueDayLearning
	}
}

// BuryCards hides cards until the next day rollover. manual burials survive
// an unbury of scheduler-buried siblings and vice versa.
func (s *Service) BuryCards(ctx context.Context, ids []uuid.UUID, manual bool) error {
	queue := domain.QueueSchedBuried
	if manual {
		queue = domain.QueueUserBuried
	}
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		cards, err := s.cards.GetMany(ctx, ids)
		if err != nil {
			return fmt.Errorf("load cards: %w", err)
		}
		updated := make([]*domain.Card, 0, len(cards))
		for i := range cards {
			cards[i].Queue = queue
			updated = append(updated, &cards[i])
		}
		if err := s.cards.SaveAll(ctx, updated); err != nil {
			return fmt.Errorf("bury cards: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.haveQueues = false
	return nil
}

// UnburyCardsForDeck restores buried cards in the deck subtree. The scope
// selects manually buried cards, scheduler-buried ones, or both.
func (s *Service) UnburyCardsForDeck(ctx context.Context, deckID uuid.UUID, scope domain.UnburyScope) error {
	if !scope.IsValid() {
		return domain.NewValidationError("scope", "unknown unbury scope")
	}
	root, err := s.decks.Get(ctx, deckID)
	if err != nil {
		return fmt.Errorf("load deck: %w", err)
	}
	children, err := s.decks.Descendants(ctx, root.ID)
	if err != nil {
		return fmt.Errorf("load descendants: %w", err)
	}
	deckIDs := make([]uuid.UUID, 0, len(children)+1)
	deckIDs = append(deckIDs, root.ID)
	for _, d := range children {
		deckIDs = append(deckIDs, d.ID)
	}
	if err := s.unbury(ctx, deckIDs, scope); err != nil {
		return err
	}
	s.haveQueues = false
	return nil
}

func (s *Service) unbury(ctx context.Context, deckIDs []uuid.UUID, scope domain.UnburyScope) error {
	var queues []domain.Queue
	switch scope {
	case domain.UnburyScopeManual:
		queues = []domain.Queue{domain.QueueUserBuried}
	case domain.UnburyScopeScheduler:
		queues = []domain.Queue{domain.QueueSchedBuried}
	default:
		queues = []domain.Queue{domain.QueueUserBuried, domain.QueueSchedBuried}
	}
	return s.tx.RunInTx(ctx, func(ctx context.Context) error {
		cards, err := s.cards.ByQueue(ctx, deckIDs, queues)
		if err != nil {
			return fmt.Errorf("load buried cards: %w", err)
		}
		updated := make([]*domain.Card, 0, len(cards))
		for i := range cards {
			cards[i].Queue = homeQueue(&cards[i])
			updated = append(updated, &cards[i])
		}
		if err := s.cards.SaveAll(ctx, updated); err != nil {
			return fmt.Errorf("unbury cards: %w", err)
		}
		return nil
	})
}

// unburyOnRollover lifts all burials once per day, across the collection.
func (s *Service) unburyOnRollover(ctx context.Context) error {
	decks, err := s.decks.All(ctx)
	if err != nil {
		return fmt.Errorf("load decks: %w", err)
	}
	ids := make([]uuid.UUID, len(decks))
	for i := range decks {
		ids[i] = decks[i].ID
	}
	return s.unbury(ctx, ids, domain.UnburyScopeAll)
}

// SuspendCards takes cards out of study indefinitely. A card suspended
// inside a filtered deck goes home first; learning state is preserved.
func (s *Service) SuspendCards(ctx context.Context, ids []uuid.UUID) error {
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		cards, err := s.cards.GetMany(ctx, ids)
		if err != nil {
			return fmt.Errorf("load cards: %w", err)
		}
		updated := make([]*domain.Card, 0, len(cards))
		for i := range cards {
			card := &cards[i]
			if card.InFilteredDeck() {
				s.restoreHomeState(card)
			}
			card.Queue = domain.QueueSuspended
			updated = append(updated, card)
		}
		if err := s.cards.SaveAll(ctx, updated); err != nil {
			return fmt.Errorf("suspend cards: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.haveQueues = false
	return nil
}

// UnsuspendCards returns suspended cards to the queue their type implies.
func (s *Service) UnsuspendCards(ctx context.Context, ids []uuid.UUID) error {
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		cards, err := s.cards.GetMany(ctx, ids)
		if err != nil {
			return fmt.Errorf("load cards: %w", err)
		}
		updated := make([]*domain.Card, 0, len(cards))
		for i := range cards {
			card := &cards[i]
			if card.Queue != domain.QueueSuspended {
				continue
			}
			card.Queue = homeQueue(card)
			updated = append(updated, card)
		}
		if err := s.cards.SaveAll(ctx, updated); err != nil {
			return fmt.Errorf("unsuspend cards: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.haveQueues = false
	return nil
}
