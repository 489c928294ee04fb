package scheduler

import (
	"context"
	"fmt"
	"math/rand"
	"sort"

	"github.com/google/uuid"
	"github.com/heartmarshall/recall-backend/internal/domain"
)

// ForgetCards resets cards to the new state and appends them to the end of
// the new-card order. Reps and lapses are history and survive.
func (s *Service) ForgetCards(ctx context.Context, ids []uuid.UUID) error {
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		cards, err := s.cards.GetMany(ctx, ids)
		if err != nil {
			return fmt.Errorf("load cards: %w", err)
		}
		maxPos, err := s.cards.MaxPosition(ctx)
		if err != nil {
			return fmt.Errorf("max position: %w", err)
		}
		updated := make([]*domain.Card, 0, len(cards))
		for i := range cards {
			card := &cards[i]
			if card.InFilteredDeck() {
				s.returnHome(card)
			}
			card.Type = domain.CardTypeNew
			card.Queue = domain.QueueNew
			card.IntervalDays = 0
			card.Factor = domain.StartingFactor
			card.Left = domain.StepsLeft{}
			card.Position = maxPos + 1 + i
			card.Due = domain.DueAtPosition(card.Position)
			updated = append(updated, card)
		}
		if err := s.cards.SaveAll(ctx, updated); err != nil {
			return fmt.Errorf("forget cards: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.haveQueues = false
	return nil
}

// ReschedCards places cards in the review queue with an interval drawn from
// [minDays, maxDays], due counted from today.
func (s *Service) ReschedCards(ctx context.Context, ids []uuid.UUID, minDays, maxDays int) error {
	if minDays < 0 || maxDays < minDays {
		return domain.NewValidationError("interval", "need 0 <= min <= max")
	}
	clock := s.clockNow()
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		cards, err := s.cards.GetMany(ctx, ids)
		if err != nil {
			return fmt.Errorf("load cards: %w", err)
		}
		updated := make([]*domain.Card, 0, len(cards))
		for i := range cards {
			card := &cards[i]
			if card.InFilteredDeck() {
				s.returnHome(card)
			}
			picked := s.fuzz(minDays, maxDays)
			card.Type = domain.CardTypeReview
			card.Queue = domain.QueueReview
			card.IntervalDays = max(1, picked)
			card.Due = domain.DueOnDay(clock.Today + picked)
			card.Left = domain.StepsLeft{}
			updated = append(updated, card)
		}
		if err := s.cards.SaveAll(ctx, updated); err != nil {
			return fmt.Errorf("resched cards: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.haveQueues = false
	return nil
}

// SortCards reassigns new-card positions starting at start, in the order
// the ids are given (or shuffled). With shift, existing cards at or past
// start first move out of the way.
func (s *Service) SortCards(ctx context.Context, ids []uuid.UUID, start int, shuffle, shift bool) error {
	if len(ids) == 0 {
		return nil
	}
	order := make([]uuid.UUID, len(ids))
	copy(order, ids)
	if shuffle {
		rand.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })
	}

	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		if shift {
			if err := s.cards.ShiftPositions(ctx, start, len(order), order); err != nil {
				return fmt.Errorf("shift positions: %w", err)
			}
		}
		cards, err := s.cards.GetMany(ctx, order)
		if err != nil {
			return fmt.Errorf("load cards: %w", err)
		}
		byID := make(map[uuid.UUID]*domain.Card, len(cards))
		for i := range cards {
			byID[cards[i].ID] = &cards[i]
		}
		updated := make([]*domain.Card, 0, len(cards))
		for i, id := range order {
			card, ok := byID[id]
			if !ok {
				continue
			}
			card.Position = start + i
			if card.Queue == domain.QueueNew {
				card.Due = domain.DueAtPosition(card.Position)
			}
			updated = append(updated, card)
		}
		if err := s.cards.SaveAll(ctx, updated); err != nil {
			return fmt.Errorf("sort cards: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.haveQueues = false
	return nil
}

// RandomizeDeck shuffles the new-card order of one deck.
func (s *Service) RandomizeDeck(ctx context.Context, deckID uuid.UUID) error {
	return s.reorderDeck(ctx, deckID, true)
}

// OrderDeck restores the new-card order of one deck to creation order.
func (s *Service) OrderDeck(ctx context.Context, deckID uuid.UUID) error {
	return s.reorderDeck(ctx, deckID, false)
}

func (s *Service) reorderDeck(ctx context.Context, deckID uuid.UUID, shuffle bool) error {
	cards, err := s.cards.NewByDeck(ctx, deckID, dynReportLimit)
	if err != nil {
		return fmt.Errorf("load new cards: %w", err)
	}
	if len(cards) == 0 {
		return nil
	}
	if !shuffle {
		sort.Slice(cards, func(i, j int) bool { return cards[i].CreatedAt.Before(cards[j].CreatedAt) })
	}
	start := cards[0].Position
	for i := range cards {
		start = min(start, cards[i].Position)
	}
	ids := make([]uuid.UUID, len(cards))
	for i := range cards {
		ids[i] = cards[i].ID
	}
	return s.SortCards(ctx, ids, start, shuffle, false)
}
