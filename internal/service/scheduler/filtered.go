package scheduler

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/heartmarshall/recall-backend/internal/domain"
)

// filteredGatherExclusions keeps ineligible cards out of a filtered deck
// regardless of what the user's search matches.
const filteredGatherExclusions = "-is:suspended -is:buried -deck:filtered"

// RebuildFiltered empties a filtered deck and regathers it from its search
// terms. It returns how many cards were pulled in.
func (s *Service) RebuildFiltered(ctx context.Context, deckID uuid.UUID) (int, error) {
	deck, err := s.decks.Get(ctx, deckID)
	if err != nil {
		return 0, fmt.Errorf("load filtered deck: %w", err)
	}
	if !deck.Filtered {
		return 0, domain.NewValidationError("deck", "not a filtered deck")
	}
	if len(deck.SearchTerms) == 0 {
		return 0, domain.NewValidationError("search_terms", "must not be empty")
	}

	var moved int
	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.emptyFiltered(ctx, deck); err != nil {
			return err
		}

		// Terms conjoin, so the exclusions simply append.
		term := deck.SearchTerms[0]
		search := strings.TrimSpace(term.Search + " " + filteredGatherExclusions)

		ids, err := s.finder.FindCardIDs(ctx, search, term.Order, term.Limit)
		if err != nil {
			return fmt.Errorf("gather filtered cards: %w", err)
		}
		if len(ids) == 0 {
			return nil
		}

		cards, err := s.cards.GetMany(ctx, ids)
		if err != nil {
			return fmt.Errorf("load gathered cards: %w", err)
		}
		byID := make(map[uuid.UUID]*domain.Card, len(cards))
		for i := range cards {
			byID[cards[i].ID] = &cards[i]
		}

		// Preserve the search order as the stay's position.
		moving := make([]*domain.Card, 0, len(ids))
		for i, id := range ids {
			card, ok := byID[id]
			if !ok {
				continue
			}
			card.HomeDeckID = card.DeckID
			card.HomeDue = card.Due
			card.HasHomeDue = true
			card.FilteredPos = i
			card.DeckID = deck.ID
			moving = append(moving, card)
		}
		if err := s.cards.SaveAll(ctx, moving); err != nil {
			return fmt.Errorf("move cards to filtered deck: %w", err)
		}
		moved = len(moving)
		return nil
	})
	if err != nil {
		return 0, err
	}

	s.haveQueues = false
	s.log.Info("filtered deck rebuilt", "deck", deckID, "cards", moved)
	return moved, nil
}

// EmptyFiltered sends every resident card back to its home deck. Learning
// progress made during the stay survives; everything else returns to the
// state the card entered with.
func (s *Service) EmptyFiltered(ctx context.Context, deckID uuid.UUID) error {
	deck, err := s.decks.Get(ctx, deckID)
	if err != nil {
		return fmt.Errorf("load filtered deck: %w", err)
	}
	if !deck.Filtered {
		return domain.NewValidationError("deck", "not a filtered deck")
	}
	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		return s.emptyFiltered(ctx, deck)
	})
	if err != nil {
		return err
	}
	s.haveQueues = false
	return nil
}

func (s *Service) emptyFiltered(ctx context.Context, deck domain.Deck) error {
	cards, err := s.cards.InDeck(ctx, deck.ID)
	if err != nil {
		return fmt.Errorf("load filtered residents: %w", err)
	}
	if len(cards) == 0 {
		return nil
	}

	restored := make([]*domain.Card, 0, len(cards))
	for i := range cards {
		card := &cards[i]
		if !card.InFilteredDeck() {
			continue
		}
		s.restoreHomeState(card)
		restored = append(restored, card)
	}
	if err := s.cards.SaveAll(ctx, restored); err != nil {
		return fmt.Errorf("restore filtered residents: %w", err)
	}
	return nil
}

// restoreHomeState ends a card's filtered stay in place.
func (s *Service) restoreHomeState(card *domain.Card) {
	switch card.Queue {
	case domain.QueueLearning, domain.QueueDayLearning:
		// Mid-episode: the due the card earned during the stay stands.
	case domain.QueuePreview:
		s.restorePreviewCard(card)
	case domain.QueueSuspended, domain.QueueSchedBuried, domain.QueueUserBuried:
		if card.HasHomeDue && card.Type != domain.CardTypeLearning && card.Type != domain.CardTypeRelearning {
			card.Due = card.HomeDue
		}
	default:
		if card.HasHomeDue {
			card.Due = card.HomeDue
		}
		switch card.Type {
		case domain.CardTypeNew:
			card.Queue = domain.QueueNew
		case domain.CardTypeReview:
			card.Queue = domain.QueueReview
		case domain.CardTypeLearning, domain.CardTypeRelearning:
			if card.Due.Kind == domain.DueStamp {
				card.Queue = domain.QueueLearning
			} else {
				card.Queue = domain.QueueDayLearning
			}
		}
	}
	s.returnHome(card)
}
