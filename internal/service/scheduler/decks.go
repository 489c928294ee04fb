package scheduler

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/heartmarshall/recall-backend/internal/domain"
)

// dynReportLimit stands in for "no per-day limit" on filtered decks.
const dynReportLimit = 99999

// SelectDeck sets the deck whose subtree the queues draw from. The working
// queues are rebuilt on the next Reset or fetch.
func (s *Service) SelectDeck(ctx context.Context, deckID uuid.UUID) error {
	if _, err := s.decks.Get(ctx, deckID); err != nil {
		return fmt.Errorf("select deck: %w", err)
	}
	s.activeDeck = deckID
	s.haveQueues = false
	return nil
}

// ActiveDeck returns the currently selected deck id.
func (s *Service) ActiveDeck() uuid.UUID { return s.activeDeck }

// loadActive resolves the selected deck plus its descendants, parents before
// children, children in name order.
func (s *Service) loadActive(ctx context.Context) error {
	root, err := s.decks.Get(ctx, s.activeDeck)
	if err != nil {
		return fmt.Errorf("load active deck: %w", err)
	}
	children, err := s.decks.Descendants(ctx, root.ID)
	if err != nil {
		return fmt.Errorf("load active descendants: %w", err)
	}
	sortDecksByPath(children)
	s.active = append([]domain.Deck{root}, children...)
	return nil
}

func sortDecksByPath(decks []domain.Deck) {
	sort.Slice(decks, func(i, j int) bool { return decks[i].Name < decks[j].Name })
}

// deckLimits is the remaining daily quota of one deck, before ancestor caps.
type deckLimits struct {
	newLimit int
	revLimit int
}

// remainingLimits subtracts today's usage from the deck's per-day settings.
// Filtered decks report an effectively unlimited quota.
func (s *Service) remainingLimits(ctx context.Context, deck domain.Deck) (deckLimits, error) {
	if deck.Filtered {
		return deckLimits{newLimit: dynReportLimit, revLimit: dynReportLimit}, nil
	}
	cfg, err := s.decks.Config(ctx, deck.ID)
	if err != nil {
		return deckLimits{}, fmt.Errorf("deck config: %w", err)
	}
	usage, err := s.decks.UsageToday(ctx, deck.ID, s.clock.Today)
	if err != nil {
		return deckLimits{}, fmt.Errorf("deck usage: %w", err)
	}
	if usage.Day != s.clock.Today {
		usage = domain.DeckUsage{Day: s.clock.Today}
	}
	return deckLimits{
		newLimit: max(0, cfg.New.PerDay-usage.New),
		revLimit: max(0, cfg.Review.PerDay-usage.Review),
	}, nil
}

// newQuotaWalk distributes today's remaining new allowance over the active
// decks in order, returning each deck's share aligned with s.active. A
// deck's share is capped by its own and every ancestor's remaining quota,
// and what it takes is charged against all of them before the next deck is
// considered, so a parent's limit caps its whole subtree.
func (s *Service) newQuotaWalk(ctx context.Context) ([]int, error) {
	remaining := make(map[uuid.UUID]int)
	remainingFor := func(d domain.Deck) (int, error) {
		if r, ok := remaining[d.ID]; ok {
			return r, nil
		}
		lim, err := s.remainingLimits(ctx, d)
		if err != nil {
			return 0, err
		}
		remaining[d.ID] = lim.newLimit
		return lim.newLimit, nil
	}

	quotas := make([]int, len(s.active))
	for i, deck := range s.active {
		allowed, err := remainingFor(deck)
		if err != nil {
			return nil, err
		}
		ancestors, err := s.decks.Ancestors(ctx, deck.ID)
		if err != nil {
			return nil, fmt.Errorf("deck ancestors: %w", err)
		}
		for _, a := range ancestors {
			r, err := remainingFor(a)
			if err != nil {
				return nil, err
			}
			allowed = min(allowed, r)
		}
		if allowed <= 0 {
			continue
		}
		n, err := s.cards.CountNewByDeck(ctx, deck.ID, allowed)
		if err != nil {
			return nil, fmt.Errorf("count new: %w", err)
		}
		take := min(n, allowed)
		quotas[i] = take
		remaining[deck.ID] -= take
		for _, a := range ancestors {
			remaining[a.ID] -= take
		}
	}
	return quotas, nil
}

// effectiveRevLimit mirrors effectiveNewLimit for reviews.
func (s *Service) effectiveRevLimit(ctx context.Context, deck domain.Deck) (int, error) {
	lim, err := s.remainingLimits(ctx, deck)
	if err != nil {
		return 0, err
	}
	ancestors, err := s.decks.Ancestors(ctx, deck.ID)
	if err != nil {
		return 0, fmt.Errorf("deck ancestors: %w", err)
	}
	limit := lim.revLimit
	for _, a := range ancestors {
		al, err := s.remainingLimits(ctx, a)
		if err != nil {
			return 0, err
		}
		limit = min(limit, al.revLimit)
	}
	return limit, nil
}

// bumpUsage charges today's quota on the card's deck and every ancestor.
func (s *Service) bumpUsage(ctx context.Context, deckID uuid.UUID, newDelta, revDelta int) error {
	if err := s.decks.BumpUsage(ctx, deckID, s.clock.Today, newDelta, revDelta); err != nil {
		return fmt.Errorf("bump usage: %w", err)
	}
	ancestors, err := s.decks.Ancestors(ctx, deckID)
	if err != nil {
		return fmt.Errorf("deck ancestors: %w", err)
	}
	for _, a := range ancestors {
		if err := s.decks.BumpUsage(ctx, a.ID, s.clock.Today, newDelta, revDelta); err != nil {
			return fmt.Errorf("bump usage: %w", err)
		}
	}
	return nil
}

// cardConfig resolves the configuration group governing a card's formulas:
// the home deck's group while the card sits in a filtered deck.
func (s *Service) cardConfig(ctx context.Context, card *domain.Card) (domain.DeckConfig, error) {
	cfg, err := s.decks.Config(ctx, card.CurrentDeckID())
	if err != nil {
		return domain.DeckConfig{}, fmt.Errorf("card config: %w", err)
	}
	return cfg, nil
}

// residentDeck returns the deck the card currently lives in.
func (s *Service) residentDeck(ctx context.Context, card *domain.Card) (domain.Deck, error) {
	deck, err := s.decks.Get(ctx, card.DeckID)
	if err != nil {
		return domain.Deck{}, fmt.Errorf("resident deck: %w", err)
	}
	return deck, nil
}

// previewing reports whether the card sits in a filtered deck that does not
// reschedule.
func (s *Service) previewing(ctx context.Context, card *domain.Card) (bool, error) {
	if !card.InFilteredDeck() {
		return false, nil
	}
	deck, err := s.residentDeck(ctx, card)
	if err != nil {
		return false, err
	}
	return deck.Filtered && !deck.Resched, nil
}
