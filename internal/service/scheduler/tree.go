package scheduler

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/heartmarshall/recall-backend/internal/domain"
)

// DeckDueTree computes per-deck due counts for the whole collection. It is a
// pure read: the working queues and the quota bookkeeping are untouched, and
// the returned map is a fresh snapshot the caller owns.
//
// For every deck, Due aggregates the subtree capped by the deck's own and
// every ancestor's remaining quota; SingleDue is the deck's own cards capped
// only by its own quota. A child's limit never shrinks its parent's numbers.
func (s *Service) DeckDueTree(ctx context.Context) (map[uuid.UUID]domain.DeckDue, error) {
	clock := s.clockNow()

	decks, err := s.decks.All(ctx)
	if err != nil {
		return nil, fmt.Errorf("load decks: %w", err)
	}
	sortDecksByPath(decks)

	raw := make(map[uuid.UUID]domain.DeckCounts, len(decks))
	limits := make(map[uuid.UUID]deckLimits, len(decks))
	for _, deck := range decks {
		lim, err := s.treeLimits(ctx, deck, clock.Today)
		if err != nil {
			return nil, err
		}
		limits[deck.ID] = lim

		newCount, err := s.cards.CountNewByDeck(ctx, deck.ID, dynReportLimit)
		if err != nil {
			return nil, fmt.Errorf("count new: %w", err)
		}
		revCount, err := s.cards.CountDueReviewsByDeck(ctx, deck.ID, clock.Today, dynReportLimit)
		if err != nil {
			return nil, fmt.Errorf("count reviews: %w", err)
		}
		lrnCount, err := s.cards.CountLearningByDeck(ctx, deck.ID, clock.DayCutoff, clock.Today)
		if err != nil {
			return nil, fmt.Errorf("count learning: %w", err)
		}
		raw[deck.ID] = domain.DeckCounts{New: newCount, Learning: lrnCount, Review: revCount}
	}

	children := childIndex(decks)
	out := make(map[uuid.UUID]domain.DeckDue, len(decks))
	for _, deck := range decks {
		if parentName(deck.Name) == "" {
			s.fillTreeNode(deck, children, raw, limits, dynReportLimit, dynReportLimit, out)
		}
	}
	return out, nil
}

// treeLimits computes a deck's remaining quota for one day without touching
// the service clock.
func (s *Service) treeLimits(ctx context.Context, deck domain.Deck, today int) (deckLimits, error) {
	if deck.Filtered {
		return deckLimits{newLimit: dynReportLimit, revLimit: dynReportLimit}, nil
	}
	cfg, err := s.decks.Config(ctx, deck.ID)
	if err != nil {
		return deckLimits{}, fmt.Errorf("deck config: %w", err)
	}
	usage, err := s.decks.UsageToday(ctx, deck.ID, today)
	if err != nil {
		return deckLimits{}, fmt.Errorf("deck usage: %w", err)
	}
	if usage.Day != today {
		usage = domain.DeckUsage{Day: today}
	}
	return deckLimits{
		newLimit: max(0, cfg.New.PerDay-usage.New),
		revLimit: max(0, cfg.Review.PerDay-usage.Review),
	}, nil
}

// fillTreeNode walks one subtree, carrying the tightest ancestor limits, and
// records each deck's capped and uncapped counts. It returns the subtree's
// raw eligible totals.
func (s *Service) fillTreeNode(
	deck domain.Deck,
	children map[string][]domain.Deck,
	raw map[uuid.UUID]domain.DeckCounts,
	limits map[uuid.UUID]deckLimits,
	limNew, limRev int,
	out map[uuid.UUID]domain.DeckDue,
) domain.DeckCounts {
	own := raw[deck.ID]
	lim := limits[deck.ID]
	limNew = min(limNew, lim.newLimit)
	limRev = min(limRev, lim.revLimit)

	subtree := own
	for _, child := range children[deck.Name] {
		c := s.fillTreeNode(child, children, raw, limits, limNew, limRev, out)
		subtree.New += c.New
		subtree.Learning += c.Learning
		subtree.Review += c.Review
	}

	out[deck.ID] = domain.DeckDue{
		Due: domain.DeckCounts{
			New:      min(subtree.New, limNew),
			Learning: subtree.Learning,
			Review:   min(subtree.Review, limRev),
		},
		SingleDue: domain.DeckCounts{
			New:      min(own.New, lim.newLimit),
			Learning: own.Learning,
			Review:   min(own.Review, lim.revLimit),
		},
	}
	return subtree
}

// childIndex groups decks under their immediate parent's name.
func childIndex(decks []domain.Deck) map[string][]domain.Deck {
	idx := make(map[string][]domain.Deck)
	for _, d := range decks {
		idx[parentName(d.Name)] = append(idx[parentName(d.Name)], d)
	}
	return idx
}

func parentName(name string) string {
	if i := strings.LastIndex(name, domain.DeckPathSeparator); i >= 0 {
		return name[:i]
	}
	return ""
}
