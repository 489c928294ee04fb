package scheduler

import (
	"context"
	"fmt"

	"github.com/heartmarshall/recall-backend/internal/domain"
)

// Reset rebuilds the working queues and counts for the selected deck
// subtree. Any mutation that changes card eligibility outside AnswerCard
// invalidates the queues; callers run Reset (or rely on the day check) before
// trusting Counts or GetCard again.
func (s *Service) Reset(ctx context.Context) error {
	s.clock = s.clockNow()
	if err := s.loadActive(ctx); err != nil {
		return err
	}

	// Burials lift on the first rebuild of each new day.
	if s.lastUnburied >= 0 && s.lastUnburied < s.clock.Today {
		if err := s.unburyOnRollover(ctx); err != nil {
			return err
		}
	}
	s.lastUnburied = s.clock.Today

	s.lrnQueue = nil
	s.lrnDayQueue = nil
	s.revQueue = nil
	s.newQueue = nil
	s.newDeckIdx = 0
	s.repsToday = 0

	if err := s.resetLrnCount(ctx); err != nil {
		return err
	}
	if err := s.resetRevCount(ctx); err != nil {
		return err
	}
	if err := s.resetNewCount(ctx); err != nil {
		return err
	}

	s.newCardModulus = 0
	if s.newCount > 0 {
		s.newCardModulus = (s.newCount + s.revCount) / s.newCount
		if s.revCount > 0 {
			s.newCardModulus = max(2, s.newCardModulus)
		}
	}

	s.haveQueues = true
	s.log.Debug("queues reset",
		"deck", s.activeDeck,
		"today", s.clock.Today,
		"new", s.newCount, "learning", s.lrnCount, "review", s.revCount)
	return nil
}

func (s *Service) resetLrnCount(ctx context.Context) error {
	n, err := s.cards.CountDueLearning(ctx, s.activeIDs(), s.clock.DayCutoff, s.clock.Today)
	if err != nil {
		return fmt.Errorf("count learning: %w", err)
	}
	s.lrnCount = n
	return nil
}

func (s *Service) resetRevCount(ctx context.Context) error {
	limit, err := s.effectiveRevLimit(ctx, s.active[0])
	if err != nil {
		return err
	}
	n, err := s.cards.CountDueReviews(ctx, s.activeIDs(), s.clock.Today)
	if err != nil {
		return fmt.Errorf("count reviews: %w", err)
	}
	s.revCount = min(n, limit)
	return nil
}

// resetNewCount sums each deck's share of today's new-card quota; the walk
// charges every card against the deck's ancestors, so a parent's limit caps
// the subtree total.
func (s *Service) resetNewCount(ctx context.Context) error {
	quotas, err := s.newQuotaWalk(ctx)
	if err != nil {
		return err
	}
	total := 0
	for _, q := range quotas {
		total += q
	}
	s.newCount = total
	return nil
}

// Counts returns the remaining (new, learning, review) counts for the
// session, refreshing the queues if the day rolled over.
func (s *Service) Counts(ctx context.Context) (domain.DeckCounts, error) {
	if err := s.checkDay(ctx); err != nil {
		return domain.DeckCounts{}, err
	}
	return domain.DeckCounts{New: s.newCount, Learning: s.lrnCount, Review: s.revCount}, nil
}

// CountIdx maps a fetched card to the Counts column it was drawn from:
// 0 new, 1 learning, 2 review.
func (s *Service) CountIdx(card *domain.Card) int {
	switch card.Queue {
	case domain.QueueLearning, domain.QueueDayLearning, domain.QueuePreview:
		return 1
	case domain.QueueNew:
		return 0
	default:
		return 2
	}
}

// GetCard returns the next card to study, or nil when the session is done.
// Fetching decrements the matching count; AnswerCard re-adds cards that
// re-enter today's queues.
func (s *Service) GetCard(ctx context.Context) (*domain.Card, error) {
	if err := s.checkDay(ctx); err != nil {
		return nil, err
	}
	card, err := s.nextCard(ctx)
	if err != nil {
		return nil, err
	}
	if card != nil {
		s.repsToday++
	}
	return card, nil
}

func (s *Service) nextCard(ctx context.Context) (*domain.Card, error) {
	// Learning cards due right now come first.
	if c, err := s.getLrnCard(ctx, false); err != nil || c != nil {
		return c, err
	}
	// New cards may interleave with reviews.
	if s.timeForNewCard() {
		if c, err := s.getNewCard(ctx); err != nil || c != nil {
			return c, err
		}
	}
	if c, err := s.getLrnDayCard(ctx); err != nil || c != nil {
		return c, err
	}
	if c, err := s.getRevCard(ctx); err != nil || c != nil {
		return c, err
	}
	if c, err := s.getNewCard(ctx); err != nil || c != nil {
		return c, err
	}
	// Nothing else left: allow learning cards slightly ahead of time.
	return s.getLrnCard(ctx, true)
}

func (s *Service) timeForNewCard() bool {
	if s.newCount == 0 {
		return false
	}
	switch s.cfg.NewSpread {
	case NewSpreadLast:
		return false
	case NewSpreadFirst:
		return true
	default:
		return s.newCardModulus > 0 && s.repsToday > 0 && s.repsToday%s.newCardModulus == 0
	}
}

// ---------------------------------------------------------------------------
// intraday learning
// ---------------------------------------------------------------------------

func (s *Service) fillLrn(ctx context.Context) error {
	if s.lrnCount == 0 || len(s.lrnQueue) > 0 {
		return nil
	}
	cards, err := s.cards.DueLearning(ctx, s.activeIDs(), s.clock.DayCutoff, s.cfg.QueueBatch)
	if err != nil {
		return fmt.Errorf("fill learning: %w", err)
	}
	s.lrnQueue = cards
	return nil
}

func (s *Service) getLrnCard(ctx context.Context, collapse bool) (*domain.Card, error) {
	if err := s.fillLrn(ctx); err != nil {
		return nil, err
	}
	if len(s.lrnQueue) == 0 {
		return nil, nil
	}
	cutoff := s.now()
	if collapse {
		cutoff = cutoff.Add(s.cfg.CollapseWindow)
	}
	head := s.lrnQueue[0]
	if head.Due.Kind == domain.DueStamp && head.Due.At.After(cutoff) {
		return nil, nil
	}
	s.lrnQueue = s.lrnQueue[1:]
	s.lrnCount--
	return &head, nil
}

func (s *Service) fillLrnDay(ctx context.Context) error {
	if s.lrnCount == 0 || len(s.lrnDayQueue) > 0 {
		return nil
	}
	cards, err := s.cards.DueDayLearning(ctx, s.activeIDs(), s.clock.Today, s.cfg.QueueBatch)
	if err != nil {
		return fmt.Errorf("fill day learning: %w", err)
	}
	s.lrnDayQueue = cards
	return nil
}

func (s *Service) getLrnDayCard(ctx context.Context) (*domain.Card, error) {
	if err := s.fillLrnDay(ctx); err != nil {
		return nil, err
	}
	if len(s.lrnDayQueue) == 0 {
		return nil, nil
	}
	head := s.lrnDayQueue[0]
	s.lrnDayQueue = s.lrnDayQueue[1:]
	s.lrnCount--
	return &head, nil
}

// ---------------------------------------------------------------------------
// reviews
// ---------------------------------------------------------------------------

func (s *Service) fillRev(ctx context.Context) error {
	if s.revCount == 0 || len(s.revQueue) > 0 {
		return nil
	}
	limit := min(s.cfg.QueueBatch, s.revCount)
	cards, err := s.cards.DueReviews(ctx, s.activeIDs(), s.clock.Today, limit)
	if err != nil {
		return fmt.Errorf("fill reviews: %w", err)
	}
	s.revQueue = cards
	return nil
}

func (s *Service) getRevCard(ctx context.Context) (*domain.Card, error) {
	if err := s.fillRev(ctx); err != nil {
		return nil, err
	}
	if len(s.revQueue) == 0 {
		return nil, nil
	}
	head := s.revQueue[0]
	s.revQueue = s.revQueue[1:]
	s.revCount--
	return &head, nil
}

// ---------------------------------------------------------------------------
// new cards
// ---------------------------------------------------------------------------

// fillNew walks the active decks in order, taking each deck's new cards up
// to its effective limit before moving to the next. Parents therefore drain
// before children.
func (s *Service) fillNew(ctx context.Context) error {
	if s.newCount == 0 || len(s.newQueue) > 0 {
		return nil
	}
	quotas, err := s.newQuotaWalk(ctx)
	if err != nil {
		return err
	}
	for s.newDeckIdx < len(s.active) {
		deck := s.active[s.newDeckIdx]
		if limit := min(quotas[s.newDeckIdx], s.cfg.QueueBatch); limit > 0 {
			cards, err := s.cards.NewByDeck(ctx, deck.ID, limit)
			if err != nil {
				return fmt.Errorf("fill new: %w", err)
			}
			if len(cards) > 0 {
				s.newQueue = cards
				return nil
			}
		}
		s.newDeckIdx++
	}
	return nil
}

func (s *Service) getNewCard(ctx context.Context) (*domain.Card, error) {
	if err := s.fillNew(ctx); err != nil {
		return nil, err
	}
	if len(s.newQueue) == 0 {
		return nil, nil
	}
	head := s.newQueue[0]
	s.newQueue = s.newQueue[1:]
	s.newCount--
	return &head, nil
}
