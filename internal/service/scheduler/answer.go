package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/heartmarshall/recall-backend/internal/domain"
)

// AnswerCard applies a grade to a card previously returned by GetCard. The
// state transition, the revlog row, and the quota bookkeeping commit in one
// transaction; leech hooks fire after it commits.
func (s *Service) AnswerCard(ctx context.Context, card *domain.Card, ease domain.Ease, took time.Duration) error {
	if err := s.checkDay(ctx); err != nil {
		return err
	}
	if !ease.IsValid() {
		return domain.NewValidationError("ease", "must be between 1 and 4")
	}
	if !answerable(card.Queue) {
		return fmt.Errorf("card %s in queue %s cannot be answered: %w", card.ID, card.Queue, domain.ErrConflict)
	}

	preview, err := s.previewing(ctx, card)
	if err != nil {
		return err
	}
	if preview {
		return s.answerCardPreview(ctx, card, ease, took)
	}

	cfg, err := s.cardConfig(ctx, card)
	if err != nil {
		return err
	}

	var leech bool
	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		snapshot := card.Snapshot()
		residentDeck := card.DeckID

		if err := s.burySiblings(ctx, card, cfg); err != nil {
			return err
		}

		card.Reps++
		wasNew := card.Queue == domain.QueueNew
		if wasNew {
			card.Queue = domain.QueueLearning
			card.Type = domain.CardTypeLearning
			card.Left = s.startingLeft(cfg.New.Steps)
		}

		var kind domain.ReviewKind
		switch card.Queue {
		case domain.QueueLearning, domain.QueueDayLearning, domain.QueuePreview:
			kind = domain.ReviewKindLearn
			if card.Type == domain.CardTypeReview || card.Type == domain.CardTypeRelearning {
				kind = domain.ReviewKindRelearn
			}
			s.answerLrnCard(card, cfg, ease)
		case domain.QueueReview:
			early := s.answeringEarly(card)
			kind = domain.ReviewKindReview
			if early {
				kind = domain.ReviewKindFiltered
			}
			leech = s.answerRevCard(card, cfg, ease, early)
		}

		deltaNew, deltaRev := 0, 0
		if wasNew {
			deltaNew = 1
		} else if kind == domain.ReviewKindReview || kind == domain.ReviewKindFiltered {
			deltaRev = 1
		}
		if deltaNew > 0 || deltaRev > 0 {
			if err := s.bumpUsage(ctx, residentDeck, deltaNew, deltaRev); err != nil {
				return err
			}
		}

		if err := s.logAnswer(ctx, card, snapshot, ease, kind, took); err != nil {
			return err
		}
		if err := s.cards.Save(ctx, card); err != nil {
			return fmt.Errorf("save card: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	if leech {
		s.log.Info("card became a leech", "card", card.ID, "lapses", card.Lapses)
		for _, hook := range s.leechHooks {
			hook(*card)
		}
	}
	return nil
}

// answerable reports whether a queue can receive answers.
func answerable(q domain.Queue) bool {
	switch q {
	case domain.QueueNew, domain.QueueLearning, domain.QueueDayLearning,
		domain.QueueReview, domain.QueuePreview:
		return true
	default:
		return false
	}
}

// answeringEarly reports whether a filtered-deck review is happening before
// its home due date.
func (s *Service) answeringEarly(card *domain.Card) bool {
	return card.InFilteredDeck() &&
		card.HasHomeDue &&
		card.HomeDue.Kind == domain.DueDay &&
		card.HomeDue.Day > s.clock.Today
}

// answerCardPreview grades a card in a non-rescheduling filtered deck. Only
// Again and Good are meaningful; nothing about the card's home scheduling
// changes, and reps are not counted.
func (s *Service) answerCardPreview(ctx context.Context, card *domain.Card, ease domain.Ease, took time.Duration) error {
	deck, err := s.residentDeck(ctx, card)
	if err != nil {
		return err
	}
	return s.tx.RunInTx(ctx, func(ctx context.Context) error {
		snapshot := card.Snapshot()

		if ease == domain.EaseAgain {
			card.Queue = domain.QueuePreview
			card.Due = domain.DueAt(s.now().Add(deck.PreviewDelay))
			if card.Due.At.Before(s.clock.DayCutoff) {
				s.lrnCount++
			}
		} else {
			s.restorePreviewCard(card)
		}

		if err := s.logAnswer(ctx, card, snapshot, ease, domain.ReviewKindFiltered, took); err != nil {
			return err
		}
		if err := s.cards.Save(ctx, card); err != nil {
			return fmt.Errorf("save card: %w", err)
		}
		return nil
	})
}

// restorePreviewCard puts a previewed card back into its home queue. The
// card stays resident in the filtered deck until it is emptied.
func (s *Service) restorePreviewCard(card *domain.Card) {
	card.Due = card.HomeDue
	switch card.Type {
	case domain.CardTypeLearning, domain.CardTypeRelearning:
		if card.Due.Kind == domain.DueStamp {
			card.Queue = domain.QueueLearning
		} else {
			card.Queue = domain.QueueDayLearning
		}
	case domain.CardTypeReview:
		card.Queue = domain.QueueReview
	default:
		card.Queue = domain.QueueNew
	}
}

// burySiblings hides the answered card's siblings that are waiting in
// today's new or review queues, per the deck's bury settings, and drops them
// from the working queues.
func (s *Service) burySiblings(ctx context.Context, card *domain.Card, cfg domain.DeckConfig) error {
	if !cfg.New.Bury && !cfg.Review.Bury {
		return nil
	}
	siblings, err := s.cards.Siblings(ctx, card.NoteID, card.ID)
	if err != nil {
		return fmt.Errorf("load siblings: %w", err)
	}

	var toBury []*domain.Card
	buried := make(map[uuid.UUID]bool)
	for i := range siblings {
		sib := &siblings[i]
		switch {
		case sib.Queue == domain.QueueNew && cfg.New.Bury:
		case sib.Queue == domain.QueueReview && cfg.Review.Bury &&
			sib.Due.Kind == domain.DueDay && sib.Due.Day <= s.clock.Today:
		default:
			continue
		}
		sib.Queue = domain.QueueSchedBuried
		toBury = append(toBury, sib)
		buried[sib.ID] = true
	}
	if len(toBury) == 0 {
		return nil
	}
	if err := s.cards.SaveAll(ctx, toBury); err != nil {
		return fmt.Errorf("bury siblings: %w", err)
	}
	s.dropFromQueues(buried)
	return nil
}

// dropFromQueues removes cards from the in-memory queues, adjusting counts.
func (s *Service) dropFromQueues(ids map[uuid.UUID]bool) {
	drop := func(q []domain.Card, count *int) []domain.Card {
		out := q[:0]
		for _, c := range q {
			if ids[c.ID] {
				if count != nil {
					*count--
				}
				continue
			}
			out = append(out, c)
		}
		return out
	}
	s.newQueue = drop(s.newQueue, &s.newCount)
	s.revQueue = drop(s.revQueue, &s.revCount)
	s.lrnQueue = drop(s.lrnQueue, &s.lrnCount)
	s.lrnDayQueue = drop(s.lrnDayQueue, &s.lrnCount)
}

// logAnswer appends the revlog row carrying the pre-answer snapshot.
func (s *Service) logAnswer(ctx context.Context, card *domain.Card, snapshot domain.CardSnapshot, ease domain.Ease, kind domain.ReviewKind, took time.Duration) error {
	entry := &domain.ReviewLog{
		ID:           uuid.New(),
		CardID:       card.ID,
		Ease:         ease,
		Interval:     s.loggedIvl(card),
		LastInterval: snapshot.IntervalDays,
		Factor:       card.Factor,
		TimeTakenMs:  int(took.Milliseconds()),
		Kind:         kind,
		PrevState:    &snapshot,
		ReviewedAt:   s.now(),
	}
	if err := s.revlogs.Append(ctx, entry); err != nil {
		return fmt.Errorf("append revlog: %w", err)
	}
	return nil
}

// loggedIvl encodes the granted interval: positive days, or negative seconds
// for intraday learning.
func (s *Service) loggedIvl(card *domain.Card) int {
	if card.Queue == domain.QueueLearning || card.Queue == domain.QueuePreview {
		if card.Due.Kind == domain.DueStamp {
			return -int(card.Due.At.Sub(s.now()).Seconds())
		}
	}
	return card.IntervalDays
}
