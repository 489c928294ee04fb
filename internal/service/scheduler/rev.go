package scheduler

import (
	"github.com/heartmarshall/recall-backend/internal/domain"
)

// answerRevCard handles an answer on a card in the review state. early is
// true when the card is being reviewed ahead of its home due date inside a
// rescheduling filtered deck. It reports whether the answer tripped the
// leech threshold.
func (s *Service) answerRevCard(card *domain.Card, cfg domain.DeckConfig, ease domain.Ease, early bool) bool {
	if ease == domain.EaseAgain {
		return s.rescheduleLapse(card, cfg)
	}
	s.rescheduleRev(card, cfg, ease, early)
	return false
}

// rescheduleLapse sends a failed review through the relearning steps, or
// straight back to the review queue when the deck has none.
func (s *Service) rescheduleLapse(card *domain.Card, cfg domain.DeckConfig) bool {
	card.Lapses++
	card.Factor = max(domain.MinFactor, card.Factor-200)

	leech := checkLeech(card, cfg.Lapse)
	suspended := leech && card.Queue == domain.QueueSuspended

	if len(cfg.Lapse.Steps) > 0 && !suspended {
		card.Type = domain.CardTypeRelearning
		s.moveToFirstStep(card, cfg, cfg.Lapse.Steps)
	} else {
		card.IntervalDays = lapseIvl(card, cfg.Lapse)
		card.Type = domain.CardTypeReview
		card.Queue = domain.QueueReview
		card.Due = domain.DueOnDay(s.clock.Today + card.IntervalDays)
		card.Left = domain.StepsLeft{}
		if card.InFilteredDeck() {
			s.returnHome(card)
		}
		if suspended {
			card.Queue = domain.QueueSuspended
		}
	}
	return leech
}

// rescheduleRev grants the next interval and adjusts the ease factor:
// Hard -150, Good unchanged, Easy +150 permille.
func (s *Service) rescheduleRev(card *domain.Card, cfg domain.DeckConfig, ease domain.Ease, early bool) {
	if early {
		card.IntervalDays = s.earlyReviewIvl(card, cfg.Review, ease)
	} else {
		card.IntervalDays = s.nextRevIvl(card, cfg.Review, ease, true)
	}
	switch ease {
	case domain.EaseHard:
		card.Factor = max(domain.MinFactor, card.Factor-150)
	case domain.EaseEasy:
		card.Factor += 150
	}
	card.Due = domain.DueOnDay(s.clock.Today + card.IntervalDays)
	if card.InFilteredDeck() {
		s.returnHome(card)
	}
}

// checkLeech applies the leech action when the card's lapses hit the
// threshold, then again every half-threshold after that.
func checkLeech(card *domain.Card, cfg domain.LapseConfig) bool {
	lt := cfg.LeechThreshold
	if lt == 0 {
		return false
	}
	if card.Lapses < lt || (card.Lapses-lt)%max(lt/2, 1) != 0 {
		return false
	}
	if cfg.LeechAction == domain.LeechActionSuspend {
		card.Queue = domain.QueueSuspended
	}
	return true
}
