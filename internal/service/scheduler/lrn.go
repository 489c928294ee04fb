package scheduler

import (
	"time"

	"github.com/google/uuid"
	"github.com/heartmarshall/recall-backend/internal/domain"
)

// lrnSteps picks the step ladder for the card's current episode: relearning
// cards walk the lapse steps, everything else the new steps.
func lrnSteps(card *domain.Card, cfg domain.DeckConfig) []time.Duration {
	if card.Type == domain.CardTypeReview || card.Type == domain.CardTypeRelearning {
		return cfg.Lapse.Steps
	}
	return cfg.New.Steps
}

// answerLrnCard advances a card through its learning episode.
func (s *Service) answerLrnCard(card *domain.Card, cfg domain.DeckConfig, ease domain.Ease) {
	steps := lrnSteps(card, cfg)

	switch ease {
	case domain.EaseEasy:
		s.graduate(card, cfg, true)
	case domain.EaseGood:
		if card.Left.Remaining-1 <= 0 {
			s.graduate(card, cfg, false)
		} else {
			s.moveToNextStep(card, steps)
		}
	case domain.EaseHard:
		s.repeatStep(card, steps)
	default:
		s.moveToFirstStep(card, cfg, steps)
	}
}

// moveToFirstStep restarts the episode. A relearning card also recomputes
// its post-lapse interval.
func (s *Service) moveToFirstStep(card *domain.Card, cfg domain.DeckConfig, steps []time.Duration) {
	card.Left = s.startingLeft(steps)
	if card.Type == domain.CardTypeRelearning {
		card.IntervalDays = lapseIvl(card, cfg.Lapse)
	}
	s.rescheduleLrnCard(card, delayForGrade(steps, card.Left.Remaining))
}

func (s *Service) moveToNextStep(card *domain.Card, steps []time.Duration) {
	remaining := card.Left.Remaining - 1
	card.Left = domain.StepsLeft{
		Remaining: remaining,
		Today:     s.leftToday(steps, remaining),
	}
	s.rescheduleLrnCard(card, delayForGrade(steps, remaining))
}

// repeatStep shows the current step again after a delay halfway between the
// current and next step.
func (s *Service) repeatStep(card *domain.Card, steps []time.Duration) {
	s.rescheduleLrnCard(card, delayForRepeatingGrade(steps, card.Left.Remaining))
}

// rescheduleLrnCard places the card back in a learning queue after delay.
// A delay that crosses the day cutoff moves the card to the day-learning
// queue; otherwise a small random fudge keeps simultaneously-added cards
// from clumping.
func (s *Service) rescheduleLrnCard(card *domain.Card, delay time.Duration) {
	due := s.now().Add(delay)
	if due.Before(s.clock.DayCutoff) {
		maxExtra := min(300*time.Second, delay/4)
		fudge := time.Duration(s.fuzz(0, int(maxExtra.Seconds()))) * time.Second
		due = due.Add(fudge)
		if !due.Before(s.clock.DayCutoff) {
			due = s.clock.DayCutoff.Add(-time.Second)
		}
		card.Queue = domain.QueueLearning
		card.Due = domain.DueAt(due)
		// The card re-enters today's queue.
		s.lrnCount++
	} else {
		ahead := int(due.Sub(s.clock.DayCutoff)/(24*time.Hour)) + 1
		card.Queue = domain.QueueDayLearning
		card.Due = domain.DueOnDay(s.clock.Today + ahead)
	}
}

// delayForGrade returns the delay of the current step given how many steps
// remain.
func delayForGrade(steps []time.Duration, remaining int) time.Duration {
	if len(steps) == 0 {
		// Failsafe: a card should not be in learning with no steps.
		return time.Minute
	}
	idx := len(steps) - remaining
	if idx < 0 {
		idx = 0
	}
	if idx >= len(steps) {
		idx = len(steps) - 1
	}
	return steps[idx]
}

// delayForRepeatingGrade averages the current step with the next one (or
// twice the current, on the last step).
func delayForRepeatingGrade(steps []time.Duration, remaining int) time.Duration {
	delay1 := delayForGrade(steps, remaining)
	var delay2 time.Duration
	if remaining > 1 {
		delay2 = delayForGrade(steps, remaining-1)
	} else {
		delay2 = delay1 * 2
	}
	return (delay1 + max(delay1, delay2)) / 2
}

// graduate moves a card out of learning into the review state. Early
// graduation (Easy) earns the bigger initial interval.
func (s *Service) graduate(card *domain.Card, cfg domain.DeckConfig, early bool) {
	lapse := card.Type == domain.CardTypeReview || card.Type == domain.CardTypeRelearning
	if lapse {
		// The post-lapse interval was fixed when the card lapsed; an
		// early exit earns one extra day.
		if early {
			card.IntervalDays++
		}
	} else {
		card.IntervalDays = s.graduatingIvl(cfg, early, true)
		card.Factor = cfg.New.InitialFactor
	}
	card.Type = domain.CardTypeReview
	card.Queue = domain.QueueReview
	card.Due = domain.DueOnDay(s.clock.Today + card.IntervalDays)
	card.Left = domain.StepsLeft{}
	if card.InFilteredDeck() {
		s.returnHome(card)
	}
}

// graduatingIvl is the first review interval after learning.
func (s *Service) graduatingIvl(cfg domain.DeckConfig, early, fuzz bool) int {
	ideal := cfg.New.GraduatingIntervalDays
	if early {
		ideal = cfg.New.EasyIntervalDays
	}
	if fuzz {
		ideal = s.fuzzedIvl(ideal)
	}
	return ideal
}

// returnHome ends a filtered-deck stay without touching the scheduling the
// card just earned.
func (s *Service) returnHome(card *domain.Card) {
	card.DeckID = card.HomeDeckID
	card.HomeDeckID = uuid.Nil
	card.HomeDue = domain.DueValue{}
	card.HasHomeDue = false
	card.FilteredPos = 0
}
