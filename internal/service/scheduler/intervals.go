package scheduler

import (
	"time"

	"github.com/heartmarshall/recall-backend/internal/domain"
)

// fuzzRange returns the inclusive interval band randomization may pick
// from. Short intervals stay tight, long ones get a few percent of slack.
func fuzzRange(ivl int) (lo, hi int) {
	if ivl < 2 {
		return 1, 1
	}
	if ivl == 2 {
		return 2, 3
	}
	var fuzz int
	switch {
	case ivl < 7:
		fuzz = int(float64(ivl) * 0.25)
	case ivl < 30:
		fuzz = max(2, int(float64(ivl)*0.15))
	default:
		fuzz = max(4, int(float64(ivl)*0.05))
	}
	fuzz = max(fuzz, 1)
	return ivl - fuzz, ivl + fuzz
}

// fuzzedIvl applies randomization within the band for the interval.
func (s *Service) fuzzedIvl(ivl int) int {
	lo, hi := fuzzRange(ivl)
	return s.fuzz(lo, hi)
}

// constrainedIvl scales an ideal interval by the deck's interval multiplier,
// optionally fuzzes it, forces strict growth over prev, and clamps to the
// deck maximum.
func (s *Service) constrainedIvl(ivl float64, cfg domain.ReviewConfig, prev int, fuzz bool) int {
	next := int(ivl * cfg.IntervalMultiplier)
	if fuzz {
		next = s.fuzzedIvl(next)
	}
	next = max(next, prev+1, 1)
	return min(next, cfg.MaxIntervalDays)
}

// nextRevIvl computes the on-time (or late) review interval for an answer.
// Each button's interval is forced above the previous button's, so Hard <
// Good < Easy always holds.
func (s *Service) nextRevIvl(card *domain.Card, cfg domain.ReviewConfig, ease domain.Ease, fuzz bool) int {
	delay := s.daysLate(card)
	factor := float64(card.Factor) / 1000

	hardMin := 0
	if cfg.HardFactor > 1 {
		hardMin = card.IntervalDays
	}
	ivl2 := s.constrainedIvl(float64(card.IntervalDays)*cfg.HardFactor, cfg, hardMin, fuzz)
	if ease == domain.EaseHard {
		return ivl2
	}

	ivl3 := s.constrainedIvl(float64(card.IntervalDays+delay/2)*factor, cfg, ivl2, fuzz)
	if ease == domain.EaseGood {
		return ivl3
	}

	return s.constrainedIvl(float64(card.IntervalDays+delay)*factor*cfg.Ease4Bonus, cfg, ivl3, fuzz)
}

// daysLate is how many days overdue the card is; never negative.
func (s *Service) daysLate(card *domain.Card) int {
	if card.Due.Kind != domain.DueDay {
		return 0
	}
	return max(0, s.clock.Today-card.Due.Day)
}

// lapseIvl computes the post-lapse interval: the old interval scaled down,
// floored by the lapse minimum.
func lapseIvl(card *domain.Card, cfg domain.LapseConfig) int {
	ivl := int(float64(card.IntervalDays) * cfg.Mult)
	return max(1, cfg.MinIntervalDays, ivl)
}

// earlyReviewIvl computes the interval for a review answered ahead of
// schedule inside a rescheduling filtered deck. The elapsed share of the
// current interval earns credit scaled by the answer; Easy collects half the
// usual bonus. No fuzz is applied.
func (s *Service) earlyReviewIvl(card *domain.Card, cfg domain.ReviewConfig, ease domain.Ease) int {
	elapsed := card.IntervalDays - s.daysEarly(card)

	factor := float64(card.Factor) / 1000
	easyBonus := 1.0
	minNewIvl := 1.0
	switch ease {
	case domain.EaseHard:
		factor = cfg.HardFactor
		// A hard early answer should not shrink the interval much.
		minNewIvl = factor / 2
	case domain.EaseGood:
	default:
		easyBonus = cfg.Ease4Bonus - (cfg.Ease4Bonus-1)/2
	}

	// The bonus rides on top of the interval floor, not inside it.
	ivl := max(float64(elapsed)*factor, 1)
	ivl = max(float64(card.IntervalDays)*minNewIvl, ivl) * easyBonus
	return s.constrainedIvl(ivl, cfg, 0, false)
}

// daysEarly is how far ahead of the home due date an in-filtered review is
// being answered.
func (s *Service) daysEarly(card *domain.Card) int {
	due := card.Due
	if card.HasHomeDue {
		due = card.HomeDue
	}
	if due.Kind != domain.DueDay {
		return 0
	}
	return max(0, due.Day-s.clock.Today)
}

// startingLeft seeds the step counters for a fresh learn/relearn episode.
func (s *Service) startingLeft(steps []time.Duration) domain.StepsLeft {
	total := len(steps)
	return domain.StepsLeft{
		Remaining: total,
		Today:     s.leftToday(steps, total),
	}
}

// leftToday counts how many of the remaining steps still fit before the day
// cutoff if each is taken as soon as it comes due.
func (s *Service) leftToday(steps []time.Duration, remaining int) int {
	remaining = min(remaining, len(steps))
	offset := len(steps) - remaining
	now := s.now()
	fits := 0
	for i := 0; i < remaining; i++ {
		now = now.Add(steps[offset+i])
		if !now.Before(s.clock.DayCutoff) {
			break
		}
		fits++
	}
	return fits
}
