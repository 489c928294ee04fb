package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/heartmarshall/recall-backend/internal/domain"
)

// AnswerButtons returns how many grading buttons the card offers: two in a
// preview deck, four everywhere else.
func (s *Service) AnswerButtons(ctx context.Context, card *domain.Card) (int, error) {
	preview, err := s.previewing(ctx, card)
	if err != nil {
		return 0, err
	}
	if preview {
		return 2, nil
	}
	return 4, nil
}

// NextIvl predicts the delay a grade would earn, without answering the
// card. Sub-day delays are exact; day-granular ones are whole days. Fuzz is
// never applied.
func (s *Service) NextIvl(ctx context.Context, card *domain.Card, ease domain.Ease) (time.Duration, error) {
	if !s.haveQueues {
		s.clock = s.clockNow()
	}

	preview, err := s.previewing(ctx, card)
	if err != nil {
		return 0, err
	}
	if preview {
		if ease == domain.EaseAgain {
			deck, err := s.residentDeck(ctx, card)
			if err != nil {
				return 0, err
			}
			return deck.PreviewDelay, nil
		}
		return 0, nil
	}

	cfg, err := s.cardConfig(ctx, card)
	if err != nil {
		return 0, err
	}

	switch card.Queue {
	case domain.QueueNew, domain.QueueLearning, domain.QueueDayLearning:
		return s.nextLrnIvl(card, cfg, ease), nil
	}

	if ease == domain.EaseAgain {
		if len(cfg.Lapse.Steps) > 0 {
			return cfg.Lapse.Steps[0], nil
		}
		return days(lapseIvl(card, cfg.Lapse)), nil
	}
	if s.answeringEarly(card) {
		return days(s.earlyReviewIvl(card, cfg.Review, ease)), nil
	}
	return days(s.nextRevIvl(card, cfg.Review, ease, false)), nil
}

func (s *Service) nextLrnIvl(card *domain.Card, cfg domain.DeckConfig, ease domain.Ease) time.Duration {
	remaining := card.Left.Remaining
	steps := lrnSteps(card, cfg)
	if card.Queue == domain.QueueNew {
		steps = cfg.New.Steps
		remaining = len(steps)
	}
	switch ease {
	case domain.EaseAgain:
		return delayForGrade(steps, len(steps))
	case domain.EaseHard:
		return delayForRepeatingGrade(steps, remaining)
	case domain.EaseEasy:
		return days(s.graduatingIvl(cfg, true, false))
	default:
		if remaining-1 <= 0 {
			return days(s.graduatingIvl(cfg, false, false))
		}
		return delayForGrade(steps, remaining-1)
	}
}

// NextIvlString is NextIvl rendered for an answer button.
func (s *Service) NextIvlString(ctx context.Context, card *domain.Card, ease domain.Ease) (string, error) {
	ivl, err := s.NextIvl(ctx, card, ease)
	if err != nil {
		return "", err
	}
	if ivl == 0 {
		return "(end)", nil
	}
	out := formatTimeSpan(ivl)
	if ivl < s.cfg.CollapseWindow {
		// Shown sooner than the stated delay once the queue collapses.
		out = "<" + out
	}
	return out, nil
}

func days(n int) time.Duration { return time.Duration(n) * 24 * time.Hour }

// formatTimeSpan renders a delay in the largest sensible unit.
func formatTimeSpan(d time.Duration) string {
	sec := d.Seconds()
	switch {
	case sec < 60:
		return fmt.Sprintf("%ds", int(sec))
	case sec < 3600:
		return trimUnit(sec/60, "m")
	case sec < 86400:
		return trimUnit(sec/3600, "h")
	case sec < 86400*30:
		return trimUnit(sec/86400, "d")
	case sec < 86400*365:
		return trimUnit(sec/(86400*30), "mo")
	default:
		return trimUnit(sec/(86400*365), "y")
	}
}

func trimUnit(v float64, unit string) string {
	if v == float64(int(v)) {
		return fmt.Sprintf("%d%s", int(v), unit)
	}
	return fmt.Sprintf("%.1f%s", v, unit)
}
