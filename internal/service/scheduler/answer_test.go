package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/heartmarshall/recall-backend/internal/domain"
)

func TestAnswerCard_LearnFlow(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, WithFuzz(lowFuzz))
	env.addCard(t, env.deck)
	env.reset(t)

	c := env.getCard(t)
	if c == nil || c.Queue != domain.QueueNew {
		t.Fatalf("got %+v, want a new card", c)
	}

	// Failing a new card starts the learning ladder from the top.
	env.answer(t, c, domain.EaseAgain)
	if c.Queue != domain.QueueLearning || c.Type != domain.CardTypeLearning {
		t.Fatalf("state = %s/%s, want LEARN/LEARNING", c.Queue, c.Type)
	}
	if c.Left.Remaining != 2 {
		t.Errorf("left = %d, want 2", c.Left.Remaining)
	}
	if want := env.now.Add(time.Minute); !c.Due.At.Equal(want) {
		t.Errorf("due = %v, want %v", c.Due.At, want)
	}

	// Good moves to the 10-minute step.
	env.answer(t, c, domain.EaseGood)
	if c.Left.Remaining != 1 {
		t.Errorf("left = %d, want 1", c.Left.Remaining)
	}
	if want := env.now.Add(10 * time.Minute); !c.Due.At.Equal(want) {
		t.Errorf("due = %v, want %v", c.Due.At, want)
	}

	// Good on the last step graduates with the 1-day interval.
	env.answer(t, c, domain.EaseGood)
	if c.Queue != domain.QueueReview || c.Type != domain.CardTypeReview {
		t.Fatalf("state = %s/%s, want REVIEW/REVIEW", c.Queue, c.Type)
	}
	if c.IntervalDays != 1 {
		t.Errorf("ivl = %d, want 1", c.IntervalDays)
	}
	if c.Due.Day != env.svc.Today()+1 {
		t.Errorf("due day = %d, want %d", c.Due.Day, env.svc.Today()+1)
	}
	if c.Factor != domain.StartingFactor {
		t.Errorf("factor = %d, want %d", c.Factor, domain.StartingFactor)
	}
	if c.Reps != 3 {
		t.Errorf("reps = %d, want 3", c.Reps)
	}
}

func TestAnswerCard_HardRepeatsStep(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, WithFuzz(lowFuzz))
	env.addCard(t, env.deck)
	env.reset(t)

	c := env.getCard(t)
	env.answer(t, c, domain.EaseAgain)
	env.answer(t, c, domain.EaseHard)

	// Halfway between the 1m and 10m steps.
	if want := env.now.Add(330 * time.Second); !c.Due.At.Equal(want) {
		t.Errorf("due = %v, want %v", c.Due.At, want)
	}
	if c.Left.Remaining != 2 {
		t.Errorf("left = %d, want unchanged 2", c.Left.Remaining)
	}
}

func TestAnswerCard_EasyGraduatesImmediately(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, WithFuzz(midpointFuzz))
	env.addCard(t, env.deck)
	env.reset(t)

	c := env.getCard(t)
	env.answer(t, c, domain.EaseEasy)

	if c.Queue != domain.QueueReview {
		t.Fatalf("queue = %s, want REVIEW", c.Queue)
	}
	if c.IntervalDays != 4 {
		t.Errorf("ivl = %d, want easy interval 4", c.IntervalDays)
	}
}

func TestAnswerCard_Lapse(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, WithFuzz(lowFuzz))
	card := env.addCard(t, env.deck, reviewCard(100, 0))
	env.reset(t)

	c := env.getCard(t)
	if c == nil || c.ID != card.ID {
		t.Fatalf("expected the due review card")
	}
	env.answer(t, c, domain.EaseAgain)

	if c.Type != domain.CardTypeRelearning || c.Queue != domain.QueueLearning {
		t.Fatalf("state = %s/%s, want LEARN/RELEARNING", c.Queue, c.Type)
	}
	if c.Lapses != 1 {
		t.Errorf("lapses = %d, want 1", c.Lapses)
	}
	if c.Factor != 2300 {
		t.Errorf("factor = %d, want 2300", c.Factor)
	}
	// Default lapse multiplier of 0 resets the interval.
	if c.IntervalDays != 1 {
		t.Errorf("ivl = %d, want 1", c.IntervalDays)
	}
	// One 10-minute relearning step.
	if want := env.now.Add(10 * time.Minute); !c.Due.At.Equal(want) {
		t.Errorf("due = %v, want %v", c.Due.At, want)
	}

	// Passing the step sends it back to review with the lapse interval.
	env.answer(t, c, domain.EaseGood)
	if c.Queue != domain.QueueReview || c.IntervalDays != 1 {
		t.Errorf("after relearn: %s ivl %d, want REVIEW ivl 1", c.Queue, c.IntervalDays)
	}
}

func TestAnswerCard_LapseWithoutSteps(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, WithFuzz(lowFuzz))
	env.config(env.deck).Lapse.Steps = nil
	env.config(env.deck).Lapse.Mult = 0.5
	card := env.addCard(t, env.deck, reviewCard(100, 0))
	env.reset(t)

	c := env.getCard(t)
	_ = card
	env.answer(t, c, domain.EaseAgain)

	// No relearning ladder: straight back to the review queue.
	if c.Queue != domain.QueueReview || c.Type != domain.CardTypeReview {
		t.Fatalf("state = %s/%s, want REVIEW/REVIEW", c.Queue, c.Type)
	}
	if c.IntervalDays != 50 {
		t.Errorf("ivl = %d, want 50", c.IntervalDays)
	}
	if c.Due.Day != env.svc.Today()+50 {
		t.Errorf("due day = %d, want %d", c.Due.Day, env.svc.Today()+50)
	}
}

func TestAnswerCard_ReviewFactorDeltas(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		ease       domain.Ease
		wantFactor int
	}{
		{"hard drops 150", domain.EaseHard, 2350},
		{"good unchanged", domain.EaseGood, 2500},
		{"easy gains 150", domain.EaseEasy, 2650},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			env := newTestEnv(t, WithFuzz(midpointFuzz))
			env.addCard(t, env.deck, reviewCard(10, 0))
			env.reset(t)

			c := env.getCard(t)
			env.answer(t, c, tt.ease)
			if c.Factor != tt.wantFactor {
				t.Errorf("factor = %d, want %d", c.Factor, tt.wantFactor)
			}
			if c.Queue != domain.QueueReview {
				t.Errorf("queue = %s, want REVIEW", c.Queue)
			}
		})
	}
}

func TestAnswerCard_FactorFloor(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	env.addCard(t, env.deck, reviewCard(10, 0), func(c *domain.Card) { c.Factor = 1350 })
	env.reset(t)

	c := env.getCard(t)
	env.answer(t, c, domain.EaseAgain)
	if c.Factor != domain.MinFactor {
		t.Errorf("factor = %d, want floor %d", c.Factor, domain.MinFactor)
	}
}

func TestAnswerCard_LeechSuspends(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	env.addCard(t, env.deck, reviewCard(10, 0), func(c *domain.Card) { c.Lapses = 7 })
	env.reset(t)

	var hooked []domain.Card
	env.svc.AddLeechHook(func(card domain.Card) { hooked = append(hooked, card) })

	c := env.getCard(t)
	env.answer(t, c, domain.EaseAgain)

	if c.Queue != domain.QueueSuspended {
		t.Errorf("queue = %s, want SUSPENDED", c.Queue)
	}
	if c.Lapses != 8 {
		t.Errorf("lapses = %d, want 8", c.Lapses)
	}
	if len(hooked) != 1 || hooked[0].ID != c.ID {
		t.Errorf("leech hook calls = %d, want 1 for the card", len(hooked))
	}
}

func TestAnswerCard_LeechTagOnlyKeepsStudying(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	env.config(env.deck).Lapse.LeechAction = domain.LeechActionTagOnly
	env.addCard(t, env.deck, reviewCard(10, 0), func(c *domain.Card) { c.Lapses = 7 })
	env.reset(t)

	fired := 0
	env.svc.AddLeechHook(func(domain.Card) { fired++ })

	c := env.getCard(t)
	env.answer(t, c, domain.EaseAgain)

	if c.Queue != domain.QueueLearning {
		t.Errorf("queue = %s, want LEARN (card keeps studying)", c.Queue)
	}
	if fired != 1 {
		t.Errorf("leech hook calls = %d, want 1", fired)
	}
}

func TestAnswerCard_LeechRefireEveryHalfThreshold(t *testing.T) {
	t.Parallel()

	cfg := domain.DefaultDeckConfig().Lapse // threshold 8

	fires := func(lapses int) bool {
		card := &domain.Card{Lapses: lapses}
		return checkLeech(card, cfg)
	}
	for lapses, want := range map[int]bool{
		7: false, 8: true, 9: false, 11: false, 12: true, 16: true,
	} {
		if got := fires(lapses); got != want {
			t.Errorf("checkLeech at %d lapses = %v, want %v", lapses, got, want)
		}
	}

	cfg.LeechThreshold = 0
	if fires(50) {
		t.Error("threshold 0 must disable leech detection")
	}
}

func TestAnswerCard_Validation(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	card := env.addCard(t, env.deck)
	env.reset(t)

	err := env.svc.AnswerCard(context.Background(), card, 5, time.Second)
	if !errors.Is(err, domain.ErrValidation) {
		t.Errorf("ease 5: err = %v, want validation error", err)
	}

	card.Queue = domain.QueueSuspended
	err = env.svc.AnswerCard(context.Background(), card, domain.EaseGood, time.Second)
	if !errors.Is(err, domain.ErrConflict) {
		t.Errorf("suspended: err = %v, want conflict", err)
	}
}

func TestAnswerCard_WritesRevlog(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	env.addCard(t, env.deck, reviewCard(10, 0))
	env.reset(t)

	c := env.getCard(t)
	prevFactor := c.Factor
	env.answer(t, c, domain.EaseGood)

	if len(env.store.revlog) != 1 {
		t.Fatalf("revlog rows = %d, want 1", len(env.store.revlog))
	}
	row := env.store.revlog[0]
	if row.CardID != c.ID || row.Ease != domain.EaseGood {
		t.Errorf("row = %+v, want card/ease recorded", row)
	}
	if row.Kind != domain.ReviewKindReview {
		t.Errorf("kind = %s, want REVIEW", row.Kind)
	}
	if row.LastInterval != 10 {
		t.Errorf("lastIvl = %d, want 10", row.LastInterval)
	}
	if row.PrevState == nil {
		t.Fatal("snapshot missing")
	}
	if row.PrevState.Factor != prevFactor || row.PrevState.Queue != domain.QueueReview {
		t.Errorf("snapshot = %+v, want pre-answer state", row.PrevState)
	}
}
