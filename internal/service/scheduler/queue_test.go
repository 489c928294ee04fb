package scheduler

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/heartmarshall/recall-backend/internal/domain"
)

func TestCounts_NewLimitsRespectAncestors(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	env.config(env.deck).New.PerDay = 10
	child := env.addDeck(t, "Default::Child")
	env.config(child).New.PerDay = 4

	for i := 0; i < 5; i++ {
		env.addCard(t, env.deck)
	}
	for i := 0; i < 20; i++ {
		env.addCard(t, child)
	}
	env.reset(t)

	// Parent contributes 5, the child min(20, 4) under the parent's
	// remaining 10.
	if got := env.counts(t); got.New != 9 {
		t.Errorf("new count = %d, want 9", got.New)
	}
}

func TestCounts_ParentNewQuotaCapsSubtree(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	env.config(env.deck).New.PerDay = 10
	child := env.addDeck(t, "Default::Child")
	env.config(child).New.PerDay = 20

	for i := 0; i < 5; i++ {
		env.addCard(t, env.deck)
	}
	for i := 0; i < 20; i++ {
		env.addCard(t, child)
	}
	env.reset(t)

	// The parent's cards charge its own quota first, leaving 5 for the
	// child no matter how generous the child's limit is.
	if got := env.counts(t); got.New != 10 {
		t.Errorf("new count = %d, want 10", got.New)
	}
}

func TestCounts_DefaultNewLimitsShareQuota(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	child := env.addDeck(t, "Default::Child")

	for i := 0; i < 5; i++ {
		env.addCard(t, env.deck)
	}
	for i := 0; i < 20; i++ {
		env.addCard(t, child)
	}
	env.reset(t)

	// Both decks carry the stock limit of 20; the parent's 5 leave 15
	// for the child, not a fresh 20.
	if got := env.counts(t); got.New != 20 {
		t.Errorf("new count = %d, want 20", got.New)
	}
}

func TestCounts_ReviewLimitsRespectAncestors(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	env.config(env.deck).Review.PerDay = 5
	child := env.addDeck(t, "Default::Child")
	env.config(child).Review.PerDay = 10

	for i := 0; i < 20; i++ {
		env.addCard(t, child, reviewCard(10, 0))
	}

	// Studying the child is still capped by the parent's quota.
	if err := env.svc.SelectDeck(context.Background(), child); err != nil {
		t.Fatalf("SelectDeck: %v", err)
	}
	env.reset(t)
	if got := env.counts(t); got.Review != 5 {
		t.Errorf("review count = %d, want 5", got.Review)
	}

	c := env.getCard(t)
	env.answer(t, c, domain.EaseGood)
	if got := env.counts(t); got.Review != 4 {
		t.Errorf("after one answer = %d, want 4", got.Review)
	}

	// The answer charged both the child's and the parent's quota.
	env.reset(t)
	if got := env.counts(t); got.Review != 4 {
		t.Errorf("after rebuild = %d, want 4", got.Review)
	}
}

func TestGetCard_NewCardsInDeckOrder(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	d1 := env.addDeck(t, "Default::1")
	d2 := env.addDeck(t, "Default::2")

	c2 := env.addCard(t, d2)
	c1 := env.addCard(t, d1)
	c0 := env.addCard(t, env.deck)
	env.reset(t)

	// Parents drain before children, children in name order, regardless
	// of insertion order.
	for i, want := range []uuid.UUID{c0.ID, c1.ID, c2.ID} {
		c := env.getCard(t)
		if c == nil {
			t.Fatalf("card %d: queue ran dry", i)
		}
		if c.ID != want {
			t.Errorf("card %d = %s, want %s", i, c.ID, want)
		}
		env.answer(t, c, domain.EaseEasy)
	}
	if c := env.getCard(t); c != nil {
		t.Errorf("extra card %v after all decks drained", c.ID)
	}
}

func TestCounts_FetchDecrementsOnce(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	env.addCard(t, env.deck)
	env.reset(t)

	if got := env.counts(t); (got != domain.DeckCounts{New: 1}) {
		t.Fatalf("counts = %+v, want 1 new", got)
	}
	c := env.getCard(t)
	if got := env.counts(t); got.Total() != 0 {
		t.Errorf("counts after fetch = %+v, want all zero", got)
	}

	// Failing the card puts it back into today's learning count.
	env.answer(t, c, domain.EaseAgain)
	if got := env.counts(t); (got != domain.DeckCounts{Learning: 1}) {
		t.Errorf("counts after fail = %+v, want 1 learning", got)
	}
}

func TestCountIdx(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	s := env.svc

	tests := []struct {
		queue domain.Queue
		want  int
	}{
		{domain.QueueNew, 0},
		{domain.QueueLearning, 1},
		{domain.QueueDayLearning, 1},
		{domain.QueuePreview, 1},
		{domain.QueueReview, 2},
	}
	for _, tt := range tests {
		if got := s.CountIdx(&domain.Card{Queue: tt.queue}); got != tt.want {
			t.Errorf("CountIdx(%s) = %d, want %d", tt.queue, got, tt.want)
		}
	}
}

func TestAnswerCard_BuriesSiblings(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	env.config(env.deck).New.Bury = true
	env.config(env.deck).Review.Bury = true

	first := env.addCard(t, env.deck, reviewCard(10, 0))
	sibNew := env.addCard(t, env.deck, func(c *domain.Card) { c.NoteID = first.NoteID })
	sibRev := env.addCard(t, env.deck, reviewCard(10, 0), func(c *domain.Card) { c.NoteID = first.NoteID })
	env.reset(t)

	// A due review outranks the new queue on the first fetch.
	c := env.getCard(t)
	if c.ID != first.ID {
		t.Fatalf("fetched %v, want the due review %v", c.ID, first.ID)
	}
	env.answer(t, c, domain.EaseGood)

	if got := env.card(t, sibNew.ID).Queue; got != domain.QueueSchedBuried {
		t.Errorf("new sibling queue = %s, want SCHED_BURIED", got)
	}
	if got := env.card(t, sibRev.ID).Queue; got != domain.QueueSchedBuried {
		t.Errorf("review sibling queue = %s, want SCHED_BURIED", got)
	}
	// Both siblings left the session counts.
	if got := env.counts(t); got.New != 0 || got.Review != 0 {
		t.Errorf("counts = %+v, want no new or review left", got)
	}
}

func TestReset_UnburiesOnNewDay(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	manual := env.addCard(t, env.deck)
	sched := env.addCard(t, env.deck)
	env.reset(t)

	ctx := context.Background()
	if err := env.svc.BuryCards(ctx, []uuid.UUID{manual.ID}, true); err != nil {
		t.Fatalf("BuryCards: %v", err)
	}
	if err := env.svc.BuryCards(ctx, []uuid.UUID{sched.ID}, false); err != nil {
		t.Fatalf("BuryCards: %v", err)
	}

	// Same day: both stay hidden.
	env.reset(t)
	if got := env.counts(t); got.Total() != 0 {
		t.Fatalf("counts same day = %+v, want empty", got)
	}

	// Burials lift at the next rollover.
	env.advanceDays(1)
	if got := env.counts(t); got.New != 2 {
		t.Errorf("counts next day = %+v, want 2 new", got)
	}
	if q := env.card(t, manual.ID).Queue; q != domain.QueueNew {
		t.Errorf("manual card queue = %s, want NEW", q)
	}
	if q := env.card(t, sched.ID).Queue; q != domain.QueueNew {
		t.Errorf("sched card queue = %s, want NEW", q)
	}
}
