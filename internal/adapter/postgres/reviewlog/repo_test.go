package reviewlog_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/heartmarshall/recall-backend/internal/adapter/postgres/reviewlog"
	"github.com/heartmarshall/recall-backend/internal/adapter/postgres/testhelper"
	"github.com/heartmarshall/recall-backend/internal/domain"
)

// newRepo sets up a test DB and returns a ready Repo + pool.
func newRepo(t *testing.T) (*reviewlog.Repo, *pgxpool.Pool) {
	t.Helper()
	pool := testhelper.SetupTestDB(t)
	return reviewlog.New(pool), pool
}

func seedCard(t *testing.T, pool *pgxpool.Pool, prefix string) domain.Card {
	t.Helper()
	deck := testhelper.SeedDeck(t, pool, testhelper.UniqueName(prefix))
	return testhelper.SeedCard(t, pool, deck.ID)
}

func TestRepo_Append_RoundTripsSnapshot(t *testing.T) {
	t.Parallel()
	repo, pool := newRepo(t)
	ctx := context.Background()
	card := seedCard(t, pool, "Revlog")

	snapshot := &domain.CardSnapshot{
		DeckID:       card.DeckID,
		Queue:        domain.QueueReview,
		Type:         domain.CardTypeReview,
		Due:          domain.DueOnDay(14),
		HomeDue:      domain.DueOnDay(20),
		HasHomeDue:   true,
		IntervalDays: 12,
		Factor:       2350,
		Reps:         6,
		Lapses:       1,
		Left:         domain.StepsLeft{Remaining: 2, Today: 2},
		Position:     9,
	}

	entry := domain.ReviewLog{
		CardID:       card.ID,
		Ease:         domain.EaseHard,
		Interval:     14,
		LastInterval: 12,
		Factor:       2200,
		TimeTakenMs:  6200,
		Kind:         domain.ReviewKindReview,
		PrevState:    snapshot,
	}
	if err := repo.Append(ctx, &entry); err != nil {
		t.Fatalf("Append: unexpected error: %v", err)
	}
	if entry.ID == uuid.Nil {
		t.Error("expected non-nil entry ID")
	}

	got, err := repo.LastForCard(ctx, card.ID)
	if err != nil {
		t.Fatalf("LastForCard: unexpected error: %v", err)
	}

	if got.Ease != domain.EaseHard || got.Interval != 14 || got.LastInterval != 12 {
		t.Errorf("row = ease %v ivl %d last %d, want 2/14/12", got.Ease, got.Interval, got.LastInterval)
	}
	if got.Kind != domain.ReviewKindReview {
		t.Errorf("Kind = %v, want REVIEW", got.Kind)
	}
	if got.PrevState == nil {
		t.Fatal("PrevState = nil, want the snapshot back")
	}
	if *got.PrevState != *snapshot {
		t.Errorf("PrevState = %+v, want %+v", *got.PrevState, *snapshot)
	}
}

func TestRepo_Append_NilSnapshot(t *testing.T) {
	t.Parallel()
	repo, pool := newRepo(t)
	ctx := context.Background()
	card := seedCard(t, pool, "RevNil")

	entry := domain.ReviewLog{
		CardID: card.ID,
		Ease:   domain.EaseGood,
		Kind:   domain.ReviewKindLearn,
	}
	if err := repo.Append(ctx, &entry); err != nil {
		t.Fatalf("Append: unexpected error: %v", err)
	}

	got, err := repo.LastForCard(ctx, card.ID)
	if err != nil {
		t.Fatalf("LastForCard: unexpected error: %v", err)
	}
	if got.PrevState != nil {
		t.Errorf("PrevState = %+v, want nil", got.PrevState)
	}
}

func TestRepo_LastForCard_PicksTheNewestRow(t *testing.T) {
	t.Parallel()
	repo, pool := newRepo(t)
	ctx := context.Background()
	card := seedCard(t, pool, "RevLast")
	base := time.Now().UTC().Truncate(time.Microsecond)

	testhelper.SeedRevlog(t, pool, card.ID, func(e *domain.ReviewLog) {
		e.ReviewedAt = base.Add(-2 * time.Hour)
		e.Ease = domain.EaseAgain
	})
	newest := testhelper.SeedRevlog(t, pool, card.ID, func(e *domain.ReviewLog) {
		e.ReviewedAt = base.Add(-time.Minute)
		e.Ease = domain.EaseEasy
	})

	got, err := repo.LastForCard(ctx, card.ID)
	if err != nil {
		t.Fatalf("LastForCard: unexpected error: %v", err)
	}
	if got.ID != newest.ID {
		t.Errorf("LastForCard = %s, want %s", got.ID, newest.ID)
	}
}

func TestRepo_LastForCard_NotFound(t *testing.T) {
	t.Parallel()
	repo, pool := newRepo(t)
	card := seedCard(t, pool, "RevNone")

	_, err := repo.LastForCard(context.Background(), card.ID)
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("LastForCard: error = %v, want ErrNotFound", err)
	}
}

func TestRepo_DeleteByID(t *testing.T) {
	t.Parallel()
	repo, pool := newRepo(t)
	ctx := context.Background()
	card := seedCard(t, pool, "RevDel")
	entry := testhelper.SeedRevlog(t, pool, card.ID)

	if err := repo.DeleteByID(ctx, entry.ID); err != nil {
		t.Fatalf("DeleteByID: unexpected error: %v", err)
	}

	if _, err := repo.LastForCard(ctx, card.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("LastForCard after delete: error = %v, want ErrNotFound", err)
	}

	if err := repo.DeleteByID(ctx, entry.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("DeleteByID again: error = %v, want ErrNotFound", err)
	}
}

func TestRepo_ByCard_AnswerOrder(t *testing.T) {
	t.Parallel()
	repo, pool := newRepo(t)
	ctx := context.Background()
	card := seedCard(t, pool, "RevOrder")
	base := time.Now().UTC().Truncate(time.Microsecond)

	second := testhelper.SeedRevlog(t, pool, card.ID, func(e *domain.ReviewLog) {
		e.ReviewedAt = base.Add(-time.Hour)
	})
	first := testhelper.SeedRevlog(t, pool, card.ID, func(e *domain.ReviewLog) {
		e.ReviewedAt = base.Add(-2 * time.Hour)
	})

	got, err := repo.ByCard(ctx, card.ID)
	if err != nil {
		t.Fatalf("ByCard: unexpected error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].ID != first.ID || got[1].ID != second.ID {
		t.Errorf("order = [%s %s], want [%s %s]", got[0].ID, got[1].ID, first.ID, second.ID)
	}
}

func TestRepo_StudiedToday_AggregatesSince(t *testing.T) {
	t.Parallel()
	repo, pool := newRepo(t)
	ctx := context.Background()
	card := seedCard(t, pool, "RevToday")

	// The database is shared, so this test lives in its own future window
	// that no other test's rows can fall into.
	window := time.Now().UTC().Add(1000 * time.Hour).Truncate(time.Microsecond)

	testhelper.SeedRevlog(t, pool, card.ID, func(e *domain.ReviewLog) {
		e.ReviewedAt = window.Add(time.Minute)
		e.TimeTakenMs = 3000
	})
	testhelper.SeedRevlog(t, pool, card.ID, func(e *domain.ReviewLog) {
		e.ReviewedAt = window.Add(2 * time.Minute)
		e.TimeTakenMs = 4500
	})
	testhelper.SeedRevlog(t, pool, card.ID, func(e *domain.ReviewLog) { // before the window
		e.ReviewedAt = window.Add(-time.Hour)
		e.TimeTakenMs = 9999
	})

	got, err := repo.StudiedToday(ctx, window)
	if err != nil {
		t.Fatalf("StudiedToday: unexpected error: %v", err)
	}
	if got.Cards != 2 {
		t.Errorf("Cards = %d, want 2", got.Cards)
	}
	if got.TimeTakenMs != 7500 {
		t.Errorf("TimeTakenMs = %d, want 7500", got.TimeTakenMs)
	}
}
