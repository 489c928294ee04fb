package testhelper

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/heartmarshall/recall-backend/internal/domain"
)

// uniqueSuffix returns a short unique string for generating non-conflicting test data.
func uniqueSuffix() string {
	return uuid.New().String()[:8]
}

// UniqueName builds a deck name that will not collide on the shared database.
func UniqueName(prefix string) string {
	return prefix + "-" + uniqueSuffix()
}

// SeedConfig creates a deck configuration group with stock values.
// Returns a filled domain.DeckConfig.
func SeedConfig(t *testing.T, pool *pgxpool.Pool) domain.DeckConfig {
	t.Helper()
	ctx := context.Background()

	cfg := domain.DefaultDeckConfig()
	cfg.ID = uuid.New()
	cfg.Name = "Config " + uniqueSuffix()

	_, err := pool.Exec(ctx,
		`INSERT INTO deck_configs (
		     id, name,
		     new_steps_sec, new_graduating_days, new_easy_days, new_initial_factor,
		     new_per_day, new_order, new_bury,
		     lapse_steps_sec, lapse_mult, lapse_min_days, leech_threshold, leech_action,
		     rev_per_day, rev_ease4_bonus, rev_fuzz, rev_ivl_mult, rev_max_days,
		     rev_hard_factor, rev_bury
		 ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14,
		           $15, $16, $17, $18, $19, $20, $21)`,
		cfg.ID, cfg.Name,
		stepsToSeconds(cfg.New.Steps), cfg.New.GraduatingIntervalDays,
		cfg.New.EasyIntervalDays, cfg.New.InitialFactor, cfg.New.PerDay,
		string(cfg.New.Order), cfg.New.Bury,
		stepsToSeconds(cfg.Lapse.Steps), cfg.Lapse.Mult, cfg.Lapse.MinIntervalDays,
		cfg.Lapse.LeechThreshold, string(cfg.Lapse.LeechAction),
		cfg.Review.PerDay, cfg.Review.Ease4Bonus, cfg.Review.Fuzz,
		cfg.Review.IntervalMultiplier, cfg.Review.MaxIntervalDays,
		cfg.Review.HardFactor, cfg.Review.Bury,
	)
	if err != nil {
		t.Fatalf("testhelper: SeedConfig insert: %v", err)
	}

	return cfg
}

// SeedDeck creates a normal deck with its own configuration group.
// Returns a filled domain.Deck.
func SeedDeck(t *testing.T, pool *pgxpool.Pool, name string) domain.Deck {
	t.Helper()
	ctx := context.Background()

	cfg := SeedConfig(t, pool)

	now := time.Now().UTC().Truncate(time.Microsecond)
	deck := domain.Deck{
		ID:           uuid.New(),
		Name:         name,
		ConfigID:     cfg.ID,
		Resched:      true,
		PreviewDelay: 10 * time.Minute,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	_, err := pool.Exec(ctx,
		`INSERT INTO decks (id, name, config_id, filtered, search_terms, resched,
		                    preview_delay_sec, collapsed_today, created_at, updated_at)
		 VALUES ($1, $2, $3, FALSE, '[]', TRUE, 600, FALSE, $4, $4)`,
		deck.ID, deck.Name, deck.ConfigID, now,
	)
	if err != nil {
		t.Fatalf("testhelper: SeedDeck insert: %v", err)
	}

	return deck
}

// SeedDeckTree creates a parent deck plus children named by appending each
// suffix with "::". Returns the parent first, then the children in order.
func SeedDeckTree(t *testing.T, pool *pgxpool.Pool, parent string, children ...string) []domain.Deck {
	t.Helper()

	decks := make([]domain.Deck, 0, len(children)+1)
	decks = append(decks, SeedDeck(t, pool, parent))
	for _, child := range children {
		decks = append(decks, SeedDeck(t, pool, parent+domain.DeckPathSeparator+child))
	}

	return decks
}

// SeedFilteredDeck creates a filtered deck carrying one search term.
// Returns a filled domain.Deck.
func SeedFilteredDeck(t *testing.T, pool *pgxpool.Pool, name, search string) domain.Deck {
	t.Helper()
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Microsecond)
	deck := domain.Deck{
		ID:       uuid.New(),
		Name:     name,
		Filtered: true,
		SearchTerms: []domain.SearchTerm{
			{Search: search, Limit: 100, Order: domain.FilteredOrderDue},
		},
		Resched:      true,
		PreviewDelay: 10 * time.Minute,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	terms, err := json.Marshal([]map[string]any{
		{"search": search, "limit": 100, "order": string(domain.FilteredOrderDue)},
	})
	if err != nil {
		t.Fatalf("testhelper: SeedFilteredDeck marshal terms: %v", err)
	}

	_, err = pool.Exec(ctx,
		`INSERT INTO decks (id, name, config_id, filtered, search_terms, resched,
		                    preview_delay_sec, collapsed_today, created_at, updated_at)
		 VALUES ($1, $2, NULL, TRUE, $3, TRUE, 600, FALSE, $4, $4)`,
		deck.ID, deck.Name, terms, now,
	)
	if err != nil {
		t.Fatalf("testhelper: SeedFilteredDeck insert: %v", err)
	}

	return deck
}

// SeedCard creates a new card in the deck, applies the mutators, and inserts
// the result. Returns the card as stored.
func SeedCard(t *testing.T, pool *pgxpool.Pool, deckID uuid.UUID, mut ...func(*domain.Card)) domain.Card {
	t.Helper()
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Microsecond)
	card := domain.Card{
		ID:        uuid.New(),
		NoteID:    uuid.New(),
		DeckID:    deckID,
		Queue:     domain.QueueNew,
		Type:      domain.CardTypeNew,
		Due:       domain.DueAtPosition(0),
		Factor:    domain.StartingFactor,
		CreatedAt: now,
		UpdatedAt: now,
	}
	for _, m := range mut {
		m(&card)
	}

	var homeDeckID *uuid.UUID
	if card.HomeDeckID != uuid.Nil {
		homeDeckID = &card.HomeDeckID
	}

	var homeDueKind *int
	var homeDueVal *int64
	if card.HasHomeDue {
		k := int(card.HomeDue.Kind)
		v := card.HomeDue.Raw()
		homeDueKind, homeDueVal = &k, &v
	}

	_, err := pool.Exec(ctx,
		`INSERT INTO cards (
		     id, note_id, deck_id, home_deck_id, queue, type,
		     due_kind, due_val, home_due_kind, home_due_val,
		     filtered_pos, interval_days, factor, reps, lapses,
		     left_remaining, left_today, position, created_at, updated_at
		 ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10,
		           $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)`,
		card.ID, card.NoteID, card.DeckID, homeDeckID,
		string(card.Queue), string(card.Type),
		int(card.Due.Kind), card.Due.Raw(), homeDueKind, homeDueVal,
		card.FilteredPos, card.IntervalDays, card.Factor, card.Reps, card.Lapses,
		card.Left.Remaining, card.Left.Today, card.Position,
		card.CreatedAt, card.UpdatedAt,
	)
	if err != nil {
		t.Fatalf("testhelper: SeedCard insert: %v", err)
	}

	return card
}

// SeedRevlog appends a review log row for a card.
// Returns a filled domain.ReviewLog.
func SeedRevlog(t *testing.T, pool *pgxpool.Pool, cardID uuid.UUID, mut ...func(*domain.ReviewLog)) domain.ReviewLog {
	t.Helper()
	ctx := context.Background()

	entry := domain.ReviewLog{
		ID:           uuid.New(),
		CardID:       cardID,
		Ease:         domain.EaseGood,
		Interval:     1,
		LastInterval: 0,
		Factor:       domain.StartingFactor,
		TimeTakenMs:  4000,
		Kind:         domain.ReviewKindLearn,
		ReviewedAt:   time.Now().UTC().Truncate(time.Microsecond),
	}
	for _, m := range mut {
		m(&entry)
	}

	_, err := pool.Exec(ctx,
		`INSERT INTO revlog (id, card_id, ease, ivl, last_ivl, factor,
		                     time_taken_ms, kind, prev_state, reviewed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NULL, $9)`,
		entry.ID, entry.CardID, int(entry.Ease), entry.Interval,
		entry.LastInterval, entry.Factor, entry.TimeTakenMs,
		string(entry.Kind), entry.ReviewedAt,
	)
	if err != nil {
		t.Fatalf("testhelper: SeedRevlog insert: %v", err)
	}

	return entry
}

func stepsToSeconds(steps []time.Duration) []int32 {
	secs := make([]int32, len(steps))
	for i, s := range steps {
		secs[i] = int32(s / time.Second)
	}
	return secs
}
