// Package card implements card persistence using PostgreSQL.
// It backs the scheduler's card store: due-queue reads, batched saves and
// position bookkeeping for the new-card ordering.
package card

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	postgres "github.com/heartmarshall/recall-backend/internal/adapter/postgres"
	"github.com/heartmarshall/recall-backend/internal/domain"
)

// Repo provides card persistence backed by PostgreSQL.
type Repo struct {
	pool *pgxpool.Pool
}

// New creates a new card repository.
func New(pool *pgxpool.Pool) *Repo {
	return &Repo{pool: pool}
}

// ---------------------------------------------------------------------------
// Raw SQL
// ---------------------------------------------------------------------------

const cardColumns = `
    id, note_id, deck_id, home_deck_id, queue, type,
    due_kind, due_val, home_due_kind, home_due_val,
    filtered_pos, interval_days, factor, reps, lapses,
    left_remaining, left_today, position, created_at, updated_at`

const getSQL = `SELECT` + cardColumns + ` FROM cards WHERE id = $1`

const getManySQL = `SELECT` + cardColumns + ` FROM cards WHERE id = ANY($1::uuid[])`

const insertSQL = `
INSERT INTO cards (
    id, note_id, deck_id, home_deck_id, queue, type,
    due_kind, due_val, home_due_kind, home_due_val,
    filtered_pos, interval_days, factor, reps, lapses,
    left_remaining, left_today, position, created_at, updated_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10,
          $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)`

const saveSQL = `
UPDATE cards SET
    deck_id = $2, home_deck_id = $3, queue = $4, type = $5,
    due_kind = $6, due_val = $7, home_due_kind = $8, home_due_val = $9,
    filtered_pos = $10, interval_days = $11, factor = $12, reps = $13,
    lapses = $14, left_remaining = $15, left_today = $16, position = $17,
    updated_at = now()
WHERE id = $1`

const dueLearningSQL = `
SELECT` + cardColumns + `
FROM cards
WHERE deck_id = ANY($1::uuid[]) AND queue IN ('LEARN', 'PREVIEW') AND due_val < $2
ORDER BY due_val
LIMIT $3`

const dueDayLearningSQL = `
SELECT` + cardColumns + `
FROM cards
WHERE deck_id = ANY($1::uuid[]) AND queue = 'DAY_LEARN' AND due_val <= $2
ORDER BY due_val
LIMIT $3`

// Filtered residents are always due and come first by gather slot.
const dueReviewsSQL = `
SELECT` + cardColumns + `
FROM cards
WHERE deck_id = ANY($1::uuid[]) AND queue = 'REVIEW'
  AND (due_val <= $2 OR home_deck_id IS NOT NULL)
ORDER BY (home_deck_id IS NULL), filtered_pos, due_val
LIMIT $3`

const newByDeckSQL = `
SELECT` + cardColumns + `
FROM cards
WHERE deck_id = $1 AND queue = 'NEW'
ORDER BY filtered_pos, position
LIMIT $2`

const countNewByDeckSQL = `
SELECT count(*) FROM (
    SELECT 1 FROM cards WHERE deck_id = $1 AND queue = 'NEW' LIMIT $2
) t`

const countDueReviewsSQL = `
SELECT count(*)
FROM cards
WHERE deck_id = ANY($1::uuid[]) AND queue = 'REVIEW'
  AND (due_val <= $2 OR home_deck_id IS NOT NULL)`

const countDueReviewsByDeckSQL = `
SELECT count(*) FROM (
    SELECT 1 FROM cards
    WHERE deck_id = $1 AND queue = 'REVIEW'
      AND (due_val <= $2 OR home_deck_id IS NOT NULL)
    LIMIT $3
) t`

const countDueLearningSQL = `
SELECT count(*)
FROM cards
WHERE deck_id = ANY($1::uuid[])
  AND ((queue IN ('LEARN', 'PREVIEW') AND due_val < $2)
    OR (queue = 'DAY_LEARN' AND due_val <= $3))`

const countLearningByDeckSQL = `
SELECT count(*)
FROM cards
WHERE deck_id = $1
  AND ((queue IN ('LEARN', 'PREVIEW') AND due_val < $2)
    OR (queue = 'DAY_LEARN' AND due_val <= $3))`

const siblingsSQL = `
SELECT` + cardColumns + ` FROM cards WHERE note_id = $1 AND id <> $2`

const byQueueSQL = `
SELECT` + cardColumns + `
FROM cards
WHERE deck_id = ANY($1::uuid[]) AND queue = ANY($2::text[])`

const inDeckSQL = `SELECT` + cardColumns + ` FROM cards WHERE deck_id = $1`

const maxPositionSQL = `SELECT COALESCE(MAX(position), 0) FROM cards`

const shiftPositionsSQL = `
UPDATE cards SET
    position = position + $2,
    due_val = CASE WHEN queue = 'NEW' THEN position + $2 ELSE due_val END,
    updated_at = now()
WHERE position >= $1 AND NOT (id = ANY($3::uuid[]))`

const deleteSQL = `DELETE FROM cards WHERE id = $1`

// ---------------------------------------------------------------------------
// Read operations
// ---------------------------------------------------------------------------

// Get returns a card by id. Returns domain.ErrNotFound if it does not exist.
func (r *Repo) Get(ctx context.Context, id uuid.UUID) (domain.Card, error) {
	querier := postgres.QuerierFromCtx(ctx, r.pool)

	rows, err := querier.Query(ctx, getSQL, id)
	if err != nil {
		return domain.Card{}, mapError(err, "card", id)
	}

	card, err := pgx.CollectOneRow(rows, scanCard)
	if err != nil {
		return domain.Card{}, mapError(err, "card", id)
	}

	return card, nil
}

// GetMany returns the cards with the given ids, in database order. Missing
// ids are silently skipped.
func (r *Repo) GetMany(ctx context.Context, ids []uuid.UUID) ([]domain.Card, error) {
	if len(ids) == 0 {
		return []domain.Card{}, nil
	}

	return r.query(ctx, "get many cards", getManySQL, ids)
}

// DueLearning returns intraday learning and preview cards of the given decks
// due strictly before the cutoff, soonest first.
func (r *Repo) DueLearning(ctx context.Context, deckIDs []uuid.UUID, before time.Time, limit int) ([]domain.Card, error) {
	if len(deckIDs) == 0 {
		return []domain.Card{}, nil
	}

	return r.query(ctx, "due learning", dueLearningSQL, deckIDs, before.Unix(), limit)
}

// DueDayLearning returns day-learning cards due on or before the given day.
func (r *Repo) DueDayLearning(ctx context.Context, deckIDs []uuid.UUID, day int, limit int) ([]domain.Card, error) {
	if len(deckIDs) == 0 {
		return []domain.Card{}, nil
	}

	return r.query(ctx, "due day learning", dueDayLearningSQL, deckIDs, day, limit)
}

// DueReviews returns review cards due on or before the given day, plus
// review cards resident in a filtered deck regardless of due. Filtered
// residents sort first by gather slot.
func (r *Repo) DueReviews(ctx context.Context, deckIDs []uuid.UUID, day int, limit int) ([]domain.Card, error) {
	if len(deckIDs) == 0 {
		return []domain.Card{}, nil
	}

	return r.query(ctx, "due reviews", dueReviewsSQL, deckIDs, day, limit)
}

// NewByDeck returns new cards of one deck ordered by gather slot then
// position.
func (r *Repo) NewByDeck(ctx context.Context, deckID uuid.UUID, limit int) ([]domain.Card, error) {
	return r.query(ctx, "new by deck", newByDeckSQL, deckID, limit)
}

// CountNewByDeck counts new cards in a deck, stopping at cap.
func (r *Repo) CountNewByDeck(ctx context.Context, deckID uuid.UUID, cap int) (int, error) {
	return r.count(ctx, "count new by deck", countNewByDeckSQL, deckID, cap)
}

// CountDueReviews counts review cards of the given decks due on or before
// day, filtered residents included.
func (r *Repo) CountDueReviews(ctx context.Context, deckIDs []uuid.UUID, day int) (int, error) {
	if len(deckIDs) == 0 {
		return 0, nil
	}

	return r.count(ctx, "count due reviews", countDueReviewsSQL, deckIDs, day)
}

// CountDueReviewsByDeck counts due review cards of one deck, stopping at cap.
func (r *Repo) CountDueReviewsByDeck(ctx context.Context, deckID uuid.UUID, day int, cap int) (int, error) {
	return r.count(ctx, "count due reviews by deck", countDueReviewsByDeckSQL, deckID, day, cap)
}

// CountDueLearning counts learning cards of the given decks that are due:
// intraday steps before the cutoff plus day-learning cards due by day.
func (r *Repo) CountDueLearning(ctx context.Context, deckIDs []uuid.UUID, before time.Time, day int) (int, error) {
	if len(deckIDs) == 0 {
		return 0, nil
	}

	return r.count(ctx, "count due learning", countDueLearningSQL, deckIDs, before.Unix(), day)
}

// CountLearningByDeck counts due learning cards of a single deck.
func (r *Repo) CountLearningByDeck(ctx context.Context, deckID uuid.UUID, before time.Time, day int) (int, error) {
	return r.count(ctx, "count learning by deck", countLearningByDeckSQL, deckID, before.Unix(), day)
}

// Siblings returns the other cards of the same note.
func (r *Repo) Siblings(ctx context.Context, noteID, exceptCardID uuid.UUID) ([]domain.Card, error) {
	return r.query(ctx, "siblings", siblingsSQL, noteID, exceptCardID)
}

// ByQueue returns cards of the given decks sitting in any of the queues.
func (r *Repo) ByQueue(ctx context.Context, deckIDs []uuid.UUID, queues []domain.Queue) ([]domain.Card, error) {
	if len(deckIDs) == 0 || len(queues) == 0 {
		return []domain.Card{}, nil
	}

	qs := make([]string, len(queues))
	for i, q := range queues {
		qs[i] = string(q)
	}

	return r.query(ctx, "by queue", byQueueSQL, deckIDs, qs)
}

// InDeck returns all cards living in the deck, filtered residents included.
func (r *Repo) InDeck(ctx context.Context, deckID uuid.UUID) ([]domain.Card, error) {
	return r.query(ctx, "in deck", inDeckSQL, deckID)
}

// MaxPosition returns the highest new-card position in the collection, 0
// when there are no cards.
func (r *Repo) MaxPosition(ctx context.Context) (int, error) {
	return r.count(ctx, "max position", maxPositionSQL)
}

// ---------------------------------------------------------------------------
// Write operations
// ---------------------------------------------------------------------------

// Create inserts a new card row. A zero ID is assigned.
func (r *Repo) Create(ctx context.Context, card *domain.Card) error {
	querier := postgres.QuerierFromCtx(ctx, r.pool)

	if card.ID == uuid.Nil {
		card.ID = uuid.New()
	}
	now := time.Now().UTC()
	if card.CreatedAt.IsZero() {
		card.CreatedAt = now
	}
	card.UpdatedAt = now

	if _, err := querier.Exec(ctx, insertSQL, insertArgs(card)...); err != nil {
		return mapError(err, "card", card.ID)
	}

	return nil
}

// Save persists the scheduling state of an existing card.
// Returns domain.ErrNotFound if the card does not exist.
func (r *Repo) Save(ctx context.Context, card *domain.Card) error {
	querier := postgres.QuerierFromCtx(ctx, r.pool)

	tag, err := querier.Exec(ctx, saveSQL, saveArgs(card)...)
	if err != nil {
		return mapError(err, "card", card.ID)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("card %s: %w", card.ID, domain.ErrNotFound)
	}

	return nil
}

// SaveAll persists many cards in one round trip using a batch.
func (r *Repo) SaveAll(ctx context.Context, cards []*domain.Card) error {
	if len(cards) == 0 {
		return nil
	}

	querier := postgres.QuerierFromCtx(ctx, r.pool)

	batch := &pgx.Batch{}
	for _, card := range cards {
		batch.Queue(saveSQL, saveArgs(card)...)
	}

	results := querier.SendBatch(ctx, batch)
	defer results.Close()

	for _, card := range cards {
		if _, err := results.Exec(); err != nil {
			return mapError(err, "card", card.ID)
		}
	}

	return nil
}

// ShiftPositions moves every card with position >= start (except the given
// ids) up by amount, keeping new-card due values in step with position.
func (r *Repo) ShiftPositions(ctx context.Context, start, amount int, except []uuid.UUID) error {
	querier := postgres.QuerierFromCtx(ctx, r.pool)

	if except == nil {
		except = []uuid.UUID{}
	}

	if _, err := querier.Exec(ctx, shiftPositionsSQL, start, amount, except); err != nil {
		return fmt.Errorf("shift positions: %w", err)
	}

	return nil
}

// Delete removes a card. Its revlog rows cascade.
// Returns domain.ErrNotFound if the card does not exist.
func (r *Repo) Delete(ctx context.Context, id uuid.UUID) error {
	querier := postgres.QuerierFromCtx(ctx, r.pool)

	tag, err := querier.Exec(ctx, deleteSQL, id)
	if err != nil {
		return mapError(err, "card", id)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("card %s: %w", id, domain.ErrNotFound)
	}

	return nil
}

// ---------------------------------------------------------------------------
// Row mapping
// ---------------------------------------------------------------------------

func (r *Repo) query(ctx context.Context, op, sql string, args ...any) ([]domain.Card, error) {
	querier := postgres.QuerierFromCtx(ctx, r.pool)

	rows, err := querier.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	cards, err := pgx.CollectRows(rows, scanCard)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if cards == nil {
		cards = []domain.Card{}
	}

	return cards, nil
}

func (r *Repo) count(ctx context.Context, op, sql string, args ...any) (int, error) {
	querier := postgres.QuerierFromCtx(ctx, r.pool)

	var n int
	if err := querier.QueryRow(ctx, sql, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	return n, nil
}

func scanCard(row pgx.CollectableRow) (domain.Card, error) {
	var (
		c           domain.Card
		homeDeckID  *uuid.UUID
		queue       string
		typ         string
		dueKind     int16
		dueVal      int64
		homeDueKind *int16
		homeDueVal  *int64
	)

	err := row.Scan(
		&c.ID, &c.NoteID, &c.DeckID, &homeDeckID, &queue, &typ,
		&dueKind, &dueVal, &homeDueKind, &homeDueVal,
		&c.FilteredPos, &c.IntervalDays, &c.Factor, &c.Reps, &c.Lapses,
		&c.Left.Remaining, &c.Left.Today, &c.Position, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return domain.Card{}, err
	}

	if homeDeckID != nil {
		c.HomeDeckID = *homeDeckID
	}
	c.Queue = domain.Queue(queue)
	c.Type = domain.CardType(typ)
	c.Due = dueFromColumns(dueKind, dueVal)
	if homeDueKind != nil && homeDueVal != nil {
		c.HomeDue = dueFromColumns(*homeDueKind, *homeDueVal)
		c.HasHomeDue = true
	}

	return c, nil
}

func dueFromColumns(kind int16, val int64) domain.DueValue {
	switch domain.DueKind(kind) {
	case domain.DueStamp:
		return domain.DueAt(time.Unix(val, 0))
	case domain.DuePosition:
		return domain.DueAtPosition(int(val))
	default:
		return domain.DueOnDay(int(val))
	}
}

func dueToColumns(d domain.DueValue) (int16, int64) {
	return int16(d.Kind), d.Raw()
}

// insertArgs reuses the save tuple, splicing note_id in after the id and
// appending explicit timestamps.
func insertArgs(card *domain.Card) []any {
	args := saveArgs(card)
	out := make([]any, 0, 20)
	out = append(out, card.ID, card.NoteID)
	out = append(out, args[1:]...)
	out = append(out, card.CreatedAt, card.UpdatedAt)
	return out
}

func saveArgs(card *domain.Card) []any {
	var homeDeckID *uuid.UUID
	if card.HomeDeckID != uuid.Nil {
		id := card.HomeDeckID
		homeDeckID = &id
	}

	dueKind, dueVal := dueToColumns(card.Due)

	var homeDueKind *int16
	var homeDueVal *int64
	if card.HasHomeDue {
		k, v := dueToColumns(card.HomeDue)
		homeDueKind, homeDueVal = &k, &v
	}

	return []any{
		card.ID, card.DeckID, homeDeckID, string(card.Queue), string(card.Type),
		dueKind, dueVal, homeDueKind, homeDueVal,
		card.FilteredPos, card.IntervalDays, card.Factor, card.Reps, card.Lapses,
		card.Left.Remaining, card.Left.Today, card.Position,
	}
}

// mapError converts pgx/pgconn errors to domain errors.
// context.DeadlineExceeded and context.Canceled are NOT mapped — they pass through.
func mapError(err error, entity string, id uuid.UUID) error {
	if err == nil {
		return nil
	}

	// context errors pass through as-is
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%s %s: %w", entity, id, err)
	}

	// pgx.ErrNoRows → domain.ErrNotFound
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s %s: %w", entity, id, domain.ErrNotFound)
	}

	// PgError codes
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505": // unique_violation
			return fmt.Errorf("%s %s: %w", entity, id, domain.ErrAlreadyExists)
		case "23503": // foreign_key_violation
			return fmt.Errorf("%s %s: %w", entity, id, domain.ErrNotFound)
		case "23514": // check_violation
			return fmt.Errorf("%s %s: %w", entity, id, domain.ErrValidation)
		}
	}

	// Everything else: wrap with context
	return fmt.Errorf("%s %s: %w", entity, id, err)
}
