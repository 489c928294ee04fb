// Package deck implements deck and configuration-group persistence using
// PostgreSQL. Ancestry is derived from the "::" separated deck name, and
// daily quota usage lives in a per-deck, per-day counter table.
package deck

import (
	"context"
	"encoding/json"
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

// Repo provides deck persistence backed by PostgreSQL.
type Repo struct {
	pool *pgxpool.Pool
}

// New creates a new deck repository.
func New(pool *pgxpool.Pool) *Repo {
	return &Repo{pool: pool}
}

// ---------------------------------------------------------------------------
// Raw SQL
// ---------------------------------------------------------------------------

const deckColumns = `
    id, name, config_id, filtered, search_terms, resched,
    preview_delay_sec, collapsed_today, created_at, updated_at`

const getDeckSQL = `SELECT` + deckColumns + ` FROM decks WHERE id = $1`

const getDeckByNameSQL = `SELECT` + deckColumns + ` FROM decks WHERE name = $1`

const allDecksSQL = `SELECT` + deckColumns + ` FROM decks ORDER BY name`

// A deck's ancestors are the decks whose name is a strict path prefix.
const ancestorsSQL = `
SELECT` + deckColumns + `
FROM decks
WHERE $1 LIKE name || '::%'
ORDER BY name`

const descendantsSQL = `
SELECT` + deckColumns + `
FROM decks
WHERE name LIKE $1 || '::%'
ORDER BY name`

const insertDeckSQL = `
INSERT INTO decks (id, name, config_id, filtered, search_terms, resched,
                   preview_delay_sec, collapsed_today)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

const saveDeckSQL = `
UPDATE decks SET
    name = $2, config_id = $3, search_terms = $4, resched = $5,
    preview_delay_sec = $6, collapsed_today = $7, updated_at = now()
WHERE id = $1`

const deleteDeckSQL = `DELETE FROM decks WHERE id = $1`

const configColumns = `
    id, name,
    new_steps_sec, new_graduating_days, new_easy_days, new_initial_factor,
    new_per_day, new_order, new_bury,
    lapse_steps_sec, lapse_mult, lapse_min_days, leech_threshold, leech_action,
    rev_per_day, rev_ease4_bonus, rev_fuzz, rev_ivl_mult, rev_max_days,
    rev_hard_factor, rev_bury`

const configByDeckSQL = `
SELECT` + configColumns + `
FROM deck_configs c
JOIN decks d ON d.config_id = c.id
WHERE d.id = $1`

const insertConfigSQL = `
INSERT INTO deck_configs (
    id, name,
    new_steps_sec, new_graduating_days, new_easy_days, new_initial_factor,
    new_per_day, new_order, new_bury,
    lapse_steps_sec, lapse_mult, lapse_min_days, leech_threshold, leech_action,
    rev_per_day, rev_ease4_bonus, rev_fuzz, rev_ivl_mult, rev_max_days,
    rev_hard_factor, rev_bury
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14,
          $15, $16, $17, $18, $19, $20, $21)`

const saveConfigSQL = `
UPDATE deck_configs SET
    name = $2,
    new_steps_sec = $3, new_graduating_days = $4, new_easy_days = $5,
    new_initial_factor = $6, new_per_day = $7, new_order = $8, new_bury = $9,
    lapse_steps_sec = $10, lapse_mult = $11, lapse_min_days = $12,
    leech_threshold = $13, leech_action = $14,
    rev_per_day = $15, rev_ease4_bonus = $16, rev_fuzz = $17,
    rev_ivl_mult = $18, rev_max_days = $19, rev_hard_factor = $20,
    rev_bury = $21
WHERE id = $1`

const usageTodaySQL = `
SELECT day, new_count, review_count
FROM deck_usage
WHERE deck_id = $1 AND day = $2`

const bumpUsageSQL = `
INSERT INTO deck_usage (deck_id, day, new_count, review_count)
VALUES ($1, $2, $3, $4)
ON CONFLICT (deck_id, day) DO UPDATE SET
    new_count = deck_usage.new_count + EXCLUDED.new_count,
    review_count = deck_usage.review_count + EXCLUDED.review_count`

// ---------------------------------------------------------------------------
// Deck operations
// ---------------------------------------------------------------------------

// Get returns a deck by id. Returns domain.ErrNotFound if it does not exist.
func (r *Repo) Get(ctx context.Context, id uuid.UUID) (domain.Deck, error) {
	querier := postgres.QuerierFromCtx(ctx, r.pool)

	rows, err := querier.Query(ctx, getDeckSQL, id)
	if err != nil {
		return domain.Deck{}, mapError(err, "deck", id)
	}

	deck, err := pgx.CollectOneRow(rows, scanDeck)
	if err != nil {
		return domain.Deck{}, mapError(err, "deck", id)
	}

	return deck, nil
}

// GetByName returns a deck by its full path name.
func (r *Repo) GetByName(ctx context.Context, name string) (domain.Deck, error) {
	querier := postgres.QuerierFromCtx(ctx, r.pool)

	rows, err := querier.Query(ctx, getDeckByNameSQL, name)
	if err != nil {
		return domain.Deck{}, mapError(err, "deck", uuid.Nil)
	}

	deck, err := pgx.CollectOneRow(rows, scanDeck)
	if err != nil {
		return domain.Deck{}, mapError(err, "deck", uuid.Nil)
	}

	return deck, nil
}

// All returns every deck ordered by name, which is also tree order.
func (r *Repo) All(ctx context.Context) ([]domain.Deck, error) {
	return r.queryDecks(ctx, "all decks", allDecksSQL)
}

// Ancestors returns the strict ancestors of a deck, root first.
func (r *Repo) Ancestors(ctx context.Context, id uuid.UUID) ([]domain.Deck, error) {
	deck, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	return r.queryDecks(ctx, "ancestors", ancestorsSQL, deck.Name)
}

// Descendants returns the strict descendants of a deck in tree order.
func (r *Repo) Descendants(ctx context.Context, id uuid.UUID) ([]domain.Deck, error) {
	deck, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	return r.queryDecks(ctx, "descendants", descendantsSQL, deck.Name)
}

// Create inserts a deck. A zero ID is assigned.
// Returns domain.ErrAlreadyExists if the name is taken.
func (r *Repo) Create(ctx context.Context, deck *domain.Deck) error {
	querier := postgres.QuerierFromCtx(ctx, r.pool)

	if deck.ID == uuid.Nil {
		deck.ID = uuid.New()
	}

	terms, err := marshalTerms(deck.SearchTerms)
	if err != nil {
		return fmt.Errorf("deck %s: %w", deck.ID, err)
	}

	var configID *uuid.UUID
	if deck.ConfigID != uuid.Nil {
		id := deck.ConfigID
		configID = &id
	}

	_, err = querier.Exec(ctx, insertDeckSQL,
		deck.ID, deck.Name, configID, deck.Filtered, terms, deck.Resched,
		int(deck.PreviewDelay.Seconds()), deck.CollapsedToday,
	)
	if err != nil {
		return mapError(err, "deck", deck.ID)
	}

	return nil
}

// Save persists deck fields that can change after creation.
func (r *Repo) Save(ctx context.Context, deck *domain.Deck) error {
	querier := postgres.QuerierFromCtx(ctx, r.pool)

	terms, err := marshalTerms(deck.SearchTerms)
	if err != nil {
		return fmt.Errorf("deck %s: %w", deck.ID, err)
	}

	var configID *uuid.UUID
	if deck.ConfigID != uuid.Nil {
		id := deck.ConfigID
		configID = &id
	}

	tag, err := querier.Exec(ctx, saveDeckSQL,
		deck.ID, deck.Name, configID, terms, deck.Resched,
		int(deck.PreviewDelay.Seconds()), deck.CollapsedToday,
	)
	if err != nil {
		return mapError(err, "deck", deck.ID)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("deck %s: %w", deck.ID, domain.ErrNotFound)
	}

	return nil
}

// Delete removes a deck. Usage rows cascade; cards do not and must be moved
// or deleted first.
func (r *Repo) Delete(ctx context.Context, id uuid.UUID) error {
	querier := postgres.QuerierFromCtx(ctx, r.pool)

	tag, err := querier.Exec(ctx, deleteDeckSQL, id)
	if err != nil {
		return mapError(err, "deck", id)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("deck %s: %w", id, domain.ErrNotFound)
	}

	return nil
}

// ---------------------------------------------------------------------------
// Configuration groups
// ---------------------------------------------------------------------------

// Config returns the configuration group of a deck. Filtered decks have no
// group of their own and fall back to the stock configuration.
func (r *Repo) Config(ctx context.Context, deckID uuid.UUID) (domain.DeckConfig, error) {
	querier := postgres.QuerierFromCtx(ctx, r.pool)

	rows, err := querier.Query(ctx, configByDeckSQL, deckID)
	if err != nil {
		return domain.DeckConfig{}, mapError(err, "deck config", deckID)
	}

	cfg, err := pgx.CollectOneRow(rows, scanConfig)
	if errors.Is(err, pgx.ErrNoRows) {
		deck, derr := r.Get(ctx, deckID)
		if derr != nil {
			return domain.DeckConfig{}, derr
		}
		if deck.Filtered {
			return domain.DefaultDeckConfig(), nil
		}
		return domain.DeckConfig{}, fmt.Errorf("deck config %s: %w", deckID, domain.ErrNotFound)
	}
	if err != nil {
		return domain.DeckConfig{}, mapError(err, "deck config", deckID)
	}

	return cfg, nil
}

// CreateConfig inserts a configuration group. A zero ID is assigned.
func (r *Repo) CreateConfig(ctx context.Context, cfg *domain.DeckConfig) error {
	querier := postgres.QuerierFromCtx(ctx, r.pool)

	if cfg.ID == uuid.Nil {
		cfg.ID = uuid.New()
	}

	if _, err := querier.Exec(ctx, insertConfigSQL, configArgs(cfg)...); err != nil {
		return mapError(err, "deck config", cfg.ID)
	}

	return nil
}

// SaveConfig persists a configuration group.
func (r *Repo) SaveConfig(ctx context.Context, cfg *domain.DeckConfig) error {
	querier := postgres.QuerierFromCtx(ctx, r.pool)

	tag, err := querier.Exec(ctx, saveConfigSQL, configArgs(cfg)...)
	if err != nil {
		return mapError(err, "deck config", cfg.ID)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("deck config %s: %w", cfg.ID, domain.ErrNotFound)
	}

	return nil
}

// ---------------------------------------------------------------------------
// Daily usage
// ---------------------------------------------------------------------------

// UsageToday returns the quota usage of a deck on the given day. A missing
// row counts as zero usage.
func (r *Repo) UsageToday(ctx context.Context, deckID uuid.UUID, day int) (domain.DeckUsage, error) {
	querier := postgres.QuerierFromCtx(ctx, r.pool)

	var u domain.DeckUsage
	err := querier.QueryRow(ctx, usageTodaySQL, deckID, day).Scan(&u.Day, &u.New, &u.Review)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.DeckUsage{Day: day}, nil
	}
	if err != nil {
		return domain.DeckUsage{}, fmt.Errorf("usage today: %w", err)
	}

	return u, nil
}

// BumpUsage adds the deltas to a deck's usage row for the day, creating it
// on first touch. Deltas may be negative when an answer is undone.
func (r *Repo) BumpUsage(ctx context.Context, deckID uuid.UUID, day int, newDelta, reviewDelta int) error {
	querier := postgres.QuerierFromCtx(ctx, r.pool)

	if _, err := querier.Exec(ctx, bumpUsageSQL, deckID, day, newDelta, reviewDelta); err != nil {
		return mapError(err, "deck usage", deckID)
	}

	return nil
}

// ---------------------------------------------------------------------------
// Row mapping
// ---------------------------------------------------------------------------

// searchTermRow is the jsonb shape of one filtered-deck search term.
type searchTermRow struct {
	Search string `json:"search"`
	Limit  int    `json:"limit"`
	Order  string `json:"order"`
}

func marshalTerms(terms []domain.SearchTerm) ([]byte, error) {
	rows := make([]searchTermRow, len(terms))
	for i, t := range terms {
		rows[i] = searchTermRow{Search: t.Search, Limit: t.Limit, Order: string(t.Order)}
	}
	return json.Marshal(rows)
}

func (r *Repo) queryDecks(ctx context.Context, op, sql string, args ...any) ([]domain.Deck, error) {
	querier := postgres.QuerierFromCtx(ctx, r.pool)

	rows, err := querier.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	decks, err := pgx.CollectRows(rows, scanDeck)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if decks == nil {
		decks = []domain.Deck{}
	}

	return decks, nil
}

func scanDeck(row pgx.CollectableRow) (domain.Deck, error) {
	var (
		d            domain.Deck
		configID     *uuid.UUID
		terms        []byte
		previewDelay int
	)

	err := row.Scan(
		&d.ID, &d.Name, &configID, &d.Filtered, &terms, &d.Resched,
		&previewDelay, &d.CollapsedToday, &d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		return domain.Deck{}, err
	}

	if configID != nil {
		d.ConfigID = *configID
	}
	d.PreviewDelay = time.Duration(previewDelay) * time.Second

	var termRows []searchTermRow
	if err := json.Unmarshal(terms, &termRows); err != nil {
		return domain.Deck{}, fmt.Errorf("search terms: %w", err)
	}
	if len(termRows) > 0 {
		d.SearchTerms = make([]domain.SearchTerm, len(termRows))
		for i, t := range termRows {
			d.SearchTerms[i] = domain.SearchTerm{
				Search: t.Search,
				Limit:  t.Limit,
				Order:  domain.FilteredOrder(t.Order),
			}
		}
	}

	return d, nil
}

func scanConfig(row pgx.CollectableRow) (domain.DeckConfig, error) {
	var (
		cfg        domain.DeckConfig
		newSteps   []int32
		lapseSteps []int32
		newOrder   string
		leech      string
	)

	err := row.Scan(
		&cfg.ID, &cfg.Name,
		&newSteps, &cfg.New.GraduatingIntervalDays, &cfg.New.EasyIntervalDays,
		&cfg.New.InitialFactor, &cfg.New.PerDay, &newOrder, &cfg.New.Bury,
		&lapseSteps, &cfg.Lapse.Mult, &cfg.Lapse.MinIntervalDays,
		&cfg.Lapse.LeechThreshold, &leech,
		&cfg.Review.PerDay, &cfg.Review.Ease4Bonus, &cfg.Review.Fuzz,
		&cfg.Review.IntervalMultiplier, &cfg.Review.MaxIntervalDays,
		&cfg.Review.HardFactor, &cfg.Review.Bury,
	)
	if err != nil {
		return domain.DeckConfig{}, err
	}

	cfg.New.Steps = secondsToSteps(newSteps)
	cfg.New.Order = domain.NewCardOrder(newOrder)
	cfg.Lapse.Steps = secondsToSteps(lapseSteps)
	cfg.Lapse.LeechAction = domain.LeechAction(leech)

	return cfg, nil
}

func configArgs(cfg *domain.DeckConfig) []any {
	return []any{
		cfg.ID, cfg.Name,
		stepsToSeconds(cfg.New.Steps), cfg.New.GraduatingIntervalDays,
		cfg.New.EasyIntervalDays, cfg.New.InitialFactor, cfg.New.PerDay,
		string(cfg.New.Order), cfg.New.Bury,
		stepsToSeconds(cfg.Lapse.Steps), cfg.Lapse.Mult,
		cfg.Lapse.MinIntervalDays, cfg.Lapse.LeechThreshold,
		string(cfg.Lapse.LeechAction),
		cfg.Review.PerDay, cfg.Review.Ease4Bonus, cfg.Review.Fuzz,
		cfg.Review.IntervalMultiplier, cfg.Review.MaxIntervalDays,
		cfg.Review.HardFactor, cfg.Review.Bury,
	}
}

func secondsToSteps(secs []int32) []time.Duration {
	if len(secs) == 0 {
		return nil
	}
	steps := make([]time.Duration, len(secs))
	for i, s := range secs {
		steps[i] = time.Duration(s) * time.Second
	}
	return steps
}

func stepsToSeconds(steps []time.Duration) []int32 {
	secs := make([]int32, len(steps))
	for i, s := range steps {
		secs[i] = int32(s / time.Second)
	}
	return secs
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
