// Package reviewlog implements review-log persistence using PostgreSQL.
// The log is append-only; rows are deleted only when the answer they record
// is undone. The pre-answer card snapshot rides along as jsonb.
package reviewlog

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

// Repo provides review log persistence backed by PostgreSQL.
type Repo struct {
	pool *pgxpool.Pool
}

// New creates a new review log repository.
func New(pool *pgxpool.Pool) *Repo {
	return &Repo{pool: pool}
}

// ---------------------------------------------------------------------------
// Raw SQL
// ---------------------------------------------------------------------------

const revlogColumns = `
    id, card_id, ease, ivl, last_ivl, factor, time_taken_ms, kind,
    prev_state, reviewed_at`

const appendSQL = `
INSERT INTO revlog (id, card_id, ease, ivl, last_ivl, factor, time_taken_ms,
                    kind, prev_state, reviewed_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

const deleteByIDSQL = `DELETE FROM revlog WHERE id = $1`

const lastForCardSQL = `
SELECT` + revlogColumns + `
FROM revlog
WHERE card_id = $1
ORDER BY reviewed_at DESC, id DESC
LIMIT 1`

const studiedTodaySQL = `
SELECT count(*), COALESCE(SUM(time_taken_ms), 0)
FROM revlog
WHERE reviewed_at >= $1`

const byCardSQL = `
SELECT` + revlogColumns + `
FROM revlog
WHERE card_id = $1
ORDER BY reviewed_at, id`

// ---------------------------------------------------------------------------
// Operations
// ---------------------------------------------------------------------------

// Append inserts a review log row. A zero ID is assigned.
func (r *Repo) Append(ctx context.Context, entry *domain.ReviewLog) error {
	querier := postgres.QuerierFromCtx(ctx, r.pool)

	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.ReviewedAt.IsZero() {
		entry.ReviewedAt = time.Now().UTC()
	}

	prevState, err := marshalSnapshot(entry.PrevState)
	if err != nil {
		return fmt.Errorf("revlog %s: %w", entry.ID, err)
	}

	_, err = querier.Exec(ctx, appendSQL,
		entry.ID, entry.CardID, int16(entry.Ease), entry.Interval,
		entry.LastInterval, entry.Factor, entry.TimeTakenMs,
		string(entry.Kind), prevState, entry.ReviewedAt,
	)
	if err != nil {
		return mapError(err, "revlog", entry.ID)
	}

	return nil
}

// DeleteByID removes a single row, used when its answer is undone.
// Returns domain.ErrNotFound if the row does not exist.
func (r *Repo) DeleteByID(ctx context.Context, id uuid.UUID) error {
	querier := postgres.QuerierFromCtx(ctx, r.pool)

	tag, err := querier.Exec(ctx, deleteByIDSQL, id)
	if err != nil {
		return mapError(err, "revlog", id)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("revlog %s: %w", id, domain.ErrNotFound)
	}

	return nil
}

// LastForCard returns the most recent row of a card.
// Returns domain.ErrNotFound when the card has never been answered.
func (r *Repo) LastForCard(ctx context.Context, cardID uuid.UUID) (domain.ReviewLog, error) {
	querier := postgres.QuerierFromCtx(ctx, r.pool)

	rows, err := querier.Query(ctx, lastForCardSQL, cardID)
	if err != nil {
		return domain.ReviewLog{}, mapError(err, "revlog", cardID)
	}

	entry, err := pgx.CollectOneRow(rows, scanEntry)
	if err != nil {
		return domain.ReviewLog{}, mapError(err, "revlog", cardID)
	}

	return entry, nil
}

// ByCard returns all rows of a card in answer order.
func (r *Repo) ByCard(ctx context.Context, cardID uuid.UUID) ([]domain.ReviewLog, error) {
	querier := postgres.QuerierFromCtx(ctx, r.pool)

	rows, err := querier.Query(ctx, byCardSQL, cardID)
	if err != nil {
		return nil, fmt.Errorf("revlog by card: %w", err)
	}

	entries, err := pgx.CollectRows(rows, scanEntry)
	if err != nil {
		return nil, fmt.Errorf("revlog by card: %w", err)
	}
	if entries == nil {
		entries = []domain.ReviewLog{}
	}

	return entries, nil
}

// StudiedToday aggregates the rows recorded since the given moment.
func (r *Repo) StudiedToday(ctx context.Context, since time.Time) (domain.StudiedToday, error) {
	querier := postgres.QuerierFromCtx(ctx, r.pool)

	var out domain.StudiedToday
	if err := querier.QueryRow(ctx, studiedTodaySQL, since).Scan(&out.Cards, &out.TimeTakenMs); err != nil {
		return domain.StudiedToday{}, fmt.Errorf("studied today: %w", err)
	}

	return out, nil
}

// ---------------------------------------------------------------------------
// Row mapping
// ---------------------------------------------------------------------------

// snapshotRow is the jsonb shape of the pre-answer card snapshot. Due values
// flatten to their (kind, raw) pair.
type snapshotRow struct {
	DeckID      uuid.UUID `json:"deck_id"`
	HomeDeckID  uuid.UUID `json:"home_deck_id"`
	Queue       string    `json:"queue"`
	Type        string    `json:"type"`
	DueKind     int       `json:"due_kind"`
	DueVal      int64     `json:"due_val"`
	HomeDueKind *int      `json:"home_due_kind,omitempty"`
	HomeDueVal  *int64    `json:"home_due_val,omitempty"`
	FilteredPos int       `json:"filtered_pos"`
	Interval    int       `json:"interval_days"`
	Factor      int       `json:"factor"`
	Reps        int       `json:"reps"`
	Lapses      int       `json:"lapses"`
	LeftRemain  int       `json:"left_remaining"`
	LeftToday   int       `json:"left_today"`
	Position    int       `json:"position"`
}

func marshalSnapshot(s *domain.CardSnapshot) ([]byte, error) {
	if s == nil {
		return nil, nil
	}

	row := snapshotRow{
		DeckID:      s.DeckID,
		HomeDeckID:  s.HomeDeckID,
		Queue:       string(s.Queue),
		Type:        string(s.Type),
		DueKind:     int(s.Due.Kind),
		DueVal:      s.Due.Raw(),
		FilteredPos: s.FilteredPos,
		Interval:    s.IntervalDays,
		Factor:      s.Factor,
		Reps:        s.Reps,
		Lapses:      s.Lapses,
		LeftRemain:  s.Left.Remaining,
		LeftToday:   s.Left.Today,
		Position:    s.Position,
	}
	if s.HasHomeDue {
		kind := int(s.HomeDue.Kind)
		val := s.HomeDue.Raw()
		row.HomeDueKind = &kind
		row.HomeDueVal = &val
	}

	return json.Marshal(row)
}

func unmarshalSnapshot(data []byte) (*domain.CardSnapshot, error) {
	if len(data) == 0 {
		return nil, nil
	}

	var row snapshotRow
	if err := json.Unmarshal(data, &row); err != nil {
		return nil, err
	}

	s := &domain.CardSnapshot{
		DeckID:       row.DeckID,
		HomeDeckID:   row.HomeDeckID,
		Queue:        domain.Queue(row.Queue),
		Type:         domain.CardType(row.Type),
		Due:          dueFromPair(row.DueKind, row.DueVal),
		FilteredPos:  row.FilteredPos,
		IntervalDays: row.Interval,
		Factor:       row.Factor,
		Reps:         row.Reps,
		Lapses:       row.Lapses,
		Left:         domain.StepsLeft{Remaining: row.LeftRemain, Today: row.LeftToday},
		Position:     row.Position,
	}
	if row.HomeDueKind != nil && row.HomeDueVal != nil {
		s.HomeDue = dueFromPair(*row.HomeDueKind, *row.HomeDueVal)
		s.HasHomeDue = true
	}

	return s, nil
}

func dueFromPair(kind int, val int64) domain.DueValue {
	switch domain.DueKind(kind) {
	case domain.DueStamp:
		return domain.DueAt(time.Unix(val, 0))
	case domain.DuePosition:
		return domain.DueAtPosition(int(val))
	default:
		return domain.DueOnDay(int(val))
	}
}

func scanEntry(row pgx.CollectableRow) (domain.ReviewLog, error) {
	var (
		e         domain.ReviewLog
		ease      int16
		kind      string
		prevState []byte
	)

	err := row.Scan(
		&e.ID, &e.CardID, &ease, &e.Interval, &e.LastInterval, &e.Factor,
		&e.TimeTakenMs, &kind, &prevState, &e.ReviewedAt,
	)
	if err != nil {
		return domain.ReviewLog{}, err
	}

	e.Ease = domain.Ease(ease)
	e.Kind = domain.ReviewKind(kind)
	e.PrevState, err = unmarshalSnapshot(prevState)
	if err != nil {
		return domain.ReviewLog{}, fmt.Errorf("prev state: %w", err)
	}

	return e, nil
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
