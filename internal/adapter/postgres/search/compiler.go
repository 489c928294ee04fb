// Package search compiles the filtered-deck search subset into SQL over the
// cards table. It understands deck:, is: and added: terms with optional
// negation; anything fancier stays outside the scheduling core.
package search

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	postgres "github.com/heartmarshall/recall-backend/internal/adapter/postgres"
	"github.com/heartmarshall/recall-backend/internal/domain"
)

// Clock reports the collection's current day number and the learn-ahead
// cutoff; due-ness depends on both.
type Clock func() (today int, cutoff time.Time)

// Compiler evaluates search expressions against the cards table.
type Compiler struct {
	pool  *pgxpool.Pool
	clock Clock
}

// New creates a search compiler. The clock supplies the day number and
// learn-ahead cutoff used by is:due.
func New(pool *pgxpool.Pool, clock Clock) *Compiler {
	return &Compiler{pool: pool, clock: clock}
}

// FindCardIDs evaluates a search expression and returns matching card ids in
// the requested order. An empty search matches the whole collection.
//
// Cards already homed in a filtered deck never match; suspended and buried
// cards are excluded unless the search asks for them by state.
func (c *Compiler) FindCardIDs(ctx context.Context, search string, order domain.FilteredOrder, limit int) ([]uuid.UUID, error) {
	terms, err := parse(search)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}

	qb := sq.Select("cards.id").
		From("cards").
		PlaceholderFormat(sq.Dollar).
		Where(sq.Expr("cards.home_deck_id IS NULL")).
		Where(sq.Expr("cards.deck_id NOT IN (SELECT id FROM decks WHERE filtered)"))

	mentionsState := false
	for _, t := range terms {
		if t.key == "is" && (t.value == "suspended" || t.value == "buried") {
			mentionsState = true
		}

		cond, err := c.condition(t)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrValidation, err)
		}
		qb = qb.Where(cond)
	}

	if !mentionsState {
		qb = qb.Where(sq.NotEq{"cards.queue": []string{
			string(domain.QueueSuspended),
			string(domain.QueueSchedBuried),
			string(domain.QueueUserBuried),
		}})
	}

	qb = qb.OrderBy(orderClause(order))
	if limit > 0 {
		qb = qb.Limit(uint64(limit))
	}

	sql, args, err := qb.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build search query: %w", err)
	}

	querier := postgres.QuerierFromCtx(ctx, c.pool)

	rows, err := querier.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("find card ids: %w", err)
	}

	ids, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (uuid.UUID, error) {
		var id uuid.UUID
		err := row.Scan(&id)
		return id, err
	})
	if err != nil {
		return nil, fmt.Errorf("find card ids: %w", err)
	}
	if ids == nil {
		ids = []uuid.UUID{}
	}

	return ids, nil
}

// ---------------------------------------------------------------------------
// Parsing
// ---------------------------------------------------------------------------

type term struct {
	key     string // "deck", "is", "added"
	value   string
	negated bool
}

// parse splits the expression into key:value terms. Values may be quoted to
// include spaces; a leading '-' negates the term.
func parse(search string) ([]term, error) {
	var terms []term

	for _, tok := range tokenize(search) {
		negated := false
		if strings.HasPrefix(tok, "-") {
			negated = true
			tok = tok[1:]
		}

		key, value, ok := strings.Cut(tok, ":")
		if !ok {
			return nil, fmt.Errorf("unsupported search term %q", tok)
		}
		value = strings.Trim(value, `"`)
		if value == "" {
			return nil, fmt.Errorf("empty value in term %q", tok)
		}

		switch key {
		case "deck", "is", "added":
		default:
			return nil, fmt.Errorf("unsupported search key %q", key)
		}

		terms = append(terms, term{key: key, value: value, negated: negated})
	}

	return terms, nil
}

// tokenize splits on whitespace, keeping double-quoted spans intact.
func tokenize(s string) []string {
	var (
		out      []string
		current  strings.Builder
		inQuotes bool
	)

	for _, r := range s {
		switch {
		case r == '"':
			inQuotes = !inQuotes
			current.WriteRune(r)
		case !inQuotes && (r == ' ' || r == '\t' || r == '\n'):
			if current.Len() > 0 {
				out = append(out, current.String())
				current.Reset()
			}
		default:
			current.WriteRune(r)
		}
	}
	if current.Len() > 0 {
		out = append(out, current.String())
	}

	return out
}

// ---------------------------------------------------------------------------
// Compilation
// ---------------------------------------------------------------------------

func (c *Compiler) condition(t term) (sq.Sqlizer, error) {
	var cond sq.Sqlizer

	switch t.key {
	case "deck":
		cond = deckCondition(t.value)
	case "is":
		var err error
		cond, err = c.isCondition(t.value)
		if err != nil {
			return nil, err
		}
	case "added":
		days, err := strconv.Atoi(t.value)
		if err != nil || days < 1 {
			return nil, fmt.Errorf("added: wants a positive day count, got %q", t.value)
		}
		cond = sq.Expr("cards.created_at >= now() - make_interval(days => ?)", days)
	}

	if t.negated {
		cond = notExpr(cond)
	}

	return cond, nil
}

// deckCondition matches a deck and its whole subtree by path name. The
// special name "filtered" matches cards living in any filtered deck.
func deckCondition(name string) sq.Sqlizer {
	if strings.EqualFold(name, "filtered") {
		return sq.Expr("cards.deck_id IN (SELECT id FROM decks WHERE filtered)")
	}

	return sq.Expr(
		"cards.deck_id IN (SELECT id FROM decks WHERE name = ? OR name LIKE ? || '::%')",
		name, name,
	)
}

func (c *Compiler) isCondition(state string) (sq.Sqlizer, error) {
	switch state {
	case "due":
		today, cutoff := c.clock()
		return sq.Or{
			sq.And{
				sq.Eq{"cards.queue": []string{
					string(domain.QueueReview),
					string(domain.QueueDayLearning),
				}},
				sq.LtOrEq{"cards.due_val": today},
			},
			sq.And{
				sq.Eq{"cards.queue": string(domain.QueueLearning)},
				sq.Lt{"cards.due_val": cutoff.Unix()},
			},
		}, nil
	case "new":
		return sq.Eq{"cards.queue": string(domain.QueueNew)}, nil
	case "learn":
		return sq.Eq{"cards.queue": []string{
			string(domain.QueueLearning),
			string(domain.QueueDayLearning),
		}}, nil
	case "review":
		return sq.Eq{"cards.type": string(domain.CardTypeReview)}, nil
	case "suspended":
		return sq.Eq{"cards.queue": string(domain.QueueSuspended)}, nil
	case "buried":
		return sq.Eq{"cards.queue": []string{
			string(domain.QueueSchedBuried),
			string(domain.QueueUserBuried),
		}}, nil
	default:
		return nil, fmt.Errorf("unsupported is: state %q", state)
	}
}

func notExpr(inner sq.Sqlizer) sq.Sqlizer {
	sql, args, err := inner.ToSql()
	if err != nil {
		return inner
	}
	return sq.Expr("NOT ("+sql+")", args...)
}

func orderClause(order domain.FilteredOrder) string {
	switch order {
	case domain.FilteredOrderRandom:
		return "random()"
	case domain.FilteredOrderAdded:
		return "cards.created_at, cards.id"
	case domain.FilteredOrderOldestSeen:
		return "(SELECT max(reviewed_at) FROM revlog WHERE revlog.card_id = cards.id) NULLS FIRST, cards.id"
	default: // DUE
		return "cards.due_val, cards.id"
	}
}
