package postgres

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"dex-trade-core/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Token amounts are NUMERIC(78,0); they travel as decimal text in both directions.
const orderColumnList = `id, wallet_id, user_id, direction, quote_id, token_in, token_out,
		amount_in::text, expected_amount_out::text, min_amount_out::text, max_amount_in::text,
		tx_hash, nonce, state, failure_reason, gas_used, block_number, client_ref,
		created_at, submitted_at, finalized_at`

// OrderRepo implements ports.OrderRepository.
type OrderRepo struct {
	pool Pool
}

// NewOrderRepo creates a new OrderRepo.
func NewOrderRepo(pool Pool) *OrderRepo {
	return &OrderRepo{pool: pool}
}

// Insert writes the order and its first event in one transaction.
func (r *OrderRepo) Insert(ctx context.Context, o *domain.Order, event *domain.OrderEvent) error {
	query := `INSERT INTO orders (id, wallet_id, user_id, direction, quote_id, token_in, token_out,
		amount_in, expected_amount_out, min_amount_out, max_amount_in,
		tx_hash, nonce, state, failure_reason, gas_used, block_number, client_ref,
		created_at, submitted_at, finalized_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8::numeric, $9::numeric, $10::numeric, $11::numeric,
		$12, $13, $14, $15, $16, $17, $18, $19, $20, $21)`

	return inTx(ctx, r.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, query,
			o.ID, o.WalletID, o.UserID, string(o.Direction), o.QuoteID, o.TokenIn, o.TokenOut,
			numericText(o.AmountIn), numericText(o.ExpectedAmountOut), numericText(o.MinAmountOut), numericText(o.MaxAmountIn),
			o.TxHash, toInt64(o.Nonce), string(o.State), o.FailureReason, toInt64(o.GasUsed), toInt64(o.BlockNumber), o.ClientRef,
			o.CreatedAt, o.SubmittedAt, o.FinalizedAt,
		)
		if err != nil {
			return fmt.Errorf("insert order: %w", mapUnique(err))
		}
		if event != nil {
			return insertEvent(ctx, tx, event)
		}
		return nil
	})
}

// CompareAndSetState moves an order from -> to and appends the event.
// Nil detail fields leave the stored column untouched.
func (r *OrderRepo) CompareAndSetState(ctx context.Context, id uuid.UUID, from, to domain.OrderState, d domain.TransitionDetails, event *domain.OrderEvent) (bool, error) {
	var submittedAt, finalizedAt *time.Time
	if to == domain.OrderStateSubmitted {
		submittedAt = &d.At
	}
	if to.IsTerminal() {
		finalizedAt = &d.At
	}

	query := `UPDATE orders SET state = $1,
			tx_hash = COALESCE($2, tx_hash),
			failure_reason = COALESCE($3, failure_reason),
			gas_used = COALESCE($4, gas_used),
			block_number = COALESCE($5, block_number),
			submitted_at = COALESCE($6, submitted_at),
			finalized_at = COALESCE($7, finalized_at)
		WHERE id = $8 AND state = $9`

	var moved bool
	err := inTx(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, query,
			string(to), d.TxHash, d.FailureReason, toInt64(d.GasUsed), toInt64(d.BlockNumber),
			submittedAt, finalizedAt, id, string(from),
		)
		if err != nil {
			return fmt.Errorf("update order state: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return nil
		}
		moved = true
		if event != nil {
			return insertEvent(ctx, tx, event)
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	return moved, nil
}

// AppendEvent adds a history row without touching the order.
func (r *OrderRepo) AppendEvent(ctx context.Context, event *domain.OrderEvent) error {
	return insertEvent(ctx, r.pool, event)
}

// GetByID fetches an order by UUID.
func (r *OrderRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	query := `SELECT ` + orderColumnList + ` FROM orders WHERE id = $1`

	o, err := scanOrder(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get order by id: %w", err)
	}
	return o, nil
}

// ListByWallet returns a wallet's orders, newest first.
func (r *OrderRepo) ListByWallet(ctx context.Context, walletID uuid.UUID, limit int) ([]domain.Order, error) {
	query := `SELECT ` + orderColumnList + ` FROM orders WHERE wallet_id = $1 ORDER BY created_at DESC LIMIT $2`
	return r.list(ctx, query, walletID, limit)
}

// ListByState returns orders matching f, oldest submission first. Paging is
// keyset on (submitted_at, id) so rows sharing a timestamp are never skipped.
func (r *OrderRepo) ListByState(ctx context.Context, f domain.OrderFilter) ([]domain.Order, error) {
	var q strings.Builder
	args := []any{string(f.State)}
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	q.WriteString(`SELECT ` + orderColumnList + ` FROM orders
		WHERE state = $1 AND submitted_at IS NOT NULL`)
	if !f.SubmittedAfter.IsZero() {
		q.WriteString(" AND submitted_at >= " + next(f.SubmittedAfter))
	}
	if !f.SubmittedBefore.IsZero() {
		q.WriteString(" AND submitted_at < " + next(f.SubmittedBefore))
	}
	if f.After != nil {
		ts := next(f.After.SubmittedAt)
		q.WriteString(" AND (submitted_at, id) > (" + ts + ", " + next(f.After.ID) + ")")
	}
	if f.SkipNotePrefix != "" {
		q.WriteString(` AND NOT EXISTS (SELECT 1 FROM order_events e
			WHERE e.order_id = orders.id AND e.from_state = e.to_state
			AND starts_with(e.note, ` + next(f.SkipNotePrefix) + `))`)
	}
	q.WriteString(" ORDER BY submitted_at ASC, id ASC")
	if f.Limit > 0 {
		q.WriteString(" LIMIT " + next(f.Limit))
	}
	return r.list(ctx, q.String(), args...)
}

// ListEvents returns an order's history in insertion order.
func (r *OrderRepo) ListEvents(ctx context.Context, orderID uuid.UUID) ([]domain.OrderEvent, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, order_id, from_state, to_state, note, created_at
		 FROM order_events WHERE order_id = $1 ORDER BY seq ASC`, orderID)
	if err != nil {
		return nil, fmt.Errorf("list order events: %w", err)
	}
	defer rows.Close()

	var events []domain.OrderEvent
	for rows.Next() {
		var e domain.OrderEvent
		var from, to string
		if err := rows.Scan(&e.ID, &e.OrderID, &from, &to, &e.Note, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan order event: %w", err)
		}
		e.FromState, e.ToState = domain.OrderState(from), domain.OrderState(to)
		events = append(events, e)
	}
	return events, rows.Err()
}

func (r *OrderRepo) list(ctx context.Context, query string, args ...any) ([]domain.Order, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	var orders []domain.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, *o)
	}
	return orders, rows.Err()
}

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func insertEvent(ctx context.Context, db execer, e *domain.OrderEvent) error {
	_, err := db.Exec(ctx,
		`INSERT INTO order_events (id, order_id, from_state, to_state, note, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		e.ID, e.OrderID, string(e.FromState), string(e.ToState), e.Note, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert order event: %w", err)
	}
	return nil
}

func scanOrder(row pgx.Row) (*domain.Order, error) {
	o := &domain.Order{}
	var direction, state string
	var amountIn, expectedOut string
	var minOut, maxIn *string
	var nonce, gasUsed, block *int64
	err := row.Scan(
		&o.ID, &o.WalletID, &o.UserID, &direction, &o.QuoteID, &o.TokenIn, &o.TokenOut,
		&amountIn, &expectedOut, &minOut, &maxIn,
		&o.TxHash, &nonce, &state, &o.FailureReason, &gasUsed, &block, &o.ClientRef,
		&o.CreatedAt, &o.SubmittedAt, &o.FinalizedAt,
	)
	if err != nil {
		return nil, err
	}
	o.Direction, o.State = domain.Direction(direction), domain.OrderState(state)
	o.Nonce, o.GasUsed, o.BlockNumber = toUint64(nonce), toUint64(gasUsed), toUint64(block)

	if o.AmountIn, err = parseNumeric(&amountIn); err != nil {
		return nil, err
	}
	if o.ExpectedAmountOut, err = parseNumeric(&expectedOut); err != nil {
		return nil, err
	}
	if o.MinAmountOut, err = parseNumeric(minOut); err != nil {
		return nil, err
	}
	if o.MaxAmountIn, err = parseNumeric(maxIn); err != nil {
		return nil, err
	}
	return o, nil
}

func numericText(v *big.Int) *string {
	if v == nil {
		return nil
	}
	s := v.String()
	return &s
}

func parseNumeric(s *string) (*big.Int, error) {
	if s == nil {
		return nil, nil
	}
	v, ok := new(big.Int).SetString(*s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid numeric %q", *s)
	}
	return v, nil
}

func toInt64(v *uint64) *int64 {
	if v == nil {
		return nil
	}
	n := int64(*v)
	return &n
}

func toUint64(v *int64) *uint64 {
	if v == nil {
		return nil
	}
	n := uint64(*v)
	return &n
}
