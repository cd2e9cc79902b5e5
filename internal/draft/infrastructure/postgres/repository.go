package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tytya04/zakupki/internal/draft/application"
	"github.com/tytya04/zakupki/internal/draft/domain"
	"github.com/tytya04/zakupki/pkg/outbox"
)

// branch_id is nullable but takes part in the open-draft uniqueness index, so
// the index and the ON CONFLICT arbiter coalesce it to the nil uuid.
const nilBranch = "00000000-0000-0000-0000-000000000000"

type Repository struct {
	log  *slog.Logger
	pool *pgxpool.Pool
}

func NewRepository(log *slog.Logger, pool *pgxpool.Pool) *Repository {
	return &Repository{log: log, pool: pool}
}

// GetOrCreate returns the open draft for the scope, inserting one when none
// exists. The partial unique index on (restaurant, branch, scheduled_for)
// WHERE status='draft' makes concurrent first mentions collapse into a single
// draft: the loser's insert is a no-op and both read the same row back.
func (r *Repository) GetOrCreate(ctx context.Context, scope domain.Scope, operatorID uuid.UUID) (domain.DraftOrder, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return domain.DraftOrder{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	now := time.Now().UTC()
	_, err = tx.Exec(ctx, `
		INSERT INTO draft_orders (id, restaurant_id, branch_id, operator_id, scheduled_for, status, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, 'draft', 1, $6, $6)
		ON CONFLICT (restaurant_id, COALESCE(branch_id, '`+nilBranch+`'::uuid), scheduled_for)
			WHERE status = 'draft'
		DO NOTHING`,
		uuid.New(), scope.RestaurantID, scope.BranchID, operatorID, scope.ScheduledFor, now)
	if err != nil {
		return domain.DraftOrder{}, fmt.Errorf("insert draft: %w", err)
	}

	var d domain.DraftOrder
	err = tx.QueryRow(ctx, `
		SELECT id, restaurant_id, branch_id, operator_id, scheduled_for, status, version, created_at, updated_at
		FROM draft_orders
		WHERE restaurant_id = $1
		  AND COALESCE(branch_id, '`+nilBranch+`'::uuid) = COALESCE($2, '`+nilBranch+`'::uuid)
		  AND scheduled_for = $3
		  AND status = 'draft'`,
		scope.RestaurantID, scope.BranchID, scope.ScheduledFor).
		Scan(&d.ID, &d.RestaurantID, &d.BranchID, &d.OperatorID, &d.ScheduledFor, &d.Status, &d.Version, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return domain.DraftOrder{}, fmt.Errorf("select open draft: %w", err)
	}

	if d.Lines, err = loadLines(ctx, tx, d.ID); err != nil {
		return domain.DraftOrder{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return domain.DraftOrder{}, err
	}
	return d, nil
}

func (r *Repository) Get(ctx context.Context, id uuid.UUID) (domain.DraftOrder, error) {
	var d domain.DraftOrder
	err := r.pool.QueryRow(ctx, `
		SELECT id, restaurant_id, branch_id, operator_id, scheduled_for, status, version, created_at, updated_at
		FROM draft_orders WHERE id = $1`, id).
		Scan(&d.ID, &d.RestaurantID, &d.BranchID, &d.OperatorID, &d.ScheduledFor, &d.Status, &d.Version, &d.CreatedAt, &d.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.DraftOrder{}, application.ErrDraftNotFound
	}
	if err != nil {
		return domain.DraftOrder{}, err
	}
	if d.Lines, err = loadLines(ctx, r.pool, d.ID); err != nil {
		return domain.DraftOrder{}, err
	}
	return d, nil
}

func (r *Repository) AppendLines(ctx context.Context, draftID uuid.UUID, version int, lines []domain.DraftLine) error {
	return r.mutate(ctx, draftID, version, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, l := range lines {
			batch.Queue(`
				INSERT INTO draft_lines (id, draft_order_id, display_name, original_text, quantity, unit, status, matched_product_id, added_by, created_at, updated_at)
				VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
				l.ID, l.DraftOrderID, l.DisplayName, l.OriginalText, l.Quantity, l.Unit, l.Status, l.MatchedProductID, l.AddedBy, l.CreatedAt, l.UpdatedAt)
		}
		return tx.SendBatch(ctx, batch).Close()
	})
}

func (r *Repository) UpdateLine(ctx context.Context, draftID uuid.UUID, version int, line domain.DraftLine) error {
	return r.mutate(ctx, draftID, version, func(tx pgx.Tx) error {
		ct, err := tx.Exec(ctx, `
			UPDATE draft_lines
			SET display_name=$3, quantity=$4, unit=$5, status=$6, matched_product_id=$7, updated_at=now()
			WHERE id=$1 AND draft_order_id=$2`,
			line.ID, draftID, line.DisplayName, line.Quantity, line.Unit, line.Status, line.MatchedProductID)
		if err != nil {
			return err
		}
		if ct.RowsAffected() == 0 {
			return domain.ErrLineNotFound
		}
		return nil
	})
}

func (r *Repository) DeleteLine(ctx context.Context, draftID uuid.UUID, version int, lineID uuid.UUID) error {
	return r.mutate(ctx, draftID, version, func(tx pgx.Tx) error {
		ct, err := tx.Exec(ctx, `DELETE FROM draft_lines WHERE id=$1 AND draft_order_id=$2`, lineID, draftID)
		if err != nil {
			return err
		}
		if ct.RowsAffected() == 0 {
			return domain.ErrLineNotFound
		}
		return nil
	})
}

// mutate is the shared transactional boundary of line mutations: the version
// bump doubles as the optimistic lock, so an edit computed against a stale
// line set fails with ErrStaleDraft instead of overwriting a concurrent win.
func (r *Repository) mutate(ctx context.Context, draftID uuid.UUID, version int, fn func(tx pgx.Tx) error) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	ct, err := tx.Exec(ctx, `
		UPDATE draft_orders SET version = version + 1, updated_at = now()
		WHERE id = $1 AND version = $2 AND status = 'draft'`, draftID, version)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return r.classifyGuardFailure(ctx, draftID)
	}
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *Repository) classifyGuardFailure(ctx context.Context, draftID uuid.UUID) error {
	var status domain.DraftStatus
	err := r.pool.QueryRow(ctx, `SELECT status FROM draft_orders WHERE id = $1`, draftID).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return application.ErrDraftNotFound
	}
	if err != nil {
		return err
	}
	if status != domain.StatusDraft {
		return domain.ErrDraftNotEditable
	}
	return application.ErrStaleDraft
}

// Convert cuts the draft over inside a single transaction: the row lock keeps
// any line edit from landing after the lines were copied into the firm order.
func (r *Repository) Convert(ctx context.Context, draftID uuid.UUID, traceparent string) (domain.FirmOrder, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return domain.FirmOrder{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var d domain.DraftOrder
	err = tx.QueryRow(ctx, `
		SELECT id, restaurant_id, branch_id, operator_id, scheduled_for, status, version, created_at, updated_at
		FROM draft_orders WHERE id = $1 FOR UPDATE`, draftID).
		Scan(&d.ID, &d.RestaurantID, &d.BranchID, &d.OperatorID, &d.ScheduledFor, &d.Status, &d.Version, &d.CreatedAt, &d.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.FirmOrder{}, application.ErrDraftNotFound
	}
	if err != nil {
		return domain.FirmOrder{}, err
	}
	if d.Lines, err = loadLines(ctx, tx, d.ID); err != nil {
		return domain.FirmOrder{}, err
	}

	fo, err := domain.NewFirmOrder(d)
	if err != nil {
		return domain.FirmOrder{}, err
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO firm_orders (id, draft_order_id, restaurant_id, branch_id, operator_id, scheduled_for, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		fo.ID, fo.DraftOrderID, fo.RestaurantID, fo.BranchID, fo.OperatorID, fo.ScheduledFor, fo.CreatedAt)
	if err != nil {
		return domain.FirmOrder{}, fmt.Errorf("insert firm order: %w", err)
	}

	batch := &pgx.Batch{}
	for _, l := range fo.Lines {
		batch.Queue(`
			INSERT INTO firm_order_lines (id, firm_order_id, product_id, display_name, quantity, unit)
			VALUES ($1,$2,$3,$4,$5,$6)`,
			l.ID, l.FirmOrderID, l.ProductID, l.DisplayName, l.Quantity, l.Unit)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return domain.FirmOrder{}, fmt.Errorf("insert firm lines: %w", err)
	}

	_, err = tx.Exec(ctx, `
		UPDATE draft_orders SET status='sent', version=version+1, updated_at=now() WHERE id=$1`, draftID)
	if err != nil {
		return domain.FirmOrder{}, err
	}

	payload, err := json.Marshal(convertedEvent(fo))
	if err != nil {
		return domain.FirmOrder{}, err
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO outbox (aggregate_type, aggregate_id, type, payload, headers, traceparent, status)
		VALUES ('draft_order', $1, 'DraftConverted', $2, $3, $4, 'pending')`,
		draftID.String(), payload, map[string]string{"source": "procurement-service"}, traceparent)
	if err != nil {
		return domain.FirmOrder{}, fmt.Errorf("insert outbox: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.FirmOrder{}, err
	}
	return fo, nil
}

func (r *Repository) Cancel(ctx context.Context, draftID uuid.UUID) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var status domain.DraftStatus
	err = tx.QueryRow(ctx, `SELECT status FROM draft_orders WHERE id = $1 FOR UPDATE`, draftID).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return application.ErrDraftNotFound
	}
	if err != nil {
		return err
	}
	if status != domain.StatusDraft {
		return domain.ErrDraftNotEditable
	}
	_, err = tx.Exec(ctx, `
		UPDATE draft_orders SET status='cancelled', version=version+1, updated_at=now() WHERE id=$1`, draftID)
	if err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func convertedEvent(fo domain.FirmOrder) domain.DraftConverted {
	ev := domain.DraftConverted{
		DraftOrderID: fo.DraftOrderID,
		FirmOrderID:  fo.ID,
		RestaurantID: fo.RestaurantID,
		BranchID:     fo.BranchID,
		ScheduledFor: fo.ScheduledFor,
	}
	for _, l := range fo.Lines {
		ev.Lines = append(ev.Lines, domain.DraftConvertedLine{
			ProductID:   l.ProductID,
			DisplayName: l.DisplayName,
			Quantity:    l.Quantity,
			Unit:        l.Unit,
		})
	}
	return ev
}

type queryer interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func loadLines(ctx context.Context, q queryer, draftID uuid.UUID) ([]domain.DraftLine, error) {
	rows, err := q.Query(ctx, `
		SELECT id, draft_order_id, display_name, original_text, quantity, unit, status, matched_product_id, added_by, created_at, updated_at
		FROM draft_lines WHERE draft_order_id = $1
		ORDER BY created_at, id`, draftID)
	if err != nil {
		return nil, fmt.Errorf("load lines: %w", err)
	}
	defer rows.Close()

	var lines []domain.DraftLine
	for rows.Next() {
		var l domain.DraftLine
		if err := rows.Scan(&l.ID, &l.DraftOrderID, &l.DisplayName, &l.OriginalText, &l.Quantity, &l.Unit, &l.Status, &l.MatchedProductID, &l.AddedBy, &l.CreatedAt, &l.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan line: %w", err)
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

// OutboxStore implements the relay's persistence side on the same pool.
type OutboxStore struct {
	log  *slog.Logger
	pool *pgxpool.Pool
}

func NewOutboxStore(log *slog.Logger, pool *pgxpool.Pool) *OutboxStore {
	return &OutboxStore{log: log, pool: pool}
}

func (s *OutboxStore) LockBatch(ctx context.Context, relayID string, batchSize int, lease time.Duration) ([]outbox.Event, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx, `
		SELECT id, aggregate_type, aggregate_id, type, payload, headers, traceparent, created_at
		FROM outbox
		WHERE status = 'pending'
		   OR (status = 'in_progress' AND lease_until < now())
		ORDER BY id
		FOR UPDATE SKIP LOCKED
		LIMIT $1`, batchSize)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []outbox.Event
	for rows.Next() {
		var event outbox.Event
		if err := rows.Scan(&event.ID, &event.AggregateType, &event.AggregateID, &event.Type, &event.Payload, &event.Headers, &event.Traceparent, &event.CreatedAt); err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, tx.Commit(ctx)
	}

	ids := make([]int64, 0, len(events))
	for _, ev := range events {
		ids = append(ids, ev.ID)
	}
	_, err = tx.Exec(ctx, `
		UPDATE outbox SET status='in_progress', relay_id=$1, lease_until=now() + $2::interval
		WHERE id = ANY($3)`, relayID, lease.String(), ids)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return events, nil
}

func (s *OutboxStore) MarkSent(ctx context.Context, ids []int64) error {
	ct, err := s.pool.Exec(ctx, `UPDATE outbox SET status='sent' WHERE id = ANY($1)`, ids)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return errors.New("no outbox rows updated")
	}
	return nil
}

func (s *OutboxStore) MarkFailed(ctx context.Context, id int64, errMsg string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE outbox SET status='failed', last_error=$2, retry_count=retry_count+1 WHERE id=$1`, id, errMsg)
	return err
}

func (s *OutboxStore) ExtendLease(ctx context.Context, relayID string, ids []int64, lease time.Duration) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE outbox SET lease_until=now() + $1::interval WHERE id = ANY($2) AND relay_id=$3`,
		lease.String(), ids, relayID)
	return err
}
