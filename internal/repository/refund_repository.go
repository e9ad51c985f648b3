package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/digkill/TGSubscriptionBot/internal/models"
)

type RefundRepository struct {
	db *sql.DB
}

func NewRefundRepository(db *sql.DB) *RefundRepository {
	return &RefundRepository{db: db}
}

const refundColumns = `id, payment_id, external_refund_id, amount, currency, status, reason, created_at, updated_at`

func scanRefund(row rowScanner) (*models.Refund, error) {
	var rf models.Refund
	var externalID sql.NullString
	err := row.Scan(&rf.ID, &rf.PaymentID, &externalID, &rf.Amount, &rf.Currency, &rf.Status, &rf.Reason, &rf.CreatedAt, &rf.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("scan refund: %w", err)
	}
	if externalID.Valid {
		rf.ExternalRefundID = &externalID.String
	}
	return &rf, nil
}

func (r *RefundRepository) Create(ctx context.Context, q Querier, rf *models.Refund) error {
	const query = `
INSERT INTO refunds (payment_id, external_refund_id, amount, currency, status, reason)
VALUES (?, ?, ?, ?, ?, ?)`
	var externalID any
	if rf.ExternalRefundID != nil {
		externalID = *rf.ExternalRefundID
	}
	res, err := q.ExecContext(ctx, query, rf.PaymentID, externalID, rf.Amount, rf.Currency, rf.Status, rf.Reason)
	if err != nil {
		return fmt.Errorf("insert refund: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("refund last insert id: %w", err)
	}
	rf.ID = id
	return nil
}

// SetResult records the gateway outcome for a pending refund.
func (r *RefundRepository) SetResult(ctx context.Context, id int64, externalRefundID *string, status models.RefundStatus) error {
	const query = `UPDATE refunds SET external_refund_id = ?, status = ?, updated_at = NOW() WHERE id = ?`
	var externalID any
	if externalRefundID != nil {
		externalID = *externalRefundID
	}
	if _, err := r.db.ExecContext(ctx, query, externalID, status, id); err != nil {
		return fmt.Errorf("set refund result: %w", err)
	}
	return nil
}

// ReservedAmount sums refunds that already hold part of the payment: succeeded
// ones plus pending ones that may still succeed.
func (r *RefundRepository) ReservedAmount(ctx context.Context, q Querier, paymentID int64) (int64, error) {
	const query = `
SELECT COALESCE(SUM(amount), 0) FROM refunds
WHERE payment_id = ? AND status IN ('pending', 'succeeded')`
	var total int64
	if err := q.QueryRowContext(ctx, query, paymentID).Scan(&total); err != nil {
		return 0, fmt.Errorf("sum refunds: %w", err)
	}
	return total, nil
}

func (r *RefundRepository) ListByPayment(ctx context.Context, paymentID int64) ([]models.Refund, error) {
	const query = `SELECT ` + refundColumns + ` FROM refunds WHERE payment_id = ? ORDER BY id ASC`
	rows, err := r.db.QueryContext(ctx, query, paymentID)
	if err != nil {
		return nil, fmt.Errorf("list refunds: %w", err)
	}
	defer rows.Close()

	var refunds []models.Refund
	for rows.Next() {
		rf, err := scanRefund(rows)
		if err != nil {
			return nil, err
		}
		refunds = append(refunds, *rf)
	}
	return refunds, rows.Err()
}
