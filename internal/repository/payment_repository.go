package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/digkill/TGSubscriptionBot/internal/models"
)

type PaymentRepository struct {
	db *sql.DB
}

func NewPaymentRepository(db *sql.DB) *PaymentRepository {
	return &PaymentRepository{db: db}
}

func (r *PaymentRepository) DB() *sql.DB {
	return r.db
}

const paymentColumns = `id, user_id, subscription_id, amount, currency, status, external_id, redirect_url, created_at, updated_at`

func scanPayment(row rowScanner) (*models.Payment, error) {
	var p models.Payment
	var subID sql.NullInt64
	var externalID, redirectURL sql.NullString
	err := row.Scan(&p.ID, &p.UserID, &subID, &p.Amount, &p.Currency, &p.Status, &externalID, &redirectURL, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan payment: %w", err)
	}
	if subID.Valid {
		p.SubscriptionID = &subID.Int64
	}
	if externalID.Valid {
		p.ExternalID = &externalID.String
	}
	if redirectURL.Valid {
		p.RedirectURL = &redirectURL.String
	}
	return &p, nil
}

func (r *PaymentRepository) GetByID(ctx context.Context, q Querier, id int64) (*models.Payment, error) {
	const query = `SELECT ` + paymentColumns + ` FROM payments WHERE id = ?`
	return scanPayment(q.QueryRowContext(ctx, query, id))
}

// LockByID reloads the payment under a row lock inside the caller's transaction.
func (r *PaymentRepository) LockByID(ctx context.Context, q Querier, id int64) (*models.Payment, error) {
	const query = `SELECT ` + paymentColumns + ` FROM payments WHERE id = ? FOR UPDATE`
	return scanPayment(q.QueryRowContext(ctx, query, id))
}

// FindByExternalID resolves the local payment for a gateway charge id, the
// recovery key for webhook and polling reconciliation.
func (r *PaymentRepository) FindByExternalID(ctx context.Context, q Querier, externalID string, forUpdate bool) (*models.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE external_id = ?`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	return scanPayment(q.QueryRowContext(ctx, query, externalID))
}

func (r *PaymentRepository) Create(ctx context.Context, q Querier, p *models.Payment) error {
	const query = `
INSERT INTO payments (user_id, subscription_id, amount, currency, status, external_id, redirect_url)
VALUES (?, ?, ?, ?, ?, ?, ?)`
	var subID, externalID, redirectURL any
	if p.SubscriptionID != nil {
		subID = *p.SubscriptionID
	}
	if p.ExternalID != nil {
		externalID = *p.ExternalID
	}
	if p.RedirectURL != nil {
		redirectURL = *p.RedirectURL
	}
	res, err := q.ExecContext(ctx, query, p.UserID, subID, p.Amount, p.Currency, p.Status, externalID, redirectURL)
	if err != nil {
		return fmt.Errorf("insert payment: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("payment last insert id: %w", err)
	}
	p.ID = id
	return nil
}

// SetExternal persists the gateway charge id and checkout URL after the charge
// is created on the provider side.
func (r *PaymentRepository) SetExternal(ctx context.Context, q Querier, id int64, externalID string, redirectURL *string) error {
	const query = `UPDATE payments SET external_id = ?, redirect_url = ?, updated_at = NOW() WHERE id = ?`
	var redirect any
	if redirectURL != nil {
		redirect = *redirectURL
	}
	if _, err := q.ExecContext(ctx, query, externalID, redirect, id); err != nil {
		return fmt.Errorf("set payment external id: %w", err)
	}
	return nil
}

// UpdateStatus moves the payment to status unless it already reached a
// terminal one. Terminal statuses never change.
func (r *PaymentRepository) UpdateStatus(ctx context.Context, q Querier, id int64, status models.PaymentStatus) error {
	const query = `
UPDATE payments SET status = ?, updated_at = NOW()
WHERE id = ? AND status NOT IN ('succeeded', 'failed')`
	if _, err := q.ExecContext(ctx, query, status, id); err != nil {
		return fmt.Errorf("update payment status: %w", err)
	}
	return nil
}

func (r *PaymentRepository) ListByUser(ctx context.Context, userID int64) ([]models.Payment, error) {
	const query = `SELECT ` + paymentColumns + ` FROM payments WHERE user_id = ? ORDER BY created_at DESC, id DESC`
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("list payments: %w", err)
	}
	defer rows.Close()

	var payments []models.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		payments = append(payments, *p)
	}
	return payments, rows.Err()
}

// CountForSubscriptionSince counts charge attempts against a subscription in
// the current renewal window, bounding scheduler retries.
func (r *PaymentRepository) CountForSubscriptionSince(ctx context.Context, q Querier, subscriptionID int64, since time.Time) (int, error) {
	const query = `SELECT COUNT(*) FROM payments WHERE subscription_id = ? AND created_at >= ?`
	var count int
	if err := q.QueryRowContext(ctx, query, subscriptionID, since).Scan(&count); err != nil {
		return 0, fmt.Errorf("count renewal attempts: %w", err)
	}
	return count, nil
}
