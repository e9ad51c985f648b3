package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/digkill/TGSubscriptionBot/internal/models"
)

type SubscriptionRepository struct {
	db *sql.DB
}

func NewSubscriptionRepository(db *sql.DB) *SubscriptionRepository {
	return &SubscriptionRepository{db: db}
}

func (r *SubscriptionRepository) DB() *sql.DB {
	return r.db
}

const subscriptionColumns = `id, user_id, plan_id, status, start_date, end_date, auto_renew, promotion_id, payment_id, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSubscription(row rowScanner) (*models.Subscription, error) {
	var s models.Subscription
	var start, end sql.NullTime
	var promoID, paymentID sql.NullInt64
	err := row.Scan(&s.ID, &s.UserID, &s.PlanID, &s.Status, &start, &end, &s.AutoRenew, &promoID, &paymentID, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan subscription: %w", err)
	}
	if start.Valid {
		s.StartDate = &start.Time
	}
	if end.Valid {
		s.EndDate = &end.Time
	}
	if promoID.Valid {
		s.PromotionID = &promoID.Int64
	}
	if paymentID.Valid {
		s.PaymentID = &paymentID.Int64
	}
	return &s, nil
}

func (r *SubscriptionRepository) GetByID(ctx context.Context, q Querier, id int64) (*models.Subscription, error) {
	const query = `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE id = ?`
	return scanSubscription(q.QueryRowContext(ctx, query, id))
}

// LockByID reloads the subscription under a row lock inside the caller's transaction.
func (r *SubscriptionRepository) LockByID(ctx context.Context, q Querier, id int64) (*models.Subscription, error) {
	const query = `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE id = ? FOR UPDATE`
	return scanSubscription(q.QueryRowContext(ctx, query, id))
}

// CurrentByUser returns the user's pending/active/trial subscription, if any.
func (r *SubscriptionRepository) CurrentByUser(ctx context.Context, q Querier, userID int64, forUpdate bool) (*models.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions
WHERE user_id = ? AND status IN ('pending', 'active', 'trial')
ORDER BY id DESC LIMIT 1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	return scanSubscription(q.QueryRowContext(ctx, query, userID))
}

// HasNonPendingHistory reports whether the user ever held a subscription that
// progressed past pending. Used to deny repeat trials.
func (r *SubscriptionRepository) HasNonPendingHistory(ctx context.Context, userID int64) (bool, error) {
	const query = `SELECT 1 FROM subscriptions WHERE user_id = ? AND status <> 'pending' LIMIT 1`
	var dummy int
	if err := r.db.QueryRowContext(ctx, query, userID).Scan(&dummy); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("check subscription history: %w", err)
	}
	return true, nil
}

func (r *SubscriptionRepository) Create(ctx context.Context, q Querier, s *models.Subscription) error {
	const query = `
INSERT INTO subscriptions (user_id, plan_id, status, start_date, end_date, auto_renew, promotion_id, payment_id)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	var start, end, promoID, paymentID any
	if s.StartDate != nil {
		start = *s.StartDate
	}
	if s.EndDate != nil {
		end = *s.EndDate
	}
	if s.PromotionID != nil {
		promoID = *s.PromotionID
	}
	if s.PaymentID != nil {
		paymentID = *s.PaymentID
	}
	res, err := q.ExecContext(ctx, query, s.UserID, s.PlanID, s.Status, start, end, s.AutoRenew, promoID, paymentID)
	if err != nil {
		return fmt.Errorf("insert subscription: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("subscription last insert id: %w", err)
	}
	s.ID = id
	return nil
}

func (r *SubscriptionRepository) SetPayment(ctx context.Context, q Querier, id, paymentID int64) error {
	const query = `UPDATE subscriptions SET payment_id = ?, updated_at = NOW() WHERE id = ?`
	if _, err := q.ExecContext(ctx, query, paymentID, id); err != nil {
		return fmt.Errorf("link subscription payment: %w", err)
	}
	return nil
}

// Activate moves a pending subscription to active and stamps its period.
func (r *SubscriptionRepository) Activate(ctx context.Context, q Querier, id int64, start, end time.Time) error {
	const query = `
UPDATE subscriptions SET status = 'active', start_date = ?, end_date = ?, updated_at = NOW()
WHERE id = ? AND status = 'pending'`
	res, err := q.ExecContext(ctx, query, start, end, id)
	if err != nil {
		return fmt.Errorf("activate subscription: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("activate rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("subscription %d not pending", id)
	}
	return nil
}

func (r *SubscriptionRepository) UpdateStatus(ctx context.Context, q Querier, id int64, status models.SubscriptionStatus) error {
	const query = `UPDATE subscriptions SET status = ?, updated_at = NOW() WHERE id = ?`
	if _, err := q.ExecContext(ctx, query, status, id); err != nil {
		return fmt.Errorf("update subscription status: %w", err)
	}
	return nil
}

func (r *SubscriptionRepository) SetAutoRenew(ctx context.Context, q Querier, id int64, autoRenew bool) error {
	const query = `UPDATE subscriptions SET auto_renew = ?, updated_at = NOW() WHERE id = ?`
	if _, err := q.ExecContext(ctx, query, autoRenew, id); err != nil {
		return fmt.Errorf("set auto renew: %w", err)
	}
	return nil
}

// ExtendEnd pushes end_date forward. End dates only move forward; the guard
// keeps a stale writer from shrinking the period.
func (r *SubscriptionRepository) ExtendEnd(ctx context.Context, q Querier, id int64, newEnd time.Time) error {
	const query = `
UPDATE subscriptions SET end_date = ?, updated_at = NOW()
WHERE id = ? AND (end_date IS NULL OR end_date <= ?)`
	if _, err := q.ExecContext(ctx, query, newEnd, id, newEnd); err != nil {
		return fmt.Errorf("extend subscription: %w", err)
	}
	return nil
}

// Renew extends the period after a successful recurring charge and links the
// renewing payment.
func (r *SubscriptionRepository) Renew(ctx context.Context, q Querier, id int64, newEnd time.Time, paymentID int64) error {
	const query = `
UPDATE subscriptions SET end_date = ?, payment_id = ?, status = 'active', updated_at = NOW()
WHERE id = ? AND status IN ('active', 'trial')`
	if _, err := q.ExecContext(ctx, query, newEnd, paymentID, id); err != nil {
		return fmt.Errorf("renew subscription: %w", err)
	}
	return nil
}

// Expire transitions a running subscription to expired. A no-op when the row
// already left the running states.
func (r *SubscriptionRepository) Expire(ctx context.Context, q Querier, id int64) error {
	const query = `
UPDATE subscriptions SET status = 'expired', updated_at = NOW()
WHERE id = ? AND status IN ('active', 'trial')`
	if _, err := q.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("expire subscription: %w", err)
	}
	return nil
}

// DueForRenewal claims running subscriptions whose period ends by cutoff.
// Rows are locked so parallel workers cannot double-charge; SKIP LOCKED lets
// a second worker pass over a claimed batch instead of blocking on it.
func (r *SubscriptionRepository) DueForRenewal(ctx context.Context, q Querier, cutoff time.Time, limit int) ([]models.Subscription, error) {
	const query = `
SELECT ` + subscriptionColumns + ` FROM subscriptions
WHERE status IN ('active', 'trial') AND end_date IS NOT NULL AND end_date <= ?
ORDER BY end_date ASC, id ASC
LIMIT ?
FOR UPDATE SKIP LOCKED`
	rows, err := q.QueryContext(ctx, query, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("select due subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []models.Subscription
	for rows.Next() {
		s, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, *s)
	}
	return subs, rows.Err()
}

func (r *SubscriptionRepository) ListByStatus(ctx context.Context, status models.SubscriptionStatus) ([]models.Subscription, error) {
	const query = `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE status = ? ORDER BY end_date ASC, id ASC`
	rows, err := r.db.QueryContext(ctx, query, status)
	if err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []models.Subscription
	for rows.Next() {
		s, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, *s)
	}
	return subs, rows.Err()
}
