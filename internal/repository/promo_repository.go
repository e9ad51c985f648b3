package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/digkill/TGSubscriptionBot/internal/models"
)

type PromoRepository struct {
	db *sql.DB
}

func NewPromoRepository(db *sql.DB) *PromoRepository {
	return &PromoRepository{db: db}
}

func (r *PromoRepository) DB() *sql.DB {
	return r.db
}

const promoColumns = `id, code, kind, value, valid_from, valid_to, max_uses, uses_count, is_active, created_at`

func scanPromo(row *sql.Row) (*models.Promotion, error) {
	var promo models.Promotion
	var maxUses sql.NullInt64
	if err := row.Scan(&promo.ID, &promo.Code, &promo.Kind, &promo.Value, &promo.ValidFrom, &promo.ValidTo, &maxUses, &promo.UsesCount, &promo.IsActive, &promo.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan promo: %w", err)
	}
	if maxUses.Valid {
		promo.MaxUses = &maxUses.Int64
	}
	return &promo, nil
}

// GetByCode resolves a promotion case-insensitively; codes are stored upper-cased.
func (r *PromoRepository) GetByCode(ctx context.Context, code string) (*models.Promotion, error) {
	const query = `SELECT ` + promoColumns + ` FROM promotions WHERE code = ?`
	return scanPromo(r.db.QueryRowContext(ctx, query, strings.ToUpper(strings.TrimSpace(code))))
}

func (r *PromoRepository) GetByID(ctx context.Context, id int64) (*models.Promotion, error) {
	const query = `SELECT ` + promoColumns + ` FROM promotions WHERE id = ?`
	return scanPromo(r.db.QueryRowContext(ctx, query, id))
}

func (r *PromoRepository) List(ctx context.Context) ([]models.Promotion, error) {
	const query = `SELECT ` + promoColumns + ` FROM promotions ORDER BY id DESC`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list promos: %w", err)
	}
	defer rows.Close()

	var promos []models.Promotion
	for rows.Next() {
		var promo models.Promotion
		var maxUses sql.NullInt64
		if err := rows.Scan(&promo.ID, &promo.Code, &promo.Kind, &promo.Value, &promo.ValidFrom, &promo.ValidTo, &maxUses, &promo.UsesCount, &promo.IsActive, &promo.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan promo list: %w", err)
		}
		if maxUses.Valid {
			promo.MaxUses = &maxUses.Int64
		}
		promos = append(promos, promo)
	}
	return promos, rows.Err()
}

func (r *PromoRepository) Create(ctx context.Context, promo *models.Promotion) (*models.Promotion, error) {
	const query = `
INSERT INTO promotions (code, kind, value, valid_from, valid_to, max_uses, is_active)
VALUES (?, ?, ?, ?, ?, ?, ?)`
	var maxUses any
	if promo.MaxUses != nil {
		maxUses = *promo.MaxUses
	}
	res, err := r.db.ExecContext(ctx, query, strings.ToUpper(strings.TrimSpace(promo.Code)), promo.Kind, promo.Value, promo.ValidFrom, promo.ValidTo, maxUses, promo.IsActive)
	if err != nil {
		return nil, fmt.Errorf("create promo: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("promo last insert id: %w", err)
	}
	return r.GetByID(ctx, id)
}

func (r *PromoRepository) SetActive(ctx context.Context, id int64, active bool) error {
	const query = `UPDATE promotions SET is_active = ? WHERE id = ?`
	if _, err := r.db.ExecContext(ctx, query, active, id); err != nil {
		return fmt.Errorf("set promo active: %w", err)
	}
	return nil
}

func (r *PromoRepository) Delete(ctx context.Context, id int64) error {
	const query = `DELETE FROM promotions WHERE id = ?`
	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("delete promo: %w", err)
	}
	return nil
}

// LockByID reloads the promotion under a row lock inside the caller's transaction.
func (r *PromoRepository) LockByID(ctx context.Context, q Querier, id int64) (*models.Promotion, error) {
	const query = `SELECT ` + promoColumns + ` FROM promotions WHERE id = ? FOR UPDATE`
	return scanPromo(q.QueryRowContext(ctx, query, id))
}

func (r *PromoRepository) IncrementUses(ctx context.Context, q Querier, id int64) error {
	const query = `UPDATE promotions SET uses_count = uses_count + 1 WHERE id = ?`
	if _, err := q.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("increment promo uses: %w", err)
	}
	return nil
}

func (r *PromoRepository) HasUsage(ctx context.Context, userID, promoID int64) (bool, error) {
	const query = `SELECT 1 FROM promotion_usages WHERE user_id = ? AND promotion_id = ?`
	var dummy int
	if err := r.db.QueryRowContext(ctx, query, userID, promoID).Scan(&dummy); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("check promo usage: %w", err)
	}
	return true, nil
}

// InsertUsage records a redemption. The UNIQUE(user_id, promotion_id) key is
// the authoritative double-spend guard; callers translate duplicates.
func (r *PromoRepository) InsertUsage(ctx context.Context, q Querier, userID, promoID int64, subscriptionID *int64) error {
	const query = `
INSERT INTO promotion_usages (user_id, promotion_id, subscription_id)
VALUES (?, ?, ?)`
	var subID any
	if subscriptionID != nil {
		subID = *subscriptionID
	}
	if _, err := q.ExecContext(ctx, query, userID, promoID, subID); err != nil {
		return fmt.Errorf("insert promo usage: %w", err)
	}
	return nil
}

func (r *PromoRepository) ListUsages(ctx context.Context, promoID int64) ([]models.PromotionUsage, error) {
	const query = `
SELECT id, user_id, promotion_id, subscription_id, created_at
FROM promotion_usages WHERE promotion_id = ? ORDER BY id ASC`
	rows, err := r.db.QueryContext(ctx, query, promoID)
	if err != nil {
		return nil, fmt.Errorf("list promo usages: %w", err)
	}
	defer rows.Close()

	var usages []models.PromotionUsage
	for rows.Next() {
		var u models.PromotionUsage
		var subID sql.NullInt64
		if err := rows.Scan(&u.ID, &u.UserID, &u.PromotionID, &subID, &u.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan promo usage: %w", err)
		}
		if subID.Valid {
			u.SubscriptionID = &subID.Int64
		}
		usages = append(usages, u)
	}
	return usages, rows.Err()
}
