package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/digkill/TGSubscriptionBot/internal/models"
)

type PlanRepository struct {
	db *sql.DB
}

func NewPlanRepository(db *sql.DB) *PlanRepository {
	return &PlanRepository{db: db}
}

const planColumns = `id, name, currency, price_minor_units, duration_days, is_active, created_at, updated_at`

func scanPlan(row *sql.Row) (*models.SubscriptionPlan, error) {
	var plan models.SubscriptionPlan
	if err := row.Scan(&plan.ID, &plan.Name, &plan.Currency, &plan.PriceMinorUnits, &plan.DurationDays, &plan.IsActive, &plan.CreatedAt, &plan.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan plan: %w", err)
	}
	return &plan, nil
}

func (r *PlanRepository) List(ctx context.Context) ([]models.SubscriptionPlan, error) {
	const query = `SELECT ` + planColumns + ` FROM subscription_plans ORDER BY id ASC`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list plans: %w", err)
	}
	defer rows.Close()

	var plans []models.SubscriptionPlan
	for rows.Next() {
		var plan models.SubscriptionPlan
		if err := rows.Scan(&plan.ID, &plan.Name, &plan.Currency, &plan.PriceMinorUnits, &plan.DurationDays, &plan.IsActive, &plan.CreatedAt, &plan.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan plan list: %w", err)
		}
		plans = append(plans, plan)
	}
	return plans, rows.Err()
}

func (r *PlanRepository) GetByID(ctx context.Context, id int64) (*models.SubscriptionPlan, error) {
	const query = `SELECT ` + planColumns + ` FROM subscription_plans WHERE id = ?`
	return scanPlan(r.db.QueryRowContext(ctx, query, id))
}

func (r *PlanRepository) GetDefault(ctx context.Context) (*models.SubscriptionPlan, error) {
	const query = `SELECT ` + planColumns + ` FROM subscription_plans WHERE is_active = 1 ORDER BY id ASC LIMIT 1`
	return scanPlan(r.db.QueryRowContext(ctx, query))
}

func (r *PlanRepository) Create(ctx context.Context, plan *models.SubscriptionPlan) (*models.SubscriptionPlan, error) {
	const query = `
INSERT INTO subscription_plans (name, currency, price_minor_units, duration_days, is_active)
VALUES (?, ?, ?, ?, ?)`
	res, err := r.db.ExecContext(ctx, query, plan.Name, plan.Currency, plan.PriceMinorUnits, plan.DurationDays, plan.IsActive)
	if err != nil {
		return nil, fmt.Errorf("create plan: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("plan last insert id: %w", err)
	}
	return r.GetByID(ctx, id)
}
