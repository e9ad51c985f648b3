package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/digkill/TGSubscriptionBot/internal/models"
)

type UserRepository struct {
	db *sql.DB
}

func NewUserRepository(db *sql.DB) *UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) DB() *sql.DB {
	return r.db
}

const userColumns = `id, external_id, saved_payment_method_id, created_at, updated_at`

func scanUser(row *sql.Row) (*models.User, error) {
	var u models.User
	var token sql.NullString
	if err := row.Scan(&u.ID, &u.ExternalID, &token, &u.CreatedAt, &u.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan user: %w", err)
	}
	if token.Valid {
		u.SavedPaymentMethodID = &token.String
	}
	return &u, nil
}

func (r *UserRepository) GetByID(ctx context.Context, id int64) (*models.User, error) {
	const query = `SELECT ` + userColumns + ` FROM users WHERE id = ?`
	return scanUser(r.db.QueryRowContext(ctx, query, id))
}

func (r *UserRepository) FindByExternalID(ctx context.Context, externalID string) (*models.User, error) {
	const query = `SELECT ` + userColumns + ` FROM users WHERE external_id = ?`
	return scanUser(r.db.QueryRowContext(ctx, query, externalID))
}

func (r *UserRepository) Create(ctx context.Context, externalID string) (*models.User, error) {
	const query = `INSERT INTO users (external_id) VALUES (?)`
	res, err := r.db.ExecContext(ctx, query, externalID)
	if err != nil {
		return nil, fmt.Errorf("insert user: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("user last insert id: %w", err)
	}
	return r.GetByID(ctx, id)
}

// Ensure returns the user for externalID, creating the row on first contact.
func (r *UserRepository) Ensure(ctx context.Context, externalID string) (*models.User, bool, error) {
	user, err := r.FindByExternalID(ctx, externalID)
	if err != nil {
		return nil, false, err
	}
	if user != nil {
		return user, false, nil
	}
	created, err := r.Create(ctx, externalID)
	if err != nil {
		// Lost a race with a concurrent first contact.
		if IsDuplicate(err) {
			user, ferr := r.FindByExternalID(ctx, externalID)
			if ferr != nil {
				return nil, false, ferr
			}
			return user, false, nil
		}
		return nil, false, err
	}
	return created, true, nil
}

func (r *UserRepository) SaveMethodToken(ctx context.Context, q Querier, userID int64, token string) error {
	const query = `UPDATE users SET saved_payment_method_id = ?, updated_at = NOW() WHERE id = ?`
	if _, err := q.ExecContext(ctx, query, token, userID); err != nil {
		return fmt.Errorf("save method token: %w", err)
	}
	return nil
}
