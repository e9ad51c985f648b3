package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/digkill/TGSubscriptionBot/internal/config"
	"github.com/digkill/TGSubscriptionBot/internal/gateway"
	"github.com/digkill/TGSubscriptionBot/internal/models"
	"github.com/digkill/TGSubscriptionBot/internal/repository"
)

type stubGateway struct {
	charge    *gateway.ChargeResult
	chargeErr error
	status    *gateway.ChargeStatus
	statusErr error
}

func (g *stubGateway) CreateCharge(ctx context.Context, req gateway.ChargeRequest) (*gateway.ChargeResult, error) {
	return g.charge, g.chargeErr
}

func (g *stubGateway) ConfirmStatus(ctx context.Context, externalID string) (*gateway.ChargeStatus, error) {
	return g.status, g.statusErr
}

func (g *stubGateway) Refund(ctx context.Context, externalID string, amount int64, currency, reason string) (*gateway.RefundResult, error) {
	return nil, gateway.ErrUnavailable
}

var (
	subCols     = []string{"id", "user_id", "plan_id", "status", "start_date", "end_date", "auto_renew", "promotion_id", "payment_id", "created_at", "updated_at"}
	paymentCols = []string{"id", "user_id", "subscription_id", "amount", "currency", "status", "external_id", "redirect_url", "created_at", "updated_at"}
	planCols    = []string{"id", "name", "currency", "price_minor_units", "duration_days", "is_active", "created_at", "updated_at"}
	userCols    = []string{"id", "external_id", "saved_payment_method_id", "created_at", "updated_at"}
)

var stamp = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

func planRow() *sqlmock.Rows {
	return sqlmock.NewRows(planCols).
		AddRow(int64(1), "Месяц", "RUB", int64(29900), 30, true, stamp, stamp)
}

func newBillingTest(t *testing.T, gw gateway.Gateway) (*SubscriptionService, *repository.PaymentRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	users := repository.NewUserRepository(db)
	plans := repository.NewPlanRepository(db)
	subs := repository.NewSubscriptionRepository(db)
	payments := repository.NewPaymentRepository(db)
	promos := NewPromoService(repository.NewPromoRepository(db), subs, plans)

	svc := NewSubscriptionService(config.Config{}, log, users, plans, subs, payments, promos, gw)
	return svc, payments, mock
}

// Re-confirming a payment that already reached a terminal status must not
// touch any row again, no matter what the provider reports now.
func TestConfirmPaymentIdempotent(t *testing.T) {
	gw := &stubGateway{status: &gateway.ChargeStatus{Status: models.PaymentSucceeded}}
	svc, _, mock := newBillingTest(t, gw)

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM payments WHERE external_id`).
		WithArgs("ext-1").
		WillReturnRows(sqlmock.NewRows(paymentCols).
			AddRow(int64(1), int64(7), int64(2), int64(29900), "RUB", "succeeded", "ext-1", nil, stamp, stamp))
	mock.ExpectRollback()

	if err := svc.ConfirmPayment(context.Background(), "ext-1"); err != nil {
		t.Fatalf("ConfirmPayment() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

// A succeeded confirmation activates the pending subscription, records the
// payment status and the issued method token inside one transaction.
func TestConfirmPaymentActivatesPending(t *testing.T) {
	paidAt := stamp
	gw := &stubGateway{status: &gateway.ChargeStatus{
		Status:      models.PaymentSucceeded,
		PaidAt:      &paidAt,
		MethodToken: "tok-9",
	}}
	svc, _, mock := newBillingTest(t, gw)

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM payments WHERE external_id`).
		WithArgs("ext-2").
		WillReturnRows(sqlmock.NewRows(paymentCols).
			AddRow(int64(11), int64(7), int64(2), int64(29900), "RUB", "pending", "ext-2", nil, stamp, stamp))
	mock.ExpectExec(`UPDATE payments SET status`).
		WithArgs("succeeded", int64(11)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`FROM subscriptions WHERE id`).
		WithArgs(int64(2)).
		WillReturnRows(sqlmock.NewRows(subCols).
			AddRow(int64(2), int64(7), int64(1), "pending", nil, nil, true, nil, int64(11), stamp, stamp))
	mock.ExpectQuery(`FROM subscription_plans WHERE id`).
		WithArgs(int64(1)).
		WillReturnRows(planRow())
	mock.ExpectExec(`SET status = 'active'`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE users SET saved_payment_method_id`).
		WithArgs("tok-9", int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if err := svc.ConfirmPayment(context.Background(), "ext-2"); err != nil {
		t.Fatalf("ConfirmPayment() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

// A user holding a pending, active or trial subscription cannot open another.
func TestCreateRejectsSecondCurrent(t *testing.T) {
	svc, _, mock := newBillingTest(t, &stubGateway{})

	mock.ExpectQuery(`FROM subscription_plans WHERE id`).
		WithArgs(int64(1)).
		WillReturnRows(planRow())
	mock.ExpectBegin()
	mock.ExpectQuery(`FROM subscriptions`).
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows(subCols).
			AddRow(int64(2), int64(7), int64(1), "active", stamp, stamp.AddDate(0, 0, 30), true, nil, nil, stamp, stamp))
	mock.ExpectRollback()

	_, err := svc.Create(context.Background(), 7, 1, "")
	if !errors.Is(err, ErrAlreadyActive) {
		t.Fatalf("Create() error = %v, want %v", err, ErrAlreadyActive)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

// When the provider never produced a charge there is no external id to
// reconcile by, so the fresh pending rows are closed out. The user is free
// to retry instead of being stuck behind the single-current guard.
func TestCreateClosesSubscriptionWhenGatewayDown(t *testing.T) {
	svc, _, mock := newBillingTest(t, &stubGateway{chargeErr: gateway.ErrUnavailable})

	mock.ExpectQuery(`FROM subscription_plans WHERE id`).
		WithArgs(int64(1)).
		WillReturnRows(planRow())
	mock.ExpectBegin()
	mock.ExpectQuery(`FROM subscriptions`).
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows(subCols))
	mock.ExpectExec(`INSERT INTO subscriptions`).
		WillReturnResult(sqlmock.NewResult(2, 1))
	mock.ExpectExec(`INSERT INTO payments`).
		WillReturnResult(sqlmock.NewResult(11, 1))
	mock.ExpectExec(`UPDATE subscriptions SET payment_id`).
		WithArgs(int64(11), int64(2)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	mock.ExpectQuery(`FROM users WHERE id`).
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows(userCols).
			AddRow(int64(7), "tg-7", nil, stamp, stamp))

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE payments SET status`).
		WithArgs("failed", int64(11)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE subscriptions SET status`).
		WithArgs("cancelled", int64(2)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	_, err := svc.Create(context.Background(), 7, 1, "")
	if !errors.Is(err, gateway.ErrUnavailable) {
		t.Fatalf("Create() error = %v, want %v", err, gateway.ErrUnavailable)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

// A synchronous success persists the status flip and the method token in a
// single transaction, matching the reconcile path.
func TestInitiateSettlesTokenInOneTx(t *testing.T) {
	gw := &stubGateway{charge: &gateway.ChargeResult{
		ExternalID:  "ext-21",
		Status:      models.PaymentSucceeded,
		MethodToken: "tok-21",
	}}
	svc, payments, mock := newBillingTest(t, gw)

	db := payments.DB()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	paySvc := NewPaymentService(
		log,
		payments,
		repository.NewRefundRepository(db),
		repository.NewUserRepository(db),
		repository.NewPlanRepository(db),
		repository.NewSubscriptionRepository(db),
		svc,
		gw,
	)

	mock.ExpectExec(`INSERT INTO payments`).
		WillReturnResult(sqlmock.NewResult(21, 1))
	mock.ExpectExec(`UPDATE payments SET external_id`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE payments SET status`).
		WithArgs("succeeded", int64(21)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE users SET saved_payment_method_id`).
		WithArgs("tok-21", int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	payment, err := paySvc.Initiate(context.Background(), 7, 29900, "RUB", nil, false, "Месяц")
	if err != nil {
		t.Fatalf("Initiate() error = %v", err)
	}
	if payment.Status != models.PaymentSucceeded {
		t.Errorf("payment status = %s, want %s", payment.Status, models.PaymentSucceeded)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}
