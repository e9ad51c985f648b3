package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/digkill/TGSubscriptionBot/internal/config"
	"github.com/digkill/TGSubscriptionBot/internal/models"
)

func testClient(t *testing.T, handler http.HandlerFunc) (*YooKassa, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c := NewYooKassa(config.Config{
		YooKassaShopID:    "shop",
		YooKassaSecretKey: "secret",
		GatewayBaseURL:    srv.URL,
		YooKassaReturnURL: "https://t.me/billing_bot",
		RequestTimeout:    5 * time.Second,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	return c, srv
}

func TestCreateChargeCheckoutPayload(t *testing.T) {
	var captured map[string]any
	client, _ := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v3/payments" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		user, pass, ok := r.BasicAuth()
		if !ok || user != "shop" || pass != "secret" {
			t.Error("missing or wrong basic auth")
		}
		if r.Header.Get("Idempotence-Key") == "" {
			t.Error("missing Idempotence-Key header")
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":     "pay-1",
			"status": "pending",
			"confirmation": map[string]string{
				"type":             "redirect",
				"confirmation_url": "https://yookassa.ru/checkout/pay-1",
			},
		})
	})

	result, err := client.CreateCharge(context.Background(), ChargeRequest{
		Amount:      29900,
		Currency:    "RUB",
		Description: "Подписка на месяц",
		SaveMethod:  true,
	})
	if err != nil {
		t.Fatalf("CreateCharge() error = %v", err)
	}

	amount := captured["amount"].(map[string]any)
	if amount["value"] != "299.00" || amount["currency"] != "RUB" {
		t.Errorf("amount = %v, want 299.00 RUB", amount)
	}
	if captured["capture"] != true {
		t.Error("capture must be true")
	}
	if captured["save_payment_method"] != true {
		t.Error("save_payment_method must be requested")
	}
	conf := captured["confirmation"].(map[string]any)
	if conf["type"] != "redirect" || conf["return_url"] != "https://t.me/billing_bot" {
		t.Errorf("confirmation = %v", conf)
	}
	if _, ok := captured["payment_method_id"]; ok {
		t.Error("checkout charge must not carry payment_method_id")
	}

	if result.ExternalID != "pay-1" {
		t.Errorf("ExternalID = %q, want pay-1", result.ExternalID)
	}
	if result.Status != models.PaymentPending {
		t.Errorf("Status = %q, want pending", result.Status)
	}
	if result.RedirectURL != "https://yookassa.ru/checkout/pay-1" {
		t.Errorf("RedirectURL = %q", result.RedirectURL)
	}
}

func TestCreateChargeSavedMethod(t *testing.T) {
	var captured map[string]any
	client, _ := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":          "pay-2",
			"status":      "succeeded",
			"paid":        true,
			"captured_at": "2025-06-15T12:00:00Z",
			"payment_method": map[string]any{
				"id":    "pm-1",
				"saved": true,
			},
		})
	})

	result, err := client.CreateCharge(context.Background(), ChargeRequest{
		Amount:        29900,
		Currency:      "RUB",
		SavedMethodID: "pm-1",
	})
	if err != nil {
		t.Fatalf("CreateCharge() error = %v", err)
	}

	if captured["payment_method_id"] != "pm-1" {
		t.Errorf("payment_method_id = %v, want pm-1", captured["payment_method_id"])
	}
	if _, ok := captured["confirmation"]; ok {
		t.Error("saved-method charge must not carry a confirmation block")
	}

	if result.Status != models.PaymentSucceeded {
		t.Errorf("Status = %q, want succeeded", result.Status)
	}
	if result.PaidAt == nil || !result.PaidAt.Equal(time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)) {
		t.Errorf("PaidAt = %v", result.PaidAt)
	}
	if result.MethodToken != "pm-1" {
		t.Errorf("MethodToken = %q, want pm-1", result.MethodToken)
	}
}

func TestCreateChargeCanceledIsRejected(t *testing.T) {
	client, _ := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":     "pay-3",
			"status": "canceled",
			"cancellation_details": map[string]string{
				"reason": "insufficient_funds",
			},
		})
	})

	_, err := client.CreateCharge(context.Background(), ChargeRequest{Amount: 100, Currency: "RUB"})
	if !IsRejected(err) {
		t.Fatalf("CreateCharge() error = %v, want rejection", err)
	}
	var re *RejectedError
	if errors.As(err, &re) && re.Reason != "insufficient_funds" {
		t.Errorf("Reason = %q, want insufficient_funds", re.Reason)
	}
}

func TestCreateChargeServerErrorIsUnavailable(t *testing.T) {
	client, _ := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := client.CreateCharge(context.Background(), ChargeRequest{Amount: 100, Currency: "RUB"})
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("CreateCharge() error = %v, want ErrUnavailable", err)
	}
}

func TestCreateChargeClientErrorIsRejected(t *testing.T) {
	client, _ := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"code":        "invalid_request",
			"description": "Invalid currency",
		})
	})

	_, err := client.CreateCharge(context.Background(), ChargeRequest{Amount: 100, Currency: "XXX"})
	if !IsRejected(err) {
		t.Fatalf("CreateCharge() error = %v, want rejection", err)
	}
	var re *RejectedError
	if errors.As(err, &re) && re.Reason != "Invalid currency" {
		t.Errorf("Reason = %q, want Invalid currency", re.Reason)
	}
}

func TestConfirmStatus(t *testing.T) {
	tests := []struct {
		name       string
		raw        string
		want       models.PaymentStatus
		wantPaidAt bool
		wantToken  string
	}{
		{name: "pending", raw: "pending", want: models.PaymentPending},
		{name: "waiting for capture", raw: "waiting_for_capture", want: models.PaymentPending},
		{name: "succeeded", raw: "succeeded", want: models.PaymentSucceeded, wantPaidAt: true, wantToken: "pm-9"},
		{name: "canceled", raw: "canceled", want: models.PaymentFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, _ := testClient(t, func(w http.ResponseWriter, r *http.Request) {
				if r.Method != http.MethodGet || r.URL.Path != "/v3/payments/pay-9" {
					t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
				}
				_ = json.NewEncoder(w).Encode(map[string]any{
					"id":          "pay-9",
					"status":      tt.raw,
					"captured_at": "2025-06-15T12:00:00Z",
					"payment_method": map[string]any{
						"id":    "pm-9",
						"saved": true,
					},
				})
			})

			cs, err := client.ConfirmStatus(context.Background(), "pay-9")
			if err != nil {
				t.Fatalf("ConfirmStatus() error = %v", err)
			}
			if cs.Status != tt.want {
				t.Errorf("Status = %q, want %q", cs.Status, tt.want)
			}
			if (cs.PaidAt != nil) != tt.wantPaidAt {
				t.Errorf("PaidAt = %v, want set=%v", cs.PaidAt, tt.wantPaidAt)
			}
			if cs.MethodToken != tt.wantToken {
				t.Errorf("MethodToken = %q, want %q", cs.MethodToken, tt.wantToken)
			}
		})
	}
}

func TestRefund(t *testing.T) {
	var captured map[string]any
	client, _ := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v3/refunds" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]string{
			"id":     "ref-1",
			"status": "succeeded",
		})
	})

	result, err := client.Refund(context.Background(), "pay-1", 10000, "RUB", "requested by user")
	if err != nil {
		t.Fatalf("Refund() error = %v", err)
	}

	if captured["payment_id"] != "pay-1" {
		t.Errorf("payment_id = %v, want pay-1", captured["payment_id"])
	}
	amount := captured["amount"].(map[string]any)
	if amount["value"] != "100.00" {
		t.Errorf("amount value = %v, want 100.00", amount["value"])
	}
	if result.ExternalRefundID != "ref-1" || result.Status != models.RefundSucceeded {
		t.Errorf("result = %+v", result)
	}
}

func TestFormatAmount(t *testing.T) {
	tests := []struct {
		minor int64
		want  string
	}{
		{minor: 29900, want: "299.00"},
		{minor: 5, want: "0.05"},
		{minor: 100, want: "1.00"},
		{minor: 12345, want: "123.45"},
	}
	for _, tt := range tests {
		if got := formatAmount(tt.minor); got != tt.want {
			t.Errorf("formatAmount(%d) = %q, want %q", tt.minor, got, tt.want)
		}
	}
}
