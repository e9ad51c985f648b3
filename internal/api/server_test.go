package api

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/digkill/TGSubscriptionBot/internal/config"
	"github.com/digkill/TGSubscriptionBot/internal/gateway"
	"github.com/digkill/TGSubscriptionBot/internal/service"
)

func TestStatusForError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "not found", err: service.ErrNotFound, want: http.StatusNotFound},
		{name: "promo not found", err: service.ErrPromoNotFound, want: http.StatusNotFound},
		{name: "already active", err: service.ErrAlreadyActive, want: http.StatusConflict},
		{name: "conflict", err: service.ErrConflict, want: http.StatusConflict},
		{name: "promo already used", err: service.ErrPromoAlreadyUsed, want: http.StatusConflict},
		{name: "promo exhausted", err: service.ErrPromoExhausted, want: http.StatusConflict},
		{name: "promo inactive", err: service.ErrPromoInactive, want: http.StatusUnprocessableEntity},
		{name: "promo out of window", err: service.ErrPromoOutOfWindow, want: http.StatusUnprocessableEntity},
		{name: "trial not allowed", err: service.ErrTrialNotAllowed, want: http.StatusUnprocessableEntity},
		{name: "invalid state", err: service.ErrInvalidState, want: http.StatusUnprocessableEntity},
		{name: "gateway rejection", err: &gateway.RejectedError{Reason: "insufficient_funds"}, want: http.StatusPaymentRequired},
		{name: "gateway unavailable", err: gateway.ErrUnavailable, want: http.StatusBadGateway},
		{name: "wrapped sentinel", err: errors.Join(errors.New("get subscription"), service.ErrNotFound), want: http.StatusNotFound},
		{name: "unknown", err: errors.New("boom"), want: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := statusForError(tt.err); got != tt.want {
				t.Errorf("statusForError(%v) = %d, want %d", tt.err, got, tt.want)
			}
		})
	}
}

type stubReconciler struct {
	err   error
	calls []string
}

func (r *stubReconciler) Reconcile(_ context.Context, externalID string) error {
	r.calls = append(r.calls, externalID)
	return r.err
}

func testServer(rec Reconciler) *Server {
	return NewServer(config.Config{
		ListenAddr:    ":0",
		AdminUsername: "admin",
		AdminPassword: "secret",
		TrialDays:     7,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)), nil, nil, nil, nil, rec)
}

func TestWebhookReconciles(t *testing.T) {
	rec := &stubReconciler{}
	srv := testServer(rec)

	body := `{"event":"payment.succeeded","object":{"id":"pay-1","status":"succeeded"}}`
	req := httptest.NewRequest(http.MethodPost, "/webhook/yookassa", strings.NewReader(body))
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
	if len(rec.calls) != 1 || rec.calls[0] != "pay-1" {
		t.Errorf("reconcile calls = %v, want [pay-1]", rec.calls)
	}
}

func TestWebhookUnknownPaymentIsAcknowledged(t *testing.T) {
	rec := &stubReconciler{err: service.ErrNotFound}
	srv := testServer(rec)

	body := `{"event":"payment.succeeded","object":{"id":"pay-x"}}`
	req := httptest.NewRequest(http.MethodPost, "/webhook/yookassa", strings.NewReader(body))
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200 so the provider stops retrying", w.Code)
	}
}

func TestWebhookTransientFailureAsksForRetry(t *testing.T) {
	rec := &stubReconciler{err: gateway.ErrUnavailable}
	srv := testServer(rec)

	body := `{"event":"payment.succeeded","object":{"id":"pay-1"}}`
	req := httptest.NewRequest(http.MethodPost, "/webhook/yookassa", strings.NewReader(body))
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusBadGateway {
		t.Errorf("status = %d, want 502 so the provider retries", w.Code)
	}
}

func TestWebhookRejectsMalformedBody(t *testing.T) {
	rec := &stubReconciler{}
	srv := testServer(rec)

	for _, body := range []string{"not json", `{"object":{}}`} {
		req := httptest.NewRequest(http.MethodPost, "/webhook/yookassa", strings.NewReader(body))
		w := httptest.NewRecorder()
		srv.Handler().ServeHTTP(w, req)

		if w.Code != http.StatusBadRequest {
			t.Errorf("body %q: status = %d, want 400", body, w.Code)
		}
		if len(rec.calls) != 0 {
			t.Errorf("body %q: reconcile must not be called", body)
		}
	}
}

func TestAdminRequiresBasicAuth(t *testing.T) {
	srv := testServer(&stubReconciler{})

	req := httptest.NewRequest(http.MethodGet, "/admin/promo-codes", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("without credentials: status = %d, want 401", w.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/admin/promo-codes", nil)
	req.SetBasicAuth("admin", "wrong")
	w = httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("with wrong password: status = %d, want 401", w.Code)
	}
}

// The cancel and refund bodies are fully optional; an empty body must leave
// the request at its defaults instead of failing.
func TestDecodeBody(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(""))
	var cancel cancelRequest
	if err := decodeBody(req, &cancel); err != nil {
		t.Fatalf("decodeBody(empty) error = %v", err)
	}
	if cancel.AtPeriodEnd != nil {
		t.Errorf("AtPeriodEnd = %v, want nil", cancel.AtPeriodEnd)
	}

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"at_period_end":false}`))
	if err := decodeBody(req, &cancel); err != nil {
		t.Fatalf("decodeBody(json) error = %v", err)
	}
	if cancel.AtPeriodEnd == nil || *cancel.AtPeriodEnd {
		t.Errorf("AtPeriodEnd = %v, want false", cancel.AtPeriodEnd)
	}

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader("not json"))
	if err := decodeBody(req, &cancel); err == nil {
		t.Error("decodeBody(garbage) error = nil, want error")
	}
}

func TestParseID(t *testing.T) {
	tests := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{in: "42", want: 42},
		{in: " 7 ", want: 7},
		{in: "0", wantErr: true},
		{in: "-1", wantErr: true},
		{in: "abc", wantErr: true},
		{in: "", wantErr: true},
	}

	for _, tt := range tests {
		got, err := parseID(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseID(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if err == nil && got != tt.want {
			t.Errorf("parseID(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}
