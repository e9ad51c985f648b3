package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/digkill/TGSubscriptionBot/internal/config"
	"github.com/digkill/TGSubscriptionBot/internal/models"
)

// YooKassa implements Gateway over the YooKassa v3 REST API.
type YooKassa struct {
	shopID     string
	secretKey  string
	baseURL    string
	returnURL  string
	httpClient *http.Client
	log        *slog.Logger
}

func NewYooKassa(cfg config.Config, log *slog.Logger) *YooKassa {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &YooKassa{
		shopID:    cfg.YooKassaShopID,
		secretKey: cfg.YooKassaSecretKey,
		baseURL:   strings.TrimRight(cfg.GatewayBaseURL, "/"),
		returnURL: cfg.YooKassaReturnURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		log: log,
	}
}

type yooAmount struct {
	Value    string `json:"value"`
	Currency string `json:"currency"`
}

type yooPayment struct {
	ID           string `json:"id"`
	Status       string `json:"status"`
	Paid         bool   `json:"paid"`
	Confirmation struct {
		Type string `json:"type"`
		URL  string `json:"confirmation_url"`
	} `json:"confirmation"`
	PaymentMethod struct {
		ID    string `json:"id"`
		Saved bool   `json:"saved"`
	} `json:"payment_method"`
	CapturedAt          string `json:"captured_at"`
	CancellationDetails struct {
		Reason string `json:"reason"`
	} `json:"cancellation_details"`
}

type yooRefund struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

type yooError struct {
	Code        string `json:"code"`
	Description string `json:"description"`
}

func (c *YooKassa) CreateCharge(ctx context.Context, req ChargeRequest) (*ChargeResult, error) {
	payload := map[string]any{
		"amount": yooAmount{
			Value:    formatAmount(req.Amount),
			Currency: req.Currency,
		},
		"capture":     true,
		"description": req.Description,
	}
	if req.SavedMethodID != "" {
		payload["payment_method_id"] = req.SavedMethodID
	} else {
		returnURL := req.ReturnURL
		if returnURL == "" {
			returnURL = c.returnURL
		}
		payload["confirmation"] = map[string]string{
			"type":       "redirect",
			"return_url": returnURL,
		}
		if req.SaveMethod {
			payload["save_payment_method"] = true
		}
	}

	var parsed yooPayment
	if err := c.post(ctx, "/v3/payments", payload, &parsed); err != nil {
		return nil, err
	}
	if parsed.ID == "" {
		return nil, fmt.Errorf("invalid yookassa response (missing payment id)")
	}

	status, err := mapPaymentStatus(parsed.Status)
	if err != nil {
		return nil, err
	}
	if status == models.PaymentFailed {
		return nil, &RejectedError{Reason: rejectionReason(parsed)}
	}

	result := &ChargeResult{
		ExternalID:  parsed.ID,
		RedirectURL: parsed.Confirmation.URL,
		Status:      status,
	}
	fillPaidDetails(result, parsed)
	return result, nil
}

func (c *YooKassa) ConfirmStatus(ctx context.Context, externalID string) (*ChargeStatus, error) {
	var parsed yooPayment
	if err := c.get(ctx, "/v3/payments/"+externalID, &parsed); err != nil {
		return nil, err
	}

	status, err := mapPaymentStatus(parsed.Status)
	if err != nil {
		return nil, err
	}

	cs := &ChargeStatus{Status: status}
	if status == models.PaymentSucceeded {
		if t := parseTime(parsed.CapturedAt); t != nil {
			cs.PaidAt = t
		}
		if parsed.PaymentMethod.Saved {
			cs.MethodToken = parsed.PaymentMethod.ID
		}
	}
	return cs, nil
}

func (c *YooKassa) Refund(ctx context.Context, externalID string, amount int64, currency, reason string) (*RefundResult, error) {
	payload := map[string]any{
		"payment_id": externalID,
		"amount": yooAmount{
			Value:    formatAmount(amount),
			Currency: currency,
		},
		"description": reason,
	}

	var parsed yooRefund
	if err := c.post(ctx, "/v3/refunds", payload, &parsed); err != nil {
		return nil, err
	}
	if parsed.ID == "" {
		return nil, fmt.Errorf("invalid yookassa response (missing refund id)")
	}

	status := models.RefundPending
	switch parsed.Status {
	case "succeeded":
		status = models.RefundSucceeded
	case "canceled":
		status = models.RefundFailed
	}
	return &RefundResult{ExternalRefundID: parsed.ID, Status: status}, nil
}

func (c *YooKassa) post(ctx context.Context, path string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal gateway request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build gateway request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotence-Key", uuid.NewString())
	return c.do(req, out)
}

func (c *YooKassa) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("build gateway request: %w", err)
	}
	return c.do(req, out)
}

func (c *YooKassa) do(req *http.Request, out any) error {
	req.SetBasicAuth(c.shopID, c.secretKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.log.Warn("gateway request failed", "url", req.URL.Path, "err", err)
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		var ye yooError
		_ = json.NewDecoder(resp.Body).Decode(&ye)
		reason := ye.Description
		if reason == "" {
			reason = fmt.Sprintf("status %d", resp.StatusCode)
		}
		return &RejectedError{Reason: reason}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode gateway response: %w", err)
	}
	return nil
}

func mapPaymentStatus(raw string) (models.PaymentStatus, error) {
	switch raw {
	case "pending", "waiting_for_capture":
		return models.PaymentPending, nil
	case "succeeded":
		return models.PaymentSucceeded, nil
	case "canceled":
		return models.PaymentFailed, nil
	default:
		return "", fmt.Errorf("unknown gateway payment status %q", raw)
	}
}

func fillPaidDetails(result *ChargeResult, parsed yooPayment) {
	if result.Status != models.PaymentSucceeded {
		return
	}
	if t := parseTime(parsed.CapturedAt); t != nil {
		result.PaidAt = t
	}
	if parsed.PaymentMethod.Saved {
		result.MethodToken = parsed.PaymentMethod.ID
	}
}

func rejectionReason(parsed yooPayment) string {
	if parsed.CancellationDetails.Reason != "" {
		return parsed.CancellationDetails.Reason
	}
	return "canceled"
}

func parseTime(raw string) *time.Time {
	if raw == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil
	}
	return &t
}

func formatAmount(minorUnits int64) string {
	return fmt.Sprintf("%d.%02d", minorUnits/100, minorUnits%100)
}
