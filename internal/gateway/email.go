package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"fulfillment-service/internal/util"

	"go.uber.org/zap"
)

// EmailSender delivers customer notifications through the transactional
// email API. Sends are fire-and-forget: callers log failures and move on.
type EmailSender struct {
	apiKey     string
	from       string
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewEmailSender creates a new email sender
func NewEmailSender(apiKey, from, baseURL string) *EmailSender {
	return &EmailSender{
		apiKey:     apiKey,
		from:       from,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     util.GetLogger(),
	}
}

type emailRequest struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	HTML    string   `json:"html"`
}

// Send delivers one email. Without an API key it is a logged no-op.
func (s *EmailSender) Send(ctx context.Context, to, subject, html string) error {
	if s.apiKey == "" {
		s.logger.Debug("No email API key, skipping send", zap.String("to", to))
		return nil
	}

	body, err := json.Marshal(emailRequest{
		From:    s.from,
		To:      []string{to},
		Subject: subject,
		HTML:    html,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/emails", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.apiKey)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("email request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("email API returned status %d", resp.StatusCode)
	}
	return nil
}

// SendOrderConfirmation sends the payment confirmation for an order.
func (s *EmailSender) SendOrderConfirmation(ctx context.Context, to string, orderID, totalCents int64) error {
	subject := fmt.Sprintf("Order #%d confirmed", orderID)
	html := fmt.Sprintf(
		"<p>Thanks for your order!</p><p>Order #%d has been paid. Total: $%.2f CAD.</p>",
		orderID, float64(totalCents)/100)
	return s.Send(ctx, to, subject, html)
}

// SendShipmentNotification sends the shipped notice with a tracking link.
func (s *EmailSender) SendShipmentNotification(ctx context.Context, to string, orderID int64, carrier, trackingNumber, trackingURL string) error {
	subject := fmt.Sprintf("Order #%d has shipped", orderID)
	link := trackingNumber
	if trackingURL != "" {
		link = fmt.Sprintf(`<a href="%s">%s</a>`, trackingURL, trackingNumber)
	}
	html := fmt.Sprintf(
		"<p>Your order #%d is on its way via %s.</p><p>Tracking number: %s</p>",
		orderID, carrier, link)
	return s.Send(ctx, to, subject, html)
}
