package gateway

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"fulfillment-service/internal/util"

	"go.uber.org/zap"
)

// Webhook event types delivered by the payment gateway.
const (
	EventCheckoutCompleted = "checkout.session.completed"
	EventCheckoutExpired   = "checkout.session.expired"
)

// SignatureHeader is the HTTP header carrying the webhook signature.
const SignatureHeader = "Payment-Signature"

// signatureTolerance bounds how old a signed timestamp may be before the
// notification is rejected as a possible replay.
const signatureTolerance = 5 * time.Minute

// ErrInvalidSignature is returned when a webhook payload cannot be verified.
var ErrInvalidSignature = errors.New("invalid webhook signature")

// CheckoutItem is a server-priced line item sent to the gateway.
type CheckoutItem struct {
	Name           string
	UnitPriceCents int64
	Quantity       int
}

// CheckoutSession is the hosted payment session created by the gateway.
type CheckoutSession struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// WebhookEvent is the tagged notification envelope. Unrecognized types are
// acknowledged and ignored by the processor.
type WebhookEvent struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object SessionObject `json:"object"`
	} `json:"data"`
}

// SessionObject is the checkout session embedded in a webhook event.
type SessionObject struct {
	ID            string           `json:"id"`
	PaymentStatus string           `json:"payment_status"`
	CustomerEmail *string          `json:"customer_email,omitempty"`
	Shipping      *SessionShipping `json:"shipping,omitempty"`
}

// SessionShipping is the shipping contact collected by the hosted checkout.
type SessionShipping struct {
	Name    string         `json:"name"`
	Phone   string         `json:"phone"`
	Address SessionAddress `json:"address"`
}

type SessionAddress struct {
	Line1      string `json:"line1"`
	Line2      string `json:"line2"`
	City       string `json:"city"`
	State      string `json:"state"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
}

// PaymentClient talks to the payment gateway and verifies its webhooks.
type PaymentClient struct {
	baseURL       string
	secretKey     string
	webhookSecret string
	siteURL       string
	httpClient    *http.Client
	logger        *zap.Logger
	now           func() time.Time
}

// NewPaymentClient creates a new payment gateway client
func NewPaymentClient(baseURL, secretKey, webhookSecret, siteURL string) *PaymentClient {
	return &PaymentClient{
		baseURL:       strings.TrimRight(baseURL, "/"),
		secretKey:     secretKey,
		webhookSecret: webhookSecret,
		siteURL:       strings.TrimRight(siteURL, "/"),
		httpClient:    &http.Client{Timeout: 10 * time.Second},
		logger:        util.GetLogger(),
		now:           time.Now,
	}
}

type sessionCreateRequest struct {
	Mode          string            `json:"mode"`
	SuccessURL    string            `json:"success_url"`
	CancelURL     string            `json:"cancel_url"`
	CustomerEmail *string           `json:"customer_email,omitempty"`
	LineItems     []sessionLineItem `json:"line_items"`
}

type sessionLineItem struct {
	Quantity  int              `json:"quantity"`
	PriceData sessionPriceData `json:"price_data"`
}

type sessionPriceData struct {
	Currency    string `json:"currency"`
	UnitAmount  int64  `json:"unit_amount"`
	ProductData struct {
		Name string `json:"name"`
	} `json:"product_data"`
}

// CreateCheckoutSession creates a hosted checkout session for the given
// server-trusted line items and returns the session id and redirect URL.
func (c *PaymentClient) CreateCheckoutSession(ctx context.Context, items []CheckoutItem, email *string) (*CheckoutSession, error) {
	req := sessionCreateRequest{
		Mode:          "payment",
		SuccessURL:    c.siteURL + "/checkout/success?session_id={CHECKOUT_SESSION_ID}",
		CancelURL:     c.siteURL + "/cart",
		CustomerEmail: email,
	}
	for _, item := range items {
		li := sessionLineItem{Quantity: item.Quantity}
		li.PriceData.Currency = "cad"
		li.PriceData.UnitAmount = item.UnitPriceCents
		li.PriceData.ProductData.Name = item.Name
		req.LineItems = append(req.LineItems, li)
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal session request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/v1/checkout/sessions", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.secretKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("gateway request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, fmt.Errorf("gateway returned status %d", resp.StatusCode)
	}

	var session CheckoutSession
	if err := json.NewDecoder(resp.Body).Decode(&session); err != nil {
		return nil, fmt.Errorf("failed to decode session response: %w", err)
	}
	if session.ID == "" || session.URL == "" {
		return nil, fmt.Errorf("gateway returned incomplete session")
	}

	c.logger.Info("Checkout session created", zap.String("session_id", session.ID))
	return &session, nil
}

// VerifySignature checks the `t=<unix>,v1=<hex>` header against an HMAC-SHA256
// of "<t>.<body>". The payload must not be interpreted before this passes.
func (c *PaymentClient) VerifySignature(payload []byte, header string) error {
	timestamp, signature, err := parseSignatureHeader(header)
	if err != nil {
		return err
	}

	age := c.now().Sub(time.Unix(timestamp, 0))
	if age > signatureTolerance || age < -signatureTolerance {
		return fmt.Errorf("%w: timestamp outside tolerance", ErrInvalidSignature)
	}

	expected := computeSignature(c.webhookSecret, timestamp, payload)
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return ErrInvalidSignature
	}
	return nil
}

// ParseWebhookEvent decodes a verified payload into its tagged event form.
func ParseWebhookEvent(payload []byte) (*WebhookEvent, error) {
	var event WebhookEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, fmt.Errorf("failed to unmarshal webhook event: %w", err)
	}
	if event.Type == "" {
		return nil, fmt.Errorf("webhook event missing type")
	}
	return &event, nil
}

func parseSignatureHeader(header string) (timestamp int64, signature string, err error) {
	for _, part := range strings.Split(header, ",") {
		k, v, found := strings.Cut(strings.TrimSpace(part), "=")
		if !found {
			continue
		}
		switch k {
		case "t":
			timestamp, err = strconv.ParseInt(v, 10, 64)
			if err != nil {
				return 0, "", fmt.Errorf("%w: bad timestamp", ErrInvalidSignature)
			}
		case "v1":
			signature = v
		}
	}
	if timestamp == 0 || signature == "" {
		return 0, "", fmt.Errorf("%w: malformed header", ErrInvalidSignature)
	}
	return timestamp, signature, nil
}

func computeSignature(secret string, timestamp int64, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.", timestamp)
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}
