package service

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"testing"
	"time"

	"fulfillment-service/internal/gateway"
	"fulfillment-service/internal/models"

	"github.com/stretchr/testify/assert"
)

func orderWithEmail(email *string) *models.Order {
	return &models.Order{ID: 1, Email: email}
}

const testWebhookSecret = "whsec_test"

// sign produces the gateway's `t=<unix>,v1=<hexhmac>` header for a payload.
func sign(payload []byte) string {
	ts := time.Now().Unix()
	mac := hmac.New(sha256.New, []byte(testWebhookSecret))
	fmt.Fprintf(mac, "%d.", ts)
	mac.Write(payload)
	return fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

// The processors below have no store wired; the cases exercised here must
// all resolve before any database access.
func testProcessor() *WebhookProcessor {
	payments := gateway.NewPaymentClient("https://api.payments.example.com", "sk_test", testWebhookSecret, "http://localhost:3000")
	return NewWebhookProcessor(nil, payments, nil)
}

func TestHandleNotificationRejectsBadSignature(t *testing.T) {
	p := testProcessor()
	payload := []byte(`{"id":"evt_1","type":"checkout.session.completed"}`)

	err := p.HandleNotification(context.Background(), payload, "t=1,v1=bogus")
	assert.ErrorIs(t, err, gateway.ErrInvalidSignature)

	err = p.HandleNotification(context.Background(), payload, "")
	assert.ErrorIs(t, err, gateway.ErrInvalidSignature)

	// A signature computed over a different body must not verify.
	err = p.HandleNotification(context.Background(), payload, sign([]byte(`{"id":"evt_2"}`)))
	assert.ErrorIs(t, err, gateway.ErrInvalidSignature)
}

func TestHandleNotificationAcksUnparseablePayload(t *testing.T) {
	p := testProcessor()
	payload := []byte(`this is not json`)

	// Signature is valid so retrying cannot help; the delivery is acked.
	err := p.HandleNotification(context.Background(), payload, sign(payload))
	assert.NoError(t, err)
}

func TestHandleNotificationIgnoresUnknownEventType(t *testing.T) {
	p := testProcessor()
	payload := []byte(`{"id":"evt_1","type":"customer.updated","data":{"object":{"id":"cs_1"}}}`)

	err := p.HandleNotification(context.Background(), payload, sign(payload))
	assert.NoError(t, err)
}

func TestHandleNotificationIgnoresUnpaidCompletion(t *testing.T) {
	p := testProcessor()
	payload := []byte(`{"id":"evt_1","type":"checkout.session.completed","data":{"object":{"id":"cs_1","payment_status":"unpaid"}}}`)

	err := p.HandleNotification(context.Background(), payload, sign(payload))
	assert.NoError(t, err)
}

func TestOrderEmailPrefersOrderOverSession(t *testing.T) {
	orderMail := "order@example.com"
	sessionMail := "session@example.com"
	empty := ""

	assert.Equal(t, &orderMail, orderEmail(orderWithEmail(&orderMail), &sessionMail))
	assert.Equal(t, &sessionMail, orderEmail(orderWithEmail(nil), &sessionMail))
	assert.Equal(t, &sessionMail, orderEmail(orderWithEmail(&empty), &sessionMail))
	assert.Nil(t, orderEmail(orderWithEmail(nil), nil))
}

func TestOptional(t *testing.T) {
	assert.Nil(t, optional(""))
	v := optional("x")
	assert.NotNil(t, v)
	assert.Equal(t, "x", *v)
}
