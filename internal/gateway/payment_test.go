package gateway

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPaymentClient(secret string, now time.Time) *PaymentClient {
	c := NewPaymentClient("https://api.payments.example.com", "sk_test", secret, "http://localhost:3000")
	c.now = func() time.Time { return now }
	return c
}

func signedHeader(secret string, signedAt time.Time, payload []byte) string {
	ts := signedAt.Unix()
	return fmt.Sprintf("t=%d,v1=%s", ts, computeSignature(secret, ts, payload))
}

func TestVerifySignature(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	payload := []byte(`{"id":"evt_1","type":"checkout.session.completed"}`)

	t.Run("valid signature", func(t *testing.T) {
		c := testPaymentClient("whsec_test", now)
		err := c.VerifySignature(payload, signedHeader("whsec_test", now, payload))
		assert.NoError(t, err)
	})

	t.Run("tampered payload", func(t *testing.T) {
		c := testPaymentClient("whsec_test", now)
		header := signedHeader("whsec_test", now, payload)
		tampered := []byte(`{"id":"evt_1","type":"checkout.session.expired"}`)
		err := c.VerifySignature(tampered, header)
		assert.ErrorIs(t, err, ErrInvalidSignature)
	})

	t.Run("wrong secret", func(t *testing.T) {
		c := testPaymentClient("whsec_test", now)
		err := c.VerifySignature(payload, signedHeader("whsec_other", now, payload))
		assert.ErrorIs(t, err, ErrInvalidSignature)
	})

	t.Run("stale timestamp", func(t *testing.T) {
		c := testPaymentClient("whsec_test", now)
		header := signedHeader("whsec_test", now.Add(-6*time.Minute), payload)
		err := c.VerifySignature(payload, header)
		assert.ErrorIs(t, err, ErrInvalidSignature)
	})

	t.Run("future timestamp", func(t *testing.T) {
		c := testPaymentClient("whsec_test", now)
		header := signedHeader("whsec_test", now.Add(6*time.Minute), payload)
		err := c.VerifySignature(payload, header)
		assert.ErrorIs(t, err, ErrInvalidSignature)
	})

	t.Run("just inside tolerance", func(t *testing.T) {
		c := testPaymentClient("whsec_test", now)
		header := signedHeader("whsec_test", now.Add(-4*time.Minute), payload)
		err := c.VerifySignature(payload, header)
		assert.NoError(t, err)
	})

	t.Run("malformed header", func(t *testing.T) {
		c := testPaymentClient("whsec_test", now)
		for _, header := range []string{"", "t=notanumber,v1=abc", "v1=abc", fmt.Sprintf("t=%d", now.Unix())} {
			err := c.VerifySignature(payload, header)
			assert.ErrorIs(t, err, ErrInvalidSignature, "header %q", header)
		}
	})
}

func TestParseSignatureHeader(t *testing.T) {
	ts, sig, err := parseSignatureHeader("t=1717243200, v1=deadbeef")
	require.NoError(t, err)
	assert.Equal(t, int64(1717243200), ts)
	assert.Equal(t, "deadbeef", sig)

	// Unknown keys are ignored, same as extra signature schemes.
	ts, sig, err = parseSignatureHeader("t=1717243200,v0=old,v1=deadbeef")
	require.NoError(t, err)
	assert.Equal(t, int64(1717243200), ts)
	assert.Equal(t, "deadbeef", sig)
}

func TestParseWebhookEvent(t *testing.T) {
	payload := []byte(`{
		"id": "evt_123",
		"type": "checkout.session.completed",
		"data": {
			"object": {
				"id": "cs_456",
				"payment_status": "paid",
				"customer_email": "buyer@example.com",
				"shipping": {
					"name": "Jane Buyer",
					"address": {"line1": "1 Main St", "city": "Toronto", "postal_code": "M5V 1A1", "country": "CA"}
				}
			}
		}
	}`)

	event, err := ParseWebhookEvent(payload)
	require.NoError(t, err)
	assert.Equal(t, "evt_123", event.ID)
	assert.Equal(t, EventCheckoutCompleted, event.Type)
	assert.Equal(t, "cs_456", event.Data.Object.ID)
	assert.Equal(t, "paid", event.Data.Object.PaymentStatus)
	require.NotNil(t, event.Data.Object.CustomerEmail)
	assert.Equal(t, "buyer@example.com", *event.Data.Object.CustomerEmail)
	require.NotNil(t, event.Data.Object.Shipping)
	assert.Equal(t, "Toronto", event.Data.Object.Shipping.Address.City)

	_, err = ParseWebhookEvent([]byte(`{"id":"evt_1"}`))
	assert.Error(t, err)

	_, err = ParseWebhookEvent([]byte(`not json`))
	assert.Error(t, err)
}
