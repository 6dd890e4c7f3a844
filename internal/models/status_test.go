package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		name string
		from OrderStatus
		to   OrderStatus
		want bool
	}{
		{"pending to paid", OrderStatusPending, OrderStatusPaid, true},
		{"pending to expired", OrderStatusPending, OrderStatusExpired, true},
		{"pending to cancelled", OrderStatusPending, OrderStatusCancelled, true},
		{"pending to shipped skips payment", OrderStatusPending, OrderStatusShipped, false},
		{"pending to delivered skips everything", OrderStatusPending, OrderStatusDelivered, false},
		{"paid to shipped", OrderStatusPaid, OrderStatusShipped, true},
		{"paid to cancelled", OrderStatusPaid, OrderStatusCancelled, true},
		{"paid to delivered skips shipping", OrderStatusPaid, OrderStatusDelivered, false},
		{"paid back to pending", OrderStatusPaid, OrderStatusPending, false},
		{"shipped to delivered", OrderStatusShipped, OrderStatusDelivered, true},
		{"shipped to cancelled", OrderStatusShipped, OrderStatusCancelled, true},
		{"shipped back to paid", OrderStatusShipped, OrderStatusPaid, false},
		{"delivered is terminal", OrderStatusDelivered, OrderStatusCancelled, false},
		{"expired is terminal", OrderStatusExpired, OrderStatusPaid, false},
		{"cancelled is terminal", OrderStatusCancelled, OrderStatusPending, false},
		{"self transition", OrderStatusPaid, OrderStatusPaid, false},
		{"unknown from", OrderStatus("bogus"), OrderStatusPaid, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to))
		})
	}
}

func TestIsTerminal(t *testing.T) {
	assert.True(t, IsTerminal(OrderStatusDelivered))
	assert.True(t, IsTerminal(OrderStatusExpired))
	assert.True(t, IsTerminal(OrderStatusCancelled))

	assert.False(t, IsTerminal(OrderStatusPending))
	assert.False(t, IsTerminal(OrderStatusPaid))
	assert.False(t, IsTerminal(OrderStatusShipped))
}
