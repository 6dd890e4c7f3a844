package service

import (
	"testing"

	"fulfillment-service/internal/models"

	"github.com/stretchr/testify/assert"
)

func TestValidateItems(t *testing.T) {
	tests := []struct {
		name    string
		items   []OrderItemRequest
		wantErr bool
	}{
		{"single item", []OrderItemRequest{{ProductID: 1, Quantity: 1}}, false},
		{"max quantity", []OrderItemRequest{{ProductID: 1, Quantity: 1000}}, false},
		{"empty cart", nil, true},
		{"zero quantity", []OrderItemRequest{{ProductID: 1, Quantity: 0}}, true},
		{"negative quantity", []OrderItemRequest{{ProductID: 1, Quantity: -3}}, true},
		{"over max quantity", []OrderItemRequest{{ProductID: 1, Quantity: 1001}}, true},
		{"bad product id", []OrderItemRequest{{ProductID: 0, Quantity: 1}}, true},
		{"one bad item fails the cart", []OrderItemRequest{
			{ProductID: 1, Quantity: 2},
			{ProductID: 2, Quantity: 0},
		}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateItems(tt.items)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrValidation)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestCalculateTotal(t *testing.T) {
	items := []OrderItemRequest{
		{ProductID: 1, Quantity: 2},
		{ProductID: 2, Quantity: 1},
	}
	products := map[int64]*models.Product{
		1: {ID: 1, PriceCents: 1999},
		2: {ID: 2, PriceCents: 500},
	}

	assert.Equal(t, int64(2*1999+500), calculateTotal(items, products))
	assert.Equal(t, int64(0), calculateTotal(nil, products))
}
