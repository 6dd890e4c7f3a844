package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeAddress(t *testing.T) {
	line2 := "  Unit 4  "
	blank := "   "

	t.Run("trims and keeps fields", func(t *testing.T) {
		in, err := normalizeAddress(&AddressRequest{
			Name:       "  Jane Buyer ",
			Line1:      " 1 Main St ",
			Line2:      &line2,
			City:       "Toronto",
			PostalCode: " M5V 1A1 ",
			Country:    "CA",
			IsDefault:  true,
		})
		require.NoError(t, err)
		assert.Equal(t, "Jane Buyer", in.Name)
		assert.Equal(t, "1 Main St", in.Line1)
		require.NotNil(t, in.Line2)
		assert.Equal(t, "Unit 4", *in.Line2)
		assert.Equal(t, "M5V 1A1", in.PostalCode)
		assert.True(t, in.IsDefault)
	})

	t.Run("blank optional becomes nil", func(t *testing.T) {
		in, err := normalizeAddress(&AddressRequest{
			Name:       "Jane",
			Line1:      "1 Main St",
			Line2:      &blank,
			City:       "Toronto",
			PostalCode: "M5V 1A1",
			Country:    "CA",
		})
		require.NoError(t, err)
		assert.Nil(t, in.Line2)
		assert.Nil(t, in.State)
		assert.Nil(t, in.Phone)
	})

	t.Run("missing required fields", func(t *testing.T) {
		_, err := normalizeAddress(&AddressRequest{
			Name:  "Jane",
			Line1: "1 Main St",
		})
		require.ErrorIs(t, err, ErrValidation)
		assert.Contains(t, err.Error(), "city")
		assert.Contains(t, err.Error(), "postal_code")
		assert.Contains(t, err.Error(), "country")
	})

	t.Run("whitespace-only required field", func(t *testing.T) {
		_, err := normalizeAddress(&AddressRequest{
			Name:       "   ",
			Line1:      "1 Main St",
			City:       "Toronto",
			PostalCode: "M5V 1A1",
			Country:    "CA",
		})
		assert.ErrorIs(t, err, ErrValidation)
	})
}
