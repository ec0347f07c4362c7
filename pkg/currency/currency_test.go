package currency_test

import (
	"testing"

	"github.com/payloop/payloop/pkg/currency"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecimalString(t *testing.T) {
	assert.Equal(t, "29.99", currency.DecimalString(2999, "USD"))
	assert.Equal(t, "0.05", currency.DecimalString(5, "USD"))
	assert.Equal(t, "500", currency.DecimalString(500, "JPY"))
	assert.Equal(t, "1.250", currency.DecimalString(1250, "KWD"))
	assert.Equal(t, "-3.10", currency.DecimalString(-310, "EUR"))
}

func TestParseDecimal(t *testing.T) {
	minor, err := currency.ParseDecimal("29.99", "USD")
	require.NoError(t, err)
	assert.Equal(t, int64(2999), minor)

	minor, err = currency.ParseDecimal("500", "JPY")
	require.NoError(t, err)
	assert.Equal(t, int64(500), minor)

	minor, err = currency.ParseDecimal("10", "USD")
	require.NoError(t, err)
	assert.Equal(t, int64(1000), minor)

	_, err = currency.ParseDecimal("1.999", "USD")
	assert.Error(t, err)

	_, err = currency.ParseDecimal("", "USD")
	assert.Error(t, err)
}

func TestValid(t *testing.T) {
	assert.True(t, currency.Valid("usd"))
	assert.True(t, currency.Valid(" EUR "))
	assert.False(t, currency.Valid("US"))
	assert.False(t, currency.Valid("U5D"))
}
