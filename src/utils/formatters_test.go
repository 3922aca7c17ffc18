package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/zwehtet-dev/exchange-bot/src/models"
)

func TestFormatAmount(t *testing.T) {
	assert.Equal(t, "121,500 MMK", FormatAmount(121500, models.MMK))
	assert.Equal(t, "1,234,600 MMK", FormatAmount(1234600, models.MMK))
	assert.Equal(t, "50 MMK", FormatAmount(50, models.MMK))
	assert.Equal(t, "1,000.00 THB", FormatAmount(1000, models.THB))
	assert.Equal(t, "987.50 THB", FormatAmount(987.5, models.THB))
}
