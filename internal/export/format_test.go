package export

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestFormatValue(t *testing.T) {
	cases := []struct {
		name  string
		value decimal.Decimal
		want  string
	}{
		{"millions", decimal.NewFromInt(1_500_000), "1.5M"},
		{"exactly a million", decimal.NewFromInt(1_000_000), "1.0M"},
		{"thousands", decimal.NewFromInt(42_300), "42.3K"},
		{"exactly a thousand", decimal.NewFromInt(1_000), "1.0K"},
		{"below a thousand", decimal.NewFromFloat(999.9), "999.90"},
		{"small", decimal.NewFromFloat(3.14159), "3.14"},
		{"zero", decimal.Zero, "0.00"},
		{"negative millions", decimal.NewFromInt(-2_500_000), "-2.5M"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, FormatValue(tc.value))
		})
	}
}

func TestTitleCase(t *testing.T) {
	assert.Equal(t, "Total Headcount", TitleCase("total_headcount"))
	assert.Equal(t, "Absence Rate", TitleCase("absence_rate"))
	assert.Equal(t, "Overtime", TitleCase("overtime"))
	assert.Equal(t, "", TitleCase(""))
}
