package money_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldstack/fieldstack/internal/domain"
	"github.com/fieldstack/fieldstack/internal/money"
)

func TestFormat(t *testing.T) {
	tests := []struct {
		name  string
		cents domain.Cents
		want  string
	}{
		{"zero", 0, "$0.00"},
		{"whole dollars", 1200, "$12.00"},
		{"dollars and cents", 1234, "$12.34"},
		{"under a dollar", 7, "$0.07"},
		{"single cent", 1, "$0.01"},
		{"large amount", 123456789, "$1234567.89"},
		{"negative", -50, "-$0.50"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, money.Format(tt.cents))
		})
	}
}

func TestParseDollars(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  domain.Cents
	}{
		{"plain", "12.34", 1234},
		{"with dollar sign", "$12.34", 1234},
		{"whole dollars", "12", 1200},
		{"one decimal place", "12.3", 1230},
		{"zero", "0", 0},
		{"under a dollar", "0.07", 7},
		{"negative", "-$0.50", -50},
		{"surrounding whitespace", "  12.34 ", 1234},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := money.ParseDollars(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseDollarsRejectsMalformed(t *testing.T) {
	bad := []string{
		"",
		"   ",
		"$",
		"-",
		"abc",
		"12.345",
		"1.2.3",
		"$-5.00", // minus must precede the dollar sign
	}

	for _, input := range bad {
		t.Run(input, func(t *testing.T) {
			_, err := money.ParseDollars(input)
			require.Error(t, err)
			assert.Equal(t, domain.EINVALID, domain.ErrorCode(err))
		})
	}
}

// Format and ParseDollars must be exact inverses over cents values.
func TestFormatParseRoundTrip(t *testing.T) {
	for _, cents := range []domain.Cents{0, 1, 7, 99, 100, 1234, 99999, 123456789, -50, -1234} {
		got, err := money.ParseDollars(money.Format(cents))
		require.NoError(t, err)
		assert.Equal(t, cents, got)
	}
}
