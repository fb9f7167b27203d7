package odds

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPadHorse(t *testing.T) {
	tok, err := PadHorse(1)
	require.NoError(t, err)
	assert.Equal(t, Token("01"), tok)

	tok, err = PadHorse(18)
	require.NoError(t, err)
	assert.Equal(t, Token("18"), tok)
	assert.Equal(t, 18, tok.Number())

	for _, n := range []int{0, -3, 100} {
		_, err := PadHorse(n)
		assert.ErrorIs(t, err, ErrHorseOutOfRange)
	}
}

func TestTokensOf(t *testing.T) {
	tests := []struct {
		key     string
		want    []Token
		wantErr error
	}{
		{key: "010203", want: []Token{"01", "02", "03"}},
		{key: "180701", want: []Token{"18", "07", "01"}},
		{key: "0102", want: []Token{"01", "02"}},
		{key: "01020", wantErr: ErrOddKeyLength},
		{key: "", wantErr: ErrOddKeyLength},
		{key: "01-203", wantErr: ErrNonDigitKey},
		{key: "01 203", wantErr: ErrNonDigitKey},
		{key: "００0102", wantErr: ErrNonDigitKey},
		{key: "010002", wantErr: ErrZeroHorse},
		{key: "010201", wantErr: ErrRepeatedHorse},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			got, err := TokensOf(tt.key)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, got)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestContains(t *testing.T) {
	assert.True(t, Contains("010203", "01"))
	assert.True(t, Contains("020301", "01"))
	assert.True(t, Contains("030102", "01"))
	assert.False(t, Contains("020304", "01"))
	assert.False(t, Contains("10203", "02"))
	// "102030" decodes as 10,20,30 so it never contains horse 02.
	assert.False(t, Contains("102030", "02"))
}

func TestParseMarket(t *testing.T) {
	m, err := ParseMarket("")
	require.NoError(t, err)
	assert.Equal(t, Trio, m)

	m, err = ParseMarket(" Trifecta ")
	require.NoError(t, err)
	assert.Equal(t, Trifecta, m)
	assert.Equal(t, 6, m.KeyLength())

	m, err = ParseMarket("quinella")
	require.NoError(t, err)
	assert.Equal(t, 2, m.Size())

	_, err = ParseMarket("exacta")
	assert.Error(t, err)
}
