// Package odds derives synthetic single-horse win odds from combination odds pools.
package odds

import (
	"errors"
	"fmt"
	"strconv"
)

// TokenWidth is the number of digits used to encode one horse inside a combination key.
const TokenWidth = 2

// MaxHorseNumber is the largest horse number representable in a token.
const MaxHorseNumber = 99

// Token is a zero-padded horse number as it appears inside combination keys ("01".."99").
type Token string

var (
	// ErrOddKeyLength reports a key whose length is not a multiple of TokenWidth
	ErrOddKeyLength = errors.New("combination key length is not a multiple of token width")

	// ErrNonDigitKey reports a key containing anything but ASCII digits
	ErrNonDigitKey = errors.New("combination key contains non-digit characters")

	// ErrZeroHorse reports the token "00"
	ErrZeroHorse = errors.New("combination key references horse 00")

	// ErrRepeatedHorse reports a key naming the same horse twice
	ErrRepeatedHorse = errors.New("combination key repeats a horse")

	// ErrHorseOutOfRange reports a horse number outside 1..MaxHorseNumber
	ErrHorseOutOfRange = errors.New("horse number out of range")
)

// PadHorse converts a horse number into its token.
func PadHorse(n int) (Token, error) {
	if n < 1 || n > MaxHorseNumber {
		return "", fmt.Errorf("%w: %d", ErrHorseOutOfRange, n)
	}
	return Token(fmt.Sprintf("%0*d", TokenWidth, n)), nil
}

// Number returns the horse number encoded by the token, or 0 if it is not a valid token.
func (t Token) Number() int {
	if len(t) != TokenWidth {
		return 0
	}
	n, err := strconv.Atoi(string(t))
	if err != nil || n < 1 {
		return 0
	}
	return n
}

// TokensOf splits a combination key into its horse tokens, in key order.
// It is the only place that decides which horses a key refers to.
func TokensOf(key string) ([]Token, error) {
	if len(key) == 0 || len(key)%TokenWidth != 0 {
		return nil, fmt.Errorf("%w: %q", ErrOddKeyLength, key)
	}
	for i := 0; i < len(key); i++ {
		if key[i] < '0' || key[i] > '9' {
			return nil, fmt.Errorf("%w: %q", ErrNonDigitKey, key)
		}
	}

	tokens := make([]Token, 0, len(key)/TokenWidth)
	for i := 0; i < len(key); i += TokenWidth {
		tok := Token(key[i : i+TokenWidth])
		if tok.Number() == 0 {
			return nil, fmt.Errorf("%w: %q", ErrZeroHorse, key)
		}
		for _, seen := range tokens {
			if seen == tok {
				return nil, fmt.Errorf("%w: %q", ErrRepeatedHorse, key)
			}
		}
		tokens = append(tokens, tok)
	}
	return tokens, nil
}

// Contains reports whether the key refers to the given horse at any position.
func Contains(key string, horse Token) bool {
	tokens, err := TokensOf(key)
	if err != nil {
		return false
	}
	for _, t := range tokens {
		if t == horse {
			return true
		}
	}
	return false
}
