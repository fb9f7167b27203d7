package odds

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnsupportedMarket is returned for market names other than Markets.
var ErrUnsupportedMarket = errors.New("unsupported market")

// Market identifies the shape of a combination pool.
type Market string

const (
	// Quinella pools pair two horses in either order
	Quinella Market = "quinella"
	// Trio pools pick three horses in any order
	Trio Market = "trio"
	// Trifecta pools pick three horses in finishing order
	Trifecta Market = "trifecta"
)

// Markets lists every supported market.
var Markets = []Market{Quinella, Trio, Trifecta}

// Size returns the number of horses in one combination of the market.
func (m Market) Size() int {
	switch m {
	case Quinella:
		return 2
	case Trio, Trifecta:
		return 3
	default:
		return 0
	}
}

// KeyLength returns the expected combination key length for the market.
func (m Market) KeyLength() int {
	return m.Size() * TokenWidth
}

// Valid reports whether the market is supported.
func (m Market) Valid() bool {
	return m.Size() > 0
}

func (m Market) String() string {
	return string(m)
}

// ParseMarket parses a market name case-insensitively. An empty name selects Trio.
func ParseMarket(name string) (Market, error) {
	if strings.TrimSpace(name) == "" {
		return Trio, nil
	}
	m := Market(strings.ToLower(strings.TrimSpace(name)))
	if !m.Valid() {
		return "", fmt.Errorf("%w %q", ErrUnsupportedMarket, name)
	}
	return m, nil
}
