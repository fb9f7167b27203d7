package odds

import (
	"fmt"
	"math"
	"sort"

	"github.com/shopspring/decimal"
)

// MinValidOdds is the smallest payout multiplier accepted from a pool. Feeds use lower
// values (0, negatives, fractional placeholders) to mark scratched or unsold combinations.
// A real payout never returns less than the stake, so anything below 1.0 is a placeholder
// such as the bridge's 0.3, not a price.
const MinValidOdds = 1.0

// Pool maps a combination key to its payout odds.
type Pool map[string]float64

// Result maps a horse token to its synthetic win odds.
type Result map[Token]float64

// SkipReason explains why a pool entry did not contribute.
type SkipReason string

const (
	SkipMalformedKey SkipReason = "malformed_key"
	SkipWrongSize    SkipReason = "wrong_size"
	SkipInvalidOdds  SkipReason = "invalid_odds"
)

// SkippedEntry is a pool entry excluded from the computation.
type SkippedEntry struct {
	Key    string     `json:"key"`
	Odds   float64    `json:"odds"`
	Reason SkipReason `json:"reason"`
}

// Breakdown is the full outcome of a bulk computation.
type Breakdown struct {
	Market  Market            `json:"market"`
	Odds    Result            `json:"odds"`
	Mass    map[Token]float64 `json:"mass"`
	Used    int               `json:"used"`
	Skipped []SkippedEntry    `json:"skipped,omitempty"`
}

// Calculator converts combination pools of one market into synthetic win odds.
// The zero value is not usable; use NewCalculator.
type Calculator struct {
	market Market
}

// NewCalculator returns a calculator for the given market.
func NewCalculator(market Market) (Calculator, error) {
	if !market.Valid() {
		return Calculator{}, fmt.Errorf("%w %q", ErrUnsupportedMarket, market)
	}
	return Calculator{market: market}, nil
}

// Market returns the market the calculator was built for.
func (c Calculator) Market() Market {
	return c.market
}

// Synthesize returns the synthetic odds of every horse with at least one valid entry.
func (c Calculator) Synthesize(pool Pool) Result {
	return c.Breakdown(pool).Odds
}

// SynthesizeHorse returns the synthetic odds of one horse. The boolean is false when no
// valid entry references the horse.
func (c Calculator) SynthesizeHorse(pool Pool, horse int) (float64, bool) {
	target, err := PadHorse(horse)
	if err != nil {
		return 0, false
	}

	var mass float64
	c.each(pool, func(key string, odds float64, tokens []Token) {
		for _, t := range tokens {
			if t == target {
				mass += 1 / odds
				return
			}
		}
	}, nil)

	if mass <= 0 {
		return 0, false
	}
	return RoundOdds(1 / mass), true
}

// Breakdown runs the bulk computation and reports the accumulated mass and skipped entries.
func (c Calculator) Breakdown(pool Pool) Breakdown {
	b := Breakdown{
		Market: c.market,
		Odds:   make(Result),
		Mass:   make(map[Token]float64),
	}

	c.each(pool, func(key string, odds float64, tokens []Token) {
		b.Used++
		for _, t := range tokens {
			b.Mass[t] += 1 / odds
		}
	}, func(s SkippedEntry) {
		b.Skipped = append(b.Skipped, s)
	})

	for t, mass := range b.Mass {
		if mass > 0 {
			b.Odds[t] = RoundOdds(1 / mass)
		}
	}
	return b
}

// each visits the valid entries of pool in key order. Summing in a fixed order keeps the
// result bit-identical across calls regardless of map iteration order.
func (c Calculator) each(pool Pool, visit func(key string, odds float64, tokens []Token), skip func(SkippedEntry)) {
	if len(pool) == 0 || !c.market.Valid() {
		return
	}

	keys := make([]string, 0, len(pool))
	for k := range pool {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		odds := pool[key]
		tokens, err := TokensOf(key)
		switch {
		case err != nil:
			if skip != nil {
				skip(SkippedEntry{Key: key, Odds: odds, Reason: SkipMalformedKey})
			}
		case len(tokens) != c.market.Size():
			if skip != nil {
				skip(SkippedEntry{Key: key, Odds: odds, Reason: SkipWrongSize})
			}
		case !ValidOdds(odds):
			if skip != nil {
				skip(SkippedEntry{Key: key, Odds: odds, Reason: SkipInvalidOdds})
			}
		default:
			visit(key, odds, tokens)
		}
	}
}

// ValidOdds reports whether a payout multiplier may contribute to a computation.
func ValidOdds(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0) && v >= MinValidOdds
}

// RoundOdds rounds to one decimal place, halves away from zero, using the shortest
// decimal representation of v. 1.45 becomes 1.5 even though the nearest float is below it.
func RoundOdds(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return v
	}
	f, _ := decimal.NewFromFloat(v).Round(1).Float64()
	return f
}

var trio = Calculator{market: Trio}

// Synthesize computes bulk synthetic odds for a trio pool.
func Synthesize(pool Pool) Result {
	return trio.Synthesize(pool)
}

// SynthesizeHorse computes the synthetic odds of one horse from a trio pool.
func SynthesizeHorse(pool Pool, horse int) (float64, bool) {
	return trio.SynthesizeHorse(pool, horse)
}
