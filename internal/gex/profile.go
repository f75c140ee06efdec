package gex

import (
	"math"
	"sort"

	"github.com/shopspring/decimal"
)

// DefaultContractMultiplier is the number of shares per equity option.
const DefaultContractMultiplier = 100

// Exposure is the dollar gamma of one contract line for a 1% move:
// gamma * OI * multiplier * S^2 * 0.01.
func Exposure(gamma float64, openInterest int64, multiplier, spot float64) float64 {
	return gamma * float64(openInterest) * multiplier * spot * spot * 0.01
}

// BuildProfile groups contracts by strike and returns one row per strike in
// ascending strike order.
func BuildProfile(contracts []OptionContractQuote, spot, multiplier float64) []StrikeGammaProfile {
	byStrike := make(map[string]*StrikeGammaProfile)
	for i := range contracts {
		c := &contracts[i]
		key := c.Strike.String()
		p, ok := byStrike[key]
		if !ok {
			p = &StrikeGammaProfile{Strike: c.Strike}
			byStrike[key] = p
		}

		exp := Exposure(c.Gamma, c.OpenInterest, multiplier, spot)
		switch c.Type {
		case Call:
			p.CallGamma += exp
			p.CallOI += c.OpenInterest
			p.CallVolume += c.Volume
		case Put:
			p.PutGamma += exp
			p.PutOI += c.OpenInterest
			p.PutVolume += c.Volume
		}
	}

	profile := make([]StrikeGammaProfile, 0, len(byStrike))
	for _, p := range byStrike {
		p.NetGamma = p.CallGamma - p.PutGamma
		p.TotalGamma = p.CallGamma + p.PutGamma
		profile = append(profile, *p)
	}
	sort.Slice(profile, func(i, j int) bool {
		return profile[i].Strike.LessThan(profile[j].Strike)
	})
	return profile
}

// MaxGammaStrike returns the strike with the highest total gamma. The profile
// must be sorted ascending; on ties the smallest strike wins.
func MaxGammaStrike(profile []StrikeGammaProfile) (decimal.Decimal, float64) {
	if len(profile) == 0 {
		return decimal.Zero, 0
	}
	best := 0
	for i := 1; i < len(profile); i++ {
		if profile[i].TotalGamma > profile[best].TotalGamma {
			best = i
		}
	}
	return profile[best].Strike, profile[best].TotalGamma
}

// GammaFlipPoint walks cumulative net gamma over ascending strikes and
// returns the linearly interpolated price of the first sign change. Strikes
// where the running sum is exactly zero are skipped so the interpolation
// always spans two nonzero points. Returns nil when the sign never changes.
func GammaFlipPoint(profile []StrikeGammaProfile) *float64 {
	var (
		cum       float64
		prevCum   float64
		prevPrice float64
		havePrev  bool
	)
	for _, p := range profile {
		cum += p.NetGamma
		if cum == 0 {
			continue
		}
		price := p.Strike.InexactFloat64()
		if havePrev && (prevCum > 0) != (cum > 0) {
			a, b := math.Abs(prevCum), math.Abs(cum)
			flip := prevPrice + (price-prevPrice)*a/(a+b)
			return &flip
		}
		prevCum, prevPrice, havePrev = cum, price, true
	}
	return nil
}

// MaxPain returns the settlement strike that minimises the intrinsic value
// paid out to option holders. Ties resolve to the smallest strike.
func MaxPain(contracts []OptionContractQuote, multiplier float64) decimal.Decimal {
	seen := make(map[string]bool)
	var strikes []decimal.Decimal
	for i := range contracts {
		k := contracts[i].Strike.String()
		if !seen[k] {
			seen[k] = true
			strikes = append(strikes, contracts[i].Strike)
		}
	}
	if len(strikes) == 0 {
		return decimal.Zero
	}
	sort.Slice(strikes, func(i, j int) bool { return strikes[i].LessThan(strikes[j]) })

	mult := decimal.NewFromFloat(multiplier)
	best := strikes[0]
	var bestValue decimal.Decimal
	for i, settle := range strikes {
		total := decimal.Zero
		for j := range contracts {
			c := &contracts[j]
			if c.OpenInterest <= 0 {
				continue
			}
			var intrinsic decimal.Decimal
			if c.Type == Call {
				intrinsic = decimal.Max(decimal.Zero, settle.Sub(c.Strike))
			} else {
				intrinsic = decimal.Max(decimal.Zero, c.Strike.Sub(settle))
			}
			total = total.Add(intrinsic.Mul(decimal.NewFromInt(c.OpenInterest)).Mul(mult))
		}
		if i == 0 || total.LessThan(bestValue) {
			best, bestValue = settle, total
		}
	}
	return best
}
