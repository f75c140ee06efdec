// Package greeks computes Black-Scholes Greeks with a continuous dividend
// yield. It fills in Greeks for chain rows that arrive without them.
package greeks

import (
	"errors"
	"math"
	"time"

	"github.com/montanaflynn/stats"

	"github.com/dgnsrekt/zerogex/internal/gex"
)

const (
	DefaultRiskFreeRate  = 0.045
	DefaultDividendYield = 0.013

	secondsPerYear = 365.25 * 24 * 3600
	minTime        = 1.0 / 365 / 24 // one hour
)

var ErrNoSolution = errors.New("implied volatility did not converge")

// Greeks for one contract. Theta is per calendar day; vega and rho are per
// one point (1%) change.
type Greeks struct {
	Delta float64 `json:"delta"`
	Gamma float64 `json:"gamma"`
	Theta float64 `json:"theta"`
	Vega  float64 `json:"vega"`
	Rho   float64 `json:"rho"`
}

// Provider prices options with fixed rate and dividend assumptions.
type Provider struct {
	RiskFreeRate  float64
	DividendYield float64
	location      *time.Location
}

func New(riskFreeRate, dividendYield float64) *Provider {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		loc = time.UTC
	}
	return &Provider{RiskFreeRate: riskFreeRate, DividendYield: dividendYield, location: loc}
}

// TimeToExpiration returns years until 16:00 New York time on the
// expiration date, floored at zero.
func (p *Provider) TimeToExpiration(now, expiration time.Time) float64 {
	y, m, d := expiration.Date()
	expiry := time.Date(y, m, d, 16, 0, 0, 0, p.location)
	t := expiry.Sub(now).Seconds() / secondsPerYear
	return math.Max(t, 0)
}

// Calculate returns the Greeks of one option. Expired options get
// intrinsic-only Greeks; options within an hour of expiry are priced as if
// one hour remained.
func (p *Provider) Calculate(spot, strike float64, expiration time.Time, typ gex.OptionType, iv float64, now time.Time) Greeks {
	t := p.TimeToExpiration(now, expiration)
	if t <= 0 || iv <= 0 {
		return expired(spot, strike, typ)
	}
	t = math.Max(t, minTime)

	r, q := p.RiskFreeRate, p.DividendYield
	sqrtT := math.Sqrt(t)
	d1 := (math.Log(spot/strike) + (r-q+0.5*iv*iv)*t) / (iv * sqrtT)
	d2 := d1 - iv*sqrtT

	discQ := math.Exp(-q * t)
	discR := math.Exp(-r * t)
	pdf := stats.NormPdf(d1, 0, 1)

	var g Greeks
	decay := -spot * pdf * iv * discQ / (2 * sqrtT)
	if typ == gex.Call {
		g.Delta = discQ * stats.NormCdf(d1, 0, 1)
		g.Theta = (decay - r*strike*discR*stats.NormCdf(d2, 0, 1) + q*spot*discQ*stats.NormCdf(d1, 0, 1)) / 365
		g.Rho = strike * t * discR * stats.NormCdf(d2, 0, 1) / 100
	} else {
		g.Delta = -discQ * stats.NormCdf(-d1, 0, 1)
		g.Theta = (decay + r*strike*discR*stats.NormCdf(-d2, 0, 1) - q*spot*discQ*stats.NormCdf(-d1, 0, 1)) / 365
		g.Rho = -strike * t * discR * stats.NormCdf(-d2, 0, 1) / 100
	}
	g.Gamma = pdf * discQ / (spot * iv * sqrtT)
	g.Vega = spot * discQ * pdf * sqrtT / 100

	return Greeks{
		Delta: round(g.Delta, 6),
		Gamma: round(g.Gamma, 8),
		Theta: round(g.Theta, 6),
		Vega:  round(g.Vega, 6),
		Rho:   round(g.Rho, 6),
	}
}

// Price returns the Black-Scholes value of an option.
func (p *Provider) Price(spot, strike float64, expiration time.Time, typ gex.OptionType, iv float64, now time.Time) float64 {
	t := p.TimeToExpiration(now, expiration)
	if t <= 0 || iv <= 0 {
		if typ == gex.Call {
			return math.Max(spot-strike, 0)
		}
		return math.Max(strike-spot, 0)
	}
	r, q := p.RiskFreeRate, p.DividendYield
	sqrtT := math.Sqrt(t)
	d1 := (math.Log(spot/strike) + (r-q+0.5*iv*iv)*t) / (iv * sqrtT)
	d2 := d1 - iv*sqrtT
	if typ == gex.Call {
		return spot*math.Exp(-q*t)*stats.NormCdf(d1, 0, 1) - strike*math.Exp(-r*t)*stats.NormCdf(d2, 0, 1)
	}
	return strike*math.Exp(-r*t)*stats.NormCdf(-d2, 0, 1) - spot*math.Exp(-q*t)*stats.NormCdf(-d1, 0, 1)
}

// ImpliedVolatility backs out volatility from a market price by bisection
// over [0.01, 5.0].
func (p *Provider) ImpliedVolatility(price, spot, strike float64, expiration time.Time, typ gex.OptionType, now time.Time) (float64, error) {
	if p.TimeToExpiration(now, expiration) <= 0 {
		return 0, ErrNoSolution
	}
	f := func(sigma float64) float64 {
		return p.Price(spot, strike, expiration, typ, sigma, now) - price
	}

	lo, hi := 0.01, 5.0
	flo, fhi := f(lo), f(hi)
	if flo*fhi > 0 {
		return 0, ErrNoSolution
	}
	for range 200 {
		mid := (lo + hi) / 2
		fm := f(mid)
		if math.Abs(fm) < 1e-8 || hi-lo < 1e-10 {
			return round(mid, 6), nil
		}
		if (fm > 0) == (flo > 0) {
			lo, flo = mid, fm
		} else {
			hi = mid
		}
	}
	return round((lo+hi)/2, 6), nil
}

// Fill sets missing Greeks on a quote from its implied volatility. Quotes
// without a usable IV or underlying price are returned unchanged.
func (p *Provider) Fill(q gex.OptionContractQuote, now time.Time) gex.OptionContractQuote {
	if q.ImpliedVolatility == nil || *q.ImpliedVolatility <= 0 || q.UnderlyingPrice <= 0 {
		return q
	}
	if q.Gamma > 0 && q.Delta != nil && q.Vega != nil {
		return q
	}
	g := p.Calculate(q.UnderlyingPrice, q.Strike.InexactFloat64(), q.Expiration, q.Type, *q.ImpliedVolatility, now)
	if !(q.Gamma > 0) {
		q.Gamma = g.Gamma
	}
	if q.Delta == nil {
		q.Delta = &g.Delta
	}
	if q.Vega == nil {
		q.Vega = &g.Vega
	}
	return q
}

func expired(spot, strike float64, typ gex.OptionType) Greeks {
	itm := spot > strike
	if typ == gex.Put {
		itm = spot < strike
	}
	var g Greeks
	if itm {
		g.Delta = 1
		if typ == gex.Put {
			g.Delta = -1
		}
	}
	return g
}

func round(v float64, places int) float64 {
	pow := math.Pow(10, float64(places))
	return math.Round(v*pow) / pow
}
