package gex

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

// DateLayout is the wire format for expiration dates.
const DateLayout = "2006-01-02"

// OptionType is the side of an option contract.
type OptionType string

const (
	Call OptionType = "call"
	Put  OptionType = "put"
)

// ParseOptionType accepts "call"/"put" and the single-letter forms "C"/"P".
func ParseOptionType(s string) (OptionType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "call", "c":
		return Call, nil
	case "put", "p":
		return Put, nil
	default:
		return "", fmt.Errorf("unknown option type %q", s)
	}
}

// OptionContractQuote is the latest known state of one contract.
// Delta, Vega and ImpliedVolatility are optional; a nil value excludes the
// contract from the aggregates that need it.
type OptionContractQuote struct {
	Symbol            string
	Strike            decimal.Decimal
	Expiration        time.Time
	Type              OptionType
	OpenInterest      int64
	Volume            int64
	Gamma             float64
	Delta             *float64
	Vega              *float64
	ImpliedVolatility *float64
	UnderlyingPrice   float64
	LastUpdated       time.Time
}

// ContractKey uniquely identifies a contract.
type ContractKey struct {
	Symbol     string
	Strike     string
	Expiration string
	Type       OptionType
}

// Key returns the identity of the contract.
func (q *OptionContractQuote) Key() ContractKey {
	return ContractKey{
		Symbol:     q.Symbol,
		Strike:     q.Strike.String(),
		Expiration: q.Expiration.Format(DateLayout),
		Type:       q.Type,
	}
}

// ChainSnapshot is what a ChainReader returns: the eligible contracts plus the
// number of contracts that were dropped only because they were stale.
type ChainSnapshot struct {
	Contracts  []OptionContractQuote
	StaleCount int
}

// GEXMetrics is one complete calculation pass for a symbol and expiration.
// Values are raw USD; nothing is scaled to millions here.
type GEXMetrics struct {
	Timestamp          time.Time       `json:"timestamp" validate:"required"`
	Symbol             string          `json:"symbol" validate:"required"`
	Expiration         time.Time       `json:"expiration" validate:"required"`
	UnderlyingPrice    float64         `json:"underlying_price" validate:"gt=0"`
	TotalGammaExposure float64         `json:"total_gamma_exposure" validate:"gte=0"`
	CallGamma          float64         `json:"call_gamma" validate:"gte=0"`
	PutGamma           float64         `json:"put_gamma" validate:"gte=0"`
	NetGEX             float64         `json:"net_gex"`
	CallVolume         int64           `json:"call_volume" validate:"gte=0"`
	PutVolume          int64           `json:"put_volume" validate:"gte=0"`
	CallOI             int64           `json:"call_oi" validate:"gte=0"`
	PutOI              int64           `json:"put_oi" validate:"gte=0"`
	TotalContracts     int64           `json:"total_contracts" validate:"gte=0"`
	MaxGammaStrike     decimal.Decimal `json:"max_gamma_strike"`
	MaxGammaValue      float64         `json:"max_gamma_value" validate:"gte=0"`
	GammaFlipPoint     *float64        `json:"gamma_flip_point"`
	MaxPain            decimal.Decimal `json:"max_pain"`
	PutCallRatio       *float64        `json:"put_call_ratio"`
	VannaExposure      float64         `json:"vanna_exposure"`
	CharmExposure      float64         `json:"charm_exposure"`
}

var validate = validator.New()

// Validate checks the construction invariants of a metrics record.
func (m *GEXMetrics) Validate() error {
	if err := validate.Struct(m); err != nil {
		return fmt.Errorf("invalid metrics: %w", err)
	}
	for name, v := range map[string]float64{
		"underlying_price":     m.UnderlyingPrice,
		"total_gamma_exposure": m.TotalGammaExposure,
		"net_gex":              m.NetGEX,
		"max_gamma_value":      m.MaxGammaValue,
		"vanna_exposure":       m.VannaExposure,
		"charm_exposure":       m.CharmExposure,
	} {
		if !IsFinite(v) {
			return fmt.Errorf("invalid metrics: %s is %v", name, v)
		}
	}
	if m.GammaFlipPoint != nil && !IsFinite(*m.GammaFlipPoint) {
		return fmt.Errorf("invalid metrics: gamma_flip_point is %v", *m.GammaFlipPoint)
	}
	if m.PutCallRatio != nil && !IsFinite(*m.PutCallRatio) {
		return fmt.Errorf("invalid metrics: put_call_ratio is %v", *m.PutCallRatio)
	}
	return nil
}

// IsFinite reports whether v is neither NaN nor infinite.
func IsFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// present reports whether an optional Greek carries a usable value.
func present(v *float64) bool {
	return v != nil && IsFinite(*v)
}

// MetricsKey is the idempotent persistence key of a metrics record.
type MetricsKey struct {
	Timestamp  int64
	Symbol     string
	Expiration string
}

// Key returns the (timestamp, symbol, expiration) key.
func (m *GEXMetrics) Key() MetricsKey {
	return MetricsKey{
		Timestamp:  m.Timestamp.UTC().UnixNano(),
		Symbol:     m.Symbol,
		Expiration: m.Expiration.Format(DateLayout),
	}
}

// IsPositiveGammaRegime reports whether dealers are net long gamma.
func (m *GEXMetrics) IsPositiveGammaRegime() bool {
	return m.NetGEX > 0
}

// GammaRegime classifies the sign of net GEX.
func (m *GEXMetrics) GammaRegime() Regime {
	switch {
	case m.NetGEX > 0:
		return RegimePositive
	case m.NetGEX < 0:
		return RegimeNegative
	default:
		return RegimeNeutral
	}
}

// Regime is the sign classification of net dealer gamma.
type Regime string

const (
	RegimePositive Regime = "positive"
	RegimeNegative Regime = "negative"
	RegimeNeutral  Regime = "neutral"
)

// Label returns the human-readable form shown to users.
func (r Regime) Label() string {
	switch r {
	case RegimePositive:
		return "Positive (Stabilizing)"
	case RegimeNegative:
		return "Negative (Destabilizing)"
	default:
		return "Neutral"
	}
}

// StrikeGammaProfile aggregates all contracts at one strike.
type StrikeGammaProfile struct {
	Strike     decimal.Decimal `json:"strike"`
	CallGamma  float64         `json:"call_gamma"`
	PutGamma   float64         `json:"put_gamma"`
	NetGamma   float64         `json:"net_gamma"`
	TotalGamma float64         `json:"total_gamma"`
	CallOI     int64           `json:"call_oi"`
	PutOI      int64           `json:"put_oi"`
	CallVolume int64           `json:"call_volume"`
	PutVolume  int64           `json:"put_volume"`
}

// RegimeTransition marks a flip of IsPositiveGammaRegime between two
// consecutive metrics records.
type RegimeTransition struct {
	Timestamp time.Time `json:"timestamp"`
	From      Regime    `json:"from_regime"`
	To        Regime    `json:"to_regime"`
	Price     float64   `json:"price"`
	NetGEX    float64   `json:"net_gex"`
}

// Summary is the latest metrics record with its derived regime.
type Summary struct {
	Metrics     GEXMetrics `json:"metrics"`
	Regime      Regime     `json:"regime"`
	RegimeLabel string     `json:"regime_label"`
	// DistanceToFlip is spot minus flip point; nil when no flip was found.
	DistanceToFlip *float64 `json:"distance_to_flip"`
}

// KeyLevels are the strikes carrying significant gamma around spot.
type KeyLevels struct {
	Symbol     string            `json:"symbol"`
	Spot       float64           `json:"spot"`
	Threshold  float64           `json:"threshold"`
	Support    []decimal.Decimal `json:"support"`
	Resistance []decimal.Decimal `json:"resistance"`
}

// ExpectedMove is a symmetric price range at a given confidence.
// MovePct is a fraction of spot (0.01 = 1%).
type ExpectedMove struct {
	Symbol            string  `json:"symbol"`
	Spot              float64 `json:"spot"`
	Confidence        float64 `json:"confidence"`
	ImpliedVolatility float64 `json:"implied_volatility"`
	ZScore            float64 `json:"z_score"`
	MovePct           float64 `json:"move_pct"`
	ExpectedLow       float64 `json:"expected_low"`
	ExpectedHigh      float64 `json:"expected_high"`
}

// DateOf returns the calendar date of t in loc as a UTC midnight value.
func DateOf(t time.Time, loc *time.Location) time.Time {
	if loc != nil {
		t = t.In(loc)
	}
	y, mo, d := t.Date()
	return time.Date(y, mo, d, 0, 0, 0, 0, time.UTC)
}

// ParseDate parses a YYYY-MM-DD expiration.
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing date %q: %w", s, err)
	}
	return t, nil
}
