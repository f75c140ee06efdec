package report

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/gocarina/gocsv"

	"github.com/dgnsrekt/zerogex/internal/gex"
)

// HistoryRow is one CSV line of exported metrics history.
type HistoryRow struct {
	Timestamp          string  `csv:"timestamp"`
	Symbol             string  `csv:"symbol"`
	Expiration         string  `csv:"expiration"`
	UnderlyingPrice    float64 `csv:"underlying_price"`
	TotalGammaExposure float64 `csv:"total_gamma_exposure"`
	CallGamma          float64 `csv:"call_gamma"`
	PutGamma           float64 `csv:"put_gamma"`
	NetGEX             float64 `csv:"net_gex"`
	CallVolume         int64   `csv:"call_volume"`
	PutVolume          int64   `csv:"put_volume"`
	CallOI             int64   `csv:"call_oi"`
	PutOI              int64   `csv:"put_oi"`
	TotalContracts     int64   `csv:"total_contracts"`
	MaxGammaStrike     string  `csv:"max_gamma_strike"`
	MaxGammaValue      float64 `csv:"max_gamma_value"`
	GammaFlipPoint     string  `csv:"gamma_flip_point"`
	MaxPain            string  `csv:"max_pain"`
	PutCallRatio       string  `csv:"put_call_ratio"`
	VannaExposure      float64 `csv:"vanna_exposure"`
	CharmExposure      float64 `csv:"charm_exposure"`
	Regime             string  `csv:"regime"`
}

func formatOptional(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}

// NewHistoryRow flattens m for CSV export. Missing optional values are
// written as empty cells.
func NewHistoryRow(m *gex.GEXMetrics) *HistoryRow {
	return &HistoryRow{
		Timestamp:          m.Timestamp.UTC().Format(time.RFC3339),
		Symbol:             m.Symbol,
		Expiration:         m.Expiration.Format(gex.DateLayout),
		UnderlyingPrice:    m.UnderlyingPrice,
		TotalGammaExposure: m.TotalGammaExposure,
		CallGamma:          m.CallGamma,
		PutGamma:           m.PutGamma,
		NetGEX:             m.NetGEX,
		CallVolume:         m.CallVolume,
		PutVolume:          m.PutVolume,
		CallOI:             m.CallOI,
		PutOI:              m.PutOI,
		TotalContracts:     m.TotalContracts,
		MaxGammaStrike:     m.MaxGammaStrike.String(),
		MaxGammaValue:      m.MaxGammaValue,
		GammaFlipPoint:     formatOptional(m.GammaFlipPoint),
		MaxPain:            m.MaxPain.String(),
		PutCallRatio:       formatOptional(m.PutCallRatio),
		VannaExposure:      m.VannaExposure,
		CharmExposure:      m.CharmExposure,
		Regime:             string(m.GammaRegime()),
	}
}

// ExportHistory writes rows as CSV with a header line.
func ExportHistory(w io.Writer, rows []gex.GEXMetrics) error {
	out := make([]*HistoryRow, 0, len(rows))
	for i := range rows {
		out = append(out, NewHistoryRow(&rows[i]))
	}
	if err := gocsv.Marshal(out, w); err != nil {
		return fmt.Errorf("writing history csv: %w", err)
	}
	return nil
}
