// Package report renders GEX results as terminal tables and CSV.
package report

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/dgnsrekt/zerogex/internal/gex"
)

var p = message.NewPrinter(language.English)

func newTable(w io.Writer, header ...string) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	if len(header) > 0 {
		table.SetHeader(header)
	}
	table.SetAutoWrapText(false)
	table.SetAlignment(tablewriter.ALIGN_RIGHT)
	return table
}

// Millions formats a raw USD exposure as "$1,234.56M".
func Millions(v float64) string {
	sign := ""
	if v < 0 {
		sign = "-"
		v = -v
	}
	return sign + "$" + p.Sprintf("%.2f", v/1e6) + "M"
}

// Price formats a price with thousands separators.
func Price(v float64) string {
	return "$" + p.Sprintf("%.2f", v)
}

func optional(v *float64, format func(float64) string) string {
	if v == nil {
		return "n/a"
	}
	return format(*v)
}

// WriteMetrics renders one metrics record as a key/value table.
func WriteMetrics(w io.Writer, m *gex.GEXMetrics) {
	table := newTable(w, "Metric", "Value")
	table.SetColumnAlignment([]int{tablewriter.ALIGN_LEFT, tablewriter.ALIGN_RIGHT})
	table.AppendBulk([][]string{
		{"Symbol", m.Symbol},
		{"Expiration", m.Expiration.Format(gex.DateLayout)},
		{"Timestamp", m.Timestamp.UTC().Format(time.RFC3339)},
		{"Spot", Price(m.UnderlyingPrice)},
		{"Net GEX", Millions(m.NetGEX)},
		{"Total GEX", Millions(m.TotalGammaExposure)},
		{"Call GEX", Millions(m.CallGamma)},
		{"Put GEX", Millions(m.PutGamma)},
		{"Max gamma strike", m.MaxGammaStrike.String()},
		{"Max gamma value", Millions(m.MaxGammaValue)},
		{"Gamma flip", optional(m.GammaFlipPoint, Price)},
		{"Max pain", m.MaxPain.String()},
		{"Put/call ratio", optional(m.PutCallRatio, func(v float64) string { return fmt.Sprintf("%.2f", v) })},
		{"Vanna", Millions(m.VannaExposure)},
		{"Charm", Millions(m.CharmExposure)},
		{"Call OI / Put OI", p.Sprintf("%d / %d", m.CallOI, m.PutOI)},
		{"Call vol / Put vol", p.Sprintf("%d / %d", m.CallVolume, m.PutVolume)},
		{"Contracts", p.Sprintf("%d", m.TotalContracts)},
	})
	table.Render()
}

// WriteSummary renders the latest state with its regime.
func WriteSummary(w io.Writer, s *gex.Summary) {
	fmt.Fprintf(w, "%s regime: %s\n", s.Metrics.Symbol, s.RegimeLabel)
	if s.DistanceToFlip != nil {
		fmt.Fprintf(w, "Distance to flip: %s\n", p.Sprintf("%+.2f", *s.DistanceToFlip))
	}
	WriteMetrics(w, &s.Metrics)
}

// WriteProfile renders the per-strike gamma profile.
func WriteProfile(w io.Writer, profile []gex.StrikeGammaProfile) {
	table := newTable(w, "Strike", "Call GEX", "Put GEX", "Net GEX", "Call OI", "Put OI")
	for _, s := range profile {
		table.Append([]string{
			s.Strike.String(),
			Millions(s.CallGamma),
			Millions(s.PutGamma),
			Millions(s.NetGamma),
			p.Sprintf("%d", s.CallOI),
			p.Sprintf("%d", s.PutOI),
		})
	}
	table.Render()
}

// WriteKeyLevels renders support and resistance strikes side by side.
func WriteKeyLevels(w io.Writer, k *gex.KeyLevels) {
	fmt.Fprintf(w, "%s spot %s, threshold %s\n", k.Symbol, Price(k.Spot), Millions(k.Threshold))
	table := newTable(w, "#", "Support", "Resistance")
	n := max(len(k.Support), len(k.Resistance))
	for i := 0; i < n; i++ {
		row := []string{fmt.Sprintf("%d", i+1), "", ""}
		if i < len(k.Support) {
			row[1] = k.Support[i].String()
		}
		if i < len(k.Resistance) {
			row[2] = k.Resistance[i].String()
		}
		table.Append(row)
	}
	table.Render()
}

// WriteTransitions renders regime changes oldest first.
func WriteTransitions(w io.Writer, symbol string, transitions []gex.RegimeTransition) {
	if len(transitions) == 0 {
		fmt.Fprintf(w, "%s: no regime changes\n", symbol)
		return
	}
	table := newTable(w, "Time", "From", "To", "Price", "Net GEX")
	for _, t := range transitions {
		table.Append([]string{
			t.Timestamp.UTC().Format(time.RFC3339),
			t.From.Label(),
			t.To.Label(),
			Price(t.Price),
			Millions(t.NetGEX),
		})
	}
	table.Render()
}

// WriteExpectedMove renders the expected range.
func WriteExpectedMove(w io.Writer, e *gex.ExpectedMove) {
	table := newTable(w, "Symbol", "Spot", "Conf", "IV", "Move", "Low", "High")
	table.Append([]string{
		e.Symbol,
		Price(e.Spot),
		fmt.Sprintf("%.0f%%", e.Confidence*100),
		fmt.Sprintf("%.1f%%", e.ImpliedVolatility*100),
		fmt.Sprintf("±%.2f%%", e.MovePct*100),
		Price(e.ExpectedLow),
		Price(e.ExpectedHigh),
	})
	table.Render()
}

// Heading writes an underlined title.
func Heading(w io.Writer, title string) {
	fmt.Fprintf(w, "%s\n%s\n", title, strings.Repeat("=", len(title)))
}
