package file

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gocarina/gocsv"
	"github.com/shopspring/decimal"

	"github.com/dgnsrekt/zerogex/internal/fileio"
	"github.com/dgnsrekt/zerogex/internal/gex"
)

// ChainRow is one line of a chain CSV export. Optional columns may be blank.
type ChainRow struct {
	Symbol            string `csv:"symbol"`
	Strike            string `csv:"strike"`
	Expiration        string `csv:"expiration"`
	OptionType        string `csv:"option_type"`
	OpenInterest      string `csv:"open_interest"`
	Volume            string `csv:"volume"`
	Gamma             string `csv:"gamma"`
	Delta             string `csv:"delta"`
	Vega              string `csv:"vega"`
	ImpliedVolatility string `csv:"implied_volatility"`
	UnderlyingPrice   string `csv:"underlying_price"`
	LastUpdated       string `csv:"last_updated"`
}

// Filler derives missing Greeks for a quote.
type Filler interface {
	Fill(q gex.OptionContractQuote, now time.Time) gex.OptionContractQuote
}

// ParseChain reads a chain CSV. Rows without last_updated are stamped with
// asOf. When filler is non-nil, rows missing Greeks get them from their
// implied volatility.
func ParseChain(r io.Reader, asOf time.Time, filler Filler) ([]gex.OptionContractQuote, error) {
	var rows []*ChainRow
	if err := gocsv.Unmarshal(r, &rows); err != nil {
		return nil, fmt.Errorf("decoding chain csv: %w", err)
	}

	quotes := make([]gex.OptionContractQuote, 0, len(rows))
	for i, row := range rows {
		q, err := row.toQuote(asOf)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i+2, err)
		}
		if filler != nil {
			q = filler.Fill(q, q.LastUpdated)
		}
		quotes = append(quotes, q)
	}
	return quotes, nil
}

// WriteChain encodes quotes in the format ParseChain reads.
func WriteChain(w io.Writer, quotes []gex.OptionContractQuote) error {
	rows := make([]*ChainRow, 0, len(quotes))
	for _, q := range quotes {
		rows = append(rows, &ChainRow{
			Symbol:            q.Symbol,
			Strike:            q.Strike.String(),
			Expiration:        q.Expiration.Format(gex.DateLayout),
			OptionType:        string(q.Type),
			OpenInterest:      strconv.FormatInt(q.OpenInterest, 10),
			Volume:            strconv.FormatInt(q.Volume, 10),
			Gamma:             formatFloat(&q.Gamma),
			Delta:             formatFloat(q.Delta),
			Vega:              formatFloat(q.Vega),
			ImpliedVolatility: formatFloat(q.ImpliedVolatility),
			UnderlyingPrice:   formatFloat(&q.UnderlyingPrice),
			LastUpdated:       q.LastUpdated.UTC().Format(time.RFC3339),
		})
	}
	return gocsv.Marshal(rows, w)
}

func (r *ChainRow) toQuote(asOf time.Time) (gex.OptionContractQuote, error) {
	var q gex.OptionContractQuote
	var err error

	q.Symbol = strings.ToUpper(strings.TrimSpace(r.Symbol))
	if q.Symbol == "" {
		return q, fmt.Errorf("missing symbol")
	}
	if q.Strike, err = decimal.NewFromString(strings.TrimSpace(r.Strike)); err != nil {
		return q, fmt.Errorf("strike %q: %w", r.Strike, err)
	}
	if q.Expiration, err = gex.ParseDate(strings.TrimSpace(r.Expiration)); err != nil {
		return q, err
	}
	if q.Type, err = gex.ParseOptionType(r.OptionType); err != nil {
		return q, err
	}
	if q.OpenInterest, err = parseCount(r.OpenInterest); err != nil {
		return q, fmt.Errorf("open_interest: %w", err)
	}
	if q.Volume, err = parseCount(r.Volume); err != nil {
		return q, fmt.Errorf("volume: %w", err)
	}

	gamma, err := parseOptional(r.Gamma)
	if err != nil {
		return q, fmt.Errorf("gamma: %w", err)
	}
	if gamma != nil {
		q.Gamma = *gamma
	}
	if q.Delta, err = parseOptional(r.Delta); err != nil {
		return q, fmt.Errorf("delta: %w", err)
	}
	if q.Vega, err = parseOptional(r.Vega); err != nil {
		return q, fmt.Errorf("vega: %w", err)
	}
	if q.ImpliedVolatility, err = parseOptional(r.ImpliedVolatility); err != nil {
		return q, fmt.Errorf("implied_volatility: %w", err)
	}
	price, err := parseOptional(r.UnderlyingPrice)
	if err != nil {
		return q, fmt.Errorf("underlying_price: %w", err)
	}
	if price != nil {
		q.UnderlyingPrice = *price
	}

	q.LastUpdated = asOf
	if s := strings.TrimSpace(r.LastUpdated); s != "" {
		if q.LastUpdated, err = time.Parse(time.RFC3339, s); err != nil {
			return q, fmt.Errorf("last_updated %q: %w", s, err)
		}
	}
	return q, nil
}

func parseCount(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, fmt.Errorf("negative value %d", n)
	}
	return n, nil
}

func parseOptional(s string) (*float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, err
	}
	// NaN and Inf parse cleanly but carry no value.
	if !gex.IsFinite(v) {
		return nil, nil
	}
	return &v, nil
}

func formatFloat(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}

// ReadChainFile parses the chain CSV at path, decompressing ".zst" files.
// The file's modification time stands in for missing last_updated values.
func ReadChainFile(path string, filler Filler) ([]gex.OptionContractQuote, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	f, err := fileio.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	quotes, err := ParseChain(bufio.NewReader(f), info.ModTime(), filler)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return quotes, nil
}

// LatestPrices returns, per symbol, the underlying price carried by the most
// recently updated quote. Quotes without a positive price are ignored.
func LatestPrices(quotes []gex.OptionContractQuote) map[string]gex.Quote {
	latest := make(map[string]gex.Quote)
	for _, q := range quotes {
		if q.UnderlyingPrice <= 0 {
			continue
		}
		if cur, ok := latest[q.Symbol]; !ok || q.LastUpdated.After(cur.AsOf) {
			latest[q.Symbol] = gex.Quote{Price: q.UnderlyingPrice, AsOf: q.LastUpdated}
		}
	}
	return latest
}
