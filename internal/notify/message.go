package notify

import (
	"fmt"
	"strings"
	"time"

	"github.com/dgnsrekt/zerogex/internal/gex"
)

// FormatRegimeMessage creates a regime change notification body.
func FormatRegimeMessage(symbol string, t gex.RegimeTransition) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("%s: %s -> %s\n", symbol, t.From.Label(), t.To.Label()))
	sb.WriteString(fmt.Sprintf("Price: %.2f\n", t.Price))
	sb.WriteString(fmt.Sprintf("Net GEX: %.2fM\n", t.NetGEX/1e6))
	sb.WriteString(fmt.Sprintf("At: %s", t.Timestamp.UTC().Format(time.RFC3339)))

	return sb.String()
}

// FormatFailureMessage creates a failure notification body.
func FormatFailureMessage(symbol string, failures int, err error) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("Symbol: %s\n", symbol))
	sb.WriteString(fmt.Sprintf("Consecutive failures: %d", failures))

	if err != nil {
		sb.WriteString(fmt.Sprintf("\n\nError: %v", err))
	}

	return sb.String()
}
