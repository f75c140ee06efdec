package config

// Backend selects where chains are read from and metrics are written to.
type Backend string

const (
	BackendPostgres Backend = "postgres"
	BackendFile     Backend = "file"
	BackendMemory   Backend = "memory"
)

// ExpirationToday selects the 0DTE expiration in the market timezone.
const ExpirationToday = "today"

// DefaultSymbols is used when no symbols are configured.
var DefaultSymbols = []string{"SPY"}
