// Package notify pushes GEX alerts to an ntfy topic.
package notify

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dgnsrekt/zerogex/internal/gex"
)

// Notifier is the interface for sending GEX alerts.
type Notifier interface {
	SendRegimeChange(ctx context.Context, symbol string, t gex.RegimeTransition) error
	SendFailure(ctx context.Context, symbol string, failures int, err error) error
}

// Client implements the ntfy notification client.
type Client struct {
	httpClient *http.Client
	config     *Config
	logger     *zap.Logger

	mu       sync.Mutex
	lastSent map[string]time.Time
	now      func() time.Time
}

// NewClient creates a new ntfy client.
func NewClient(cfg *Config, logger *zap.Logger) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		config:   cfg,
		logger:   logger,
		lastSent: make(map[string]time.Time),
		now:      time.Now,
	}
}

// SendRegimeChange sends a regime change alert. Alerts for the same symbol
// within the cooldown are dropped.
func (c *Client) SendRegimeChange(ctx context.Context, symbol string, t gex.RegimeTransition) error {
	if !c.config.Enabled {
		return nil
	}
	if !c.allow(symbol) {
		c.logger.Debug("regime alert suppressed", zap.String("symbol", symbol))
		return nil
	}

	title := fmt.Sprintf("%s gamma regime: %s", symbol, t.To.Label())
	message := FormatRegimeMessage(symbol, t)
	tags := c.config.Tags
	if t.To == gex.RegimeNegative {
		tags += ",warning"
	}

	return c.send(ctx, title, message, tags, c.config.Priority)
}

// SendFailure sends a failure notification.
func (c *Client) SendFailure(ctx context.Context, symbol string, failures int, err error) error {
	if !c.config.Enabled {
		return nil
	}

	title := fmt.Sprintf("GEX calculation failing: %s", symbol)
	message := FormatFailureMessage(symbol, failures, err)
	tags := c.config.Tags + ",x"
	priority := "high" // Override to high priority for failures

	return c.send(ctx, title, message, tags, priority)
}

func (c *Client) allow(symbol string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if last, ok := c.lastSent[symbol]; ok && now.Sub(last) < c.config.Cooldown {
		return false
	}
	c.lastSent[symbol] = now
	return true
}

func (c *Client) send(ctx context.Context, title, message, tags, priority string) error {
	url := fmt.Sprintf("%s/%s", strings.TrimSuffix(c.config.Server, "/"), c.config.Topic)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(message))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Title", title)
	req.Header.Set("Priority", priority)
	req.Header.Set("Tags", tags)

	if c.config.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.Token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("failed to send notification", zap.Error(err))
		return fmt.Errorf("sending notification: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	// Drain response body to allow connection reuse
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Warn("notification failed",
			zap.Int("status", resp.StatusCode),
			zap.String("url", url),
		)
		return fmt.Errorf("notification failed with status: %d", resp.StatusCode)
	}

	c.logger.Debug("notification sent", zap.String("title", title))
	return nil
}

// NoopNotifier is a no-op implementation for when notifications are disabled.
type NoopNotifier struct{}

// SendRegimeChange is a no-op.
func (n *NoopNotifier) SendRegimeChange(_ context.Context, _ string, _ gex.RegimeTransition) error {
	return nil
}

// SendFailure is a no-op.
func (n *NoopNotifier) SendFailure(_ context.Context, _ string, _ int, _ error) error {
	return nil
}

// New creates the appropriate notifier based on config.
func New(cfg *Config, logger *zap.Logger) Notifier {
	if !cfg.Enabled {
		return &NoopNotifier{}
	}
	return NewClient(cfg, logger)
}
