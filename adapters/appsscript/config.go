package appsscript

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/ideamans/go-sheetsync"
)

// ErrMissingURL is returned when no endpoint is configured
var ErrMissingURL = errors.New("endpoint URL is required")

// Config holds configuration for the web app remote
type Config struct {
	URL string // Deployed web app endpoint
	// HTTPClient sends the requests. Pass an interception worker's client to
	// route calls through it. Defaults to a client with Timeout.
	HTTPClient *http.Client
	Timeout    time.Duration // Per request (default: 30s)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.URL == "" {
		return ErrMissingURL
	}
	u, err := url.Parse(c.URL)
	if err != nil {
		return fmt.Errorf("invalid endpoint URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("invalid endpoint URL %q: scheme must be http or https", c.URL)
	}
	return nil
}

// DefaultClientConfig returns the recommended client configuration for the
// web app endpoint
func DefaultClientConfig() *sheetsync.Config {
	return sheetsync.DefaultConfig()
}
