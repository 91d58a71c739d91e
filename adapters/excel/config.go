package excel

import (
	"time"

	"github.com/ideamans/go-sheetsync"
)

// Config holds configuration for the workbook remote
type Config struct {
	FilePath string // Path to the Excel file
	// Resources lists the sheets served as resources; empty serves every sheet.
	Resources []string
	// CodePrefixes maps a resource to the prefix of generated codes.
	CodePrefixes       map[string]string
	CodeSequenceLength int

	// Users maps login emails to passwords or bcrypt hashes of them.
	// Without users every action is served without a token.
	Users map[string]string
	// Secret signs session tokens. A random secret is generated when empty.
	Secret []byte
	// TokenTTL is the lifetime of issued tokens (default: 12h).
	TokenTTL time.Duration
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.FilePath == "" {
		return ErrMissingFilePath
	}
	return nil
}

// DefaultClientConfig returns the recommended client configuration for a
// local workbook
func DefaultClientConfig() *sheetsync.Config {
	cfg := sheetsync.DefaultConfig()
	cfg.SyncInterval = 10 * time.Second
	cfg.RetryInterval = 10 * time.Millisecond
	return cfg
}
