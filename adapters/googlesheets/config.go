package googlesheets

import (
	"errors"
	"time"

	"github.com/ideamans/go-sheetsync"
)

// ErrMissingSpreadsheetID is returned when no spreadsheet is configured.
var ErrMissingSpreadsheetID = errors.New("spreadsheet ID is required")

// Config represents configuration specific to the Google Sheets remote
type Config struct {
	SpreadsheetID string
	// Resources lists the sheets served as resources; empty serves every sheet.
	Resources []string
	// CodePrefixes maps a resource to the prefix of generated codes.
	CodePrefixes       map[string]string
	CodeSequenceLength int
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.SpreadsheetID == "" {
		return ErrMissingSpreadsheetID
	}
	return nil
}

func (c *Config) options() sheetsync.SheetOptions {
	return sheetsync.SheetOptions{
		FileID:             c.SpreadsheetID,
		Resources:          c.Resources,
		CodePrefixes:       c.CodePrefixes,
		CodeSequenceLength: c.CodeSequenceLength,
	}
}

// DefaultClientConfig returns the recommended client configuration when the
// spreadsheet is read directly
func DefaultClientConfig() *sheetsync.Config {
	cfg := sheetsync.DefaultConfig()
	cfg.SyncInterval = 5 * time.Minute
	cfg.RetryInterval = 500 * time.Millisecond
	return cfg
}
