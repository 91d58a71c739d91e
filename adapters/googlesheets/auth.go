package googlesheets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/ideamans/go-sheetsync"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"golang.org/x/oauth2/jwt"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

// ServiceAccountKey is the subset of a service account JSON key used to
// sign Sheets API requests.
type ServiceAccountKey struct {
	Type         string `json:"type"`
	ProjectID    string `json:"project_id"`
	PrivateKeyID string `json:"private_key_id"`
	PrivateKey   string `json:"private_key"`
	ClientEmail  string `json:"client_email"`
	ClientID     string `json:"client_id"`
	TokenURI     string `json:"token_uri"`
}

// ErrNoCredentials is returned when no key file is given and
// GOOGLE_APPLICATION_CREDENTIALS is unset.
var ErrNoCredentials = errors.New("no JSON key file path provided and GOOGLE_APPLICATION_CREDENTIALS not set")

// NewWithJSONKeyFile creates a remote authenticated by a JSON key file. An
// empty path falls back to GOOGLE_APPLICATION_CREDENTIALS.
func NewWithJSONKeyFile(ctx context.Context, config Config, jsonPath string) (*sheetsync.SheetRemote, error) {
	if jsonPath == "" {
		jsonPath = os.Getenv("GOOGLE_APPLICATION_CREDENTIALS")
		if jsonPath == "" {
			return nil, ErrNoCredentials
		}
	}
	ts, err := CreateTokenSource(ctx, jsonPath)
	if err != nil {
		return nil, err
	}
	return New(ctx, config, option.WithTokenSource(ts))
}

// NewWithJSONKeyData creates a remote authenticated by JSON key data.
func NewWithJSONKeyData(ctx context.Context, config Config, jsonData []byte) (*sheetsync.SheetRemote, error) {
	ts, err := CreateTokenSource(ctx, jsonData)
	if err != nil {
		return nil, err
	}
	return New(ctx, config, option.WithTokenSource(ts))
}

// NewWithServiceAccountKey creates a remote that signs requests as email.
func NewWithServiceAccountKey(ctx context.Context, config Config, email, privateKey string) (*sheetsync.SheetRemote, error) {
	ts, err := CreateTokenSource(ctx, &ServiceAccountKey{ClientEmail: email, PrivateKey: privateKey})
	if err != nil {
		return nil, err
	}
	return New(ctx, config, option.WithTokenSource(ts))
}

// NewWithDefaultCredentials creates a remote using Application Default
// Credentials.
func NewWithDefaultCredentials(ctx context.Context, config Config) (*sheetsync.SheetRemote, error) {
	ts, err := google.DefaultTokenSource(ctx, sheets.SpreadsheetsScope)
	if err != nil {
		return nil, fmt.Errorf("failed to get default token source: %w", err)
	}
	return New(ctx, config, option.WithTokenSource(ts))
}

// ParseServiceAccountJSON parses and checks a service account key.
func ParseServiceAccountJSON(jsonData []byte) (*ServiceAccountKey, error) {
	var key ServiceAccountKey
	if err := json.Unmarshal(jsonData, &key); err != nil {
		return nil, fmt.Errorf("failed to parse service account JSON: %w", err)
	}
	if key.Type != "service_account" {
		return nil, fmt.Errorf("invalid key type: %s (expected: service_account)", key.Type)
	}
	if key.ClientEmail == "" || key.PrivateKey == "" {
		return nil, fmt.Errorf("missing required fields in service account key")
	}
	return &key, nil
}

// CreateTokenSource builds an oauth2.TokenSource from a key file path, JSON
// key data or a parsed key.
func CreateTokenSource(ctx context.Context, credentials any) (oauth2.TokenSource, error) {
	switch cred := credentials.(type) {
	case string:
		data, err := os.ReadFile(cred)
		if err != nil {
			return nil, fmt.Errorf("failed to read credentials file: %w", err)
		}
		return CreateTokenSource(ctx, data)
	case []byte:
		creds, err := google.CredentialsFromJSON(ctx, cred, sheets.SpreadsheetsScope)
		if err != nil {
			return nil, fmt.Errorf("failed to parse credentials: %w", err)
		}
		return creds.TokenSource, nil
	case *ServiceAccountKey:
		tokenURL := cred.TokenURI
		if tokenURL == "" {
			tokenURL = google.JWTTokenURL
		}
		cfg := &jwt.Config{
			Email:        cred.ClientEmail,
			PrivateKey:   []byte(cred.PrivateKey),
			PrivateKeyID: cred.PrivateKeyID,
			Scopes:       []string{sheets.SpreadsheetsScope},
			TokenURL:     tokenURL,
		}
		return cfg.TokenSource(ctx), nil
	default:
		return nil, fmt.Errorf("unsupported credential type: %T", credentials)
	}
}
