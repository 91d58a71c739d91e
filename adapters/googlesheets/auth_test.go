package googlesheets

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func testPrivateKey(t *testing.T) string {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		t.Fatalf("failed to marshal key: %v", err)
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}))
}

func serviceAccountJSON(t *testing.T) []byte {
	t.Helper()
	data, err := json.Marshal(map[string]string{
		"type":           "service_account",
		"project_id":     "test-project",
		"private_key_id": "key-id",
		"private_key":    testPrivateKey(t),
		"client_email":   "test@test-project.iam.gserviceaccount.com",
		"client_id":      "123456789",
		"token_uri":      "https://oauth2.googleapis.com/token",
	})
	if err != nil {
		t.Fatal(err)
	}
	return data
}

func TestParseServiceAccountJSON(t *testing.T) {
	tests := []struct {
		name   string
		json   string
		errMsg string
	}{
		{
			name: "valid service account",
			json: `{"type": "service_account", "client_email": "a@b.iam.gserviceaccount.com", "private_key": "k"}`,
		},
		{
			name:   "invalid type",
			json:   `{"type": "user", "client_email": "test@example.com", "private_key": "key"}`,
			errMsg: "invalid key type",
		},
		{
			name:   "missing email",
			json:   `{"type": "service_account", "private_key": "key"}`,
			errMsg: "missing required fields",
		},
		{
			name:   "missing private key",
			json:   `{"type": "service_account", "client_email": "test@example.com"}`,
			errMsg: "missing required fields",
		},
		{
			name:   "invalid json",
			json:   `{invalid}`,
			errMsg: "failed to parse",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key, err := ParseServiceAccountJSON([]byte(tt.json))
			if tt.errMsg == "" {
				if err != nil {
					t.Fatalf("ParseServiceAccountJSON() error = %v", err)
				}
				if key.Type != "service_account" {
					t.Errorf("Type = %v, want service_account", key.Type)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.errMsg) {
				t.Errorf("ParseServiceAccountJSON() error = %v, want error containing %q", err, tt.errMsg)
			}
		})
	}
}

func TestNewWithJSONKeyFile(t *testing.T) {
	jsonFile := filepath.Join(t.TempDir(), "key.json")
	if err := os.WriteFile(jsonFile, serviceAccountJSON(t), 0600); err != nil {
		t.Fatalf("Failed to create test JSON file: %v", err)
	}
	config := Config{SpreadsheetID: "test-id"}

	tests := []struct {
		name     string
		jsonPath string
		envVar   string
		wantErr  error
		anyErr   bool
	}{
		{name: "with file path", jsonPath: jsonFile},
		{name: "with env var", envVar: jsonFile},
		{name: "no path or env", wantErr: ErrNoCredentials},
		{name: "non-existent file", jsonPath: "/non/existent/file.json", anyErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("GOOGLE_APPLICATION_CREDENTIALS", tt.envVar)

			remote, err := NewWithJSONKeyFile(context.Background(), config, tt.jsonPath)
			switch {
			case tt.wantErr != nil:
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("error = %v, want %v", err, tt.wantErr)
				}
			case tt.anyErr:
				if err == nil {
					t.Error("expected error but got none")
				}
			default:
				if err != nil || remote == nil {
					t.Errorf("NewWithJSONKeyFile() = %v, %v", remote, err)
				}
			}
		})
	}
}

func TestNewWithJSONKeyData(t *testing.T) {
	tests := []struct {
		name     string
		jsonData []byte
		config   Config
		wantErr  bool
	}{
		{name: "valid json data", jsonData: serviceAccountJSON(t), config: Config{SpreadsheetID: "test-id"}},
		{name: "malformed json", jsonData: []byte(`{invalid}`), config: Config{SpreadsheetID: "test-id"}, wantErr: true},
		{name: "missing spreadsheet", jsonData: serviceAccountJSON(t), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewWithJSONKeyData(context.Background(), tt.config, tt.jsonData)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewWithJSONKeyData() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestNewWithServiceAccountKey(t *testing.T) {
	remote, err := NewWithServiceAccountKey(context.Background(), Config{SpreadsheetID: "test-id"},
		"test@test-project.iam.gserviceaccount.com", testPrivateKey(t))
	if err != nil || remote == nil {
		t.Fatalf("NewWithServiceAccountKey() = %v, %v", remote, err)
	}
}

func TestCreateTokenSource(t *testing.T) {
	jsonData := serviceAccountJSON(t)
	jsonFile := filepath.Join(t.TempDir(), "key.json")
	if err := os.WriteFile(jsonFile, jsonData, 0600); err != nil {
		t.Fatalf("Failed to write test JSON file: %v", err)
	}
	parsedKey, err := ParseServiceAccountJSON(jsonData)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name        string
		credentials any
		wantErr     bool
	}{
		{name: "file path", credentials: jsonFile},
		{name: "json data", credentials: jsonData},
		{name: "parsed key", credentials: parsedKey},
		{name: "unsupported type", credentials: 123, wantErr: true},
		{name: "non-existent file", credentials: "/non/existent/file", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts, err := CreateTokenSource(context.Background(), tt.credentials)
			if (err != nil) != tt.wantErr {
				t.Fatalf("CreateTokenSource() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && ts == nil {
				t.Error("CreateTokenSource() returned nil token source")
			}
		})
	}
}
