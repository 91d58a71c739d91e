package excel

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/ideamans/go-sheetsync"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/oauth2"
)

// Adapter serves the remote actions from a workbook. When users are
// configured it also answers login with signed session tokens and rejects
// other actions without a valid one.
type Adapter struct {
	*sheetsync.SheetRemote
	workbook *Workbook
	users    map[string][]byte
	secret   []byte
	ttl      time.Duration
	now      func() time.Time

	mu    sync.RWMutex
	token oauth2.TokenSource
}

// New creates a workbook remote with the given configuration
func New(config *Config) (*Adapter, error) {
	if config == nil {
		return nil, fmt.Errorf("config is required")
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	secret := config.Secret
	if len(secret) == 0 {
		secret = make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			return nil, fmt.Errorf("failed to generate token secret: %w", err)
		}
	}
	ttl := config.TokenTTL
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	users := make(map[string][]byte, len(config.Users))
	for email, password := range config.Users {
		hash, err := hashPassword(password)
		if err != nil {
			return nil, fmt.Errorf("failed to hash password of %s: %w", email, err)
		}
		users[email] = hash
	}

	workbook := NewWorkbook(config.FilePath)
	return &Adapter{
		SheetRemote: sheetsync.NewSheetRemote(workbook, sheetsync.SheetOptions{
			FileID:             config.FilePath,
			Resources:          config.Resources,
			CodePrefixes:       config.CodePrefixes,
			CodeSequenceLength: config.CodeSequenceLength,
		}),
		workbook: workbook,
		users:    users,
		secret:   secret,
		ttl:      ttl,
		now:      time.Now,
	}, nil
}

// Workbook returns the backing workbook.
func (a *Adapter) Workbook() *Workbook {
	return a.workbook
}

// SetClock replaces the clock used for tokens, cursors and UpdatedAt stamps.
func (a *Adapter) SetClock(now func() time.Time) {
	if now != nil {
		a.now = now
		a.SheetRemote.SetClock(now)
	}
}

// SetTokenSource sets where calls without a payload token take theirs from.
func (a *Adapter) SetTokenSource(ts oauth2.TokenSource) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.token = ts
}

// Call implements sheetsync.Remote.
func (a *Adapter) Call(ctx context.Context, action string, payload map[string]any) (*sheetsync.Response, error) {
	if action == sheetsync.ActionLogin {
		return a.login(ctx, payload)
	}
	if len(a.users) > 0 {
		if _, err := a.Verify(a.callerToken(payload)); err != nil {
			return &sheetsync.Response{Success: false, Message: "Not authenticated"}, nil
		}
	}
	return a.SheetRemote.Call(ctx, action, payload)
}

func (a *Adapter) callerToken(payload map[string]any) string {
	if token, _ := payload["token"].(string); token != "" {
		return token
	}
	a.mu.RLock()
	ts := a.token
	a.mu.RUnlock()
	if ts == nil {
		return ""
	}
	tok, err := ts.Token()
	if err != nil {
		return ""
	}
	return tok.AccessToken
}

// Authenticate checks a password and returns a signed token for email.
func (a *Adapter) Authenticate(email, password string) (string, error) {
	hash, ok := a.users[email]
	if !ok || bcrypt.CompareHashAndPassword(hash, []byte(password)) != nil {
		return "", ErrInvalidCredentials
	}
	now := a.now()
	claims := jwt.RegisteredClaims{
		Subject:   email,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Verify returns the subject of a token issued by this adapter.
func (a *Adapter) Verify(token string) (string, error) {
	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(a.now), jwt.WithExpirationRequired())
	if err != nil {
		return "", err
	}
	return claims.Subject, nil
}

func (a *Adapter) login(ctx context.Context, payload map[string]any) (*sheetsync.Response, error) {
	email, _ := payload["email"].(string)
	password, _ := payload["password"].(string)

	token, err := a.Authenticate(email, password)
	if err != nil {
		return &sheetsync.Response{Success: false, Message: "Invalid email or password"}, nil
	}

	grants, err := a.SheetRemote.Call(ctx, sheetsync.ActionGetAuthorizedResources, nil)
	if err != nil {
		return nil, err
	}
	user, err := json.Marshal(map[string]string{"email": email})
	if err != nil {
		return nil, fmt.Errorf("failed to encode user: %w", err)
	}
	return &sheetsync.Response{
		Success:   true,
		Token:     token,
		User:      user,
		Resources: grants.Resources,
	}, nil
}

// hashPassword keeps bcrypt hashes as given and hashes anything else.
func hashPassword(password string) ([]byte, error) {
	if _, err := bcrypt.Cost([]byte(password)); err == nil {
		return []byte(password), nil
	}
	return bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
}
