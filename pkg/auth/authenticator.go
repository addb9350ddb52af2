package auth

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// LoginClient performs the login exchange. It is satisfied by *Client.
type LoginClient interface {
	Login(ctx context.Context, accountID, passwordHash string) (Credentials, error)
}

// Authenticator caches portal credentials and renews them on demand.
// It is safe for concurrent use.
type Authenticator struct {
	client       LoginClient
	accountID    string
	passwordHash string
	logger       *slog.Logger

	mu          sync.Mutex
	credentials *Credentials
	onChanged   func(Credentials)

	// now is overridable for tests.
	now func() time.Time
}

// AuthenticatorConfig configures an Authenticator.
type AuthenticatorConfig struct {
	// Client performs the login exchange when no valid cached
	// credentials exist.
	Client LoginClient

	// AccountID is the account email or mobile number.
	AccountID string

	// PasswordHash is the MD5 hex digest of the account password.
	PasswordHash string

	// Cached seeds the credential cache, typically from a config file.
	Cached *Credentials

	// OnChanged is called with freshly obtained credentials so they can
	// be persisted. Called outside the authenticator lock is NOT
	// guaranteed; keep it fast.
	OnChanged func(Credentials)

	// Logger is the optional logger for debug output.
	// If nil, logging is disabled.
	Logger *slog.Logger
}

// NewAuthenticator creates an Authenticator.
func NewAuthenticator(config AuthenticatorConfig) *Authenticator {
	return &Authenticator{
		client:       config.Client,
		accountID:    config.AccountID,
		passwordHash: config.PasswordHash,
		credentials:  config.Cached,
		onChanged:    config.OnChanged,
		logger:       config.Logger,
		now:          time.Now,
	}
}

// Authenticate returns valid credentials, performing a login if the cache
// is empty, expired, or force is set.
func (a *Authenticator) Authenticate(ctx context.Context, force bool) (Credentials, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	switch {
	case a.credentials == nil || force:
		a.debugLog("no cached credentials, performing login")
	case a.credentials.Expired(a.now()):
		a.debugLog("credentials have expired, performing login")
	default:
		return *a.credentials, nil
	}

	creds, err := a.client.Login(ctx, a.accountID, a.passwordHash)
	if err != nil {
		return Credentials{}, err
	}
	a.credentials = &creds

	if a.onChanged != nil {
		a.onChanged(creds)
	}
	return creds, nil
}

// Invalidate discards cached credentials so the next Authenticate call
// performs a fresh login.
func (a *Authenticator) Invalidate() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.credentials = nil
}

func (a *Authenticator) debugLog(msg string, args ...any) {
	if a.logger != nil {
		a.logger.Debug(msg, args...)
	}
}
