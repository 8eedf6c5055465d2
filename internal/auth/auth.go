// Package auth provides remote.CredentialProvider implementations: an
// OAuth2 provider with a persisted token and a static bearer token.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/raphaelgruber/assetcheck/internal/remote"
	"github.com/raphaelgruber/assetcheck/internal/storage"
)

// TokenKey is the local storage key the token is persisted under.
const TokenKey = "gapi_token"

// ErrConsentDenied is returned when the user declines the consent prompt.
var ErrConsentDenied = errors.New("auth: consent denied")

// ConsentFunc shows authURL to the user and returns the authorization code
// they paste back. Returning ErrConsentDenied reports a refusal.
type ConsentFunc func(ctx context.Context, authURL string) (string, error)

type storedToken struct {
	Token  *oauth2.Token `json:"token"`
	Scopes []string      `json:"scopes"`
}

// Provider hands out OAuth2 bearer tokens, refreshing and persisting them.
type Provider struct {
	cfg     *oauth2.Config
	kv      storage.KV
	consent ConsentFunc
	logger  *slog.Logger

	mu     sync.Mutex
	token  *oauth2.Token
	scopes []string
	loaded bool
}

var _ remote.CredentialProvider = (*Provider)(nil)

// Option configures a Provider.
type Option func(*Provider)

// WithConsent sets the interactive consent prompt used by RequestAccess.
func WithConsent(fn ConsentFunc) Option {
	return func(p *Provider) { p.consent = fn }
}

// WithEndpoint overrides the Google endpoints, e.g. for tests.
func WithEndpoint(ep oauth2.Endpoint) Option {
	return func(p *Provider) { p.cfg.Endpoint = ep }
}

// WithRedirectURL sets the redirect URL registered for the client.
func WithRedirectURL(u string) Option {
	return func(p *Provider) { p.cfg.RedirectURL = u }
}

// WithLogger sets the logger; nil keeps slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(p *Provider) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// NewProvider creates a provider for the given OAuth client. kv may be nil,
// in which case tokens live only in memory.
func NewProvider(clientID, clientSecret string, scopes []string, kv storage.KV, opts ...Option) *Provider {
	p := &Provider{
		cfg: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Scopes:       slices.Clone(scopes),
			Endpoint:     google.Endpoint,
			RedirectURL:  "urn:ietf:wg:oauth:2.0:oob",
		},
		kv:     kv,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// IsAuthenticated reports whether a usable token is available without prompting.
func (p *Provider) IsAuthenticated(ctx context.Context) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.loadLocked(ctx)
	return p.token != nil && (p.token.Valid() || p.token.RefreshToken != "")
}

// Token returns a valid access token, refreshing it when expired.
func (p *Provider) Token(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.loadLocked(ctx)
	if p.token == nil {
		return "", remote.ErrNoCredential
	}
	if p.token.Valid() {
		return p.token.AccessToken, nil
	}
	if p.token.RefreshToken == "" {
		return "", fmt.Errorf("token expired: %w", remote.ErrUnauthorized)
	}

	fresh, err := p.cfg.TokenSource(ctx, p.token).Token()
	if err != nil {
		return "", fmt.Errorf("refresh token: %w: %w", remote.ErrUnauthorized, err)
	}
	p.token = fresh
	p.persistLocked(ctx)
	return fresh.AccessToken, nil
}

// RequestAccess runs the consent flow for scope. It returns true when the
// scope is already granted and the token is usable, or when the user grants
// it now. Without a ConsentFunc it can only report the current state.
func (p *Provider) RequestAccess(ctx context.Context, scope string) (bool, error) {
	p.mu.Lock()
	p.loadLocked(ctx)
	granted := p.token != nil && slices.Contains(p.scopes, scope) && p.token.Valid()
	consent := p.consent
	p.mu.Unlock()

	if granted {
		return true, nil
	}
	if consent == nil {
		return false, nil
	}
	if err := p.Login(ctx, scope); err != nil {
		if errors.Is(err, ErrConsentDenied) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Login runs the authorization code flow with PKCE for the configured
// scopes plus any extra ones, and persists the resulting token.
func (p *Provider) Login(ctx context.Context, extraScopes ...string) error {
	p.mu.Lock()
	consent := p.consent
	scopes := slices.Clone(p.cfg.Scopes)
	p.mu.Unlock()
	if consent == nil {
		return fmt.Errorf("login: no consent prompt configured")
	}
	for _, s := range extraScopes {
		if s != "" && !slices.Contains(scopes, s) {
			scopes = append(scopes, s)
		}
	}

	cfg := *p.cfg
	cfg.Scopes = scopes
	verifier := oauth2.GenerateVerifier()
	authURL := cfg.AuthCodeURL("assetcheck",
		oauth2.AccessTypeOffline,
		oauth2.S256ChallengeOption(verifier),
		oauth2.SetAuthURLParam("prompt", "consent"),
		oauth2.SetAuthURLParam("include_granted_scopes", "true"),
	)

	code, err := consent(ctx, authURL)
	if err != nil {
		return err
	}
	if code == "" {
		return ErrConsentDenied
	}
	tok, err := cfg.Exchange(ctx, code, oauth2.VerifierOption(verifier))
	if err != nil {
		return fmt.Errorf("exchange code: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.token = tok
	p.scopes = scopes
	p.loaded = true
	p.persistLocked(ctx)
	p.logger.Info("authenticated", "scopes", len(scopes))
	return nil
}

// Logout forgets the token locally.
func (p *Provider) Logout(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.token = nil
	p.scopes = nil
	p.loaded = true
	if p.kv == nil {
		return nil
	}
	if err := p.kv.Delete(ctx, TokenKey); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("delete token: %w", err)
	}
	return nil
}

func (p *Provider) loadLocked(ctx context.Context) {
	if p.loaded || p.kv == nil {
		return
	}
	var st storedToken
	err := storage.GetJSON(ctx, p.kv, TokenKey, &st)
	switch {
	case errors.Is(err, storage.ErrNotFound):
	case err != nil:
		// Retry on the next call; a transient storage error should not log the user out.
		p.logger.Warn("failed to load token", "error", err)
		return
	default:
		p.token = st.Token
		p.scopes = st.Scopes
	}
	p.loaded = true
}

func (p *Provider) persistLocked(ctx context.Context) {
	if p.kv == nil {
		return
	}
	if err := storage.SetJSON(ctx, p.kv, TokenKey, storedToken{Token: p.token, Scopes: p.scopes}); err != nil {
		p.logger.Warn("failed to persist token", "error", err)
	}
}

// Static is a fixed bearer token, e.g. from a service account or a test.
// An empty Static is unauthenticated.
type Static string

var _ remote.CredentialProvider = Static("")

func (s Static) IsAuthenticated(context.Context) bool { return s != "" }

func (s Static) Token(context.Context) (string, error) {
	if s == "" {
		return "", remote.ErrNoCredential
	}
	return string(s), nil
}

// RequestAccess cannot widen a static token; it reports whether one is set.
func (s Static) RequestAccess(context.Context, string) (bool, error) {
	return s != "", nil
}
