package remote

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	"google.golang.org/api/googleapi"
)

// TokenSource adapts a CredentialProvider to oauth2. Tokens are fetched
// with ctx, which should outlive every request made with them.
func TokenSource(ctx context.Context, creds CredentialProvider) oauth2.TokenSource {
	return &providerSource{ctx: ctx, creds: creds}
}

type providerSource struct {
	ctx   context.Context
	creds CredentialProvider
}

func (s *providerSource) Token() (*oauth2.Token, error) {
	tok, err := s.creds.Token(s.ctx)
	if err != nil {
		return nil, err
	}
	// The provider refreshes on its own; a short expiry keeps any caching
	// layer asking again instead of holding a stale token.
	return &oauth2.Token{AccessToken: tok, TokenType: "Bearer", Expiry: time.Now().Add(time.Minute)}, nil
}

// AuthorizedClient returns an HTTP client that sends the provider's bearer
// token on every request. base may be nil.
func AuthorizedClient(ctx context.Context, creds CredentialProvider, base *http.Client) *http.Client {
	if base == nil {
		base = &http.Client{}
	}
	return &http.Client{
		Timeout: base.Timeout,
		Transport: &oauth2.Transport{
			Source: TokenSource(ctx, creds),
			Base:   base.Transport,
		},
	}
}

// FromGoogleAPI maps an error from a generated Google API client to the
// sentinels. Status failures become *StatusError; transport failures wrap
// ErrUnavailable. Context and sentinel errors pass through.
func FromGoogleAPI(op string, err error) error {
	if err == nil {
		return nil
	}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		body := gerr.Body
		if body == "" {
			body = gerr.Message
		}
		return FromStatus(op, gerr.Code, []byte(body))
	}
	for _, known := range []error{ErrNoCredential, ErrUnauthorized, ErrForbidden, ErrNotFound, ErrUnavailable, ErrRejected, context.Canceled, context.DeadlineExceeded} {
		if errors.Is(err, known) {
			return err
		}
	}
	return fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
}
