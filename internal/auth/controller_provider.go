package auth

import (
	"net/url"

	"github.com/google/uuid"
)

// ProviderSignIn is everything the HTTP layer needs to start an OAuth
// round trip: where to send the browser and what to remember until the
// callback returns.
type ProviderSignIn struct {
	AuthorizationURL   string
	State              string
	RedirectURLSuccess string
	RedirectURLFailure string
	JWTToken           string
}

// SignInProvider validates a provider sign-in query and builds the
// authorization redirect with a fresh state token.
func (c *Controller) SignInProvider(provider string, query url.Values) (*ProviderSignIn, error) {
	if !c.providers.Known(provider) {
		return nil, ErrUnknownProvider
	}
	req, err := c.schemas.ParseProviderQuery(query)
	if err != nil {
		return nil, err
	}
	state := uuid.NewString()
	authURL, err := c.providers.AuthorizeURL(provider, state)
	if err != nil {
		return nil, internalError("building authorization url", err)
	}
	return &ProviderSignIn{
		AuthorizationURL:   authURL,
		State:              state,
		RedirectURLSuccess: req.RedirectURLSuccess,
		RedirectURLFailure: req.RedirectURLFailure,
		JWTToken:           req.JWTToken,
	}, nil
}

// HandleProviderCallback checks the state token shape on a provider
// callback and hands the remaining parameters back untouched. Token
// exchange happens in the transport layer against the provider itself.
func (c *Controller) HandleProviderCallback(provider string, query url.Values) (ProviderCallback, error) {
	if !c.providers.Known(provider) {
		return ProviderCallback{}, ErrUnknownProvider
	}
	return c.schemas.ParseProviderCallback(query)
}
