package providers

import (
	"fmt"
	"sort"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

// Config describes one OAuth provider from configuration. AuthURL and
// TokenURL may be empty for providers with well-known endpoints.
type Config struct {
	Name         string
	ClientID     string
	ClientSecret string
	Scopes       []string
	AuthURL      string
	TokenURL     string
}

// Registry resolves provider names to ready oauth2 configurations.
type Registry struct {
	configs map[string]*oauth2.Config
}

var wellKnown = map[string]oauth2.Endpoint{
	"google": google.Endpoint,
	"github": {
		AuthURL:  "https://github.com/login/oauth/authorize",
		TokenURL: "https://github.com/login/oauth/access_token",
	},
	"facebook": {
		AuthURL:  "https://www.facebook.com/v12.0/dialog/oauth",
		TokenURL: "https://graph.facebook.com/v12.0/oauth/access_token",
	},
	"linkedin": {
		AuthURL:  "https://www.linkedin.com/oauth/v2/authorization",
		TokenURL: "https://www.linkedin.com/oauth/v2/accessToken",
	},
}

var defaultScopes = map[string][]string{
	"google":   {"openid", "profile", "email"},
	"github":   {"user:email"},
	"facebook": {"email"},
	"linkedin": {"r_liteprofile", "r_emailaddress"},
}

// New builds a registry. callbackBase is the public URL of this service;
// each provider redirects back to callbackBase/providers/<name>/callback.
func New(callbackBase string, configs []Config) (*Registry, error) {
	r := &Registry{configs: make(map[string]*oauth2.Config)}
	for _, pc := range configs {
		name := strings.ToLower(pc.Name)
		if name == "" || pc.ClientID == "" || pc.ClientSecret == "" {
			return nil, fmt.Errorf("provider %q: name, client id and secret are required", pc.Name)
		}

		endpoint, ok := wellKnown[name]
		if pc.AuthURL != "" && pc.TokenURL != "" {
			endpoint = oauth2.Endpoint{AuthURL: pc.AuthURL, TokenURL: pc.TokenURL}
			ok = true
		}
		if !ok {
			return nil, fmt.Errorf("provider %q: no known endpoint, set auth and token urls", pc.Name)
		}

		scopes := pc.Scopes
		if len(scopes) == 0 {
			scopes = defaultScopes[name]
		}
		r.configs[name] = &oauth2.Config{
			ClientID:     pc.ClientID,
			ClientSecret: pc.ClientSecret,
			RedirectURL:  strings.TrimRight(callbackBase, "/") + "/providers/" + name + "/callback",
			Scopes:       scopes,
			Endpoint:     endpoint,
		}
	}
	return r, nil
}

// Known reports whether a provider is configured.
func (r *Registry) Known(provider string) bool {
	_, ok := r.configs[strings.ToLower(provider)]
	return ok
}

// AuthorizeURL builds the provider's authorization redirect carrying the
// state token.
func (r *Registry) AuthorizeURL(provider, state string) (string, error) {
	conf, ok := r.configs[strings.ToLower(provider)]
	if !ok {
		return "", fmt.Errorf("provider %q is not configured", provider)
	}
	return conf.AuthCodeURL(state), nil
}

// Names lists configured providers in stable order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.configs))
	for name := range r.configs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
