package providers

import (
	"net/url"
	"strings"
	"testing"
)

func TestNewBuildsWellKnownProviders(t *testing.T) {
	registry, err := New("https://auth.example.com/", []Config{
		{Name: "GitHub", ClientID: "gh-id", ClientSecret: "gh-secret"},
		{Name: "google", ClientID: "g-id", ClientSecret: "g-secret"},
	})
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}

	// Lookups are case insensitive.
	if !registry.Known("github") || !registry.Known("GOOGLE") {
		t.Fatalf("expected both providers known")
	}
	if registry.Known("facebook") {
		t.Fatalf("facebook was not configured")
	}

	names := registry.Names()
	if len(names) != 2 || names[0] != "github" || names[1] != "google" {
		t.Fatalf("expected sorted lowercase names, got %v", names)
	}
}

func TestAuthorizeURL(t *testing.T) {
	registry, err := New("https://auth.example.com", []Config{
		{Name: "github", ClientID: "gh-id", ClientSecret: "gh-secret"},
	})
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}

	raw, err := registry.AuthorizeURL("github", "state-123")
	if err != nil {
		t.Fatalf("authorize url: %v", err)
	}
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parsing authorize url: %v", err)
	}
	if u.Host != "github.com" {
		t.Fatalf("expected the github endpoint, got %s", u.Host)
	}
	q := u.Query()
	if q.Get("client_id") != "gh-id" || q.Get("state") != "state-123" {
		t.Fatalf("unexpected query: %v", q)
	}
	if q.Get("redirect_uri") != "https://auth.example.com/providers/github/callback" {
		t.Fatalf("unexpected redirect uri: %q", q.Get("redirect_uri"))
	}
	if !strings.Contains(q.Get("scope"), "user:email") {
		t.Fatalf("expected the default github scope, got %q", q.Get("scope"))
	}

	if _, err := registry.AuthorizeURL("myspace", "state-123"); err == nil {
		t.Fatalf("expected an error for an unconfigured provider")
	}
}

func TestCustomEndpointAndScopes(t *testing.T) {
	registry, err := New("https://auth.example.com", []Config{
		{
			Name:         "corpidp",
			ClientID:     "c-id",
			ClientSecret: "c-secret",
			Scopes:       []string{"openid", "groups"},
			AuthURL:      "https://idp.corp.example.com/authorize",
			TokenURL:     "https://idp.corp.example.com/token",
		},
	})
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}

	raw, err := registry.AuthorizeURL("corpidp", "s")
	if err != nil {
		t.Fatalf("authorize url: %v", err)
	}
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parsing authorize url: %v", err)
	}
	if u.Host != "idp.corp.example.com" {
		t.Fatalf("expected the custom endpoint, got %s", u.Host)
	}
	if got := u.Query().Get("scope"); got != "openid groups" {
		t.Fatalf("expected configured scopes, got %q", got)
	}
}

func TestNewRejectsIncompleteConfigs(t *testing.T) {
	cases := []struct {
		name string
		cfg  Config
	}{
		{"missing name", Config{ClientID: "id", ClientSecret: "secret"}},
		{"missing client id", Config{Name: "github", ClientSecret: "secret"}},
		{"missing secret", Config{Name: "github", ClientID: "id"}},
		{"unknown endpoint", Config{Name: "corpidp", ClientID: "id", ClientSecret: "secret"}},
	}
	for _, tc := range cases {
		if _, err := New("https://auth.example.com", []Config{tc.cfg}); err == nil {
			t.Errorf("%s: expected an error", tc.name)
		}
	}
}
