package auth

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Password length ceiling. The floor comes from configuration.
const MaxPasswordLength = 128

// Defaults applied by Config.normalized.
const (
	DefaultMinPasswordLength = 8
	DefaultTicketTTL         = 24 * time.Hour
	DefaultRefreshTokenTTL   = 30 * 24 * time.Hour
)

// Config is the tenant policy configuration the validation engine and the
// controller are built from. It is read once at construction; nothing in
// this package consults the environment afterwards.
type Config struct {
	// MinPasswordLength is the minimum accepted password length in runes.
	MinPasswordLength int

	// AllowedEmailDomains is a comma-separated list of domain suffixes.
	// Empty disables the check entirely.
	AllowedEmailDomains string

	// AllowedRedirectURLs lists the redirect targets clients may request.
	// Empty disables the check entirely.
	AllowedRedirectURLs []string

	// CustomRegisterFields names the keys accepted inside
	// customRegisterData. Empty means no custom data is accepted.
	CustomRegisterFields []string

	// DefaultLocale is the two-letter locale applied when a request omits
	// one.
	DefaultLocale string

	DefaultRole  string
	AllowedRoles []string

	// RedirectURLSuccess and RedirectURLError are the fallback targets for
	// redirect-based flows when the request does not name one.
	RedirectURLSuccess string
	RedirectURLError   string

	RequireEmailVerification bool
	MagicLinkEnabled         bool
	AnonymousUsersEnabled    bool
	WhitelistEnabled         bool
	HIBPEnabled              bool

	GravatarEnabled bool
	GravatarDefault string
	GravatarRating  string

	RefreshTokenTTL time.Duration
	TicketTTL       time.Duration
}

// normalized returns a copy with defaults applied and the policy lists
// parsed, or an error describing the first misconfiguration found.
// Construction is the only place policy problems surface; a Config that
// passes here never fails at request time.
func (c Config) normalized() (Config, error) {
	if c.MinPasswordLength == 0 {
		c.MinPasswordLength = DefaultMinPasswordLength
	}
	if c.MinPasswordLength < 3 {
		return c, fmt.Errorf("auth: minPasswordLength must be at least 3, got %d", c.MinPasswordLength)
	}
	if c.MinPasswordLength > MaxPasswordLength {
		return c, fmt.Errorf("auth: minPasswordLength exceeds the %d-character ceiling", MaxPasswordLength)
	}

	if c.DefaultLocale == "" {
		c.DefaultLocale = "en"
	}
	if len(c.DefaultLocale) != 2 {
		return c, fmt.Errorf("auth: defaultLocale must be a two-letter code, got %q", c.DefaultLocale)
	}

	if c.DefaultRole == "" {
		c.DefaultRole = "user"
	}
	if len(c.AllowedRoles) == 0 {
		c.AllowedRoles = []string{c.DefaultRole}
	}
	if !containsString(c.AllowedRoles, c.DefaultRole) {
		return c, fmt.Errorf("auth: defaultRole %q is not in allowedRoles", c.DefaultRole)
	}

	if c.AllowedEmailDomains != "" {
		for _, raw := range strings.Split(c.AllowedEmailDomains, ",") {
			if strings.TrimSpace(raw) == "" {
				return c, fmt.Errorf("auth: allowedEmailDomains contains an empty entry")
			}
		}
	}

	for _, u := range c.AllowedRedirectURLs {
		if p, err := url.Parse(u); err != nil || p.Scheme == "" || p.Host == "" {
			return c, fmt.Errorf("auth: allowedRedirectUrls entry %q is not an absolute URL", u)
		}
	}
	for _, u := range []string{c.RedirectURLSuccess, c.RedirectURLError} {
		if u == "" {
			continue
		}
		if p, err := url.Parse(u); err != nil || p.Scheme == "" || p.Host == "" {
			return c, fmt.Errorf("auth: default redirect URL %q is not an absolute URL", u)
		}
	}

	for _, f := range c.CustomRegisterFields {
		if strings.TrimSpace(f) == "" {
			return c, fmt.Errorf("auth: customRegisterFields contains an empty entry")
		}
	}

	if c.GravatarDefault == "" {
		c.GravatarDefault = "blank"
	}
	if c.GravatarRating == "" {
		c.GravatarRating = "g"
	}

	if c.RefreshTokenTTL == 0 {
		c.RefreshTokenTTL = DefaultRefreshTokenTTL
	}
	if c.TicketTTL == 0 {
		c.TicketTTL = DefaultTicketTTL
	}

	return c, nil
}

// emailDomains returns the configured domain suffixes, lower-cased and
// trimmed. Empty slice means the check is disabled.
func (c Config) emailDomains() []string {
	if c.AllowedEmailDomains == "" {
		return nil
	}
	parts := strings.Split(c.AllowedEmailDomains, ",")
	domains := make([]string, 0, len(parts))
	for _, p := range parts {
		domains = append(domains, strings.ToLower(strings.TrimSpace(p)))
	}
	return domains
}

func containsString(list []string, want string) bool {
	for _, s := range list {
		if s == want {
			return true
		}
	}
	return false
}
