package auth

import (
	"crypto/md5"
	"fmt"
	"net/url"
	"strings"
)

// GravatarURLFunc builds the avatar URL resolver used at account creation.
// When disabled it returns an empty URL for every address.
func GravatarURLFunc(enabled bool, def, rating string) func(string) string {
	if !enabled {
		return func(string) string { return "" }
	}

	params := url.Values{}
	if def != "" {
		params.Set("d", def)
	}
	if rating != "" {
		params.Set("r", rating)
	}
	suffix := ""
	if len(params) > 0 {
		suffix = "?" + params.Encode()
	}

	return func(email string) string {
		sum := md5.Sum([]byte(strings.TrimSpace(strings.ToLower(email))))
		return fmt.Sprintf("https://www.gravatar.com/avatar/%x%s", sum, suffix)
	}
}
