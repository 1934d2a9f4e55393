package auth

import (
	"bufio"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// pwnedPasswordsURL is the k-anonymity range endpoint. Only the first five
// hex characters of the password's SHA-1 ever leave the process.
const pwnedPasswordsURL = "https://api.pwnedpasswords.com/range/"

// HIBPClient checks passwords against the Have I Been Pwned range API.
type HIBPClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewHIBPClient creates a breach checker against the public API.
func NewHIBPClient() *HIBPClient {
	return NewHIBPClientWithBaseURL(pwnedPasswordsURL)
}

// NewHIBPClientWithBaseURL creates a breach checker against a custom
// endpoint, used to point tests at a local server.
func NewHIBPClientWithBaseURL(baseURL string) *HIBPClient {
	return &HIBPClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (c *HIBPClient) IsPasswordBreached(ctx context.Context, password string) (bool, error) {
	sum := sha1.Sum([]byte(password))
	digest := strings.ToUpper(hex.EncodeToString(sum[:]))
	prefix, suffix := digest[:5], digest[5:]

	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+prefix, nil)
	if err != nil {
		return false, err
	}
	req.Header.Set("Add-Padding", "true")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("range lookup failed: %d", resp.StatusCode)
	}

	// Each line is "HEXSUFFIX:COUNT". Padding entries carry a zero count.
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		candidate, count, ok := strings.Cut(scanner.Text(), ":")
		if !ok {
			continue
		}
		if strings.EqualFold(candidate, suffix) && strings.TrimSpace(count) != "0" {
			return true, nil
		}
	}
	return false, scanner.Err()
}
