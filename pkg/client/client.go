package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// Client is a client for the gateseal authentication API.
type Client struct {
	BaseURL     string
	HTTPClient  *http.Client
	Token       string
	AdminSecret string
}

// Config holds configuration for the client.
type Config struct {
	BaseURL     string
	AdminSecret string
	Timeout     time.Duration
}

// New creates a new Client.
func New(cfg Config) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Client{
		BaseURL:     cfg.BaseURL,
		AdminSecret: cfg.AdminSecret,
		HTTPClient: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

// SetToken sets the access token for subsequent requests.
func (c *Client) SetToken(token string) {
	c.Token = token
}

// User is the account shape returned by the API.
type User struct {
	ID            string                 `json:"id"`
	Email         string                 `json:"email,omitempty"`
	Locale        string                 `json:"locale"`
	DefaultRole   string                 `json:"defaultRole"`
	DisplayName   string                 `json:"displayName,omitempty"`
	AvatarURL     string                 `json:"avatarUrl,omitempty"`
	EmailVerified bool                   `json:"emailVerified"`
	IsAnonymous   bool                   `json:"isAnonymous"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt     time.Time              `json:"createdAt"`
}

// Session holds the tokens minted for a signed-in user.
type Session struct {
	AccessToken          string `json:"accessToken"`
	AccessTokenExpiresIn int64  `json:"accessTokenExpiresIn"`
	RefreshToken         string `json:"refreshToken"`
	User                 User   `json:"user"`
}

// MFAChallenge is returned instead of a session when the account requires
// a second factor. Complete it with VerifyTOTP.
type MFAChallenge struct {
	Ticket string `json:"ticket"`
}

// SignInResult carries either a session or an MFA challenge.
type SignInResult struct {
	Session *Session      `json:"session,omitempty"`
	MFA     *MFAChallenge `json:"mfa,omitempty"`
}

// RegisterResult carries the session for immediately usable accounts, or
// just the user when email verification is still pending.
type RegisterResult struct {
	Session *Session `json:"session,omitempty"`
	User    *User    `json:"user,omitempty"`
}

// RegisterParams is the payload for Register. Email and Password are
// required; everything else is optional.
type RegisterParams struct {
	Email              string                 `json:"email"`
	Password           string                 `json:"password"`
	Locale             string                 `json:"locale,omitempty"`
	DefaultRole        string                 `json:"defaultRole,omitempty"`
	AllowedRoles       []string               `json:"allowedRoles,omitempty"`
	DisplayName        string                 `json:"displayName,omitempty"`
	RedirectTo         string                 `json:"redirectTo,omitempty"`
	CustomRegisterData map[string]interface{} `json:"customRegisterData,omitempty"`
}

// Register creates a new account. When the server requires email
// verification the result carries only the user and the session is nil.
func (c *Client) Register(ctx context.Context, params RegisterParams) (*RegisterResult, error) {
	var res RegisterResult
	if err := c.doRequest(ctx, "POST", "/register", params, &res); err != nil {
		return nil, err
	}
	if res.Session != nil {
		c.Token = res.Session.AccessToken
	}
	return &res, nil
}

// Login performs email/password authentication and stores the access
// token on success. A result with a non-nil MFA field means the account
// requires a TOTP code; finish with VerifyTOTP.
func (c *Client) Login(ctx context.Context, email, password string) (*SignInResult, error) {
	payload := map[string]string{
		"email":    email,
		"password": password,
	}
	var res SignInResult
	if err := c.doRequest(ctx, "POST", "/login", payload, &res); err != nil {
		return nil, err
	}
	if res.Session != nil {
		c.Token = res.Session.AccessToken
	}
	return &res, nil
}

// LoginMagicLink requests a one-time sign-in link for the address. The
// server responds identically whether or not the account exists.
func (c *Client) LoginMagicLink(ctx context.Context, email, redirectTo string) error {
	payload := map[string]interface{}{
		"email": email,
	}
	if redirectTo != "" {
		payload["redirectTo"] = redirectTo
	}
	return c.doRequest(ctx, "POST", "/login", payload, nil)
}

// LoginAnonymous creates a throwaway account and signs it in.
func (c *Client) LoginAnonymous(ctx context.Context) (*Session, error) {
	payload := map[string]interface{}{
		"anonymous": true,
	}
	var res SignInResult
	if err := c.doRequest(ctx, "POST", "/login", payload, &res); err != nil {
		return nil, err
	}
	if res.Session == nil {
		return nil, fmt.Errorf("anonymous login returned no session")
	}
	c.Token = res.Session.AccessToken
	return res.Session, nil
}

// VerifyTOTP completes an MFA login with the ticket from Login and the
// current code from the authenticator app.
func (c *Client) VerifyTOTP(ctx context.Context, ticket, code string) (*Session, error) {
	payload := map[string]string{
		"ticket": ticket,
		"code":   code,
	}
	var res SignInResult
	if err := c.doRequest(ctx, "POST", "/mfa/totp", payload, &res); err != nil {
		return nil, err
	}
	if res.Session == nil {
		return nil, fmt.Errorf("mfa verification returned no session")
	}
	c.Token = res.Session.AccessToken
	return res.Session, nil
}

// Logout revokes a single refresh token.
func (c *Client) Logout(ctx context.Context, refreshToken string) error {
	payload := map[string]interface{}{
		"refreshToken": refreshToken,
	}
	return c.doRequest(ctx, "POST", "/logout", payload, nil)
}

// LogoutAll revokes every session of the authenticated user and drops the
// stored token.
func (c *Client) LogoutAll(ctx context.Context) error {
	payload := map[string]interface{}{
		"all": true,
	}
	if err := c.doRequest(ctx, "POST", "/logout", payload, nil); err != nil {
		return err
	}
	c.Token = ""
	return nil
}

// RequestPasswordReset emails a reset link to the address. The server
// responds identically whether or not the account exists.
func (c *Client) RequestPasswordReset(ctx context.Context, email, redirectTo string) error {
	payload := map[string]string{
		"email": email,
	}
	if redirectTo != "" {
		payload["redirectTo"] = redirectTo
	}
	return c.doRequest(ctx, "POST", "/user/password/reset", payload, nil)
}

// ResetPassword sets a new password using the ticket from the reset email.
func (c *Client) ResetPassword(ctx context.Context, ticket, newPassword string) error {
	payload := map[string]string{
		"ticket":      ticket,
		"newPassword": newPassword,
	}
	return c.doRequest(ctx, "POST", "/user/password", payload, nil)
}

// RequestEmailChange starts moving the authenticated account to a new
// address. The new address receives a confirmation link.
func (c *Client) RequestEmailChange(ctx context.Context, newEmail, redirectTo string) error {
	payload := map[string]string{
		"newEmail": newEmail,
	}
	if redirectTo != "" {
		payload["redirectTo"] = redirectTo
	}
	return c.doRequest(ctx, "POST", "/user/email/change", payload, nil)
}

// ConfirmEmailChange finalizes an email change with the emailed ticket.
func (c *Client) ConfirmEmailChange(ctx context.Context, ticket string) error {
	payload := map[string]string{
		"ticket": ticket,
	}
	return c.doRequest(ctx, "POST", "/user/email/change/confirm", payload, nil)
}

// ResendConfirmation sends a fresh verification email for an unverified
// account.
func (c *Client) ResendConfirmation(ctx context.Context, email string) error {
	payload := map[string]string{
		"email": email,
	}
	return c.doRequest(ctx, "POST", "/user/email/resend", payload, nil)
}

// WhitelistEmail adds an address to the sign-up whitelist. Requires the
// admin secret. Set invite to also send an invitation email.
func (c *Client) WhitelistEmail(ctx context.Context, email string, invite bool) error {
	payload := map[string]interface{}{
		"email":  email,
		"invite": invite,
	}
	return c.doRequest(ctx, "POST", "/whitelist", payload, nil)
}

// IsWhitelisted reports whether an address may sign up. Requires the
// admin secret.
func (c *Client) IsWhitelisted(ctx context.Context, email string) (bool, error) {
	path := "/whitelist?email=" + url.QueryEscape(email)
	var res struct {
		Whitelisted bool `json:"whitelisted"`
	}
	if err := c.doRequest(ctx, "GET", path, nil, &res); err != nil {
		return false, err
	}
	return res.Whitelisted, nil
}

// doRequest helper to perform authenticated requests.
func (c *Client) doRequest(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		bodyReader = bytes.NewBuffer(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, bodyReader)
	if err != nil {
		return err
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	if c.AdminSecret != "" {
		req.Header.Set("X-Admin-Secret", c.AdminSecret)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("API error %d: %s", resp.StatusCode, string(respBody))
	}

	if out != nil && resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return err
		}
	}

	return nil
}
