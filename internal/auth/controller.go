package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// UserStore is the storage collaborator. InsertUserWithRefreshToken must
// create both rows in a single transaction; the controller never issues a
// follow-up call to patch a half-created account.
type UserStore interface {
	GetUserByEmail(ctx context.Context, email string) (User, bool, error)
	GetUserByID(ctx context.Context, id string) (User, bool, error)
	GetUserByTicket(ctx context.Context, ticket string) (User, bool, error)
	GetUserRoles(ctx context.Context, userID string) ([]string, error)
	InsertUser(ctx context.Context, params InsertUserParams) (User, error)
	InsertUserWithRefreshToken(ctx context.Context, params InsertUserParams, token RefreshTokenParams) (User, error)
	InsertRefreshToken(ctx context.Context, token RefreshTokenParams) error
	UpdateUserLastSeen(ctx context.Context, userID string) error
	UpdateUserTicket(ctx context.Context, userID, ticket string, expiresAt time.Time) error
	UpdateUserEmailChange(ctx context.Context, userID, newEmail, ticket string, expiresAt time.Time) error
	ConfirmUserEmailChange(ctx context.Context, userID string) error
	UpdateUserPassword(ctx context.Context, userID, newPassword string) error
	SetUserEmailVerified(ctx context.Context, userID string) error
	CheckPassword(hashedPassword, password string) bool
	DeleteRefreshToken(ctx context.Context, token string) error
	DeleteUserRefreshTokens(ctx context.Context, userID string) error
}

// WhitelistStore guards sign up when the tenant runs in whitelist mode.
type WhitelistStore interface {
	InsertWhitelistedEmail(ctx context.Context, email string) error
	IsEmailWhitelisted(ctx context.Context, email string) (bool, error)
}

// Mailer is the notification collaborator. At most one message is sent per
// operation and a failure fails the operation; there are no retries.
type Mailer interface {
	SendEmailVerify(ctx context.Context, to, locale string, data EmailData) error
	SendPasswordReset(ctx context.Context, to, locale string, data EmailData) error
	SendMagicLink(ctx context.Context, to, locale string, data EmailData) error
	SendInvite(ctx context.Context, to, locale string, data EmailData) error
}

// BreachChecker reports whether a password is known from public breach
// corpora. It is consulted after shape rules pass and before any account
// state changes.
type BreachChecker interface {
	IsPasswordBreached(ctx context.Context, password string) (bool, error)
}

// TokenIssuer mints access tokens. The controller only decides that a
// token should exist for a user and role set; signing lives elsewhere.
type TokenIssuer interface {
	IssueAccessToken(user User, roles []string) (token string, expiresIn int64, err error)
}

// OTPVerifier checks a one-time code against a stored secret.
type OTPVerifier interface {
	Verify(code, secret string) bool
}

// ProviderRegistry resolves configured OAuth providers.
type ProviderRegistry interface {
	Known(provider string) bool
	AuthorizeURL(provider, state string) (string, error)
}

// Collaborators bundles everything the controller drives. Store, Mailer,
// Issuer and OTP are always required; the rest depend on configuration.
type Collaborators struct {
	Store     UserStore
	Whitelist WhitelistStore
	Mailer    Mailer
	Breach    BreachChecker
	Issuer    TokenIssuer
	OTP       OTPVerifier
	Providers ProviderRegistry
}

// Controller is the boundary between validated requests and the
// collaborators. It is constructed once per process; a Config or wiring
// problem surfaces here and nowhere later.
type Controller struct {
	cfg         Config
	schemas     *Schemas
	store       UserStore
	whitelist   WhitelistStore
	mailer      Mailer
	breach      BreachChecker
	issuer      TokenIssuer
	otp         OTPVerifier
	providers   ProviderRegistry
	gravatarURL func(string) string
	logger      *zap.Logger
	now         func() time.Time
}

// New builds the controller. Construction failure means the service must
// not start.
func New(cfg Config, deps Collaborators, logger *zap.Logger) (*Controller, error) {
	schemas, err := NewSchemas(cfg)
	if err != nil {
		return nil, fmt.Errorf("auth: compiling request schemas: %w", err)
	}
	norm := schemas.Config()

	if deps.Store == nil {
		return nil, fmt.Errorf("auth: user store is required")
	}
	if deps.Mailer == nil {
		return nil, fmt.Errorf("auth: mailer is required")
	}
	if deps.Issuer == nil {
		return nil, fmt.Errorf("auth: token issuer is required")
	}
	if deps.OTP == nil {
		return nil, fmt.Errorf("auth: otp verifier is required")
	}
	if norm.WhitelistEnabled && deps.Whitelist == nil {
		return nil, fmt.Errorf("auth: whitelist store is required when the whitelist is enabled")
	}
	if norm.HIBPEnabled && deps.Breach == nil {
		return nil, fmt.Errorf("auth: breach checker is required when hibp is enabled")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Controller{
		cfg:       norm,
		schemas:   schemas,
		store:     deps.Store,
		whitelist: deps.Whitelist,
		mailer:    deps.Mailer,
		breach:    deps.Breach,
		issuer:    deps.Issuer,
		otp:       deps.OTP,
		providers: deps.Providers,
		gravatarURL: GravatarURLFunc(
			norm.GravatarEnabled, norm.GravatarDefault, norm.GravatarRating,
		),
		logger: logger,
		now:    time.Now,
	}, nil
}

// Schemas exposes the compiled schema set, mainly for the HTTP layer.
func (c *Controller) Schemas() *Schemas {
	return c.schemas
}

// Config returns the normalized configuration in effect.
func (c *Controller) Config() Config {
	return c.cfg
}

// newTicket mints a fresh single-use ticket with the configured lifetime.
func (c *Controller) newTicket() (string, time.Time) {
	return uuid.NewString(), c.now().Add(c.cfg.TicketTTL)
}

// internalError wraps a collaborator failure. The transport layer keeps
// these opaque to clients; the detail only reaches the logs.
func internalError(what string, err error) error {
	return fmt.Errorf("auth: %s: %w", what, err)
}

// newSession issues the access token and stores one refresh token for the
// user. Exactly one issuance and one token row per call.
func (c *Controller) newSession(ctx context.Context, user User, roles []string) (*Session, error) {
	access, expiresIn, err := c.issuer.IssueAccessToken(user, roles)
	if err != nil {
		return nil, internalError("issuing access token", err)
	}
	refresh := RefreshTokenParams{
		Token:     uuid.NewString(),
		UserID:    user.ID,
		ExpiresAt: c.now().Add(c.cfg.RefreshTokenTTL),
	}
	if err := c.store.InsertRefreshToken(ctx, refresh); err != nil {
		return nil, internalError("storing refresh token", err)
	}
	return &Session{
		AccessToken:          access,
		AccessTokenExpiresIn: expiresIn,
		RefreshToken:         refresh.Token,
		User:                 user,
	}, nil
}

// userByValidTicket resolves a ticket to its user, rejecting unknown and
// expired tickets alike with the same user-facing error.
func (c *Controller) userByValidTicket(ctx context.Context, ticket string) (User, error) {
	user, found, err := c.store.GetUserByTicket(ctx, ticket)
	if err != nil {
		return User{}, internalError("looking up ticket", err)
	}
	if !found || c.now().After(user.TicketExpiresAt) {
		return User{}, ErrInvalidTicket
	}
	return user, nil
}

// rotateTicket replaces a consumed ticket so it cannot be replayed.
func (c *Controller) rotateTicket(ctx context.Context, userID string) error {
	ticket, expires := c.newTicket()
	if err := c.store.UpdateUserTicket(ctx, userID, ticket, expires); err != nil {
		return internalError("rotating ticket", err)
	}
	return nil
}

// ensureEmailAllowed applies whitelist mode to sign ups.
func (c *Controller) ensureEmailAllowed(ctx context.Context, email string) error {
	if !c.cfg.WhitelistEnabled {
		return nil
	}
	ok, err := c.whitelist.IsEmailWhitelisted(ctx, email)
	if err != nil {
		return internalError("checking whitelist", err)
	}
	if !ok {
		return ErrEmailNotWhitelisted
	}
	return nil
}

// ensurePasswordNotBreached consults the breach corpus when enabled.
func (c *Controller) ensurePasswordNotBreached(ctx context.Context, password string) error {
	if !c.cfg.HIBPEnabled {
		return nil
	}
	breached, err := c.breach.IsPasswordBreached(ctx, password)
	if err != nil {
		return internalError("checking password breach corpus", err)
	}
	if breached {
		return ErrPasswordBreached
	}
	return nil
}
