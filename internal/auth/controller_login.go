package auth

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// AnonymousRole is the single role granted to anonymous accounts.
const AnonymousRole = "anonymous"

// MFATypeTOTP marks accounts that complete sign in with a TOTP code.
const MFATypeTOTP = "totp"

// Login validates a login body, classifies its variant and runs the
// matching flow. Accounts with an active second factor receive an MFA
// challenge instead of a session.
func (c *Controller) Login(ctx context.Context, body []byte) (*SignInResponse, error) {
	req, err := c.schemas.ParseLogin(body)
	if err != nil {
		return nil, err
	}
	switch req.Flow {
	case FlowMagicLink:
		return c.loginMagicLink(ctx, req)
	case FlowAnonymous:
		return c.loginAnonymous(ctx, req)
	default:
		return c.loginRegular(ctx, req)
	}
}

func (c *Controller) loginRegular(ctx context.Context, req LoginRequest) (*SignInResponse, error) {
	user, found, err := c.store.GetUserByEmail(ctx, req.Email)
	if err != nil {
		return nil, internalError("looking up user", err)
	}
	if !found {
		return nil, ErrInvalidCredentials
	}
	if user.Disabled {
		return nil, ErrUserDisabled
	}
	if c.cfg.RequireEmailVerification && !user.EmailVerified {
		return nil, ErrUnverifiedUser
	}
	if !c.store.CheckPassword(user.PasswordHash, req.Password) {
		return nil, ErrInvalidCredentials
	}

	if user.ActiveMFAType == MFATypeTOTP {
		ticket, expires := c.newTicket()
		if err := c.store.UpdateUserTicket(ctx, user.ID, ticket, expires); err != nil {
			return nil, internalError("storing mfa ticket", err)
		}
		return &SignInResponse{MFA: &MFAChallenge{Ticket: ticket}}, nil
	}

	roles, err := c.store.GetUserRoles(ctx, user.ID)
	if err != nil {
		return nil, internalError("loading user roles", err)
	}
	if err := c.store.UpdateUserLastSeen(ctx, user.ID); err != nil {
		return nil, internalError("updating last seen", err)
	}
	session, err := c.newSession(ctx, user, roles)
	if err != nil {
		return nil, err
	}
	c.logger.Info("User signed in", zap.String("user_id", user.ID))
	return &SignInResponse{Session: session}, nil
}

func (c *Controller) loginMagicLink(ctx context.Context, req LoginRequest) (*SignInResponse, error) {
	if !c.cfg.MagicLinkEnabled {
		return nil, ErrMagicLinkDisabled
	}
	user, found, err := c.store.GetUserByEmail(ctx, req.Email)
	if err != nil {
		return nil, internalError("looking up user", err)
	}
	if !found {
		// Respond as if the link was sent so addresses cannot be probed.
		c.logger.Debug("Magic link requested for unknown email")
		return &SignInResponse{}, nil
	}
	if user.Disabled {
		return nil, ErrUserDisabled
	}

	ticket, expires := c.newTicket()
	if err := c.store.UpdateUserTicket(ctx, user.ID, ticket, expires); err != nil {
		return nil, internalError("storing magic link ticket", err)
	}
	data := EmailData{
		Ticket:      ticket,
		RedirectTo:  req.Options.RedirectTo,
		DisplayName: displayNameOrEmail(user),
	}
	if err := c.mailer.SendMagicLink(ctx, user.Email, user.Locale, data); err != nil {
		return nil, internalError("sending magic link email", err)
	}
	return &SignInResponse{}, nil
}

func (c *Controller) loginAnonymous(ctx context.Context, req LoginRequest) (*SignInResponse, error) {
	if !c.cfg.AnonymousUsersEnabled {
		return nil, ErrAnonymousDisabled
	}

	params := InsertUserParams{
		ID:           uuid.NewString(),
		Locale:       req.Options.Locale,
		DefaultRole:  AnonymousRole,
		AllowedRoles: []string{AnonymousRole},
		DisplayName:  req.Options.DisplayName,
		Anonymous:    true,
	}
	refresh := RefreshTokenParams{
		Token:     uuid.NewString(),
		UserID:    params.ID,
		ExpiresAt: c.now().Add(c.cfg.RefreshTokenTTL),
	}
	user, err := c.store.InsertUserWithRefreshToken(ctx, params, refresh)
	if err != nil {
		return nil, internalError("inserting anonymous user", err)
	}
	access, expiresIn, err := c.issuer.IssueAccessToken(user, []string{AnonymousRole})
	if err != nil {
		return nil, internalError("issuing access token", err)
	}
	c.logger.Info("Anonymous user signed in", zap.String("user_id", user.ID))
	return &SignInResponse{Session: &Session{
		AccessToken:          access,
		AccessTokenExpiresIn: expiresIn,
		RefreshToken:         refresh.Token,
		User:                 user,
	}}, nil
}
