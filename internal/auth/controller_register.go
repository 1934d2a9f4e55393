package auth

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// RegisterResult is the outcome of a register call. Flows that require
// verification return the created user; flows that activate immediately
// return a full session.
type RegisterResult struct {
	User    *User    `json:"user,omitempty"`
	Session *Session `json:"session,omitempty"`
}

// Register validates a register body, classifies its variant and creates
// the account. The account and its first refresh token are always written
// in a single storage call; a failure after that call is reported, never
// retried or compensated.
func (c *Controller) Register(ctx context.Context, body []byte) (RegisterResult, error) {
	req, err := c.schemas.ParseRegister(body)
	if err != nil {
		return RegisterResult{}, err
	}
	if req.Flow == FlowMagicLink {
		return c.registerMagicLink(ctx, req)
	}
	return c.registerRegular(ctx, req)
}

func (c *Controller) registerRegular(ctx context.Context, req RegisterRequest) (RegisterResult, error) {
	if err := c.ensureEmailAllowed(ctx, req.Email); err != nil {
		return RegisterResult{}, err
	}
	if err := c.ensurePasswordNotBreached(ctx, req.Password); err != nil {
		return RegisterResult{}, err
	}

	ticket, ticketExpires := c.newTicket()
	params := InsertUserParams{
		ID:              uuid.NewString(),
		Email:           req.Email,
		Password:        req.Password,
		Locale:          req.Options.Locale,
		DefaultRole:     req.Options.DefaultRole,
		AllowedRoles:    req.Options.AllowedRoles,
		DisplayName:     req.Options.DisplayName,
		AvatarURL:       c.gravatarURL(req.Email),
		EmailVerified:   !c.cfg.RequireEmailVerification,
		Ticket:          ticket,
		TicketExpiresAt: ticketExpires,
		Metadata:        req.Options.CustomData,
	}

	if !c.cfg.RequireEmailVerification {
		refresh := RefreshTokenParams{
			Token:     uuid.NewString(),
			UserID:    params.ID,
			ExpiresAt: c.now().Add(c.cfg.RefreshTokenTTL),
		}
		user, err := c.store.InsertUserWithRefreshToken(ctx, params, refresh)
		if err != nil {
			c.logger.Error("Failed to insert user", zap.Error(err))
			return RegisterResult{}, internalError("inserting user", err)
		}
		access, expiresIn, err := c.issuer.IssueAccessToken(user, req.Options.AllowedRoles)
		if err != nil {
			c.logger.Error("Failed to issue access token", zap.Error(err))
			return RegisterResult{}, internalError("issuing access token", err)
		}
		c.logger.Info("User registered", zap.String("user_id", user.ID))
		return RegisterResult{Session: &Session{
			AccessToken:          access,
			AccessTokenExpiresIn: expiresIn,
			RefreshToken:         refresh.Token,
			User:                 user,
		}}, nil
	}

	user, err := c.store.InsertUser(ctx, params)
	if err != nil {
		c.logger.Error("Failed to insert user", zap.Error(err))
		return RegisterResult{}, internalError("inserting user", err)
	}
	data := EmailData{
		Ticket:      ticket,
		RedirectTo:  req.Options.RedirectTo,
		DisplayName: displayNameOrEmail(user),
	}
	if err := c.mailer.SendEmailVerify(ctx, user.Email, user.Locale, data); err != nil {
		c.logger.Error("Failed to send verification email", zap.Error(err))
		return RegisterResult{}, internalError("sending verification email", err)
	}
	c.logger.Info("User registered", zap.String("user_id", user.ID))
	return RegisterResult{User: &user}, nil
}

func (c *Controller) registerMagicLink(ctx context.Context, req RegisterRequest) (RegisterResult, error) {
	if !c.cfg.MagicLinkEnabled {
		return RegisterResult{}, ErrMagicLinkDisabled
	}
	if err := c.ensureEmailAllowed(ctx, req.Email); err != nil {
		return RegisterResult{}, err
	}

	ticket, ticketExpires := c.newTicket()
	params := InsertUserParams{
		ID:              uuid.NewString(),
		Email:           req.Email,
		Locale:          req.Options.Locale,
		DefaultRole:     req.Options.DefaultRole,
		AllowedRoles:    req.Options.AllowedRoles,
		DisplayName:     req.Options.DisplayName,
		AvatarURL:       c.gravatarURL(req.Email),
		Ticket:          ticket,
		TicketExpiresAt: ticketExpires,
		Metadata:        req.Options.CustomData,
	}
	user, err := c.store.InsertUser(ctx, params)
	if err != nil {
		c.logger.Error("Failed to insert user", zap.Error(err))
		return RegisterResult{}, internalError("inserting user", err)
	}
	data := EmailData{
		Ticket:      ticket,
		RedirectTo:  req.Options.RedirectTo,
		DisplayName: displayNameOrEmail(user),
	}
	if err := c.mailer.SendMagicLink(ctx, user.Email, user.Locale, data); err != nil {
		c.logger.Error("Failed to send magic link email", zap.Error(err))
		return RegisterResult{}, internalError("sending magic link email", err)
	}
	c.logger.Info("User registered via magic link", zap.String("user_id", user.ID))
	return RegisterResult{User: &user}, nil
}

func displayNameOrEmail(u User) string {
	if u.DisplayName != "" {
		return u.DisplayName
	}
	return u.Email
}
