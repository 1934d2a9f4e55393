package auth

import (
	"context"
	"net/url"

	"go.uber.org/zap"
)

// VerifyEmailResult carries the browser redirect target and, when the
// ticket proved mailbox control, a fresh session for the user.
type VerifyEmailResult struct {
	RedirectTo string
	Session    *Session
}

// VerifyEmail consumes an emailed ticket. It backs both sign up
// confirmation and magic link sign in: either way the caller proved
// control of the mailbox, so the email is marked verified and a
// session is minted.
func (c *Controller) VerifyEmail(ctx context.Context, query url.Values) (*VerifyEmailResult, error) {
	req, err := c.schemas.ParseVerifyEmailQuery(query)
	if err != nil {
		return nil, err
	}
	user, err := c.userByValidTicket(ctx, req.Ticket)
	if err != nil {
		return nil, err
	}
	if user.Disabled {
		return nil, ErrUserDisabled
	}
	if !user.EmailVerified {
		if err := c.store.SetUserEmailVerified(ctx, user.ID); err != nil {
			return nil, internalError("marking email verified", err)
		}
		user.EmailVerified = true
	}
	if err := c.rotateTicket(ctx, user.ID); err != nil {
		return nil, err
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
	c.logger.Info("Email verified", zap.String("user_id", user.ID))
	return &VerifyEmailResult{RedirectTo: req.RedirectTo, Session: session}, nil
}

// RequestEmailChange stores a pending address for the authenticated user
// and mails a confirmation ticket to it. The account keeps its current
// email until the ticket is redeemed.
func (c *Controller) RequestEmailChange(ctx context.Context, userID string, body []byte) error {
	if userID == "" {
		return ErrUnauthenticated
	}
	req, err := c.schemas.ParseEmailChange(body)
	if err != nil {
		return err
	}
	user, found, err := c.store.GetUserByID(ctx, userID)
	if err != nil {
		return internalError("looking up user", err)
	}
	if !found {
		return ErrUnauthenticated
	}
	if user.Disabled {
		return ErrUserDisabled
	}
	if _, taken, err := c.store.GetUserByEmail(ctx, req.NewEmail); err != nil {
		return internalError("looking up new email", err)
	} else if taken {
		return ErrEmailInUse
	}

	ticket, expires := c.newTicket()
	if err := c.store.UpdateUserEmailChange(ctx, user.ID, req.NewEmail, ticket, expires); err != nil {
		return internalError("storing email change", err)
	}
	data := EmailData{
		Ticket:      ticket,
		RedirectTo:  req.RedirectTo,
		DisplayName: displayNameOrEmail(user),
		NewEmail:    req.NewEmail,
	}
	if err := c.mailer.SendEmailVerify(ctx, req.NewEmail, user.Locale, data); err != nil {
		return internalError("sending email change confirmation", err)
	}
	c.logger.Info("Email change requested", zap.String("user_id", user.ID))
	return nil
}

// ConfirmEmailChange applies a pending email change once its ticket is
// presented.
func (c *Controller) ConfirmEmailChange(ctx context.Context, body []byte) error {
	req, err := c.schemas.ParseEmailChangeConfirm(body)
	if err != nil {
		return err
	}
	user, err := c.userByValidTicket(ctx, req.Ticket)
	if err != nil {
		return err
	}
	if user.NewEmail == "" {
		return ErrInvalidTicket
	}
	if err := c.store.ConfirmUserEmailChange(ctx, user.ID); err != nil {
		return internalError("applying email change", err)
	}
	if err := c.rotateTicket(ctx, user.ID); err != nil {
		return err
	}
	c.logger.Info("Email change confirmed", zap.String("user_id", user.ID))
	return nil
}

// ResendConfirmation mails a fresh verification ticket to an address
// that signed up but never confirmed. Unknown addresses are answered as
// if the mail was sent.
func (c *Controller) ResendConfirmation(ctx context.Context, body []byte) error {
	req, err := c.schemas.ParseResendConfirmation(body)
	if err != nil {
		return err
	}
	user, found, err := c.store.GetUserByEmail(ctx, req.Email)
	if err != nil {
		return internalError("looking up user", err)
	}
	if !found {
		c.logger.Debug("Confirmation resend requested for unknown email")
		return nil
	}
	if user.Disabled {
		return ErrUserDisabled
	}
	if user.EmailVerified {
		return ErrEmailAlreadyVerified
	}

	ticket, expires := c.newTicket()
	if err := c.store.UpdateUserTicket(ctx, user.ID, ticket, expires); err != nil {
		return internalError("storing verification ticket", err)
	}
	data := EmailData{
		Ticket:      ticket,
		RedirectTo:  c.cfg.RedirectURLSuccess,
		DisplayName: displayNameOrEmail(user),
	}
	if err := c.mailer.SendEmailVerify(ctx, user.Email, user.Locale, data); err != nil {
		return internalError("sending verification email", err)
	}
	return nil
}
