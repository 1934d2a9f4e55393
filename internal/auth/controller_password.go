package auth

import (
	"context"

	"go.uber.org/zap"
)

// RequestPasswordReset mails a reset ticket to a registered address.
// Unknown addresses are answered as if the mail was sent.
func (c *Controller) RequestPasswordReset(ctx context.Context, body []byte) error {
	req, err := c.schemas.ParsePasswordReset(body)
	if err != nil {
		return err
	}
	user, found, err := c.store.GetUserByEmail(ctx, req.Email)
	if err != nil {
		return internalError("looking up user", err)
	}
	if !found {
		c.logger.Debug("Password reset requested for unknown email")
		return nil
	}
	if user.Disabled {
		return ErrUserDisabled
	}

	ticket, expires := c.newTicket()
	if err := c.store.UpdateUserTicket(ctx, user.ID, ticket, expires); err != nil {
		return internalError("storing reset ticket", err)
	}
	data := EmailData{
		Ticket:      ticket,
		RedirectTo:  req.RedirectTo,
		DisplayName: displayNameOrEmail(user),
	}
	if err := c.mailer.SendPasswordReset(ctx, user.Email, user.Locale, data); err != nil {
		return internalError("sending password reset email", err)
	}
	return nil
}

// ResetPassword exchanges a reset ticket for a new password.
func (c *Controller) ResetPassword(ctx context.Context, body []byte) error {
	req, err := c.schemas.ParsePasswordUpdate(body)
	if err != nil {
		return err
	}
	if err := c.ensurePasswordNotBreached(ctx, req.NewPassword); err != nil {
		return err
	}
	user, err := c.userByValidTicket(ctx, req.Ticket)
	if err != nil {
		return err
	}
	if user.Disabled {
		return ErrUserDisabled
	}
	if err := c.store.UpdateUserPassword(ctx, user.ID, req.NewPassword); err != nil {
		return internalError("updating password", err)
	}
	if err := c.rotateTicket(ctx, user.ID); err != nil {
		return err
	}
	c.logger.Info("Password reset", zap.String("user_id", user.ID))
	return nil
}
