package auth

import (
	"context"
	"net/url"

	"go.uber.org/zap"
)

// WhitelistEmail adds an address to the sign-up whitelist and optionally
// mails it an invitation.
func (c *Controller) WhitelistEmail(ctx context.Context, body []byte) error {
	if !c.cfg.WhitelistEnabled {
		return ErrWhitelistDisabled
	}
	req, err := c.schemas.ParseWhitelist(body)
	if err != nil {
		return err
	}
	if err := c.whitelist.InsertWhitelistedEmail(ctx, req.Email); err != nil {
		return internalError("inserting whitelist entry", err)
	}
	if req.Invite {
		data := EmailData{RedirectTo: c.cfg.RedirectURLSuccess}
		if err := c.mailer.SendInvite(ctx, req.Email, c.cfg.DefaultLocale, data); err != nil {
			return internalError("sending invite email", err)
		}
	}
	c.logger.Info("Email whitelisted", zap.Bool("invited", req.Invite))
	return nil
}

// IsWhitelisted reports whether an address may sign up.
func (c *Controller) IsWhitelisted(ctx context.Context, query url.Values) (bool, error) {
	if !c.cfg.WhitelistEnabled {
		return false, ErrWhitelistDisabled
	}
	req, err := c.schemas.ParseWhitelistQuery(query)
	if err != nil {
		return false, err
	}
	ok, err := c.whitelist.IsEmailWhitelisted(ctx, req.Email)
	if err != nil {
		return false, internalError("checking whitelist", err)
	}
	return ok, nil
}
