package auth

import (
	"context"

	"go.uber.org/zap"
)

// VerifyTOTP completes a sign in that was answered with an MFA
// challenge. The ticket from the challenge and a current TOTP code
// together yield the session the password alone did not.
func (c *Controller) VerifyTOTP(ctx context.Context, body []byte) (*SignInResponse, error) {
	req, err := c.schemas.ParseTOTP(body)
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
	if user.ActiveMFAType != MFATypeTOTP || user.TOTPSecret == "" {
		return nil, ErrInvalidTicket
	}
	if !c.otp.Verify(req.Code, user.TOTPSecret) {
		return nil, ErrInvalidOTP
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
	c.logger.Info("MFA sign in completed", zap.String("user_id", user.ID))
	return &SignInResponse{Session: session}, nil
}
