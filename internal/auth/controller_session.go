package auth

import (
	"context"

	"go.uber.org/zap"
)

// Logout revokes the presented refresh token, or every token of the
// authenticated user when the body asks for all of them.
func (c *Controller) Logout(ctx context.Context, userID string, body []byte) error {
	req, err := c.schemas.ParseLogout(body)
	if err != nil {
		return err
	}
	if req.All {
		if userID == "" {
			return ErrUnauthenticated
		}
		if err := c.store.DeleteUserRefreshTokens(ctx, userID); err != nil {
			return internalError("revoking refresh tokens", err)
		}
		c.logger.Info("All sessions revoked", zap.String("user_id", userID))
		return nil
	}
	if err := c.store.DeleteRefreshToken(ctx, req.RefreshToken); err != nil {
		return internalError("revoking refresh token", err)
	}
	return nil
}
