package auth

import "github.com/pquerna/otp/totp"

// TOTPVerifier validates time-based one-time codes against a stored
// secret. Codes are checked against the current 30 second window.
type TOTPVerifier struct{}

// NewTOTPVerifier creates the standard TOTP verifier.
func NewTOTPVerifier() TOTPVerifier {
	return TOTPVerifier{}
}

func (TOTPVerifier) Verify(code, secret string) bool {
	return totp.Validate(code, secret)
}
