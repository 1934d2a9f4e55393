package auth

import (
	"fmt"
	"strings"
)

// Error represents a service-specific error with a stable machine code.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return e.Message
}

// Request-level failures surfaced to callers. Anything not covered here is
// treated as an internal failure and kept opaque.
var (
	ErrInvalidCredentials   = &Error{"invalid_credentials", "invalid email or password"}
	ErrEmailInUse           = &Error{"email_in_use", "email is already in use"}
	ErrInvalidTicket        = &Error{"invalid_ticket", "ticket is invalid or has expired"}
	ErrUserDisabled         = &Error{"disabled_user", "user account is disabled"}
	ErrUnverifiedUser       = &Error{"unverified_user", "email is not verified"}
	ErrEmailAlreadyVerified = &Error{"email_already_verified", "email is already verified"}
	ErrAnonymousDisabled    = &Error{"anonymous_users_disabled", "anonymous users are disabled"}
	ErrMagicLinkDisabled    = &Error{"magic_link_disabled", "magic link sign in is disabled"}
	ErrEmailNotWhitelisted  = &Error{"email_not_whitelisted", "email is not whitelisted"}
	ErrWhitelistDisabled    = &Error{"whitelist_disabled", "the sign-up whitelist is disabled"}
	ErrPasswordBreached     = &Error{"password_breached", "password appeared in a known data breach"}
	ErrInvalidOTP           = &Error{"invalid_otp", "one-time password is invalid"}
	ErrUnknownProvider      = &Error{"unknown_provider", "provider is not configured"}
	ErrUnauthenticated      = &Error{"unauthenticated", "authentication required"}
)

// FieldViolation describes a single failed field rule. Code is the JSON
// field name joined with the rule that rejected it, e.g. "password.min".
type FieldViolation struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ValidationError carries every field violation found in a request. Schema
// evaluation never stops at the first failing field, so callers see the
// full picture in one round trip.
type ValidationError struct {
	Violations []FieldViolation `json:"errors"`
}

func (e *ValidationError) Error() string {
	codes := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		codes[i] = v.Code
	}
	return "validation failed: " + strings.Join(codes, ", ")
}

// HasCode reports whether any violation carries the given code.
func (e *ValidationError) HasCode(code string) bool {
	for _, v := range e.Violations {
		if v.Code == code {
			return true
		}
	}
	return false
}

func violation(field, rule string) FieldViolation {
	return FieldViolation{
		Field:   field,
		Code:    field + "." + rule,
		Message: fmt.Sprintf("field %q failed rule %q", field, rule),
	}
}
