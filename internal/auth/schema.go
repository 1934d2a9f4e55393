package auth

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"sort"
	"strings"
)

// Schemas validates raw payloads against the per-endpoint request schemas
// and returns normalized request values. A Schemas is built once from the
// tenant Config and is never mutated by request handling; a Config that
// constructs successfully cannot fail at evaluation time.
type Schemas struct {
	cfg   Config
	rules *Rules
}

// NewSchemas compiles the tenant policy into a schema set. Any
// misconfiguration is reported here, not on the request path.
func NewSchemas(cfg Config) (*Schemas, error) {
	norm, err := cfg.normalized()
	if err != nil {
		return nil, err
	}
	rules, err := newRules(norm)
	if err != nil {
		return nil, err
	}
	return &Schemas{cfg: norm, rules: rules}, nil
}

// Config returns the normalized configuration the schemas were built from.
func (s *Schemas) Config() Config {
	return s.cfg
}

// ========== Body schemas ==========

// ParseRegister validates a register body and classifies it as the regular
// or magic-link variant. Every failing field is reported together; nothing
// stops at the first violation.
func (s *Schemas) ParseRegister(body []byte) (RegisterRequest, error) {
	var p registerPayload
	if vs := decodeStrict(body, &p); vs != nil {
		return RegisterRequest{}, &ValidationError{Violations: vs}
	}
	flow, ok := classifyRegister(p)
	if !ok {
		return RegisterRequest{}, &ValidationError{Violations: []FieldViolation{noVariantViolation("register")}}
	}

	var vs []FieldViolation
	add := func(v *FieldViolation) {
		if v != nil {
			vs = append(vs, *v)
		}
	}

	add(s.rules.check("email", deref(p.Email), emailTag))
	if flow == FlowRegular {
		add(s.rules.checkPassword("password", deref(p.Password)))
	}
	opts, optVs := s.userOptions(p)
	vs = append(vs, optVs...)

	if len(vs) > 0 {
		return RegisterRequest{}, &ValidationError{Violations: vs}
	}
	return RegisterRequest{
		Flow:     flow,
		Email:    normalizeEmail(deref(p.Email)),
		Password: deref(p.Password),
		Options:  opts,
	}, nil
}

// ParseLogin validates a login body and classifies it as the regular,
// magic-link or anonymous variant.
func (s *Schemas) ParseLogin(body []byte) (LoginRequest, error) {
	var p loginPayload
	if vs := decodeStrict(body, &p); vs != nil {
		return LoginRequest{}, &ValidationError{Violations: vs}
	}
	flow, ok := classifyLogin(p)
	if !ok {
		return LoginRequest{}, &ValidationError{Violations: []FieldViolation{noVariantViolation("login")}}
	}

	vs := loginFieldConflicts(flow, p)
	add := func(v *FieldViolation) {
		if v != nil {
			vs = append(vs, *v)
		}
	}

	opts := UserOptions{
		Locale:       s.cfg.DefaultLocale,
		DefaultRole:  s.cfg.DefaultRole,
		AllowedRoles: append([]string(nil), s.cfg.AllowedRoles...),
		RedirectTo:   s.cfg.RedirectURLSuccess,
	}

	switch flow {
	case FlowRegular:
		add(s.rules.check("email", deref(p.Email), emailTag))
		add(s.rules.checkPassword("password", deref(p.Password)))
	case FlowMagicLink:
		add(s.rules.check("email", deref(p.Email), emailTag))
		if p.RedirectTo != nil {
			if v := s.rules.check("redirectTo", *p.RedirectTo, "required,allowedRedirectUrl"); v != nil {
				add(v)
			} else {
				opts.RedirectTo = *p.RedirectTo
			}
		}
	case FlowAnonymous:
		// The anonymous marker must be the literal true; false never
		// falls through to another variant.
		add(s.rules.check("anonymous", *p.Anonymous, "eq=true"))
		if p.Locale != nil {
			if v := s.rules.check("locale", *p.Locale, localeTag); v != nil {
				add(v)
			} else {
				opts.Locale = *p.Locale
			}
		}
		if p.DisplayName != nil {
			if v := s.rules.check("displayName", *p.DisplayName, "omitempty,max=128"); v != nil {
				add(v)
			} else {
				opts.DisplayName = *p.DisplayName
			}
		}
	}

	if len(vs) > 0 {
		return LoginRequest{}, &ValidationError{Violations: vs}
	}
	return LoginRequest{
		Flow:     flow,
		Email:    normalizeEmail(deref(p.Email)),
		Password: deref(p.Password),
		Options:  opts,
	}, nil
}

// ParsePasswordReset validates a reset-request body.
func (s *Schemas) ParsePasswordReset(body []byte) (PasswordResetRequest, error) {
	var p passwordResetPayload
	if vs := decodeStrict(body, &p); vs != nil {
		return PasswordResetRequest{}, &ValidationError{Violations: vs}
	}
	var vs []FieldViolation
	if v := s.rules.check("email", p.Email, emailTag); v != nil {
		vs = append(vs, *v)
	}
	redirectTo := s.cfg.RedirectURLSuccess
	if p.RedirectTo != "" {
		if v := s.rules.check("redirectTo", p.RedirectTo, "required,allowedRedirectUrl"); v != nil {
			vs = append(vs, *v)
		} else {
			redirectTo = p.RedirectTo
		}
	}
	if len(vs) > 0 {
		return PasswordResetRequest{}, &ValidationError{Violations: vs}
	}
	return PasswordResetRequest{Email: normalizeEmail(p.Email), RedirectTo: redirectTo}, nil
}

// ParsePasswordUpdate validates a reset-with-ticket body. The new password
// goes through the full tenant password policy.
func (s *Schemas) ParsePasswordUpdate(body []byte) (PasswordUpdateRequest, error) {
	var p passwordUpdatePayload
	if vs := decodeStrict(body, &p); vs != nil {
		return PasswordUpdateRequest{}, &ValidationError{Violations: vs}
	}
	var vs []FieldViolation
	if v := s.rules.check("ticket", p.Ticket, ticketTag); v != nil {
		vs = append(vs, *v)
	}
	if v := s.rules.checkPassword("newPassword", p.NewPassword); v != nil {
		vs = append(vs, *v)
	}
	if len(vs) > 0 {
		return PasswordUpdateRequest{}, &ValidationError{Violations: vs}
	}
	return PasswordUpdateRequest{Ticket: p.Ticket, NewPassword: p.NewPassword}, nil
}

// ParseEmailChange validates an email-change request body. The new address
// is held to the same domain policy as registration.
func (s *Schemas) ParseEmailChange(body []byte) (EmailChangeRequest, error) {
	var p emailChangePayload
	if vs := decodeStrict(body, &p); vs != nil {
		return EmailChangeRequest{}, &ValidationError{Violations: vs}
	}
	var vs []FieldViolation
	if v := s.rules.check("newEmail", p.NewEmail, emailTag); v != nil {
		vs = append(vs, *v)
	}
	redirectTo := s.cfg.RedirectURLSuccess
	if p.RedirectTo != "" {
		if v := s.rules.check("redirectTo", p.RedirectTo, "required,allowedRedirectUrl"); v != nil {
			vs = append(vs, *v)
		} else {
			redirectTo = p.RedirectTo
		}
	}
	if len(vs) > 0 {
		return EmailChangeRequest{}, &ValidationError{Violations: vs}
	}
	return EmailChangeRequest{NewEmail: normalizeEmail(p.NewEmail), RedirectTo: redirectTo}, nil
}

// ParseEmailChangeConfirm validates an email-change confirmation body.
func (s *Schemas) ParseEmailChangeConfirm(body []byte) (EmailChangeConfirmRequest, error) {
	var p emailChangeConfirmPayload
	if vs := decodeStrict(body, &p); vs != nil {
		return EmailChangeConfirmRequest{}, &ValidationError{Violations: vs}
	}
	if v := s.rules.check("ticket", p.Ticket, ticketTag); v != nil {
		return EmailChangeConfirmRequest{}, &ValidationError{Violations: []FieldViolation{*v}}
	}
	return EmailChangeConfirmRequest{Ticket: p.Ticket}, nil
}

// ParseTOTP validates an MFA completion body.
func (s *Schemas) ParseTOTP(body []byte) (TOTPRequest, error) {
	var p totpPayload
	if vs := decodeStrict(body, &p); vs != nil {
		return TOTPRequest{}, &ValidationError{Violations: vs}
	}
	var vs []FieldViolation
	if v := s.rules.check("ticket", p.Ticket, ticketTag); v != nil {
		vs = append(vs, *v)
	}
	if v := s.rules.check("code", p.Code, otpCodeTag); v != nil {
		vs = append(vs, *v)
	}
	if len(vs) > 0 {
		return TOTPRequest{}, &ValidationError{Violations: vs}
	}
	return TOTPRequest{Ticket: p.Ticket, Code: p.Code}, nil
}

// ParseLogout validates a logout body. The refresh token is required unless
// the request revokes every session of the authenticated user.
func (s *Schemas) ParseLogout(body []byte) (LogoutRequest, error) {
	var p logoutPayload
	if vs := decodeStrict(body, &p); vs != nil {
		return LogoutRequest{}, &ValidationError{Violations: vs}
	}
	tag := "required,uuid4"
	if p.All {
		tag = "omitempty,uuid4"
	}
	if v := s.rules.check("refreshToken", p.RefreshToken, tag); v != nil {
		return LogoutRequest{}, &ValidationError{Violations: []FieldViolation{*v}}
	}
	return LogoutRequest{RefreshToken: p.RefreshToken, All: p.All}, nil
}

// ParseResendConfirmation validates a resend-confirmation body.
func (s *Schemas) ParseResendConfirmation(body []byte) (ResendConfirmationRequest, error) {
	var p resendConfirmationPayload
	if vs := decodeStrict(body, &p); vs != nil {
		return ResendConfirmationRequest{}, &ValidationError{Violations: vs}
	}
	if v := s.rules.check("email", p.Email, emailTag); v != nil {
		return ResendConfirmationRequest{}, &ValidationError{Violations: []FieldViolation{*v}}
	}
	return ResendConfirmationRequest{Email: normalizeEmail(p.Email)}, nil
}

// ParseWhitelist validates a whitelist mutation body.
func (s *Schemas) ParseWhitelist(body []byte) (WhitelistRequest, error) {
	var p whitelistPayload
	if vs := decodeStrict(body, &p); vs != nil {
		return WhitelistRequest{}, &ValidationError{Violations: vs}
	}
	if v := s.rules.check("email", p.Email, emailTag); v != nil {
		return WhitelistRequest{}, &ValidationError{Violations: []FieldViolation{*v}}
	}
	return WhitelistRequest{Email: normalizeEmail(p.Email), Invite: p.Invite}, nil
}

// ========== Query schemas ==========

// ParseWhitelistQuery validates a whitelist membership query.
func (s *Schemas) ParseWhitelistQuery(q url.Values) (WhitelistRequest, error) {
	vs := queryUnknowns(q, "email")
	if v := s.rules.check("email", q.Get("email"), emailTag); v != nil {
		vs = append(vs, *v)
	}
	if len(vs) > 0 {
		return WhitelistRequest{}, &ValidationError{Violations: vs}
	}
	return WhitelistRequest{Email: normalizeEmail(q.Get("email"))}, nil
}

// ParseVerifyEmailQuery validates an email verification query.
func (s *Schemas) ParseVerifyEmailQuery(q url.Values) (VerifyEmailRequest, error) {
	vs := queryUnknowns(q, "ticket", "redirectTo")
	if v := s.rules.check("ticket", q.Get("ticket"), ticketTag); v != nil {
		vs = append(vs, *v)
	}
	redirectTo := s.cfg.RedirectURLSuccess
	if raw := q.Get("redirectTo"); raw != "" {
		if v := s.rules.check("redirectTo", raw, "required,allowedRedirectUrl"); v != nil {
			vs = append(vs, *v)
		} else {
			redirectTo = raw
		}
	}
	if len(vs) > 0 {
		return VerifyEmailRequest{}, &ValidationError{Violations: vs}
	}
	return VerifyEmailRequest{Ticket: q.Get("ticket"), RedirectTo: redirectTo}, nil
}

// ParseProviderQuery validates a provider sign-in query. Absent redirect
// targets fall back to the configured defaults.
func (s *Schemas) ParseProviderQuery(q url.Values) (ProviderRequest, error) {
	vs := queryUnknowns(q, "redirectUrlSuccess", "redirectUrlFailure", "jwtToken")
	add := func(v *FieldViolation) {
		if v != nil {
			vs = append(vs, *v)
		}
	}

	req := ProviderRequest{
		RedirectURLSuccess: s.cfg.RedirectURLSuccess,
		RedirectURLFailure: s.cfg.RedirectURLError,
	}
	if raw := q.Get("redirectUrlSuccess"); raw != "" {
		if v := s.rules.check("redirectUrlSuccess", raw, "required,allowedRedirectUrl"); v != nil {
			add(v)
		} else {
			req.RedirectURLSuccess = raw
		}
	}
	if raw := q.Get("redirectUrlFailure"); raw != "" {
		if v := s.rules.check("redirectUrlFailure", raw, "required,allowedRedirectUrl"); v != nil {
			add(v)
		} else {
			req.RedirectURLFailure = raw
		}
	}
	if raw := q.Get("jwtToken"); raw != "" {
		if v := s.rules.check("jwtToken", raw, "omitempty,jwt"); v != nil {
			add(v)
		} else {
			req.JWTToken = raw
		}
	}
	if len(vs) > 0 {
		return ProviderRequest{}, &ValidationError{Violations: vs}
	}
	return req, nil
}

// ParseProviderCallback validates a provider callback query. Only the state
// token has a shape requirement; every other parameter passes through
// untouched. This is the one schema that accepts unknown fields.
func (s *Schemas) ParseProviderCallback(q url.Values) (ProviderCallback, error) {
	if v := s.rules.check("state", q.Get("state"), ticketTag); v != nil {
		return ProviderCallback{}, &ValidationError{Violations: []FieldViolation{*v}}
	}
	params := make(map[string][]string, len(q))
	for k, vals := range q {
		if k == "state" {
			continue
		}
		params[k] = vals
	}
	return ProviderCallback{State: q.Get("state"), Params: params}, nil
}

// ========== Shared pieces ==========

// userOptions validates the optional register field cluster and fills in
// configured defaults for everything absent.
func (s *Schemas) userOptions(p registerPayload) (UserOptions, []FieldViolation) {
	var vs []FieldViolation
	add := func(v *FieldViolation) {
		if v != nil {
			vs = append(vs, *v)
		}
	}

	opts := UserOptions{
		Locale:       s.cfg.DefaultLocale,
		DefaultRole:  s.cfg.DefaultRole,
		AllowedRoles: append([]string(nil), s.cfg.AllowedRoles...),
		RedirectTo:   s.cfg.RedirectURLSuccess,
	}
	if p.Locale != nil {
		if v := s.rules.check("locale", *p.Locale, localeTag); v != nil {
			add(v)
		} else {
			opts.Locale = *p.Locale
		}
	}
	if p.DefaultRole != nil {
		if v := s.rules.check("defaultRole", *p.DefaultRole, "required,allowedRole"); v != nil {
			add(v)
		} else {
			opts.DefaultRole = *p.DefaultRole
		}
	}
	if p.AllowedRoles != nil {
		if v := s.rules.check("allowedRoles", p.AllowedRoles, rolesTag); v != nil {
			add(v)
		} else {
			opts.AllowedRoles = p.AllowedRoles
		}
	}
	if !containsString(opts.AllowedRoles, opts.DefaultRole) {
		vs = append(vs, violation("defaultRole", "allowedRole"))
	}
	if p.DisplayName != nil {
		if v := s.rules.check("displayName", *p.DisplayName, "omitempty,max=128"); v != nil {
			add(v)
		} else {
			opts.DisplayName = *p.DisplayName
		}
	}
	if p.RedirectTo != nil {
		if v := s.rules.check("redirectTo", *p.RedirectTo, "required,allowedRedirectUrl"); v != nil {
			add(v)
		} else {
			opts.RedirectTo = *p.RedirectTo
		}
	}
	if p.CustomRegisterData != nil {
		cvs := s.rules.checkCustomData(p.CustomRegisterData)
		vs = append(vs, cvs...)
		if len(cvs) == 0 {
			opts.CustomData = p.CustomRegisterData
		}
	}
	return opts, vs
}

// decodeStrict unmarshals a JSON body into dst, rejecting unknown fields,
// malformed JSON and trailing content.
func decodeStrict(body []byte, dst interface{}) []FieldViolation {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		v := decodeViolation(err)
		return []FieldViolation{v}
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return []FieldViolation{{
			Field:   "request",
			Code:    "request.malformed",
			Message: "body must contain a single JSON object",
		}}
	}
	return nil
}

func decodeViolation(err error) FieldViolation {
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) && typeErr.Field != "" {
		return FieldViolation{
			Field:   typeErr.Field,
			Code:    typeErr.Field + ".type",
			Message: fmt.Sprintf("field %q must be of type %s", typeErr.Field, typeErr.Type),
		}
	}
	if name, ok := unknownFieldName(err.Error()); ok {
		return FieldViolation{
			Field:   name,
			Code:    name + ".unknown",
			Message: fmt.Sprintf("unknown field %q", name),
		}
	}
	return FieldViolation{
		Field:   "request",
		Code:    "request.malformed",
		Message: "body is not valid JSON",
	}
}

// unknownFieldName extracts the offending name from the decoder's
// `json: unknown field "x"` error, which carries no structured field.
func unknownFieldName(msg string) (string, bool) {
	const prefix = `json: unknown field `
	if !strings.HasPrefix(msg, prefix) {
		return "", false
	}
	name := strings.Trim(strings.TrimPrefix(msg, prefix), `"`)
	return name, name != ""
}

func queryUnknowns(q url.Values, allowed ...string) []FieldViolation {
	set := make(map[string]bool, len(allowed))
	for _, a := range allowed {
		set[a] = true
	}
	keys := make([]string, 0, len(q))
	for k := range q {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var out []FieldViolation
	for _, k := range keys {
		if !set[k] {
			out = append(out, FieldViolation{
				Field:   k,
				Code:    k + ".unknown",
				Message: fmt.Sprintf("unknown parameter %q", k),
			})
		}
	}
	return out
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
