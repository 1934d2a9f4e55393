package auth

import (
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Rules is the field rule library shared by every request schema. The
// policy-dependent rules (domain allow-list, redirect allow-list, role set)
// are registered as custom validations closed over the parsed Config, so a
// constructed Rules value is immutable and safe for concurrent use.
type Rules struct {
	validate     *validator.Validate
	passwordTag  string
	domains      []string
	redirects    []normalURL
	allowedRoles map[string]struct{}
	customFields map[string]struct{}
}

// Static tag expressions. The password expression is built per tenant.
const (
	emailTag    = "required,email,allowedDomains"
	localeTag   = "len=2"
	ticketTag   = "required,uuid4"
	otpCodeTag  = "required,len=6"
	redirectTag = "omitempty,allowedRedirectUrl"
	roleTag     = "omitempty,allowedRole"
	rolesTag    = "omitempty,dive,allowedRole"
)

func newRules(cfg Config) (*Rules, error) {
	r := &Rules{
		validate:     validator.New(),
		passwordTag:  fmt.Sprintf("required,min=%d,max=%d", cfg.MinPasswordLength, MaxPasswordLength),
		domains:      cfg.emailDomains(),
		allowedRoles: make(map[string]struct{}, len(cfg.AllowedRoles)),
		customFields: make(map[string]struct{}, len(cfg.CustomRegisterFields)),
	}
	for _, role := range cfg.AllowedRoles {
		r.allowedRoles[role] = struct{}{}
	}
	for _, f := range cfg.CustomRegisterFields {
		r.customFields[f] = struct{}{}
	}
	for _, raw := range cfg.AllowedRedirectURLs {
		n, err := normalizeURL(raw)
		if err != nil {
			return nil, fmt.Errorf("auth: allowedRedirectUrls entry %q: %w", raw, err)
		}
		r.redirects = append(r.redirects, n)
	}

	custom := map[string]validator.Func{
		"allowedDomains":     r.emailDomainAllowed,
		"allowedRedirectUrl": r.redirectAllowed,
		"allowedRole":        r.roleAllowed,
	}
	for name, fn := range custom {
		if err := r.validate.RegisterValidation(name, fn); err != nil {
			return nil, fmt.Errorf("auth: register validation %q: %w", name, err)
		}
	}
	return r, nil
}

// check runs a single field value through a tag expression and converts the
// first failing rule into a FieldViolation. The violation code is the JSON
// field name joined with the validator tag, e.g. "password.min".
func (r *Rules) check(field string, value any, tag string) *FieldViolation {
	err := r.validate.Var(value, tag)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		v := violation(field, verrs[0].Tag())
		return &v
	}
	v := violation(field, "invalid")
	return &v
}

// checkPassword applies the tenant password policy.
func (r *Rules) checkPassword(field, password string) *FieldViolation {
	return r.check(field, password, r.passwordTag)
}

// checkCustomData enforces that every present key belongs to the configured
// custom field set and that values are strings, numbers, booleans, objects
// or arrays of those. Keys are optional; only unknown ones are rejected.
func (r *Rules) checkCustomData(data map[string]any) []FieldViolation {
	if len(data) == 0 {
		return nil
	}
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var out []FieldViolation
	for _, k := range keys {
		if _, ok := r.customFields[k]; !ok {
			out = append(out, FieldViolation{
				Field:   "customRegisterData." + k,
				Code:    "customRegisterData.unknown",
				Message: fmt.Sprintf("customRegisterData key %q is not accepted", k),
			})
			continue
		}
		if !allowedCustomValue(data[k], true) {
			out = append(out, FieldViolation{
				Field:   "customRegisterData." + k,
				Code:    "customRegisterData.type",
				Message: fmt.Sprintf("customRegisterData key %q has an unsupported value type", k),
			})
		}
	}
	return out
}

func allowedCustomValue(v any, allowArray bool) bool {
	switch vv := v.(type) {
	case nil, string, bool, float64:
		return true
	case map[string]any:
		return true
	case []any:
		if !allowArray {
			return false
		}
		for _, el := range vv {
			if !allowedCustomValue(el, false) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// ========== Policy validations ==========

// emailDomainAllowed matches the address domain against the configured
// suffixes. This is a plain suffix match, not a label-boundary match:
// "corp.example.com" and "evilexample.com" both pass for "example.com".
// An empty suffix list accepts every address.
func (r *Rules) emailDomainAllowed(fl validator.FieldLevel) bool {
	if len(r.domains) == 0 {
		return true
	}
	email := strings.ToLower(fl.Field().String())
	at := strings.LastIndex(email, "@")
	if at < 0 || at == len(email)-1 {
		return false
	}
	domain := email[at+1:]
	for _, d := range r.domains {
		if strings.HasSuffix(domain, d) {
			return true
		}
	}
	return false
}

// redirectAllowed compares the candidate against the allow-list under URL
// equivalence: default ports and trailing slashes are ignored, everything
// else must match exactly. An empty allow-list accepts every target.
func (r *Rules) redirectAllowed(fl validator.FieldLevel) bool {
	if len(r.redirects) == 0 {
		return true
	}
	cand, err := normalizeURL(fl.Field().String())
	if err != nil {
		return false
	}
	for _, a := range r.redirects {
		if a == cand {
			return true
		}
	}
	return false
}

func (r *Rules) roleAllowed(fl validator.FieldLevel) bool {
	_, ok := r.allowedRoles[fl.Field().String()]
	return ok
}

// ========== URL equivalence ==========

type normalURL struct {
	scheme string
	host   string
	path   string
	query  string
}

func normalizeURL(raw string) (normalURL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return normalURL{}, err
	}
	if u.Scheme == "" || u.Host == "" {
		return normalURL{}, fmt.Errorf("not an absolute URL")
	}
	scheme := strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Hostname())
	if port := u.Port(); port != "" && !defaultPort(scheme, port) {
		host += ":" + port
	}
	return normalURL{
		scheme: scheme,
		host:   host,
		path:   strings.TrimSuffix(u.Path, "/"),
		query:  u.RawQuery,
	}, nil
}

func defaultPort(scheme, port string) bool {
	return (scheme == "http" && port == "80") || (scheme == "https" && port == "443")
}
