package auth

import "fmt"

// Flow discrimination runs before any field rule: an ambiguous body is
// classified purely by which fields are present, then validated against the
// schema of the chosen variant. Variants are tried in a fixed priority
// order, so a body carrying the markers of several variants always lands
// in the highest-priority one and the leftovers are reported as unknown.

// classifyRegister picks the register variant. A present password selects
// the regular flow; otherwise a present email selects magic link.
func classifyRegister(p registerPayload) (FlowKind, bool) {
	switch {
	case p.Password != nil:
		return FlowRegular, true
	case p.Email != nil:
		return FlowMagicLink, true
	}
	return "", false
}

// classifyLogin picks the login variant: regular, then magic link, then
// anonymous.
func classifyLogin(p loginPayload) (FlowKind, bool) {
	switch {
	case p.Password != nil:
		return FlowRegular, true
	case p.Email != nil:
		return FlowMagicLink, true
	case p.Anonymous != nil:
		return FlowAnonymous, true
	}
	return "", false
}

// Fields each login variant accepts. Anything else present on the body is
// rejected as unknown to the chosen variant.
var loginVariantFields = map[FlowKind]map[string]bool{
	FlowRegular:   {"email": true, "password": true},
	FlowMagicLink: {"email": true, "redirectTo": true},
	FlowAnonymous: {"anonymous": true, "locale": true, "displayName": true},
}

func loginFieldConflicts(flow FlowKind, p loginPayload) []FieldViolation {
	present := []struct {
		name string
		set  bool
	}{
		{"email", p.Email != nil},
		{"password", p.Password != nil},
		{"anonymous", p.Anonymous != nil},
		{"locale", p.Locale != nil},
		{"displayName", p.DisplayName != nil},
		{"redirectTo", p.RedirectTo != nil},
	}
	allowed := loginVariantFields[flow]
	var out []FieldViolation
	for _, f := range present {
		if f.set && !allowed[f.name] {
			out = append(out, FieldViolation{
				Field:   f.name,
				Code:    f.name + ".unknown",
				Message: fmt.Sprintf("field %q is not part of the %s login variant", f.name, flow),
			})
		}
	}
	return out
}

func noVariantViolation(schema string) FieldViolation {
	return FieldViolation{
		Field:   "request",
		Code:    "request.alternatives",
		Message: fmt.Sprintf("body matches no %s variant", schema),
	}
}
