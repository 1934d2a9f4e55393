package auth

// Raw request bodies as decoded from JSON. Pointer fields keep field
// presence observable so ambiguous bodies can be classified before any
// rule runs.

type registerPayload struct {
	Email              *string                `json:"email"`
	Password           *string                `json:"password"`
	Locale             *string                `json:"locale"`
	DefaultRole        *string                `json:"defaultRole"`
	AllowedRoles       []string               `json:"allowedRoles"`
	DisplayName        *string                `json:"displayName"`
	RedirectTo         *string                `json:"redirectTo"`
	CustomRegisterData map[string]interface{} `json:"customRegisterData"`
}

type loginPayload struct {
	Email       *string `json:"email"`
	Password    *string `json:"password"`
	Anonymous   *bool   `json:"anonymous"`
	Locale      *string `json:"locale"`
	DisplayName *string `json:"displayName"`
	RedirectTo  *string `json:"redirectTo"`
}

type passwordResetPayload struct {
	Email      string `json:"email"`
	RedirectTo string `json:"redirectTo"`
}

type passwordUpdatePayload struct {
	Ticket      string `json:"ticket"`
	NewPassword string `json:"newPassword"`
}

type emailChangePayload struct {
	NewEmail   string `json:"newEmail"`
	RedirectTo string `json:"redirectTo"`
}

type emailChangeConfirmPayload struct {
	Ticket string `json:"ticket"`
}

type totpPayload struct {
	Ticket string `json:"ticket"`
	Code   string `json:"code"`
}

type logoutPayload struct {
	RefreshToken string `json:"refreshToken"`
	All          bool   `json:"all"`
}

type resendConfirmationPayload struct {
	Email string `json:"email"`
}

type whitelistPayload struct {
	Email  string `json:"email"`
	Invite bool   `json:"invite"`
}

// UserOptions is the normalized optional field cluster shared by the
// register and login variants. Locale and DefaultRole are always populated
// after validation, from the request or from configuration.
type UserOptions struct {
	Locale       string
	DefaultRole  string
	AllowedRoles []string
	DisplayName  string
	RedirectTo   string
	CustomData   map[string]interface{}
}

// RegisterRequest is a validated register body, classified as either the
// regular or the magic-link variant. Password is empty for magic link.
type RegisterRequest struct {
	Flow     FlowKind
	Email    string
	Password string
	Options  UserOptions
}

// LoginRequest is a validated login body, classified as the regular,
// magic-link or anonymous variant. Email and Password are empty for
// anonymous.
type LoginRequest struct {
	Flow     FlowKind
	Email    string
	Password string
	Options  UserOptions
}

// VerifyEmailRequest confirms ownership of an address via an emailed ticket.
type VerifyEmailRequest struct {
	Ticket     string
	RedirectTo string
}

// PasswordResetRequest asks for a reset ticket to be emailed.
type PasswordResetRequest struct {
	Email      string
	RedirectTo string
}

// PasswordUpdateRequest sets a new password using a reset ticket.
type PasswordUpdateRequest struct {
	Ticket      string
	NewPassword string
}

// EmailChangeRequest starts an email change for the authenticated user.
type EmailChangeRequest struct {
	NewEmail   string
	RedirectTo string
}

// EmailChangeConfirmRequest completes an email change via the ticket sent
// to the new address.
type EmailChangeConfirmRequest struct {
	Ticket string
}

// TOTPRequest completes a multi-factor sign in.
type TOTPRequest struct {
	Ticket string
	Code   string
}

// LogoutRequest revokes one refresh token, or all of them for the
// authenticated user when All is set.
type LogoutRequest struct {
	RefreshToken string
	All          bool
}

// ResendConfirmationRequest asks for the verification email to be sent
// again.
type ResendConfirmationRequest struct {
	Email string
}

// WhitelistRequest adds or checks one address on the sign-up whitelist.
type WhitelistRequest struct {
	Email  string
	Invite bool
}

// ProviderRequest is a validated provider sign-in query.
type ProviderRequest struct {
	RedirectURLSuccess string
	RedirectURLFailure string
	JWTToken           string
}

// ProviderCallback is a validated provider callback query. Params carries
// every parameter other than state untouched; downstream handling owns
// their meaning.
type ProviderCallback struct {
	State  string
	Params map[string][]string
}
