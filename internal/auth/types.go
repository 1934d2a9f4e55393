package auth

import "time"

// FlowKind names the variant a payload was classified into.
type FlowKind string

const (
	FlowRegular   FlowKind = "regular"
	FlowMagicLink FlowKind = "magicLink"
	FlowAnonymous FlowKind = "anonymous"
)

// User is an account as persisted. PasswordHash and the ticket fields never
// appear in responses.
type User struct {
	ID              string    `db:"id" json:"id"`
	Email           string    `db:"email" json:"email,omitempty"`
	NewEmail        string    `db:"new_email" json:"-"`
	PasswordHash    string    `db:"password_hash" json:"-"`
	Locale          string    `db:"locale" json:"locale"`
	DefaultRole     string    `db:"default_role" json:"defaultRole"`
	DisplayName     string    `db:"display_name" json:"displayName,omitempty"`
	AvatarURL       string    `db:"avatar_url" json:"avatarUrl,omitempty"`
	EmailVerified   bool      `db:"email_verified" json:"emailVerified"`
	Anonymous       bool      `db:"is_anonymous" json:"isAnonymous"`
	Disabled        bool      `db:"disabled" json:"-"`
	ActiveMFAType   string    `db:"active_mfa_type" json:"-"`
	TOTPSecret      string    `db:"totp_secret" json:"-"`
	Ticket          string    `db:"ticket" json:"-"`
	TicketExpiresAt time.Time `db:"ticket_expires_at" json:"-"`
	Metadata        JSONMap   `db:"metadata" json:"metadata,omitempty"`
	CreatedAt       time.Time `db:"created_at" json:"createdAt"`
	LastSeen        time.Time `db:"last_seen" json:"-"`
}

// InsertUserParams carries everything needed to create an account. Password
// arrives in clear text and is hashed by the storage adapter; an empty
// password marks a passwordless or anonymous account.
type InsertUserParams struct {
	ID              string
	Email           string
	Password        string
	Locale          string
	DefaultRole     string
	AllowedRoles    []string
	DisplayName     string
	AvatarURL       string
	EmailVerified   bool
	Anonymous       bool
	Ticket          string
	TicketExpiresAt time.Time
	Metadata        map[string]interface{}
}

// RefreshTokenParams describes one refresh token row.
type RefreshTokenParams struct {
	Token     string
	UserID    string
	ExpiresAt time.Time
}

// Session is the result of a completed sign in or verification flow.
type Session struct {
	AccessToken          string `json:"accessToken"`
	AccessTokenExpiresIn int64  `json:"accessTokenExpiresIn"`
	RefreshToken         string `json:"refreshToken"`
	User                 User   `json:"user"`
}

// MFAChallenge asks the client to complete a second factor. The ticket
// binds the follow-up TOTP request to the password check that issued it.
type MFAChallenge struct {
	Ticket string `json:"ticket"`
}

// SignInResponse carries either a full session or an MFA challenge.
type SignInResponse struct {
	Session *Session      `json:"session,omitempty"`
	MFA     *MFAChallenge `json:"mfa,omitempty"`
}

// EmailData is the template payload handed to the notification collaborator.
type EmailData struct {
	Ticket      string
	RedirectTo  string
	DisplayName string
	NewEmail    string
}
