package auth

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"golang.org/x/crypto/bcrypt"
)

const userColumns = `id, email, new_email, password_hash, locale, default_role, display_name,
	avatar_url, email_verified, is_anonymous, disabled, active_mfa_type, totp_secret,
	ticket, ticket_expires_at, metadata, created_at, last_seen`

// ========== User Store ==========

// SQLUserStore implements persistent storage for accounts, their roles and
// refresh tokens. Passwords are bcrypt-hashed here, so nothing above this
// layer ever holds a hash or a clear-text password together.
type SQLUserStore struct {
	db *sqlx.DB
}

// NewSQLUserStore creates a new SQL-backed user store.
func NewSQLUserStore(db *sqlx.DB) *SQLUserStore {
	return &SQLUserStore{db: db}
}

func (s *SQLUserStore) GetUserByEmail(ctx context.Context, email string) (User, bool, error) {
	var user User
	query := `SELECT ` + userColumns + ` FROM users WHERE email = $1`
	err := s.db.GetContext(ctx, &user, query, email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return User{}, false, nil
		}
		return User{}, false, err
	}
	return user, true, nil
}

func (s *SQLUserStore) GetUserByID(ctx context.Context, id string) (User, bool, error) {
	var user User
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	err := s.db.GetContext(ctx, &user, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return User{}, false, nil
		}
		return User{}, false, err
	}
	return user, true, nil
}

func (s *SQLUserStore) GetUserByTicket(ctx context.Context, ticket string) (User, bool, error) {
	var user User
	query := `SELECT ` + userColumns + ` FROM users WHERE ticket = $1`
	err := s.db.GetContext(ctx, &user, query, ticket)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return User{}, false, nil
		}
		return User{}, false, err
	}
	return user, true, nil
}

func (s *SQLUserStore) GetUserRoles(ctx context.Context, userID string) ([]string, error) {
	var roles []string
	query := `SELECT role FROM user_roles WHERE user_id = $1 ORDER BY role`
	if err := s.db.SelectContext(ctx, &roles, query, userID); err != nil {
		return nil, err
	}
	return roles, nil
}

func (s *SQLUserStore) InsertUser(ctx context.Context, params InsertUserParams) (User, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return User{}, err
	}
	defer tx.Rollback()

	user, err := insertUserTx(ctx, tx, params)
	if err != nil {
		return User{}, err
	}
	return user, tx.Commit()
}

// InsertUserWithRefreshToken creates the account and its first refresh
// token in one transaction. Either both rows exist afterwards or neither.
func (s *SQLUserStore) InsertUserWithRefreshToken(ctx context.Context, params InsertUserParams, token RefreshTokenParams) (User, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return User{}, err
	}
	defer tx.Rollback()

	user, err := insertUserTx(ctx, tx, params)
	if err != nil {
		return User{}, err
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO refresh_tokens (token, user_id, expires_at) VALUES ($1, $2, $3)`,
		token.Token, user.ID, token.ExpiresAt)
	if err != nil {
		return User{}, err
	}
	return user, tx.Commit()
}

func insertUserTx(ctx context.Context, tx *sqlx.Tx, params InsertUserParams) (User, error) {
	var hash string
	if params.Password != "" {
		hashed, err := bcrypt.GenerateFromPassword([]byte(params.Password), bcrypt.DefaultCost)
		if err != nil {
			return User{}, err
		}
		hash = string(hashed)
	}

	var user User
	query := `
		INSERT INTO users (id, email, password_hash, locale, default_role, display_name,
			avatar_url, email_verified, is_anonymous, ticket, ticket_expires_at, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING ` + userColumns
	err := tx.QueryRowxContext(ctx, query,
		params.ID,
		params.Email,
		hash,
		params.Locale,
		params.DefaultRole,
		params.DisplayName,
		params.AvatarURL,
		params.EmailVerified,
		params.Anonymous,
		params.Ticket,
		params.TicketExpiresAt,
		JSONMap(params.Metadata),
	).StructScan(&user)
	if err != nil {
		return User{}, err
	}

	if len(params.AllowedRoles) > 0 {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO user_roles (user_id, role) SELECT $1, unnest($2::text[])`,
			user.ID, pq.StringArray(params.AllowedRoles))
		if err != nil {
			return User{}, err
		}
	}
	return user, nil
}

func (s *SQLUserStore) InsertRefreshToken(ctx context.Context, token RefreshTokenParams) error {
	query := `INSERT INTO refresh_tokens (token, user_id, expires_at) VALUES ($1, $2, $3)`
	_, err := s.db.ExecContext(ctx, query, token.Token, token.UserID, token.ExpiresAt)
	return err
}

func (s *SQLUserStore) UpdateUserLastSeen(ctx context.Context, userID string) error {
	query := `UPDATE users SET last_seen = NOW() WHERE id = $1`
	_, err := s.db.ExecContext(ctx, query, userID)
	return err
}

func (s *SQLUserStore) UpdateUserTicket(ctx context.Context, userID, ticket string, expiresAt time.Time) error {
	query := `UPDATE users SET ticket = $2, ticket_expires_at = $3 WHERE id = $1`
	_, err := s.db.ExecContext(ctx, query, userID, ticket, expiresAt)
	return err
}

func (s *SQLUserStore) UpdateUserEmailChange(ctx context.Context, userID, newEmail, ticket string, expiresAt time.Time) error {
	query := `UPDATE users SET new_email = $2, ticket = $3, ticket_expires_at = $4 WHERE id = $1`
	_, err := s.db.ExecContext(ctx, query, userID, newEmail, ticket, expiresAt)
	return err
}

func (s *SQLUserStore) ConfirmUserEmailChange(ctx context.Context, userID string) error {
	query := `UPDATE users SET email = new_email, new_email = '', email_verified = TRUE WHERE id = $1 AND new_email <> ''`
	_, err := s.db.ExecContext(ctx, query, userID)
	return err
}

func (s *SQLUserStore) UpdateUserPassword(ctx context.Context, userID, newPassword string) error {
	hashed, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	query := `UPDATE users SET password_hash = $2 WHERE id = $1`
	_, err = s.db.ExecContext(ctx, query, userID, string(hashed))
	return err
}

func (s *SQLUserStore) SetUserEmailVerified(ctx context.Context, userID string) error {
	query := `UPDATE users SET email_verified = TRUE WHERE id = $1`
	_, err := s.db.ExecContext(ctx, query, userID)
	return err
}

func (s *SQLUserStore) CheckPassword(hashedPassword, password string) bool {
	if hashedPassword == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hashedPassword), []byte(password)) == nil
}

func (s *SQLUserStore) DeleteRefreshToken(ctx context.Context, token string) error {
	query := `DELETE FROM refresh_tokens WHERE token = $1`
	_, err := s.db.ExecContext(ctx, query, token)
	return err
}

func (s *SQLUserStore) DeleteUserRefreshTokens(ctx context.Context, userID string) error {
	query := `DELETE FROM refresh_tokens WHERE user_id = $1`
	_, err := s.db.ExecContext(ctx, query, userID)
	return err
}

// CleanupExpiredTokens removes expired refresh tokens (can be run periodically).
func (s *SQLUserStore) CleanupExpiredTokens(ctx context.Context) error {
	query := `DELETE FROM refresh_tokens WHERE expires_at < $1`
	_, err := s.db.ExecContext(ctx, query, time.Now())
	return err
}

// ========== Whitelist Store ==========

// SQLWhitelistStore implements persistent storage for the sign-up whitelist.
type SQLWhitelistStore struct {
	db *sqlx.DB
}

// NewSQLWhitelistStore creates a new SQL-backed whitelist store.
func NewSQLWhitelistStore(db *sqlx.DB) *SQLWhitelistStore {
	return &SQLWhitelistStore{db: db}
}

func (s *SQLWhitelistStore) InsertWhitelistedEmail(ctx context.Context, email string) error {
	query := `INSERT INTO whitelist (email) VALUES ($1) ON CONFLICT DO NOTHING`
	_, err := s.db.ExecContext(ctx, query, email)
	return err
}

func (s *SQLWhitelistStore) IsEmailWhitelisted(ctx context.Context, email string) (bool, error) {
	var exists int
	query := `SELECT 1 FROM whitelist WHERE email = $1 LIMIT 1`
	err := s.db.GetContext(ctx, &exists, query, email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
