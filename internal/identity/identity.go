// Package identity owns users, credentials, TOTP 2FA, and OAuth linkage:
// registration, authentication, admin lifecycle transitions.
package identity

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/inkwell-hq/inkwell-core/internal/apperr"
	"github.com/inkwell-hq/inkwell-core/internal/authz"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"github.com/rs/zerolog/log"
)

// BootstrapAdminUsername is the canonical, undeletable admin account name.
const BootstrapAdminUsername = "admin"

// User is the persisted identity record.
type User struct {
	ID            uuid.UUID
	Username      string
	Email         *string
	PasswordHash  string
	TOTPSecret    *string
	Is2FAEnabled  bool
	IsAdmin       bool
	IsLocked      bool
	CreatedAt     time.Time
}

// IsBootstrapAdmin reports whether u is the protected seed admin.
func (u User) IsBootstrapAdmin() bool {
	return u.IsAdmin && strings.EqualFold(u.Username, BootstrapAdminUsername)
}

// Service implements the identity lifecycle described in the component
// design: register, authenticate, 2FA enrollment/verification, OAuth
// linkage, password management, and admin transitions.
type Service struct {
	DB          *pgxpool.Pool
	authz       *authz.Engine
	totpLimiter *totpLimiter
	// OnUserCreated seeds default folders (and anything else a fresh
	// account needs) without identity importing the folder package
	// directly; failures here must never fail registration.
	OnUserCreated func(ctx context.Context, userID uuid.UUID)
}

func New(db *pgxpool.Pool) *Service {
	return &Service{
		DB:          db,
		authz:       authz.New(),
		totpLimiter: newTOTPLimiter(5, time.Minute),
	}
}

func usernameLower(u string) string { return strings.ToLower(strings.TrimSpace(u)) }

// Register creates a new user after validating username/password shape.
func (s *Service) Register(ctx context.Context, username, password string, email *string) (*User, error) {
	username = strings.TrimSpace(username)
	if l := len(username); l < 3 || l > 50 {
		return nil, apperr.Validation(apperr.FieldError{Field: "username", Message: "must be 3-50 characters"})
	}
	if err := validatePassword(password); err != nil {
		return nil, err
	}

	hash, err := hashPassword(password)
	if err != nil {
		return nil, err
	}

	id := uuid.New()
	_, err = s.DB.Exec(ctx, `
		INSERT INTO users (id, username, username_lower, email, password_hash, created_at)
		VALUES ($1, $2, $3, $4, $5, now())
	`, id, username, usernameLower(username), email, hash)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, apperr.New(apperr.Duplicate, "username or email already in use")
		}
		log.Error().Err(err).Msg("failed to insert user")
		return nil, apperr.New(apperr.Internal, "failed to create user")
	}

	user := &User{ID: id, Username: username, Email: email, PasswordHash: hash, CreatedAt: time.Now().UTC()}

	// Default-folder seeding must never fail registration.
	if s.OnUserCreated != nil {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Error().Interface("panic", r).Str("user_id", id.String()).Msg("default folder seeding panicked")
				}
			}()
			s.OnUserCreated(ctx, id)
		}()
	}

	return user, nil
}

func isUniqueViolation(err error) bool {
	return strings.Contains(err.Error(), "23505")
}

// getByUsernameOrEmail loads a user by case-insensitive username or exact email.
func (s *Service) getByUsernameOrEmail(ctx context.Context, usernameOrEmail string) (*User, error) {
	row := s.DB.QueryRow(ctx, `
		SELECT id, username, email, password_hash, totp_secret, is_2fa_enabled, is_admin, is_locked, created_at
		FROM users
		WHERE username_lower = $1 OR email = $2
	`, usernameLower(usernameOrEmail), usernameOrEmail)

	var u User
	if err := row.Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.TOTPSecret, &u.Is2FAEnabled, &u.IsAdmin, &u.IsLocked, &u.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &u, nil
}

// GetByID loads a user by id.
func (s *Service) GetByID(ctx context.Context, id uuid.UUID) (*User, error) {
	row := s.DB.QueryRow(ctx, `
		SELECT id, username, email, password_hash, totp_secret, is_2fa_enabled, is_admin, is_locked, created_at
		FROM users WHERE id = $1
	`, id)

	var u User
	if err := row.Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.TOTPSecret, &u.Is2FAEnabled, &u.IsAdmin, &u.IsLocked, &u.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.New(apperr.NotFound, "user not found")
		}
		return nil, err
	}
	return &u, nil
}

// Authenticate verifies credentials and reports whether 2FA is still
// pending. Tokens are minted by the caller only once need2FA is false.
func (s *Service) Authenticate(ctx context.Context, usernameOrEmail, password string) (user *User, need2FA bool, err error) {
	u, err := s.getByUsernameOrEmail(ctx, usernameOrEmail)
	if err != nil {
		return nil, false, apperr.New(apperr.Internal, "authentication failed")
	}
	if u == nil {
		return nil, false, apperr.New(apperr.Unauthorized, "invalid credentials")
	}
	if u.IsLocked {
		return nil, false, apperr.New(apperr.Forbidden, "account is locked")
	}
	if !checkPassword(u.PasswordHash, password) {
		return nil, false, apperr.New(apperr.Unauthorized, "invalid credentials")
	}

	if u.Is2FAEnabled {
		return u, true, nil
	}
	return u, false, nil
}

// Verify2FA checks a 6-digit TOTP code with ±1 step drift tolerance,
// rate-limited per user.
func (s *Service) Verify2FA(ctx context.Context, u *User, code string) error {
	if !s.totpLimiter.Allow(u.ID.String()) {
		return apperr.New(apperr.RateLimited, "too many 2FA attempts")
	}
	if u.TOTPSecret == nil {
		return apperr.New(apperr.Unauthorized, "2FA is not configured")
	}
	ok, err := totp.ValidateCustom(code, *u.TOTPSecret, time.Now().UTC(), totp.ValidateOpts{
		Period:    30,
		Skew:      1,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	if err != nil || !ok {
		return apperr.New(apperr.Unauthorized, "invalid 2FA code")
	}
	return nil
}

// Enable2FA generates a new TOTP secret (not yet active until Confirm2FA)
// and returns its provisioning URI for the client to render as a QR code.
func (s *Service) Enable2FA(ctx context.Context, u *User, issuer string) (secret string, provisioningURI string, err error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      issuer,
		AccountName: u.Username,
		Period:      30,
		Digits:      otp.DigitsSix,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return "", "", apperr.New(apperr.Internal, "failed to generate TOTP secret")
	}

	if _, err := s.DB.Exec(ctx, `UPDATE users SET totp_secret = $1 WHERE id = $2`, key.Secret(), u.ID); err != nil {
		return "", "", apperr.New(apperr.Internal, "failed to store TOTP secret")
	}

	return key.Secret(), key.URL(), nil
}

// Confirm2FA activates 2FA once the user proves possession of the secret
// generated by Enable2FA.
func (s *Service) Confirm2FA(ctx context.Context, u *User, code string) error {
	if u.TOTPSecret == nil {
		return apperr.New(apperr.Unauthorized, "2FA is not pending confirmation")
	}
	ok, err := totp.ValidateCustom(code, *u.TOTPSecret, time.Now().UTC(), totp.ValidateOpts{
		Period: 30, Skew: 1, Digits: otp.DigitsSix, Algorithm: otp.AlgorithmSHA1,
	})
	if err != nil || !ok {
		return apperr.New(apperr.Unauthorized, "invalid 2FA code")
	}
	if _, err := s.DB.Exec(ctx, `UPDATE users SET is_2fa_enabled = true WHERE id = $1`, u.ID); err != nil {
		return apperr.New(apperr.Internal, "failed to enable 2FA")
	}
	return nil
}

// Disable2FA clears the secret and disables 2FA.
func (s *Service) Disable2FA(ctx context.Context, u *User) error {
	if _, err := s.DB.Exec(ctx, `UPDATE users SET is_2fa_enabled = false, totp_secret = NULL WHERE id = $1`, u.ID); err != nil {
		return apperr.New(apperr.Internal, "failed to disable 2FA")
	}
	return nil
}

// ChangePassword verifies the current password before setting a new one.
func (s *Service) ChangePassword(ctx context.Context, u *User, current, next string) error {
	if !checkPassword(u.PasswordHash, current) {
		return apperr.New(apperr.Unauthorized, "current password is incorrect")
	}
	if err := validatePassword(next); err != nil {
		return err
	}
	hash, err := hashPassword(next)
	if err != nil {
		return err
	}
	if _, err := s.DB.Exec(ctx, `UPDATE users SET password_hash = $1 WHERE id = $2`, hash, u.ID); err != nil {
		return apperr.New(apperr.Internal, "failed to change password")
	}
	return s.RevokeAllRefreshTokens(ctx, u.ID)
}

// ResetPassword sets a new password given a pre-validated reset token
// subject (token verification is the caller's responsibility, via
// tokens.Service, against a password-reset token kind).
func (s *Service) ResetPassword(ctx context.Context, userID uuid.UUID, next string) error {
	if err := validatePassword(next); err != nil {
		return err
	}
	hash, err := hashPassword(next)
	if err != nil {
		return err
	}
	if _, err := s.DB.Exec(ctx, `UPDATE users SET password_hash = $1 WHERE id = $2`, hash, userID); err != nil {
		return apperr.New(apperr.Internal, "failed to reset password")
	}
	return nil
}

func (s *Service) callerSubject(caller *User) authz.Subject {
	return authz.Subject{UserID: caller.ID, IsAdmin: caller.IsAdmin}
}

// Lock sets is_locked=true, refusing the bootstrap admin.
func (s *Service) Lock(ctx context.Context, caller *User, target *User) error {
	if err := s.authz.PermitAdminOp(s.callerSubject(caller), target.ID, target.IsBootstrapAdmin(), authz.OpLock); err != nil {
		return err
	}
	return s.setLocked(ctx, target.ID, true)
}

// Unlock clears is_locked. Unlocking is never restricted by bootstrap
// protection since it only relaxes a restriction.
func (s *Service) Unlock(ctx context.Context, caller *User, target *User) error {
	if !caller.IsAdmin {
		return apperr.New(apperr.Forbidden, "admin required")
	}
	return s.setLocked(ctx, target.ID, false)
}

func (s *Service) setLocked(ctx context.Context, id uuid.UUID, locked bool) error {
	if _, err := s.DB.Exec(ctx, `UPDATE users SET is_locked = $1 WHERE id = $2`, locked, id); err != nil {
		return apperr.New(apperr.Internal, "failed to update lock state")
	}
	return nil
}

// GrantAdmin promotes target to admin.
func (s *Service) GrantAdmin(ctx context.Context, caller *User, target *User) error {
	if err := s.authz.PermitAdminOp(s.callerSubject(caller), target.ID, target.IsBootstrapAdmin(), authz.OpGrantAdmin); err != nil {
		return err
	}
	if _, err := s.DB.Exec(ctx, `UPDATE users SET is_admin = true WHERE id = $1`, target.ID); err != nil {
		return apperr.New(apperr.Internal, "failed to grant admin")
	}
	return nil
}

// RevokeAdmin demotes target, refusing the bootstrap admin and self-demotion.
func (s *Service) RevokeAdmin(ctx context.Context, caller *User, target *User) error {
	if err := s.authz.PermitAdminOp(s.callerSubject(caller), target.ID, target.IsBootstrapAdmin(), authz.OpDemote); err != nil {
		return err
	}
	if _, err := s.DB.Exec(ctx, `UPDATE users SET is_admin = false WHERE id = $1`, target.ID); err != nil {
		return apperr.New(apperr.Internal, "failed to revoke admin")
	}
	return nil
}

// DeleteUser removes target, refusing the bootstrap admin and self-deletion.
func (s *Service) DeleteUser(ctx context.Context, caller *User, target *User) error {
	if err := s.authz.PermitAdminOp(s.callerSubject(caller), target.ID, target.IsBootstrapAdmin(), authz.OpDeleteUser); err != nil {
		return err
	}
	if _, err := s.DB.Exec(ctx, `DELETE FROM users WHERE id = $1`, target.ID); err != nil {
		return apperr.New(apperr.Internal, "failed to delete user")
	}
	return nil
}

// SearchUsers finds users by a case-insensitive substring of username, with
// a minimum query length of 2 (enumeration risk acknowledged, not fully
// mitigated, per the open questions).
func (s *Service) SearchUsers(ctx context.Context, query string, limit int) ([]User, error) {
	if len(strings.TrimSpace(query)) < 2 {
		return nil, apperr.Validation(apperr.FieldError{Field: "q", Message: "must be at least 2 characters"})
	}
	rows, err := s.DB.Query(ctx, `
		SELECT id, username, email, is_admin
		FROM users
		WHERE username_lower LIKE '%' || $1 || '%'
		ORDER BY username_lower
		LIMIT $2
	`, usernameLower(query), limit)
	if err != nil {
		return nil, apperr.New(apperr.Internal, "search failed")
	}
	defer rows.Close()

	var out []User
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.ID, &u.Username, &u.Email, &u.IsAdmin); err != nil {
			return nil, apperr.New(apperr.Internal, "search failed")
		}
		out = append(out, u)
	}
	return out, nil
}

// nonCollidingUsername appends numeric suffixes until the candidate is free.
func (s *Service) nonCollidingUsername(ctx context.Context, base string) (string, error) {
	base = usernameLower(base)
	if base == "" {
		base = "user"
	}
	candidate := base
	for i := 0; ; i++ {
		var exists bool
		if err := s.DB.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM users WHERE username_lower = $1)`, usernameLower(candidate)).Scan(&exists); err != nil {
			return "", apperr.New(apperr.Internal, "failed to check username availability")
		}
		if !exists {
			return candidate, nil
		}
		n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
		if err != nil {
			return "", apperr.New(apperr.Internal, "failed to generate username")
		}
		candidate = fmt.Sprintf("%s%d", base, n.Int64())
	}
}

// randomStrongPassword generates a password that always satisfies
// validatePassword, for accounts created via OAuth linkage.
func randomStrongPassword() (string, error) {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		return "", apperr.New(apperr.Internal, "failed to generate password")
	}
	return "Aa1!" + hex.EncodeToString(b), nil
}

// HashToken sha256-hexes a refresh token for storage, never persisting the
// raw token value.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// OAuthProfile is what a provider driver returns after a successful code
// exchange, per the oauthProvider interface in internal/identity/oauth.go.
type OAuthProfile struct {
	ProviderUserID string
	Email          string
	DisplayName    string
}

// LinkOAuth resolves an existing link, or provisions a brand-new account
// (random strong password, numeric-suffixed username) the first time a
// given provider identity signs in.
func (s *Service) LinkOAuth(ctx context.Context, provider string, profile OAuthProfile) (*User, error) {
	var userID uuid.UUID
	err := s.DB.QueryRow(ctx, `
		SELECT user_id FROM oauth_links WHERE provider = $1 AND provider_user_id = $2
	`, provider, profile.ProviderUserID).Scan(&userID)
	if err == nil {
		return s.GetByID(ctx, userID)
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.New(apperr.Internal, "failed to resolve oauth link")
	}

	base := profile.DisplayName
	if base == "" {
		base = strings.SplitN(profile.Email, "@", 2)[0]
	}
	username, err := s.nonCollidingUsername(ctx, base)
	if err != nil {
		return nil, err
	}
	password, err := randomStrongPassword()
	if err != nil {
		return nil, err
	}

	var email *string
	if profile.Email != "" {
		e := profile.Email
		email = &e
	}

	user, err := s.Register(ctx, username, password, email)
	if err != nil {
		return nil, err
	}

	if _, err := s.DB.Exec(ctx, `
		INSERT INTO oauth_links (provider, provider_user_id, user_id) VALUES ($1, $2, $3)
		ON CONFLICT (provider, provider_user_id) DO NOTHING
	`, provider, profile.ProviderUserID, user.ID); err != nil {
		return nil, apperr.New(apperr.Internal, "failed to link oauth account")
	}

	return user, nil
}

// MintRefreshToken persists a refresh_tokens row for the raw token's hash
// so rotation and logout can revoke it without trusting the bearer alone.
func (s *Service) MintRefreshToken(ctx context.Context, userID uuid.UUID, rawToken string, expiresAt time.Time) error {
	_, err := s.DB.Exec(ctx, `
		INSERT INTO refresh_tokens (id, user_id, token_hash, expires_at, revoked)
		VALUES ($1, $2, $3, $4, false)
	`, uuid.New(), userID, HashToken(rawToken), expiresAt)
	if err != nil {
		return apperr.New(apperr.Internal, "failed to persist refresh token")
	}
	return nil
}

// CheckRefreshToken reports whether the given raw token is known and not
// yet revoked; callers combine this with tokens.Service.Verify for
// signature/expiry checking.
func (s *Service) CheckRefreshToken(ctx context.Context, rawToken string) (bool, error) {
	var revoked bool
	err := s.DB.QueryRow(ctx, `
		SELECT revoked FROM refresh_tokens WHERE token_hash = $1
	`, HashToken(rawToken)).Scan(&revoked)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, apperr.New(apperr.Internal, "failed to check refresh token")
	}
	return !revoked, nil
}

// RevokeRefreshToken marks a single token used-up, called on rotation.
func (s *Service) RevokeRefreshToken(ctx context.Context, rawToken string) error {
	if _, err := s.DB.Exec(ctx, `UPDATE refresh_tokens SET revoked = true WHERE token_hash = $1`, HashToken(rawToken)); err != nil {
		return apperr.New(apperr.Internal, "failed to revoke refresh token")
	}
	return nil
}

// RevokeAllRefreshTokens revokes every outstanding token for a user, called
// on logout-everywhere and on password change.
func (s *Service) RevokeAllRefreshTokens(ctx context.Context, userID uuid.UUID) error {
	if _, err := s.DB.Exec(ctx, `UPDATE refresh_tokens SET revoked = true WHERE user_id = $1 AND revoked = false`, userID); err != nil {
		return apperr.New(apperr.Internal, "failed to revoke refresh tokens")
	}
	return nil
}
