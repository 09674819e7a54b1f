package identity

import (
	"unicode"

	"github.com/inkwell-hq/inkwell-core/internal/apperr"
	"golang.org/x/crypto/bcrypt"
)

// bcryptCost must stay >= 10 per the identity service design; 12 gives
// headroom without making interactive login noticeably slow.
const bcryptCost = 12

// validatePassword enforces length >= 12 and at least one of each character
// class, with no whitespace anywhere in the password.
func validatePassword(pw string) error {
	if len(pw) < 12 {
		return apperr.Validation(apperr.FieldError{Field: "password", Message: "must be at least 12 characters"})
	}

	var hasLower, hasUpper, hasDigit, hasSpecial, hasSpace bool
	for _, r := range pw {
		switch {
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsDigit(r):
			hasDigit = true
		case unicode.IsSpace(r):
			hasSpace = true
		default:
			hasSpecial = true
		}
	}

	if hasSpace {
		return apperr.Validation(apperr.FieldError{Field: "password", Message: "must not contain whitespace"})
	}
	if !hasLower || !hasUpper || !hasDigit || !hasSpecial {
		return apperr.Validation(apperr.FieldError{
			Field:   "password",
			Message: "must contain a lowercase letter, an uppercase letter, a digit, and a special character",
		})
	}
	return nil
}

func hashPassword(pw string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(pw), bcryptCost)
	if err != nil {
		return "", apperr.New(apperr.Internal, "failed to hash password")
	}
	return string(h), nil
}

// checkPassword compares in constant time via bcrypt's own comparison.
func checkPassword(hash, pw string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(pw)) == nil
}
