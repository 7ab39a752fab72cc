package auth

import (
	"errors"
	"strings"
	"unicode"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/nyaruka/phonenumbers"
)

// MinPasswordLength applies to registration and password resets
const MinPasswordLength = 8

// PasswordRules is the minimum password policy, checked on reset
var PasswordRules = []validation.Rule{
	validation.Required,
	validation.Length(MinPasswordLength, 100),
}

// StrongPasswordRules is the registration policy: minimum length plus
// at least one uppercase letter, one lowercase letter and one digit
var StrongPasswordRules = append(append([]validation.Rule{}, PasswordRules...),
	validation.By(requireCharClass("uppercase letter", unicode.IsUpper)),
	validation.By(requireCharClass("lowercase letter", unicode.IsLower)),
	validation.By(requireCharClass("digit", unicode.IsDigit)),
)

func requireCharClass(name string, fn func(rune) bool) validation.RuleFunc {
	return func(value any) error {
		s, _ := value.(string)
		if s == "" {
			return nil
		}
		for _, r := range s {
			if fn(r) {
				return nil
			}
		}
		return errors.New("must contain at least one " + name)
	}
}

// ValidateStringEquals will check that both values match
func ValidateStringEquals(str string) validation.RuleFunc {
	return func(value any) error {
		s, _ := value.(string)
		if s != str {
			return errors.New("values must match")
		}
		return nil
	}
}

// ValidatePhoneNumber accepts numbers phonenumbers can parse for the
// given default region
func ValidatePhoneNumber(region string) validation.RuleFunc {
	return func(value any) error {
		s, _ := value.(string)
		if strings.TrimSpace(s) == "" {
			return nil
		}
		if _, err := NormalizePhoneNumber(s, region); err != nil {
			return errors.New("must be a valid phone number")
		}
		return nil
	}
}

// NormalizePhoneNumber formats a phone number as E.164
func NormalizePhoneNumber(raw, region string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", nil
	}
	if region == "" {
		region = "US"
	}

	num, err := phonenumbers.Parse(raw, region)
	if err != nil {
		return "", err
	}

	if !phonenumbers.IsValidNumber(num) {
		return "", errors.New("invalid phone number")
	}

	return phonenumbers.Format(num, phonenumbers.E164), nil
}

// FormatValidationErrorToMap flattens ozzo validation errors into
// field -> message pairs
func FormatValidationErrorToMap(err error) map[string]string {
	out := map[string]string{}
	if err == nil {
		return out
	}

	var verrs validation.Errors
	if errors.As(err, &verrs) {
		for field, ferr := range verrs {
			if ferr == nil {
				continue
			}
			out[field] = ferr.Error()
		}
		return out
	}

	out["error"] = err.Error()
	return out
}

// NewValidationError wraps an ozzo error as a rich validation error
func NewValidationError(err error) error {
	if err == nil {
		return nil
	}
	return newValidationError("invalid input", err, FormatValidationErrorToMap(err))
}

// NormalizeEmail lowercases and trims an email address
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
