package auth

import (
	"errors"
	"net/http"
	"sort"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

// Error is the rich error returned by the auth core
type Error = goerrors.Error

// Category groups errors by how they surface at the HTTP boundary
type Category = goerrors.Category

var (
	CategoryInvalidCredentials = goerrors.CategoryAuth
	CategoryInvalidToken       = goerrors.CategoryAuth.Extend("token")
	CategoryInactiveAccount    = goerrors.CategoryAuth.Extend("inactive")
	CategoryNotFound           = goerrors.CategoryNotFound
	CategoryForbidden          = goerrors.CategoryAuthz
	CategoryValidation         = goerrors.CategoryValidation
	CategoryConflict           = goerrors.CategoryConflict
	CategoryInternal           = goerrors.CategoryInternal
)

const (
	TextCodeInvalidCredentials  = goerrors.TextCodeInvalidCredentials
	TextCodePasswordMismatch    = "PASSWORD_MISMATCH"
	TextCodeTokenExpired        = goerrors.TextCodeTokenExpired
	TextCodeTokenMalformed      = goerrors.TextCodeTokenMalformed
	TextCodeTokenTypeMismatch   = "TOKEN_TYPE_MISMATCH"
	TextCodeTokenSubjectMissing = "TOKEN_SUBJECT_MISSING"
	TextCodeTokenRevoked        = "TOKEN_REVOKED"
	TextCodeOneShotTokenInvalid = "ONE_SHOT_TOKEN_INVALID"
	TextCodeInactiveAccount     = "INACTIVE_ACCOUNT"
	TextCodeUserNotFound        = "USER_NOT_FOUND"
	TextCodeNotEnoughPrivileges = "NOT_ENOUGH_PRIVILEGES"
	TextCodeEmailTaken          = "EMAIL_TAKEN"
	TextCodeImmutableClaim      = goerrors.TextCodeImmutableClaim
	TextCodeEmptyString         = "EMPTY_STRING"
)

var (
	ErrInvalidCredentials = goerrors.New("incorrect email or password", CategoryInvalidCredentials).
				WithTextCode(TextCodeInvalidCredentials).
				WithCode(goerrors.CodeUnauthorized)

	ErrMismatchedHashAndPassword = goerrors.New("password does not match hash", CategoryInvalidCredentials).
					WithTextCode(TextCodePasswordMismatch).
					WithCode(goerrors.CodeUnauthorized)

	// ErrInvalidToken matches every token failure
	ErrInvalidToken = goerrors.New("could not validate credentials", CategoryInvalidToken).
			WithCode(goerrors.CodeUnauthorized)

	ErrTokenExpired = tokenError("token has expired", TextCodeTokenExpired)

	ErrTokenMalformed = tokenError("could not validate credentials", TextCodeTokenMalformed)

	ErrTokenTypeMismatch = tokenError("invalid token type", TextCodeTokenTypeMismatch)

	ErrTokenSubjectMissing = tokenError("token subject missing", TextCodeTokenSubjectMissing)

	ErrTokenRevoked = tokenError("token has been revoked", TextCodeTokenRevoked)

	// one-shot links are not credentials, a bad link is a bad request
	ErrOneShotTokenInvalid = tokenError("invalid or expired token", TextCodeOneShotTokenInvalid).
				WithCode(goerrors.CodeBadRequest)

	ErrInactiveAccount = goerrors.New("inactive user", CategoryInactiveAccount).
				WithTextCode(TextCodeInactiveAccount).
				WithCode(goerrors.CodeBadRequest)

	ErrNotFound = goerrors.New("not found", CategoryNotFound).
			WithCode(goerrors.CodeNotFound)

	ErrUserNotFound = member(ErrNotFound, "user not found", TextCodeUserNotFound)

	ErrForbidden = goerrors.New("the user doesn't have enough privileges", CategoryForbidden).
			WithTextCode(TextCodeNotEnoughPrivileges).
			WithCode(goerrors.CodeForbidden)

	ErrValidation = goerrors.New("invalid input", CategoryValidation).
			WithCode(goerrors.CodeBadRequest)

	ErrNoEmptyString = member(ErrValidation, "value must not be empty", TextCodeEmptyString)

	ErrEmailTaken = goerrors.New("a user with this email already exists", CategoryConflict).
			WithTextCode(TextCodeEmailTaken).
			WithCode(goerrors.CodeConflict)

	ErrImmutableClaimMutation = goerrors.New("immutable claim mutated", CategoryInternal).
					WithTextCode(TextCodeImmutableClaim).
					WithCode(goerrors.CodeInternal)
)

// member builds a sentinel that also matches its family under errors.Is
func member(family *Error, message, textCode string) *Error {
	out := goerrors.New(message, family.Category).
		WithTextCode(textCode).
		WithCode(family.Code)
	out.Source = family
	return out
}

func tokenError(message, textCode string) *Error {
	return member(ErrInvalidToken, message, textCode)
}

// wrapAs clones a sentinel and attaches the source error. The clone
// keeps matching the sentinel, and its family, under errors.Is.
func wrapAs(sentinel *Error, source error) *Error {
	out := sentinel.Clone()
	out.Source = goerrors.Join(sentinel, source)
	return out
}

// newValidationError reports per field failures under ErrValidation
func newValidationError(message string, source error, fields map[string]string) *Error {
	out := wrapAs(ErrValidation, source)
	out.Message = message

	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		out.ValidationErrors = append(out.ValidationErrors, goerrors.FieldError{
			Field:   name,
			Message: fields[name],
		})
	}
	return out
}

// TextCode returns the machine readable code, falling back to the category
func TextCode(err error) string {
	richErr := AsError(err)
	if richErr == nil {
		return ""
	}
	if richErr.TextCode != "" {
		return richErr.TextCode
	}
	return strings.ToUpper(string(richErr.Category))
}

// HTTPStatus maps an error to the status code used at the boundary
func HTTPStatus(err error) int {
	var richErr *Error
	if !goerrors.As(err, &richErr) {
		return http.StatusInternalServerError
	}

	if richErr.Code != 0 {
		return richErr.Code
	}

	switch richErr.Category {
	case CategoryInvalidCredentials, CategoryInvalidToken:
		return http.StatusUnauthorized
	case CategoryInactiveAccount, CategoryValidation, goerrors.CategoryBadInput:
		return http.StatusBadRequest
	case CategoryNotFound:
		return http.StatusNotFound
	case CategoryForbidden:
		return http.StatusForbidden
	case CategoryConflict:
		return http.StatusConflict
	case goerrors.CategoryRateLimit:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// AsError returns the rich error in the chain or wraps err as internal
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var richErr *Error
	if goerrors.As(err, &richErr) {
		return richErr
	}
	var retryable *goerrors.RetryableError
	if goerrors.As(err, &retryable) && retryable.BaseError != nil {
		return retryable.BaseError
	}
	return goerrors.Wrap(err, CategoryInternal, "internal server error")
}

// IsTokenExpiredError will check for expired tokens
func IsTokenExpiredError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTokenExpired) {
		return true
	}
	return strings.Contains(err.Error(), "token is expired")
}

// IsMalformedError will check for malformed tokens
func IsMalformedError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTokenMalformed) {
		return true
	}
	return strings.Contains(err.Error(), "token is malformed") ||
		strings.Contains(err.Error(), "missing or malformed JWT")
}
