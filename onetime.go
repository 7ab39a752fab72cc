package auth

import (
	"crypto/rand"
	"encoding/base64"

	goerrors "github.com/goliatone/go-errors"
)

// OneShotTokenBytes is the entropy of verification and reset tokens
const OneShotTokenBytes = 32

// NewOneShotToken returns a url safe random token
func NewOneShotToken() (string, error) {
	buf := make([]byte, OneShotTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", goerrors.Wrap(err, CategoryInternal, "failed to generate token")
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
