package auth_test

import (
	"testing"

	"github.com/goliatone/go-auth-service"
	"github.com/stretchr/testify/assert"
)

func TestNewOneShotToken(t *testing.T) {
	seen := map[string]struct{}{}
	for i := 0; i < 50; i++ {
		token, err := auth.NewOneShotToken()
		assert.NoError(t, err)
		// 32 bytes, unpadded base64url
		assert.Len(t, token, 43)
		assert.NotContains(t, token, "=")
		assert.NotContains(t, token, "+")
		assert.NotContains(t, token, "/")

		_, dup := seen[token]
		assert.False(t, dup)
		seen[token] = struct{}{}
	}
}
