package auth

import (
	"context"
	"errors"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

// TokenVerifier checks signature and expiry only
type TokenVerifier struct {
	codec *TokenCodec
}

func NewTokenVerifier(codec *TokenCodec) *TokenVerifier {
	return &TokenVerifier{codec: codec}
}

// Verify returns the claims of a validly signed, unexpired token
func (v *TokenVerifier) Verify(raw string) (*Claims, error) {
	return v.codec.Decode(strings.TrimSpace(raw))
}

// IdentityResolver turns a verified token into an account
type IdentityResolver struct {
	verifier *TokenVerifier
	store    CredentialStore
	denylist Denylist
	logger   Logger
}

func NewIdentityResolver(verifier *TokenVerifier, store CredentialStore) *IdentityResolver {
	return &IdentityResolver{
		verifier: verifier,
		store:    store,
		denylist: noopDenylist{},
		logger:   defLogger{},
	}
}

// WithDenylist enables revocation checks
func (r *IdentityResolver) WithDenylist(d Denylist) *IdentityResolver {
	r.denylist = normalizeDenylist(d)
	return r
}

func (r *IdentityResolver) WithLogger(logger Logger) *IdentityResolver {
	r.logger = normalizeLogger(logger)
	return r
}

// Resolve verifies raw and loads its subject. Signature and expiry are
// checked before any claim is read, then revocation, token kind,
// subject presence and finally the store lookup.
func (r *IdentityResolver) Resolve(ctx context.Context, raw string, expected TokenKind) (*User, *Claims, error) {
	claims, err := r.verifier.Verify(raw)
	if err != nil {
		return nil, nil, err
	}

	if claims.ID != "" {
		revoked, err := r.denylist.IsRevoked(ctx, claims.ID)
		if err != nil {
			r.logger.Error("denylist lookup failed: %v", err)
			return nil, nil, goerrors.Wrap(err, CategoryInternal, "failed to check token revocation")
		}
		if revoked {
			return nil, nil, ErrTokenRevoked
		}
	}

	if claims.Kind() != expected {
		return nil, nil, wrapAs(ErrTokenTypeMismatch, nil).WithMetadata(map[string]any{
			"expected": string(expected),
			"actual":   string(claims.Kind()),
		})
	}

	if strings.TrimSpace(claims.Subject) == "" {
		return nil, nil, ErrTokenSubjectMissing
	}

	user, err := r.store.FindByEmail(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil, ErrUserNotFound
		}
		return nil, nil, goerrors.Wrap(err, CategoryInternal, "failed to resolve token subject")
	}

	if user == nil {
		return nil, nil, ErrUserNotFound
	}

	return user, claims, nil
}
