package auth

import (
	"fmt"
	"reflect"
	"time"
)

var guardedExtras = []string{ClaimUserID, ClaimIsActive}

type immutableClaimsSnapshot struct {
	subject   string
	issuer    string
	audience  string
	issuedAt  time.Time
	expiresAt time.Time
	id        string
	kind      TokenKind
	extras    map[string]any
}

func captureImmutableClaims(claims *Claims) immutableClaimsSnapshot {
	snap := immutableClaimsSnapshot{
		subject:   claims.Subject,
		issuer:    claims.Issuer,
		audience:  claims.Audience,
		issuedAt:  claims.IssuedAt,
		expiresAt: claims.ExpiresAt,
		id:        claims.ID,
		kind:      claims.Type,
		extras:    map[string]any{},
	}

	for _, key := range guardedExtras {
		if v, ok := claims.Extra[key]; ok {
			snap.extras[key] = v
		}
	}

	return snap
}

func (snap immutableClaimsSnapshot) validate(claims *Claims) error {
	switch {
	case claims.Subject != snap.subject:
		return immutableClaimViolation(ClaimSubject)
	case claims.Issuer != snap.issuer:
		return immutableClaimViolation(ClaimIssuer)
	case claims.Audience != snap.audience:
		return immutableClaimViolation(ClaimAudience)
	case !claims.IssuedAt.Equal(snap.issuedAt):
		return immutableClaimViolation(ClaimIssuedAt)
	case !claims.ExpiresAt.Equal(snap.expiresAt):
		return immutableClaimViolation(ClaimExpiresAt)
	case claims.ID != snap.id:
		return immutableClaimViolation(ClaimTokenID)
	case claims.Type != snap.kind:
		return immutableClaimViolation(ClaimType)
	}

	for _, key := range guardedExtras {
		before, had := snap.extras[key]
		after, has := claims.Extra[key]
		if had != has || !reflect.DeepEqual(before, after) {
			return immutableClaimViolation(key)
		}
	}

	return nil
}

func immutableClaimViolation(field string) error {
	out := wrapAs(ErrImmutableClaimMutation, nil)
	out.Message = fmt.Sprintf("immutable claim mutated: %s", field)
	return out.WithMetadata(map[string]any{"claim": field})
}
