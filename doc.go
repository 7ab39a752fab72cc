// Package auth provides JWT based authentication for an HTTP API: token
// issuance and verification, credential checks with login lockout, one-shot
// email verification and password reset flows, and role based authorization.
//
// Tokens:
//   - TokenCodec signs and parses HS256 tokens. Signature and expiry are always
//     checked before any claim is read.
//   - TokenIssuer builds access and refresh claims. Access tokens carry user_id
//     and is_active, refresh tokens carry user_id and type=refresh and use a
//     separate audience.
//   - IdentityResolver turns a token into a stored User, checking revocation,
//     token kind and subject on the way.
//
// Flows:
//   - Auther runs login, refresh (with optional rotation), authenticate and
//     logout. A Denylist makes logout and rotation revoke tokens.
//   - Command handlers (register, verify email, resend verification, password
//     reset, role assignment, account status) run inside a single transaction.
//     Email delivery and activity recording happen after commit.
//
// Activity sinks:
//   - ActivitySink is a light-weight audit emitter used by Auther and the
//     command handlers. Sinks run best-effort (errors are logged) so you can
//     forward to a log, metrics or a queue without blocking authentication.
//
// Claims decoration:
//   - ClaimsDecorator is invoked before JWTs are signed. Decorators may add
//     extension fields while protected claims (sub, exp, type, jti, user_id,
//     is_active) remain immutable.
package auth
