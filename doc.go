// Package auth implements the SoLearn identity and session subsystem: a
// credential store backed by Bun, Solana wallet proof verification,
// single-use email verification and password reset tokens, and stateless
// HS256 session tokens, plus the go-router HTTP surface on top of them.
//
// Identity flows:
//   - Service runs every flow (register, login, wallet binding, email
//     verification, password reset, session revocation) as a command handler
//     with its own message validation. Flows that end in a session return the
//     token together with the identity it was issued for.
//   - Single-use tokens are stored as SHA-256 digests in a slot on the
//     identity record. Redemption is a single conditional UPDATE so two
//     concurrent redemptions cannot both succeed.
//   - Session tokens carry the identity session epoch. RevokeSessions and a
//     completed password reset bump the epoch, and RouteAuthenticator rejects
//     tokens minted under an older one.
//
// Activity sinks:
//   - ActivitySink receives best-effort audit events for registrations,
//     logins, wallet binds and token redemptions. Sink errors are logged and
//     never fail the flow. See the activitymap package for a normalized shape.
package auth
