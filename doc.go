// Package authcore is the credential and session lifecycle engine behind a
// multi-tenant backend. It issues, rotates, and revokes bearer session tokens,
// manages short-lived single-use verification and password-reset codes, and
// throttles abusive request patterns with a Redis-backed, fail-open rate
// limiter.
//
// The package is designed for concurrent server workloads: Engine methods are
// safe to call from multiple goroutines after initialization through
// [Builder.Build].
//
// # Architecture boundaries
//
// authcore is the public surface. It exposes [Engine], [Builder], [Config],
// and value types (UserRecord, RateLimitResult, AuditEvent). Internal
// coordination (rate-limit backend selection, token encoding, audit
// dispatch) lives under internal/ and is never exported.
//
// Persistence is a collaborator: callers supply a [CredentialStore]
// implementation (store/postgres and store/memory ship with the module) and a
// [Notifier] for outbound mail. The engine never opens its own database
// connections.
//
// # What this package must NOT do
//
//   - Expose Redis clients, store handles, or token encodings in its public API.
//   - Log or persist a raw session, reset, or verification secret.
//   - Perform I/O outside of Engine and Reaper methods (construction via
//     Builder is allocation-only until Build).
package authcore
