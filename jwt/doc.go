// Package jwt wraps github.com/golang-jwt/jwt/v5 behind a small manager for
// the engine's stateless access tokens. Tokens carry the user id and the
// registered claim set only; validity is purely cryptographic plus expiry and
// no store round-trip is ever involved.
package jwt
