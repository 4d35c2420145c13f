// Package jwt issues and verifies the signed access and refresh tokens used
// by the authcore Service.
//
// Exactly one symmetric HMAC algorithm is allowed per Issuer. Asymmetric
// algorithms and "none" are rejected at construction, not at verify time, so
// a misconfigured deployment fails on startup instead of at the first
// request. Verification is type-agnostic: callers must check
// [Claims.TokenType] before trusting a token as access or refresh.
//
// Verify collapses every decode, signature, and algorithm failure into
// [ErrInvalid] and expiry into [ErrExpired]. The underlying cause never
// crosses the package boundary.
package jwt
