// Package authcore is an embeddable authentication engine for multi-tenant
// backends: password accounts with argon2id hashing and history, JWT
// access/refresh pairs with rotation and reuse detection, TOTP two-factor
// with backup codes, mailed password resets, API credentials, lockout, and
// an async audit trail.
//
// Storage is pluggable. The stores/memory package backs tests and small
// deployments, stores/postgres persists accounts and sessions in
// PostgreSQL, and stores/redisstore keeps the short-lived state (2FA
// challenges, the token denylist) in Redis.
//
// Assemble a Service with the Builder:
//
//	svc, err := authcore.New().
//		WithConfig(cfg).
//		WithAccounts(accounts).
//		WithSessions(sessions).
//		WithChallenges(challenges).
//		Build()
//
// All Service methods are safe for concurrent use.
package authcore
