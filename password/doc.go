// Package password implements credential strength rules and Argon2id hashing
// for stored account credentials.
//
// # Output format
//
// Hashes are encoded in PHC string format:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// The [Hasher] supports transparent parameter upgrades: if a stored hash was
// produced with weaker parameters, [Hasher.NeedsRehash] returns true so the
// caller can re-hash on the next successful login.
//
// # Architecture boundaries
//
// This package owns strength checking, hashing, and verification only.
// Password history and reuse rules are enforced by the Service, which owns
// the persisted history.
//
// # What this package must NOT do
//
//   - Store or retrieve passwords — callers supply plaintext and receive hashes.
//   - Import any other authcore package.
//   - Log plaintext passwords or hash parameters at runtime.
package password
