// Package password implements adaptive-cost password hashing and verification.
//
// # Output format
//
// bcrypt (default) produces the modular crypt format with the work factor
// embedded:
//
//	$2a$<cost>$<22-char salt><31-char digest>
//
// Argon2id hashes use the PHC string format:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// Both formats verify regardless of the configured algorithm, so stored
// hashes can migrate lazily: [Hasher.NeedsRehash] reports true when a hash
// was produced with a lower cost than configured or with the other
// algorithm, and the caller re-hashes after the next successful login.
//
// # What this package must NOT do
//
//   - Store or retrieve passwords; callers supply plaintext and receive hashes.
//   - Log plaintext passwords or hashes.
//   - Report why a verification failed; a malformed hash and a wrong password
//     are indistinguishable to callers.
package password
